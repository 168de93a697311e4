// Package economy is the Resource Delta Engine: the only writer of player
// day state, skill banks and dispositions.
package economy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/ledger"
	"github.com/quantumlife/daybreak/internal/logging"
	"github.com/quantumlife/daybreak/internal/storage"
)

// Config tunes the engine.
type Config struct {
	Defaults            core.Resources
	SkillCap            int
	StartingSkillPoints int
	Disposition         DispositionConfig
}

// DayStateStore persists PlayerDayState rows.
type DayStateStore interface {
	Get(ctx context.Context, userID core.UserID, day int) (*core.PlayerDayState, error)
	Latest(ctx context.Context, userID core.UserID, beforeDay int) (*core.PlayerDayState, error)
	Create(ctx context.Context, st *core.PlayerDayState) error
	Update(ctx context.Context, st *core.PlayerDayState) error
}

// SkillStore persists skill banks.
type SkillStore interface {
	Get(ctx context.Context, userID core.UserID) (*core.SkillBank, error)
	Create(ctx context.Context, bank *core.SkillBank) error
	Update(ctx context.Context, bank *core.SkillBank) error
}

// DispositionStore persists per-tag hesitation.
type DispositionStore interface {
	Hesitation(ctx context.Context, userID core.UserID) (map[string]float64, error)
	Upsert(ctx context.Context, d *core.Disposition) error
}

// TraceStore receives one event per application.
type TraceStore interface {
	Insert(ctx context.Context, tr *core.ResourceTrace) error
}

// Stores bundles the engine's persistence.
type Stores struct {
	States       DayStateStore
	Skills       SkillStore
	Dispositions DispositionStore
	Traces       TraceStore
}

// Engine applies deltas to the player economy.
type Engine struct {
	cfg    Config
	stores Stores
	audit  *ledger.Recorder
	clock  core.Clock
	log    *logging.Logger
}

// New creates an engine. audit may be nil.
func New(cfg Config, stores Stores, audit *ledger.Recorder, clock core.Clock, log *logging.Logger) *Engine {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Engine{
		cfg:    cfg,
		stores: stores,
		audit:  audit,
		clock:  clock,
		log:    log.WithField("component", "economy"),
	}
}

// Result describes one application.
type Result struct {
	State       *core.PlayerDayState `json:"state"`
	Before      core.Resources       `json:"before"`
	After       core.Resources       `json:"after"`
	Applied     core.ResourceDelta   `json:"applied"` // after clamping
	SkillPoints int                  `json:"skill_points"`
	Hesitation  map[string]float64   `json:"hesitation,omitempty"`
}

// Snapshot returns the day state for (user, day), creating it from the
// previous day's end state, or the configured defaults, on first read.
func (e *Engine) Snapshot(ctx context.Context, userID core.UserID, day int) (*core.PlayerDayState, error) {
	if day < 1 {
		return nil, core.InvalidInput("day index must be positive, got %d", day)
	}
	st, err := e.stores.States.Get(ctx, userID, day)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	start := e.cfg.Defaults
	var totals core.CategoryTotals
	prev, err := e.stores.States.Latest(ctx, userID, day)
	switch {
	case err == nil:
		start = prev.Current
		totals = prev.Totals
	case errors.Is(err, core.ErrNotFound):
	default:
		return nil, err
	}

	now := e.clock.Now()
	fresh := &core.PlayerDayState{
		UserID:    userID,
		DayIndex:  day,
		Current:   start.Clamped(),
		Totals:    totals,
		CreatedAt: now,
		UpdatedAt: now,
	}
	st, created, err := storage.CreateOrGet(ctx,
		func(ctx context.Context) (*core.PlayerDayState, error) { return fresh, e.stores.States.Create(ctx, fresh) },
		func(ctx context.Context) (*core.PlayerDayState, error) { return e.stores.States.Get(ctx, userID, day) },
	)
	if err != nil {
		return nil, err
	}
	if created {
		e.log.WithFields(map[string]interface{}{"user_id": userID, "day": day}).Debug("day state created")
	}
	return st, nil
}

// Apply realizes a delta for (user, day). Bounded resources are clamped,
// the skill bank stays within [0, cap] and hesitation never drops below
// zero. The trace event and audit entry are best-effort.
func (e *Engine) Apply(ctx context.Context, userID core.UserID, day int, delta core.Delta, source string, metadata map[string]any) (*Result, error) {
	st, err := e.Snapshot(ctx, userID, day)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	before := st.Current
	after := before.Apply(delta.Resources)
	changed := after != before
	// Once the day is allocated, the baseline carries every other delta so
	// a reallocation recomputes on top of them instead of erasing them.
	if st.PreAllocation != nil && delta.Resources != (core.ResourceDelta{}) {
		baseline := st.PreAllocation.Apply(delta.Resources)
		st.PreAllocation = &baseline
		changed = true
	}
	if changed {
		st.Current = after
		st.UpdatedAt = now
		if err := e.stores.States.Update(ctx, st); err != nil {
			return nil, err
		}
	}

	res := &Result{State: st, Before: before, After: after, Applied: core.Diff(before, after)}

	if delta.SkillPoints != 0 {
		bank, err := e.adjustSkills(ctx, userID, delta.SkillPoints, now)
		if err != nil {
			return nil, err
		}
		res.SkillPoints = bank.Available
	}

	if len(delta.Dispositions) > 0 {
		h, err := e.adjustHesitation(ctx, userID, delta, now)
		if err != nil {
			return nil, err
		}
		res.Hesitation = h
	}

	e.trace(ctx, userID, day, source, before, after, delta, metadata)
	e.audit.RecordResources(ctx, ledger.ActionResourcesApplied, userID, day, source, before, after, delta)

	e.log.WithFields(map[string]interface{}{
		"user_id": userID,
		"day":     day,
		"source":  source,
	}).Debug("applied delta %+v", res.Applied)

	return res, nil
}

// SkillBank returns the user's skill bank, creating it on first use.
func (e *Engine) SkillBank(ctx context.Context, userID core.UserID) (*core.SkillBank, error) {
	bank, err := e.stores.Skills.Get(ctx, userID)
	if err == nil {
		return bank, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	start := e.cfg.StartingSkillPoints
	if start > e.cfg.SkillCap {
		start = e.cfg.SkillCap
	}
	fresh := &core.SkillBank{UserID: userID, Available: start, Cap: e.cfg.SkillCap, UpdatedAt: e.clock.Now()}
	bank, _, err = storage.CreateOrGet(ctx,
		func(ctx context.Context) (*core.SkillBank, error) { return fresh, e.stores.Skills.Create(ctx, fresh) },
		func(ctx context.Context) (*core.SkillBank, error) { return e.stores.Skills.Get(ctx, userID) },
	)
	return bank, err
}

// SpendSkillPoints takes n points out of the bank.
func (e *Engine) SpendSkillPoints(ctx context.Context, userID core.UserID, day, n int) (*core.SkillBank, error) {
	if n <= 0 {
		return nil, core.InvalidInput("skill points to spend must be positive, got %d", n)
	}
	bank, err := e.SkillBank(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bank.Available < n {
		return nil, core.InsufficientResources(core.ResourceSkillPoints, n, bank.Available)
	}
	bank.Available -= n
	bank.UpdatedAt = e.clock.Now()
	if err := e.stores.Skills.Update(ctx, bank); err != nil {
		return nil, err
	}
	e.audit.Record(ctx, ledger.Event{
		Action:     ledger.ActionSkillSpent,
		UserID:     userID,
		DayIndex:   day,
		EntityType: "skill_bank",
		EntityID:   string(userID),
		Details:    map[string]int{"spent": n, "available": bank.Available},
	})
	return bank, nil
}

// Hesitation returns the user's per-tag hesitation.
func (e *Engine) Hesitation(ctx context.Context, userID core.UserID) (map[string]float64, error) {
	return e.stores.Dispositions.Hesitation(ctx, userID)
}

// DispositionConfig returns the shaping curves the engine was built with.
func (e *Engine) DispositionConfig() DispositionConfig {
	return e.cfg.Disposition
}

func (e *Engine) adjustSkills(ctx context.Context, userID core.UserID, n int, now time.Time) (*core.SkillBank, error) {
	bank, err := e.SkillBank(ctx, userID)
	if err != nil {
		return nil, err
	}
	next := bank.Available + n
	if next < 0 {
		next = 0
	}
	if next > bank.Cap {
		next = bank.Cap
	}
	if next == bank.Available {
		return bank, nil
	}
	bank.Available = next
	bank.UpdatedAt = now
	if err := e.stores.Skills.Update(ctx, bank); err != nil {
		return nil, err
	}
	return bank, nil
}

func (e *Engine) adjustHesitation(ctx context.Context, userID core.UserID, delta core.Delta, now time.Time) (map[string]float64, error) {
	current, err := e.stores.Dispositions.Hesitation(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(delta.Dispositions))
	for _, tag := range delta.SortedTags() {
		h := current[tag] + delta.Dispositions[tag]
		if h < 0 {
			h = 0
		}
		out[tag] = h
		if h == current[tag] {
			continue
		}
		if err := e.stores.Dispositions.Upsert(ctx, &core.Disposition{UserID: userID, Tag: tag, Hesitation: h, UpdatedAt: now}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Engine) trace(ctx context.Context, userID core.UserID, day int, source string, before, after core.Resources, delta core.Delta, metadata map[string]any) {
	if e.stores.Traces == nil {
		return
	}
	tr := &core.ResourceTrace{
		ID:        uuid.New().String(),
		UserID:    userID,
		DayIndex:  day,
		Source:    source,
		Before:    before,
		After:     after,
		Delta:     delta,
		Metadata:  metadata,
		CreatedAt: e.clock.Now(),
	}
	if err := e.stores.Traces.Insert(ctx, tr); err != nil {
		e.log.WithField("user_id", userID).Warn("resource trace dropped: %v", err)
	}
}
