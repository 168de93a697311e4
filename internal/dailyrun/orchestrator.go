package dailyrun

import (
	"context"
	"errors"
	"time"

	"github.com/quantumlife/daybreak/internal/arcs"
	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/economy"
	"github.com/quantumlife/daybreak/internal/ledger"
	"github.com/quantumlife/daybreak/internal/logging"
	"github.com/quantumlife/daybreak/internal/storage"
)

// DailyStore persists the day activity facts.
type DailyStore interface {
	CreateRun(ctx context.Context, run *core.DailyRunRecord) error
	GetRun(ctx context.Context, userID core.UserID, day int) (*core.DailyRunRecord, error)
	RecentStorylets(ctx context.Context, userID core.UserID, beforeDay, days int) ([]string, error)
	MarkRunCompleted(ctx context.Context, userID core.UserID, day int, at time.Time) error
	GetAllocation(ctx context.Context, userID core.UserID, day int) (*core.TimeAllocation, error)
	UpsertAllocation(ctx context.Context, a *core.TimeAllocation) error
	InsertStoryletRun(ctx context.Context, run *core.StoryletRun) error
	CountStoryletRuns(ctx context.Context, userID core.UserID, day int, storyletIDs ...string) (int, error)
	PutMark(ctx context.Context, m *core.DayMark) (bool, error)
	GetMarks(ctx context.Context, userID core.UserID, day int) (map[core.DayMarkKind]*core.DayMark, error)
}

// Economy is the slice of the resource engine the orchestrator needs.
type Economy interface {
	Snapshot(ctx context.Context, userID core.UserID, day int) (*core.PlayerDayState, error)
	Apply(ctx context.Context, userID core.UserID, day int, delta core.Delta, source string, metadata map[string]any) (*economy.Result, error)
	ApplyAllocation(ctx context.Context, userID core.UserID, day int, a core.Allocation) (*economy.AllocationResult, error)
	SkillBank(ctx context.Context, userID core.UserID) (*core.SkillBank, error)
	SpendSkillPoints(ctx context.Context, userID core.UserID, day, n int) (*core.SkillBank, error)
}

// ArcReader surfaces the day's arc state.
type ArcReader interface {
	GetTodayArcState(ctx context.Context, userID core.UserID, day int, signals arcs.Signals) (*arcs.ArcState, error)
}

// Config tunes content selection.
type Config struct {
	FallbackPair  StoryletPair
	HistoryWindow int // days of storylet history handed to the selector
}

// Options are the per-call inputs of GetOrCreateDailyRun.
type Options struct {
	Capabilities Capabilities
	Signals      arcs.Signals
}

// Eligibility reports which optional branches are open today.
type Eligibility struct {
	Microtask bool `json:"microtask"`
	Social    bool `json:"social"`
	FunPulse  bool `json:"fun_pulse"`
}

// DailyRun is everything needed to render a day.
type DailyRun struct {
	UserID      core.UserID          `json:"user_id"`
	DayIndex    int                  `json:"day_index"`
	Date        string               `json:"date"`
	Stage       Stage                `json:"stage"`
	Resources   core.Resources       `json:"resources"`
	SkillPoints int                  `json:"skill_points"`
	Posture     string               `json:"posture,omitempty"`
	Storylets   StoryletPair         `json:"storylets"`
	Fallback    bool                 `json:"fallback"`
	Allocation  *core.TimeAllocation `json:"allocation,omitempty"`
	Arcs        *arcs.ArcState       `json:"arcs,omitempty"`
	Eligibility Eligibility          `json:"eligibility"`
	Variant     string               `json:"variant"`
	Facts       StageFacts           `json:"facts"`
}

// Orchestrator computes daily runs. It keeps no state between calls.
type Orchestrator struct {
	cfg     Config
	store   DailyStore
	economy Economy
	arcs    ArcReader
	content ContentSelector
	cadence Cadence
	audit   *ledger.Recorder
	clock   core.Clock
	log     *logging.Logger
}

// New creates an orchestrator. arcReader and audit may be nil.
func New(cfg Config, store DailyStore, econ Economy, arcReader ArcReader, content ContentSelector, cadence Cadence, audit *ledger.Recorder, clock core.Clock, log *logging.Logger) *Orchestrator {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 4
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		economy: econ,
		arcs:    arcReader,
		content: content,
		cadence: cadence,
		audit:   audit,
		clock:   clock,
		log:     log.WithField("component", "dailyrun"),
	}
}

// GetOrCreateDailyRun returns the stage and snapshot for (user, date). Its
// only writes are the daily-run row, created once with its storylet pair,
// and the default posture when AutoPosture is on.
func (o *Orchestrator) GetOrCreateDailyRun(ctx context.Context, userID core.UserID, date time.Time, opts Options) (*DailyRun, error) {
	caps := opts.Capabilities
	info, err := o.cadence.DayFor(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	day := info.DayIndex

	run, err := o.ensureRun(ctx, userID, day, date)
	if err != nil {
		return nil, err
	}

	state, err := o.economy.Snapshot(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	bank, err := o.economy.SkillBank(ctx, userID)
	if err != nil {
		return nil, err
	}

	marks, err := o.store.GetMarks(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	if _, chosen := marks[core.MarkPosture]; !chosen && autoPosture(caps) {
		m, err := o.assignDefaultPosture(ctx, userID, day, caps.DefaultPosture)
		if err != nil {
			return nil, err
		}
		marks[core.MarkPosture] = m
	}

	alloc, err := o.store.GetAllocation(ctx, userID, day)
	if errors.Is(err, core.ErrNotFound) {
		alloc, err = nil, nil
	}
	if err != nil {
		return nil, err
	}

	pair := StoryletPair{A: run.StoryletA, B: run.StoryletB}
	runsForPair := 0
	if run.HasStorylets() {
		runsForPair, err = o.store.CountStoryletRuns(ctx, userID, day, pair.A, pair.B)
		if err != nil {
			return nil, err
		}
	}

	var arcState *arcs.ArcState
	if arcsEnabled(caps) && o.arcs != nil {
		arcState, err = o.arcs.GetTodayArcState(ctx, userID, day, opts.Signals)
		if err != nil {
			return nil, err
		}
	}

	_, postureChosen := marks[core.MarkPosture]
	_, boosted := marks[core.MarkSocialBoost]
	_, microDone := marks[core.MarkMicrotask]
	_, reflected := marks[core.MarkReflection]
	_, pulsed := marks[core.MarkFunPulse]
	elig := Eligibility{
		Microtask: microtaskEligible(caps, userID, day),
		Social:    socialEligible(caps, day),
		FunPulse:  funPulseEligible(caps, day),
	}
	facts := StageFacts{
		AlreadyCompleted:  run.CompletedAt != nil || info.CompletedToday,
		SetupPending:      setupPending(caps, postureChosen, bank.Available, alloc != nil),
		HasAllocation:     alloc != nil,
		HasStorylets:      run.HasStorylets(),
		RunsForPair:       runsForPair,
		MicrotaskEligible: elig.Microtask,
		MicrotaskDone:     microDone,
		CanBoost:          elig.Social && !boosted,
		ReflectionDone:    reflected,
		FunPulseEligible:  elig.FunPulse,
		FunPulseDone:      pulsed,
	}

	dr := &DailyRun{
		UserID:      userID,
		DayIndex:    day,
		Date:        run.Date,
		Stage:       ComputeStage(facts),
		Resources:   state.Current,
		SkillPoints: bank.Available,
		Storylets:   pair,
		Fallback:    run.Fallback,
		Allocation:  alloc,
		Arcs:        arcState,
		Eligibility: elig,
		Variant:     Variant(userID),
		Facts:       facts,
	}
	if m := marks[core.MarkPosture]; m != nil {
		dr.Posture = m.Payload
	}

	o.log.WithFields(map[string]interface{}{"user_id": userID, "day": day}).
		Debug("stage %s", dr.Stage)
	return dr, nil
}

// ensureRun returns the day's run, creating it with a storylet pair on
// first access.
func (o *Orchestrator) ensureRun(ctx context.Context, userID core.UserID, day int, date time.Time) (*core.DailyRunRecord, error) {
	run, err := o.store.GetRun(ctx, userID, day)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	pair, fallback, err := o.selectContent(ctx, userID, day, date)
	if err != nil {
		return nil, err
	}
	fresh := &core.DailyRunRecord{
		UserID:    userID,
		DayIndex:  day,
		Date:      date.Format(core.DateLayout),
		StoryletA: pair.A,
		StoryletB: pair.B,
		Fallback:  fallback,
		CreatedAt: o.clock.Now(),
	}
	run, _, err = storage.CreateOrGet(ctx,
		func(ctx context.Context) (*core.DailyRunRecord, error) { return fresh, o.store.CreateRun(ctx, fresh) },
		func(ctx context.Context) (*core.DailyRunRecord, error) { return o.store.GetRun(ctx, userID, day) },
	)
	return run, err
}

// selectContent asks the selector for a pair. Selector failures fall back
// to the configured pair; a store failure reading history does not.
func (o *Orchestrator) selectContent(ctx context.Context, userID core.UserID, day int, date time.Time) (StoryletPair, bool, error) {
	history, err := o.store.RecentStorylets(ctx, userID, day, o.cfg.HistoryWindow)
	if err != nil {
		return StoryletPair{}, false, err
	}
	log := o.log.WithFields(map[string]interface{}{"user_id": userID, "day": day})

	if o.content != nil {
		pair, err := o.content.SelectPair(ctx, ContentRequest{
			UserID:   userID,
			DayIndex: day,
			Season:   Season(date),
			History:  history,
		})
		if err == nil && pair.Complete() {
			return pair, false, nil
		}
		if err == nil {
			log.Warn("content selector returned an incomplete pair %+v, using fallback", pair)
		} else {
			log.Warn("content selection failed, using fallback: %v", err)
		}
	}

	if !o.cfg.FallbackPair.Complete() {
		log.Warn("no fallback storylets configured, day has no narrative content")
		return StoryletPair{}, true, nil
	}
	return o.cfg.FallbackPair, true, nil
}

func (o *Orchestrator) assignDefaultPosture(ctx context.Context, userID core.UserID, day int, posture string) (*core.DayMark, error) {
	m := &core.DayMark{
		UserID:    userID,
		DayIndex:  day,
		Kind:      core.MarkPosture,
		Payload:   posture,
		CreatedAt: o.clock.Now(),
	}
	created, err := o.store.PutMark(ctx, m)
	if err != nil {
		return nil, err
	}
	if !created {
		marks, err := o.store.GetMarks(ctx, userID, day)
		if err != nil {
			return nil, err
		}
		return marks[core.MarkPosture], nil
	}
	o.audit.RecordDay(ctx, ledger.ActionDayMarked, userID, day, map[string]interface{}{
		"kind":    core.MarkPosture,
		"payload": posture,
		"auto":    true,
	})
	o.log.WithFields(map[string]interface{}{"user_id": userID, "day": day}).
		Info("posture defaulted to %q", posture)
	return m, nil
}
