package arcs

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/ledger"
	"github.com/quantumlife/daybreak/internal/storage"
)

// BiasFamily is one independent source of player intention. An offer whose
// arc carries any of the family's tags scores one point.
type BiasFamily struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// Signals carries the intention signals recorded for a player.
type Signals struct {
	Families []BiasFamily `json:"families,omitempty"`
}

// Score returns the bias score for an arc's tags.
func (s Signals) Score(tags []string) int {
	score := 0
	for _, f := range s.Families {
		if anyTagIn(tags, f.Tags) {
			score++
		}
	}
	return score
}

// DueStep is an instance step the player can act on today.
type DueStep struct {
	Instance     *core.ArcInstance `json:"instance"`
	ArcTitle     string            `json:"arc_title"`
	Step         core.ArcStep      `json:"step"`
	ExpiresOnDay int               `json:"expires_on_day"`
}

// ShortlistedOffer is an offer surfaced today.
type ShortlistedOffer struct {
	Offer    *core.ArcOffer `json:"offer"`
	ArcTitle string         `json:"arc_title"`
	Tags     []string       `json:"tags"`
	Score    int            `json:"score"`
}

// ArcState is the arc view for one (user, day).
type ArcState struct {
	Day        int                 `json:"day"`
	DueSteps   []DueStep           `json:"due_steps"`
	Offers     []ShortlistedOffer  `json:"offers"`
	Active     []*core.ArcInstance `json:"active"`
	Abandoned  []*core.ArcInstance `json:"abandoned,omitempty"` // this pass
	Expired    []*core.ArcOffer    `json:"expired_offers,omitempty"`
	SlotBudget int                 `json:"slot_budget"`
	SlotsUsed  int                 `json:"slots_used"`
}

// SlotsLeft returns the unused progression slots.
func (s *ArcState) SlotsLeft() int {
	if s.SlotsUsed >= s.SlotBudget {
		return 0
	}
	return s.SlotBudget - s.SlotsUsed
}

// GetTodayArcState runs the lazy day-boundary transitions for (user, day)
// and returns what the player can see: due steps, a ranked offer shortlist
// and the slot budget.
func (e *Engine) GetTodayArcState(ctx context.Context, userID core.UserID, day int, signals Signals) (*ArcState, error) {
	if day < 1 {
		return nil, core.InvalidInput("day index must be positive, got %d", day)
	}
	state := &ArcState{Day: day}

	expired, err := e.expireOffers(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	state.Expired = expired

	if err := e.progressInstances(ctx, userID, day, state); err != nil {
		return nil, err
	}

	defs, err := e.catalog.ListDefinitions(ctx, true)
	if err != nil {
		return nil, err
	}
	if err := e.generateOffers(ctx, userID, day, defs); err != nil {
		return nil, err
	}

	shortlist, err := e.rankOffers(ctx, userID, day, defs, signals)
	if err != nil {
		return nil, err
	}
	state.Offers = shortlist

	state.SlotBudget = e.SlotBudget(day)
	state.SlotsUsed, err = e.SlotsUsed(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (e *Engine) expireOffers(ctx context.Context, userID core.UserID, day int) ([]*core.ArcOffer, error) {
	active, err := e.offers.ListForUser(ctx, userID, core.OfferActive)
	if err != nil {
		return nil, err
	}
	var expired []*core.ArcOffer
	for _, o := range active {
		if !o.IsExpiredOn(day) {
			continue
		}
		ok, err := e.expireOffer(ctx, o, day)
		if err != nil {
			return nil, err
		}
		if ok {
			expired = append(expired, o)
		}
	}
	return expired, nil
}

// expireOffer moves an active offer to EXPIRED. It reports false when
// another writer moved it first.
func (e *Engine) expireOffer(ctx context.Context, o *core.ArcOffer, day int) (bool, error) {
	ok, err := e.offers.Transition(ctx, o.ID, core.OfferActive, core.OfferExpired, e.clock.Now())
	if err != nil || !ok {
		return false, err
	}
	o.State = core.OfferExpired
	e.audit.RecordOffer(ctx, ledger.ActionOfferExpired, o, day)
	e.userLog(o.UserID, day).WithField("arc_key", o.ArcKey).
		Info("offer expired (expires_on_day %d)", o.ExpiresOnDay)
	return true, nil
}

func (e *Engine) progressInstances(ctx context.Context, userID core.UserID, day int, state *ArcState) error {
	active, err := e.instances.ListForUser(ctx, userID, core.InstanceActive)
	if err != nil {
		return err
	}
	titles := make(map[string]string)
	for _, inst := range active {
		step, err := e.catalog.GetStep(ctx, inst.ArcKey, inst.CurrentStepKey)
		if errors.Is(err, core.ErrNotFound) {
			e.userLog(userID, day).WithField("instance_id", inst.ID).
				Warn("step %s/%s missing from catalog, skipping", inst.ArcKey, inst.CurrentStepKey)
			continue
		}
		if err != nil {
			return err
		}

		expiresOn := step.ExpiresOnDay(inst.StepDueDay)
		if day > expiresOn {
			next := *inst
			abandoned, err := e.abandon(ctx, inst, &next, day, core.FailureExpired)
			if errors.Is(err, core.ErrInvalidState) {
				// Someone else moved it this pass.
				continue
			}
			if err != nil {
				return err
			}
			state.Abandoned = append(state.Abandoned, abandoned)
			continue
		}

		state.Active = append(state.Active, inst)
		if inst.StepDueDay <= day {
			title, ok := titles[inst.ArcKey]
			if !ok {
				title = inst.ArcKey
				if def, err := e.catalog.GetDefinition(ctx, inst.ArcKey); err == nil {
					title = def.Title
				}
				titles[inst.ArcKey] = title
			}
			state.DueSteps = append(state.DueSteps, DueStep{
				Instance:     inst,
				ArcTitle:     title,
				Step:         *step,
				ExpiresOnDay: expiresOn,
			})
		}
	}
	return nil
}

// generateOffers creates an offer for every enabled arc the player has
// never been offered nor started.
func (e *Engine) generateOffers(ctx context.Context, userID core.UserID, day int, defs []*core.ArcDefinition) error {
	offers, err := e.offers.ListForUser(ctx, userID)
	if err != nil {
		return err
	}
	instances, err := e.instances.ListForUser(ctx, userID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(offers)+len(instances))
	for _, o := range offers {
		seen[o.ArcKey] = true
	}
	for _, inst := range instances {
		seen[inst.ArcKey] = true
	}

	for _, def := range defs {
		if seen[def.Key] {
			continue
		}
		now := e.clock.Now()
		fresh := &core.ArcOffer{
			ID:           core.OfferID(uuid.New().String()),
			UserID:       userID,
			ArcKey:       def.Key,
			State:        core.OfferActive,
			FirstSeenDay: day,
			ExpiresOnDay: day + e.cfg.OfferTTLDays,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		_, created, err := storage.CreateOrGet(ctx,
			func(ctx context.Context) (*core.ArcOffer, error) { return fresh, e.offers.Create(ctx, fresh) },
			func(ctx context.Context) (*core.ArcOffer, error) { return e.offers.GetByArc(ctx, userID, def.Key) },
		)
		if err != nil {
			return err
		}
		if created {
			e.userLog(userID, day).WithField("arc_key", def.Key).
				Debug("offer generated, expires on day %d", fresh.ExpiresOnDay)
		}
	}
	return nil
}

type rankedOffer struct {
	offer *core.ArcOffer
	def   *core.ArcDefinition
	score int
}

// rankOffers orders active offers by bias score, then least recently shown
// (never shown first), then arc key, and marks the top N as shown today.
// Offers outside the shortlist are left untouched.
func (e *Engine) rankOffers(ctx context.Context, userID core.UserID, day int, defs []*core.ArcDefinition, signals Signals) ([]ShortlistedOffer, error) {
	byKey := make(map[string]*core.ArcDefinition, len(defs))
	for _, d := range defs {
		byKey[d.Key] = d
	}

	active, err := e.offers.ListForUser(ctx, userID, core.OfferActive)
	if err != nil {
		return nil, err
	}
	ranked := make([]rankedOffer, 0, len(active))
	for _, o := range active {
		def, ok := byKey[o.ArcKey]
		if !ok {
			continue // arc disabled since the offer was made
		}
		ranked = append(ranked, rankedOffer{offer: o, def: def, score: signals.Score(def.Tags)})
	}
	sortRanked(ranked)
	if len(ranked) > e.cfg.ShortlistSize {
		ranked = ranked[:e.cfg.ShortlistSize]
	}

	out := make([]ShortlistedOffer, 0, len(ranked))
	for _, r := range ranked {
		o, err := e.markShown(ctx, r.offer, day)
		if err != nil {
			return nil, err
		}
		out = append(out, ShortlistedOffer{Offer: o, ArcTitle: r.def.Title, Tags: r.def.Tags, Score: r.score})
	}
	return out, nil
}

func sortRanked(ranked []rankedOffer) {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.offer.LastSeenDay != b.offer.LastSeenDay {
			return a.offer.LastSeenDay < b.offer.LastSeenDay
		}
		return a.offer.ArcKey < b.offer.ArcKey
	})
}

// markShown bumps an offer's show count once per day. If a concurrent call
// got there first the stored row is returned instead.
func (e *Engine) markShown(ctx context.Context, o *core.ArcOffer, day int) (*core.ArcOffer, error) {
	if o.LastSeenDay == day {
		return o, nil
	}
	n := o.TimesShown + 1
	tone := e.ToneLevel(n)
	if tone < o.ToneLevel {
		tone = o.ToneLevel
	}
	ok, err := e.offers.MarkShown(ctx, o, day, n, tone, e.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return e.offers.Get(ctx, o.ID)
	}
	shown := *o
	shown.TimesShown = n
	shown.ToneLevel = tone
	shown.LastSeenDay = day
	e.audit.RecordOffer(ctx, ledger.ActionOfferShown, &shown, day)
	return &shown, nil
}

func anyTagIn(tags, family []string) bool {
	for _, t := range tags {
		for _, f := range family {
			if t == f {
				return true
			}
		}
	}
	return false
}
