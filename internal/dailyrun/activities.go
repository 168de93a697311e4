package dailyrun

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/economy"
	"github.com/quantumlife/daybreak/internal/ledger"
	"github.com/quantumlife/daybreak/internal/storage"
)

// Postures a player can take into the day.
var Postures = []string{"steady", "driven", "restful"}

var socialBoostDelta = core.ResourceDelta{SocialLeverage: 3, Stress: -2}

// SubmitAllocation stores the day's time allocation and applies its effect.
// Resubmitting the same allocation changes nothing. Once a storylet choice
// has been recorded the allocation is locked.
func (o *Orchestrator) SubmitAllocation(ctx context.Context, userID core.UserID, day int, a core.Allocation) (*economy.AllocationResult, error) {
	run, err := o.store.GetRun(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	if run.HasStorylets() {
		n, err := o.store.CountStoryletRuns(ctx, userID, day, run.StoryletA, run.StoryletB)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, core.InvalidState("allocation for day %d is locked once storylets have started", day)
		}
	}

	res, err := o.economy.ApplyAllocation(ctx, userID, day, a)
	if err != nil {
		return nil, err
	}
	// Written even when the effect was already applied, so a record lost
	// after an earlier apply is restored by the retry.
	if err := o.store.UpsertAllocation(ctx, &core.TimeAllocation{
		UserID:    userID,
		DayIndex:  day,
		Values:    a,
		Hash:      res.Hash,
		UpdatedAt: o.clock.Now(),
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// SelectPosture records the day's posture.
func (o *Orchestrator) SelectPosture(ctx context.Context, userID core.UserID, day int, posture string) error {
	known := false
	for _, p := range Postures {
		if p == posture {
			known = true
			break
		}
	}
	if !known {
		return core.InvalidInput("unknown posture %q", posture)
	}
	return o.mark(ctx, userID, day, core.MarkPosture, posture)
}

// AllocateSkillPoints spends points from the skill bank during setup.
func (o *Orchestrator) AllocateSkillPoints(ctx context.Context, userID core.UserID, day, n int) (*core.SkillBank, error) {
	return o.economy.SpendSkillPoints(ctx, userID, day, n)
}

// StoryletChoice is one narrative decision. Its consequence comes from the
// content selector, never from the caller.
type StoryletChoice struct {
	StoryletID string `json:"storylet_id"`
	ChoiceKey  string `json:"choice_key"`
}

// RecordStoryletChoice records a choice on one of the day's storylets and
// applies the consequence the content selector assigns to it. Each storylet
// of the pair is chosen at most once.
func (o *Orchestrator) RecordStoryletChoice(ctx context.Context, userID core.UserID, day int, c StoryletChoice) (*economy.Result, error) {
	if c.ChoiceKey == "" {
		return nil, core.InvalidInput("choice key is required")
	}
	run, err := o.store.GetRun(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	if c.StoryletID == "" || (c.StoryletID != run.StoryletA && c.StoryletID != run.StoryletB) {
		return nil, core.NotFound("storylet %q is not served on day %d", c.StoryletID, day)
	}
	if _, err := o.store.GetAllocation(ctx, userID, day); err != nil {
		if core.IsKind(err, core.KindNotFound) {
			return nil, core.InvalidState("allocate the day before making choices")
		}
		return nil, err
	}
	n, err := o.store.CountStoryletRuns(ctx, userID, day, c.StoryletID)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, core.InvalidState("storylet %q already chosen on day %d", c.StoryletID, day)
	}
	if o.content == nil {
		return nil, core.NotFound("storylet %q has no choice %q", c.StoryletID, c.ChoiceKey)
	}
	delta, err := o.content.ChoiceDelta(ctx, c.StoryletID, c.ChoiceKey)
	if err != nil {
		return nil, err
	}

	if err := o.store.InsertStoryletRun(ctx, &core.StoryletRun{
		ID:         uuid.New().String(),
		UserID:     userID,
		DayIndex:   day,
		StoryletID: c.StoryletID,
		ChoiceKey:  c.ChoiceKey,
		CreatedAt:  o.clock.Now(),
	}); err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, core.InvalidState("storylet %q already chosen on day %d", c.StoryletID, day)
		}
		return nil, err
	}

	res, err := o.economy.Apply(ctx, userID, day, delta, "storylet", map[string]any{
		"storylet_id": c.StoryletID,
		"choice_key":  c.ChoiceKey,
	})
	if err != nil {
		return nil, err
	}
	o.audit.RecordDay(ctx, ledger.ActionStoryletChosen, userID, day, map[string]interface{}{
		"storylet_id": c.StoryletID,
		"choice_key":  c.ChoiceKey,
	})
	return res, nil
}

// RecordReflection records the end-of-day reflection.
func (o *Orchestrator) RecordReflection(ctx context.Context, userID core.UserID, day int, text string) error {
	return o.mark(ctx, userID, day, core.MarkReflection, text)
}

// RecordMicrotask records the day's microtask result.
func (o *Orchestrator) RecordMicrotask(ctx context.Context, userID core.UserID, day int, caps Capabilities, result string) error {
	if !microtaskEligible(caps, userID, day) {
		return core.InvalidState("no microtask on day %d", day)
	}
	return o.mark(ctx, userID, day, core.MarkMicrotask, result)
}

// RecordSocialBoost uses the day's social boost.
func (o *Orchestrator) RecordSocialBoost(ctx context.Context, userID core.UserID, day int, caps Capabilities) (*economy.Result, error) {
	if !socialEligible(caps, day) {
		return nil, core.InvalidState("social boost is not available on day %d", day)
	}
	if err := o.mark(ctx, userID, day, core.MarkSocialBoost, ""); err != nil {
		return nil, err
	}
	return o.economy.Apply(ctx, userID, day, core.Delta{Resources: socialBoostDelta}, "social_boost", nil)
}

// RecordFunPulse records the periodic fun check-in.
func (o *Orchestrator) RecordFunPulse(ctx context.Context, userID core.UserID, day int, caps Capabilities, rating int) error {
	if !funPulseEligible(caps, day) {
		return core.InvalidState("no fun pulse on day %d", day)
	}
	if rating < 1 || rating > 5 {
		return core.InvalidInput("fun pulse rating must be 1-5, got %d", rating)
	}
	return o.mark(ctx, userID, day, core.MarkFunPulse, strconv.Itoa(rating))
}

// MarkComplete stamps the day as finished. Completing twice is harmless.
func (o *Orchestrator) MarkComplete(ctx context.Context, userID core.UserID, day int) error {
	if err := o.store.MarkRunCompleted(ctx, userID, day, o.clock.Now()); err != nil {
		return err
	}
	o.audit.RecordDay(ctx, ledger.ActionDayCompleted, userID, day, nil)
	o.log.WithFields(map[string]interface{}{"user_id": userID, "day": day}).Info("day completed")
	return nil
}

// mark records a once-per-day activity; a second attempt is InvalidState.
func (o *Orchestrator) mark(ctx context.Context, userID core.UserID, day int, kind core.DayMarkKind, payload string) error {
	if _, err := o.store.GetRun(ctx, userID, day); err != nil {
		return err
	}
	created, err := o.store.PutMark(ctx, &core.DayMark{
		UserID:    userID,
		DayIndex:  day,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: o.clock.Now(),
	})
	if err != nil {
		return err
	}
	if !created {
		return core.InvalidState("%s already recorded for day %d", kind, day)
	}
	o.audit.RecordDay(ctx, ledger.ActionDayMarked, userID, day, map[string]interface{}{
		"kind":    kind,
		"payload": payload,
	})
	return nil
}
