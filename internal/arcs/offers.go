package arcs

import (
	"context"

	"github.com/google/uuid"

	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/ledger"
	"github.com/quantumlife/daybreak/internal/storage"
)

// AcceptOffer starts the offer's arc. Exactly one instance is created at
// the arc's first step; a retried accept of the same offer fails with
// InvalidState.
func (e *Engine) AcceptOffer(ctx context.Context, userID core.UserID, offerID core.OfferID, day int) (*core.ArcInstance, error) {
	o, err := e.ownedOffer(ctx, userID, offerID)
	if err != nil {
		return nil, err
	}
	if o.State == core.OfferActive && o.IsExpiredOn(day) {
		if _, err := e.expireOffer(ctx, o, day); err != nil {
			return nil, err
		}
		return nil, core.Expired("offer for %q expired on day %d", o.ArcKey, o.ExpiresOnDay)
	}
	if o.State != core.OfferActive {
		return nil, core.InvalidState("offer for %q is %s", o.ArcKey, o.State)
	}

	steps, err := e.catalog.ListSteps(ctx, o.ArcKey)
	if err != nil {
		return nil, err
	}
	first, ok := core.FirstStep(steps)
	if !ok {
		return nil, core.NotFound("arc %q has no steps", o.ArcKey)
	}

	now := e.clock.Now()
	moved, err := e.offers.Transition(ctx, o.ID, core.OfferActive, core.OfferAccepted, now)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, core.InvalidState("offer for %q is no longer active", o.ArcKey)
	}
	o.State = core.OfferAccepted

	fresh := &core.ArcInstance{
		ID:             core.InstanceID(uuid.New().String()),
		UserID:         userID,
		ArcKey:         o.ArcKey,
		State:          core.InstanceActive,
		CurrentStepKey: first.StepKey,
		StepDueDay:     day + first.DueOffsetDays,
		StartedDay:     day,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inst, _, err := storage.CreateOrGet(ctx,
		func(ctx context.Context) (*core.ArcInstance, error) { return fresh, e.instances.Create(ctx, fresh) },
		func(ctx context.Context) (*core.ArcInstance, error) { return e.instances.GetActive(ctx, userID, o.ArcKey) },
	)
	if err != nil {
		return nil, err
	}

	e.audit.RecordOffer(ctx, ledger.ActionOfferAccepted, o, day)
	e.userLog(userID, day).WithFields(map[string]interface{}{
		"arc_key":     o.ArcKey,
		"instance_id": inst.ID,
	}).Info("offer accepted, first step %s due day %d", inst.CurrentStepKey, inst.StepDueDay)
	return inst, nil
}

// DismissOffer declines an active offer. A dismissed arc is not offered
// again.
func (e *Engine) DismissOffer(ctx context.Context, userID core.UserID, offerID core.OfferID, day int) (*core.ArcOffer, error) {
	o, err := e.ownedOffer(ctx, userID, offerID)
	if err != nil {
		return nil, err
	}
	if o.State != core.OfferActive {
		return nil, core.InvalidState("offer for %q is %s", o.ArcKey, o.State)
	}
	moved, err := e.offers.Transition(ctx, o.ID, core.OfferActive, core.OfferDismissed, e.clock.Now())
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, core.InvalidState("offer for %q is no longer active", o.ArcKey)
	}
	o.State = core.OfferDismissed

	e.audit.RecordOffer(ctx, ledger.ActionOfferDismissed, o, day)
	e.userLog(userID, day).WithField("arc_key", o.ArcKey).Info("offer dismissed")
	return o, nil
}

func (e *Engine) ownedOffer(ctx context.Context, userID core.UserID, id core.OfferID) (*core.ArcOffer, error) {
	o, err := e.offers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, core.NotFound("offer %s not found", id)
	}
	return o, nil
}
