package ledger

import (
	"context"

	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/logging"
)

// Recorder writes ChoiceLog entries on behalf of the engines. Audit writes
// never fail the operation that caused them: errors are logged at WARN and
// dropped. A nil Recorder records nothing.
type Recorder struct {
	store *Store
	log   *logging.Logger
}

// NewRecorder creates a recorder for the given store
func NewRecorder(store *Store, log *logging.Logger) *Recorder {
	return &Recorder{store: store, log: log}
}

// Record appends ev, swallowing any failure.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if r == nil || r.store == nil {
		return
	}
	if ev.Actor == "" {
		ev.Actor = ActorPlayer
	}
	if _, err := r.store.Append(ctx, ev); err != nil {
		r.log.WithFields(map[string]interface{}{
			"action":  ev.Action,
			"user_id": ev.UserID,
		}).Warn("choice log append failed: %v", err)
	}
}

// RecordOffer records an offer lifecycle event.
func (r *Recorder) RecordOffer(ctx context.Context, action string, offer *core.ArcOffer, day int) {
	actor := ActorPlayer
	if action == ActionOfferExpired || action == ActionOfferShown {
		actor = ActorSystem
	}
	r.Record(ctx, Event{
		Action:     action,
		Actor:      actor,
		UserID:     offer.UserID,
		DayIndex:   day,
		EntityType: "offer",
		EntityID:   string(offer.ID),
		Details: map[string]interface{}{
			"arc_key":     offer.ArcKey,
			"state":       offer.State,
			"times_shown": offer.TimesShown,
			"tone_level":  offer.ToneLevel,
		},
	})
}

// RecordInstance records an arc instance event.
func (r *Recorder) RecordInstance(ctx context.Context, action string, inst *core.ArcInstance, day int, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["arc_key"] = inst.ArcKey
	details["state"] = inst.State
	details["step_key"] = inst.CurrentStepKey
	if inst.FailureReason != "" {
		details["failure_reason"] = inst.FailureReason
	}
	actor := ActorPlayer
	if action == ActionArcAbandoned && inst.FailureReason == core.FailureExpired {
		actor = ActorSystem
	}
	r.Record(ctx, Event{
		Action:     action,
		Actor:      actor,
		UserID:     inst.UserID,
		DayIndex:   day,
		EntityType: "instance",
		EntityID:   string(inst.ID),
		Details:    details,
	})
}

// RecordResources records one application of the resource engine.
func (r *Recorder) RecordResources(ctx context.Context, action string, userID core.UserID, day int, source string, before, after core.Resources, delta core.Delta) {
	r.Record(ctx, Event{
		Action:     action,
		UserID:     userID,
		DayIndex:   day,
		EntityType: "day_state",
		EntityID:   string(userID),
		Details: map[string]interface{}{
			"source": source,
			"before": before,
			"after":  after,
			"delta":  delta,
		},
	})
}

// RecordDay records a day-level activity such as a storylet choice or a
// completion stamp.
func (r *Recorder) RecordDay(ctx context.Context, action string, userID core.UserID, day int, details map[string]interface{}) {
	r.Record(ctx, Event{
		Action:     action,
		UserID:     userID,
		DayIndex:   day,
		EntityType: "daily_run",
		EntityID:   string(userID),
		Details:    details,
	})
}
