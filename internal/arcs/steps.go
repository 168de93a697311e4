package arcs

import (
	"context"

	"github.com/google/uuid"

	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/economy"
	"github.com/quantumlife/daybreak/internal/ledger"
)

// affordable lists the resources a costed choice may not overdraw.
var affordable = []core.Resource{
	core.ResourceCashOnHand,
	core.ResourceEnergy,
	core.ResourceKnowledge,
	core.ResourceSocialLeverage,
}

// Resolution describes a resolved step.
type Resolution struct {
	Instance  *core.ArcInstance  `json:"instance"`
	FromStep  string             `json:"from_step"`
	OptionKey string             `json:"option_key"`
	Delta     core.ResourceDelta `json:"delta"` // after disposition shaping
	Result    *economy.Result    `json:"result"`
	Completed bool               `json:"completed"`
}

// ResolveStep applies the chosen option of an instance's current step and
// advances the instance along the option's edge.
func (e *Engine) ResolveStep(ctx context.Context, userID core.UserID, instanceID core.InstanceID, optionKey string, day int) (*Resolution, error) {
	inst, err := e.ownedInstance(ctx, userID, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.State != core.InstanceActive {
		return nil, core.InvalidState("arc %q is %s", inst.ArcKey, inst.State)
	}
	step, err := e.catalog.GetStep(ctx, inst.ArcKey, inst.CurrentStepKey)
	if err != nil {
		return nil, err
	}
	if inst.StepDueDay > day {
		return nil, core.InvalidState("step %q is not due until day %d", step.StepKey, inst.StepDueDay)
	}
	if expiresOn := step.ExpiresOnDay(inst.StepDueDay); day > expiresOn {
		next := *inst
		if _, err := e.abandon(ctx, inst, &next, day, core.FailureExpired); err != nil {
			return nil, err
		}
		return nil, core.Expired("step %q expired on day %d", step.StepKey, expiresOn)
	}
	option, ok := step.Option(optionKey)
	if !ok {
		return nil, core.NotFound("option %q not found on step %q", optionKey, step.StepKey)
	}

	budget := e.SlotBudget(day)
	used, err := e.SlotsUsed(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	if used >= budget {
		return nil, core.BudgetExhausted(used, budget)
	}

	def, err := e.catalog.GetDefinition(ctx, inst.ArcKey)
	if err != nil {
		return nil, err
	}
	cost, reward := option.Split()
	hesitation, err := e.economy.Hesitation(ctx, userID)
	if err != nil {
		return nil, err
	}
	shaped := economy.ShapeForDisposition(cost.Add(reward), hesitation, def.Tags, e.economy.DispositionConfig())

	snap, err := e.economy.Snapshot(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	if err := checkAffordable(snap.Current, shaped); err != nil {
		return nil, err
	}

	// Work out where the option leads before claiming the step.
	now := e.clock.Now()
	next := *inst
	next.UpdatedAt = now
	nextKey := step.NextStepKey(option)
	if nextKey == "" {
		next.State = core.InstanceCompleted
		next.CompletedDay = day
	} else {
		nextStep, err := e.catalog.GetStep(ctx, inst.ArcKey, nextKey)
		if err != nil {
			return nil, err
		}
		next.CurrentStepKey = nextStep.StepKey
		next.StepDueDay = day + nextStep.DueOffsetDays
		next.StepDeferCount = 0
	}

	// The step run is the slot reservation. Counting again after writing it
	// catches a concurrent resolution that passed the check above; every
	// writer over budget withdraws.
	run := &core.ArcStepRun{
		ID:         uuid.New().String(),
		InstanceID: inst.ID,
		UserID:     userID,
		ArcKey:     inst.ArcKey,
		StepKey:    step.StepKey,
		OptionKey:  option.Key,
		DayIndex:   day,
		CreatedAt:  now,
	}
	if err := e.instances.InsertStepRun(ctx, run); err != nil {
		return nil, err
	}
	used, err = e.SlotsUsed(ctx, userID, day)
	if err != nil {
		e.release(ctx, run)
		return nil, err
	}
	if used > budget {
		e.release(ctx, run)
		return nil, core.BudgetExhausted(used-1, budget)
	}

	ok, err = e.instances.UpdateIfCurrent(ctx, inst, &next)
	if err != nil {
		e.release(ctx, run)
		return nil, err
	}
	if !ok {
		e.release(ctx, run)
		return nil, core.InvalidState("step %q was already resolved or deferred", step.StepKey)
	}

	delta := core.Delta{Resources: shaped}
	if next.State == core.InstanceCompleted {
		delta.Dispositions = perTag(def.Tags, -e.cfg.HesitationRelief)
	}
	res, err := e.economy.Apply(ctx, userID, day, delta, "arc_step", map[string]any{
		"instance_id": inst.ID,
		"arc_key":     inst.ArcKey,
		"step_key":    step.StepKey,
		"option_key":  option.Key,
		"option_kind": option.Kind(),
	})
	if err != nil {
		return nil, err
	}

	e.audit.RecordInstance(ctx, ledger.ActionStepResolved, &next, day, map[string]interface{}{
		"from_step":  step.StepKey,
		"option_key": option.Key,
		"delta":      shaped,
	})
	log := e.userLog(userID, day).WithFields(map[string]interface{}{
		"arc_key":     inst.ArcKey,
		"instance_id": inst.ID,
	})
	if next.State == core.InstanceCompleted {
		e.audit.RecordInstance(ctx, ledger.ActionArcCompleted, &next, day, nil)
		log.Info("step %s resolved with %s, arc completed", step.StepKey, option.Key)
	} else {
		log.Info("step %s resolved with %s, next %s due day %d", step.StepKey, option.Key, next.CurrentStepKey, next.StepDueDay)
	}

	return &Resolution{
		Instance:  &next,
		FromStep:  step.StepKey,
		OptionKey: option.Key,
		Delta:     shaped,
		Result:    res,
		Completed: next.State == core.InstanceCompleted,
	}, nil
}

// DeferStep pushes the current step back one day. Deferring more often
// than the step allows, or past its expiry, abandons the arc; the returned
// instance then carries state ABANDONED and failure reason "deferred".
func (e *Engine) DeferStep(ctx context.Context, userID core.UserID, instanceID core.InstanceID, day int) (*core.ArcInstance, error) {
	inst, err := e.ownedInstance(ctx, userID, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.State != core.InstanceActive {
		return nil, core.InvalidState("arc %q is %s", inst.ArcKey, inst.State)
	}
	step, err := e.catalog.GetStep(ctx, inst.ArcKey, inst.CurrentStepKey)
	if err != nil {
		return nil, err
	}
	if expiresOn := step.ExpiresOnDay(inst.StepDueDay); day > expiresOn {
		next := *inst
		if _, err := e.abandon(ctx, inst, &next, day, core.FailureExpired); err != nil {
			return nil, err
		}
		return nil, core.Expired("step %q expired on day %d", step.StepKey, expiresOn)
	}
	def, err := e.catalog.GetDefinition(ctx, inst.ArcKey)
	if err != nil {
		return nil, err
	}

	next := *inst
	next.StepDeferCount++
	next.StepDueDay++
	next.UpdatedAt = e.clock.Now()

	if next.StepDeferCount > step.ExpiresAfterDays || day > step.ExpiresOnDay(next.StepDueDay) {
		return e.abandon(ctx, inst, &next, day, core.FailureDeferred)
	}

	ok, err := e.instances.UpdateIfCurrent(ctx, inst, &next)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.InvalidState("step %q was already resolved or deferred", step.StepKey)
	}

	if hesitation := perTag(def.Tags, e.cfg.HesitationPerDefer); hesitation != nil {
		if _, err := e.economy.Apply(ctx, userID, day, core.Delta{Dispositions: hesitation}, "arc_defer", map[string]any{
			"instance_id": inst.ID,
			"step_key":    step.StepKey,
		}); err != nil {
			return nil, err
		}
	}

	e.audit.RecordInstance(ctx, ledger.ActionStepDeferred, &next, day, map[string]interface{}{
		"defer_count": next.StepDeferCount,
		"due_day":     next.StepDueDay,
	})
	e.userLog(userID, day).WithField("arc_key", inst.ArcKey).
		Info("step %s deferred (%d/%d), due day %d", step.StepKey, next.StepDeferCount, step.ExpiresAfterDays, next.StepDueDay)
	return &next, nil
}

// abandon ends prev as ABANDONED, carrying next's step fields, and applies
// the stress penalty plus a hesitation increment on every arc tag in one
// delta. It returns InvalidState if prev is no longer current.
func (e *Engine) abandon(ctx context.Context, prev, next *core.ArcInstance, day int, reason string) (*core.ArcInstance, error) {
	next.State = core.InstanceAbandoned
	next.FailureReason = reason
	next.UpdatedAt = e.clock.Now()

	ok, err := e.instances.UpdateIfCurrent(ctx, prev, next)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.InvalidState("arc %q changed while being abandoned", prev.ArcKey)
	}

	var tags []string
	if def, err := e.catalog.GetDefinition(ctx, prev.ArcKey); err == nil {
		tags = def.Tags
	} else {
		e.userLog(prev.UserID, day).Warn("abandon %s: no definition, skipping hesitation: %v", prev.ArcKey, err)
	}
	delta := core.Delta{
		Resources:    core.ResourceDelta{Stress: e.cfg.AbandonStressPenalty},
		Dispositions: perTag(tags, e.cfg.HesitationPerAbandon),
	}
	if _, err := e.economy.Apply(ctx, prev.UserID, day, delta, "arc_abandon", map[string]any{
		"instance_id":    prev.ID,
		"arc_key":        prev.ArcKey,
		"failure_reason": reason,
	}); err != nil {
		return nil, err
	}

	e.audit.RecordInstance(ctx, ledger.ActionArcAbandoned, next, day, nil)
	e.userLog(prev.UserID, day).WithFields(map[string]interface{}{
		"arc_key":     prev.ArcKey,
		"instance_id": prev.ID,
	}).Warn("arc abandoned: %s", reason)
	return next, nil
}

// release withdraws a slot reservation that did not lead to a resolution.
func (e *Engine) release(ctx context.Context, run *core.ArcStepRun) {
	if err := e.instances.DeleteStepRun(ctx, run.ID); err != nil {
		e.userLog(run.UserID, run.DayIndex).Warn("release slot for %s/%s: %v", run.ArcKey, run.StepKey, err)
	}
}

func (e *Engine) ownedInstance(ctx context.Context, userID core.UserID, id core.InstanceID) (*core.ArcInstance, error) {
	inst, err := e.instances.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.UserID != userID {
		return nil, core.NotFound("instance %s not found", id)
	}
	return inst, nil
}

// checkAffordable rejects a delta that would overdraw a spendable resource.
func checkAffordable(have core.Resources, d core.ResourceDelta) error {
	for _, res := range affordable {
		v := d.Value(res)
		if v >= 0 {
			continue
		}
		if cur := have.Value(res); cur+v < 0 {
			return core.InsufficientResources(res, -v, cur)
		}
	}
	return nil
}

func perTag(tags []string, v float64) map[string]float64 {
	if len(tags) == 0 || v == 0 {
		return nil
	}
	out := make(map[string]float64, len(tags))
	for _, t := range tags {
		out[t] = v
	}
	return out
}
