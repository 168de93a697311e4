// Package dailyrun decides what a player has to do next on a given day and
// records the day's activities.
package dailyrun

// Stage is the current required action in the daily sequence.
type Stage string

const (
	StageSetup      Stage = "setup"
	StageAllocation Stage = "allocation"
	StageStorylet1  Stage = "storylet_1"
	StageStorylet2  Stage = "storylet_2"
	StageMicrotask  Stage = "microtask"
	StageSocial     Stage = "social"
	StageReflection Stage = "reflection"
	StageFunPulse   Stage = "fun_pulse"
	StageComplete   Stage = "complete"
)

// StageFacts are the persisted facts a stage is computed from.
type StageFacts struct {
	AlreadyCompleted  bool `json:"already_completed"`
	SetupPending      bool `json:"setup_pending"`
	HasAllocation     bool `json:"has_allocation"`
	HasStorylets      bool `json:"has_storylets"`
	RunsForPair       int  `json:"runs_for_pair"`
	MicrotaskEligible bool `json:"microtask_eligible"`
	MicrotaskDone     bool `json:"microtask_done"`
	CanBoost          bool `json:"can_boost"`
	ReflectionDone    bool `json:"reflection_done"`
	FunPulseEligible  bool `json:"fun_pulse_eligible"`
	FunPulseDone      bool `json:"fun_pulse_done"`
}

// ComputeStage maps facts to a stage. It has no side effects, so the same
// facts always give the same stage.
func ComputeStage(f StageFacts) Stage {
	switch {
	case f.AlreadyCompleted:
		return StageComplete
	case f.SetupPending:
		return StageSetup
	case !f.HasAllocation:
		return StageAllocation
	case !f.HasStorylets:
		// Content absence never blocks the day.
		return StageComplete
	case f.RunsForPair == 0:
		return StageStorylet1
	case f.RunsForPair == 1:
		return StageStorylet2
	case f.MicrotaskEligible && !f.MicrotaskDone:
		return StageMicrotask
	case f.CanBoost:
		return StageSocial
	case !f.ReflectionDone:
		return StageReflection
	case f.FunPulseEligible && !f.FunPulseDone:
		return StageFunPulse
	default:
		return StageComplete
	}
}
