package dailyrun

import (
	"hash/fnv"

	"github.com/quantumlife/daybreak/internal/core"
)

// Capabilities is the feature-flag snapshot for one call. Each flag is read
// by exactly one strategy function below.
type Capabilities struct {
	PostureSetup   bool   `json:"posture_setup"`
	SkillSetup     bool   `json:"skill_setup"`
	AutoPosture    bool   `json:"auto_posture"`
	DefaultPosture string `json:"default_posture"`

	Microtask         bool     `json:"microtask"`
	MicrotaskVariants []string `json:"microtask_variants"`
	MicrotaskMinDay   int      `json:"microtask_min_day"`

	SocialBoost  bool `json:"social_boost"`
	SocialMinDay int  `json:"social_min_day"`

	FunPulse           bool `json:"fun_pulse"`
	FunPulseEveryNDays int  `json:"fun_pulse_every_n_days"`

	Arcs bool `json:"arcs"`
}

// Variant returns the user's stable A/B bucket.
func Variant(userID core.UserID) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	if h.Sum32()%2 == 0 {
		return "A"
	}
	return "B"
}

// setupPending reports whether per-day setup still blocks the day. Skill
// points only gate the day before it is allocated; points earned later wait
// for the next day's setup.
func setupPending(c Capabilities, postureChosen bool, unspentSkillPoints int, allocated bool) bool {
	if c.PostureSetup && !postureChosen {
		return true
	}
	return c.SkillSetup && !allocated && unspentSkillPoints > 0
}

// autoPosture reports whether a missing posture is filled in with the
// default instead of blocking on setup.
func autoPosture(c Capabilities) bool {
	return c.PostureSetup && c.AutoPosture && c.DefaultPosture != ""
}

func microtaskEligible(c Capabilities, userID core.UserID, day int) bool {
	if !c.Microtask || day < c.MicrotaskMinDay {
		return false
	}
	v := Variant(userID)
	for _, allowed := range c.MicrotaskVariants {
		if allowed == v {
			return true
		}
	}
	return false
}

func socialEligible(c Capabilities, day int) bool {
	return c.SocialBoost && day >= c.SocialMinDay
}

func funPulseEligible(c Capabilities, day int) bool {
	if !c.FunPulse || c.FunPulseEveryNDays <= 0 {
		return false
	}
	return day%c.FunPulseEveryNDays == 0
}

func arcsEnabled(c Capabilities) bool {
	return c.Arcs
}
