// Package core defines the fundamental types for Daybreak.
// Every engine speaks in these types; storage and transport only move them around.
package core

import (
	"sort"
	"time"
)

// UserID is a type-safe identifier for players
type UserID string

// -----------------------------------------------------------------------------
// RESOURCES - The bounded player economy
// -----------------------------------------------------------------------------

// Resource names a single field of the player economy.
type Resource string

const (
	ResourceEnergy             Resource = "energy"
	ResourceStress             Resource = "stress"
	ResourceCashOnHand         Resource = "cashOnHand"
	ResourceKnowledge          Resource = "knowledge"
	ResourceSocialLeverage     Resource = "socialLeverage"
	ResourcePhysicalResilience Resource = "physicalResilience"

	// ResourceSkillPoints names the skill bank in affordability errors. It
	// is not part of Resources.
	ResourceSkillPoints Resource = "skillPoints"
)

// AllResources lists every economy field in display order.
var AllResources = []Resource{
	ResourceEnergy,
	ResourceStress,
	ResourceCashOnHand,
	ResourceKnowledge,
	ResourceSocialLeverage,
	ResourcePhysicalResilience,
}

// Bounds for clamped resources.
const (
	ResourceMin = 0
	ResourceMax = 100
)

// IsBounded reports whether a resource is clamped to [ResourceMin, ResourceMax].
func (r Resource) IsBounded() bool {
	switch r {
	case ResourceEnergy, ResourceStress, ResourcePhysicalResilience:
		return true
	}
	return false
}

// HigherIsBetter reports the "good" direction of a resource. Stress is the
// only field where an increase hurts the player.
func (r Resource) HigherIsBetter() bool {
	return r != ResourceStress
}

// Label is the human wording used in player-facing messages.
func (r Resource) Label() string {
	switch r {
	case ResourceEnergy:
		return "energy"
	case ResourceStress:
		return "stress"
	case ResourceCashOnHand:
		return "cash on hand"
	case ResourceKnowledge:
		return "knowledge"
	case ResourceSocialLeverage:
		return "social leverage"
	case ResourcePhysicalResilience:
		return "physical resilience"
	case ResourceSkillPoints:
		return "skill points"
	default:
		return string(r)
	}
}

// Resources is a snapshot of the player economy.
type Resources struct {
	Energy             int `json:"energy"`
	Stress             int `json:"stress"`
	CashOnHand         int `json:"cashOnHand"`
	Knowledge          int `json:"knowledge"`
	SocialLeverage     int `json:"socialLeverage"`
	PhysicalResilience int `json:"physicalResilience"`
}

// Value returns the value of a single resource.
func (r Resources) Value(res Resource) int {
	switch res {
	case ResourceEnergy:
		return r.Energy
	case ResourceStress:
		return r.Stress
	case ResourceCashOnHand:
		return r.CashOnHand
	case ResourceKnowledge:
		return r.Knowledge
	case ResourceSocialLeverage:
		return r.SocialLeverage
	case ResourcePhysicalResilience:
		return r.PhysicalResilience
	}
	return 0
}

// Apply adds a delta and clamps the bounded fields. Unbounded fields are
// allowed to go negative.
func (r Resources) Apply(d ResourceDelta) Resources {
	out := Resources{
		Energy:             r.Energy + d.Energy,
		Stress:             r.Stress + d.Stress,
		CashOnHand:         r.CashOnHand + d.CashOnHand,
		Knowledge:          r.Knowledge + d.Knowledge,
		SocialLeverage:     r.SocialLeverage + d.SocialLeverage,
		PhysicalResilience: r.PhysicalResilience + d.PhysicalResilience,
	}
	return out.Clamped()
}

// Clamped returns a copy with the bounded fields forced into range.
func (r Resources) Clamped() Resources {
	r.Energy = clamp(r.Energy, ResourceMin, ResourceMax)
	r.Stress = clamp(r.Stress, ResourceMin, ResourceMax)
	r.PhysicalResilience = clamp(r.PhysicalResilience, ResourceMin, ResourceMax)
	return r
}

// ResourceDelta is a signed change to the player economy.
type ResourceDelta struct {
	Energy             int `json:"energy,omitempty" yaml:"energy"`
	Stress             int `json:"stress,omitempty" yaml:"stress"`
	CashOnHand         int `json:"cashOnHand,omitempty" yaml:"cashOnHand"`
	Knowledge          int `json:"knowledge,omitempty" yaml:"knowledge"`
	SocialLeverage     int `json:"socialLeverage,omitempty" yaml:"socialLeverage"`
	PhysicalResilience int `json:"physicalResilience,omitempty" yaml:"physicalResilience"`
}

// Value returns the change for a single resource.
func (d ResourceDelta) Value(res Resource) int {
	return Resources(d).Value(res)
}

// With returns a copy of d with one resource replaced.
func (d ResourceDelta) With(res Resource, v int) ResourceDelta {
	switch res {
	case ResourceEnergy:
		d.Energy = v
	case ResourceStress:
		d.Stress = v
	case ResourceCashOnHand:
		d.CashOnHand = v
	case ResourceKnowledge:
		d.Knowledge = v
	case ResourceSocialLeverage:
		d.SocialLeverage = v
	case ResourcePhysicalResilience:
		d.PhysicalResilience = v
	}
	return d
}

// Add sums two deltas field by field.
func (d ResourceDelta) Add(o ResourceDelta) ResourceDelta {
	return ResourceDelta{
		Energy:             d.Energy + o.Energy,
		Stress:             d.Stress + o.Stress,
		CashOnHand:         d.CashOnHand + o.CashOnHand,
		Knowledge:          d.Knowledge + o.Knowledge,
		SocialLeverage:     d.SocialLeverage + o.SocialLeverage,
		PhysicalResilience: d.PhysicalResilience + o.PhysicalResilience,
	}
}

// IsZero reports whether the delta changes nothing.
func (d ResourceDelta) IsZero() bool {
	return d == ResourceDelta{}
}

// Diff returns the delta that turns from into to.
func Diff(from, to Resources) ResourceDelta {
	return ResourceDelta{
		Energy:             to.Energy - from.Energy,
		Stress:             to.Stress - from.Stress,
		CashOnHand:         to.CashOnHand - from.CashOnHand,
		Knowledge:          to.Knowledge - from.Knowledge,
		SocialLeverage:     to.SocialLeverage - from.SocialLeverage,
		PhysicalResilience: to.PhysicalResilience - from.PhysicalResilience,
	}
}

// Delta is everything a single engine write may change: economy fields,
// skill points and per-tag disposition.
type Delta struct {
	Resources    ResourceDelta      `json:"resources"`
	SkillPoints  int                `json:"skill_points,omitempty"`
	Dispositions map[string]float64 `json:"dispositions,omitempty"`
}

// IsZero reports whether applying the delta would be a no-op.
func (d Delta) IsZero() bool {
	if !d.Resources.IsZero() || d.SkillPoints != 0 {
		return false
	}
	for _, v := range d.Dispositions {
		if v != 0 {
			return false
		}
	}
	return true
}

// SortedTags returns the disposition tags in deterministic order.
func (d Delta) SortedTags() []string {
	tags := make([]string, 0, len(d.Dispositions))
	for tag := range d.Dispositions {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// -----------------------------------------------------------------------------
// ALLOCATION - How the player splits their day
// -----------------------------------------------------------------------------

// Category is a time-allocation bucket.
type Category string

const (
	CategoryStudy  Category = "study"
	CategoryWork   Category = "work"
	CategorySocial Category = "social"
	CategoryHealth Category = "health"
	CategoryFun    Category = "fun"
)

// AllCategories lists the allocation buckets in canonical order.
var AllCategories = []Category{CategoryStudy, CategoryWork, CategorySocial, CategoryHealth, CategoryFun}

// AllocationTotal is the number of points a day's allocation must add up to.
const AllocationTotal = 100

// Allocation maps categories to the share of the day spent on them.
type Allocation map[Category]int

// CategoryTotals accumulates allocations across days.
type CategoryTotals struct {
	Study  int `json:"study"`
	Work   int `json:"work"`
	Social int `json:"social"`
	Health int `json:"health"`
	Fun    int `json:"fun"`
}

// Add returns the totals with an allocation folded in.
func (t CategoryTotals) Add(a Allocation) CategoryTotals {
	t.Study += a[CategoryStudy]
	t.Work += a[CategoryWork]
	t.Social += a[CategorySocial]
	t.Health += a[CategoryHealth]
	t.Fun += a[CategoryFun]
	return t
}

// -----------------------------------------------------------------------------
// DAY STATE
// -----------------------------------------------------------------------------

// PlayerDayState is the economy snapshot for one (user, day).
type PlayerDayState struct {
	UserID   UserID         `json:"user_id"`
	DayIndex int            `json:"day_index"`
	Current  Resources      `json:"resources"`
	Totals   CategoryTotals `json:"totals"`

	// AllocationHash fingerprints the last applied allocation ("" if none).
	AllocationHash string `json:"allocation_hash,omitempty"`

	// Baseline captured before the first allocation of the day was applied.
	PreAllocation       *Resources      `json:"pre_allocation,omitempty"`
	PreAllocationTotals *CategoryTotals `json:"pre_allocation_totals,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SkillBank holds unspent skill points.
type SkillBank struct {
	UserID    UserID    `json:"user_id"`
	Available int       `json:"available"`
	Cap       int       `json:"cap"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Disposition is a per-tag reluctance accumulator. Hesitation never drops
// below zero.
type Disposition struct {
	UserID     UserID    `json:"user_id"`
	Tag        string    `json:"tag"`
	Hesitation float64   `json:"hesitation"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ResourceTrace is the replayable record of one engine application.
type ResourceTrace struct {
	ID        string         `json:"id"`
	UserID    UserID         `json:"user_id"`
	DayIndex  int            `json:"day_index"`
	Source    string         `json:"source"`
	Before    Resources      `json:"before"`
	After     Resources      `json:"after"`
	Delta     Delta          `json:"delta"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// -----------------------------------------------------------------------------
// DAY ACTIVITY FACTS
// -----------------------------------------------------------------------------

// DateLayout is the calendar-date format used for daily runs.
const DateLayout = "2006-01-02"

// DailyRunRecord is the persisted anchor of one played day.
type DailyRunRecord struct {
	UserID      UserID     `json:"user_id"`
	DayIndex    int        `json:"day_index"`
	Date        string     `json:"date"`
	StoryletA   string     `json:"storylet_a,omitempty"`
	StoryletB   string     `json:"storylet_b,omitempty"`
	Fallback    bool       `json:"fallback"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// HasStorylets reports whether narrative content was resolved for the day.
func (r *DailyRunRecord) HasStorylets() bool {
	return r.StoryletA != "" && r.StoryletB != ""
}

// TimeAllocation is the stored allocation submission for a day.
type TimeAllocation struct {
	UserID    UserID     `json:"user_id"`
	DayIndex  int        `json:"day_index"`
	Values    Allocation `json:"values"`
	Hash      string     `json:"hash"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// StoryletRun records one narrative choice.
type StoryletRun struct {
	ID         string    `json:"id"`
	UserID     UserID    `json:"user_id"`
	DayIndex   int       `json:"day_index"`
	StoryletID string    `json:"storylet_id"`
	ChoiceKey  string    `json:"choice_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// DayMarkKind names a once-per-day activity.
type DayMarkKind string

const (
	MarkPosture     DayMarkKind = "posture"
	MarkReflection  DayMarkKind = "reflection"
	MarkMicrotask   DayMarkKind = "microtask"
	MarkSocialBoost DayMarkKind = "social_boost"
	MarkFunPulse    DayMarkKind = "fun_pulse"
)

// DayMark records that a once-per-day activity happened.
type DayMark struct {
	UserID    UserID      `json:"user_id"`
	DayIndex  int         `json:"day_index"`
	Kind      DayMarkKind `json:"kind"`
	Payload   string      `json:"payload,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func clamp(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
