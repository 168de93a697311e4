package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// -----------------------------------------------------------------------------
// ARC CATALOG
// -----------------------------------------------------------------------------

// ArcDefinition is a static catalog entry.
type ArcDefinition struct {
	Key         string   `json:"key"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Enabled     bool     `json:"enabled"`
}

// ArcStep is one ordered step within an arc.
type ArcStep struct {
	ArcKey             string      `json:"arc_key"`
	StepKey            string      `json:"step_key"`
	OrderIndex         int         `json:"order_index"`
	Title              string      `json:"title"`
	Body               string      `json:"body"`
	Options            []ArcOption `json:"options"`
	DueOffsetDays      int         `json:"due_offset_days"`
	ExpiresAfterDays   int         `json:"expires_after_days"`
	DefaultNextStepKey string      `json:"default_next_step_key,omitempty"`
}

// Option returns the option with the given key.
func (s *ArcStep) Option(key string) (ArcOption, bool) {
	for _, o := range s.Options {
		if o.Key == key {
			return o, true
		}
	}
	return ArcOption{}, false
}

// ExpiresOnDay is the last day on which a step entered with the given due
// day can still be acted on.
func (s *ArcStep) ExpiresOnDay(dueDay int) int {
	return dueDay + s.ExpiresAfterDays
}

// NextStepKey returns where an option leads: the option's own target for
// branching options, the step default otherwise. "" means the arc ends.
func (s *ArcStep) NextStepKey(o ArcOption) string {
	switch p := o.Payload.(type) {
	case BranchPayload:
		return p.NextStepKey
	case CostPayload, RewardPayload:
		return s.DefaultNextStepKey
	default:
		panic(fmt.Sprintf("core: unhandled option payload %T", o.Payload))
	}
}

// FirstStep returns the step with the lowest order index.
func FirstStep(steps []ArcStep) (ArcStep, bool) {
	if len(steps) == 0 {
		return ArcStep{}, false
	}
	sorted := append([]ArcStep(nil), steps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })
	return sorted[0], true
}

// -----------------------------------------------------------------------------
// OPTIONS - tagged payload variants
// -----------------------------------------------------------------------------

// OptionKind discriminates option payloads.
type OptionKind string

const (
	OptionCost   OptionKind = "cost"
	OptionReward OptionKind = "reward"
	OptionBranch OptionKind = "branch"
)

// OptionPayload is implemented only by CostPayload, RewardPayload and
// BranchPayload.
type OptionPayload interface {
	optionKind() OptionKind
}

// CostPayload is a choice that only costs the player something.
type CostPayload struct {
	Cost ResourceDelta
}

// RewardPayload is a choice that only pays out.
type RewardPayload struct {
	Reward ResourceDelta
}

// BranchPayload carries both sides and an explicit target step.
type BranchPayload struct {
	Cost        ResourceDelta
	Reward      ResourceDelta
	NextStepKey string
}

func (CostPayload) optionKind() OptionKind   { return OptionCost }
func (RewardPayload) optionKind() OptionKind { return OptionReward }
func (BranchPayload) optionKind() OptionKind { return OptionBranch }

// ArcOption is a single choice on an arc step.
type ArcOption struct {
	Key     string
	Label   string
	Payload OptionPayload
}

// Kind returns the payload discriminator.
func (o ArcOption) Kind() OptionKind {
	if o.Payload == nil {
		return ""
	}
	return o.Payload.optionKind()
}

// Split returns the cost and reward parts of the option.
func (o ArcOption) Split() (cost, reward ResourceDelta) {
	switch p := o.Payload.(type) {
	case CostPayload:
		return p.Cost, ResourceDelta{}
	case RewardPayload:
		return ResourceDelta{}, p.Reward
	case BranchPayload:
		return p.Cost, p.Reward
	default:
		panic(fmt.Sprintf("core: unhandled option payload %T", o.Payload))
	}
}

// Validate checks that the option is well formed.
func (o ArcOption) Validate() error {
	if o.Key == "" {
		return InvalidInput("option key is required")
	}
	switch p := o.Payload.(type) {
	case CostPayload, RewardPayload:
		return nil
	case BranchPayload:
		if p.NextStepKey == "" {
			return InvalidInput("branch option %q needs a next_step_key", o.Key)
		}
		return nil
	case nil:
		return InvalidInput("option %q has no payload", o.Key)
	default:
		return InvalidInput("option %q has unknown payload %T", o.Key, p)
	}
}

type optionWire struct {
	Key         string         `json:"key"`
	Label       string         `json:"label"`
	Kind        OptionKind     `json:"kind"`
	Cost        *ResourceDelta `json:"cost,omitempty"`
	Reward      *ResourceDelta `json:"reward,omitempty"`
	NextStepKey string         `json:"next_step_key,omitempty"`
}

// MarshalJSON encodes the option as a discriminated document.
func (o ArcOption) MarshalJSON() ([]byte, error) {
	w := optionWire{Key: o.Key, Label: o.Label, Kind: o.Kind()}
	switch p := o.Payload.(type) {
	case CostPayload:
		w.Cost = &p.Cost
	case RewardPayload:
		w.Reward = &p.Reward
	case BranchPayload:
		w.Cost = &p.Cost
		w.Reward = &p.Reward
		w.NextStepKey = p.NextStepKey
	default:
		return nil, fmt.Errorf("marshal option %q: unknown payload %T", o.Key, o.Payload)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a discriminated option document.
func (o *ArcOption) UnmarshalJSON(data []byte) error {
	var w optionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := NewOptionPayload(w.Kind, w.Cost, w.Reward, w.NextStepKey)
	if err != nil {
		return fmt.Errorf("option %q: %w", w.Key, err)
	}
	*o = ArcOption{Key: w.Key, Label: w.Label, Payload: payload}
	return nil
}

// NewOptionPayload builds the payload variant named by kind. Fields that the
// kind does not carry must be absent.
func NewOptionPayload(kind OptionKind, cost, reward *ResourceDelta, next string) (OptionPayload, error) {
	deref := func(d *ResourceDelta) ResourceDelta {
		if d == nil {
			return ResourceDelta{}
		}
		return *d
	}
	switch kind {
	case OptionCost:
		if reward != nil || next != "" {
			return nil, InvalidInput("cost option may not carry a reward or next step")
		}
		return CostPayload{Cost: deref(cost)}, nil
	case OptionReward:
		if cost != nil || next != "" {
			return nil, InvalidInput("reward option may not carry a cost or next step")
		}
		return RewardPayload{Reward: deref(reward)}, nil
	case OptionBranch:
		if next == "" {
			return nil, InvalidInput("branch option needs a next step")
		}
		return BranchPayload{Cost: deref(cost), Reward: deref(reward), NextStepKey: next}, nil
	default:
		return nil, InvalidInput("unknown option kind %q", kind)
	}
}

// -----------------------------------------------------------------------------
// OFFERS
// -----------------------------------------------------------------------------

// OfferID is a type-safe identifier for offers
type OfferID string

// OfferState is the lifecycle state of an offer.
type OfferState string

const (
	OfferActive    OfferState = "ACTIVE"
	OfferAccepted  OfferState = "ACCEPTED"
	OfferDismissed OfferState = "DISMISSED"
	OfferExpired   OfferState = "EXPIRED"
)

// ArcOffer is an invitation to start an arc.
type ArcOffer struct {
	ID           OfferID    `json:"id"`
	UserID       UserID     `json:"user_id"`
	ArcKey       string     `json:"arc_key"`
	State        OfferState `json:"state"`
	TimesShown   int        `json:"times_shown"`
	ToneLevel    int        `json:"tone_level"`
	FirstSeenDay int        `json:"first_seen_day"`
	LastSeenDay  int        `json:"last_seen_day"` // 0 = never shown
	ExpiresOnDay int        `json:"expires_on_day"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsExpiredOn reports whether the offer is past its expiry on day.
func (o *ArcOffer) IsExpiredOn(day int) bool {
	return day > o.ExpiresOnDay
}

// -----------------------------------------------------------------------------
// INSTANCES
// -----------------------------------------------------------------------------

// InstanceID is a type-safe identifier for arc instances
type InstanceID string

// InstanceState is the lifecycle state of an arc instance.
type InstanceState string

const (
	InstanceActive    InstanceState = "ACTIVE"
	InstanceCompleted InstanceState = "COMPLETED"
	InstanceAbandoned InstanceState = "ABANDONED"
)

// IsTerminal reports whether no further transition is possible.
func (s InstanceState) IsTerminal() bool {
	return s == InstanceCompleted || s == InstanceAbandoned
}

// Failure reasons recorded on abandoned instances.
const (
	FailureExpired  = "expired"
	FailureDeferred = "deferred"
)

// ArcInstance is a player's run through an arc.
type ArcInstance struct {
	ID             InstanceID    `json:"id"`
	UserID         UserID        `json:"user_id"`
	ArcKey         string        `json:"arc_key"`
	State          InstanceState `json:"state"`
	CurrentStepKey string        `json:"current_step_key"`
	StepDueDay     int           `json:"step_due_day"`
	StepDeferCount int           `json:"step_defer_count"`
	StartedDay     int           `json:"started_day"`
	CompletedDay   int           `json:"completed_day,omitempty"` // 0 = not completed
	FailureReason  string        `json:"failure_reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ArcStepRun records a resolved step. A user's runs on a day are the
// progression slots consumed that day.
type ArcStepRun struct {
	ID         string     `json:"id"`
	InstanceID InstanceID `json:"instance_id"`
	UserID     UserID     `json:"user_id"`
	ArcKey     string     `json:"arc_key"`
	StepKey    string     `json:"step_key"`
	OptionKey  string     `json:"option_key"`
	DayIndex   int        `json:"day_index"`
	CreatedAt  time.Time  `json:"created_at"`
}
