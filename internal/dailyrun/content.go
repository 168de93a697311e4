package dailyrun

import (
	"context"
	"errors"
	"time"

	"github.com/quantumlife/daybreak/internal/core"
)

// ErrNoContent is returned by selectors that have nothing to offer.
var ErrNoContent = errors.New("no storylets available")

// StoryletPair is the two narrative beats served on a day.
type StoryletPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Complete reports whether both beats are set.
func (p StoryletPair) Complete() bool {
	return p.A != "" && p.B != "" && p.A != p.B
}

// ContentRequest is what a selector knows about the day.
type ContentRequest struct {
	UserID   core.UserID
	DayIndex int
	Season   string
	History  []string // recently served storylets, newest first
}

// ContentSelector picks the storylet pair for a day and owns what each
// storylet choice does to the player.
type ContentSelector interface {
	SelectPair(ctx context.Context, req ContentRequest) (StoryletPair, error)
	// ChoiceDelta returns the consequence of choiceKey on storyletID, or a
	// NotFound error for a choice the storylet does not have.
	ChoiceDelta(ctx context.Context, storyletID, choiceKey string) (core.Delta, error)
}

// ChoiceTable maps storylet id to choice key to consequence.
type ChoiceTable map[string]map[string]core.Delta

// RotatingSelector walks a fixed pool two at a time, skipping anything in
// the recent history while enough fresh storylets remain.
type RotatingSelector struct {
	Pool    []string
	Choices ChoiceTable
}

// SelectPair implements ContentSelector.
func (s RotatingSelector) SelectPair(_ context.Context, req ContentRequest) (StoryletPair, error) {
	recent := make(map[string]bool, len(req.History))
	for _, id := range req.History {
		recent[id] = true
	}
	var fresh []string
	for _, id := range s.Pool {
		if !recent[id] {
			fresh = append(fresh, id)
		}
	}
	candidates := fresh
	if len(candidates) < 2 {
		candidates = s.Pool
	}
	if len(candidates) < 2 {
		return StoryletPair{}, ErrNoContent
	}

	day := req.DayIndex
	if day < 1 {
		day = 1
	}
	i := ((day - 1) * 2) % len(candidates)
	return StoryletPair{A: candidates[i], B: candidates[(i+1)%len(candidates)]}, nil
}

// ChoiceDelta implements ContentSelector.
func (s RotatingSelector) ChoiceDelta(_ context.Context, storyletID, choiceKey string) (core.Delta, error) {
	d, ok := s.Choices[storyletID][choiceKey]
	if !ok {
		return core.Delta{}, core.NotFound("storylet %q has no choice %q", storyletID, choiceKey)
	}
	return d, nil
}

// Season names the quarter of the year a date falls in.
func Season(date time.Time) string {
	switch date.Month() {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}
