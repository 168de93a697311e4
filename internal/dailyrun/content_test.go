package dailyrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantumlife/daybreak/internal/core"
)

func TestRotatingSelector(t *testing.T) {
	s := RotatingSelector{Pool: []string{"a", "b", "c", "d", "e"}}
	ctx := context.Background()

	tests := []struct {
		day     int
		history []string
		want    StoryletPair
	}{
		{1, nil, StoryletPair{"a", "b"}},
		{2, nil, StoryletPair{"c", "d"}},
		{3, nil, StoryletPair{"e", "a"}},
		{2, []string{"a", "b"}, StoryletPair{"e", "c"}},
		// Too little fresh content: rotate over the whole pool.
		{1, []string{"a", "b", "c", "d"}, StoryletPair{"a", "b"}},
	}
	for _, tt := range tests {
		got, err := s.SelectPair(ctx, ContentRequest{DayIndex: tt.day, History: tt.history})
		if err != nil {
			t.Fatalf("SelectPair() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("day %d history %v: got %+v, want %+v", tt.day, tt.history, got, tt.want)
		}
		if !got.Complete() {
			t.Errorf("pair %+v is incomplete", got)
		}
	}
}

func TestRotatingSelector_ChoiceDelta(t *testing.T) {
	s := RotatingSelector{
		Pool: []string{"a", "b"},
		Choices: ChoiceTable{
			"a": {"yes": {Resources: core.ResourceDelta{Stress: -3}}},
		},
	}
	ctx := context.Background()

	d, err := s.ChoiceDelta(ctx, "a", "yes")
	if err != nil {
		t.Fatalf("ChoiceDelta() error = %v", err)
	}
	if d.Resources.Stress != -3 {
		t.Errorf("delta = %+v", d)
	}

	for _, tt := range []struct{ storylet, choice string }{
		{"a", "no"},
		{"b", "yes"},
		{"zzz", "yes"},
	} {
		if _, err := s.ChoiceDelta(ctx, tt.storylet, tt.choice); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("%s/%s: err = %v, want not found", tt.storylet, tt.choice, err)
		}
	}
}

func TestRotatingSelector_TooSmall(t *testing.T) {
	_, err := RotatingSelector{Pool: []string{"only"}}.SelectPair(context.Background(), ContentRequest{DayIndex: 1})
	if !errors.Is(err, ErrNoContent) {
		t.Errorf("err = %v, want ErrNoContent", err)
	}
}

func TestSeason(t *testing.T) {
	tests := map[time.Month]string{
		time.January:  "winter",
		time.April:    "spring",
		time.July:     "summer",
		time.October:  "autumn",
		time.December: "winter",
	}
	for m, want := range tests {
		if got := Season(time.Date(2026, m, 10, 0, 0, 0, 0, time.UTC)); got != want {
			t.Errorf("Season(%s) = %s, want %s", m, got, want)
		}
	}
}
