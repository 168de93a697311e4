package dailyrun

import (
	"context"
	"errors"
	"time"

	"github.com/quantumlife/daybreak/internal/core"
)

// DayInfo is the user's logical position for a calendar date.
type DayInfo struct {
	DayIndex       int
	CompletedToday bool
}

// Cadence maps a calendar date to the user's logical day.
type Cadence interface {
	DayFor(ctx context.Context, userID core.UserID, date time.Time) (DayInfo, error)
}

// RunReader is the part of the daily store StoreCadence needs.
type RunReader interface {
	GetRunByDate(ctx context.Context, userID core.UserID, date string) (*core.DailyRunRecord, error)
	FirstRun(ctx context.Context, userID core.UserID) (*core.DailyRunRecord, error)
}

// StoreCadence counts days from the user's first daily run: the first
// played date is day 1.
type StoreCadence struct {
	Runs RunReader
}

// DayFor implements Cadence.
func (c StoreCadence) DayFor(ctx context.Context, userID core.UserID, date time.Time) (DayInfo, error) {
	key := date.Format(core.DateLayout)
	run, err := c.Runs.GetRunByDate(ctx, userID, key)
	if err == nil {
		return DayInfo{DayIndex: run.DayIndex, CompletedToday: run.CompletedAt != nil}, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return DayInfo{}, err
	}

	first, err := c.Runs.FirstRun(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return DayInfo{DayIndex: 1}, nil
	}
	if err != nil {
		return DayInfo{}, err
	}
	start, err := time.Parse(core.DateLayout, first.Date)
	if err != nil {
		return DayInfo{}, core.StoreFailure("parse first run date", err)
	}
	today, _ := time.Parse(core.DateLayout, key)
	days := int(today.Sub(start).Hours() / 24)
	if days < 0 {
		return DayInfo{}, core.InvalidInput("%s is before the first played day %s", key, first.Date)
	}
	return DayInfo{DayIndex: days + 1}, nil
}
