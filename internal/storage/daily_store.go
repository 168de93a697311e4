package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/quantumlife/daybreak/internal/core"
)

// DailyStore handles the per-day activity facts: daily runs, allocations,
// storylet runs and day marks.
type DailyStore struct {
	db *DB
}

// NewDailyStore creates a new daily store
func NewDailyStore(db *DB) *DailyStore {
	return &DailyStore{db: db}
}

// =============================================================================
// Daily runs
// =============================================================================

const runColumns = `user_id, day_index, run_date, storylet_a, storylet_b, fallback, completed_at, created_at`

// CreateRun inserts the anchor row for a day. A second insert for the same
// (user, day) fails with a unique violation.
func (s *DailyStore) CreateRun(ctx context.Context, run *core.DailyRunRecord) error {
	var completed interface{}
	if run.CompletedAt != nil {
		completed = formatTime(*run.CompletedAt)
	}
	_, err := s.db.Exec(ctx, `INSERT INTO daily_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.UserID, run.DayIndex, run.Date, run.StoryletA, run.StoryletB, run.Fallback,
		completed, formatTime(run.CreatedAt),
	)
	if err != nil {
		return core.StoreFailure("insert daily run", err)
	}
	return nil
}

// GetRun returns the run for one (user, day).
func (s *DailyStore) GetRun(ctx context.Context, userID core.UserID, day int) (*core.DailyRunRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+runColumns+`
		FROM daily_runs WHERE user_id = ? AND day_index = ?`, userID, day)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("no daily run for %s on day %d", userID, day)
	}
	if err != nil {
		return nil, core.StoreFailure("get daily run", err)
	}
	return run, nil
}

// FirstRun returns the user's earliest daily run.
func (s *DailyStore) FirstRun(ctx context.Context, userID core.UserID) (*core.DailyRunRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+runColumns+`
		FROM daily_runs WHERE user_id = ? ORDER BY day_index ASC LIMIT 1`, userID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("no daily runs for %s", userID)
	}
	if err != nil {
		return nil, core.StoreFailure("get first daily run", err)
	}
	return run, nil
}

// GetRunByDate returns the run recorded for a calendar date.
func (s *DailyStore) GetRunByDate(ctx context.Context, userID core.UserID, date string) (*core.DailyRunRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+runColumns+`
		FROM daily_runs WHERE user_id = ? AND run_date = ?`, userID, date)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("no daily run for %s on %s", userID, date)
	}
	if err != nil {
		return nil, core.StoreFailure("get daily run by date", err)
	}
	return run, nil
}

// RecentStorylets returns storylet ids served on the user's most recent
// days before day, newest first.
func (s *DailyStore) RecentStorylets(ctx context.Context, userID core.UserID, beforeDay, days int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT storylet_a, storylet_b FROM daily_runs
		WHERE user_id = ? AND day_index < ?
		ORDER BY day_index DESC LIMIT ?
	`, userID, beforeDay, days)
	if err != nil {
		return nil, core.StoreFailure("list recent storylets", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, core.StoreFailure("scan recent storylets", err)
		}
		for _, id := range []string{a, b} {
			if id != "" {
				ids = append(ids, id)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, core.StoreFailure("list recent storylets", err)
	}
	return ids, nil
}

// MarkRunCompleted stamps the run as completed. Completing twice keeps the
// first timestamp.
func (s *DailyStore) MarkRunCompleted(ctx context.Context, userID core.UserID, day int, at time.Time) error {
	res, err := s.db.Exec(ctx, `
		UPDATE daily_runs SET completed_at = COALESCE(completed_at, ?)
		WHERE user_id = ? AND day_index = ?
	`, formatTime(at), userID, day)
	if err != nil {
		return core.StoreFailure("complete daily run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("no daily run for %s on day %d", userID, day)
	}
	return nil
}

func scanRun(row rowScanner) (*core.DailyRunRecord, error) {
	run := &core.DailyRunRecord{}
	var completed sql.NullString
	var createdAt string
	err := row.Scan(&run.UserID, &run.DayIndex, &run.Date, &run.StoryletA, &run.StoryletB,
		&run.Fallback, &completed, &createdAt)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		t := parseTime(completed.String)
		run.CompletedAt = &t
	}
	run.CreatedAt = parseTime(createdAt)
	return run, nil
}

// =============================================================================
// Allocations
// =============================================================================

// GetAllocation returns the stored allocation for a day.
func (s *DailyStore) GetAllocation(ctx context.Context, userID core.UserID, day int) (*core.TimeAllocation, error) {
	a := &core.TimeAllocation{}
	var values, updatedAt string
	err := s.db.QueryRow(ctx, `
		SELECT user_id, day_index, values_json, hash, updated_at
		FROM time_allocations WHERE user_id = ? AND day_index = ?
	`, userID, day).Scan(&a.UserID, &a.DayIndex, &values, &a.Hash, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("no allocation for %s on day %d", userID, day)
	}
	if err != nil {
		return nil, core.StoreFailure("get allocation", err)
	}
	if err := json.Unmarshal([]byte(values), &a.Values); err != nil {
		return nil, core.StoreFailure("decode allocation", err)
	}
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// UpsertAllocation stores the latest allocation submission for a day.
func (s *DailyStore) UpsertAllocation(ctx context.Context, a *core.TimeAllocation) error {
	values, err := json.Marshal(a.Values)
	if err != nil {
		return core.StoreFailure("encode allocation", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO time_allocations (user_id, day_index, values_json, hash, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, day_index) DO UPDATE SET
		    values_json = excluded.values_json,
		    hash = excluded.hash,
		    updated_at = excluded.updated_at
	`, a.UserID, a.DayIndex, string(values), a.Hash, formatTime(a.UpdatedAt))
	if err != nil {
		return core.StoreFailure("upsert allocation", err)
	}
	return nil
}

// =============================================================================
// Storylet runs
// =============================================================================

// InsertStoryletRun records a narrative choice.
func (s *DailyStore) InsertStoryletRun(ctx context.Context, run *core.StoryletRun) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO storylet_runs (id, user_id, day_index, storylet_id, choice_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.UserID, run.DayIndex, run.StoryletID, run.ChoiceKey, formatTime(run.CreatedAt))
	if err != nil {
		return core.StoreFailure("insert storylet run", err)
	}
	return nil
}

// CountStoryletRuns counts the user's runs on day for any of storyletIDs.
func (s *DailyStore) CountStoryletRuns(ctx context.Context, userID core.UserID, day int, storyletIDs ...string) (int, error) {
	if len(storyletIDs) == 0 {
		return 0, nil
	}
	args := []any{userID, day}
	for _, id := range storyletIDs {
		args = append(args, id)
	}
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM storylet_runs
		WHERE user_id = ? AND day_index = ? AND storylet_id IN (`+placeholders(len(storyletIDs))+`)
	`, args...).Scan(&n)
	if err != nil {
		return 0, core.StoreFailure("count storylet runs", err)
	}
	return n, nil
}

// =============================================================================
// Day marks
// =============================================================================

// PutMark records a once-per-day activity. It reports false when the mark
// already existed, in which case the stored payload is left alone.
func (s *DailyStore) PutMark(ctx context.Context, m *core.DayMark) (bool, error) {
	res, err := s.db.Exec(ctx, `
		INSERT INTO day_marks (user_id, day_index, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, day_index, kind) DO NOTHING
	`, m.UserID, m.DayIndex, m.Kind, m.Payload, formatTime(m.CreatedAt))
	if err != nil {
		return false, core.StoreFailure("insert day mark", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// GetMarks returns the marks recorded for a day keyed by kind.
func (s *DailyStore) GetMarks(ctx context.Context, userID core.UserID, day int) (map[core.DayMarkKind]*core.DayMark, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, day_index, kind, payload, created_at
		FROM day_marks WHERE user_id = ? AND day_index = ?
	`, userID, day)
	if err != nil {
		return nil, core.StoreFailure("list day marks", err)
	}
	defer rows.Close()

	marks := make(map[core.DayMarkKind]*core.DayMark)
	for rows.Next() {
		m := &core.DayMark{}
		var createdAt string
		if err := rows.Scan(&m.UserID, &m.DayIndex, &m.Kind, &m.Payload, &createdAt); err != nil {
			return nil, core.StoreFailure("scan day mark", err)
		}
		m.CreatedAt = parseTime(createdAt)
		marks[m.Kind] = m
	}
	if err := rows.Err(); err != nil {
		return nil, core.StoreFailure("list day marks", err)
	}
	return marks, nil
}
