package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/quantumlife/daybreak/internal/core"
)

// DayStateStore handles player day-state persistence
type DayStateStore struct {
	db *DB
}

// NewDayStateStore creates a new day-state store
func NewDayStateStore(db *DB) *DayStateStore {
	return &DayStateStore{db: db}
}

const dayStateColumns = `user_id, day_index, energy, stress, cash_on_hand, knowledge,
	social_leverage, physical_resilience, totals_json, allocation_hash,
	pre_allocation_json, pre_allocation_totals_json, created_at, updated_at`

// Get returns the state for one (user, day).
func (s *DayStateStore) Get(ctx context.Context, userID core.UserID, day int) (*core.PlayerDayState, error) {
	row := s.db.QueryRow(ctx, `SELECT `+dayStateColumns+`
		FROM player_day_states WHERE user_id = ? AND day_index = ?`, userID, day)
	st, err := scanDayState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("no day state for %s on day %d", userID, day)
	}
	if err != nil {
		return nil, core.StoreFailure("get day state", err)
	}
	return st, nil
}

// Latest returns the most recent state strictly before day.
func (s *DayStateStore) Latest(ctx context.Context, userID core.UserID, beforeDay int) (*core.PlayerDayState, error) {
	row := s.db.QueryRow(ctx, `SELECT `+dayStateColumns+`
		FROM player_day_states WHERE user_id = ? AND day_index < ?
		ORDER BY day_index DESC LIMIT 1`, userID, beforeDay)
	st, err := scanDayState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("no day state for %s before day %d", userID, beforeDay)
	}
	if err != nil {
		return nil, core.StoreFailure("get latest day state", err)
	}
	return st, nil
}

// Create inserts a new day state. A second insert for the same
// (user, day) fails with a unique violation.
func (s *DayStateStore) Create(ctx context.Context, st *core.PlayerDayState) error {
	totals, pre, preTotals, err := encodeDayStateJSON(st)
	if err != nil {
		return err
	}
	r := st.Current
	_, err = s.db.Exec(ctx, `INSERT INTO player_day_states (`+dayStateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.UserID, st.DayIndex, r.Energy, r.Stress, r.CashOnHand, r.Knowledge,
		r.SocialLeverage, r.PhysicalResilience, totals, st.AllocationHash,
		pre, preTotals, formatTime(st.CreatedAt), formatTime(st.UpdatedAt),
	)
	if err != nil {
		return core.StoreFailure("insert day state", err)
	}
	return nil
}

// Update overwrites the mutable columns of an existing day state.
func (s *DayStateStore) Update(ctx context.Context, st *core.PlayerDayState) error {
	totals, pre, preTotals, err := encodeDayStateJSON(st)
	if err != nil {
		return err
	}
	r := st.Current
	res, err := s.db.Exec(ctx, `
		UPDATE player_day_states SET
		    energy = ?, stress = ?, cash_on_hand = ?, knowledge = ?,
		    social_leverage = ?, physical_resilience = ?, totals_json = ?,
		    allocation_hash = ?, pre_allocation_json = ?, pre_allocation_totals_json = ?,
		    updated_at = ?
		WHERE user_id = ? AND day_index = ?
	`,
		r.Energy, r.Stress, r.CashOnHand, r.Knowledge,
		r.SocialLeverage, r.PhysicalResilience, totals,
		st.AllocationHash, pre, preTotals,
		formatTime(st.UpdatedAt),
		st.UserID, st.DayIndex,
	)
	if err != nil {
		return core.StoreFailure("update day state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("no day state for %s on day %d", st.UserID, st.DayIndex)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDayState(row rowScanner) (*core.PlayerDayState, error) {
	st := &core.PlayerDayState{}
	var totals string
	var pre, preTotals sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&st.UserID, &st.DayIndex,
		&st.Current.Energy, &st.Current.Stress, &st.Current.CashOnHand, &st.Current.Knowledge,
		&st.Current.SocialLeverage, &st.Current.PhysicalResilience,
		&totals, &st.AllocationHash, &pre, &preTotals, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(totals), &st.Totals); err != nil {
		return nil, err
	}
	if pre.Valid && pre.String != "" {
		st.PreAllocation = &core.Resources{}
		if err := json.Unmarshal([]byte(pre.String), st.PreAllocation); err != nil {
			return nil, err
		}
	}
	if preTotals.Valid && preTotals.String != "" {
		st.PreAllocationTotals = &core.CategoryTotals{}
		if err := json.Unmarshal([]byte(preTotals.String), st.PreAllocationTotals); err != nil {
			return nil, err
		}
	}
	st.CreatedAt = parseTime(createdAt)
	st.UpdatedAt = parseTime(updatedAt)
	return st, nil
}

func encodeDayStateJSON(st *core.PlayerDayState) (totals string, pre, preTotals interface{}, err error) {
	b, err := json.Marshal(st.Totals)
	if err != nil {
		return "", nil, nil, core.StoreFailure("encode totals", err)
	}
	totals = string(b)
	if st.PreAllocation != nil {
		b, err := json.Marshal(st.PreAllocation)
		if err != nil {
			return "", nil, nil, core.StoreFailure("encode baseline", err)
		}
		pre = string(b)
	}
	if st.PreAllocationTotals != nil {
		b, err := json.Marshal(st.PreAllocationTotals)
		if err != nil {
			return "", nil, nil, core.StoreFailure("encode baseline totals", err)
		}
		preTotals = string(b)
	}
	return totals, pre, preTotals, nil
}
