package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/quantumlife/daybreak/internal/core"
)

// OfferStore handles arc offer persistence
type OfferStore struct {
	db *DB
}

// NewOfferStore creates a new offer store
func NewOfferStore(db *DB) *OfferStore {
	return &OfferStore{db: db}
}

const offerColumns = `id, user_id, arc_key, state, times_shown, tone_level,
	first_seen_day, last_seen_day, expires_on_day, created_at, updated_at`

// Create inserts an offer. At most one offer exists per (user, arc); a
// second insert fails with a unique violation.
func (s *OfferStore) Create(ctx context.Context, o *core.ArcOffer) error {
	_, err := s.db.Exec(ctx, `INSERT INTO arc_offers (`+offerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.ArcKey, o.State, o.TimesShown, o.ToneLevel,
		o.FirstSeenDay, o.LastSeenDay, o.ExpiresOnDay, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return core.StoreFailure("insert offer", err)
	}
	return nil
}

// Get returns an offer by id.
func (s *OfferStore) Get(ctx context.Context, id core.OfferID) (*core.ArcOffer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+offerColumns+` FROM arc_offers WHERE id = ?`, id)
	o, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("offer %s not found", id)
	}
	if err != nil {
		return nil, core.StoreFailure("get offer", err)
	}
	return o, nil
}

// GetByArc returns the user's offer for an arc.
func (s *OfferStore) GetByArc(ctx context.Context, userID core.UserID, arcKey string) (*core.ArcOffer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+offerColumns+`
		FROM arc_offers WHERE user_id = ? AND arc_key = ?`, userID, arcKey)
	o, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("no offer for arc %q", arcKey)
	}
	if err != nil {
		return nil, core.StoreFailure("get offer by arc", err)
	}
	return o, nil
}

// ListForUser returns the user's offers, optionally filtered by state,
// ordered by arc key.
func (s *OfferStore) ListForUser(ctx context.Context, userID core.UserID, states ...core.OfferState) ([]*core.ArcOffer, error) {
	query := `SELECT ` + offerColumns + ` FROM arc_offers WHERE user_id = ?`
	args := []any{userID}
	if len(states) > 0 {
		query += ` AND state IN (` + placeholders(len(states)) + `)`
		for _, st := range states {
			args = append(args, st)
		}
	}
	query += ` ORDER BY arc_key ASC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, core.StoreFailure("list offers", err)
	}
	defer rows.Close()

	var offers []*core.ArcOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, core.StoreFailure("scan offer", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StoreFailure("list offers", err)
	}
	return offers, nil
}

// Transition moves an offer from one state to another. It reports false
// when the offer was no longer in the from state.
func (s *OfferStore) Transition(ctx context.Context, id core.OfferID, from, to core.OfferState, now time.Time) (bool, error) {
	res, err := s.db.Exec(ctx, `
		UPDATE arc_offers SET state = ?, updated_at = ? WHERE id = ? AND state = ?
	`, to, formatTime(now), id, from)
	if err != nil {
		return false, core.StoreFailure("transition offer", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkShown records one showing of an active offer on day. The update only
// lands if the offer has not been counted since the caller read it and was
// not already shown that day, so each offer is bumped at most once per day.
func (s *OfferStore) MarkShown(ctx context.Context, o *core.ArcOffer, day, timesShown, tone int, now time.Time) (bool, error) {
	res, err := s.db.Exec(ctx, `
		UPDATE arc_offers SET times_shown = ?, tone_level = ?, last_seen_day = ?, updated_at = ?
		WHERE id = ? AND state = ? AND times_shown = ? AND last_seen_day <> ?
	`, timesShown, tone, day, formatTime(now), o.ID, core.OfferActive, o.TimesShown, day)
	if err != nil {
		return false, core.StoreFailure("mark offer shown", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func scanOffer(row rowScanner) (*core.ArcOffer, error) {
	o := &core.ArcOffer{}
	var createdAt, updatedAt string
	err := row.Scan(&o.ID, &o.UserID, &o.ArcKey, &o.State, &o.TimesShown, &o.ToneLevel,
		&o.FirstSeenDay, &o.LastSeenDay, &o.ExpiresOnDay, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return o, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
