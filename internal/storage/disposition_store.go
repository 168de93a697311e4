package storage

import (
	"context"

	"github.com/quantumlife/daybreak/internal/core"
)

// DispositionStore handles per-tag hesitation persistence
type DispositionStore struct {
	db *DB
}

// NewDispositionStore creates a new disposition store
func NewDispositionStore(db *DB) *DispositionStore {
	return &DispositionStore{db: db}
}

// Hesitation returns every tag's hesitation for a user. Tags never touched
// are absent (and therefore zero).
func (s *DispositionStore) Hesitation(ctx context.Context, userID core.UserID) (map[string]float64, error) {
	rows, err := s.db.Query(ctx, `SELECT tag, hesitation FROM dispositions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, core.StoreFailure("list dispositions", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var tag string
		var h float64
		if err := rows.Scan(&tag, &h); err != nil {
			return nil, core.StoreFailure("scan disposition", err)
		}
		out[tag] = h
	}
	if err := rows.Err(); err != nil {
		return nil, core.StoreFailure("list dispositions", err)
	}
	return out, nil
}

// Upsert writes a disposition row, replacing any previous value.
func (s *DispositionStore) Upsert(ctx context.Context, d *core.Disposition) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO dispositions (user_id, tag, hesitation, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, tag) DO UPDATE SET
		    hesitation = excluded.hesitation,
		    updated_at = excluded.updated_at
	`, d.UserID, d.Tag, d.Hesitation, formatTime(d.UpdatedAt))
	if err != nil {
		return core.StoreFailure("upsert disposition", err)
	}
	return nil
}
