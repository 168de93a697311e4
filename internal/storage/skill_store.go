package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/quantumlife/daybreak/internal/core"
)

// SkillStore handles skill bank persistence
type SkillStore struct {
	db *DB
}

// NewSkillStore creates a new skill store
func NewSkillStore(db *DB) *SkillStore {
	return &SkillStore{db: db}
}

// Get returns a user's skill bank
func (s *SkillStore) Get(ctx context.Context, userID core.UserID) (*core.SkillBank, error) {
	bank := &core.SkillBank{}
	var updatedAt string
	err := s.db.QueryRow(ctx, `
		SELECT user_id, available, cap, updated_at FROM skill_banks WHERE user_id = ?
	`, userID).Scan(&bank.UserID, &bank.Available, &bank.Cap, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("no skill bank for %s", userID)
	}
	if err != nil {
		return nil, core.StoreFailure("get skill bank", err)
	}
	bank.UpdatedAt = parseTime(updatedAt)
	return bank, nil
}

// Create inserts a new skill bank
func (s *SkillStore) Create(ctx context.Context, bank *core.SkillBank) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO skill_banks (user_id, available, cap, updated_at) VALUES (?, ?, ?, ?)
	`, bank.UserID, bank.Available, bank.Cap, formatTime(bank.UpdatedAt))
	if err != nil {
		return core.StoreFailure("insert skill bank", err)
	}
	return nil
}

// Update writes the available points and cap
func (s *SkillStore) Update(ctx context.Context, bank *core.SkillBank) error {
	res, err := s.db.Exec(ctx, `
		UPDATE skill_banks SET available = ?, cap = ?, updated_at = ? WHERE user_id = ?
	`, bank.Available, bank.Cap, formatTime(bank.UpdatedAt), bank.UserID)
	if err != nil {
		return core.StoreFailure("update skill bank", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("no skill bank for %s", bank.UserID)
	}
	return nil
}
