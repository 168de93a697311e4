// Package ledger provides the ChoiceLog: a verifiable, append-only record of
// every player-visible decision the engines make. Each entry is hash-chained
// to the previous one, making any tampering detectable.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/storage"
)

// GenesisHash is the prev_hash of the first entry in a chain.
const GenesisHash = "GENESIS:0000000000000000000000000000000000000000000000000000000000000000"

// timestampLayout is fixed width so the stored text sorts and hashes stably.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages the append-only ChoiceLog
type Store struct {
	db    *storage.DB
	clock core.Clock
	mu    sync.Mutex
}

// NewStore creates a new ledger store
func NewStore(db *storage.DB, clock core.Clock) *Store {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Store{db: db, clock: clock}
}

// Entry represents an immutable ChoiceLog entry
type Entry struct {
	ID         string      `json:"id"`
	Seq        int64       `json:"seq"`
	Timestamp  time.Time   `json:"timestamp"`
	Action     string      `json:"action"` // "offer.accepted", "arc.step_resolved", etc.
	Actor      string      `json:"actor"`  // "player" or "system"
	UserID     core.UserID `json:"user_id,omitempty"`
	DayIndex   int         `json:"day_index,omitempty"`
	EntityType string      `json:"entity_type"` // "offer", "instance", "day_state", ...
	EntityID   string      `json:"entity_id"`
	Details    string      `json:"details"`   // JSON blob
	PrevHash   string      `json:"prev_hash"` // Hash of previous entry (chain)
	Hash       string      `json:"hash"`      // Hash of this entry
}

// Event is the caller's half of an entry; the store fills in identity,
// ordering and hashes.
type Event struct {
	Action     string
	Actor      string
	UserID     core.UserID
	DayIndex   int
	EntityType string
	EntityID   string
	Details    interface{}
}

// Action constants
const (
	ActionOfferShown        = "offer.shown"
	ActionOfferAccepted     = "offer.accepted"
	ActionOfferDismissed    = "offer.dismissed"
	ActionOfferExpired      = "offer.expired"
	ActionStepResolved      = "arc.step_resolved"
	ActionStepDeferred      = "arc.step_deferred"
	ActionArcCompleted      = "arc.completed"
	ActionArcAbandoned      = "arc.abandoned"
	ActionResourcesApplied  = "resource.applied"
	ActionAllocationApplied = "allocation.applied"
	ActionSkillSpent        = "skill.spent"
	ActionStoryletChosen    = "storylet.chosen"
	ActionDayMarked         = "day.marked"
	ActionDayCompleted      = "day.completed"
)

// Actor constants
const (
	ActorPlayer = "player"
	ActorSystem = "system"
)

// Append adds a new entry to the ledger with hash chaining.
// This is the ONLY way to add entries.
func (s *Store) Append(ctx context.Context, ev Event) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var detailsJSON string
	if ev.Details != nil {
		data, err := json.Marshal(ev.Details)
		if err != nil {
			return nil, fmt.Errorf("marshal details: %w", err)
		}
		detailsJSON = string(data)
	}

	lastSeq, prevHash, err := s.getLast(ctx)
	if err != nil {
		return nil, fmt.Errorf("get last hash: %w", err)
	}

	ts, _ := time.Parse(timestampLayout, s.clock.Now().UTC().Format(timestampLayout))
	entry := &Entry{
		ID:         uuid.New().String(),
		Seq:        lastSeq + 1,
		Timestamp:  ts,
		Action:     ev.Action,
		Actor:      ev.Actor,
		UserID:     ev.UserID,
		DayIndex:   ev.DayIndex,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Details:    detailsJSON,
		PrevHash:   prevHash,
	}
	entry.Hash = computeHash(entry)

	_, err = s.db.Exec(ctx, `
		INSERT INTO ledger (id, seq, timestamp, action, actor, user_id, day_index, entity_type, entity_id, details, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Seq, entry.Timestamp.Format(timestampLayout), entry.Action, entry.Actor,
		entry.UserID, entry.DayIndex, entry.EntityType, entry.EntityID,
		entry.Details, entry.PrevHash, entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	return entry, nil
}

// getLast returns the sequence number and hash of the most recent entry
func (s *Store) getLast(ctx context.Context) (int64, string, error) {
	var seq int64
	var hash string
	err := s.db.QueryRow(ctx, `SELECT seq, hash FROM ledger ORDER BY seq DESC LIMIT 1`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, GenesisHash, nil
	}
	if err != nil {
		return 0, "", err
	}
	return seq, hash, nil
}

// computeHash creates the SHA-256 hash of an entry's canonical representation
func computeHash(entry *Entry) string {
	canonical := struct {
		ID         string `json:"id"`
		Seq        int64  `json:"seq"`
		Timestamp  string `json:"timestamp"`
		Action     string `json:"action"`
		Actor      string `json:"actor"`
		UserID     string `json:"user_id"`
		DayIndex   int    `json:"day_index"`
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
		Details    string `json:"details"`
		PrevHash   string `json:"prev_hash"`
	}{
		ID:         entry.ID,
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.UTC().Format(timestampLayout),
		Action:     entry.Action,
		Actor:      entry.Actor,
		UserID:     string(entry.UserID),
		DayIndex:   entry.DayIndex,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Details:    entry.Details,
		PrevHash:   entry.PrevHash,
	}

	data, _ := json.Marshal(canonical)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

const entryColumns = `id, seq, timestamp, action, actor, user_id, day_index, entity_type, entity_id, details, prev_hash, hash`

func scanEntry(scan func(dest ...any) error) (*Entry, error) {
	var entry Entry
	var ts string
	var entityType, entityID, details, prevHash sql.NullString

	err := scan(
		&entry.ID, &entry.Seq, &ts, &entry.Action, &entry.Actor, &entry.UserID, &entry.DayIndex,
		&entityType, &entityID, &details, &prevHash, &entry.Hash,
	)
	if err != nil {
		return nil, err
	}

	entry.Timestamp, _ = time.Parse(timestampLayout, ts)
	entry.EntityType = entityType.String
	entry.EntityID = entityID.String
	entry.Details = details.String
	entry.PrevHash = prevHash.String
	return &entry, nil
}

// VerifyChain verifies the integrity of the entire ledger chain.
// Returns nil if valid, or an error describing the first broken link.
func (s *Store) VerifyChain(ctx context.Context) error {
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	expectedPrevHash := GenesisHash
	entryNum := 0

	for rows.Next() {
		entryNum++
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return fmt.Errorf("scan entry %d: %w", entryNum, err)
		}

		if entry.PrevHash != expectedPrevHash {
			return &ChainError{
				EntryNum:     entryNum,
				EntryID:      entry.ID,
				ExpectedHash: expectedPrevHash,
				ActualHash:   entry.PrevHash,
				Type:         "chain_broken",
			}
		}

		expectedHash := computeHash(entry)
		if entry.Hash != expectedHash {
			return &ChainError{
				EntryNum:     entryNum,
				EntryID:      entry.ID,
				ExpectedHash: expectedHash,
				ActualHash:   entry.Hash,
				Type:         "hash_mismatch",
			}
		}

		expectedPrevHash = entry.Hash
	}

	return rows.Err()
}

// ChainError represents a broken chain error
type ChainError struct {
	EntryNum     int
	EntryID      string
	ExpectedHash string
	ActualHash   string
	Type         string // "chain_broken" or "hash_mismatch"
}

func (e *ChainError) Error() string {
	if e.Type == "chain_broken" {
		return fmt.Sprintf("chain broken at entry %d (ID: %s): expected prev_hash %s, got %s",
			e.EntryNum, e.EntryID, short(e.ExpectedHash), short(e.ActualHash))
	}
	return fmt.Sprintf("hash mismatch at entry %d (ID: %s): expected %s, got %s",
		e.EntryNum, e.EntryID, short(e.ExpectedHash), short(e.ActualHash))
}

func short(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16] + "..."
}

// QueryOptions filters entries
type QueryOptions struct {
	Action     string      // Filter by action type
	Actor      string      // Filter by actor
	UserID     core.UserID // Filter by player
	DayIndex   int         // Filter by day (0 = any)
	EntityType string      // Filter by entity type
	EntityID   string      // Filter by entity ID
	Limit      int         // Maximum entries to return
	Offset     int         // Skip first N entries
}

// Query returns entries matching the given criteria, newest first
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger WHERE 1=1`
	var args []interface{}

	if opts.Action != "" {
		query += " AND action = ?"
		args = append(args, opts.Action)
	}
	if opts.Actor != "" {
		query += " AND actor = ?"
		args = append(args, opts.Actor)
	}
	if opts.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, opts.UserID)
	}
	if opts.DayIndex > 0 {
		query += " AND day_index = ?"
		args = append(args, opts.DayIndex)
	}
	if opts.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, opts.EntityType)
	}
	if opts.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, opts.EntityID)
	}

	query += " ORDER BY seq DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// GetByID returns a single entry by ID
func (s *Store) GetByID(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger WHERE id = ?`, id)
	entry, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("ledger entry %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return entry, nil
}

// Count returns the total number of entries in the ledger
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM ledger").Scan(&count)
	return count, err
}

// GetEntityHistory returns all entries for a specific entity
func (s *Store) GetEntityHistory(ctx context.Context, entityType, entityID string) ([]*Entry, error) {
	return s.Query(ctx, QueryOptions{
		EntityType: entityType,
		EntityID:   entityID,
	})
}

// Summary statistics
type Summary struct {
	TotalEntries int            `json:"total_entries"`
	FirstEntry   *time.Time     `json:"first_entry,omitempty"`
	LastEntry    *time.Time     `json:"last_entry,omitempty"`
	ByAction     map[string]int `json:"by_action"`
	ByActor      map[string]int `json:"by_actor"`
	ChainValid   bool           `json:"chain_valid"`
	ChainError   string         `json:"chain_error,omitempty"`
}

// GetSummary returns statistics about the ledger
func (s *Store) GetSummary(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		ByAction: make(map[string]int),
		ByActor:  make(map[string]int),
	}

	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM ledger").Scan(&summary.TotalEntries); err != nil {
		return nil, err
	}

	var first, last sql.NullString
	s.db.QueryRow(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM ledger").Scan(&first, &last)
	if first.Valid {
		if t, err := time.Parse(timestampLayout, first.String); err == nil {
			summary.FirstEntry = &t
		}
	}
	if last.Valid {
		if t, err := time.Parse(timestampLayout, last.String); err == nil {
			summary.LastEntry = &t
		}
	}

	if err := s.countBy(ctx, "action", summary.ByAction); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "actor", summary.ByActor); err != nil {
		return nil, err
	}

	if err := s.VerifyChain(ctx); err != nil {
		summary.ChainValid = false
		summary.ChainError = err.Error()
	} else {
		summary.ChainValid = true
	}

	return summary, nil
}

// countBy groups entries by a fixed column name.
func (s *Store) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.Query(ctx, "SELECT "+column+", COUNT(*) FROM ledger GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}
