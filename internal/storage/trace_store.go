package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/quantumlife/daybreak/internal/core"
)

// TraceStore handles resource trace events
type TraceStore struct {
	db *DB
}

// NewTraceStore creates a new trace store
func NewTraceStore(db *DB) *TraceStore {
	return &TraceStore{db: db}
}

// Insert appends a trace event. Traces are never updated.
func (s *TraceStore) Insert(ctx context.Context, tr *core.ResourceTrace) error {
	before, _ := json.Marshal(tr.Before)
	after, _ := json.Marshal(tr.After)
	delta, err := json.Marshal(tr.Delta)
	if err != nil {
		return core.StoreFailure("encode trace delta", err)
	}
	var metadata interface{}
	if len(tr.Metadata) > 0 {
		b, err := json.Marshal(tr.Metadata)
		if err != nil {
			return core.StoreFailure("encode trace metadata", err)
		}
		metadata = string(b)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO resource_traces (id, user_id, day_index, source, before_json, after_json, delta_json, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tr.ID, tr.UserID, tr.DayIndex, tr.Source, string(before), string(after), string(delta), metadata, formatTime(tr.CreatedAt))
	if err != nil {
		return core.StoreFailure("insert trace", err)
	}
	return nil
}

// ListForDay returns a user's traces for one day, oldest first.
func (s *TraceStore) ListForDay(ctx context.Context, userID core.UserID, day int) ([]*core.ResourceTrace, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, day_index, source, before_json, after_json, delta_json, metadata_json, created_at
		FROM resource_traces WHERE user_id = ? AND day_index = ?
		ORDER BY created_at ASC, id ASC
	`, userID, day)
	if err != nil {
		return nil, core.StoreFailure("list traces", err)
	}
	defer rows.Close()

	var traces []*core.ResourceTrace
	for rows.Next() {
		tr := &core.ResourceTrace{}
		var before, after, delta, createdAt string
		var metadata sql.NullString
		if err := rows.Scan(&tr.ID, &tr.UserID, &tr.DayIndex, &tr.Source, &before, &after, &delta, &metadata, &createdAt); err != nil {
			return nil, core.StoreFailure("scan trace", err)
		}
		json.Unmarshal([]byte(before), &tr.Before)
		json.Unmarshal([]byte(after), &tr.After)
		json.Unmarshal([]byte(delta), &tr.Delta)
		if metadata.Valid {
			json.Unmarshal([]byte(metadata.String), &tr.Metadata)
		}
		tr.CreatedAt = parseTime(createdAt)
		traces = append(traces, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StoreFailure("list traces", err)
	}
	return traces, nil
}
