package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/quantumlife/daybreak/internal/core"
)

// ArcStore handles the static arc catalog
type ArcStore struct {
	db *DB
}

// NewArcStore creates a new arc catalog store
func NewArcStore(db *DB) *ArcStore {
	return &ArcStore{db: db}
}

// UpsertDefinition creates or replaces an arc definition.
func (s *ArcStore) UpsertDefinition(ctx context.Context, def *core.ArcDefinition) error {
	tags, err := json.Marshal(def.Tags)
	if err != nil {
		return core.StoreFailure("encode arc tags", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO arc_definitions (arc_key, title, description, tags_json, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (arc_key) DO UPDATE SET
		    title = excluded.title,
		    description = excluded.description,
		    tags_json = excluded.tags_json,
		    enabled = excluded.enabled,
		    updated_at = excluded.updated_at
	`, def.Key, def.Title, def.Description, string(tags), def.Enabled, formatTime(time.Now()))
	if err != nil {
		return core.StoreFailure("upsert arc definition", err)
	}
	return nil
}

// UpsertStep creates or replaces a step of an existing arc.
func (s *ArcStore) UpsertStep(ctx context.Context, step *core.ArcStep) error {
	options, err := json.Marshal(step.Options)
	if err != nil {
		return core.StoreFailure("encode step options", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO arc_steps (arc_key, step_key, order_index, title, body, options_json,
		                       due_offset_days, expires_after_days, default_next_step_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (arc_key, step_key) DO UPDATE SET
		    order_index = excluded.order_index,
		    title = excluded.title,
		    body = excluded.body,
		    options_json = excluded.options_json,
		    due_offset_days = excluded.due_offset_days,
		    expires_after_days = excluded.expires_after_days,
		    default_next_step_key = excluded.default_next_step_key
	`, step.ArcKey, step.StepKey, step.OrderIndex, step.Title, step.Body, string(options),
		step.DueOffsetDays, step.ExpiresAfterDays, step.DefaultNextStepKey)
	if err != nil {
		return core.StoreFailure("upsert arc step", err)
	}
	return nil
}

// GetDefinition returns one arc definition.
func (s *ArcStore) GetDefinition(ctx context.Context, key string) (*core.ArcDefinition, error) {
	row := s.db.QueryRow(ctx, `
		SELECT arc_key, title, description, tags_json, enabled FROM arc_definitions WHERE arc_key = ?
	`, key)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("arc %q not found", key)
	}
	if err != nil {
		return nil, core.StoreFailure("get arc definition", err)
	}
	return def, nil
}

// ListDefinitions returns catalog entries ordered by key.
func (s *ArcStore) ListDefinitions(ctx context.Context, enabledOnly bool) ([]*core.ArcDefinition, error) {
	query := `SELECT arc_key, title, description, tags_json, enabled FROM arc_definitions`
	var args []any
	if enabledOnly {
		query += ` WHERE enabled = ?`
		args = append(args, true)
	}
	query += ` ORDER BY arc_key ASC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, core.StoreFailure("list arc definitions", err)
	}
	defer rows.Close()

	var defs []*core.ArcDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, core.StoreFailure("scan arc definition", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StoreFailure("list arc definitions", err)
	}
	return defs, nil
}

// ListSteps returns an arc's steps in order.
func (s *ArcStore) ListSteps(ctx context.Context, arcKey string) ([]core.ArcStep, error) {
	rows, err := s.db.Query(ctx, `
		SELECT arc_key, step_key, order_index, title, body, options_json,
		       due_offset_days, expires_after_days, default_next_step_key
		FROM arc_steps WHERE arc_key = ? ORDER BY order_index ASC, step_key ASC
	`, arcKey)
	if err != nil {
		return nil, core.StoreFailure("list arc steps", err)
	}
	defer rows.Close()

	var steps []core.ArcStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, core.StoreFailure("scan arc step", err)
		}
		steps = append(steps, *step)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StoreFailure("list arc steps", err)
	}
	return steps, nil
}

// GetStep returns one step of an arc.
func (s *ArcStore) GetStep(ctx context.Context, arcKey, stepKey string) (*core.ArcStep, error) {
	row := s.db.QueryRow(ctx, `
		SELECT arc_key, step_key, order_index, title, body, options_json,
		       due_offset_days, expires_after_days, default_next_step_key
		FROM arc_steps WHERE arc_key = ? AND step_key = ?
	`, arcKey, stepKey)
	step, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("step %q of arc %q not found", stepKey, arcKey)
	}
	if err != nil {
		return nil, core.StoreFailure("get arc step", err)
	}
	return step, nil
}

func scanDefinition(row rowScanner) (*core.ArcDefinition, error) {
	def := &core.ArcDefinition{}
	var tags string
	if err := row.Scan(&def.Key, &def.Title, &def.Description, &tags, &def.Enabled); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &def.Tags); err != nil {
		return nil, err
	}
	return def, nil
}

func scanStep(row rowScanner) (*core.ArcStep, error) {
	step := &core.ArcStep{}
	var options string
	err := row.Scan(&step.ArcKey, &step.StepKey, &step.OrderIndex, &step.Title, &step.Body, &options,
		&step.DueOffsetDays, &step.ExpiresAfterDays, &step.DefaultNextStepKey)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &step.Options); err != nil {
		return nil, err
	}
	return step, nil
}
