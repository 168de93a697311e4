package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/quantumlife/daybreak/internal/core"
)

// InstanceStore handles arc instances and their step runs
type InstanceStore struct {
	db *DB
}

// NewInstanceStore creates a new instance store
func NewInstanceStore(db *DB) *InstanceStore {
	return &InstanceStore{db: db}
}

const instanceColumns = `id, user_id, arc_key, state, current_step_key, step_due_day,
	step_defer_count, started_day, completed_day, failure_reason, created_at, updated_at`

// Create inserts an instance. Only one ACTIVE instance may exist per
// (user, arc); a second fails with a unique violation.
func (s *InstanceStore) Create(ctx context.Context, inst *core.ArcInstance) error {
	_, err := s.db.Exec(ctx, `INSERT INTO arc_instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.UserID, inst.ArcKey, inst.State, inst.CurrentStepKey, inst.StepDueDay,
		inst.StepDeferCount, inst.StartedDay, inst.CompletedDay, inst.FailureReason,
		formatTime(inst.CreatedAt), formatTime(inst.UpdatedAt),
	)
	if err != nil {
		return core.StoreFailure("insert instance", err)
	}
	return nil
}

// Get returns an instance by id.
func (s *InstanceStore) Get(ctx context.Context, id core.InstanceID) (*core.ArcInstance, error) {
	row := s.db.QueryRow(ctx, `SELECT `+instanceColumns+` FROM arc_instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("instance %s not found", id)
	}
	if err != nil {
		return nil, core.StoreFailure("get instance", err)
	}
	return inst, nil
}

// GetActive returns the user's active instance of an arc.
func (s *InstanceStore) GetActive(ctx context.Context, userID core.UserID, arcKey string) (*core.ArcInstance, error) {
	row := s.db.QueryRow(ctx, `SELECT `+instanceColumns+`
		FROM arc_instances WHERE user_id = ? AND arc_key = ? AND state = ?`,
		userID, arcKey, core.InstanceActive)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("no active instance of arc %q", arcKey)
	}
	if err != nil {
		return nil, core.StoreFailure("get active instance", err)
	}
	return inst, nil
}

// ListForUser returns the user's instances, optionally filtered by state,
// ordered by arc key then start.
func (s *InstanceStore) ListForUser(ctx context.Context, userID core.UserID, states ...core.InstanceState) ([]*core.ArcInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM arc_instances WHERE user_id = ?`
	args := []any{userID}
	if len(states) > 0 {
		query += ` AND state IN (` + placeholders(len(states)) + `)`
		for _, st := range states {
			args = append(args, st)
		}
	}
	query += ` ORDER BY arc_key ASC, created_at ASC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, core.StoreFailure("list instances", err)
	}
	defer rows.Close()

	var out []*core.ArcInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, core.StoreFailure("scan instance", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StoreFailure("list instances", err)
	}
	return out, nil
}

// UpdateIfCurrent writes next over the stored instance only if the stored
// row still matches prev's state, step and defer count. It reports false
// when another writer got there first.
func (s *InstanceStore) UpdateIfCurrent(ctx context.Context, prev, next *core.ArcInstance) (bool, error) {
	res, err := s.db.Exec(ctx, `
		UPDATE arc_instances SET
		    state = ?, current_step_key = ?, step_due_day = ?, step_defer_count = ?,
		    completed_day = ?, failure_reason = ?, updated_at = ?
		WHERE id = ? AND state = ? AND current_step_key = ? AND step_defer_count = ?
	`,
		next.State, next.CurrentStepKey, next.StepDueDay, next.StepDeferCount,
		next.CompletedDay, next.FailureReason, formatTime(next.UpdatedAt),
		prev.ID, prev.State, prev.CurrentStepKey, prev.StepDeferCount,
	)
	if err != nil {
		return false, core.StoreFailure("update instance", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// InsertStepRun records a resolved step.
func (s *InstanceStore) InsertStepRun(ctx context.Context, run *core.ArcStepRun) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO arc_step_runs (id, instance_id, user_id, arc_key, step_key, option_key, day_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.InstanceID, run.UserID, run.ArcKey, run.StepKey, run.OptionKey, run.DayIndex, formatTime(run.CreatedAt))
	if err != nil {
		return core.StoreFailure("insert step run", err)
	}
	return nil
}

// DeleteStepRun removes a step run. Deleting a missing run is not an error.
func (s *InstanceStore) DeleteStepRun(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM arc_step_runs WHERE id = ?`, id); err != nil {
		return core.StoreFailure("delete step run", err)
	}
	return nil
}

// CountStepRuns returns how many steps the user resolved on day.
func (s *InstanceStore) CountStepRuns(ctx context.Context, userID core.UserID, day int) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM arc_step_runs WHERE user_id = ? AND day_index = ?
	`, userID, day).Scan(&n)
	if err != nil {
		return 0, core.StoreFailure("count step runs", err)
	}
	return n, nil
}

// ListStepRuns returns an instance's step runs, oldest first.
func (s *InstanceStore) ListStepRuns(ctx context.Context, id core.InstanceID) ([]*core.ArcStepRun, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, instance_id, user_id, arc_key, step_key, option_key, day_index, created_at
		FROM arc_step_runs WHERE instance_id = ? ORDER BY created_at ASC, id ASC
	`, id)
	if err != nil {
		return nil, core.StoreFailure("list step runs", err)
	}
	defer rows.Close()

	var runs []*core.ArcStepRun
	for rows.Next() {
		run := &core.ArcStepRun{}
		var createdAt string
		if err := rows.Scan(&run.ID, &run.InstanceID, &run.UserID, &run.ArcKey, &run.StepKey,
			&run.OptionKey, &run.DayIndex, &createdAt); err != nil {
			return nil, core.StoreFailure("scan step run", err)
		}
		run.CreatedAt = parseTime(createdAt)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StoreFailure("list step runs", err)
	}
	return runs, nil
}

func scanInstance(row rowScanner) (*core.ArcInstance, error) {
	inst := &core.ArcInstance{}
	var createdAt, updatedAt string
	err := row.Scan(&inst.ID, &inst.UserID, &inst.ArcKey, &inst.State, &inst.CurrentStepKey,
		&inst.StepDueDay, &inst.StepDeferCount, &inst.StartedDay, &inst.CompletedDay,
		&inst.FailureReason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	inst.CreatedAt = parseTime(createdAt)
	inst.UpdatedAt = parseTime(updatedAt)
	return inst, nil
}
