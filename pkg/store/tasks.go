package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// TaskStore persists task queue state. It implements queue.TaskStore.
type TaskStore struct {
	db *sql.DB
}

// UpsertTask writes the full task row.
func (s *TaskStore) UpsertTask(ctx context.Context, state *models.TaskState) error {
	task := state.Task

	caps, err := marshalNullable(task.RequiredCapabilities)
	if err != nil {
		return fmt.Errorf("marshalling task capabilities: %w", err)
	}
	meta, err := marshalNullable(task.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling task metadata: %w", err)
	}

	var maxFiles, maxLoc sql.NullInt64
	if task.Budget != nil {
		maxFiles = sql.NullInt64{Int64: int64(task.Budget.MaxFiles), Valid: true}
		maxLoc = sql.NullInt64{Int64: int64(task.Budget.MaxLoc), Valid: true}
	}
	var deadline sql.NullTime
	if task.Deadline != nil {
		deadline = sql.NullTime{Time: *task.Deadline, Valid: true}
	}

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO task_queue (
				task_id, task_type, description, priority, timeout_ms,
				attempts, max_attempts, budget_max_files, budget_max_loc,
				required_capabilities_json, task_metadata_json, deadline,
				status, last_error, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
			ON CONFLICT (task_id) DO UPDATE SET
				priority = EXCLUDED.priority,
				timeout_ms = EXCLUDED.timeout_ms,
				attempts = EXCLUDED.attempts,
				max_attempts = EXCLUDED.max_attempts,
				required_capabilities_json = EXCLUDED.required_capabilities_json,
				task_metadata_json = EXCLUDED.task_metadata_json,
				deadline = EXCLUDED.deadline,
				status = EXCLUDED.status,
				last_error = EXCLUDED.last_error,
				updated_at = NOW()`,
			task.TaskID, string(task.Type), task.Description, task.Priority, task.TimeoutMs,
			state.Attempts, state.MaxAttempts, maxFiles, maxLoc,
			caps, meta, deadline,
			string(state.Status), state.LastError, task.CreatedAt,
		)
		return err
	})
}

// UpdateTaskStatus sets the status column and bumps updated_at. An empty
// lastError keeps whatever error is already recorded.
func (s *TaskStore) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, lastError string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE task_queue
			SET status = $2,
			    last_error = CASE WHEN $3 = '' THEN last_error ELSE $3 END,
			    updated_at = NOW()
			WHERE task_id = $1`,
			taskID, string(status), lastError,
		)
		return err
	})
}

// LoadQueuedTasks returns all rows with status 'queued' in
// (priority DESC, created_at ASC) order.
func (s *TaskStore) LoadQueuedTasks(ctx context.Context) ([]*models.TaskState, error) {
	var states []*models.TaskState
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT task_id, task_type, description, priority, timeout_ms,
			       attempts, max_attempts, budget_max_files, budget_max_loc,
			       required_capabilities_json, task_metadata_json, deadline,
			       status, last_error, created_at
			FROM task_queue
			WHERE status = $1
			ORDER BY priority DESC, created_at ASC`,
			string(models.TaskStatusQueued),
		)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		states = states[:0]
		for rows.Next() {
			state, err := scanTaskState(rows)
			if err != nil {
				return backoff.Permanent(err)
			}
			states = append(states, state)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

func scanTaskState(rows *sql.Rows) (*models.TaskState, error) {
	var (
		task             models.Task
		taskType, status string
		maxFiles, maxLoc sql.NullInt64
		caps, meta       []byte
		deadline         sql.NullTime
		state            models.TaskState
	)
	if err := rows.Scan(
		&task.TaskID, &taskType, &task.Description, &task.Priority, &task.TimeoutMs,
		&state.Attempts, &state.MaxAttempts, &maxFiles, &maxLoc,
		&caps, &meta, &deadline,
		&status, &state.LastError, &task.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning task row: %w", err)
	}

	task.Type = models.TaskType(taskType)
	task.Attempts = state.Attempts
	task.MaxAttempts = state.MaxAttempts
	if maxFiles.Valid || maxLoc.Valid {
		task.Budget = &models.TaskBudget{MaxFiles: int(maxFiles.Int64), MaxLoc: int(maxLoc.Int64)}
	}
	if len(caps) > 0 {
		task.RequiredCapabilities = &models.AgentCapabilities{}
		if err := json.Unmarshal(caps, task.RequiredCapabilities); err != nil {
			return nil, fmt.Errorf("unmarshalling task capabilities: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &task.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling task metadata: %w", err)
		}
	}
	if deadline.Valid {
		d := deadline.Time.UTC()
		task.Deadline = &d
	}
	task.CreatedAt = task.CreatedAt.UTC()

	state.Task = &task
	state.Status = models.TaskStatus(status)
	return &state, nil
}

// marshalNullable marshals v to JSON, mapping nil maps and pointers to a
// SQL NULL instead of the literal "null".
func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}
