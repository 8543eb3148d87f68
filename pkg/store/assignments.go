package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// AssignmentStore persists assignment lifecycle state. It implements
// assignment.Store. Assignments are written through on every transition but
// never replayed: timers cannot be resurrected across a restart, so crashed
// assignments are resolved by queue replay instead.
type AssignmentStore struct {
	db *sql.DB
}

// SaveAssignment writes the full assignment row.
func (s *AssignmentStore) SaveAssignment(ctx context.Context, a *models.TaskAssignment) error {
	meta, err := marshalNullable(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling assignment metadata: %w", err)
	}

	var timeoutMs int64
	if a.Task != nil {
		timeoutMs = a.Task.TimeoutMs
	}
	ack := nullTime(a.AcknowledgedAt)
	started := nullTime(a.StartedAt)
	completed := nullTime(a.CompletedAt)
	errMsg := nullString(a.ErrorMessage)
	errCode := nullString(a.ErrorCode)

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO task_assignments (
				assignment_id, task_id, agent_id, assigned_at, deadline, timeout_ms,
				routing_confidence, routing_strategy, routing_reason,
				status, acknowledged_at, started_at, completed_at,
				progress, error_message, error_code, metadata_json
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (assignment_id) DO UPDATE SET
				status = EXCLUDED.status,
				acknowledged_at = EXCLUDED.acknowledged_at,
				started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at,
				progress = EXCLUDED.progress,
				error_message = EXCLUDED.error_message,
				error_code = EXCLUDED.error_code,
				metadata_json = EXCLUDED.metadata_json`,
			a.ID, a.Task.TaskID, a.AgentID, a.AssignedAt, a.Deadline, timeoutMs,
			a.RoutingDecision.Confidence, string(a.RoutingDecision.Strategy), a.RoutingDecision.Reason,
			string(a.Status), ack, started, completed,
			a.Progress, errMsg, errCode, meta,
		)
		return err
	})
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
