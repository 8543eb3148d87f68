// Package queue provides the bounded, policy-ordered task queue feeding the
// router. Every mutating operation runs under a FIFO-fair exclusive lock and
// writes through to the store before the lock is released.
package queue

import (
	"context"
	"errors"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoTasksAvailable indicates the queue has no pending tasks.
	ErrNoTasksAvailable = errors.New("no tasks available")
)

// TaskStore persists task state. A nil TaskStore disables persistence.
type TaskStore interface {
	// UpsertTask writes the full task row.
	UpsertTask(ctx context.Context, state *models.TaskState) error

	// UpdateTaskStatus sets the status column and bumps updated_at.
	UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, lastError string) error

	// LoadQueuedTasks returns all rows with status 'queued' in
	// (priority DESC, created_at ASC) order.
	LoadQueuedTasks(ctx context.Context) ([]*models.TaskState, error)
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Depth             int                       `json:"depth"`
	MaxDepth          int                       `json:"max_depth"`
	TotalEnqueued     uint64                    `json:"total_enqueued"`
	TotalDequeued     uint64                    `json:"total_dequeued"`
	TotalCancelled    uint64                    `json:"total_cancelled"`
	AverageWaitMs     float64                   `json:"average_wait_ms"`
	PriorityHistogram map[int]int               `json:"priority_histogram"`
	StatusHistogram   map[models.TaskStatus]int `json:"status_histogram"`
}
