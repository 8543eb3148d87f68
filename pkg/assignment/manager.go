// Package assignment tracks routed tasks through execution: each
// assignment carries an acknowledgment timer and, once acknowledged, a
// progress watchdog that declares a timeout when the deadline passes.
// Assignments are independent: distinct ids mutate in parallel under
// per-assignment locks, with the manager lock covering only the index
// maps and counters.
package assignment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// Store persists assignment rows. Implementations must upsert by
// assignment id.
type Store interface {
	SaveAssignment(ctx context.Context, a *models.TaskAssignment) error
}

// Hooks let the owner react to timer-driven terminations. Both fire
// after the assignment is already terminal and dropped; the argument is
// a detached clone.
type Hooks struct {
	// OnAckTimeout fires when an agent never acknowledged. willRetry
	// reports whether the task has attempts left for reassignment.
	OnAckTimeout func(a *models.TaskAssignment, willRetry bool)

	// OnTimeout fires when the progress watchdog declared a deadline
	// overrun.
	OnTimeout func(a *models.TaskAssignment)
}

// Stats is the manager's observable state. TotalCreated always equals
// Completed + Failed + TimedOut + Reassigned + Active.
type Stats struct {
	TotalCreated      uint64  `json:"total_created"`
	Active            int     `json:"active"`
	Completed         uint64  `json:"completed"`
	Failed            uint64  `json:"failed"`
	TimedOut          uint64  `json:"timed_out"`
	Reassigned        uint64  `json:"reassigned"`
	SuccessRate       float64 `json:"success_rate"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}

// tracked is one live assignment with its timers. mu serializes every
// mutation of the assignment; the manager lock is never held while mu is.
type tracked struct {
	mu           sync.Mutex
	assignment   *models.TaskAssignment
	hooks        Hooks
	ackTimer     *time.Timer
	watchdog     *time.Ticker
	stopWatch    chan struct{}
	watchStopped bool
	terminal     bool
}

// stopTimersLocked cancels both timers. Caller holds tr.mu.
func (tr *tracked) stopTimersLocked() {
	if tr.ackTimer != nil {
		tr.ackTimer.Stop()
		tr.ackTimer = nil
	}
	if tr.watchdog != nil {
		tr.watchdog.Stop()
	}
	if tr.stopWatch != nil && !tr.watchStopped {
		close(tr.stopWatch)
		tr.watchStopped = true
	}
}

// terminate moves tr to a terminal state exactly once: stamps
// CompletedAt, applies mutate for the status and error fields, cancels
// timers, and returns a detached clone. Returns nil when tr was already
// terminal.
func (tr *tracked) terminate(mutate func(a *models.TaskAssignment)) *models.TaskAssignment {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.terminal {
		return nil
	}
	tr.terminal = true

	now := time.Now().UTC()
	tr.assignment.CompletedAt = &now
	mutate(tr.assignment)
	tr.stopTimersLocked()
	return tr.assignment.Clone()
}

// Manager owns all live assignments.
type Manager struct {
	cfg     *config.AssignmentConfig
	store   Store
	emitter events.Emitter

	mu       sync.RWMutex
	byID     map[string]*tracked
	byTask   map[string]string
	draining bool

	totalCreated  uint64
	completed     uint64
	failed        uint64
	timedOut      uint64
	reassigned    uint64
	successes     uint64
	avgDurationMs float64

	wg sync.WaitGroup
}

// NewManager creates an assignment manager. store and emitter may be nil.
func NewManager(cfg *config.AssignmentConfig, store Store, emitter events.Emitter) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   store,
		emitter: emitter,
		byID:    make(map[string]*tracked),
		byTask:  make(map[string]string),
	}
}

// CreateAssignment binds a task to the agent a routing decision selected
// and arms the acknowledgment timer. One active assignment per task.
// hooks may be nil.
func (m *Manager) CreateAssignment(ctx context.Context, task *models.Task, decision *models.RoutingDecision, hooks *Hooks) (*models.TaskAssignment, error) {
	if task == nil {
		return nil, faults.Precondition("task is required")
	}
	if decision == nil {
		return nil, faults.Precondition("routing decision is required")
	}

	now := time.Now().UTC()
	a := &models.TaskAssignment{
		ID:              "assign-" + uuid.NewString(),
		Task:            task.Clone(),
		AgentID:         decision.SelectedAgent,
		RoutingDecision: *decision,
		Status:          models.TaskStatusAssigned,
		AssignedAt:      now,
		Deadline:        now.Add(m.cfg.MaxAssignmentDuration),
	}
	tr := &tracked{assignment: a}
	if hooks != nil {
		tr.hooks = *hooks
	}

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil, faults.Precondition("assignment manager is shutting down")
	}
	if existing, ok := m.byTask[a.Task.TaskID]; ok {
		m.mu.Unlock()
		return nil, faults.Precondition("task %q already has assignment %q", a.Task.TaskID, existing).
			With("task_id", a.Task.TaskID)
	}
	m.byID[a.ID] = tr
	m.byTask[a.Task.TaskID] = a.ID
	m.totalCreated++
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveAssignment(ctx, a); err != nil {
			m.mu.Lock()
			delete(m.byID, a.ID)
			delete(m.byTask, a.Task.TaskID)
			m.totalCreated--
			m.mu.Unlock()
			return nil, faults.TransientIO("persisting assignment %q", a.ID).Wrap(err)
		}
	}

	tr.mu.Lock()
	if !tr.terminal {
		tr.ackTimer = time.AfterFunc(m.cfg.AcknowledgmentTimeout, func() {
			m.ackTimeoutFire(tr)
		})
	}
	tr.mu.Unlock()

	m.emit(ctx, models.Event{
		Type:     events.EventTypeTaskAssigned,
		Severity: models.SeverityInfo,
		Source:   "assignment",
		AgentID:  a.AgentID,
		TaskID:   a.Task.TaskID,
		Metadata: map[string]any{
			"assignment_id": a.ID,
			"deadline":      a.Deadline,
		},
	})
	return a.Clone(), nil
}

// Acknowledge confirms the agent accepted the assignment: cancels the
// ack timer, marks execution started, restarts the deadline from now,
// and begins the progress watchdog.
func (m *Manager) Acknowledge(ctx context.Context, assignmentID string) error {
	tr, err := m.lookup(assignmentID)
	if err != nil {
		return err
	}

	tr.mu.Lock()
	if tr.terminal {
		tr.mu.Unlock()
		return faults.Precondition("assignment %q is already terminal", assignmentID)
	}
	if tr.assignment.AcknowledgedAt != nil {
		tr.mu.Unlock()
		return faults.Precondition("assignment %q is already acknowledged", assignmentID)
	}
	now := time.Now().UTC()
	tr.assignment.AcknowledgedAt = &now
	tr.assignment.StartedAt = &now
	tr.assignment.Status = models.TaskStatusExecuting
	tr.assignment.Deadline = now.Add(m.cfg.MaxAssignmentDuration)
	if tr.ackTimer != nil {
		tr.ackTimer.Stop()
		tr.ackTimer = nil
	}
	tr.watchdog = time.NewTicker(m.cfg.ProgressCheckInterval)
	tr.stopWatch = make(chan struct{})
	clone := tr.assignment.Clone()
	tr.mu.Unlock()

	m.wg.Add(1)
	go m.watch(tr)

	m.persistBestEffort(ctx, clone)
	m.emit(ctx, models.Event{
		Type:     events.EventTypeTaskAcknowledged,
		Severity: models.SeverityInfo,
		Source:   "assignment",
		AgentID:  clone.AgentID,
		TaskID:   clone.Task.TaskID,
		Metadata: map[string]any{"assignment_id": clone.ID},
	})
	return nil
}

// UpdateProgress records execution progress for an acknowledged
// assignment and resets the watchdog interval. Out-of-range progress is
// clamped with a warning rather than failed. status, when given, must be
// an execution-phase status. metadata is merged shallowly.
func (m *Manager) UpdateProgress(ctx context.Context, assignmentID string, progress float64, status *models.TaskStatus, metadata map[string]any) error {
	tr, err := m.lookup(assignmentID)
	if err != nil {
		return err
	}
	if status != nil && *status != models.TaskStatusExecuting && *status != models.TaskStatusValidating {
		return faults.Precondition("status %q is not an execution status", *status)
	}

	tr.mu.Lock()
	if tr.terminal {
		tr.mu.Unlock()
		return faults.Precondition("assignment %q is already terminal", assignmentID)
	}
	if tr.assignment.AcknowledgedAt == nil {
		tr.mu.Unlock()
		return faults.Precondition("assignment %q is not acknowledged", assignmentID)
	}
	if progress < 0 || progress > 1 {
		slog.Warn("Progress out of range, clamping",
			"assignment_id", assignmentID,
			"progress", progress)
		progress = models.Clamp(progress, 0, 1)
	}
	tr.assignment.Progress = progress
	if status != nil {
		tr.assignment.Status = *status
	}
	if len(metadata) > 0 {
		if tr.assignment.Metadata == nil {
			tr.assignment.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			tr.assignment.Metadata[k] = v
		}
	}
	if tr.watchdog != nil {
		tr.watchdog.Reset(m.cfg.ProgressCheckInterval)
	}
	clone := tr.assignment.Clone()
	tr.mu.Unlock()

	m.persistBestEffort(ctx, clone)
	m.emit(ctx, models.Event{
		Type:     events.EventTypeTaskProgress,
		Severity: models.SeverityDebug,
		Source:   "assignment",
		AgentID:  clone.AgentID,
		TaskID:   clone.Task.TaskID,
		Metadata: map[string]any{
			"assignment_id": clone.ID,
			"progress":      progress,
			"status":        string(clone.Status),
		},
	})
	return nil
}

// CompleteAssignment finishes an assignment with the agent's reported
// result and folds the duration into the running average. Returns the
// terminal record for outcome feedback.
func (m *Manager) CompleteAssignment(ctx context.Context, assignmentID string, result models.AssignmentResult) (*models.TaskAssignment, error) {
	tr, err := m.lookup(assignmentID)
	if err != nil {
		return nil, err
	}

	clone := tr.terminate(func(a *models.TaskAssignment) {
		a.Status = models.TaskStatusCompleted
		a.Progress = 1
		if result.Output != nil {
			if a.Metadata == nil {
				a.Metadata = make(map[string]any, 1)
			}
			a.Metadata["output"] = result.Output
		}
	})
	if clone == nil {
		return nil, faults.Precondition("assignment %q is already terminal", assignmentID)
	}

	durationMs := float64(clone.CompletedAt.Sub(clone.AssignedAt).Microseconds()) / 1000
	m.mu.Lock()
	m.drop(clone)
	m.avgDurationMs = models.IncrementalMean(m.avgDurationMs, durationMs, int(m.completed))
	m.completed++
	if result.Success {
		m.successes++
	}
	m.mu.Unlock()

	m.persistBestEffort(ctx, clone)
	m.emit(ctx, models.Event{
		Type:     events.EventTypeTaskCompleted,
		Severity: models.SeverityInfo,
		Source:   "assignment",
		AgentID:  clone.AgentID,
		TaskID:   clone.Task.TaskID,
		Metadata: map[string]any{
			"assignment_id": clone.ID,
			"success":       result.Success,
			"quality":       result.Quality,
			"latency_ms":    result.LatencyMs,
			"duration_ms":   durationMs,
		},
	})
	return clone, nil
}

// FailAssignment terminates an assignment with an error. The returned
// flag reports whether the task still has attempts left and the caller
// should requeue it; in that case the failure counts as a reassignment,
// not a final failure.
func (m *Manager) FailAssignment(ctx context.Context, assignmentID, errMsg string, canRetry bool) (*models.TaskAssignment, bool, error) {
	tr, err := m.lookup(assignmentID)
	if err != nil {
		return nil, false, err
	}

	clone := tr.terminate(func(a *models.TaskAssignment) {
		a.Status = models.TaskStatusFailed
		a.ErrorMessage = errMsg
		a.ErrorCode = "agent_failure"
	})
	if clone == nil {
		return nil, false, faults.Precondition("assignment %q is already terminal", assignmentID)
	}

	willRetry := canRetry && clone.Task.Attempts+1 < clone.Task.MaxAttempts
	m.mu.Lock()
	m.drop(clone)
	if willRetry {
		m.reassigned++
	} else {
		m.failed++
	}
	m.mu.Unlock()

	m.persistBestEffort(ctx, clone)
	m.emit(ctx, models.Event{
		Type:     events.EventTypeTaskFailed,
		Severity: models.SeverityWarn,
		Source:   "assignment",
		AgentID:  clone.AgentID,
		TaskID:   clone.Task.TaskID,
		Metadata: map[string]any{
			"assignment_id": clone.ID,
			"error":         errMsg,
			"will_retry":    willRetry,
		},
	})
	return clone, willRetry, nil
}

// TimeoutAssignment terminates an assignment as timed out.
func (m *Manager) TimeoutAssignment(ctx context.Context, assignmentID string) (*models.TaskAssignment, error) {
	tr, err := m.lookup(assignmentID)
	if err != nil {
		return nil, err
	}
	clone := m.timeoutTracked(ctx, tr)
	if clone == nil {
		return nil, faults.Precondition("assignment %q is already terminal", assignmentID)
	}
	return clone, nil
}

// GetAssignment returns a clone of a live assignment.
func (m *Manager) GetAssignment(assignmentID string) (*models.TaskAssignment, error) {
	tr, err := m.lookup(assignmentID)
	if err != nil {
		return nil, err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.assignment.Clone(), nil
}

// GetAssignmentByTask returns the live assignment for a task id.
func (m *Manager) GetAssignmentByTask(taskID string) (*models.TaskAssignment, error) {
	m.mu.RLock()
	id, ok := m.byTask[taskID]
	m.mu.RUnlock()
	if !ok {
		return nil, faults.NotFound("no active assignment for task %q", taskID)
	}
	return m.GetAssignment(id)
}

// ActiveCount returns the number of live assignments.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Stats snapshots the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalCreated:      m.totalCreated,
		Active:            len(m.byID),
		Completed:         m.completed,
		Failed:            m.failed,
		TimedOut:          m.timedOut,
		Reassigned:        m.reassigned,
		AverageDurationMs: m.avgDurationMs,
	}
	if terminal := m.completed + m.failed + m.timedOut; terminal > 0 {
		stats.SuccessRate = float64(m.successes) / float64(terminal)
	}
	return stats
}

// Shutdown fails every active assignment and waits for the watchdog
// goroutines to drain. Further CreateAssignment calls are rejected.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.draining = true
	active := make([]*tracked, 0, len(m.byID))
	for _, tr := range m.byID {
		active = append(active, tr)
	}
	m.mu.Unlock()

	for _, tr := range active {
		clone := tr.terminate(func(a *models.TaskAssignment) {
			a.Status = models.TaskStatusFailed
			a.ErrorMessage = "System shutdown"
			a.ErrorCode = "shutdown"
		})
		if clone == nil {
			continue
		}
		m.mu.Lock()
		m.drop(clone)
		m.failed++
		m.mu.Unlock()

		m.persistBestEffort(ctx, clone)
		m.emit(ctx, models.Event{
			Type:     events.EventTypeTaskFailed,
			Severity: models.SeverityWarn,
			Source:   "assignment",
			AgentID:  clone.AgentID,
			TaskID:   clone.Task.TaskID,
			Metadata: map[string]any{
				"assignment_id": clone.ID,
				"error":         "System shutdown",
			},
		})
	}
	m.wg.Wait()
	slog.Info("Assignment manager stopped", "failed_on_shutdown", len(active))
}

// watch polls an acknowledged assignment for deadline overrun. Exits
// when the assignment reaches a terminal state or the watchdog declares
// a timeout itself.
func (m *Manager) watch(tr *tracked) {
	defer m.wg.Done()
	for {
		select {
		case <-tr.stopWatch:
			return
		case <-tr.watchdog.C:
			if m.checkOverdue(tr) {
				return
			}
		}
	}
}

// checkOverdue fires a timeout when the deadline has passed. Returns
// true when the watchdog should exit.
func (m *Manager) checkOverdue(tr *tracked) bool {
	tr.mu.Lock()
	if tr.terminal {
		tr.mu.Unlock()
		return true
	}
	overdue := time.Now().After(tr.assignment.Deadline)
	tr.mu.Unlock()
	if !overdue {
		return false
	}
	m.timeoutTracked(context.Background(), tr)
	return true
}

// timeoutTracked is the shared timeout path for the public op and the
// watchdog. Returns nil when the assignment was already terminal.
func (m *Manager) timeoutTracked(ctx context.Context, tr *tracked) *models.TaskAssignment {
	clone := tr.terminate(func(a *models.TaskAssignment) {
		a.Status = models.TaskStatusTimeout
		a.ErrorMessage = "Assignment deadline exceeded"
		a.ErrorCode = "timeout"
	})
	if clone == nil {
		return nil
	}

	m.mu.Lock()
	m.drop(clone)
	m.timedOut++
	m.mu.Unlock()

	m.persistBestEffort(ctx, clone)
	m.emit(ctx, models.Event{
		Type:     events.EventTypeTaskTimeout,
		Severity: models.SeverityWarn,
		Source:   "assignment",
		AgentID:  clone.AgentID,
		TaskID:   clone.Task.TaskID,
		Metadata: map[string]any{"assignment_id": clone.ID},
	})
	if tr.hooks.OnTimeout != nil {
		tr.hooks.OnTimeout(clone)
	}
	return clone
}

// ackTimeoutFire runs when the agent never acknowledged in time. The
// acked-check and the terminal transition share one critical section so
// a racing Acknowledge cannot slip between them. The failure counts as
// a reassignment when attempts remain.
func (m *Manager) ackTimeoutFire(tr *tracked) {
	tr.mu.Lock()
	if tr.terminal || tr.assignment.AcknowledgedAt != nil {
		tr.mu.Unlock()
		return
	}
	tr.terminal = true
	now := time.Now().UTC()
	tr.assignment.CompletedAt = &now
	tr.assignment.Status = models.TaskStatusFailed
	tr.assignment.ErrorMessage = "Acknowledgment timeout"
	tr.assignment.ErrorCode = "ack_timeout"
	tr.stopTimersLocked()
	clone := tr.assignment.Clone()
	tr.mu.Unlock()

	willRetry := clone.Task.Attempts+1 < clone.Task.MaxAttempts
	m.mu.Lock()
	m.drop(clone)
	if willRetry {
		m.reassigned++
	} else {
		m.failed++
	}
	m.mu.Unlock()

	ctx := context.Background()
	m.persistBestEffort(ctx, clone)
	m.emit(ctx, models.Event{
		Type:     events.EventTypeTaskFailed,
		Severity: models.SeverityWarn,
		Source:   "assignment",
		AgentID:  clone.AgentID,
		TaskID:   clone.Task.TaskID,
		Metadata: map[string]any{
			"assignment_id": clone.ID,
			"error":         "Acknowledgment timeout",
			"will_retry":    willRetry,
		},
	})
	if tr.hooks.OnAckTimeout != nil {
		tr.hooks.OnAckTimeout(clone, willRetry)
	}
}

// drop removes a terminal assignment from the index maps. Caller holds
// m.mu.
func (m *Manager) drop(a *models.TaskAssignment) {
	delete(m.byID, a.ID)
	delete(m.byTask, a.Task.TaskID)
}

func (m *Manager) lookup(assignmentID string) (*tracked, error) {
	m.mu.RLock()
	tr, ok := m.byID[assignmentID]
	m.mu.RUnlock()
	if !ok {
		return nil, faults.NotFound("assignment %q not found", assignmentID)
	}
	return tr, nil
}

func (m *Manager) persistBestEffort(ctx context.Context, a *models.TaskAssignment) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveAssignment(ctx, a); err != nil {
		slog.Warn("Persisting assignment failed",
			"assignment_id", a.ID,
			"error", err)
	}
}

func (m *Manager) emit(ctx context.Context, event models.Event) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(ctx, event)
}
