package assignment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// fakeStore records saves and can be told to fail them.
type fakeStore struct {
	mu      sync.Mutex
	saved   []*models.TaskAssignment
	saveErr error
}

func (f *fakeStore) SaveAssignment(_ context.Context, a *models.TaskAssignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, a.Clone())
	return nil
}

// recordingEmitter captures emitted events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingEmitter) Emit(_ context.Context, event models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) byType(eventType string) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func testTask(id string) *models.Task {
	return &models.Task{
		TaskID:      id,
		Type:        models.TaskTypeCodeEditing,
		MaxAttempts: 3,
		CreatedAt:   time.Now().UTC(),
	}
}

func testDecision(taskID, agentID string) *models.RoutingDecision {
	return &models.RoutingDecision{
		ID:            "route-" + taskID,
		TaskID:        taskID,
		SelectedAgent: agentID,
		Confidence:    0.9,
		Strategy:      models.RoutingStrategyBandit,
		Timestamp:     time.Now().UTC(),
	}
}

func create(t *testing.T, m *Manager, taskID string) *models.TaskAssignment {
	t.Helper()
	a, err := m.CreateAssignment(context.Background(), testTask(taskID), testDecision(taskID, "agent-1"), nil)
	require.NoError(t, err)
	return a
}

func TestManager_CreateAssignmentDefaults(t *testing.T) {
	cfg := config.DefaultAssignmentConfig()
	m := NewManager(cfg, nil, nil)

	task := testTask("task-1")
	a, err := m.CreateAssignment(context.Background(), task, testDecision("task-1", "agent-1"), nil)
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "agent-1", a.AgentID)
	assert.Equal(t, models.TaskStatusAssigned, a.Status)
	assert.False(t, a.AssignedAt.IsZero())
	assert.Equal(t, a.AssignedAt.Add(cfg.MaxAssignmentDuration), a.Deadline)
	assert.Nil(t, a.AcknowledgedAt)
	assert.Zero(t, a.Progress)

	// The manager keeps its own copy of the task.
	task.Description = "mutated by caller"
	fetched, err := m.GetAssignment(a.ID)
	require.NoError(t, err)
	assert.Empty(t, fetched.Task.Description)

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.TotalCreated)
	assert.Equal(t, 1, stats.Active)
}

func TestManager_CreateAssignmentValidation(t *testing.T) {
	m := NewManager(config.DefaultAssignmentConfig(), nil, nil)
	ctx := context.Background()

	_, err := m.CreateAssignment(ctx, nil, testDecision("task-1", "agent-1"), nil)
	assert.True(t, faults.Is(err, faults.KindPrecondition))

	_, err = m.CreateAssignment(ctx, testTask("task-1"), nil, nil)
	assert.True(t, faults.Is(err, faults.KindPrecondition))
}

func TestManager_CreateAssignmentDuplicateTask(t *testing.T) {
	m := NewManager(config.DefaultAssignmentConfig(), nil, nil)
	create(t, m, "task-1")

	_, err := m.CreateAssignment(context.Background(), testTask("task-1"), testDecision("task-1", "agent-2"), nil)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindPrecondition))
	assert.Contains(t, err.Error(), "already has assignment")
}

func TestManager_CreateAssignmentPersistFailureRollsBack(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("connection refused")}
	m := NewManager(config.DefaultAssignmentConfig(), store, nil)

	_, err := m.CreateAssignment(context.Background(), testTask("task-1"), testDecision("task-1", "agent-1"), nil)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindTransientIO))

	stats := m.Stats()
	assert.Zero(t, stats.TotalCreated)
	assert.Zero(t, stats.Active)
	_, err = m.GetAssignmentByTask("task-1")
	assert.True(t, faults.Is(err, faults.KindNotFound))
}

func TestManager_Acknowledge(t *testing.T) {
	cfg := config.DefaultAssignmentConfig()
	m := NewManager(cfg, nil, nil)
	defer m.Shutdown(context.Background())
	a := create(t, m, "task-1")
	ctx := context.Background()

	require.NoError(t, m.Acknowledge(ctx, a.ID))

	acked, err := m.GetAssignment(a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusExecuting, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)
	require.NotNil(t, acked.StartedAt)
	assert.Equal(t, acked.StartedAt.Add(cfg.MaxAssignmentDuration), acked.Deadline,
		"deadline restarts from acknowledgment")

	err = m.Acknowledge(ctx, a.ID)
	assert.True(t, faults.Is(err, faults.KindPrecondition))

	err = m.Acknowledge(ctx, "assign-missing")
	assert.True(t, faults.Is(err, faults.KindNotFound))
}

func TestManager_AckTimeoutReassignsWhenAttemptsRemain(t *testing.T) {
	cfg := config.DefaultAssignmentConfig()
	cfg.AcknowledgmentTimeout = 20 * time.Millisecond
	m := NewManager(cfg, nil, nil)

	fired := make(chan bool, 1)
	hooks := &Hooks{OnAckTimeout: func(_ *models.TaskAssignment, willRetry bool) { fired <- willRetry }}
	_, err := m.CreateAssignment(context.Background(), testTask("task-1"), testDecision("task-1", "agent-1"), hooks)
	require.NoError(t, err)

	select {
	case willRetry := <-fired:
		assert.True(t, willRetry, "attempts 0 of 3 leaves room to retry")
	case <-time.After(2 * time.Second):
		t.Fatal("ack timeout hook never fired")
	}

	stats := m.Stats()
	assert.Zero(t, stats.Active)
	assert.Equal(t, uint64(1), stats.Reassigned)
	assert.Zero(t, stats.Failed)
}

func TestManager_AckTimeoutFailsOnLastAttempt(t *testing.T) {
	cfg := config.DefaultAssignmentConfig()
	cfg.AcknowledgmentTimeout = 20 * time.Millisecond
	m := NewManager(cfg, nil, nil)

	task := testTask("task-1")
	task.Attempts = 2 // third and final attempt
	_, err := m.CreateAssignment(context.Background(), task, testDecision("task-1", "agent-1"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Stats().Failed == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, m.Stats().Reassigned)
}

func TestManager_AcknowledgeCancelsAckTimer(t *testing.T) {
	cfg := config.DefaultAssignmentConfig()
	cfg.AcknowledgmentTimeout = 40 * time.Millisecond
	m := NewManager(cfg, nil, nil)
	defer m.Shutdown(context.Background())
	a := create(t, m, "task-1")

	require.NoError(t, m.Acknowledge(context.Background(), a.ID))
	time.Sleep(3 * cfg.AcknowledgmentTimeout)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Active, "acknowledged assignment survives the ack deadline")
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Reassigned)
}

func TestManager_UpdateProgress(t *testing.T) {
	m := NewManager(config.DefaultAssignmentConfig(), nil, nil)
	defer m.Shutdown(context.Background())
	a := create(t, m, "task-1")
	ctx := context.Background()

	err := m.UpdateProgress(ctx, a.ID, 0.5, nil, nil)
	require.Error(t, err, "progress before acknowledgment is rejected")
	assert.Contains(t, err.Error(), "not acknowledged")

	require.NoError(t, m.Acknowledge(ctx, a.ID))

	validating := models.TaskStatusValidating
	require.NoError(t, m.UpdateProgress(ctx, a.ID, 0.5, &validating, map[string]any{"phase": "tests"}))

	got, err := m.GetAssignment(a.ID)
	require.NoError(t, err)
	assert.InEpsilon(t, 0.5, got.Progress, 1e-9)
	assert.Equal(t, models.TaskStatusValidating, got.Status)
	assert.Equal(t, "tests", got.Metadata["phase"])

	completed := models.TaskStatusCompleted
	err = m.UpdateProgress(ctx, a.ID, 0.9, &completed, nil)
	assert.True(t, faults.Is(err, faults.KindPrecondition), "terminal status is not a progress update")
}

func TestManager_UpdateProgressClampsOutOfRange(t *testing.T) {
	m := NewManager(config.DefaultAssignmentConfig(), nil, nil)
	defer m.Shutdown(context.Background())
	a := create(t, m, "task-1")
	ctx := context.Background()
	require.NoError(t, m.Acknowledge(ctx, a.ID))

	require.NoError(t, m.UpdateProgress(ctx, a.ID, 1.5, nil, nil))
	got, err := m.GetAssignment(a.ID)
	require.NoError(t, err)
	assert.InEpsilon(t, 1.0, got.Progress, 1e-9)

	require.NoError(t, m.UpdateProgress(ctx, a.ID, -0.2, nil, nil))
	got, err = m.GetAssignment(a.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Progress)
}

func TestManager_CompleteAssignment(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(config.DefaultAssignmentConfig(), store, nil)
	a := create(t, m, "task-1")
	ctx := context.Background()
	require.NoError(t, m.Acknowledge(ctx, a.ID))

	done, err := m.CompleteAssignment(ctx, a.ID, models.AssignmentResult{
		Success: true, Quality: 0.9, LatencyMs: 1200,
		Output: map[string]any{"files_changed": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, done.Status)
	assert.InEpsilon(t, 1.0, done.Progress, 1e-9)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, map[string]any{"files_changed": 3}, done.Metadata["output"])

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Zero(t, stats.Active)
	assert.InEpsilon(t, 1.0, stats.SuccessRate, 1e-9)
	assert.Positive(t, stats.AverageDurationMs)

	// Terminal means gone: no further transition is reachable.
	_, err = m.CompleteAssignment(ctx, a.ID, models.AssignmentResult{})
	assert.True(t, faults.Is(err, faults.KindNotFound))
	_, _, err = m.FailAssignment(ctx, a.ID, "late failure", true)
	assert.True(t, faults.Is(err, faults.KindNotFound))
	err = m.UpdateProgress(ctx, a.ID, 0.1, nil, nil)
	assert.True(t, faults.Is(err, faults.KindNotFound))
}

func TestManager_FailAssignmentRetryPaths(t *testing.T) {
	m := NewManager(config.DefaultAssignmentConfig(), nil, nil)
	ctx := context.Background()

	// Attempts remain: counted as a reassignment.
	a1 := create(t, m, "task-1")
	failed, willRetry, err := m.FailAssignment(ctx, a1.ID, "agent crashed", true)
	require.NoError(t, err)
	assert.True(t, willRetry)
	assert.Equal(t, models.TaskStatusFailed, failed.Status)
	assert.Equal(t, "agent crashed", failed.ErrorMessage)

	// Final attempt: counted as a failure.
	exhausted := testTask("task-2")
	exhausted.Attempts = 2
	a2, err := m.CreateAssignment(ctx, exhausted, testDecision("task-2", "agent-1"), nil)
	require.NoError(t, err)
	_, willRetry, err = m.FailAssignment(ctx, a2.ID, "agent crashed", true)
	require.NoError(t, err)
	assert.False(t, willRetry)

	// Caller forbids retry regardless of attempts.
	a3 := create(t, m, "task-3")
	_, willRetry, err = m.FailAssignment(ctx, a3.ID, "unrecoverable", false)
	require.NoError(t, err)
	assert.False(t, willRetry)

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Reassigned)
	assert.Equal(t, uint64(2), stats.Failed)
	assert.Zero(t, stats.SuccessRate)
}

func TestManager_WatchdogTimesOutStalledAssignment(t *testing.T) {
	cfg := config.DefaultAssignmentConfig()
	cfg.ProgressCheckInterval = 10 * time.Millisecond
	cfg.MaxAssignmentDuration = 30 * time.Millisecond
	m := NewManager(cfg, nil, nil)

	timedOut := make(chan string, 1)
	hooks := &Hooks{OnTimeout: func(a *models.TaskAssignment) { timedOut <- a.ID }}
	a, err := m.CreateAssignment(context.Background(), testTask("task-1"), testDecision("task-1", "agent-1"), hooks)
	require.NoError(t, err)
	require.NoError(t, m.Acknowledge(context.Background(), a.ID))

	select {
	case id := <-timedOut:
		assert.Equal(t, a.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never declared a timeout")
	}

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.TimedOut)
	assert.Zero(t, stats.Active)
}

func TestManager_ProgressDoesNotExtendDeadline(t *testing.T) {
	cfg := config.DefaultAssignmentConfig()
	cfg.ProgressCheckInterval = 10 * time.Millisecond
	cfg.MaxAssignmentDuration = 50 * time.Millisecond
	m := NewManager(cfg, nil, nil)
	a := create(t, m, "task-1")
	ctx := context.Background()
	require.NoError(t, m.Acknowledge(ctx, a.ID))

	// Steady progress updates reset the check phase but never the
	// deadline itself.
	for range 4 {
		time.Sleep(8 * time.Millisecond)
		_ = m.UpdateProgress(ctx, a.ID, 0.2, nil, nil)
	}

	require.Eventually(t, func() bool {
		return m.Stats().TimedOut == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_TimeoutAssignmentOp(t *testing.T) {
	m := NewManager(config.DefaultAssignmentConfig(), nil, nil)
	a := create(t, m, "task-1")

	out, err := m.TimeoutAssignment(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusTimeout, out.Status)
	assert.Equal(t, "timeout", out.ErrorCode)
	assert.Equal(t, uint64(1), m.Stats().TimedOut)

	_, err = m.TimeoutAssignment(context.Background(), a.ID)
	assert.True(t, faults.Is(err, faults.KindNotFound))
}

func TestManager_GetAssignmentByTask(t *testing.T) {
	m := NewManager(config.DefaultAssignmentConfig(), nil, nil)
	a := create(t, m, "task-1")

	got, err := m.GetAssignmentByTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = m.GetAssignmentByTask("task-unknown")
	assert.True(t, faults.Is(err, faults.KindNotFound))
}

func TestManager_Shutdown(t *testing.T) {
	emitter := &recordingEmitter{}
	m := NewManager(config.DefaultAssignmentConfig(), nil, emitter)
	ctx := context.Background()

	create(t, m, "task-1")
	a2 := create(t, m, "task-2")
	require.NoError(t, m.Acknowledge(ctx, a2.ID))

	m.Shutdown(ctx)

	stats := m.Stats()
	assert.Zero(t, stats.Active)
	assert.Equal(t, uint64(2), stats.Failed)

	failures := emitter.byType(events.EventTypeTaskFailed)
	require.Len(t, failures, 2)
	for _, e := range failures {
		assert.Equal(t, "System shutdown", e.Metadata["error"])
	}

	_, err := m.CreateAssignment(ctx, testTask("task-3"), testDecision("task-3", "agent-1"), nil)
	assert.True(t, faults.Is(err, faults.KindPrecondition))
}

func TestManager_StatsInvariant(t *testing.T) {
	m := NewManager(config.DefaultAssignmentConfig(), nil, nil)
	ctx := context.Background()

	a1 := create(t, m, "task-1")
	a2 := create(t, m, "task-2")
	a3 := create(t, m, "task-3")
	a4 := create(t, m, "task-4")
	create(t, m, "task-5")

	_, err := m.CompleteAssignment(ctx, a1.ID, models.AssignmentResult{Success: true})
	require.NoError(t, err)
	_, _, err = m.FailAssignment(ctx, a2.ID, "crash", true)
	require.NoError(t, err)
	_, _, err = m.FailAssignment(ctx, a3.ID, "crash", false)
	require.NoError(t, err)
	_, err = m.TimeoutAssignment(ctx, a4.ID)
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, stats.TotalCreated,
		stats.Completed+stats.Failed+stats.TimedOut+stats.Reassigned+uint64(stats.Active))
	assert.InEpsilon(t, 1.0/3.0, stats.SuccessRate, 1e-9,
		"one success across completed+failed+timed-out")
}

func TestManager_EventsEmitted(t *testing.T) {
	emitter := &recordingEmitter{}
	m := NewManager(config.DefaultAssignmentConfig(), nil, emitter)
	ctx := context.Background()

	a := create(t, m, "task-1")
	require.NoError(t, m.Acknowledge(ctx, a.ID))
	require.NoError(t, m.UpdateProgress(ctx, a.ID, 0.5, nil, nil))
	_, err := m.CompleteAssignment(ctx, a.ID, models.AssignmentResult{Success: true})
	require.NoError(t, err)

	for _, eventType := range []string{
		events.EventTypeTaskAssigned,
		events.EventTypeTaskAcknowledged,
		events.EventTypeTaskProgress,
		events.EventTypeTaskCompleted,
	} {
		matched := emitter.byType(eventType)
		require.Len(t, matched, 1, eventType)
		assert.Equal(t, "task-1", matched[0].TaskID)
		assert.Equal(t, "agent-1", matched[0].AgentID)
	}
}

func TestManager_PersistsLifecycle(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(config.DefaultAssignmentConfig(), store, nil)
	ctx := context.Background()

	a := create(t, m, "task-1")
	require.NoError(t, m.Acknowledge(ctx, a.ID))
	_, err := m.CompleteAssignment(ctx, a.ID, models.AssignmentResult{Success: true})
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.saved, 3, "create, acknowledge, complete")
	assert.Equal(t, models.TaskStatusAssigned, store.saved[0].Status)
	assert.Equal(t, models.TaskStatusExecuting, store.saved[1].Status)
	assert.Equal(t, models.TaskStatusCompleted, store.saved[2].Status)
}

func TestManager_ConcurrentLifecycles(t *testing.T) {
	m := NewManager(config.DefaultAssignmentConfig(), nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			taskID := fmt.Sprintf("task-%d", i)
			a, err := m.CreateAssignment(ctx, testTask(taskID), testDecision(taskID, "agent-1"), nil)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, m.Acknowledge(ctx, a.ID))
			assert.NoError(t, m.UpdateProgress(ctx, a.ID, 0.5, nil, nil))
			_, err = m.CompleteAssignment(ctx, a.ID, models.AssignmentResult{Success: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats := m.Stats()
	assert.Equal(t, uint64(20), stats.TotalCreated)
	assert.Equal(t, uint64(20), stats.Completed)
	assert.Zero(t, stats.Active)
}
