package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/assignment"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/queue"
)

// errNoRoute signals that a claimed task could not be placed on an agent
// this cycle. The task's disposition (requeued or failed) is already
// settled by the time it is returned; the worker only backs off.
var errNoRoute = errors.New("task could not be routed")

// WorkerStatus is a dispatch worker's current activity.
type WorkerStatus string

const (
	// WorkerStatusIdle means the worker is polling for tasks.
	WorkerStatusIdle WorkerStatus = "idle"
	// WorkerStatusWorking means the worker is routing a claimed task.
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is a point-in-time snapshot of one dispatch worker.
type WorkerHealth struct {
	ID              string       `json:"id"`
	Status          WorkerStatus `json:"status"`
	CurrentTaskID   string       `json:"current_task_id,omitempty"`
	TasksDispatched int          `json:"tasks_dispatched"`
	LastActivity    time.Time    `json:"last_activity"`
}

// dispatcher runs a fixed pool of workers that drain the queue and bind
// tasks to agents through the router and assignment manager.
type dispatcher struct {
	cfg *config.DispatchConfig
	orc *Orchestrator

	mu      sync.Mutex
	workers []*dispatchWorker
	started bool
}

func newDispatcher(orc *Orchestrator, cfg *config.DispatchConfig) *dispatcher {
	return &dispatcher{cfg: cfg, orc: orc}
}

// Start launches the configured number of workers. Idempotent.
func (d *dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		slog.Warn("Dispatch pool already started")
		return
	}
	d.started = true

	for i := 0; i < d.cfg.WorkerCount; i++ {
		w := newDispatchWorker(fmt.Sprintf("dispatch-worker-%d", i), d.orc, d.cfg)
		d.workers = append(d.workers, w)
		w.Start(ctx)
	}
	slog.Info("Dispatch pool started", "workers", len(d.workers))
}

// Stop signals every worker and waits for in-flight dispatches to settle.
func (d *dispatcher) Stop() {
	d.mu.Lock()
	workers := d.workers
	d.started = false
	d.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	slog.Info("Dispatch pool stopped")
}

// Health snapshots every worker.
func (d *dispatcher) Health() []WorkerHealth {
	d.mu.Lock()
	workers := d.workers
	d.mu.Unlock()

	out := make([]WorkerHealth, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Health())
	}
	return out
}

// dispatchWorker polls the queue and routes what it claims. Each worker is
// independent; contention on the queue is resolved by the queue's own lock.
type dispatchWorker struct {
	id  string
	orc *Orchestrator
	cfg *config.DispatchConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu              sync.RWMutex
	status          WorkerStatus
	currentTaskID   string
	tasksDispatched int
	lastActivity    time.Time
}

func newDispatchWorker(id string, orc *Orchestrator, cfg *config.DispatchConfig) *dispatchWorker {
	return &dispatchWorker{
		id:           id,
		orc:          orc,
		cfg:          cfg,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start launches the worker's poll loop.
func (w *dispatchWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	slog.Debug("Dispatch worker started", "worker_id", w.id)
}

// Stop signals the worker and waits for its current dispatch to finish.
func (w *dispatchWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()
	slog.Debug("Dispatch worker stopped", "worker_id", w.id)
}

// Health returns a snapshot of the worker's state.
func (w *dispatchWorker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:              w.id,
		Status:          w.status,
		CurrentTaskID:   w.currentTaskID,
		TasksDispatched: w.tasksDispatched,
		LastActivity:    w.lastActivity,
	}
}

func (w *dispatchWorker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			if err := w.dispatchNext(ctx); err != nil {
				if errors.Is(err, queue.ErrNoTasksAvailable) || errors.Is(err, errNoRoute) {
					w.sleep(w.pollInterval())
					continue
				}
				slog.Error("Dispatch cycle failed", "worker_id", w.id, "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// dispatchNext claims one task and routes it.
func (w *dispatchWorker) dispatchNext(ctx context.Context) error {
	task, err := w.orc.queue.Dequeue(ctx)
	if err != nil {
		return err
	}

	w.setStatus(WorkerStatusWorking, task.TaskID)
	defer w.setStatus(WorkerStatusIdle, "")

	if err := w.orc.dispatch(ctx, task); err != nil {
		return err
	}

	w.mu.Lock()
	w.tasksDispatched++
	w.mu.Unlock()
	return nil
}

// sleep waits for the duration unless the worker is stopped first.
func (w *dispatchWorker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the base interval with jitter applied so idle
// workers do not stampede the queue lock in lockstep.
func (w *dispatchWorker) pollInterval() time.Duration {
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return w.cfg.PollInterval
	}
	return w.cfg.PollInterval - jitter + time.Duration(rand.Int64N(int64(2*jitter)))
}

func (w *dispatchWorker) setStatus(status WorkerStatus, taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}

// dispatch routes one claimed task and opens an assignment on the selected
// agent. Routing or assignment failure settles the task immediately:
// requeued when attempts remain, failed otherwise.
func (o *Orchestrator) dispatch(ctx context.Context, task *models.Task) error {
	decision, err := o.router.RouteTask(ctx, task)
	if err != nil {
		return o.placementFailed(ctx, task, err)
	}

	a, err := o.assignments.CreateAssignment(ctx, task, decision, o.assignmentHooks())
	if err != nil {
		return o.placementFailed(ctx, task, err)
	}

	if err := o.queue.UpdateTaskStatus(ctx, task.TaskID, models.TaskStatusAssigned, ""); err != nil {
		slog.Warn("Marking task assigned failed", "task_id", task.TaskID, "error", err)
	}
	o.trackAssigned(ctx, a.AgentID)

	slog.Info("Task dispatched",
		"task_id", task.TaskID,
		"agent_id", a.AgentID,
		"assignment_id", a.ID,
		"attempt", task.Attempts+1)
	return nil
}

// placementFailed requeues the task for another attempt when its budget
// allows, otherwise fails it. Always returns errNoRoute so the calling
// worker backs off instead of spinning on a starved registry.
func (o *Orchestrator) placementFailed(ctx context.Context, task *models.Task, cause error) error {
	if task.Attempts+1 < task.MaxAttempts {
		if _, err := o.queue.Requeue(ctx, task, task.Attempts+1); err != nil {
			slog.Error("Requeueing unplaced task failed", "task_id", task.TaskID, "error", err)
			o.markTask(ctx, task.TaskID, models.TaskStatusFailed, cause.Error())
			return errNoRoute
		}
		slog.Warn("Task placement failed, requeued",
			"task_id", task.TaskID,
			"attempt", task.Attempts+1,
			"max_attempts", task.MaxAttempts,
			"error", cause)
		return errNoRoute
	}

	o.markTask(ctx, task.TaskID, models.TaskStatusFailed, cause.Error())
	slog.Warn("Task placement failed, attempts exhausted",
		"task_id", task.TaskID,
		"attempts", task.Attempts+1,
		"error", cause)
	return errNoRoute
}

// assignmentHooks wires assignment-manager timer callbacks back into the
// orchestrator. Both hooks run on timer goroutines after the assignment is
// terminal, so they use a background context rather than a request's.
func (o *Orchestrator) assignmentHooks() *assignment.Hooks {
	return &assignment.Hooks{
		OnAckTimeout: func(a *models.TaskAssignment, willRetry bool) {
			ctx := context.Background()
			o.releaseAgent(ctx, a.AgentID)
			o.feedOutcome(ctx, a, false, 0, 0)
			if willRetry {
				if _, err := o.queue.Requeue(ctx, a.Task, a.Task.Attempts+1); err != nil {
					slog.Error("Requeueing after acknowledgment timeout failed",
						"task_id", a.Task.TaskID, "error", err)
					o.markTask(ctx, a.Task.TaskID, models.TaskStatusFailed, "Acknowledgment timeout")
				}
				return
			}
			o.markTask(ctx, a.Task.TaskID, models.TaskStatusFailed, "Acknowledgment timeout")
		},
		OnTimeout: func(a *models.TaskAssignment) {
			ctx := context.Background()
			o.releaseAgent(ctx, a.AgentID)
			o.feedOutcome(ctx, a, false, 0, 0)
			o.markTask(ctx, a.Task.TaskID, models.TaskStatusTimeout, "Assignment deadline exceeded")
		},
	}
}

// markTask updates queue-side task status, tolerating tasks that already
// left the queue's live view.
func (o *Orchestrator) markTask(ctx context.Context, taskID string, status models.TaskStatus, errMsg string) {
	if err := o.queue.UpdateTaskStatus(ctx, taskID, status, errMsg); err != nil {
		slog.Debug("Updating task status failed",
			"task_id", taskID,
			"status", status,
			"error", err)
	}
}
