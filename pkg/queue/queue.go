package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/fairlock"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/security"
)

// statusRank orders task statuses for the monotonic-transition check.
// Terminal statuses share the top rank.
var statusRank = map[models.TaskStatus]int{
	models.TaskStatusQueued:     0,
	models.TaskStatusRouting:    1,
	models.TaskStatusAssigned:   2,
	models.TaskStatusExecuting:  3,
	models.TaskStatusValidating: 4,
	models.TaskStatusCompleted:  5,
	models.TaskStatusFailed:     5,
	models.TaskStatusTimeout:    5,
	models.TaskStatusCanceled:   5,
}

func isTerminal(s models.TaskStatus) bool {
	return statusRank[s] == 5
}

// Queue is the bounded task queue. The heap holds pending tasks; the task
// map tracks every live (non-terminal) task so status updates and lookups
// work after dequeue. Terminal transitions evict from the map.
type Queue struct {
	cfg     *config.QueueConfig
	store   TaskStore
	guard   *security.Context
	emitter events.Emitter

	lock  *fairlock.Mutex
	heap  taskHeap
	tasks map[string]*item
	seq   uint64

	maxDepth       int
	totalEnqueued  uint64
	totalDequeued  uint64
	totalCancelled uint64
	averageWaitMs  float64
	priorityHist   map[int]int
}

// NewQueue creates an empty queue. store and guard may be nil.
func NewQueue(cfg *config.QueueConfig, store TaskStore, guard *security.Context, emitter events.Emitter) *Queue {
	return &Queue{
		cfg:          cfg,
		store:        store,
		guard:        guard,
		emitter:      emitter,
		lock:         fairlock.New(),
		tasks:        make(map[string]*item),
		priorityHist: make(map[int]int),
	}
}

// Replay loads all persisted tasks still in 'queued' status, in
// (priority DESC, created_at ASC) order. Called once at startup.
func (q *Queue) Replay(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	states, err := q.store.LoadQueuedTasks(ctx)
	if err != nil {
		return faults.TransientIO("replaying queued tasks").Wrap(err)
	}

	if err := q.lock.Lock(ctx); err != nil {
		return err
	}
	defer q.lock.Unlock()

	now := time.Now().UTC()
	for _, state := range states {
		if _, exists := q.tasks[state.Task.TaskID]; exists {
			continue
		}
		q.insertLocked(state.Clone(), now)
	}

	slog.Info("Task queue replayed", "depth", len(q.heap))
	return nil
}

// Enqueue admits one task, defaulting unspecified fields, and returns the
// tracked state. Rejects with a saturation fault at capacity; a failed
// store write rolls the insert back so memory and store never diverge.
func (q *Queue) Enqueue(ctx context.Context, task *models.Task) (*models.TaskState, error) {
	state, err := q.enqueue(ctx, task, 0)
	if err != nil {
		return nil, err
	}

	q.emit(ctx, models.Event{
		Type:     events.EventTypeTaskEnqueued,
		Severity: models.SeverityInfo,
		Source:   "queue",
		TaskID:   state.Task.TaskID,
		Metadata: map[string]any{
			"type":     state.Task.Type,
			"priority": state.Task.Priority,
		},
	})
	return state, nil
}

// EnqueueWithCredentials runs the security gate (submit:task) and input
// sanitation before the plain enqueue path.
func (q *Queue) EnqueueWithCredentials(ctx context.Context, task *models.Task, cred security.Credentials) (*models.TaskState, error) {
	resource := ""
	if task != nil {
		resource = task.TaskID
	}
	if err := q.guard.Authorize(ctx, cred, security.PermSubmitTask, resource); err != nil {
		return nil, err
	}
	if task != nil {
		task = task.Clone()
		task.Description = security.SanitizeText(task.Description)
	}
	return q.Enqueue(ctx, task)
}

// Requeue re-admits a task for another routing attempt, carrying the
// attempt count forward. The previous lifecycle's tracked state, if any,
// is replaced.
func (q *Queue) Requeue(ctx context.Context, task *models.Task, attempts int) (*models.TaskState, error) {
	state, err := q.enqueue(ctx, task, attempts)
	if err != nil {
		return nil, err
	}

	q.emit(ctx, models.Event{
		Type:     events.EventTypeTaskReassigned,
		Severity: models.SeverityInfo,
		Source:   "queue",
		TaskID:   state.Task.TaskID,
		Metadata: map[string]any{"attempts": attempts},
	})
	return state, nil
}

func (q *Queue) enqueue(ctx context.Context, task *models.Task, attempts int) (*models.TaskState, error) {
	if task == nil {
		return nil, faults.Precondition("task is required")
	}
	if task.Type != "" && !task.Type.IsValid() {
		return nil, faults.Precondition("unknown task type %q", task.Type)
	}

	now := time.Now().UTC()
	t := task.Clone()
	if t.TaskID == "" {
		t.TaskID = "task-" + uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.TimeoutMs <= 0 {
		t.TimeoutMs = q.cfg.DefaultTimeout.Milliseconds()
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = q.cfg.DefaultMaxAttempts
	}
	// The attempt counter is queue-owned; whatever the caller set is
	// replaced by the lifecycle this admission starts.
	t.Attempts = attempts

	state := &models.TaskState{
		Task:        t,
		Status:      models.TaskStatusQueued,
		Attempts:    attempts,
		MaxAttempts: t.MaxAttempts,
	}

	if err := q.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer q.lock.Unlock()

	if existing, ok := q.tasks[t.TaskID]; ok {
		if existing.index >= 0 {
			return nil, faults.Precondition("task %q is already queued", t.TaskID).
				With("task_id", t.TaskID)
		}
		if attempts == 0 {
			return nil, faults.Precondition("task %q is already tracked", t.TaskID).
				With("task_id", t.TaskID)
		}
		// Re-admission for a retry replaces the previous attempt's state.
		delete(q.tasks, t.TaskID)
	}
	if len(q.heap) >= q.cfg.MaxCapacity {
		return nil, faults.Saturation("queue is at capacity (%d tasks)", q.cfg.MaxCapacity)
	}

	it := q.insertLocked(state, now)
	if q.store != nil {
		if err := q.store.UpsertTask(ctx, state); err != nil {
			q.removeLocked(it)
			return nil, faults.TransientIO("persisting task %q", t.TaskID).Wrap(err)
		}
	}

	q.totalEnqueued++
	q.priorityHist[t.Priority]++
	if len(q.heap) > q.maxDepth {
		q.maxDepth = len(q.heap)
	}

	return state.Clone(), nil
}

// Dequeue pops the highest-priority task and moves it to ROUTING. Returns
// ErrNoTasksAvailable on an empty queue; the state stays tracked for
// subsequent status updates.
func (q *Queue) Dequeue(ctx context.Context) (*models.Task, error) {
	task, waitMs, err := q.dequeue(ctx)
	if err != nil {
		return nil, err
	}

	q.emit(ctx, models.Event{
		Type:     events.EventTypeTaskDequeued,
		Severity: models.SeverityInfo,
		Source:   "queue",
		TaskID:   task.TaskID,
		Metadata: map[string]any{"wait_ms": waitMs},
	})
	return task, nil
}

func (q *Queue) dequeue(ctx context.Context) (*models.Task, float64, error) {
	if err := q.lock.Lock(ctx); err != nil {
		return nil, 0, err
	}
	defer q.lock.Unlock()

	if len(q.heap) == 0 {
		return nil, 0, ErrNoTasksAvailable
	}

	it := heap.Pop(&q.heap).(*item)
	it.state.Status = models.TaskStatusRouting

	waitMs := float64(time.Since(it.state.Task.CreatedAt).Milliseconds())
	q.averageWaitMs = models.IncrementalMean(q.averageWaitMs, waitMs, int(q.totalDequeued))
	q.totalDequeued++

	q.persistStatusLocked(ctx, it.state.Task.TaskID, models.TaskStatusRouting, "")

	return it.state.Task.Clone(), waitMs, nil
}

// Peek returns the task Dequeue would pop next without removing it.
func (q *Queue) Peek(ctx context.Context) (*models.Task, error) {
	if err := q.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer q.lock.Unlock()

	if len(q.heap) == 0 {
		return nil, ErrNoTasksAvailable
	}
	return q.heap[0].state.Task.Clone(), nil
}

// Clear cancels every still-queued task and empties the heap. Tasks
// already dequeued are untouched. Returns how many were cancelled.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	cancelled, err := q.clear(ctx)
	if err != nil {
		return 0, err
	}

	for _, taskID := range cancelled {
		q.emit(ctx, models.Event{
			Type:     events.EventTypeTaskCancelled,
			Severity: models.SeverityInfo,
			Source:   "queue",
			TaskID:   taskID,
			Metadata: map[string]any{"reason": "Queue cleared"},
		})
	}
	return len(cancelled), nil
}

func (q *Queue) clear(ctx context.Context) ([]string, error) {
	if err := q.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer q.lock.Unlock()

	now := time.Now().UTC()
	cancelled := make([]string, 0, len(q.heap))
	for i, it := range q.heap {
		it.state.Status = models.TaskStatusCanceled
		it.state.LastError = "Queue cleared"
		completedAt := now
		it.state.CompletedAt = &completedAt
		it.index = -1

		taskID := it.state.Task.TaskID
		delete(q.tasks, taskID)
		q.totalCancelled++
		q.persistStatusLocked(ctx, taskID, models.TaskStatusCanceled, "Queue cleared")
		cancelled = append(cancelled, taskID)
		q.heap[i] = nil
	}
	q.heap = q.heap[:0]
	return cancelled, nil
}

// UpdateTaskStatus transitions a tracked task. Transitions are monotonic:
// moving backward or out of a terminal status is a precondition fault.
// ASSIGNED stamps StartedAt; terminal statuses stamp CompletedAt and evict
// the task from tracking.
func (q *Queue) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, errMsg string) error {
	if err := q.lock.Lock(ctx); err != nil {
		return err
	}
	defer q.lock.Unlock()

	it, ok := q.tasks[taskID]
	if !ok {
		return faults.NotFound("task %q is not tracked", taskID)
	}
	if !status.IsValid() {
		return faults.Precondition("unknown task status %q", status)
	}
	if isTerminal(it.state.Status) {
		return faults.Precondition("task %q is already %s", taskID, it.state.Status)
	}
	if statusRank[status] < statusRank[it.state.Status] {
		return faults.Precondition("task %q cannot move from %s to %s", taskID, it.state.Status, status)
	}

	now := time.Now().UTC()
	it.state.Status = status
	if errMsg != "" {
		it.state.LastError = errMsg
	}
	if status == models.TaskStatusAssigned && it.state.StartedAt == nil {
		it.state.StartedAt = &now
	}
	if isTerminal(status) {
		it.state.CompletedAt = &now
		if it.index >= 0 {
			heap.Remove(&q.heap, it.index)
		}
		delete(q.tasks, taskID)
		if status == models.TaskStatusCanceled {
			q.totalCancelled++
		}
	}

	q.persistStatusLocked(ctx, taskID, status, errMsg)
	return nil
}

// GetTaskState returns a clone of a live task's state.
func (q *Queue) GetTaskState(ctx context.Context, taskID string) (*models.TaskState, error) {
	if err := q.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer q.lock.Unlock()

	it, ok := q.tasks[taskID]
	if !ok {
		return nil, faults.NotFound("task %q is not tracked", taskID)
	}
	return it.state.Clone(), nil
}

// Tasks returns a clone of every tracked (non-terminal) task state,
// newest first.
func (q *Queue) Tasks(ctx context.Context) ([]*models.TaskState, error) {
	if err := q.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer q.lock.Unlock()

	states := make([]*models.TaskState, 0, len(q.tasks))
	for _, it := range q.tasks {
		states = append(states, it.state.Clone())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Task.CreatedAt.After(states[j].Task.CreatedAt)
	})
	return states, nil
}

// Depth returns the number of tasks waiting to be dequeued.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	if err := q.lock.Lock(ctx); err != nil {
		return 0, err
	}
	defer q.lock.Unlock()
	return len(q.heap), nil
}

// Stats snapshots the queue counters and the live status histogram.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	if err := q.lock.Lock(ctx); err != nil {
		return Stats{}, err
	}
	defer q.lock.Unlock()

	stats := Stats{
		Depth:             len(q.heap),
		MaxDepth:          q.maxDepth,
		TotalEnqueued:     q.totalEnqueued,
		TotalDequeued:     q.totalDequeued,
		TotalCancelled:    q.totalCancelled,
		AverageWaitMs:     q.averageWaitMs,
		PriorityHistogram: make(map[int]int, len(q.priorityHist)),
		StatusHistogram:   make(map[models.TaskStatus]int),
	}
	for p, n := range q.priorityHist {
		stats.PriorityHistogram[p] = n
	}
	for _, it := range q.tasks {
		stats.StatusHistogram[it.state.Status]++
	}
	return stats, nil
}

// insertLocked adds the state to the heap and task map. Caller holds the
// queue lock.
func (q *Queue) insertLocked(state *models.TaskState, now time.Time) *item {
	it := &item{
		state:     state,
		effective: effectivePriority(q.cfg.Policy, state.Task, now),
		seq:       q.seq,
	}
	q.seq++
	heap.Push(&q.heap, it)
	q.tasks[state.Task.TaskID] = it
	return it
}

// removeLocked undoes an insert after a failed store write.
func (q *Queue) removeLocked(it *item) {
	if it.index >= 0 {
		heap.Remove(&q.heap, it.index)
	}
	delete(q.tasks, it.state.Task.TaskID)
}

// persistStatusLocked writes a status change through to the store.
// Failures here log and continue; only enqueue rolls back.
func (q *Queue) persistStatusLocked(ctx context.Context, taskID string, status models.TaskStatus, errMsg string) {
	if q.store == nil {
		return
	}
	if err := q.store.UpdateTaskStatus(ctx, taskID, status, errMsg); err != nil {
		slog.Warn("Failed to persist task status", "task_id", taskID, "status", status, "error", err)
	}
}

func (q *Queue) emit(ctx context.Context, event models.Event) {
	if q.emitter == nil {
		return
	}
	q.emitter.Emit(ctx, event)
}
