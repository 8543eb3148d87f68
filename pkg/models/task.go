package models

import "time"

// TaskBudget bounds the change surface an agent may touch for one task
type TaskBudget struct {
	MaxFiles int `json:"max_files"`
	MaxLoc   int `json:"max_loc"`
}

// Task is a unit of work submitted for routing and execution
type Task struct {
	TaskID               string             `json:"task_id"`
	Type                 TaskType           `json:"type"`
	Description          string             `json:"description,omitempty"`
	Priority             int                `json:"priority"`
	TimeoutMs            int64              `json:"timeout_ms"`
	Attempts             int                `json:"attempts"`
	MaxAttempts          int                `json:"max_attempts"`
	RequiredCapabilities *AgentCapabilities `json:"required_capabilities,omitempty"`
	Budget               *TaskBudget        `json:"budget,omitempty"`
	Deadline             *time.Time         `json:"deadline,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	Metadata             map[string]any     `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the task
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	if t.RequiredCapabilities != nil {
		caps := t.RequiredCapabilities.Clone()
		out.RequiredCapabilities = &caps
	}
	if t.Budget != nil {
		b := *t.Budget
		out.Budget = &b
	}
	if t.Deadline != nil {
		d := *t.Deadline
		out.Deadline = &d
	}
	if t.Metadata != nil {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// EffectiveDeadline is the explicit deadline when set, otherwise
// createdAt + timeoutMs. Deadline-policy queue ordering uses it.
func (t *Task) EffectiveDeadline() time.Time {
	if t.Deadline != nil {
		return *t.Deadline
	}
	return t.CreatedAt.Add(time.Duration(t.TimeoutMs) * time.Millisecond)
}

// TaskState is the queue's live view of a task: the task itself plus its
// status, attempt counters, and routing history. Status transitions are
// strictly monotonic toward a terminal state.
type TaskState struct {
	Task           *Task      `json:"task"`
	Status         TaskStatus `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	RoutingHistory []string   `json:"routing_history,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task state
func (s *TaskState) Clone() *TaskState {
	if s == nil {
		return nil
	}
	out := *s
	out.Task = s.Task.Clone()
	if s.RoutingHistory != nil {
		out.RoutingHistory = append([]string(nil), s.RoutingHistory...)
	}
	if s.StartedAt != nil {
		at := *s.StartedAt
		out.StartedAt = &at
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}
