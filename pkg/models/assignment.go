package models

import "time"

// TaskAssignment binds a task to the agent chosen for it and tracks the
// execution lifecycle until a terminal status.
type TaskAssignment struct {
	ID              string          `json:"id"`
	Task            *Task           `json:"task"`
	AgentID         string          `json:"agent_id"`
	RoutingDecision RoutingDecision `json:"routing_decision"`
	Status          TaskStatus      `json:"status"`
	AssignedAt      time.Time       `json:"assigned_at"`
	Deadline        time.Time       `json:"deadline"`
	AcknowledgedAt  *time.Time      `json:"acknowledged_at,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Progress        float64         `json:"progress"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ErrorCode       string          `json:"error_code,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// Clone returns a deep copy safe to hand outside the assignment manager
func (a *TaskAssignment) Clone() *TaskAssignment {
	if a == nil {
		return nil
	}
	out := *a
	out.Task = a.Task.Clone()
	if a.AcknowledgedAt != nil {
		at := *a.AcknowledgedAt
		out.AcknowledgedAt = &at
	}
	if a.StartedAt != nil {
		at := *a.StartedAt
		out.StartedAt = &at
	}
	if a.CompletedAt != nil {
		at := *a.CompletedAt
		out.CompletedAt = &at
	}
	if a.Metadata != nil {
		out.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// AssignmentResult carries the terminal outcome reported for an assignment
type AssignmentResult struct {
	Success   bool           `json:"success"`
	Quality   float64        `json:"quality"`
	LatencyMs float64        `json:"latency_ms"`
	Output    map[string]any `json:"output,omitempty"`
}
