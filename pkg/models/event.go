package models

import "time"

// Event is one structured occurrence published on the event bus
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	Severity      EventSeverity  `json:"severity"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	AgentID       string         `json:"agent_id,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
