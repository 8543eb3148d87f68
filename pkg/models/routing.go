package models

import "time"

// RoutingAlternative is one non-selected candidate with its score
type RoutingAlternative struct {
	Agent  string  `json:"agent"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// RoutingDecision is the immutable record of one agent selection
type RoutingDecision struct {
	ID            string               `json:"id"`
	TaskID        string               `json:"task_id"`
	SelectedAgent string               `json:"selected_agent"`
	Confidence    float64              `json:"confidence"`
	Reason        string               `json:"reason"`
	Strategy      RoutingStrategy      `json:"strategy"`
	Alternatives  []RoutingAlternative `json:"alternatives,omitempty"`
	Timestamp     time.Time            `json:"timestamp"`
}

// RoutingOutcome reports how a routed task went, feeding the bandit and
// the registry's performance averages
type RoutingOutcome struct {
	TaskID    string  `json:"task_id"`
	AgentID   string  `json:"agent_id"`
	Success   bool    `json:"success"`
	Quality   float64 `json:"quality"`
	LatencyMs float64 `json:"latency_ms"`
}
