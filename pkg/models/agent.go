package models

import "time"

// AgentCapabilities is the declared capability triple of an agent
type AgentCapabilities struct {
	TaskTypes       []TaskType `json:"task_types"`
	Languages       []string   `json:"languages,omitempty"`
	Specializations []string   `json:"specializations,omitempty"`
}

// Clone returns a deep copy of the capabilities
func (c AgentCapabilities) Clone() AgentCapabilities {
	out := AgentCapabilities{}
	if c.TaskTypes != nil {
		out.TaskTypes = append([]TaskType(nil), c.TaskTypes...)
	}
	if c.Languages != nil {
		out.Languages = append([]string(nil), c.Languages...)
	}
	if c.Specializations != nil {
		out.Specializations = append([]string(nil), c.Specializations...)
	}
	return out
}

// HasTaskType reports whether the agent declares support for the task type
func (c AgentCapabilities) HasTaskType(t TaskType) bool {
	for _, have := range c.TaskTypes {
		if have == t {
			return true
		}
	}
	return false
}

// PerformanceHistory holds running per-agent statistics, updated incrementally
type PerformanceHistory struct {
	SuccessRate      float64 `json:"success_rate"`
	AverageQuality   float64 `json:"average_quality"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	TaskCount        int     `json:"task_count"`
}

// DefaultPerformanceHistory returns the optimistic priors a fresh agent
// starts with so it remains explorable before any outcomes arrive.
func DefaultPerformanceHistory() PerformanceHistory {
	return PerformanceHistory{
		SuccessRate:      0.8,
		AverageQuality:   0.7,
		AverageLatencyMs: 5000,
		TaskCount:        0,
	}
}

// AgentLoad tracks the live workload of an agent
type AgentLoad struct {
	ActiveTasks        int     `json:"active_tasks"`
	QueuedTasks        int     `json:"queued_tasks"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// AgentProfile is the registry's record of one agent. The registry owns the
// stored profile; every read outside it operates on a clone.
type AgentProfile struct {
	AgentID      string             `json:"agent_id"`
	Name         string             `json:"name"`
	ModelFamily  ModelFamily        `json:"model_family"`
	Capabilities AgentCapabilities  `json:"capabilities"`
	Performance  PerformanceHistory `json:"performance"`
	CurrentLoad  AgentLoad          `json:"current_load"`
	RegisteredAt time.Time          `json:"registered_at"`
	LastActiveAt time.Time          `json:"last_active_at"`
}

// Clone returns a deep copy safe to hand outside the registry
func (p *AgentProfile) Clone() *AgentProfile {
	if p == nil {
		return nil
	}
	out := *p
	out.Capabilities = p.Capabilities.Clone()
	return &out
}

// PerformanceUpdate carries one task outcome into the registry's running averages
type PerformanceUpdate struct {
	Success   bool    `json:"success"`
	Quality   float64 `json:"quality"`
	LatencyMs float64 `json:"latency_ms"`
}

// CapabilityQuery filters agents by capability and health thresholds.
// Nil thresholds are not applied.
type CapabilityQuery struct {
	TaskType        TaskType `json:"task_type"`
	Languages       []string `json:"languages,omitempty"`
	Specializations []string `json:"specializations,omitempty"`
	MaxUtilization  *float64 `json:"max_utilization,omitempty"`
	MinSuccessRate  *float64 `json:"min_success_rate,omitempty"`
}

// ScoredAgent is one capability-query match with its weighted match score
type ScoredAgent struct {
	Profile    *AgentProfile `json:"profile"`
	MatchScore float64       `json:"match_score"`
}
