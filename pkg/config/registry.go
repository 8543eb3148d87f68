package config

import "time"

// RegistryConfig controls the agent registry and its stale-agent cleanup.
type RegistryConfig struct {
	// MaxAgents caps how many agents may be registered at once.
	MaxAgents int `yaml:"max_agents"`

	// MaxConcurrentTasksPerAgent is the denominator for utilization:
	// utilization = active / max_concurrent * 100, clamped to [0,100].
	MaxConcurrentTasksPerAgent int `yaml:"max_concurrent_tasks_per_agent"`

	// EnableAutoCleanup starts the background loop that evicts agents whose
	// last activity is older than StaleAgentThreshold.
	EnableAutoCleanup bool `yaml:"enable_auto_cleanup"`

	// CleanupInterval is how often the stale-agent sweep runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// StaleAgentThreshold is how long an agent may stay silent before the
	// sweep evicts it.
	StaleAgentThreshold time.Duration `yaml:"stale_agent_threshold"`
}

// DefaultRegistryConfig returns the built-in registry defaults.
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		MaxAgents:                  500,
		MaxConcurrentTasksPerAgent: 5,
		EnableAutoCleanup:          true,
		CleanupInterval:            5 * time.Minute,
		StaleAgentThreshold:        30 * time.Minute,
	}
}
