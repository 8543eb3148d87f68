package config

import "time"

// DispatchConfig controls the orchestrator's dispatch worker pool.
// These values control how queued tasks are polled, claimed, and routed.
type DispatchConfig struct {
	// WorkerCount is the number of dispatch goroutines. Each worker
	// independently polls the queue and routes what it claims.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is the base interval for checking the queue when empty.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// dispatches to settle during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultDispatchConfig returns the built-in dispatch defaults.
func DefaultDispatchConfig() *DispatchConfig {
	return &DispatchConfig{
		WorkerCount:             4,
		PollInterval:            250 * time.Millisecond,
		PollIntervalJitter:      100 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
