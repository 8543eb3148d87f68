package config

import "time"

// AssignmentConfig controls assignment lifecycle timers.
type AssignmentConfig struct {
	// AcknowledgmentTimeout is how long an agent has to acknowledge a new
	// assignment before it is failed back for reassignment.
	AcknowledgmentTimeout time.Duration `yaml:"acknowledgment_timeout"`

	// ProgressCheckInterval is how often the watchdog checks an
	// acknowledged assignment for deadline overrun.
	ProgressCheckInterval time.Duration `yaml:"progress_check_interval"`

	// MaxAssignmentDuration bounds total execution time; the assignment
	// deadline is assignedAt + this duration.
	MaxAssignmentDuration time.Duration `yaml:"max_assignment_duration"`
}

// DefaultAssignmentConfig returns the built-in assignment defaults.
func DefaultAssignmentConfig() *AssignmentConfig {
	return &AssignmentConfig{
		AcknowledgmentTimeout: 30 * time.Second,
		ProgressCheckInterval: 30 * time.Second,
		MaxAssignmentDuration: 10 * time.Minute,
	}
}
