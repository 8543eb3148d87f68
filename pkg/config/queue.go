package config

import (
	"time"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// QueueConfig controls task queue capacity and ordering.
type QueueConfig struct {
	// MaxCapacity is the maximum number of queued tasks. Enqueue beyond it
	// is rejected so producers back off instead of growing memory unbounded.
	MaxCapacity int `yaml:"max_capacity"`

	// Policy selects the ordering: fifo, priority, or deadline.
	Policy models.QueuePolicy `yaml:"policy"`

	// DefaultTimeout is applied to tasks submitted without a timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// DefaultMaxAttempts is applied to tasks submitted without a retry limit.
	DefaultMaxAttempts int `yaml:"default_max_attempts"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxCapacity:        1000,
		Policy:             models.QueuePolicyPriority,
		DefaultTimeout:     5 * time.Minute,
		DefaultMaxAttempts: 3,
	}
}
