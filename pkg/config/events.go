package config

import (
	"time"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// EventsConfig controls the in-process event bus.
type EventsConfig struct {
	// MaxEvents bounds the retained event ring; the oldest event is
	// dropped when the ring is full.
	MaxEvents int `yaml:"max_events"`

	// Retention is how long events stay in the ring before the background
	// sweep removes them.
	Retention time.Duration `yaml:"retention"`

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// DispatchMode selects cooperative (inline) or parallel handler dispatch.
	DispatchMode models.DispatchMode `yaml:"dispatch_mode"`

	// HandlerTimeout bounds one handler invocation in parallel mode.
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

// DefaultEventsConfig returns the built-in event bus defaults.
func DefaultEventsConfig() *EventsConfig {
	return &EventsConfig{
		MaxEvents:      10_000,
		Retention:      time.Hour,
		SweepInterval:  time.Minute,
		DispatchMode:   models.DispatchCooperative,
		HandlerTimeout: 5 * time.Second,
	}
}
