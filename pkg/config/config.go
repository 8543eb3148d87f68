package config

import "github.com/darianrosebrook/agent-agency-sub007/pkg/models"

// Config is the umbrella configuration object returned by Initialize() and
// handed to the orchestrator. Every section carries complete defaults, so a
// missing arbiter.yaml yields a fully runnable configuration.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Queue       *QueueConfig
	Registry    *RegistryConfig
	Bandit      *BanditConfig
	Routing     *RoutingConfig
	Assignment  *AssignmentConfig
	Arbitration *ArbitrationConfig
	Events      *EventsConfig
	Security    *SecurityConfig
	Dispatch    *DispatchConfig
	Database    *DatabaseConfig

	// Rules holds the constitutional rules loaded from rules.yaml.
	Rules []models.ConstitutionalRule
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Rules           int
	QueueCapacity   int
	MaxSessions     int
	SecurityEnabled bool
	DatabaseEnabled bool
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{Rules: len(c.Rules)}
	if c.Queue != nil {
		s.QueueCapacity = c.Queue.MaxCapacity
	}
	if c.Arbitration != nil {
		s.MaxSessions = c.Arbitration.MaxConcurrentSessions
	}
	if c.Security != nil {
		s.SecurityEnabled = c.Security.Enabled
	}
	if c.Database != nil {
		s.DatabaseEnabled = c.Database.Enabled
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// RuleByID retrieves a constitutional rule by id
func (c *Config) RuleByID(id string) (*models.ConstitutionalRule, error) {
	for i := range c.Rules {
		if c.Rules[i].ID == id {
			return &c.Rules[i], nil
		}
	}
	return nil, ErrRuleNotFound
}
