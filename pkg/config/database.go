package config

// DatabaseConfig toggles durable persistence. Connection details come from
// DB_* environment variables (see pkg/store); every subsystem runs
// memory-only when persistence is off.
type DatabaseConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultDatabaseConfig returns the built-in database defaults.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{Enabled: false}
}
