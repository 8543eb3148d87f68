package config

// PrincipalConfig declares one authenticated caller. The token is read from
// an environment variable so secrets stay out of YAML.
type PrincipalConfig struct {
	// Actor is the principal's identity used in audit entries.
	Actor string `yaml:"actor"`

	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Roles grant permission sets: admin, operator, submitter, viewer.
	Roles []string `yaml:"roles"`
}

// SecurityConfig controls authentication, authorization, rate limiting,
// and the command allowlist.
type SecurityConfig struct {
	// Enabled turns the security context on. When false every credentialed
	// operation passes through unchecked.
	Enabled bool `yaml:"enabled"`

	// AllowlistPath is the JSON file of allowed command base names,
	// relative to the config dir unless absolute.
	AllowlistPath string `yaml:"allowlist_path"`

	// MaxArgumentLength rejects over-length command arguments.
	MaxArgumentLength int `yaml:"max_argument_length"`

	// RateLimitPerSecond is the sustained per-actor request rate.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`

	// RateLimitBurst is the per-actor burst allowance.
	RateLimitBurst int `yaml:"rate_limit_burst"`

	// AuditLogSize bounds the in-memory audit ring.
	AuditLogSize int `yaml:"audit_log_size"`

	// Principals lists the authenticated callers.
	Principals []PrincipalConfig `yaml:"principals"`
}

// DefaultSecurityConfig returns the built-in security defaults.
// Security is off by default; single-tenant deployments opt in.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		Enabled:            false,
		AllowlistPath:      "command-allowlist.json",
		MaxArgumentLength:  4096,
		RateLimitPerSecond: 10,
		RateLimitBurst:     20,
		AuditLogSize:       1000,
	}
}
