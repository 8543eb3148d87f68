package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// ArbiterYAMLConfig represents the complete arbiter.yaml file structure.
// Every section is optional; missing sections resolve to built-in defaults.
type ArbiterYAMLConfig struct {
	Queue       *QueueConfig           `yaml:"queue"`
	Registry    *RegistryYAMLConfig    `yaml:"registry"`
	Bandit      *BanditYAMLConfig      `yaml:"bandit"`
	Routing     *RoutingYAMLConfig     `yaml:"routing"`
	Assignment  *AssignmentConfig      `yaml:"assignment"`
	Arbitration *ArbitrationYAMLConfig `yaml:"arbitration"`
	Events      *EventsConfig          `yaml:"events"`
	Security    *SecurityYAMLConfig    `yaml:"security"`
	Dispatch    *DispatchConfig        `yaml:"dispatch"`
	Database    *DatabaseYAMLConfig    `yaml:"database"`
}

// RegistryYAMLConfig holds agent registry settings from YAML.
type RegistryYAMLConfig struct {
	MaxAgents                  int           `yaml:"max_agents,omitempty"`
	MaxConcurrentTasksPerAgent int           `yaml:"max_concurrent_tasks_per_agent,omitempty"`
	EnableAutoCleanup          *bool         `yaml:"enable_auto_cleanup,omitempty"`
	CleanupInterval            time.Duration `yaml:"cleanup_interval,omitempty"`
	StaleAgentThreshold        time.Duration `yaml:"stale_agent_threshold,omitempty"`
}

// BanditYAMLConfig holds bandit tuning from YAML.
type BanditYAMLConfig struct {
	ExplorationRate    float64 `yaml:"exploration_rate,omitempty"`
	DecayFactor        float64 `yaml:"decay_factor,omitempty"`
	MinExplorationRate float64 `yaml:"min_exploration_rate,omitempty"`
	UseUCB             *bool   `yaml:"use_ucb,omitempty"`
	UCBConstant        float64 `yaml:"ucb_constant,omitempty"`
	MinSampleSize      int     `yaml:"min_sample_size,omitempty"`
	MaxLatencyMs       float64 `yaml:"max_latency_ms,omitempty"`
}

// RoutingYAMLConfig holds routing settings from YAML.
type RoutingYAMLConfig struct {
	DefaultStrategy     string        `yaml:"default_strategy,omitempty"`
	EnableBandit        *bool         `yaml:"enable_bandit,omitempty"`
	MaxAgentsToConsider int           `yaml:"max_agents_to_consider,omitempty"`
	MinAgentsRequired   int           `yaml:"min_agents_required,omitempty"`
	MaxRoutingTime      time.Duration `yaml:"max_routing_time,omitempty"`
	MaxUtilization      float64       `yaml:"max_utilization,omitempty"`
	MinSuccessRate      float64       `yaml:"min_success_rate,omitempty"`
	HistorySize         int           `yaml:"history_size,omitempty"`
}

// ArbitrationYAMLConfig holds arbitration engine settings from YAML.
type ArbitrationYAMLConfig struct {
	MaxConcurrentSessions        int           `yaml:"max_concurrent_sessions,omitempty"`
	SessionTimeout               time.Duration `yaml:"session_timeout,omitempty"`
	EnableWaivers                *bool         `yaml:"enable_waivers,omitempty"`
	EnableAppeals                *bool         `yaml:"enable_appeals,omitempty"`
	MaxPrecedents                int           `yaml:"max_precedents,omitempty"`
	PrecedentSimilarityThreshold float64       `yaml:"precedent_similarity_threshold,omitempty"`
	MaxPrecedentsPerEvaluation   int           `yaml:"max_precedents_per_evaluation,omitempty"`
	PrecedentCacheTTL            time.Duration `yaml:"precedent_cache_ttl,omitempty"`
}

// SecurityYAMLConfig holds security settings from YAML.
type SecurityYAMLConfig struct {
	Enabled            *bool             `yaml:"enabled,omitempty"`
	AllowlistPath      string            `yaml:"allowlist_path,omitempty"`
	MaxArgumentLength  int               `yaml:"max_argument_length,omitempty"`
	RateLimitPerSecond float64           `yaml:"rate_limit_per_second,omitempty"`
	RateLimitBurst     int               `yaml:"rate_limit_burst,omitempty"`
	AuditLogSize       int               `yaml:"audit_log_size,omitempty"`
	Principals         []PrincipalConfig `yaml:"principals,omitempty"`
}

// DatabaseYAMLConfig holds persistence settings from YAML. Connection
// details come from DB_* environment variables, not YAML.
type DatabaseYAMLConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir (both optional)
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user-defined sections over built-in defaults
//  5. Convert rule declarations into runtime rules
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	// 1. Load configuration files
	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Validate all configuration
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"rules", stats.Rules,
		"queue_capacity", stats.QueueCapacity,
		"max_sessions", stats.MaxSessions,
		"security_enabled", stats.SecurityEnabled,
		"database_enabled", stats.DatabaseEnabled)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load arbiter.yaml (tuning for every subsystem)
	arbiterConfig, err := loader.loadArbiterYAML()
	if err != nil {
		return nil, NewLoadError("arbiter.yaml", err)
	}

	// 2. Load rules.yaml (constitutional rules)
	ruleConfigs, err := loader.loadRulesYAML()
	if err != nil {
		return nil, NewLoadError("rules.yaml", err)
	}

	// 3. Merge numeric sections over defaults.
	// Start with defaults, then merge user config on top to preserve unset defaults
	queueConfig := DefaultQueueConfig()
	if arbiterConfig.Queue != nil {
		if err := mergo.Merge(queueConfig, arbiterConfig.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	assignmentConfig := DefaultAssignmentConfig()
	if arbiterConfig.Assignment != nil {
		if err := mergo.Merge(assignmentConfig, arbiterConfig.Assignment, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge assignment config: %w", err)
		}
	}

	eventsConfig := DefaultEventsConfig()
	if arbiterConfig.Events != nil {
		if err := mergo.Merge(eventsConfig, arbiterConfig.Events, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge events config: %w", err)
		}
	}

	dispatchConfig := DefaultDispatchConfig()
	if arbiterConfig.Dispatch != nil {
		if err := mergo.Merge(dispatchConfig, arbiterConfig.Dispatch, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge dispatch config: %w", err)
		}
	}

	// 4. Resolve sections that carry booleans (mergo cannot distinguish
	// "explicitly false" from "unset", so these go through pointer mirrors)
	registryConfig := resolveRegistryConfig(arbiterConfig.Registry)
	banditConfig := resolveBanditConfig(arbiterConfig.Bandit)
	routingConfig := resolveRoutingConfig(arbiterConfig.Routing)
	arbitrationConfig := resolveArbitrationConfig(arbiterConfig.Arbitration)
	securityConfig := resolveSecurityConfig(arbiterConfig.Security)
	databaseConfig := resolveDatabaseConfig(arbiterConfig.Database)

	// 5. Convert rule declarations into runtime rules
	loadedAt := time.Now().UTC()
	rules := make([]models.ConstitutionalRule, 0, len(ruleConfigs))
	for _, rc := range ruleConfigs {
		rules = append(rules, rc.toModel(loadedAt))
	}

	return &Config{
		configDir:   configDir,
		Queue:       queueConfig,
		Registry:    registryConfig,
		Bandit:      banditConfig,
		Routing:     routingConfig,
		Assignment:  assignmentConfig,
		Arbitration: arbitrationConfig,
		Events:      eventsConfig,
		Security:    securityConfig,
		Dispatch:    dispatchConfig,
		Database:    databaseConfig,
		Rules:       rules,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadArbiterYAML() (*ArbiterYAMLConfig, error) {
	var config ArbiterYAMLConfig

	if err := l.loadYAML("arbiter.yaml", &config); err != nil {
		// A missing file is not an error: every section has defaults.
		if errors.Is(err, ErrConfigNotFound) {
			slog.Info("No arbiter.yaml found, using built-in defaults")
			return &config, nil
		}
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadRulesYAML() ([]RuleConfig, error) {
	var config RulesYAMLConfig

	if err := l.loadYAML("rules.yaml", &config); err != nil {
		// A missing file means an empty rule set; arbitration still runs,
		// it just never finds violations.
		if errors.Is(err, ErrConfigNotFound) {
			slog.Info("No rules.yaml found, starting with an empty rule set")
			return nil, nil
		}
		return nil, err
	}

	return config.Rules, nil
}

// resolveRegistryConfig resolves registry configuration from YAML, applying defaults.
func resolveRegistryConfig(y *RegistryYAMLConfig) *RegistryConfig {
	cfg := DefaultRegistryConfig()

	if y == nil {
		return cfg
	}

	if y.MaxAgents > 0 {
		cfg.MaxAgents = y.MaxAgents
	}
	if y.MaxConcurrentTasksPerAgent > 0 {
		cfg.MaxConcurrentTasksPerAgent = y.MaxConcurrentTasksPerAgent
	}
	if y.EnableAutoCleanup != nil {
		cfg.EnableAutoCleanup = *y.EnableAutoCleanup
	}
	if y.CleanupInterval > 0 {
		cfg.CleanupInterval = y.CleanupInterval
	}
	if y.StaleAgentThreshold > 0 {
		cfg.StaleAgentThreshold = y.StaleAgentThreshold
	}

	return cfg
}

// resolveBanditConfig resolves bandit configuration from YAML, applying defaults.
func resolveBanditConfig(y *BanditYAMLConfig) *BanditConfig {
	cfg := DefaultBanditConfig()

	if y == nil {
		return cfg
	}

	if y.ExplorationRate > 0 {
		cfg.ExplorationRate = y.ExplorationRate
	}
	if y.DecayFactor > 0 {
		cfg.DecayFactor = y.DecayFactor
	}
	if y.MinExplorationRate > 0 {
		cfg.MinExplorationRate = y.MinExplorationRate
	}
	if y.UseUCB != nil {
		cfg.UseUCB = *y.UseUCB
	}
	if y.UCBConstant > 0 {
		cfg.UCBConstant = y.UCBConstant
	}
	if y.MinSampleSize > 0 {
		cfg.MinSampleSize = y.MinSampleSize
	}
	if y.MaxLatencyMs > 0 {
		cfg.MaxLatencyMs = y.MaxLatencyMs
	}

	return cfg
}

// resolveRoutingConfig resolves routing configuration from YAML, applying defaults.
func resolveRoutingConfig(y *RoutingYAMLConfig) *RoutingConfig {
	cfg := DefaultRoutingConfig()

	if y == nil {
		return cfg
	}

	if y.DefaultStrategy != "" {
		cfg.DefaultStrategy = models.RoutingStrategy(y.DefaultStrategy)
	}
	if y.EnableBandit != nil {
		cfg.EnableBandit = *y.EnableBandit
	}
	if y.MaxAgentsToConsider > 0 {
		cfg.MaxAgentsToConsider = y.MaxAgentsToConsider
	}
	if y.MinAgentsRequired > 0 {
		cfg.MinAgentsRequired = y.MinAgentsRequired
	}
	if y.MaxRoutingTime > 0 {
		cfg.MaxRoutingTime = y.MaxRoutingTime
	}
	if y.MaxUtilization > 0 {
		cfg.MaxUtilization = y.MaxUtilization
	}
	if y.MinSuccessRate > 0 {
		cfg.MinSuccessRate = y.MinSuccessRate
	}
	if y.HistorySize > 0 {
		cfg.HistorySize = y.HistorySize
	}

	return cfg
}

// resolveArbitrationConfig resolves arbitration configuration from YAML, applying defaults.
func resolveArbitrationConfig(y *ArbitrationYAMLConfig) *ArbitrationConfig {
	cfg := DefaultArbitrationConfig()

	if y == nil {
		return cfg
	}

	if y.MaxConcurrentSessions > 0 {
		cfg.MaxConcurrentSessions = y.MaxConcurrentSessions
	}
	if y.SessionTimeout > 0 {
		cfg.SessionTimeout = y.SessionTimeout
	}
	if y.EnableWaivers != nil {
		cfg.EnableWaivers = *y.EnableWaivers
	}
	if y.EnableAppeals != nil {
		cfg.EnableAppeals = *y.EnableAppeals
	}
	if y.MaxPrecedents > 0 {
		cfg.MaxPrecedents = y.MaxPrecedents
	}
	if y.PrecedentSimilarityThreshold > 0 {
		cfg.PrecedentSimilarityThreshold = y.PrecedentSimilarityThreshold
	}
	if y.MaxPrecedentsPerEvaluation > 0 {
		cfg.MaxPrecedentsPerEvaluation = y.MaxPrecedentsPerEvaluation
	}
	if y.PrecedentCacheTTL > 0 {
		cfg.PrecedentCacheTTL = y.PrecedentCacheTTL
	}

	return cfg
}

// resolveSecurityConfig resolves security configuration from YAML, applying defaults.
func resolveSecurityConfig(y *SecurityYAMLConfig) *SecurityConfig {
	cfg := DefaultSecurityConfig()

	if y == nil {
		return cfg
	}

	if y.Enabled != nil {
		cfg.Enabled = *y.Enabled
	}
	if y.AllowlistPath != "" {
		cfg.AllowlistPath = y.AllowlistPath
	}
	if y.MaxArgumentLength > 0 {
		cfg.MaxArgumentLength = y.MaxArgumentLength
	}
	if y.RateLimitPerSecond > 0 {
		cfg.RateLimitPerSecond = y.RateLimitPerSecond
	}
	if y.RateLimitBurst > 0 {
		cfg.RateLimitBurst = y.RateLimitBurst
	}
	if y.AuditLogSize > 0 {
		cfg.AuditLogSize = y.AuditLogSize
	}
	if len(y.Principals) > 0 {
		cfg.Principals = y.Principals
	}

	return cfg
}

// resolveDatabaseConfig resolves persistence configuration from YAML, applying defaults.
func resolveDatabaseConfig(y *DatabaseYAMLConfig) *DatabaseConfig {
	cfg := DefaultDatabaseConfig()

	if y == nil {
		return cfg
	}

	if y.Enabled != nil {
		cfg.Enabled = *y.Enabled
	}

	return cfg
}
