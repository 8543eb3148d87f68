package config

import (
	"fmt"
	"os"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: infrastructure sections first, then the rules that
	// run on top of them

	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := v.validateRegistry(); err != nil {
		return fmt.Errorf("registry validation failed: %w", err)
	}

	if err := v.validateBandit(); err != nil {
		return fmt.Errorf("bandit validation failed: %w", err)
	}

	if err := v.validateRouting(); err != nil {
		return fmt.Errorf("routing validation failed: %w", err)
	}

	if err := v.validateAssignment(); err != nil {
		return fmt.Errorf("assignment validation failed: %w", err)
	}

	if err := v.validateArbitration(); err != nil {
		return fmt.Errorf("arbitration validation failed: %w", err)
	}

	if err := v.validateEvents(); err != nil {
		return fmt.Errorf("events validation failed: %w", err)
	}

	if err := v.validateDispatch(); err != nil {
		return fmt.Errorf("dispatch validation failed: %w", err)
	}

	if err := v.validateSecurity(); err != nil {
		return fmt.Errorf("security validation failed: %w", err)
	}

	if err := v.validateRules(); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateQueue() error {
	q := v.cfg.Queue

	if q.MaxCapacity < 1 {
		return NewValidationError("queue", "", "max_capacity", fmt.Errorf("must be at least 1"))
	}
	if !q.Policy.IsValid() {
		return NewValidationError("queue", "", "policy", fmt.Errorf("invalid policy: %s", q.Policy))
	}
	if q.DefaultTimeout <= 0 {
		return NewValidationError("queue", "", "default_timeout", fmt.Errorf("must be positive"))
	}
	if q.DefaultMaxAttempts < 1 {
		return NewValidationError("queue", "", "default_max_attempts", fmt.Errorf("must be at least 1"))
	}

	return nil
}

func (v *ConfigValidator) validateRegistry() error {
	r := v.cfg.Registry

	if r.MaxAgents < 1 {
		return NewValidationError("registry", "", "max_agents", fmt.Errorf("must be at least 1"))
	}
	if r.MaxConcurrentTasksPerAgent < 1 {
		return NewValidationError("registry", "", "max_concurrent_tasks_per_agent", fmt.Errorf("must be at least 1"))
	}
	if r.EnableAutoCleanup {
		if r.CleanupInterval <= 0 {
			return NewValidationError("registry", "", "cleanup_interval", fmt.Errorf("must be positive when auto cleanup is enabled"))
		}
		if r.StaleAgentThreshold <= 0 {
			return NewValidationError("registry", "", "stale_agent_threshold", fmt.Errorf("must be positive when auto cleanup is enabled"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateBandit() error {
	b := v.cfg.Bandit

	if b.ExplorationRate < 0 || b.ExplorationRate > 1 {
		return NewValidationError("bandit", "", "exploration_rate", fmt.Errorf("must be in [0, 1], got %g", b.ExplorationRate))
	}
	if b.DecayFactor <= 0 || b.DecayFactor > 1 {
		return NewValidationError("bandit", "", "decay_factor", fmt.Errorf("must be in (0, 1], got %g", b.DecayFactor))
	}
	if b.MinExplorationRate < 0 || b.MinExplorationRate > b.ExplorationRate {
		return NewValidationError("bandit", "", "min_exploration_rate", fmt.Errorf("must be in [0, exploration_rate], got %g", b.MinExplorationRate))
	}
	if b.UseUCB && b.UCBConstant <= 0 {
		return NewValidationError("bandit", "", "ucb_constant", fmt.Errorf("must be positive when UCB is enabled"))
	}
	if b.MinSampleSize < 1 {
		return NewValidationError("bandit", "", "min_sample_size", fmt.Errorf("must be at least 1"))
	}
	if b.MaxLatencyMs <= 0 {
		return NewValidationError("bandit", "", "max_latency_ms", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateRouting() error {
	r := v.cfg.Routing

	if !r.DefaultStrategy.IsValid() {
		return NewValidationError("routing", "", "default_strategy", fmt.Errorf("invalid strategy: %s", r.DefaultStrategy))
	}
	if r.MaxAgentsToConsider < 1 {
		return NewValidationError("routing", "", "max_agents_to_consider", fmt.Errorf("must be at least 1"))
	}
	if r.MinAgentsRequired < 1 {
		return NewValidationError("routing", "", "min_agents_required", fmt.Errorf("must be at least 1"))
	}
	if r.MinAgentsRequired > r.MaxAgentsToConsider {
		return NewValidationError("routing", "", "min_agents_required", fmt.Errorf("cannot exceed max_agents_to_consider (%d)", r.MaxAgentsToConsider))
	}
	if r.MaxRoutingTime <= 0 {
		return NewValidationError("routing", "", "max_routing_time", fmt.Errorf("must be positive"))
	}
	if r.MaxUtilization <= 0 || r.MaxUtilization > 100 {
		return NewValidationError("routing", "", "max_utilization", fmt.Errorf("must be in (0, 100], got %g", r.MaxUtilization))
	}
	if r.MinSuccessRate < 0 || r.MinSuccessRate > 1 {
		return NewValidationError("routing", "", "min_success_rate", fmt.Errorf("must be in [0, 1], got %g", r.MinSuccessRate))
	}
	if r.HistorySize < 1 {
		return NewValidationError("routing", "", "history_size", fmt.Errorf("must be at least 1"))
	}

	return nil
}

func (v *ConfigValidator) validateAssignment() error {
	a := v.cfg.Assignment

	if a.AcknowledgmentTimeout <= 0 {
		return NewValidationError("assignment", "", "acknowledgment_timeout", fmt.Errorf("must be positive"))
	}
	if a.ProgressCheckInterval <= 0 {
		return NewValidationError("assignment", "", "progress_check_interval", fmt.Errorf("must be positive"))
	}
	if a.MaxAssignmentDuration <= 0 {
		return NewValidationError("assignment", "", "max_assignment_duration", fmt.Errorf("must be positive"))
	}
	if a.MaxAssignmentDuration < a.AcknowledgmentTimeout {
		return NewValidationError("assignment", "", "max_assignment_duration", fmt.Errorf("cannot be shorter than acknowledgment_timeout (%s)", a.AcknowledgmentTimeout))
	}

	return nil
}

func (v *ConfigValidator) validateArbitration() error {
	a := v.cfg.Arbitration

	if a.MaxConcurrentSessions < 1 {
		return NewValidationError("arbitration", "", "max_concurrent_sessions", fmt.Errorf("must be at least 1"))
	}
	if a.SessionTimeout <= 0 {
		return NewValidationError("arbitration", "", "session_timeout", fmt.Errorf("must be positive"))
	}
	if a.MaxPrecedents < 1 {
		return NewValidationError("arbitration", "", "max_precedents", fmt.Errorf("must be at least 1"))
	}
	if a.PrecedentSimilarityThreshold <= 0 || a.PrecedentSimilarityThreshold > 1 {
		return NewValidationError("arbitration", "", "precedent_similarity_threshold", fmt.Errorf("must be in (0, 1], got %g", a.PrecedentSimilarityThreshold))
	}
	if a.MaxPrecedentsPerEvaluation < 1 {
		return NewValidationError("arbitration", "", "max_precedents_per_evaluation", fmt.Errorf("must be at least 1"))
	}
	if a.PrecedentCacheTTL <= 0 {
		return NewValidationError("arbitration", "", "precedent_cache_ttl", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateEvents() error {
	e := v.cfg.Events

	if e.MaxEvents < 1 {
		return NewValidationError("events", "", "max_events", fmt.Errorf("must be at least 1"))
	}
	if e.Retention <= 0 {
		return NewValidationError("events", "", "retention", fmt.Errorf("must be positive"))
	}
	if e.SweepInterval <= 0 {
		return NewValidationError("events", "", "sweep_interval", fmt.Errorf("must be positive"))
	}
	if !e.DispatchMode.IsValid() {
		return NewValidationError("events", "", "dispatch_mode", fmt.Errorf("invalid mode: %s", e.DispatchMode))
	}
	if e.HandlerTimeout <= 0 {
		return NewValidationError("events", "", "handler_timeout", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateDispatch() error {
	d := v.cfg.Dispatch

	if d.WorkerCount < 1 {
		return NewValidationError("dispatch", "", "worker_count", fmt.Errorf("must be at least 1"))
	}
	if d.PollInterval <= 0 {
		return NewValidationError("dispatch", "", "poll_interval", fmt.Errorf("must be positive"))
	}
	if d.PollIntervalJitter < 0 || d.PollIntervalJitter >= d.PollInterval {
		return NewValidationError("dispatch", "", "poll_interval_jitter", fmt.Errorf("must be in [0, poll_interval)"))
	}
	if d.GracefulShutdownTimeout <= 0 {
		return NewValidationError("dispatch", "", "graceful_shutdown_timeout", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateSecurity() error {
	s := v.cfg.Security

	// Disabled security skips the check entirely; single-tenant runs
	// carry no principals.
	if !s.Enabled {
		return nil
	}

	if s.AllowlistPath == "" {
		return NewValidationError("security", "", "allowlist_path", fmt.Errorf("required when security is enabled"))
	}
	if s.MaxArgumentLength < 1 {
		return NewValidationError("security", "", "max_argument_length", fmt.Errorf("must be at least 1"))
	}
	if s.RateLimitPerSecond <= 0 {
		return NewValidationError("security", "", "rate_limit_per_second", fmt.Errorf("must be positive"))
	}
	if s.RateLimitBurst < 1 {
		return NewValidationError("security", "", "rate_limit_burst", fmt.Errorf("must be at least 1"))
	}
	if s.AuditLogSize < 1 {
		return NewValidationError("security", "", "audit_log_size", fmt.Errorf("must be at least 1"))
	}
	if len(s.Principals) == 0 {
		return NewValidationError("security", "", "principals", fmt.Errorf("at least one principal required when security is enabled"))
	}

	seen := make(map[string]bool, len(s.Principals))
	for i, p := range s.Principals {
		ref := fmt.Sprintf("principals[%d]", i)

		if p.Actor == "" {
			return NewValidationError("security", "", ref+".actor", fmt.Errorf("actor required"))
		}
		if seen[p.Actor] {
			return NewValidationError("security", p.Actor, ref+".actor", fmt.Errorf("duplicate actor"))
		}
		seen[p.Actor] = true

		if p.TokenEnv == "" {
			return NewValidationError("security", p.Actor, ref+".token_env", fmt.Errorf("token_env required"))
		}
		if value := os.Getenv(p.TokenEnv); value == "" {
			return NewValidationError("security", p.Actor, ref+".token_env", fmt.Errorf("environment variable %s is not set", p.TokenEnv))
		}

		if len(p.Roles) == 0 {
			return NewValidationError("security", p.Actor, ref+".roles", fmt.Errorf("at least one role required"))
		}
		for _, role := range p.Roles {
			if !models.Role(role).IsValid() {
				return NewValidationError("security", p.Actor, ref+".roles", fmt.Errorf("invalid role: %s", role))
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateRules() error {
	seen := make(map[string]bool, len(v.cfg.Rules))

	for _, rule := range v.cfg.Rules {
		if rule.ID == "" {
			return NewValidationError("rule", "", "id", fmt.Errorf("id required"))
		}
		if seen[rule.ID] {
			return NewValidationError("rule", rule.ID, "id", fmt.Errorf("duplicate rule id"))
		}
		seen[rule.ID] = true

		if rule.Title == "" {
			return NewValidationError("rule", rule.ID, "title", fmt.Errorf("title required"))
		}
		if rule.Condition == "" {
			return NewValidationError("rule", rule.ID, "condition", fmt.Errorf("condition required"))
		}
		if !rule.Severity.IsValid() {
			return NewValidationError("rule", rule.ID, "severity", fmt.Errorf("invalid severity: %s", rule.Severity))
		}
		if rule.ExpirationDate != nil && !rule.ExpirationDate.After(rule.EffectiveDate) {
			return NewValidationError("rule", rule.ID, "expiration_date", fmt.Errorf("must be after effective_date"))
		}
	}

	return nil
}
