package config

import (
	"time"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// BanditConfig tunes the multi-armed bandit used for agent selection.
type BanditConfig struct {
	// ExplorationRate is the initial probability of picking a random
	// candidate instead of the best-scoring one.
	ExplorationRate float64 `yaml:"exploration_rate"`

	// DecayFactor multiplies the exploration rate after each selection,
	// shifting from exploration to exploitation over time.
	DecayFactor float64 `yaml:"decay_factor"`

	// MinExplorationRate is the floor the decay never goes below.
	MinExplorationRate float64 `yaml:"min_exploration_rate"`

	// UseUCB adds the upper-confidence-bound term to candidate scores.
	UseUCB bool `yaml:"use_ucb"`

	// UCBConstant scales the UCB exploration term.
	UCBConstant float64 `yaml:"ucb_constant"`

	// MinSampleSize is the pull count below which an agent still receives
	// the full exploration bonus, guaranteeing coverage of new agents.
	MinSampleSize int `yaml:"min_sample_size"`

	// MaxLatencyMs normalizes latency in the reward blend; latencies at or
	// above it contribute zero reward.
	MaxLatencyMs float64 `yaml:"max_latency_ms"`
}

// DefaultBanditConfig returns the built-in bandit defaults.
func DefaultBanditConfig() *BanditConfig {
	return &BanditConfig{
		ExplorationRate:    0.2,
		DecayFactor:        0.995,
		MinExplorationRate: 0.01,
		UseUCB:             true,
		UCBConstant:        1.4,
		MinSampleSize:      5,
		MaxLatencyMs:       60_000,
	}
}

// RoutingConfig controls candidate selection and the routing SLA.
type RoutingConfig struct {
	// DefaultStrategy is used when the caller does not name one.
	DefaultStrategy models.RoutingStrategy `yaml:"default_strategy"`

	// EnableBandit routes through the bandit when the strategy asks for it;
	// when false the router falls back to capability-match scoring.
	EnableBandit bool `yaml:"enable_bandit"`

	// MaxAgentsToConsider truncates the candidate list before scoring.
	MaxAgentsToConsider int `yaml:"max_agents_to_consider"`

	// MinAgentsRequired fails routing when fewer candidates qualify.
	MinAgentsRequired int `yaml:"min_agents_required"`

	// MaxRoutingTime is the soft SLA for one routeTask call. Exceeding it
	// logs a warning but does not fail the call.
	MaxRoutingTime time.Duration `yaml:"max_routing_time"`

	// MaxUtilization excludes agents above this utilization percentage.
	MaxUtilization float64 `yaml:"max_utilization"`

	// MinSuccessRate excludes agents below this success rate.
	MinSuccessRate float64 `yaml:"min_success_rate"`

	// HistorySize bounds the ring of retained routing decisions.
	HistorySize int `yaml:"history_size"`
}

// DefaultRoutingConfig returns the built-in routing defaults.
func DefaultRoutingConfig() *RoutingConfig {
	return &RoutingConfig{
		DefaultStrategy:     models.RoutingStrategyBandit,
		EnableBandit:        true,
		MaxAgentsToConsider: 10,
		MinAgentsRequired:   1,
		MaxRoutingTime:      100 * time.Millisecond,
		MaxUtilization:      90,
		MinSuccessRate:      0,
		HistorySize:         1000,
	}
}
