package config

import "time"

// ArbitrationConfig controls the arbitration engine.
type ArbitrationConfig struct {
	// MaxConcurrentSessions caps active sessions; starting one beyond the
	// cap fails and the caller is expected to retry.
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`

	// SessionTimeout bounds a single session from start to terminal state.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// EnableWaivers allows waiver requests on waivable rules.
	EnableWaivers bool `yaml:"enable_waivers"`

	// EnableAppeals allows appeals against completed sessions.
	EnableAppeals bool `yaml:"enable_appeals"`

	// MaxPrecedents bounds the in-memory precedent index.
	MaxPrecedents int `yaml:"max_precedents"`

	// PrecedentSimilarityThreshold is the minimum Jaccard similarity over
	// (category, severity, key facts) for a precedent to apply.
	PrecedentSimilarityThreshold float64 `yaml:"precedent_similarity_threshold"`

	// MaxPrecedentsPerEvaluation caps how many precedents one rule
	// evaluation consults.
	MaxPrecedentsPerEvaluation int `yaml:"max_precedents_per_evaluation"`

	// PrecedentCacheTTL bounds how long a similarity lookup result is
	// served from cache.
	PrecedentCacheTTL time.Duration `yaml:"precedent_cache_ttl"`
}

// DefaultArbitrationConfig returns the built-in arbitration defaults.
func DefaultArbitrationConfig() *ArbitrationConfig {
	return &ArbitrationConfig{
		MaxConcurrentSessions:        100,
		SessionTimeout:               5 * time.Minute,
		EnableWaivers:                true,
		EnableAppeals:                true,
		MaxPrecedents:                1000,
		PrecedentSimilarityThreshold: 0.5,
		MaxPrecedentsPerEvaluation:   5,
		PrecedentCacheTTL:            time.Minute,
	}
}
