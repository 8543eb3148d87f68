package config

import (
	"time"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// RulesYAMLConfig represents the complete rules.yaml file structure
type RulesYAMLConfig struct {
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig is one constitutional rule as declared in rules.yaml
type RuleConfig struct {
	ID               string         `yaml:"id"`
	Version          string         `yaml:"version"`
	Category         string         `yaml:"category"`
	Title            string         `yaml:"title"`
	Description      string         `yaml:"description"`
	Condition        string         `yaml:"condition"`
	Severity         string         `yaml:"severity"`
	Waivable         bool           `yaml:"waivable"`
	RequiredEvidence []string       `yaml:"required_evidence"`
	EffectiveDate    time.Time      `yaml:"effective_date"`
	ExpirationDate   *time.Time     `yaml:"expiration_date"`
	Metadata         map[string]any `yaml:"metadata"`
}

// toModel converts the YAML declaration into the runtime rule. A zero
// effective date means "in force now": it is filled with loadedAt so the
// rule is active from boot.
func (r RuleConfig) toModel(loadedAt time.Time) models.ConstitutionalRule {
	rule := models.ConstitutionalRule{
		ID:               r.ID,
		Version:          r.Version,
		Category:         r.Category,
		Title:            r.Title,
		Description:      r.Description,
		Condition:        r.Condition,
		Severity:         models.RuleSeverity(r.Severity),
		Waivable:         r.Waivable,
		RequiredEvidence: r.RequiredEvidence,
		EffectiveDate:    r.EffectiveDate,
		ExpirationDate:   r.ExpirationDate,
		Metadata:         r.Metadata,
	}
	if rule.Version == "" {
		rule.Version = "1.0"
	}
	if rule.EffectiveDate.IsZero() {
		rule.EffectiveDate = loadedAt
	}
	return rule
}
