package arbitration

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

func TestWaiverInterpreter_ApprovesStrongRequest(t *testing.T) {
	interpreter := &WaiverInterpreter{}
	requestedAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// justification 0.8*0.5 + evidence (2/3)*0.3 + duration 1.0*0.2 = 0.8
	decision := interpreter.Decide(&models.WaiverRequest{
		RuleID:              "rule-1",
		Justification:       strongJustification,
		Evidence:            []string{"incident report", "CVE advisory"},
		RequestedDurationMs: (24 * time.Hour).Milliseconds(),
		RequestedAt:         requestedAt,
	}, testRule("rule-1", models.RuleSeverityHigh, true))

	assert.Equal(t, models.WaiverApproved, decision.Status)
	assert.Contains(t, decision.Reasoning, "score 0.80")
	require.NotNil(t, decision.ExpiresAt)
	assert.Equal(t, requestedAt.Add(24*time.Hour), *decision.ExpiresAt)
}

func TestWaiverInterpreter_RejectsWeakRequest(t *testing.T) {
	interpreter := &WaiverInterpreter{}

	// justification 0.2*0.5 + no evidence + duration past three days = 0.1
	decision := interpreter.Decide(&models.WaiverRequest{
		RuleID:              "rule-1",
		Justification:       "need it",
		RequestedDurationMs: (96 * time.Hour).Milliseconds(),
	}, testRule("rule-1", models.RuleSeverityHigh, true))

	assert.Equal(t, models.WaiverRejected, decision.Status)
	assert.Nil(t, decision.ExpiresAt)
}

func TestWaiverInterpreter_RejectsNonWaivableRule(t *testing.T) {
	interpreter := &WaiverInterpreter{}

	decision := interpreter.Decide(&models.WaiverRequest{
		RuleID:        "rule-1",
		Justification: strings.Repeat("thorough justification ", 10),
		Evidence:      []string{"a", "b", "c"},
	}, testRule("rule-1", models.RuleSeverityCritical, false))

	assert.Equal(t, models.WaiverRejected, decision.Status)
	assert.Contains(t, decision.Reasoning, "is not waivable")
}

func TestWaiverInterpreter_ZeroDurationExpiresImmediately(t *testing.T) {
	interpreter := &WaiverInterpreter{}
	requestedAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// Maximal request: justification 0.5 + evidence 0.3 + duration 0.2 = 1.0.
	decision := interpreter.Decide(&models.WaiverRequest{
		RuleID:        "rule-1",
		Justification: strings.Repeat("the mitigation is already deployed ", 6),
		Evidence:      []string{"a", "b", "c"},
		RequestedAt:   requestedAt,
	}, testRule("rule-1", models.RuleSeverityHigh, true))

	assert.Equal(t, models.WaiverApproved, decision.Status)
	require.NotNil(t, decision.ExpiresAt)
	assert.Equal(t, requestedAt, *decision.ExpiresAt)
}

func TestWaiverInterpreter_Deterministic(t *testing.T) {
	interpreter := &WaiverInterpreter{}
	req := &models.WaiverRequest{
		RuleID:              "rule-1",
		Justification:       strongJustification,
		Evidence:            []string{"incident report"},
		RequestedDurationMs: (48 * time.Hour).Milliseconds(),
	}
	rule := testRule("rule-1", models.RuleSeverityHigh, true)

	first := interpreter.Decide(req, rule)
	second := interpreter.Decide(req, rule)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Reasoning, second.Reasoning)
}

func TestWaiverDurationScore(t *testing.T) {
	assert.Equal(t, 1.0, waiverDurationScore(0))
	assert.Equal(t, 1.0, waiverDurationScore(time.Hour))
	assert.Equal(t, 1.0, waiverDurationScore(24*time.Hour))
	assert.Equal(t, 0.5, waiverDurationScore(48*time.Hour))
	assert.Equal(t, 0.5, waiverDurationScore(72*time.Hour))
	assert.Equal(t, 0.0, waiverDurationScore(100*time.Hour))
}

func TestTextStrength(t *testing.T) {
	assert.Equal(t, 0.0, textStrength(""))
	assert.Equal(t, 0.0, textStrength("   "))
	assert.Equal(t, 0.2, textStrength("too short"))
	assert.Equal(t, 0.5, textStrength(strings.Repeat("x", 20)))
	assert.Equal(t, 0.8, textStrength(strings.Repeat("x", 80)))
	assert.Equal(t, 1.0, textStrength(strings.Repeat("x", 200)))
}

func TestCountStrength(t *testing.T) {
	assert.Equal(t, 0.0, countStrength(nil, 3))
	assert.Equal(t, 0.0, countStrength([]string{"", "  "}, 3))
	assert.InEpsilon(t, 2.0/3.0, countStrength([]string{"a", "b"}, 3), 1e-9)
	assert.Equal(t, 1.0, countStrength([]string{"a", "b", "c", "d", "e"}, 3))
}
