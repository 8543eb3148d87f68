package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusQueued, false},
		{TaskStatusRouting, false},
		{TaskStatusAssigned, false},
		{TaskStatusExecuting, false},
		{TaskStatusValidating, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusTimeout, true},
		{TaskStatusCanceled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestEnums_RejectUnknownValues(t *testing.T) {
	assert.False(t, TaskType("juggling").IsValid())
	assert.False(t, TaskStatus("paused").IsValid())
	assert.False(t, ModelFamily("abacus").IsValid())
	assert.False(t, SessionState("limbo").IsValid())
	assert.False(t, VerdictOutcome("maybe").IsValid())
	assert.False(t, WaiverStatus("pending").IsValid())
	assert.False(t, AppealDecision("ignored").IsValid())
	assert.False(t, QueuePolicy("random").IsValid())
	assert.False(t, DispatchMode("batch").IsValid())

	assert.True(t, TaskTypeCodeEditing.IsValid())
	assert.True(t, VerdictConditional.IsValid())
	assert.True(t, SessionStateWaiverConsideration.IsValid())
}

func TestRuleSeverity_Rank(t *testing.T) {
	assert.Less(t, RuleSeverityLow.Rank(), RuleSeverityMedium.Rank())
	assert.Less(t, RuleSeverityMedium.Rank(), RuleSeverityHigh.Rank())
	assert.Less(t, RuleSeverityHigh.Rank(), RuleSeverityCritical.Rank())
	assert.Equal(t, -1, RuleSeverity("bogus").Rank())
}

func TestAgentProfile_CloneIsDeep(t *testing.T) {
	orig := &AgentProfile{
		AgentID:     "agent-1",
		Name:        "editor",
		ModelFamily: ModelFamilyAnthropic,
		Capabilities: AgentCapabilities{
			TaskTypes: []TaskType{TaskTypeCodeEditing},
			Languages: []string{"go", "typescript"},
		},
		Performance:  DefaultPerformanceHistory(),
		RegisteredAt: time.Now(),
	}

	clone := orig.Clone()
	require.NotSame(t, orig, clone)

	clone.Capabilities.Languages[0] = "rust"
	clone.Performance.TaskCount = 99

	assert.Equal(t, "go", orig.Capabilities.Languages[0])
	assert.Equal(t, 0, orig.Performance.TaskCount)
}

func TestTaskState_CloneIsDeep(t *testing.T) {
	started := time.Now()
	orig := &TaskState{
		Task: &Task{
			TaskID:   "task-1",
			Type:     TaskTypeTesting,
			Priority: 5,
			Metadata: map[string]any{"origin": "api"},
		},
		Status:         TaskStatusRouting,
		RoutingHistory: []string{"decision-1"},
		StartedAt:      &started,
	}

	clone := orig.Clone()
	clone.Task.Metadata["origin"] = "replay"
	clone.RoutingHistory[0] = "decision-2"
	*clone.StartedAt = started.Add(time.Hour)

	assert.Equal(t, "api", orig.Task.Metadata["origin"])
	assert.Equal(t, "decision-1", orig.RoutingHistory[0])
	assert.Equal(t, started, *orig.StartedAt)
}

func TestArbitrationSession_CloneIsDeep(t *testing.T) {
	orig := &ArbitrationSession{
		SessionID: "session-1",
		Violation: ConstitutionalViolation{ID: "violation-1", RuleID: "rule-1"},
		State:     SessionStateRuleEvaluation,
		Metadata: SessionMetadata{
			StateTransitions: []StateTransition{
				{From: SessionStateRuleEvaluation, To: SessionStateVerdictGeneration, At: time.Now()},
			},
			Extra: map[string]any{"note": "first"},
		},
		StartTime: time.Now(),
	}

	clone := orig.Clone()
	clone.Metadata.StateTransitions[0].Reason = "mutated"
	clone.Metadata.Extra["note"] = "second"
	clone.Verdict = &Verdict{ID: "v1"}

	assert.Empty(t, orig.Metadata.StateTransitions[0].Reason)
	assert.Equal(t, "first", orig.Metadata.Extra["note"])
	assert.Nil(t, orig.Verdict)
}

func TestConstitutionalRule_ActiveAt(t *testing.T) {
	now := time.Now()
	expiry := now.Add(24 * time.Hour)

	tests := []struct {
		name string
		rule ConstitutionalRule
		at   time.Time
		want bool
	}{
		{
			name: "in force",
			rule: ConstitutionalRule{EffectiveDate: now.Add(-time.Hour)},
			at:   now,
			want: true,
		},
		{
			name: "not yet effective",
			rule: ConstitutionalRule{EffectiveDate: now.Add(time.Hour)},
			at:   now,
			want: false,
		},
		{
			name: "expired",
			rule: ConstitutionalRule{EffectiveDate: now.Add(-48 * time.Hour), ExpirationDate: &expiry},
			at:   expiry.Add(time.Minute),
			want: false,
		},
		{
			name: "within expiry window",
			rule: ConstitutionalRule{EffectiveDate: now.Add(-48 * time.Hour), ExpirationDate: &expiry},
			at:   now,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.ActiveAt(tt.at))
		})
	}
}

func TestTask_EffectiveDeadline(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	implicit := &Task{CreatedAt: created, TimeoutMs: 60_000}
	assert.Equal(t, created.Add(time.Minute), implicit.EffectiveDeadline())

	explicit := created.Add(2 * time.Hour)
	withDeadline := &Task{CreatedAt: created, TimeoutMs: 60_000, Deadline: &explicit}
	assert.Equal(t, explicit, withDeadline.EffectiveDeadline())
}
