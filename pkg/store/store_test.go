package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
	"github.com/darianrosebrook/agent-agency-sub007/test/util"
)

func TestTaskStoreRoundTrip(t *testing.T) {
	client := util.SetupTestDatabase(t)
	tasks := client.Tasks()
	ctx := context.Background()

	deadline := time.Now().Add(2 * time.Hour).UTC()
	state := &models.TaskState{
		Task: &models.Task{
			TaskID:      "task-rt-1",
			Type:        models.TaskTypeCodeEditing,
			Description: "refactor the parser",
			Priority:    7,
			TimeoutMs:   60_000,
			MaxAttempts: 3,
			RequiredCapabilities: &models.AgentCapabilities{
				TaskTypes: []models.TaskType{models.TaskTypeCodeEditing},
				Languages: []string{"go"},
			},
			Budget:    &models.TaskBudget{MaxFiles: 10, MaxLoc: 500},
			Deadline:  &deadline,
			CreatedAt: time.Now().UTC(),
			Metadata:  map[string]any{"origin": "test"},
		},
		Status:      models.TaskStatusQueued,
		Attempts:    0,
		MaxAttempts: 3,
	}

	require.NoError(t, tasks.UpsertTask(ctx, state))

	loaded, err := tasks.LoadQueuedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, "task-rt-1", got.Task.TaskID)
	assert.Equal(t, models.TaskTypeCodeEditing, got.Task.Type)
	assert.Equal(t, "refactor the parser", got.Task.Description)
	assert.Equal(t, 7, got.Task.Priority)
	assert.Equal(t, int64(60_000), got.Task.TimeoutMs)
	assert.Equal(t, models.TaskStatusQueued, got.Status)
	require.NotNil(t, got.Task.Budget)
	assert.Equal(t, 10, got.Task.Budget.MaxFiles)
	assert.Equal(t, 500, got.Task.Budget.MaxLoc)
	require.NotNil(t, got.Task.RequiredCapabilities)
	assert.Equal(t, []string{"go"}, got.Task.RequiredCapabilities.Languages)
	require.NotNil(t, got.Task.Deadline)
	assert.WithinDuration(t, deadline, *got.Task.Deadline, time.Millisecond)
	assert.Equal(t, "test", got.Task.Metadata["origin"])
}

func TestTaskStoreStatusUpdates(t *testing.T) {
	client := util.SetupTestDatabase(t)
	tasks := client.Tasks()
	ctx := context.Background()

	state := &models.TaskState{
		Task: &models.Task{
			TaskID:    "task-st-1",
			Type:      models.TaskTypeTesting,
			Priority:  1,
			CreatedAt: time.Now().UTC(),
		},
		Status: models.TaskStatusQueued,
	}
	require.NoError(t, tasks.UpsertTask(ctx, state))

	// Leaving the queued status removes the row from replay.
	require.NoError(t, tasks.UpdateTaskStatus(ctx, "task-st-1", models.TaskStatusRouting, ""))
	loaded, err := tasks.LoadQueuedTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	// An empty lastError keeps the previously recorded one.
	require.NoError(t, tasks.UpdateTaskStatus(ctx, "task-st-1", models.TaskStatusFailed, "agent exploded"))
	require.NoError(t, tasks.UpdateTaskStatus(ctx, "task-st-1", models.TaskStatusFailed, ""))

	var lastError string
	require.NoError(t, client.DB().QueryRowContext(ctx,
		`SELECT last_error FROM task_queue WHERE task_id = $1`, "task-st-1",
	).Scan(&lastError))
	assert.Equal(t, "agent exploded", lastError)
}

func TestTaskStoreReplayOrder(t *testing.T) {
	client := util.SetupTestDatabase(t)
	tasks := client.Tasks()
	ctx := context.Background()

	base := time.Now().UTC()
	for _, tc := range []struct {
		id       string
		priority int
		offset   time.Duration
	}{
		{"task-low", 1, 0},
		{"task-high", 9, time.Second},
		{"task-mid-old", 5, 2 * time.Second},
		{"task-mid-new", 5, 3 * time.Second},
	} {
		state := &models.TaskState{
			Task: &models.Task{
				TaskID:    tc.id,
				Type:      models.TaskTypeAnalysis,
				Priority:  tc.priority,
				CreatedAt: base.Add(tc.offset),
			},
			Status: models.TaskStatusQueued,
		}
		require.NoError(t, tasks.UpsertTask(ctx, state))
	}

	loaded, err := tasks.LoadQueuedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 4)

	ids := make([]string, len(loaded))
	for i, s := range loaded {
		ids[i] = s.Task.TaskID
	}
	assert.Equal(t, []string{"task-high", "task-mid-old", "task-mid-new", "task-low"}, ids)
}

func TestAgentStoreRoundTrip(t *testing.T) {
	client := util.SetupTestDatabase(t)
	agents := client.Agents()
	ctx := context.Background()

	now := time.Now().UTC()
	profile := &models.AgentProfile{
		AgentID:     "agent-rt-1",
		Name:        "refactor bot",
		ModelFamily: models.ModelFamilyAnthropic,
		Capabilities: models.AgentCapabilities{
			TaskTypes:       []models.TaskType{models.TaskTypeCodeEditing, models.TaskTypeRefactoring},
			Languages:       []string{"go", "typescript"},
			Specializations: []string{"api-design"},
		},
		Performance:  models.DefaultPerformanceHistory(),
		CurrentLoad:  models.AgentLoad{ActiveTasks: 2, QueuedTasks: 1, UtilizationPercent: 40},
		RegisteredAt: now,
		LastActiveAt: now,
	}
	require.NoError(t, agents.SaveAgent(ctx, profile))

	got, err := agents.LoadAgent(ctx, "agent-rt-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "refactor bot", got.Name)
	assert.Equal(t, models.ModelFamilyAnthropic, got.ModelFamily)
	assert.Equal(t, []string{"go", "typescript"}, got.Capabilities.Languages)
	assert.Equal(t, 2, got.CurrentLoad.ActiveTasks)
	assert.InDelta(t, 0.8, got.Performance.SuccessRate, 1e-9)

	// Upsert updates the mutable columns.
	profile.Performance.SuccessRate = 0.95
	profile.Performance.TaskCount = 20
	require.NoError(t, agents.SaveAgent(ctx, profile))

	got, err = agents.LoadAgent(ctx, "agent-rt-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 0.95, got.Performance.SuccessRate, 1e-9)
	assert.Equal(t, 20, got.Performance.TaskCount)

	all, err := agents.LoadAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, agents.DeleteAgent(ctx, "agent-rt-1"))
	got, err = agents.LoadAgent(ctx, "agent-rt-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAgentStoreLoadUnknownAgent(t *testing.T) {
	client := util.SetupTestDatabase(t)

	got, err := client.Agents().LoadAgent(context.Background(), "no-such-agent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAssignmentStoreSave(t *testing.T) {
	client := util.SetupTestDatabase(t)
	assignments := client.Assignments()
	ctx := context.Background()

	now := time.Now().UTC()
	a := &models.TaskAssignment{
		ID: "assign-rt-1",
		Task: &models.Task{
			TaskID:    "task-a-1",
			Type:      models.TaskTypeCodeEditing,
			TimeoutMs: 30_000,
			CreatedAt: now,
		},
		AgentID: "agent-a-1",
		RoutingDecision: models.RoutingDecision{
			ID:            "route-1",
			TaskID:        "task-a-1",
			SelectedAgent: "agent-a-1",
			Confidence:    0.87,
			Reason:        "best capability match",
			Strategy:      models.RoutingStrategyBandit,
			Timestamp:     now,
		},
		Status:     models.TaskStatusAssigned,
		AssignedAt: now,
		Deadline:   now.Add(10 * time.Minute),
	}
	require.NoError(t, assignments.SaveAssignment(ctx, a))

	// Acknowledge and complete; the upsert rewrites lifecycle columns.
	ack := now.Add(time.Second)
	completed := now.Add(time.Minute)
	a.Status = models.TaskStatusCompleted
	a.AcknowledgedAt = &ack
	a.StartedAt = &ack
	a.CompletedAt = &completed
	a.Progress = 1
	require.NoError(t, assignments.SaveAssignment(ctx, a))

	var (
		status   string
		progress float64
		conf     float64
	)
	require.NoError(t, client.DB().QueryRowContext(ctx, `
		SELECT status, progress, routing_confidence
		FROM task_assignments WHERE assignment_id = $1`, "assign-rt-1",
	).Scan(&status, &progress, &conf))
	assert.Equal(t, "completed", status)
	assert.InDelta(t, 1.0, progress, 1e-9)
	assert.InDelta(t, 0.87, conf, 1e-9)
}

func TestSessionStoreRoundTrip(t *testing.T) {
	client := util.SetupTestDatabase(t)
	sessions := client.Sessions()
	ctx := context.Background()

	now := time.Now().UTC()
	ended := now.Add(time.Minute)
	session := &models.ArbitrationSession{
		SessionID: "arb-rt-1",
		Violation: models.ConstitutionalViolation{
			ID:          "viol-1",
			RuleID:      "rule-1",
			Severity:    models.RuleSeverityHigh,
			Description: "wrote outside the budget",
			Evidence:    []string{"diff shows 600 LOC"},
			DetectedAt:  now,
		},
		RulesEvaluated: []string{"rule-1"},
		Participants:   []string{"arbitration-engine"},
		State:          models.SessionStateCompleted,
		Verdict: &models.Verdict{
			ID:         "verdict-1",
			SessionID:  "arb-rt-1",
			Outcome:    models.VerdictRejected,
			Confidence: 0.92,
			IssuedBy:   "arbitration-engine",
			IssuedAt:   now,
		},
		Metadata: models.SessionMetadata{
			StateTransitions: []models.StateTransition{
				{From: models.SessionStateRuleEvaluation, To: models.SessionStateVerdictGeneration, At: now, Reason: "rules evaluated"},
			},
		},
		StartTime: now,
		EndTime:   &ended,
	}
	require.NoError(t, sessions.SaveSession(ctx, session))

	loaded, err := sessions.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, "arb-rt-1", got.SessionID)
	assert.Equal(t, models.SessionStateCompleted, got.State)
	assert.Equal(t, "rule-1", got.Violation.RuleID)
	assert.Equal(t, models.RuleSeverityHigh, got.Violation.Severity)
	require.NotNil(t, got.Verdict)
	assert.Equal(t, models.VerdictRejected, got.Verdict.Outcome)
	assert.InDelta(t, 0.92, got.Verdict.Confidence, 1e-9)
	require.Len(t, got.Metadata.StateTransitions, 1)
	assert.Equal(t, models.SessionStateVerdictGeneration, got.Metadata.StateTransitions[0].To)
	require.NotNil(t, got.EndTime)
	assert.WithinDuration(t, ended, *got.EndTime, time.Millisecond)
	assert.Nil(t, got.WaiverRequest)
	assert.Nil(t, got.Appeal)
}

func TestPrecedentStoreRoundTrip(t *testing.T) {
	client := util.SetupTestDatabase(t)
	precedents := client.Precedents()
	ctx := context.Background()

	now := time.Now().UTC()
	p := &models.Precedent{
		ID:               "prec-rt-1",
		Title:            "Budget exceeded without waiver",
		RulesInvolved:    []string{"rule-1"},
		VerdictID:        "verdict-1",
		Outcome:          models.VerdictRejected,
		Category:         "budget",
		Severity:         models.RuleSeverityHigh,
		KeyFacts:         []string{"600 LOC against a 500 cap"},
		ReasoningSummary: "hard budget cap breached",
		CreatedAt:        now,
	}
	require.NoError(t, precedents.SavePrecedent(ctx, p))

	// Re-saving with a bumped citation updates the citation columns only.
	cited := now.Add(time.Hour)
	p.CitationCount = 3
	p.LastCitedAt = &cited
	require.NoError(t, precedents.SavePrecedent(ctx, p))

	loaded, err := precedents.LoadPrecedents(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, "Budget exceeded without waiver", got.Title)
	assert.Equal(t, models.VerdictRejected, got.Outcome)
	assert.Equal(t, "budget", got.Category)
	assert.Equal(t, []string{"600 LOC against a 500 cap"}, got.KeyFacts)
	assert.Equal(t, 3, got.CitationCount)
	require.NotNil(t, got.LastCitedAt)
	assert.WithinDuration(t, cited, *got.LastCitedAt, time.Millisecond)
}

func TestClientHealth(t *testing.T) {
	client := util.SetupTestDatabase(t)

	health, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.GreaterOrEqual(t, health.OpenConnections, 1)
}
