package orchestrator

import (
	"context"
	"log/slog"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/security"
)

// SubmitTask admits a task into the queue. The dispatch pool picks it up
// from there; callers track it by the returned state's task ID.
func (o *Orchestrator) SubmitTask(ctx context.Context, task *models.Task) (*models.TaskState, error) {
	return o.queue.Enqueue(ctx, task)
}

// SubmitTaskWithCredentials admits a task after an authorization check.
func (o *Orchestrator) SubmitTaskWithCredentials(ctx context.Context, task *models.Task, cred security.Credentials) (*models.TaskState, error) {
	return o.queue.EnqueueWithCredentials(ctx, task, cred)
}

// TaskState returns the live view of a tracked task. Terminal tasks leave
// the live view; querying one is a not-found fault.
func (o *Orchestrator) TaskState(ctx context.Context, taskID string) (*models.TaskState, error) {
	return o.queue.GetTaskState(ctx, taskID)
}

// Tasks returns every tracked task.
func (o *Orchestrator) Tasks(ctx context.Context) ([]*models.TaskState, error) {
	return o.queue.Tasks(ctx)
}

// CancelTask cancels a task wherever it currently is. A live assignment is
// failed back without retry before the queue-side state goes terminal.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID string) error {
	if a, err := o.assignments.GetAssignmentByTask(taskID); err == nil {
		if _, _, failErr := o.assignments.FailAssignment(ctx, a.ID, "Task canceled", false); failErr != nil {
			slog.Warn("Failing assignment for canceled task failed",
				"task_id", taskID,
				"assignment_id", a.ID,
				"error", failErr)
		} else {
			o.releaseAgent(ctx, a.AgentID)
		}
	}

	if err := o.queue.UpdateTaskStatus(ctx, taskID, models.TaskStatusCanceled, "Task canceled"); err != nil {
		return err
	}

	o.bus.Emit(ctx, models.Event{
		Type:     events.EventTypeTaskCancelled,
		Severity: models.SeverityInfo,
		Source:   "orchestrator",
		TaskID:   taskID,
	})
	return nil
}

// RegisterAgent adds or re-registers an agent profile.
func (o *Orchestrator) RegisterAgent(ctx context.Context, profile *models.AgentProfile) (*models.AgentProfile, error) {
	return o.registry.RegisterAgent(ctx, profile)
}

// RegisterAgentWithCredentials registers after an authorization check.
func (o *Orchestrator) RegisterAgentWithCredentials(ctx context.Context, profile *models.AgentProfile, cred security.Credentials) (*models.AgentProfile, error) {
	return o.registry.RegisterAgentWithCredentials(ctx, profile, cred)
}

// AgentProfile returns one agent's profile.
func (o *Orchestrator) AgentProfile(ctx context.Context, agentID string) (*models.AgentProfile, error) {
	return o.registry.GetProfile(ctx, agentID)
}

// Agents returns every registered agent profile.
func (o *Orchestrator) Agents() []*models.AgentProfile {
	return o.registry.Agents()
}

// UnregisterAgent removes an agent and drops its bandit history so a
// returning agent with the same ID starts from a clean slate.
func (o *Orchestrator) UnregisterAgent(ctx context.Context, agentID string) error {
	if err := o.registry.UnregisterAgent(ctx, agentID); err != nil {
		return err
	}
	o.bandit.Forget(agentID)

	o.mu.Lock()
	delete(o.loads, agentID)
	o.mu.Unlock()
	return nil
}

// UpdateAgentPerformance folds an externally observed outcome into an
// agent's history, outside the assignment lifecycle.
func (o *Orchestrator) UpdateAgentPerformance(ctx context.Context, agentID string, update models.PerformanceUpdate) error {
	return o.registry.UpdatePerformance(ctx, agentID, update)
}

// Assignment returns one assignment by ID.
func (o *Orchestrator) Assignment(assignmentID string) (*models.TaskAssignment, error) {
	return o.assignments.GetAssignment(assignmentID)
}

// AssignmentByTask returns the live assignment for a task.
func (o *Orchestrator) AssignmentByTask(taskID string) (*models.TaskAssignment, error) {
	return o.assignments.GetAssignmentByTask(taskID)
}

// AcknowledgeAssignment records that the agent accepted the work and moves
// the queue-side task to executing.
func (o *Orchestrator) AcknowledgeAssignment(ctx context.Context, assignmentID string) error {
	if err := o.assignments.Acknowledge(ctx, assignmentID); err != nil {
		return err
	}
	if a, err := o.assignments.GetAssignment(assignmentID); err == nil {
		o.markTask(ctx, a.Task.TaskID, models.TaskStatusExecuting, "")
	}
	return nil
}

// ReportAssignmentProgress records agent-reported progress. A status change
// to validating is mirrored onto the queue-side task.
func (o *Orchestrator) ReportAssignmentProgress(ctx context.Context, assignmentID string, progress float64, status *models.TaskStatus, metadata map[string]any) error {
	if err := o.assignments.UpdateProgress(ctx, assignmentID, progress, status, metadata); err != nil {
		return err
	}
	if status != nil {
		if a, err := o.assignments.GetAssignment(assignmentID); err == nil {
			o.markTask(ctx, a.Task.TaskID, *status, "")
		}
	}
	return nil
}

// CompleteAssignment closes an assignment successfully, settles the task,
// frees the agent's slot, and feeds the outcome back into routing.
func (o *Orchestrator) CompleteAssignment(ctx context.Context, assignmentID string, result models.AssignmentResult) (*models.TaskAssignment, error) {
	a, err := o.assignments.CompleteAssignment(ctx, assignmentID, result)
	if err != nil {
		return nil, err
	}

	o.markTask(ctx, a.Task.TaskID, models.TaskStatusCompleted, "")
	o.releaseAgent(ctx, a.AgentID)
	o.feedOutcome(ctx, a, result.Success, result.Quality, result.LatencyMs)
	return a, nil
}

// FailAssignment closes an assignment as failed. When the task's attempt
// budget allows and the failure is retryable, the task goes back into the
// queue; otherwise it is failed for good. Reports whether a retry was
// scheduled.
func (o *Orchestrator) FailAssignment(ctx context.Context, assignmentID, errMsg string, canRetry bool) (*models.TaskAssignment, bool, error) {
	a, willRetry, err := o.assignments.FailAssignment(ctx, assignmentID, errMsg, canRetry)
	if err != nil {
		return nil, false, err
	}

	o.releaseAgent(ctx, a.AgentID)
	o.feedOutcome(ctx, a, false, 0, 0)

	if willRetry {
		if _, rqErr := o.queue.Requeue(ctx, a.Task, a.Task.Attempts+1); rqErr != nil {
			slog.Error("Requeueing failed assignment's task failed",
				"task_id", a.Task.TaskID,
				"error", rqErr)
			o.markTask(ctx, a.Task.TaskID, models.TaskStatusFailed, errMsg)
			return a, false, nil
		}
		return a, true, nil
	}

	o.markTask(ctx, a.Task.TaskID, models.TaskStatusFailed, errMsg)
	return a, false, nil
}

// ReportViolation runs the full arbitration pipeline for one detected
// violation: open a session, evaluate the configured rules, issue the
// verdict, and close the session. The completed session carries the
// verdict; waivers and appeals against it go through the engine afterward.
func (o *Orchestrator) ReportViolation(ctx context.Context, violation models.ConstitutionalViolation) (*models.ArbitrationSession, error) {
	session, err := o.arbitration.StartSession(ctx, violation)
	if err != nil {
		return nil, err
	}

	if _, err := o.arbitration.EvaluateRules(ctx, session.SessionID, o.cfg.Rules); err != nil {
		return nil, err
	}
	if _, err := o.arbitration.GenerateVerdict(ctx, session.SessionID); err != nil {
		return nil, err
	}
	return o.arbitration.CompleteSession(ctx, session.SessionID)
}

// ReportViolationWithCredentials runs the arbitration pipeline after an
// authorization check against the arbitrate permission.
func (o *Orchestrator) ReportViolationWithCredentials(ctx context.Context, violation models.ConstitutionalViolation, cred security.Credentials) (*models.ArbitrationSession, error) {
	if err := o.guard.Authorize(ctx, cred, security.PermArbitrateViolation, violation.RuleID); err != nil {
		return nil, err
	}
	return o.ReportViolation(ctx, violation)
}
