package api

import (
	"time"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/orchestrator"
)

// submitTaskRequest is the body of POST /tasks. Omitted task_id, timeout,
// and attempt limits fall to queue defaults.
type submitTaskRequest struct {
	TaskID               string                    `json:"task_id"`
	Type                 models.TaskType           `json:"type" binding:"required"`
	Description          string                    `json:"description"`
	Priority             int                       `json:"priority"`
	TimeoutMs            int64                     `json:"timeout_ms"`
	MaxAttempts          int                       `json:"max_attempts"`
	RequiredCapabilities *models.AgentCapabilities `json:"required_capabilities"`
	Budget               *models.TaskBudget        `json:"budget"`
	Deadline             *time.Time                `json:"deadline"`
	Metadata             map[string]any            `json:"metadata"`
}

func (r *submitTaskRequest) task() *models.Task {
	return &models.Task{
		TaskID:               r.TaskID,
		Type:                 r.Type,
		Description:          r.Description,
		Priority:             r.Priority,
		TimeoutMs:            r.TimeoutMs,
		MaxAttempts:          r.MaxAttempts,
		RequiredCapabilities: r.RequiredCapabilities,
		Budget:               r.Budget,
		Deadline:             r.Deadline,
		Metadata:             r.Metadata,
	}
}

// registerAgentRequest is the body of POST /agents.
type registerAgentRequest struct {
	AgentID      string                   `json:"agent_id" binding:"required"`
	Name         string                   `json:"name"`
	ModelFamily  models.ModelFamily       `json:"model_family"`
	Capabilities models.AgentCapabilities `json:"capabilities"`
}

func (r *registerAgentRequest) profile() *models.AgentProfile {
	return &models.AgentProfile{
		AgentID:      r.AgentID,
		Name:         r.Name,
		ModelFamily:  r.ModelFamily,
		Capabilities: r.Capabilities,
	}
}

// assignmentProgressRequest is the body of POST /assignments/:id/progress.
// Status is optional; when present it moves the task alongside the
// progress fraction.
type assignmentProgressRequest struct {
	Progress float64            `json:"progress"`
	Status   *models.TaskStatus `json:"status"`
	Metadata map[string]any     `json:"metadata"`
}

// failAssignmentRequest is the body of POST /assignments/:id/fail.
type failAssignmentRequest struct {
	Error    string `json:"error" binding:"required"`
	CanRetry bool   `json:"can_retry"`
}

// reportViolationRequest is the body of POST /violations.
type reportViolationRequest struct {
	ID          string              `json:"id"`
	RuleID      string              `json:"rule_id" binding:"required"`
	Severity    models.RuleSeverity `json:"severity" binding:"required"`
	Description string              `json:"description" binding:"required"`
	Evidence    []string            `json:"evidence"`
	Violator    string              `json:"violator"`
	Location    string              `json:"location"`
	Context     map[string]any      `json:"context"`
	DetectedAt  *time.Time          `json:"detected_at"`
}

func (r *reportViolationRequest) violation() models.ConstitutionalViolation {
	v := models.ConstitutionalViolation{
		ID:          r.ID,
		RuleID:      r.RuleID,
		Severity:    r.Severity,
		Description: r.Description,
		Evidence:    r.Evidence,
		Violator:    r.Violator,
		Location:    r.Location,
		Context:     r.Context,
		DetectedAt:  time.Now().UTC(),
	}
	if r.DetectedAt != nil {
		v.DetectedAt = *r.DetectedAt
	}
	return v
}

// failSessionRequest is the body of POST /sessions/:id/fail.
type failSessionRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// planTaskRequest is the body of POST /tasks/plan. An empty agent list
// means every registered agent is a candidate; an empty strategy falls to
// the configured default.
type planTaskRequest struct {
	Spec            *orchestrator.TaskSpec `json:"spec" binding:"required"`
	AvailableAgents []string               `json:"available_agents"`
	Strategy        models.RoutingStrategy `json:"strategy"`
	Priority        int                    `json:"priority"`
}

// deliveryVerdictRequest is the body of POST /tasks/:id/verdict.
type deliveryVerdictRequest struct {
	Spec         *orchestrator.TaskSpec          `json:"spec" binding:"required"`
	Artifacts    *orchestrator.DeliveryArtifacts `json:"artifacts" binding:"required"`
	QualityGates []orchestrator.QualityGate      `json:"quality_gates"`
}
