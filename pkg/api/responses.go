package api

import (
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/security"
)

// List responses wrap their items with a count so clients can page without
// re-counting.

type taskListResponse struct {
	Tasks []*models.TaskState `json:"tasks"`
	Count int                 `json:"count"`
}

type agentListResponse struct {
	Agents []*models.AgentProfile `json:"agents"`
	Count  int                    `json:"count"`
}

type sessionListResponse struct {
	Sessions []*models.ArbitrationSession `json:"sessions"`
	Count    int                          `json:"count"`
}

type precedentListResponse struct {
	Precedents []*models.Precedent `json:"precedents"`
	Count      int                 `json:"count"`
}

type eventListResponse struct {
	Events []models.Event `json:"events"`
	Count  int            `json:"count"`
}

type auditLogResponse struct {
	Entries []security.AuditEntry `json:"entries"`
	Count   int                   `json:"count"`
}

type failAssignmentResponse struct {
	Assignment *models.TaskAssignment `json:"assignment"`
	Requeued   bool                   `json:"requeued"`
}

type ruleEvaluationResponse struct {
	Results []models.RuleEvaluationResult `json:"results"`
	Count   int                           `json:"count"`
}
