package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/orchestrator"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/security"
)

func TestStats_CoversAllSubsystems(t *testing.T) {
	s := newTestServer(t, nil)

	doRequest(t, s, http.MethodPost, "/api/v1/tasks", submitTaskBody())
	doRequest(t, s, http.MethodPost, "/api/v1/agents", registerAgentBody("agent-1"))

	rec := doRequest(t, s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats orchestrator.Stats
	decodeJSON(t, rec, &stats)
	assert.Equal(t, uint64(1), stats.Queue.TotalEnqueued)
	assert.Equal(t, 1, stats.Queue.Depth)
	assert.Equal(t, 1, stats.Registry.TotalAgents)
}

func TestEvents_FilterByType(t *testing.T) {
	s := newTestServer(t, nil)

	doRequest(t, s, http.MethodPost, "/api/v1/tasks", submitTaskBody())
	doRequest(t, s, http.MethodPost, "/api/v1/agents", registerAgentBody("agent-1"))

	rec := doRequest(t, s, http.MethodGet, "/api/v1/events?type=task.enqueued", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list eventListResponse
	decodeJSON(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "task.enqueued", list.Events[0].Type)
	assert.Equal(t, "task-1", list.Events[0].TaskID)
}

func TestEvents_RejectsBadParameters(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/events?limit=lots", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/events?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditLog_EmptyWhenSecurityDisabled(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var log auditLogResponse
	decodeJSON(t, rec, &log)
	assert.Zero(t, log.Count)
}

// TestSubmitTask_BearerTokenAuthorization exercises the credential path:
// a wrong token is denied and audited, the right token goes through.
func TestSubmitTask_BearerTokenAuthorization(t *testing.T) {
	t.Setenv("ARBITER_API_TOKEN", "sekrit")

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Security.Enabled = true
		cfg.Security.Principals = []config.PrincipalConfig{{
			Actor:    "ops",
			TokenEnv: "ARBITER_API_TOKEN",
			Roles:    []string{"submitter"},
		}}
	})

	rec := doAuthedRequest(t, s, http.MethodPost, "/api/v1/tasks", submitTaskBody(), "wrong", "ops")
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	var errResp errorBody
	decodeJSON(t, rec, &errResp)
	assert.Equal(t, "authorization", errResp.Kind)

	rec = doAuthedRequest(t, s, http.MethodPost, "/api/v1/tasks", submitTaskBody(), "sekrit", "ops")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, s, http.MethodGet, "/api/v1/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var log auditLogResponse
	decodeJSON(t, rec, &log)
	require.GreaterOrEqual(t, log.Count, 2)
	assert.Equal(t, security.DecisionAllowed, log.Entries[0].Decision)
	assert.Equal(t, security.DecisionDenied, log.Entries[1].Decision)
	assert.Equal(t, "ops", log.Entries[0].Actor)
}

func TestSubmitTask_RoleWithoutPermissionIsDenied(t *testing.T) {
	t.Setenv("ARBITER_API_TOKEN", "sekrit")

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Security.Enabled = true
		cfg.Security.Principals = []config.PrincipalConfig{{
			Actor:    "watcher",
			TokenEnv: "ARBITER_API_TOKEN",
			Roles:    []string{"viewer"},
		}}
	})

	rec := doAuthedRequest(t, s, http.MethodPost, "/api/v1/tasks", submitTaskBody(), "sekrit", "watcher")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
