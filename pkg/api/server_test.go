package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/orchestrator"
)

// newTestServer starts an orchestrator without dispatch workers so task
// state only moves when a handler moves it.
func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg, err := config.Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	cfg.Dispatch.WorkerCount = 0
	if mutate != nil {
		mutate(cfg)
	}

	orc, err := orchestrator.New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, orc.Start(context.Background()))
	t.Cleanup(func() { orc.Shutdown(context.Background()) })

	return NewServer(orc)
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func doAuthedRequest(t *testing.T, s *Server, method, path string, body any, token, actor string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Arbiter-Actor", actor)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), "body: %s", rec.Body.String())
}

// ruleFixture is a waivable rule matching high and critical violations.
func ruleFixture(cfg *config.Config) {
	cfg.Rules = []models.ConstitutionalRule{{
		ID:            "rule-1",
		Version:       "1.0",
		Category:      "code-quality",
		Title:         "No direct pushes to protected branches",
		Condition:     `violation.severity in ["high", "critical"]`,
		Severity:      models.RuleSeverityHigh,
		Waivable:      true,
		EffectiveDate: time.Now().Add(-time.Hour),
	}}
}

func TestServer_HealthEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/api/v1/health"} {
		rec := doRequest(t, s, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, "path %s", path)

		var health orchestrator.Health
		decodeJSON(t, rec, &health)
		assert.Equal(t, "healthy", health.Status)
		assert.NotEmpty(t, health.Version)
		assert.Nil(t, health.Database)
	}
}

func TestServer_SecurityHeadersOnEveryResponse(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rec.Header().Get("Permissions-Policy"))
}

func TestServer_UnknownRouteIs404(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/frobnicators", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
