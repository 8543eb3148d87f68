package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) healthHandler(c *gin.Context) {
	health := s.orc.Health(c.Request.Context())
	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

func (s *Server) statsHandler(c *gin.Context) {
	stats, err := s.orc.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// listEventsHandler queries the event journal. Filters combine as AND;
// repeatable type and severity parameters combine as OR within their
// dimension.
func (s *Server) listEventsHandler(c *gin.Context) {
	filter, limit, err := eventQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}

	matched := s.orc.Events(filter, limit)
	c.JSON(http.StatusOK, eventListResponse{Events: matched, Count: len(matched)})
}

func eventQuery(c *gin.Context) (events.Filter, int, error) {
	filter := events.Filter{
		Types:     c.QueryArray("type"),
		SessionID: c.Query("session_id"),
		AgentID:   c.Query("agent_id"),
		TaskID:    c.Query("task_id"),
	}
	for _, raw := range c.QueryArray("severity") {
		filter.Severities = append(filter.Severities, models.EventSeverity(raw))
	}

	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, 0, faults.Precondition("invalid since timestamp %q, want RFC3339", raw)
		}
		filter.Since = t
	}
	if raw := c.Query("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, 0, faults.Precondition("invalid until timestamp %q, want RFC3339", raw)
		}
		filter.Until = t
	}

	limit, err := listLimit(c)
	if err != nil {
		return filter, 0, err
	}
	return filter, limit, nil
}

// auditLogHandler returns recent authorization decisions, newest first.
func (s *Server) auditLogHandler(c *gin.Context) {
	limit, err := listLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}

	entries := s.orc.AuditLog(limit)
	c.JSON(http.StatusOK, auditLogResponse{Entries: entries, Count: len(entries)})
}

// listLimit parses the limit query parameter with a default and a hard cap.
func listLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, faults.Precondition("invalid limit %q", raw)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
