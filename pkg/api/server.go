// Package api exposes the orchestrator over HTTP. Handlers are thin: they
// parse and bind, call one orchestrator operation, and translate faults to
// statuses. All domain decisions stay behind the orchestrator boundary.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/orchestrator"
)

// Server hosts the REST surface for one orchestrator instance.
type Server struct {
	orc    *orchestrator.Orchestrator
	engine *gin.Engine
	http   *http.Server
}

// NewServer builds the router and wires every route. The server does not
// listen until Start is called.
func NewServer(orc *orchestrator.Orchestrator) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{orc: orc}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	engine.Use(securityHeaders())
	engine.Use(credentialsExtractor())

	s.registerRoutes(engine)
	s.engine = engine
	return s
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	// Probe endpoint outside the versioned prefix so load balancers do not
	// need to know the API version.
	engine.GET("/healthz", s.healthHandler)

	v1 := engine.Group("/api/v1")

	v1.POST("/tasks", s.submitTaskHandler)
	v1.GET("/tasks", s.listTasksHandler)
	v1.POST("/tasks/validate", s.validateTaskHandler)
	v1.POST("/tasks/plan", s.planTaskHandler)
	v1.GET("/tasks/:id", s.getTaskHandler)
	v1.POST("/tasks/:id/cancel", s.cancelTaskHandler)
	v1.GET("/tasks/:id/progress", s.taskProgressHandler)
	v1.GET("/tasks/:id/assignment", s.taskAssignmentHandler)
	v1.POST("/tasks/:id/verdict", s.deliveryVerdictHandler)

	v1.POST("/agents", s.registerAgentHandler)
	v1.GET("/agents", s.listAgentsHandler)
	v1.GET("/agents/:id", s.getAgentHandler)
	v1.DELETE("/agents/:id", s.unregisterAgentHandler)
	v1.POST("/agents/:id/performance", s.agentPerformanceHandler)

	v1.GET("/assignments/:id", s.getAssignmentHandler)
	v1.POST("/assignments/:id/ack", s.ackAssignmentHandler)
	v1.POST("/assignments/:id/progress", s.assignmentProgressHandler)
	v1.POST("/assignments/:id/complete", s.completeAssignmentHandler)
	v1.POST("/assignments/:id/fail", s.failAssignmentHandler)

	v1.POST("/violations", s.reportViolationHandler)
	v1.POST("/sessions", s.startSessionHandler)
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.POST("/sessions/:id/evaluate", s.evaluateSessionHandler)
	v1.POST("/sessions/:id/verdict", s.sessionVerdictHandler)
	v1.POST("/sessions/:id/complete", s.completeSessionHandler)
	v1.POST("/sessions/:id/fail", s.failSessionHandler)
	v1.POST("/sessions/:id/waiver", s.submitWaiverHandler)
	v1.POST("/sessions/:id/appeal", s.submitAppealHandler)
	v1.POST("/sessions/:id/appeal/review", s.reviewAppealHandler)
	v1.GET("/precedents", s.listPrecedentsHandler)
	v1.GET("/precedents/:id", s.getPrecedentHandler)

	v1.GET("/events", s.listEventsHandler)
	v1.GET("/audit", s.auditLogHandler)
	v1.GET("/health", s.healthHandler)
	v1.GET("/stats", s.statsHandler)
}

// Router exposes the underlying engine for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.engine
}

// Start begins serving on addr and blocks until the listener fails or the
// server is shut down. http.ErrServerClosed is returned on clean shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server listening", "addr", addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
