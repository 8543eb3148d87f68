package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/orchestrator"
)

// submitTaskHandler accepts a task for routing. Requests carrying a bearer
// token go through the authorization path; anonymous requests rely on the
// security context being disabled.
func (s *Server) submitTaskHandler(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if cred, ok := requestCredentials(c); ok {
		st, err := s.orc.SubmitTaskWithCredentials(c.Request.Context(), req.task(), cred)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, st)
		return
	}

	st, err := s.orc.SubmitTask(c.Request.Context(), req.task())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (s *Server) listTasksHandler(c *gin.Context) {
	tasks, err := s.orc.Tasks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskListResponse{Tasks: tasks, Count: len(tasks)})
}

func (s *Server) getTaskHandler(c *gin.Context) {
	state, err := s.orc.TaskState(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) cancelTaskHandler(c *gin.Context) {
	taskID := c.Param("id")
	if err := s.orc.CancelTask(c.Request.Context(), taskID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled", "task_id": taskID})
}

// taskProgressHandler reports budget burn and alerts for a live task.
// Optional warn_pct and critical_pct query parameters override the default
// alert thresholds.
func (s *Server) taskProgressHandler(c *gin.Context) {
	thresholds, err := progressThresholds(c)
	if err != nil {
		respondError(c, err)
		return
	}

	report, err := s.orc.MonitorProgress(c.Request.Context(), c.Param("id"), thresholds)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func progressThresholds(c *gin.Context) (*orchestrator.ProgressThresholds, error) {
	warnRaw, warnSet := c.GetQuery("warn_pct")
	criticalRaw, criticalSet := c.GetQuery("critical_pct")
	if !warnSet && !criticalSet {
		return nil, nil
	}

	t := orchestrator.DefaultProgressThresholds()
	if warnSet {
		v, err := strconv.ParseFloat(warnRaw, 64)
		if err != nil {
			return nil, faults.Precondition("invalid warn_pct %q", warnRaw)
		}
		t.BudgetWarnPct = v
	}
	if criticalSet {
		v, err := strconv.ParseFloat(criticalRaw, 64)
		if err != nil {
			return nil, faults.Precondition("invalid critical_pct %q", criticalRaw)
		}
		t.BudgetCriticalPct = v
	}
	return &t, nil
}

func (s *Server) taskAssignmentHandler(c *gin.Context) {
	a, err := s.orc.AssignmentByTask(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// validateTaskHandler checks a task spec without submitting it. Invalid
// specs are a 200 with valid=false; only malformed JSON is an error.
func (s *Server) validateTaskHandler(c *gin.Context) {
	var spec orchestrator.TaskSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondBindError(c, err)
		return
	}

	opts := orchestrator.ValidateOptions{Strict: c.Query("strict") == "true"}
	c.JSON(http.StatusOK, s.orc.ValidateTaskSpec(&spec, opts))
}

// planTaskHandler previews which agent would take a task without enqueueing
// it or charging the routing statistics.
func (s *Server) planTaskHandler(c *gin.Context) {
	var req planTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	plan, err := s.orc.AssignTask(c.Request.Context(), req.Spec, req.AvailableAgents, req.Strategy, req.Priority)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// deliveryVerdictHandler adjudicates a delivered task against its spec and
// reported artifacts.
func (s *Server) deliveryVerdictHandler(c *gin.Context) {
	var req deliveryVerdictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	verdict, err := s.orc.GenerateVerdict(c.Request.Context(), c.Param("id"), req.Spec, req.Artifacts, req.QualityGates)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}
