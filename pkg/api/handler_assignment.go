package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

func (s *Server) getAssignmentHandler(c *gin.Context) {
	a, err := s.orc.Assignment(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// ackAssignmentHandler confirms an agent accepted its assignment before the
// acknowledgment timer fires.
func (s *Server) ackAssignmentHandler(c *gin.Context) {
	assignmentID := c.Param("id")
	if err := s.orc.AcknowledgeAssignment(c.Request.Context(), assignmentID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged", "assignment_id": assignmentID})
}

func (s *Server) assignmentProgressHandler(c *gin.Context) {
	var req assignmentProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	assignmentID := c.Param("id")
	err := s.orc.ReportAssignmentProgress(c.Request.Context(), assignmentID, req.Progress, req.Status, req.Metadata)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded", "assignment_id": assignmentID})
}

func (s *Server) completeAssignmentHandler(c *gin.Context) {
	var result models.AssignmentResult
	if err := c.ShouldBindJSON(&result); err != nil {
		respondBindError(c, err)
		return
	}

	a, err := s.orc.CompleteAssignment(c.Request.Context(), c.Param("id"), result)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// failAssignmentHandler reports a failed assignment. The response says
// whether the task was requeued for another attempt.
func (s *Server) failAssignmentHandler(c *gin.Context) {
	var req failAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	a, requeued, err := s.orc.FailAssignment(c.Request.Context(), c.Param("id"), req.Error, req.CanRetry)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, failAssignmentResponse{Assignment: a, Requeued: requeued})
}
