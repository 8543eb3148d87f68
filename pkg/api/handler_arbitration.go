package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// reportViolationHandler runs the full arbitration pipeline for one
// reported violation and returns the completed session with its verdict.
func (s *Server) reportViolationHandler(c *gin.Context) {
	var req reportViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if cred, ok := requestCredentials(c); ok {
		session, err := s.orc.ReportViolationWithCredentials(c.Request.Context(), req.violation(), cred)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, session)
		return
	}

	session, err := s.orc.ReportViolation(c.Request.Context(), req.violation())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// startSessionHandler opens an arbitration session without running the
// pipeline. Stepwise callers evaluate, collect waivers, and complete the
// session themselves; POST /violations is the one-shot alternative.
func (s *Server) startSessionHandler(c *gin.Context) {
	var req reportViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	session, err := s.orc.Arbitration().StartSession(c.Request.Context(), req.violation())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// evaluateSessionHandler runs the configured rule set against the
// session's violation.
func (s *Server) evaluateSessionHandler(c *gin.Context) {
	results, err := s.orc.Arbitration().EvaluateRules(c.Request.Context(), c.Param("id"), s.orc.Rules())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ruleEvaluationResponse{Results: results, Count: len(results)})
}

func (s *Server) sessionVerdictHandler(c *gin.Context) {
	verdict, err := s.orc.Arbitration().GenerateVerdict(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

func (s *Server) completeSessionHandler(c *gin.Context) {
	session, err := s.orc.Arbitration().CompleteSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) failSessionHandler(c *gin.Context) {
	var req failSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	sessionID := c.Param("id")
	if err := s.orc.Arbitration().FailSession(c.Request.Context(), sessionID, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "failed", "session_id": sessionID})
}

func (s *Server) listSessionsHandler(c *gin.Context) {
	sessions, err := s.orc.Arbitration().Sessions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionListResponse{Sessions: sessions, Count: len(sessions)})
}

func (s *Server) getSessionHandler(c *gin.Context) {
	session, err := s.orc.Arbitration().GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// submitWaiverHandler asks for a rule waiver on a session holding a
// verdict. The decision is deterministic; the response carries it directly.
func (s *Server) submitWaiverHandler(c *gin.Context) {
	var req models.WaiverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	decision, err := s.orc.Arbitration().SubmitWaiver(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (s *Server) submitAppealHandler(c *gin.Context) {
	var appeal models.Appeal
	if err := c.ShouldBindJSON(&appeal); err != nil {
		respondBindError(c, err)
		return
	}

	accepted, err := s.orc.Arbitration().SubmitAppeal(c.Request.Context(), c.Param("id"), &appeal)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, accepted)
}

func (s *Server) reviewAppealHandler(c *gin.Context) {
	reviewed, err := s.orc.Arbitration().ReviewAppeal(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reviewed)
}

// listPrecedentsHandler returns stored precedents. With category, severity,
// or fact parameters it runs a similarity lookup instead of a full listing.
func (s *Server) listPrecedentsHandler(c *gin.Context) {
	manager := s.orc.Arbitration().Precedents()

	category := c.Query("category")
	severity := c.Query("severity")
	facts := c.QueryArray("fact")

	if category == "" && severity == "" && len(facts) == 0 {
		all := manager.All()
		c.JSON(http.StatusOK, precedentListResponse{Precedents: all, Count: len(all)})
		return
	}

	matches := manager.FindSimilar(c.Request.Context(), category, models.RuleSeverity(severity), facts)
	c.JSON(http.StatusOK, precedentListResponse{Precedents: matches, Count: len(matches)})
}

func (s *Server) getPrecedentHandler(c *gin.Context) {
	id := c.Param("id")
	p, ok := s.orc.Arbitration().Precedents().Get(id)
	if !ok {
		respondError(c, faults.NotFound("precedent %s not found", id))
		return
	}
	c.JSON(http.StatusOK, p)
}
