package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

func (s *Server) registerAgentHandler(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if cred, ok := requestCredentials(c); ok {
		profile, err := s.orc.RegisterAgentWithCredentials(c.Request.Context(), req.profile(), cred)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, profile)
		return
	}

	profile, err := s.orc.RegisterAgent(c.Request.Context(), req.profile())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

func (s *Server) listAgentsHandler(c *gin.Context) {
	agents := s.orc.Agents()
	c.JSON(http.StatusOK, agentListResponse{Agents: agents, Count: len(agents)})
}

func (s *Server) getAgentHandler(c *gin.Context) {
	profile, err := s.orc.AgentProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) unregisterAgentHandler(c *gin.Context) {
	agentID := c.Param("id")
	if err := s.orc.UnregisterAgent(c.Request.Context(), agentID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unregistered", "agent_id": agentID})
}

// agentPerformanceHandler folds one externally observed task outcome into
// the agent's running averages.
func (s *Server) agentPerformanceHandler(c *gin.Context) {
	var update models.PerformanceUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		respondBindError(c, err)
		return
	}

	agentID := c.Param("id")
	if err := s.orc.UpdateAgentPerformance(c.Request.Context(), agentID, update); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded", "agent_id": agentID})
}
