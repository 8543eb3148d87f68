package routing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// explorationConfidenceCeiling classifies a decision as exploratory for
// the stats counters when its confidence falls below it.
const explorationConfidenceCeiling = 0.8

// CandidateSource supplies routable agents and absorbs their outcomes.
// *registry.Registry satisfies it.
type CandidateSource interface {
	GetAgentsByCapability(query models.CapabilityQuery) []models.ScoredAgent
	UpdatePerformance(ctx context.Context, agentID string, update models.PerformanceUpdate) error
}

// Stats is the router's observable state.
type Stats struct {
	TotalDecisions    uint64  `json:"total_decisions"`
	ExplorationCount  uint64  `json:"exploration_count"`
	ExploitationCount uint64  `json:"exploitation_count"`
	FailedRoutes      uint64  `json:"failed_routes"`
	AverageDecisionMs float64 `json:"average_decision_ms"`
	HistoryDepth      int     `json:"history_depth"`
}

// Router matches tasks to agents. Candidates come from the registry
// filtered by the task's required capabilities; selection goes through
// the bandit when enabled, otherwise through capability-match scoring.
// Decisions are kept in a bounded ring for introspection.
type Router struct {
	cfg     *config.RoutingConfig
	source  CandidateSource
	bandit  *Bandit
	emitter events.Emitter

	mu                sync.Mutex
	history           []*models.RoutingDecision
	head              int
	size              int
	totalDecisions    uint64
	explorationCount  uint64
	exploitationCount uint64
	failedRoutes      uint64
	averageDecisionMs float64
}

// NewRouter creates a router over the given candidate source. bandit and
// emitter may be nil; a nil bandit forces capability-match selection.
func NewRouter(cfg *config.RoutingConfig, source CandidateSource, bandit *Bandit, emitter events.Emitter) *Router {
	return &Router{
		cfg:     cfg,
		source:  source,
		bandit:  bandit,
		emitter: emitter,
		history: make([]*models.RoutingDecision, 0, cfg.HistorySize),
	}
}

// RouteTask selects an agent for the task using the configured default
// strategy. Returns a not-found fault when no agent matches the task's
// requirements and a precondition fault when too few do.
func (r *Router) RouteTask(ctx context.Context, task *models.Task) (*models.RoutingDecision, error) {
	if task == nil {
		return nil, faults.Precondition("task is required")
	}
	start := time.Now()

	candidates := r.source.GetAgentsByCapability(r.buildQuery(task))
	if len(candidates) == 0 {
		r.recordFailure()
		return nil, faults.NotFound("no agents match task requirements").
			With("task_id", task.TaskID).
			With("task_type", string(task.Type))
	}
	if len(candidates) < r.cfg.MinAgentsRequired {
		r.recordFailure()
		return nil, faults.Precondition("%d agents available, %d required", len(candidates), r.cfg.MinAgentsRequired).
			With("task_id", task.TaskID)
	}
	if len(candidates) > r.cfg.MaxAgentsToConsider {
		candidates = candidates[:r.cfg.MaxAgentsToConsider]
	}

	strategy := r.cfg.DefaultStrategy
	var decision *models.RoutingDecision
	if r.banditEligible(strategy) {
		decision = r.bandit.CreateRoutingDecision(task.TaskID, candidates)
		decision.Strategy = strategy
	} else {
		decision = r.matchByCapability(task.TaskID, candidates)
	}

	elapsed := time.Since(start)
	if elapsed > r.cfg.MaxRoutingTime {
		slog.Warn("Routing exceeded time budget",
			"task_id", task.TaskID,
			"elapsed", elapsed,
			"budget", r.cfg.MaxRoutingTime)
	}
	r.recordDecision(decision, elapsed)

	r.emit(ctx, models.Event{
		Type:     events.EventTypeRoutingDecided,
		Severity: models.SeverityInfo,
		Source:   "router",
		TaskID:   task.TaskID,
		AgentID:  decision.SelectedAgent,
		Metadata: map[string]any{
			"strategy":   string(decision.Strategy),
			"confidence": decision.Confidence,
			"candidates": len(candidates),
			"elapsed_ms": float64(elapsed.Microseconds()) / 1000,
		},
	})
	return decision, nil
}

// RecordOutcome feeds one task result back into the registry's
// performance averages and, on success, the bandit's arm for the agent.
func (r *Router) RecordOutcome(ctx context.Context, outcome models.RoutingOutcome) error {
	err := r.source.UpdatePerformance(ctx, outcome.AgentID, models.PerformanceUpdate{
		Success:   outcome.Success,
		Quality:   outcome.Quality,
		LatencyMs: outcome.LatencyMs,
	})
	if err != nil {
		return err
	}
	if r.bandit != nil {
		r.bandit.RecordOutcome(outcome.AgentID, outcome.Success, outcome.Quality, outcome.LatencyMs)
	}
	return nil
}

// History returns up to limit decisions, most recent first. limit <= 0
// returns the whole ring.
func (r *Router) History(limit int) []*models.RoutingDecision {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*models.RoutingDecision, 0, n)
	for i := range n {
		idx := (r.head - 1 - i + len(r.history)) % len(r.history)
		out = append(out, r.history[idx])
	}
	return out
}

// Stats snapshots the router's counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		TotalDecisions:    r.totalDecisions,
		ExplorationCount:  r.explorationCount,
		ExploitationCount: r.exploitationCount,
		FailedRoutes:      r.failedRoutes,
		AverageDecisionMs: r.averageDecisionMs,
		HistoryDepth:      r.size,
	}
}

func (r *Router) buildQuery(task *models.Task) models.CapabilityQuery {
	maxUtil := r.cfg.MaxUtilization
	minSuccess := r.cfg.MinSuccessRate
	query := models.CapabilityQuery{
		TaskType:       task.Type,
		MaxUtilization: &maxUtil,
		MinSuccessRate: &minSuccess,
	}
	if task.RequiredCapabilities != nil {
		query.Languages = task.RequiredCapabilities.Languages
		query.Specializations = task.RequiredCapabilities.Specializations
	}
	return query
}

func (r *Router) banditEligible(strategy models.RoutingStrategy) bool {
	if r.bandit == nil || !r.cfg.EnableBandit {
		return false
	}
	return strategy == models.RoutingStrategyBandit || strategy == models.RoutingStrategyEpsilonGreedy
}

// matchByCapability picks the first candidate; the source returns them
// ordered by success rate with match score as the tie-break. Confidence
// compares the pick's match score against the best one in the list.
func (r *Router) matchByCapability(taskID string, candidates []models.ScoredAgent) *models.RoutingDecision {
	selected := candidates[0]
	bestScore := selected.MatchScore
	for _, c := range candidates[1:] {
		if c.MatchScore > bestScore {
			bestScore = c.MatchScore
		}
	}

	alternatives := make([]models.RoutingAlternative, 0, len(candidates)-1)
	for _, c := range candidates[1:] {
		alternatives = append(alternatives, models.RoutingAlternative{
			Agent:  c.Profile.AgentID,
			Score:  c.MatchScore,
			Reason: fmt.Sprintf("match score %.3f", c.MatchScore),
		})
	}

	return &models.RoutingDecision{
		ID:            "route-" + uuid.NewString(),
		TaskID:        taskID,
		SelectedAgent: selected.Profile.AgentID,
		Confidence:    math.Max(selected.MatchScore, confidenceEpsilon) / math.Max(bestScore, confidenceEpsilon),
		Reason: fmt.Sprintf("success rate %.2f, match score %.3f",
			selected.Profile.Performance.SuccessRate, selected.MatchScore),
		Strategy:     models.RoutingStrategyCapabilityMatch,
		Alternatives: alternatives,
		Timestamp:    time.Now().UTC(),
	}
}

func (r *Router) recordDecision(decision *models.RoutingDecision, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.HistorySize > 0 {
		if len(r.history) < r.cfg.HistorySize {
			r.history = append(r.history, decision)
			r.head = len(r.history) % r.cfg.HistorySize
			r.size = len(r.history)
		} else {
			r.history[r.head] = decision
			r.head = (r.head + 1) % r.cfg.HistorySize
		}
	}

	elapsedMs := float64(elapsed.Microseconds()) / 1000
	r.averageDecisionMs = models.IncrementalMean(r.averageDecisionMs, elapsedMs, int(r.totalDecisions))
	r.totalDecisions++
	if decision.Confidence < explorationConfidenceCeiling {
		r.explorationCount++
	} else {
		r.exploitationCount++
	}
}

func (r *Router) recordFailure() {
	r.mu.Lock()
	r.failedRoutes++
	r.mu.Unlock()
}

func (r *Router) emit(ctx context.Context, event models.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(ctx, event)
}
