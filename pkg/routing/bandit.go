// Package routing selects the agent for each task: a multi-armed bandit
// balancing exploration against observed reward, with a capability-match
// fallback, wrapped by the router that enforces candidate filters and the
// routing SLA.
package routing

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// Reward blend weights: success dominates, quality refines, latency nudges.
const (
	rewardWeightSuccess = 0.6
	rewardWeightQuality = 0.3
	rewardWeightLatency = 0.1
)

// confidenceEpsilon keeps the confidence ratio defined when every
// candidate score is zero (all arms unpulled).
const confidenceEpsilon = 1e-9

// arm is the per-agent bandit state.
type arm struct {
	pulls      int
	rewardSum  float64
	qualitySum float64
	latencySum float64
}

func (a *arm) mean() float64 {
	return a.rewardSum / math.Max(float64(a.pulls), 1)
}

// ArmStats is the readable view of one arm.
type ArmStats struct {
	Pulls            int     `json:"pulls"`
	MeanReward       float64 `json:"mean_reward"`
	AverageQuality   float64 `json:"average_quality"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// BanditStats snapshots the bandit for introspection.
type BanditStats struct {
	ExplorationRate float64             `json:"exploration_rate"`
	TotalSelections uint64              `json:"total_selections"`
	Arms            map[string]ArmStats `json:"arms"`
}

// Bandit is an epsilon-greedy multi-armed bandit with an optional UCB
// term. The exploration rate decays multiplicatively per selection down
// to the configured floor; agents with fewer than MinSampleSize pulls
// keep an undamped exploration bonus so new arrivals get sampled.
type Bandit struct {
	cfg *config.BanditConfig

	mu              sync.Mutex
	arms            map[string]*arm
	explorationRate float64
	totalSelections uint64
}

// NewBandit creates a bandit with no arm state.
func NewBandit(cfg *config.BanditConfig) *Bandit {
	return &Bandit{
		cfg:             cfg,
		arms:            make(map[string]*arm),
		explorationRate: cfg.ExplorationRate,
	}
}

// CreateRoutingDecision picks one candidate and explains the choice. With
// probability explorationRate the pick is uniform over the candidates;
// otherwise it is the score argmax. Candidates must be non-empty.
func (b *Bandit) CreateRoutingDecision(taskID string, candidates []models.ScoredAgent) *models.RoutingDecision {
	b.mu.Lock()
	defer b.mu.Unlock()

	scores := make([]float64, len(candidates))
	totalPulls := 0
	for _, c := range candidates {
		if a, ok := b.arms[c.Profile.AgentID]; ok {
			totalPulls += a.pulls
		}
	}
	best := 0
	for i, c := range candidates {
		scores[i] = b.scoreLocked(c.Profile.AgentID, totalPulls)
		if scores[i] > scores[best] {
			best = i
		}
	}

	explored := rand.Float64() < b.explorationRate
	selected := best
	reason := fmt.Sprintf("highest score %.3f", scores[best])
	if explored {
		selected = rand.IntN(len(candidates))
		reason = fmt.Sprintf("exploration draw (ε=%.3f)", b.explorationRate)
	}

	b.explorationRate = math.Max(b.explorationRate*b.cfg.DecayFactor, b.cfg.MinExplorationRate)
	b.totalSelections++

	confidence := math.Max(scores[selected], confidenceEpsilon) / math.Max(scores[best], confidenceEpsilon)

	alternatives := make([]models.RoutingAlternative, 0, len(candidates)-1)
	for i, c := range candidates {
		if i == selected {
			continue
		}
		alternatives = append(alternatives, models.RoutingAlternative{
			Agent:  c.Profile.AgentID,
			Score:  scores[i],
			Reason: fmt.Sprintf("score %.3f", scores[i]),
		})
	}

	return &models.RoutingDecision{
		ID:            "route-" + uuid.NewString(),
		TaskID:        taskID,
		SelectedAgent: candidates[selected].Profile.AgentID,
		Confidence:    confidence,
		Reason:        reason,
		Strategy:      models.RoutingStrategyBandit,
		Alternatives:  alternatives,
		Timestamp:     time.Now().UTC(),
	}
}

// scoreLocked computes mean reward plus the exploration term. Agents
// below MinSampleSize pulls keep the full (undamped) bonus; seasoned
// agents have theirs divided by their pull count. Caller holds b.mu.
func (b *Bandit) scoreLocked(agentID string, totalPulls int) float64 {
	a := b.arms[agentID]
	if a == nil {
		a = &arm{}
	}

	score := a.mean()

	denominator := math.Max(float64(a.pulls), float64(b.cfg.MinSampleSize))
	newAgent := a.pulls < b.cfg.MinSampleSize
	if newAgent {
		denominator = math.Max(float64(a.pulls), 1)
	}
	if b.cfg.UseUCB || newAgent {
		score += b.cfg.UCBConstant * math.Sqrt(math.Log(math.Max(float64(totalPulls), 1))/denominator)
	}
	return score
}

// RecordOutcome folds one observed task result into the agent's arm.
// Reward blends success, quality, and normalized latency.
func (b *Bandit) RecordOutcome(agentID string, success bool, quality, latencyMs float64) {
	successTerm := 0.0
	if success {
		successTerm = 1.0
	}
	latencyPenalty := models.Clamp(latencyMs/b.cfg.MaxLatencyMs, 0, 1)
	reward := successTerm*rewardWeightSuccess + quality*rewardWeightQuality + (1-latencyPenalty)*rewardWeightLatency

	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.arms[agentID]
	if !ok {
		a = &arm{}
		b.arms[agentID] = a
	}
	a.pulls++
	a.rewardSum += reward
	a.qualitySum += quality
	a.latencySum += latencyMs
}

// Forget drops an agent's arm, e.g. after unregistration.
func (b *Bandit) Forget(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.arms, agentID)
}

// Stats snapshots all arms and the current exploration rate.
func (b *Bandit) Stats() BanditStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := BanditStats{
		ExplorationRate: b.explorationRate,
		TotalSelections: b.totalSelections,
		Arms:            make(map[string]ArmStats, len(b.arms)),
	}
	for id, a := range b.arms {
		pulls := math.Max(float64(a.pulls), 1)
		stats.Arms[id] = ArmStats{
			Pulls:            a.pulls,
			MeanReward:       a.mean(),
			AverageQuality:   a.qualitySum / pulls,
			AverageLatencyMs: a.latencySum / pulls,
		}
	}
	return stats
}
