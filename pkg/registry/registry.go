// Package registry tracks the agents available for task routing: their
// declared capabilities, running performance averages, and live load.
// A single mutex serializes writes; every profile handed out is a clone,
// so readers never observe in-place mutation.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/security"
)

// ProfileStore persists agent profiles across restarts. LoadAgent returns
// (nil, nil) when the agent is unknown. A nil ProfileStore disables
// persistence entirely.
type ProfileStore interface {
	SaveAgent(ctx context.Context, profile *models.AgentProfile) error
	LoadAgent(ctx context.Context, agentID string) (*models.AgentProfile, error)
	LoadAgents(ctx context.Context) ([]*models.AgentProfile, error)
	DeleteAgent(ctx context.Context, agentID string) error
}

// Stats is a point-in-time aggregate over the registered agents.
type Stats struct {
	TotalAgents        int                     `json:"total_agents"`
	TotalRegistered    uint64                  `json:"total_registered"`
	TotalUnregistered  uint64                  `json:"total_unregistered"`
	StaleEvicted       uint64                  `json:"stale_evicted"`
	AverageUtilization float64                 `json:"average_utilization"`
	AverageSuccessRate float64                 `json:"average_success_rate"`
	AgentsByTaskType   map[models.TaskType]int `json:"agents_by_task_type"`
}

// Registry is the in-memory agent directory. Registration and removal
// write through to the store inside the critical section; performance and
// load updates persist best-effort.
type Registry struct {
	cfg     *config.RegistryConfig
	store   ProfileStore
	guard   *security.Context
	emitter events.Emitter

	mu     sync.RWMutex
	agents map[string]*models.AgentProfile

	totalRegistered   uint64
	totalUnregistered uint64
	staleEvicted      uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry creates an empty registry. store and guard may be nil.
func NewRegistry(cfg *config.RegistryConfig, store ProfileStore, guard *security.Context, emitter events.Emitter) *Registry {
	return &Registry{
		cfg:     cfg,
		store:   store,
		guard:   guard,
		emitter: emitter,
		agents:  make(map[string]*models.AgentProfile),
	}
}

// Load populates the registry from the store. Called once at startup;
// a nil store makes it a no-op.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	profiles, err := r.store.LoadAgents(ctx)
	if err != nil {
		return fmt.Errorf("loading agent profiles: %w", err)
	}

	r.mu.Lock()
	for _, p := range profiles {
		r.agents[p.AgentID] = p.Clone()
	}
	count := len(r.agents)
	r.mu.Unlock()

	slog.Info("Agent registry loaded", "agents", count)
	return nil
}

// RegisterAgent validates and stores a new agent profile. Missing fields
// are defaulted: a generated agent id, the name from the id, optimistic
// performance priors, and zero load. Duplicate ids and registry capacity
// reject; under concurrent duplicate registration exactly one caller wins.
func (r *Registry) RegisterAgent(ctx context.Context, profile *models.AgentProfile) (*models.AgentProfile, error) {
	stored, err := r.register(ctx, profile)
	if err != nil {
		return nil, err
	}

	r.emit(ctx, models.Event{
		Type:     events.EventTypeAgentRegistered,
		Severity: models.SeverityInfo,
		Source:   "registry",
		AgentID:  stored.AgentID,
		Metadata: map[string]any{
			"name":       stored.Name,
			"task_types": stored.Capabilities.TaskTypes,
		},
	})
	return stored, nil
}

// RegisterAgentWithCredentials runs the security gate (create:agent) before
// registering. The gate writes the audit entry for both outcomes.
func (r *Registry) RegisterAgentWithCredentials(ctx context.Context, profile *models.AgentProfile, cred security.Credentials) (*models.AgentProfile, error) {
	resource := ""
	if profile != nil {
		resource = profile.AgentID
	}
	if err := r.guard.Authorize(ctx, cred, security.PermCreateAgent, resource); err != nil {
		return nil, err
	}
	return r.RegisterAgent(ctx, profile)
}

func (r *Registry) register(ctx context.Context, profile *models.AgentProfile) (*models.AgentProfile, error) {
	if profile == nil {
		return nil, faults.Precondition("agent profile is required")
	}
	if len(profile.Capabilities.TaskTypes) == 0 {
		return nil, faults.Precondition("agent must declare at least one task type")
	}
	for _, tt := range profile.Capabilities.TaskTypes {
		if !tt.IsValid() {
			return nil, faults.Precondition("unknown task type %q", tt)
		}
	}
	if profile.ModelFamily != "" && !profile.ModelFamily.IsValid() {
		return nil, faults.Precondition("unknown model family %q", profile.ModelFamily)
	}

	now := time.Now().UTC()
	stored := profile.Clone()
	if stored.AgentID == "" {
		stored.AgentID = "agent-" + uuid.NewString()
	}
	if stored.Name == "" {
		stored.Name = stored.AgentID
	}
	if stored.Performance == (models.PerformanceHistory{}) {
		stored.Performance = models.DefaultPerformanceHistory()
	}
	stored.CurrentLoad = models.AgentLoad{}
	stored.RegisteredAt = now
	stored.LastActiveAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[stored.AgentID]; exists {
		return nil, faults.Precondition("agent %q is already registered", stored.AgentID).
			With("agent_id", stored.AgentID)
	}
	if len(r.agents) >= r.cfg.MaxAgents {
		return nil, faults.Saturation("registry is at capacity (%d agents)", r.cfg.MaxAgents)
	}
	if r.store != nil {
		if err := r.store.SaveAgent(ctx, stored); err != nil {
			return nil, faults.TransientIO("persisting agent %q", stored.AgentID).Wrap(err)
		}
	}
	r.agents[stored.AgentID] = stored
	r.totalRegistered++

	return stored.Clone(), nil
}

// GetProfile returns a clone of the agent's profile. On a miss with
// persistence enabled it falls back to the store and caches the result.
func (r *Registry) GetProfile(ctx context.Context, agentID string) (*models.AgentProfile, error) {
	r.mu.RLock()
	if p, ok := r.agents[agentID]; ok {
		clone := p.Clone()
		r.mu.RUnlock()
		return clone, nil
	}
	r.mu.RUnlock()

	if r.store == nil {
		return nil, faults.NotFound("agent %q is not registered", agentID)
	}

	loaded, err := r.store.LoadAgent(ctx, agentID)
	if err != nil {
		return nil, faults.TransientIO("loading agent %q", agentID).Wrap(err)
	}
	if loaded == nil {
		return nil, faults.NotFound("agent %q is not registered", agentID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A concurrent register or load may have beaten us here.
	if p, ok := r.agents[agentID]; ok {
		return p.Clone(), nil
	}
	r.agents[agentID] = loaded.Clone()
	return loaded.Clone(), nil
}

// Agents returns a clone of every registered profile, oldest registration
// first.
func (r *Registry) Agents() []*models.AgentProfile {
	r.mu.RLock()
	profiles := make([]*models.AgentProfile, 0, len(r.agents))
	for _, p := range r.agents {
		profiles = append(profiles, p.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].RegisteredAt.Before(profiles[j].RegisteredAt)
	})
	return profiles
}

// GetAgentsByCapability returns the agents matching the query, scored and
// sorted best-first. The returned profiles are clones.
func (r *Registry) GetAgentsByCapability(query models.CapabilityQuery) []models.ScoredAgent {
	r.mu.RLock()
	matched := make([]models.ScoredAgent, 0)
	for _, p := range r.agents {
		if !r.matchesQuery(p, query) {
			continue
		}
		matched = append(matched, models.ScoredAgent{
			Profile:    p.Clone(),
			MatchScore: ScoreCapabilityMatch(p, query),
		})
	}
	r.mu.RUnlock()

	SortScoredAgents(matched)
	return matched
}

func (r *Registry) matchesQuery(p *models.AgentProfile, query models.CapabilityQuery) bool {
	if !p.Capabilities.HasTaskType(query.TaskType) {
		return false
	}
	if len(query.Languages) > 0 && !containsAll(p.Capabilities.Languages, query.Languages) {
		return false
	}
	if len(query.Specializations) > 0 && !containsAll(p.Capabilities.Specializations, query.Specializations) {
		return false
	}
	if query.MaxUtilization != nil && p.CurrentLoad.UtilizationPercent > *query.MaxUtilization {
		return false
	}
	if query.MinSuccessRate != nil && p.Performance.SuccessRate < *query.MinSuccessRate {
		return false
	}
	return true
}

// UpdatePerformance folds one task outcome into the agent's running
// averages and marks it active. The update is atomic on the profile.
func (r *Registry) UpdatePerformance(ctx context.Context, agentID string, update models.PerformanceUpdate) error {
	perf, err := r.applyPerformance(ctx, agentID, update)
	if err != nil {
		return err
	}

	r.emit(ctx, models.Event{
		Type:     events.EventTypeAgentPerformanceUpdate,
		Severity: models.SeverityDebug,
		Source:   "registry",
		AgentID:  agentID,
		Metadata: map[string]any{
			"success":      update.Success,
			"success_rate": perf.SuccessRate,
			"task_count":   perf.TaskCount,
		},
	})
	return nil
}

func (r *Registry) applyPerformance(ctx context.Context, agentID string, update models.PerformanceUpdate) (models.PerformanceHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.agents[agentID]
	if !ok {
		return models.PerformanceHistory{}, faults.NotFound("agent %q is not registered", agentID)
	}

	success := 0.0
	if update.Success {
		success = 1.0
	}
	n := p.Performance.TaskCount
	p.Performance.SuccessRate = models.IncrementalMean(p.Performance.SuccessRate, success, n)
	p.Performance.AverageQuality = models.IncrementalMean(p.Performance.AverageQuality, update.Quality, n)
	p.Performance.AverageLatencyMs = models.IncrementalMean(p.Performance.AverageLatencyMs, update.LatencyMs, n)
	p.Performance.TaskCount = n + 1
	p.LastActiveAt = time.Now().UTC()

	r.persistBestEffort(ctx, p)
	return p.Performance, nil
}

// UpdateLoad records the agent's live task counts and recomputes
// utilization against MaxConcurrentTasksPerAgent.
func (r *Registry) UpdateLoad(ctx context.Context, agentID string, active, queued int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.agents[agentID]
	if !ok {
		return faults.NotFound("agent %q is not registered", agentID)
	}

	utilization := float64(active) / float64(r.cfg.MaxConcurrentTasksPerAgent) * 100
	p.CurrentLoad = models.AgentLoad{
		ActiveTasks:        active,
		QueuedTasks:        queued,
		UtilizationPercent: models.Clamp(utilization, 0, 100),
	}
	p.LastActiveAt = time.Now().UTC()

	r.persistBestEffort(ctx, p)
	return nil
}

// UnregisterAgent removes the agent. The store delete runs inside the
// critical section so a failure leaves the agent registered.
func (r *Registry) UnregisterAgent(ctx context.Context, agentID string) error {
	if err := r.unregister(ctx, agentID); err != nil {
		return err
	}

	r.emit(ctx, models.Event{
		Type:     events.EventTypeAgentUnregistered,
		Severity: models.SeverityInfo,
		Source:   "registry",
		AgentID:  agentID,
	})
	return nil
}

func (r *Registry) unregister(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[agentID]; !ok {
		return faults.NotFound("agent %q is not registered", agentID)
	}
	if r.store != nil {
		if err := r.store.DeleteAgent(ctx, agentID); err != nil {
			return faults.TransientIO("deleting agent %q", agentID).Wrap(err)
		}
	}
	delete(r.agents, agentID)
	r.totalUnregistered++
	return nil
}

// GetStats aggregates the current registry state.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalAgents:       len(r.agents),
		TotalRegistered:   r.totalRegistered,
		TotalUnregistered: r.totalUnregistered,
		StaleEvicted:      r.staleEvicted,
		AgentsByTaskType:  make(map[models.TaskType]int),
	}
	for _, p := range r.agents {
		stats.AverageUtilization += p.CurrentLoad.UtilizationPercent
		stats.AverageSuccessRate += p.Performance.SuccessRate
		for _, tt := range p.Capabilities.TaskTypes {
			stats.AgentsByTaskType[tt]++
		}
	}
	if len(r.agents) > 0 {
		stats.AverageUtilization /= float64(len(r.agents))
		stats.AverageSuccessRate /= float64(len(r.agents))
	}
	return stats
}

// Start launches the stale-agent cleanup loop when auto-cleanup is enabled.
func (r *Registry) Start(ctx context.Context) {
	if !r.cfg.EnableAutoCleanup || r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.run(ctx)

	slog.Info("Agent registry cleanup started",
		"interval", r.cfg.CleanupInterval,
		"stale_threshold", r.cfg.StaleAgentThreshold)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (r *Registry) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	slog.Info("Agent registry cleanup stopped")
}

func (r *Registry) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictStale(ctx, time.Now().UTC())
		}
	}
}

// EvictStale removes every agent whose last activity is older than the
// stale threshold, and reports how many were evicted.
func (r *Registry) EvictStale(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-r.cfg.StaleAgentThreshold)

	r.mu.Lock()
	var evicted []string
	for id, p := range r.agents {
		if p.LastActiveAt.Before(cutoff) {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		delete(r.agents, id)
		r.staleEvicted++
		if r.store != nil {
			if err := r.store.DeleteAgent(ctx, id); err != nil {
				slog.Warn("Failed to delete stale agent from store", "agent_id", id, "error", err)
			}
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		r.emit(ctx, models.Event{
			Type:     events.EventTypeAgentUnregistered,
			Severity: models.SeverityInfo,
			Source:   "registry",
			AgentID:  id,
			Metadata: map[string]any{"reason": "stale"},
		})
	}
	if len(evicted) > 0 {
		slog.Info("Evicted stale agents", "count", len(evicted))
	}
	return len(evicted)
}

func (r *Registry) persistBestEffort(ctx context.Context, p *models.AgentProfile) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveAgent(ctx, p); err != nil {
		slog.Warn("Failed to persist agent profile", "agent_id", p.AgentID, "error", err)
	}
}

func (r *Registry) emit(ctx context.Context, event models.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(ctx, event)
}
