package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// fakeProfileStore is an in-memory ProfileStore with error injection.
type fakeProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*models.AgentProfile
	saveErr  error
	loadErr  error
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: make(map[string]*models.AgentProfile)}
}

func (s *fakeProfileStore) SaveAgent(_ context.Context, p *models.AgentProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.profiles[p.AgentID] = p.Clone()
	return nil
}

func (s *fakeProfileStore) LoadAgent(_ context.Context, agentID string) (*models.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.profiles[agentID].Clone(), nil
}

func (s *fakeProfileStore) LoadAgents(_ context.Context) ([]*models.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]*models.AgentProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *fakeProfileStore) DeleteAgent(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, agentID)
	return nil
}

func testProfile(id string) *models.AgentProfile {
	return &models.AgentProfile{
		AgentID: id,
		Name:    "Agent " + id,
		Capabilities: models.AgentCapabilities{
			TaskTypes: []models.TaskType{models.TaskTypeCodeEditing},
			Languages: []string{"TypeScript", "Go"},
		},
	}
}

func newTestRegistry(t *testing.T, store ProfileStore) *Registry {
	t.Helper()
	return NewRegistry(config.DefaultRegistryConfig(), store, nil, nil)
}

func TestRegistry_RegisterAgentDefaults(t *testing.T) {
	r := newTestRegistry(t, nil)

	stored, err := r.RegisterAgent(context.Background(), &models.AgentProfile{
		Capabilities: models.AgentCapabilities{
			TaskTypes: []models.TaskType{models.TaskTypeTesting},
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, stored.AgentID, "missing id is generated")
	assert.Equal(t, stored.AgentID, stored.Name, "missing name defaults to the id")
	assert.Equal(t, models.DefaultPerformanceHistory(), stored.Performance)
	assert.Zero(t, stored.CurrentLoad.ActiveTasks)
	assert.False(t, stored.RegisteredAt.IsZero())
	assert.False(t, stored.LastActiveAt.IsZero())
}

func TestRegistry_RegisterAgentValidation(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	_, err := r.RegisterAgent(ctx, nil)
	assert.True(t, faults.Is(err, faults.KindPrecondition))

	_, err = r.RegisterAgent(ctx, &models.AgentProfile{AgentID: "a1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one task type")

	_, err = r.RegisterAgent(ctx, &models.AgentProfile{
		AgentID:      "a1",
		Capabilities: models.AgentCapabilities{TaskTypes: []models.TaskType{"juggling"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task type")

	p := testProfile("a1")
	p.ModelFamily = "acme"
	_, err = r.RegisterAgent(ctx, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model family")
}

func TestRegistry_RegisterAgentDuplicate(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	_, err := r.RegisterAgent(ctx, testProfile("a1"))
	require.NoError(t, err)

	_, err = r.RegisterAgent(ctx, testProfile("a1"))
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindPrecondition))
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_RegisterAgentCapacity(t *testing.T) {
	cfg := config.DefaultRegistryConfig()
	cfg.MaxAgents = 2
	r := NewRegistry(cfg, nil, nil, nil)
	ctx := context.Background()

	_, err := r.RegisterAgent(ctx, testProfile("a1"))
	require.NoError(t, err)
	_, err = r.RegisterAgent(ctx, testProfile("a2"))
	require.NoError(t, err)

	_, err = r.RegisterAgent(ctx, testProfile("a3"))
	assert.True(t, faults.Is(err, faults.KindSaturation))
	assert.Equal(t, 2, r.GetStats().TotalAgents)
}

// Exactly one of two concurrent registrations for the same id may win.
func TestRegistry_ConcurrentDuplicateRegistration(t *testing.T) {
	r := newTestRegistry(t, nil)

	const attempts = 16
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = r.RegisterAgent(context.Background(), testProfile("contested"))
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.True(t, faults.Is(err, faults.KindPrecondition))
		}
	}
	assert.Equal(t, 1, winners)
}

func TestRegistry_RegisterPersistFailureRollsBack(t *testing.T) {
	store := newFakeProfileStore()
	store.saveErr = errors.New("connection refused")
	r := newTestRegistry(t, store)

	_, err := r.RegisterAgent(context.Background(), testProfile("a1"))
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindTransientIO))
	assert.Equal(t, 0, r.GetStats().TotalAgents, "failed registration leaves no trace")
}

func TestRegistry_GetProfileClones(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	_, err := r.RegisterAgent(ctx, testProfile("a1"))
	require.NoError(t, err)

	first, err := r.GetProfile(ctx, "a1")
	require.NoError(t, err)
	first.Name = "mutated"
	first.Capabilities.Languages[0] = "COBOL"

	second, err := r.GetProfile(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Agent a1", second.Name)
	assert.Equal(t, "TypeScript", second.Capabilities.Languages[0])
}

func TestRegistry_GetProfileMiss(t *testing.T) {
	r := newTestRegistry(t, nil)

	_, err := r.GetProfile(context.Background(), "ghost")
	assert.True(t, faults.Is(err, faults.KindNotFound))
}

func TestRegistry_GetProfileLoadsFromStoreOnMiss(t *testing.T) {
	store := newFakeProfileStore()
	persisted := testProfile("a1")
	persisted.Performance = models.PerformanceHistory{SuccessRate: 0.9, TaskCount: 12}
	require.NoError(t, store.SaveAgent(context.Background(), persisted))

	r := newTestRegistry(t, store)

	p, err := r.GetProfile(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 0.9, p.Performance.SuccessRate)

	// Cached now; a store outage no longer matters.
	store.loadErr = errors.New("down")
	p, err = r.GetProfile(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 12, p.Performance.TaskCount)
}

func TestRegistry_Load(t *testing.T) {
	store := newFakeProfileStore()
	ctx := context.Background()
	require.NoError(t, store.SaveAgent(ctx, testProfile("a1")))
	require.NoError(t, store.SaveAgent(ctx, testProfile("a2")))

	r := newTestRegistry(t, store)
	require.NoError(t, r.Load(ctx))
	assert.Equal(t, 2, r.GetStats().TotalAgents)
}

// Running averages over a stream must equal the arithmetic mean of the
// stream within floating-point tolerance.
func TestRegistry_UpdatePerformanceAverages(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	_, err := r.RegisterAgent(ctx, testProfile("a1"))
	require.NoError(t, err)

	// The optimistic priors carry TaskCount 0, so the first real outcome
	// replaces them and the averages track the observed stream exactly.
	updates := []models.PerformanceUpdate{
		{Success: true, Quality: 0.9, LatencyMs: 1200},
		{Success: false, Quality: 0.4, LatencyMs: 3000},
		{Success: true, Quality: 0.8, LatencyMs: 800},
		{Success: true, Quality: 0.6, LatencyMs: 2200},
	}
	sumSuccess, sumQuality, sumLatency := 0.0, 0.0, 0.0
	for _, u := range updates {
		require.NoError(t, r.UpdatePerformance(ctx, "a1", u))
		if u.Success {
			sumSuccess++
		}
		sumQuality += u.Quality
		sumLatency += u.LatencyMs
	}

	got, err := r.GetProfile(ctx, "a1")
	require.NoError(t, err)

	n := float64(len(updates))
	assert.InEpsilon(t, sumSuccess/n, got.Performance.SuccessRate, 1e-9)
	assert.InEpsilon(t, sumQuality/n, got.Performance.AverageQuality, 1e-9)
	assert.InEpsilon(t, sumLatency/n, got.Performance.AverageLatencyMs, 1e-9)
	assert.Equal(t, len(updates), got.Performance.TaskCount)
}

func TestRegistry_UpdatePerformanceMiss(t *testing.T) {
	r := newTestRegistry(t, nil)
	err := r.UpdatePerformance(context.Background(), "ghost", models.PerformanceUpdate{Success: true})
	assert.True(t, faults.Is(err, faults.KindNotFound))
}

func TestRegistry_UpdateLoad(t *testing.T) {
	cfg := config.DefaultRegistryConfig()
	cfg.MaxConcurrentTasksPerAgent = 4
	r := NewRegistry(cfg, nil, nil, nil)
	ctx := context.Background()

	_, err := r.RegisterAgent(ctx, testProfile("a1"))
	require.NoError(t, err)

	require.NoError(t, r.UpdateLoad(ctx, "a1", 2, 3))
	p, err := r.GetProfile(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.CurrentLoad.ActiveTasks)
	assert.Equal(t, 3, p.CurrentLoad.QueuedTasks)
	assert.Equal(t, 50.0, p.CurrentLoad.UtilizationPercent)

	// Overload clamps to 100.
	require.NoError(t, r.UpdateLoad(ctx, "a1", 9, 0))
	p, err = r.GetProfile(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.CurrentLoad.UtilizationPercent)
}

func TestRegistry_UnregisterAgent(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	_, err := r.RegisterAgent(ctx, testProfile("a1"))
	require.NoError(t, err)

	require.NoError(t, r.UnregisterAgent(ctx, "a1"))
	_, err = r.GetProfile(ctx, "a1")
	assert.True(t, faults.Is(err, faults.KindNotFound))

	err = r.UnregisterAgent(ctx, "a1")
	assert.True(t, faults.Is(err, faults.KindNotFound))
}

func TestRegistry_GetStats(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	a := testProfile("a1")
	b := testProfile("a2")
	b.Capabilities.TaskTypes = []models.TaskType{models.TaskTypeCodeEditing, models.TaskTypeTesting}
	_, err := r.RegisterAgent(ctx, a)
	require.NoError(t, err)
	_, err = r.RegisterAgent(ctx, b)
	require.NoError(t, err)
	require.NoError(t, r.UpdateLoad(ctx, "a1", 5, 0))

	stats := r.GetStats()
	assert.Equal(t, 2, stats.TotalAgents)
	assert.Equal(t, uint64(2), stats.TotalRegistered)
	assert.Equal(t, 2, stats.AgentsByTaskType[models.TaskTypeCodeEditing])
	assert.Equal(t, 1, stats.AgentsByTaskType[models.TaskTypeTesting])
	assert.Equal(t, 50.0, stats.AverageUtilization)
}

func TestRegistry_EvictStale(t *testing.T) {
	cfg := config.DefaultRegistryConfig()
	cfg.StaleAgentThreshold = 10 * time.Minute
	r := NewRegistry(cfg, nil, nil, nil)
	ctx := context.Background()

	_, err := r.RegisterAgent(ctx, testProfile("fresh"))
	require.NoError(t, err)
	_, err = r.RegisterAgent(ctx, testProfile("idle"))
	require.NoError(t, err)

	// Only "fresh" reports activity; "idle" goes silent.
	require.NoError(t, r.UpdateLoad(ctx, "fresh", 1, 0))

	evicted := r.EvictStale(ctx, time.Now().UTC().Add(15*time.Minute))
	assert.Equal(t, 1, evicted)

	_, err = r.GetProfile(ctx, "idle")
	assert.True(t, faults.Is(err, faults.KindNotFound))
	_, err = r.GetProfile(ctx, "fresh")
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), r.GetStats().StaleEvicted)
}

func TestRegistry_StartStop(t *testing.T) {
	cfg := config.DefaultRegistryConfig()
	cfg.CleanupInterval = 10 * time.Millisecond
	cfg.StaleAgentThreshold = time.Hour
	r := NewRegistry(cfg, nil, nil, nil)

	r.Start(context.Background())
	r.Start(context.Background()) // idempotent
	time.Sleep(25 * time.Millisecond)
	r.Stop()
	r.Stop() // idempotent
}

func TestRegistry_StartDisabled(t *testing.T) {
	cfg := config.DefaultRegistryConfig()
	cfg.EnableAutoCleanup = false
	r := NewRegistry(cfg, nil, nil, nil)

	r.Start(context.Background())
	r.Stop() // nothing was started; must not block or panic
}

func TestRegistry_ConcurrentReadsAndWrites(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	for i := range 8 {
		_, err := r.RegisterAgent(ctx, testProfile(fmt.Sprintf("a%d", i)))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("a%d", i)
			for range 50 {
				_ = r.UpdatePerformance(ctx, id, models.PerformanceUpdate{Success: true, Quality: 0.8, LatencyMs: 100})
				_, _ = r.GetProfile(ctx, id)
				_ = r.GetAgentsByCapability(models.CapabilityQuery{TaskType: models.TaskTypeCodeEditing})
			}
		}()
	}
	wg.Wait()

	stats := r.GetStats()
	assert.Equal(t, 8, stats.TotalAgents)
}

func TestRegistry_AgentsListsAll(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	assert.Empty(t, r.Agents())

	for _, id := range []string{"a1", "a2", "a3"} {
		_, err := r.RegisterAgent(ctx, testProfile(id))
		require.NoError(t, err)
	}

	profiles := r.Agents()
	require.Len(t, profiles, 3)

	// Mutating the returned clones must not touch the registry.
	profiles[0].Name = "mutated"
	fresh, err := r.GetProfile(ctx, profiles[0].AgentID)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", fresh.Name)
}

func percentile(samples []time.Duration, p float64) time.Duration {
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// The bounds are generous for in-memory maps; what this catches is accidental
// quadratic work or lock contention creeping into the hot paths.
func TestRegistry_HotPathLatencyBounds(t *testing.T) {
	cfg := config.DefaultRegistryConfig()
	cfg.MaxAgents = 2000
	r := NewRegistry(cfg, nil, nil, nil)
	ctx := context.Background()

	const n = 1000

	registrations := make([]time.Duration, 0, n)
	for i := range n {
		p := testProfile(fmt.Sprintf("agent-%04d", i))
		start := time.Now()
		_, err := r.RegisterAgent(ctx, p)
		registrations = append(registrations, time.Since(start))
		require.NoError(t, err)
	}
	assert.Less(t, percentile(registrations, 0.95), 100*time.Millisecond, "p95 registration")

	query := models.CapabilityQuery{
		TaskType:  models.TaskTypeCodeEditing,
		Languages: []string{"Go"},
	}
	queries := make([]time.Duration, 0, n)
	windowStart := time.Now()
	for range n {
		start := time.Now()
		matches := r.GetAgentsByCapability(query)
		queries = append(queries, time.Since(start))
		require.Len(t, matches, n)
	}
	window := time.Since(windowStart)
	assert.Less(t, percentile(queries, 0.95), 50*time.Millisecond, "p95 capability query")
	assert.GreaterOrEqual(t, float64(n)/window.Seconds(), 2000.0, "capability queries per second")

	updates := make([]time.Duration, 0, n)
	for i := range n {
		id := fmt.Sprintf("agent-%04d", i)
		start := time.Now()
		err := r.UpdatePerformance(ctx, id, models.PerformanceUpdate{Success: true, Quality: 0.9, LatencyMs: 120})
		updates = append(updates, time.Since(start))
		require.NoError(t, err)
	}
	assert.Less(t, percentile(updates, 0.95), 30*time.Millisecond, "p95 performance update")
}
