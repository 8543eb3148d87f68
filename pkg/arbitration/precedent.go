package arbitration

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// PrecedentStore persists precedents across restarts. Saves are write-through
// and best-effort; loads feed the in-memory index.
type PrecedentStore interface {
	SavePrecedent(ctx context.Context, p *models.Precedent) error
	LoadPrecedents(ctx context.Context) ([]*models.Precedent, error)
}

// PrecedentManager keeps a bounded in-memory precedent index and answers
// similarity lookups over (category, severity, key facts) with Jaccard
// matching. Lookup results are cached with a TTL; when the index is empty
// the store is consulted through a circuit breaker, so a broken store
// degrades lookups to memory-only instead of failing evaluations.
type PrecedentManager struct {
	cfg     *config.ArbitrationConfig
	store   PrecedentStore
	breaker *gobreaker.CircuitBreaker

	mu    sync.RWMutex
	byID  map[string]*models.Precedent
	order []string // insertion order, oldest first

	cache *lookupCache
}

// NewPrecedentManager creates a manager with an empty index. The store may
// be nil for memory-only operation.
func NewPrecedentManager(cfg *config.ArbitrationConfig, store PrecedentStore) *PrecedentManager {
	return &PrecedentManager{
		cfg:   cfg,
		store: store,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "precedent-store",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("Precedent store breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		byID:  make(map[string]*models.Precedent),
		cache: newLookupCache(cfg.PrecedentCacheTTL),
	}
}

// Load replays persisted precedents into the index. Called once at startup,
// before the engine accepts sessions.
func (m *PrecedentManager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	precedents, err := m.store.LoadPrecedents(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, p := range precedents {
		if p == nil || p.ID == "" {
			continue
		}
		m.insertLocked(p.Clone())
	}
	depth := len(m.byID)
	m.mu.Unlock()

	slog.Info("Precedent index replayed", "depth", depth)
	return nil
}

// Add records a new precedent, evicting the oldest entry when the index is
// at capacity. The store write is best-effort: the in-memory index is the
// source of truth for lookups.
func (m *PrecedentManager) Add(ctx context.Context, p *models.Precedent) {
	if p == nil || p.ID == "" {
		return
	}

	m.mu.Lock()
	m.insertLocked(p.Clone())
	m.mu.Unlock()
	m.cache.invalidate()

	if m.store != nil {
		if err := m.store.SavePrecedent(ctx, p); err != nil {
			slog.Warn("Persisting precedent failed", "precedent_id", p.ID, "error", err)
		}
	}
}

// insertLocked adds or replaces one entry and applies the capacity bound.
// Caller holds m.mu.
func (m *PrecedentManager) insertLocked(p *models.Precedent) {
	if _, exists := m.byID[p.ID]; !exists {
		m.order = append(m.order, p.ID)
	}
	m.byID[p.ID] = p

	if m.cfg.MaxPrecedents <= 0 {
		return
	}
	for len(m.byID) > m.cfg.MaxPrecedents && len(m.order) > 0 {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.byID, oldest)
	}
}

// FindSimilar returns up to maxPrecedentsPerEvaluation precedents whose
// Jaccard similarity against the query tokens meets the configured
// threshold, most similar first. Matches have their citation count bumped.
// Store trouble is non-fatal: the error is logged and memory serves.
func (m *PrecedentManager) FindSimilar(ctx context.Context, category string, severity models.RuleSeverity, keyFacts []string) []*models.Precedent {
	query := similarityTokens(category, severity, keyFacts)
	if len(query) == 0 {
		return nil
	}
	key := cacheKey(query)
	if cached, ok := m.cache.get(key); ok {
		return cached
	}

	m.mu.RLock()
	empty := len(m.byID) == 0
	m.mu.RUnlock()
	if empty {
		m.reloadThroughBreaker(ctx)
	}

	matches := m.match(query)
	limit := m.cfg.MaxPrecedentsPerEvaluation
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	now := time.Now().UTC()
	results := make([]*models.Precedent, 0, len(matches))
	m.mu.Lock()
	for _, id := range matches {
		p, ok := m.byID[id]
		if !ok {
			continue
		}
		p.CitationCount++
		at := now
		p.LastCitedAt = &at
		results = append(results, p.Clone())
	}
	m.mu.Unlock()

	m.cache.set(key, results)
	return results
}

// Get returns one precedent by ID.
func (m *PrecedentManager) Get(id string) (*models.Precedent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// All returns every indexed precedent, newest first.
func (m *PrecedentManager) All() []*models.Precedent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Precedent, 0, len(m.byID))
	for i := len(m.order) - 1; i >= 0; i-- {
		if p, ok := m.byID[m.order[i]]; ok {
			out = append(out, p.Clone())
		}
	}
	return out
}

// Count returns the index depth.
func (m *PrecedentManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// match scores the whole index against the query and returns IDs of entries
// at or above the similarity threshold, ordered by similarity, citation
// count, then ID for determinism.
func (m *PrecedentManager) match(query map[string]struct{}) []string {
	type scored struct {
		id         string
		similarity float64
		citations  int
	}

	m.mu.RLock()
	candidates := make([]scored, 0, len(m.byID))
	for id, p := range m.byID {
		sim := jaccard(query, similarityTokens(p.Category, p.Severity, p.KeyFacts))
		if sim >= m.cfg.PrecedentSimilarityThreshold {
			candidates = append(candidates, scored{id: id, similarity: sim, citations: p.CitationCount})
		}
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		if candidates[i].citations != candidates[j].citations {
			return candidates[i].citations > candidates[j].citations
		}
		return candidates[i].id < candidates[j].id
	})

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids
}

// reloadThroughBreaker tries to refill an empty index from the store. The
// breaker keeps a dead store from being hammered on every lookup.
func (m *PrecedentManager) reloadThroughBreaker(ctx context.Context) {
	if m.store == nil {
		return
	}
	loaded, err := m.breaker.Execute(func() (interface{}, error) {
		return m.store.LoadPrecedents(ctx)
	})
	if err != nil {
		slog.Warn("Precedent store lookup failed, serving memory only", "error", err)
		return
	}
	precedents, ok := loaded.([]*models.Precedent)
	if !ok {
		return
	}

	m.mu.Lock()
	for _, p := range precedents {
		if p == nil || p.ID == "" {
			continue
		}
		m.insertLocked(p.Clone())
	}
	m.mu.Unlock()
}

// similarityTokens builds the token set a precedent or query is matched on:
// the category, the severity, and each key fact, lowercased.
func similarityTokens(category string, severity models.RuleSeverity, keyFacts []string) map[string]struct{} {
	tokens := make(map[string]struct{}, len(keyFacts)+2)
	if category != "" {
		tokens[strings.ToLower(category)] = struct{}{}
	}
	if severity != "" {
		tokens[strings.ToLower(string(severity))] = struct{}{}
	}
	for _, fact := range keyFacts {
		fact = strings.ToLower(strings.TrimSpace(fact))
		if fact != "" {
			tokens[fact] = struct{}{}
		}
	}
	return tokens
}

// jaccard is |A∩B| / |A∪B| over token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// cacheKey canonicalizes a token set into a stable string.
func cacheKey(tokens map[string]struct{}) string {
	parts := make([]string, 0, len(tokens))
	for t := range tokens {
		parts = append(parts, t)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// lookupEntry holds one cached similarity result with its compute time.
type lookupEntry struct {
	results    []*models.Precedent
	computedAt time.Time
}

// lookupCache is a thread-safe TTL cache for similarity lookups. Expired
// entries are cleaned up lazily on get; no background goroutine.
type lookupCache struct {
	mu      sync.RWMutex
	entries map[string]*lookupEntry
	ttl     time.Duration
}

func newLookupCache(ttl time.Duration) *lookupCache {
	return &lookupCache{
		entries: make(map[string]*lookupEntry),
		ttl:     ttl,
	}
}

func (c *lookupCache) get(key string) ([]*models.Precedent, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Since(entry.computedAt) > c.ttl {
		// Expired; clean up lazily. Re-check under write lock: a concurrent
		// set() may have replaced the entry with a fresh one in between.
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && time.Since(current.computedAt) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	out := make([]*models.Precedent, len(entry.results))
	for i, p := range entry.results {
		out[i] = p.Clone()
	}
	return out, true
}

func (c *lookupCache) set(key string, results []*models.Precedent) {
	if c.ttl <= 0 {
		return
	}
	kept := make([]*models.Precedent, len(results))
	for i, p := range results {
		kept[i] = p.Clone()
	}
	c.mu.Lock()
	c.entries[key] = &lookupEntry{results: kept, computedAt: time.Now()}
	c.mu.Unlock()
}

// invalidate drops every cached lookup. Called when the index changes so a
// fresh precedent becomes visible immediately.
func (c *lookupCache) invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]*lookupEntry)
	c.mu.Unlock()
}
