package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// Handler processes one event. Returned errors are logged and swallowed;
// a handler can never fail an Emit.
type Handler func(ctx context.Context, event models.Event) error

// Emitter is the write side of the bus. Subsystems hold this narrow
// interface so tests can capture events without a running bus. Emitting
// is always best-effort; callers treat a nil Emitter as "no events".
type Emitter interface {
	Emit(ctx context.Context, event models.Event)
}

// Filter selects events by type and identity fields. Zero-value fields
// match everything.
type Filter struct {
	Types      []string
	SessionID  string
	AgentID    string
	TaskID     string
	Severities []models.EventSeverity
	Since      time.Time
	Until      time.Time
}

func (f Filter) matches(e models.Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SessionID != "" && f.SessionID != e.SessionID {
		return false
	}
	if f.AgentID != "" && f.AgentID != e.AgentID {
		return false
	}
	if f.TaskID != "" && f.TaskID != e.TaskID {
		return false
	}
	if len(f.Severities) > 0 {
		found := false
		for _, s := range f.Severities {
			if s == e.Severity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

type subscription struct {
	id      string
	filter  Filter
	handler Handler
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Size          int    `json:"size"`
	Capacity      int    `json:"capacity"`
	TotalEmitted  uint64 `json:"total_emitted"`
	Dropped       uint64 `json:"dropped"`
	Swept         uint64 `json:"swept"`
	Subscriptions int    `json:"subscriptions"`
}

// Bus is the in-process event bus. Emitted events land in a bounded ring
// (oldest dropped when full) and fan out to matching subscriptions either
// inline (cooperative) or on per-handler goroutines with a deadline
// (parallel). A background sweep removes events older than the retention
// period.
type Bus struct {
	cfg *config.EventsConfig

	mu           sync.RWMutex
	ring         []models.Event
	head         int // index of the oldest event
	size         int
	subs         []*subscription // dispatch order = registration order
	closed       bool
	totalEmitted uint64
	dropped      uint64
	swept        uint64

	// inflight tracks parallel dispatch supervisors so Close can drain.
	inflight sync.WaitGroup

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBus creates a bus with the given configuration. Start launches the
// retention sweep; a bus that is never started still accepts Emit and
// queries, it just never expires events.
func NewBus(cfg *config.EventsConfig) *Bus {
	return &Bus{
		cfg:  cfg,
		ring: make([]models.Event, cfg.MaxEvents),
	}
}

// Start launches the background retention sweep.
func (b *Bus) Start(ctx context.Context) {
	if b.cancel != nil {
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	go b.run(ctx)

	slog.Info("Event bus started",
		"max_events", b.cfg.MaxEvents,
		"retention", b.cfg.Retention,
		"sweep_interval", b.cfg.SweepInterval,
		"dispatch_mode", b.cfg.DispatchMode)
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep(time.Now().UTC())
		}
	}
}

// Close stops the sweep, rejects further emits, and waits for in-flight
// parallel dispatches to settle.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.inflight.Wait()
	slog.Info("Event bus closed")
}

// Emit publishes an event. It never returns an error: handler errors and
// panics are logged, a full ring drops its oldest entry, and a closed bus
// ignores the event. Missing ID/timestamp/severity are filled in.
func (b *Bus) Emit(ctx context.Context, event models.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.append(event)
	b.totalEmitted++

	// Snapshot matching subscriptions under the lock, then release before
	// invoking handlers so a slow handler cannot stall other emitters.
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter.matches(event) {
			matched = append(matched, sub)
		}
	}
	mode := b.cfg.DispatchMode
	b.mu.Unlock()

	if len(matched) == 0 {
		return
	}

	if mode == models.DispatchParallel {
		b.dispatchParallel(matched, event)
		return
	}
	// Cooperative: inline on the emitter's goroutine, registration order.
	for _, sub := range matched {
		b.invoke(ctx, sub, event)
	}
}

// On subscribes a handler to a single event type and returns the
// subscription id for Off.
func (b *Bus) On(eventType string, handler Handler) string {
	return b.OnFiltered(Filter{Types: []string{eventType}}, handler)
}

// OnFiltered subscribes a handler to every event matching the filter.
// A zero filter matches all events.
func (b *Bus) OnFiltered(filter Filter, handler Handler) string {
	id := uuid.New().String()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ""
	}
	b.subs = append(b.subs, &subscription{id: id, filter: filter, handler: handler})
	return id
}

// Off removes a subscription by the id On returned. Removing an unknown
// or already-removed id returns false.
func (b *Bus) Off(id string) bool {
	if id == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Events returns retained events matching the filter, most recent first.
// limit <= 0 returns all matches.
func (b *Bus) Events(filter Filter, limit int) []models.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.Event, 0)
	for i := b.size - 1; i >= 0; i-- {
		e := b.ring[(b.head+i)%len(b.ring)]
		if !filter.matches(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Size:          b.size,
		Capacity:      len(b.ring),
		TotalEmitted:  b.totalEmitted,
		Dropped:       b.dropped,
		Swept:         b.swept,
		Subscriptions: len(b.subs),
	}
}

// append inserts at the ring tail, dropping the oldest event when full.
// Caller holds b.mu.
func (b *Bus) append(e models.Event) {
	capacity := len(b.ring)
	if b.size < capacity {
		b.ring[(b.head+b.size)%capacity] = e
		b.size++
		return
	}
	b.ring[b.head] = e
	b.head = (b.head + 1) % capacity
	b.dropped++
}

// sweep removes events older than the retention period. The ring is in
// insertion order, so it only needs to walk from the oldest entry.
func (b *Bus) sweep(now time.Time) {
	cutoff := now.Add(-b.cfg.Retention)

	b.mu.Lock()
	removed := 0
	for b.size > 0 {
		if !b.ring[b.head].Timestamp.Before(cutoff) {
			break
		}
		b.ring[b.head] = models.Event{}
		b.head = (b.head + 1) % len(b.ring)
		b.size--
		removed++
	}
	b.swept += uint64(removed)
	b.mu.Unlock()

	if removed > 0 {
		slog.Info("Retention: swept expired events", "count", removed)
	}
}

// dispatchParallel runs every matched handler on its own goroutine with a
// deadline. One supervisor goroutine per event keeps Close able to drain.
func (b *Bus) dispatchParallel(subs []*subscription, event models.Event) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()

		g := new(errgroup.Group)
		for _, sub := range subs {
			g.Go(func() error {
				b.invokeWithDeadline(sub, event)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// invokeWithDeadline bounds one handler invocation. A handler that
// overruns the deadline is logged and treated as success; it keeps the
// (cancelled) context and is expected to notice.
func (b *Bus) invokeWithDeadline(sub *subscription, event models.Event) {
	hctx, cancel := context.WithTimeout(context.Background(), b.cfg.HandlerTimeout)
	defer cancel()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		b.invoke(hctx, sub, event)
	}()

	select {
	case <-finished:
	case <-hctx.Done():
		slog.Warn("Event handler exceeded deadline",
			"event_type", event.Type,
			"subscription_id", sub.id,
			"timeout", b.cfg.HandlerTimeout)
	}
}

// invoke runs one handler, containing panics and logging errors.
func (b *Bus) invoke(ctx context.Context, sub *subscription, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked",
				"event_type", event.Type,
				"subscription_id", sub.id,
				"panic", r)
		}
	}()

	if err := sub.handler(ctx, event); err != nil {
		slog.Warn("Event handler returned error",
			"event_type", event.Type,
			"subscription_id", sub.id,
			"error", err)
	}
}
