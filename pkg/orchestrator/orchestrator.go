// Package orchestrator assembles the queue, registry, router, assignment
// manager, and arbitration engine into one runnable system. It owns the
// dispatch pool that drains the queue, keeps agent load figures current as
// assignments open and close, and feeds assignment outcomes back into the
// routing bandit so selection quality improves over time.
//
// Construction wires the subsystems; Start replays persisted state and
// begins dispatching; Shutdown drains in reverse dependency order. All
// public operations are safe for concurrent use.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/arbitration"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/assignment"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/queue"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/registry"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/routing"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/security"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/store"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/version"
)

// Orchestrator is the top-level coordinator. It holds every subsystem and
// the dispatch pool, and tracks per-agent active assignment counts so the
// registry's load figures reflect what the assignment manager is doing.
type Orchestrator struct {
	cfg      *config.Config
	client   *store.Client
	bus      *events.Bus
	guard    *security.Context
	commands *security.CommandValidator
	validate *validator.Validate

	queue       *queue.Queue
	registry    *registry.Registry
	bandit      *routing.Bandit
	router      *routing.Router
	assignments *assignment.Manager
	arbitration *arbitration.Engine

	dispatcher *dispatcher

	mu        sync.Mutex
	started   bool
	startedAt time.Time
	loads     map[string]int
}

// New wires the subsystems together. client may be nil for a memory-only
// deployment; every subsystem then runs without persistence.
func New(cfg *config.Config, client *store.Client) (*Orchestrator, error) {
	if cfg == nil {
		return nil, faults.Precondition("config is required")
	}

	bus := events.NewBus(cfg.Events)

	guard, err := security.NewContext(cfg.Security, bus)
	if err != nil {
		return nil, fmt.Errorf("building security context: %w", err)
	}

	commands, err := security.LoadCommandValidator(cfg.ConfigDir(), cfg.Security.AllowlistPath, cfg.Security.MaxArgumentLength)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading command allowlist: %w", err)
		}
		// No allowlist file means no command is allowed, not every command.
		slog.Warn("Command allowlist not found, all commands will be rejected",
			"path", cfg.Security.AllowlistPath)
		commands = security.NewCommandValidator(nil, cfg.Security.MaxArgumentLength)
	}

	// Interface-typed store handles must stay nil when there is no client;
	// assigning a nil *store.TaskStore directly would produce a non-nil
	// interface and subsystems would try to persist through it.
	var (
		taskStore       queue.TaskStore
		profileStore    registry.ProfileStore
		assignmentStore assignment.Store
		sessionStore    arbitration.SessionStore
		precedentStore  arbitration.PrecedentStore
	)
	if client != nil {
		taskStore = client.Tasks()
		profileStore = client.Agents()
		assignmentStore = client.Assignments()
		sessionStore = client.Sessions()
		precedentStore = client.Precedents()
	}

	reg := registry.NewRegistry(cfg.Registry, profileStore, guard, bus)
	q := queue.NewQueue(cfg.Queue, taskStore, guard, bus)
	bandit := routing.NewBandit(cfg.Bandit)
	router := routing.NewRouter(cfg.Routing, reg, bandit, bus)
	assignments := assignment.NewManager(cfg.Assignment, assignmentStore, bus)

	engine, err := arbitration.NewEngine(cfg.Arbitration, sessionStore, precedentStore, bus)
	if err != nil {
		return nil, fmt.Errorf("building arbitration engine: %w", err)
	}

	o := &Orchestrator{
		cfg:         cfg,
		client:      client,
		bus:         bus,
		guard:       guard,
		commands:    commands,
		validate:    validator.New(),
		queue:       q,
		registry:    reg,
		bandit:      bandit,
		router:      router,
		assignments: assignments,
		arbitration: engine,
		loads:       make(map[string]int),
	}
	o.dispatcher = newDispatcher(o, cfg.Dispatch)
	return o, nil
}

// Start replays persisted state and brings the system online. Replay runs
// before any dispatch worker starts so no task is routed against a
// half-loaded registry. Calling Start twice is a logged no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		slog.Warn("Orchestrator already started, ignoring duplicate Start call")
		return nil
	}
	o.started = true
	o.startedAt = time.Now().UTC()
	o.mu.Unlock()

	o.bus.Start(ctx)

	if err := o.registry.Load(ctx); err != nil {
		return fmt.Errorf("loading agent profiles: %w", err)
	}
	if err := o.queue.Replay(ctx); err != nil {
		return fmt.Errorf("replaying queued tasks: %w", err)
	}
	if err := o.arbitration.Load(ctx); err != nil {
		return fmt.Errorf("replaying arbitration state: %w", err)
	}

	o.registry.Start(ctx)
	o.dispatcher.Start(ctx)

	slog.Info("Orchestrator started",
		"version", version.Full(),
		"dispatch_workers", o.cfg.Dispatch.WorkerCount,
		"persistence", o.client != nil)
	return nil
}

// Shutdown drains the system: dispatch stops claiming tasks, open
// assignments are failed back, arbitration sessions are closed out, and
// the bus flushes a final summary event before closing.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	slog.Info("Orchestrator shutting down")

	o.dispatcher.Stop()
	o.assignments.Shutdown(ctx)

	// In-flight tasks cannot survive the process. They go terminal now so
	// a restart replays only what was still queued.
	if states, err := o.queue.Tasks(ctx); err == nil {
		for _, st := range states {
			if st.Status != models.TaskStatusQueued {
				o.markTask(ctx, st.Task.TaskID, models.TaskStatusFailed, "System shutdown")
			}
		}
	}

	o.arbitration.Shutdown(ctx)
	o.registry.Stop()

	depth, _ := o.queue.Depth(ctx)
	astats := o.assignments.Stats()
	o.bus.Emit(ctx, models.Event{
		Type:     events.EventTypeSystemShutdown,
		Severity: models.SeverityInfo,
		Source:   "orchestrator",
		Metadata: map[string]any{
			"uptime_ms":             time.Since(o.startedAt).Milliseconds(),
			"queued_tasks":          depth,
			"assignments_completed": astats.Completed,
			"assignments_failed":    astats.Failed,
		},
	})
	o.bus.Close()

	o.mu.Lock()
	o.started = false
	o.mu.Unlock()
	slog.Info("Orchestrator stopped")
}

// Stats aggregates every subsystem's counters into one snapshot.
type Stats struct {
	Queue       queue.Stats         `json:"queue"`
	Registry    registry.Stats      `json:"registry"`
	Routing     routing.Stats       `json:"routing"`
	Bandit      routing.BanditStats `json:"bandit"`
	Assignments assignment.Stats    `json:"assignments"`
	Arbitration arbitration.Stats   `json:"arbitration"`
	Events      events.Stats        `json:"events"`
}

// Stats returns a point-in-time snapshot across all subsystems.
func (o *Orchestrator) Stats(ctx context.Context) (*Stats, error) {
	qs, err := o.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Queue:       qs,
		Registry:    o.registry.GetStats(),
		Routing:     o.router.Stats(),
		Bandit:      o.bandit.Stats(),
		Assignments: o.assignments.Stats(),
		Arbitration: o.arbitration.Stats(),
		Events:      o.bus.Stats(),
	}, nil
}

// Health describes liveness for the health endpoint. Status is "healthy"
// unless a dependency check fails, in which case it degrades rather than
// hard-failing: the process is still serving.
type Health struct {
	Status    string              `json:"status"`
	Version   string              `json:"version"`
	StartedAt time.Time           `json:"started_at"`
	Workers   []WorkerHealth      `json:"workers"`
	Database  *store.HealthStatus `json:"database,omitempty"`
}

// Health reports process status, dispatch worker health, and database
// reachability when persistence is configured.
func (o *Orchestrator) Health(ctx context.Context) *Health {
	o.mu.Lock()
	startedAt := o.startedAt
	o.mu.Unlock()

	h := &Health{
		Status:    "healthy",
		Version:   version.Full(),
		StartedAt: startedAt,
		Workers:   o.dispatcher.Health(),
	}
	if o.client != nil {
		dbHealth, err := o.client.Health(ctx)
		h.Database = dbHealth
		if err != nil {
			h.Status = "degraded"
		}
	}
	return h
}

// Events returns recent events matching the filter, newest first.
func (o *Orchestrator) Events(filter events.Filter, limit int) []models.Event {
	return o.bus.Events(filter, limit)
}

// AuditLog returns recent authorization decisions, newest first.
func (o *Orchestrator) AuditLog(limit int) []security.AuditEntry {
	return o.guard.AuditLog(limit)
}

// Security exposes the security gate for transport-layer authentication.
func (o *Orchestrator) Security() *security.Context {
	return o.guard
}

// Commands exposes the command allowlist validator.
func (o *Orchestrator) Commands() *security.CommandValidator {
	return o.commands
}

// Arbitration exposes the arbitration engine for session-level operations
// (waivers, appeals, precedent queries) that need no extra coordination.
func (o *Orchestrator) Arbitration() *arbitration.Engine {
	return o.arbitration
}

// Rules returns the configured constitutional rule set in evaluation order.
func (o *Orchestrator) Rules() []models.ConstitutionalRule {
	return append([]models.ConstitutionalRule(nil), o.cfg.Rules...)
}

// Bus exposes the event bus for subscribers.
func (o *Orchestrator) Bus() *events.Bus {
	return o.bus
}

// trackAssigned bumps the agent's active count after an assignment opens
// and pushes the new figure to the registry.
func (o *Orchestrator) trackAssigned(ctx context.Context, agentID string) {
	o.mu.Lock()
	o.loads[agentID]++
	active := o.loads[agentID]
	o.mu.Unlock()

	if err := o.registry.UpdateLoad(ctx, agentID, active, 0); err != nil {
		slog.Warn("Updating agent load failed", "agent_id", agentID, "error", err)
	}
}

// releaseAgent decrements the agent's active count after an assignment
// reaches a terminal state. The registry update is best-effort; the agent
// may already be unregistered.
func (o *Orchestrator) releaseAgent(ctx context.Context, agentID string) {
	o.mu.Lock()
	active := o.loads[agentID]
	if active > 0 {
		active--
	}
	if active == 0 {
		delete(o.loads, agentID)
	} else {
		o.loads[agentID] = active
	}
	o.mu.Unlock()

	if err := o.registry.UpdateLoad(ctx, agentID, active, 0); err != nil {
		slog.Debug("Updating agent load failed", "agent_id", agentID, "error", err)
	}
}

// feedOutcome reports an assignment's terminal result to the router so the
// bandit and the agent's performance history learn from it. Latency falls
// back to wall time since assignment when the agent did not report one.
func (o *Orchestrator) feedOutcome(ctx context.Context, a *models.TaskAssignment, success bool, quality, latencyMs float64) {
	if latencyMs <= 0 {
		latencyMs = float64(time.Since(a.AssignedAt).Microseconds()) / 1000.0
	}
	outcome := models.RoutingOutcome{
		TaskID:    a.Task.TaskID,
		AgentID:   a.AgentID,
		Success:   success,
		Quality:   quality,
		LatencyMs: latencyMs,
	}
	if err := o.router.RecordOutcome(ctx, outcome); err != nil {
		slog.Warn("Recording routing outcome failed",
			"task_id", a.Task.TaskID,
			"agent_id", a.AgentID,
			"error", err)
	}
}
