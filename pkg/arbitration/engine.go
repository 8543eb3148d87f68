// Package arbitration adjudicates constitutional violations. Each violation
// opens a session that walks a fixed state machine: rules are evaluated
// against the violation, a verdict with stepwise reasoning is generated, and
// waivers and appeals can soften or overturn the outcome. High-confidence
// verdicts are recorded as precedents that inform later evaluations.
//
// Sessions are isolated: each runs under its own FIFO lock, a fault inside
// one session never touches another, and a session that cannot proceed is
// failed rather than left mid-flight. Completed sessions stay queryable;
// only COMPLETED can re-open, and only into appeal review.
package arbitration

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/fairlock"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// SessionStore persists arbitration sessions. SaveSession upserts the full
// record by session ID; LoadSessions returns every persisted session.
type SessionStore interface {
	SaveSession(ctx context.Context, s *models.ArbitrationSession) error
	LoadSessions(ctx context.Context) ([]*models.ArbitrationSession, error)
}

// Stats is a point-in-time snapshot of the engine counters.
type Stats struct {
	TotalSessions     uint64 `json:"total_sessions"`
	ActiveSessions    int    `json:"active_sessions"`
	CompletedSessions uint64 `json:"completed_sessions"`
	FailedSessions    uint64 `json:"failed_sessions"`
	WaiversApproved   uint64 `json:"waivers_approved"`
	WaiversRejected   uint64 `json:"waivers_rejected"`
	AppealsUpheld     uint64 `json:"appeals_upheld"`
	AppealsOverturned uint64 `json:"appeals_overturned"`
	AppealsRemanded   uint64 `json:"appeals_remanded"`
	PrecedentCount    int    `json:"precedent_count"`
}

// slot pairs one session with its FIFO lock, the snapshot of rules it
// evaluated, and its timeout timer. All session mutations happen with the
// slot lock held.
type slot struct {
	lock    *fairlock.Mutex
	session *models.ArbitrationSession
	rules   map[string]models.ConstitutionalRule
	timeout *time.Timer
	counted bool // first terminal arrival already counted in engine stats
}

// Engine runs the arbitration state machine over concurrent sessions.
type Engine struct {
	cfg     *config.ArbitrationConfig
	store   SessionStore
	emitter events.Emitter

	evaluator  *RuleEvaluator
	verdicts   *VerdictGenerator
	waivers    *WaiverInterpreter
	appeals    *AppealArbitrator
	precedents *PrecedentManager

	mu       sync.RWMutex
	sessions map[string]*slot
	active   int

	totalSessions     uint64
	completed         uint64
	failed            uint64
	waiversApproved   uint64
	waiversRejected   uint64
	appealsUpheld     uint64
	appealsOverturned uint64
	appealsRemanded   uint64
}

// NewEngine wires the arbitration components. Both stores may be nil for
// memory-only operation; the emitter may be nil for no events.
func NewEngine(cfg *config.ArbitrationConfig, store SessionStore, precedentStore PrecedentStore, emitter events.Emitter) (*Engine, error) {
	precedents := NewPrecedentManager(cfg, precedentStore)
	evaluator, err := NewRuleEvaluator(precedents)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		emitter:    emitter,
		evaluator:  evaluator,
		verdicts:   &VerdictGenerator{},
		waivers:    &WaiverInterpreter{},
		appeals:    &AppealArbitrator{},
		precedents: precedents,
		sessions:   make(map[string]*slot),
	}, nil
}

// Load replays persisted precedents and sessions. Sessions found in a
// non-terminal state were interrupted mid-flight: they are failed on the
// spot so no session ever resumes from an intermediate state.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.precedents.Load(ctx); err != nil {
		return err
	}
	if e.store == nil {
		return nil
	}
	persisted, err := e.store.LoadSessions(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	recovered := 0
	for _, s := range persisted {
		if s == nil || s.SessionID == "" {
			continue
		}
		restored := s.Clone()
		if !restored.State.IsTerminal() {
			from := restored.State
			restored.State = models.SessionStateFailed
			restored.Metadata.StateTransitions = append(restored.Metadata.StateTransitions, models.StateTransition{
				From: from, To: models.SessionStateFailed, At: now, Reason: "crash recovery",
			})
			at := now
			restored.EndTime = &at
			recovered++
			if err := e.store.SaveSession(ctx, restored); err != nil {
				slog.Warn("Persisting recovered session failed", "session_id", restored.SessionID, "error", err)
			}
		}

		e.mu.Lock()
		e.sessions[restored.SessionID] = &slot{
			lock:    fairlock.New(),
			session: restored,
			rules:   make(map[string]models.ConstitutionalRule),
			counted: true,
		}
		e.totalSessions++
		if restored.State == models.SessionStateCompleted {
			e.completed++
		} else {
			e.failed++
		}
		e.mu.Unlock()
	}

	slog.Info("Arbitration sessions replayed", "total", len(persisted), "failed_on_recovery", recovered)
	return nil
}

// StartSession opens a new arbitration case for a violation. The active
// session count is capped; a caller hitting the cap is expected to retry
// after sessions drain.
func (e *Engine) StartSession(ctx context.Context, violation models.ConstitutionalViolation) (*models.ArbitrationSession, error) {
	if violation.Severity == "" {
		violation.Severity = models.RuleSeverityMedium
	}
	if !violation.Severity.IsValid() {
		return nil, faults.Precondition("violation severity %q is not valid", violation.Severity)
	}
	if violation.ID == "" {
		violation.ID = "violation-" + uuid.NewString()
	}
	if violation.DetectedAt.IsZero() {
		violation.DetectedAt = time.Now().UTC()
	}

	session := &models.ArbitrationSession{
		SessionID: "arb-" + uuid.NewString(),
		Violation: violation,
		State:     models.SessionStateRuleEvaluation,
		StartTime: time.Now().UTC(),
	}
	if violation.Violator != "" {
		session.Participants = []string{violation.Violator}
	}
	sl := &slot{
		lock:    fairlock.New(),
		session: session,
		rules:   make(map[string]models.ConstitutionalRule),
	}
	// Hold the fresh lock through creation so nobody who discovers the ID
	// sees a half-built session. Cannot fail: the lock is unpublished.
	sl.lock.TryLock()

	e.mu.Lock()
	if e.cfg.MaxConcurrentSessions > 0 && e.active >= e.cfg.MaxConcurrentSessions {
		active := e.active
		e.mu.Unlock()
		return nil, faults.Saturation("%d sessions active, limit %d", active, e.cfg.MaxConcurrentSessions)
	}
	e.sessions[session.SessionID] = sl
	e.active++
	e.totalSessions++
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveSession(ctx, session); err != nil {
			e.mu.Lock()
			delete(e.sessions, session.SessionID)
			e.active--
			e.totalSessions--
			e.mu.Unlock()
			sl.lock.Unlock()
			return nil, faults.TransientIO("persisting session %q", session.SessionID).Wrap(err)
		}
	}

	if e.cfg.SessionTimeout > 0 {
		id := session.SessionID
		sl.timeout = time.AfterFunc(e.cfg.SessionTimeout, func() {
			e.expireSession(id)
		})
	}

	out := session.Clone()
	sl.lock.Unlock()

	e.emit(ctx, models.Event{
		Type:      events.EventTypeArbitrationStarted,
		Severity:  models.SeverityInfo,
		Source:    "arbitration",
		SessionID: session.SessionID,
		Metadata: map[string]any{
			"violation_id": violation.ID,
			"rule_id":      violation.RuleID,
			"severity":     string(violation.Severity),
		},
	})
	return out, nil
}

// CompleteSession closes a session that has its verdict on record.
func (e *Engine) CompleteSession(ctx context.Context, sessionID string) (*models.ArbitrationSession, error) {
	sl, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sl.session.State == models.SessionStateAppealPending {
		sl.lock.Unlock()
		return nil, faults.Precondition("appeal is pending review for session %q", sessionID)
	}
	if sl.session.State.IsTerminal() {
		state := sl.session.State
		sl.lock.Unlock()
		return nil, faults.Precondition("session %q is already %s", sessionID, state)
	}
	if sl.session.Verdict == nil {
		sl.lock.Unlock()
		return nil, faults.Precondition("session %q has no verdict", sessionID)
	}
	if err := e.transition(sl, models.SessionStateCompleted, "session completed"); err != nil {
		sl.lock.Unlock()
		return nil, err
	}

	session := sl.session
	durationMs := float64(session.EndTime.Sub(session.StartTime).Microseconds()) / 1000
	evs := []models.Event{{
		Type:      events.EventTypeArbitrationCompleted,
		Severity:  models.SeverityInfo,
		Source:    "arbitration",
		SessionID: sessionID,
		Metadata: map[string]any{
			"outcome":     string(session.Verdict.Outcome),
			"confidence":  session.Verdict.Confidence,
			"duration_ms": durationMs,
		},
	}}

	out := session.Clone()
	e.finish(ctx, sl, evs)
	return out, nil
}

// FailSession moves a session to FAILED from any non-terminal state. Failing
// an already-terminal session is a no-op, so cleanup paths can call it
// unconditionally.
func (e *Engine) FailSession(ctx context.Context, sessionID string, reason string) error {
	sl, err := e.acquire(ctx, sessionID)
	if err != nil {
		return err
	}

	if sl.session.State.IsTerminal() {
		sl.lock.Unlock()
		return nil
	}

	evs := e.failTransitionLocked(sl, reason)
	e.finish(ctx, sl, evs)
	return nil
}

// GetSession returns a copy of one session, terminal or not.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*models.ArbitrationSession, error) {
	sl, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := sl.session.Clone()
	sl.lock.Unlock()
	return out, nil
}

// Sessions returns a copy of every session, newest first.
func (e *Engine) Sessions(ctx context.Context) ([]*models.ArbitrationSession, error) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	out := make([]*models.ArbitrationSession, 0, len(ids))
	for _, id := range ids {
		s, err := e.GetSession(ctx, id)
		if err != nil {
			if faults.Is(err, faults.KindNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

// Precedents exposes the precedent index, read-mostly, for the API surface.
func (e *Engine) Precedents() *PrecedentManager {
	return e.precedents
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		TotalSessions:     e.totalSessions,
		ActiveSessions:    e.active,
		CompletedSessions: e.completed,
		FailedSessions:    e.failed,
		WaiversApproved:   e.waiversApproved,
		WaiversRejected:   e.waiversRejected,
		AppealsUpheld:     e.appealsUpheld,
		AppealsOverturned: e.appealsOverturned,
		AppealsRemanded:   e.appealsRemanded,
		PrecedentCount:    e.precedents.Count(),
	}
}

// Shutdown fails every active session so none is left mid-flight. Anything
// that still escapes (hard crash) is failed by the next Load.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	active := e.active
	e.mu.RUnlock()

	for _, id := range ids {
		if err := e.FailSession(ctx, id, "system shutdown"); err != nil {
			slog.Warn("Failing session on shutdown", "session_id", id, "error", err)
		}
	}
	slog.Info("Arbitration engine stopped", "failed_on_shutdown", active)
}

// allowedTransitions is the session state machine. FAILED is reachable from
// every non-terminal state; COMPLETED can re-open only into appeal review.
var allowedTransitions = map[models.SessionState]map[models.SessionState]bool{
	models.SessionStateRuleEvaluation: {
		models.SessionStateVerdictGeneration: true,
		models.SessionStateFailed:            true,
	},
	models.SessionStateVerdictGeneration: {
		models.SessionStateWaiverConsideration: true,
		models.SessionStateCompleted:           true,
		models.SessionStateFailed:              true,
	},
	models.SessionStateWaiverConsideration: {
		models.SessionStateCompleted: true,
		models.SessionStateFailed:    true,
	},
	models.SessionStateCompleted: {
		models.SessionStateAppealPending: true,
	},
	models.SessionStateAppealPending: {
		models.SessionStateCompleted: true,
		models.SessionStateFailed:    true,
	},
}

// transition validates and applies one state change on a locked session,
// recording it in the audit trail. A rejected transition leaves the session
// untouched. Caller holds the slot lock.
func (e *Engine) transition(sl *slot, to models.SessionState, reason string) error {
	from := sl.session.State
	if !allowedTransitions[from][to] {
		return faults.Precondition("invalid state transition %s -> %s", from, to).
			With("session_id", sl.session.SessionID)
	}

	now := time.Now().UTC()
	sl.session.State = to
	sl.session.Metadata.StateTransitions = append(sl.session.Metadata.StateTransitions, models.StateTransition{
		From: from, To: to, At: now, Reason: reason,
	})

	if to.IsTerminal() {
		at := now
		sl.session.EndTime = &at
		if sl.timeout != nil {
			sl.timeout.Stop()
			sl.timeout = nil
		}
		e.mu.Lock()
		e.active--
		if !sl.counted {
			sl.counted = true
			if to == models.SessionStateCompleted {
				e.completed++
			} else {
				e.failed++
			}
		}
		e.mu.Unlock()
	} else if from.IsTerminal() {
		// Re-opened by an appeal: the session is active work again.
		sl.session.EndTime = nil
		e.mu.Lock()
		e.active++
		e.mu.Unlock()
	}
	return nil
}

// failTransitionLocked moves a locked non-terminal session to FAILED and
// returns the failure event. Caller holds the slot lock.
func (e *Engine) failTransitionLocked(sl *slot, reason string) []models.Event {
	if err := e.transition(sl, models.SessionStateFailed, reason); err != nil {
		slog.Warn("Failing session rejected", "session_id", sl.session.SessionID, "error", err)
		return nil
	}
	return []models.Event{{
		Type:      events.EventTypeArbitrationFailed,
		Severity:  models.SeverityWarn,
		Source:    "arbitration",
		SessionID: sl.session.SessionID,
		Metadata:  map[string]any{"reason": reason},
	}}
}

// acquire resolves a session and takes its FIFO lock. The slot is re-checked
// after the lock lands: a creation rollback may have removed it while the
// caller waited.
func (e *Engine) acquire(ctx context.Context, sessionID string) (*slot, error) {
	e.mu.RLock()
	sl, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if !ok {
		return nil, faults.NotFound("session %q not found", sessionID)
	}
	if err := sl.lock.Lock(ctx); err != nil {
		return nil, err
	}
	e.mu.RLock()
	current, stillThere := e.sessions[sessionID]
	e.mu.RUnlock()
	if !stillThere || current != sl {
		sl.lock.Unlock()
		return nil, faults.NotFound("session %q not found", sessionID)
	}
	return sl, nil
}

// finish releases the slot lock, then persists the session snapshot and
// emits the collected events. No lock is held while handlers run, so they
// are free to call back into the engine.
func (e *Engine) finish(ctx context.Context, sl *slot, evs []models.Event) {
	snapshot := sl.session.Clone()
	sl.lock.Unlock()
	e.persistBestEffort(ctx, snapshot)
	for _, ev := range evs {
		e.emit(ctx, ev)
	}
}

// expireSession fires when a session outlives its timeout without reaching
// a terminal state.
func (e *Engine) expireSession(sessionID string) {
	if err := e.FailSession(context.Background(), sessionID, "session timeout"); err != nil {
		slog.Warn("Expiring session failed", "session_id", sessionID, "error", err)
	}
}

// recordPrecedent indexes a freshly minted precedent and announces it.
func (e *Engine) recordPrecedent(ctx context.Context, sessionID string, p *models.Precedent) {
	e.precedents.Add(ctx, p)
	e.emit(ctx, models.Event{
		Type:      events.EventTypePrecedentRecorded,
		Severity:  models.SeverityInfo,
		Source:    "arbitration",
		SessionID: sessionID,
		Metadata: map[string]any{
			"precedent_id": p.ID,
			"outcome":      string(p.Outcome),
			"category":     p.Category,
		},
	})
}

func (e *Engine) persistBestEffort(ctx context.Context, s *models.ArbitrationSession) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveSession(ctx, s); err != nil {
		slog.Warn("Persisting session failed", "session_id", s.SessionID, "error", err)
	}
}

func (e *Engine) emit(ctx context.Context, event models.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(ctx, event)
}
