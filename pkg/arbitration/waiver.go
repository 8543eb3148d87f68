package arbitration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

const (
	// Waiver scoring weights: the justification carries half the decision,
	// supporting evidence and the requested duration the rest.
	waiverJustificationWeight = 0.5
	waiverEvidenceWeight      = 0.3
	waiverDurationWeight      = 0.2

	// waiverApprovalThreshold is the minimum blended score for approval.
	waiverApprovalThreshold = 0.6

	// waiverEvidenceCap is the evidence count past which more entries stop
	// helping.
	waiverEvidenceCap = 3
)

// Duration bands: short waivers score full, multi-day ones half, anything
// past three days scores zero.
const (
	waiverShortDuration = 24 * time.Hour
	waiverLongDuration  = 72 * time.Hour
)

// WaiverInterpreter decides waiver requests deterministically: the same
// request always yields the same decision. The score blends justification
// strength, supporting evidence, and the requested duration.
type WaiverInterpreter struct{}

// Decide scores one waiver request against its rule. A request against a
// non-waivable rule is rejected outright.
func (w *WaiverInterpreter) Decide(req *models.WaiverRequest, rule models.ConstitutionalRule) *models.WaiverDecision {
	now := time.Now().UTC()
	if !rule.Waivable {
		return &models.WaiverDecision{
			Status:    models.WaiverRejected,
			Reasoning: fmt.Sprintf("rule %q is not waivable", rule.ID),
			DecidedAt: now,
		}
	}

	justification := textStrength(req.Justification)
	evidence := countStrength(req.Evidence, waiverEvidenceCap)
	duration := time.Duration(req.RequestedDurationMs) * time.Millisecond
	durationScore := waiverDurationScore(duration)

	score := waiverJustificationWeight*justification +
		waiverEvidenceWeight*evidence +
		waiverDurationWeight*durationScore

	decision := &models.WaiverDecision{
		Status: models.WaiverRejected,
		Reasoning: fmt.Sprintf("justification %.2f, evidence %.2f, duration %.2f: score %.2f against threshold %.2f",
			justification, evidence, durationScore, score, waiverApprovalThreshold),
		DecidedAt: now,
	}
	if score >= waiverApprovalThreshold {
		decision.Status = models.WaiverApproved
		expires := req.RequestedAt.Add(duration)
		decision.ExpiresAt = &expires
	}
	return decision
}

// waiverDurationScore bands the requested duration: the longer the ask, the
// weaker the request. A zero duration is a valid, immediately expiring ask.
func waiverDurationScore(d time.Duration) float64 {
	switch {
	case d <= waiverShortDuration:
		return 1
	case d <= waiverLongDuration:
		return 0.5
	default:
		return 0
	}
}

// textStrength bands free-form text by how much substance it carries.
func textStrength(text string) float64 {
	switch n := len(strings.TrimSpace(text)); {
	case n >= 200:
		return 1
	case n >= 80:
		return 0.8
	case n >= 20:
		return 0.5
	case n > 0:
		return 0.2
	default:
		return 0
	}
}

// countStrength counts non-empty entries, saturating at the limit.
func countStrength(entries []string, limit int) float64 {
	count := 0
	for _, entry := range entries {
		if strings.TrimSpace(entry) != "" {
			count++
		}
	}
	if count > limit {
		count = limit
	}
	return float64(count) / float64(limit)
}

// SubmitWaiver files a waiver request against one evaluated rule and decides
// it immediately. An approved waiver covering the top violated rule softens
// an already-issued rejection to conditional.
func (e *Engine) SubmitWaiver(ctx context.Context, sessionID string, req *models.WaiverRequest) (*models.WaiverDecision, error) {
	if !e.cfg.EnableWaivers {
		return nil, faults.Precondition("waiver system is disabled")
	}
	if req == nil {
		return nil, faults.Precondition("waiver request is required")
	}
	if req.RuleID == "" {
		return nil, faults.Precondition("waiver rule ID is required")
	}
	if req.RequestedDurationMs < 0 {
		return nil, faults.Precondition("waiver duration must not be negative")
	}

	sl, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sl.session.WaiverRequest != nil {
		sl.lock.Unlock()
		return nil, faults.Precondition("waiver already submitted for session %q", sessionID)
	}
	rule, evaluated := sl.rules[req.RuleID]
	if !evaluated {
		sl.lock.Unlock()
		return nil, faults.Precondition("rule %q was not evaluated in this session", req.RuleID)
	}
	if err := e.transition(sl, models.SessionStateWaiverConsideration, "waiver submitted"); err != nil {
		sl.lock.Unlock()
		return nil, err
	}

	submitted := *req
	if submitted.ID == "" {
		submitted.ID = "waiver-" + uuid.NewString()
	}
	if submitted.RequestedAt.IsZero() {
		submitted.RequestedAt = time.Now().UTC()
	}

	decision := e.waivers.Decide(&submitted, rule)
	sl.session.WaiverRequest = &submitted
	sl.session.Metadata.WaiverDecision = decision

	if decision.Status == models.WaiverApproved {
		e.softenVerdictLocked(sl, submitted.ID, submitted.RuleID)
	}

	e.mu.Lock()
	if decision.Status == models.WaiverApproved {
		e.waiversApproved++
	} else {
		e.waiversRejected++
	}
	e.mu.Unlock()

	evs := []models.Event{{
		Type:      events.EventTypeWaiverDecided,
		Severity:  models.SeverityInfo,
		Source:    "arbitration",
		SessionID: sessionID,
		Metadata: map[string]any{
			"waiver_id": submitted.ID,
			"rule_id":   submitted.RuleID,
			"status":    string(decision.Status),
		},
	}}

	out := *decision
	e.finish(ctx, sl, evs)
	return &out, nil
}

// softenVerdictLocked downgrades an already-issued rejection to conditional
// when the approved waiver covers the top-severity violated rule. Caller
// holds the slot lock.
func (e *Engine) softenVerdictLocked(sl *slot, waiverID, ruleID string) {
	verdict := sl.session.Verdict
	if verdict == nil || verdict.Outcome != models.VerdictRejected {
		return
	}
	top := topViolatedRule(violatedResults(sl.session.Metadata.RuleEvaluationResults), sl.rules)
	if top == "" || top != ruleID {
		return
	}
	verdict.Outcome = models.VerdictConditional
	verdict.AuditLog = append(verdict.AuditLog,
		fmt.Sprintf("outcome softened to %s: waiver %s approved for rule %s", models.VerdictConditional, waiverID, ruleID))
}
