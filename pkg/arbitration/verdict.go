package arbitration

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

const (
	// precedentConfidenceThreshold is the verdict confidence above which a
	// precedent is recorded.
	precedentConfidenceThreshold = 0.8

	// deferredConfidence is assigned when there is nothing to judge on.
	deferredConfidence = 0.3

	verdictIssuer = "arbitration-engine"
)

// VerdictGenerator aggregates rule evaluation results into a verdict with a
// stepwise reasoning chain.
type VerdictGenerator struct{}

// Generate renders the verdict for a session from its recorded evaluation
// results. Any violated rule rejects; an approved waiver covering the
// top-severity violated rule softens the rejection to conditional. The
// verdict confidence is the mean of the result confidences.
func (g *VerdictGenerator) Generate(s *models.ArbitrationSession, rules map[string]models.ConstitutionalRule) *models.Verdict {
	now := time.Now().UTC()
	verdict := &models.Verdict{
		ID:           "verdict-" + uuid.NewString(),
		SessionID:    s.SessionID,
		RulesApplied: append([]string(nil), s.RulesEvaluated...),
		Evidence:     append([]string(nil), s.Violation.Evidence...),
		IssuedBy:     verdictIssuer,
		IssuedAt:     now,
	}

	results := s.Metadata.RuleEvaluationResults
	if len(results) == 0 {
		verdict.Outcome = models.VerdictDeferred
		verdict.Confidence = deferredConfidence
		verdict.Reasoning = []models.ReasoningStep{{
			Step:        1,
			Description: "no rules were evaluated; deferring judgment",
			Confidence:  deferredConfidence,
		}}
		verdict.AuditLog = append(verdict.AuditLog, issuedEntry(verdict))
		return verdict
	}

	violated := violatedResults(results)
	confidenceSum := 0.0
	for _, res := range results {
		confidenceSum += res.Confidence
	}
	verdict.Confidence = models.Clamp(confidenceSum/float64(len(results)), 0, 1)

	outcome := models.VerdictApproved
	if len(violated) > 0 {
		outcome = models.VerdictRejected
		if top := topViolatedRule(violated, rules); top != "" && waiverApprovedFor(s, top) {
			outcome = models.VerdictConditional
		}
	}
	verdict.Outcome = outcome

	steps := []models.ReasoningStep{{
		Step:           1,
		Description:    fmt.Sprintf("evaluated %d rules; %d violated", len(results), len(violated)),
		RuleReferences: append([]string(nil), s.RulesEvaluated...),
		Confidence:     verdict.Confidence,
	}}
	for _, res := range violated {
		step := models.ReasoningStep{
			Step:           len(steps) + 1,
			Description:    res.Explanation,
			RuleReferences: []string{res.RuleID},
			Confidence:     res.Confidence,
		}
		if res.Violation != nil {
			step.Evidence = append([]string(nil), res.Violation.Evidence...)
		}
		steps = append(steps, step)
	}
	conclusion := "outcome " + string(outcome)
	if outcome == models.VerdictConditional {
		conclusion += ": rejection softened by approved waiver"
	}
	verdict.Reasoning = append(steps, models.ReasoningStep{
		Step:        len(steps) + 1,
		Description: conclusion,
		Confidence:  verdict.Confidence,
	})

	seen := make(map[string]struct{})
	for _, res := range results {
		for _, id := range res.PrecedentsApplied {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			verdict.Precedents = append(verdict.Precedents, id)
		}
	}

	verdict.AuditLog = append(verdict.AuditLog, issuedEntry(verdict))
	return verdict
}

func issuedEntry(v *models.Verdict) string {
	return fmt.Sprintf("verdict issued: %s (confidence %.2f)", v.Outcome, v.Confidence)
}

// violatedResults filters evaluation results down to the violated ones.
func violatedResults(results []models.RuleEvaluationResult) []models.RuleEvaluationResult {
	out := make([]models.RuleEvaluationResult, 0, len(results))
	for _, res := range results {
		if res.Violated {
			out = append(out, res)
		}
	}
	return out
}

// topViolatedRule returns the highest-severity violated rule, the earlier
// result winning ties.
func topViolatedRule(violated []models.RuleEvaluationResult, rules map[string]models.ConstitutionalRule) string {
	top := ""
	topRank := -1
	for _, res := range violated {
		rule, ok := rules[res.RuleID]
		if !ok {
			continue
		}
		if rank := rule.Severity.Rank(); rank > topRank {
			topRank = rank
			top = res.RuleID
		}
	}
	return top
}

// waiverApprovedFor reports whether the session carries an approved waiver
// for the given rule.
func waiverApprovedFor(s *models.ArbitrationSession, ruleID string) bool {
	if s.WaiverRequest == nil || s.Metadata.WaiverDecision == nil {
		return false
	}
	return s.WaiverRequest.RuleID == ruleID && s.Metadata.WaiverDecision.Status == models.WaiverApproved
}

// sanitizeVerdict coerces out-of-range verdict data instead of crashing:
// an unknown outcome becomes DEFERRED and confidence is clamped to [0, 1].
func sanitizeVerdict(v *models.Verdict) {
	if v == nil {
		return
	}
	if !v.Outcome.IsValid() {
		slog.Warn("Unknown verdict outcome, deferring", "verdict_id", v.ID, "outcome", string(v.Outcome))
		v.Outcome = models.VerdictDeferred
	}
	if math.IsNaN(v.Confidence) {
		slog.Warn("Verdict confidence is NaN, zeroing", "verdict_id", v.ID)
		v.Confidence = 0
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		slog.Warn("Verdict confidence out of range, clamping", "verdict_id", v.ID, "confidence", v.Confidence)
		v.Confidence = models.Clamp(v.Confidence, 0, 1)
	}
}

// precedentFromVerdict summarizes a high-confidence verdict for reuse. The
// category and title come from the top violated rule, falling back to the
// first rule applied.
func precedentFromVerdict(s *models.ArbitrationSession, v *models.Verdict, rules map[string]models.ConstitutionalRule) *models.Precedent {
	ruleID := topViolatedRule(violatedResults(s.Metadata.RuleEvaluationResults), rules)
	if ruleID == "" && len(v.RulesApplied) > 0 {
		ruleID = v.RulesApplied[0]
	}

	category := "general"
	title := fmt.Sprintf("%s violation: %s", s.Violation.Severity, v.Outcome)
	if rule, ok := rules[ruleID]; ok {
		if rule.Category != "" {
			category = rule.Category
		}
		if rule.Title != "" {
			title = fmt.Sprintf("%s: %s", rule.Title, v.Outcome)
		}
	}

	summary := ""
	if len(v.Reasoning) > 0 {
		summary = v.Reasoning[len(v.Reasoning)-1].Description
	}

	return &models.Precedent{
		ID:               "prec-" + uuid.NewString(),
		Title:            title,
		RulesInvolved:    append([]string(nil), v.RulesApplied...),
		VerdictID:        v.ID,
		Outcome:          v.Outcome,
		Category:         category,
		Severity:         s.Violation.Severity,
		KeyFacts:         violationKeyFacts(s.Violation),
		ReasoningSummary: summary,
		CreatedAt:        time.Now().UTC(),
	}
}

// GenerateVerdict issues the session's verdict from its recorded rule
// evaluations. A verdict with confidence above the precedent threshold is
// recorded as a precedent for future evaluations.
func (e *Engine) GenerateVerdict(ctx context.Context, sessionID string) (*models.Verdict, error) {
	sl, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	state := sl.session.State
	if state != models.SessionStateVerdictGeneration && state != models.SessionStateWaiverConsideration {
		sl.lock.Unlock()
		return nil, faults.Precondition("cannot generate a verdict in state %s", state).
			With("session_id", sessionID)
	}
	if sl.session.Verdict != nil {
		sl.lock.Unlock()
		return nil, faults.Precondition("verdict already issued for session %q", sessionID)
	}

	verdict := e.verdicts.Generate(sl.session, sl.rules)
	sanitizeVerdict(verdict)
	sl.session.Verdict = verdict

	var minted *models.Precedent
	if verdict.Confidence > precedentConfidenceThreshold {
		minted = precedentFromVerdict(sl.session, verdict, sl.rules)
	}

	evs := []models.Event{{
		Type:      events.EventTypeArbitrationVerdict,
		Severity:  models.SeverityInfo,
		Source:    "arbitration",
		SessionID: sessionID,
		Metadata: map[string]any{
			"verdict_id": verdict.ID,
			"outcome":    string(verdict.Outcome),
			"confidence": verdict.Confidence,
		},
	}}

	out := *verdict
	e.finish(ctx, sl, evs)
	if minted != nil {
		e.recordPrecedent(ctx, sessionID, minted)
	}
	return &out, nil
}
