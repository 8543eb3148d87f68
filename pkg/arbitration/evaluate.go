package arbitration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

const (
	// evaluationBaseConfidence is the confidence of a clean condition
	// evaluation with all required evidence present.
	evaluationBaseConfidence = 0.95

	// inconclusiveConfidence is assigned when a condition cannot be
	// evaluated. The rule is treated as not violated.
	inconclusiveConfidence = 0.3

	// missingEvidencePenalty is subtracted per missing required evidence
	// entry. Missing evidence weakens a result without disqualifying it.
	missingEvidencePenalty = 0.15

	// minEvaluationConfidence floors the confidence of a completed
	// evaluation.
	minEvaluationConfidence = 0.1
)

// RuleEvaluator judges constitutional rules against reported violations.
// Conditions are boolean expressions over the violation and its context,
// compiled once per distinct expression and cached.
type RuleEvaluator struct {
	precedents *PrecedentManager

	env      *cel.Env
	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewRuleEvaluator builds the condition environment. The precedent manager
// may be nil; evaluations then skip the precedent consult.
func NewRuleEvaluator(precedents *PrecedentManager) (*RuleEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("violation", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, faults.Fatal("building rule condition environment").Wrap(err)
	}
	return &RuleEvaluator{
		precedents: precedents,
		env:        env,
		programs:   make(map[string]cel.Program),
	}, nil
}

// EvaluateRule judges one rule against a violation. Inability to evaluate
// is never fatal: inactive rules and broken conditions produce inconclusive,
// non-violated results instead of errors.
func (re *RuleEvaluator) EvaluateRule(ctx context.Context, rule models.ConstitutionalRule, violation models.ConstitutionalViolation) models.RuleEvaluationResult {
	start := time.Now()
	result := models.RuleEvaluationResult{RuleID: rule.ID}

	now := time.Now().UTC()
	if !rule.ActiveAt(now) {
		if now.Before(rule.EffectiveDate) {
			result.Explanation = fmt.Sprintf("rule not yet effective (effective %s)", rule.EffectiveDate.UTC().Format(time.RFC3339))
		} else {
			result.Explanation = "rule expired"
		}
		result.Confidence = 1
		result.EvaluationTimeMs = time.Since(start).Milliseconds()
		return result
	}

	held, evalErr := re.conditionHolds(rule.Condition, violation)
	if evalErr != nil {
		slog.Warn("Rule condition inconclusive", "rule_id", rule.ID, "error", evalErr)
		result.Explanation = fmt.Sprintf("condition inconclusive: %v", evalErr)
		result.Confidence = inconclusiveConfidence
		result.EvaluationTimeMs = time.Since(start).Milliseconds()
		return result
	}

	confidence := evaluationBaseConfidence
	missing := missingEvidence(rule.RequiredEvidence, violation.Evidence)
	if len(missing) > 0 {
		confidence -= missingEvidencePenalty * float64(len(missing))
	}
	result.Confidence = models.Clamp(confidence, minEvaluationConfidence, 1)

	if held {
		result.Violated = true
		v := violation
		result.Violation = &v
		result.Explanation = "condition held against the reported violation"
	} else {
		result.Explanation = "condition not satisfied"
	}
	if len(missing) > 0 {
		result.Explanation += "; missing evidence: " + strings.Join(missing, ", ")
	}

	if re.precedents != nil {
		for _, p := range re.precedents.FindSimilar(ctx, rule.Category, violation.Severity, violationKeyFacts(violation)) {
			result.PrecedentsApplied = append(result.PrecedentsApplied, p.ID)
		}
	}

	result.EvaluationTimeMs = time.Since(start).Milliseconds()
	return result
}

// conditionHolds compiles and evaluates the rule condition against the
// violation. An empty condition holds: the violation stands as reported.
func (re *RuleEvaluator) conditionHolds(condition string, violation models.ConstitutionalViolation) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}
	prg, err := re.program(condition)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(conditionActivation(violation))
	if err != nil {
		return false, err
	}
	held, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition evaluated to %T, want bool", out.Value())
	}
	return held, nil
}

// program returns the compiled program for a condition, compiling at most
// once per distinct expression.
func (re *RuleEvaluator) program(condition string) (cel.Program, error) {
	re.mu.Lock()
	defer re.mu.Unlock()
	if prg, ok := re.programs[condition]; ok {
		return prg, nil
	}
	ast, issues := re.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := re.env.Program(ast)
	if err != nil {
		return nil, err
	}
	re.programs[condition] = prg
	return prg, nil
}

// conditionActivation binds the violation fields and its free-form context
// for condition evaluation.
func conditionActivation(v models.ConstitutionalViolation) map[string]any {
	evidence := v.Evidence
	if evidence == nil {
		evidence = []string{}
	}
	vctx := v.Context
	if vctx == nil {
		vctx = map[string]any{}
	}
	return map[string]any{
		"violation": map[string]any{
			"id":          v.ID,
			"rule_id":     v.RuleID,
			"severity":    string(v.Severity),
			"description": v.Description,
			"evidence":    evidence,
			"violator":    v.Violator,
			"location":    v.Location,
		},
		"context": vctx,
	}
}

// missingEvidence returns the required entries with no matching violation
// evidence. A match is a case-insensitive substring hit.
func missingEvidence(required, available []string) []string {
	var missing []string
	for _, want := range required {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		found := false
		for _, have := range available {
			if strings.Contains(strings.ToLower(have), strings.ToLower(want)) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}
	return missing
}

// violationKeyFacts extracts the facts a violation contributes to precedent
// similarity: its evidence entries, the violator, and the location.
func violationKeyFacts(v models.ConstitutionalViolation) []string {
	facts := append([]string(nil), v.Evidence...)
	if v.Violator != "" {
		facts = append(facts, v.Violator)
	}
	if v.Location != "" {
		facts = append(facts, v.Location)
	}
	return facts
}

// EvaluateRules runs every rule against the session's violation, records the
// results in the session metadata, and moves the session to verdict
// generation. A panic during evaluation fails this session and no other.
func (e *Engine) EvaluateRules(ctx context.Context, sessionID string, rules []models.ConstitutionalRule) ([]models.RuleEvaluationResult, error) {
	sl, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sl.session.State != models.SessionStateRuleEvaluation {
		state := sl.session.State
		sl.lock.Unlock()
		return nil, faults.Precondition("cannot evaluate rules in state %s", state).
			With("session_id", sessionID)
	}

	results, evalErr := e.runEvaluations(ctx, sl.session.Violation, rules)
	if evalErr != nil {
		evs := e.failTransitionLocked(sl, evalErr.Error())
		e.finish(ctx, sl, evs)
		return nil, evalErr
	}

	for _, rule := range rules {
		sl.rules[rule.ID] = rule
		sl.session.RulesEvaluated = append(sl.session.RulesEvaluated, rule.ID)
	}
	sl.session.Metadata.RuleEvaluationResults = results

	if err := e.transition(sl, models.SessionStateVerdictGeneration, "rules evaluated"); err != nil {
		sl.lock.Unlock()
		return nil, err
	}

	evs := make([]models.Event, 0, len(results))
	for _, res := range results {
		evs = append(evs, models.Event{
			Type:      events.EventTypeArbitrationRuleEvaluated,
			Severity:  models.SeverityDebug,
			Source:    "arbitration",
			SessionID: sessionID,
			Metadata: map[string]any{
				"rule_id":    res.RuleID,
				"violated":   res.Violated,
				"confidence": res.Confidence,
			},
		})
	}

	out := append([]models.RuleEvaluationResult(nil), results...)
	e.finish(ctx, sl, evs)
	return out, nil
}

// runEvaluations evaluates each rule, converting a panic into a fatal fault
// so a poisoned evaluation cannot take down the engine.
func (e *Engine) runEvaluations(ctx context.Context, violation models.ConstitutionalViolation, rules []models.ConstitutionalRule) (results []models.RuleEvaluationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = faults.Fatal("rule evaluation panicked: %v", r)
		}
	}()
	results = make([]models.RuleEvaluationResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, e.evaluator.EvaluateRule(ctx, rule, violation))
	}
	return results, nil
}
