package models

import "time"

// ConstitutionalRule is a declarative policy a violation is judged against.
// The condition is a boolean expression over the violation and its context.
type ConstitutionalRule struct {
	ID               string         `json:"id"`
	Version          string         `json:"version"`
	Category         string         `json:"category"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Condition        string         `json:"condition"`
	Severity         RuleSeverity   `json:"severity"`
	Waivable         bool           `json:"waivable"`
	RequiredEvidence []string       `json:"required_evidence,omitempty"`
	Precedents       []string       `json:"precedents,omitempty"`
	EffectiveDate    time.Time      `json:"effective_date"`
	ExpirationDate   *time.Time     `json:"expiration_date,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// ActiveAt reports whether the rule is in force at the given instant
func (r *ConstitutionalRule) ActiveAt(now time.Time) bool {
	if now.Before(r.EffectiveDate) {
		return false
	}
	if r.ExpirationDate != nil && now.After(*r.ExpirationDate) {
		return false
	}
	return true
}

// ConstitutionalViolation is a reported breach of a constitutional rule
type ConstitutionalViolation struct {
	ID          string         `json:"id"`
	RuleID      string         `json:"rule_id"`
	Severity    RuleSeverity   `json:"severity"`
	Description string         `json:"description"`
	Evidence    []string       `json:"evidence,omitempty"`
	DetectedAt  time.Time      `json:"detected_at"`
	Violator    string         `json:"violator,omitempty"`
	Location    string         `json:"location,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// RuleEvaluationResult is the outcome of evaluating one rule in a session
type RuleEvaluationResult struct {
	RuleID            string                   `json:"rule_id"`
	Violated          bool                     `json:"violated"`
	Explanation       string                   `json:"explanation"`
	Confidence        float64                  `json:"confidence"`
	PrecedentsApplied []string                 `json:"precedents_applied,omitempty"`
	EvaluationTimeMs  int64                    `json:"evaluation_time_ms"`
	Violation         *ConstitutionalViolation `json:"violation,omitempty"`
}

// StateTransition is one accepted session state change, recorded append-only
type StateTransition struct {
	From   SessionState `json:"from"`
	To     SessionState `json:"to"`
	At     time.Time    `json:"at"`
	Reason string       `json:"reason"`
}

// SessionMetadata accumulates the session's audit trail: every accepted
// state transition, rule evaluation results, the waiver decision, and
// decided appeals across appeal levels.
type SessionMetadata struct {
	StateTransitions      []StateTransition      `json:"state_transitions"`
	RuleEvaluationResults []RuleEvaluationResult `json:"rule_evaluation_results,omitempty"`
	WaiverDecision        *WaiverDecision        `json:"waiver_decision,omitempty"`
	AppealHistory         []Appeal               `json:"appeal_history,omitempty"`
	Extra                 map[string]any         `json:"extra,omitempty"`
}

// ArbitrationSession is one arbitration case from violation intake to a
// terminal verdict state
type ArbitrationSession struct {
	SessionID      string                  `json:"session_id"`
	Violation      ConstitutionalViolation `json:"violation"`
	RulesEvaluated []string                `json:"rules_evaluated,omitempty"`
	Participants   []string                `json:"participants,omitempty"`
	State          SessionState            `json:"state"`
	Verdict        *Verdict                `json:"verdict,omitempty"`
	WaiverRequest  *WaiverRequest          `json:"waiver_request,omitempty"`
	Appeal         *Appeal                 `json:"appeal,omitempty"`
	Metadata       SessionMetadata         `json:"metadata"`
	StartTime      time.Time               `json:"start_time"`
	EndTime        *time.Time              `json:"end_time,omitempty"`
}

// Clone returns a deep copy of the session record
func (s *ArbitrationSession) Clone() *ArbitrationSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.RulesEvaluated != nil {
		out.RulesEvaluated = append([]string(nil), s.RulesEvaluated...)
	}
	if s.Participants != nil {
		out.Participants = append([]string(nil), s.Participants...)
	}
	if s.Verdict != nil {
		v := *s.Verdict
		out.Verdict = &v
	}
	if s.WaiverRequest != nil {
		w := *s.WaiverRequest
		out.WaiverRequest = &w
	}
	if s.Appeal != nil {
		a := *s.Appeal
		out.Appeal = &a
	}
	if s.EndTime != nil {
		at := *s.EndTime
		out.EndTime = &at
	}
	out.Metadata.StateTransitions = append([]StateTransition(nil), s.Metadata.StateTransitions...)
	if s.Metadata.RuleEvaluationResults != nil {
		out.Metadata.RuleEvaluationResults = append([]RuleEvaluationResult(nil), s.Metadata.RuleEvaluationResults...)
	}
	if s.Metadata.WaiverDecision != nil {
		d := *s.Metadata.WaiverDecision
		out.Metadata.WaiverDecision = &d
	}
	if s.Metadata.AppealHistory != nil {
		out.Metadata.AppealHistory = append([]Appeal(nil), s.Metadata.AppealHistory...)
	}
	if s.Metadata.Extra != nil {
		out.Metadata.Extra = make(map[string]any, len(s.Metadata.Extra))
		for k, v := range s.Metadata.Extra {
			out.Metadata.Extra[k] = v
		}
	}
	return &out
}
