package models

import "time"

// ReasoningStep is one step of a verdict's stepwise reasoning chain
type ReasoningStep struct {
	Step           int      `json:"step"`
	Description    string   `json:"description"`
	Evidence       []string `json:"evidence,omitempty"`
	RuleReferences []string `json:"rule_references,omitempty"`
	Confidence     float64  `json:"confidence"`
}

// Verdict is the adjudicated outcome of an arbitration session
type Verdict struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	Outcome      VerdictOutcome  `json:"outcome"`
	Reasoning    []ReasoningStep `json:"reasoning,omitempty"`
	RulesApplied []string        `json:"rules_applied,omitempty"`
	Evidence     []string        `json:"evidence,omitempty"`
	Precedents   []string        `json:"precedents,omitempty"`
	Confidence   float64         `json:"confidence"`
	IssuedBy     string          `json:"issued_by"`
	IssuedAt     time.Time       `json:"issued_at"`
	AuditLog     []string        `json:"audit_log,omitempty"`
}

// WaiverRequest asks to set aside a waivable rule for a bounded duration
type WaiverRequest struct {
	ID                  string         `json:"id"`
	RuleID              string         `json:"rule_id"`
	RequestedBy         string         `json:"requested_by"`
	Justification       string         `json:"justification"`
	Evidence            []string       `json:"evidence,omitempty"`
	RequestedDurationMs int64          `json:"requested_duration_ms"`
	RequestedAt         time.Time      `json:"requested_at"`
	Context             map[string]any `json:"context,omitempty"`
}

// WaiverDecision is the deterministic result of interpreting a waiver request
type WaiverDecision struct {
	Status    WaiverStatus `json:"status"`
	Reasoning string       `json:"reasoning"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	DecidedAt time.Time    `json:"decided_at"`
}

// Appeal challenges a completed session's verdict. Decision fields are
// filled by the review panel.
type Appeal struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	SubmittedBy string         `json:"submitted_by"`
	Grounds     string         `json:"grounds"`
	NewEvidence []string       `json:"new_evidence,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Decision    AppealDecision `json:"decision,omitempty"`
	Confidence  float64        `json:"confidence,omitempty"`
	ReviewedAt  *time.Time     `json:"reviewed_at,omitempty"`
	PanelNotes  []string       `json:"panel_notes,omitempty"`
}

// Precedent is a stored high-confidence verdict summarized for reuse in
// later rule evaluations. Category, severity and key facts drive the
// similarity match.
type Precedent struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	RulesInvolved    []string       `json:"rules_involved,omitempty"`
	VerdictID        string         `json:"verdict_id"`
	Outcome          VerdictOutcome `json:"outcome"`
	Category         string         `json:"category"`
	Severity         RuleSeverity   `json:"severity"`
	KeyFacts         []string       `json:"key_facts,omitempty"`
	ReasoningSummary string         `json:"reasoning_summary"`
	Applicability    string         `json:"applicability,omitempty"`
	CitationCount    int            `json:"citation_count"`
	LastCitedAt      *time.Time     `json:"last_cited_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Clone returns a deep copy of the precedent
func (p *Precedent) Clone() *Precedent {
	if p == nil {
		return nil
	}
	out := *p
	if p.RulesInvolved != nil {
		out.RulesInvolved = append([]string(nil), p.RulesInvolved...)
	}
	if p.KeyFacts != nil {
		out.KeyFacts = append([]string(nil), p.KeyFacts...)
	}
	if p.LastCitedAt != nil {
		at := *p.LastCitedAt
		out.LastCitedAt = &at
	}
	return &out
}
