package models

// ModelFamily identifies the LLM provider family backing an agent
type ModelFamily string

const (
	// ModelFamilyOpenAI is the OpenAI GPT family
	ModelFamilyOpenAI ModelFamily = "openai"
	// ModelFamilyAnthropic is the Anthropic Claude family
	ModelFamilyAnthropic ModelFamily = "anthropic"
	// ModelFamilyGoogle is the Google Gemini family
	ModelFamilyGoogle ModelFamily = "google"
	// ModelFamilyMeta is the Meta Llama family
	ModelFamilyMeta ModelFamily = "meta"
	// ModelFamilyMistral is the Mistral family
	ModelFamilyMistral ModelFamily = "mistral"
	// ModelFamilyLocal is a locally hosted model
	ModelFamilyLocal ModelFamily = "local"
)

// IsValid checks if the model family is valid
func (m ModelFamily) IsValid() bool {
	switch m {
	case ModelFamilyOpenAI,
		ModelFamilyAnthropic,
		ModelFamilyGoogle,
		ModelFamilyMeta,
		ModelFamilyMistral,
		ModelFamilyLocal:
		return true
	default:
		return false
	}
}

// TaskType classifies the work a task asks for
type TaskType string

const (
	// TaskTypeCodeEditing is implementation work on source files
	TaskTypeCodeEditing TaskType = "code-editing"
	// TaskTypeCodeReview is review of proposed changes
	TaskTypeCodeReview TaskType = "code-review"
	// TaskTypeTesting is test authoring and execution
	TaskTypeTesting TaskType = "testing"
	// TaskTypeDocumentation is docs and comment work
	TaskTypeDocumentation TaskType = "documentation"
	// TaskTypeRefactoring is behavior-preserving restructuring
	TaskTypeRefactoring TaskType = "refactoring"
	// TaskTypeDebugging is defect isolation and fixing
	TaskTypeDebugging TaskType = "debugging"
	// TaskTypeAnalysis is read-only investigation
	TaskTypeAnalysis TaskType = "analysis"
)

// IsValid checks if the task type is valid
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeCodeEditing,
		TaskTypeCodeReview,
		TaskTypeTesting,
		TaskTypeDocumentation,
		TaskTypeRefactoring,
		TaskTypeDebugging,
		TaskTypeAnalysis:
		return true
	default:
		return false
	}
}

// TaskStatus tracks a task through its lifecycle
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusRouting    TaskStatus = "routing"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusExecuting  TaskStatus = "executing"
	TaskStatusValidating TaskStatus = "validating"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusTimeout    TaskStatus = "timeout"
	TaskStatusCanceled   TaskStatus = "canceled"
)

// IsValid checks if the task status is valid
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusQueued,
		TaskStatusRouting,
		TaskStatusAssigned,
		TaskStatusExecuting,
		TaskStatusValidating,
		TaskStatusCompleted,
		TaskStatusFailed,
		TaskStatusTimeout,
		TaskStatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further status transition is possible
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimeout, TaskStatusCanceled:
		return true
	default:
		return false
	}
}

// RoutingStrategy selects how the router picks an agent
type RoutingStrategy string

const (
	// RoutingStrategyBandit balances exploration and exploitation across agents
	RoutingStrategyBandit RoutingStrategy = "multi-armed-bandit"
	// RoutingStrategyCapabilityMatch scores agents by capability overlap only
	RoutingStrategyCapabilityMatch RoutingStrategy = "capability-match"
	// RoutingStrategyEpsilonGreedy is pure ε-greedy without the UCB term
	RoutingStrategyEpsilonGreedy RoutingStrategy = "epsilon-greedy"
)

// IsValid checks if the routing strategy is valid
func (s RoutingStrategy) IsValid() bool {
	return s == RoutingStrategyBandit || s == RoutingStrategyCapabilityMatch || s == RoutingStrategyEpsilonGreedy
}

// EventSeverity ranks events for filtering
type EventSeverity string

const (
	SeverityDebug    EventSeverity = "debug"
	SeverityInfo     EventSeverity = "info"
	SeverityWarn     EventSeverity = "warn"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// IsValid checks if the event severity is valid
func (s EventSeverity) IsValid() bool {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityCritical:
		return true
	default:
		return false
	}
}

// RuleSeverity ranks constitutional rules and violations
type RuleSeverity string

const (
	RuleSeverityLow      RuleSeverity = "low"
	RuleSeverityMedium   RuleSeverity = "medium"
	RuleSeverityHigh     RuleSeverity = "high"
	RuleSeverityCritical RuleSeverity = "critical"
)

// IsValid checks if the rule severity is valid
func (s RuleSeverity) IsValid() bool {
	switch s {
	case RuleSeverityLow, RuleSeverityMedium, RuleSeverityHigh, RuleSeverityCritical:
		return true
	default:
		return false
	}
}

// Rank orders severities for comparison, highest last
func (s RuleSeverity) Rank() int {
	switch s {
	case RuleSeverityLow:
		return 0
	case RuleSeverityMedium:
		return 1
	case RuleSeverityHigh:
		return 2
	case RuleSeverityCritical:
		return 3
	default:
		return -1
	}
}

// SessionState tracks an arbitration session through its state machine
type SessionState string

const (
	SessionStateRuleEvaluation      SessionState = "rule_evaluation"
	SessionStateVerdictGeneration   SessionState = "verdict_generation"
	SessionStateWaiverConsideration SessionState = "waiver_consideration"
	SessionStateAppealPending       SessionState = "appeal_pending"
	SessionStateCompleted           SessionState = "completed"
	SessionStateFailed              SessionState = "failed"
)

// IsValid checks if the session state is valid
func (s SessionState) IsValid() bool {
	switch s {
	case SessionStateRuleEvaluation,
		SessionStateVerdictGeneration,
		SessionStateWaiverConsideration,
		SessionStateAppealPending,
		SessionStateCompleted,
		SessionStateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the session has reached a final state.
// COMPLETED sessions may still re-enter APPEAL_PENDING; FAILED never moves.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateCompleted || s == SessionStateFailed
}

// VerdictOutcome is the decision an arbitration session renders
type VerdictOutcome string

const (
	VerdictApproved    VerdictOutcome = "approved"
	VerdictRejected    VerdictOutcome = "rejected"
	VerdictConditional VerdictOutcome = "conditional"
	VerdictDeferred    VerdictOutcome = "deferred"
	VerdictRemanded    VerdictOutcome = "remanded"
)

// IsValid checks if the verdict outcome is valid
func (o VerdictOutcome) IsValid() bool {
	switch o {
	case VerdictApproved, VerdictRejected, VerdictConditional, VerdictDeferred, VerdictRemanded:
		return true
	default:
		return false
	}
}

// WaiverStatus is the result of waiver interpretation
type WaiverStatus string

const (
	WaiverApproved WaiverStatus = "approved"
	WaiverRejected WaiverStatus = "rejected"
)

// IsValid checks if the waiver status is valid
func (s WaiverStatus) IsValid() bool {
	return s == WaiverApproved || s == WaiverRejected
}

// AppealDecision is the panel's ruling on an appeal
type AppealDecision string

const (
	AppealUpheld     AppealDecision = "upheld"
	AppealOverturned AppealDecision = "overturned"
	AppealRemanded   AppealDecision = "remanded"
)

// IsValid checks if the appeal decision is valid
func (d AppealDecision) IsValid() bool {
	return d == AppealUpheld || d == AppealOverturned || d == AppealRemanded
}

// DispatchMode selects how the event bus invokes handlers
type DispatchMode string

const (
	// DispatchCooperative runs handlers inline, preserving per-type FIFO
	DispatchCooperative DispatchMode = "cooperative"
	// DispatchParallel runs each handler on its own goroutine with a deadline
	DispatchParallel DispatchMode = "parallel"
)

// IsValid checks if the dispatch mode is valid
func (m DispatchMode) IsValid() bool {
	return m == DispatchCooperative || m == DispatchParallel
}

// QueuePolicy selects the task queue ordering
type QueuePolicy string

const (
	// QueuePolicyFIFO orders strictly by arrival
	QueuePolicyFIFO QueuePolicy = "fifo"
	// QueuePolicyPriority orders by task priority, FIFO within a priority
	QueuePolicyPriority QueuePolicy = "priority"
	// QueuePolicyDeadline boosts priority as the task deadline approaches
	QueuePolicyDeadline QueuePolicy = "deadline"
)

// IsValid checks if the queue policy is valid
func (p QueuePolicy) IsValid() bool {
	return p == QueuePolicyFIFO || p == QueuePolicyPriority || p == QueuePolicyDeadline
}

// Role grants a principal a fixed permission set
type Role string

const (
	// RoleAdmin holds every permission, including shutdown
	RoleAdmin Role = "admin"
	// RoleOperator registers agents and reports violations
	RoleOperator Role = "operator"
	// RoleSubmitter submits tasks and reads their status
	RoleSubmitter Role = "submitter"
	// RoleViewer reads status and statistics only
	RoleViewer Role = "viewer"
)

// IsValid checks if the role is valid
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleSubmitter, RoleViewer:
		return true
	}
	return false
}
