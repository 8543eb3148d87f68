package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// TaskSpec is the transport-level task description accepted by the
// protocol operations. It is validated before conversion to a task.
type TaskSpec struct {
	ID                   string                    `json:"id,omitempty" validate:"omitempty,max=128"`
	Type                 models.TaskType           `json:"type" validate:"required"`
	Description          string                    `json:"description" validate:"required,min=8,max=4096"`
	Priority             int                       `json:"priority" validate:"gte=0,lte=100"`
	TimeoutMs            int64                     `json:"timeout_ms,omitempty" validate:"gte=0"`
	MaxAttempts          int                       `json:"max_attempts,omitempty" validate:"gte=0,lte=10"`
	RequiredCapabilities *models.AgentCapabilities `json:"required_capabilities,omitempty"`
	Budget               *models.TaskBudget        `json:"budget,omitempty"`
	Deadline             *time.Time                `json:"deadline,omitempty"`
	AcceptanceCriteria   []string                  `json:"acceptance_criteria,omitempty"`
	Metadata             map[string]any            `json:"metadata,omitempty"`
}

// task converts the spec into a queue-ready task. Acceptance criteria ride
// along in metadata so progress monitoring can echo them later.
func (s *TaskSpec) task() *models.Task {
	t := &models.Task{
		TaskID:               s.ID,
		Type:                 s.Type,
		Description:          s.Description,
		Priority:             s.Priority,
		TimeoutMs:            s.TimeoutMs,
		MaxAttempts:          s.MaxAttempts,
		RequiredCapabilities: s.RequiredCapabilities,
		Budget:               s.Budget,
		Deadline:             s.Deadline,
		Metadata:             s.Metadata,
	}
	if len(s.AcceptanceCriteria) > 0 {
		if t.Metadata == nil {
			t.Metadata = make(map[string]any, 1)
		}
		t.Metadata["acceptance_criteria"] = s.AcceptanceCriteria
	}
	return t
}

// ValidateOptions tunes spec validation.
type ValidateOptions struct {
	// Strict fails validation on warnings, not just errors.
	Strict bool `json:"strict,omitempty"`
}

// ValidationIssue is one field-level finding.
type ValidationIssue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating a task spec. Errors block
// submission; warnings and suggestions do not unless Strict was set.
type ValidationResult struct {
	Valid       bool              `json:"valid"`
	Errors      []ValidationIssue `json:"errors,omitempty"`
	Warnings    []ValidationIssue `json:"warnings,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
	DurationMs  float64           `json:"duration_ms"`
}

// Validation and scoring thresholds.
const (
	shortTimeoutMs    = 1000
	longTimeoutMs     = 24 * 60 * 60 * 1000
	shortDescription  = 32
	coverageGoalPct   = 80.0
	lintPenaltyWindow = 10.0
)

// ValidateTaskSpec checks a spec structurally and semantically. Invalid
// input is a result, not an error; callers get the full issue list in one
// round trip.
func (o *Orchestrator) ValidateTaskSpec(spec *TaskSpec, opts ValidateOptions) *ValidationResult {
	start := time.Now()
	result := &ValidationResult{}

	if spec == nil {
		result.Errors = append(result.Errors, ValidationIssue{Message: "task spec is required"})
		result.DurationMs = elapsedMs(start)
		return result
	}

	if err := o.validate.Struct(spec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				result.Errors = append(result.Errors, ValidationIssue{
					Field:   strings.ToLower(fe.Field()),
					Message: fieldError(fe),
				})
			}
		} else {
			result.Errors = append(result.Errors, ValidationIssue{Message: err.Error()})
		}
	}

	if spec.Type != "" && !spec.Type.IsValid() {
		result.Errors = append(result.Errors, ValidationIssue{
			Field:   "type",
			Message: fmt.Sprintf("unknown task type %q", spec.Type),
		})
	}

	if spec.Deadline != nil && spec.Deadline.Before(time.Now()) {
		result.Errors = append(result.Errors, ValidationIssue{
			Field:   "deadline",
			Message: "deadline is already in the past",
		})
	}

	if spec.Budget != nil {
		if spec.Budget.MaxFiles < 0 || spec.Budget.MaxLoc < 0 {
			result.Errors = append(result.Errors, ValidationIssue{
				Field:   "budget",
				Message: "budget limits cannot be negative",
			})
		} else if spec.Budget.MaxFiles == 0 && spec.Budget.MaxLoc == 0 {
			result.Warnings = append(result.Warnings, ValidationIssue{
				Field:   "budget",
				Message: "budget is declared but sets no limits",
			})
		}
	}

	if spec.TimeoutMs > 0 && spec.TimeoutMs < shortTimeoutMs {
		result.Warnings = append(result.Warnings, ValidationIssue{
			Field:   "timeout_ms",
			Message: "timeout below one second is unlikely to be satisfiable",
		})
	}
	if spec.TimeoutMs > longTimeoutMs {
		result.Warnings = append(result.Warnings, ValidationIssue{
			Field:   "timeout_ms",
			Message: "timeout exceeds 24 hours",
		})
	}

	if caps := spec.RequiredCapabilities; caps != nil {
		for _, tt := range caps.TaskTypes {
			if !tt.IsValid() {
				result.Errors = append(result.Errors, ValidationIssue{
					Field:   "required_capabilities",
					Message: fmt.Sprintf("unknown task type %q in required capabilities", tt),
				})
			}
		}
		if len(caps.TaskTypes) > 0 && spec.Type.IsValid() && !caps.HasTaskType(spec.Type) {
			result.Warnings = append(result.Warnings, ValidationIssue{
				Field:   "required_capabilities",
				Message: fmt.Sprintf("required capabilities do not include the task's own type %q", spec.Type),
			})
		}
	}

	if len(spec.AcceptanceCriteria) == 0 {
		result.Suggestions = append(result.Suggestions,
			"declare acceptance criteria so delivery verdicts have something to score against")
	}
	if spec.Budget == nil {
		result.Suggestions = append(result.Suggestions,
			"set a change budget (max files, max lines) to bound the change surface")
	}
	if len(spec.Description) > 0 && len(spec.Description) < shortDescription {
		result.Suggestions = append(result.Suggestions,
			"expand the description; agents route and plan better with more context")
	}

	result.Valid = len(result.Errors) == 0 && (!opts.Strict || len(result.Warnings) == 0)
	result.DurationMs = elapsedMs(start)
	return result
}

// EffortEstimate is a rough cost projection for planning, not a promise.
type EffortEstimate struct {
	Hours      float64 `json:"hours"`
	Confidence float64 `json:"confidence"`
}

// AssignmentPlan is the result of a placement preview. Success false with
// a reason is the normal answer for an unroutable spec; errors are
// reserved for invalid calls.
type AssignmentPlan struct {
	Success             bool            `json:"success"`
	AgentID             string          `json:"agent_id,omitempty"`
	Reason              string          `json:"reason"`
	CapabilitiesMatched []string        `json:"capabilities_matched,omitempty"`
	EstimatedEffort     *EffortEstimate `json:"estimated_effort,omitempty"`
	Priority            int             `json:"priority"`
}

// baseEffortHours is the starting effort guess per task type before budget
// scaling. Unlisted types fall back to defaultEffortHours.
var baseEffortHours = map[models.TaskType]float64{
	models.TaskTypeCodeEditing:   2,
	models.TaskTypeCodeReview:    1,
	models.TaskTypeTesting:       1.5,
	models.TaskTypeDocumentation: 1,
	models.TaskTypeRefactoring:   3,
	models.TaskTypeDebugging:     2.5,
	models.TaskTypeAnalysis:      1,
}

const defaultEffortHours = 2.0

// AssignTask previews where a task would land without enqueueing it or
// training the bandit. Candidates come from the registry under the live
// routing thresholds; availableAgents, when non-empty, restricts the pool.
// Selection ranks by capability match blended with observed bandit reward,
// so the preview tracks what dispatch would likely do.
func (o *Orchestrator) AssignTask(ctx context.Context, spec *TaskSpec, availableAgents []string, strategy models.RoutingStrategy, priority int) (*AssignmentPlan, error) {
	if spec == nil {
		return nil, faults.Precondition("task spec is required")
	}
	if strategy != "" && !strategy.IsValid() {
		return nil, faults.Precondition("unknown routing strategy %q", strategy)
	}

	if result := o.ValidateTaskSpec(spec, ValidateOptions{}); !result.Valid {
		return &AssignmentPlan{
			Success:  false,
			Reason:   "task spec invalid: " + result.Errors[0].Message,
			Priority: priority,
		}, nil
	}

	task := spec.task()
	task.Priority = priority

	maxUtil := o.cfg.Routing.MaxUtilization
	minSuccess := o.cfg.Routing.MinSuccessRate
	query := models.CapabilityQuery{
		TaskType:       task.Type,
		MaxUtilization: &maxUtil,
		MinSuccessRate: &minSuccess,
	}
	if task.RequiredCapabilities != nil {
		query.Languages = task.RequiredCapabilities.Languages
		query.Specializations = task.RequiredCapabilities.Specializations
	}

	candidates := o.registry.GetAgentsByCapability(query)
	if len(availableAgents) > 0 {
		allowed := make(map[string]struct{}, len(availableAgents))
		for _, id := range availableAgents {
			allowed[id] = struct{}{}
		}
		kept := candidates[:0]
		for _, c := range candidates {
			if _, ok := allowed[c.Profile.AgentID]; ok {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}
	if len(candidates) == 0 {
		return &AssignmentPlan{
			Success:  false,
			Reason:   "no agents match task requirements",
			Priority: priority,
		}, nil
	}

	if strategy == "" {
		strategy = o.cfg.Routing.DefaultStrategy
	}
	selected, score := o.rankCandidates(candidates, strategy)

	return &AssignmentPlan{
		Success:             true,
		AgentID:             selected.Profile.AgentID,
		Reason:              fmt.Sprintf("%s score %.3f across %d candidates", strategy, score, len(candidates)),
		CapabilitiesMatched: matchedCapabilities(task, selected.Profile),
		EstimatedEffort:     estimateEffort(task, selected.Profile),
		Priority:            priority,
	}, nil
}

// rankCandidates picks the preview winner. Capability-match ranking takes
// the registry's ordering; bandit strategies blend in each arm's observed
// mean reward without charging a selection, since a preview produces no
// outcome to learn from.
func (o *Orchestrator) rankCandidates(candidates []models.ScoredAgent, strategy models.RoutingStrategy) (models.ScoredAgent, float64) {
	if strategy == models.RoutingStrategyCapabilityMatch || !o.cfg.Routing.EnableBandit {
		return candidates[0], candidates[0].MatchScore
	}

	arms := o.bandit.Stats().Arms
	best := candidates[0]
	bestScore := math.Inf(-1)
	for _, c := range candidates {
		score := c.MatchScore
		if arm, ok := arms[c.Profile.AgentID]; ok && arm.Pulls > 0 {
			score = 0.5*c.MatchScore + 0.5*arm.MeanReward
		}
		if score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best, bestScore
}

// matchedCapabilities lists what the agent satisfies, task type first.
func matchedCapabilities(task *models.Task, p *models.AgentProfile) []string {
	matched := []string{"task-type:" + string(task.Type)}
	if task.RequiredCapabilities == nil {
		return matched
	}

	have := func(haystack []string, needle string) bool {
		for _, s := range haystack {
			if strings.EqualFold(s, needle) {
				return true
			}
		}
		return false
	}
	for _, lang := range task.RequiredCapabilities.Languages {
		if have(p.Capabilities.Languages, lang) {
			matched = append(matched, "language:"+lang)
		}
	}
	for _, spec := range task.RequiredCapabilities.Specializations {
		if have(p.Capabilities.Specializations, spec) {
			matched = append(matched, "specialization:"+spec)
		}
	}
	return matched
}

// estimateEffort projects hours from the task type and change budget. The
// confidence grows with the agent's track record: an unproven agent makes
// any estimate a guess.
func estimateEffort(task *models.Task, p *models.AgentProfile) *EffortEstimate {
	hours, ok := baseEffortHours[task.Type]
	if !ok {
		hours = defaultEffortHours
	}
	if task.Budget != nil {
		hours += float64(task.Budget.MaxLoc)/200.0 + float64(task.Budget.MaxFiles)*0.25
	}

	trackRecord := math.Min(float64(p.Performance.TaskCount), 20) / 20.0
	confidence := models.Clamp(0.3+0.4*trackRecord+0.3*p.Performance.SuccessRate, 0, 0.95)

	return &EffortEstimate{
		Hours:      math.Round(hours*10) / 10,
		Confidence: math.Round(confidence*100) / 100,
	}
}

// ProgressThresholds set the budget alert trip points as percentages.
type ProgressThresholds struct {
	BudgetWarnPct     float64 `json:"budget_warn_pct"`
	BudgetCriticalPct float64 `json:"budget_critical_pct"`
}

// DefaultProgressThresholds warn at 80% of budget and go critical at 95%.
func DefaultProgressThresholds() ProgressThresholds {
	return ProgressThresholds{BudgetWarnPct: 80, BudgetCriticalPct: 95}
}

// BudgetDimension is consumption against one budget limit. Pct is zero
// when no limit is set.
type BudgetDimension struct {
	Current int     `json:"current"`
	Limit   int     `json:"limit"`
	Pct     float64 `json:"pct"`
}

// BudgetUsage is consumption across both budgeted dimensions.
type BudgetUsage struct {
	Files BudgetDimension `json:"files"`
	Loc   BudgetDimension `json:"loc"`
}

// ProgressAlert flags a condition the caller should act on.
type ProgressAlert struct {
	Severity  models.EventSeverity `json:"severity"`
	Message   string               `json:"message"`
	Threshold float64              `json:"threshold,omitempty"`
}

// TimeTracking is the temporal view of a task's execution.
type TimeTracking struct {
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	ElapsedMs   int64      `json:"elapsed_ms"`
	RemainingMs int64      `json:"remaining_ms"`
}

// ProgressReport is the live view of one task's execution: queue status,
// budget burn, alerts, and timing.
type ProgressReport struct {
	TaskID             string            `json:"task_id"`
	Status             models.TaskStatus `json:"status"`
	BudgetUsage        BudgetUsage       `json:"budget_usage"`
	Alerts             []ProgressAlert   `json:"alerts,omitempty"`
	AcceptanceCriteria []string          `json:"acceptance_criteria,omitempty"`
	OverallProgress    float64           `json:"overall_progress"`
	TimeTracking       TimeTracking      `json:"time_tracking"`
}

// MonitorProgress reports a live task's execution state. Budget figures
// come from the agent's progress metadata (files_changed, loc_changed);
// alerts fire when consumption crosses the thresholds. Terminal tasks have
// left the live view and return a not-found fault.
func (o *Orchestrator) MonitorProgress(ctx context.Context, taskID string, thresholds *ProgressThresholds) (*ProgressReport, error) {
	state, err := o.queue.GetTaskState(ctx, taskID)
	if err != nil {
		return nil, err
	}

	th := DefaultProgressThresholds()
	if thresholds != nil {
		th = *thresholds
	}

	report := &ProgressReport{
		TaskID:             taskID,
		Status:             state.Status,
		AcceptanceCriteria: criteriaFromMetadata(state.Task.Metadata),
	}

	now := time.Now().UTC()
	report.TimeTracking.ElapsedMs = now.Sub(state.Task.CreatedAt).Milliseconds()

	a, aerr := o.assignments.GetAssignmentByTask(taskID)
	if aerr == nil {
		report.OverallProgress = a.Progress
		report.TimeTracking.StartedAt = a.StartedAt
		deadline := a.Deadline
		report.TimeTracking.Deadline = &deadline
		if a.StartedAt != nil {
			report.TimeTracking.ElapsedMs = now.Sub(*a.StartedAt).Milliseconds()
		}
		if remaining := deadline.Sub(now).Milliseconds(); remaining > 0 {
			report.TimeTracking.RemainingMs = remaining
		} else {
			report.Alerts = append(report.Alerts, ProgressAlert{
				Severity: models.SeverityCritical,
				Message:  "assignment deadline exceeded",
			})
		}

		report.BudgetUsage.Files = budgetDimension(metadataInt(a.Metadata, "files_changed"), budgetLimit(state.Task.Budget, true))
		report.BudgetUsage.Loc = budgetDimension(metadataInt(a.Metadata, "loc_changed"), budgetLimit(state.Task.Budget, false))
		report.Alerts = append(report.Alerts, budgetAlerts("file", report.BudgetUsage.Files, th)...)
		report.Alerts = append(report.Alerts, budgetAlerts("line", report.BudgetUsage.Loc, th)...)
	} else {
		report.BudgetUsage.Files = budgetDimension(0, budgetLimit(state.Task.Budget, true))
		report.BudgetUsage.Loc = budgetDimension(0, budgetLimit(state.Task.Budget, false))
	}

	return report, nil
}

func budgetLimit(b *models.TaskBudget, files bool) int {
	if b == nil {
		return 0
	}
	if files {
		return b.MaxFiles
	}
	return b.MaxLoc
}

func budgetDimension(current, limit int) BudgetDimension {
	d := BudgetDimension{Current: current, Limit: limit}
	if limit > 0 {
		d.Pct = math.Round(float64(current)/float64(limit)*1000) / 10
	}
	return d
}

// budgetAlerts converts one dimension's burn rate into alerts. Critical
// supersedes warning; an unlimited dimension never alerts.
func budgetAlerts(unit string, d BudgetDimension, th ProgressThresholds) []ProgressAlert {
	if d.Limit <= 0 {
		return nil
	}
	switch {
	case d.Pct >= th.BudgetCriticalPct:
		return []ProgressAlert{{
			Severity:  models.SeverityCritical,
			Message:   fmt.Sprintf("%s budget nearly exhausted: %d of %d (%.1f%%)", unit, d.Current, d.Limit, d.Pct),
			Threshold: th.BudgetCriticalPct,
		}}
	case d.Pct >= th.BudgetWarnPct:
		return []ProgressAlert{{
			Severity:  models.SeverityWarn,
			Message:   fmt.Sprintf("%s budget running low: %d of %d (%.1f%%)", unit, d.Current, d.Limit, d.Pct),
			Threshold: th.BudgetWarnPct,
		}}
	}
	return nil
}

// criteriaFromMetadata recovers acceptance criteria stashed by task().
// Values that crossed a JSON boundary arrive as []any.
func criteriaFromMetadata(md map[string]any) []string {
	raw, ok := md["acceptance_criteria"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// metadataInt reads a numeric metadata value, tolerating the int/float64
// split between in-process and JSON-decoded maps.
func metadataInt(md map[string]any, key string) int {
	switch v := md[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// QualityGate is one named check the delivery was run through.
type QualityGate struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Required bool   `json:"required"`
	Detail   string `json:"detail,omitempty"`
}

// GateSummary aggregates gate outcomes.
type GateSummary struct {
	Total   int           `json:"total"`
	Passed  int           `json:"passed"`
	Failed  int           `json:"failed"`
	Details []QualityGate `json:"details,omitempty"`
}

// BudgetCompliance reports raw budget adherence; waivers do not alter the
// booleans, they soften the decision.
type BudgetCompliance struct {
	FilesWithinBudget bool     `json:"files_within_budget"`
	LocWithinBudget   bool     `json:"loc_within_budget"`
	WaiversUsed       []string `json:"waivers_used,omitempty"`
}

// Waiver identifiers that exempt one budget dimension from rejection.
const (
	WaiverBudgetFiles = "budget:files"
	WaiverBudgetLoc   = "budget:loc"
)

// DeliveryArtifacts summarizes what the agent actually produced.
type DeliveryArtifacts struct {
	FilesChanged int      `json:"files_changed"`
	LocChanged   int      `json:"loc_changed"`
	TestsPassed  int      `json:"tests_passed"`
	TestsFailed  int      `json:"tests_failed"`
	LintErrors   int      `json:"lint_errors"`
	CoveragePct  float64  `json:"coverage_pct"`
	Waivers      []string `json:"waivers,omitempty"`
}

// DeliveryVerdict is the adjudication of one delivered task: approve,
// reject, or approve conditionally.
type DeliveryVerdict struct {
	TaskID           string                `json:"task_id"`
	Decision         models.VerdictOutcome `json:"decision"`
	QualityScore     float64               `json:"quality_score"`
	QualityGates     GateSummary           `json:"quality_gates"`
	BudgetCompliance BudgetCompliance      `json:"budget_compliance"`
	Recommendations  []string              `json:"recommendations,omitempty"`
	RequiredActions  []string              `json:"required_actions,omitempty"`
	Timestamp        time.Time             `json:"timestamp"`
}

// GenerateVerdict adjudicates a delivered task against its spec, the
// reported artifacts, and the quality gates it was run through.
//
// Decision policy: a failed required gate or an unwaived budget breach
// rejects; optional-gate failures or a waived breach approve
// conditionally; otherwise approved. The quality score weighs gates 60,
// coverage 20 (goal 80%), lint cleanliness 10, and budget adherence 10.
func (o *Orchestrator) GenerateVerdict(ctx context.Context, taskID string, spec *TaskSpec, artifacts *DeliveryArtifacts, gates []QualityGate) (*DeliveryVerdict, error) {
	if taskID == "" {
		return nil, faults.Precondition("task ID is required")
	}
	if spec == nil {
		return nil, faults.Precondition("task spec is required")
	}
	if artifacts == nil {
		return nil, faults.Precondition("delivery artifacts are required")
	}

	summary := GateSummary{Total: len(gates), Details: gates}
	requiredFailed := make([]QualityGate, 0)
	anyFailed := false
	for _, g := range gates {
		if g.Passed {
			summary.Passed++
			continue
		}
		summary.Failed++
		anyFailed = true
		if g.Required {
			requiredFailed = append(requiredFailed, g)
		}
	}

	filesOK := spec.Budget == nil || spec.Budget.MaxFiles <= 0 || artifacts.FilesChanged <= spec.Budget.MaxFiles
	locOK := spec.Budget == nil || spec.Budget.MaxLoc <= 0 || artifacts.LocChanged <= spec.Budget.MaxLoc
	filesWaived := hasWaiver(artifacts.Waivers, WaiverBudgetFiles)
	locWaived := hasWaiver(artifacts.Waivers, WaiverBudgetLoc)

	unwaivedBreach := (!filesOK && !filesWaived) || (!locOK && !locWaived)
	waivedBreach := (!filesOK && filesWaived) || (!locOK && locWaived)

	verdict := &DeliveryVerdict{
		TaskID:       taskID,
		QualityGates: summary,
		BudgetCompliance: BudgetCompliance{
			FilesWithinBudget: filesOK,
			LocWithinBudget:   locOK,
			WaiversUsed:       artifacts.Waivers,
		},
		Timestamp: time.Now().UTC(),
	}

	switch {
	case len(requiredFailed) > 0 || unwaivedBreach:
		verdict.Decision = models.VerdictRejected
	case anyFailed || waivedBreach:
		verdict.Decision = models.VerdictConditional
	default:
		verdict.Decision = models.VerdictApproved
	}

	verdict.QualityScore = qualityScore(summary, artifacts, filesOK, locOK)
	verdict.RequiredActions = requiredActions(spec, artifacts, requiredFailed, filesOK, filesWaived, locOK, locWaived)
	verdict.Recommendations = recommendations(summary, artifacts)
	return verdict, nil
}

// qualityScore maps delivery quality onto 0..100.
func qualityScore(summary GateSummary, artifacts *DeliveryArtifacts, filesOK, locOK bool) float64 {
	gateScore := 1.0
	if summary.Total > 0 {
		gateScore = float64(summary.Passed) / float64(summary.Total)
	}
	coverageScore := models.Clamp(artifacts.CoveragePct/coverageGoalPct, 0, 1)
	lintScore := models.Clamp(1-float64(artifacts.LintErrors)/lintPenaltyWindow, 0, 1)
	budgetScore := 0.0
	if filesOK {
		budgetScore += 0.5
	}
	if locOK {
		budgetScore += 0.5
	}

	score := 60*gateScore + 20*coverageScore + 10*lintScore + 10*budgetScore
	return math.Round(score*10) / 10
}

// requiredActions lists what must change before resubmission.
func requiredActions(spec *TaskSpec, artifacts *DeliveryArtifacts, requiredFailed []QualityGate, filesOK, filesWaived, locOK, locWaived bool) []string {
	var actions []string
	for _, g := range requiredFailed {
		actions = append(actions, fmt.Sprintf("satisfy required quality gate %q", g.Name))
	}
	if !filesOK && !filesWaived {
		actions = append(actions, fmt.Sprintf(
			"reduce the change to %d files or obtain a %s waiver (currently %d)",
			spec.Budget.MaxFiles, WaiverBudgetFiles, artifacts.FilesChanged))
	}
	if !locOK && !locWaived {
		actions = append(actions, fmt.Sprintf(
			"reduce the change to %d lines or obtain a %s waiver (currently %d)",
			spec.Budget.MaxLoc, WaiverBudgetLoc, artifacts.LocChanged))
	}
	return actions
}

// recommendations lists non-blocking improvements.
func recommendations(summary GateSummary, artifacts *DeliveryArtifacts) []string {
	var recs []string
	if summary.Total == 0 {
		recs = append(recs, "no quality gates were declared; declare gates so approval is earned, not assumed")
	}
	if artifacts.TestsFailed > 0 {
		recs = append(recs, fmt.Sprintf("fix %d failing tests", artifacts.TestsFailed))
	}
	if artifacts.CoveragePct < coverageGoalPct {
		recs = append(recs, fmt.Sprintf("raise test coverage toward %.0f%% (currently %.1f%%)", coverageGoalPct, artifacts.CoveragePct))
	}
	if artifacts.LintErrors > 0 {
		recs = append(recs, fmt.Sprintf("resolve %d lint findings", artifacts.LintErrors))
	}
	return recs
}

func hasWaiver(waivers []string, id string) bool {
	for _, w := range waivers {
		if w == id {
			return true
		}
	}
	return false
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// fieldError renders one validator finding as a plain message.
func fieldError(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("failed %s=%s validation", fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
