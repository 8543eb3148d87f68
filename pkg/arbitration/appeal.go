package arbitration

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

const (
	// Panel thresholds on mean reviewer support.
	appealOverturnThreshold = 0.7
	appealRemandThreshold   = 0.4

	// appealEvidenceCap is the new-evidence count past which more entries
	// stop helping.
	appealEvidenceCap = 3
)

// panelReviewer is one synthetic reviewer with its own weighting of hard
// evidence against argument.
type panelReviewer struct {
	name           string
	evidenceWeight float64
	groundsWeight  float64
}

// reviewPanel spans the strictness spectrum so a ruling never hinges on a
// single weighting.
var reviewPanel = []panelReviewer{
	{name: "strict", evidenceWeight: 0.8, groundsWeight: 0.2},
	{name: "moderate", evidenceWeight: 0.5, groundsWeight: 0.5},
	{name: "lenient", evidenceWeight: 0.3, groundsWeight: 0.7},
}

// AppealArbitrator reviews appeals with a fixed three-reviewer panel. The
// ruling is deterministic in the appeal's grounds and new evidence.
type AppealArbitrator struct{}

// Review fills the appeal's decision fields. Mean panel support at or above
// the overturn threshold overturns, at or above the remand threshold
// remands, anything lower upholds the original verdict.
func (a *AppealArbitrator) Review(appeal *models.Appeal) {
	grounds := textStrength(appeal.Grounds)
	evidence := countStrength(appeal.NewEvidence, appealEvidenceCap)

	total := 0.0
	notes := make([]string, 0, len(reviewPanel))
	for _, reviewer := range reviewPanel {
		support := reviewer.evidenceWeight*evidence + reviewer.groundsWeight*grounds
		total += support
		notes = append(notes, fmt.Sprintf("%s: support %.2f", reviewer.name, support))
	}
	mean := total / float64(len(reviewPanel))

	switch {
	case mean >= appealOverturnThreshold:
		appeal.Decision = models.AppealOverturned
	case mean >= appealRemandThreshold:
		appeal.Decision = models.AppealRemanded
	default:
		appeal.Decision = models.AppealUpheld
	}
	// Distance from the 0.5 split line rescaled to [0.5, 1]: a borderline
	// panel is a coin flip, a unanimous one is certain.
	appeal.Confidence = 0.5 + math.Abs(mean-0.5)
	now := time.Now().UTC()
	appeal.ReviewedAt = &now
	appeal.PanelNotes = notes
}

// SubmitAppeal challenges a completed session's verdict, moving the session
// to appeal review. Multiple rounds are allowed; each decided appeal stays
// in the session's appeal history.
func (e *Engine) SubmitAppeal(ctx context.Context, sessionID string, appeal *models.Appeal) (*models.Appeal, error) {
	if !e.cfg.EnableAppeals {
		return nil, faults.Precondition("appeal system is disabled")
	}
	if appeal == nil {
		return nil, faults.Precondition("appeal is required")
	}
	if strings.TrimSpace(appeal.Grounds) == "" {
		return nil, faults.Precondition("appeal grounds are required")
	}

	sl, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := e.transition(sl, models.SessionStateAppealPending, "appeal submitted"); err != nil {
		sl.lock.Unlock()
		return nil, err
	}

	submitted := *appeal
	submitted.SessionID = sessionID
	if submitted.ID == "" {
		submitted.ID = "appeal-" + uuid.NewString()
	}
	if submitted.SubmittedAt.IsZero() {
		submitted.SubmittedAt = time.Now().UTC()
	}
	submitted.Decision = ""
	submitted.Confidence = 0
	submitted.ReviewedAt = nil
	submitted.PanelNotes = nil

	sl.session.Appeal = &submitted

	out := submitted
	e.finish(ctx, sl, nil)
	return &out, nil
}

// ReviewAppeal runs the panel over the pending appeal and re-completes the
// session. An overturn flips the verdict outcome; a remand marks the verdict
// for re-evaluation. A high-confidence overturn is recorded as a precedent.
func (e *Engine) ReviewAppeal(ctx context.Context, sessionID string) (*models.Appeal, error) {
	sl, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sl.session.State != models.SessionStateAppealPending {
		state := sl.session.State
		sl.lock.Unlock()
		return nil, faults.Precondition("no appeal pending in state %s", state).
			With("session_id", sessionID)
	}
	appeal := sl.session.Appeal
	if appeal == nil {
		sl.lock.Unlock()
		return nil, faults.Precondition("session %q has no appeal on file", sessionID)
	}

	e.appeals.Review(appeal)

	verdict := sl.session.Verdict
	var minted *models.Precedent
	switch appeal.Decision {
	case models.AppealOverturned:
		if verdict != nil {
			prior := verdict.Outcome
			verdict.Outcome = overturnedOutcome(prior)
			verdict.AuditLog = append(verdict.AuditLog,
				fmt.Sprintf("appeal %s overturned verdict: %s -> %s", appeal.ID, prior, verdict.Outcome))
			if appeal.Confidence > precedentConfidenceThreshold {
				minted = precedentFromVerdict(sl.session, verdict, sl.rules)
				minted.Title += " (overturned on appeal)"
			}
		}
	case models.AppealRemanded:
		if verdict != nil {
			verdict.Outcome = models.VerdictRemanded
			verdict.AuditLog = append(verdict.AuditLog,
				fmt.Sprintf("appeal %s remanded verdict for re-evaluation", appeal.ID))
		}
	}

	sl.session.Metadata.AppealHistory = append(sl.session.Metadata.AppealHistory, *appeal)
	if err := e.transition(sl, models.SessionStateCompleted, "appeal "+string(appeal.Decision)); err != nil {
		sl.lock.Unlock()
		return nil, err
	}

	e.mu.Lock()
	switch appeal.Decision {
	case models.AppealUpheld:
		e.appealsUpheld++
	case models.AppealOverturned:
		e.appealsOverturned++
	case models.AppealRemanded:
		e.appealsRemanded++
	}
	e.mu.Unlock()

	evs := []models.Event{{
		Type:      events.EventTypeAppealDecided,
		Severity:  models.SeverityInfo,
		Source:    "arbitration",
		SessionID: sessionID,
		Metadata: map[string]any{
			"appeal_id":  appeal.ID,
			"decision":   string(appeal.Decision),
			"confidence": appeal.Confidence,
		},
	}}

	out := *appeal
	e.finish(ctx, sl, evs)
	if minted != nil {
		e.recordPrecedent(ctx, sessionID, minted)
	}
	return &out, nil
}

// overturnedOutcome flips a verdict: a rejection becomes an approval and an
// approval, successfully challenged, becomes a rejection.
func overturnedOutcome(prior models.VerdictOutcome) models.VerdictOutcome {
	if prior == models.VerdictApproved {
		return models.VerdictRejected
	}
	return models.VerdictApproved
}
