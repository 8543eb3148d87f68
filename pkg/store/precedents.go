package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// PrecedentStore persists minted precedents. It implements
// arbitration.PrecedentStore.
type PrecedentStore struct {
	db *sql.DB
}

// SavePrecedent writes the full precedent row.
func (s *PrecedentStore) SavePrecedent(ctx context.Context, p *models.Precedent) error {
	rules, err := marshalNullable(p.RulesInvolved)
	if err != nil {
		return fmt.Errorf("marshalling precedent rules: %w", err)
	}
	facts, err := marshalNullable(p.KeyFacts)
	if err != nil {
		return fmt.Errorf("marshalling precedent key facts: %w", err)
	}

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO precedents (
				precedent_id, title, rules_involved, verdict_id, outcome,
				category, severity, key_facts, reasoning_summary, applicability,
				citation_count, last_cited_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (precedent_id) DO UPDATE SET
				citation_count = EXCLUDED.citation_count,
				last_cited_at = EXCLUDED.last_cited_at`,
			p.ID, p.Title, rules, p.VerdictID, string(p.Outcome),
			p.Category, string(p.Severity), facts, p.ReasoningSummary, p.Applicability,
			p.CitationCount, nullTime(p.LastCitedAt), p.CreatedAt,
		)
		return err
	})
}

// LoadPrecedents returns all stored precedents, oldest first.
func (s *PrecedentStore) LoadPrecedents(ctx context.Context) ([]*models.Precedent, error) {
	var precedents []*models.Precedent
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT precedent_id, title, rules_involved, verdict_id, outcome,
			       category, severity, key_facts, reasoning_summary, applicability,
			       citation_count, last_cited_at, created_at
			FROM precedents
			ORDER BY created_at ASC`,
		)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		precedents = precedents[:0]
		for rows.Next() {
			p, err := scanPrecedent(rows)
			if err != nil {
				return backoff.Permanent(err)
			}
			precedents = append(precedents, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return precedents, nil
}

func scanPrecedent(rows *sql.Rows) (*models.Precedent, error) {
	var (
		p                 models.Precedent
		outcome, severity string
		rules, facts      []byte
		lastCited         sql.NullTime
	)
	if err := rows.Scan(
		&p.ID, &p.Title, &rules, &p.VerdictID, &outcome,
		&p.Category, &severity, &facts, &p.ReasoningSummary, &p.Applicability,
		&p.CitationCount, &lastCited, &p.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning precedent row: %w", err)
	}

	p.Outcome = models.VerdictOutcome(outcome)
	p.Severity = models.RuleSeverity(severity)
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &p.RulesInvolved); err != nil {
			return nil, fmt.Errorf("unmarshalling precedent rules: %w", err)
		}
	}
	if len(facts) > 0 {
		if err := json.Unmarshal(facts, &p.KeyFacts); err != nil {
			return nil, fmt.Errorf("unmarshalling precedent key facts: %w", err)
		}
	}
	if lastCited.Valid {
		t := lastCited.Time.UTC()
		p.LastCitedAt = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}
