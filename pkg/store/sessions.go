package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// SessionStore persists arbitration sessions. It implements
// arbitration.SessionStore. The session aggregate (verdict, waiver, appeal,
// metadata audit trail) is stored as JSONB columns on one row; the live
// object graph is reassembled on load.
type SessionStore struct {
	db *sql.DB
}

// SaveSession writes the full session row.
func (s *SessionStore) SaveSession(ctx context.Context, session *models.ArbitrationSession) error {
	violation, err := json.Marshal(session.Violation)
	if err != nil {
		return fmt.Errorf("marshalling session violation: %w", err)
	}
	rules, err := marshalNullable(session.RulesEvaluated)
	if err != nil {
		return fmt.Errorf("marshalling session rules: %w", err)
	}
	participants, err := marshalNullable(session.Participants)
	if err != nil {
		return fmt.Errorf("marshalling session participants: %w", err)
	}
	verdict, err := marshalNullable(session.Verdict)
	if err != nil {
		return fmt.Errorf("marshalling session verdict: %w", err)
	}
	waiver, err := marshalNullable(session.WaiverRequest)
	if err != nil {
		return fmt.Errorf("marshalling session waiver: %w", err)
	}
	appeal, err := marshalNullable(session.Appeal)
	if err != nil {
		return fmt.Errorf("marshalling session appeal: %w", err)
	}
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling session metadata: %w", err)
	}

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO arbitration_sessions (
				session_id, violation_json, state, rules_evaluated_json,
				participants_json, verdict_json, waiver_json, appeal_json,
				metadata_json, started_at, ended_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (session_id) DO UPDATE SET
				state = EXCLUDED.state,
				rules_evaluated_json = EXCLUDED.rules_evaluated_json,
				participants_json = EXCLUDED.participants_json,
				verdict_json = EXCLUDED.verdict_json,
				waiver_json = EXCLUDED.waiver_json,
				appeal_json = EXCLUDED.appeal_json,
				metadata_json = EXCLUDED.metadata_json,
				ended_at = EXCLUDED.ended_at`,
			session.SessionID, violation, string(session.State), rules,
			participants, verdict, waiver, appeal,
			metadata, session.StartTime, nullTime(session.EndTime),
		)
		return err
	})
}

// LoadSessions returns all stored sessions, oldest first.
func (s *SessionStore) LoadSessions(ctx context.Context) ([]*models.ArbitrationSession, error) {
	var sessions []*models.ArbitrationSession
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT session_id, violation_json, state, rules_evaluated_json,
			       participants_json, verdict_json, waiver_json, appeal_json,
			       metadata_json, started_at, ended_at
			FROM arbitration_sessions
			ORDER BY started_at ASC`,
		)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		sessions = sessions[:0]
		for rows.Next() {
			session, err := scanSession(rows)
			if err != nil {
				return backoff.Permanent(err)
			}
			sessions = append(sessions, session)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func scanSession(rows *sql.Rows) (*models.ArbitrationSession, error) {
	var (
		session                           models.ArbitrationSession
		state                             string
		violation, rules, participants    []byte
		verdict, waiver, appeal, metadata []byte
		endedAt                           sql.NullTime
	)
	if err := rows.Scan(
		&session.SessionID, &violation, &state, &rules,
		&participants, &verdict, &waiver, &appeal,
		&metadata, &session.StartTime, &endedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning session row: %w", err)
	}

	if err := json.Unmarshal(violation, &session.Violation); err != nil {
		return nil, fmt.Errorf("unmarshalling session violation: %w", err)
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &session.RulesEvaluated); err != nil {
			return nil, fmt.Errorf("unmarshalling session rules: %w", err)
		}
	}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &session.Participants); err != nil {
			return nil, fmt.Errorf("unmarshalling session participants: %w", err)
		}
	}
	if len(verdict) > 0 {
		session.Verdict = &models.Verdict{}
		if err := json.Unmarshal(verdict, session.Verdict); err != nil {
			return nil, fmt.Errorf("unmarshalling session verdict: %w", err)
		}
	}
	if len(waiver) > 0 {
		session.WaiverRequest = &models.WaiverRequest{}
		if err := json.Unmarshal(waiver, session.WaiverRequest); err != nil {
			return nil, fmt.Errorf("unmarshalling session waiver: %w", err)
		}
	}
	if len(appeal) > 0 {
		session.Appeal = &models.Appeal{}
		if err := json.Unmarshal(appeal, session.Appeal); err != nil {
			return nil, fmt.Errorf("unmarshalling session appeal: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling session metadata: %w", err)
		}
	}

	session.State = models.SessionState(state)
	session.StartTime = session.StartTime.UTC()
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		session.EndTime = &t
	}
	return &session, nil
}
