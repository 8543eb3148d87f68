package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// AgentStore persists agent profiles. It implements registry.ProfileStore.
type AgentStore struct {
	db *sql.DB
}

// SaveAgent writes the full profile row.
func (s *AgentStore) SaveAgent(ctx context.Context, profile *models.AgentProfile) error {
	caps, err := json.Marshal(profile.Capabilities)
	if err != nil {
		return fmt.Errorf("marshalling agent capabilities: %w", err)
	}

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agents (
				agent_id, name, model_family, capabilities_json,
				perf_success_rate, perf_avg_quality, perf_avg_latency, perf_task_count,
				load_active, load_queued, load_util_pct,
				registered_at, last_active_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (agent_id) DO UPDATE SET
				name = EXCLUDED.name,
				model_family = EXCLUDED.model_family,
				capabilities_json = EXCLUDED.capabilities_json,
				perf_success_rate = EXCLUDED.perf_success_rate,
				perf_avg_quality = EXCLUDED.perf_avg_quality,
				perf_avg_latency = EXCLUDED.perf_avg_latency,
				perf_task_count = EXCLUDED.perf_task_count,
				load_active = EXCLUDED.load_active,
				load_queued = EXCLUDED.load_queued,
				load_util_pct = EXCLUDED.load_util_pct,
				last_active_at = EXCLUDED.last_active_at`,
			profile.AgentID, profile.Name, string(profile.ModelFamily), caps,
			profile.Performance.SuccessRate, profile.Performance.AverageQuality,
			profile.Performance.AverageLatencyMs, profile.Performance.TaskCount,
			profile.CurrentLoad.ActiveTasks, profile.CurrentLoad.QueuedTasks,
			profile.CurrentLoad.UtilizationPercent,
			profile.RegisteredAt, profile.LastActiveAt,
		)
		return err
	})
}

// LoadAgent returns one profile, or (nil, nil) when the agent is unknown.
func (s *AgentStore) LoadAgent(ctx context.Context, agentID string) (*models.AgentProfile, error) {
	var profile *models.AgentProfile
	err := withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT agent_id, name, model_family, capabilities_json,
			       perf_success_rate, perf_avg_quality, perf_avg_latency, perf_task_count,
			       load_active, load_queued, load_util_pct,
			       registered_at, last_active_at
			FROM agents
			WHERE agent_id = $1`,
			agentID,
		)
		p, err := scanAgent(row.Scan)
		if errors.Is(err, sql.ErrNoRows) {
			profile = nil
			return nil
		}
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// LoadAgents returns all stored profiles.
func (s *AgentStore) LoadAgents(ctx context.Context) ([]*models.AgentProfile, error) {
	var profiles []*models.AgentProfile
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT agent_id, name, model_family, capabilities_json,
			       perf_success_rate, perf_avg_quality, perf_avg_latency, perf_task_count,
			       load_active, load_queued, load_util_pct,
			       registered_at, last_active_at
			FROM agents
			ORDER BY registered_at ASC`,
		)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		profiles = profiles[:0]
		for rows.Next() {
			p, err := scanAgent(rows.Scan)
			if err != nil {
				return backoff.Permanent(err)
			}
			profiles = append(profiles, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

// DeleteAgent removes the profile row. Deleting an absent agent is a no-op.
func (s *AgentStore) DeleteAgent(ctx context.Context, agentID string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = $1`, agentID)
		return err
	})
}

func scanAgent(scan func(...any) error) (*models.AgentProfile, error) {
	var (
		profile     models.AgentProfile
		modelFamily string
		caps        []byte
	)
	if err := scan(
		&profile.AgentID, &profile.Name, &modelFamily, &caps,
		&profile.Performance.SuccessRate, &profile.Performance.AverageQuality,
		&profile.Performance.AverageLatencyMs, &profile.Performance.TaskCount,
		&profile.CurrentLoad.ActiveTasks, &profile.CurrentLoad.QueuedTasks,
		&profile.CurrentLoad.UtilizationPercent,
		&profile.RegisteredAt, &profile.LastActiveAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning agent row: %w", err)
	}

	profile.ModelFamily = models.ModelFamily(modelFamily)
	if len(caps) > 0 {
		if err := json.Unmarshal(caps, &profile.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshalling agent capabilities: %w", err)
		}
	}
	profile.RegisteredAt = profile.RegisteredAt.UTC()
	profile.LastActiveAt = profile.LastActiveAt.UTC()
	return &profile, nil
}
