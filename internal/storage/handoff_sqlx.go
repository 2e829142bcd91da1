package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/handoff"
)

// SqlxHandoffHistoryStore is the production handoff.HistoryStore, backed by
// the append-only `handoff_history` table.
type SqlxHandoffHistoryStore struct {
	db *sqlx.DB
}

func NewSqlxHandoffHistoryStore(db *sqlx.DB) *SqlxHandoffHistoryStore {
	return &SqlxHandoffHistoryStore{db: db}
}

func (s *SqlxHandoffHistoryStore) Append(ctx context.Context, h *domain.HandoffHistory) error {
	metadataJSON, err := json.Marshal(h.Metadata)
	if err != nil {
		return fmt.Errorf("storage: encode handoff metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO handoff_history (
			workspace_id, story_id, from_agent_type, from_agent_id, to_agent_type,
			to_agent_id, from_phase, to_phase, handoff_type, context_summary,
			iteration_count, duration_ms, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		h.WorkspaceID, h.StoryID, h.FromAgent.Type, h.FromAgent.ID, h.ToAgent.Type,
		h.ToAgent.ID, h.FromPhase, h.ToPhase, h.HandoffType, h.ContextSummary,
		h.IterationCount, h.DurationMs, metadataJSON, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: append handoff history: %w", err)
	}
	return nil
}

func (s *SqlxHandoffHistoryStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.HandoffHistory, error) {
	type row struct {
		WorkspaceID    string      `db:"workspace_id"`
		StoryID        string      `db:"story_id"`
		FromAgentType  string      `db:"from_agent_type"`
		FromAgentID    string      `db:"from_agent_id"`
		ToAgentType    string      `db:"to_agent_type"`
		ToAgentID      string      `db:"to_agent_id"`
		FromPhase      string      `db:"from_phase"`
		ToPhase        string      `db:"to_phase"`
		HandoffType    string      `db:"handoff_type"`
		ContextSummary string      `db:"context_summary"`
		IterationCount int         `db:"iteration_count"`
		DurationMs     int64     `db:"duration_ms"`
		MetadataJSON   []byte    `db:"metadata"`
		CreatedAt      time.Time `db:"created_at"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT workspace_id, story_id, from_agent_type, from_agent_id, to_agent_type,
		       to_agent_id, from_phase, to_phase, handoff_type, context_summary,
		       iteration_count, duration_ms, metadata, created_at
		FROM handoff_history
		WHERE workspace_id = $1
		ORDER BY created_at ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("storage: list handoff history: %w", err)
	}
	out := make([]domain.HandoffHistory, 0, len(rows))
	for _, r := range rows {
		h := domain.HandoffHistory{
			WorkspaceID:    r.WorkspaceID,
			StoryID:        r.StoryID,
			FromAgent:      domain.AgentRef{Type: r.FromAgentType, ID: r.FromAgentID},
			ToAgent:        domain.AgentRef{Type: r.ToAgentType, ID: r.ToAgentID},
			FromPhase:      r.FromPhase,
			ToPhase:        r.ToPhase,
			HandoffType:    domain.HandoffType(r.HandoffType),
			ContextSummary: r.ContextSummary,
			IterationCount: r.IterationCount,
			DurationMs:     r.DurationMs,
			CreatedAt:      r.CreatedAt,
		}
		if len(r.MetadataJSON) > 0 {
			if err := json.Unmarshal(r.MetadataJSON, &h.Metadata); err != nil {
				return nil, fmt.Errorf("storage: decode handoff metadata: %w", err)
			}
		}
		out = append(out, h)
	}
	return out, nil
}

var _ handoff.HistoryStore = (*SqlxHandoffHistoryStore)(nil)
