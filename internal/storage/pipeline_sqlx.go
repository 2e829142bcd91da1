package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/pipeline"
)

// SqlxPipelineStore is the production pipeline.Store, backed by the
// `pipeline_contexts` and `pipeline_state_history` tables described in
// the pipeline store. Metadata is stored as a jsonb column, round-tripped through
// encoding/json since db struct tags can't express a map column directly.
type SqlxPipelineStore struct {
	db *sqlx.DB
}

// NewSqlxPipelineStore wraps an already-connected *sqlx.DB.
func NewSqlxPipelineStore(db *sqlx.DB) *SqlxPipelineStore {
	return &SqlxPipelineStore{db: db}
}

type pipelineContextRow struct {
	domain.PipelineContext
	MetadataJSON []byte `db:"metadata"`
}

func (s *SqlxPipelineStore) GetActiveByProject(ctx context.Context, projectID string) (*domain.PipelineContext, bool, error) {
	var row pipelineContextRow
	err := s.db.GetContext(ctx, &row, `
		SELECT project_id, workspace_id, workflow_id, current_state, previous_state,
		       state_entered_at, active_agent_id, active_agent_type, current_story_id,
		       retry_count, max_retries, metadata, created_at, updated_at
		FROM pipeline_contexts
		WHERE project_id = $1 AND current_state NOT IN ('complete', 'failed')`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get active pipeline context: %w", err)
	}
	pc := row.PipelineContext
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &pc.Metadata); err != nil {
			return nil, false, fmt.Errorf("storage: decode pipeline metadata: %w", err)
		}
	}
	return &pc, true, nil
}

func (s *SqlxPipelineStore) ListActive(ctx context.Context) ([]*domain.PipelineContext, error) {
	var rows []pipelineContextRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT project_id, workspace_id, workflow_id, current_state, previous_state,
		       state_entered_at, active_agent_id, active_agent_type, current_story_id,
		       retry_count, max_retries, metadata, created_at, updated_at
		FROM pipeline_contexts
		WHERE current_state NOT IN ('complete', 'failed')`)
	if err != nil {
		return nil, fmt.Errorf("storage: list active pipeline contexts: %w", err)
	}
	out := make([]*domain.PipelineContext, 0, len(rows))
	for _, row := range rows {
		pc := row.PipelineContext
		if len(row.MetadataJSON) > 0 {
			if err := json.Unmarshal(row.MetadataJSON, &pc.Metadata); err != nil {
				return nil, fmt.Errorf("storage: decode pipeline metadata: %w", err)
			}
		}
		cp := pc
		out = append(out, &cp)
	}
	return out, nil
}

func (s *SqlxPipelineStore) Save(ctx context.Context, pc *domain.PipelineContext) error {
	metadataJSON, err := json.Marshal(pc.Metadata)
	if err != nil {
		return fmt.Errorf("storage: encode pipeline metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_contexts (
			project_id, workspace_id, workflow_id, current_state, previous_state,
			state_entered_at, active_agent_id, active_agent_type, current_story_id,
			retry_count, max_retries, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (project_id) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id,
			workflow_id = EXCLUDED.workflow_id,
			current_state = EXCLUDED.current_state,
			previous_state = EXCLUDED.previous_state,
			state_entered_at = EXCLUDED.state_entered_at,
			active_agent_id = EXCLUDED.active_agent_id,
			active_agent_type = EXCLUDED.active_agent_type,
			current_story_id = EXCLUDED.current_story_id,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		pc.ProjectID, pc.WorkspaceID, pc.WorkflowID, pc.CurrentState, pc.PreviousState,
		pc.StateEnteredAt, pc.ActiveAgentID, pc.ActiveAgentType, pc.CurrentStoryID,
		pc.RetryCount, pc.MaxRetries, metadataJSON, pc.CreatedAt, pc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: save pipeline context: %w", err)
	}
	return nil
}

func (s *SqlxPipelineStore) AppendHistory(ctx context.Context, h *domain.PipelineStateHistory) error {
	metadataJSON, err := json.Marshal(h.Metadata)
	if err != nil {
		return fmt.Errorf("storage: encode history metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_state_history (
			id, project_id, workspace_id, workflow_id, previous_state, new_state,
			triggered_by, agent_id, story_id, metadata, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		h.ID, h.ProjectID, h.WorkspaceID, h.WorkflowID, h.PreviousState, h.NewState,
		h.TriggeredBy, h.AgentID, h.StoryID, metadataJSON, h.ErrorMessage, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: append pipeline history: %w", err)
	}
	return nil
}

func (s *SqlxPipelineStore) ListHistory(ctx context.Context, projectID string) ([]*domain.PipelineStateHistory, error) {
	type row struct {
		domain.PipelineStateHistory
		MetadataJSON []byte `db:"metadata"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, project_id, workspace_id, workflow_id, previous_state, new_state,
		       triggered_by, agent_id, story_id, metadata, error_message, created_at
		FROM pipeline_state_history
		WHERE project_id = $1
		ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("storage: list pipeline history: %w", err)
	}
	out := make([]*domain.PipelineStateHistory, 0, len(rows))
	for _, r := range rows {
		h := r.PipelineStateHistory
		if len(r.MetadataJSON) > 0 {
			if err := json.Unmarshal(r.MetadataJSON, &h.Metadata); err != nil {
				return nil, fmt.Errorf("storage: decode history metadata: %w", err)
			}
		}
		cp := h
		out = append(out, &cp)
	}
	return out, nil
}

var _ pipeline.Store = (*SqlxPipelineStore)(nil)
