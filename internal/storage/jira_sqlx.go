package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
)

// SqlxIntegrationStore is the production jira_integrations repository,
// implementing jira/oauth.IntegrationStore and jira/sync.IntegrationStore.
// StatusMapping/FieldMapping are stored as jsonb, mirroring the metadata
// columns elsewhere in internal/storage.
type SqlxIntegrationStore struct {
	db *sqlx.DB
}

func NewSqlxIntegrationStore(db *sqlx.DB) *SqlxIntegrationStore {
	return &SqlxIntegrationStore{db: db}
}

type jiraIntegrationRow struct {
	domain.JiraIntegration
	StatusMappingJSON []byte `db:"status_mapping"`
	FieldMappingJSON  []byte `db:"field_mapping"`
}

func decodeIntegrationRow(row *jiraIntegrationRow) (*domain.JiraIntegration, error) {
	integration := row.JiraIntegration
	if len(row.StatusMappingJSON) > 0 {
		if err := json.Unmarshal(row.StatusMappingJSON, &integration.StatusMapping); err != nil {
			return nil, fmt.Errorf("storage: decode status_mapping: %w", err)
		}
	}
	if len(row.FieldMappingJSON) > 0 {
		if err := json.Unmarshal(row.FieldMappingJSON, &integration.FieldMapping); err != nil {
			return nil, fmt.Errorf("storage: decode field_mapping: %w", err)
		}
	}
	return &integration, nil
}

const integrationColumns = `
	id, workspace_id, cloud_id, jira_site_url, jira_project_key, jira_project_name,
	issue_type, sync_direction, status_mapping, field_mapping, access_token,
	access_token_iv, refresh_token, refresh_token_iv, token_expires_at, webhook_id,
	webhook_secret, is_active, error_count, sync_count, last_sync_at, last_error,
	last_error_at, connected_by`

func (s *SqlxIntegrationStore) GetByWorkspace(ctx context.Context, workspaceID string) (*domain.JiraIntegration, error) {
	var row jiraIntegrationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+integrationColumns+` FROM jira_integrations WHERE workspace_id = $1`, workspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get integration by workspace: %w", err)
	}
	return decodeIntegrationRow(&row)
}

func (s *SqlxIntegrationStore) GetByID(ctx context.Context, id string) (*domain.JiraIntegration, error) {
	var row jiraIntegrationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+integrationColumns+` FROM jira_integrations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get integration by id: %w", err)
	}
	return decodeIntegrationRow(&row)
}

// GetByProjectKey resolves the active integration for the webhook handler's
// project-key lookup; inactive integrations never match.
func (s *SqlxIntegrationStore) GetByProjectKey(ctx context.Context, projectKey string) (*domain.JiraIntegration, error) {
	var row jiraIntegrationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+integrationColumns+` FROM jira_integrations WHERE jira_project_key = $1 AND is_active = true`, projectKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get integration by project key: %w", err)
	}
	return decodeIntegrationRow(&row)
}

func (s *SqlxIntegrationStore) Create(ctx context.Context, integration *domain.JiraIntegration) error {
	return s.upsert(ctx, integration)
}

func (s *SqlxIntegrationStore) Update(ctx context.Context, integration *domain.JiraIntegration) error {
	return s.upsert(ctx, integration)
}

func (s *SqlxIntegrationStore) upsert(ctx context.Context, integration *domain.JiraIntegration) error {
	statusMappingJSON, err := json.Marshal(integration.StatusMapping)
	if err != nil {
		return fmt.Errorf("storage: encode status_mapping: %w", err)
	}
	fieldMappingJSON, err := json.Marshal(integration.FieldMapping)
	if err != nil {
		return fmt.Errorf("storage: encode field_mapping: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jira_integrations (
			id, workspace_id, cloud_id, jira_site_url, jira_project_key, jira_project_name,
			issue_type, sync_direction, status_mapping, field_mapping, access_token,
			access_token_iv, refresh_token, refresh_token_iv, token_expires_at, webhook_id,
			webhook_secret, is_active, error_count, sync_count, last_sync_at, last_error,
			last_error_at, connected_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24
		)
		ON CONFLICT (id) DO UPDATE SET
			cloud_id = EXCLUDED.cloud_id,
			jira_site_url = EXCLUDED.jira_site_url,
			jira_project_key = EXCLUDED.jira_project_key,
			jira_project_name = EXCLUDED.jira_project_name,
			issue_type = EXCLUDED.issue_type,
			sync_direction = EXCLUDED.sync_direction,
			status_mapping = EXCLUDED.status_mapping,
			field_mapping = EXCLUDED.field_mapping,
			access_token = EXCLUDED.access_token,
			access_token_iv = EXCLUDED.access_token_iv,
			refresh_token = EXCLUDED.refresh_token,
			refresh_token_iv = EXCLUDED.refresh_token_iv,
			token_expires_at = EXCLUDED.token_expires_at,
			webhook_id = EXCLUDED.webhook_id,
			webhook_secret = EXCLUDED.webhook_secret,
			is_active = EXCLUDED.is_active,
			error_count = EXCLUDED.error_count,
			sync_count = EXCLUDED.sync_count,
			last_sync_at = EXCLUDED.last_sync_at,
			last_error = EXCLUDED.last_error,
			last_error_at = EXCLUDED.last_error_at,
			connected_by = EXCLUDED.connected_by`,
		integration.ID, integration.WorkspaceID, integration.CloudID, integration.JiraSiteURL,
		integration.JiraProjectKey, integration.JiraProjectName, integration.IssueType,
		integration.SyncDirection, statusMappingJSON, fieldMappingJSON, integration.AccessToken,
		integration.AccessTokenIV, integration.RefreshToken, integration.RefreshTokenIV,
		integration.TokenExpiresAt, integration.WebhookID, integration.WebhookSecret,
		integration.IsActive, integration.ErrorCount, integration.SyncCount, integration.LastSyncAt,
		integration.LastError, integration.LastErrorAt, integration.ConnectedBy)
	if err != nil {
		return fmt.Errorf("storage: upsert integration: %w", err)
	}
	return nil
}

func (s *SqlxIntegrationStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jira_integrations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("storage: delete integration: %w", err)
	}
	return nil
}

// IncrementErrorCount performs the error_count bump as an atomic column
// increment instead of a read-modify-write in application code.
func (s *SqlxIntegrationStore) IncrementErrorCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jira_integrations SET error_count = error_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: increment error_count: %w", err)
	}
	return nil
}

// HasPushableIntegration reports whether workspaceID has an active
// integration whose syncDirection allows a DevOS-originated change to be
// pushed to Jira, satisfying jira/listener.IntegrationLookup.
func (s *SqlxIntegrationStore) HasPushableIntegration(ctx context.Context, workspaceID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM jira_integrations
			WHERE workspace_id = $1 AND is_active = true AND sync_direction != $2
		)`, workspaceID, domain.SyncJiraToDevos)
	if err != nil {
		return false, fmt.Errorf("storage: check pushable integration: %w", err)
	}
	return exists, nil
}

// SqlxStoryStore implements jira/sync.StoryStore against the surrounding
// system's `stories` table; the orchestrator only ever reads a row and
// writes back title/description/status from reverse sync.
type SqlxStoryStore struct {
	db *sqlx.DB
}

func NewSqlxStoryStore(db *sqlx.DB) *SqlxStoryStore {
	return &SqlxStoryStore{db: db}
}

func (s *SqlxStoryStore) GetByID(ctx context.Context, storyID string) (*domain.Story, error) {
	var story domain.Story
	err := s.db.GetContext(ctx, &story, `
		SELECT id, title, description, status, project_id, workspace_id
		FROM stories WHERE id = $1`, storyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get story: %w", err)
	}
	return &story, nil
}

func (s *SqlxStoryStore) Save(ctx context.Context, story *domain.Story) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stories SET title = $2, description = $3, status = $4
		WHERE id = $1`, story.ID, story.Title, story.Description, story.Status)
	if err != nil {
		return fmt.Errorf("storage: save story: %w", err)
	}
	return nil
}

// SqlxSyncItemStore implements jira/sync.SyncItemStore and
// jira/webhook.SyncItemRemover against the `jira_sync_items` table.
type SqlxSyncItemStore struct {
	db *sqlx.DB
}

func NewSqlxSyncItemStore(db *sqlx.DB) *SqlxSyncItemStore {
	return &SqlxSyncItemStore{db: db}
}

type jiraSyncItemRow struct {
	domain.JiraSyncItem
	ConflictDetailsJSON []byte `db:"conflict_details"`
}

func decodeSyncItemRow(row *jiraSyncItemRow) (*domain.JiraSyncItem, error) {
	item := row.JiraSyncItem
	if len(row.ConflictDetailsJSON) > 0 {
		var details domain.ConflictDetails
		if err := json.Unmarshal(row.ConflictDetailsJSON, &details); err != nil {
			return nil, fmt.Errorf("storage: decode conflict_details: %w", err)
		}
		item.ConflictDetails = &details
	}
	return &item, nil
}

const syncItemColumns = `
	id, jira_integration_id, devos_story_id, jira_issue_key, jira_issue_id,
	jira_issue_type, sync_status, sync_direction_last, last_synced_at,
	last_devos_update_at, last_jira_update_at, error_message, conflict_details`

func (s *SqlxSyncItemStore) GetByStoryID(ctx context.Context, storyID string) (*domain.JiraSyncItem, error) {
	var row jiraSyncItemRow
	err := s.db.GetContext(ctx, &row, `SELECT `+syncItemColumns+` FROM jira_sync_items WHERE devos_story_id = $1`, storyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get sync item by story: %w", err)
	}
	return decodeSyncItemRow(&row)
}

func (s *SqlxSyncItemStore) GetByJiraIssueID(ctx context.Context, jiraIssueID string) (*domain.JiraSyncItem, error) {
	var row jiraSyncItemRow
	err := s.db.GetContext(ctx, &row, `SELECT `+syncItemColumns+` FROM jira_sync_items WHERE jira_issue_id = $1`, jiraIssueID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get sync item by issue id: %w", err)
	}
	return decodeSyncItemRow(&row)
}

func (s *SqlxSyncItemStore) GetByID(ctx context.Context, id string) (*domain.JiraSyncItem, error) {
	var row jiraSyncItemRow
	err := s.db.GetContext(ctx, &row, `SELECT `+syncItemColumns+` FROM jira_sync_items WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get sync item by id: %w", err)
	}
	return decodeSyncItemRow(&row)
}

func (s *SqlxSyncItemStore) ListByIntegration(ctx context.Context, integrationID string) ([]*domain.JiraSyncItem, error) {
	var rows []jiraSyncItemRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+syncItemColumns+` FROM jira_sync_items WHERE jira_integration_id = $1`, integrationID)
	if err != nil {
		return nil, fmt.Errorf("storage: list sync items: %w", err)
	}
	out := make([]*domain.JiraSyncItem, 0, len(rows))
	for _, row := range rows {
		item, err := decodeSyncItemRow(&row)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *SqlxSyncItemStore) Save(ctx context.Context, item *domain.JiraSyncItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	var conflictJSON []byte
	if item.ConflictDetails != nil {
		var err error
		conflictJSON, err = json.Marshal(item.ConflictDetails)
		if err != nil {
			return fmt.Errorf("storage: encode conflict_details: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jira_sync_items (
			id, jira_integration_id, devos_story_id, jira_issue_key, jira_issue_id,
			jira_issue_type, sync_status, sync_direction_last, last_synced_at,
			last_devos_update_at, last_jira_update_at, error_message, conflict_details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			jira_issue_key = EXCLUDED.jira_issue_key,
			jira_issue_id = EXCLUDED.jira_issue_id,
			jira_issue_type = EXCLUDED.jira_issue_type,
			sync_status = EXCLUDED.sync_status,
			sync_direction_last = EXCLUDED.sync_direction_last,
			last_synced_at = EXCLUDED.last_synced_at,
			last_devos_update_at = EXCLUDED.last_devos_update_at,
			last_jira_update_at = EXCLUDED.last_jira_update_at,
			error_message = EXCLUDED.error_message,
			conflict_details = EXCLUDED.conflict_details`,
		item.ID, item.JiraIntegrationID, item.DevosStoryID, item.JiraIssueKey, item.JiraIssueID,
		item.JiraIssueType, item.SyncStatus, item.SyncDirectionLast, item.LastSyncedAt,
		item.LastDevosUpdateAt, item.LastJiraUpdateAt, item.ErrorMessage, conflictJSON)
	if err != nil {
		return fmt.Errorf("storage: save sync item: %w", err)
	}
	return nil
}

func (s *SqlxSyncItemStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jira_sync_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("storage: delete sync item: %w", err)
	}
	return nil
}

func (s *SqlxSyncItemStore) DeleteByJiraIssueID(ctx context.Context, jiraIssueID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jira_sync_items WHERE jira_issue_id = $1`, jiraIssueID); err != nil {
		return fmt.Errorf("storage: delete sync item by issue id: %w", err)
	}
	return nil
}
