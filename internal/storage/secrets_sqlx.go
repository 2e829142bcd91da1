package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/secrets"
)

// SqlxSecretStore is the production secrets.Store, backed by the
// `byok_secrets` table. Encrypted fields pass through
// untouched; decryption happens only in internal/secrets.Bridge.
type SqlxSecretStore struct {
	db *sqlx.DB
}

func NewSqlxSecretStore(db *sqlx.DB) *SqlxSecretStore {
	return &SqlxSecretStore{db: db}
}

func (s *SqlxSecretStore) GetActive(ctx context.Context, workspaceID string, provider domain.SecretProvider) (*domain.Secret, error) {
	var secret domain.Secret
	err := s.db.GetContext(ctx, &secret, `
		SELECT id, workspace_id, key_name, provider, encrypted_key, encryption_iv,
		       created_by_user_id, created_at, updated_at, last_used_at, is_active
		FROM byok_secrets
		WHERE workspace_id = $1 AND provider = $2 AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1`, workspaceID, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get active secret: %w", err)
	}
	return &secret, nil
}

var _ secrets.Store = (*SqlxSecretStore)(nil)
