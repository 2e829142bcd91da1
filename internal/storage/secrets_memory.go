package storage

import (
	"context"
	"sync"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/secrets"
)

// MemorySecretStore is an in-memory secrets.Store for tests.
type MemorySecretStore struct {
	mu      sync.Mutex
	secrets map[string]*domain.Secret // key: workspaceID+"/"+provider
}

func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[string]*domain.Secret)}
}

func secretKey(workspaceID string, provider domain.SecretProvider) string {
	return workspaceID + "/" + string(provider)
}

// Put installs a secret, overwriting any prior active key for the same
// workspace/provider pair.
func (s *MemorySecretStore) Put(secret *domain.Secret) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[secretKey(secret.WorkspaceID, secret.Provider)] = secret
}

func (s *MemorySecretStore) GetActive(ctx context.Context, workspaceID string, provider domain.SecretProvider) (*domain.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.secrets[secretKey(workspaceID, provider)]
	if !ok || !secret.IsActive {
		return nil, nil
	}
	return secret, nil
}

var _ secrets.Store = (*MemorySecretStore)(nil)
