package storage

import (
	"context"
	"sync"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/handoff"
)

// MemoryHandoffHistoryStore implements handoff.HistoryStore in-process.
type MemoryHandoffHistoryStore struct {
	mu   sync.Mutex
	rows map[string][]domain.HandoffHistory // workspaceID -> rows
}

// NewMemoryHandoffHistoryStore returns an empty MemoryHandoffHistoryStore.
func NewMemoryHandoffHistoryStore() *MemoryHandoffHistoryStore {
	return &MemoryHandoffHistoryStore{rows: make(map[string][]domain.HandoffHistory)}
}

func (s *MemoryHandoffHistoryStore) Append(_ context.Context, h *domain.HandoffHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[h.WorkspaceID] = append(s.rows[h.WorkspaceID], *h)
	return nil
}

func (s *MemoryHandoffHistoryStore) ListByWorkspace(_ context.Context, workspaceID string) ([]domain.HandoffHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.HandoffHistory, len(s.rows[workspaceID]))
	copy(out, s.rows[workspaceID])
	return out, nil
}

var _ handoff.HistoryStore = (*MemoryHandoffHistoryStore)(nil)
