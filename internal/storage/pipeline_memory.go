package storage

import (
	"context"
	"sync"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/errs"
	"github.com/devos-platform/agent-orchestrator/internal/pipeline"
)

// MemoryPipelineStore implements pipeline.Store in-process, for unit tests.
// Production uses SqlxPipelineStore.
type MemoryPipelineStore struct {
	mu      sync.Mutex
	active  map[string]*domain.PipelineContext // projectID -> context
	history map[string][]*domain.PipelineStateHistory
}

// NewMemoryPipelineStore returns an empty MemoryPipelineStore.
func NewMemoryPipelineStore() *MemoryPipelineStore {
	return &MemoryPipelineStore{
		active:  make(map[string]*domain.PipelineContext),
		history: make(map[string][]*domain.PipelineStateHistory),
	}
}

func (s *MemoryPipelineStore) GetActiveByProject(_ context.Context, projectID string) (*domain.PipelineContext, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.active[projectID]
	if !ok || pc.CurrentState.IsTerminal() {
		return nil, false, nil
	}
	cp := *pc
	return &cp, true, nil
}

func (s *MemoryPipelineStore) ListActive(_ context.Context) ([]*domain.PipelineContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.PipelineContext, 0, len(s.active))
	for _, pc := range s.active {
		if pc.CurrentState.IsTerminal() {
			continue
		}
		cp := *pc
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryPipelineStore) Save(_ context.Context, pc *domain.PipelineContext) error {
	if pc.ProjectID == "" {
		return &errs.ConflictException{Resource: "pipeline", Message: "projectId is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pc
	s.active[pc.ProjectID] = &cp
	return nil
}

func (s *MemoryPipelineStore) AppendHistory(_ context.Context, h *domain.PipelineStateHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.history[h.ProjectID] = append(s.history[h.ProjectID], &cp)
	return nil
}

func (s *MemoryPipelineStore) ListHistory(_ context.Context, projectID string) ([]*domain.PipelineStateHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.PipelineStateHistory, len(s.history[projectID]))
	copy(out, s.history[projectID])
	return out, nil
}

var _ pipeline.Store = (*MemoryPipelineStore)(nil)
