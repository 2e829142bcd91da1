package handoff

import (
	"context"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
)

// HistoryStore persists HandoffHistory rows. Production is the
// internal/storage sqlx adapter; tests use an in-memory implementation.
type HistoryStore interface {
	Append(ctx context.Context, h *domain.HandoffHistory) error
	ListByWorkspace(ctx context.Context, workspaceID string) ([]domain.HandoffHistory, error)
}
