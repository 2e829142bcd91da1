package pipeline

import (
	"context"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
)

// Store is the repository interface for PipelineContext and its history: a
// plain record plus a repository interface (findByWorkspace/save/remove
// style methods), backed in production by internal/storage's sqlx adapter
// and in tests by InMemoryStore.
type Store interface {
	// GetActiveByProject returns the non-terminal context for projectID, if
	// any. Only one may exist at a time.
	GetActiveByProject(ctx context.Context, projectID string) (*domain.PipelineContext, bool, error)
	// ListActive returns every non-terminal context, for recover() and
	// getCoordinationStatus().
	ListActive(ctx context.Context) ([]*domain.PipelineContext, error)
	// Save durably writes pc. Implementations must be safe to call only
	// while the caller holds the project lock.
	Save(ctx context.Context, pc *domain.PipelineContext) error
	// AppendHistory writes one audit row. Implementations should make this
	// and the preceding Save atomic where the backend supports it (a single
	// transaction in the sqlx adapter).
	AppendHistory(ctx context.Context, h *domain.PipelineStateHistory) error
	ListHistory(ctx context.Context, projectID string) ([]*domain.PipelineStateHistory, error)
}
