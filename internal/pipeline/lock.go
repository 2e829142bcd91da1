package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/errs"
)

// LockTTL is the project-scoped mutual-exclusion lock's TTL.
const LockTTL = 30 * time.Second

func lockKey(projectID string) string {
	return fmt.Sprintf("pipeline-lock:%s", projectID)
}

// acquireLock takes the project's transition lock via set-if-absent. holder
// is an opaque identifier (e.g. a process/request id) so the caller can
// tell its own lock apart from a peer's when diagnosing PipelineLockError.
func acquireLock(ctx context.Context, backend cache.CacheBackend, projectID, holder string) error {
	ok, err := backend.SetNX(ctx, lockKey(projectID), holder, LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		current, _, _ := backend.Get(ctx, lockKey(projectID))
		return &errs.PipelineLockError{PipelineID: projectID, Holder: current}
	}
	return nil
}

// releaseLock drops the lock unconditionally. Callers treat this as
// best-effort and log rather than propagate its error, since a failure to
// release should never abort the operation that already committed.
func releaseLock(ctx context.Context, backend cache.CacheBackend, projectID string) error {
	return backend.Del(ctx, lockKey(projectID))
}
