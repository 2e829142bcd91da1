package pipeline

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
)

// RecoverResult summarizes one recover() pass.
type RecoverResult struct {
	Recovered int
	Stale     int
	Total     int
}

// scanBackoff bounds retries of the initial ListActive call against a
// transiently unavailable store, since recovery runs once at startup and a
// flaky store there should not simply abort the boot.
var scanBackoff = wait.Backoff{
	Duration: 200 * time.Millisecond,
	Factor:   2.0,
	Steps:    3,
}

// staleRecoveryHop names, for states with no direct edge to failed in the
// transition table, the intermediate state recovery steps through first so
// every stale context still ends up failed without violating the table.
var staleRecoveryHop = map[domain.PipelineState]domain.PipelineState{
	domain.StateIdle:   domain.StatePlanning,
	domain.StatePaused: domain.StateImplementing,
}

// Recover scans every persisted active context on startup; any whose
// StateEnteredAt predates staleThreshold and is non-terminal moves to
// failed with triggeredBy="recovery:stale".
func (s *Service) Recover(ctx context.Context) (RecoverResult, error) {
	var actives []*domain.PipelineContext
	err := wait.ExponentialBackoff(scanBackoff, func() (bool, error) {
		var listErr error
		actives, listErr = s.store.ListActive(ctx)
		if listErr != nil {
			s.log.Error(listErr, "recover: list active pipelines failed, retrying")
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return RecoverResult{}, err
	}

	result := RecoverResult{Total: len(actives)}
	cutoff := time.Now().Add(-s.staleThreshold)

	for _, pc := range actives {
		if pc.CurrentState.IsTerminal() || pc.StateEnteredAt.After(cutoff) {
			continue
		}
		result.Stale++

		if hop, ok := staleRecoveryHop[pc.CurrentState]; ok {
			if err := s.Transition(ctx, pc.ProjectID, hop, TransitionOptions{
				TriggeredBy:  "recovery:stale",
				ErrorMessage: "stale pipeline context recovered on startup",
			}); err != nil {
				s.log.Error(err, "recover: failed to step stale pipeline toward failed", "projectId", pc.ProjectID)
				continue
			}
		}

		if err := s.Transition(ctx, pc.ProjectID, domain.StateFailed, TransitionOptions{
			TriggeredBy:  "recovery:stale",
			ErrorMessage: "stale pipeline context recovered on startup",
		}); err != nil {
			s.log.Error(err, "recover: failed to fail stale pipeline", "projectId", pc.ProjectID)
			continue
		}
		result.Recovered++
	}

	return result, nil
}
