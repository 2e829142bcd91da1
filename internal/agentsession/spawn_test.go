package agentsession_test

import (
	"context"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"

	"github.com/devos-platform/agent-orchestrator/internal/agentsession"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/errs"
	"github.com/devos-platform/agent-orchestrator/internal/events"
)

type fakeKeys struct{ key string }

func (f fakeKeys) Resolve(ctx context.Context, workspaceID string, provider domain.SecretProvider) (string, error) {
	return f.key, nil
}

type capturingSink struct {
	lines []string
}

func (s *capturingSink) StartStreaming(ctx context.Context, sessionID string) {}

func (s *capturingSink) OnOutput(sessionID string, data []byte) {
	s.lines = append(s.lines, string(data))
}

func (s *capturingSink) StopStreaming(ctx context.Context, sessionID string) error { return nil }

func newTestManager(t *testing.T, maxPerSpace int) (*agentsession.Manager, *capturingSink) {
	t.Helper()
	bus := events.NewBus()
	sink := &capturingSink{}
	logger := testr.New(t)
	return agentsession.NewManager(bus, sink, logger, maxPerSpace), sink
}

func TestSpawnReleasesWorkspaceSlotOnPrepareFailure(t *testing.T) {
	mgr, _ := newTestManager(t, 1)
	baseDir := t.TempDir()

	params := func() agentsession.SpawnParams {
		return agentsession.SpawnParams{
			WorkspaceID: "ws-1",
			ProjectID:   "proj-1",
			Agent:       "dev",
			RepoURL:     "file:///nonexistent-for-this-test",
			Argv:        []string{"sleep", "5"},
		}
	}

	// First spawn reserves the workspace's only slot even though the clone
	// will fail shortly after (invalid repo URL) — the cap check happens
	// before workspace preparation.
	_, err := mgr.Spawn(context.Background(), baseDir, params(), fakeKeys{key: "k"}, "")
	require.Error(t, err) // clone fails against the fake URL
	require.False(t, errs.IsSessionCapExceeded(err))

	// Reservation is released on clone failure, so a second attempt against
	// the same workspace should fail the same way, not with a cap error.
	_, err = mgr.Spawn(context.Background(), baseDir, params(), fakeKeys{key: "k"}, "")
	require.Error(t, err)
	require.False(t, errs.IsSessionCapExceeded(err))
}

func TestManagerStatusUnknownSessionNotFound(t *testing.T) {
	mgr, _ := newTestManager(t, 5)
	_, ok := mgr.Status("does-not-exist")
	require.False(t, ok)
}

func TestTerminateUnknownSessionReturnsNotFound(t *testing.T) {
	mgr, _ := newTestManager(t, 5)
	err := mgr.Terminate("does-not-exist")
	require.True(t, errs.IsNotFound(err))
}
