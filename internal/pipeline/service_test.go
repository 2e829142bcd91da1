package pipeline_test

import (
	"context"
	"testing"

	"github.com/go-logr/zapr"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/errs"
	"github.com/devos-platform/agent-orchestrator/internal/events"
	"github.com/devos-platform/agent-orchestrator/internal/pipeline"
	"github.com/devos-platform/agent-orchestrator/internal/storage"
)

func newTestService(t *testing.T) (*pipeline.Service, *storage.MemoryPipelineStore) {
	t.Helper()
	store := storage.NewMemoryPipelineStore()
	backend := cache.NewMemoryBackend()
	bus := events.NewBus()
	zl, err := zap.NewDevelopment()
	require.NoError(t, err)
	log := zapr.NewLogger(zl)
	return pipeline.NewService(store, backend, bus, log), store
}

func TestStartPipelineRejectsSecondActiveContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.StartPipeline(ctx, "P1", "W1", pipeline.StartOptions{TriggeredBy: "start"})
	require.NoError(t, err)
	require.Equal(t, domain.StatePlanning, res.State)

	_, err = svc.StartPipeline(ctx, "P1", "W1", pipeline.StartOptions{TriggeredBy: "start"})
	require.Error(t, err)
	require.True(t, errs.IsConflict(err))
}

func TestTransitionRejectsInvalidEdge(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.StartPipeline(ctx, "P1", "W1", pipeline.StartOptions{TriggeredBy: "start"})
	require.NoError(t, err)

	err = svc.Transition(ctx, "P1", domain.StateDeploying, pipeline.TransitionOptions{TriggeredBy: "skip"})
	require.Error(t, err)
	require.True(t, errs.IsInvalidStateTransition(err))
}

// TestHappyPathScenario walks idle -> planning -> implementing -> qa ->
// deploying -> complete, asserting one state_changed event per accepted
// transition (the start included) and no duplicate consecutive (from->to)
// pairs.
func TestHappyPathScenario(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	var seen []events.Envelope
	bus := events.NewBus()
	bus.Subscribe(events.PipelineStateChanged, func(_ context.Context, env events.Envelope) {
		seen = append(seen, env)
	})
	// Rebuild the service bound to the bus we can observe.
	backend := cache.NewMemoryBackend()
	zl, _ := zap.NewDevelopment()
	svc = pipeline.NewService(store, backend, bus, zapr.NewLogger(zl))

	_, err := svc.StartPipeline(ctx, "P1", "W1", pipeline.StartOptions{TriggeredBy: "start"})
	require.NoError(t, err)

	require.NoError(t, svc.Transition(ctx, "P1", domain.StateImplementing, pipeline.TransitionOptions{TriggeredBy: "handoff"}))
	require.NoError(t, svc.Transition(ctx, "P1", domain.StateQA, pipeline.TransitionOptions{TriggeredBy: "handoff"}))
	require.NoError(t, svc.Transition(ctx, "P1", domain.StateDeploying, pipeline.TransitionOptions{TriggeredBy: "handoff"}))
	require.NoError(t, svc.Transition(ctx, "P1", domain.StateComplete, pipeline.TransitionOptions{TriggeredBy: "handoff"}))

	require.Len(t, seen, 5)
	_, found, err := store.GetActiveByProject(ctx, "P1")
	require.NoError(t, err)
	require.False(t, found, "a completed pipeline is no longer active")

	history, err := store.ListHistory(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, history, 5)
	require.Equal(t, domain.StateComplete, history[len(history)-1].NewState)

	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1], history[i]
		require.False(t, prev.PreviousState == cur.PreviousState && prev.NewState == cur.NewState,
			"no two consecutive transitions should have the identical (previous->new) pair")
	}
}

func TestQARejectionPathDoesNotTerminate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.StartPipeline(ctx, "P1", "W1", pipeline.StartOptions{TriggeredBy: "start"})
	require.NoError(t, err)
	require.NoError(t, svc.Transition(ctx, "P1", domain.StateImplementing, pipeline.TransitionOptions{TriggeredBy: "handoff"}))
	require.NoError(t, svc.Transition(ctx, "P1", domain.StateQA, pipeline.TransitionOptions{TriggeredBy: "handoff"}))
	// QA rejection routes back to implementing.
	require.NoError(t, svc.Transition(ctx, "P1", domain.StateImplementing, pipeline.TransitionOptions{TriggeredBy: "qa_rejection"}))
	require.NoError(t, svc.Transition(ctx, "P1", domain.StateQA, pipeline.TransitionOptions{TriggeredBy: "handoff"}))
	require.NoError(t, svc.Transition(ctx, "P1", domain.StateDeploying, pipeline.TransitionOptions{TriggeredBy: "handoff"}))
	require.NoError(t, svc.Transition(ctx, "P1", domain.StateComplete, pipeline.TransitionOptions{TriggeredBy: "handoff"}))
}

func TestRecoverFailsStaleContexts(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.StartPipeline(ctx, "P1", "W1", pipeline.StartOptions{TriggeredBy: "start"})
	require.NoError(t, err)

	pc, _, err := store.GetActiveByProject(ctx, "P1")
	require.NoError(t, err)
	pc.StateEnteredAt = pc.StateEnteredAt.Add(-3 * pipeline.StaleThresholdDefault)
	require.NoError(t, store.Save(ctx, pc))

	result, err := svc.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	require.Equal(t, 1, result.Stale)
	require.Equal(t, 1, result.Recovered)

	history, err := store.ListHistory(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, domain.StateFailed, history[len(history)-1].NewState)
}
