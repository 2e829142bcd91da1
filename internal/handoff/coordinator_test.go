package handoff_test

import (
	"context"
	"testing"

	"github.com/go-logr/zapr"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/events"
	"github.com/devos-platform/agent-orchestrator/internal/handoff"
	"github.com/devos-platform/agent-orchestrator/internal/storage"
)

func newTestCoordinator(t *testing.T) (*handoff.Coordinator, *storage.MemoryHandoffHistoryStore, events.Bus) {
	t.Helper()
	deps := handoff.NewDependencyManager()
	queue := handoff.NewQueue(cache.NewMemoryBackend())
	history := storage.NewMemoryHandoffHistoryStore()
	bus := events.NewBus()
	zl, err := zap.NewDevelopment()
	require.NoError(t, err)
	return handoff.NewCoordinator(deps, queue, history, bus, zapr.NewLogger(zl)), history, bus
}

// TestHappyPathFourHandoffs walks planner->dev, dev->qa, qa->devops,
// devops->complete, asserting exactly one history row per step with the
// last row's handoffType=completion.
func TestHappyPathFourHandoffs(t *testing.T) {
	c, history, _ := newTestCoordinator(t)
	ctx := context.Background()
	ws, story := "W1", "story-1"

	steps := []handoff.HandoffParams{
		{WorkspaceID: ws, StoryID: story, FromAgentType: handoff.AgentPlanner, FromAgentID: "p1", ToAgentID: "d1",
			Context: map[string]interface{}{"storyId": story, "storyTitle": "t", "acceptanceCriteria": "ac", "techStack": "go"}},
		{WorkspaceID: ws, StoryID: story, FromAgentType: handoff.AgentDev, FromAgentID: "d1", ToAgentID: "q1",
			Context: map[string]interface{}{"branch": "feature/story-1", "prUrl": "u", "prNumber": 42, "testResults": "ok"}},
		{WorkspaceID: ws, StoryID: story, FromAgentType: handoff.AgentQA, FromAgentID: "q1", ToAgentID: "o1",
			Context: map[string]interface{}{"prUrl": "u", "prNumber": 42, "qaVerdict": "PASS", "qaReportSummary": "92% coverage"}},
		{WorkspaceID: ws, StoryID: story, FromAgentType: handoff.AgentDevOps, FromAgentID: "o1", ToAgentID: "",
			Context: map[string]interface{}{"deploymentUrl": "https://x.railway.app", "smokeTestsPassed": true}},
	}

	for _, p := range steps {
		res := c.ProcessHandoff(ctx, p)
		require.True(t, res.Success, res.Error)
	}

	rows, err := history.ListByWorkspace(ctx, ws)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, domain.HandoffCompletion, rows[3].HandoffType)
	for _, r := range rows[:3] {
		require.Equal(t, domain.HandoffNormal, r.HandoffType)
	}
}

// TestQARejectionThenPassScenario covers one QA rejection followed by a
// passing handoff on the same story.
func TestQARejectionThenPassScenario(t *testing.T) {
	c, history, bus := newTestCoordinator(t)
	ctx := context.Background()
	ws, story := "W1", "story-1"

	var escalations int
	bus.Subscribe(events.OrchestratorEscalation, func(_ context.Context, _ events.Envelope) { escalations++ })

	res := c.ProcessQARejection(ctx, handoff.HandoffParams{
		WorkspaceID: ws, StoryID: story, FromAgentType: handoff.AgentQA, FromAgentID: "q1", ToAgentID: "d1",
		IterationCount: 1,
	})
	require.True(t, res.Success)

	res = c.ProcessHandoff(ctx, handoff.HandoffParams{
		WorkspaceID: ws, StoryID: story, FromAgentType: handoff.AgentQA, FromAgentID: "q1", ToAgentID: "o1",
		Context: map[string]interface{}{"prUrl": "u", "prNumber": 42, "qaVerdict": "PASS", "qaReportSummary": "ok"},
	})
	require.True(t, res.Success)

	require.Equal(t, 0, escalations, "escalation must not be emitted on a QA pass after one rejection")

	rows, err := history.ListByWorkspace(ctx, ws)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, domain.HandoffRejection, rows[0].HandoffType)
}

// TestEscalationScenario checks that iterationCount=4 against
// MaxQAIterations=3 emits orchestrator.escalation exactly once.
func TestEscalationScenario(t *testing.T) {
	c, history, bus := newTestCoordinator(t)
	ctx := context.Background()
	ws, story := "W1", "story-1"

	var escalations []events.Envelope
	bus.Subscribe(events.OrchestratorEscalation, func(_ context.Context, env events.Envelope) {
		escalations = append(escalations, env)
	})

	res := c.ProcessQARejection(ctx, handoff.HandoffParams{
		WorkspaceID: ws, StoryID: story, FromAgentType: handoff.AgentQA, FromAgentID: "q1", ToAgentID: "d1",
		IterationCount: 4,
	})
	require.False(t, res.Success)
	require.Equal(t, "escalated", res.Error)

	require.Len(t, escalations, 1)
	require.Equal(t, 4, escalations[0].Payload["iterationCount"])

	rows, err := history.ListByWorkspace(ctx, ws)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, domain.HandoffEscalation, rows[0].HandoffType)
}

func TestMaxParallelAgentsEnqueuesInsteadOfFailing(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	ws := "W1"

	for i := 0; i < handoff.MaxParallelAgents; i++ {
		c.RegisterActiveAgent(ws, handoff.ActiveAgent{AgentType: handoff.AgentDev, AgentID: "busy-" + string(rune('0'+i)), StoryID: "other-story"})
	}

	res := c.ProcessHandoff(ctx, handoff.HandoffParams{
		WorkspaceID: ws, StoryID: "story-1", FromAgentType: handoff.AgentPlanner, FromAgentID: "p1", ToAgentID: "d1",
		Context: map[string]interface{}{"storyId": "story-1"},
	})
	require.False(t, res.Success)
	require.True(t, res.Queued)

	popped, ok, err := c.ProcessNextInQueue(ctx, ws)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "story-1", popped.StoryID)
}

func TestDependencyManagerRejectsCycle(t *testing.T) {
	d := handoff.NewDependencyManager()
	require.NoError(t, d.AddDependency("W1", "a", "b"))
	require.NoError(t, d.AddDependency("W1", "b", "c"))

	err := d.AddDependency("W1", "c", "a")
	require.Error(t, err)

	graph := d.GetDependencyGraph("W1")
	require.ElementsMatch(t, []string{"b"}, graph["a"])
	require.NotContains(t, graph, "c")
}

func TestMarkStoryCompleteUnblocksDependents(t *testing.T) {
	d := handoff.NewDependencyManager()
	require.NoError(t, d.AddDependency("W1", "a", "b"))

	unblocked := d.MarkStoryComplete("W1", "b")
	require.Equal(t, []string{"a"}, unblocked)
	require.Empty(t, d.GetBlockingStories("W1", "a"))
}
