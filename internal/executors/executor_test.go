package executors

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"

	"github.com/devos-platform/agent-orchestrator/internal/events"
	"github.com/devos-platform/agent-orchestrator/internal/handoff"
)

func TestParseMarkerIgnoresOrdinaryLogLines(t *testing.T) {
	_, _, ok := parseMarker("2026-07-31T00:00:00Z INFO reading story")
	require.False(t, ok)
}

func TestParseMarkerDecodesVerdict(t *testing.T) {
	typ, payload, ok := parseMarker(`##EVENT## {"type":"verdict","qaVerdict":"PASS","prUrl":"https://x/pr/1"}`)
	require.True(t, ok)
	require.Equal(t, "verdict", typ)

	v, err := decodeVerdict(payload)
	require.NoError(t, err)
	require.Equal(t, "PASS", v.QAVerdict)
	require.Equal(t, "https://x/pr/1", v.PRURL)
}

func TestVerdictContextMapsDevFields(t *testing.T) {
	v := Verdict{Branch: "feature/story-1", PRURL: "https://x/pr/42", PRNumber: 42}
	ctx := verdictContext(handoff.AgentDev, v)
	require.Equal(t, "feature/story-1", ctx["branch"])
	require.Equal(t, "https://x/pr/42", ctx["prUrl"])
	require.Equal(t, 42, ctx["prNumber"])
}

func TestAwaitVerdictResolvesOnMarker(t *testing.T) {
	bus := events.NewBus()
	e := New(handoff.AgentDev, nil, nil, bus, testr.New(t))

	go func() {
		time.Sleep(10 * time.Millisecond)
		bus.Publish(context.Background(), events.CLIOutput, map[string]interface{}{
			"sessionId": "sess-1",
			"lines":     []string{`##EVENT## {"type":"verdict","branch":"feature/story-1","prUrl":"https://x/pr/1","prNumber":1}`},
		})
	}()

	v, ok := e.awaitVerdict("sess-1")
	require.True(t, ok)
	require.Equal(t, "feature/story-1", v.Branch)
}

func TestAwaitVerdictResolvesFalseOnSessionFailedWithoutVerdict(t *testing.T) {
	bus := events.NewBus()
	e := New(handoff.AgentQA, nil, nil, bus, testr.New(t))

	go func() {
		time.Sleep(10 * time.Millisecond)
		bus.Publish(context.Background(), events.CLISessionFailed, map[string]interface{}{"sessionId": "sess-2"})
	}()

	_, ok := e.awaitVerdict("sess-2")
	require.False(t, ok)
}

func TestAwaitVerdictIgnoresOtherSessions(t *testing.T) {
	bus := events.NewBus()
	e := New(handoff.AgentDev, nil, nil, bus, testr.New(t))

	go func() {
		bus.Publish(context.Background(), events.CLIOutput, map[string]interface{}{
			"sessionId": "other-session",
			"lines":     []string{`##EVENT## {"type":"verdict","branch":"ignored"}`},
		})
		time.Sleep(10 * time.Millisecond)
		bus.Publish(context.Background(), events.CLISessionCompleted, map[string]interface{}{"sessionId": "sess-3"})
	}()

	_, ok := e.awaitVerdict("sess-3")
	require.False(t, ok)
}
