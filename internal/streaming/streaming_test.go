package streaming_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/events"
	"github.com/devos-platform/agent-orchestrator/internal/streaming"
)

type fakeArchive struct {
	mu   sync.Mutex
	text string
}

func (a *fakeArchive) ArchiveOutput(ctx context.Context, sessionID string, fullText string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.text = fullText
	return nil
}

func newService(t *testing.T) (*streaming.Service, cache.CacheBackend, events.Bus, *fakeArchive) {
	t.Helper()
	backend := cache.NewMemoryBackend()
	bus := events.NewBus()
	archive := &fakeArchive{}
	return streaming.NewService(backend, bus, testr.New(t), archive), backend, bus, archive
}

func TestOnOutputFlushesLinesAsCLIOutputEvent(t *testing.T) {
	svc, _, bus, _ := newService(t)

	var mu sync.Mutex
	var gotLines []string
	bus.Subscribe(events.CLIOutput, func(ctx context.Context, env events.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		lines, _ := env.Payload["lines"].([]string)
		gotLines = append(gotLines, lines...)
	})

	ctx := context.Background()
	svc.StartStreaming(ctx, "sess-1")
	svc.OnOutput("sess-1", []byte("line one\nline two\n"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotLines) == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, svc.StopStreaming(ctx, "sess-1"))
}

func TestOnOutputIgnoresUnknownSession(t *testing.T) {
	svc, _, _, _ := newService(t)
	svc.OnOutput("never-started", []byte("ignored\n"))
}

func TestGetBufferedOutputReturnsEmptyForUnknownSession(t *testing.T) {
	svc, _, _, _ := newService(t)
	lines, err := svc.GetBufferedOutput(context.Background(), "unknown")
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestStopStreamingArchivesFullOutputAndSetsTTL(t *testing.T) {
	svc, backend, _, archive := newService(t)
	ctx := context.Background()

	svc.StartStreaming(ctx, "sess-2")
	svc.OnOutput("sess-2", []byte("first\nsecond\nthird\n"))
	time.Sleep(150 * time.Millisecond)

	require.NoError(t, svc.StopStreaming(ctx, "sess-2"))

	archive.mu.Lock()
	text := archive.text
	archive.mu.Unlock()
	require.Equal(t, "first\nsecond\nthird", text)

	buffered, err := svc.GetBufferedOutput(ctx, "sess-2")
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second", "third"}, buffered)

	_, found, err := backend.Get(ctx, "cli:output:sess-2")
	require.NoError(t, err)
	require.True(t, found)
}
