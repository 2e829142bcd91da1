package listener_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/events"
	"github.com/devos-platform/agent-orchestrator/internal/jira/listener"
)

type alwaysPushable struct{}

func (alwaysPushable) HasPushableIntegration(ctx context.Context, workspaceID string) (bool, error) {
	return true, nil
}

type fakeLogger struct{}

func (fakeLogger) Error(err error, msg string, keysAndValues ...interface{}) {}

type countingSyncer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSyncer) SyncStoryToJira(ctx context.Context, workspaceID, storyID string) (*domain.JiraSyncItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return &domain.JiraSyncItem{}, nil
}

func (c *countingSyncer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRapidChangesDebounceToOneSync(t *testing.T) {
	bus := events.NewBus()
	syncer := &countingSyncer{}
	listener.New(bus, alwaysPushable{}, syncer, fakeLogger{})

	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), events.StoryChanged, map[string]interface{}{"workspaceId": "ws-1", "storyId": "s1", "changeType": "updated"})
		time.Sleep(50 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return syncer.count() == 1 }, 3*time.Second, 50*time.Millisecond)
}
