// Package listener subscribes to story-change events and schedules a
// debounced DevOS->Jira sync, so a burst of rapid edits to one story
// collapses into a single sync call instead of one per edit.
package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/events"
)

// DebounceDelay is how long the listener waits after the last change to a
// story before actually syncing it.
const DebounceDelay = 2 * time.Second

// IntegrationLookup reports whether workspaceID has an active integration
// whose syncDirection allows DevOS->Jira pushes.
type IntegrationLookup interface {
	HasPushableIntegration(ctx context.Context, workspaceID string) (bool, error)
}

// Syncer is the seam the listener calls once a debounce window elapses —
// satisfied by *internal/jira/sync.Service.
type Syncer interface {
	SyncStoryToJira(ctx context.Context, workspaceID, storyID string) (*domain.JiraSyncItem, error)
}

// Logger mirrors go-logr/logr.Logger's Error signature, the shape
// internal/telemetry builds around zap+logr+zapr, so callers can pass a
// logr.Logger value directly without this package importing logr itself.
type Logger interface {
	Error(err error, msg string, keysAndValues ...interface{})
}

// Listener reacts to events.StoryChanged and debounces a sync job per
// story; errors from the eventual sync are caught and logged, never
// propagated back to the publisher.
type Listener struct {
	integrations IntegrationLookup
	syncer       Syncer
	logger       Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New builds a Listener and subscribes it to the bus's story.changed
// topic.
func New(bus events.Bus, integrations IntegrationLookup, syncer Syncer, logger Logger) *Listener {
	l := &Listener{integrations: integrations, syncer: syncer, logger: logger, timers: make(map[string]*time.Timer)}
	bus.Subscribe(events.StoryChanged, l.handle)
	return l
}

func (l *Listener) handle(ctx context.Context, env events.Envelope) {
	workspaceID, _ := env.Payload["workspaceId"].(string)
	storyID, _ := env.Payload["storyId"].(string)
	if workspaceID == "" || storyID == "" {
		return
	}

	hasIntegration, err := l.integrations.HasPushableIntegration(context.Background(), workspaceID)
	if err != nil {
		l.logger.Error(err, "jira listener: checking integration", "workspaceId", workspaceID)
		return
	}
	if !hasIntegration {
		return
	}

	jobID := fmt.Sprintf("devos-to-jira:%s:%d", storyID, time.Now().UnixNano())
	l.schedule(storyID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := l.syncer.SyncStoryToJira(ctx, workspaceID, storyID); err != nil {
			l.logger.Error(err, "jira listener: sync-story job failed", "jobId", jobID, "storyId", storyID)
		}
	})
}

// schedule debounces fn per storyID: a new change to the same story
// within DebounceDelay resets the timer instead of stacking a second run.
func (l *Listener) schedule(storyID string, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.timers[storyID]; ok {
		existing.Stop()
	}
	l.timers[storyID] = time.AfterFunc(DebounceDelay, func() {
		l.mu.Lock()
		delete(l.timers, storyID)
		l.mu.Unlock()
		fn()
	})
}
