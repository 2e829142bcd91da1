// Package events implements the wire event envelope and a module-level
// name→handler registration table: every publisher and subscriber goes
// through one small Bus interface instead of a DI-container-wired event
// emitter.
package events

import (
	"context"
	"sync"
	"time"
)

// Names of every wire event published on the Bus.
const (
	PipelineStateChanged = "pipeline.state_changed"

	CLISessionStarted   = "cli.session.started"
	CLIOutput           = "cli.output"
	CLISessionCompleted = "cli.session.completed"
	CLISessionFailed    = "cli.session.failed"
	CLISessionTerminated = "cli.session.terminated"

	OrchestratorHandoff        = "orchestrator.handoff"
	OrchestratorStoryProgress  = "orchestrator.story_progress"
	OrchestratorStoryBlocked   = "orchestrator.story_blocked"
	OrchestratorStoryUnblocked = "orchestrator.story_unblocked"
	OrchestratorQARejection    = "orchestrator.qa_rejection"
	OrchestratorEscalation     = "orchestrator.escalation"
	OrchestratorPipelineStatus = "orchestrator.pipeline_status"

	StoryChanged = "story.changed"
)

// Envelope wraps every published event with the fields common to all of
// them; Payload carries the fields specific to each named event.
type Envelope struct {
	Name      string
	Payload   map[string]interface{}
	Timestamp time.Time
}

// Handler processes one published event. Handlers run synchronously in
// publish order for a single Bus instance; a handler that wants
// fire-and-forget semantics must spawn its own goroutine.
type Handler func(ctx context.Context, env Envelope)

// Bus is the minimal pub/sub seam every component depends on, instead of a
// concrete event emitter threaded through constructors.
type Bus interface {
	Publish(ctx context.Context, name string, payload map[string]interface{})
	Subscribe(name string, h Handler)
}

// registry is a module-level name→[]Handler table built once at startup via
// Subscribe calls, then read concurrently by Publish.
type registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus returns a process-local Bus. Tests and cmd/orchestrator each
// construct their own instance rather than relying on package-level state.
func NewBus() Bus {
	return &registry{handlers: make(map[string][]Handler)}
}

func (r *registry) Subscribe(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], h)
}

func (r *registry) Publish(ctx context.Context, name string, payload map[string]interface{}) {
	r.mu.RLock()
	hs := append([]Handler(nil), r.handlers[name]...)
	r.mu.RUnlock()

	env := Envelope{Name: name, Payload: payload, Timestamp: time.Now()}
	for _, h := range hs {
		h(ctx, env)
	}
}
