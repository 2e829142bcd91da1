package pipeline

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/errs"
	"github.com/devos-platform/agent-orchestrator/internal/events"
)

// StaleThresholdDefault is how long a non-terminal context can sit without
// a state change before recover() considers it abandoned.
const StaleThresholdDefault = 2 * time.Hour

// ServiceOption configures a Service at construction, following the
// functional-options pattern the Raven-derived orchestrator package uses
// for PipelineOrchestrator.
type ServiceOption func(*Service)

// WithStaleThreshold overrides StaleThresholdDefault.
func WithStaleThreshold(d time.Duration) ServiceOption {
	return func(s *Service) { s.staleThreshold = d }
}

// WithHolderID sets the identifier this process uses when acquiring the
// project lock, so PipelineLockError.Holder is attributable across
// processes sharing one cache backend.
func WithHolderID(id string) ServiceOption {
	return func(s *Service) { s.holderID = id }
}

// Service is the pipeline state machine and its store, grounded on the
// typed-state, mutex-guarded orchestrator pattern in the Northflank-
// alternative state_machine.go, generalized from an in-memory map to a
// durable Store plus a distributed lock.
type Service struct {
	store          Store
	backend        cache.CacheBackend
	bus            events.Bus
	log            logr.Logger
	staleThreshold time.Duration
	holderID       string
}

// NewService wires a pipeline Service from its constructor-injected
// dependencies.
func NewService(store Store, backend cache.CacheBackend, bus events.Bus, log logr.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:          store,
		backend:        backend,
		bus:            bus,
		log:            log.WithName("pipeline"),
		staleThreshold: StaleThresholdDefault,
		holderID:       uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartOptions carries the caller-supplied detail for startPipeline.
type StartOptions struct {
	TriggeredBy string
	Metadata    map[string]interface{}
}

// StartResult is what startPipeline returns.
type StartResult struct {
	WorkflowID string
	State      domain.PipelineState
}

// StartPipeline begins a new pipeline run for projectID, rejecting the
// request if an active context already exists for that project.
func (s *Service) StartPipeline(ctx context.Context, projectID, workspaceID string, opts StartOptions) (*StartResult, error) {
	if err := acquireLock(ctx, s.backend, projectID, s.holderID); err != nil {
		return nil, err
	}
	defer s.releaseLockLogged(ctx, projectID)

	if existing, found, err := s.store.GetActiveByProject(ctx, projectID); err != nil {
		return nil, err
	} else if found && existing.Active() {
		return nil, &errs.ConflictException{Resource: "pipeline", Message: "an active context already exists for project " + projectID}
	}

	now := time.Now()
	pc := &domain.PipelineContext{
		ProjectID:      projectID,
		WorkspaceID:    workspaceID,
		WorkflowID:     uuid.NewString(),
		CurrentState:   domain.StatePlanning,
		PreviousState:  domain.StateIdle,
		StateEnteredAt: now,
		Metadata:       opts.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Save(ctx, pc); err != nil {
		return nil, err
	}
	if err := s.store.AppendHistory(ctx, &domain.PipelineStateHistory{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		WorkspaceID:   workspaceID,
		WorkflowID:    pc.WorkflowID,
		PreviousState: domain.StateIdle,
		NewState:      domain.StatePlanning,
		TriggeredBy:   opts.TriggeredBy,
		Metadata:      opts.Metadata,
		CreatedAt:     now,
	}); err != nil {
		return nil, err
	}

	s.emitStateChanged(ctx, pc, domain.StateIdle, domain.StatePlanning, "", "")
	return &StartResult{WorkflowID: pc.WorkflowID, State: pc.CurrentState}, nil
}

// TransitionOptions carries the caller-supplied detail for transition.
type TransitionOptions struct {
	TriggeredBy  string
	AgentID      string
	StoryID      string
	Metadata     map[string]interface{}
	ErrorMessage string
}

// Transition acquires the project lock, rereads the context, rejects
// disallowed transitions, writes context and history atomically, and emits
// pipeline.state_changed post-commit.
func (s *Service) Transition(ctx context.Context, projectID string, target domain.PipelineState, opts TransitionOptions) error {
	if err := acquireLock(ctx, s.backend, projectID, s.holderID); err != nil {
		return err
	}
	defer s.releaseLockLogged(ctx, projectID)

	pc, found, err := s.store.GetActiveByProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !found {
		return &errs.NotFoundException{Resource: "pipeline", ID: projectID}
	}

	if !isValidTransition(pc.CurrentState, target) {
		return &errs.InvalidStateTransitionError{PipelineID: projectID, FromState: string(pc.CurrentState), Event: string(target)}
	}

	previous := pc.CurrentState
	now := time.Now()
	pc.PreviousState = previous
	pc.CurrentState = target
	pc.StateEnteredAt = now
	pc.UpdatedAt = now
	if opts.AgentID != "" {
		pc.ActiveAgentID = opts.AgentID
	}
	if opts.StoryID != "" {
		pc.CurrentStoryID = opts.StoryID
	}

	if err := s.store.Save(ctx, pc); err != nil {
		// Roll back the in-memory change; no partial state is published.
		pc.PreviousState = previous
		pc.CurrentState = previous
		return err
	}
	if err := s.store.AppendHistory(ctx, &domain.PipelineStateHistory{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		WorkspaceID:   pc.WorkspaceID,
		WorkflowID:    pc.WorkflowID,
		PreviousState: previous,
		NewState:      target,
		TriggeredBy:   opts.TriggeredBy,
		AgentID:       opts.AgentID,
		StoryID:       opts.StoryID,
		Metadata:      opts.Metadata,
		ErrorMessage:  opts.ErrorMessage,
		CreatedAt:     now,
	}); err != nil {
		return err
	}

	s.emitStateChanged(ctx, pc, previous, target, opts.AgentID, opts.StoryID)
	return nil
}

// Pause is a convenience wrapper over Transition into StatePaused.
func (s *Service) Pause(ctx context.Context, projectID string) error {
	return s.Transition(ctx, projectID, domain.StatePaused, TransitionOptions{TriggeredBy: "pause"})
}

// Resume is a convenience wrapper transitioning out of StatePaused.
func (s *Service) Resume(ctx context.Context, projectID string, into domain.PipelineState) error {
	return s.Transition(ctx, projectID, into, TransitionOptions{TriggeredBy: "resume"})
}

func (s *Service) emitStateChanged(ctx context.Context, pc *domain.PipelineContext, previous, next domain.PipelineState, agentID, storyID string) {
	payload := map[string]interface{}{
		"projectId":     pc.ProjectID,
		"workspaceId":   pc.WorkspaceID,
		"previousState": previous,
		"newState":      next,
		"metadata":      pc.Metadata,
		"timestamp":     time.Now(),
	}
	if agentID != "" {
		payload["agentId"] = agentID
	}
	if storyID != "" {
		payload["storyId"] = storyID
	}
	s.bus.Publish(ctx, events.PipelineStateChanged, payload)
}

func (s *Service) releaseLockLogged(ctx context.Context, projectID string) {
	if err := releaseLock(ctx, s.backend, projectID); err != nil {
		s.log.Error(err, "failed to release pipeline lock", "projectId", projectID)
	}
}
