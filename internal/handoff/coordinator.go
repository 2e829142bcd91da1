package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/events"
)

// Coordinator drives a story's handoff from one agent to the next:
// processHandoff, processQARejection, processNextInQueue, and
// getCoordinationStatus.
type Coordinator struct {
	rules      *RulesEngine
	deps       *DependencyManager
	queue      *Queue
	history    HistoryStore
	agents     *activeAgentRegistry
	bus        events.Bus
	log        logr.Logger
	sequence   int64
}

// NewCoordinator wires a Coordinator from its constructor-injected parts.
func NewCoordinator(deps *DependencyManager, queue *Queue, history HistoryStore, bus events.Bus, log logr.Logger) *Coordinator {
	return &Coordinator{
		rules:   NewRulesEngine(),
		deps:    deps,
		queue:   queue,
		history: history,
		agents:  newActiveAgentRegistry(),
		bus:     bus,
		log:     log.WithName("handoff"),
	}
}

// RegisterActiveAgent records that an agent has started, for the rules
// engine's snapshot and for getCoordinationStatus.
func (c *Coordinator) RegisterActiveAgent(workspaceID string, a ActiveAgent) {
	c.agents.register(workspaceID, a)
}

// UnregisterActiveAgent records that an agent has stopped.
func (c *Coordinator) UnregisterActiveAgent(workspaceID, agentID string) {
	c.agents.unregister(workspaceID, agentID)
}

// ProcessHandoff advances a story from its completing agent to the next
// agent in the chain: checks for blocking dependencies, assembles the
// required handoff context, runs the coordination rules, emits the
// handoff/progress events, persists a history row, and — if this was the
// devops->complete step — unblocks any stories that depended on it.
func (c *Coordinator) ProcessHandoff(ctx context.Context, params HandoffParams) HandoffResult {
	entry, ok := handoffChain[params.FromAgentType]
	if !ok {
		return HandoffResult{Success: false, Error: "unrecognized agent type"}
	}

	if blocking := c.deps.GetBlockingStories(params.WorkspaceID, params.StoryID); len(blocking) > 0 {
		c.bus.Publish(ctx, events.OrchestratorStoryBlocked, map[string]interface{}{
			"workspaceId":     params.WorkspaceID,
			"storyId":         params.StoryID,
			"blockingStories": blocking,
		})
		return HandoffResult{Success: false, Queued: true}
	}

	handoffCtx := assembleContext(entry, params)

	rc := RuleContext{
		TargetAgentType: entry.to,
		TargetAgentID:   params.ToAgentID,
		DevAgentID:      params.FromAgentID,
		StoryID:         params.StoryID,
		WorkspaceID:     params.WorkspaceID,
		QAVerdict:       stringField(params.Context, "qaVerdict"),
		IterationCount:  params.IterationCount,
		ActiveAgents:    c.agents.snapshot(params.WorkspaceID),
	}
	check := c.rules.Evaluate(rc)
	if !check.Allowed {
		for _, v := range check.Violations {
			if v.Rule == "max-parallel-agents" && v.Severity == SeverityError {
				c.sequence++
				if err := c.queue.Enqueue(ctx, params.WorkspaceID, params, 0, c.sequence); err != nil {
					c.log.Error(err, "failed to enqueue handoff")
				}
				return HandoffResult{Queued: true}
			}
		}
		return HandoffResult{Success: false, Error: violationSummary(check.Violations)}
	}

	c.bus.Publish(ctx, events.OrchestratorHandoff, map[string]interface{}{
		"workspaceId": params.WorkspaceID,
		"storyId":     params.StoryID,
		"fromAgent":   domain.AgentRef{Type: string(params.FromAgentType), ID: params.FromAgentID},
		"toAgent":     domain.AgentRef{Type: string(entry.to), ID: params.ToAgentID},
		"context":     handoffCtx,
	})
	c.bus.Publish(ctx, events.OrchestratorStoryProgress, map[string]interface{}{
		"workspaceId": params.WorkspaceID,
		"storyId":     params.StoryID,
		"phase":       entry.toPhase,
	})

	handoffType := domain.HandoffNormal
	if entry.to == AgentComplete {
		handoffType = domain.HandoffCompletion
	}
	if err := c.history.Append(ctx, &domain.HandoffHistory{
		WorkspaceID:    params.WorkspaceID,
		StoryID:        params.StoryID,
		FromAgent:      domain.AgentRef{Type: string(params.FromAgentType), ID: params.FromAgentID},
		ToAgent:        domain.AgentRef{Type: string(entry.to), ID: params.ToAgentID},
		FromPhase:      string(entry.fromPhase),
		ToPhase:        string(entry.toPhase),
		HandoffType:    handoffType,
		IterationCount: params.IterationCount,
		CreatedAt:      time.Now(),
	}); err != nil {
		c.log.Error(err, "failed to persist handoff history")
	}

	if params.FromAgentType == AgentDevOps {
		unblocked := c.deps.MarkStoryComplete(params.WorkspaceID, params.StoryID)
		for _, storyID := range unblocked {
			c.bus.Publish(ctx, events.OrchestratorStoryUnblocked, map[string]interface{}{
				"workspaceId": params.WorkspaceID,
				"storyId":     storyID,
			})
		}
	}

	return HandoffResult{Success: true}
}

// ProcessQARejection routes a story back to its dev agent after a QA
// failure, or escalates to a human once the iteration count exceeds
// MaxQAIterations.
func (c *Coordinator) ProcessQARejection(ctx context.Context, params HandoffParams) HandoffResult {
	if params.IterationCount > MaxQAIterations {
		c.bus.Publish(ctx, events.OrchestratorEscalation, map[string]interface{}{
			"workspaceId":    params.WorkspaceID,
			"storyId":        params.StoryID,
			"iterationCount": params.IterationCount,
		})
		if err := c.history.Append(ctx, &domain.HandoffHistory{
			WorkspaceID:    params.WorkspaceID,
			StoryID:        params.StoryID,
			FromAgent:      domain.AgentRef{Type: string(AgentQA), ID: params.FromAgentID},
			ToAgent:        domain.AgentRef{Type: string(AgentUser), ID: ""},
			FromPhase:      string(PhaseQA),
			ToPhase:        string(PhasePaused),
			HandoffType:    domain.HandoffEscalation,
			IterationCount: params.IterationCount,
			CreatedAt:      time.Now(),
		}); err != nil {
			c.log.Error(err, "failed to persist escalation history")
		}
		return HandoffResult{Success: false, Error: "escalated"}
	}

	c.bus.Publish(ctx, events.OrchestratorQARejection, map[string]interface{}{
		"workspaceId":    params.WorkspaceID,
		"storyId":        params.StoryID,
		"iterationCount": params.IterationCount,
		"maxIterations":  MaxQAIterations,
		"feedback":       params.Context,
	})
	if err := c.history.Append(ctx, &domain.HandoffHistory{
		WorkspaceID:    params.WorkspaceID,
		StoryID:        params.StoryID,
		FromAgent:      domain.AgentRef{Type: string(AgentQA), ID: params.FromAgentID},
		ToAgent:        domain.AgentRef{Type: string(AgentDev), ID: params.ToAgentID},
		FromPhase:      string(PhaseQA),
		ToPhase:        string(PhaseImplementing),
		HandoffType:    domain.HandoffRejection,
		IterationCount: params.IterationCount,
		CreatedAt:      time.Now(),
	}); err != nil {
		c.log.Error(err, "failed to persist rejection history")
	}
	return HandoffResult{Success: true}
}

// ProcessNextInQueue implements processNextInQueue: called when an agent
// slot frees, pops the highest-priority entry and returns it, or ok=false
// if the queue is empty.
func (c *Coordinator) ProcessNextInQueue(ctx context.Context, workspaceID string) (HandoffParams, bool, error) {
	return c.queue.PeekAndPop(ctx, workspaceID)
}

// GetCoordinationStatus implements getCoordinationStatus.
func (c *Coordinator) GetCoordinationStatus(ctx context.Context, workspaceID string) (CoordinationStatus, error) {
	history, err := c.history.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return CoordinationStatus{}, err
	}
	depth, err := c.queue.Depth(ctx, workspaceID)
	if err != nil {
		return CoordinationStatus{}, err
	}
	graph := c.deps.GetDependencyGraph(workspaceID)
	var blocked []string
	for story, deps := range graph {
		if len(deps) > 0 {
			blocked = append(blocked, story)
		}
	}
	return CoordinationStatus{
		ActiveHandoffs: history,
		BlockedStories: blocked,
		ActiveAgents:   len(c.agents.snapshot(workspaceID)),
		MaxAgents:      MaxParallelAgents,
		QueuedHandoffs: int(depth),
	}, nil
}

func assembleContext(entry chainEntry, params HandoffParams) map[string]interface{} {
	out := make(map[string]interface{}, len(entry.requiredContext))
	for _, key := range entry.requiredContext {
		if v, ok := params.Context[key]; ok {
			out[key] = v
		}
	}
	return out
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

func violationSummary(violations []Violation) string {
	if len(violations) == 0 {
		return ""
	}
	msg := violations[0].Message
	if len(violations) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(violations)-1)
	}
	return msg
}

// NewHandoffID is a small helper executors can use to mint agent/session
// identifiers without importing google/uuid themselves.
func NewHandoffID() string {
	return uuid.NewString()
}
