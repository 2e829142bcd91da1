package executors

import (
	"context"
	"sync"

	"github.com/go-logr/logr"

	"github.com/devos-platform/agent-orchestrator/internal/agentsession"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/events"
	"github.com/devos-platform/agent-orchestrator/internal/handoff"
)

// Executor spawns one agent type's CLI sessions and turns their streamed
// markers into a handoff.
type Executor struct {
	Agent       handoff.AgentType
	Manager     *agentsession.Manager
	Coordinator *handoff.Coordinator
	Bus         events.Bus
	Log         logr.Logger
}

// New wires an Executor for one agent type.
func New(agent handoff.AgentType, mgr *agentsession.Manager, coord *handoff.Coordinator, bus events.Bus, log logr.Logger) *Executor {
	return &Executor{
		Agent:       agent,
		Manager:     mgr,
		Coordinator: coord,
		Bus:         bus,
		Log:         log.WithName("executor").WithValues("agent", string(agent)),
	}
}

// RunParams is the caller-supplied request to run one agent session against
// one story.
type RunParams struct {
	WorkspaceID    string
	ProjectID      string
	StoryID        string
	AgentID        string
	RepoURL        string
	BaseBranch     string
	Argv           []string
	Provider       domain.SecretProvider
	Context        map[string]interface{}
	IterationCount int
}

// Run spawns a CLI session for params, watches its streamed output for a
// terminal verdict marker, and drives the handoff coordinator with the
// assembled result once one arrives (or the session ends without one).
func (e *Executor) Run(ctx context.Context, baseDir string, params RunParams, keys agentsession.KeyResolver, gitToken string) (handoff.HandoffResult, error) {
	e.Coordinator.RegisterActiveAgent(params.WorkspaceID, handoff.ActiveAgent{
		AgentType: e.Agent, AgentID: params.AgentID, StoryID: params.StoryID, Phase: phaseFor(e.Agent),
	})
	defer e.Coordinator.UnregisterActiveAgent(params.WorkspaceID, params.AgentID)

	session, err := e.Manager.Spawn(ctx, baseDir, agentsession.SpawnParams{
		WorkspaceID: params.WorkspaceID,
		ProjectID:   params.ProjectID,
		StoryID:     params.StoryID,
		Agent:       string(e.Agent),
		RepoURL:     params.RepoURL,
		BaseBranch:  params.BaseBranch,
		Argv:        params.Argv,
		Provider:    params.Provider,
	}, keys, gitToken)
	if err != nil {
		return handoff.HandoffResult{}, err
	}

	verdict, ok := e.awaitVerdict(session.SessionID)
	if !ok {
		return handoff.HandoffResult{Success: false, Error: "session ended without a verdict"}, nil
	}

	hctx := mergeContext(params.Context, verdictContext(e.Agent, verdict))
	hctx["storyId"] = params.StoryID

	hp := handoff.HandoffParams{
		WorkspaceID:    params.WorkspaceID,
		StoryID:        params.StoryID,
		FromAgentType:  e.Agent,
		FromAgentID:    params.AgentID,
		ToAgentID:      handoff.NewHandoffID(),
		IterationCount: params.IterationCount,
		Context:        hctx,
	}

	if e.Agent == handoff.AgentQA && verdict.QAVerdict == "FAIL" {
		hp.Context["failedTests"] = verdict.FailedTests
		hp.Context["changeRequests"] = verdict.ChangeRequests
		hp.IterationCount++
		return e.Coordinator.ProcessQARejection(ctx, hp), nil
	}
	return e.Coordinator.ProcessHandoff(ctx, hp), nil
}

// awaitVerdict subscribes to the session's streamed output and its
// completion events, blocking until a verdict marker is parsed or the
// session ends without one. events.Bus has no unsubscribe, so these
// handlers stay registered for the process lifetime and no-op once resolved
// is set — an acceptable cost at this scaffolding's session volume.
func (e *Executor) awaitVerdict(sessionID string) (Verdict, bool) {
	result := make(chan Verdict, 1)
	done := make(chan struct{})
	var once sync.Once

	e.Bus.Subscribe(events.CLIOutput, func(_ context.Context, env events.Envelope) {
		if sid, _ := env.Payload["sessionId"].(string); sid != sessionID {
			return
		}
		lines, _ := env.Payload["lines"].([]string)
		for _, line := range lines {
			typ, payload, ok := parseMarker(line)
			if !ok {
				continue
			}
			switch typ {
			case "verdict":
				if v, err := decodeVerdict(payload); err == nil {
					once.Do(func() { result <- v })
				}
			case "file-event", "test-event", "commit-event":
				e.logMarker(sessionID, typ, payload)
			}
		}
	})
	for _, name := range []string{events.CLISessionCompleted, events.CLISessionFailed, events.CLISessionTerminated} {
		e.Bus.Subscribe(name, func(_ context.Context, env events.Envelope) {
			if sid, _ := env.Payload["sessionId"].(string); sid != sessionID {
				return
			}
			once.Do(func() { close(done) })
		})
	}

	select {
	case v := <-result:
		return v, true
	case <-done:
		return Verdict{}, false
	}
}

func (e *Executor) logMarker(sessionID, typ string, payload []byte) {
	switch typ {
	case "file-event":
		if ev, err := decodeFileEvent(payload); err == nil {
			e.Log.V(1).Info("file event", "sessionId", sessionID, "path", ev.Path, "action", ev.Action)
		}
	case "test-event":
		if ev, err := decodeTestEvent(payload); err == nil {
			e.Log.V(1).Info("test event", "sessionId", sessionID, "passed", ev.Passed, "failed", ev.Failed, "total", ev.Total)
		}
	case "commit-event":
		if ev, err := decodeCommitEvent(payload); err == nil {
			e.Log.V(1).Info("commit event", "sessionId", sessionID, "sha", ev.SHA)
		}
	}
}

func phaseFor(agent handoff.AgentType) handoff.Phase {
	switch agent {
	case handoff.AgentPlanner:
		return handoff.PhasePlanning
	case handoff.AgentDev:
		return handoff.PhaseImplementing
	case handoff.AgentQA:
		return handoff.PhaseQA
	case handoff.AgentDevOps:
		return handoff.PhaseDeploying
	default:
		return handoff.PhasePlanning
	}
}

// verdictContext maps a verdict's populated fields onto the required
// context keys the completing agent's chain entry expects (the handoff
// table), so each executor only needs to report what it actually knows.
func verdictContext(agent handoff.AgentType, v Verdict) map[string]interface{} {
	out := map[string]interface{}{}
	switch agent {
	case handoff.AgentPlanner:
		out["storyTitle"] = v.StoryTitle
		out["acceptanceCriteria"] = v.AcceptanceCriteria
		out["techStack"] = v.TechStack
	case handoff.AgentDev:
		out["branch"] = v.Branch
		out["prUrl"] = v.PRURL
		out["prNumber"] = v.PRNumber
		out["testResults"] = v.TestResults
	case handoff.AgentQA:
		out["prUrl"] = v.PRURL
		out["prNumber"] = v.PRNumber
		out["qaVerdict"] = v.QAVerdict
		out["qaReportSummary"] = v.QAReportSummary
	case handoff.AgentDevOps:
		out["deploymentUrl"] = v.DeploymentURL
		out["smokeTestsPassed"] = v.SmokeTestsPassed
	}
	return out
}

func mergeContext(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
