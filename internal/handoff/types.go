// Package handoff implements the handoff coordinator, rules engine,
// dependency manager, and priority queue that move a story between
// planner/dev/qa/devops agents, grounded on the Raven-derived pipeline
// orchestrator's phase/status enum and functional-options shape, with
// side-effect dispatch modeled on the Northflank-alternative state
// machine's transition-then-publish pattern.
package handoff

import "github.com/devos-platform/agent-orchestrator/internal/domain"

// AgentType is one of the four pipeline agents, plus the two pseudo-agents
// a handoff chain can route to (complete, user for escalation).
type AgentType string

const (
	AgentPlanner AgentType = "planner"
	AgentDev     AgentType = "dev"
	AgentQA      AgentType = "qa"
	AgentDevOps  AgentType = "devops"
	AgentComplete AgentType = "complete"
	AgentUser    AgentType = "user"
)

// Phase is one of the pipeline phases a story occupies while a handoff is
// in flight, matching the pipeline states the phase transitions into.
type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseImplementing Phase = "implementing"
	PhaseQA           Phase = "qa"
	PhaseDeploying    Phase = "deploying"
	PhaseComplete     Phase = "complete"
	PhasePaused       Phase = "paused"
)

// chainEntry is one row of the static handoff chain table.
type chainEntry struct {
	to               AgentType
	fromPhase        Phase
	toPhase          Phase
	requiredContext  []string
}

// handoffChain is the static completing-agent → next-agent table.
var handoffChain = map[AgentType]chainEntry{
	AgentPlanner: {to: AgentDev, fromPhase: PhasePlanning, toPhase: PhaseImplementing,
		requiredContext: []string{"storyId", "storyTitle", "acceptanceCriteria", "techStack"}},
	AgentDev: {to: AgentQA, fromPhase: PhaseImplementing, toPhase: PhaseQA,
		requiredContext: []string{"branch", "prUrl", "prNumber", "testResults"}},
	AgentQA: {to: AgentDevOps, fromPhase: PhaseQA, toPhase: PhaseDeploying,
		requiredContext: []string{"prUrl", "prNumber", "qaVerdict", "qaReportSummary"}},
	AgentDevOps: {to: AgentComplete, fromPhase: PhaseDeploying, toPhase: PhaseComplete,
		requiredContext: []string{"deploymentUrl", "smokeTestsPassed"}},
}

// MaxQAIterations is the default escalation threshold.
const MaxQAIterations = 3

// MaxParallelAgents is the default concurrency ceiling.
const MaxParallelAgents = 5

// HandoffParams is the input to processHandoff / processQARejection,
// carrying whatever fields the chain entry for the completing agent
// requires plus the handoff identity (workspace/story/agents).
type HandoffParams struct {
	WorkspaceID    string
	StoryID        string
	FromAgentType  AgentType
	FromAgentID    string
	ToAgentID      string
	IterationCount int
	Context        map[string]interface{}
}

// HandoffResult is returned by processHandoff and processQARejection.
type HandoffResult struct {
	Success bool
	Queued  bool
	Error   string
}

// ActiveAgent describes one currently-running agent, as the rules engine
// needs to see it.
type ActiveAgent struct {
	AgentType AgentType
	AgentID   string
	StoryID   string
	Phase     Phase
}

// CoordinationStatus is returned by getCoordinationStatus.
type CoordinationStatus struct {
	ActiveHandoffs  []domain.HandoffHistory
	BlockedStories  []string
	ActiveAgents    int
	MaxAgents       int
	QueuedHandoffs  int
}
