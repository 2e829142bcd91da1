// Package domain holds the plain record types shared across the pipeline,
// handoff, and Jira sync packages. These are persistence-agnostic: each
// owning package defines its own repository interface and invariant checks
// over these structs, following pkg/state.types.go's shape of plain
// structs with json/db tags and no embedded behavior.
package domain

import "time"

// PipelineState is one of the eight states a PipelineContext can occupy.
type PipelineState string

const (
	StateIdle          PipelineState = "idle"
	StatePlanning      PipelineState = "planning"
	StateImplementing  PipelineState = "implementing"
	StateQA            PipelineState = "qa"
	StateDeploying     PipelineState = "deploying"
	StateComplete      PipelineState = "complete"
	StateFailed        PipelineState = "failed"
	StatePaused        PipelineState = "paused"
)

// IsTerminal reports whether a pipeline run ends in this state.
func (s PipelineState) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

// PipelineContext is the one active orchestration record per project.
type PipelineContext struct {
	ProjectID       string                 `json:"projectId" db:"project_id"`
	WorkspaceID     string                 `json:"workspaceId" db:"workspace_id"`
	WorkflowID      string                 `json:"workflowId" db:"workflow_id"`
	CurrentState    PipelineState          `json:"currentState" db:"current_state"`
	PreviousState   PipelineState          `json:"previousState" db:"previous_state"`
	StateEnteredAt  time.Time              `json:"stateEnteredAt" db:"state_entered_at"`
	ActiveAgentID   string                 `json:"activeAgentId,omitempty" db:"active_agent_id"`
	ActiveAgentType string                 `json:"activeAgentType,omitempty" db:"active_agent_type"`
	CurrentStoryID  string                 `json:"currentStoryId,omitempty" db:"current_story_id"`
	RetryCount      int                    `json:"retryCount" db:"retry_count"`
	MaxRetries      int                    `json:"maxRetries" db:"max_retries"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" db:"-"`
	CreatedAt       time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time              `json:"updatedAt" db:"updated_at"`
}

// Active reports whether this context still represents a live pipeline run.
func (c *PipelineContext) Active() bool {
	return !c.CurrentState.IsTerminal()
}

// PipelineStateHistory is an append-only audit row written on every
// accepted transition.
type PipelineStateHistory struct {
	ID            string                 `json:"id" db:"id"`
	ProjectID     string                 `json:"projectId" db:"project_id"`
	WorkspaceID   string                 `json:"workspaceId" db:"workspace_id"`
	WorkflowID    string                 `json:"workflowId" db:"workflow_id"`
	PreviousState PipelineState          `json:"previousState" db:"previous_state"`
	NewState      PipelineState          `json:"newState" db:"new_state"`
	TriggeredBy   string                 `json:"triggeredBy" db:"triggered_by"`
	AgentID       string                 `json:"agentId,omitempty" db:"agent_id"`
	StoryID       string                 `json:"storyId,omitempty" db:"story_id"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" db:"-"`
	ErrorMessage  string                 `json:"errorMessage,omitempty" db:"error_message"`
	CreatedAt     time.Time              `json:"createdAt" db:"created_at"`
}

// HandoffType classifies why a HandoffHistory row was written.
type HandoffType string

const (
	HandoffNormal     HandoffType = "normal"
	HandoffRejection  HandoffType = "rejection"
	HandoffEscalation HandoffType = "escalation"
	HandoffCompletion HandoffType = "completion"
)

// AgentRef identifies an agent instance by type and id.
type AgentRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// HandoffHistory is an append-only record of one handoff between agents.
type HandoffHistory struct {
	WorkspaceID     string                 `json:"workspaceId" db:"workspace_id"`
	StoryID         string                 `json:"storyId" db:"story_id"`
	FromAgent       AgentRef               `json:"fromAgent" db:"-"`
	ToAgent         AgentRef               `json:"toAgent" db:"-"`
	FromPhase       string                 `json:"fromPhase" db:"from_phase"`
	ToPhase         string                 `json:"toPhase" db:"to_phase"`
	HandoffType     HandoffType            `json:"handoffType" db:"handoff_type"`
	ContextSummary  string                 `json:"contextSummary" db:"context_summary"`
	IterationCount  int                    `json:"iterationCount" db:"iteration_count"`
	DurationMs      int64                  `json:"durationMs" db:"duration_ms"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" db:"-"`
	CreatedAt       time.Time              `json:"createdAt" db:"created_at"`
}

// Story is owned by the surrounding system; the orchestrator only reads and
// (via Jira reverse sync) updates title/description/status.
type Story struct {
	ID          string `json:"id" db:"id"`
	Title       string `json:"title" db:"title"`
	Description string `json:"description" db:"description"`
	Status      string `json:"status" db:"status"`
	ProjectID   string `json:"projectId" db:"project_id"`
	WorkspaceID string `json:"workspaceId" db:"workspace_id"`
}
