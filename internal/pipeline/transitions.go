package pipeline

import "github.com/devos-platform/agent-orchestrator/internal/domain"

// validTransitions is the allowed edge table — no skipping phases. complete
// and failed both loop back to earlier states: complete re-arms to idle,
// failed can restart from idle, planning, or implementing.
var validTransitions = map[domain.PipelineState][]domain.PipelineState{
	domain.StateIdle: {
		domain.StatePlanning,
		domain.StateImplementing,
	},
	domain.StatePlanning: {
		domain.StateImplementing,
		domain.StateFailed,
		domain.StatePaused,
	},
	domain.StateImplementing: {
		domain.StateQA,
		domain.StateFailed,
		domain.StatePaused,
	},
	domain.StateQA: {
		domain.StateDeploying,
		domain.StateImplementing, // QA-rejection path
		domain.StateFailed,
		domain.StatePaused,
	},
	domain.StateDeploying: {
		domain.StateComplete,
		domain.StateFailed,
		domain.StatePaused,
	},
	domain.StateComplete: {
		domain.StateIdle,
	},
	domain.StateFailed: {
		domain.StateIdle,
		domain.StatePlanning,
		domain.StateImplementing,
	},
	domain.StatePaused: {
		domain.StatePlanning,
		domain.StateImplementing,
		domain.StateQA,
		domain.StateDeploying,
	},
}

// isValidTransition reports whether target is reachable from current in one
// step per the table above.
func isValidTransition(current, target domain.PipelineState) bool {
	for _, s := range validTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}
