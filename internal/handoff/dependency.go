package handoff

import (
	"sync"

	"github.com/devos-platform/agent-orchestrator/internal/errs"
)

// DependencyManager maintains a directed "depends-on" graph per workspace.
// It is not a persisted table, so it is kept in-process behind a mutex —
// the same tradeoff the Jira client's rate limiter makes keeping its
// request counters in-memory rather than in the shared store.
type DependencyManager struct {
	mu sync.Mutex
	// dependsOn[workspaceID][storyID] = set of storyIDs that storyID depends on
	dependsOn map[string]map[string]map[string]struct{}
}

// NewDependencyManager returns an empty DependencyManager.
func NewDependencyManager() *DependencyManager {
	return &DependencyManager{dependsOn: make(map[string]map[string]map[string]struct{})}
}

func (d *DependencyManager) graphFor(workspaceID string) map[string]map[string]struct{} {
	g, ok := d.dependsOn[workspaceID]
	if !ok {
		g = make(map[string]map[string]struct{})
		d.dependsOn[workspaceID] = g
	}
	return g
}

// AddDependency records that storyID depends on dependsOnID. Returns
// CircularDependencyError (graph left unchanged) if the new edge would
// close a cycle.
func (d *DependencyManager) AddDependency(workspaceID, storyID, dependsOnID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	g := d.graphFor(workspaceID)
	if cycle := d.wouldCycle(g, storyID, dependsOnID); cycle != nil {
		return &errs.CircularDependencyError{Cycle: cycle}
	}

	if g[storyID] == nil {
		g[storyID] = make(map[string]struct{})
	}
	g[storyID][dependsOnID] = struct{}{}
	return nil
}

// wouldCycle reports, without mutating g, whether adding storyID->dependsOnID
// would create a cycle, returning the cycle path if so.
func (d *DependencyManager) wouldCycle(g map[string]map[string]struct{}, storyID, dependsOnID string) []string {
	if storyID == dependsOnID {
		return []string{storyID, dependsOnID}
	}
	// A cycle would form iff dependsOnID can already (transitively) reach
	// storyID.
	visited := make(map[string]struct{})
	var path []string
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if node == storyID {
			path = append(path, node)
			return true
		}
		if _, seen := visited[node]; seen {
			return false
		}
		visited[node] = struct{}{}
		for dep := range g[node] {
			if dfs(dep) {
				path = append(path, node)
				return true
			}
		}
		return false
	}
	if dfs(dependsOnID) {
		full := append([]string{storyID}, reverse(path)...)
		return full
	}
	return nil
}

func reverse(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}

// RemoveDependency deletes the storyID->dependsOnID edge, if present.
func (d *DependencyManager) RemoveDependency(workspaceID, storyID, dependsOnID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := d.graphFor(workspaceID)
	if deps, ok := g[storyID]; ok {
		delete(deps, dependsOnID)
	}
}

// GetBlockingStories returns the stories storyID still depends on.
func (d *DependencyManager) GetBlockingStories(workspaceID, storyID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := d.graphFor(workspaceID)
	var out []string
	for dep := range g[storyID] {
		out = append(out, dep)
	}
	return out
}

// MarkStoryComplete removes storyID as a dependency everywhere in its
// workspace's graph and returns the ids of stories that become fully
// unblocked as a result (their last unmet dependency was storyID).
func (d *DependencyManager) MarkStoryComplete(workspaceID, storyID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := d.graphFor(workspaceID)

	var unblocked []string
	for story, deps := range g {
		if _, blocked := deps[storyID]; !blocked {
			continue
		}
		delete(deps, storyID)
		if len(deps) == 0 {
			unblocked = append(unblocked, story)
		}
	}
	return unblocked
}

// GetDependencyGraph returns a snapshot copy of the workspace's graph.
func (d *DependencyManager) GetDependencyGraph(workspaceID string) map[string][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	g := d.graphFor(workspaceID)
	out := make(map[string][]string, len(g))
	for story, deps := range g {
		for dep := range deps {
			out[story] = append(out[story], dep)
		}
	}
	return out
}
