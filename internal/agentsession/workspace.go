package agentsession

import (
	"context"
	"os"
	"path/filepath"

	"github.com/devos-platform/agent-orchestrator/internal/gitops"
)

// sensitiveFilePatterns are removed from a terminated session's workspace
// before it's released back to the pool, on top of whatever the child
// process itself wrote.
var sensitiveFilePatterns = []string{".netrc", ".git-credentials"}

// prepareWorkspace implements the workspace-preparation step: clone the repo into
// {baseDir}/{workspaceId}/{projectId} if new, else pull, and configure a
// synthetic git author for commits made during the session.
func prepareWorkspace(ctx context.Context, baseDir, workspaceID, projectID, repoURL, baseBranch, gitToken string) (string, error) {
	path := filepath.Join(baseDir, workspaceID, projectID)
	author := gitops.CommitAuthor{Name: "devos-agent", Email: "agent@devos.local"}
	if err := gitops.CloneOrPull(ctx, path, repoURL, baseBranch, author, gitToken); err != nil {
		return "", err
	}
	return path, nil
}

// cleanupSensitiveFiles best-effort removes credential-bearing files left
// behind in a workspace once its session has exited.
func cleanupSensitiveFiles(workspacePath string) {
	for _, name := range sensitiveFilePatterns {
		_ = os.Remove(filepath.Join(workspacePath, name))
	}
}
