// Package gitops implements the workspace-facing git operations needed by
// the agent executors — feature-branch creation, token-authenticated push
// with redaction, and a base..branch diff summary — adapted from
// pkg/git.GitRepository (same go-git/v5 dependency, same
// GitError{Type,Message,Err,Context} shape) and rebuilt end to end since
// that package commits YAML issue files and this one instead prepares
// workspaces for agent sessions.
package gitops

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// GitError mirrors pkg/git.GitError's shape.
type GitError struct {
	Type    string
	Message string
	Err     error
	Context string
}

func (e *GitError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("git error (%s) for %s: %s", e.Type, e.Context, e.Message)
	}
	return fmt.Sprintf("git error (%s): %s", e.Type, e.Message)
}

func (e *GitError) Unwrap() error { return e.Err }

// CommitAuthor is the synthetic identity configured on a prepared
// workspace, so agent-authored commits are attributable to the session
// rather than to whatever ambient git config the host has.
type CommitAuthor struct {
	Name  string
	Email string
}

// CloneOrPull prepares a workspace directory for an agent session: clones
// repoURL into workspacePath if it doesn't already hold a repository,
// otherwise opens it and pulls origin/baseBranch; either way configures
// author as the local commit identity.
func CloneOrPull(ctx context.Context, workspacePath, repoURL, baseBranch string, author CommitAuthor, token string) error {
	var auth *http.BasicAuth
	if token != "" {
		auth = &http.BasicAuth{Username: "x-access-token", Password: token}
	}

	if _, err := os.Stat(workspacePath); os.IsNotExist(err) {
		if err := os.MkdirAll(workspacePath, 0o755); err != nil {
			return &GitError{Type: "filesystem_error", Message: "failed to create workspace directory", Err: err, Context: workspacePath}
		}
		opts := &git.CloneOptions{URL: repoURL, Auth: auth}
		if baseBranch != "" {
			opts.ReferenceName = plumbing.NewBranchReferenceName(baseBranch)
		}
		if _, err := git.PlainCloneContext(ctx, workspacePath, false, opts); err != nil {
			return &GitError{Type: "git_operation_error", Message: redactToken(fmt.Sprintf("clone failed: %s", err.Error()), token), Context: workspacePath}
		}
	} else {
		repo, err := git.PlainOpen(workspacePath)
		if err != nil {
			return &GitError{Type: "repository_not_found", Message: "failed to open existing workspace", Err: err, Context: workspacePath}
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return &GitError{Type: "git_operation_error", Message: "failed to get working tree", Err: err, Context: workspacePath}
		}
		if err := worktree.PullContext(ctx, &git.PullOptions{Auth: auth}); err != nil && err != git.NoErrAlreadyUpToDate {
			return &GitError{Type: "git_operation_error", Message: redactToken(fmt.Sprintf("pull failed: %s", err.Error()), token), Context: workspacePath}
		}
	}

	repo, err := git.PlainOpen(workspacePath)
	if err != nil {
		return &GitError{Type: "repository_not_found", Message: "failed to reopen workspace after prepare", Err: err, Context: workspacePath}
	}
	cfg, err := repo.Config()
	if err != nil {
		return &GitError{Type: "git_operation_error", Message: "failed to load repository config", Err: err, Context: workspacePath}
	}
	cfg.User.Name = author.Name
	cfg.User.Email = author.Email
	if err := repo.SetConfig(cfg); err != nil {
		return &GitError{Type: "git_operation_error", Message: "failed to set author config", Err: err, Context: workspacePath}
	}
	return nil
}

var branchComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateBranchComponent defeats shell/refname injection by restricting
// each branch-name component to a conservative allowed charset.
func validateBranchComponent(name string) error {
	if !branchComponentPattern.MatchString(name) {
		return &GitError{Type: "invalid_input", Message: fmt.Sprintf("invalid branch component %q", name)}
	}
	return nil
}

// CreateFeatureBranch implements createFeatureBranch: branchName is always
// "devos/{agentType}/{storyId}". If the branch exists locally it is checked
// out and best-effort pulled; otherwise it is created from baseBranch
// (default "main").
func CreateFeatureBranch(ctx context.Context, workspacePath, agentType, storyID, baseBranch string) (string, error) {
	if baseBranch == "" {
		baseBranch = "main"
	}
	for _, component := range []string{agentType, storyID, baseBranch} {
		if err := validateBranchComponent(component); err != nil {
			return "", err
		}
	}

	branchName := fmt.Sprintf("devos/%s/%s", agentType, storyID)

	repo, err := git.PlainOpen(workspacePath)
	if err != nil {
		return "", &GitError{Type: "repository_not_found", Message: "failed to open workspace repository", Err: err, Context: workspacePath}
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", &GitError{Type: "git_operation_error", Message: "failed to get working tree", Err: err, Context: workspacePath}
	}

	branchRef := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(branchRef, true); err == nil {
		if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef}); err != nil {
			return "", &GitError{Type: "git_operation_error", Message: "failed to checkout existing branch", Err: err, Context: branchName}
		}
		_ = worktree.PullContext(ctx, &git.PullOptions{}) // best-effort per spec
		return branchName, nil
	}

	baseRef := plumbing.NewBranchReferenceName(baseBranch)
	head, err := repo.Reference(baseRef, true)
	if err != nil {
		head, err = repo.Head()
		if err != nil {
			return "", &GitError{Type: "git_operation_error", Message: "failed to resolve base branch", Err: err, Context: baseBranch}
		}
	}

	if err := worktree.Checkout(&git.CheckoutOptions{
		Hash:   head.Hash(),
		Branch: branchRef,
		Create: true,
	}); err != nil {
		return "", &GitError{Type: "git_operation_error", Message: "failed to create feature branch", Err: err, Context: branchName}
	}
	return branchName, nil
}

// redactToken replaces every occurrence of token in msg with "***", so a
// push error never leaks the embedded credential.
func redactToken(msg, token string) string {
	if token == "" {
		return msg
	}
	return strings.ReplaceAll(msg, token, "***")
}

// PushBranch pushes branchName to origin authenticated with token. On
// rejection it pulls from the remote and retries the push once; the pull is
// go-git's, which only fast-forwards and does not rebase local commits, so
// a diverged branch fails at the pull. Any error message is redacted of the
// token value before being returned.
func PushBranch(ctx context.Context, workspacePath, branchName, remoteName, token string) error {
	repo, err := git.PlainOpen(workspacePath)
	if err != nil {
		return &GitError{Type: "repository_not_found", Message: "failed to open workspace repository", Err: err, Context: workspacePath}
	}

	auth := &http.BasicAuth{Username: "x-access-token", Password: token}
	branchRef := plumbing.NewBranchReferenceName(branchName)
	refSpec := config.RefSpec(fmt.Sprintf("%s:%s", branchRef, branchRef))

	pushErr := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       auth,
	})
	if pushErr == nil || pushErr == git.NoErrAlreadyUpToDate {
		return nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return &GitError{Type: "git_operation_error", Message: redactToken("failed to get working tree for pull", token), Err: err, Context: branchName}
	}
	if err := worktree.PullContext(ctx, &git.PullOptions{RemoteName: remoteName, Auth: auth}); err != nil && err != git.NoErrAlreadyUpToDate {
		return &GitError{Type: "git_operation_error", Message: redactToken(fmt.Sprintf("pull failed: %s", err.Error()), token), Context: branchName}
	}

	if err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       auth,
	}); err != nil && err != git.NoErrAlreadyUpToDate {
		return &GitError{Type: "git_operation_error", Message: redactToken(fmt.Sprintf("push failed after pull: %s", err.Error()), token), Context: branchName}
	}
	return nil
}

// FileChangeType classifies one changed path between base and branch.
type FileChangeType string

const (
	FileCreated  FileChangeType = "created"
	FileModified FileChangeType = "modified"
	FileDeleted  FileChangeType = "deleted"
)

// FileChange is one entry of GetChangedFiles' result.
type FileChange struct {
	Path string
	Type FileChangeType
}

// GetChangedFiles implements getChangedFiles: a base...branch diff
// classified the way `git diff --name-status` would (A->created,
// M/R*->modified with the new path, D->deleted).
func GetChangedFiles(workspacePath, branchName, baseBranch string) ([]FileChange, error) {
	if baseBranch == "" {
		baseBranch = "main"
	}
	repo, err := git.PlainOpen(workspacePath)
	if err != nil {
		return nil, &GitError{Type: "repository_not_found", Message: "failed to open workspace repository", Err: err, Context: workspacePath}
	}

	branchCommit, err := resolveCommit(repo, branchName)
	if err != nil {
		return nil, err
	}
	baseCommit, err := resolveCommit(repo, baseBranch)
	if err != nil {
		return nil, err
	}

	branchTree, err := branchCommit.Tree()
	if err != nil {
		return nil, &GitError{Type: "git_operation_error", Message: "failed to read branch tree", Err: err, Context: branchName}
	}
	// base...branch compares against the merge base, not the base tip.
	if bases, err := baseCommit.MergeBase(branchCommit); err == nil && len(bases) > 0 {
		baseCommit = bases[0]
	}
	baseTree, err := baseCommit.Tree()
	if err != nil {
		return nil, &GitError{Type: "git_operation_error", Message: "failed to read base tree", Err: err, Context: baseBranch}
	}

	changes, err := object.DiffTreeWithOptions(context.Background(), baseTree, branchTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, &GitError{Type: "git_operation_error", Message: "failed to diff trees", Err: err, Context: fmt.Sprintf("%s...%s", baseBranch, branchName)}
	}

	out := make([]FileChange, 0, len(changes))
	for _, c := range changes {
		action, err := c.Action()
		if err != nil {
			continue
		}
		switch action {
		case merkletrie.Insert:
			out = append(out, FileChange{Path: c.To.Name, Type: FileCreated})
		case merkletrie.Delete:
			out = append(out, FileChange{Path: c.From.Name, Type: FileDeleted})
		case merkletrie.Modify:
			out = append(out, FileChange{Path: c.To.Name, Type: FileModified})
		}
	}
	return out, nil
}

func resolveCommit(repo *git.Repository, ref string) (*object.Commit, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, &GitError{Type: "git_operation_error", Message: "failed to resolve revision", Err: err, Context: ref}
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, &GitError{Type: "git_operation_error", Message: "failed to load commit", Err: err, Context: ref}
	}
	return commit, nil
}
