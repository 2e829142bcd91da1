// Package agentsession implements the CLI agent session lifecycle: spawning
// a sandboxed child-process agent, preparing its git workspace, bridging its
// BYOK provider key in through the environment only, and enforcing the
// per-workspace concurrency cap and hard timeout.
package agentsession

import (
	"fmt"
	"time"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
)

// DefaultMaxTokens and DefaultTimeout/HardTimeoutCap mirror the
// stated defaults.
const (
	DefaultMaxTokens     = 200_000
	DefaultTimeout       = 2 * time.Hour
	HardTimeoutCap       = 4 * time.Hour
	DefaultMaxPerWorkspace = 5
)

// SpawnParams is the caller-supplied request to start one agent session.
type SpawnParams struct {
	WorkspaceID string
	ProjectID   string
	StoryID     string
	Agent       string // "planner" | "dev" | "qa" | "devops"
	RepoURL     string
	BaseBranch  string
	Argv        []string
	MaxTokens   int
	Timeout     time.Duration
	Provider    domain.SecretProvider
}

// SessionConfig is the fully-resolved, validated configuration for one
// spawned session, after defaults are applied and the BYOK key is resolved.
type SessionConfig struct {
	SessionID   string
	WorkspaceID string
	ProjectID   string
	StoryID     string
	Agent       string
	RepoURL     string
	BaseBranch  string
	Argv        []string
	MaxTokens   int
	Timeout     time.Duration
	APIKey      string
}

// resolveConfig applies defaults onto params and validates the result, without
// yet touching the BYOK bridge or the filesystem.
func resolveConfig(params SpawnParams, sessionID string) (SessionConfig, error) {
	cfg := SessionConfig{
		SessionID:   sessionID,
		WorkspaceID: params.WorkspaceID,
		ProjectID:   params.ProjectID,
		StoryID:     params.StoryID,
		Agent:       params.Agent,
		RepoURL:     params.RepoURL,
		BaseBranch:  params.BaseBranch,
		Argv:        params.Argv,
		MaxTokens:   params.MaxTokens,
		Timeout:     params.Timeout,
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	return cfg, validate(cfg)
}

func validate(cfg SessionConfig) error {
	if cfg.WorkspaceID == "" {
		return fmt.Errorf("agentsession: workspaceId is required")
	}
	if cfg.ProjectID == "" {
		return fmt.Errorf("agentsession: projectId is required")
	}
	if cfg.Agent == "" {
		return fmt.Errorf("agentsession: agent is required")
	}
	if cfg.RepoURL == "" {
		return fmt.Errorf("agentsession: repoUrl is required")
	}
	if len(cfg.Argv) == 0 {
		return fmt.Errorf("agentsession: argv must not be empty")
	}
	if cfg.MaxTokens <= 0 {
		return fmt.Errorf("agentsession: maxTokens must be positive")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("agentsession: timeout must be positive")
	}
	if cfg.Timeout > HardTimeoutCap {
		return fmt.Errorf("agentsession: timeout %s exceeds hard cap %s", cfg.Timeout, HardTimeoutCap)
	}
	return nil
}
