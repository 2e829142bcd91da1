package agentsession

import (
	"context"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
)

// KeyResolver decrypts a workspace's active BYOK provider key just before a
// session spawns — satisfied by *internal/secrets.Bridge.
type KeyResolver interface {
	Resolve(ctx context.Context, workspaceID string, provider domain.SecretProvider) (string, error)
}

// envVarFor names the environment variable a given provider's key is
// injected under, so it lands in the child process's env exactly the way a
// human operator would set it, never as a CLI argument.
func envVarFor(provider domain.SecretProvider) string {
	switch provider {
	case domain.ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}
