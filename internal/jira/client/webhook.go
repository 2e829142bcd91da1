package client

import (
	"context"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
)

// WebhookRegistrar implements internal/jira/oauth.WebhookRegistrar against
// a real Jira Cloud site, building one Client per call so it carries no
// state of its own beyond the seams every Client needs.
type WebhookRegistrar struct {
	refresher TokenRefresher
	limiter   func(integrationID string) RateLimiter
	backend   cache.CacheBackend
}

// NewWebhookRegistrar builds a WebhookRegistrar. limiter is invoked once
// per call to scope the sliding-window rate limiter to the integration
// being registered/deregistered.
func NewWebhookRegistrar(refresher TokenRefresher, limiter func(integrationID string) RateLimiter, backend cache.CacheBackend) *WebhookRegistrar {
	return &WebhookRegistrar{refresher: refresher, limiter: limiter, backend: backend}
}

func (r *WebhookRegistrar) Register(ctx context.Context, integration *domain.JiraIntegration, callbackURL string, events []string) (string, error) {
	c := New(integration, r.refresher, r.limiter(integration.ID), r.backend)
	return c.RegisterWebhook(ctx, callbackURL, events)
}

func (r *WebhookRegistrar) Deregister(ctx context.Context, integration *domain.JiraIntegration, webhookID string) error {
	c := New(integration, r.refresher, r.limiter(integration.ID), r.backend)
	return c.DeregisterWebhook(ctx, webhookID)
}
