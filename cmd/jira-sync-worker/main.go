// Command jira-sync-worker runs the long-lived half of the Jira
// integration: the inbound webhook HTTP endpoint and the debounced
// story-changed listener that pushes DevOS edits out to Jira. The admin
// CLI (cmd/orchestrator) drives everything else — OAuth setup, manual
// sync, conflict resolution — as one-shot invocations against the same
// Postgres/Redis backends.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/config"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/events"
	jiraclient "github.com/devos-platform/agent-orchestrator/internal/jira/client"
	"github.com/devos-platform/agent-orchestrator/internal/jira/listener"
	"github.com/devos-platform/agent-orchestrator/internal/jira/oauth"
	"github.com/devos-platform/agent-orchestrator/internal/jira/sync"
	"github.com/devos-platform/agent-orchestrator/internal/jira/webhook"
	"github.com/devos-platform/agent-orchestrator/internal/pipeline"
	"github.com/devos-platform/agent-orchestrator/internal/secrets"
	"github.com/devos-platform/agent-orchestrator/internal/storage"
	"github.com/devos-platform/agent-orchestrator/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "jira-sync-worker: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.NewDotEnvLoader().Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	db, err := storage.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.CacheBackendDSN)
	if err != nil {
		return fmt.Errorf("parsing CACHE_BACKEND_DSN: %w", err)
	}
	backend := cache.NewRedisBackend(redis.NewClient(redisOpts))
	bus := events.NewBus()

	masterKey, err := hex.DecodeString(cfg.SecretsMasterKeyHex)
	if err != nil {
		return fmt.Errorf("decoding SECRETS_MASTER_KEY_HEX: %w", err)
	}

	integrations := storage.NewSqlxIntegrationStore(db)
	stories := storage.NewSqlxStoryStore(db)
	syncItems := storage.NewSqlxSyncItemStore(db)
	pipelineStore := storage.NewSqlxPipelineStore(db)
	pipelineSvc := pipeline.NewService(pipelineStore, backend, bus, log)

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.JiraOAuthClientID,
		ClientSecret: cfg.JiraOAuthClientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: "https://auth.atlassian.com/authorize", TokenURL: "https://auth.atlassian.com/oauth/token"},
		RedirectURL:  cfg.JiraOAuthRedirectURL,
		Scopes:       []string{"read:jira-work", "write:jira-work", "manage:jira-webhook", "offline_access"},
	}
	// Passing a nil WebhookRegistrar is safe: the worker never calls
	// CompleteSetup/Disconnect, only Refresh, which never touches webhooks.
	oauthSvc := oauth.NewService(oauthCfg, integrations, backend, nil, masterKey, cfg.JiraWebhookURL)

	rateLimiterFor := func(integrationID string) jiraclient.RateLimiter {
		return jiraclient.NewSlidingWindowLimiter(jiraclient.RateLimiterConfig{
			WindowSize:             cfg.JiraRateLimitWindow,
			MaxRequestsPerWindow:   cfg.JiraRateLimitMaxPerWindow,
			MaxConcurrentRequests:  cfg.JiraMaxConcurrentRequests,
			ExponentialBackoffBase: cfg.JiraExponentialBackoffBase,
			MaxBackoffDelay:        cfg.JiraMaxBackoffDelay,
		}, backend, integrationID)
	}
	clientFactory := func(ctx context.Context, integration *domain.JiraIntegration) (sync.JiraIssueClient, error) {
		plain := *integration
		accessToken, err := secrets.Decrypt(masterKey, integration.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("decrypting access token: %w", err)
		}
		plain.AccessToken = accessToken
		return jiraclient.New(&plain, oauthSvc, rateLimiterFor(integration.ID), backend), nil
	}
	syncSvc := sync.NewService(integrations, stories, syncItems, clientFactory, backend)

	listener.New(bus, integrations, syncSvc, log)

	result, err := pipelineSvc.Recover(ctx)
	if err != nil {
		log.Error(err, "stale pipeline recovery failed at startup")
	} else {
		log.Info("stale pipeline recovery complete", "recovered", result.Recovered, "stale", result.Stale, "total", result.Total)
	}

	handler := webhook.New(integrations, syncItems, syncSvc, log)
	srv := &http.Server{Addr: ":8081", Handler: handler, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("jira-sync-worker listening", "addr", srv.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
