package cli

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/config"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/events"
	"github.com/devos-platform/agent-orchestrator/internal/handoff"
	jiraclient "github.com/devos-platform/agent-orchestrator/internal/jira/client"
	"github.com/devos-platform/agent-orchestrator/internal/jira/oauth"
	"github.com/devos-platform/agent-orchestrator/internal/jira/sync"
	"github.com/devos-platform/agent-orchestrator/internal/pipeline"
	"github.com/devos-platform/agent-orchestrator/internal/secrets"
	"github.com/devos-platform/agent-orchestrator/internal/storage"
	"github.com/devos-platform/agent-orchestrator/internal/telemetry"
	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
)

// atlassianAuthorizeURL and atlassianTokenURL are Atlassian's 3LO OAuth
// endpoints.
const (
	atlassianAuthorizeURL = "https://auth.atlassian.com/authorize"
	atlassianTokenURL     = "https://auth.atlassian.com/oauth/token"
)

// App wires every service this CLI's subcommands need, built once per
// process invocation from the resolved Config by one shared constructor,
// so every subcommand wires the same set of concrete adapters.
type App struct {
	Config   *config.Config
	Log      logr.Logger
	DB       *sqlx.DB
	Cache    cache.CacheBackend
	Bus      events.Bus
	Metrics  *telemetry.Metrics

	Integrations *storage.SqlxIntegrationStore
	Stories      *storage.SqlxStoryStore
	SyncItems    *storage.SqlxSyncItemStore
	Secrets      *storage.SqlxSecretStore

	PipelineSvc *pipeline.Service
	Coordinator *handoff.Coordinator
	OAuthSvc    *oauth.Service
	SyncSvc     *sync.Service
	SecretBridge *secrets.Bridge

	masterKey []byte
}

// newApp loads configuration and builds every adapter. Callers are
// responsible for closing App.DB when done.
func newApp(ctx context.Context) (*App, error) {
	cfg, err := config.NewDotEnvLoader().Load()
	if err != nil {
		return nil, fmt.Errorf("cli: loading config: %w", err)
	}
	log, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("cli: building logger: %w", err)
	}

	db, err := storage.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	redisOpts, err := redis.ParseURL(cfg.CacheBackendDSN)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cli: parsing CACHE_BACKEND_DSN: %w", err)
	}
	backend := cache.NewRedisBackend(redis.NewClient(redisOpts))

	masterKey, err := hex.DecodeString(cfg.SecretsMasterKeyHex)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cli: decoding SECRETS_MASTER_KEY_HEX: %w", err)
	}

	bus := events.NewBus()
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	integrations := storage.NewSqlxIntegrationStore(db)
	stories := storage.NewSqlxStoryStore(db)
	syncItems := storage.NewSqlxSyncItemStore(db)
	secretStore := storage.NewSqlxSecretStore(db)
	pipelineStore := storage.NewSqlxPipelineStore(db)
	handoffHistory := storage.NewSqlxHandoffHistoryStore(db)

	secretBridge, err := secrets.NewBridge(secretStore, masterKey)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	pipelineSvc := pipeline.NewService(pipelineStore, backend, bus, log)
	deps := handoff.NewDependencyManager()
	queue := handoff.NewQueue(backend)
	coordinator := handoff.NewCoordinator(deps, queue, handoffHistory, bus, log)

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.JiraOAuthClientID,
		ClientSecret: cfg.JiraOAuthClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  atlassianAuthorizeURL,
			TokenURL: atlassianTokenURL,
		},
		RedirectURL: cfg.JiraOAuthRedirectURL,
		Scopes:      []string{"read:jira-work", "write:jira-work", "manage:jira-webhook", "offline_access"},
	}

	app := &App{
		Config:       cfg,
		Log:          log,
		DB:           db,
		Cache:        backend,
		Bus:          bus,
		Metrics:      metrics,
		Integrations: integrations,
		Stories:      stories,
		SyncItems:    syncItems,
		Secrets:      secretStore,
		PipelineSvc:  pipelineSvc,
		Coordinator:  coordinator,
		SecretBridge: secretBridge,
		masterKey:    masterKey,
	}

	webhookRegistrar := jiraclient.NewWebhookRegistrar(app.tokenRefresher(), app.rateLimiterFor, backend)
	app.OAuthSvc = oauth.NewService(oauthCfg, integrations, backend, webhookRegistrar, masterKey, cfg.JiraWebhookURL)
	app.SyncSvc = sync.NewService(integrations, stories, syncItems, app.clientFactory, backend)
	return app, nil
}

// tokenRefresher returns app.OAuthSvc as a jiraclient.TokenRefresher,
// deferring construction since oauth.Service isn't built until after the
// webhook registrar that needs it.
func (a *App) tokenRefresher() jiraclient.TokenRefresher {
	return refresherFunc(func(ctx context.Context, integration *domain.JiraIntegration) error {
		return a.OAuthSvc.Refresh(ctx, integration)
	})
}

type refresherFunc func(ctx context.Context, integration *domain.JiraIntegration) error

func (f refresherFunc) Refresh(ctx context.Context, integration *domain.JiraIntegration) error {
	return f(ctx, integration)
}

func (a *App) rateLimiterFor(integrationID string) jiraclient.RateLimiter {
	return jiraclient.NewSlidingWindowLimiter(jiraclient.RateLimiterConfig{
		WindowSize:             a.Config.JiraRateLimitWindow,
		MaxRequestsPerWindow:   a.Config.JiraRateLimitMaxPerWindow,
		MaxConcurrentRequests:  a.Config.JiraMaxConcurrentRequests,
		ExponentialBackoffBase: a.Config.JiraExponentialBackoffBase,
		MaxBackoffDelay:        a.Config.JiraMaxBackoffDelay,
	}, a.Cache, integrationID)
}

// clientFactory decrypts the integration's tokens just-in-time and builds
// one internal/jira/client.Client, satisfying jira/sync.ClientFactory.
func (a *App) clientFactory(ctx context.Context, integration *domain.JiraIntegration) (sync.JiraIssueClient, error) {
	plainIntegration := *integration
	accessToken, err := secrets.Decrypt(a.masterKey, integration.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("cli: decrypting access token: %w", err)
	}
	plainIntegration.AccessToken = accessToken
	return jiraclient.New(&plainIntegration, a.tokenRefresher(), a.rateLimiterFor(integration.ID), a.Cache), nil
}

// Close releases the resources newApp opened.
func (a *App) Close() {
	_ = a.DB.Close()
}
