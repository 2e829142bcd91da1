// Package config loads the process-wide read-only configuration struct
// from environment variables, extending the prior Loader pattern (Provider
// interface, EnvLoader test seam, explicit Getenv reads in Load) with
// go-playground/validator struct-tag validation for the larger surface this
// service has: Jira OAuth, CLI session lifecycle, cache backend DSN, and the
// BYOK secrets master key.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the fully-resolved process configuration, built once at
// startup and passed down by value/pointer — never re-read from the
// environment after Load returns.
type Config struct {
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`

	CacheBackendDSN string `validate:"required"`
	PostgresDSN     string `validate:"required"`

	JiraOAuthClientID     string `validate:"required"`
	JiraOAuthClientSecret string `validate:"required"`
	JiraOAuthRedirectURL  string `validate:"required,url"`
	JiraWebhookURL        string `validate:"required,url"`

	SecretsMasterKeyHex string `validate:"required,hexadecimal"`

	AgentSessionBaseDir        string        `validate:"required"`
	AgentSessionMaxPerWorkspace int          `validate:"min=1"`
	AgentSessionMaxTokens      int           `validate:"min=1"`
	AgentSessionTimeout        time.Duration `validate:"required"`
	AgentSessionHardTimeoutCap time.Duration `validate:"required"`

	JiraRateLimitWindow          time.Duration `validate:"required"`
	JiraRateLimitMaxPerWindow    int           `validate:"min=1"`
	JiraMaxConcurrentRequests    int           `validate:"min=1"`
	JiraExponentialBackoffBase   time.Duration `validate:"required"`
	JiraMaxBackoffDelay          time.Duration `validate:"required"`

	StreamingFlushInterval time.Duration `validate:"required"`
	StreamingMaxLines      int           `validate:"min=1"`
	StreamingBufferLines   int           `validate:"min=1"`
	StreamingTTL           time.Duration `validate:"required"`
}

// Provider is the DI seam over configuration loading, mirroring
// pkg/config.Provider.
type Provider interface {
	Load() (*Config, error)
}

// EnvLoader abstracts environment-variable access so tests can substitute a
// fixed map instead of the real process environment.
type EnvLoader interface {
	Getenv(key string) string
}

// OSEnvLoader implements EnvLoader against the real process environment.
type OSEnvLoader struct{}

func (OSEnvLoader) Getenv(key string) string { return os.Getenv(key) }

// Loader implements Provider.
type Loader struct {
	env      EnvLoader
	validate *validator.Validate
}

// NewLoader builds a Loader reading from the real process environment.
func NewLoader() *Loader {
	return &Loader{env: OSEnvLoader{}, validate: validator.New()}
}

// NewLoaderWithEnv builds a Loader against a custom EnvLoader, for tests.
func NewLoaderWithEnv(env EnvLoader) *Loader {
	return &Loader{env: env, validate: validator.New()}
}

func (l *Loader) getString(key, def string) string {
	if v := l.env.Getenv(key); v != "" {
		return v
	}
	return def
}

func (l *Loader) getInt(key string, def int) int {
	if v := l.env.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (l *Loader) getDuration(key string, def time.Duration) time.Duration {
	if v := l.env.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Load reads every env var, applies defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := &Config{
		LogLevel:  l.getString("LOG_LEVEL", "info"),
		LogFormat: l.getString("LOG_FORMAT", "text"),

		CacheBackendDSN: l.env.Getenv("CACHE_BACKEND_DSN"),
		PostgresDSN:     l.env.Getenv("POSTGRES_DSN"),

		JiraOAuthClientID:     l.env.Getenv("JIRA_OAUTH_CLIENT_ID"),
		JiraOAuthClientSecret: l.env.Getenv("JIRA_OAUTH_CLIENT_SECRET"),
		JiraOAuthRedirectURL:  l.env.Getenv("JIRA_OAUTH_REDIRECT_URL"),
		JiraWebhookURL:        l.env.Getenv("JIRA_WEBHOOK_URL"),

		SecretsMasterKeyHex: l.env.Getenv("SECRETS_MASTER_KEY_HEX"),

		AgentSessionBaseDir:         l.getString("AGENT_SESSION_BASE_DIR", "/var/lib/agent-orchestrator/workspaces"),
		AgentSessionMaxPerWorkspace: l.getInt("AGENT_SESSION_MAX_PER_WORKSPACE", 5),
		AgentSessionMaxTokens:       l.getInt("AGENT_SESSION_MAX_TOKENS", 200_000),
		AgentSessionTimeout:         l.getDuration("AGENT_SESSION_TIMEOUT", 2*time.Hour),
		AgentSessionHardTimeoutCap:  l.getDuration("AGENT_SESSION_HARD_TIMEOUT_CAP", 4*time.Hour),

		JiraRateLimitWindow:        l.getDuration("JIRA_RATE_LIMIT_WINDOW", 60*time.Second),
		JiraRateLimitMaxPerWindow:  l.getInt("JIRA_RATE_LIMIT_MAX_PER_WINDOW", 90),
		JiraMaxConcurrentRequests:  l.getInt("JIRA_MAX_CONCURRENT_REQUESTS", 5),
		JiraExponentialBackoffBase: l.getDuration("JIRA_EXPONENTIAL_BACKOFF_BASE", 1*time.Second),
		JiraMaxBackoffDelay:        l.getDuration("JIRA_MAX_BACKOFF_DELAY", 30*time.Second),

		StreamingFlushInterval: l.getDuration("STREAMING_FLUSH_INTERVAL", 100*time.Millisecond),
		StreamingMaxLines:      l.getInt("STREAMING_MAX_LINES", 50_000),
		StreamingBufferLines:   l.getInt("STREAMING_BUFFER_LINES", 1000),
		StreamingTTL:           l.getDuration("STREAMING_TTL", time.Hour),
	}

	if cfg.AgentSessionTimeout > cfg.AgentSessionHardTimeoutCap {
		return nil, fmt.Errorf("config: AGENT_SESSION_TIMEOUT (%s) exceeds AGENT_SESSION_HARD_TIMEOUT_CAP (%s)", cfg.AgentSessionTimeout, cfg.AgentSessionHardTimeoutCap)
	}
	if err := l.validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}
