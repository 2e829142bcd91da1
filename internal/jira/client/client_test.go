package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/errs"
	jiraclient "github.com/devos-platform/agent-orchestrator/internal/jira/client"
)

type noopRefresher struct{ called bool }

func (r *noopRefresher) Refresh(ctx context.Context, integration *domain.JiraIntegration) error {
	r.called = true
	integration.TokenExpiresAt = time.Now().Add(time.Hour)
	return nil
}

func testLimiter(backend cache.CacheBackend, key string) *jiraclient.SlidingWindowLimiter {
	return jiraclient.NewSlidingWindowLimiter(jiraclient.RateLimiterConfig{
		WindowSize:             time.Second,
		MaxRequestsPerWindow:   100,
		MaxConcurrentRequests:  10,
		ExponentialBackoffBase: 10 * time.Millisecond,
		MaxBackoffDelay:        time.Second,
	}, backend, key)
}

func TestGetIssueSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"key": "PROJ-1"})
	}))
	defer srv.Close()

	integration := &domain.JiraIntegration{ID: "i1", AccessToken: "test-token", TokenExpiresAt: time.Now().Add(time.Hour)}
	backend := cache.NewMemoryBackend()
	c := jiraclient.NewForTest(srv.URL, integration, &noopRefresher{}, testLimiter(backend, "i1"), backend)

	body, err := c.GetIssue(context.Background(), "PROJ-1")
	require.NoError(t, err)
	require.Contains(t, string(body), "PROJ-1")
}

func TestNotFoundMapsToTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	integration := &domain.JiraIntegration{ID: "i1", AccessToken: "test-token", TokenExpiresAt: time.Now().Add(time.Hour)}
	backend := cache.NewMemoryBackend()
	c := jiraclient.NewForTest(srv.URL, integration, &noopRefresher{}, testLimiter(backend, "i1"), backend)

	_, err := c.GetIssue(context.Background(), "PROJ-404")
	require.Error(t, err)
	require.True(t, errs.IsNotFound(err))
}

func TestUnauthorizedMapsToTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	integration := &domain.JiraIntegration{ID: "i1", AccessToken: "test-token", TokenExpiresAt: time.Now().Add(time.Hour)}
	backend := cache.NewMemoryBackend()
	c := jiraclient.NewForTest(srv.URL, integration, &noopRefresher{}, testLimiter(backend, "i1"), backend)

	_, err := c.GetIssue(context.Background(), "PROJ-1")
	require.Error(t, err)
	require.True(t, errs.IsUnauthorized(err))
}

func TestExpiredTokenTriggersRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"key": "PROJ-1"})
	}))
	defer srv.Close()

	integration := &domain.JiraIntegration{ID: "i1", AccessToken: "test-token", TokenExpiresAt: time.Now().Add(time.Second)}
	backend := cache.NewMemoryBackend()
	refresher := &noopRefresher{}
	c := jiraclient.NewForTest(srv.URL, integration, refresher, testLimiter(backend, "i1"), backend)

	_, err := c.GetIssue(context.Background(), "PROJ-1")
	require.NoError(t, err)
	require.True(t, refresher.called)
}
