package oauth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/errs"
	"github.com/devos-platform/agent-orchestrator/internal/jira/oauth"
	"github.com/devos-platform/agent-orchestrator/internal/storage"
)

type noopWebhooks struct {
	registered bool
}

func (n *noopWebhooks) Register(ctx context.Context, integration *domain.JiraIntegration, callbackURL string, events []string) (string, error) {
	n.registered = true
	return "webhook-1", nil
}

func (n *noopWebhooks) Deregister(ctx context.Context, integration *domain.JiraIntegration, webhookID string) error {
	return nil
}

var testMasterKey = []byte("0123456789abcdef0123456789abcdef")[:32]

func newTestService(store *storage.MemoryIntegrationStore, backend cache.CacheBackend, tokenSrv *httptest.Server) *oauth.Service {
	cfg := &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint:     oauth2.Endpoint{AuthURL: tokenSrv.URL + "/authorize", TokenURL: tokenSrv.URL + "/token"},
		RedirectURL:  "https://devos.example.com/integrations/jira/callback",
		Scopes:       []string{"read:jira-work", "write:jira-work", "offline_access"},
	}
	return oauth.NewService(cfg, store, backend, &noopWebhooks{}, testMasterKey, cfg.RedirectURL)
}

func TestAuthorizationURLStashesState(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer tokenSrv.Close()
	backend := cache.NewMemoryBackend()
	store := storage.NewMemoryIntegrationStore()
	svc := newTestService(store, backend, tokenSrv)

	authURL, err := svc.AuthorizationURL(context.Background(), "ws-1", "user-1")
	require.NoError(t, err)
	require.Contains(t, authURL, "authorize")
	require.Contains(t, authURL, "state=")
}

func TestCallbackRejectsDuplicateWorkspace(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "a", "refresh_token": "r", "token_type": "Bearer", "expires_in": 3600,
		})
	}))
	defer tokenSrv.Close()
	backend := cache.NewMemoryBackend()
	store := storage.NewMemoryIntegrationStore()
	require.NoError(t, store.Create(context.Background(), &domain.JiraIntegration{ID: "existing", WorkspaceID: "ws-1"}))
	svc := newTestService(store, backend, tokenSrv)

	authURL, err := svc.AuthorizationURL(context.Background(), "ws-1", "user-1")
	require.NoError(t, err)
	state := extractState(t, authURL)

	_, err = svc.HandleCallback(context.Background(), "code", state)
	require.Error(t, err)
	require.True(t, errs.IsConflict(err))
}

func extractState(t *testing.T, rawURL string) string {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	return parsed.Query().Get("state")
}
