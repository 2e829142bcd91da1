// Package oauth drives the Atlassian 3LO authorization-code flow that
// connects a workspace to a Jira Cloud site: generating the authorize
// URL, exchanging the callback code, listing accessible sites, and
// refreshing tokens on the client's behalf.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/errs"
	"github.com/devos-platform/agent-orchestrator/internal/secrets"
)

// StateTTL bounds how long an authorization-url state token stays valid
// in the shared cache before the callback must consume it.
const StateTTL = 600 * time.Second

// AccessibleResourcesURL is Atlassian's site-discovery endpoint, called
// once right after the code exchange so the user can choose a cloud site.
const AccessibleResourcesURL = "https://api.atlassian.com/oauth/token/accessible-resources"

// IntegrationStore is the persistence seam this package depends on.
type IntegrationStore interface {
	GetByWorkspace(ctx context.Context, workspaceID string) (*domain.JiraIntegration, error)
	GetByID(ctx context.Context, id string) (*domain.JiraIntegration, error)
	Create(ctx context.Context, integration *domain.JiraIntegration) error
	Update(ctx context.Context, integration *domain.JiraIntegration) error
	Delete(ctx context.Context, id string) error
}

// WebhookRegistrar registers/deregisters the Jira-side webhook; kept as a
// seam so oauth doesn't need to know the Jira REST client's transport.
type WebhookRegistrar interface {
	Register(ctx context.Context, integration *domain.JiraIntegration, callbackURL string, events []string) (webhookID string, err error)
	Deregister(ctx context.Context, integration *domain.JiraIntegration, webhookID string) error
}

// Service implements the Jira OAuth setup/teardown lifecycle.
type Service struct {
	oauthCfg    *oauth2.Config
	store       IntegrationStore
	backend     cache.CacheBackend
	webhooks    WebhookRegistrar
	masterKey   []byte
	callbackURL string
	httpClient  *http.Client
}

// NewService builds an oauth.Service. masterKey encrypts tokens at rest
// via internal/secrets' AES-256-GCM envelope before they are persisted.
func NewService(oauthCfg *oauth2.Config, store IntegrationStore, backend cache.CacheBackend, webhooks WebhookRegistrar, masterKey []byte, callbackURL string) *Service {
	return &Service{
		oauthCfg:    oauthCfg,
		store:       store,
		backend:     backend,
		webhooks:    webhooks,
		masterKey:   masterKey,
		callbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

func stateKey(state string) string { return "jira-oauth:" + state }

type pendingState struct {
	WorkspaceID string `json:"workspaceId"`
	UserID      string `json:"userId"`
}

// AuthorizationURL generates a single-use state token, stashes the
// initiating workspace/user behind it for StateTTL, and returns the
// Atlassian 3LO consent-screen URL.
func (s *Service) AuthorizationURL(ctx context.Context, workspaceID, userID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("oauth: generating state: %w", err)
	}
	state := hex.EncodeToString(raw)

	payload, err := json.Marshal(pendingState{WorkspaceID: workspaceID, UserID: userID})
	if err != nil {
		return "", err
	}
	if err := s.backend.Set(ctx, stateKey(state), string(payload), StateTTL); err != nil {
		return "", err
	}

	return s.oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// AccessibleSite is one Jira Cloud instance the authorizing user can pick
// to connect as this workspace's integration target.
type AccessibleSite struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// CallbackResult is returned to the admin surface after a successful code
// exchange, for the user to pick a site and finish CompleteSetup.
type CallbackResult struct {
	Integration *domain.JiraIntegration
	Sites       []AccessibleSite
}

// HandleCallback consumes a single-use state, exchanges the authorization
// code for tokens, creates an inactive integration row with both tokens
// encrypted at rest, and fetches the sites available for CompleteSetup to
// choose from.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	raw, found, err := s.backend.Get(ctx, stateKey(state))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &errs.UnauthorizedException{Message: "oauth state not found or expired"}
	}
	_ = s.backend.Del(ctx, stateKey(state))

	var pending pendingState
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return nil, fmt.Errorf("oauth: decoding stashed state: %w", err)
	}

	if existing, err := s.store.GetByWorkspace(ctx, pending.WorkspaceID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &errs.ConflictException{Resource: "jira integration", Message: "workspace " + pending.WorkspaceID + " already has a jira integration"}
	}

	token, err := s.oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth: exchanging code: %w", err)
	}

	encAccess, err := secrets.Encrypt(s.masterKey, token.AccessToken)
	if err != nil {
		return nil, err
	}
	encRefresh, err := secrets.Encrypt(s.masterKey, token.RefreshToken)
	if err != nil {
		return nil, err
	}

	integration := &domain.JiraIntegration{
		ID:             uuid.NewString(),
		WorkspaceID:    pending.WorkspaceID,
		AccessToken:    encAccess,
		RefreshToken:   encRefresh,
		TokenExpiresAt: token.Expiry,
		IsActive:       false,
		ConnectedBy:    pending.UserID,
	}
	if err := s.store.Create(ctx, integration); err != nil {
		return nil, err
	}

	sites, err := s.accessibleSites(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	return &CallbackResult{Integration: integration, Sites: sites}, nil
}

func (s *Service) accessibleSites(ctx context.Context, accessToken string) ([]AccessibleSite, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, AccessibleResourcesURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: fetching accessible sites: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oauth: accessible-resources returned HTTP %d", resp.StatusCode)
	}
	var sites []AccessibleSite
	if err := json.NewDecoder(resp.Body).Decode(&sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// CompleteSetupRequest binds a chosen cloud site to a pending integration
// and activates it. IntegrationID is explicit (Open Question decision):
// the caller passes the id of the integration HandleCallback created (the
// admin CLI takes it as its --integration flag), rather than this service
// guessing from workspaceId.
type CompleteSetupRequest struct {
	IntegrationID string
	CloudID       string
	SiteURL       string
	ProjectKey    string
	ProjectName   string
	IssueType     string
	StatusMapping map[string]string
	FieldMapping  map[string]string
	SyncDirection domain.SyncDirection
}

var webhookEvents = []string{
	"jira:issue_created",
	"jira:issue_updated",
	"jira:issue_deleted",
	"comment_created",
	"comment_updated",
}

// CompleteSetup binds req's site/project/mapping choices onto the pending
// integration, best-effort registers a Jira webhook, and activates it.
func (s *Service) CompleteSetup(ctx context.Context, req CompleteSetupRequest) (*domain.JiraIntegration, error) {
	integration, err := s.store.GetByID(ctx, req.IntegrationID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, &errs.NotFoundException{Resource: "jira integration", ID: req.IntegrationID}
	}

	integration.CloudID = req.CloudID
	integration.JiraSiteURL = req.SiteURL
	integration.JiraProjectKey = req.ProjectKey
	integration.JiraProjectName = req.ProjectName
	integration.IssueType = req.IssueType
	integration.StatusMapping = req.StatusMapping
	integration.FieldMapping = req.FieldMapping
	integration.SyncDirection = req.SyncDirection
	integration.WebhookSecret = hex.EncodeToString(randomBytes(32))

	if s.webhooks != nil {
		webhookID, err := s.webhooks.Register(ctx, integration, s.callbackURL, webhookEvents)
		if err != nil {
			// Registration is best-effort: the sync engine still works via
			// polling-free DevOS->Jira pushes even without inbound webhooks.
			integration.LastError = fmt.Sprintf("webhook registration failed: %v", err)
		} else {
			integration.WebhookID = webhookID
		}
	}

	integration.IsActive = true
	if err := s.store.Update(ctx, integration); err != nil {
		return nil, err
	}
	return integration, nil
}

// Disconnect best-effort deletes the remote webhook, then removes the
// integration row regardless of whether that delete succeeded.
func (s *Service) Disconnect(ctx context.Context, integrationID string) error {
	integration, err := s.store.GetByID(ctx, integrationID)
	if err != nil {
		return err
	}
	if integration == nil {
		return &errs.NotFoundException{Resource: "jira integration", ID: integrationID}
	}
	if s.webhooks != nil && integration.WebhookID != "" {
		_ = s.webhooks.Deregister(ctx, integration, integration.WebhookID)
	}
	return s.store.Delete(ctx, integrationID)
}

// Refresh implements internal/jira/client.TokenRefresher: exchanges a
// refresh token for a fresh access token and persists both, re-encrypted.
func (s *Service) Refresh(ctx context.Context, integration *domain.JiraIntegration) error {
	tokenSource := s.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: integration.RefreshToken})
	fresh, err := tokenSource.Token()
	if err != nil {
		return fmt.Errorf("oauth: refreshing token for integration %s: %w", integration.ID, err)
	}

	encAccess, err := secrets.Encrypt(s.masterKey, fresh.AccessToken)
	if err != nil {
		return err
	}
	integration.AccessToken = encAccess
	integration.TokenExpiresAt = fresh.Expiry
	if fresh.RefreshToken != "" {
		encRefresh, err := secrets.Encrypt(s.masterKey, fresh.RefreshToken)
		if err != nil {
			return err
		}
		integration.RefreshToken = encRefresh
	}
	return s.store.Update(ctx, integration)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}
