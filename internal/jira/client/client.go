package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/errs"
)

// TokenRefreshTTL bounds the distributed lock that guards a concurrent
// refresh of the same integration's OAuth token.
const TokenRefreshTTL = 30 * time.Second

// TokenRefresher refreshes an expired/expiring integration's access token
// and persists the result; implemented by internal/jira/oauth.
type TokenRefresher interface {
	Refresh(ctx context.Context, integration *domain.JiraIntegration) error
}

// Client is a Jira REST v3 client: Bearer-token authenticated, rate
// limited against a shared window, circuit-broken against a flapping
// upstream, and self-refreshing its access token under a distributed lock.
//
// integration.AccessToken/RefreshToken must already be plaintext by the
// time they reach Client — the caller decrypts them from their encrypted
// at-rest columns (AccessTokenIV/RefreshTokenIV) right before constructing
// a Client, the same just-in-time pattern internal/secrets uses for BYOK
// provider keys.
type Client struct {
	http        *http.Client
	baseURL     string
	integration *domain.JiraIntegration
	refresher   TokenRefresher
	limiter     RateLimiter
	backend     cache.CacheBackend
	breaker     *gobreaker.CircuitBreaker
}

// New builds a Client for one Jira integration, targeting the Atlassian
// Cloud API gateway (api.atlassian.com) scoped to the integration's cloud
// instance rather than its human-facing site URL.
func New(integration *domain.JiraIntegration, refresher TokenRefresher, limiter RateLimiter, backend cache.CacheBackend) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "jira-client:" + integration.ID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		http:        &http.Client{Timeout: 30 * time.Second},
		baseURL:     "https://api.atlassian.com/ex/jira/" + integration.CloudID,
		integration: integration,
		refresher:   refresher,
		limiter:     limiter,
		backend:     backend,
		breaker:     breaker,
	}
}

// NewForTest builds a Client against an arbitrary baseURL, bypassing the
// Atlassian Cloud gateway construction in New. Used by this package's own
// tests against an httptest.Server.
func NewForTest(baseURL string, integration *domain.JiraIntegration, refresher TokenRefresher, limiter RateLimiter, backend cache.CacheBackend) *Client {
	c := New(integration, refresher, limiter, backend)
	c.baseURL = baseURL
	return c
}

func (c *Client) refreshLockKey() string {
	return "jira-token-refresh:" + c.integration.ID
}

// ensureFreshToken refreshes the access token if it is within five minutes
// of expiry, coordinating with other processes via a distributed lock so
// only one refresh happens per integration at a time.
func (c *Client) ensureFreshToken(ctx context.Context) error {
	if c.integration.TokenExpiresAt.IsZero() || time.Until(c.integration.TokenExpiresAt) > 5*time.Minute {
		return nil
	}

	ok, err := c.backend.SetNX(ctx, c.refreshLockKey(), "refreshing", TokenRefreshTTL)
	if err != nil {
		return err
	}
	if !ok {
		// Another process is refreshing; wait briefly and re-check.
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
		if c.integration.TokenExpiresAt.IsZero() || time.Until(c.integration.TokenExpiresAt) > 5*time.Minute {
			return nil
		}
		return &errs.RateLimitError{RetryAfterSeconds: 1, Message: "token refresh in progress on another process"}
	}
	defer func() { _ = c.backend.Del(ctx, c.refreshLockKey()) }()

	return c.refresher.Refresh(ctx, c.integration)
}

// MaxRetries bounds the number of retries applied to a 5xx/network failure,
// each spaced by the matching entry in retryDelays.
const MaxRetries = 3

// retryDelays are the fixed backoff delays applied between successive
// retries of a 5xx/network failure.
var retryDelays = []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond, 4000 * time.Millisecond}

// Do executes one Jira REST v3 request, applying the rate limiter, circuit
// breaker, and status-code-to-typed-error mapping this package owns.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	if err := c.ensureFreshToken(ctx); err != nil {
		return nil, err
	}
	if err := c.limiter.AcquireSlot(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.ReleaseSlot()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doWithRetry(ctx, method, path, body)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &ClientError{Type: "circuit_open", Message: "jira client circuit breaker is open", Err: err, Context: path}
		}
		return nil, err
	}
	return result.([]byte), nil
}

// doWithRetry wraps doOnce with two independent retry policies: a single
// refresh-and-retry on 401, and up to MaxRetries fixed-delay retries on
// 5xx/network failures. Neither retry counts against the other.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	authRetried := false
	retryAttempt := 0
	for {
		result, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			return result, nil
		}

		if _, ok := err.(*errs.UnauthorizedException); ok {
			if authRetried {
				return nil, err
			}
			authRetried = true
			if refreshErr := c.refresher.Refresh(ctx, c.integration); refreshErr != nil {
				return nil, err
			}
			continue
		}

		if ce, ok := err.(*ClientError); ok && (ce.Type == "server_error" || ce.Type == "connection_error") {
			if retryAttempt >= MaxRetries {
				return nil, err
			}
			delay := retryDelays[retryAttempt]
			retryAttempt++
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		return nil, err
	}
}

func (c *Client) doOnce(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.integration.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ClientError{Type: "connection_error", Message: "request to jira failed", Err: err, Context: path}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if rlErr := c.limiter.HandleStatusCode(ctx, resp.StatusCode, resp.Header.Get("Retry-After")); rlErr != nil {
		return nil, rlErr
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &errs.UnauthorizedException{Message: "jira rejected the access token"}
	case resp.StatusCode == http.StatusForbidden:
		return nil, &errs.ForbiddenException{Message: "jira denied access to " + path}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &errs.NotFoundException{Resource: "jira issue", ID: path}
	case resp.StatusCode >= 500:
		return nil, &ClientError{Type: "server_error", Message: fmt.Sprintf("jira returned HTTP %d", resp.StatusCode), Context: path}
	default:
		return nil, &ClientError{Type: "api_error", Message: fmt.Sprintf("jira returned HTTP %d: %s", resp.StatusCode, string(respBody)), Context: path}
	}
}

// GetIssue fetches one issue's raw JSON representation.
func (c *Client) GetIssue(ctx context.Context, issueKey string) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, "/rest/api/3/issue/"+issueKey, nil)
}

// UpdateIssueFields PATCHes the given fields onto an issue.
func (c *Client) UpdateIssueFields(ctx context.Context, issueKey string, fields map[string]interface{}) error {
	_, err := c.Do(ctx, http.MethodPut, "/rest/api/3/issue/"+issueKey, map[string]interface{}{"fields": fields})
	return err
}

// AddComment posts a comment body (already ADF-encoded) to an issue.
func (c *Client) AddComment(ctx context.Context, issueKey string, adfBody interface{}) error {
	_, err := c.Do(ctx, http.MethodPost, "/rest/api/3/issue/"+issueKey+"/comment", map[string]interface{}{"body": adfBody})
	return err
}

// TransitionIssue moves an issue to the given workflow transition id.
func (c *Client) TransitionIssue(ctx context.Context, issueKey, transitionID string) error {
	_, err := c.Do(ctx, http.MethodPost, "/rest/api/3/issue/"+issueKey+"/transitions", map[string]interface{}{
		"transition": map[string]string{"id": transitionID},
	})
	return err
}

// CreateIssue creates a new issue of issueType in projectKey, returning
// the raw JSON response (which includes the new issue's id and key).
func (c *Client) CreateIssue(ctx context.Context, projectKey, issueType, summary string, descriptionADF interface{}, extraFields map[string]interface{}) ([]byte, error) {
	fields := map[string]interface{}{
		"project":     map[string]string{"key": projectKey},
		"issuetype":   map[string]string{"name": issueType},
		"summary":     summary,
		"description": descriptionADF,
	}
	for k, v := range extraFields {
		fields[k] = v
	}
	return c.Do(ctx, http.MethodPost, "/rest/api/3/issue", map[string]interface{}{"fields": fields})
}

// Transition is one entry of an issue's available workflow transitions.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   struct {
		Name string `json:"name"`
	} `json:"to"`
}

type transitionsResponse struct {
	Transitions []Transition `json:"transitions"`
}

// ListTransitions returns the workflow transitions currently available
// for issueKey.
func (c *Client) ListTransitions(ctx context.Context, issueKey string) ([]Transition, error) {
	body, err := c.Do(ctx, http.MethodGet, "/rest/api/3/issue/"+issueKey+"/transitions", nil)
	if err != nil {
		return nil, err
	}
	var resp transitionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("jira client: decoding transitions for %s: %w", issueKey, err)
	}
	return resp.Transitions, nil
}

type webhookRegistrationResponse struct {
	WebhookRegistrationResult []struct {
		CreatedWebhookID int `json:"createdWebhookId"`
	} `json:"webhookRegistrationResult"`
}

// RegisterWebhook registers one webhook for the given event set, filtered to
// the integration's project and targeting url, via the Jira Cloud `webhook`
// REST resource. Returns the provider-assigned webhook id as a string.
func (c *Client) RegisterWebhook(ctx context.Context, url string, events []string) (string, error) {
	webhooks := []map[string]interface{}{{
		"events":    events,
		"jqlFilter": fmt.Sprintf("project = %s", c.integration.JiraProjectKey),
	}}
	body, err := c.Do(ctx, http.MethodPost, "/rest/api/3/webhook", map[string]interface{}{
		"url":      url,
		"webhooks": webhooks,
	})
	if err != nil {
		return "", err
	}
	var resp webhookRegistrationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("jira client: decoding webhook registration: %w", err)
	}
	if len(resp.WebhookRegistrationResult) == 0 {
		return "", &ClientError{Type: "api_error", Message: "jira returned no registered webhook ids", Context: "webhook"}
	}
	return strconv.Itoa(resp.WebhookRegistrationResult[0].CreatedWebhookID), nil
}

// DeregisterWebhook removes a previously-registered webhook by id. Callers
// treat this as best-effort during disconnect: log and continue on error
// rather than failing the surrounding operation.
func (c *Client) DeregisterWebhook(ctx context.Context, webhookID string) error {
	_, err := c.Do(ctx, http.MethodDelete, "/rest/api/3/webhook", map[string]interface{}{
		"webhookIds": []string{webhookID},
	})
	return err
}
