// Package webhook implements the public Jira webhook endpoint: routing an
// inbound event to the integration whose project key prefixes the issue
// key, and forwarding issue_created/updated/deleted into the sync engine.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/jira/sync"
)

// IntegrationLookup resolves the active integration that owns a project
// key, derived from the issue key prefix (e.g. "PROJ-123" -> "PROJ").
type IntegrationLookup interface {
	GetByProjectKey(ctx context.Context, projectKey string) (*domain.JiraIntegration, error)
}

// SyncItemRemover deletes the sync item linked to a Jira issue, used on
// issue_deleted.
type SyncItemRemover interface {
	DeleteByJiraIssueID(ctx context.Context, jiraIssueID string) error
}

// Syncer is the seam the webhook calls to reverse-sync an issue update —
// satisfied by *internal/jira/sync.Service.
type Syncer interface {
	SyncJiraToDevos(ctx context.Context, integrationID, jiraIssueID string, changes []sync.WebhookChange) (*domain.JiraSyncItem, error)
}

// Logger mirrors go-logr/logr.Logger's Error signature.
type Logger interface {
	Error(err error, msg string, keysAndValues ...interface{})
}

// Handler is the http.Handler mounted at the public Jira webhook path.
type Handler struct {
	integrations IntegrationLookup
	items        SyncItemRemover
	syncer       Syncer
	logger       Logger
}

// New builds a webhook Handler.
func New(integrations IntegrationLookup, items SyncItemRemover, syncer Syncer, logger Logger) *Handler {
	return &Handler{integrations: integrations, items: items, syncer: syncer, logger: logger}
}

type inboundChangelogItem struct {
	Field string `json:"field"`
}

type inboundPayload struct {
	WebhookEvent string `json:"webhookEvent"`
	Issue        struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
	} `json:"issue"`
	Changelog struct {
		Items []inboundChangelogItem `json:"items"`
	} `json:"changelog"`
}

func projectKeyOf(issueKey string) string {
	idx := strings.LastIndex(issueKey, "-")
	if idx < 0 {
		return issueKey
	}
	return issueKey[:idx]
}

// ServeHTTP always responds 200 {"success":true} — per the webhook
// contract, Jira should never see an error response for an event this
// handler chooses to ignore.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}()

	var payload inboundPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Error(err, "jira webhook: decoding payload")
		return
	}
	if payload.Issue.Key == "" {
		return
	}

	ctx := r.Context()
	integration, err := h.integrations.GetByProjectKey(ctx, projectKeyOf(payload.Issue.Key))
	if err != nil {
		h.logger.Error(err, "jira webhook: resolving integration", "issueKey", payload.Issue.Key)
		return
	}
	if integration == nil {
		return
	}

	switch payload.WebhookEvent {
	case "jira:issue_created":
		if integration.SyncDirection == domain.SyncDevosToJira {
			return
		}
		h.syncFromJira(ctx, integration, payload)
	case "jira:issue_updated":
		h.syncFromJira(ctx, integration, payload)
	case "jira:issue_deleted":
		if err := h.items.DeleteByJiraIssueID(ctx, payload.Issue.ID); err != nil {
			h.logger.Error(err, "jira webhook: removing sync item", "issueId", payload.Issue.ID)
		}
	case "comment_created", "comment_updated":
		// Accepted, no-op: comments are not part of the synced field set.
	default:
	}
}

func (h *Handler) syncFromJira(ctx context.Context, integration *domain.JiraIntegration, payload inboundPayload) {
	changes := make([]sync.WebhookChange, 0, len(payload.Changelog.Items))
	for _, item := range payload.Changelog.Items {
		changes = append(changes, sync.WebhookChange{Field: item.Field})
	}
	if _, err := h.syncer.SyncJiraToDevos(ctx, integration.ID, payload.Issue.ID, changes); err != nil {
		h.logger.Error(err, "jira webhook: sync-from-jira failed", "issueId", payload.Issue.ID)
	}
}
