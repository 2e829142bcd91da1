package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/jira/sync"
	"github.com/devos-platform/agent-orchestrator/internal/jira/webhook"
)

type fakeIntegrations struct {
	integration *domain.JiraIntegration
}

func (f *fakeIntegrations) GetByProjectKey(ctx context.Context, projectKey string) (*domain.JiraIntegration, error) {
	if f.integration != nil && f.integration.JiraProjectKey == projectKey {
		return f.integration, nil
	}
	return nil, nil
}

type fakeRemover struct {
	deletedIssueID string
}

func (f *fakeRemover) DeleteByJiraIssueID(ctx context.Context, jiraIssueID string) error {
	f.deletedIssueID = jiraIssueID
	return nil
}

type fakeSyncer struct {
	called bool
}

func (f *fakeSyncer) SyncJiraToDevos(ctx context.Context, integrationID, jiraIssueID string, changes []sync.WebhookChange) (*domain.JiraSyncItem, error) {
	f.called = true
	return &domain.JiraSyncItem{}, nil
}

type fakeLogger struct{}

func (fakeLogger) Error(err error, msg string, keysAndValues ...interface{}) {}

func postWebhook(t *testing.T, h *webhook.Handler, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/integrations/jira/webhook", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUnknownProjectKeyIsSilentlyIgnored(t *testing.T) {
	integrations := &fakeIntegrations{}
	syncer := &fakeSyncer{}
	h := webhook.New(integrations, &fakeRemover{}, syncer, fakeLogger{})

	rec := postWebhook(t, h, map[string]interface{}{
		"webhookEvent": "jira:issue_updated",
		"issue":        map[string]string{"id": "1", "key": "UNKNOWN-1"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, syncer.called)
}

func TestIssueUpdatedTriggersSync(t *testing.T) {
	integrations := &fakeIntegrations{integration: &domain.JiraIntegration{ID: "i1", JiraProjectKey: "PROJ", SyncDirection: domain.SyncBidirectional}}
	syncer := &fakeSyncer{}
	h := webhook.New(integrations, &fakeRemover{}, syncer, fakeLogger{})

	rec := postWebhook(t, h, map[string]interface{}{
		"webhookEvent": "jira:issue_updated",
		"issue":        map[string]string{"id": "10001", "key": "PROJ-1"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, syncer.called)
}

func TestIssueDeletedRemovesSyncItem(t *testing.T) {
	integrations := &fakeIntegrations{integration: &domain.JiraIntegration{ID: "i1", JiraProjectKey: "PROJ"}}
	remover := &fakeRemover{}
	h := webhook.New(integrations, remover, &fakeSyncer{}, fakeLogger{})

	postWebhook(t, h, map[string]interface{}{
		"webhookEvent": "jira:issue_deleted",
		"issue":        map[string]string{"id": "10001", "key": "PROJ-1"},
	})

	require.Equal(t, "10001", remover.deletedIssueID)
}

func TestCommentEventIsNoop(t *testing.T) {
	integrations := &fakeIntegrations{integration: &domain.JiraIntegration{ID: "i1", JiraProjectKey: "PROJ"}}
	syncer := &fakeSyncer{}
	h := webhook.New(integrations, &fakeRemover{}, syncer, fakeLogger{})

	rec := postWebhook(t, h, map[string]interface{}{
		"webhookEvent": "comment_created",
		"issue":        map[string]string{"id": "10001", "key": "PROJ-1"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, syncer.called)
}
