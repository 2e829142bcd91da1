package sync_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
	jiraclient "github.com/devos-platform/agent-orchestrator/internal/jira/client"
	"github.com/devos-platform/agent-orchestrator/internal/jira/sync"
	"github.com/devos-platform/agent-orchestrator/internal/storage"
)

type fakeJiraClient struct {
	nextIssueID  string
	nextIssueKey string
	transitions  []jiraclient.Transition
	issues       map[string][]byte
}

func (f *fakeJiraClient) GetIssue(ctx context.Context, issueKey string) ([]byte, error) {
	return f.issues[issueKey], nil
}

func (f *fakeJiraClient) CreateIssue(ctx context.Context, projectKey, issueType, summary string, descriptionADF interface{}, extraFields map[string]interface{}) ([]byte, error) {
	return json.Marshal(map[string]string{"id": f.nextIssueID, "key": f.nextIssueKey})
}

func (f *fakeJiraClient) UpdateIssueFields(ctx context.Context, issueKey string, fields map[string]interface{}) error {
	return nil
}

func (f *fakeJiraClient) ListTransitions(ctx context.Context, issueKey string) ([]jiraclient.Transition, error) {
	return f.transitions, nil
}

func (f *fakeJiraClient) TransitionIssue(ctx context.Context, issueKey, transitionID string) error {
	return nil
}

func newTestService(integrations *storage.MemoryIntegrationStore, stories *storage.MemoryStoryStore, items *storage.MemorySyncItemStore, jc sync.JiraIssueClient, backend cache.CacheBackend) *sync.Service {
	factory := func(ctx context.Context, integration *domain.JiraIntegration) (sync.JiraIssueClient, error) {
		return jc, nil
	}
	return sync.NewService(integrations, stories, items, factory, backend)
}

func TestSyncStoryToJiraCreatesIssueWhenNoLink(t *testing.T) {
	integrations := storage.NewMemoryIntegrationStore()
	stories := storage.NewMemoryStoryStore()
	items := storage.NewMemorySyncItemStore()
	backend := cache.NewMemoryBackend()

	integration := &domain.JiraIntegration{ID: "i1", WorkspaceID: "ws-1", SyncDirection: domain.SyncBidirectional, JiraProjectKey: "PROJ", IssueType: "Story"}
	require.NoError(t, integrations.Create(context.Background(), integration))
	stories.Put(&domain.Story{ID: "s1", WorkspaceID: "ws-1", Title: "Do the thing", Status: "todo"})

	jc := &fakeJiraClient{nextIssueID: "10001", nextIssueKey: "PROJ-1"}
	svc := newTestService(integrations, stories, items, jc, backend)

	item, err := svc.SyncStoryToJira(context.Background(), "ws-1", "s1")
	require.NoError(t, err)
	require.Equal(t, "PROJ-1", item.JiraIssueKey)
	require.Equal(t, domain.SyncStatusSynced, item.SyncStatus)
}

func TestSyncStoryToJiraAbortsOnJiraToDevosDirection(t *testing.T) {
	integrations := storage.NewMemoryIntegrationStore()
	stories := storage.NewMemoryStoryStore()
	items := storage.NewMemorySyncItemStore()
	backend := cache.NewMemoryBackend()

	integration := &domain.JiraIntegration{ID: "i1", WorkspaceID: "ws-1", SyncDirection: domain.SyncJiraToDevos}
	require.NoError(t, integrations.Create(context.Background(), integration))

	jc := &fakeJiraClient{}
	svc := newTestService(integrations, stories, items, jc, backend)

	_, err := svc.SyncStoryToJira(context.Background(), "ws-1", "s1")
	require.Error(t, err)
}

func TestSyncStoryToJiraConflictsOnUnmatchedTransition(t *testing.T) {
	integrations := storage.NewMemoryIntegrationStore()
	stories := storage.NewMemoryStoryStore()
	items := storage.NewMemorySyncItemStore()
	backend := cache.NewMemoryBackend()

	integration := &domain.JiraIntegration{
		ID: "i1", WorkspaceID: "ws-1", SyncDirection: domain.SyncBidirectional,
		JiraProjectKey: "PROJ", IssueType: "Story",
		StatusMapping: map[string]string{"done": "Done"},
	}
	require.NoError(t, integrations.Create(context.Background(), integration))
	stories.Put(&domain.Story{ID: "s1", WorkspaceID: "ws-1", Title: "X", Status: "done"})
	require.NoError(t, items.Save(context.Background(), &domain.JiraSyncItem{JiraIntegrationID: "i1", DevosStoryID: "s1", JiraIssueKey: "PROJ-1", JiraIssueID: "10001"}))

	jc := &fakeJiraClient{transitions: []jiraclient.Transition{{ID: "5", Name: "start", To: struct {
		Name string `json:"name"`
	}{Name: "In Progress"}}}}
	svc := newTestService(integrations, stories, items, jc, backend)

	item, err := svc.SyncStoryToJira(context.Background(), "ws-1", "s1")
	require.NoError(t, err)
	require.Equal(t, domain.SyncStatusConflict, item.SyncStatus)
	require.Equal(t, []string{"status"}, item.ConflictDetails.ConflictedFields)
}

func TestSyncJiraToDevosDetectsConflictWhenDevosChangedSinceSync(t *testing.T) {
	integrations := storage.NewMemoryIntegrationStore()
	stories := storage.NewMemoryStoryStore()
	items := storage.NewMemorySyncItemStore()
	backend := cache.NewMemoryBackend()

	integration := &domain.JiraIntegration{ID: "i1", WorkspaceID: "ws-1", SyncDirection: domain.SyncBidirectional}
	require.NoError(t, integrations.Create(context.Background(), integration))

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	earlier := time.Date(2026, 7, 31, 11, 0, 0, 0, time.UTC)
	require.NoError(t, items.Save(context.Background(), &domain.JiraSyncItem{
		JiraIntegrationID: "i1", DevosStoryID: "s1", JiraIssueKey: "PROJ-1", JiraIssueID: "10001",
		LastSyncedAt: &earlier, LastDevosUpdateAt: &now,
	}))

	jc := &fakeJiraClient{}
	svc := newTestService(integrations, stories, items, jc, backend)

	item, err := svc.SyncJiraToDevos(context.Background(), "i1", "10001", []sync.WebhookChange{{Field: "summary"}})
	require.NoError(t, err)
	require.Equal(t, domain.SyncStatusConflict, item.SyncStatus)
}
