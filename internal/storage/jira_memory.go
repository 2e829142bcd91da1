package storage

import (
	"context"
	"strconv"
	"sync"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
)

// MemoryIntegrationStore is an in-memory jira/oauth.IntegrationStore and
// jira/sync.IntegrationStore for tests.
type MemoryIntegrationStore struct {
	mu          sync.Mutex
	byID        map[string]*domain.JiraIntegration
	byWorkspace map[string]*domain.JiraIntegration
}

func NewMemoryIntegrationStore() *MemoryIntegrationStore {
	return &MemoryIntegrationStore{
		byID:        make(map[string]*domain.JiraIntegration),
		byWorkspace: make(map[string]*domain.JiraIntegration),
	}
}

func (s *MemoryIntegrationStore) GetByWorkspace(ctx context.Context, workspaceID string) (*domain.JiraIntegration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byWorkspace[workspaceID], nil
}

func (s *MemoryIntegrationStore) GetByID(ctx context.Context, id string) (*domain.JiraIntegration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id], nil
}

func (s *MemoryIntegrationStore) Create(ctx context.Context, integration *domain.JiraIntegration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[integration.ID] = integration
	s.byWorkspace[integration.WorkspaceID] = integration
	return nil
}

func (s *MemoryIntegrationStore) Update(ctx context.Context, integration *domain.JiraIntegration) error {
	return s.Create(ctx, integration)
}

func (s *MemoryIntegrationStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[id]; ok {
		delete(s.byWorkspace, existing.WorkspaceID)
	}
	delete(s.byID, id)
	return nil
}

func (s *MemoryIntegrationStore) IncrementErrorCount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if integration, ok := s.byID[id]; ok {
		integration.ErrorCount++
	}
	return nil
}

// GetByProjectKey resolves the active integration whose JiraProjectKey
// matches, used by the webhook handler to route an inbound issue event.
func (s *MemoryIntegrationStore) GetByProjectKey(ctx context.Context, projectKey string) (*domain.JiraIntegration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, integration := range s.byID {
		if integration.JiraProjectKey == projectKey && integration.IsActive {
			return integration, nil
		}
	}
	return nil, nil
}

// MemoryStoryStore is an in-memory jira/sync.StoryStore for tests.
type MemoryStoryStore struct {
	mu      sync.Mutex
	stories map[string]*domain.Story
}

func NewMemoryStoryStore() *MemoryStoryStore {
	return &MemoryStoryStore{stories: make(map[string]*domain.Story)}
}

func (s *MemoryStoryStore) Put(story *domain.Story) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stories[story.ID] = story
}

func (s *MemoryStoryStore) GetByID(ctx context.Context, storyID string) (*domain.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stories[storyID], nil
}

func (s *MemoryStoryStore) Save(ctx context.Context, story *domain.Story) error {
	s.Put(story)
	return nil
}

// MemorySyncItemStore is an in-memory jira/sync.SyncItemStore for tests.
type MemorySyncItemStore struct {
	mu    sync.Mutex
	items map[string]*domain.JiraSyncItem
	seq   int
}

func NewMemorySyncItemStore() *MemorySyncItemStore {
	return &MemorySyncItemStore{items: make(map[string]*domain.JiraSyncItem)}
}

func (s *MemorySyncItemStore) GetByStoryID(ctx context.Context, storyID string) (*domain.JiraSyncItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.DevosStoryID == storyID {
			return item, nil
		}
	}
	return nil, nil
}

func (s *MemorySyncItemStore) GetByJiraIssueID(ctx context.Context, jiraIssueID string) (*domain.JiraSyncItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.JiraIssueID == jiraIssueID {
			return item, nil
		}
	}
	return nil, nil
}

func (s *MemorySyncItemStore) GetByID(ctx context.Context, id string) (*domain.JiraSyncItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id], nil
}

func (s *MemorySyncItemStore) ListByIntegration(ctx context.Context, integrationID string) ([]*domain.JiraSyncItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.JiraSyncItem
	for _, item := range s.items {
		if item.JiraIntegrationID == integrationID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *MemorySyncItemStore) Save(ctx context.Context, item *domain.JiraSyncItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		s.seq++
		item.ID = "sync-item-" + strconv.Itoa(s.seq)
	}
	s.items[item.ID] = item
	return nil
}

func (s *MemorySyncItemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

// DeleteByJiraIssueID removes the sync item linked to jiraIssueID, if any.
func (s *MemorySyncItemStore) DeleteByJiraIssueID(ctx context.Context, jiraIssueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, item := range s.items {
		if item.JiraIssueID == jiraIssueID {
			delete(s.items, id)
			return nil
		}
	}
	return nil
}
