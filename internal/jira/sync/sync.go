// Package sync implements the bidirectional DevOS<->Jira story sync
// engine: pushing story changes to Jira, reverse-mapping Jira webhook
// updates back onto stories, conflict detection and resolution, and the
// bulk fullSync admin operation.
package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devos-platform/agent-orchestrator/internal/cache"
	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/errs"
	"github.com/devos-platform/agent-orchestrator/internal/jira/adf"
	jiraclient "github.com/devos-platform/agent-orchestrator/internal/jira/client"
)

var _ JiraIssueClient = (*jiraclient.Client)(nil)

// SyncLockTTL bounds the per-story/per-issue lock acquired around one
// sync operation, so a slow Jira call can't hold the lock forever.
const SyncLockTTL = 30 * time.Second

// JiraIssueClient is the seam this package depends on for all outbound
// Jira REST calls — satisfied by *internal/jira/client.Client.
type JiraIssueClient interface {
	GetIssue(ctx context.Context, issueKey string) ([]byte, error)
	CreateIssue(ctx context.Context, projectKey, issueType, summary string, descriptionADF interface{}, extraFields map[string]interface{}) ([]byte, error)
	UpdateIssueFields(ctx context.Context, issueKey string, fields map[string]interface{}) error
	ListTransitions(ctx context.Context, issueKey string) ([]jiraclient.Transition, error)
	TransitionIssue(ctx context.Context, issueKey, transitionID string) error
}

// ClientFactory resolves the per-integration Jira client, since every
// integration has its own token and rate-limit window.
type ClientFactory func(ctx context.Context, integration *domain.JiraIntegration) (JiraIssueClient, error)

// IntegrationStore reads integrations by workspace or id.
type IntegrationStore interface {
	GetByWorkspace(ctx context.Context, workspaceID string) (*domain.JiraIntegration, error)
	GetByID(ctx context.Context, id string) (*domain.JiraIntegration, error)
	IncrementErrorCount(ctx context.Context, id string) error
}

// StoryStore reads/writes stories.
type StoryStore interface {
	GetByID(ctx context.Context, storyID string) (*domain.Story, error)
	Save(ctx context.Context, story *domain.Story) error
}

// SyncItemStore reads/writes JiraSyncItem rows.
type SyncItemStore interface {
	GetByStoryID(ctx context.Context, storyID string) (*domain.JiraSyncItem, error)
	GetByJiraIssueID(ctx context.Context, jiraIssueID string) (*domain.JiraSyncItem, error)
	GetByID(ctx context.Context, id string) (*domain.JiraSyncItem, error)
	ListByIntegration(ctx context.Context, integrationID string) ([]*domain.JiraSyncItem, error)
	Save(ctx context.Context, item *domain.JiraSyncItem) error
	Delete(ctx context.Context, id string) error
}

// Service implements syncStoryToJira, syncJiraToDevos, resolveConflict,
// linkStoryToIssue, and fullSync.
type Service struct {
	integrations IntegrationStore
	stories      StoryStore
	items        SyncItemStore
	clients      ClientFactory
	backend      cache.CacheBackend
}

// NewService wires a sync Service from its dependencies.
func NewService(integrations IntegrationStore, stories StoryStore, items SyncItemStore, clients ClientFactory, backend cache.CacheBackend) *Service {
	return &Service{integrations: integrations, stories: stories, items: items, clients: clients, backend: backend}
}

func lockKey(kind, id string) string { return "jira-sync-lock:" + kind + ":" + id }

func (s *Service) withLock(ctx context.Context, kind, id string, fn func() error) error {
	ok, err := s.backend.SetNX(ctx, lockKey(kind, id), "1", SyncLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return &errs.ConflictException{Resource: kind, Message: "sync already in progress for " + id + ", retry"}
	}
	defer func() { _ = s.backend.Del(ctx, lockKey(kind, id)) }()
	return fn()
}

func findTransitionTo(transitions []jiraclient.Transition, targetStatus string) (id string, ok bool) {
	for _, t := range transitions {
		if strings.EqualFold(t.To.Name, targetStatus) {
			return t.ID, true
		}
	}
	return "", false
}

func reverseLookupStatus(statusMapping map[string]string, jiraStatus string) (devosStatus string, ok bool) {
	for devos, jira := range statusMapping {
		if strings.EqualFold(jira, jiraStatus) {
			return devos, true
		}
	}
	return "", false
}

// SyncStoryToJira pushes one story's current state to its linked (or
// newly created) Jira issue.
func (s *Service) SyncStoryToJira(ctx context.Context, workspaceID, storyID string) (*domain.JiraSyncItem, error) {
	integration, err := s.integrations.GetByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, &errs.NotFoundException{Resource: "jira integration", ID: workspaceID}
	}
	if integration.SyncDirection == domain.SyncJiraToDevos {
		item, err := s.items.GetByStoryID(ctx, storyID)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, &errs.NotFoundException{Resource: "jira sync item", ID: storyID}
		}
		return item, nil
	}

	var result *domain.JiraSyncItem
	err = s.withLock(ctx, "story", storyID, func() error {
		story, err := s.stories.GetByID(ctx, storyID)
		if err != nil {
			return err
		}
		if story == nil {
			return &errs.NotFoundException{Resource: "story", ID: storyID}
		}

		jiraClient, err := s.clients(ctx, integration)
		if err != nil {
			return err
		}

		item, err := s.items.GetByStoryID(ctx, storyID)
		if err != nil {
			return err
		}

		now := time.Now()
		if item == nil {
			item, err = s.createJiraIssueForStory(ctx, jiraClient, integration, story)
			if err != nil {
				_ = s.integrations.IncrementErrorCount(ctx, integration.ID)
				return err
			}
			item.SyncStatus = domain.SyncStatusSynced
			item.SyncDirectionLast = domain.SyncDevosToJira
			item.LastSyncedAt = &now
			item.LastDevosUpdateAt = &now
			result = item
			return s.items.Save(ctx, item)
		}

		if err := s.pushStoryUpdate(ctx, jiraClient, integration, story, item); err != nil {
			item.SyncStatus = domain.SyncStatusError
			item.ErrorMessage = err.Error()
			_ = s.items.Save(ctx, item)
			_ = s.integrations.IncrementErrorCount(ctx, integration.ID)
			return err
		}
		result = item
		return s.items.Save(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) createJiraIssueForStory(ctx context.Context, jiraClient JiraIssueClient, integration *domain.JiraIntegration, story *domain.Story) (*domain.JiraSyncItem, error) {
	description := adf.ConvertToAdf(story.Description)
	raw, err := jiraClient.CreateIssue(ctx, integration.JiraProjectKey, integration.IssueType, story.Title, description, nil)
	if err != nil {
		return nil, err
	}
	issueID, issueKey, err := parseCreatedIssue(raw)
	if err != nil {
		return nil, err
	}

	if target, ok := integration.StatusMapping[story.Status]; ok {
		transitions, err := jiraClient.ListTransitions(ctx, issueKey)
		if err == nil {
			if id, found := findTransitionTo(transitions, target); found {
				_ = jiraClient.TransitionIssue(ctx, issueKey, id)
			}
		}
	}

	return &domain.JiraSyncItem{
		JiraIntegrationID: integration.ID,
		DevosStoryID:      story.ID,
		JiraIssueKey:      issueKey,
		JiraIssueID:       issueID,
		JiraIssueType:     integration.IssueType,
	}, nil
}

func (s *Service) pushStoryUpdate(ctx context.Context, jiraClient JiraIssueClient, integration *domain.JiraIntegration, story *domain.Story, item *domain.JiraSyncItem) error {
	description := adf.ConvertToAdf(story.Description)
	if err := jiraClient.UpdateIssueFields(ctx, item.JiraIssueKey, map[string]interface{}{
		"summary":     story.Title,
		"description": description,
	}); err != nil {
		return err
	}

	target, hasMapping := integration.StatusMapping[story.Status]
	if !hasMapping {
		now := time.Now()
		item.SyncStatus = domain.SyncStatusSynced
		item.SyncDirectionLast = domain.SyncDevosToJira
		item.LastSyncedAt = &now
		return nil
	}

	transitions, err := jiraClient.ListTransitions(ctx, item.JiraIssueKey)
	if err != nil {
		return err
	}
	id, found := findTransitionTo(transitions, target)
	if !found {
		item.SyncStatus = domain.SyncStatusConflict
		item.ConflictDetails = &domain.ConflictDetails{
			ConflictedFields: []string{"status"},
			DevosValue:       story.Status,
			JiraValue:        target,
			DetectedAt:       time.Now(),
		}
		return nil
	}
	if err := jiraClient.TransitionIssue(ctx, item.JiraIssueKey, id); err != nil {
		return err
	}

	now := time.Now()
	item.SyncStatus = domain.SyncStatusSynced
	item.SyncDirectionLast = domain.SyncDevosToJira
	item.LastSyncedAt = &now
	item.ConflictDetails = nil
	return nil
}

// WebhookChange is the subset of a Jira webhook changelog this package
// reads to build ConflictDetails.ConflictedFields.
type WebhookChange struct {
	Field string
}

// SyncJiraToDevos reverse-maps a Jira-originated change onto the linked
// story, or flags a conflict if DevOS changed first.
func (s *Service) SyncJiraToDevos(ctx context.Context, integrationID, jiraIssueID string, changes []WebhookChange) (*domain.JiraSyncItem, error) {
	integration, err := s.integrations.GetByID(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, &errs.NotFoundException{Resource: "jira integration", ID: integrationID}
	}
	if integration.SyncDirection == domain.SyncDevosToJira {
		return nil, nil
	}

	var result *domain.JiraSyncItem
	err = s.withLock(ctx, "issue", jiraIssueID, func() error {
		item, err := s.items.GetByJiraIssueID(ctx, jiraIssueID)
		if err != nil {
			return err
		}
		if item == nil {
			return nil
		}
		result = item

		if item.DevosChangedSinceSync() {
			fields := make([]string, 0, len(changes))
			for _, c := range changes {
				fields = append(fields, c.Field)
			}
			item.SyncStatus = domain.SyncStatusConflict
			item.ConflictDetails = &domain.ConflictDetails{ConflictedFields: fields, DetectedAt: time.Now()}
			return s.items.Save(ctx, item)
		}

		jiraClient, err := s.clients(ctx, integration)
		if err != nil {
			return err
		}
		raw, err := jiraClient.GetIssue(ctx, item.JiraIssueKey)
		if err != nil {
			return err
		}
		summary, description, statusName, err := parseIssue(raw)
		if err != nil {
			return err
		}

		story, err := s.stories.GetByID(ctx, item.DevosStoryID)
		if err != nil {
			return err
		}
		if story == nil {
			return &errs.NotFoundException{Resource: "story", ID: item.DevosStoryID}
		}
		story.Title = summary
		story.Description = adf.ConvertFromAdf(description)
		if devosStatus, ok := reverseLookupStatus(integration.StatusMapping, statusName); ok {
			story.Status = devosStatus
		}
		if err := s.stories.Save(ctx, story); err != nil {
			return err
		}

		now := time.Now()
		item.SyncStatus = domain.SyncStatusSynced
		item.SyncDirectionLast = domain.SyncJiraToDevos
		item.LastSyncedAt = &now
		item.LastJiraUpdateAt = &now
		return s.items.Save(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveKeep picks which side wins a conflict.
type ResolveKeep string

const (
	KeepDevos ResolveKeep = "keep_devos"
	KeepJira  ResolveKeep = "keep_jira"
)

// ResolveConflict clears a sync item's conflict by pushing one side's
// state onto the other.
func (s *Service) ResolveConflict(ctx context.Context, workspaceID, syncItemID string, keep ResolveKeep) (*domain.JiraSyncItem, error) {
	item, err := s.items.GetByID(ctx, syncItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &errs.NotFoundException{Resource: "jira sync item", ID: syncItemID}
	}
	integration, err := s.integrations.GetByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, &errs.NotFoundException{Resource: "jira integration", ID: workspaceID}
	}

	switch keep {
	case KeepDevos:
		if _, err := s.SyncStoryToJira(ctx, workspaceID, item.DevosStoryID); err != nil {
			return nil, err
		}
	case KeepJira:
		if _, err := s.SyncJiraToDevos(ctx, integration.ID, item.JiraIssueID, nil); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("sync: unknown resolution %q", keep)
	}

	refreshed, err := s.items.GetByID(ctx, syncItemID)
	if err != nil {
		return nil, err
	}
	refreshed.ConflictDetails = nil
	refreshed.SyncStatus = domain.SyncStatusSynced
	if keep == KeepDevos {
		refreshed.SyncDirectionLast = domain.SyncDevosToJira
	} else {
		refreshed.SyncDirectionLast = domain.SyncJiraToDevos
	}
	return refreshed, s.items.Save(ctx, refreshed)
}

// LinkStoryToIssue creates a JiraSyncItem binding an existing story to an
// existing Jira issue, without pushing any field changes either way.
func (s *Service) LinkStoryToIssue(ctx context.Context, workspaceID, storyID, jiraIssueKey string) (*domain.JiraSyncItem, error) {
	integration, err := s.integrations.GetByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, &errs.NotFoundException{Resource: "jira integration", ID: workspaceID}
	}

	if existing, err := s.items.GetByStoryID(ctx, storyID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &errs.ConflictException{Resource: "jira sync item", Message: "story " + storyID + " is already linked"}
	}

	story, err := s.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story == nil || story.WorkspaceID != workspaceID {
		return nil, &errs.NotFoundException{Resource: "story", ID: storyID}
	}

	jiraClient, err := s.clients(ctx, integration)
	if err != nil {
		return nil, err
	}
	raw, err := jiraClient.GetIssue(ctx, jiraIssueKey)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, &errs.NotFoundException{Resource: "jira issue", ID: jiraIssueKey}
	}
	issueID, _, _ := parseIssueIdentity(raw)

	item := &domain.JiraSyncItem{
		JiraIntegrationID: integration.ID,
		DevosStoryID:      storyID,
		JiraIssueKey:      jiraIssueKey,
		JiraIssueID:       issueID,
		SyncStatus:        domain.SyncStatusPending,
	}
	return item, s.items.Save(ctx, item)
}

// FullSyncResult aggregates counts across a fullSync run. New issues are
// counted under Updated — the created/updated split described by the
// sync engine treats first-time creation as happening per-story
// elsewhere, so a bulk run never increments Created itself.
type FullSyncResult struct {
	Created   int
	Updated   int
	Conflicts int
	Errors    int
}

// FullSync re-runs SyncStoryToJira for every existing sync item under an
// integration and aggregates the outcome counts.
func (s *Service) FullSync(ctx context.Context, workspaceID string) (*FullSyncResult, error) {
	integration, err := s.integrations.GetByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, &errs.NotFoundException{Resource: "jira integration", ID: workspaceID}
	}

	items, err := s.items.ListByIntegration(ctx, integration.ID)
	if err != nil {
		return nil, err
	}

	result := &FullSyncResult{}
	for _, item := range items {
		updated, err := s.SyncStoryToJira(ctx, workspaceID, item.DevosStoryID)
		if err != nil {
			result.Errors++
			continue
		}
		switch updated.SyncStatus {
		case domain.SyncStatusConflict:
			result.Conflicts++
		default:
			result.Updated++
		}
	}
	return result, nil
}
