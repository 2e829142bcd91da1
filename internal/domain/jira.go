package domain

import "time"

// SyncDirection controls which side of a linked story/issue pair is
// authoritative for a given field.
type SyncDirection string

const (
	SyncDevosToJira  SyncDirection = "devos_to_jira"
	SyncJiraToDevos  SyncDirection = "jira_to_devos"
	SyncBidirectional SyncDirection = "bidirectional"
)

// JiraIntegration is the one-per-workspace connection record. Token fields
// are stored encrypted; callers must go through internal/secrets to obtain
// plaintext, and must never log the encrypted or decrypted values.
type JiraIntegration struct {
	ID                 string            `json:"id" db:"id"`
	WorkspaceID        string            `json:"workspaceId" db:"workspace_id"`
	CloudID            string            `json:"cloudId" db:"cloud_id"`
	JiraSiteURL        string            `json:"jiraSiteUrl" db:"jira_site_url"`
	JiraProjectKey     string            `json:"jiraProjectKey" db:"jira_project_key"`
	JiraProjectName    string            `json:"jiraProjectName,omitempty" db:"jira_project_name"`
	IssueType          string            `json:"issueType" db:"issue_type"`
	SyncDirection      SyncDirection     `json:"syncDirection" db:"sync_direction"`
	StatusMapping      map[string]string `json:"statusMapping" db:"-"`
	FieldMapping       map[string]string `json:"fieldMapping" db:"-"`
	AccessToken        string            `json:"-" db:"access_token"`
	AccessTokenIV      string            `json:"-" db:"access_token_iv"`
	RefreshToken       string            `json:"-" db:"refresh_token"`
	RefreshTokenIV     string            `json:"-" db:"refresh_token_iv"`
	TokenExpiresAt     time.Time         `json:"tokenExpiresAt" db:"token_expires_at"`
	WebhookID          string            `json:"webhookId,omitempty" db:"webhook_id"`
	WebhookSecret      string            `json:"-" db:"webhook_secret"`
	IsActive           bool              `json:"isActive" db:"is_active"`
	ErrorCount         int               `json:"errorCount" db:"error_count"`
	SyncCount          int               `json:"syncCount" db:"sync_count"`
	LastSyncAt         *time.Time        `json:"lastSyncAt,omitempty" db:"last_sync_at"`
	LastError          string            `json:"lastError,omitempty" db:"last_error"`
	LastErrorAt        *time.Time        `json:"lastErrorAt,omitempty" db:"last_error_at"`
	ConnectedBy        string            `json:"connectedBy" db:"connected_by"`
}

// SyncStatus is the state of a JiraSyncItem.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusError    SyncStatus = "error"
)

// ConflictDetails records the dueling values the operator must reconcile
// when a JiraSyncItem enters syncStatus=conflict.
type ConflictDetails struct {
	DevosValue       interface{} `json:"devosValue"`
	JiraValue        interface{} `json:"jiraValue"`
	ConflictedFields []string    `json:"conflictedFields"`
	DetectedAt       time.Time   `json:"detectedAt"`
}

// JiraSyncItem links exactly one Story to one Jira issue within one
// integration.
type JiraSyncItem struct {
	ID                string           `json:"id" db:"id"`
	JiraIntegrationID  string           `json:"jiraIntegrationId" db:"jira_integration_id"`
	DevosStoryID       string           `json:"devosStoryId" db:"devos_story_id"`
	JiraIssueKey       string           `json:"jiraIssueKey" db:"jira_issue_key"`
	JiraIssueID        string           `json:"jiraIssueId" db:"jira_issue_id"`
	JiraIssueType      string           `json:"jiraIssueType,omitempty" db:"jira_issue_type"`
	SyncStatus         SyncStatus       `json:"syncStatus" db:"sync_status"`
	SyncDirectionLast  SyncDirection    `json:"syncDirectionLast,omitempty" db:"sync_direction_last"`
	LastSyncedAt       *time.Time       `json:"lastSyncedAt,omitempty" db:"last_synced_at"`
	LastDevosUpdateAt  *time.Time       `json:"lastDevosUpdateAt,omitempty" db:"last_devos_update_at"`
	LastJiraUpdateAt   *time.Time       `json:"lastJiraUpdateAt,omitempty" db:"last_jira_update_at"`
	ErrorMessage       string           `json:"errorMessage,omitempty" db:"error_message"`
	ConflictDetails    *ConflictDetails `json:"conflictDetails,omitempty" db:"-"`
}

// DevosChangedSinceSync reports whether the DevOS side changed after the
// last sync — one half of the conflict predicate (set iff the DevOS side
// changed since the last sync AND a Jira update then arrived); the caller
// supplies the "a Jira update arrived" half from its own event.
func (i *JiraSyncItem) DevosChangedSinceSync() bool {
	if i.LastDevosUpdateAt == nil || i.LastSyncedAt == nil {
		return false
	}
	return i.LastDevosUpdateAt.After(*i.LastSyncedAt)
}

// SecretProvider enumerates the BYOK key providers.
type SecretProvider string

const (
	ProviderAnthropic SecretProvider = "anthropic"
	ProviderOpenAI    SecretProvider = "openai"
)

// Secret is one BYOK key row (table `byok_secrets`).
type Secret struct {
	ID              string         `json:"id" db:"id"`
	WorkspaceID     string         `json:"workspaceId" db:"workspace_id"`
	KeyName         string         `json:"keyName" db:"key_name"`
	Provider        SecretProvider `json:"provider" db:"provider"`
	EncryptedKey    string         `json:"-" db:"encrypted_key"`
	EncryptionIV    string         `json:"-" db:"encryption_iv"`
	CreatedByUserID string         `json:"createdByUserId" db:"created_by_user_id"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time      `json:"updatedAt" db:"updated_at"`
	LastUsedAt      *time.Time     `json:"lastUsedAt,omitempty" db:"last_used_at"`
	IsActive        bool           `json:"isActive" db:"is_active"`
}
