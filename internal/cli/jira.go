package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/jira/oauth"
	"github.com/devos-platform/agent-orchestrator/internal/jira/sync"
)

var jiraCmd = &cobra.Command{
	Use:   "jira",
	Short: "Manage the Jira OAuth connection and bidirectional story sync",
}

var jiraAuthURLCmd = &cobra.Command{
	Use:   "auth-url",
	Short: "Print the Atlassian consent-screen URL to connect a workspace",
	RunE:  runJiraAuthURL,
}

var jiraCompleteSetupCmd = &cobra.Command{
	Use:   "complete-setup",
	Short: "Bind a connected integration to a project and activate it",
	RunE:  runJiraCompleteSetup,
}

var jiraDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Remove the Jira webhook (best-effort) and delete the integration",
	RunE:  runJiraDisconnect,
}

var jiraPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push one story's current state to its linked Jira issue",
	RunE:  runJiraPush,
}

var jiraLinkCmd = &cobra.Command{
	Use:   "link",
	Short: "Bind an existing story to an existing Jira issue without pushing field changes",
	RunE:  runJiraLink,
}

var jiraResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a sync item's conflict by keeping one side's state",
	RunE:  runJiraResolve,
}

var jiraFullSyncCmd = &cobra.Command{
	Use:   "full-sync",
	Short: "Re-push every linked sync item under a workspace's integration",
	RunE:  runJiraFullSync,
}

func init() {
	jiraAuthURLCmd.Flags().String("workspace", "", "Workspace ID (required)")
	jiraAuthURLCmd.Flags().String("user", "", "Initiating user ID (required)")
	_ = jiraAuthURLCmd.MarkFlagRequired("workspace")
	_ = jiraAuthURLCmd.MarkFlagRequired("user")

	jiraCompleteSetupCmd.Flags().String("integration", "", "Pending integration ID (required)")
	jiraCompleteSetupCmd.Flags().String("cloud-id", "", "Atlassian cloud ID (required)")
	jiraCompleteSetupCmd.Flags().String("site-url", "", "Jira site URL (required)")
	jiraCompleteSetupCmd.Flags().String("project-key", "", "Jira project key (required)")
	jiraCompleteSetupCmd.Flags().String("project-name", "", "Jira project name")
	jiraCompleteSetupCmd.Flags().String("issue-type", "Task", "Jira issue type for new issues")
	jiraCompleteSetupCmd.Flags().StringToString("status-mapping", nil, "devosStatus=jiraStatus, repeatable")
	jiraCompleteSetupCmd.Flags().StringToString("field-mapping", nil, "devosField=jiraField, repeatable")
	jiraCompleteSetupCmd.Flags().String("direction", string(domain.SyncBidirectional), "devos_to_jira, jira_to_devos, or bidirectional")
	_ = jiraCompleteSetupCmd.MarkFlagRequired("integration")
	_ = jiraCompleteSetupCmd.MarkFlagRequired("cloud-id")
	_ = jiraCompleteSetupCmd.MarkFlagRequired("site-url")
	_ = jiraCompleteSetupCmd.MarkFlagRequired("project-key")

	jiraDisconnectCmd.Flags().String("integration", "", "Integration ID (required)")
	_ = jiraDisconnectCmd.MarkFlagRequired("integration")

	jiraPushCmd.Flags().String("workspace", "", "Workspace ID (required)")
	jiraPushCmd.Flags().String("story", "", "Story ID (required)")
	_ = jiraPushCmd.MarkFlagRequired("workspace")
	_ = jiraPushCmd.MarkFlagRequired("story")

	jiraLinkCmd.Flags().String("workspace", "", "Workspace ID (required)")
	jiraLinkCmd.Flags().String("story", "", "Story ID (required)")
	jiraLinkCmd.Flags().String("issue", "", "Jira issue key, e.g. PROJ-123 (required)")
	_ = jiraLinkCmd.MarkFlagRequired("workspace")
	_ = jiraLinkCmd.MarkFlagRequired("story")
	_ = jiraLinkCmd.MarkFlagRequired("issue")

	jiraResolveCmd.Flags().String("workspace", "", "Workspace ID (required)")
	jiraResolveCmd.Flags().String("sync-item", "", "Sync item ID (required)")
	jiraResolveCmd.Flags().String("keep", "", "keep_devos or keep_jira (required)")
	_ = jiraResolveCmd.MarkFlagRequired("workspace")
	_ = jiraResolveCmd.MarkFlagRequired("sync-item")
	_ = jiraResolveCmd.MarkFlagRequired("keep")

	jiraFullSyncCmd.Flags().String("workspace", "", "Workspace ID (required)")
	_ = jiraFullSyncCmd.MarkFlagRequired("workspace")

	jiraCmd.AddCommand(jiraAuthURLCmd, jiraCompleteSetupCmd, jiraDisconnectCmd, jiraPushCmd, jiraLinkCmd, jiraResolveCmd, jiraFullSyncCmd)
	rootCmd.AddCommand(jiraCmd)
}

func runJiraAuthURL(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	workspace, _ := cmd.Flags().GetString("workspace")
	user, _ := cmd.Flags().GetString("user")
	url, err := app.OAuthSvc.AuthorizationURL(ctx, workspace, user)
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}

func runJiraCompleteSetup(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	integrationID, _ := cmd.Flags().GetString("integration")
	cloudID, _ := cmd.Flags().GetString("cloud-id")
	siteURL, _ := cmd.Flags().GetString("site-url")
	projectKey, _ := cmd.Flags().GetString("project-key")
	projectName, _ := cmd.Flags().GetString("project-name")
	issueType, _ := cmd.Flags().GetString("issue-type")
	statusMapping, _ := cmd.Flags().GetStringToString("status-mapping")
	fieldMapping, _ := cmd.Flags().GetStringToString("field-mapping")
	direction, _ := cmd.Flags().GetString("direction")

	integration, err := app.OAuthSvc.CompleteSetup(ctx, oauth.CompleteSetupRequest{
		IntegrationID: integrationID,
		CloudID:       cloudID,
		SiteURL:       siteURL,
		ProjectKey:    projectKey,
		ProjectName:   projectName,
		IssueType:     issueType,
		StatusMapping: statusMapping,
		FieldMapping:  fieldMapping,
		SyncDirection: domain.SyncDirection(direction),
	})
	if err != nil {
		return err
	}
	fmt.Printf("integration %s active for project %s (webhook=%s)\n", integration.ID, integration.JiraProjectKey, integration.WebhookID)
	if integration.LastError != "" {
		fmt.Printf("warning: %s\n", integration.LastError)
	}
	return nil
}

func runJiraDisconnect(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	integrationID, _ := cmd.Flags().GetString("integration")
	if err := app.OAuthSvc.Disconnect(ctx, integrationID); err != nil {
		return err
	}
	fmt.Printf("disconnected integration %s\n", integrationID)
	return nil
}

func runJiraPush(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	workspace, _ := cmd.Flags().GetString("workspace")
	story, _ := cmd.Flags().GetString("story")
	item, err := app.SyncSvc.SyncStoryToJira(ctx, workspace, story)
	if err != nil {
		return err
	}
	printSyncItem(item)
	return nil
}

func runJiraLink(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	workspace, _ := cmd.Flags().GetString("workspace")
	story, _ := cmd.Flags().GetString("story")
	issue, _ := cmd.Flags().GetString("issue")
	item, err := app.SyncSvc.LinkStoryToIssue(ctx, workspace, story, issue)
	if err != nil {
		return err
	}
	printSyncItem(item)
	return nil
}

func runJiraResolve(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	workspace, _ := cmd.Flags().GetString("workspace")
	syncItemID, _ := cmd.Flags().GetString("sync-item")
	keep, _ := cmd.Flags().GetString("keep")

	item, err := app.SyncSvc.ResolveConflict(ctx, workspace, syncItemID, sync.ResolveKeep(strings.ToLower(keep)))
	if err != nil {
		return err
	}
	printSyncItem(item)
	return nil
}

func runJiraFullSync(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	workspace, _ := cmd.Flags().GetString("workspace")
	result, err := app.SyncSvc.FullSync(ctx, workspace)
	if err != nil {
		return err
	}
	fmt.Printf("full sync: %d updated, %d conflicts, %d errors\n", result.Updated, result.Conflicts, result.Errors)
	return nil
}

func printSyncItem(item *domain.JiraSyncItem) {
	fmt.Printf("sync item %s: story=%s issue=%s status=%s\n", item.ID, item.DevosStoryID, item.JiraIssueKey, item.SyncStatus)
	if item.ErrorMessage != "" {
		fmt.Printf("  last error: %s\n", item.ErrorMessage)
	}
}
