package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Inspect agent handoff coordination state",
}

var handoffStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active handoffs, blocked stories, and queue depth for a workspace",
	RunE:  runHandoffStatus,
}

func init() {
	handoffStatusCmd.Flags().String("workspace", "", "Workspace ID (required)")
	_ = handoffStatusCmd.MarkFlagRequired("workspace")

	handoffCmd.AddCommand(handoffStatusCmd)
	rootCmd.AddCommand(handoffCmd)
}

func runHandoffStatus(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	workspace, _ := cmd.Flags().GetString("workspace")
	status, err := app.Coordinator.GetCoordinationStatus(ctx, workspace)
	if err != nil {
		return err
	}

	fmt.Printf("workspace %s: %d/%d agents active, %d queued handoffs\n", workspace, status.ActiveAgents, status.MaxAgents, status.QueuedHandoffs)
	if len(status.BlockedStories) > 0 {
		fmt.Printf("blocked stories: %v\n", status.BlockedStories)
	}
	for _, h := range status.ActiveHandoffs {
		fmt.Printf("  %s (%s) -> %s (%s), story %s\n", h.FromAgent.ID, h.FromAgent.Type, h.ToAgent.ID, h.ToAgent.Type, h.StoryID)
	}
	return nil
}
