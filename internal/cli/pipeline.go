package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devos-platform/agent-orchestrator/internal/domain"
	"github.com/devos-platform/agent-orchestrator/internal/pipeline"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Start, transition, and recover pipeline state machines",
}

var pipelineStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new pipeline run for a project",
	RunE:  runPipelineStart,
}

var pipelineTransitionCmd = &cobra.Command{
	Use:   "transition",
	Short: "Force a pipeline into a new state",
	Long: `transition bypasses the normal agent-driven handoff flow and moves a
project's active pipeline directly into the requested state, subject to the
same allowed-transition table every other caller goes through.`,
	RunE: runPipelineTransition,
}

var pipelineRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Scan every active pipeline and fail any that have gone stale",
	RunE:  runPipelineRecover,
}

func init() {
	pipelineStartCmd.Flags().String("project", "", "Project ID (required)")
	pipelineStartCmd.Flags().String("workspace", "", "Workspace ID (required)")
	pipelineStartCmd.Flags().String("triggered-by", "cli", "Actor that triggered this start")
	_ = pipelineStartCmd.MarkFlagRequired("project")
	_ = pipelineStartCmd.MarkFlagRequired("workspace")

	pipelineTransitionCmd.Flags().String("project", "", "Project ID (required)")
	pipelineTransitionCmd.Flags().String("to", "", "Target state: idle, planning, implementing, qa, deploying, complete, failed, paused (required)")
	pipelineTransitionCmd.Flags().String("agent", "", "Agent ID driving this transition")
	pipelineTransitionCmd.Flags().String("story", "", "Story ID this transition concerns")
	pipelineTransitionCmd.Flags().String("triggered-by", "cli", "Actor that triggered this transition")
	pipelineTransitionCmd.Flags().String("error", "", "Error message, when transitioning to failed")
	_ = pipelineTransitionCmd.MarkFlagRequired("project")
	_ = pipelineTransitionCmd.MarkFlagRequired("to")

	pipelineCmd.AddCommand(pipelineStartCmd, pipelineTransitionCmd, pipelineRecoverCmd)
	rootCmd.AddCommand(pipelineCmd)
}

func runPipelineStart(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	project, _ := cmd.Flags().GetString("project")
	workspace, _ := cmd.Flags().GetString("workspace")
	triggeredBy, _ := cmd.Flags().GetString("triggered-by")

	result, err := app.PipelineSvc.StartPipeline(ctx, project, workspace, pipeline.StartOptions{TriggeredBy: triggeredBy})
	if err != nil {
		return err
	}
	fmt.Printf("started workflow %s for project %s (state=%s)\n", result.WorkflowID, project, result.State)
	return nil
}

func runPipelineTransition(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	project, _ := cmd.Flags().GetString("project")
	to, _ := cmd.Flags().GetString("to")
	agent, _ := cmd.Flags().GetString("agent")
	story, _ := cmd.Flags().GetString("story")
	triggeredBy, _ := cmd.Flags().GetString("triggered-by")
	errMsg, _ := cmd.Flags().GetString("error")

	target := domain.PipelineState(to)
	err = app.PipelineSvc.Transition(ctx, project, target, pipeline.TransitionOptions{
		TriggeredBy:  triggeredBy,
		AgentID:      agent,
		StoryID:      story,
		ErrorMessage: errMsg,
	})
	if err != nil {
		return err
	}
	fmt.Printf("project %s transitioned to %s\n", project, target)
	return nil
}

func runPipelineRecover(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.PipelineSvc.Recover(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("recover: scanned %d active pipelines, found %d stale, recovered %d\n", result.Total, result.Stale, result.Recovered)
	return nil
}
