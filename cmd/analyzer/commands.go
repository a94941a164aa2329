package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"yt-analyzer-client/internal/coordinator"
	"yt-analyzer-client/internal/entity"
)

var rootCmd = &cobra.Command{
	Use:           "analyzer",
	Short:         "Submit and track YouTube comment analysis jobs",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <video-url>",
	Short: "Submit a video for analysis and watch it to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		coord, cleanup, err := buildCoordinator(ctx)
		if err != nil {
			return err
		}
		defer cleanup()
		defer coord.Close()

		coord.Init(ctx)
		return watch(ctx, coord, func() error {
			return coord.Submit(ctx, args[0])
		})
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage locally tracked jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resumable and completed jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		coord, cleanup, err := buildCoordinator(ctx)
		if err != nil {
			return err
		}
		defer cleanup()
		defer coord.Close()

		coord.Init(ctx)
		fmt.Println(stageStyle.Render("active"))
		printJobs(coord.ResumableJobs())
		fmt.Println(stageStyle.Render("completed"))
		printJobs(coord.CompletedJobs(ctx))
		return nil
	},
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Reattach to a previously submitted job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		coord, cleanup, err := buildCoordinator(ctx)
		if err != nil {
			return err
		}
		defer cleanup()
		defer coord.Close()

		coord.Init(ctx)
		var target *entity.JobMetadata
		for _, j := range coord.ResumableJobs() {
			if j.JobID == args[0] {
				job := j
				target = &job
				break
			}
		}
		if target == nil {
			return fmt.Errorf("no resumable job with id %s", args[0])
		}

		return watch(ctx, coord, func() error {
			return coord.Resume(ctx, *target)
		})
	},
}

var jobsDismissCmd = &cobra.Command{
	Use:   "dismiss <job-id>",
	Short: "Forget a job permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		coord, cleanup, err := buildCoordinator(ctx)
		if err != nil {
			return err
		}
		defer cleanup()
		defer coord.Close()

		coord.Init(ctx)
		if err := coord.Dismiss(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("dismissed", args[0])
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsResumeCmd, jobsDismissCmd)
	rootCmd.AddCommand(analyzeCmd, jobsCmd)
}

// watch runs start and renders state changes until the job reaches a
// terminal state or the context is cancelled.
func watch(ctx context.Context, coord *coordinator.Coordinator, start func() error) error {
	done := make(chan entity.UIState, 1)
	coord.OnStateChange(func(s entity.UIState) {
		renderState(s)
		if s.Terminal() {
			select {
			case done <- s:
			default:
			}
		}
	})

	if err := start(); err != nil {
		// the failure is already rendered through the state callback
		return err
	}

	select {
	case s := <-done:
		if s.Kind == entity.StateFailed {
			return errors.New(s.Error)
		}
		return nil
	case <-ctx.Done():
		coord.Reset()
		return ctx.Err()
	}
}
