package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/autotrade/tasktracker/internal/tracker"
)

var errNothingTracked = errors.New("no job is being tracked")

func newResumeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume following the job recorded in the checkpoint",
		Long: `Resume following the job a previous run was tracking. Checkpoints older than
checkpoint.staleness (24h by default) are discarded instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, closeTracker, err := a.openTracker()
			if err != nil {
				return err
			}
			defer closeTracker()

			resumed, err := tr.Recover()
			if err != nil {
				return err
			}
			if !resumed {
				_, _ = fmt.Fprintln(a.errOut, "No job to resume.")
				return nil
			}
			snap := tr.Snapshot()
			_, _ = fmt.Fprintf(a.errOut, "Resumed job %s%s.\n", snap.JobID, startedAgo(snap))
			return a.follow(cmd.Context(), tr, a.watchAddr(cmd))
		},
	}
	addWatchFlag(cmd)
	return cmd
}

func newCancelCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the tracked job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, closeTracker, err := a.openTracker()
			if err != nil {
				return err
			}
			defer closeTracker()

			resumed, err := tr.Recover()
			if err != nil {
				return err
			}
			if !resumed {
				return errNothingTracked
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			jobID := tr.Snapshot().JobID
			if err := tr.Cancel(ctx); err != nil {
				if errors.Is(err, tracker.ErrNotActive) {
					// The job finished between resuming and cancelling, its
					// result may still be on the way.
					snap, err := settled(ctx, tr)
					if err != nil {
						return err
					}
					return a.report(snap)
				}
				return err
			}
			_, _ = fmt.Fprintf(a.errOut, "Job %s cancelled.\n", jobID)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for the job service to acknowledge")
	return cmd
}

func startedAgo(s tracker.Snapshot) string {
	if s.StartedAt == nil {
		return ""
	}
	return fmt.Sprintf(" (started %s ago)", time.Since(*s.StartedAt).Round(time.Second))
}
