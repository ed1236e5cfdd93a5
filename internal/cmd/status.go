package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/autotrade/tasktracker/internal/job"
	"github.com/autotrade/tasktracker/internal/taskclient"
)

type statusOutput struct {
	JobID     string            `json:"jobId,omitempty"`
	StartedAt *time.Time        `json:"startedAt,omitempty"`
	Age       string            `json:"age,omitempty"`
	Stale     bool              `json:"stale,omitempty"`
	Status    *job.StatusReport `json:"status,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the tracked job and its status on the job service",
		Long: `Show the job recorded in the checkpoint and ask the job service for its
status once. The checkpoint is not modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.openCheckpoint()
			if err != nil {
				return err
			}
			defer closeStore()

			cp, err := store.Read()
			if err != nil {
				return fmt.Errorf("read checkpoint: %w", err)
			}

			var out statusOutput
			if cp != nil {
				age := cp.Age(time.Now())
				startedAt := cp.StartedAt
				out = statusOutput{
					JobID:     cp.JobID,
					StartedAt: &startedAt,
					Age:       age.Round(time.Second).String(),
					Stale:     age >= a.cfg.Checkpoint.Staleness,
				}

				client, err := a.newClient()
				if err != nil {
					return err
				}
				report, err := client.GetStatus(cmd.Context(), cp.JobID)
				switch {
				case taskclient.IsNotFound(err):
					out.Error = "job not found on the job service"
				case err != nil:
					out.Error = err.Error()
				default:
					out.Status = report
				}
			}

			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			printStatus(a, out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func printStatus(a *app, s statusOutput) {
	if s.JobID == "" {
		_, _ = fmt.Fprintln(a.out, "No job is being tracked.")
		return
	}
	_, _ = fmt.Fprintf(a.out, "Job:      %s\n", s.JobID)
	_, _ = fmt.Fprintf(a.out, "Started:  %s (%s ago)\n", s.StartedAt.Local().Format(time.RFC3339), s.Age)
	if s.Stale {
		_, _ = fmt.Fprintln(a.out, "Stale:    yes, the next resume discards it")
	}
	if s.Error != "" {
		_, _ = fmt.Fprintf(a.out, "Error:    %s\n", s.Error)
		return
	}
	_, _ = fmt.Fprintf(a.out, "Status:   %s %d%%\n", s.Status.Status, s.Status.Progress)
	if s.Status.CurrentStep != "" {
		_, _ = fmt.Fprintf(a.out, "Step:     %s\n", s.Status.CurrentStep)
	}
	if s.Status.ErrorMessage != "" {
		_, _ = fmt.Fprintf(a.out, "Message:  %s\n", s.Status.ErrorMessage)
	}
}
