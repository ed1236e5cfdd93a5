package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/autotrade/tasktracker/internal/results"
)

func newResultsCmd(a *app) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "results [job-id]",
		Short: "List archived results, or print one",
		Long: `Without arguments, list the results of completed jobs, newest first. With a
job id, print that job's result as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := results.NewArchive(a.cfg.ResultsDir)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				entries, err := archive.List()
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					_, _ = fmt.Fprintln(a.out, "No results yet.")
					return nil
				}
				for _, e := range entries {
					_, _ = fmt.Fprintf(a.out, "%s  %s\n", e.CompletedAt.Local().Format(time.RFC3339), e.JobID)
				}
				return nil
			}

			jobID := args[0]
			if remove {
				if err := archive.Delete(jobID); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(a.errOut, "Removed result of job %s.\n", jobID)
				return nil
			}

			entry, err := archive.Get(jobID)
			if err != nil {
				return err
			}
			var pretty any
			if err := json.Unmarshal(entry.Result, &pretty); err != nil {
				_, _ = fmt.Fprintln(a.out, string(entry.Result))
				return nil
			}
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(pretty)
		},
	}
	cmd.Flags().BoolVar(&remove, "rm", false, "Remove the named result instead of printing it")
	return cmd
}
