package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autotrade/tasktracker/internal/job"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		kind       string
		paramsFile string
		sets       []string
		detach     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a job and follow it to completion",
		Long: `Start an optimization or simulation job on the job service and follow its
progress. Interrupting while the job runs asks for confirmation; the job keeps
running on the server and "tracker resume" picks it up again.`,
		Example: `  tracker run --type optimization --params grid.yaml
  tracker run --type simulation --set days=30 --set symbol=BTC-USDT
  tracker run --params grid.yaml --watch-addr :8090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := job.StartRequest{Type: job.Kind(kind)}
			if !req.Type.Valid() {
				return fmt.Errorf("unknown job type %q (want optimization or simulation)", kind)
			}

			params, err := loadParams(paramsFile, sets)
			if err != nil {
				return err
			}
			req.Params = params

			tr, closeTracker, err := a.openTracker()
			if err != nil {
				return err
			}
			defer closeTracker()

			jobID, err := tr.Start(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("start job: %w", err)
			}
			_, _ = fmt.Fprintf(a.errOut, "Started %s job %s.\n", req.Type, jobID)

			if detach {
				_, _ = fmt.Fprintln(a.out, jobID)
				return nil
			}
			return a.follow(cmd.Context(), tr, a.watchAddr(cmd))
		},
	}

	cmd.Flags().StringVarP(&kind, "type", "t", string(job.KindOptimization), "Job type: optimization or simulation")
	cmd.Flags().StringVarP(&paramsFile, "params", "p", "", "YAML file with job params")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Set a job param (key=value), overrides --params")
	cmd.Flags().BoolVar(&detach, "detach", false, "Print the job id and exit; resume later with \"tracker resume\"")
	addWatchFlag(cmd)

	return cmd
}

// loadParams merges a YAML params file with key=value overrides. Override
// values are parsed as YAML scalars, so numbers and booleans keep their type.
func loadParams(file string, sets []string) (map[string]any, error) {
	params := map[string]any{}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read params: %w", err)
		}
		if err := yaml.Unmarshal(data, &params); err != nil {
			return nil, fmt.Errorf("parse params %s: %w", file, err)
		}
		if params == nil {
			params = map[string]any{}
		}
	}

	for _, kv := range sets {
		key, raw, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", kv)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		params[key] = value
	}

	if len(params) == 0 {
		return nil, nil
	}
	return params, nil
}
