// Package cmd wires the tracker command line.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/autotrade/tasktracker/internal/checkpoint"
	"github.com/autotrade/tasktracker/internal/config"
	"github.com/autotrade/tasktracker/internal/db"
	"github.com/autotrade/tasktracker/internal/logging"
	"github.com/autotrade/tasktracker/internal/taskclient"
	"github.com/autotrade/tasktracker/internal/tracker"
)

type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev", Commit: "none", BuildDate: "unknown"}

func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// app holds what every subcommand needs once flags and config are resolved.
type app struct {
	v         *viper.Viper
	cfgFile   string
	ephemeral bool

	cfg    *config.Config
	logger *zap.Logger

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// memory backs --ephemeral checkpoints for the lifetime of the process.
	memory checkpoint.Store
}

func Execute() error {
	return NewRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute()
}

func NewRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "tracker",
		Short: "Track long-running optimization and simulation jobs",
		Long: `tracker starts optimization and simulation jobs on the job service and
follows them to completion. A tracked job survives a restart: run
"tracker resume" to pick it up again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "Config file (YAML)")
	flags.String("api-url", "", "Job service base URL")
	flags.String("token", "", "Bearer token for the job service")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("checkpoint-dir", "", "Directory holding the tracking checkpoint")
	flags.BoolVar(&a.ephemeral, "ephemeral", false, "Keep the checkpoint in memory only")

	_ = a.v.BindPFlag("api.base_url", flags.Lookup("api-url"))
	_ = a.v.BindPFlag("api.token", flags.Lookup("token"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("checkpoint.dir", flags.Lookup("checkpoint-dir"))

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newResumeCmd(a),
		newCancelCmd(a),
		newStatusCmd(a),
		newResultsCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// openCheckpoint opens the checkpoint store named by the config. The returned
// func releases it.
func (a *app) openCheckpoint() (checkpoint.Store, func(), error) {
	if a.ephemeral {
		if a.memory == nil {
			a.memory = checkpoint.NewMemoryStore()
		}
		return a.memory, func() {}, nil
	}

	store, err := db.NewStore(a.cfg.Checkpoint.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("Failed to close checkpoint store", zap.Error(err))
		}
	}
	return checkpoint.NewBadgerStore(store), closeFn, nil
}

func (a *app) newClient() (*taskclient.Client, error) {
	return taskclient.New(a.cfg.API.BaseURL, taskclient.Options{
		Token:     a.cfg.API.Token,
		Timeout:   a.cfg.API.Timeout,
		RateLimit: a.cfg.API.RateLimit,
		Logger:    a.logger.Named("client"),
	})
}

// openTracker builds a tracker over the configured job service and
// checkpoint. The returned func closes both, keeping the checkpoint.
func (a *app) openTracker() (*tracker.Tracker, func(), error) {
	client, err := a.newClient()
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := a.openCheckpoint()
	if err != nil {
		return nil, nil, err
	}

	tr := tracker.New(client, store, tracker.Options{
		PollInterval:     a.cfg.Poll.Interval,
		RetryInterval:    a.cfg.Poll.RetryInterval,
		MaxRetries:       a.cfg.Poll.MaxRetries,
		StalenessCeiling: a.cfg.Checkpoint.Staleness,
		Logger:           a.logger.Named("tracker"),
	})
	return tr, func() {
		tr.Close()
		closeStore()
	}, nil
}
