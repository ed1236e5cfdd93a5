package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/autotrade/tasktracker/internal/guard"
	"github.com/autotrade/tasktracker/internal/results"
	"github.com/autotrade/tasktracker/internal/tracker"
	"github.com/autotrade/tasktracker/internal/ws"
)

var (
	errJobFailed    = errors.New("job failed")
	errJobCancelled = errors.New("job cancelled")
)

// follow prints progress until the tracked job reaches a terminal state,
// the user confirms leaving, or ctx ends. Leaving is not an error: the job
// keeps running and the checkpoint is left for "tracker resume".
func (a *app) follow(ctx context.Context, tr *tracker.Tracker, watchAddr string) error {
	ctx, leave := context.WithCancel(ctx)
	defer leave()

	if watchAddr != "" {
		stop := a.startWatchServer(tr, watchAddr)
		defer stop()
	}

	g := guard.New(tr, guard.Options{
		Confirm: guard.TerminalPrompt(a.in, a.errOut),
		OnLeave: leave,
		Logger:  a.logger.Named("guard"),
	})
	defer g.Close()

	final := make(chan tracker.Snapshot, 1)
	printer := &progressPrinter{app: a}
	unsubscribe := tr.Subscribe(func(s tracker.Snapshot) {
		printer.print(s)
		if s.State.IsTerminal() {
			select {
			case final <- s:
			default:
			}
		}
	})
	defer unsubscribe()

	select {
	case s := <-final:
		return a.report(s)
	case <-ctx.Done():
		snap := tr.Snapshot()
		_, _ = fmt.Fprintf(a.errOut, "Stopped following job %s. It keeps running; run \"tracker resume\" to pick it up again.\n", snap.JobID)
		return nil
	}
}

// settled waits until tr reports a terminal state.
func settled(ctx context.Context, tr *tracker.Tracker) (tracker.Snapshot, error) {
	final := make(chan tracker.Snapshot, 1)
	unsubscribe := tr.Subscribe(func(s tracker.Snapshot) {
		if s.State.IsTerminal() {
			select {
			case final <- s:
			default:
			}
		}
	})
	defer unsubscribe()

	select {
	case s := <-final:
		return s, nil
	case <-ctx.Done():
		return tr.Snapshot(), ctx.Err()
	}
}

func (a *app) report(s tracker.Snapshot) error {
	switch s.State {
	case tracker.StateCompleted:
		_, _ = fmt.Fprintf(a.errOut, "Job %s completed.\n", s.JobID)
		a.archive(s)
		if len(s.Result) > 0 {
			_, _ = fmt.Fprintln(a.out, string(s.Result))
		}
		return nil
	case tracker.StateCancelled:
		return fmt.Errorf("%w: %s", errJobCancelled, s.Error)
	default:
		return fmt.Errorf("%w: %s", errJobFailed, s.Error)
	}
}

// archive keeps a completed job's result for "tracker results". Failing to
// archive does not fail the run: the result is still printed.
func (a *app) archive(s tracker.Snapshot) {
	if len(s.Result) == 0 {
		return
	}
	archive, err := results.NewArchive(a.cfg.ResultsDir)
	if err == nil {
		err = archive.Save(results.Entry{
			JobID:       s.JobID,
			StartedAt:   s.StartedAt,
			CompletedAt: time.Now().UTC(),
			Result:      s.Result,
		})
	}
	if err != nil {
		a.logger.Warn("Failed to archive job result", zap.String("job_id", s.JobID), zap.Error(err))
	}
}

type progressPrinter struct {
	app  *app
	last string
}

func (p *progressPrinter) print(s tracker.Snapshot) {
	if s.State != tracker.StateActive || s.Status == nil {
		return
	}
	line := fmt.Sprintf("[%3d%%] %s", s.Status.Progress, s.Status.Status)
	if s.Status.CurrentStep != "" {
		line += " " + s.Status.CurrentStep
	}
	if s.RetryCount > 0 {
		line += fmt.Sprintf(" (retry %d)", s.RetryCount)
	}
	if line == p.last {
		return
	}
	p.last = line
	_, _ = fmt.Fprintln(p.app.errOut, line)
}

// startWatchServer serves the dashboard endpoints for tr on addr. The
// returned func shuts the server down.
func (a *app) startWatchServer(tr *tracker.Tracker, addr string) func() {
	logger := a.logger.Named("watch")
	hub := ws.NewHub(tr, logger)
	server := &http.Server{
		Addr:              addr,
		Handler:           ws.NewRouter(hub, logger),
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("Dashboard stream listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Dashboard stream failed", zap.Error(err))
		}
	}()

	return func() {
		hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("Dashboard stream shutdown error", zap.Error(err))
		}
	}
}

func addWatchFlag(cmd *cobra.Command) {
	cmd.Flags().String("watch-addr", "", "Serve the dashboard stream on this address while following (overrides watch.addr)")
}

func (a *app) watchAddr(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("watch-addr"); f != nil && f.Changed {
		return f.Value.String()
	}
	return a.cfg.WatchAddr
}
