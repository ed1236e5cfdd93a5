// Package guard keeps the process from being interrupted by accident while a
// job is tracked. It is advisory: a second interrupt, or SIGKILL, still ends
// the process.
package guard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/autotrade/tasktracker/internal/tracker"
)

const LeaveMessage = "A job is still running. Leave anyway? It keeps running on the server and tracking resumes on the next start."

// Notifier registers for OS signals. The zero Options use os/signal.
type Notifier interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type osNotifier struct{}

func (osNotifier) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
func (osNotifier) Stop(c chan<- os.Signal) { signal.Stop(c) }

// Source publishes tracker snapshots. *tracker.Tracker satisfies it.
type Source interface {
	Subscribe(fn func(tracker.Snapshot)) (unsubscribe func())
}

type Options struct {
	// Confirm asks whether to leave. Defaults to a prompt on stdin/stderr.
	Confirm func(msg string) bool
	// OnLeave runs when leaving was confirmed. The checkpoint is not
	// touched, so the job is picked up again on the next start.
	OnLeave func()
	Signals Notifier
	Logger  *zap.Logger
}

// LeaveGuard intercepts SIGINT and SIGTERM while the tracker is active.
type LeaveGuard struct {
	confirm func(string) bool
	onLeave func()
	signals Notifier
	logger  *zap.Logger

	sigCh chan os.Signal
	stop  chan struct{}
	done  chan struct{}

	mu          sync.Mutex
	armed       bool
	jobID       string
	unsubscribe func()
	closeOnce   sync.Once
}

func New(src Source, opts Options) *LeaveGuard {
	if opts.Confirm == nil {
		opts.Confirm = TerminalPrompt(os.Stdin, os.Stderr)
	}
	if opts.OnLeave == nil {
		opts.OnLeave = func() {}
	}
	if opts.Signals == nil {
		opts.Signals = osNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	g := &LeaveGuard{
		confirm: opts.Confirm,
		onLeave: opts.OnLeave,
		signals: opts.Signals,
		logger:  opts.Logger,
		sigCh:   make(chan os.Signal, 2),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go g.loop()

	unsubscribe := src.Subscribe(g.observe)
	g.mu.Lock()
	g.unsubscribe = unsubscribe
	g.mu.Unlock()
	return g
}

// Armed reports whether interrupts are currently intercepted.
func (g *LeaveGuard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// Close stops observing the tracker and restores default signal handling.
func (g *LeaveGuard) Close() {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		unsubscribe := g.unsubscribe
		g.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}

		close(g.stop)
		<-g.done

		g.mu.Lock()
		g.disarmLocked()
		g.mu.Unlock()
	})
}

func (g *LeaveGuard) observe(s tracker.Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.stop:
		return
	default:
	}

	g.jobID = s.JobID
	switch {
	case s.Active() && !g.armed:
		g.signals.Notify(g.sigCh, syscall.SIGINT, syscall.SIGTERM)
		g.armed = true
		g.logger.Debug("Leave guard armed", zap.String("job_id", s.JobID))
	case !s.Active() && g.armed:
		g.disarmLocked()
		g.logger.Debug("Leave guard disarmed", zap.String("job_id", s.JobID), zap.String("state", string(s.State)))
	}
}

func (g *LeaveGuard) disarmLocked() {
	if !g.armed {
		return
	}
	g.signals.Stop(g.sigCh)
	g.armed = false
}

func (g *LeaveGuard) loop() {
	defer close(g.done)
	for {
		select {
		case <-g.stop:
			return
		case sig := <-g.sigCh:
			g.handle(sig)
		}
	}
}

func (g *LeaveGuard) handle(sig os.Signal) {
	g.mu.Lock()
	armed, jobID := g.armed, g.jobID
	g.mu.Unlock()
	if !armed {
		return
	}

	g.logger.Info("Interrupt received while a job is running",
		zap.String("signal", sig.String()), zap.String("job_id", jobID))

	answer := make(chan bool, 1)
	go func() { answer <- g.confirm(LeaveMessage) }()

	select {
	case leave := <-answer:
		if !leave {
			g.logger.Info("Staying, job is still tracked", zap.String("job_id", jobID))
			return
		}
	case sig := <-g.sigCh:
		g.logger.Info("Second interrupt, leaving", zap.String("signal", sig.String()))
	case <-g.stop:
		return
	}

	g.logger.Info("Leaving, job keeps running on the server", zap.String("job_id", jobID))
	g.onLeave()
}

// TerminalPrompt returns a Confirm func that asks a y/N question on out and
// reads the answer from in. Anything but y or yes declines.
func TerminalPrompt(in io.Reader, out io.Writer) func(msg string) bool {
	reader := bufio.NewReader(in)
	var mu sync.Mutex
	return func(msg string) bool {
		mu.Lock()
		defer mu.Unlock()

		_, _ = fmt.Fprintf(out, "%s [y/N] ", msg)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			_, _ = fmt.Fprintln(out)
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}
