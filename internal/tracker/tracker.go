// Package tracker supervises one long-running server-side job at a time:
// it starts or recovers the job, polls its status with bounded retry,
// fetches the result once, and keeps a durable checkpoint so a restarted
// process can pick the job up again.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/autotrade/tasktracker/internal/checkpoint"
	"github.com/autotrade/tasktracker/internal/job"
)

var (
	ErrNotActive       = errors.New("no job is being tracked")
	ErrAlreadyTracking = errors.New("a job is already being tracked")
	ErrClosed          = errors.New("tracker is closed")
)

const DefaultStalenessCeiling = 24 * time.Hour

const (
	MsgCancelledByUser   = "Job cancelled by user."
	MsgCancelledByServer = "Job was cancelled."
	MsgJobFailed         = "Job failed."
)

// NetworkErrorMessage is surfaced when status checks kept failing.
func NetworkErrorMessage(attempts int, err error) string {
	return fmt.Sprintf("Lost contact with the job service after %d attempts, check your network connection (%v).", attempts, err)
}

// ResultErrorMessage is surfaced when a completed job's result could not be
// fetched.
func ResultErrorMessage(err error) string {
	return fmt.Sprintf("Job completed but its result could not be retrieved (%v).", err)
}

type State string

const (
	StateIdle      State = "idle"
	StateActive    State = "active" // pending or running
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// TaskClient is the remote job API as the tracker consumes it.
type TaskClient interface {
	StartJob(ctx context.Context, req job.StartRequest) (string, error)
	GetStatus(ctx context.Context, jobID string) (*job.StatusReport, error)
	GetResult(ctx context.Context, jobID string) (job.Result, error)
	CancelJob(ctx context.Context, jobID string) (*job.CancelResponse, error)
}

// Snapshot is the observable state handed to presentation code. Every
// terminal outcome, cancellation included, is reported through Error.
type Snapshot struct {
	State      State             `json:"state"`
	JobID      string            `json:"jobId,omitempty"`
	StartedAt  *time.Time        `json:"startedAt,omitempty"`
	Status     *job.StatusReport `json:"status,omitempty"`
	Result     job.Result        `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	RetryCount int               `json:"retryCount"`
}

func (s Snapshot) Active() bool {
	return s.State == StateActive
}

type Options struct {
	PollInterval     time.Duration
	RetryInterval    time.Duration
	MaxRetries       int
	StalenessCeiling time.Duration

	Logger *zap.Logger
	Now    func() time.Time
	After  func(time.Duration) <-chan time.Time
}

type Tracker struct {
	client    TaskClient
	store     checkpoint.Store
	logger    *zap.Logger
	now       func() time.Time
	staleness time.Duration
	poller    *Poller

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	gen       uint64
	closed    bool
	state     State
	fetching  bool // result fetch in flight, no longer cancellable
	jobID     string
	startedAt time.Time
	status    *job.StatusReport
	result    job.Result
	errMsg    string

	notifyMu sync.Mutex
	subs     map[int]func(Snapshot)
	nextSub  int
}

func New(client TaskClient, store checkpoint.Store, opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StalenessCeiling <= 0 {
		opts.StalenessCeiling = DefaultStalenessCeiling
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		client:    client,
		store:     store,
		logger:    opts.Logger,
		now:       opts.Now,
		staleness: opts.StalenessCeiling,
		poller: &Poller{
			Interval:      opts.PollInterval,
			RetryInterval: opts.RetryInterval,
			MaxRetries:    opts.MaxRetries,
			After:         opts.After,
		},
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
		subs:   make(map[int]func(Snapshot)),
	}
}

// Start asks the job API for a new job and begins tracking it.
func (t *Tracker) Start(ctx context.Context, req job.StartRequest) (string, error) {
	if t.isClosed() {
		return "", ErrClosed
	}
	jobID, err := t.client.StartJob(ctx, req)
	if err != nil {
		return "", err
	}
	if err := t.StartTracking(jobID); err != nil {
		return "", err
	}
	return jobID, nil
}

// StartTracking begins tracking jobID, abandoning any job tracked so far.
// The checkpoint is written before the first status check.
func (t *Tracker) StartTracking(jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	startedAt := t.now()
	if err := t.store.Write(checkpoint.TrackedJob{JobID: jobID, StartedAt: startedAt}); err != nil {
		// Tracking still works, it just will not survive a restart.
		t.logger.Warn("Failed to write checkpoint", zap.String("job_id", jobID), zap.Error(err))
	}
	t.beginLocked(jobID, startedAt)
	t.mu.Unlock()

	t.logger.Info("Tracking job", zap.String("job_id", jobID))
	t.notify()
	return nil
}

// StopTracking returns the tracker to idle from any state. Polling stops
// and the checkpoint is cleared; the server-side job is left alone.
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	t.gen++
	t.poller.Stop()
	jobID := t.jobID
	t.state = StateIdle
	t.fetching = false
	t.jobID = ""
	t.startedAt = time.Time{}
	t.status = nil
	t.result = nil
	t.errMsg = ""
	t.clearCheckpointLocked(jobID)
	t.mu.Unlock()

	t.notify()
}

// Cancel stops tracking the active job and asks the job API to cancel it.
// The tracker ends up cancelled whether or not the cancel call succeeds.
// A job that already completed and is having its result fetched cannot be
// cancelled: Cancel returns ErrNotActive.
func (t *Tracker) Cancel(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateActive || t.fetching {
		t.mu.Unlock()
		return ErrNotActive
	}
	jobID := t.jobID
	t.gen++
	t.finishLocked(StateCancelled, MsgCancelledByUser)
	t.mu.Unlock()

	t.notify()

	resp, err := t.client.CancelJob(ctx, jobID)
	switch {
	case err != nil:
		t.logger.Warn("Cancel request failed, job may still be running on the server",
			zap.String("job_id", jobID), zap.Error(err))
	case !resp.Success:
		t.logger.Warn("Cancel request rejected",
			zap.String("job_id", jobID), zap.String("message", resp.Message))
	default:
		t.logger.Info("Job cancelled", zap.String("job_id", jobID))
	}
	return nil
}

// Close tears the tracker down: polling stops, in-flight responses are
// discarded and the checkpoint is kept for the next process.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.gen++
	t.poller.Stop()
	t.mu.Unlock()

	t.cancel()
	t.poller.Wait()
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Subscribe registers fn to receive the current snapshot now and after
// every transition. fn must not call back into the tracker synchronously.
func (t *Tracker) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	t.notifyMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	fn(t.Snapshot())
	t.notifyMu.Unlock()

	return func() {
		t.notifyMu.Lock()
		delete(t.subs, id)
		t.notifyMu.Unlock()
	}
}

func (t *Tracker) notify() {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	if len(t.subs) == 0 {
		return
	}
	snap := t.Snapshot()
	for _, fn := range t.subs {
		fn(snap)
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{
		State:  t.state,
		JobID:  t.jobID,
		Result: t.result,
		Error:  t.errMsg,
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		s.StartedAt = &started
	}
	if t.status != nil {
		status := *t.status
		s.Status = &status
	}
	if t.state == StateActive {
		s.RetryCount = t.poller.RetryCount()
	}
	return s
}

func (t *Tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// beginLocked enters the active state and starts polling. Responses from any
// earlier poll generation are discarded from here on.
func (t *Tracker) beginLocked(jobID string, startedAt time.Time) {
	t.poller.Stop()
	t.gen++
	gen := t.gen

	t.state = StateActive
	t.fetching = false
	t.jobID = jobID
	t.startedAt = startedAt
	t.status = nil
	t.result = nil
	t.errMsg = ""

	t.poller.Start(t.ctx, t.checkStatus(gen, jobID), t.retriesExhausted(gen, jobID))
}

// finishLocked moves to a terminal state, stops polling and clears the
// checkpoint.
func (t *Tracker) finishLocked(state State, msg string) {
	t.state = state
	t.fetching = false
	t.errMsg = msg
	t.poller.Stop()
	t.clearCheckpointLocked(t.jobID)
}

func (t *Tracker) clearCheckpointLocked(jobID string) {
	if err := t.store.Clear(); err != nil {
		t.logger.Warn("Failed to clear checkpoint", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (t *Tracker) current(gen uint64) bool {
	return t.gen == gen && t.state == StateActive && !t.fetching
}

func (t *Tracker) checkStatus(gen uint64, jobID string) CheckFunc {
	return func(ctx context.Context) (bool, error) {
		report, err := t.client.GetStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Warn("Status check failed", zap.String("job_id", jobID), zap.Error(err))
			}
			return false, err
		}

		t.mu.Lock()
		if !t.current(gen) {
			t.mu.Unlock()
			return true, nil
		}
		t.status = report

		switch report.Status {
		case job.StatusCompleted:
			// The job stays active until the result is stored, but no other
			// check, cancel or give-up can act on it from here on. Returning
			// done ends the loop; stopping it now would cancel ctx.
			t.fetching = true
			t.mu.Unlock()
			t.fetchResult(ctx, gen, jobID)
			return true, nil

		case job.StatusFailed:
			msg := strings.TrimSpace(report.ErrorMessage)
			if msg == "" {
				msg = MsgJobFailed
			}
			t.finishLocked(StateFailed, msg)
			t.mu.Unlock()
			t.logger.Info("Job failed", zap.String("job_id", jobID), zap.String("error", msg))
			t.notify()
			return true, nil

		case job.StatusCancelled:
			t.finishLocked(StateCancelled, MsgCancelledByServer)
			t.mu.Unlock()
			t.logger.Info("Job cancelled by the job service", zap.String("job_id", jobID))
			t.notify()
			return true, nil
		}

		t.mu.Unlock()
		t.logger.Debug("Job progress",
			zap.String("job_id", jobID),
			zap.String("status", string(report.Status)),
			zap.Int("progress", report.Progress),
			zap.String("step", report.CurrentStep))
		t.notify()
		return false, nil
	}
}

// fetchResult runs on the poll loop with its context, so stopping or
// replacing the tracked job aborts the request.
func (t *Tracker) fetchResult(ctx context.Context, gen uint64, jobID string) {
	result, err := t.client.GetResult(ctx, jobID)

	t.mu.Lock()
	if t.gen != gen || !t.fetching {
		t.mu.Unlock()
		return
	}
	if err != nil {
		t.logger.Warn("Failed to fetch job result", zap.String("job_id", jobID), zap.Error(err))
		t.finishLocked(StateFailed, ResultErrorMessage(err))
	} else {
		t.result = result
		t.logger.Info("Job completed", zap.String("job_id", jobID))
		t.finishLocked(StateCompleted, "")
	}
	t.mu.Unlock()

	t.notify()
}

func (t *Tracker) retriesExhausted(gen uint64, jobID string) ExhaustedFunc {
	return func(lastErr error, attempts int) {
		t.mu.Lock()
		if !t.current(gen) {
			t.mu.Unlock()
			return
		}
		t.finishLocked(StateFailed, NetworkErrorMessage(attempts, lastErr))
		t.mu.Unlock()

		t.logger.Error("Giving up on job after repeated status check failures",
			zap.String("job_id", jobID), zap.Int("attempts", attempts), zap.Error(lastErr))
		t.notify()
	}
}
