package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/autotrade/tasktracker/internal/job"
)

var errTransport = errors.New("connection refused")

type statusStep struct {
	report *job.StatusReport
	err    error
}

func running(progress int) statusStep {
	return statusStep{report: &job.StatusReport{Status: job.StatusRunning, Progress: progress}}
}

func withStatus(s job.Status) statusStep {
	return statusStep{report: &job.StatusReport{Status: s, Progress: 100}}
}

func failed(msg string) statusStep {
	return statusStep{report: &job.StatusReport{Status: job.StatusFailed, ErrorMessage: msg}}
}

func transportError() statusStep {
	return statusStep{err: errTransport}
}

// fakeClient replays a scripted sequence of status answers. After the
// script runs out the last step repeats.
type fakeClient struct {
	mu          sync.Mutex
	startID     string
	startErr    error
	script      []statusStep
	next        int
	result      job.Result
	resultErr   error
	cancelErr   error
	startCalls  int
	statusCalls []string
	resultCalls []string
	cancelCalls []string

	// gate, when set, holds every status answer until it is closed. It
	// ignores context cancellation to model a response that arrives late.
	gate chan struct{}
	// resultGate, when set, holds GetResult until it is closed or the
	// request context ends.
	resultGate chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeClient) StartJob(_ context.Context, _ job.StartRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.startID, f.startErr
}

func (f *fakeClient) GetStatus(ctx context.Context, jobID string) (*job.StatusReport, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.statusCalls = append(f.statusCalls, jobID)
	var step statusStep
	if len(f.script) > 0 {
		idx := f.next
		if idx >= len(f.script) {
			idx = len(f.script) - 1
		}
		step = f.script[idx]
		f.next++
	} else {
		step = running(0)
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if step.err != nil {
		return nil, step.err
	}
	report := *step.report
	return &report, nil
}

func (f *fakeClient) GetResult(ctx context.Context, jobID string) (job.Result, error) {
	f.mu.Lock()
	f.resultCalls = append(f.resultCalls, jobID)
	result, err, gate := f.result, f.resultErr, f.resultGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return result, err
}

func (f *fakeClient) resultCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resultCalls)
}

func (f *fakeClient) CancelJob(_ context.Context, jobID string) (*job.CancelResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, jobID)
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &job.CancelResponse{Success: true, Message: "job cancelled"}, nil
}

func (f *fakeClient) statusCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.statusCalls)
}

func (f *fakeClient) calls() (status, result, cancel []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statusCalls...),
		append([]string(nil), f.resultCalls...),
		append([]string(nil), f.cancelCalls...)
}
