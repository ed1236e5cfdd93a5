package tracker

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultPollInterval = 2500 * time.Millisecond
	DefaultMaxRetries   = 3
)

// CheckFunc performs one status check. done ends polling; err counts as a
// transient failure and is retried with backoff.
type CheckFunc func(ctx context.Context) (done bool, err error)

// ExhaustedFunc is called once when MaxRetries consecutive checks failed.
type ExhaustedFunc func(lastErr error, attempts int)

// Poller runs checks one at a time. The next check is scheduled only after
// the previous one returned, so two checks are never in flight.
type Poller struct {
	Interval      time.Duration
	RetryInterval time.Duration
	MaxRetries    int

	// After is the timer source. Defaults to time.After.
	After func(time.Duration) <-chan time.Time

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	retryCount int
}

// Start begins polling, stopping any loop already running. The first check
// runs immediately.
func (p *Poller) Start(parent context.Context, check CheckFunc, onExhausted ExhaustedFunc) {
	p.Stop()

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.retryCount = 0
	p.mu.Unlock()

	go func() {
		defer close(done)
		defer p.finish(done)
		p.loop(ctx, done, check, onExhausted)
	}()
}

// Stop cancels the loop without waiting for it. A check in flight sees its
// context cancelled. Safe to call from inside a check.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Wait blocks until the current loop, if any, has exited.
func (p *Poller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether a loop holds a live timer.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) RetryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retryCount
}

func (p *Poller) finish(done chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// A newer Start may already own the poller.
	if p.done == done && p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// loop owns its retry count. It is published for RetryCount only while the
// loop is still the current one.
func (p *Poller) loop(ctx context.Context, done chan struct{}, check CheckFunc, onExhausted ExhaustedFunc) {
	var wait time.Duration
	retries := 0
	for {
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-p.after(wait):
			}
		}
		if ctx.Err() != nil {
			return
		}

		finished, err := check(ctx)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			retries++
			p.publishRetries(done, retries)
			if retries >= p.maxRetries() {
				if onExhausted != nil {
					onExhausted(err, retries)
				}
				return
			}
			wait = p.retryInterval()
			continue
		}

		retries = 0
		p.publishRetries(done, 0)
		if finished {
			return
		}
		wait = p.interval()
	}
}

func (p *Poller) publishRetries(done chan struct{}, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == done {
		p.retryCount = n
	}
}

func (p *Poller) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return DefaultPollInterval
}

func (p *Poller) retryInterval() time.Duration {
	if p.RetryInterval > 0 {
		return p.RetryInterval
	}
	return 2 * p.interval()
}

func (p *Poller) maxRetries() int {
	if p.MaxRetries > 0 {
		return p.MaxRetries
	}
	return DefaultMaxRetries
}

func (p *Poller) after(d time.Duration) <-chan time.Time {
	if p.After != nil {
		return p.After(d)
	}
	return time.After(d)
}
