package tracker

import (
	"fmt"

	"go.uber.org/zap"
)

// Recover resumes tracking the job recorded in the checkpoint, if any. It
// returns true when polling was resumed. A checkpoint at or beyond the
// staleness ceiling is discarded. The job API's start operation is never
// called.
func (t *Tracker) Recover() (bool, error) {
	t.mu.Lock()
	resumed, err := t.recoverLocked()
	t.mu.Unlock()

	if resumed {
		t.notify()
	}
	return resumed, err
}

func (t *Tracker) recoverLocked() (bool, error) {
	if t.closed {
		return false, ErrClosed
	}
	if t.state == StateActive {
		return false, ErrAlreadyTracking
	}

	cp, err := t.store.Read()
	if err != nil {
		return false, fmt.Errorf("read checkpoint: %w", err)
	}
	if cp == nil {
		return false, nil
	}

	age := cp.Age(t.now())
	if age >= t.staleness {
		t.logger.Info("Discarding stale checkpoint",
			zap.String("job_id", cp.JobID),
			zap.Duration("age", age),
			zap.Duration("ceiling", t.staleness))
		t.clearCheckpointLocked(cp.JobID)
		return false, nil
	}

	t.beginLocked(cp.JobID, cp.StartedAt)
	t.logger.Info("Resumed tracking job from checkpoint",
		zap.String("job_id", cp.JobID),
		zap.Duration("age", age))
	return true, nil
}
