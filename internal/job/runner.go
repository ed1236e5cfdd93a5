package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var steps = map[Kind][]string{
	KindOptimization: {
		"loading candles",
		"building parameter grid",
		"backtesting candidates",
		"ranking candidates",
		"validating best candidate",
	},
	KindSimulation: {
		"loading markets",
		"replaying order books",
		"settling positions",
		"aggregating metrics",
	},
}

// Runner drives simulated jobs through their steps. A job whose status
// leaves RUNNING underneath it (cancel) stops at the next step boundary.
type Runner struct {
	store  *Store
	tick   time.Duration
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewRunner(store *Store, tick time.Duration, logger *zap.Logger) *Runner {
	if tick <= 0 {
		tick = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{store: store, tick: tick, logger: logger}
}

// Submit stores the job and starts running it in the background.
func (r *Runner) Submit(ctx context.Context, j *Job) error {
	if !j.Kind.Valid() {
		return fmt.Errorf("unknown job type: %q", j.Kind)
	}
	if err := r.store.Add(j); err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, j.ID, j.Kind, j.Params)
	}()
	return nil
}

// Wait blocks until every submitted job has stopped running.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, id string, kind Kind, params map[string]any) {
	plan := steps[kind]
	failAt := intParam(params, "fail_at_progress")

	for i, step := range plan {
		select {
		case <-ctx.Done():
			_ = r.store.Fail(id, "job service shutting down")
			return
		case <-time.After(r.tick):
		}

		progress := (i + 1) * 100 / (len(plan) + 1)
		if failAt > 0 && progress >= failAt {
			msg := stringParam(params, "fail_message")
			if msg == "" {
				msg = fmt.Sprintf("%s failed at step %q", kind, step)
			}
			_ = r.store.Fail(id, msg)
			r.logger.Info("Simulated job failed", zap.String("job_id", id), zap.String("error", msg))
			return
		}
		if !r.store.Advance(id, progress, step) {
			r.logger.Info("Simulated job stopped", zap.String("job_id", id))
			return
		}
	}

	select {
	case <-ctx.Done():
		_ = r.store.Fail(id, "job service shutting down")
		return
	case <-time.After(r.tick):
	}

	result := map[string]any{
		"type":            kind,
		"optimizedParams": params,
		"stepsCompleted":  len(plan),
	}
	if err := r.store.Complete(id, result); err != nil {
		r.logger.Warn("Failed to complete simulated job", zap.String("job_id", id), zap.Error(err))
		return
	}
	r.logger.Info("Simulated job completed", zap.String("job_id", id))
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func stringParam(params map[string]any, key string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return ""
}
