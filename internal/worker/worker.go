// Package worker drives the runner in a cooperative polling loop.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/note-autopublisher/internal/jobs"
)

// Default poll delays.
const (
	DefaultIdleDelay   = 5 * time.Second
	DefaultActiveDelay = 500 * time.Millisecond
)

// Runner executes one claim-publish-persist cycle.
type Runner interface {
	RunOnce(ctx context.Context) (jobs.RunResult, error)
}

// Config controls the polling cadence.
type Config struct {
	// IdleDelay is slept after an empty or failed cycle.
	IdleDelay time.Duration
	// ActiveDelay is slept after a cycle that processed a job.
	ActiveDelay time.Duration
}

// Worker repeatedly invokes a Runner until its context is canceled.
type Worker struct {
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = DefaultIdleDelay
	}
	if cfg.ActiveDelay <= 0 {
		cfg.ActiveDelay = DefaultActiveDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks until ctx is canceled. Cancellation is observed between cycles only;
// an in-flight cycle runs on a context detached from ctx and finishes first.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started",
		zap.Duration("idle_delay", w.cfg.IdleDelay),
		zap.Duration("active_delay", w.cfg.ActiveDelay),
	)
	defer w.logger.Info("worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		delay := w.cycle(context.WithoutCancel(ctx))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle runs the runner once and returns the delay before the next cycle.
func (w *Worker) cycle(ctx context.Context) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("runner panicked", zap.Error(fmt.Errorf("panic: %v", r)))
			delay = w.cfg.IdleDelay
		}
	}()

	result, err := w.runner.RunOnce(ctx)
	if err != nil {
		w.logger.Error("runner cycle failed", zap.Error(err))
		return w.cfg.IdleDelay
	}
	if result.Status == jobs.RunNoJob {
		w.logger.Debug("no eligible job", zap.String("message", result.Message))
		return w.cfg.IdleDelay
	}
	w.logger.Info("runner cycle finished",
		zap.String("job_id", result.JobID),
		zap.String("status", string(result.Status)),
		zap.Bool("will_retry", result.WillRetry),
		zap.Int("attempts", result.Attempts),
	)
	return w.cfg.ActiveDelay
}
