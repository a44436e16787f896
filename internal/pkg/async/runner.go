package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Runner executes fire-and-forget work off the request path. Each submitted
// task runs in its own goroutine with its own timeout; a failing or panicking
// task is logged and never affects its siblings or the submitter.
type Runner struct {
	logger  *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	wg      sync.WaitGroup
	stopped bool
}

// NewRunner creates a runner whose tasks are cancelled after timeout.
func NewRunner(logger *slog.Logger, timeout time.Duration) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit schedules fn and returns immediately. It reports false once the
// runner has been stopped.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		r.logger.Warn("Background task rejected, runner stopped", slog.String("task", name))
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		ctx := r.ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		if err := r.safeRun(ctx, name, fn); err != nil {
			r.logger.Error("Background task failed", slog.String("task", name), slog.Any("error", err))
		}
	}()
	return true
}

func (r *Runner) safeRun(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in task %s: %v", name, rec)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every submitted task has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Start implements cartridge.BackgroundWorker.
func (r *Runner) Start() error {
	r.logger.Info("Background task runner started", slog.Duration("task_timeout", r.timeout))
	return nil
}

// Stop rejects new tasks, drains the in-flight ones and cancels their
// shared context. Implements cartridge.BackgroundWorker.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.logger.Info("Draining background tasks...")
	r.wg.Wait()
	r.cancel()
	r.logger.Info("Background task runner stopped")
}
