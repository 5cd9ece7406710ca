// Package detach runs best-effort work that must outlive the request that
// started it but not the process.
package detach

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// DefaultTimeout bounds a single detached task.
const DefaultTimeout = 2 * time.Second

// Task is a unit of detached work.
type Task func(ctx context.Context) error

// Runner launches detached tasks and tracks them so shutdown can drain them.
// Task errors and panics are logged and never reach the caller.
type Runner struct {
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner creates a Runner. A logger is required so failures are never
// silently dropped; timeout <= 0 selects DefaultTimeout.
func NewRunner(logger *slog.Logger, timeout time.Duration) *Runner {
	if logger == nil {
		panic("detach: nil logger")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{logger: logger, timeout: timeout}
}

// Go runs task on a new goroutine. The task context keeps the values of
// parent (request id, trace span) but not its cancellation, and carries the
// runner's own timeout. Go reports false when the runner is already draining.
func (r *Runner) Go(parent context.Context, name string, task Task) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.WarnContext(parent, "detached task dropped during shutdown", slog.String("task", name))
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
		defer cancel()

		if err := r.run(ctx, task); err != nil {
			r.logger.ErrorContext(ctx, "detached task failed",
				slog.String("task", name),
				slog.String("error", err.Error()),
			)
		}
	}()
	return true
}

func (r *Runner) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return task(ctx)
}

// Shutdown stops accepting tasks and waits for in-flight ones to finish or
// for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain detached tasks: %w", ctx.Err())
	}
}
