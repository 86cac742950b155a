// Package shutdown coordinates graceful process termination: a SIGTERM/SIGINT
// trap cancelling a process-wide context, ordered cleanup callbacks with a
// total budget, and tracking of background tasks so nothing is orphaned at
// exit.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Cleanup is a registered shutdown callback. Callbacks run serially in
// registration order and share one total budget.
type Cleanup struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Coordinator owns the shutdown lifecycle of one worker process.
type Coordinator struct {
	budget time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cleanups []Cleanup

	tasks sync.WaitGroup
	sigCh chan os.Signal
}

// New constructs a Coordinator with the given total cleanup budget and starts
// trapping SIGTERM/SIGINT.
func New(budget time.Duration) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		budget: budget,
		ctx:    ctx,
		cancel: cancel,
		sigCh:  make(chan os.Signal, 1),
	}
	signal.Notify(c.sigCh, syscall.SIGTERM, syscall.SIGINT)
	return c
}

// Context is cancelled the moment shutdown is requested. Polling loops and
// outgoing calls derive their contexts from it.
func (c *Coordinator) Context() context.Context { return c.ctx }

// Register appends a cleanup callback. Callbacks registered first run first.
func (c *Coordinator) Register(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, Cleanup{Name: name, Fn: fn})
}

// Go runs fn as a tracked background task. Wait blocks until all tracked
// tasks return, so fire-and-forget work has a bounded lifetime.
func (c *Coordinator) Go(name string, fn func(ctx context.Context)) {
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		fn(c.ctx)
		slog.Debug("background task finished", slog.String("task", name))
	}()
}

// Trigger requests shutdown without a signal. Used by fatal-error paths and
// tests.
func (c *Coordinator) Trigger() {
	c.cancel()
}

// Wait blocks until a signal arrives (or Trigger was called), then runs
// cleanups serially within the budget. Returns 0 on clean completion, 1 when
// the budget was exceeded.
func (c *Coordinator) Wait() int {
	select {
	case sig := <-c.sigCh:
		slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	case <-c.ctx.Done():
		slog.Info("shutdown triggered internally")
	}
	c.cancel()

	deadline := time.Now().Add(c.budget)
	cleanupCtx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.runCleanups(cleanupCtx)
		c.tasks.Wait()
	}()

	select {
	case <-done:
		slog.Info("graceful shutdown complete")
		return 0
	case <-cleanupCtx.Done():
		slog.Error("shutdown budget exceeded, forcing exit",
			slog.Duration("budget", c.budget))
		return 1
	}
}

func (c *Coordinator) runCleanups(ctx context.Context) {
	c.mu.Lock()
	cleanups := make([]Cleanup, len(c.cleanups))
	copy(cleanups, c.cleanups)
	c.mu.Unlock()

	for _, cl := range cleanups {
		if ctx.Err() != nil {
			slog.Warn("skipping remaining cleanups, budget exhausted",
				slog.String("next", cl.Name))
			return
		}
		start := time.Now()
		if err := cl.Fn(ctx); err != nil {
			slog.Error("cleanup failed",
				slog.String("cleanup", cl.Name),
				slog.Any("error", err))
			continue
		}
		slog.Info("cleanup complete",
			slog.String("cleanup", cl.Name),
			slog.Duration("took", time.Since(start)))
	}
}
