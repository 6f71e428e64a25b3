package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Runner executes orchestrator workflows in the background and keeps a
// per-task cancel registry so a shutdown (or an explicit cancel) can abort
// in-flight work at its next suspension point.
type Runner struct {
	mu      sync.Mutex
	active  map[string]context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

func NewRunner() *Runner {
	return &Runner{active: make(map[string]context.CancelFunc)}
}

// Launch starts run on its own goroutine with a cancellable context detached
// from the caller's request. Returns an error when the runner is draining.
func (r *Runner) Launch(taskID string, run func(ctx context.Context)) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("runner is shutting down, task %s not started", taskID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.active[taskID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.forget(taskID)
		run(ctx)
	}()
	return nil
}

// Cancel aborts a running task's workflow. Reports whether the task was
// actually in flight on this replica.
func (r *Runner) Cancel(taskID string) bool {
	r.mu.Lock()
	cancel, ok := r.active[taskID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveCount reports how many workflows are in flight.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Stop cancels every in-flight workflow and waits for them to finish, bounded
// by ctx.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	r.stopped = true
	for taskID, cancel := range r.active {
		slog.Info("Cancelling in-flight task for shutdown", "task_id", taskID)
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Orchestrator runner drained")
	case <-ctx.Done():
		slog.Warn("Orchestrator runner drain timed out", "remaining", r.ActiveCount())
	}
}

func (r *Runner) forget(taskID string) {
	r.mu.Lock()
	if cancel, ok := r.active[taskID]; ok {
		cancel()
		delete(r.active, taskID)
	}
	r.mu.Unlock()
}
