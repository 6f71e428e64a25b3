// Package sweeper fails tasks that outlived their timeout. Every replica
// runs the loop; a Redis election lock makes sure only one replica sweeps
// per interval, and the conditional task update makes a lost race harmless.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sniper-hq/sniper/pkg/config"
	"github.com/sniper-hq/sniper/pkg/gate"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

// electionKey is the cluster-wide sweep lock. Its TTL outlives the sweep
// interval so a crashed holder is replaced on the next tick.
const electionKey = "task_timeout_checker:lock"

// Sweeper is the task timeout loop.
type Sweeper struct {
	cfg   config.SweeperConfig
	store *gate.Store
	tasks *services.TaskService
	podID string

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sweeper. podID identifies this replica in the election.
func New(cfg config.SweeperConfig, store *gate.Store, tasks *services.TaskService, podID string) *Sweeper {
	return &Sweeper{
		cfg:   cfg,
		store: store,
		tasks: tasks,
		podID: podID,
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Task timeout sweeper started",
		"interval", s.cfg.Interval, "lock_ttl", s.cfg.LockTTL, "pod_id", s.podID)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Task timeout sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepTick(ctx)
		}
	}
}

// sweepTick runs one election round: win the lock, sweep, release. The
// release matters — left to its TTL the lock would outlive the interval and
// the winner would sit out its own next tick.
func (s *Sweeper) sweepTick(ctx context.Context) {
	if !s.store.AcquireLock(ctx, electionKey, s.podID, s.cfg.LockTTL) {
		return
	}
	defer s.store.ReleaseLock(ctx, electionKey, s.podID)

	if swept, err := s.SweepOnce(ctx); err != nil {
		slog.Error("Task sweep failed", "error", err)
	} else if swept > 0 {
		slog.Info("Swept timed-out tasks", "count", swept)
	}
}

// SweepOnce fails every running task whose deadline has passed. It returns
// the number of tasks it terminated. Tasks a concurrent writer already moved
// are skipped; losing that race is the design, not an error.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	running, err := s.tasks.List(ctx, models.TaskFilter{Status: string(models.TaskStatusRunning)})
	if err != nil {
		return 0, fmt.Errorf("list running tasks: %w", err)
	}

	now := time.Now().UTC()
	swept := 0
	for _, task := range running {
		if !expired(task, now) {
			continue
		}
		errText := fmt.Sprintf("task timed out after %d seconds", task.TimeoutSeconds)
		if _, err := s.tasks.Fail(ctx, task.ID, errText, nil); err != nil {
			slog.Debug("Task moved before sweep could fail it", "task_id", task.ID, "error", err)
			continue
		}
		swept++
	}
	return swept, nil
}

// expired reports whether a running task has outlived its budget. Tasks with
// no start timestamp or no timeout never expire here.
func expired(task *models.Task, now time.Time) bool {
	if task.StartedAt == nil || task.TimeoutSeconds <= 0 {
		return false
	}
	deadline := task.StartedAt.Add(time.Duration(task.TimeoutSeconds) * time.Second)
	return now.After(deadline)
}
