// Package reaper hosts the background maintenance loops: auto-failing tasks
// whose claim outlived twice their timeout, and purging old terminal tasks.
// Both loops are safe to restart and tolerate the database being busy.
package reaper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sparkq/sparkq/internal/common/logger"
	"github.com/sparkq/sparkq/internal/scheduler"
	"github.com/sparkq/sparkq/internal/store"
)

// AutoFailer periodically fails running tasks that have exceeded twice their
// timeout, and stamps an advisory warning on tasks past 1x.
type AutoFailer struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	interval  time.Duration
	logger    *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
}

// NewAutoFailer creates the auto-fail loop with the configured sweep interval.
func NewAutoFailer(st *store.Store, sched *scheduler.Scheduler, interval time.Duration, log *logger.Logger) *AutoFailer {
	return &AutoFailer{
		store:     st,
		scheduler: sched,
		interval:  interval,
		logger:    log.WithFields(zap.String("component", "autofail-reaper")),
	}
}

// Start launches the sweep loop. An immediate sweep runs before the first
// tick so a restart picks up stale work without waiting a full interval.
// The interval is re-read from the database after every sweep, so runtime
// config changes take effect without a restart.
func (a *AutoFailer) Start(ctx context.Context) {
	a.mu.Lock()
	if a.active {
		a.mu.Unlock()
		return
	}
	a.active = true
	a.stopCh = make(chan struct{})
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sweep(ctx)
		current := a.tickInterval(ctx)
		ticker := time.NewTicker(current)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.sweep(ctx)
				if next := a.tickInterval(ctx); next != current {
					current = next
					ticker.Reset(current)
					a.logger.Info("auto-fail interval changed", zap.Duration("interval", current))
				}
			case <-a.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	a.logger.Info("auto-fail reaper started", zap.Duration("interval", a.interval))
}

// tickInterval resolves the sweep interval, preferring the database entry over
// the static config the process started with.
func (a *AutoFailer) tickInterval(ctx context.Context) time.Duration {
	fallback := int(a.interval / time.Second)
	secs := a.store.IntConfig(ctx, "queue_runner", "auto_fail_interval_seconds", fallback)
	if secs <= 0 {
		return a.interval
	}
	return time.Duration(secs) * time.Second
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (a *AutoFailer) Stop() {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}
	a.active = false
	close(a.stopCh)
	a.mu.Unlock()
	a.wg.Wait()
	a.logger.Info("auto-fail reaper stopped")
}

// sweep runs one pass: warn-stamp tasks past 1x timeout, fail tasks past 2x.
func (a *AutoFailer) sweep(ctx context.Context) {
	now := time.Now()

	warn, err := a.store.WarnCandidates(ctx, now)
	if err != nil {
		a.logger.WithError(err).Warn("warn-candidate query failed")
	}
	for _, task := range warn {
		if err := a.store.MarkStaleWarned(ctx, task.ID, now); err != nil {
			a.logger.WithError(err).Warn("failed to stamp stale warning",
				zap.String("task_id", task.ID))
			continue
		}
		a.logger.Warn("task exceeded its timeout",
			zap.String("task_id", task.ID),
			zap.String("queue_id", task.QueueID),
			zap.Int("timeout_seconds", task.TimeoutSeconds))
	}

	stale, err := a.store.StaleCandidates(ctx, now)
	if err != nil {
		a.logger.WithError(err).Warn("stale-candidate query failed")
		return
	}
	for _, task := range stale {
		reason := fmt.Sprintf("auto-failed: no completion within %ds (2x timeout of %ds)",
			task.TimeoutSeconds*2, task.TimeoutSeconds)
		if _, err := a.scheduler.AutoFail(ctx, task.ID, reason); err != nil {
			// Lost the race with a genuine completion; that is the desired
			// outcome, not an error worth surfacing.
			a.logger.WithError(err).Debug("auto-fail skipped",
				zap.String("task_id", task.ID))
		}
	}
	if len(stale) > 0 {
		a.logger.Info("auto-fail sweep complete", zap.Int("failed", len(stale)))
	}
}
