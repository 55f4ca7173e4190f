package reaper

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sparkq/sparkq/internal/common/errors"
	"github.com/sparkq/sparkq/internal/common/logger"
	"github.com/sparkq/sparkq/internal/db"
	"github.com/sparkq/sparkq/internal/events/bus"
	"github.com/sparkq/sparkq/internal/scheduler"
	"github.com/sparkq/sparkq/internal/store"
)

func newFixture(t *testing.T) (*store.Store, *scheduler.Scheduler, string) {
	t.Helper()
	ctx := context.Background()
	pool, err := db.Open(filepath.Join(t.TempDir(), "sparkq.db"), db.Options{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	st, err := store.New(pool, logger.Default())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if _, err := st.UpsertTaskClass(ctx, store.TaskClass{Name: "quick", DefaultTimeoutSeconds: 60}); err != nil {
		t.Fatalf("class: %v", err)
	}
	if _, err := st.UpsertTool(ctx, store.Tool{Name: "shell", TaskClass: "quick"}); err != nil {
		t.Fatalf("tool: %v", err)
	}
	session, _ := st.CreateSession(ctx, "s")
	queue, err := st.CreateQueue(ctx, store.CreateQueueParams{SessionID: session.ID, Name: "q"})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	sched := scheduler.New(st, bus.NewMemoryEventBus(logger.Default()), logger.Default())
	return st, sched, queue.ID
}

func enqueue(t *testing.T, st *store.Store, queueID string) *store.Task {
	t.Helper()
	task, err := st.EnqueueTask(context.Background(), store.EnqueueParams{
		QueueID: queueID, ToolName: "shell", Payload: json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return task
}

func TestAutoFailSweep(t *testing.T) {
	st, sched, queueID := newFixture(t)
	ctx := context.Background()

	// Claimed far enough in the past to be past 2x the 60s timeout.
	staleTask := enqueue(t, st, queueID)
	if _, err := st.TryClaim(ctx, queueID, "w1", time.Now().Add(-5*time.Minute)); err != nil {
		t.Fatalf("claim stale: %v", err)
	}
	// Claimed past 1x but under 2x: warn only.
	warnTask := enqueue(t, st, queueID)
	if _, err := st.TryClaim(ctx, queueID, "w1", time.Now().Add(-90*time.Second)); err != nil {
		t.Fatalf("claim warn: %v", err)
	}
	// Fresh claim: untouched.
	freshTask := enqueue(t, st, queueID)
	if _, err := st.TryClaim(ctx, queueID, "w1", time.Now()); err != nil {
		t.Fatalf("claim fresh: %v", err)
	}

	reaper := NewAutoFailer(st, sched, time.Hour, logger.Default())
	reaper.sweep(ctx)

	got, _ := st.GetTask(ctx, staleTask.ID)
	if got.Status != store.TaskStatusFailed || got.Error == nil {
		t.Errorf("stale task = %+v", got)
	}
	if got.ClaimedAt == nil {
		t.Error("auto-fail dropped claimed_at")
	}

	got, _ = st.GetTask(ctx, warnTask.ID)
	if got.Status != store.TaskStatusRunning {
		t.Errorf("warn task status = %q", got.Status)
	}
	if got.StaleWarnedAt == nil {
		t.Error("warn task not stamped")
	}

	got, _ = st.GetTask(ctx, freshTask.ID)
	if got.Status != store.TaskStatusRunning || got.StaleWarnedAt != nil {
		t.Errorf("fresh task = %+v", got)
	}

	// A second sweep is a no-op for already handled tasks.
	reaper.sweep(ctx)
	got, _ = st.GetTask(ctx, staleTask.ID)
	if got.Status != store.TaskStatusFailed {
		t.Errorf("second sweep changed status to %q", got.Status)
	}
}

func TestAutoFailStartStop(t *testing.T) {
	st, sched, _ := newFixture(t)
	reaper := NewAutoFailer(st, sched, 10*time.Millisecond, logger.Default())
	reaper.Start(context.Background())
	reaper.Start(context.Background()) // idempotent
	time.Sleep(30 * time.Millisecond)
	reaper.Stop()
	reaper.Stop() // idempotent
}

func TestAutoFailIntervalFromConfig(t *testing.T) {
	st, sched, _ := newFixture(t)
	ctx := context.Background()
	reaper := NewAutoFailer(st, sched, 30*time.Second, logger.Default())

	// No database entry yet: the static interval applies.
	if got := reaper.tickInterval(ctx); got != 30*time.Second {
		t.Errorf("interval = %v, want static 30s", got)
	}

	// The database entry wins once present.
	if _, err := st.SetConfigEntry(ctx, "queue_runner", "auto_fail_interval_seconds", []byte(`5`), "test"); err != nil {
		t.Fatalf("set config: %v", err)
	}
	if got := reaper.tickInterval(ctx); got != 5*time.Second {
		t.Errorf("interval = %v, want 5s from config", got)
	}

	// A nonsense entry falls back to the static interval.
	if _, err := st.SetConfigEntry(ctx, "queue_runner", "auto_fail_interval_seconds", []byte(`0`), "test"); err != nil {
		t.Fatalf("set config: %v", err)
	}
	if got := reaper.tickInterval(ctx); got != 30*time.Second {
		t.Errorf("interval = %v, want fallback 30s", got)
	}
}

func TestPurgeSweep(t *testing.T) {
	st, _, queueID := newFixture(t)
	ctx := context.Background()

	finish := func(finishedAt time.Time) string {
		task := enqueue(t, st, queueID)
		if _, err := st.TryClaim(ctx, queueID, "w1", time.Now()); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if _, err := st.FinalizeTask(ctx, task.ID, store.FinalizeParams{Outcome: store.TaskStatusSucceeded}, finishedAt); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		return task.ID
	}
	expiredID := finish(time.Now().Add(-96 * time.Hour))
	recentID := finish(time.Now().Add(-time.Hour))

	purger := NewPurger(st, time.Hour, 3, logger.Default())
	purger.sweep(ctx)

	if _, err := st.GetTask(ctx, expiredID); !errors.IsNotFound(err) {
		t.Errorf("expired task survived: %v", err)
	}
	if _, err := st.GetTask(ctx, recentID); err != nil {
		t.Errorf("recent task purged: %v", err)
	}
}

func TestPurgeHonorsRuntimeConfig(t *testing.T) {
	st, _, queueID := newFixture(t)
	ctx := context.Background()

	task := enqueue(t, st, queueID)
	if _, err := st.TryClaim(ctx, queueID, "w1", time.Now()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := st.FinalizeTask(ctx, task.ID, store.FinalizeParams{Outcome: store.TaskStatusFailed}, time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// Static retention of 3 days would keep it, but the database says 1 day.
	if _, err := st.SetConfigEntry(ctx, "purge", "older_than_days", []byte(`1`), "test"); err != nil {
		t.Fatalf("set config: %v", err)
	}
	purger := NewPurger(st, time.Hour, 3, logger.Default())
	purger.sweep(ctx)

	if _, err := st.GetTask(ctx, task.ID); !errors.IsNotFound(err) {
		t.Errorf("task survived runtime retention: %v", err)
	}
}
