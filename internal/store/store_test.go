package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sparkq/sparkq/internal/common/errors"
	"github.com/sparkq/sparkq/internal/common/logger"
	"github.com/sparkq/sparkq/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool, err := db.Open(filepath.Join(t.TempDir(), "sparkq.db"), db.Options{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	st, err := New(pool, logger.Default())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// seedRegistry installs one task class and one tool for task tests.
func seedRegistry(t *testing.T, st *Store) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.UpsertTaskClass(ctx, TaskClass{Name: "quick", DefaultTimeoutSeconds: 60}); err != nil {
		t.Fatalf("seed task class: %v", err)
	}
	if _, err := st.UpsertTool(ctx, Tool{Name: "shell", TaskClass: "quick"}); err != nil {
		t.Fatalf("seed tool: %v", err)
	}
}

func mustCreateQueue(t *testing.T, st *Store, name string) *Queue {
	t.Helper()
	ctx := context.Background()
	session, err := st.CreateSession(ctx, "test session")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	queue, err := st.CreateQueue(ctx, CreateQueueParams{SessionID: session.ID, Name: name})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	return queue
}

func mustEnqueue(t *testing.T, st *Store, queueID string) *Task {
	t.Helper()
	task, err := st.EnqueueTask(context.Background(), EnqueueParams{
		QueueID:  queueID,
		ToolName: "shell",
		Payload:  json.RawMessage(`{"cmd":"true"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return task
}

func TestDefaultProjectExists(t *testing.T) {
	st := newTestStore(t)
	p, err := st.GetProject(context.Background(), "prj_default")
	if err != nil {
		t.Fatalf("default project missing: %v", err)
	}
	if p.Name != "default" {
		t.Errorf("project name = %q, want %q", p.Name, "default")
	}
}

func TestSessionLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	session, err := st.CreateSession(ctx, "sprint-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.Status != SessionStatusActive {
		t.Errorf("status = %q, want active", session.Status)
	}
	if session.EndedAt != nil {
		t.Error("new session has ended_at set")
	}

	ended, err := st.EndSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != SessionStatusEnded || ended.EndedAt == nil {
		t.Errorf("ended session = %+v", ended)
	}

	_, err = st.EndSession(ctx, session.ID)
	if !errors.IsConflict(err) {
		t.Errorf("double end: got %v, want conflict", err)
	}
	if errors.GetCode(err) != "session.already_ended" {
		t.Errorf("code = %q", errors.GetCode(err))
	}

	_, err = st.GetSession(ctx, "ses_missing00")
	if !errors.IsNotFound(err) {
		t.Errorf("missing session: got %v, want not found", err)
	}
}

func TestCreateQueueInEndedSession(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	session, _ := st.CreateSession(ctx, "s")
	if _, err := st.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	_, err := st.CreateQueue(ctx, CreateQueueParams{SessionID: session.ID, Name: "q"})
	if !errors.IsConflict(err) {
		t.Fatalf("got %v, want conflict", err)
	}
	if errors.GetCode(err) != "session.ended" {
		t.Errorf("code = %q", errors.GetCode(err))
	}
}

func TestQueueDuplicateName(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	session, _ := st.CreateSession(ctx, "s")
	first, err := st.CreateQueue(ctx, CreateQueueParams{SessionID: session.ID, Name: "builds"})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err = st.CreateQueue(ctx, CreateQueueParams{SessionID: session.ID, Name: "builds"})
	if errors.GetCode(err) != "queue.duplicate_name" {
		t.Fatalf("duplicate: got %v", err)
	}

	// Archiving frees the name for reuse.
	if _, err := st.SetQueueStatus(ctx, first.ID, QueueStatusArchived); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := st.CreateQueue(ctx, CreateQueueParams{SessionID: session.ID, Name: "builds"}); err != nil {
		t.Fatalf("reuse after archive: %v", err)
	}
}

func TestQueueDerivedStatus(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()
	queue := mustCreateQueue(t, st, "derive")

	got, _ := st.GetQueue(ctx, queue.ID)
	if got.Status != QueueStatusIdle {
		t.Errorf("empty queue status = %q, want idle", got.Status)
	}

	task := mustEnqueue(t, st, queue.ID)
	got, _ = st.GetQueue(ctx, queue.ID)
	if got.Status != QueueStatusPlanned {
		t.Errorf("queued tasks status = %q, want planned", got.Status)
	}

	claimed, err := st.TryClaim(ctx, queue.ID, "w1", TruncateTime(now()))
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}
	got, _ = st.GetQueue(ctx, queue.ID)
	if got.Status != QueueStatusActive {
		t.Errorf("running task status = %q, want active", got.Status)
	}

	if _, err := st.FinalizeTask(ctx, task.ID, FinalizeParams{Outcome: TaskStatusSucceeded}, now()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	got, _ = st.GetQueue(ctx, queue.ID)
	if got.Status != QueueStatusIdle {
		t.Errorf("drained queue status = %q, want idle", got.Status)
	}

	// Explicit overrides win over task distribution.
	if _, err := st.SetQueueStatus(ctx, queue.ID, QueueStatusEnded); err != nil {
		t.Fatalf("end: %v", err)
	}
	got, _ = st.GetQueue(ctx, queue.ID)
	if got.Status != QueueStatusEnded {
		t.Errorf("ended queue status = %q", got.Status)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()

	queue := mustCreateQueue(t, st, "doomed")
	task := mustEnqueue(t, st, queue.ID)

	if err := st.DeleteSession(ctx, queue.SessionID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := st.GetQueue(ctx, queue.ID); !errors.IsNotFound(err) {
		t.Errorf("queue survived cascade: %v", err)
	}
	if _, err := st.GetTask(ctx, task.ID); !errors.IsNotFound(err) {
		t.Errorf("task survived cascade: %v", err)
	}
}
