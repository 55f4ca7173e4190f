package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sparkq/sparkq/internal/common/errors"
)

func TestEnqueueValidation(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()
	queue := mustCreateQueue(t, st, "validate")

	tests := []struct {
		name     string
		params   EnqueueParams
		wantCode string
	}{
		{
			name:     "invalid payload",
			params:   EnqueueParams{QueueID: queue.ID, ToolName: "shell", Payload: json.RawMessage(`{broken`)},
			wantCode: errors.CodeInvalid,
		},
		{
			name:     "empty payload",
			params:   EnqueueParams{QueueID: queue.ID, ToolName: "shell"},
			wantCode: errors.CodeInvalid,
		},
		{
			name:     "unknown tool",
			params:   EnqueueParams{QueueID: queue.ID, ToolName: "nope", Payload: json.RawMessage(`{}`)},
			wantCode: "tool.not_found",
		},
		{
			name:     "unknown class",
			params:   EnqueueParams{QueueID: queue.ID, ToolName: "shell", TaskClass: "nope", Payload: json.RawMessage(`{}`)},
			wantCode: "task_class.not_found",
		},
		{
			name:     "unknown queue",
			params:   EnqueueParams{QueueID: "que_missing00", ToolName: "shell", Payload: json.RawMessage(`{}`)},
			wantCode: "queue.not_found",
		},
		{
			name:     "negative timeout",
			params:   EnqueueParams{QueueID: queue.ID, ToolName: "shell", Payload: json.RawMessage(`{}`), TimeoutSeconds: -5},
			wantCode: errors.CodeInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := st.EnqueueTask(ctx, tt.params)
			if errors.GetCode(err) != tt.wantCode {
				t.Errorf("got %v, want code %q", err, tt.wantCode)
			}
		})
	}
}

func TestEnqueueTimeoutResolution(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()
	queue := mustCreateQueue(t, st, "timeouts")

	// Class default applies when no explicit timeout is given.
	task, err := st.EnqueueTask(ctx, EnqueueParams{
		QueueID: queue.ID, ToolName: "shell", Payload: json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if task.TimeoutSeconds != 60 {
		t.Errorf("timeout = %d, want class default 60", task.TimeoutSeconds)
	}
	if task.TaskClass != "quick" {
		t.Errorf("task class = %q, want tool default", task.TaskClass)
	}

	// Explicit timeout wins over the class default.
	task, err = st.EnqueueTask(ctx, EnqueueParams{
		QueueID: queue.ID, ToolName: "shell", Payload: json.RawMessage(`{}`), TimeoutSeconds: 5,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if task.TimeoutSeconds != 5 {
		t.Errorf("timeout = %d, want explicit 5", task.TimeoutSeconds)
	}
}

func TestEnqueueIntoArchivedQueue(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()
	queue := mustCreateQueue(t, st, "frozen")

	if _, err := st.SetQueueStatus(ctx, queue.ID, QueueStatusArchived); err != nil {
		t.Fatalf("archive: %v", err)
	}
	_, err := st.EnqueueTask(ctx, EnqueueParams{
		QueueID: queue.ID, ToolName: "shell", Payload: json.RawMessage(`{}`),
	})
	if errors.GetCode(err) != "queue.archived" {
		t.Errorf("got %v, want queue.archived conflict", err)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()
	queue := mustCreateQueue(t, st, "payloads")

	payload := `{"cmd":"make","args":["test","-v"],"env":{"CI":"1"}}`
	task, err := st.EnqueueTask(ctx, EnqueueParams{
		QueueID: queue.ID, ToolName: "shell", Payload: json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Every read path must scan the payload column back byte for byte.
	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Payload) != payload {
		t.Errorf("GetTask payload = %s", got.Payload)
	}

	listed, err := st.ListTasks(ctx, ListTasksParams{QueueID: queue.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || string(listed[0].Payload) != payload {
		t.Errorf("ListTasks payload = %+v", listed)
	}

	claimed, err := st.TryClaim(ctx, queue.ID, "w1", time.Now())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || string(claimed.Payload) != payload {
		t.Errorf("TryClaim payload = %+v", claimed)
	}

	// The claim response must itself be valid JSON end to end.
	wire, err := json.Marshal(claimed)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Task
	if err := json.Unmarshal(wire, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(decoded.Payload) != payload {
		t.Errorf("wire payload = %s", decoded.Payload)
	}
}

func TestFriendlyCodeShape(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	queue := mustCreateQueue(t, st, "My Builds!")

	task := mustEnqueue(t, st, queue.ID)
	parts := strings.Split(task.FriendlyCode, "-")
	if len(parts) != 2 {
		t.Fatalf("friendly code %q is not NAME-SUFFIX", task.FriendlyCode)
	}
	if parts[0] != "MYBUILDS" {
		t.Errorf("code base = %q, want MYBUILDS", parts[0])
	}
	if len(parts[1]) != 4 {
		t.Errorf("code suffix = %q, want 4 chars", parts[1])
	}
}

func TestClaimFIFOOrder(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()
	queue := mustCreateQueue(t, st, "fifo")

	var want []string
	for i := 0; i < 5; i++ {
		task := mustEnqueue(t, st, queue.ID)
		want = append(want, task.ID)
		time.Sleep(2 * time.Millisecond) // distinct created_at at ms precision
	}

	for i, id := range want {
		claimed, err := st.TryClaim(ctx, queue.ID, "w1", now())
		if err != nil || claimed == nil {
			t.Fatalf("claim %d: %v %v", i, claimed, err)
		}
		if claimed.ID != id {
			t.Fatalf("claim %d = %s, want %s", i, claimed.ID, id)
		}
		if claimed.Status != TaskStatusRunning || claimed.ClaimedAt == nil || claimed.Attempts != 1 {
			t.Errorf("claimed task fields: %+v", claimed)
		}
	}

	empty, err := st.TryClaim(ctx, queue.ID, "w1", now())
	if err != nil || empty != nil {
		t.Errorf("drained queue claim = %v, %v; want nil, nil", empty, err)
	}
}

// TestConcurrentClaims checks each task goes to exactly one worker even under
// racing claim calls.
func TestConcurrentClaims(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()
	queue := mustCreateQueue(t, st, "race")

	const tasks = 8
	const workers = 16
	for i := 0; i < tasks; i++ {
		mustEnqueue(t, st, queue.ID)
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := st.TryClaim(ctx, queue.ID, "w", now())
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if task == nil {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != tasks {
		t.Errorf("claimed %d distinct tasks, want %d", len(seen), tasks)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("task %s claimed %d times", id, n)
		}
	}
}

func TestClaimTaskByID(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()
	queue := mustCreateQueue(t, st, "direct")

	first := mustEnqueue(t, st, queue.ID)
	second := mustEnqueue(t, st, queue.ID)

	// Claiming the second task directly skips FIFO order.
	claimed, err := st.ClaimTaskByID(ctx, second.ID, "w1", now())
	if err != nil {
		t.Fatalf("claim by id: %v", err)
	}
	if claimed.Status != TaskStatusRunning {
		t.Errorf("status = %q", claimed.Status)
	}

	// The head is still available to queue claims.
	head, err := st.TryClaim(ctx, queue.ID, "w2", now())
	if err != nil || head == nil || head.ID != first.ID {
		t.Fatalf("head claim = %v, %v; want %s", head, err, first.ID)
	}

	// Claiming a running task is a wrong-state conflict.
	_, err = st.ClaimTaskByID(ctx, second.ID, "w3", now())
	if errors.GetCode(err) != "task.wrong_state" {
		t.Errorf("got %v, want task.wrong_state", err)
	}
}

func TestFinalizeWrongState(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()
	queue := mustCreateQueue(t, st, "final")
	task := mustEnqueue(t, st, queue.ID)

	// Completing a queued task is refused.
	_, err := st.FinalizeTask(ctx, task.ID, FinalizeParams{Outcome: TaskStatusSucceeded}, now())
	if errors.GetCode(err) != "task.wrong_state" {
		t.Fatalf("queued finalize: got %v", err)
	}

	if _, err := st.TryClaim(ctx, queue.ID, "w1", now()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	result := `{"ok":true}`
	stdout := "done\n"
	done, err := st.FinalizeTask(ctx, task.ID, FinalizeParams{
		Outcome: TaskStatusSucceeded, Result: &result, Stdout: &stdout,
	}, now())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if done.Status != TaskStatusSucceeded || done.FinishedAt == nil {
		t.Errorf("finalized task = %+v", done)
	}
	if done.Result == nil || *done.Result != result {
		t.Errorf("result = %v", done.Result)
	}

	// Double completion is refused.
	_, err = st.FinalizeTask(ctx, task.ID, FinalizeParams{Outcome: TaskStatusFailed}, now())
	if errors.GetCode(err) != "task.wrong_state" {
		t.Errorf("double finalize: got %v", err)
	}

	// Invalid outcome is a 400, not a state conflict.
	_, err = st.FinalizeTask(ctx, task.ID, FinalizeParams{Outcome: "done"}, now())
	if errors.GetCode(err) != errors.CodeInvalid {
		t.Errorf("bad outcome: got %v", err)
	}
}

func TestRequeueCycle(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()
	queue := mustCreateQueue(t, st, "retry")
	task := mustEnqueue(t, st, queue.ID)

	// Requeue of a queued task is refused.
	if _, err := st.RequeueTask(ctx, task.ID); errors.GetCode(err) != "task.wrong_state" {
		t.Fatalf("requeue queued: got %v", err)
	}

	if _, err := st.TryClaim(ctx, queue.ID, "w1", now()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	errMsg := "boom"
	if _, err := st.FinalizeTask(ctx, task.ID, FinalizeParams{Outcome: TaskStatusFailed, Error: &errMsg}, now()); err != nil {
		t.Fatalf("fail: %v", err)
	}

	requeued, err := st.RequeueTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued.Status != TaskStatusQueued {
		t.Errorf("status = %q", requeued.Status)
	}
	if requeued.ClaimedAt != nil || requeued.ClaimedBy != nil || requeued.FinishedAt != nil ||
		requeued.Result != nil || requeued.Error != nil {
		t.Errorf("requeue left stale fields: %+v", requeued)
	}
	if requeued.Attempts != 1 {
		t.Errorf("attempts = %d, want preserved 1", requeued.Attempts)
	}

	// Second pass through the lifecycle bumps attempts.
	again, err := st.TryClaim(ctx, queue.ID, "w2", now())
	if err != nil || again == nil {
		t.Fatalf("reclaim: %v %v", again, err)
	}
	if again.Attempts != 2 {
		t.Errorf("attempts after reclaim = %d, want 2", again.Attempts)
	}
}

func TestStaleAndWarnCandidates(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()
	queue := mustCreateQueue(t, st, "stale")
	task := mustEnqueue(t, st, queue.ID)

	claimedAt := now()
	if _, err := st.TryClaim(ctx, queue.ID, "w1", claimedAt); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Fresh claim: no candidates either way. Timeout is the class default, 60s.
	stale, err := st.StaleCandidates(ctx, claimedAt.Add(30*time.Second))
	if err != nil || len(stale) != 0 {
		t.Errorf("fresh stale = %v, %v", stale, err)
	}
	warn, err := st.WarnCandidates(ctx, claimedAt.Add(30*time.Second))
	if err != nil || len(warn) != 0 {
		t.Errorf("fresh warn = %v, %v", warn, err)
	}

	// Past 1x timeout: warn candidate only.
	warn, err = st.WarnCandidates(ctx, claimedAt.Add(90*time.Second))
	if err != nil || len(warn) != 1 {
		t.Fatalf("warn at 1.5x = %v, %v", warn, err)
	}
	stale, _ = st.StaleCandidates(ctx, claimedAt.Add(90*time.Second))
	if len(stale) != 0 {
		t.Errorf("stale at 1.5x = %v", stale)
	}

	// The warn stamp is applied once.
	if err := st.MarkStaleWarned(ctx, task.ID, claimedAt.Add(90*time.Second)); err != nil {
		t.Fatalf("mark warned: %v", err)
	}
	warn, _ = st.WarnCandidates(ctx, claimedAt.Add(95*time.Second))
	if len(warn) != 0 {
		t.Errorf("warn after stamp = %v", warn)
	}

	// Past 2x timeout: stale candidate.
	stale, err = st.StaleCandidates(ctx, claimedAt.Add(121*time.Second))
	if err != nil || len(stale) != 1 || stale[0].ID != task.ID {
		t.Fatalf("stale at 2x = %v, %v", stale, err)
	}

	// Auto-fail preserves claimed_at and records the reason.
	failed, err := st.AutoFailTask(ctx, task.ID, "auto-failed: no completion within 120s (2x timeout of 60s)", claimedAt.Add(121*time.Second))
	if err != nil {
		t.Fatalf("auto-fail: %v", err)
	}
	if failed.Status != TaskStatusFailed || failed.Error == nil || !strings.Contains(*failed.Error, "auto-failed") {
		t.Errorf("auto-failed task = %+v", failed)
	}
	if failed.ClaimedAt == nil || !failed.ClaimedAt.Equal(TruncateTime(claimedAt)) {
		t.Errorf("claimed_at not preserved: %v", failed.ClaimedAt)
	}
}

func TestPurgeTerminal(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()
	queue := mustCreateQueue(t, st, "purge")

	base := now()
	finishTask := func(finishedAt time.Time) string {
		task := mustEnqueue(t, st, queue.ID)
		if _, err := st.TryClaim(ctx, queue.ID, "w1", base); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if _, err := st.FinalizeTask(ctx, task.ID, FinalizeParams{Outcome: TaskStatusSucceeded}, finishedAt); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		return task.ID
	}

	oldID := finishTask(base.Add(-96 * time.Hour))
	recentID := finishTask(base.Add(-1 * time.Hour))
	keepQueued := mustEnqueue(t, st, queue.ID)

	deleted, err := st.PurgeTerminal(ctx, base.Add(-72*time.Hour), 500)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := st.GetTask(ctx, oldID); !errors.IsNotFound(err) {
		t.Errorf("old task survived: %v", err)
	}
	if _, err := st.GetTask(ctx, recentID); err != nil {
		t.Errorf("recent task purged: %v", err)
	}
	if _, err := st.GetTask(ctx, keepQueued.ID); err != nil {
		t.Errorf("queued task purged: %v", err)
	}
}

func TestListTasksFilters(t *testing.T) {
	st := newTestStore(t)
	seedRegistry(t, st)
	ctx := context.Background()
	queue := mustCreateQueue(t, st, "list")

	for i := 0; i < 3; i++ {
		mustEnqueue(t, st, queue.ID)
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := st.TryClaim(ctx, queue.ID, "w1", now()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	queued, err := st.ListTasks(ctx, ListTasksParams{QueueID: queue.ID, Status: TaskStatusQueued})
	if err != nil || len(queued) != 2 {
		t.Errorf("queued = %d, %v; want 2", len(queued), err)
	}
	running, err := st.ListTasks(ctx, ListTasksParams{QueueID: queue.ID, Status: TaskStatusRunning})
	if err != nil || len(running) != 1 {
		t.Errorf("running = %d, %v; want 1", len(running), err)
	}
	if _, err := st.ListTasks(ctx, ListTasksParams{Status: "bogus"}); errors.GetCode(err) != errors.CodeInvalid {
		t.Errorf("bogus status: got %v", err)
	}

	limited, err := st.ListTasks(ctx, ListTasksParams{QueueID: queue.ID, Limit: 2})
	if err != nil || len(limited) != 2 {
		t.Errorf("limited = %d, %v", len(limited), err)
	}
}
