package bus

import (
	"context"
	"testing"
	"time"

	"github.com/sparkq/sparkq/internal/common/logger"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	received := make(chan *Event, 1)
	sub, err := b.Subscribe(SubjectTaskClaimed, func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !sub.IsValid() {
		t.Error("fresh subscription invalid")
	}

	event := NewEvent(SubjectTaskClaimed, "test", map[string]interface{}{"task_id": "tsk_1"})
	if err := b.Publish(context.Background(), SubjectTaskClaimed, event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if got.ID != event.ID || got.Data["task_id"] != "tsk_1" {
			t.Errorf("received %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestMemoryBusWildcard(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	received := make(chan string, 4)
	if _, err := b.Subscribe("task.*", func(ctx context.Context, e *Event) error {
		received <- e.Type
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for _, subject := range []string{SubjectTaskEnqueued, SubjectTaskAutoFail, SubjectConfigUpdated} {
		if err := b.Publish(context.Background(), subject, NewEvent(subject, "test", nil)); err != nil {
			t.Fatalf("publish %s: %v", subject, err)
		}
	}

	got := map[string]bool{}
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case subject := <-received:
			got[subject] = true
		case <-timeout:
			t.Fatalf("received %v before timeout", got)
		}
	}
	// config.updated must not match task.*.
	select {
	case subject := <-received:
		t.Errorf("unexpected delivery %q", subject)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	received := make(chan struct{}, 1)
	sub, _ := b.Subscribe(SubjectTaskFailed, func(ctx context.Context, e *Event) error {
		received <- struct{}{}
		return nil
	})
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if sub.IsValid() {
		t.Error("subscription still valid after unsubscribe")
	}
	if err := b.Publish(context.Background(), SubjectTaskFailed, NewEvent(SubjectTaskFailed, "test", nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-received:
		t.Error("handler ran after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusClosed(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	b.Close()
	if b.IsConnected() {
		t.Error("closed bus reports connected")
	}
	if err := b.Publish(context.Background(), SubjectTaskEnqueued, NewEvent(SubjectTaskEnqueued, "test", nil)); err == nil {
		t.Error("publish on closed bus succeeded")
	}
	if _, err := b.Subscribe(SubjectTaskEnqueued, func(context.Context, *Event) error { return nil }); err == nil {
		t.Error("subscribe on closed bus succeeded")
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		subject, pattern string
		want             bool
	}{
		{"task.claimed", "task.claimed", true},
		{"task.claimed", "task.*", true},
		{"task.claimed.extra", "task.*", false},
		{"config.updated", "task.*", false},
		{"task", "task.*", false},
		{"task.claimed", "config.updated", false},
	}
	for _, tt := range tests {
		if got := matches(tt.subject, tt.pattern); got != tt.want {
			t.Errorf("matches(%q, %q) = %v, want %v", tt.subject, tt.pattern, got, tt.want)
		}
	}
}
