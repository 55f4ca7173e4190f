// Package scheduler coordinates task dispatch: enqueue gating, FIFO claims,
// completion and requeue. It holds no state of its own; every decision is a
// store transaction, with lifecycle events published after commit.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sparkq/sparkq/internal/common/logger"
	"github.com/sparkq/sparkq/internal/events/bus"
	"github.com/sparkq/sparkq/internal/store"
)

// Scheduler dispatches tasks in strict FIFO order per queue.
type Scheduler struct {
	store  *store.Store
	bus    bus.EventBus
	logger *logger.Logger
}

// New creates a Scheduler.
func New(st *store.Store, eventBus bus.EventBus, log *logger.Logger) *Scheduler {
	return &Scheduler{
		store:  st,
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "scheduler")),
	}
}

// EnqueueParams mirrors the fields a caller may supply at enqueue time.
type EnqueueParams struct {
	QueueID        string
	ToolName       string
	TaskClass      string
	Payload        json.RawMessage
	TimeoutSeconds int
}

// Enqueue validates references, resolves the timeout and appends a new queued
// task to the queue.
func (s *Scheduler) Enqueue(ctx context.Context, params EnqueueParams) (*store.Task, error) {
	task, err := s.store.EnqueueTask(ctx, store.EnqueueParams{
		QueueID:        params.QueueID,
		ToolName:       params.ToolName,
		TaskClass:      params.TaskClass,
		Payload:        params.Payload,
		TimeoutSeconds: params.TimeoutSeconds,
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Info("task enqueued",
		zap.String("task_id", task.ID),
		zap.String("queue_id", task.QueueID),
		zap.String("friendly_code", task.FriendlyCode),
		zap.String("tool", task.ToolName))
	s.publish(ctx, bus.SubjectTaskEnqueued, task)
	return task, nil
}

// Claim hands the oldest queued task of a queue to a worker. Returns
// (nil, nil) when the queue has no queued tasks.
func (s *Scheduler) Claim(ctx context.Context, queueID, workerID string) (*store.Task, error) {
	task, err := s.store.TryClaim(ctx, queueID, workerID, time.Now())
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}
	s.logger.WithContext(ctx).Info("task claimed",
		zap.String("task_id", task.ID),
		zap.String("queue_id", queueID),
		zap.String("worker_id", workerID))
	s.publish(ctx, bus.SubjectTaskClaimed, task)
	return task, nil
}

// ClaimTask claims one specific task regardless of queue position. The task
// must be queued.
func (s *Scheduler) ClaimTask(ctx context.Context, taskID, workerID string) (*store.Task, error) {
	task, err := s.store.ClaimTaskByID(ctx, taskID, workerID, time.Now())
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Info("task claimed by id",
		zap.String("task_id", task.ID),
		zap.String("worker_id", workerID))
	s.publish(ctx, bus.SubjectTaskClaimed, task)
	return task, nil
}

// CompleteParams carries the reported outcome of a finished execution.
type CompleteParams struct {
	Outcome string
	Result  *string
	Error   *string
	Stdout  *string
	Stderr  *string
}

// Complete transitions a running task to its terminal status.
func (s *Scheduler) Complete(ctx context.Context, taskID string, params CompleteParams) (*store.Task, error) {
	task, err := s.store.FinalizeTask(ctx, taskID, store.FinalizeParams{
		Outcome: params.Outcome,
		Result:  params.Result,
		Error:   params.Error,
		Stdout:  params.Stdout,
		Stderr:  params.Stderr,
	}, time.Now())
	if err != nil {
		return nil, err
	}
	subject := bus.SubjectTaskCompleted
	if task.Status == store.TaskStatusFailed {
		subject = bus.SubjectTaskFailed
	}
	s.logger.WithContext(ctx).Info("task finalized",
		zap.String("task_id", task.ID),
		zap.String("status", task.Status))
	s.publish(ctx, subject, task)
	return task, nil
}

// Requeue resets a terminal task back to queued at the tail of the FIFO (its
// created_at is unchanged, so it resumes its original position relative to
// younger tasks).
func (s *Scheduler) Requeue(ctx context.Context, taskID string) (*store.Task, error) {
	task, err := s.store.RequeueTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Info("task requeued",
		zap.String("task_id", task.ID),
		zap.Int("attempts", task.Attempts))
	s.publish(ctx, bus.SubjectTaskRequeued, task)
	return task, nil
}

// AutoFail fails a running task on behalf of the auto-fail reaper.
func (s *Scheduler) AutoFail(ctx context.Context, taskID, reason string) (*store.Task, error) {
	task, err := s.store.AutoFailTask(ctx, taskID, reason, time.Now())
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Warn("task auto-failed",
		zap.String("task_id", task.ID),
		zap.Int("timeout_seconds", task.TimeoutSeconds))
	s.publish(ctx, bus.SubjectTaskAutoFail, task)
	return task, nil
}

// publish sends a lifecycle event; bus failures are logged, never surfaced to
// the API caller.
func (s *Scheduler) publish(ctx context.Context, subject string, task *store.Task) {
	event := bus.NewEvent(subject, "scheduler", map[string]interface{}{
		"task_id":       task.ID,
		"queue_id":      task.QueueID,
		"friendly_code": task.FriendlyCode,
		"status":        task.Status,
	})
	if err := s.bus.Publish(ctx, subject, event); err != nil {
		s.logger.WithError(err).Warn("failed to publish task event",
			zap.String("subject", subject), zap.String("task_id", task.ID))
	}
}
