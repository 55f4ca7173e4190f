package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/sparkq/sparkq/internal/common/errors"
	"github.com/sparkq/sparkq/internal/common/ids"
	"github.com/sparkq/sparkq/internal/common/tracing"
)

const taskColumns = `id, queue_id, friendly_code, tool_name, task_class, payload, status,
	timeout_seconds, attempts, result, error, stdout, stderr, claimed_by,
	created_at, claimed_at, finished_at, stale_warned_at`

// friendlyCodeRetries bounds collision retries for the random code suffix.
const friendlyCodeRetries = 10

// EnqueueParams holds the fields accepted at enqueue time.
type EnqueueParams struct {
	QueueID        string
	ToolName       string
	TaskClass      string // optional; defaults to the tool's class
	Payload        json.RawMessage
	TimeoutSeconds int // optional; defaults to the class timeout
}

// EnqueueTask validates references and inserts a queued task, all within one
// transaction. Timeout resolution: explicit positive value, else the task
// class default, else Invalid.
func (s *Store) EnqueueTask(ctx context.Context, params EnqueueParams) (*Task, error) {
	if len(params.Payload) == 0 || !json.Valid(params.Payload) {
		return nil, errors.InvalidField("payload", "must be valid JSON")
	}
	if params.TimeoutSeconds < 0 {
		return nil, errors.InvalidField("timeout", "must be positive")
	}

	var task *Task
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var queueName, queueStatus string
		err := tx.QueryRowContext(ctx,
			tx.Rebind(`SELECT name, status FROM queues WHERE id = ?`), params.QueueID).
			Scan(&queueName, &queueStatus)
		if err == sql.ErrNoRows {
			return errors.NotFound("queue", params.QueueID)
		}
		if err != nil {
			return mapSQLiteError(err, "failed to load queue")
		}
		if queueStatus == QueueStatusArchived || queueStatus == QueueStatusEnded {
			return errors.Conflict("queue."+queueStatus, "cannot enqueue into "+queueStatus+" queue")
		}

		var toolClass string
		err = tx.QueryRowContext(ctx,
			tx.Rebind(`SELECT task_class FROM tools WHERE name = ?`), params.ToolName).
			Scan(&toolClass)
		if err == sql.ErrNoRows {
			return errors.NotFound("tool", params.ToolName)
		}
		if err != nil {
			return mapSQLiteError(err, "failed to load tool")
		}

		class := params.TaskClass
		if class == "" {
			class = toolClass
		}
		var classTimeout int
		err = tx.QueryRowContext(ctx,
			tx.Rebind(`SELECT default_timeout_seconds FROM task_classes WHERE name = ?`), class).
			Scan(&classTimeout)
		if err == sql.ErrNoRows {
			return errors.NotFound("task_class", class)
		}
		if err != nil {
			return mapSQLiteError(err, "failed to load task class")
		}

		timeout := params.TimeoutSeconds
		if timeout == 0 {
			timeout = classTimeout
		}
		if timeout <= 0 {
			return errors.InvalidField("timeout", "must be positive")
		}

		task = &Task{
			ID:             ids.NewTask(),
			QueueID:        params.QueueID,
			ToolName:       params.ToolName,
			TaskClass:      class,
			Payload:        types.JSONText(params.Payload),
			Status:         TaskStatusQueued,
			TimeoutSeconds: timeout,
			Attempts:       0,
			CreatedAt:      now(),
		}

		// Friendly codes collide within a queue occasionally; regenerate the
		// random suffix until the UNIQUE(queue_id, friendly_code) index accepts it.
		for attempt := 0; attempt < friendlyCodeRetries; attempt++ {
			task.FriendlyCode = ids.FriendlyCode(queueName)
			_, err = tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO tasks (id, queue_id, friendly_code, tool_name, task_class, payload,
					status, timeout_seconds, attempts, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`), task.ID, task.QueueID, task.FriendlyCode, task.ToolName, task.TaskClass,
				string(task.Payload), task.Status, task.TimeoutSeconds, task.Attempts, task.CreatedAt)
			if err == nil {
				return nil
			}
			if !isUniqueViolation(err) {
				return mapSQLiteError(err, "failed to insert task")
			}
		}
		return errors.Conflict("task.code_collision", "could not allocate a unique friendly code")
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	err := s.reader().GetContext(ctx, &task,
		s.reader().Rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("task", id)
	}
	if err != nil {
		return nil, mapSQLiteError(err, "failed to load task")
	}
	return &task, nil
}

// ListTasksParams filters and paginates task listings.
type ListTasksParams struct {
	QueueID string
	Status  string
	Limit   int
	Offset  int
}

// ListTasks returns tasks in FIFO order (created_at, id).
func (s *Store) ListTasks(ctx context.Context, params ListTasksParams) ([]*Task, error) {
	ctx, span := tracing.Tracer("sparkq-store").Start(ctx, "store.ListTasks")
	defer span.End()

	query := `SELECT ` + taskColumns + ` FROM tasks`
	where := ""
	args := []interface{}{}
	if params.QueueID != "" {
		where = ` WHERE queue_id = ?`
		args = append(args, params.QueueID)
	}
	if params.Status != "" {
		if !ValidTaskStatus(params.Status) {
			return nil, errors.InvalidField("status", "unknown task status")
		}
		if where == "" {
			where = ` WHERE status = ?`
		} else {
			where += ` AND status = ?`
		}
		args = append(args, params.Status)
	}
	query += where + ` ORDER BY created_at ASC, id ASC`
	if params.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, params.Limit, params.Offset)
	}

	tasks := []*Task{}
	err := s.reader().SelectContext(ctx, &tasks, s.reader().Rebind(query), args...)
	if err != nil {
		return nil, mapSQLiteError(err, "failed to list tasks")
	}
	return tasks, nil
}

// NextQueuedForQueue returns the oldest queued task for a queue, or nil when
// the queue is empty. Read-only; does not mutate.
func (s *Store) NextQueuedForQueue(ctx context.Context, queueID string) (*Task, error) {
	var task Task
	err := s.reader().GetContext(ctx, &task, s.reader().Rebind(`
		SELECT `+taskColumns+` FROM tasks
		WHERE queue_id = ? AND status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`), queueID, TaskStatusQueued)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLiteError(err, "failed to load next queued task")
	}
	return &task, nil
}

// TryClaim atomically claims the oldest queued task in a queue for workerID.
// Returns (nil, nil) when no task is available. Concurrent callers are
// serialized by the single writer connection; each task goes to exactly one
// caller, in (created_at, id) order.
func (s *Store) TryClaim(ctx context.Context, queueID, workerID string, claimedAt time.Time) (*Task, error) {
	ctx, span := tracing.Tracer("sparkq-store").Start(ctx, "store.TryClaim")
	defer span.End()

	claimedAt = TruncateTime(claimedAt)
	var task *Task
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			tx.Rebind(`SELECT COUNT(*) FROM queues WHERE id = ?`), queueID).Scan(&exists)
		if err != nil {
			return mapSQLiteError(err, "failed to check queue")
		}
		if exists == 0 {
			return errors.NotFound("queue", queueID)
		}

		var head Task
		err = tx.GetContext(ctx, &head, tx.Rebind(`
			SELECT `+taskColumns+` FROM tasks
			WHERE queue_id = ? AND status = ?
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		`), queueID, TaskStatusQueued)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return mapSQLiteError(err, "failed to select queue head")
		}

		// The status guard makes the select-then-update safe even if another
		// transaction slipped in between (it cannot, with one writer conn,
		// but the guard costs nothing).
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE tasks
			SET status = ?, claimed_at = ?, claimed_by = ?, attempts = attempts + 1
			WHERE id = ? AND status = ?
		`), TaskStatusRunning, claimedAt, workerID, head.ID, TaskStatusQueued)
		if err != nil {
			return mapSQLiteError(err, "failed to claim task")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		head.Status = TaskStatusRunning
		head.ClaimedAt = &claimedAt
		head.ClaimedBy = &workerID
		head.Attempts++
		task = &head
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ClaimTaskByID claims one specific queued task, independent of queue order.
// Used by the per-task claim endpoint.
func (s *Store) ClaimTaskByID(ctx context.Context, taskID, workerID string, claimedAt time.Time) (*Task, error) {
	claimedAt = TruncateTime(claimedAt)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			tx.Rebind(`SELECT status FROM tasks WHERE id = ?`), taskID).Scan(&status)
		if err == sql.ErrNoRows {
			return errors.NotFound("task", taskID)
		}
		if err != nil {
			return mapSQLiteError(err, "failed to load task")
		}
		if status != TaskStatusQueued {
			return errors.WrongState(taskID, status, TaskStatusQueued)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE tasks
			SET status = ?, claimed_at = ?, claimed_by = ?, attempts = attempts + 1
			WHERE id = ? AND status = ?
		`), TaskStatusRunning, claimedAt, workerID, taskID, TaskStatusQueued)
		if err != nil {
			return mapSQLiteError(err, "failed to claim task")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskID)
}

// FinalizeParams carries the outcome of a finished execution.
type FinalizeParams struct {
	Outcome string // succeeded or failed
	Result  *string
	Error   *string
	Stdout  *string
	Stderr  *string
}

// FinalizeTask transitions a running task to a terminal status. Refuses with
// task.wrong_state when the task is not running.
func (s *Store) FinalizeTask(ctx context.Context, taskID string, params FinalizeParams, finishedAt time.Time) (*Task, error) {
	if !IsTerminalTaskStatus(params.Outcome) {
		return nil, errors.InvalidField("outcome", "must be succeeded or failed")
	}
	finishedAt = TruncateTime(finishedAt)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			tx.Rebind(`SELECT status FROM tasks WHERE id = ?`), taskID).Scan(&status)
		if err == sql.ErrNoRows {
			return errors.NotFound("task", taskID)
		}
		if err != nil {
			return mapSQLiteError(err, "failed to load task")
		}
		if status != TaskStatusRunning {
			return errors.WrongState(taskID, status, TaskStatusRunning)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE tasks
			SET status = ?, result = ?, error = ?, stdout = ?, stderr = ?, finished_at = ?
			WHERE id = ? AND status = ?
		`), params.Outcome, params.Result, params.Error, params.Stdout, params.Stderr,
			finishedAt, taskID, TaskStatusRunning)
		if err != nil {
			return mapSQLiteError(err, "failed to finalize task")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskID)
}

// RequeueTask resets a terminal task to queued, clearing claim and outcome
// fields while preserving attempts.
func (s *Store) RequeueTask(ctx context.Context, taskID string) (*Task, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			tx.Rebind(`SELECT status FROM tasks WHERE id = ?`), taskID).Scan(&status)
		if err == sql.ErrNoRows {
			return errors.NotFound("task", taskID)
		}
		if err != nil {
			return mapSQLiteError(err, "failed to load task")
		}
		if !IsTerminalTaskStatus(status) {
			return errors.WrongState(taskID, status, "succeeded or failed")
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE tasks
			SET status = ?, claimed_at = NULL, claimed_by = NULL, finished_at = NULL,
			    stale_warned_at = NULL, result = NULL, error = NULL
			WHERE id = ?
		`), TaskStatusQueued, taskID)
		if err != nil {
			return mapSQLiteError(err, "failed to requeue task")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, taskID)
}

// AutoFailTask transitions a running task to failed with a synthetic error,
// preserving the original claimed_at. Used by the auto-fail reaper; callers
// treat a wrong-state result as "already finished elsewhere".
func (s *Store) AutoFailTask(ctx context.Context, taskID, errMsg string, finishedAt time.Time) (*Task, error) {
	msg := errMsg
	return s.FinalizeTask(ctx, taskID, FinalizeParams{
		Outcome: TaskStatusFailed,
		Error:   &msg,
	}, finishedAt)
}

// StaleCandidates returns running tasks whose claim age has reached twice
// their timeout. The julianday difference is in days; 86400 scales to seconds.
func (s *Store) StaleCandidates(ctx context.Context, asOf time.Time) ([]*Task, error) {
	tasks := []*Task{}
	err := s.reader().SelectContext(ctx, &tasks, s.reader().Rebind(`
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ?
		  AND (julianday(?) - julianday(claimed_at)) * 86400.0 >= timeout_seconds * 2
		ORDER BY claimed_at ASC
	`), TaskStatusRunning, TruncateTime(asOf))
	if err != nil {
		return nil, mapSQLiteError(err, "failed to query stale candidates")
	}
	return tasks, nil
}

// WarnCandidates returns running tasks past 1x timeout but not yet 2x that
// have not been stamped with stale_warned_at.
func (s *Store) WarnCandidates(ctx context.Context, asOf time.Time) ([]*Task, error) {
	tasks := []*Task{}
	err := s.reader().SelectContext(ctx, &tasks, s.reader().Rebind(`
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ?
		  AND stale_warned_at IS NULL
		  AND (julianday(?) - julianday(claimed_at)) * 86400.0 >= timeout_seconds
		  AND (julianday(?) - julianday(claimed_at)) * 86400.0 < timeout_seconds * 2
		ORDER BY claimed_at ASC
	`), TaskStatusRunning, TruncateTime(asOf), TruncateTime(asOf))
	if err != nil {
		return nil, mapSQLiteError(err, "failed to query warn candidates")
	}
	return tasks, nil
}

// MarkStaleWarned stamps the advisory stale_warned_at once. Not a state
// change; only stamps tasks still running and unstamped.
func (s *Store) MarkStaleWarned(ctx context.Context, taskID string, warnedAt time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE tasks SET stale_warned_at = ?
			WHERE id = ? AND status = ? AND stale_warned_at IS NULL
		`), TruncateTime(warnedAt), taskID, TaskStatusRunning)
		if err != nil {
			return mapSQLiteError(err, "failed to mark stale warning")
		}
		return nil
	})
}

// PurgeTerminal deletes up to limit terminal tasks finished before cutoff and
// returns the number deleted. Callers chunk large purges by looping.
func (s *Store) PurgeTerminal(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	var deleted int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			DELETE FROM tasks WHERE id IN (
				SELECT id FROM tasks
				WHERE status IN (?, ?) AND finished_at < ?
				ORDER BY finished_at ASC
				LIMIT ?
			)
		`), TaskStatusSucceeded, TaskStatusFailed, TruncateTime(cutoff), limit)
		if err != nil {
			return mapSQLiteError(err, "failed to purge terminal tasks")
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Debug("purged terminal tasks", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// DeleteTask deletes a single task. The queue is unaffected.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tasks WHERE id = ?`), id)
		if err != nil {
			return mapSQLiteError(err, "failed to delete task")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NotFound("task", id)
		}
		return nil
	})
}
