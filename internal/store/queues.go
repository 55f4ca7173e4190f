package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/sparkq/sparkq/internal/common/errors"
	"github.com/sparkq/sparkq/internal/common/ids"
)

// queueSelect fetches queue rows together with the task counts the derived
// status needs.
const queueSelect = `
	SELECT q.id, q.session_id, q.name, q.instructions, q.model_profile, q.status,
	       q.created_at, q.updated_at,
	       (SELECT COUNT(*) FROM tasks t WHERE t.queue_id = q.id AND t.status = 'running') AS running_count,
	       (SELECT COUNT(*) FROM tasks t WHERE t.queue_id = q.id AND t.status = 'queued') AS queued_count
	FROM queues q`

// CreateQueueParams holds the fields accepted at queue creation.
type CreateQueueParams struct {
	SessionID    string
	Name         string
	Instructions string
	ModelProfile string
}

// CreateQueue creates a queue within a session. The session must not be
// ended, and the name must be unique among the session's non-archived queues.
func (s *Store) CreateQueue(ctx context.Context, params CreateQueueParams) (*Queue, error) {
	ts := now()
	queue := &Queue{
		ID:           ids.NewQueue(),
		SessionID:    params.SessionID,
		Name:         params.Name,
		Instructions: params.Instructions,
		ModelProfile: params.ModelProfile,
		StoredStatus: QueueStatusActive,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var sessionStatus string
		err := tx.QueryRowContext(ctx,
			tx.Rebind(`SELECT status FROM sessions WHERE id = ?`), params.SessionID).Scan(&sessionStatus)
		if err == sql.ErrNoRows {
			return errors.NotFound("session", params.SessionID)
		}
		if err != nil {
			return mapSQLiteError(err, "failed to load session")
		}
		if sessionStatus == SessionStatusEnded {
			return errors.Conflict("session.ended", "cannot create queue in ended session")
		}

		var dup int
		err = tx.QueryRowContext(ctx, tx.Rebind(`
			SELECT COUNT(*) FROM queues WHERE session_id = ? AND name = ? AND status != ?
		`), params.SessionID, params.Name, QueueStatusArchived).Scan(&dup)
		if err != nil {
			return mapSQLiteError(err, "failed to check queue name")
		}
		if dup > 0 {
			return errors.Conflict("queue.duplicate_name", "queue name already in use in this session")
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO queues (id, session_id, name, instructions, model_profile, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`), queue.ID, queue.SessionID, queue.Name, queue.Instructions, queue.ModelProfile,
			queue.StoredStatus, queue.CreatedAt, queue.UpdatedAt)
		if err != nil {
			return mapSQLiteError(err, "failed to insert queue")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	queue.Status = queue.deriveStatus()
	return queue, nil
}

// GetQueue retrieves a queue by id with its derived status.
func (s *Store) GetQueue(ctx context.Context, id string) (*Queue, error) {
	var queue Queue
	err := s.reader().GetContext(ctx, &queue,
		s.reader().Rebind(queueSelect+` WHERE q.id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("queue", id)
	}
	if err != nil {
		return nil, mapSQLiteError(err, "failed to load queue")
	}
	queue.Status = queue.deriveStatus()
	return &queue, nil
}

// ListQueues returns queues, optionally filtered by session and by derived
// status. The status filter applies after derivation.
func (s *Store) ListQueues(ctx context.Context, sessionID, status string) ([]*Queue, error) {
	query := queueSelect
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE q.session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY q.created_at ASC, q.id ASC`

	queues := []*Queue{}
	err := s.reader().SelectContext(ctx, &queues, s.reader().Rebind(query), args...)
	if err != nil {
		return nil, mapSQLiteError(err, "failed to list queues")
	}

	out := queues[:0]
	for _, q := range queues {
		q.Status = q.deriveStatus()
		if status != "" && q.Status != status {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// UpdateQueueParams holds the mutable queue fields; nil means unchanged.
type UpdateQueueParams struct {
	Name         *string
	Instructions *string
	ModelProfile *string
}

// UpdateQueue applies a partial update to a queue.
func (s *Store) UpdateQueue(ctx context.Context, id string, params UpdateQueueParams) (*Queue, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var q Queue
		err := tx.GetContext(ctx, &q, tx.Rebind(`
			SELECT id, session_id, name, instructions, model_profile, status, created_at, updated_at,
			       0 AS running_count, 0 AS queued_count
			FROM queues WHERE id = ?
		`), id)
		if err == sql.ErrNoRows {
			return errors.NotFound("queue", id)
		}
		if err != nil {
			return mapSQLiteError(err, "failed to load queue")
		}

		if params.Name != nil && *params.Name != q.Name {
			var dup int
			err = tx.QueryRowContext(ctx, tx.Rebind(`
				SELECT COUNT(*) FROM queues WHERE session_id = ? AND name = ? AND status != ? AND id != ?
			`), q.SessionID, *params.Name, QueueStatusArchived, id).Scan(&dup)
			if err != nil {
				return mapSQLiteError(err, "failed to check queue name")
			}
			if dup > 0 {
				return errors.Conflict("queue.duplicate_name", "queue name already in use in this session")
			}
			q.Name = *params.Name
		}
		if params.Instructions != nil {
			q.Instructions = *params.Instructions
		}
		if params.ModelProfile != nil {
			q.ModelProfile = *params.ModelProfile
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE queues SET name = ?, instructions = ?, model_profile = ?, updated_at = ? WHERE id = ?
		`), q.Name, q.Instructions, q.ModelProfile, now(), id)
		if err != nil {
			return mapSQLiteError(err, "failed to update queue")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetQueue(ctx, id)
}

// SetQueueStatus applies an explicit status override: end, archive or
// unarchive (which restores "active").
func (s *Store) SetQueueStatus(ctx context.Context, id, stored string) (*Queue, error) {
	switch stored {
	case QueueStatusActive, QueueStatusEnded, QueueStatusArchived:
	default:
		return nil, errors.InvalidField("status", "must be one of: active, ended, archived")
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE queues SET status = ?, updated_at = ? WHERE id = ?
		`), stored, now(), id)
		if err != nil {
			return mapSQLiteError(err, "failed to set queue status")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NotFound("queue", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetQueue(ctx, id)
}

// DeleteQueue deletes a queue; its tasks cascade.
func (s *Store) DeleteQueue(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM queues WHERE id = ?`), id)
		if err != nil {
			return mapSQLiteError(err, "failed to delete queue")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NotFound("queue", id)
		}
		return nil
	})
}
