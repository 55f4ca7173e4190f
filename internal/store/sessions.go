package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/sparkq/sparkq/internal/common/errors"
	"github.com/sparkq/sparkq/internal/common/ids"
)

const sessionColumns = `id, project_id, name, status, started_at, ended_at`

// CreateSession creates a new active session under the default project.
func (s *Store) CreateSession(ctx context.Context, name string) (*Session, error) {
	session := &Session{
		ID:        ids.NewSession(),
		ProjectID: ids.DefaultProjectID,
		Name:      name,
		Status:    SessionStatusActive,
		StartedAt: now(),
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO sessions (id, project_id, name, status, started_at)
			VALUES (?, ?, ?, ?, ?)
		`), session.ID, session.ProjectID, session.Name, session.Status, session.StartedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.Conflict("session.duplicate_id", "session id collision, retry")
			}
			return mapSQLiteError(err, "failed to insert session")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	err := s.reader().GetContext(ctx, &session,
		s.reader().Rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("session", id)
	}
	if err != nil {
		return nil, mapSQLiteError(err, "failed to load session")
	}
	return &session, nil
}

// ListSessions returns all sessions ordered by start time, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	sessions := []*Session{}
	err := s.reader().SelectContext(ctx, &sessions,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, mapSQLiteError(err, "failed to list sessions")
	}
	return sessions, nil
}

// UpdateSession applies a partial update. Only the name is mutable; status
// changes go through EndSession.
func (s *Store) UpdateSession(ctx context.Context, id string, name *string) (*Session, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if name == nil {
			return nil
		}
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE sessions SET name = ? WHERE id = ?`), *name, id)
		if err != nil {
			return mapSQLiteError(err, "failed to update session")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NotFound("session", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, id)
}

// EndSession marks a session ended. Ending an already-ended session is a
// conflict. Existing queues keep working; only new-queue creation is blocked.
func (s *Store) EndSession(ctx context.Context, id string) (*Session, error) {
	endedAt := now()
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			tx.Rebind(`SELECT status FROM sessions WHERE id = ?`), id).Scan(&status)
		if err == sql.ErrNoRows {
			return errors.NotFound("session", id)
		}
		if err != nil {
			return mapSQLiteError(err, "failed to load session")
		}
		if status == SessionStatusEnded {
			return errors.Conflict("session.already_ended", "session is already ended")
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?
		`), SessionStatusEnded, endedAt, id)
		if err != nil {
			return mapSQLiteError(err, "failed to end session")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, id)
}

// DeleteSession deletes a session; queues and tasks cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM sessions WHERE id = ?`), id)
		if err != nil {
			return mapSQLiteError(err, "failed to delete session")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NotFound("session", id)
		}
		return nil
	})
}
