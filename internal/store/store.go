package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/sparkq/sparkq/internal/common/errors"
	"github.com/sparkq/sparkq/internal/common/ids"
	"github.com/sparkq/sparkq/internal/common/logger"
	"github.com/sparkq/sparkq/internal/db"
)

// Store is the sole arbiter of durable state.
type Store struct {
	pool   *db.Pool
	logger *logger.Logger
}

// New creates a Store over an opened database pool and initializes the
// schema.
func New(pool *db.Pool, log *logger.Logger) (*Store, error) {
	s := &Store{
		pool:   pool,
		logger: log.WithFields(zap.String("component", "store")),
	}
	if err := s.initSchema(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize schema")
	}
	if err := s.ensureDefaultProject(); err != nil {
		return nil, errors.Wrap(err, "failed to ensure default project")
	}
	return s, nil
}

// Close closes the underlying database pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Ping verifies both connections are alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Writer().PingContext(ctx); err != nil {
		return err
	}
	return s.pool.Reader().PingContext(ctx)
}

func (s *Store) writer() *sqlx.DB { return s.pool.Writer() }
func (s *Store) reader() *sqlx.DB { return s.pool.Reader() }

// now returns the current UTC instant at millisecond precision, the
// resolution every stored timestamp uses.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// TruncateTime normalizes an externally supplied instant to stored precision.
func TruncateTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// withTx runs fn inside a single write transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.writer().BeginTxx(ctx, nil)
	if err != nil {
		return mapSQLiteError(err, "failed to begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapSQLiteError(err, "failed to commit transaction")
	}
	return nil
}

// mapSQLiteError translates driver errors into the typed taxonomy: lock
// timeouts become Unavailable (503), everything else Internal.
func mapSQLiteError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return errors.Unavailable(msg, err)
		}
	}
	return errors.Internal(msg, err)
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// isFKViolation reports whether err is a FOREIGN KEY constraint failure.
func isFKViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey ||
			sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// initSchema creates the database tables if they don't exist.
func (s *Store) initSchema() error {
	_, err := s.writer().Exec(`
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP,
		FOREIGN KEY (project_id) REFERENCES projects(id)
	);

	CREATE TABLE IF NOT EXISTS queues (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		instructions TEXT NOT NULL DEFAULT '',
		model_profile TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_classes (
		name TEXT PRIMARY KEY,
		default_timeout_seconds INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS tools (
		name TEXT PRIMARY KEY,
		task_class TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (task_class) REFERENCES task_classes(name)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		queue_id TEXT NOT NULL,
		friendly_code TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		task_class TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT 'null',
		status TEXT NOT NULL DEFAULT 'queued',
		timeout_seconds INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		error TEXT,
		stdout TEXT,
		stderr TEXT,
		claimed_by TEXT,
		created_at TIMESTAMP NOT NULL,
		claimed_at TIMESTAMP,
		finished_at TIMESTAMP,
		stale_warned_at TIMESTAMP,
		FOREIGN KEY (queue_id) REFERENCES queues(id) ON DELETE CASCADE,
		FOREIGN KEY (tool_name) REFERENCES tools(name),
		FOREIGN KEY (task_class) REFERENCES task_classes(name),
		UNIQUE(queue_id, friendly_code)
	);

	CREATE TABLE IF NOT EXISTS config_entries (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		updated_by TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (namespace, key)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_project_id ON sessions(project_id);
	CREATE INDEX IF NOT EXISTS idx_queues_session_id ON queues(session_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_queue_status_created ON tasks(queue_id, status, created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_status_finished ON tasks(status, finished_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_status_claimed ON tasks(status, claimed_at);
	`)
	if err != nil {
		return mapSQLiteError(err, "schema init failed")
	}
	return nil
}

// ensureDefaultProject creates the singleton project on first run.
func (s *Store) ensureDefaultProject() error {
	_, err := s.writer().Exec(
		s.writer().Rebind(`INSERT OR IGNORE INTO projects (id, name, created_at) VALUES (?, ?, ?)`),
		ids.DefaultProjectID, "default", now(),
	)
	if err != nil {
		return mapSQLiteError(err, "failed to create default project")
	}
	return nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.reader().GetContext(ctx, &p,
		s.reader().Rebind(`SELECT id, name, created_at FROM projects WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("project", id)
	}
	if err != nil {
		return nil, mapSQLiteError(err, "failed to load project")
	}
	return &p, nil
}
