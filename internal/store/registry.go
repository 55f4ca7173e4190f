package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/sparkq/sparkq/internal/common/errors"
)

// UpsertTaskClass creates or updates a task class.
func (s *Store) UpsertTaskClass(ctx context.Context, class TaskClass) (*TaskClass, error) {
	if class.Name == "" {
		return nil, errors.InvalidField("name", "is required")
	}
	if class.DefaultTimeoutSeconds <= 0 {
		return nil, errors.InvalidField("default_timeout_seconds", "must be positive")
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO task_classes (name, default_timeout_seconds, description)
			VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				default_timeout_seconds = excluded.default_timeout_seconds,
				description = excluded.description
		`), class.Name, class.DefaultTimeoutSeconds, class.Description)
		if err != nil {
			return mapSQLiteError(err, "failed to upsert task class")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &class, nil
}

// GetTaskClass retrieves a task class by name.
func (s *Store) GetTaskClass(ctx context.Context, name string) (*TaskClass, error) {
	var class TaskClass
	err := s.reader().GetContext(ctx, &class, s.reader().Rebind(`
		SELECT name, default_timeout_seconds, description FROM task_classes WHERE name = ?
	`), name)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("task_class", name)
	}
	if err != nil {
		return nil, mapSQLiteError(err, "failed to load task class")
	}
	return &class, nil
}

// ListTaskClasses returns all task classes ordered by name.
func (s *Store) ListTaskClasses(ctx context.Context) ([]*TaskClass, error) {
	classes := []*TaskClass{}
	err := s.reader().SelectContext(ctx, &classes,
		`SELECT name, default_timeout_seconds, description FROM task_classes ORDER BY name ASC`)
	if err != nil {
		return nil, mapSQLiteError(err, "failed to list task classes")
	}
	return classes, nil
}

// DeleteTaskClass deletes a class. Refused while any tool or task still
// references it.
func (s *Store) DeleteTaskClass(ctx context.Context, name string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var refs int
		err := tx.QueryRowContext(ctx, tx.Rebind(`
			SELECT (SELECT COUNT(*) FROM tools WHERE task_class = ?)
			     + (SELECT COUNT(*) FROM tasks WHERE task_class = ?)
		`), name, name).Scan(&refs)
		if err != nil {
			return mapSQLiteError(err, "failed to count class references")
		}
		if refs > 0 {
			return errors.Conflict("task_class.in_use", "task class is referenced by tools or tasks")
		}
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`DELETE FROM task_classes WHERE name = ?`), name)
		if err != nil {
			return mapSQLiteError(err, "failed to delete task class")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NotFound("task_class", name)
		}
		return nil
	})
}

// UpsertTool creates or updates a tool. The referenced task class must exist.
func (s *Store) UpsertTool(ctx context.Context, tool Tool) (*Tool, error) {
	if tool.Name == "" {
		return nil, errors.InvalidField("name", "is required")
	}
	if tool.TaskClass == "" {
		return nil, errors.InvalidField("task_class", "is required")
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			tx.Rebind(`SELECT COUNT(*) FROM task_classes WHERE name = ?`), tool.TaskClass).Scan(&exists)
		if err != nil {
			return mapSQLiteError(err, "failed to check task class")
		}
		if exists == 0 {
			return errors.NotFound("task_class", tool.TaskClass)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO tools (name, task_class, description)
			VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				task_class = excluded.task_class,
				description = excluded.description
		`), tool.Name, tool.TaskClass, tool.Description)
		if err != nil {
			return mapSQLiteError(err, "failed to upsert tool")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tool, nil
}

// GetTool retrieves a tool by name.
func (s *Store) GetTool(ctx context.Context, name string) (*Tool, error) {
	var tool Tool
	err := s.reader().GetContext(ctx, &tool, s.reader().Rebind(`
		SELECT name, task_class, description FROM tools WHERE name = ?
	`), name)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("tool", name)
	}
	if err != nil {
		return nil, mapSQLiteError(err, "failed to load tool")
	}
	return &tool, nil
}

// ListTools returns all tools ordered by name.
func (s *Store) ListTools(ctx context.Context) ([]*Tool, error) {
	tools := []*Tool{}
	err := s.reader().SelectContext(ctx, &tools,
		`SELECT name, task_class, description FROM tools ORDER BY name ASC`)
	if err != nil {
		return nil, mapSQLiteError(err, "failed to list tools")
	}
	return tools, nil
}

// DeleteTool deletes a tool. Refused while any task still references it.
func (s *Store) DeleteTool(ctx context.Context, name string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var refs int
		err := tx.QueryRowContext(ctx,
			tx.Rebind(`SELECT COUNT(*) FROM tasks WHERE tool_name = ?`), name).Scan(&refs)
		if err != nil {
			return mapSQLiteError(err, "failed to count tool references")
		}
		if refs > 0 {
			return errors.Conflict("tool.in_use", "tool is referenced by tasks")
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tools WHERE name = ?`), name)
		if err != nil {
			return mapSQLiteError(err, "failed to delete tool")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NotFound("tool", name)
		}
		return nil
	})
}
