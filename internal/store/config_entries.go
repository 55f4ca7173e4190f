package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/sparkq/sparkq/internal/common/errors"
)

// GetConfigEntry retrieves a single runtime config entry.
func (s *Store) GetConfigEntry(ctx context.Context, namespace, key string) (*ConfigEntry, error) {
	var entry ConfigEntry
	err := s.reader().GetContext(ctx, &entry, s.reader().Rebind(`
		SELECT namespace, key, value, updated_at, updated_by
		FROM config_entries WHERE namespace = ? AND key = ?
	`), namespace, key)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("config", namespace+"/"+key)
	}
	if err != nil {
		return nil, mapSQLiteError(err, "failed to load config entry")
	}
	return &entry, nil
}

// SetConfigEntry creates or replaces a runtime config entry. Value must be
// valid JSON.
func (s *Store) SetConfigEntry(ctx context.Context, namespace, key string, value json.RawMessage, updatedBy string) (*ConfigEntry, error) {
	if namespace == "" || key == "" {
		return nil, errors.InvalidField("namespace/key", "are required")
	}
	if len(value) == 0 || !json.Valid(value) {
		return nil, errors.InvalidField("value", "must be valid JSON")
	}
	entry := &ConfigEntry{
		Namespace: namespace,
		Key:       key,
		Value:     types.JSONText(value),
		UpdatedAt: now(),
		UpdatedBy: updatedBy,
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO config_entries (namespace, key, value, updated_at, updated_by)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(namespace, key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at,
				updated_by = excluded.updated_by
		`), entry.Namespace, entry.Key, string(entry.Value), entry.UpdatedAt, entry.UpdatedBy)
		if err != nil {
			return mapSQLiteError(err, "failed to set config entry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListConfigEntries returns entries, optionally scoped to one namespace.
func (s *Store) ListConfigEntries(ctx context.Context, namespace string) ([]*ConfigEntry, error) {
	query := `SELECT namespace, key, value, updated_at, updated_by FROM config_entries`
	args := []interface{}{}
	if namespace != "" {
		query += ` WHERE namespace = ?`
		args = append(args, namespace)
	}
	query += ` ORDER BY namespace ASC, key ASC`

	entries := []*ConfigEntry{}
	err := s.reader().SelectContext(ctx, &entries, s.reader().Rebind(query), args...)
	if err != nil {
		return nil, mapSQLiteError(err, "failed to list config entries")
	}
	return entries, nil
}

// IntConfig reads an integer entry, returning fallback when the entry is
// absent or not a number. Used by the reapers for DB-authoritative settings.
func (s *Store) IntConfig(ctx context.Context, namespace, key string, fallback int) int {
	entry, err := s.GetConfigEntry(ctx, namespace, key)
	if err != nil {
		return fallback
	}
	var v int
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		return fallback
	}
	return v
}
