// Package db opens the embedded SQLite database with the writer/reader split
// the store relies on: one writer connection serializes all mutations (the
// claim algorithm depends on this), a read-only pool serves concurrent GETs.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBusyTimeout = 5 * time.Second

	// defaultReaderConns is the number of concurrent read connections.
	// WAL mode allows many readers alongside the single writer.
	defaultReaderConns = 4
)

// Options controls how the database is opened.
type Options struct {
	// JournalMode is "wal" (default) or "delete".
	JournalMode string
}

// Open opens the database at path and returns a Pool with a single-connection
// writer and a read-only reader pool.
func Open(path string, opts Options) (*Pool, error) {
	writer, err := openWriter(path, opts)
	if err != nil {
		return nil, err
	}
	reader, err := openReader(path)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	return NewPool(writer, reader), nil
}

// openWriter opens a SQLite connection configured for writes.
func openWriter(path string, opts Options) (*sqlx.DB, error) {
	normalized := normalizePath(path)
	if err := ensureDir(normalized); err != nil {
		return nil, fmt.Errorf("failed to prepare database path: %w", err)
	}
	if err := ensureFile(normalized); err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}

	journal := strings.ToUpper(opts.JournalMode)
	if journal == "" {
		journal = "WAL"
	}

	// Writer DSN settings:
	// - foreign_keys=on: enforce FK constraints consistently.
	// - busy_timeout: wait briefly on locks to reduce transient "database is locked".
	// - journal_mode=WAL: read concurrency with a single serialized writer.
	// - synchronous=FULL: commits are durable before a claim is acknowledged.
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=%s&_synchronous=FULL",
		normalized,
		int(defaultBusyTimeout/time.Millisecond),
		journal,
	)
	writer, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer connection: serializes writes and avoids SQLITE_BUSY.
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	return writer, nil
}

// openReader opens a read-only connection pool. Combined with WAL mode this
// lets readers proceed without blocking on (or being blocked by) writes.
func openReader(path string) (*sqlx.DB, error) {
	normalized := normalizePath(path)

	// journal_mode and synchronous are database-level (set by the writer).
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=ro&_busy_timeout=%d",
		normalized,
		int(defaultBusyTimeout/time.Millisecond),
	)
	reader, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}

	reader.SetMaxOpenConns(defaultReaderConns)
	reader.SetMaxIdleConns(defaultReaderConns)

	return reader, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func ensureFile(path string) error {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}

func normalizePath(path string) string {
	if path == "" {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
