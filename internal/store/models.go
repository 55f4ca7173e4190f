// Package store owns all durable SparkQ state: the Session → Queue → Task
// hierarchy, the tool/task-class registries, and runtime config entries.
// Every exposed operation is a single transaction.
package store

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Task statuses.
const (
	TaskStatusQueued    = "queued"
	TaskStatusRunning   = "running"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
)

// Session statuses.
const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// Queue statuses. Only "active", "ended" and "archived" are stored; "idle"
// and "planned" are derived from the task distribution on read.
const (
	QueueStatusActive   = "active"
	QueueStatusEnded    = "ended"
	QueueStatusArchived = "archived"
	QueueStatusIdle     = "idle"
	QueueStatusPlanned  = "planned"
)

// IsTerminalTaskStatus reports whether a task status is terminal.
func IsTerminalTaskStatus(status string) bool {
	return status == TaskStatusSucceeded || status == TaskStatusFailed
}

// ValidTaskStatus reports whether s is a known task status.
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusSucceeded, TaskStatusFailed:
		return true
	}
	return false
}

// Project is the top of the hierarchy. A single "prj_default" project is
// created on first run and never deleted by the core.
type Project struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Session is a named container of queues.
type Session struct {
	ID        string     `json:"id" db:"id"`
	ProjectID string     `json:"project_id" db:"project_id"`
	Name      string     `json:"name" db:"name"`
	Status    string     `json:"status" db:"status"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Queue is an ordered FIFO of tasks within a session. StoredStatus holds the
// explicit override ("active", "ended" or "archived"); Status carries the
// derived value on read.
type Queue struct {
	ID           string    `json:"id" db:"id"`
	SessionID    string    `json:"session_id" db:"session_id"`
	Name         string    `json:"name" db:"name"`
	Instructions string    `json:"instructions,omitempty" db:"instructions"`
	ModelProfile string    `json:"model_profile,omitempty" db:"model_profile"`
	StoredStatus string    `json:"-" db:"status"`
	Status       string    `json:"status" db:"-"`
	RunningCount int       `json:"running_count" db:"running_count"`
	QueuedCount  int       `json:"queued_count" db:"queued_count"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// deriveStatus computes the visible queue status from the stored override and
// the task distribution: archived > ended > active (running) > planned
// (queued) > idle.
func (q *Queue) deriveStatus() string {
	switch q.StoredStatus {
	case QueueStatusArchived:
		return QueueStatusArchived
	case QueueStatusEnded:
		return QueueStatusEnded
	}
	if q.RunningCount > 0 {
		return QueueStatusActive
	}
	if q.QueuedCount > 0 {
		return QueueStatusPlanned
	}
	return QueueStatusIdle
}

// Task is the atomic unit of work. Payload is opaque JSON; the core never
// executes it. types.JSONText scans the TEXT column and re-emits the raw
// bytes on the wire unchanged.
type Task struct {
	ID             string         `json:"id" db:"id"`
	QueueID        string         `json:"queue_id" db:"queue_id"`
	FriendlyCode   string         `json:"friendly_code" db:"friendly_code"`
	ToolName       string         `json:"tool_name" db:"tool_name"`
	TaskClass      string         `json:"task_class" db:"task_class"`
	Payload        types.JSONText `json:"payload" db:"payload"`
	Status         string         `json:"status" db:"status"`
	TimeoutSeconds int            `json:"timeout_seconds" db:"timeout_seconds"`
	Attempts       int            `json:"attempts" db:"attempts"`
	Result         *string        `json:"result,omitempty" db:"result"`
	Error          *string        `json:"error,omitempty" db:"error"`
	Stdout         *string        `json:"stdout,omitempty" db:"stdout"`
	Stderr         *string        `json:"stderr,omitempty" db:"stderr"`
	ClaimedBy      *string        `json:"claimed_by,omitempty" db:"claimed_by"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty" db:"claimed_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty" db:"finished_at"`
	StaleWarnedAt  *time.Time     `json:"stale_warned_at,omitempty" db:"stale_warned_at"`
}

// TaskClass is a named timeout profile referenced by tasks and tools.
type TaskClass struct {
	Name                  string `json:"name" db:"name"`
	DefaultTimeoutSeconds int    `json:"default_timeout_seconds" db:"default_timeout_seconds"`
	Description           string `json:"description,omitempty" db:"description"`
}

// Tool is a named execution mode. Metadata only; execution happens out of
// band in the runner.
type Tool struct {
	Name        string `json:"name" db:"name"`
	TaskClass   string `json:"task_class" db:"task_class"`
	Description string `json:"description,omitempty" db:"description"`
}

// ConfigEntry is a runtime setting. The YAML file seeds these on first run;
// afterwards this table is authoritative.
type ConfigEntry struct {
	Namespace string         `json:"namespace" db:"namespace"`
	Key       string         `json:"key" db:"key"`
	Value     types.JSONText `json:"value" db:"value"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
	UpdatedBy string         `json:"updated_by" db:"updated_by"`
}

// Stats summarizes task counts for the stats endpoint.
type Stats struct {
	TasksByStatus map[string]int `json:"tasks_by_status"`
	Queues        []QueueStats   `json:"queues"`
	Sessions      []SessionStats `json:"sessions"`
}

// QueueStats is a per-queue task rollup.
type QueueStats struct {
	QueueID   string `json:"queue_id" db:"queue_id"`
	QueueName string `json:"queue_name" db:"queue_name"`
	Queued    int    `json:"queued" db:"queued"`
	Running   int    `json:"running" db:"running"`
	Succeeded int    `json:"succeeded" db:"succeeded"`
	Failed    int    `json:"failed" db:"failed"`
}

// SessionStats is a per-session task rollup.
type SessionStats struct {
	SessionID   string `json:"session_id" db:"session_id"`
	SessionName string `json:"session_name" db:"session_name"`
	Queues      int    `json:"queues" db:"queues"`
	Tasks       int    `json:"tasks" db:"tasks"`
}
