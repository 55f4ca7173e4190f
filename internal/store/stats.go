package store

import (
	"context"
)

// GetStats builds the task rollups for the stats endpoint. Reads only.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		TasksByStatus: map[string]int{
			TaskStatusQueued:    0,
			TaskStatusRunning:   0,
			TaskStatusSucceeded: 0,
			TaskStatusFailed:    0,
		},
		Queues:   []QueueStats{},
		Sessions: []SessionStats{},
	}

	rows, err := s.reader().QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, mapSQLiteError(err, "failed to count tasks by status")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, mapSQLiteError(err, "failed to scan task counts")
		}
		stats.TasksByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteError(err, "failed to read task counts")
	}

	err = s.reader().SelectContext(ctx, &stats.Queues, `
		SELECT q.id AS queue_id, q.name AS queue_name,
		       COALESCE(SUM(CASE WHEN t.status = 'queued' THEN 1 ELSE 0 END), 0) AS queued,
		       COALESCE(SUM(CASE WHEN t.status = 'running' THEN 1 ELSE 0 END), 0) AS running,
		       COALESCE(SUM(CASE WHEN t.status = 'succeeded' THEN 1 ELSE 0 END), 0) AS succeeded,
		       COALESCE(SUM(CASE WHEN t.status = 'failed' THEN 1 ELSE 0 END), 0) AS failed
		FROM queues q
		LEFT JOIN tasks t ON t.queue_id = q.id
		GROUP BY q.id, q.name
		ORDER BY q.created_at ASC, q.id ASC
	`)
	if err != nil {
		return nil, mapSQLiteError(err, "failed to build queue stats")
	}

	err = s.reader().SelectContext(ctx, &stats.Sessions, `
		SELECT s.id AS session_id, s.name AS session_name,
		       COUNT(DISTINCT q.id) AS queues,
		       COUNT(t.id) AS tasks
		FROM sessions s
		LEFT JOIN queues q ON q.session_id = s.id
		LEFT JOIN tasks t ON t.queue_id = q.id
		GROUP BY s.id, s.name
		ORDER BY s.started_at DESC, s.id DESC
	`)
	if err != nil {
		return nil, mapSQLiteError(err, "failed to build session stats")
	}
	return stats, nil
}
