package server

import (
	"encoding/json"

	"github.com/sparkq/sparkq/internal/store"
)

// Request bodies. Pointer fields distinguish "absent" from zero values on
// partial updates.

type createSessionRequest struct {
	Name string `json:"name" binding:"required"`
}

type updateSessionRequest struct {
	Name *string `json:"name"`
}

type createQueueRequest struct {
	SessionID    string `json:"session_id" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Instructions string `json:"instructions"`
	ModelProfile string `json:"model_profile"`
}

type updateQueueRequest struct {
	Name         *string `json:"name"`
	Instructions *string `json:"instructions"`
	ModelProfile *string `json:"model_profile"`
}

type enqueueTaskRequest struct {
	QueueID   string          `json:"queue_id"`
	ToolName  string          `json:"tool_name" binding:"required"`
	TaskClass string          `json:"task_class"`
	Payload   json.RawMessage `json:"payload"`
	Timeout   int             `json:"timeout"`
}

type claimRequest struct {
	WorkerID string `json:"worker_id"`
}

type completeTaskRequest struct {
	Result *string `json:"result"`
	Stdout *string `json:"stdout"`
	Stderr *string `json:"stderr"`
}

type failTaskRequest struct {
	Error  string  `json:"error" binding:"required"`
	Stdout *string `json:"stdout"`
	Stderr *string `json:"stderr"`
}

// Name is optional here: the PUT-by-name routes carry it in the path and the
// store rejects an empty name either way.
type upsertTaskClassRequest struct {
	Name                  string `json:"name"`
	DefaultTimeoutSeconds int    `json:"default_timeout_seconds" binding:"required"`
	Description           string `json:"description"`
}

type upsertToolRequest struct {
	Name        string `json:"name"`
	TaskClass   string `json:"task_class" binding:"required"`
	Description string `json:"description"`
}

type setConfigRequest struct {
	Value     json.RawMessage `json:"value" binding:"required"`
	UpdatedBy string          `json:"updated_by"`
}

// List envelopes.

type listSessionsResponse struct {
	Sessions []*store.Session `json:"sessions"`
	Total    int              `json:"total"`
}

type listQueuesResponse struct {
	Queues []*store.Queue `json:"queues"`
	Total  int            `json:"total"`
}

type listTasksResponse struct {
	Tasks []*store.Task `json:"tasks"`
	Total int           `json:"total"`
}

type listTaskClassesResponse struct {
	TaskClasses []*store.TaskClass `json:"task_classes"`
	Total       int                `json:"total"`
}

type listToolsResponse struct {
	Tools []*store.Tool `json:"tools"`
	Total int           `json:"total"`
}

type listConfigResponse struct {
	Entries []*store.ConfigEntry `json:"entries"`
	Total   int                  `json:"total"`
}
