package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sparkq/sparkq/internal/common/errors"
	"github.com/sparkq/sparkq/internal/scheduler"
	"github.com/sparkq/sparkq/internal/store"
)

func schedulerEnqueueParams(queueID string, req enqueueTaskRequest) scheduler.EnqueueParams {
	return scheduler.EnqueueParams{
		QueueID:        queueID,
		ToolName:       req.ToolName,
		TaskClass:      req.TaskClass,
		Payload:        req.Payload,
		TimeoutSeconds: req.Timeout,
	}
}

// createTask enqueues with the queue id carried in the body.
func (s *Server) createTask(c *gin.Context) {
	var req enqueueTaskRequest
	if !bindJSON(c, s.logger, &req) {
		return
	}
	if req.QueueID == "" {
		respondError(c, s.logger, errors.InvalidField("queue_id", "is required"))
		return
	}
	task, err := s.scheduler.Enqueue(c.Request.Context(), schedulerEnqueueParams(req.QueueID, req))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) listTasks(c *gin.Context) {
	params := store.ListTasksParams{
		QueueID: c.Query("queue_id"),
		Status:  c.Query("status"),
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			params.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			params.Offset = n
		}
	}
	tasks, err := s.store.ListTasks(c.Request.Context(), params)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, listTasksResponse{Tasks: tasks, Total: len(tasks)})
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.store.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// claimTask claims one specific task, bypassing queue order. Refused unless
// the task is still queued.
func (s *Server) claimTask(c *gin.Context) {
	var req claimRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, s.logger, &req) {
		return
	}
	if req.WorkerID == "" {
		req.WorkerID = "anonymous"
	}
	task, err := s.scheduler.ClaimTask(c.Request.Context(), c.Param("id"), req.WorkerID)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) completeTask(c *gin.Context) {
	var req completeTaskRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, s.logger, &req) {
		return
	}
	task, err := s.scheduler.Complete(c.Request.Context(), c.Param("id"), scheduler.CompleteParams{
		Outcome: store.TaskStatusSucceeded,
		Result:  req.Result,
		Stdout:  req.Stdout,
		Stderr:  req.Stderr,
	})
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) failTask(c *gin.Context) {
	var req failTaskRequest
	if !bindJSON(c, s.logger, &req) {
		return
	}
	task, err := s.scheduler.Complete(c.Request.Context(), c.Param("id"), scheduler.CompleteParams{
		Outcome: store.TaskStatusFailed,
		Error:   &req.Error,
		Stdout:  req.Stdout,
		Stderr:  req.Stderr,
	})
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) requeueTask(c *gin.Context) {
	task, err := s.scheduler.Requeue(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c *gin.Context) {
	if err := s.store.DeleteTask(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}
