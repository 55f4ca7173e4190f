package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sparkq/sparkq/internal/store"
)

func (s *Server) createQueue(c *gin.Context) {
	var req createQueueRequest
	if !bindJSON(c, s.logger, &req) {
		return
	}
	queue, err := s.store.CreateQueue(c.Request.Context(), store.CreateQueueParams{
		SessionID:    req.SessionID,
		Name:         req.Name,
		Instructions: req.Instructions,
		ModelProfile: req.ModelProfile,
	})
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, queue)
}

func (s *Server) listQueues(c *gin.Context) {
	queues, err := s.store.ListQueues(c.Request.Context(), c.Query("session_id"), c.Query("status"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, listQueuesResponse{Queues: queues, Total: len(queues)})
}

func (s *Server) getQueue(c *gin.Context) {
	queue, err := s.store.GetQueue(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, queue)
}

func (s *Server) updateQueue(c *gin.Context) {
	var req updateQueueRequest
	if !bindJSON(c, s.logger, &req) {
		return
	}
	queue, err := s.store.UpdateQueue(c.Request.Context(), c.Param("id"), store.UpdateQueueParams{
		Name:         req.Name,
		Instructions: req.Instructions,
		ModelProfile: req.ModelProfile,
	})
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, queue)
}

func (s *Server) endQueue(c *gin.Context) {
	s.setQueueStatus(c, store.QueueStatusEnded)
}

func (s *Server) archiveQueue(c *gin.Context) {
	s.setQueueStatus(c, store.QueueStatusArchived)
}

func (s *Server) unarchiveQueue(c *gin.Context) {
	s.setQueueStatus(c, store.QueueStatusActive)
}

func (s *Server) setQueueStatus(c *gin.Context, stored string) {
	queue, err := s.store.SetQueueStatus(c.Request.Context(), c.Param("id"), stored)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, queue)
}

func (s *Server) deleteQueue(c *gin.Context) {
	if err := s.store.DeleteQueue(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) listQueueTasks(c *gin.Context) {
	params := store.ListTasksParams{
		QueueID: c.Param("id"),
		Status:  c.Query("status"),
	}
	// Ensure a missing queue reads as 404 rather than an empty list.
	if _, err := s.store.GetQueue(c.Request.Context(), params.QueueID); err != nil {
		respondError(c, s.logger, err)
		return
	}
	tasks, err := s.store.ListTasks(c.Request.Context(), params)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, listTasksResponse{Tasks: tasks, Total: len(tasks)})
}

func (s *Server) enqueueTask(c *gin.Context) {
	var req enqueueTaskRequest
	if !bindJSON(c, s.logger, &req) {
		return
	}
	task, err := s.scheduler.Enqueue(c.Request.Context(), schedulerEnqueueParams(c.Param("id"), req))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// claimFromQueue hands out the oldest queued task. An empty queue is not an
// error: 204 with no body.
func (s *Server) claimFromQueue(c *gin.Context) {
	var req claimRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, s.logger, &req) {
		return
	}
	if req.WorkerID == "" {
		req.WorkerID = "anonymous"
	}
	task, err := s.scheduler.Claim(c.Request.Context(), c.Param("id"), req.WorkerID)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	if task == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, task)
}
