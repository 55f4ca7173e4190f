package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sparkq/sparkq/internal/store"
)

func (s *Server) listTaskClasses(c *gin.Context) {
	classes, err := s.store.ListTaskClasses(c.Request.Context())
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, listTaskClassesResponse{TaskClasses: classes, Total: len(classes)})
}

func (s *Server) getTaskClass(c *gin.Context) {
	class, err := s.store.GetTaskClass(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, class)
}

func (s *Server) upsertTaskClass(c *gin.Context) {
	var req upsertTaskClassRequest
	if !bindJSON(c, s.logger, &req) {
		return
	}
	// The path name wins when both are supplied.
	if name := c.Param("name"); name != "" {
		req.Name = name
	}
	class, err := s.store.UpsertTaskClass(c.Request.Context(), store.TaskClass{
		Name:                  req.Name,
		DefaultTimeoutSeconds: req.DefaultTimeoutSeconds,
		Description:           req.Description,
	})
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, class)
}

func (s *Server) deleteTaskClass(c *gin.Context) {
	if err := s.store.DeleteTaskClass(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listTools(c *gin.Context) {
	tools, err := s.store.ListTools(c.Request.Context())
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, listToolsResponse{Tools: tools, Total: len(tools)})
}

func (s *Server) getTool(c *gin.Context) {
	tool, err := s.store.GetTool(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, tool)
}

func (s *Server) upsertTool(c *gin.Context) {
	var req upsertToolRequest
	if !bindJSON(c, s.logger, &req) {
		return
	}
	if name := c.Param("name"); name != "" {
		req.Name = name
	}
	tool, err := s.store.UpsertTool(c.Request.Context(), store.Tool{
		Name:        req.Name,
		TaskClass:   req.TaskClass,
		Description: req.Description,
	})
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, tool)
}

func (s *Server) deleteTool(c *gin.Context) {
	if err := s.store.DeleteTool(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
