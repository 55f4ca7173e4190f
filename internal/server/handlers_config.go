package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sparkq/sparkq/internal/events/bus"
)

func (s *Server) listConfig(c *gin.Context) {
	entries, err := s.store.ListConfigEntries(c.Request.Context(), c.Param("namespace"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, listConfigResponse{Entries: entries, Total: len(entries)})
}

func (s *Server) getConfigEntry(c *gin.Context) {
	entry, err := s.store.GetConfigEntry(c.Request.Context(), c.Param("namespace"), c.Param("key"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// setConfigEntry writes a runtime setting. The database copy is authoritative
// from this point; the YAML file only seeds first-run values.
func (s *Server) setConfigEntry(c *gin.Context) {
	var req setConfigRequest
	if !bindJSON(c, s.logger, &req) {
		return
	}
	updatedBy := req.UpdatedBy
	if updatedBy == "" {
		updatedBy = "api"
	}
	entry, err := s.store.SetConfigEntry(c.Request.Context(),
		c.Param("namespace"), c.Param("key"), req.Value, updatedBy)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	event := bus.NewEvent(bus.SubjectConfigUpdated, "server", map[string]interface{}{
		"namespace":  entry.Namespace,
		"key":        entry.Key,
		"updated_by": entry.UpdatedBy,
	})
	if err := s.bus.Publish(c.Request.Context(), bus.SubjectConfigUpdated, event); err != nil {
		s.logger.WithError(err).Warn("failed to publish config event",
			zap.String("namespace", entry.Namespace), zap.String("key", entry.Key))
	}
	c.JSON(http.StatusOK, entry)
}
