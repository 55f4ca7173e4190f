package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sparkq/sparkq/internal/version"
)

// health reports liveness plus the build id, so dashboards can detect
// restarts and upgrades from polling alone.
func (s *Server) health(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(c.Request.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"build_id": s.buildID,
	})
}

func (s *Server) versionInfo(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get())
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.store.GetStats(c.Request.Context())
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
