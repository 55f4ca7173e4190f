package server

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

//go:embed ui
var uiFS embed.FS

// registerStatic serves the embedded dashboard under /ui/ and redirects the
// root there. Unknown non-API paths fall back to the dashboard index so
// client-side routes survive a refresh.
func (s *Server) registerStatic(engine *gin.Engine) {
	sub, err := fs.Sub(uiFS, "ui")
	if err != nil {
		// The embed directive guarantees the directory exists.
		panic(err)
	}
	// Serve the index bytes directly: http.FileServer redirects any path
	// ending in /index.html, which would bounce back into NoRoute.
	index, err := fs.ReadFile(sub, "index.html")
	if err != nil {
		panic(err)
	}

	engine.StaticFS("/ui", http.FS(sub))
	engine.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusTemporaryRedirect, "/ui/")
	})
	engine.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, errorBody{Detail: "not found", Code: "route.not_found"})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	})
}
