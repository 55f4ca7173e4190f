// Package server exposes the HTTP API and the embedded dashboard.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sparkq/sparkq/internal/common/config"
	"github.com/sparkq/sparkq/internal/common/httpmw"
	"github.com/sparkq/sparkq/internal/common/logger"
	"github.com/sparkq/sparkq/internal/events/bus"
	"github.com/sparkq/sparkq/internal/scheduler"
	"github.com/sparkq/sparkq/internal/store"
)

// Server wires the HTTP layer over the store and scheduler.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	scheduler *scheduler.Scheduler
	bus       bus.EventBus
	logger    *logger.Logger
	buildID   string

	engine *gin.Engine
	http   *http.Server
}

// New builds the router. buildID is regenerated per process so pollers can
// detect restarts via the health endpoint.
func New(cfg *config.Config, st *store.Store, sched *scheduler.Scheduler, eventBus bus.EventBus, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		scheduler: sched,
		bus:       eventBus,
		logger:    log.WithFields(zap.String("component", "server")),
		buildID:   uuid.New().String(),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpmw.RequestID())
	engine.Use(httpmw.RequestLogger(s.logger, "sparkq"))
	engine.Use(httpmw.OtelTracing("sparkq"))
	engine.Use(httpmw.RequestTimeout(cfg.Server.RequestTimeoutDuration()))

	s.registerRoutes(engine)
	s.registerStatic(engine)
	s.engine = engine
	s.http = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}
	return s
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.GET("/health", s.health)

	api := engine.Group("/api")
	api.GET("/health", s.health)
	api.GET("/version", s.versionInfo)
	api.GET("/stats", s.stats)

	api.POST("/sessions", s.createSession)
	api.GET("/sessions", s.listSessions)
	api.GET("/sessions/:id", s.getSession)
	api.PUT("/sessions/:id", s.updateSession)
	api.PUT("/sessions/:id/end", s.endSession)
	api.DELETE("/sessions/:id", s.deleteSession)

	api.POST("/queues", s.createQueue)
	api.GET("/queues", s.listQueues)
	api.GET("/queues/:id", s.getQueue)
	api.PUT("/queues/:id", s.updateQueue)
	api.PUT("/queues/:id/end", s.endQueue)
	api.PUT("/queues/:id/archive", s.archiveQueue)
	api.PUT("/queues/:id/unarchive", s.unarchiveQueue)
	api.DELETE("/queues/:id", s.deleteQueue)
	api.GET("/queues/:id/tasks", s.listQueueTasks)
	api.POST("/queues/:id/tasks", s.enqueueTask)
	api.POST("/queues/:id/claim", s.claimFromQueue)

	api.GET("/tasks", s.listTasks)
	api.POST("/tasks", s.createTask)
	api.GET("/tasks/:id", s.getTask)
	api.POST("/tasks/:id/claim", s.claimTask)
	api.POST("/tasks/:id/complete", s.completeTask)
	api.POST("/tasks/:id/fail", s.failTask)
	api.POST("/tasks/:id/requeue", s.requeueTask)
	api.DELETE("/tasks/:id", s.deleteTask)

	api.GET("/task-classes", s.listTaskClasses)
	api.PUT("/task-classes", s.upsertTaskClass)
	api.GET("/task-classes/:name", s.getTaskClass)
	api.PUT("/task-classes/:name", s.upsertTaskClass)
	api.DELETE("/task-classes/:name", s.deleteTaskClass)

	api.GET("/tools", s.listTools)
	api.PUT("/tools", s.upsertTool)
	api.GET("/tools/:name", s.getTool)
	api.PUT("/tools/:name", s.upsertTool)
	api.DELETE("/tools/:name", s.deleteTool)

	api.GET("/config/:namespace", s.listConfig)
	api.GET("/config/:namespace/:key", s.getConfigEntry)
	api.PUT("/config/:namespace/:key", s.setConfigEntry)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
