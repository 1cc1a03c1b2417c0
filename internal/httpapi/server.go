// Package httpapi exposes the Session Manager over HTTP/SSE (spec.md
// §6.1): session lifecycle endpoints plus the streaming endpoint that
// replays history and tails live events with periodic heartbeats.
//
// Grounded on the teacher's pkg/api/server.go for the gin.Engine wiring
// style and pkg/api/errors.go for mapping domain sentinel errors to HTTP
// status codes, adapted from echo's middleware chain to gin's.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentientmobilefurniture/sessiond/internal/manager"
)

// Server wraps a gin.Engine bound to a Manager.
type Server struct {
	engine  *gin.Engine
	manager *manager.Manager
	log     *slog.Logger
	cfg     Config
}

// Config holds httpapi-specific tunables not owned by manager.Config.
type Config struct {
	HeartbeatInterval time.Duration
}

// New constructs a Server and registers all routes.
func New(mgr *manager.Manager, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log))

	s := &Server{engine: engine, manager: mgr, log: log, cfg: cfg}
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler to mount (directly, or behind a
// net/http.Server for graceful shutdown).
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	sessions := s.engine.Group("/sessions")
	{
		sessions.POST("", s.handleCreate)
		sessions.GET("", s.handleListAll)
		sessions.GET("/:id", s.handleGet)
		sessions.GET("/:id/stream", s.handleStream)
		sessions.POST("/:id/cancel", s.handleCancel)
		sessions.POST("/:id/message", s.handleMessage)
		sessions.DELETE("/:id", s.handleDelete)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestLogger logs each request at Info level, grounded on the
// teacher's server.go middleware chain (adapted from echo.MiddlewareFunc
// to gin.HandlerFunc).
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
