// Package api exposes the HTTP surface: session management, action
// ingress, and WebSocket subscriptions.
package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pagegen/pagegen/pkg/database"
	"github.com/pagegen/pagegen/pkg/eventlog"
	"github.com/pagegen/pagegen/pkg/identity"
	"github.com/pagegen/pagegen/pkg/processor"
	"github.com/pagegen/pagegen/pkg/subscribe"
)

// Server wires the HTTP handlers to the backend services.
type Server struct {
	registry    *processor.Registry
	composer    *subscribe.Composer
	log         eventlog.Log
	identity    identity.Service
	db          *database.Client // nil in log-in-memory deployments
	connManager *ConnectionManager
}

// NewServer creates the server. db may be nil; the health endpoint then
// skips the database probe.
func NewServer(registry *processor.Registry, composer *subscribe.Composer, log eventlog.Log, ids identity.Service, db *database.Client) *Server {
	return &Server{
		registry:    registry,
		composer:    composer,
		log:         log,
		identity:    ids,
		db:          db,
		connManager: NewConnectionManager(composer, 10*time.Second),
	}
}

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/sessions", s.CreateSession)
		v1.POST("/sessions/:id/actions", s.EnqueueAction)
		v1.GET("/sessions/:id", s.GetSession)
		v1.GET("/ws", s.HandleWS)
	}
	return r
}

// requestLogger emits one slog line per request, WebSocket upgrades and
// metrics scrapes excluded.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/api/v1/ws" || c.FullPath() == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
