package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pagegen/pagegen/pkg/database"
	"github.com/pagegen/pagegen/pkg/models"
)

// actionRequest is the ingress body for both action variants.
type actionRequest struct {
	Type    models.ActionType `json:"type" binding:"required"`
	Text    string            `json:"text"`
	Context map[string]any    `json:"context"`
	Name    string            `json:"name"`
	Data    map[string]any    `json:"data"`
	Model   string            `json:"model"`
}

// CreateSession mints a session id. The processor itself is constructed
// lazily on the first action or subscription.
func (s *Server) CreateSession(c *gin.Context) {
	c.JSON(http.StatusCreated, gin.H{"session_id": s.identity.Mint()})
}

// EnqueueAction queues one action onto the session and touches it.
func (s *Server) EnqueueAction(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.identity.Validate(sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action := models.Action{
		Type:    req.Type,
		Text:    req.Text,
		Context: req.Context,
		Name:    req.Name,
		Data:    req.Data,
		Model:   req.Model,
	}
	if err := action.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	proc, err := s.registry.GetOrCreate(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := proc.Enqueue(action); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.registry.Touch(sessionID)

	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// GetSession reports the session's head offset and its current HTML, both
// from the durable log.
func (s *Server) GetSession(c *gin.Context) {
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	head, err := s.log.LatestOffset(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if head < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "session has no events"})
		return
	}

	var html string
	if row, err := s.log.LastFullOrDone(ctx, sessionID); err == nil && row != nil {
		if event, err := row.DecodeEvent(); err == nil {
			html = event.HTML
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":  sessionID,
		"head_offset": head,
		"html":        html,
	})
}

// Health reports liveness, including the database when one is configured.
func (s *Server) Health(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth := database.Health(ctx, s.db.DB())
	if !dbHealth.Healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": dbHealth})
}
