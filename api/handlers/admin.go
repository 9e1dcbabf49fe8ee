package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agent-event-relay/backend/internal/hub"
	"github.com/agent-event-relay/backend/internal/model"
	"github.com/agent-event-relay/backend/internal/repository"
)

// AdminHandler handles the operator dashboard surface: channel and
// session introspection, forced disconnects, broadcasts and stats.
type AdminHandler struct {
	registry *hub.Registry
	connLog  *repository.ConnectionLogRepository
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(registry *hub.Registry, connLog *repository.ConnectionLogRepository) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		connLog:  connLog,
	}
}

// ListChannels handles GET /api/admin/channels.
func (h *AdminHandler) ListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.ChannelStats())
}

// ListSessions handles GET /api/admin/sessions with optional filters.
func (h *AdminHandler) ListSessions(c *gin.Context) {
	filter := model.SessionFilter{
		UserID:  c.Query("user_id"),
		Channel: c.Query("channel"),
		Status:  model.SessionStatus(c.Query("status")),
	}
	c.JSON(http.StatusOK, h.registry.Sessions(filter))
}

// DisconnectRequest carries the operator-stated reason for a forced
// disconnect.
type DisconnectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// DisconnectSession handles POST /api/admin/sessions/:id/disconnect.
func (h *AdminHandler) DisconnectSession(c *gin.Context) {
	sessionID := c.Param("id")

	var req DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := h.registry.Disconnect(sessionID, req.Reason); err != nil {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
		return
	}

	c.Status(http.StatusNoContent)
}

// DisconnectUser handles POST /api/admin/users/:id/disconnect.
func (h *AdminHandler) DisconnectUser(c *gin.Context) {
	userID := c.Param("id")

	var req DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	count := h.registry.DisconnectUser(userID, req.Reason)
	c.JSON(http.StatusOK, gin.H{"disconnected": count})
}

// BroadcastRequest is an administrative broadcast.
type BroadcastRequest struct {
	Message    string           `json:"message" binding:"required"`
	TargetType model.TargetType `json:"targetType" binding:"required"`
	TargetID   string           `json:"targetId"`
	Priority   string           `json:"priority"`
}

// Broadcast handles POST /api/admin/broadcast, returning the number of
// sessions reached.
func (h *AdminHandler) Broadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	switch req.TargetType {
	case model.TargetAll:
	case model.TargetUser, model.TargetChannel:
		if req.TargetID == "" {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "targetId is required for this target type")
			return
		}
	default:
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown target type")
		return
	}

	payload, err := json.Marshal(gin.H{
		"message":  req.Message,
		"priority": req.Priority,
	})
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to encode broadcast: "+err.Error())
		return
	}

	frame := &model.Frame{
		Type:    model.FrameTypeData,
		Channel: "admin_broadcast",
		Payload: payload,
	}
	reached, err := h.registry.Broadcast(model.BroadcastTarget{Type: req.TargetType, ID: req.TargetID}, frame)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to broadcast: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"reached": reached})
}

// Stats handles GET /api/admin/stats - aggregate connection statistics.
func (h *AdminHandler) Stats(c *gin.Context) {
	agg, err := h.connLog.Aggregate(c.Request.Context(), time.Time{})
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to aggregate stats: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"liveSessions": h.registry.SessionCount(),
		"liveChannels": h.registry.ChannelCount(),
		"historical":   agg,
	})
}

// StatsHistory handles GET /api/admin/stats/history - recent connection
// log entries.
func (h *AdminHandler) StatsHistory(c *gin.Context) {
	entries, err := h.connLog.ListRecent(c.Request.Context(), 100)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list history: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, entries)
}

// RegisterRoutes registers the admin routes on a Gin router group.
func (h *AdminHandler) RegisterRoutes(rg *gin.RouterGroup) {
	admin := rg.Group("/admin")
	{
		admin.GET("/channels", h.ListChannels)
		admin.GET("/sessions", h.ListSessions)
		admin.POST("/sessions/:id/disconnect", h.DisconnectSession)
		admin.POST("/users/:id/disconnect", h.DisconnectUser)
		admin.POST("/broadcast", h.Broadcast)
		admin.GET("/stats", h.Stats)
		admin.GET("/stats/history", h.StatsHistory)
	}
}
