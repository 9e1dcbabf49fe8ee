package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agent-event-relay/backend/internal/hub"
	"github.com/agent-event-relay/backend/internal/model"
	"github.com/agent-event-relay/backend/internal/repository"
)

// NotificationHandler handles the notification REST surface consumed by
// the client sync service. Mark-read and delete are idempotent because
// the sync service resends blindly after failures.
type NotificationHandler struct {
	repo     *repository.NotificationRepository
	registry *hub.Registry
}

// NewNotificationHandler creates a new NotificationHandler. The
// registry may be nil when live push is not wired (tests).
func NewNotificationHandler(repo *repository.NotificationRepository, registry *hub.Registry) *NotificationHandler {
	return &NotificationHandler{
		repo:     repo,
		registry: registry,
	}
}

// List handles GET /api/notifications?since=<RFC3339> - notifications
// changed since the given timestamp.
func (h *NotificationHandler) List(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid since timestamp: "+err.Error())
			return
		}
		since = parsed
	}

	userID := getUserID(c)
	notifications, err := h.repo.ListChangedSince(c.Request.Context(), userID, since)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list notifications: "+err.Error())
		return
	}
	if notifications == nil {
		notifications = []*model.Notification{}
	}

	c.JSON(http.StatusOK, notifications)
}

// CreateNotificationRequest is the request body for creating a
// notification.
type CreateNotificationRequest struct {
	Type     string            `json:"type" binding:"required"`
	Title    string            `json:"title" binding:"required"`
	Message  string            `json:"message" binding:"required"`
	Metadata map[string]string `json:"metadata"`
	UserID   string            `json:"userId"`
}

// Create handles POST /api/notifications. The new notification is also
// pushed live onto the owner's user channel.
func (h *NotificationHandler) Create(c *gin.Context) {
	var req CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = getUserID(c)
	}

	now := time.Now()
	n := &model.Notification{
		ID:           uuid.New().String(),
		Type:         req.Type,
		Title:        req.Title,
		Message:      req.Message,
		Metadata:     req.Metadata,
		CreatedAt:    now,
		LastModified: now,
	}

	if err := h.repo.Create(c.Request.Context(), userID, n); err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create notification: "+err.Error())
		return
	}

	h.pushLive(userID, n)
	c.JSON(http.StatusCreated, n)
}

// MarkRead handles POST /api/notifications/:id/read. Safe to retry.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id := c.Param("id")

	if err := h.repo.MarkRead(c.Request.Context(), id); err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to mark notification read: "+err.Error())
		return
	}

	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /api/notifications/:id. Safe to retry: deleting
// an already-deleted notification succeeds.
func (h *NotificationHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete notification: "+err.Error())
		return
	}

	c.Status(http.StatusNoContent)
}

// pushLive broadcasts a freshly created notification onto the owner's
// user channel.
func (h *NotificationHandler) pushLive(userID string, n *model.Notification) {
	if h.registry == nil {
		return
	}

	payload, err := json.Marshal(n)
	if err != nil {
		log.Printf("Failed to encode notification %s: %v", n.ID, err)
		return
	}

	channelName := hub.UserChannelPrefix + userID
	frame := model.NewDataFrame(channelName, payload)
	if _, err := h.registry.Broadcast(model.BroadcastTarget{Type: model.TargetChannel, ID: channelName}, frame); err != nil {
		log.Printf("Failed to push notification %s: %v", n.ID, err)
	}
}

// RegisterRoutes registers the notification routes on a Gin router group.
func (h *NotificationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	notifications := rg.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.POST("", h.Create)
		notifications.POST("/:id/read", h.MarkRead)
		notifications.DELETE("/:id", h.Delete)
	}
}
