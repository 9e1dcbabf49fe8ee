package handlers

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/agent-event-relay/backend/internal/hub"
)

// WebSocketHandler exposes the hub's WebSocket endpoint.
type WebSocketHandler struct {
	hubHandler *hub.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(hubHandler *hub.Handler) *WebSocketHandler {
	return &WebSocketHandler{hubHandler: hubHandler}
}

// Connect handles WS /api/ws - establishes an event channel session.
// The bearer token travels as the "token" query parameter.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if err := h.hubHandler.HandleConnection(c.Writer, c.Request); err != nil {
		log.Printf("WebSocket connection failed: %v", err)
	}
}

// RegisterRoutes registers the WebSocket route on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Connect)
}
