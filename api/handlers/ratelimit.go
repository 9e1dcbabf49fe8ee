package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agent-event-relay/backend/internal/model"
	"github.com/agent-event-relay/backend/internal/ratelimit"
	"github.com/agent-event-relay/backend/internal/repository"
)

// RateLimitHandler handles rate-limit rule CRUD. Changes apply to the
// live limiter immediately and are persisted for restart.
type RateLimitHandler struct {
	limiter *ratelimit.Limiter
	repo    *repository.RuleRepository
}

// NewRateLimitHandler creates a new RateLimitHandler.
func NewRateLimitHandler(limiter *ratelimit.Limiter, repo *repository.RuleRepository) *RateLimitHandler {
	return &RateLimitHandler{
		limiter: limiter,
		repo:    repo,
	}
}

// RuleRequest is the create/update request body.
type RuleRequest struct {
	Name          string `json:"name" binding:"required"`
	Scope         string `json:"scope" binding:"required"`
	Target        string `json:"target"`
	Limit         int    `json:"limit" binding:"required"`
	WindowSeconds int    `json:"windowSeconds" binding:"required"`
	Action        string `json:"action" binding:"required"`
	Enabled       *bool  `json:"enabled"`
}

func (r *RuleRequest) toRule(id string) *model.RateLimitRule {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &model.RateLimitRule{
		ID:            id,
		Name:          r.Name,
		Scope:         model.RuleScope(r.Scope),
		Target:        r.Target,
		Limit:         r.Limit,
		WindowSeconds: r.WindowSeconds,
		Action:        model.RuleAction(r.Action),
		Enabled:       enabled,
	}
}

// List handles GET /api/admin/ratelimits.
func (h *RateLimitHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.limiter.Rules())
}

// Create handles POST /api/admin/ratelimits.
func (h *RateLimitHandler) Create(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	rule, err := h.limiter.Upsert(req.toRule(""))
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	h.persist(c, rule)
	c.JSON(http.StatusCreated, rule)
}

// Update handles PUT /api/admin/ratelimits/:id.
func (h *RateLimitHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.limiter.Get(id); err != nil {
		sendError(c, http.StatusNotFound, "RULE_NOT_FOUND", "Rule "+id+" not found")
		return
	}

	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	rule, err := h.limiter.Upsert(req.toRule(id))
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	h.persist(c, rule)
	c.JSON(http.StatusOK, rule)
}

// Delete handles DELETE /api/admin/ratelimits/:id.
func (h *RateLimitHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if err := h.limiter.Delete(id); err != nil {
		if errors.Is(err, model.ErrRuleNotFound) {
			sendError(c, http.StatusNotFound, "RULE_NOT_FOUND", "Rule "+id+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete rule: "+err.Error())
		return
	}

	if err := h.repo.Delete(c.Request.Context(), id); err != nil && !errors.Is(err, model.ErrRuleNotFound) {
		log.Printf("Failed to delete persisted rule %s: %v", id, err)
	}

	c.Status(http.StatusNoContent)
}

// Toggle handles POST /api/admin/ratelimits/:id/toggle. The new state
// applies to the next evaluation immediately.
func (h *RateLimitHandler) Toggle(c *gin.Context) {
	id := c.Param("id")

	enabled, err := h.limiter.Toggle(id)
	if err != nil {
		sendError(c, http.StatusNotFound, "RULE_NOT_FOUND", "Rule "+id+" not found")
		return
	}

	if rule, err := h.limiter.Get(id); err == nil {
		h.persist(c, rule)
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "enabled": enabled})
}

func (h *RateLimitHandler) persist(c *gin.Context, rule *model.RateLimitRule) {
	if err := h.repo.Save(c.Request.Context(), rule); err != nil {
		log.Printf("Failed to persist rule %s: %v", rule.ID, err)
	}
}

// RegisterRoutes registers the rate-limit routes on a Gin router group.
func (h *RateLimitHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rules := rg.Group("/admin/ratelimits")
	{
		rules.GET("", h.List)
		rules.POST("", h.Create)
		rules.PUT("/:id", h.Update)
		rules.DELETE("/:id", h.Delete)
		rules.POST("/:id/toggle", h.Toggle)
	}
}
