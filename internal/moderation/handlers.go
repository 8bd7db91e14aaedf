package moderation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ModerationEventEmitter broadcasts moderation decisions to realtime clients.
type ModerationEventEmitter interface {
	EmitModerationDecision(itemID, propertyID, status string)
}

// Handler provides HTTP handlers for the moderation queue API.
type Handler struct {
	service *Service
	events  ModerationEventEmitter
}

// NewHandler creates a new moderation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithEvents adds a realtime event emitter.
func (h *Handler) WithEvents(events ModerationEventEmitter) *Handler {
	h.events = events
	return h
}

// RegisterRoutes sets up the moderation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/moderation/queue", h.Enqueue)
	r.GET("/moderation/queue", h.ListPending)
	r.GET("/moderation/queue/:id", h.Get)
	r.POST("/moderation/queue/:id/decide", h.Moderate)
	r.GET("/moderation/properties/:propertyId", h.ListByProperty)
}

// EnqueueRequest is the request body for flagging a listing.
type EnqueueRequest struct {
	PropertyID       string   `json:"propertyId" binding:"required"`
	SuspicionScore   int      `json:"suspicionScore"`
	SuspicionReasons []string `json:"suspicionReasons,omitempty"`
}

// Enqueue handles POST /v1/moderation/queue
func (h *Handler) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	item, err := h.service.Enqueue(c.Request.Context(), req.PropertyID, req.SuspicionScore, req.SuspicionReasons)
	if err != nil {
		if errors.Is(err, ErrInvalidSuspicion) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "enqueue_failed",
			"message": "Failed to enqueue item",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"item": item})
}

// Get handles GET /v1/moderation/queue/:id
func (h *Handler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Queue item not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

// ListPending handles GET /v1/moderation/queue?limit=50
func (h *Handler) ListPending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.service.ListPending(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list queue items",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

// ListByProperty handles GET /v1/moderation/properties/:propertyId
func (h *Handler) ListByProperty(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.service.ListByProperty(c.Request.Context(), c.Param("propertyId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list queue items",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

// ModerateRequest is the request body for a moderator's decision.
type ModerateRequest struct {
	Decision Decision `json:"decision" binding:"required"`
	Notes    string   `json:"notes,omitempty"`
}

// Moderate handles POST /v1/moderation/queue/:id/decide
func (h *Handler) Moderate(c *gin.Context) {
	var req ModerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	moderator := c.GetHeader("X-Caller-ID")
	if moderator == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "missing_caller",
			"message": "X-Caller-ID header is required",
		})
		return
	}

	item, err := h.service.Moderate(c.Request.Context(), c.Param("id"), moderator, req.Decision, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, ErrItemNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Queue item not found",
			})
		case errors.Is(err, ErrAlreadyModerated):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_moderated",
				"message": "Item has already been moderated",
			})
		case errors.Is(err, ErrInvalidDecision):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to moderate item",
			})
		}
		return
	}

	if h.events != nil {
		h.events.EmitModerationDecision(item.ID, item.PropertyID, string(item.Status))
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}
