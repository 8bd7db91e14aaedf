package trust

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lofthouse/trustdesk/internal/validation"
)

// ValidationEventEmitter broadcasts validation status changes to realtime
// clients.
type ValidationEventEmitter interface {
	EmitValidationStatus(requestID, userID, status string)
}

// Handler provides HTTP handlers for the trust validation API.
type Handler struct {
	service *Service
	events  ValidationEventEmitter
}

// NewHandler creates a new trust validation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithEvents adds a realtime event emitter.
func (h *Handler) WithEvents(events ValidationEventEmitter) *Handler {
	h.events = events
	return h
}

func (h *Handler) emitStatus(r *ValidationRequest) {
	if h.events != nil {
		h.events.EmitValidationStatus(r.ID, r.UserID, string(r.Status))
	}
}

// RegisterRoutes sets up the trust validation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/validations", h.Submit)
	r.POST("/validations/resubmit", h.Resubmit)
	r.GET("/validations/:id", h.Get)
	r.GET("/validations", h.List)
	r.GET("/users/:userId/validation", h.GetByUser)
	r.POST("/validations/:id/assign", h.Assign)
	r.POST("/validations/:id/decide", h.Decide)
}

// callerID returns the authenticated caller identity attached upstream.
// The engine re-derives the caller's role from domain data; it never trusts
// a caller-asserted role.
func callerID(c *gin.Context) string {
	return c.GetHeader("X-Caller-ID")
}

// SubmitRequest is the request body for submitting a validation request.
// UserID is filled from the authenticated caller; a non-empty body value
// must match it.
type SubmitRequest struct {
	UserID string `json:"userId,omitempty"`
}

// submitActor resolves the acting user for Submit/Resubmit: always the
// authenticated caller, with the optional body field only confirming it.
// Returns "" after writing the error response.
func submitActor(c *gin.Context, req SubmitRequest) string {
	caller := callerID(c)
	if caller == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "missing_caller",
			"message": "X-Caller-ID header is required",
		})
		return ""
	}
	if req.UserID != "" && req.UserID != caller {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "caller_mismatch",
			"message": "userId must match the authenticated caller",
		})
		return ""
	}
	return caller
}

// Submit handles POST /v1/validations
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	userID := submitActor(c, req)
	if userID == "" {
		return
	}

	if errs := validation.Validate(
		validation.ValidID("userId", userID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
		})
		return
	}

	r, err := h.service.Submit(c.Request.Context(), userID)
	if err != nil {
		h.writeEligibilityError(c, err)
		return
	}

	h.emitStatus(r)
	c.JSON(http.StatusCreated, gin.H{"request": r})
}

// Resubmit handles POST /v1/validations/resubmit
func (h *Handler) Resubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	userID := submitActor(c, req)
	if userID == "" {
		return
	}

	r, err := h.service.Resubmit(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrRequestNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No active validation request for this user",
			})
		case errors.Is(err, ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_transition",
				"message": "Request is not awaiting additional information",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to resubmit request",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": r})
}

// Get handles GET /v1/validations/:id
func (h *Handler) Get(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Validation request not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": r})
}

// GetByUser handles GET /v1/users/:userId/validation
func (h *Handler) GetByUser(c *gin.Context) {
	r, err := h.service.GetByUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No active validation request for this user",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": r})
}

// List handles GET /v1/validations?status=pending&limit=50
func (h *Handler) List(c *gin.Context) {
	status := Status(c.DefaultQuery("status", string(StatusPending)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	requests, err := h.service.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list validation requests",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": requests,
		"count":    len(requests),
	})
}

// AssignRequest is the request body for assigning an agent.
type AssignRequest struct {
	AgentID string `json:"agentId" binding:"required"`
}

// Assign handles POST /v1/validations/:id/assign
func (h *Handler) Assign(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	r, err := h.service.Assign(c.Request.Context(), c.Param("id"), req.AgentID)
	if err != nil {
		h.writeStateError(c, err)
		return
	}

	h.emitStatus(r)
	c.JSON(http.StatusOK, gin.H{"request": r})
}

// Decide handles POST /v1/validations/:id/decide
func (h *Handler) Decide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	agent := callerID(c)
	if agent == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "missing_caller",
			"message": "X-Caller-ID header is required",
		})
		return
	}

	r, err := h.service.Decide(c.Request.Context(), c.Param("id"), agent, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotAssignedAgent):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "not_assigned_agent",
				"message": "Only the assigned agent may decide this request",
			})
		case errors.Is(err, ErrMissingRejectionReason),
			errors.Is(err, ErrMissingInfoRequest),
			errors.Is(err, ErrInvalidAgentScore):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": err.Error(),
			})
		default:
			h.writeStateError(c, err)
		}
		return
	}

	h.emitStatus(r)
	c.JSON(http.StatusOK, gin.H{"request": r})
}

func (h *Handler) writeEligibilityError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotAutomatedVerified):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "not_automated_verified",
			"message": "User must pass automated verification first",
		})
	case errors.Is(err, ErrScoreTooLow):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "score_too_low",
			"message": "Composite score is below the validation threshold",
		})
	case errors.Is(err, ErrAlreadyVerified):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_verified",
			"message": "User is already trust-verified",
		})
	case errors.Is(err, ErrRequestInFlight):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_request",
			"message": "User already has an active validation request",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to submit validation request",
		})
	}
}

func (h *Handler) writeStateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Validation request not found",
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": "Operation not permitted from the current status",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process request",
		})
	}
}
