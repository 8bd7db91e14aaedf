package disputes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lofthouse/trustdesk/internal/pagination"
)

// DisputeEventEmitter broadcasts dispute events to realtime clients.
type DisputeEventEmitter interface {
	EmitDisputeStatus(disputeID, status string)
	EmitDisputeMessage(disputeID, messageID, senderID string)
}

// Handler provides HTTP handlers for the dispute API.
type Handler struct {
	service *Service
	events  DisputeEventEmitter
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithEvents adds a realtime event emitter.
func (h *Handler) WithEvents(events DisputeEventEmitter) *Handler {
	h.events = events
	return h
}

func (h *Handler) emitStatus(d *Dispute) {
	if h.events != nil {
		h.events.EmitDisputeStatus(d.ID, string(d.Status))
	}
}

// RegisterRoutes sets up the dispute routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/disputes", h.Open)
	r.GET("/disputes", h.List)
	r.GET("/disputes/:id", h.Get)
	r.POST("/disputes/:id/assign", h.AssignMediator)
	r.POST("/disputes/:id/begin-mediation", h.BeginMediation)
	r.POST("/disputes/:id/propose", h.ProposeResolution)
	r.POST("/disputes/:id/respond", h.Respond)
	r.POST("/disputes/:id/escalate", h.Escalate)
	r.POST("/disputes/:id/close", h.Close)
	r.POST("/disputes/:id/messages", h.SendMessage)
	r.GET("/disputes/:id/messages", h.ListMessages)
}

func callerID(c *gin.Context) string {
	return c.GetHeader("X-Caller-ID")
}

// Open handles POST /v1/disputes
func (h *Handler) Open(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	// The opener is always the authenticated caller; the lease check below
	// then derives the counterparty from domain data.
	caller := callerID(c)
	if caller == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "missing_caller",
			"message": "X-Caller-ID header is required",
		})
		return
	}
	if req.OpenedBy != "" && req.OpenedBy != caller {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "caller_mismatch",
			"message": "openedBy must match the authenticated caller",
		})
		return
	}
	req.OpenedBy = caller

	d, err := h.service.Open(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrDescriptionTooShort), errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": err.Error(),
			})
		case errors.Is(err, ErrNotAParty):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "not_a_party",
				"message": "Opener is not a party to this lease",
			})
		default:
			h.writeError(c, err)
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// Get handles GET /v1/disputes/:id
// The :id path accepts either the internal id or the dispute number.
func (h *Handler) Get(c *gin.Context) {
	id := c.Param("id")

	d, err := h.service.Get(c.Request.Context(), id)
	if errors.Is(err, ErrDisputeNotFound) {
		d, err = h.service.GetByNumber(c.Request.Context(), id)
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Dispute not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// List handles GET /v1/disputes?status=open | ?party=usr_1 | ?mediator=med_1
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	ctx := c.Request.Context()

	var (
		disputes []*Dispute
		err      error
	)
	switch {
	case c.Query("party") != "":
		disputes, err = h.service.ListByParty(ctx, c.Query("party"), limit)
	case c.Query("mediator") != "":
		disputes, err = h.service.ListByMediator(ctx, c.Query("mediator"), limit)
	default:
		disputes, err = h.service.ListByStatus(ctx, Status(c.DefaultQuery("status", string(StatusOpen))), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list disputes",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// AssignRequest is the request body for assigning a mediator.
type AssignRequest struct {
	MediatorID string `json:"mediatorId" binding:"required"`
}

// AssignMediator handles POST /v1/disputes/:id/assign
func (h *Handler) AssignMediator(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.AssignMediator(c.Request.Context(), c.Param("id"), req.MediatorID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.emitStatus(d)
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// BeginMediation handles POST /v1/disputes/:id/begin-mediation
func (h *Handler) BeginMediation(c *gin.Context) {
	d, err := h.service.BeginMediation(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.emitStatus(d)
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ProposeRequest is the request body for proposing a resolution.
type ProposeRequest struct {
	Resolution string `json:"resolution" binding:"required"`
}

// ProposeResolution handles POST /v1/disputes/:id/propose
func (h *Handler) ProposeResolution(c *gin.Context) {
	var req ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.ProposeResolution(c.Request.Context(), c.Param("id"), callerID(c), req.Resolution)
	if err != nil {
		if errors.Is(err, ErrEmptyProposal) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "empty_proposal",
				"message": err.Error(),
			})
			return
		}
		h.writeError(c, err)
		return
	}
	h.emitStatus(d)
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// RespondRequest is the request body for a party's vote.
type RespondRequest struct {
	Accepted *bool `json:"accepted" binding:"required"`
}

// Respond handles POST /v1/disputes/:id/respond
func (h *Handler) Respond(c *gin.Context) {
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	caller := callerID(c)
	if caller == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "missing_caller",
			"message": "X-Caller-ID header is required",
		})
		return
	}

	d, err := h.service.Respond(c.Request.Context(), c.Param("id"), caller, *req.Accepted)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.emitStatus(d)
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// EscalateRequest is the request body for escalating a dispute.
type EscalateRequest struct {
	Destination Destination `json:"destination" binding:"required"`
	Reason      string      `json:"reason" binding:"required"`
}

// Escalate handles POST /v1/disputes/:id/escalate
func (h *Handler) Escalate(c *gin.Context) {
	var req EscalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.Escalate(c.Request.Context(), c.Param("id"), callerID(c), req.Destination, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidDestination), errors.Is(err, ErrMissingEscalationReason):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": err.Error(),
			})
		default:
			h.writeError(c, err)
		}
		return
	}
	h.emitStatus(d)
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// CloseRequest is the request body for administratively closing a dispute.
type CloseRequest struct {
	Reason string `json:"reason"`
}

// Close handles POST /v1/disputes/:id/close
func (h *Handler) Close(c *gin.Context) {
	var req CloseRequest
	_ = c.ShouldBindJSON(&req)

	d, err := h.service.Close(c.Request.Context(), c.Param("id"), callerID(c), req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.emitStatus(d)
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// SendMessageRequest is the request body for a dispute message.
type SendMessageRequest struct {
	Message     string   `json:"message" binding:"required"`
	Attachments []string `json:"attachments,omitempty"`
}

// SendMessage handles POST /v1/disputes/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	caller := callerID(c)
	if caller == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "missing_caller",
			"message": "X-Caller-ID header is required",
		})
		return
	}

	m, err := h.service.SendMessage(c.Request.Context(), c.Param("id"), caller, req.Message, req.Attachments)
	if err != nil {
		if errors.Is(err, ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "empty_message",
				"message": err.Error(),
			})
			return
		}
		h.writeError(c, err)
		return
	}
	if h.events != nil {
		h.events.EmitDisputeMessage(m.DisputeID, m.ID, m.SenderID)
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

// ListMessages handles GET /v1/disputes/:id/messages?limit=50&cursor=...
func (h *Handler) ListMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	messages, next, err := h.service.ListMessages(c.Request.Context(), c.Param("id"), limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "Cursor is malformed",
			})
			return
		}
		h.writeError(c, err)
		return
	}

	resp := gin.H{
		"messages": messages,
		"count":    len(messages),
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDisputeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Dispute not found",
		})
	case errors.Is(err, ErrNotAParty):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_a_party",
			"message": "Caller is not a party to this dispute",
		})
	case errors.Is(err, ErrNotAssignedMediator):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_assigned_mediator",
			"message": "Only the assigned mediator may perform this operation",
		})
	case errors.Is(err, ErrAlreadyResponded):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_responded",
			"message": "Party has already responded to this proposal",
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": "Operation not permitted from the current status",
		})
	case errors.Is(err, ErrStaleWrite):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "stale_write",
			"message": "Dispute was modified concurrently, retry",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process request",
		})
	}
}
