package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/inbound"
	"github.com/runlater/core/internal/usecase"
)

type EndpointHandler struct {
	endpoints *usecase.EndpointUsecase
	inbound   *inbound.Service
	baseURL   string
	logger    *slog.Logger
}

func NewEndpointHandler(endpoints *usecase.EndpointUsecase, inboundSvc *inbound.Service, publicBaseURL string, logger *slog.Logger) *EndpointHandler {
	return &EndpointHandler{
		endpoints: endpoints,
		inbound:   inboundSvc,
		baseURL:   strings.TrimRight(publicBaseURL, "/"),
		logger:    logger.With("component", "endpoint_handler"),
	}
}

type createEndpointRequest struct {
	ForwardURLs   []string `json:"forward_urls"   binding:"required,min=1,dive,url"`
	RetryAttempts int      `json:"retry_attempts" binding:"omitempty,min=0,max=20"`
	QueueName     *string  `json:"queue_name"`
}

type endpointResponse struct {
	ID            string    `json:"id"`
	Slug          string    `json:"slug"`
	ReceiveURL    string    `json:"receive_url"`
	Enabled       bool      `json:"enabled"`
	ForwardURLs   []string  `json:"forward_urls"`
	RetryAttempts int       `json:"retry_attempts"`
	QueueName     *string   `json:"queue_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (h *EndpointHandler) toEndpointResponse(e *domain.Endpoint) endpointResponse {
	return endpointResponse{
		ID:            e.ID,
		Slug:          e.Slug,
		ReceiveURL:    h.baseURL + "/in/" + e.Slug,
		Enabled:       e.Enabled,
		ForwardURLs:   e.ForwardURLs,
		RetryAttempts: e.RetryAttempts,
		QueueName:     e.QueueName,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func (h *EndpointHandler) Create(c *gin.Context) {
	var req createEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	e, err := h.endpoints.CreateEndpoint(c.Request.Context(), usecase.CreateEndpointInput{
		OrganizationID: c.GetString("organizationID"),
		ForwardURLs:    req.ForwardURLs,
		RetryAttempts:  req.RetryAttempts,
		QueueName:      req.QueueName,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidURL})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "create endpoint", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusCreated, h.toEndpointResponse(e))
}

func (h *EndpointHandler) List(c *gin.Context) {
	limit := clampQueryLimit(c.Query("limit"))

	result, err := h.endpoints.ListEndpoints(c.Request.Context(), usecase.ListEndpointsInput{
		OrganizationID: c.GetString("organizationID"),
		Cursor:         c.Query("cursor"),
		Limit:          limit,
	})
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list endpoints", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]endpointResponse, len(result.Endpoints))
	for i, e := range result.Endpoints {
		items[i] = h.toEndpointResponse(e)
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": items, "next_cursor": result.NextCursor})
}

func (h *EndpointHandler) GetByID(c *gin.Context) {
	id := c.Param("id")

	e, err := h.endpoints.GetEndpoint(c.Request.Context(), c.GetString("organizationID"), id)
	if err != nil {
		if errors.Is(err, domain.ErrEndpointNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errEndpointNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get endpoint", "endpoint_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, h.toEndpointResponse(e))
}

type updateEndpointRequest struct {
	Enabled       bool     `json:"enabled"`
	ForwardURLs   []string `json:"forward_urls"   binding:"required,min=1,dive,url"`
	RetryAttempts int      `json:"retry_attempts" binding:"omitempty,min=0,max=20"`
	QueueName     *string  `json:"queue_name"`
}

func (h *EndpointHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var req updateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	e, err := h.endpoints.UpdateEndpoint(c.Request.Context(), usecase.UpdateEndpointInput{
		OrganizationID: c.GetString("organizationID"),
		ID:             id,
		Enabled:        req.Enabled,
		ForwardURLs:    req.ForwardURLs,
		RetryAttempts:  req.RetryAttempts,
		QueueName:      req.QueueName,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEndpointNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": errEndpointNotFound})
		case errors.Is(err, domain.ErrInvalidURL):
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidURL})
		default:
			h.logger.ErrorContext(c.Request.Context(), "update endpoint", "endpoint_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	c.JSON(http.StatusOK, h.toEndpointResponse(e))
}

type inboundEventResponse struct {
	ID         string            `json:"id"`
	EndpointID string            `json:"endpoint_id"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
	SourceIP   string            `json:"source_ip"`
	TaskIDs    []string          `json:"task_ids"`
	CreatedAt  time.Time         `json:"created_at"`
}

func toInboundEventResponse(e *domain.InboundEvent) inboundEventResponse {
	return inboundEventResponse{
		ID:         e.ID,
		EndpointID: e.EndpointID,
		Method:     e.Method,
		Headers:    e.Headers,
		SourceIP:   e.SourceIP,
		TaskIDs:    e.TaskIDs,
		CreatedAt:  e.CreatedAt,
	}
}

func (h *EndpointHandler) ListEvents(c *gin.Context) {
	endpointID := c.Param("id")
	limit := clampQueryLimit(c.Query("limit"))

	result, err := h.endpoints.ListEvents(c.Request.Context(), usecase.ListEventsInput{
		OrganizationID: c.GetString("organizationID"),
		EndpointID:     endpointID,
		Cursor:         c.Query("cursor"),
		Limit:          limit,
	})
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list inbound events", "endpoint_id", endpointID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]inboundEventResponse, len(result.Events))
	for i, e := range result.Events {
		items[i] = toInboundEventResponse(e)
	}
	c.JSON(http.StatusOK, gin.H{"events": items, "next_cursor": result.NextCursor})
}

func (h *EndpointHandler) GetEvent(c *gin.Context) {
	eventID := c.Param("event_id")

	e, err := h.endpoints.GetEvent(c.Request.Context(), c.GetString("organizationID"), eventID)
	if err != nil {
		if errors.Is(err, domain.ErrInboundEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errInboundEventNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get inbound event", "event_id", eventID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, toInboundEventResponse(e))
}

// ReplayEvent re-fires every task the event originally fanned out to.
func (h *EndpointHandler) ReplayEvent(c *gin.Context) {
	eventID := c.Param("event_id")

	execIDs, err := h.inbound.Replay(c.Request.Context(), c.GetString("organizationID"), eventID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInboundEventNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": errInboundEventNotFound})
		case errors.Is(err, domain.ErrTaskDeleted):
			c.JSON(http.StatusConflict, gin.H{"error": errTaskDeleted})
		default:
			h.logger.ErrorContext(c.Request.Context(), "replay inbound event", "event_id", eventID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"execution_ids": execIDs})
}

const maxInboundBodyBytes = 1 << 20 // 1MB

// Receive handles the public (unauthenticated) any-method /in/:slug route —
// endpoints are addressed by an unguessable slug, not tenant auth.
func (h *EndpointHandler) Receive(c *gin.Context) {
	slug := c.Param("slug")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInboundBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if len(body) > maxInboundBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		headers[k] = c.Request.Header.Get(k)
	}

	event, err := h.inbound.Receive(c.Request.Context(), slug, c.Request.Method, headers, string(body), c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEndpointNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": errEndpointNotFound})
		case errors.Is(err, domain.ErrEndpointDisabled):
			c.JSON(http.StatusGone, gin.H{"error": errEndpointDisabled})
		default:
			h.logger.ErrorContext(c.Request.Context(), "receive inbound event", "slug", slug, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	c.JSON(http.StatusAccepted, toInboundEventResponse(event))
}
