package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/monitorcheck"
	"github.com/runlater/core/internal/usecase"
)

type MonitorHandler struct {
	monitors *usecase.MonitorUsecase
	checker  *monitorcheck.Checker
	baseURL  string
	logger   *slog.Logger
}

func NewMonitorHandler(monitors *usecase.MonitorUsecase, checker *monitorcheck.Checker, publicBaseURL string, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitors: monitors,
		checker:  checker,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		logger:   logger.With("component", "monitor_handler"),
	}
}

type createMonitorRequest struct {
	Name string `json:"name" binding:"required,max=256"`

	// Exactly one of IntervalSeconds or CronExpr must be set.
	IntervalSeconds int    `json:"interval_seconds" binding:"omitempty,min=60"`
	CronExpr        string `json:"cron_expr"`

	GraceSeconds int `json:"grace_seconds" binding:"omitempty,min=0"`
}

type monitorResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Token           string     `json:"token,omitempty"`
	PingURL         string     `json:"ping_url,omitempty"`
	IntervalSeconds int        `json:"interval_seconds,omitempty"`
	CronExpr        string     `json:"cron_expr,omitempty"`
	GraceSeconds    int        `json:"grace_seconds"`
	Status          string     `json:"status"`
	LastPingAt      *time.Time `json:"last_ping_at,omitempty"`
	LastStatusAt    time.Time  `json:"last_status_at"`
	NextExpectedAt  *time.Time `json:"next_expected_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// toMonitorResponse omits Token (and the ping URL embedding it) when
// includeToken is false: the ping token is a bearer credential and
// should only be echoed back on creation or explicit detail fetch, not
// in list responses.
func (h *MonitorHandler) toMonitorResponse(m *domain.Monitor, includeToken bool) monitorResponse {
	r := monitorResponse{
		ID:              m.ID,
		Name:            m.Name,
		IntervalSeconds: m.IntervalSeconds,
		CronExpr:        m.CronExpr,
		GraceSeconds:    m.GraceSeconds,
		Status:          string(m.Status),
		LastPingAt:      m.LastPingAt,
		LastStatusAt:    m.LastStatusAt,
		NextExpectedAt:  m.NextExpectedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if includeToken {
		r.Token = m.Token
		r.PingURL = h.baseURL + "/ping/" + m.Token
	}
	return r
}

func (h *MonitorHandler) Create(c *gin.Context) {
	var req createMonitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.monitors.CreateMonitor(c.Request.Context(), usecase.CreateMonitorInput{
		OrganizationID:  c.GetString("organizationID"),
		Name:            req.Name,
		IntervalSeconds: req.IntervalSeconds,
		CronExpr:        req.CronExpr,
		GraceSeconds:    req.GraceSeconds,
	})
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "create monitor", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, h.toMonitorResponse(m, true))
}

func (h *MonitorHandler) List(c *gin.Context) {
	limit := clampQueryLimit(c.Query("limit"))

	result, err := h.monitors.ListMonitors(c.Request.Context(), usecase.ListMonitorsInput{
		OrganizationID: c.GetString("organizationID"),
		Cursor:         c.Query("cursor"),
		Limit:          limit,
	})
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list monitors", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]monitorResponse, len(result.Monitors))
	for i, m := range result.Monitors {
		items[i] = h.toMonitorResponse(m, false)
	}
	c.JSON(http.StatusOK, gin.H{"monitors": items, "next_cursor": result.NextCursor})
}

func (h *MonitorHandler) GetByID(c *gin.Context) {
	id := c.Param("id")

	m, err := h.monitors.GetMonitor(c.Request.Context(), c.GetString("organizationID"), id)
	if err != nil {
		if errors.Is(err, domain.ErrMonitorNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errMonitorNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get monitor", "monitor_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, h.toMonitorResponse(m, true))
}

type updateMonitorRequest struct {
	Name            string `json:"name"             binding:"required,max=256"`
	IntervalSeconds int    `json:"interval_seconds" binding:"omitempty,min=60"`
	CronExpr        string `json:"cron_expr"`
	GraceSeconds    int    `json:"grace_seconds"    binding:"omitempty,min=0"`
	Paused          bool   `json:"paused"`
}

func (h *MonitorHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var req updateMonitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.monitors.UpdateMonitor(c.Request.Context(), usecase.UpdateMonitorInput{
		OrganizationID:  c.GetString("organizationID"),
		ID:              id,
		Name:            req.Name,
		IntervalSeconds: req.IntervalSeconds,
		CronExpr:        req.CronExpr,
		GraceSeconds:    req.GraceSeconds,
		Paused:          req.Paused,
	})
	if err != nil {
		if errors.Is(err, domain.ErrMonitorNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errMonitorNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "update monitor", "monitor_id", id, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.toMonitorResponse(m, true))
}

// Ping is the public (unauthenticated) check-in route — the token in
// the URL path is itself the credential, same pattern as the inbound
// endpoint slug.
func (h *MonitorHandler) Ping(c *gin.Context) {
	token := c.Param("token")

	if _, err := h.checker.Ping(c.Request.Context(), token, c.ClientIP()); err != nil {
		switch {
		case errors.Is(err, domain.ErrMonitorNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": errMonitorNotFound})
		case errors.Is(err, domain.ErrMonitorPaused):
			c.JSON(http.StatusConflict, gin.H{"error": errMonitorPaused})
		default:
			h.logger.ErrorContext(c.Request.Context(), "ping monitor", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	c.Status(http.StatusNoContent)
}
