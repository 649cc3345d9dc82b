package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/runlater/core/internal/repository"
	"github.com/runlater/core/internal/transport/http/handler"
	"github.com/runlater/core/internal/transport/http/middleware"
)

// NewRouter wires the public HTTP surface: tenant-authenticated CRUD for
// tasks/endpoints/monitors, plus the two unauthenticated routes addressed
// by an unguessable credential in the path itself (inbound webhook slugs,
// monitor ping tokens) rather than a bearer JWT.
func NewRouter(
	logger *slog.Logger,
	taskHandler *handler.TaskHandler,
	endpointHandler *handler.EndpointHandler,
	monitorHandler *handler.MonitorHandler,
	auditLogs repository.AuditLogRepository,
	jwksURL string,
	hmacKey []byte,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	// Public, credential-in-path routes — never go through tenant auth.
	// The inbound receiver accepts any method (webhook senders don't all
	// POST); pings accept GET so a curl in a cron line suffices.
	r.Any("/in/:slug", endpointHandler.Receive)
	r.GET("/ping/:token", monitorHandler.Ping)
	r.POST("/ping/:token", monitorHandler.Ping)

	authMW := middleware.Auth(jwksURL, hmacKey)
	auditMW := middleware.Audit(auditLogs, logger)

	tasks := r.Group("/tasks", authMW, auditMW)
	tasks.POST("", taskHandler.Create)
	tasks.GET("", taskHandler.List)
	tasks.GET("/:id", taskHandler.GetByID)
	tasks.PUT("/:id", taskHandler.Update)
	tasks.DELETE("/:id", taskHandler.Delete)
	tasks.POST("/:id/clone", taskHandler.Clone)
	tasks.GET("/:id/executions", taskHandler.ListExecutions)
	tasks.GET("/:id/executions/:execution_id", taskHandler.GetExecution)

	endpoints := r.Group("/endpoints", authMW, auditMW)
	endpoints.POST("", endpointHandler.Create)
	endpoints.GET("", endpointHandler.List)
	endpoints.GET("/:id", endpointHandler.GetByID)
	endpoints.PUT("/:id", endpointHandler.Update)
	endpoints.GET("/:id/events", endpointHandler.ListEvents)
	endpoints.GET("/:id/events/:event_id", endpointHandler.GetEvent)
	endpoints.POST("/:id/events/:event_id/replay", endpointHandler.ReplayEvent)

	monitors := r.Group("/monitors", authMW, auditMW)
	monitors.POST("", monitorHandler.Create)
	monitors.GET("", monitorHandler.List)
	monitors.GET("/:id", monitorHandler.GetByID)
	monitors.PUT("/:id", monitorHandler.Update)

	return r
}
