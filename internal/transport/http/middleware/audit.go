package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/repository"
)

// Audit records every mutating API call after the handler has run.
// Reads are skipped, as are the public webhook/ping routes — inbound
// deliveries already persist as inbound_events and monitor_pings, this
// trail covers the authenticated tenant surface. The write happens off
// the request goroutine so a slow insert never delays the response.
func Audit(logs repository.AuditLogRepository, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		entry := &domain.AuditLog{
			Method:     c.Request.Method,
			Path:       c.FullPath(),
			StatusCode: c.Writer.Status(),
			SourceIP:   c.ClientIP(),
		}
		if orgID := c.GetString("organizationID"); orgID != "" {
			entry.OrganizationID = &orgID
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := logs.Record(ctx, entry); err != nil {
				logger.Warn("record audit log failed", "path", entry.Path, "error", err)
			}
		}()
	}
}
