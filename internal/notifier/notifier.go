// Package notifier delivers organization-facing alerts — quota
// crossings, monitor status flips, task failures — over email and,
// when an organization has configured one, an HMAC-signed webhook POST.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/email"
	"github.com/runlater/core/internal/repository"
	"github.com/runlater/core/internal/signing"
	"github.com/runlater/core/internal/urlsafety"
)

type Event struct {
	Type      string         `json:"type"`
	OrgID     string         `json:"organization_id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

const (
	EventQuotaWarning     = "quota.warning"  // 80% of monthly ceiling
	EventQuotaExceeded    = "quota.exceeded" // 100% of monthly ceiling
	EventMonitorDown      = "monitor.down"
	EventMonitorRecovered = "monitor.recovered"
	EventTaskFailed       = "task.failed"
)

type Notifier struct {
	sender     email.Sender
	emailLogs  repository.EmailLogRepository
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a Notifier. emailLogs may be nil (tests); when present,
// every sent email is recorded for the retention sweep to age out.
func New(sender email.Sender, emailLogs repository.EmailLogRepository, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:    sender,
		emailLogs: emailLogs,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: urlsafety.GuardedDialContext(&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}),
			},
		},
		logger: logger.With("component", "notifier"),
	}
}

// NotifyEmail sends a plain notification email, when the organization
// has one configured, and records the send in email_logs.
func (n *Notifier) NotifyEmail(ctx context.Context, orgID string, to *string, subject, body string) {
	if to == nil || *to == "" {
		return
	}
	if err := n.sender.Send(ctx, *to, subject, body); err != nil {
		n.logger.Error("send notification email failed", "to", *to, "error", err)
		return
	}
	if n.emailLogs == nil {
		return
	}
	if err := n.emailLogs.Record(ctx, &domain.EmailLog{
		OrganizationID: orgID,
		Recipient:      *to,
		Subject:        subject,
	}); err != nil {
		n.logger.Warn("record email log failed", "org_id", orgID, "error", err)
	}
}

// NotifyWebhook POSTs the event to the organization's notification
// webhook URL, when configured, signed the same way outbound task
// deliveries are.
func (n *Notifier) NotifyWebhook(ctx context.Context, webhookURL *string, secret []byte, event Event) {
	if webhookURL == nil || *webhookURL == "" {
		return
	}
	event.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("marshal notification event failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *webhookURL, bytes.NewReader(payload))
	if err != nil {
		n.logger.Error("build notification webhook request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signing.HeaderName, signing.Sign(secret, payload))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("notification webhook delivery failed", "url", *webhookURL, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("notification webhook rejected", "url", *webhookURL, "status", resp.StatusCode)
	}
}
