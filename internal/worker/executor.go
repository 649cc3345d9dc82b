package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/requestid"
	"github.com/runlater/core/internal/signing"
	"github.com/runlater/core/internal/urlsafety"
)

type Executor struct {
	client *http.Client
	logger *slog.Logger
}

func NewExecutor(logger *slog.Logger) *Executor {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &Executor{
		client: &http.Client{
			// Per-execution timeouts are set via context; this is a safety net.
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext:         urlsafety.GuardedDialContext(dialer),
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		logger: logger.With("component", "executor"),
	}
}

type Result struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
	Err        error
	// IsTimeout reports whether Err is populated because the task's own
	// timeout_seconds deadline elapsed mid-flight, as opposed to a DNS
	// failure, connection refusal, or SSRF rejection. The worker records
	// a timeout execution rather than a generic failure when this is set.
	IsTimeout bool
	Duration  time.Duration
}

// Run performs the task's HTTP call. When secret is non-nil, the
// request body is HMAC-signed the same way inbound webhook deliveries
// are, so receivers can verify a task-originated call actually came
// from this service. execID is the idempotency key a receiver should
// key deduplication on (spec.md §6).
func (e *Executor) Run(ctx context.Context, t *domain.Task, execID string, secret []byte) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(t.TimeoutSeconds)*time.Second)
	defer cancel()

	if err := urlsafety.CheckURL(t.URL); err != nil {
		return Result{Err: fmt.Errorf("url rejected: %w", err), Duration: time.Since(start)}
	}

	var bodyBytes []byte
	if t.Body != nil {
		bodyBytes = []byte(*t.Body)
	}

	req, err := http.NewRequestWithContext(ctx, t.Method, t.URL, strings.NewReader(string(bodyBytes)))
	if err != nil {
		return Result{Err: fmt.Errorf("build request: %w", err), Duration: time.Since(start)}
	}

	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(signing.HeaderTaskID, t.ID)
	req.Header.Set(signing.HeaderExecution, execID)
	if secret != nil {
		req.Header.Set(signing.HeaderName, signing.Sign(secret, bodyBytes))
	}

	reqID := requestid.New()
	req.Header.Set("X-Request-ID", reqID)
	ctx = requestid.WithRequestID(ctx, reqID)

	e.logger.InfoContext(ctx, "sending request", "task_id", t.ID, "method", t.Method, "url", t.URL)

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.ErrorContext(ctx, "request failed", "task_id", t.ID, "error", err, "duration", time.Since(start))
		return Result{
			Err:       fmt.Errorf("do request: %w", err),
			IsTimeout: ctx.Err() == context.DeadlineExceeded,
			Duration:  time.Since(start),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	limited := io.LimitReader(resp.Body, int64(domain.MaxResponseBodyBytes)+1)
	body, _ := io.ReadAll(limited)
	_, _ = io.Copy(io.Discard, resp.Body) // drain remainder so the connection can be reused

	duration := time.Since(start)
	e.logger.InfoContext(ctx, "received response", "task_id", t.ID, "status", resp.StatusCode, "duration", duration)

	result := Result{StatusCode: resp.StatusCode, Body: string(body), Duration: duration}
	if resp.StatusCode == http.StatusTooManyRequests {
		result.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return result
}

// parseRetryAfter accepts either delta-seconds or an RFC7231 IMF-fixdate.
// A missing, malformed, or past value falls back to 60 seconds.
func parseRetryAfter(header string, now time.Time) time.Duration {
	const fallback = 60 * time.Second
	if header == "" {
		return fallback
	}
	if secs, err := parseDeltaSeconds(header); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := t.Sub(now)
		if d <= 0 {
			return fallback
		}
		return d
	}
	return fallback
}

func parseDeltaSeconds(s string) (int64, error) {
	var n int64
	var sign int64 = 1
	i := 0
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		if s[0] == '-' {
			sign = -1
		}
		i = 1
	}
	if i == len(s) {
		return 0, fmt.Errorf("empty delta-seconds")
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("not a delta-seconds value")
		}
		n = n*10 + int64(s[i]-'0')
	}
	return n * sign, nil
}
