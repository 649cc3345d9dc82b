package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/runlater/core/internal/signing"
	"github.com/runlater/core/internal/urlsafety"
)

// callbackDelays is the fixed retry ladder for a task's optional
// callback delivery, per spec.md §4.6 step 7: up to 3 attempts total,
// with these delays between them.
var callbackDelays = []time.Duration{5 * time.Second, 20 * time.Second}

// callbackSummary is the JSON body POSTed to a task's callback URL once
// its execution reaches a terminal status.
type callbackSummary struct {
	TaskID      string  `json:"task_id"`
	ExecutionID string  `json:"execution_id"`
	Attempt     int     `json:"attempt"`
	Status      string  `json:"status"`
	StatusCode  *int    `json:"response_status_code,omitempty"`
	Error       *string `json:"error,omitempty"`
	FinishedAt  string  `json:"finished_at"`
}

// CallbackDispatcher delivers an execution's outcome to the task's
// optional callback URL, outside the request path that finished the
// execution — a slow or unreachable callback receiver never delays the
// next claim.
type CallbackDispatcher struct {
	client *http.Client
	logger *slog.Logger
}

func NewCallbackDispatcher(logger *slog.Logger) *CallbackDispatcher {
	return &CallbackDispatcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: urlsafety.GuardedDialContext(&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}),
			},
		},
		logger: logger.With("component", "callback_dispatcher"),
	}
}

// Outcome carries the terminal fields of one execution, enough to
// describe what happened without the caller needing to re-fetch the row.
type Outcome struct {
	TaskID      string
	ExecutionID string
	Attempt     int
	Status      string
	StatusCode  *int
	Error       *string
	FinishedAt  time.Time
}

// Send spawns a goroutine that POSTs the summary to callbackURL, signed
// with secret, retrying per callbackDelays until it gets a 2xx
// response or exhausts its attempts. It runs detached from the
// execution's own context since the spec models it as fire-and-forget.
func (d *CallbackDispatcher) Send(callbackURL string, secret []byte, o Outcome) {
	summary := callbackSummary{
		TaskID:      o.TaskID,
		ExecutionID: o.ExecutionID,
		Attempt:     o.Attempt,
		Status:      o.Status,
		StatusCode:  o.StatusCode,
		Error:       o.Error,
		FinishedAt:  o.FinishedAt.UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		d.logger.Error("marshal callback summary failed", "execution_id", o.ExecutionID, "error", err)
		return
	}

	go d.deliver(callbackURL, secret, o.ExecutionID, payload)
}

func (d *CallbackDispatcher) deliver(callbackURL string, secret []byte, execID string, payload []byte) {
	attempts := len(callbackDelays) + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if d.post(callbackURL, secret, execID, payload) {
			return
		}
		if attempt == attempts {
			d.logger.Warn("callback delivery exhausted retries", "execution_id", execID, "url", callbackURL)
			return
		}
		time.Sleep(callbackDelays[attempt-1])
	}
}

// post returns true on a 2xx response, false otherwise (triggering a
// retry if attempts remain).
func (d *CallbackDispatcher) post(callbackURL string, secret []byte, execID string, payload []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		d.logger.Error("build callback request failed", "execution_id", execID, "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signing.HeaderExecution, execID)
	req.Header.Set(signing.HeaderName, signing.Sign(secret, payload))

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("callback delivery failed", "execution_id", execID, "url", callbackURL, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true
	}
	d.logger.Warn("callback delivery rejected", "execution_id", execID, "status", resp.StatusCode)
	return false
}
