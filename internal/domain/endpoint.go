package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrEndpointNotFound     = errors.New("endpoint not found")
	ErrEndpointDisabled     = errors.New("endpoint is disabled")
	ErrEndpointSlugConflict = errors.New("endpoint with this slug already exists")
	ErrInboundEventNotFound = errors.New("inbound event not found")
	ErrTaskDeleted          = errors.New("task_deleted")
)

// Endpoint is an inbound receiver: a request of any method to /in/<slug> fans out to one task
// per forward URL.
type Endpoint struct {
	ID             string
	OrganizationID string
	Slug           string
	Enabled        bool
	ForwardURLs    []string
	RetryAttempts  int
	QueueName      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HopByHopHeaders are stripped before forwarding to a task URL. The
// inbound event itself keeps the raw set — only the forward copies are
// filtered.
var HopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
	"content-length":      {},
}

// FilterForwardHeaders returns a copy of headers with hop-by-hop
// entries removed, for use as a forward task's request headers.
func FilterForwardHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if _, blocked := HopByHopHeaders[strings.ToLower(k)]; blocked {
			continue
		}
		out[k] = v
	}
	return out
}

// InboundEvent captures one raw webhook delivery to an endpoint.
type InboundEvent struct {
	ID         string
	EndpointID string
	Method     string
	Headers    map[string]string
	Body       string
	SourceIP   string
	TaskIDs    []string
	CreatedAt  time.Time
}
