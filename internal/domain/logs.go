package domain

import "time"

// EmailLog records one notification email sent on an organization's
// behalf. Kept for operational forensics ("did the quota warning go
// out?") and aged out by the retention sweep.
type EmailLog struct {
	ID             string
	OrganizationID string
	Recipient      string
	Subject        string
	CreatedAt      time.Time
}

// AuditLog records one mutating API call against the tenant surface.
type AuditLog struct {
	ID             string
	OrganizationID *string // nil for requests that failed auth
	Method         string
	Path           string
	StatusCode     int
	SourceIP       string
	CreatedAt      time.Time
}
