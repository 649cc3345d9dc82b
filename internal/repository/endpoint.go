package repository

import (
	"context"

	"github.com/runlater/core/internal/domain"
)

// EndpointRepository persists inbound receivers and the events they
// capture.
type EndpointRepository interface {
	Create(ctx context.Context, e *domain.Endpoint) error
	GetBySlug(ctx context.Context, slug string) (*domain.Endpoint, error)
	GetByID(ctx context.Context, orgID, id string) (*domain.Endpoint, error)
	List(ctx context.Context, orgID string, cursor *Cursor, limit int) ([]*domain.Endpoint, *Cursor, error)
	Update(ctx context.Context, e *domain.Endpoint) error

	// FanOut records the inbound event and, in the same transaction,
	// creates one fresh one-shot task plus one immediately-due pending
	// execution per forward URL on ep.
	FanOut(ctx context.Context, ep *domain.Endpoint, event *domain.InboundEvent) (*domain.InboundEvent, error)

	ListEventsByEndpoint(ctx context.Context, orgID, endpointID string, cursor *Cursor, limit int) ([]*domain.InboundEvent, *Cursor, error)
	GetEventByID(ctx context.Context, orgID, eventID string) (*domain.InboundEvent, error)

	// Replay creates one fresh pending execution per task id, returning
	// the new execution ids. Reports domain.ErrTaskDeleted, creating
	// nothing, if any task id no longer exists.
	Replay(ctx context.Context, taskIDs []string) ([]string, error)
}
