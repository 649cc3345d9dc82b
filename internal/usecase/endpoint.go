package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/repository"
	"github.com/runlater/core/internal/urlsafety"
)

// EndpointUsecase validates inbound endpoint definitions — every
// forward URL is subject to the same SSRF policy a task's own URL is.
type EndpointUsecase struct {
	endpoints repository.EndpointRepository
}

func NewEndpointUsecase(endpoints repository.EndpointRepository) *EndpointUsecase {
	return &EndpointUsecase{endpoints: endpoints}
}

type CreateEndpointInput struct {
	OrganizationID string
	ForwardURLs    []string
	RetryAttempts  int
	QueueName      *string
}

func (u *EndpointUsecase) CreateEndpoint(ctx context.Context, in CreateEndpointInput) (*domain.Endpoint, error) {
	if len(in.ForwardURLs) == 0 {
		return nil, fmt.Errorf("at least one forward url is required")
	}
	for _, fwd := range in.ForwardURLs {
		if err := urlsafety.CheckURL(fwd); err != nil {
			return nil, fmt.Errorf("forward url %q: %w: %s", fwd, domain.ErrInvalidURL, err)
		}
	}
	if in.RetryAttempts < 0 {
		in.RetryAttempts = defaultRetryAttempts
	}

	slug, err := randomSlug()
	if err != nil {
		return nil, fmt.Errorf("generate slug: %w", err)
	}

	e := &domain.Endpoint{
		ID:             uuid.Must(uuid.NewV7()).String(),
		OrganizationID: in.OrganizationID,
		Slug:           slug,
		Enabled:        true,
		ForwardURLs:    in.ForwardURLs,
		RetryAttempts:  in.RetryAttempts,
		QueueName:      in.QueueName,
	}
	if err := u.endpoints.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create endpoint: %w", err)
	}
	return e, nil
}

func (u *EndpointUsecase) GetEndpoint(ctx context.Context, orgID, id string) (*domain.Endpoint, error) {
	return u.endpoints.GetByID(ctx, orgID, id)
}

type ListEndpointsInput struct {
	OrganizationID string
	Cursor         string
	Limit          int
}

type ListEndpointsResult struct {
	Endpoints  []*domain.Endpoint
	NextCursor string
}

func (u *EndpointUsecase) ListEndpoints(ctx context.Context, in ListEndpointsInput) (ListEndpointsResult, error) {
	limit := clampLimit(in.Limit)
	cursor, err := decodeCursor(in.Cursor)
	if err != nil {
		return ListEndpointsResult{}, fmt.Errorf("decode cursor: %w", err)
	}
	endpoints, next, err := u.endpoints.List(ctx, in.OrganizationID, cursor, limit)
	if err != nil {
		return ListEndpointsResult{}, fmt.Errorf("list endpoints: %w", err)
	}
	return ListEndpointsResult{Endpoints: endpoints, NextCursor: encodeCursor(next)}, nil
}

type UpdateEndpointInput struct {
	OrganizationID string
	ID             string
	Enabled        bool
	ForwardURLs    []string
	RetryAttempts  int
	QueueName      *string
}

func (u *EndpointUsecase) UpdateEndpoint(ctx context.Context, in UpdateEndpointInput) (*domain.Endpoint, error) {
	existing, err := u.endpoints.GetByID(ctx, in.OrganizationID, in.ID)
	if err != nil {
		return nil, err
	}
	for _, fwd := range in.ForwardURLs {
		if err := urlsafety.CheckURL(fwd); err != nil {
			return nil, fmt.Errorf("forward url %q: %w: %s", fwd, domain.ErrInvalidURL, err)
		}
	}

	existing.Enabled = in.Enabled
	existing.ForwardURLs = in.ForwardURLs
	existing.RetryAttempts = in.RetryAttempts
	existing.QueueName = in.QueueName

	if err := u.endpoints.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("update endpoint: %w", err)
	}
	return existing, nil
}

type ListEventsInput struct {
	OrganizationID string
	EndpointID     string
	Cursor         string
	Limit          int
}

type ListEventsResult struct {
	Events     []*domain.InboundEvent
	NextCursor string
}

func (u *EndpointUsecase) ListEvents(ctx context.Context, in ListEventsInput) (ListEventsResult, error) {
	limit := clampLimit(in.Limit)
	cursor, err := decodeCursor(in.Cursor)
	if err != nil {
		return ListEventsResult{}, fmt.Errorf("decode cursor: %w", err)
	}
	events, next, err := u.endpoints.ListEventsByEndpoint(ctx, in.OrganizationID, in.EndpointID, cursor, limit)
	if err != nil {
		return ListEventsResult{}, fmt.Errorf("list events: %w", err)
	}
	return ListEventsResult{Events: events, NextCursor: encodeCursor(next)}, nil
}

func (u *EndpointUsecase) GetEvent(ctx context.Context, orgID, eventID string) (*domain.InboundEvent, error) {
	return u.endpoints.GetEventByID(ctx, orgID, eventID)
}

// Replaying a previously recorded event is handled by inbound.Service,
// which also publishes the worker wake signal after commit — not
// duplicated here.

func randomSlug() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
