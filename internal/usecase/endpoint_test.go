package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/repository"
	"github.com/runlater/core/internal/usecase"
)

type mockEndpointRepo struct {
	created *domain.Endpoint
}

func (m *mockEndpointRepo) Create(_ context.Context, e *domain.Endpoint) error {
	m.created = e
	return nil
}
func (m *mockEndpointRepo) GetBySlug(_ context.Context, _ string) (*domain.Endpoint, error) {
	return m.created, nil
}
func (m *mockEndpointRepo) GetByID(_ context.Context, _, _ string) (*domain.Endpoint, error) {
	if m.created == nil {
		return nil, domain.ErrEndpointNotFound
	}
	return m.created, nil
}
func (m *mockEndpointRepo) List(_ context.Context, _ string, _ *repository.Cursor, _ int) ([]*domain.Endpoint, *repository.Cursor, error) {
	return nil, nil, nil
}
func (m *mockEndpointRepo) Update(_ context.Context, e *domain.Endpoint) error {
	m.created = e
	return nil
}
func (m *mockEndpointRepo) FanOut(_ context.Context, _ *domain.Endpoint, event *domain.InboundEvent) (*domain.InboundEvent, error) {
	return event, nil
}
func (m *mockEndpointRepo) ListEventsByEndpoint(_ context.Context, _, _ string, _ *repository.Cursor, _ int) ([]*domain.InboundEvent, *repository.Cursor, error) {
	return nil, nil, nil
}
func (m *mockEndpointRepo) GetEventByID(_ context.Context, _, _ string) (*domain.InboundEvent, error) {
	return nil, domain.ErrInboundEventNotFound
}
func (m *mockEndpointRepo) Replay(_ context.Context, taskIDs []string) ([]string, error) {
	return taskIDs, nil
}

func TestCreateEndpoint_GeneratesSlugAndDefaults(t *testing.T) {
	repo := &mockEndpointRepo{}
	uc := usecase.NewEndpointUsecase(repo)

	e, err := uc.CreateEndpoint(context.Background(), usecase.CreateEndpointInput{
		OrganizationID: "org_1",
		ForwardURLs:    []string{"https://example.com/a", "https://example.com/b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Slug == "" {
		t.Fatal("expected a generated slug")
	}
	if !e.Enabled {
		t.Fatal("expected a new endpoint to be enabled by default")
	}
	if len(e.ForwardURLs) != 2 {
		t.Fatalf("expected 2 forward urls, got %d", len(e.ForwardURLs))
	}
}

func TestCreateEndpoint_RejectsUnsafeForwardURL(t *testing.T) {
	repo := &mockEndpointRepo{}
	uc := usecase.NewEndpointUsecase(repo)

	_, err := uc.CreateEndpoint(context.Background(), usecase.CreateEndpointInput{
		OrganizationID: "org_1",
		ForwardURLs:    []string{"http://127.0.0.1:6379"},
	})
	if !errors.Is(err, domain.ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestCreateEndpoint_RequiresAtLeastOneForwardURL(t *testing.T) {
	repo := &mockEndpointRepo{}
	uc := usecase.NewEndpointUsecase(repo)

	_, err := uc.CreateEndpoint(context.Background(), usecase.CreateEndpointInput{
		OrganizationID: "org_1",
	})
	if err == nil {
		t.Fatal("expected an error when no forward urls are given")
	}
}
