// Package inbound handles /in/:slug deliveries of any method: it records the
// event and fans it out to a fresh one-shot task per forward URL.
package inbound

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/repository"
	"github.com/runlater/core/internal/wake"
)

type Service struct {
	endpoints repository.EndpointRepository
	wake      *wake.Broadcaster
	logger    *slog.Logger
}

func New(endpoints repository.EndpointRepository, wakeBroadcaster *wake.Broadcaster, logger *slog.Logger) *Service {
	return &Service{endpoints: endpoints, wake: wakeBroadcaster, logger: logger.With("component", "inbound")}
}

// Receive looks up the endpoint by slug, and — if it's enabled — records
// the raw delivery and creates one fresh one-shot task and immediately-due
// execution per forward URL, all inside a single transaction. It wakes
// workers after commit.
func (s *Service) Receive(ctx context.Context, slug, method string, headers map[string]string, body, sourceIP string) (*domain.InboundEvent, error) {
	ep, err := s.endpoints.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !ep.Enabled {
		return nil, domain.ErrEndpointDisabled
	}

	// The event keeps the raw headers as delivered; hop-by-hop
	// filtering happens per forward task inside FanOut.
	event := &domain.InboundEvent{
		EndpointID: ep.ID,
		Method:     method,
		Headers:    headers,
		Body:       body,
		SourceIP:   sourceIP,
	}

	created, err := s.endpoints.FanOut(ctx, ep, event)
	if err != nil {
		return nil, fmt.Errorf("fan out: %w", err)
	}

	s.wake.Publish(ctx, wake.TopicWorkers)
	s.logger.Info("inbound event fanned out", "endpoint_id", ep.ID, "slug", slug, "task_count", len(created.TaskIDs))
	return created, nil
}

// Replay re-fires every forward task from a previously recorded event.
func (s *Service) Replay(ctx context.Context, orgID, eventID string) ([]string, error) {
	event, err := s.endpoints.GetEventByID(ctx, orgID, eventID)
	if err != nil {
		return nil, err
	}

	execIDs, err := s.endpoints.Replay(ctx, event.TaskIDs)
	if err != nil {
		return nil, err
	}

	s.wake.Publish(ctx, wake.TopicWorkers)
	s.logger.Info("inbound event replayed", "event_id", eventID, "execution_count", len(execIDs))
	return execIDs, nil
}
