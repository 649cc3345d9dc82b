package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/repository"
	"github.com/runlater/core/internal/usecase"
)

type mockMonitorRepo struct {
	created *domain.Monitor
}

func (m *mockMonitorRepo) Create(_ context.Context, mon *domain.Monitor) error {
	m.created = mon
	return nil
}
func (m *mockMonitorRepo) GetByToken(_ context.Context, _ string) (*domain.Monitor, error) {
	return m.created, nil
}
func (m *mockMonitorRepo) GetByID(_ context.Context, _, _ string) (*domain.Monitor, error) {
	if m.created == nil {
		return nil, domain.ErrMonitorNotFound
	}
	return m.created, nil
}
func (m *mockMonitorRepo) List(_ context.Context, _ string, _ *repository.Cursor, _ int) ([]*domain.Monitor, *repository.Cursor, error) {
	return nil, nil, nil
}
func (m *mockMonitorRepo) Update(_ context.Context, mon *domain.Monitor) error {
	m.created = mon
	return nil
}
func (m *mockMonitorRepo) RecordPing(_ context.Context, _, _ string, _ time.Time) (*domain.Monitor, bool, error) {
	return m.created, false, nil
}
func (m *mockMonitorRepo) ListOverdue(_ context.Context, _ time.Time) ([]*domain.Monitor, error) {
	return nil, nil
}
func (m *mockMonitorRepo) MarkDown(_ context.Context, _ string, _ time.Time) error { return nil }
func (m *mockMonitorRepo) PurgePingsBefore(_ context.Context, _ string, _ time.Time) (int64, error) {
	return 0, nil
}

func TestCreateMonitor_DefaultsGraceAndStatus(t *testing.T) {
	repo := &mockMonitorRepo{}
	uc := usecase.NewMonitorUsecase(repo)

	m, err := uc.CreateMonitor(context.Background(), usecase.CreateMonitorInput{
		OrganizationID:  "org_1",
		Name:            "nightly backup",
		IntervalSeconds: 300,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.GraceSeconds != 300 {
		t.Fatalf("expected default grace seconds 300, got %d", m.GraceSeconds)
	}
	if m.Status != domain.MonitorStatusNew {
		t.Fatalf("expected new status, got %s", m.Status)
	}
	if m.Token == "" {
		t.Fatal("expected a generated token")
	}
}

func TestCreateMonitor_RejectsIntervalBelowFloor(t *testing.T) {
	repo := &mockMonitorRepo{}
	uc := usecase.NewMonitorUsecase(repo)

	_, err := uc.CreateMonitor(context.Background(), usecase.CreateMonitorInput{
		OrganizationID:  "org_1",
		Name:            "too frequent",
		IntervalSeconds: 10,
	})
	if err == nil {
		t.Fatal("expected an error for an interval below the 60s floor")
	}
}

func TestUpdateMonitor_PauseAndResume(t *testing.T) {
	repo := &mockMonitorRepo{created: &domain.Monitor{
		ID: "mon_1", OrganizationID: "org_1", Name: "x",
		IntervalSeconds: 120, GraceSeconds: 300, Status: domain.MonitorStatusNew,
	}}
	uc := usecase.NewMonitorUsecase(repo)

	paused, err := uc.UpdateMonitor(context.Background(), usecase.UpdateMonitorInput{
		OrganizationID: "org_1", ID: "mon_1", Name: "x", Paused: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paused.Status != domain.MonitorStatusPaused {
		t.Fatalf("expected paused status, got %s", paused.Status)
	}

	resumed, err := uc.UpdateMonitor(context.Background(), usecase.UpdateMonitorInput{
		OrganizationID: "org_1", ID: "mon_1", Name: "x", Paused: false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed.Status != domain.MonitorStatusNew {
		t.Fatalf("expected resumed status to fall back to new, got %s", resumed.Status)
	}
}
