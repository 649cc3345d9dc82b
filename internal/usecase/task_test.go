package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/repository"
	"github.com/runlater/core/internal/usecase"
)

type mockTaskRepo struct {
	created *domain.Task
}

func (m *mockTaskRepo) Create(_ context.Context, t *domain.Task) error {
	m.created = t
	return nil
}
func (m *mockTaskRepo) GetByID(_ context.Context, _, _ string) (*domain.Task, error) {
	if m.created == nil {
		return nil, domain.ErrTaskNotFound
	}
	return m.created, nil
}
func (m *mockTaskRepo) List(_ context.Context, _ string, _ *repository.Cursor, _ int) ([]*domain.Task, *repository.Cursor, error) {
	return nil, nil, nil
}
func (m *mockTaskRepo) Update(_ context.Context, t *domain.Task) error {
	m.created = t
	return nil
}
func (m *mockTaskRepo) SoftDelete(_ context.Context, _, _ string, _ time.Time) error { return nil }
func (m *mockTaskRepo) PurgeSoftDeletedBefore(_ context.Context, _ string, _ time.Time) (int64, error) {
	return 0, nil
}
func (m *mockTaskRepo) PurgeCompletedOnceBefore(_ context.Context, _ string, _ time.Time) (int64, error) {
	return 0, nil
}
func (m *mockTaskRepo) UpdateLastExecutionAt(_ context.Context, _ string, _ time.Time) error {
	return nil
}

type mockOrgRepo struct {
	org *domain.Organization
}

func (m *mockOrgRepo) GetByID(_ context.Context, _ string) (*domain.Organization, error) {
	return m.org, nil
}
func (m *mockOrgRepo) IncrementExecutionCount(_ context.Context, _, _ string, _ int) (*domain.Organization, error) {
	return m.org, nil
}
func (m *mockOrgRepo) ListForQuotaRecalc(_ context.Context) ([]*domain.Organization, error) {
	return []*domain.Organization{m.org}, nil
}

func freeOrg() *domain.Organization {
	return &domain.Organization{ID: "org_1", Name: "Free Co", Tier: domain.TierFree}
}

func TestCreateTask_CronSuccess(t *testing.T) {
	tasks := &mockTaskRepo{}
	orgs := &mockOrgRepo{org: freeOrg()}
	uc := usecase.NewTaskUsecase(tasks, orgs, nil)

	task, err := uc.CreateTask(context.Background(), usecase.CreateTaskInput{
		OrganizationID: "org_1",
		URL:            "https://example.com/hook",
		CronExpr:       "0 * * * *", // hourly, clears the free tier's 60-minute floor
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.ScheduleType != domain.ScheduleCron {
		t.Fatalf("expected cron schedule type, got %s", task.ScheduleType)
	}
	if task.NextRunAt == nil {
		t.Fatal("expected next_run_at to be set")
	}
}

func TestCreateTask_CronBelowTierFloor(t *testing.T) {
	tasks := &mockTaskRepo{}
	orgs := &mockOrgRepo{org: freeOrg()}
	uc := usecase.NewTaskUsecase(tasks, orgs, nil)

	_, err := uc.CreateTask(context.Background(), usecase.CreateTaskInput{
		OrganizationID: "org_1",
		URL:            "https://example.com/hook",
		CronExpr:       "* * * * *", // every minute, below the free tier's 60-minute floor
	})
	if !errors.Is(err, domain.ErrCronIntervalFloor) {
		t.Fatalf("expected ErrCronIntervalFloor, got %v", err)
	}
}

func TestCreateTask_RejectsUnsafeURL(t *testing.T) {
	tasks := &mockTaskRepo{}
	orgs := &mockOrgRepo{org: freeOrg()}
	uc := usecase.NewTaskUsecase(tasks, orgs, nil)

	_, err := uc.CreateTask(context.Background(), usecase.CreateTaskInput{
		OrganizationID: "org_1",
		URL:            "http://169.254.169.254/latest/meta-data",
		ScheduledAt:    timePtr(time.Now().Add(time.Hour)),
	})
	if !errors.Is(err, domain.ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestCreateTask_RejectsUnsafeCallbackURL(t *testing.T) {
	tasks := &mockTaskRepo{}
	orgs := &mockOrgRepo{org: freeOrg()}
	uc := usecase.NewTaskUsecase(tasks, orgs, nil)

	callback := "http://10.0.0.5/internal-hook"
	_, err := uc.CreateTask(context.Background(), usecase.CreateTaskInput{
		OrganizationID: "org_1",
		URL:            "https://example.com/hook",
		CallbackURL:    &callback,
		ScheduledAt:    timePtr(time.Now().Add(time.Hour)),
	})
	if !errors.Is(err, domain.ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL for a private callback url, got %v", err)
	}
}

func TestCreateTask_RejectsBothScheduleKinds(t *testing.T) {
	tasks := &mockTaskRepo{}
	orgs := &mockOrgRepo{org: freeOrg()}
	uc := usecase.NewTaskUsecase(tasks, orgs, nil)

	_, err := uc.CreateTask(context.Background(), usecase.CreateTaskInput{
		OrganizationID: "org_1",
		URL:            "https://example.com/hook",
		CronExpr:       "0 * * * *",
		ScheduledAt:    timePtr(time.Now().Add(time.Hour)),
	})
	if err == nil {
		t.Fatal("expected an error when both cron and scheduled_at are set")
	}
}

func TestCreateTask_RejectsNeitherScheduleKind(t *testing.T) {
	tasks := &mockTaskRepo{}
	orgs := &mockOrgRepo{org: freeOrg()}
	uc := usecase.NewTaskUsecase(tasks, orgs, nil)

	_, err := uc.CreateTask(context.Background(), usecase.CreateTaskInput{
		OrganizationID: "org_1",
		URL:            "https://example.com/hook",
	})
	if err == nil {
		t.Fatal("expected an error when neither cron nor scheduled_at is set")
	}
}

func timePtr(t time.Time) *time.Time { return &t }
