package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/runlater/core/internal/domain"
	"github.com/runlater/core/internal/repository"
	"github.com/runlater/core/internal/usecase"
)

type TaskHandler struct {
	tasks  *usecase.TaskUsecase
	execs  repository.ExecutionRepository
	logger *slog.Logger
}

func NewTaskHandler(tasks *usecase.TaskUsecase, execs repository.ExecutionRepository, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, execs: execs, logger: logger.With("component", "task_handler")}
}

type createTaskRequest struct {
	Name           string            `json:"name"             binding:"omitempty,max=200"`
	Method         string            `json:"method"          binding:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	URL            string            `json:"url"             binding:"required,url,max=2048"`
	Headers        map[string]string `json:"headers"`
	Body           *string           `json:"body"`
	TimeoutSeconds int               `json:"timeout_seconds" binding:"omitempty,min=1,max=300"`
	RetryAttempts  int               `json:"retry_attempts"  binding:"omitempty,min=0,max=20"`
	CallbackURL    *string           `json:"callback_url"    binding:"omitempty,url,max=2048"`
	QueueName      *string           `json:"queue_name"`
	CronExpr       string            `json:"cron_expr"`
	ScheduledAt    *time.Time        `json:"scheduled_at"`
}

type taskResponse struct {
	ID              string            `json:"id"`
	Name            string            `json:"name,omitempty"`
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	RetryAttempts   int               `json:"retry_attempts"`
	ScheduleType    domain.ScheduleType `json:"schedule_type"`
	CronExpr        string            `json:"cron_expr,omitempty"`
	ScheduledAt     *time.Time        `json:"scheduled_at,omitempty"`
	NextRunAt       *time.Time        `json:"next_run_at,omitempty"`
	Enabled         bool              `json:"enabled"`
	CallbackURL     *string           `json:"callback_url,omitempty"`
	QueueName       *string           `json:"queue_name,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func toTaskResponse(t *domain.Task) taskResponse {
	return taskResponse{
		ID:             t.ID,
		Name:           t.Name,
		Method:         t.Method,
		URL:            t.URL,
		Headers:        t.Headers,
		TimeoutSeconds: t.TimeoutSeconds,
		RetryAttempts:  t.RetryAttempts,
		ScheduleType:   t.ScheduleType,
		CronExpr:       t.CronExpr,
		ScheduledAt:    t.ScheduledAt,
		NextRunAt:      t.NextRunAt,
		Enabled:        t.Enabled,
		CallbackURL:    t.CallbackURL,
		QueueName:      t.QueueName,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func (h *TaskHandler) Create(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.tasks.CreateTask(c.Request.Context(), usecase.CreateTaskInput{
		OrganizationID: c.GetString("organizationID"),
		Name:           req.Name,
		Method:         req.Method,
		URL:            req.URL,
		Headers:        req.Headers,
		Body:           req.Body,
		TimeoutSeconds: req.TimeoutSeconds,
		RetryAttempts:  req.RetryAttempts,
		CallbackURL:    req.CallbackURL,
		QueueName:      req.QueueName,
		CronExpr:       req.CronExpr,
		ScheduledAt:    req.ScheduledAt,
	})
	if err != nil {
		h.writeCreateError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toTaskResponse(t))
}

func (h *TaskHandler) writeCreateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCronExpr):
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCronExpr})
	case errors.Is(err, domain.ErrCronIntervalFloor):
		c.JSON(http.StatusBadRequest, gin.H{"error": errCronIntervalFloor})
	case errors.Is(err, domain.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidURL})
	default:
		h.logger.ErrorContext(c.Request.Context(), "create task", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}

func (h *TaskHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	result, err := h.tasks.ListTasks(c.Request.Context(), usecase.ListTasksInput{
		OrganizationID: c.GetString("organizationID"),
		Cursor:         c.Query("cursor"),
		Limit:          limit,
	})
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list tasks", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]taskResponse, len(result.Tasks))
	for i, t := range result.Tasks {
		items[i] = toTaskResponse(t)
	}
	c.JSON(http.StatusOK, gin.H{"tasks": items, "next_cursor": result.NextCursor})
}

func (h *TaskHandler) GetByID(c *gin.Context) {
	id := c.Param("id")

	t, err := h.tasks.GetTask(c.Request.Context(), c.GetString("organizationID"), id)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get task", "task_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, toTaskResponse(t))
}

type updateTaskRequest struct {
	Name           string            `json:"name"             binding:"omitempty,max=200"`
	Method         string            `json:"method"          binding:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	URL            string            `json:"url"             binding:"required,url,max=2048"`
	Headers        map[string]string `json:"headers"`
	Body           *string           `json:"body"`
	TimeoutSeconds int               `json:"timeout_seconds" binding:"omitempty,min=1,max=300"`
	RetryAttempts  int               `json:"retry_attempts"  binding:"omitempty,min=0,max=20"`
	CallbackURL    *string           `json:"callback_url"    binding:"omitempty,url,max=2048"`
	QueueName      *string           `json:"queue_name"`
	Enabled        bool              `json:"enabled"`
	CronExpr       string            `json:"cron_expr"`
	ScheduledAt    *time.Time        `json:"scheduled_at"`
}

func (h *TaskHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.tasks.UpdateTask(c.Request.Context(), usecase.UpdateTaskInput{
		OrganizationID: c.GetString("organizationID"),
		ID:             id,
		Name:           req.Name,
		Method:         req.Method,
		URL:            req.URL,
		Headers:        req.Headers,
		Body:           req.Body,
		TimeoutSeconds: req.TimeoutSeconds,
		RetryAttempts:  req.RetryAttempts,
		CallbackURL:    req.CallbackURL,
		QueueName:      req.QueueName,
		Enabled:        req.Enabled,
		CronExpr:       req.CronExpr,
		ScheduledAt:    req.ScheduledAt,
	})
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
			return
		}
		h.writeCreateError(c, err)
		return
	}

	c.JSON(http.StatusOK, toTaskResponse(t))
}

func (h *TaskHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if err := h.tasks.DeleteTask(c.Request.Context(), c.GetString("organizationID"), id); err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "delete task", "task_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.Status(http.StatusNoContent)
}

// Clone duplicates a task's request and schedule fields into a new task.
func (h *TaskHandler) Clone(c *gin.Context) {
	id := c.Param("id")

	t, err := h.tasks.CloneTask(c.Request.Context(), c.GetString("organizationID"), id)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "clone task", "task_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusCreated, toTaskResponse(t))
}

type executionResponse struct {
	ID                 string     `json:"id"`
	TaskID             string     `json:"task_id"`
	Attempt            int        `json:"attempt"`
	ScheduledFor       time.Time  `json:"scheduled_for"`
	Status             string     `json:"status"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	DurationMS         *int64     `json:"duration_ms,omitempty"`
	ResponseStatusCode *int       `json:"response_status_code,omitempty"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toExecutionResponse(e *domain.Execution) executionResponse {
	return executionResponse{
		ID:                 e.ID,
		TaskID:             e.TaskID,
		Attempt:            e.Attempt,
		ScheduledFor:       e.ScheduledFor,
		Status:             string(e.Status),
		StartedAt:          e.StartedAt,
		FinishedAt:         e.FinishedAt,
		DurationMS:         e.DurationMS,
		ResponseStatusCode: e.ResponseStatusCode,
		ErrorMessage:       e.ErrorMessage,
		CreatedAt:          e.CreatedAt,
	}
}

// ListExecutions lists a task's execution history. Goes straight to the
// execution repository rather than through a usecase — the cursor
// pagination here is identical to every other list endpoint and there's
// no validation beyond ownership, which the query itself enforces via
// the join on organization_id.
func (h *TaskHandler) ListExecutions(c *gin.Context) {
	taskID := c.Param("id")
	orgID := c.GetString("organizationID")
	limit := clampQueryLimit(c.Query("limit"))

	cursor, err := decodeQueryCursor(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}

	execs, next, err := h.execs.ListByTask(c.Request.Context(), orgID, taskID, cursor, limit)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list executions", "task_id", taskID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]executionResponse, len(execs))
	for i, e := range execs {
		items[i] = toExecutionResponse(e)
	}
	c.JSON(http.StatusOK, gin.H{"executions": items, "next_cursor": encodeQueryCursor(next)})
}

func (h *TaskHandler) GetExecution(c *gin.Context) {
	id := c.Param("execution_id")
	orgID := c.GetString("organizationID")

	e, err := h.execs.GetByID(c.Request.Context(), orgID, id)
	if err != nil {
		if errors.Is(err, domain.ErrExecutionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get execution", "execution_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, toExecutionResponse(e))
}
