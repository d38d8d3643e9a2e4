package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskflare/pubsub-scheduler/internal/domain"
	"github.com/taskflare/pubsub-scheduler/internal/metrics"
	"github.com/taskflare/pubsub-scheduler/internal/registry"
)

// maxRequestBody caps schedule request bodies; Pub/Sub messages top out
// at 10 MB, so anything larger is junk.
const maxRequestBody = 10 << 20

type ScheduleHandler struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func NewScheduleHandler(reg *registry.Registry, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{registry: reg, logger: logger.With("component", "schedule_handler")}
}

type createScheduleResponse struct {
	TaskName      string    `json:"taskName"`
	TaskInstance  string    `json:"taskInstance"`
	ExecutionTime time.Time `json:"executionTime"`
}

// Create accepts a schedule request (canonical or legacy shape) and
// persists the task. 201 on success, 400 on validation failure, 409 when
// a named recurring task already exists, 500 on store failure.
func (h *ScheduleHandler) Create(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxRequestBody))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
		return
	}

	req, err := domain.ParseScheduleRequest(body)
	if err != nil {
		metrics.RequestsReceivedTotal.WithLabelValues("http", "invalid").Inc()
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.registry.Submit(ctx.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidCronExpr):
			metrics.RequestsReceivedTotal.WithLabelValues("http", "invalid").Inc()
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrDuplicateInstance):
			metrics.RequestsReceivedTotal.WithLabelValues("http", "duplicate").Inc()
			ctx.JSON(http.StatusConflict, gin.H{"error": errDuplicateInstance})
		default:
			metrics.RequestsReceivedTotal.WithLabelValues("http", "error").Inc()
			h.logger.Error("submit schedule request", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	metrics.RequestsReceivedTotal.WithLabelValues("http", "accepted").Inc()
	ctx.JSON(http.StatusCreated, createScheduleResponse{
		TaskName:      task.Name,
		TaskInstance:  task.Instance,
		ExecutionTime: task.ExecutionTime,
	})
}
