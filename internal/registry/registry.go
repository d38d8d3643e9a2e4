package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskflare/pubsub-scheduler/internal/domain"
	"github.com/taskflare/pubsub-scheduler/internal/metrics"
	"github.com/taskflare/pubsub-scheduler/internal/repository"
)

// ExecuteFunc runs one claimed task. The payload is the decoded data
// column; implementations must be safe for concurrent calls.
type ExecuteFunc func(ctx context.Context, task *domain.Task, payload *domain.Payload) error

// Registry maps task kinds to their execute callbacks and resolves
// incoming schedule requests into persisted task rows. Kinds are
// registered once at startup; Resolve is called from worker goroutines.
type Registry struct {
	repo     repository.TaskRepository
	logger   *slog.Logger
	counters *metrics.Counters

	mu    sync.RWMutex
	kinds map[string]ExecuteFunc

	now func() time.Time
}

func New(repo repository.TaskRepository, logger *slog.Logger, counters *metrics.Counters) *Registry {
	return &Registry{
		repo:     repo,
		logger:   logger.With("component", "registry"),
		counters: counters,
		kinds:    make(map[string]ExecuteFunc),
		now:      time.Now,
	}
}

// Register binds a task kind to its execute callback.
func (r *Registry) Register(kind string, fn ExecuteFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = fn
}

// Resolve returns the callback for a task kind.
func (r *Registry) Resolve(kind string) (ExecuteFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.kinds[kind]
	return fn, ok
}

// Submit validates a schedule request, serializes its payload, computes
// the first execution time, and inserts the task row.
//
// Instance naming: named recurring tasks use the caller-supplied task name
// so a second submission collides on the primary key and surfaces as
// domain.ErrDuplicateInstance; everything else gets a fresh UUID.
//
// First fire: one-time uses the requested instant (must be in the future);
// recurring uses the caller's initial time when given (past values mean
// "fire on the next poll"), otherwise the schedule's next natural fire.
func (r *Registry) Submit(ctx context.Context, req *domain.ScheduleRequest) (*domain.Task, error) {
	now := r.now()

	var executionTime time.Time
	switch {
	case !req.Schedule.Recurring():
		if !req.Schedule.FireAt.After(now) {
			return nil, fmt.Errorf("%w: one-time execution time %s is not in the future",
				domain.ErrValidation, req.Schedule.FireAt.Format(time.RFC3339))
		}
		executionTime = req.Schedule.FireAt
	case req.InitialTime != nil:
		executionTime = *req.InitialTime
	default:
		next, ok := req.Schedule.Next(now)
		if !ok {
			return nil, fmt.Errorf("%w: schedule produces no future fire", domain.ErrValidation)
		}
		executionTime = next
	}

	payload := &domain.Payload{
		Topic:      req.Topic,
		Data:       req.Data,
		Attributes: req.Attributes,
		Schedule:   req.Schedule.Descriptor(),
	}
	data, err := payload.Encode()
	if err != nil {
		return nil, err
	}

	instance := req.TaskName
	if instance == "" {
		instance = uuid.NewString()
	}

	task := &domain.Task{
		Name:          domain.TaskKindPublishPayload,
		Instance:      instance,
		ExecutionTime: executionTime.UTC(),
		Data:          data,
	}
	if err := r.repo.Insert(ctx, task); err != nil {
		return nil, err
	}

	r.counters.Received.Add(1)
	r.logger.Info("task scheduled",
		"task_instance", task.Instance,
		"schedule_type", req.Schedule.Type,
		"topic", req.Topic,
		"execution_time", task.ExecutionTime,
	)
	return task, nil
}
