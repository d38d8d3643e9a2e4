package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/taskflare/pubsub-scheduler/internal/domain"
	"github.com/taskflare/pubsub-scheduler/internal/metrics"
	"github.com/taskflare/pubsub-scheduler/internal/registry"
	"github.com/taskflare/pubsub-scheduler/internal/repository"
)

// Executor runs one claimed task end-to-end: keep the lease alive, decode
// the payload, invoke the registered callback, then finalize the row in a
// single store mutation.
type Executor struct {
	workerID string
	repo     repository.TaskRepository
	registry *registry.Registry
	logger   *slog.Logger
	counters *metrics.Counters

	heartbeatInterval time.Duration
	executeTimeout    time.Duration

	now func() time.Time
}

func NewExecutor(
	workerID string,
	repo repository.TaskRepository,
	reg *registry.Registry,
	logger *slog.Logger,
	counters *metrics.Counters,
	heartbeatInterval time.Duration,
) *Executor {
	return &Executor{
		workerID:          workerID,
		repo:              repo,
		registry:          reg,
		logger:            logger.With("component", "executor", "worker_id", workerID),
		counters:          counters,
		heartbeatInterval: heartbeatInterval,
		executeTimeout:    30 * time.Second,
		now:               time.Now,
	}
}

// Run executes a single claimed task. The context is the worker's
// lifetime context; losing the lease cancels execution independently.
func (e *Executor) Run(ctx context.Context, task *domain.Task) {
	taskCtx, cancelTask := context.WithCancel(ctx)
	defer cancelTask()

	var leaseLost atomic.Bool
	stopHeartbeat := e.startHeartbeat(taskCtx, task, &leaseLost, cancelTask)
	defer stopHeartbeat()

	payload, err := domain.DecodePayload(task.Data)
	if err != nil {
		e.poison(ctx, task, err)
		return
	}
	sched, err := payload.Schedule.Schedule()
	if err != nil {
		e.poison(ctx, task, err)
		return
	}

	execute, ok := e.registry.Resolve(task.Name)
	if !ok {
		e.poison(ctx, task, errors.New("no callback registered for task kind "+task.Name))
		return
	}

	if leaseLost.Load() {
		return
	}

	execCtx, cancelExec := context.WithTimeout(taskCtx, e.executeTimeout)
	execErr := e.execute(execCtx, execute, task, payload)
	cancelExec()

	// A lease steal mid-execute means another worker is authoritative:
	// leave the row alone.
	if leaseLost.Load() {
		e.logger.Debug("lease lost during execution, abandoning task",
			"task_instance", task.Instance)
		return
	}

	e.finalize(ctx, task, sched, execErr)
}

// execute invokes the callback with panics converted to execution
// failures. A panicking publish client must not take down the polling
// loop and every in-flight lease with it; the row retries with backoff
// like any other failed execution.
func (e *Executor) execute(ctx context.Context, fn registry.ExecuteFunc, task *domain.Task, payload *domain.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("execute panicked",
				"task_instance", task.Instance, "panic", r)
			err = fmt.Errorf("execute panicked: %v", r)
		}
	}()
	return fn(ctx, task, payload)
}

// startHeartbeat refreshes the lease every interval until stopped. On
// ErrLeaseLost it flags the loss and cancels the running execution so the
// publish is never attempted (or is abandoned in flight).
func (e *Executor) startHeartbeat(ctx context.Context, task *domain.Task, leaseLost *atomic.Bool, cancelTask context.CancelFunc) (stop func()) {
	hbCtx, cancelHB := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				attemptCtx, cancel := context.WithTimeout(hbCtx, e.heartbeatInterval/2)
				err := e.repo.Heartbeat(attemptCtx, task.Name, task.Instance, e.workerID, e.now())
				cancel()
				if errors.Is(err, domain.ErrLeaseLost) {
					leaseLost.Store(true)
					cancelTask()
					return
				}
				if err != nil {
					e.logger.Warn("heartbeat failed", "task_instance", task.Instance, "error", err)
				}
			}
		}
	}()

	return func() {
		cancelHB()
		<-done
	}
}

func (e *Executor) finalize(ctx context.Context, task *domain.Task, sched domain.Schedule, execErr error) {
	now := e.now()

	if execErr != nil {
		failures := task.ConsecutiveFailures + 1
		retryAt := now.Add(failureBackoff(failures))
		err := e.repo.Reschedule(ctx, task.Name, task.Instance, e.workerID, retryAt, false)
		switch {
		case errors.Is(err, domain.ErrLeaseLost):
			return
		case err != nil:
			e.logger.Error("reschedule failed task", "task_instance", task.Instance, "error", err)
			return
		}
		e.counters.Failed.Add(1)
		metrics.TasksExecutedTotal.WithLabelValues("failure").Inc()
		e.logger.Warn("task failed, backing off",
			"task_instance", task.Instance,
			"error", execErr,
			"consecutive_failures", failures,
			"retry_at", retryAt,
		)
		return
	}

	next, ok := time.Time{}, false
	if sched.Recurring() {
		next, ok = sched.Next(now)
	}

	if !ok {
		err := e.repo.Complete(ctx, task.Name, task.Instance, e.workerID)
		switch {
		case errors.Is(err, domain.ErrLeaseLost):
			return
		case err != nil:
			e.logger.Error("complete task", "task_instance", task.Instance, "error", err)
			return
		}
		e.counters.Processed.Add(1)
		metrics.TasksExecutedTotal.WithLabelValues("success").Inc()
		e.logger.Info("task completed", "task_instance", task.Instance)
		return
	}

	err := e.repo.Reschedule(ctx, task.Name, task.Instance, e.workerID, next, true)
	switch {
	case errors.Is(err, domain.ErrLeaseLost):
		return
	case err != nil:
		e.logger.Error("reschedule recurring task", "task_instance", task.Instance, "error", err)
		return
	}
	e.counters.Processed.Add(1)
	metrics.TasksExecutedTotal.WithLabelValues("success").Inc()
	e.logger.Info("task rescheduled", "task_instance", task.Instance, "next_execution", next)
}

// poison parks a row that can never execute (undecodable data, unknown
// kind). The row keeps its data for operators but leaves the claim pool.
func (e *Executor) poison(ctx context.Context, task *domain.Task, cause error) {
	e.logger.Error("permanent task failure, parking row",
		"task_instance", task.Instance, "error", cause)
	if err := e.repo.MarkPoisoned(ctx, task.Name, task.Instance, e.workerID); err != nil && !errors.Is(err, domain.ErrLeaseLost) {
		e.logger.Error("mark task poisoned", "task_instance", task.Instance, "error", err)
	}
	e.counters.Failed.Add(1)
	metrics.TasksExecutedTotal.WithLabelValues("poisoned").Inc()
}
