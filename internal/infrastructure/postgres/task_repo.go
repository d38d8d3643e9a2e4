package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskflare/pubsub-scheduler/internal/domain"
)

const taskColumns = `task_name, task_instance, execution_time, data,
	picked, picked_by, last_heartbeat,
	last_success, last_failure, consecutive_failures, version`

type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

func (r *TaskRepository) Insert(ctx context.Context, task *domain.Task) error {
	return withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO scheduled_tasks (task_name, task_instance, execution_time, data)
			VALUES ($1, $2, $3, $4)`,
			task.Name, task.Instance, task.ExecutionTime, task.Data)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return domain.ErrDuplicateInstance
			}
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
}

func (r *TaskRepository) ClaimDue(ctx context.Context, now time.Time, workerID string, limit int) ([]*domain.Task, error) {
	// FOR UPDATE SKIP LOCKED lets concurrent workers claim disjoint rows
	// without queueing on each other's locks.
	query := fmt.Sprintf(`
		UPDATE scheduled_tasks
		SET    picked         = TRUE,
		       picked_by      = $1,
		       last_heartbeat = $2,
		       version        = version + 1
		WHERE (task_name, task_instance) IN (
			SELECT task_name, task_instance FROM scheduled_tasks
			WHERE  picked = FALSE
			  AND  execution_time <= $2
			  AND  consecutive_failures < %d
			ORDER BY execution_time ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, domain.PoisonFailureCount, taskColumns)

	var tasks []*domain.Task
	err := withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx, query, workerID, now, limit)
		if err != nil {
			return fmt.Errorf("claim due tasks: %w", err)
		}
		defer rows.Close()

		tasks = tasks[:0]
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return rows.Err()
	})
	return tasks, err
}

func (r *TaskRepository) Heartbeat(ctx context.Context, name, instance, workerID string, now time.Time) error {
	return r.leaseExec(ctx, `
		UPDATE scheduled_tasks
		SET    last_heartbeat = $4, version = version + 1
		WHERE  task_name = $1 AND task_instance = $2
		  AND  picked = TRUE AND picked_by = $3`,
		name, instance, workerID, now)
}

func (r *TaskRepository) Complete(ctx context.Context, name, instance, workerID string) error {
	return r.leaseExec(ctx, `
		DELETE FROM scheduled_tasks
		WHERE  task_name = $1 AND task_instance = $2
		  AND  picked = TRUE AND picked_by = $3`,
		name, instance, workerID)
}

func (r *TaskRepository) Reschedule(ctx context.Context, name, instance, workerID string, next time.Time, success bool) error {
	if success {
		return r.leaseExec(ctx, `
			UPDATE scheduled_tasks
			SET    execution_time       = $4,
			       picked               = FALSE,
			       picked_by            = NULL,
			       last_heartbeat       = NULL,
			       last_success         = NOW(),
			       consecutive_failures = 0,
			       version              = version + 1
			WHERE  task_name = $1 AND task_instance = $2
			  AND  picked = TRUE AND picked_by = $3`,
			name, instance, workerID, next)
	}
	return r.leaseExec(ctx, `
		UPDATE scheduled_tasks
		SET    execution_time       = $4,
		       picked               = FALSE,
		       picked_by            = NULL,
		       last_heartbeat       = NULL,
		       last_failure         = NOW(),
		       consecutive_failures = consecutive_failures + 1,
		       version              = version + 1
		WHERE  task_name = $1 AND task_instance = $2
		  AND  picked = TRUE AND picked_by = $3`,
		name, instance, workerID, next)
}

func (r *TaskRepository) MarkPoisoned(ctx context.Context, name, instance, workerID string) error {
	return r.leaseExec(ctx, fmt.Sprintf(`
		UPDATE scheduled_tasks
		SET    picked               = FALSE,
		       picked_by            = NULL,
		       last_heartbeat       = NULL,
		       last_failure         = NOW(),
		       consecutive_failures = %d,
		       version              = version + 1
		WHERE  task_name = $1 AND task_instance = $2
		  AND  picked = TRUE AND picked_by = $3`, domain.PoisonFailureCount),
		name, instance, workerID)
}

func (r *TaskRepository) RecoverLeases(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	cutoff := now.Add(-staleAfter)
	var recovered int
	err := withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx, `
			UPDATE scheduled_tasks
			SET    picked         = FALSE,
			       picked_by      = NULL,
			       last_heartbeat = NULL,
			       version        = version + 1
			WHERE (task_name, task_instance) IN (
				SELECT task_name, task_instance FROM scheduled_tasks
				WHERE  picked = TRUE
				  AND  last_heartbeat < $1
				FOR UPDATE SKIP LOCKED
			)`, cutoff)
		if err != nil {
			return fmt.Errorf("recover stale leases: %w", err)
		}
		recovered = int(tag.RowsAffected())
		return nil
	})
	return recovered, err
}

func (r *TaskRepository) Get(ctx context.Context, name, instance string) (*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM scheduled_tasks WHERE task_name = $1 AND task_instance = $2`, taskColumns)
	row := r.pool.QueryRow(ctx, query, name, instance)
	return scanTask(row)
}

// leaseExec runs a mutation guarded by the picked_by predicate. Zero rows
// affected means another worker took the lease (or the row is gone).
func (r *TaskRepository) leaseExec(ctx context.Context, query string, args ...any) error {
	return withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("task mutation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrLeaseLost
		}
		return nil
	})
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	err := row.Scan(
		&t.Name, &t.Instance, &t.ExecutionTime, &t.Data,
		&t.Picked, &t.PickedBy, &t.LastHeartbeat,
		&t.LastSuccess, &t.LastFailure, &t.ConsecutiveFailures, &t.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &t, nil
}

const storeRetryAttempts = 3

// withRetry reruns fn on transient store errors (dropped connections,
// deadlocks, serialization failures) with a short jittered pause, up to
// three attempts. Everything else propagates immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || attempt == storeRetryAttempts || !transient(err) {
			return err
		}
		pause := time.Duration(attempt)*100*time.Millisecond + time.Duration(rand.Int63n(int64(100*time.Millisecond)))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(pause):
		}
	}
}

func transient(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected, connection errors,
		// admin shutdown.
		return pgErr.Code == "40001" || pgErr.Code == "40P01" ||
			strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01"
	}
	return false
}
