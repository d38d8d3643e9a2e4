package repository

import (
	"context"
	"time"

	"github.com/taskflare/pubsub-scheduler/internal/domain"
)

// TaskRepository is the store the scheduling engine runs against. Every
// method is a single transaction; all cross-worker coordination happens
// through these atomic mutators. The engine depends on this interface, not
// the Postgres implementation, so tests can swap in fakes.
type TaskRepository interface {
	// Insert adds a fresh unpicked row. Returns domain.ErrDuplicateInstance
	// when (task_name, task_instance) already exists — named recurring
	// tasks use this as their dedup key.
	Insert(ctx context.Context, task *domain.Task) error

	// ClaimDue atomically leases up to limit due unpicked rows to workerID,
	// ordered by execution time ascending. Two workers never receive the
	// same row.
	ClaimDue(ctx context.Context, now time.Time, workerID string, limit int) ([]*domain.Task, error)

	// Heartbeat refreshes the lease. Returns domain.ErrLeaseLost when the
	// row is no longer leased to workerID.
	Heartbeat(ctx context.Context, name, instance, workerID string, now time.Time) error

	// Complete deletes the row iff workerID still holds the lease.
	Complete(ctx context.Context, name, instance, workerID string) error

	// Reschedule releases the lease and moves the row to its next
	// execution time. success resets consecutive_failures and stamps
	// last_success; otherwise the failure counter is bumped and
	// last_failure stamped. Atomic with the lease check.
	Reschedule(ctx context.Context, name, instance, workerID string, next time.Time, success bool) error

	// MarkPoisoned parks a row whose data no longer decodes: the lease is
	// released and consecutive_failures jumps past the poison ceiling so
	// ClaimDue never returns it again.
	MarkPoisoned(ctx context.Context, name, instance, workerID string) error

	// RecoverLeases force-releases rows whose heartbeat went stale before
	// now-staleAfter. This is the only path that reclaims work from
	// crashed workers. Returns the number of recovered rows.
	RecoverLeases(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error)

	// Get returns a single row, domain.ErrTaskNotFound when absent.
	Get(ctx context.Context, name, instance string) (*domain.Task, error)
}
