package domain

import (
	"errors"
	"time"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrDuplicateInstance = errors.New("task instance already exists")
	ErrLeaseLost         = errors.New("task lease lost")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidCronExpr   = errors.New("invalid cron expression")
)

// TaskKindPublishPayload is the single task kind this service executes:
// republish a stored payload to its target topic when the task comes due.
const TaskKindPublishPayload = "publish-payload"

// PoisonFailureCount parks a row whose data can no longer be decoded.
// ClaimDue skips rows at or above this count, so the row stays visible to
// operators but is never handed to a worker again.
const PoisonFailureCount = 1000

// Task is one scheduled occurrence pending execution. Exactly one row per
// occurrence; one-shot rows are deleted on success, recurring rows are
// rewritten in place with the next execution time.
type Task struct {
	Name          string
	Instance      string
	ExecutionTime time.Time
	Data          []byte

	Picked        bool
	PickedBy      *string    // worker ID holding the lease
	LastHeartbeat *time.Time // lease liveness; nil unless picked

	LastSuccess         *time.Time
	LastFailure         *time.Time
	ConsecutiveFailures int

	Version int64 // optimistic-lock counter, bumped on every mutation
}

// Poisoned reports whether the row has been parked after a permanent
// decode failure.
func (t *Task) Poisoned() bool {
	return t.ConsecutiveFailures >= PoisonFailureCount
}
