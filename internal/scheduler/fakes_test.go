package scheduler

import (
	"context"
	"time"

	"github.com/taskflare/pubsub-scheduler/internal/domain"
)

// fakeRepo implements repository.TaskRepository with closure fields; nil
// closures are no-ops returning zero values.
type fakeRepo struct {
	insert        func(ctx context.Context, task *domain.Task) error
	claimDue      func(ctx context.Context, now time.Time, workerID string, limit int) ([]*domain.Task, error)
	heartbeat     func(ctx context.Context, name, instance, workerID string, now time.Time) error
	complete      func(ctx context.Context, name, instance, workerID string) error
	reschedule    func(ctx context.Context, name, instance, workerID string, next time.Time, success bool) error
	markPoisoned  func(ctx context.Context, name, instance, workerID string) error
	recoverLeases func(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error)
	get           func(ctx context.Context, name, instance string) (*domain.Task, error)
}

func (r *fakeRepo) Insert(ctx context.Context, task *domain.Task) error {
	if r.insert == nil {
		return nil
	}
	return r.insert(ctx, task)
}

func (r *fakeRepo) ClaimDue(ctx context.Context, now time.Time, workerID string, limit int) ([]*domain.Task, error) {
	if r.claimDue == nil {
		return nil, nil
	}
	return r.claimDue(ctx, now, workerID, limit)
}

func (r *fakeRepo) Heartbeat(ctx context.Context, name, instance, workerID string, now time.Time) error {
	if r.heartbeat == nil {
		return nil
	}
	return r.heartbeat(ctx, name, instance, workerID, now)
}

func (r *fakeRepo) Complete(ctx context.Context, name, instance, workerID string) error {
	if r.complete == nil {
		return nil
	}
	return r.complete(ctx, name, instance, workerID)
}

func (r *fakeRepo) Reschedule(ctx context.Context, name, instance, workerID string, next time.Time, success bool) error {
	if r.reschedule == nil {
		return nil
	}
	return r.reschedule(ctx, name, instance, workerID, next, success)
}

func (r *fakeRepo) MarkPoisoned(ctx context.Context, name, instance, workerID string) error {
	if r.markPoisoned == nil {
		return nil
	}
	return r.markPoisoned(ctx, name, instance, workerID)
}

func (r *fakeRepo) RecoverLeases(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	if r.recoverLeases == nil {
		return 0, nil
	}
	return r.recoverLeases(ctx, now, staleAfter)
}

func (r *fakeRepo) Get(ctx context.Context, name, instance string) (*domain.Task, error) {
	if r.get == nil {
		return nil, domain.ErrTaskNotFound
	}
	return r.get(ctx, name, instance)
}
