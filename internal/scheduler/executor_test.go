package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/taskflare/pubsub-scheduler/internal/domain"
	"github.com/taskflare/pubsub-scheduler/internal/metrics"
	"github.com/taskflare/pubsub-scheduler/internal/registry"
)

var (
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	testNow    = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

func testTask(t *testing.T, sched domain.Schedule, failures int) *domain.Task {
	t.Helper()
	payload := &domain.Payload{
		Topic:    "t-topic",
		Data:     []byte("msg"),
		Schedule: sched.Descriptor(),
	}
	raw, err := payload.Encode()
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	worker := "worker-1"
	hb := testNow
	return &domain.Task{
		Name:                domain.TaskKindPublishPayload,
		Instance:            "inst-1",
		ExecutionTime:       testNow,
		Data:                raw,
		Picked:              true,
		PickedBy:            &worker,
		LastHeartbeat:       &hb,
		ConsecutiveFailures: failures,
	}
}

func newTestExecutor(t *testing.T, repo *fakeRepo, execute registry.ExecuteFunc) (*Executor, *metrics.Counters) {
	t.Helper()
	counters := &metrics.Counters{}
	reg := registry.New(repo, testLogger, counters)
	if execute != nil {
		reg.Register(domain.TaskKindPublishPayload, execute)
	}
	e := NewExecutor("worker-1", repo, reg, testLogger, counters, time.Minute)
	e.now = func() time.Time { return testNow }
	return e, counters
}

func TestRun_OneTimeSuccess_CompletesRow(t *testing.T) {
	var completed, rescheduled bool
	repo := &fakeRepo{
		complete: func(_ context.Context, name, instance, workerID string) error {
			completed = true
			if name != domain.TaskKindPublishPayload || instance != "inst-1" || workerID != "worker-1" {
				t.Errorf("complete(%q, %q, %q)", name, instance, workerID)
			}
			return nil
		},
		reschedule: func(context.Context, string, string, string, time.Time, bool) error {
			rescheduled = true
			return nil
		},
	}

	var published bool
	sched, _ := domain.NewOneTime(testNow)
	e, counters := newTestExecutor(t, repo, func(_ context.Context, _ *domain.Task, p *domain.Payload) error {
		published = true
		if p.Topic != "t-topic" || string(p.Data) != "msg" {
			t.Errorf("payload: %+v", p)
		}
		return nil
	})

	e.Run(context.Background(), testTask(t, sched, 0))

	if !published || !completed {
		t.Errorf("published=%v completed=%v, want both", published, completed)
	}
	if rescheduled {
		t.Error("one-time task must not be rescheduled")
	}
	if counters.Processed.Load() != 1 {
		t.Errorf("processed = %d, want 1", counters.Processed.Load())
	}
}

func TestRun_RecurringSuccess_ReschedulesAtNextFire(t *testing.T) {
	var gotNext time.Time
	var gotSuccess bool
	repo := &fakeRepo{
		reschedule: func(_ context.Context, _, _, _ string, next time.Time, success bool) error {
			gotNext, gotSuccess = next, success
			return nil
		},
		complete: func(context.Context, string, string, string) error {
			t.Error("recurring task must not be completed")
			return nil
		},
	}

	sched, _ := domain.NewFixedDelay(90 * time.Second)
	e, _ := newTestExecutor(t, repo, func(context.Context, *domain.Task, *domain.Payload) error { return nil })

	e.Run(context.Background(), testTask(t, sched, 0))

	if !gotSuccess {
		t.Error("reschedule success flag not set")
	}
	if want := testNow.Add(90 * time.Second); !gotNext.Equal(want) {
		t.Errorf("next = %v, want %v", gotNext, want)
	}
}

func TestRun_PublishFailure_BacksOffExponentially(t *testing.T) {
	cases := []struct {
		priorFailures int
		wantDelay     time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
	}

	sched, _ := domain.NewDaily(9, 0, time.UTC)
	for _, c := range cases {
		var gotNext time.Time
		var gotSuccess = true
		repo := &fakeRepo{
			reschedule: func(_ context.Context, _, _, _ string, next time.Time, success bool) error {
				gotNext, gotSuccess = next, success
				return nil
			},
		}
		e, counters := newTestExecutor(t, repo, func(context.Context, *domain.Task, *domain.Payload) error {
			return errors.New("broker unavailable")
		})

		e.Run(context.Background(), testTask(t, sched, c.priorFailures))

		if gotSuccess {
			t.Errorf("failures=%d: reschedule success flag set on failure", c.priorFailures)
		}
		if want := testNow.Add(c.wantDelay); !gotNext.Equal(want) {
			t.Errorf("failures=%d: retry at %v, want %v", c.priorFailures, gotNext, want)
		}
		if counters.Failed.Load() != 1 {
			t.Errorf("failures=%d: failed counter = %d, want 1", c.priorFailures, counters.Failed.Load())
		}
	}
}

func TestRun_PanickingCallback_ReschedulesWithBackoff(t *testing.T) {
	var gotNext time.Time
	var gotSuccess = true
	repo := &fakeRepo{
		reschedule: func(_ context.Context, _, _, _ string, next time.Time, success bool) error {
			gotNext, gotSuccess = next, success
			return nil
		},
		complete: func(context.Context, string, string, string) error {
			t.Error("panicked task must not be completed")
			return nil
		},
	}

	sched, _ := domain.NewFixedDelay(time.Minute)
	e, counters := newTestExecutor(t, repo, func(context.Context, *domain.Task, *domain.Payload) error {
		panic("broker client blew up")
	})

	// Must not propagate the panic out of Run.
	e.Run(context.Background(), testTask(t, sched, 0))

	if gotSuccess {
		t.Error("reschedule success flag set after a panic")
	}
	if want := testNow.Add(30 * time.Second); !gotNext.Equal(want) {
		t.Errorf("retry at %v, want %v", gotNext, want)
	}
	if counters.Failed.Load() != 1 {
		t.Errorf("failed counter = %d, want 1", counters.Failed.Load())
	}
}

func TestRun_UndecodableData_ParksRowWithoutPublish(t *testing.T) {
	var poisoned bool
	repo := &fakeRepo{
		markPoisoned: func(_ context.Context, _, instance, _ string) error {
			poisoned = true
			return nil
		},
		reschedule: func(context.Context, string, string, string, time.Time, bool) error {
			t.Error("poisoned task must not be rescheduled")
			return nil
		},
	}
	e, counters := newTestExecutor(t, repo, func(context.Context, *domain.Task, *domain.Payload) error {
		t.Error("publish must not run for undecodable data")
		return nil
	})

	worker := "worker-1"
	e.Run(context.Background(), &domain.Task{
		Name:     domain.TaskKindPublishPayload,
		Instance: "inst-1",
		Data:     []byte("schema skew"),
		Picked:   true,
		PickedBy: &worker,
	})

	if !poisoned {
		t.Error("row was not parked")
	}
	if counters.Failed.Load() != 1 {
		t.Errorf("failed counter = %d, want 1", counters.Failed.Load())
	}
}

func TestRun_UnknownTaskKind_ParksRow(t *testing.T) {
	var poisoned bool
	repo := &fakeRepo{
		markPoisoned: func(context.Context, string, string, string) error {
			poisoned = true
			return nil
		},
	}
	e, _ := newTestExecutor(t, repo, nil) // nothing registered

	sched, _ := domain.NewOneTime(testNow)
	e.Run(context.Background(), testTask(t, sched, 0))

	if !poisoned {
		t.Error("task with no registered callback was not parked")
	}
}

func TestRun_LeaseLostDuringExecution_AbandonsRow(t *testing.T) {
	repo := &fakeRepo{
		heartbeat: func(context.Context, string, string, string, time.Time) error {
			return domain.ErrLeaseLost
		},
		complete: func(context.Context, string, string, string) error {
			t.Error("must not complete after losing the lease")
			return nil
		},
		reschedule: func(context.Context, string, string, string, time.Time, bool) error {
			t.Error("must not reschedule after losing the lease")
			return nil
		},
	}

	sched, _ := domain.NewOneTime(testNow)
	e, counters := newTestExecutor(t, repo, func(ctx context.Context, _ *domain.Task, _ *domain.Payload) error {
		// Simulate a slow publish; the heartbeat loop cancels this
		// context once the lease is gone.
		<-ctx.Done()
		return ctx.Err()
	})
	e.heartbeatInterval = 5 * time.Millisecond

	e.Run(context.Background(), testTask(t, sched, 0))

	if counters.Processed.Load() != 0 {
		t.Errorf("processed = %d, want 0", counters.Processed.Load())
	}
}

func TestRun_LeaseLostAtFinalize_SilentAbort(t *testing.T) {
	repo := &fakeRepo{
		complete: func(context.Context, string, string, string) error {
			return domain.ErrLeaseLost
		},
	}
	sched, _ := domain.NewOneTime(testNow)
	e, counters := newTestExecutor(t, repo, func(context.Context, *domain.Task, *domain.Payload) error { return nil })

	e.Run(context.Background(), testTask(t, sched, 0))

	if counters.Processed.Load() != 0 {
		t.Errorf("processed = %d, want 0 when the finalize loses the lease", counters.Processed.Load())
	}
}
