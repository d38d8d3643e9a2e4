package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taskflare/pubsub-scheduler/internal/domain"
	"github.com/taskflare/pubsub-scheduler/internal/metrics"
	"github.com/taskflare/pubsub-scheduler/internal/repository"
)

// Poller is the per-worker claim loop. Each tick it recovers stale leases,
// then claims as many due tasks as the worker pool has idle capacity for
// and hands them off without blocking the loop. When the pool is
// saturated it claims nothing — unclaimed rows stay picked=false and are
// the system's flow control.
type Poller struct {
	workerID string
	repo     repository.TaskRepository
	exec     *Executor
	logger   *slog.Logger

	interval     time.Duration
	leaseTimeout time.Duration
	batchSize    int

	sem chan struct{}
	wg  sync.WaitGroup

	now func() time.Time
}

func NewPoller(
	workerID string,
	repo repository.TaskRepository,
	exec *Executor,
	logger *slog.Logger,
	interval, leaseTimeout time.Duration,
	maxThreads, batchSize int,
) *Poller {
	return &Poller{
		workerID:     workerID,
		repo:         repo,
		exec:         exec,
		logger:       logger.With("component", "poller", "worker_id", workerID),
		interval:     interval,
		leaseTimeout: leaseTimeout,
		batchSize:    batchSize,
		sem:          make(chan struct{}, maxThreads),
		now:          time.Now,
	}
}

// Start runs the polling loop until ctx is cancelled, then waits for
// in-flight tasks to drain within the grace period. Tasks that do not
// finish in time keep their rows leased; the next worker's lease recovery
// picks them up.
func (p *Poller) Start(ctx context.Context, grace time.Duration) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started",
		"interval", p.interval,
		"lease_timeout", p.leaseTimeout,
		"max_threads", cap(p.sem),
	)

	for {
		select {
		case <-ctx.Done():
			p.drain(grace)
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick is synchronous: the ticker cannot fire a second claim pass while
// one is still running.
func (p *Poller) tick(ctx context.Context) {
	now := p.now()

	recovered, err := p.repo.RecoverLeases(ctx, now, p.leaseTimeout)
	if err != nil {
		p.logger.Error("recover stale leases", "error", err)
	} else if recovered > 0 {
		metrics.LeasesRecoveredTotal.Add(float64(recovered))
		p.logger.Warn("recovered stale leases", "count", recovered)
	}

	idle := cap(p.sem) - len(p.sem)
	if idle == 0 {
		return
	}
	limit := min(p.batchSize, idle)

	tasks, err := p.repo.ClaimDue(ctx, now, p.workerID, limit)
	if err != nil {
		p.logger.Error("claim due tasks", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	p.logger.Info("claimed tasks",
		"count", len(tasks),
		"slots_used", len(p.sem)+len(tasks),
		"slots_total", cap(p.sem),
	)

	for _, task := range tasks {
		metrics.TaskPickupLatency.Observe(now.Sub(task.ExecutionTime).Seconds())
		p.sem <- struct{}{}
		p.wg.Add(1)
		go func(t *domain.Task) {
			metrics.TasksInFlight.Inc()
			defer metrics.TasksInFlight.Dec()
			defer func() { <-p.sem }()
			defer p.wg.Done()
			// Detached from the loop context so shutdown lets in-flight
			// tasks run to completion within the drain grace period.
			p.exec.Run(context.WithoutCancel(ctx), t)
		}(task)
	}
}

func (p *Poller) drain(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("poller shut down, all tasks drained")
	case <-time.After(grace):
		p.logger.Warn("poller shut down with tasks still in flight, leases will go stale")
	}
}
