package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/taskflare/pubsub-scheduler/internal/metrics"
	"github.com/taskflare/pubsub-scheduler/internal/registry"
	"github.com/taskflare/pubsub-scheduler/internal/repository"
)

// Options tune one scheduler instance. Zero values take the documented
// defaults.
type Options struct {
	WorkerID          string        // default: hostname-pid
	PollingInterval   time.Duration // default 10s
	MaxThreads        int           // default 10
	BatchSize         int           // default MaxThreads*3
	LeaseTimeout      time.Duration // default 4m
	HeartbeatInterval time.Duration // default LeaseTimeout/4
	ShutdownGrace     time.Duration // default 30s
}

func (o *Options) applyDefaults() {
	if o.WorkerID == "" {
		hostname, _ := os.Hostname()
		o.WorkerID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}
	if o.PollingInterval <= 0 {
		o.PollingInterval = 10 * time.Second
	}
	if o.MaxThreads <= 0 {
		o.MaxThreads = 10
	}
	if o.BatchSize <= 0 {
		o.BatchSize = o.MaxThreads * 3
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 4 * time.Minute
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = o.LeaseTimeout / 4
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 30 * time.Second
	}
}

// Scheduler is one worker instance of the engine: a polling loop, a
// bounded execution pool, and the registry resolving what each task does.
// Multiple instances against the same database coordinate only through
// the store. Construct with New, run with Start; each test builds and
// disposes its own instance.
type Scheduler struct {
	opts     Options
	registry *registry.Registry
	poller   *Poller
	counters *metrics.Counters
	logger   *slog.Logger
}

func New(repo repository.TaskRepository, reg *registry.Registry, counters *metrics.Counters, logger *slog.Logger, opts Options) *Scheduler {
	opts.applyDefaults()

	exec := NewExecutor(opts.WorkerID, repo, reg, logger, counters, opts.HeartbeatInterval)
	poller := NewPoller(opts.WorkerID, repo, exec, logger,
		opts.PollingInterval, opts.LeaseTimeout, opts.MaxThreads, opts.BatchSize)

	return &Scheduler{
		opts:     opts,
		registry: reg,
		poller:   poller,
		counters: counters,
		logger:   logger.With("component", "scheduler"),
	}
}

// Start runs the polling loop until ctx is cancelled, then drains
// in-flight executions within the shutdown grace period.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", "worker_id", s.opts.WorkerID)
	s.poller.Start(ctx, s.opts.ShutdownGrace)
	s.logger.Info("scheduler shut down",
		"processed", s.counters.Processed.Load(),
		"failed", s.counters.Failed.Load(),
	)
}

// WorkerID identifies this instance in lease columns and logs.
func (s *Scheduler) WorkerID() string { return s.opts.WorkerID }

// Counters exposes the in-memory execution counters.
func (s *Scheduler) Counters() *metrics.Counters { return s.counters }
