package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/taskflare/pubsub-scheduler/config"
	"github.com/taskflare/pubsub-scheduler/internal/domain"
	"github.com/taskflare/pubsub-scheduler/internal/health"
	"github.com/taskflare/pubsub-scheduler/internal/infrastructure/postgres"
	ctxlog "github.com/taskflare/pubsub-scheduler/internal/log"
	"github.com/taskflare/pubsub-scheduler/internal/metrics"
	"github.com/taskflare/pubsub-scheduler/internal/openapi"
	"github.com/taskflare/pubsub-scheduler/internal/pubsub"
	"github.com/taskflare/pubsub-scheduler/internal/registry"
	"github.com/taskflare/pubsub-scheduler/internal/scheduler"
	httptransport "github.com/taskflare/pubsub-scheduler/internal/transport/http"
	"github.com/taskflare/pubsub-scheduler/internal/transport/http/handler"
)

func main() {
	app := &cli.App{
		Name:  "scheduler",
		Usage: "durable Pub/Sub message scheduler",
		Commands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "run the scheduler service until interrupted",
				Action: runStart,
			},
			{
				Name:  "schedule",
				Usage: "submit one schedule request and exit",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "request JSON file (default: stdin)"},
				},
				Action: runSchedule,
			},
			{
				Name:  "parse",
				Usage: "validate a schedule request and print its canonical form",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "request JSON file (default: stdin)"},
				},
				Action: runParse,
			},
			{
				Name:  "openapi",
				Usage: "print the OpenAPI document for the HTTP API",
				Action: func(*cli.Context) error {
					fmt.Print(openapi.Document)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runStart(*cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pollingInterval := time.Duration(cfg.PollingIntervalSeconds) * time.Second
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.MaxThreads, pollingInterval)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()
	logger.Info("db connected")

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	var (
		publisher pubsub.Publisher
		psClient  *gcppubsub.Client
	)
	if cfg.PubSubProjectID == "" {
		// ENV=local without a project: log publishes instead of sending.
		publisher = &pubsub.LogPublisher{Logger: logger}
	} else {
		psClient, err = pubsub.NewClient(ctx, cfg.PubSubProjectID, cfg.PubSubCredentialsPath)
		if err != nil {
			return err
		}
		gp := pubsub.NewGooglePublisher(psClient)
		defer gp.Close()
		publisher = gp
	}

	repo := postgres.NewTaskRepository(pool)
	counters := &metrics.Counters{}

	reg := registry.New(repo, logger, counters)
	reg.Register(domain.TaskKindPublishPayload, func(ctx context.Context, _ *domain.Task, p *domain.Payload) error {
		_, err := publisher.Publish(ctx, p.Topic, p.Data, p.Attributes)
		return err
	})

	sched := scheduler.New(repo, reg, counters, logger, scheduler.Options{
		PollingInterval: pollingInterval,
		MaxThreads:      cfg.MaxThreads,
		LeaseTimeout:    time.Duration(cfg.LeaseTimeoutSeconds) * time.Second,
	})

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		sched.Start(ctx)
	}()

	var subscriberDone chan struct{}
	if cfg.PubSubSubscription != "" {
		if psClient == nil {
			return errors.New("PUBSUB_SUBSCRIPTION requires PUBSUB_PROJECT_ID")
		}
		sub := pubsub.NewSubscriber(psClient, cfg.PubSubSubscription, reg, logger)
		subscriberDone = make(chan struct{})
		go func() {
			defer close(subscriberDone)
			if err := sub.Receive(ctx); err != nil {
				logger.Error("subscriber", "error", err)
			}
		}()
	}

	scheduleHandler := handler.NewScheduleHandler(reg, logger)
	srv := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: httptransport.NewRouter(logger, scheduleHandler, cfg.APIUsername, cfg.APIPassword),
	}
	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("api server started", "port", cfg.APIPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server", "error", err)
		}
	}()
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	// Order: the cancelled context stops the claim loop and subscriber;
	// wait for in-flight tasks to drain, then close the outer surfaces,
	// the publisher (deferred), and finally the pool (deferred).
	<-schedulerDone
	if subscriberDone != nil {
		<-subscriberDone
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	if psClient != nil {
		_ = psClient.Close()
	}

	logger.Info("scheduler shut down")
	return nil
}

func runSchedule(c *cli.Context) error {
	raw, err := readInput(c.String("file"))
	if err != nil {
		return err
	}
	req, err := domain.ParseScheduleRequest(raw)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, 1, time.Duration(cfg.PollingIntervalSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	reg := registry.New(postgres.NewTaskRepository(pool), logger, &metrics.Counters{})
	task, err := reg.Submit(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("scheduled %s/%s for %s\n", task.Name, task.Instance, task.ExecutionTime.Format(time.RFC3339))
	return nil
}

func runParse(c *cli.Context) error {
	raw, err := readInput(c.String("file"))
	if err != nil {
		return err
	}
	req, err := domain.ParseScheduleRequest(raw)
	if err != nil {
		return err
	}
	canonical, err := req.Canonical()
	if err != nil {
		return err
	}
	fmt.Println(string(canonical))
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
