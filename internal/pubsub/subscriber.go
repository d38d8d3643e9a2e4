package pubsub

import (
	"context"
	"errors"
	"log/slog"

	gcppubsub "cloud.google.com/go/pubsub"

	"github.com/taskflare/pubsub-scheduler/internal/domain"
	"github.com/taskflare/pubsub-scheduler/internal/metrics"
	"github.com/taskflare/pubsub-scheduler/internal/registry"
)

// Subscriber consumes schedule requests from a Pub/Sub subscription and
// funnels them into the registry, the same path the HTTP API uses.
//
// Ack policy: ack on success; ack on permanent failures (malformed JSON,
// validation, duplicate instance) so a bad message cannot replay forever;
// nack on transient store failures so the broker redelivers.
type Subscriber struct {
	sub      *gcppubsub.Subscription
	registry *registry.Registry
	logger   *slog.Logger
}

func NewSubscriber(client *gcppubsub.Client, subscriptionID string, reg *registry.Registry, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		sub:      client.Subscription(subscriptionID),
		registry: reg,
		logger:   logger.With("component", "subscriber", "subscription", subscriptionID),
	}
}

// Receive blocks until ctx is cancelled.
func (s *Subscriber) Receive(ctx context.Context) error {
	s.logger.Info("subscriber started")
	err := s.sub.Receive(ctx, s.handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("subscriber shut down")
	return nil
}

func (s *Subscriber) handle(ctx context.Context, msg *gcppubsub.Message) {
	req, err := domain.ParseScheduleRequest(msg.Data)
	if err != nil {
		metrics.RequestsReceivedTotal.WithLabelValues("pubsub", "invalid").Inc()
		s.logger.Warn("dropping unparseable schedule request", "error", err)
		msg.Ack()
		return
	}

	if _, err := s.registry.Submit(ctx, req); err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateInstance):
			// Named recurring task already registered — redelivery or a
			// duplicate submission. Not an error for the sender.
			metrics.RequestsReceivedTotal.WithLabelValues("pubsub", "duplicate").Inc()
			s.logger.Info("duplicate schedule request acked", "task_name", req.TaskName)
			msg.Ack()
		case errors.Is(err, domain.ErrValidation):
			metrics.RequestsReceivedTotal.WithLabelValues("pubsub", "invalid").Inc()
			s.logger.Warn("dropping invalid schedule request", "error", err)
			msg.Ack()
		default:
			metrics.RequestsReceivedTotal.WithLabelValues("pubsub", "error").Inc()
			s.logger.Error("schedule request failed, nacking for redelivery", "error", err)
			msg.Nack()
		}
		return
	}

	metrics.RequestsReceivedTotal.WithLabelValues("pubsub", "accepted").Inc()
	msg.Ack()
}
