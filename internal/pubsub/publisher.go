package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/taskflare/pubsub-scheduler/internal/domain"
	"github.com/taskflare/pubsub-scheduler/internal/metrics"
)

// Publisher is the egress side of the pipeline: republish a stored
// payload to its target topic. Implementations must be safe for
// concurrent use by the worker pool.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (messageID string, err error)
}

const publishTimeout = 30 * time.Second

// NewClient dials Pub/Sub, optionally with a service-account key file.
func NewClient(ctx context.Context, projectID, credentialsPath string) (*gcppubsub.Client, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	client, err := gcppubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return client, nil
}

// GooglePublisher publishes through the Pub/Sub client, caching topic
// handles so repeated publishes to the same topic reuse one batching
// goroutine set.
type GooglePublisher struct {
	client *gcppubsub.Client

	mu     sync.Mutex
	topics map[string]*gcppubsub.Topic
}

func NewGooglePublisher(client *gcppubsub.Client) *GooglePublisher {
	return &GooglePublisher{
		client: client,
		topics: make(map[string]*gcppubsub.Topic),
	}
}

func (p *GooglePublisher) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	t, err := p.topic(topic)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	start := time.Now()
	id, err := t.Publish(ctx, &gcppubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	metrics.PublishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// topic resolves a simple topic ID within the client's project, or a
// fully-qualified projects/<p>/topics/<t> path across projects.
func (p *GooglePublisher) topic(name string) (*gcppubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.topics[name]; ok {
		return t, nil
	}

	var t *gcppubsub.Topic
	if strings.HasPrefix(name, "projects/") {
		parts := strings.Split(name, "/")
		if len(parts) != 4 || parts[2] != "topics" {
			return nil, fmt.Errorf("%w: malformed topic path %q", domain.ErrValidation, name)
		}
		t = p.client.TopicInProject(parts[3], parts[1])
	} else {
		t = p.client.Topic(name)
	}

	p.topics[name] = t
	return t, nil
}

// Close flushes pending publishes on every cached topic.
func (p *GooglePublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		t.Stop()
	}
}

// LogPublisher logs instead of publishing — used in ENV=local where no
// broker is available.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p *LogPublisher) Publish(_ context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	p.Logger.Info("publish (local dev)", "topic", topic, "bytes", len(data), "attributes", attrs)
	return "local", nil
}
