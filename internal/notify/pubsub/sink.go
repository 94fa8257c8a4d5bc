// Package pubsub publishes net-new events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"google.golang.org/api/option"

	"github.com/JakeFAU/signal-scanner/internal/notify"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// Config names the destination topic.
type Config struct {
	ProjectID string
	Topic     string
}

// Sink wraps a Pub/Sub publisher.
type Sink struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
}

// New dials Pub/Sub and returns a Sink publishing to cfg.Topic.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Sink, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Sink{client: client, publisher: client.Publisher(cfg.Topic)}, nil
}

// Notify marshals the event to JSON and waits for the publish to be acknowledged.
func (s *Sink) Notify(ctx context.Context, c signals.Candidate) error {
	if s.publisher == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(notify.NewEvent(c))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":         string(c.Type),
			"company":      c.Company,
			"source":       string(c.Source),
			"dedup_digest": c.Key().Digest(),
		},
	}
	if _, err := s.publisher.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (s *Sink) Close() error {
	if s.publisher != nil {
		s.publisher.Stop()
	}
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
