package messagepipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// Publisher sends a payload downstream and reports whether the broker accepted it.
type Publisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes any pending messages, bounded by ctx.
	Stop(ctx context.Context) error
}

// GooglePublisherConfig configures a GooglePublisher.
type GooglePublisherConfig struct {
	TopicID string
	// PublishTimeout bounds the wait for the server to confirm one message.
	PublishTimeout time.Duration
}

// NewGooglePublisherDefaults returns a config with a sensible timeout.
func NewGooglePublisherDefaults(topicID string) GooglePublisherConfig {
	return GooglePublisherConfig{
		TopicID:        topicID,
		PublishTimeout: 10 * time.Second,
	}
}

// LoadGooglePublisherConfigFromEnv reads RECORDS_TOPIC_ID.
func LoadGooglePublisherConfigFromEnv() GooglePublisherConfig {
	return NewGooglePublisherDefaults(os.Getenv("RECORDS_TOPIC_ID"))
}

// GooglePublisher publishes to a Pub/Sub topic and waits for the server
// acknowledgement, so a failed publish surfaces to the caller before the
// originating frame is acknowledged.
type GooglePublisher struct {
	topic   *pubsub.Topic
	timeout time.Duration
	logger  zerolog.Logger
}

// NewGooglePublisher verifies the topic exists before returning.
func NewGooglePublisher(ctx context.Context, cfg GooglePublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*GooglePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if cfg.TopicID == "" {
		return nil, fmt.Errorf("topic id cannot be empty")
	}
	topic := client.Topic(cfg.TopicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}

	return &GooglePublisher{
		topic:   topic,
		timeout: cfg.PublishTimeout,
		logger:  logger.With().Str("component", "GooglePublisher").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Publish sends a single message and blocks until the server confirms it.
func (p *GooglePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	getCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	msgID, err := result.Get(getCtx)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic.ID(), err)
	}
	p.logger.Debug().Str("published_msg_id", msgID).Msg("Message published.")
	return nil
}

// Stop flushes pending messages, respecting the context's deadline.
func (p *GooglePublisher) Stop(ctx context.Context) error {
	if p.topic == nil {
		return nil
	}

	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
