package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/illmade-knight/go-railfeed/pkg/railfeed"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig names the broker and the topic exchange records are published to.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// LoadAMQPConfigFromEnv reads AMQP_URL and AMQP_EXCHANGE (default "railfeed").
func LoadAMQPConfigFromEnv() (*AMQPConfig, error) {
	cfg := &AMQPConfig{URL: os.Getenv("AMQP_URL"), Exchange: os.Getenv("AMQP_EXCHANGE")}
	if cfg.URL == "" {
		return nil, errors.New("AMQP_URL environment variable not set")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "railfeed"
	}
	return cfg, nil
}

// AMQPChannel is the part of *amqp.Channel the sink uses.
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes each record to a topic exchange with routing key
// td.<area>.<message type>.
type AMQPSink struct {
	channel  AMQPChannel
	exchange string
	closeFn  func() error
}

// NewAMQPSink publishes on an already-open channel. closeFn, when non-nil,
// runs after the channel is closed.
func NewAMQPSink(channel AMQPChannel, exchange string, closeFn func() error) *AMQPSink {
	return &AMQPSink{channel: channel, exchange: exchange, closeFn: closeFn}
}

// DialAMQP connects, opens a channel and declares the durable topic exchange.
func DialAMQP(cfg AMQPConfig) (*AMQPSink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to open channel: %w", err), conn.Close())
	}
	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err), conn.Close())
	}
	return NewAMQPSink(ch, cfg.Exchange, conn.Close), nil
}

// RoutingKey returns td.<area>.<type>, lower-cased; an empty area becomes "none".
func RoutingKey(rec railfeed.NormalizedRecord) string {
	area := rec.AreaID
	if area == "" {
		area = "none"
	}
	return strings.ToLower("td." + area + "." + rec.MessageType)
}

func (s *AMQPSink) Name() string { return NameAMQP }

func (s *AMQPSink) Deliver(ctx context.Context, recs []railfeed.NormalizedRecord) error {
	for _, rec := range recs {
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		msg := amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		}
		if err := s.channel.PublishWithContext(ctx, s.exchange, RoutingKey(rec), false, false, msg); err != nil {
			return fmt.Errorf("publish to %s: %w", s.exchange, err)
		}
	}
	return nil
}

func (s *AMQPSink) Close() error {
	err := s.channel.Close()
	if s.closeFn != nil {
		err = errors.Join(err, s.closeFn())
	}
	return err
}
