// Package stompconsumer adapts a STOMP subscription to the messagepipeline
// consumer contract, with per-frame acknowledgement for durable sessions.
package stompconsumer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-railfeed/pkg/messagepipeline"
	"github.com/illmade-knight/go-railfeed/pkg/metrics"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a subscription.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSubscribed
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateRunning:
		return "running"
	}
	return "disconnected"
}

// ConnectError reports a failed connect or subscribe. It is fatal to the session.
type ConnectError struct {
	Addr  string
	Stage string
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("stomp %s to %s failed: %v", e.Stage, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// StompConsumer implements messagepipeline.MessageConsumer over one STOMP subscription.
type StompConsumer struct {
	cfg     *StompClientConfig
	policy  FailurePolicy
	dial    Dialer
	metrics *metrics.FeedMetrics
	logger  zerolog.Logger

	client      Client
	sub         Subscription
	coordinator *AckCoordinator

	outputChan chan messagepipeline.Message
	doneChan   chan struct{}
	stopping   chan struct{}
	torndown   chan struct{}
	started    atomic.Bool
	connected  atomic.Bool
	stopOnce   sync.Once
	finishOnce sync.Once

	onState func(State)
}

// Option configures a StompConsumer.
type Option func(*StompConsumer)

// WithDialer replaces the go-stomp dialer.
func WithDialer(d Dialer) Option {
	return func(c *StompConsumer) { c.dial = d }
}

// WithMetrics records ack and broker error metrics.
func WithMetrics(m *metrics.FeedMetrics) Option {
	return func(c *StompConsumer) { c.metrics = m }
}

// WithStateListener is called on every state transition.
func WithStateListener(fn func(State)) Option {
	return func(c *StompConsumer) { c.onState = fn }
}

// NewStompConsumer creates a consumer. It does not connect until Start is called.
func NewStompConsumer(cfg *StompClientConfig, policy FailurePolicy, logger zerolog.Logger, opts ...Option) (*StompConsumer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("stomp config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SubscriptionID == "" {
		cfg.SubscriptionID = DefaultSubscriptionID
	}
	buf := cfg.BufferSize
	if buf < 0 {
		buf = 0
	}
	c := &StompConsumer{
		cfg:        cfg,
		policy:     policy,
		dial:       DialStomp,
		logger:     logger.With().Str("component", "StompConsumer").Str("destination", cfg.Destination).Logger(),
		outputChan: make(chan messagepipeline.Message, buf),
		doneChan:   make(chan struct{}),
		stopping:   make(chan struct{}),
		torndown:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Messages returns the channel frames are delivered on.
func (c *StompConsumer) Messages() <-chan messagepipeline.Message {
	return c.outputChan
}

// Done is closed once the consumer has stopped or the broker went away.
func (c *StompConsumer) Done() <-chan struct{} {
	return c.doneChan
}

// IsConnected reports whether the subscription is live.
func (c *StompConsumer) IsConnected() bool {
	return c.connected.Load()
}

// AckMode returns the session's acknowledgement mode.
func (c *StompConsumer) AckMode() AckMode {
	return c.cfg.AckMode()
}

// Start connects, subscribes and begins forwarding frames.
func (c *StompConsumer) Start(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info().Str("addr", c.cfg.Addr()).Bool("durable", c.cfg.Durable).Msg("Connecting to STOMP broker...")

	client, err := c.dial(c.cfg)
	if err != nil {
		c.setState(StateDisconnected)
		return &ConnectError{Addr: c.cfg.Addr(), Stage: "connect", Err: err}
	}
	c.setState(StateConnected)

	mode := c.cfg.AckMode()
	sub, err := client.Subscribe(c.cfg.Destination, mode, c.cfg.SubscriptionID, c.cfg.SubscribeHeaders())
	if err != nil {
		_ = client.Disconnect()
		c.setState(StateDisconnected)
		return &ConnectError{Addr: c.cfg.Addr(), Stage: "subscribe", Err: err}
	}

	c.client = client
	c.sub = sub
	c.coordinator = NewAckCoordinator(mode, c.policy, client, c.metrics, c.logger)
	c.connected.Store(true)
	c.started.Store(true)
	c.setState(StateSubscribed)
	c.logger.Info().Str("ack_mode", mode.String()).Str("subscription_id", c.cfg.SubscriptionID).Msg("Subscribed.")

	go c.receive(ctx)
	return nil
}

// Stop ends the receive loop, then unsubscribes and disconnects. It returns
// ctx.Err() if the broker does not confirm the teardown before ctx is done;
// the teardown carries on in the background.
func (c *StompConsumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stopping)
		if !c.started.Load() {
			c.finish()
			close(c.torndown)
			return
		}
		go c.teardown()
	})

	for _, wait := range []<-chan struct{}{c.doneChan, c.torndown} {
		select {
		case <-wait:
		case <-ctx.Done():
			c.logger.Warn().Err(ctx.Err()).Msg("Timed out stopping StompConsumer.")
			return ctx.Err()
		}
	}
	return nil
}

func (c *StompConsumer) teardown() {
	defer close(c.torndown)
	if err := c.sub.Unsubscribe(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to unsubscribe.")
	}
	if err := c.client.Disconnect(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to disconnect cleanly.")
	}
}

// receive owns outputChan: it is the only sender and closes it on exit.
func (c *StompConsumer) receive(ctx context.Context) {
	defer c.finish()
	frames := c.sub.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopping:
			return
		case f, ok := <-frames:
			if !ok {
				c.logger.Warn().Msg("Subscription closed by broker, disconnected.")
				return
			}
			if f.Err != nil {
				c.metrics.BrokerError()
				c.logger.Error().Err(f.Err).Msg("Broker sent an ERROR frame.")
				continue
			}
			select {
			case c.outputChan <- c.toMessage(f):
			case <-ctx.Done():
				return
			case <-c.stopping:
				return
			}
		}
	}
}

func (c *StompConsumer) finish() {
	c.finishOnce.Do(func() {
		c.connected.Store(false)
		close(c.outputChan)
		close(c.doneChan)
		c.setState(StateDisconnected)
		c.logger.Info().Msg("StompConsumer stopped.")
	})
}

func (c *StompConsumer) toMessage(f *Frame) messagepipeline.Message {
	published := brokerTimestamp(f)
	if published.IsZero() {
		published = time.Now().UTC()
	}
	coordinator := c.coordinator
	return messagepipeline.Message{
		MessageData: messagepipeline.MessageData{
			ID:          f.MessageID,
			Payload:     f.Body,
			PublishTime: published,
		},
		Attributes: map[string]string{
			messagepipeline.AttrDestination:  f.Destination,
			messagepipeline.AttrSubscription: f.SubscriptionID,
			messagepipeline.AttrAckID:        f.AckID,
		},
		Ack:  func() { coordinator.AfterProcessing(f, OutcomeSuccess) },
		Nack: func() { coordinator.AfterProcessing(f, OutcomeFailure) },
	}
}

func (c *StompConsumer) setState(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}
