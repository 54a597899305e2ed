// Package feedsession runs one feed subscription end to end: connect and
// subscribe, then classify, decode, filter and deliver every frame in order,
// acknowledging each before the next is read.
package feedsession

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-railfeed/pkg/cache"
	"github.com/illmade-knight/go-railfeed/pkg/icestore"
	"github.com/illmade-knight/go-railfeed/pkg/messagepipeline"
	"github.com/illmade-knight/go-railfeed/pkg/metrics"
	"github.com/illmade-knight/go-railfeed/pkg/railfeed"
	"github.com/illmade-knight/go-railfeed/pkg/sink"
	"github.com/illmade-knight/go-railfeed/pkg/stompconsumer"
	"github.com/rs/zerolog"
)

// ErrBrokerDisconnected is returned by Run when the broker ends the
// subscription. The session does not reconnect.
var ErrBrokerDisconnected = errors.New("broker disconnected")

const defaultStopTimeout = 10 * time.Second

// Config is fixed for the lifetime of a session.
type Config struct {
	Stomp     *stompconsumer.StompClientConfig
	Policy    stompconsumer.FailurePolicy
	Selection railfeed.AreaSelection
	// DuplicateWindow is how many recent message ids are remembered; 0 disables
	// the duplicate guard.
	DuplicateWindow int
	StopTimeout     time.Duration
}

// LinePrinter displays preformatted lines.
type LinePrinter interface {
	PrintLines(lines []string) error
}

// Archiver receives a copy of every frame. It must not block.
type Archiver interface {
	Archive(data *icestore.ArchivalData) bool
}

// Batch is what one frame decodes to: TD records or TRUST display lines.
type Batch struct {
	Category railfeed.Category
	Records  []railfeed.NormalizedRecord
	Lines    []string
}

// Session owns one subscription.
type Session struct {
	cfg      Config
	records  sink.RecordSink
	printer   LinePrinter
	archivers []Archiver
	dialer    stompconsumer.Dialer
	metrics   *metrics.FeedMetrics
	logger    zerolog.Logger
	now       func() time.Time

	td    *railfeed.TdProcessor
	trust *railfeed.TrustProcessor
	seen  *cache.SeenSet[string]
	state atomic.Int32
}

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the broker dialer.
func WithDialer(d stompconsumer.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithMetrics records session metrics.
func WithMetrics(m *metrics.FeedMetrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithArchiver copies every received frame to a. It may be given more than once.
func WithArchiver(a Archiver) Option {
	return func(s *Session) {
		if a != nil {
			s.archivers = append(s.archivers, a)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession validates cfg. records receives TD records and printer TRUST lines.
func NewSession(cfg Config, records sink.RecordSink, printer LinePrinter, logger zerolog.Logger, opts ...Option) (*Session, error) {
	if cfg.Stomp == nil {
		return nil, errors.New("stomp config cannot be nil")
	}
	if err := cfg.Stomp.Validate(); err != nil {
		return nil, err
	}
	if records == nil {
		return nil, errors.New("record sink cannot be nil")
	}
	if printer == nil {
		return nil, errors.New("line printer cannot be nil")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	s := &Session{
		cfg:     cfg,
		records: records,
		printer: printer,
		logger: logger.With().
			Str("component", "FeedSession").
			Str("destination", cfg.Stomp.Destination).
			Str("area", cfg.Selection.Name()).
			Logger(),
		now:   time.Now,
		td:    railfeed.NewTdProcessor(cfg.Selection),
		trust: railfeed.NewTrustProcessor(),
	}
	if cfg.DuplicateWindow > 0 {
		seen, err := cache.NewSeenSet[string](cfg.DuplicateWindow)
		if err != nil {
			return nil, err
		}
		s.seen = seen
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() stompconsumer.State {
	return stompconsumer.State(s.state.Load())
}

// Healthy returns nil while the session is running.
func (s *Session) Healthy() error {
	if st := s.State(); st != stompconsumer.StateRunning {
		return fmt.Errorf("feed session %s", st)
	}
	return nil
}

func (s *Session) setState(st stompconsumer.State) {
	s.state.Store(int32(st))
	s.metrics.State(int(st))
	s.logger.Debug().Str("state", st.String()).Msg("Session state changed.")
}

// Run connects, subscribes and processes frames until ctx is cancelled (nil)
// or the broker goes away (ErrBrokerDisconnected). A failed connect or
// subscribe returns an error wrapping *stompconsumer.ConnectError.
func (s *Session) Run(ctx context.Context) error {
	consumerOpts := []stompconsumer.Option{
		stompconsumer.WithMetrics(s.metrics),
		stompconsumer.WithStateListener(s.setState),
	}
	if s.dialer != nil {
		consumerOpts = append(consumerOpts, stompconsumer.WithDialer(s.dialer))
	}
	consumer, err := stompconsumer.NewStompConsumer(s.cfg.Stomp, s.cfg.Policy, s.logger, consumerOpts...)
	if err != nil {
		return err
	}

	service, err := messagepipeline.NewStreamingService[Batch](
		messagepipeline.StreamingServiceConfig{NumWorkers: 1},
		consumer,
		messagepipeline.WithPayloadValidation(s.transform, 0, s.cfg.Stomp.MaxFrameBytes, s.logger),
		s.process,
		s.logger,
	)
	if err != nil {
		return err
	}
	if err := service.Start(ctx); err != nil {
		return err
	}
	if s.state.CompareAndSwap(int32(stompconsumer.StateSubscribed), int32(stompconsumer.StateRunning)) {
		s.metrics.State(int(stompconsumer.StateRunning))
	}
	s.logger.Info().Str("ack_mode", consumer.AckMode().String()).Msg("Feed session running.")

	select {
	case <-ctx.Done():
	case <-consumer.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
	defer cancel()
	if err := service.Stop(stopCtx); err != nil {
		s.logger.Warn().Err(err).Msg("Streaming service did not stop cleanly.")
	}
	s.setState(stompconsumer.StateDisconnected)

	if ctx.Err() != nil {
		s.logger.Info().Msg("Feed session stopped.")
		return nil
	}
	s.logger.Error().Msg("Broker disconnected, ending session.")
	return ErrBrokerDisconnected
}

// transform classifies and decodes one frame. Frames that cannot produce a
// batch (unknown destination, malformed body, duplicate) are skipped, which
// acknowledges them.
func (s *Session) transform(_ context.Context, msg *messagepipeline.Message) (*Batch, bool, error) {
	category := railfeed.Classify(msg.Destination())
	s.metrics.Frame(category.String())
	log := s.logger.With().Str("msg_id", msg.ID).Str("category", category.String()).Logger()

	if len(s.archivers) > 0 {
		data := icestore.NewArchivalData(msg, s.now())
		for _, a := range s.archivers {
			a.Archive(data)
		}
	}

	if s.seen != nil && msg.ID != "" && s.seen.Seen(msg.ID) {
		s.metrics.Duplicate()
		log.Info().Msg("Duplicate frame, skipping.")
		return nil, true, nil
	}

	switch category {
	case railfeed.CategoryTD:
		events, err := railfeed.DecodeTD(msg.Payload)
		if err != nil {
			s.metrics.Malformed(category.String())
			log.Warn().Err(err).Int("payload_size", len(msg.Payload)).Msg("Malformed TD payload, skipping.")
			return nil, true, nil
		}
		return &Batch{Category: category, Records: s.td.Process(events)}, false, nil

	case railfeed.CategoryTrust:
		events, err := railfeed.DecodeTrust(msg.Payload)
		if err != nil {
			s.metrics.Malformed(category.String())
			log.Warn().Err(err).Int("payload_size", len(msg.Payload)).Msg("Malformed TRUST payload, skipping.")
			return nil, true, nil
		}
		return &Batch{Category: category, Lines: s.trust.Process(events)}, false, nil
	}

	log.Warn().Str("destination", msg.Destination()).Msg("Frame from unknown destination, skipping.")
	return nil, true, nil
}

// process delivers a batch. An error Nacks the frame, which the ack
// coordinator turns into an ACK or NACK according to the failure policy.
func (s *Session) process(ctx context.Context, msg messagepipeline.Message, b *Batch) error {
	start := s.now()
	defer func() { s.metrics.ObserveProcessing(s.now().Sub(start).Seconds()) }()

	var err error
	switch b.Category {
	case railfeed.CategoryTD:
		if len(b.Records) > 0 {
			err = s.records.Deliver(ctx, b.Records)
		}
	case railfeed.CategoryTrust:
		err = s.printer.PrintLines(b.Lines)
	}
	if err != nil && s.seen != nil {
		// A redelivery of this frame must not be treated as a duplicate.
		s.seen.Forget(msg.ID)
	}
	return err
}
