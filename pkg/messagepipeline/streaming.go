package messagepipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// StreamingService consumes messages, transforms them one at a time and hands
// each to a processor, acknowledging as soon as the processor returns.
//
// With NumWorkers == 1 (the default) frames are handled strictly in delivery
// order and the next frame is not read until the current one has been acked.
type StreamingService[T any] struct {
	numWorkers  int
	consumer    MessageConsumer
	transformer MessageTransformer[T]
	processor   StreamProcessor[T]
	logger      zerolog.Logger
	wg          sync.WaitGroup
	done        chan struct{}
}

// StreamingServiceConfig holds configuration for a StreamingService.
type StreamingServiceConfig struct {
	NumWorkers int
}

// NewStreamingService creates a new StreamingService.
func NewStreamingService[T any](
	cfg StreamingServiceConfig,
	consumer MessageConsumer,
	transformer MessageTransformer[T],
	processor StreamProcessor[T],
	logger zerolog.Logger,
) (*StreamingService[T], error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if transformer == nil {
		return nil, fmt.Errorf("transformer cannot be nil")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}

	return &StreamingService[T]{
		numWorkers:  cfg.NumWorkers,
		consumer:    consumer,
		transformer: transformer,
		processor:   processor,
		logger:      logger.With().Str("component", "StreamingService").Logger(),
		done:        make(chan struct{}),
	}, nil
}

// Start starts the consumer and then the worker pool.
func (s *StreamingService[T]) Start(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Starting processing workers.")
	s.wg.Add(s.numWorkers)
	for i := 0; i < s.numWorkers; i++ {
		go s.worker(ctx, i)
	}
	go func() {
		s.wg.Wait()
		close(s.done)
	}()
	return nil
}

// Done is closed once every worker has exited, either because the consumer
// channel closed or because the start context was cancelled.
func (s *StreamingService[T]) Done() <-chan struct{} {
	return s.done
}

// Stop stops the consumer first, then waits for in-flight messages.
func (s *StreamingService[T]) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping streaming service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	select {
	case <-s.done:
		s.logger.Info().Msg("Streaming service stopped.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for processing workers to finish.")
		return ctx.Err()
	}
}

func (s *StreamingService[T]) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Int("worker_id", workerID).Msg("Worker stopping, context cancelled.")
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.handle(ctx, msg)
		}
	}
}

// handle runs the transform/process pair for one message and settles it.
func (s *StreamingService[T]) handle(ctx context.Context, msg Message) {
	log := s.logger.With().Str("msg_id", msg.ID).Str("destination", msg.Destination()).Logger()

	payload, skip, err := s.transformer(ctx, &msg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to transform message, Nacking.")
		settle(msg.Nack)
		return
	}
	if skip {
		log.Debug().Msg("Transformer skipped message, Acking.")
		settle(msg.Ack)
		return
	}

	if err := s.processor(ctx, msg, payload); err != nil {
		log.Error().Err(err).Msg("Processor failed to handle message, Nacking.")
		settle(msg.Nack)
		return
	}
	settle(msg.Ack)
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
