package icestore

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DataUploader writes a batch of archived frames to durable storage.
type DataUploader interface {
	UploadBatch(ctx context.Context, items []*ArchivalData) error
	Close() error
}

// BatcherConfig holds configuration for the Batcher.
type BatcherConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	// QueueSize bounds the number of frames waiting for the worker; Archive
	// drops frames once it is full.
	QueueSize int `yaml:"queue_size"`
}

// NewBatcherConfigDefaults returns batches of 500 frames flushed at least
// once a minute.
func NewBatcherConfigDefaults() *BatcherConfig {
	return &BatcherConfig{
		BatchSize:     500,
		FlushInterval: time.Minute,
		UploadTimeout: 30 * time.Second,
		QueueSize:     1000,
	}
}

// ApplyEnv overrides fields from ARCHIVE_BATCH_SIZE and
// ARCHIVE_FLUSH_INTERVAL_SECONDS when set.
func (c *BatcherConfig) ApplyEnv() {
	if v, err := strconv.Atoi(os.Getenv("ARCHIVE_BATCH_SIZE")); err == nil && v > 0 {
		c.BatchSize = v
	}
	if v, err := strconv.Atoi(os.Getenv("ARCHIVE_FLUSH_INTERVAL_SECONDS")); err == nil && v > 0 {
		c.FlushInterval = time.Duration(v) * time.Second
	}
}

// Batcher groups archived frames by batch key and hands full groups, or all
// groups on each flush interval, to the uploader. Archiving is best effort:
// frames are dropped when the queue is full and failed uploads are logged, not
// retried.
type Batcher struct {
	config    BatcherConfig
	uploader  DataUploader
	logger    zerolog.Logger
	inputChan chan *ArchivalData
	wg        sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	dropped int
}

// NewBatcher creates a Batcher, filling zero config fields with defaults.
func NewBatcher(config BatcherConfig, uploader DataUploader, logger zerolog.Logger) (*Batcher, error) {
	if uploader == nil {
		return nil, errors.New("uploader cannot be nil")
	}
	defaults := NewBatcherConfigDefaults()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.UploadTimeout <= 0 {
		config.UploadTimeout = defaults.UploadTimeout
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	return &Batcher{
		config:    config,
		uploader:  uploader,
		logger:    logger.With().Str("component", "ArchiveBatcher").Logger(),
		inputChan: make(chan *ArchivalData, config.QueueSize),
	}, nil
}

// Start begins the batching worker. Cancelling ctx flushes what is pending and
// ends the worker.
func (b *Batcher) Start(ctx context.Context) {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_interval", b.config.FlushInterval).
		Msg("Starting archive batcher.")
	b.wg.Add(1)
	go b.worker(ctx)
}

// Archive queues a frame without blocking. It reports false when the frame was
// dropped because the batcher is stopped or its queue is full.
func (b *Batcher) Archive(data *ArchivalData) bool {
	if data == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}
	select {
	case b.inputChan <- data:
		return true
	default:
		b.dropped++
		b.logger.Warn().Str("msg_id", data.ID).Int("dropped_total", b.dropped).Msg("Archive queue full, dropping frame.")
		return false
	}
}

// Dropped returns how many frames were dropped because the queue was full.
func (b *Batcher) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Stop closes the input, waits for the final flush and closes the uploader,
// bounded by ctx.
func (b *Batcher) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	close(b.inputChan)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		if err := b.uploader.Close(); err != nil {
			b.logger.Error().Err(err).Msg("Error closing archive uploader.")
		}
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info().Msg("Archive batcher stopped.")
		return nil
	case <-ctx.Done():
		b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for archive batcher to stop.")
		return ctx.Err()
	}
}

func (b *Batcher) worker(ctx context.Context) {
	defer b.wg.Done()
	batches := make(map[string][]*ArchivalData)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	flushAll := func() {
		for key, batch := range batches {
			b.flush(batch)
			delete(batches, key)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flushAll()
			return
		case data, ok := <-b.inputChan:
			if !ok {
				flushAll()
				return
			}
			key := data.GetBatchKey()
			batches[key] = append(batches[key], data)
			if len(batches[key]) >= b.config.BatchSize {
				b.flush(batches[key])
				delete(batches, key)
			}
		case <-ticker.C:
			flushAll()
		}
	}
}

// flush uploads with its own timeout so a final flush still runs after the
// worker's context is cancelled.
func (b *Batcher) flush(batch []*ArchivalData) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.config.UploadTimeout)
	defer cancel()

	if err := b.uploader.UploadBatch(ctx, batch); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Str("batch_key", batch[0].GetBatchKey()).Msg("Failed to upload archive batch.")
		return
	}
	b.logger.Debug().Int("batch_size", len(batch)).Str("batch_key", batch[0].GetBatchKey()).Msg("Uploaded archive batch.")
}
