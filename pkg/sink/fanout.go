package sink

import (
	"context"
	"errors"

	"github.com/illmade-knight/go-railfeed/pkg/metrics"
	"github.com/illmade-knight/go-railfeed/pkg/railfeed"
	"github.com/rs/zerolog"
)

// Fanout displays records on the console and then writes them to every
// persistent sink. A failing sink neither suppresses the display nor stops the
// remaining sinks; all failures are returned joined as *StorageError values.
type Fanout struct {
	console *Console
	sinks   []PersistentSink
	metrics *metrics.FeedMetrics
	logger  zerolog.Logger
}

// NewFanout builds a Fanout; console may be nil to disable display.
func NewFanout(console *Console, m *metrics.FeedMetrics, logger zerolog.Logger, sinks ...PersistentSink) *Fanout {
	return &Fanout{
		console: console,
		sinks:   sinks,
		metrics: m,
		logger:  logger.With().Str("component", "SinkFanout").Logger(),
	}
}

// Sinks returns the persistent sinks in write order.
func (f *Fanout) Sinks() []PersistentSink {
	return f.sinks
}

// Console returns the display sink, which may be nil.
func (f *Fanout) Console() *Console {
	return f.console
}

// Deliver implements RecordSink.
func (f *Fanout) Deliver(ctx context.Context, recs []railfeed.NormalizedRecord) error {
	if len(recs) == 0 {
		return nil
	}
	if f.console != nil {
		if err := f.console.Deliver(ctx, recs); err != nil {
			f.logger.Warn().Err(err).Msg("Failed to display records.")
		}
	}

	var errs []error
	for _, s := range f.sinks {
		if err := s.Deliver(ctx, recs); err != nil {
			f.logger.Error().Err(err).Str("sink", s.Name()).Int("count", len(recs)).Msg("Failed to store records.")
			f.metrics.StorageError(s.Name())
			f.metrics.Records(s.Name(), metrics.ResultError, len(recs))
			errs = append(errs, &StorageError{Sink: s.Name(), Err: err})
			continue
		}
		f.metrics.Records(s.Name(), metrics.ResultSuccess, len(recs))
	}
	return errors.Join(errs...)
}

// Close closes every persistent sink and joins their errors.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, &StorageError{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}
