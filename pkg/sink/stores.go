package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/illmade-knight/go-railfeed/pkg/bqstore"
	"github.com/illmade-knight/go-railfeed/pkg/cache"
	"github.com/illmade-knight/go-railfeed/pkg/messagepipeline"
	"github.com/illmade-knight/go-railfeed/pkg/railfeed"
)

// Sink names used in logs and metrics.
const (
	NameSQL      = "sql"
	NameBigQuery = "bigquery"
	NamePubSub   = "pubsub"
	NameAMQP     = "amqp"
	NameBerthMap = "berthmap"
)

// --- Relational store ---

// RecordInserter is satisfied by *sqlstore.Store.
type RecordInserter interface {
	InsertRecords(ctx context.Context, recs []railfeed.NormalizedRecord) error
	Close() error
}

// SQLSink writes each frame's records in one transaction.
type SQLSink struct {
	store RecordInserter
}

func NewSQLSink(store RecordInserter) *SQLSink {
	return &SQLSink{store: store}
}

func (s *SQLSink) Name() string { return NameSQL }

func (s *SQLSink) Deliver(ctx context.Context, recs []railfeed.NormalizedRecord) error {
	return s.store.InsertRecords(ctx, recs)
}

func (s *SQLSink) Close() error { return s.store.Close() }

// --- Warehouse ---

// BigQuerySink streams records as rows.
type BigQuerySink struct {
	inserter bqstore.DataBatchInserter[railfeed.NormalizedRecord]
}

func NewBigQuerySink(inserter bqstore.DataBatchInserter[railfeed.NormalizedRecord]) *BigQuerySink {
	return &BigQuerySink{inserter: inserter}
}

func (s *BigQuerySink) Name() string { return NameBigQuery }

func (s *BigQuerySink) Deliver(ctx context.Context, recs []railfeed.NormalizedRecord) error {
	rows := make([]*railfeed.NormalizedRecord, len(recs))
	for i := range recs {
		rows[i] = &recs[i]
	}
	return s.inserter.InsertBatch(ctx, rows)
}

func (s *BigQuerySink) Close() error { return s.inserter.Close() }

// --- Republish ---

// PublisherSink republishes each record as a JSON message with area_id and
// message_type attributes.
type PublisherSink struct {
	publisher messagepipeline.Publisher
	stop      func() error
}

// NewPublisherSink wraps a publisher; stop, when non-nil, is called on Close.
func NewPublisherSink(publisher messagepipeline.Publisher, stop func() error) *PublisherSink {
	return &PublisherSink{publisher: publisher, stop: stop}
}

func (s *PublisherSink) Name() string { return NamePubSub }

func (s *PublisherSink) Deliver(ctx context.Context, recs []railfeed.NormalizedRecord) error {
	for _, rec := range recs {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		attrs := map[string]string{"area_id": rec.AreaID, "message_type": rec.MessageType}
		if err := s.publisher.Publish(ctx, payload, attrs); err != nil {
			return err
		}
	}
	return nil
}

func (s *PublisherSink) Close() error {
	if s.stop == nil {
		return nil
	}
	return s.stop()
}

// --- Berth map ---

// BerthMapSink keeps the last train description seen in each berth.
type BerthMapSink struct {
	cache cache.PresenceCache[string, railfeed.BerthState]
}

func NewBerthMapSink(c cache.PresenceCache[string, railfeed.BerthState]) *BerthMapSink {
	return &BerthMapSink{cache: c}
}

func (s *BerthMapSink) Name() string { return NameBerthMap }

// Deliver applies changes in record order so a later step wins.
func (s *BerthMapSink) Deliver(ctx context.Context, recs []railfeed.NormalizedRecord) error {
	var errs []error
	for _, rec := range recs {
		for _, change := range railfeed.BerthChanges(rec) {
			var err error
			if change.Clear {
				err = s.cache.Delete(ctx, change.Key)
			} else {
				err = s.cache.Set(ctx, change.Key, change.State)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", change.Key, err))
			}
		}
	}
	return errors.Join(errs...)
}

// BerthRoute is the ServeMux pattern BerthMapSink answers on.
const BerthRoute = "GET /berths/{area}/{berth}"

// Lookup returns the state of one berth. The error wraps cache.ErrNotFound
// when the berth is empty.
func (s *BerthMapSink) Lookup(ctx context.Context, areaID, berth string) (railfeed.BerthState, error) {
	return s.cache.Fetch(ctx, railfeed.BerthKey(strings.ToUpper(areaID), berth))
}

// ServeHTTP answers BerthRoute with the berth's state as JSON, or 404 when
// the berth is empty.
func (s *BerthMapSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	state, err := s.Lookup(r.Context(), r.PathValue("area"), r.PathValue("berth"))
	switch {
	case errors.Is(err, cache.ErrNotFound):
		http.Error(w, "berth is empty", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(state)
}

func (s *BerthMapSink) Close() error { return s.cache.Close() }
