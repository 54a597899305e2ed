package main

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-railfeed/pkg/bqstore"
	"github.com/illmade-knight/go-railfeed/pkg/cache"
	"github.com/illmade-knight/go-railfeed/pkg/feedconfig"
	"github.com/illmade-knight/go-railfeed/pkg/feedsession"
	"github.com/illmade-knight/go-railfeed/pkg/icestore"
	"github.com/illmade-knight/go-railfeed/pkg/messagepipeline"
	"github.com/illmade-knight/go-railfeed/pkg/railfeed"
	"github.com/illmade-knight/go-railfeed/pkg/sink"
	"github.com/illmade-knight/go-railfeed/pkg/sqlstore"
	"github.com/rs/zerolog"
)

// buildSinks opens every configured persistent sink. The returned closers
// release the underlying clients and must run even when err is non-nil.
func buildSinks(ctx context.Context, cfg *feedconfig.Config, logger zerolog.Logger) ([]sink.PersistentSink, []func() error, error) {
	var (
		sinks   []sink.PersistentSink
		closers []func() error
	)
	// Sinks opened before a later failure are closed through closers.
	fail := func(err error) ([]sink.PersistentSink, []func() error, error) {
		for _, s := range sinks {
			closers = append(closers, s.Close)
		}
		return nil, closers, err
	}

	if sc := cfg.Sinks.SQL; sc != nil {
		store, err := sqlstore.Open(ctx, *sc, logger)
		if err != nil {
			return fail(err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			closers = append(closers, store.Close)
			return fail(err)
		}
		sinks = append(sinks, sink.NewSQLSink(store))
	}

	if bc := cfg.Sinks.BigQuery; bc != nil {
		client, err := bqstore.NewProductionBigQueryClient(ctx, bc.ProjectID, bc.CredentialsFile, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, client.Close)
		inserter, err := bqstore.NewBigQueryInserter[railfeed.NormalizedRecord](ctx, client, bc, logger)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, sink.NewBigQuerySink(inserter))
	}

	if pc := cfg.Sinks.PubSub; pc != nil {
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fail(fmt.Errorf("pubsub.NewClient: %w", err))
		}
		closers = append(closers, client.Close)
		pubCfg := messagepipeline.NewGooglePublisherDefaults(pc.TopicID)
		if pc.PublishTimeout > 0 {
			pubCfg.PublishTimeout = pc.PublishTimeout
		}
		publisher, err := messagepipeline.NewGooglePublisher(ctx, pubCfg, client, logger)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, sink.NewPublisherSink(publisher, func() error {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return publisher.Stop(stopCtx)
		}))
	}

	if ac := cfg.Sinks.AMQP; ac != nil {
		amqpSink, err := sink.DialAMQP(*ac)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, amqpSink)
	}

	if bm := cfg.Sinks.BerthMap; bm != nil {
		berths, closeClient, err := buildBerthMap(ctx, cfg, bm, logger)
		if closeClient != nil {
			closers = append(closers, closeClient)
		}
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, sink.NewBerthMapSink(berths))
	}

	return sinks, closers, nil
}

func buildBerthMap(
	ctx context.Context,
	cfg *feedconfig.Config,
	bm *feedconfig.BerthMapConfig,
	logger zerolog.Logger,
) (cache.PresenceCache[string, railfeed.BerthState], func() error, error) {
	switch bm.Backend {
	case feedconfig.BerthMapRedis:
		c, err := cache.NewRedisPresenceCache[string, railfeed.BerthState](ctx, bm.Redis, logger)
		return c, nil, err
	case feedconfig.BerthMapFirestore:
		client, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore.NewClient: %w", err)
		}
		c, err := cache.NewFirestorePresenceCache[string, railfeed.BerthState](client, bm.Collection)
		return c, client.Close, err
	default:
		return cache.NewInMemoryPresenceCache[string, railfeed.BerthState](), nil, nil
	}
}

// buildArchive starts one batcher per configured archive target: Cloud Storage
// and/or a relational frame table. The returned stop flushes and releases
// them; it is safe to call when nothing was started.
func buildArchive(ctx context.Context, cfg *feedconfig.Config, logger zerolog.Logger) ([]feedsession.Archiver, func(), error) {
	var (
		archivers []feedsession.Archiver
		stops     []func()
	)
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}
	if cfg.Archive == nil {
		return nil, stopAll, nil
	}

	if cfg.Archive.ToGCS() {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("storage.NewClient: %w", err)
		}
		uploader, err := icestore.NewGCSBatchUploader(icestore.NewGCSClientAdapter(client), cfg.Archive.Upload, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		batcher, stop, err := startArchiveBatcher(ctx, cfg.Archive.Batcher, uploader, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		archivers = append(archivers, batcher)
		stops = append(stops, func() {
			stop()
			if err := client.Close(); err != nil {
				logger.Warn().Err(err).Msg("Error closing storage client.")
			}
		})
	}

	if sc := cfg.Archive.SQL; sc != nil {
		frames, err := sqlstore.OpenFrameStore(ctx, *sc, logger)
		if err != nil {
			stopAll()
			return nil, nil, err
		}
		if err := frames.EnsureSchema(ctx); err != nil {
			_ = frames.Close()
			stopAll()
			return nil, nil, err
		}
		// The batcher closes the frame store when it stops.
		batcher, stop, err := startArchiveBatcher(ctx, cfg.Archive.Batcher, frames, logger)
		if err != nil {
			_ = frames.Close()
			stopAll()
			return nil, nil, err
		}
		archivers = append(archivers, batcher)
		stops = append(stops, stop)
	}
	return archivers, stopAll, nil
}

func startArchiveBatcher(ctx context.Context, cfg icestore.BatcherConfig, uploader icestore.DataUploader, logger zerolog.Logger) (*icestore.Batcher, func(), error) {
	batcher, err := icestore.NewBatcher(cfg, uploader, logger)
	if err != nil {
		return nil, nil, err
	}
	// The batcher outlives ctx so the final flush happens in stop.
	batcher.Start(context.WithoutCancel(ctx))
	stop := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := batcher.Stop(stopCtx); err != nil {
			logger.Warn().Err(err).Msg("Archive batcher did not stop cleanly.")
		}
	}
	return batcher, stop, nil
}
