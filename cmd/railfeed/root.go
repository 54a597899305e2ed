package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-railfeed/pkg/feedconfig"
	"github.com/illmade-knight/go-railfeed/pkg/feedsession"
	"github.com/illmade-knight/go-railfeed/pkg/metrics"
	"github.com/illmade-knight/go-railfeed/pkg/microservice"
	"github.com/illmade-knight/go-railfeed/pkg/sink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configFile    string
	durable       bool
	feed          string
	area          string
	logLevel      string
	failurePolicy string
	httpPort      string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "railfeed",
		Short: "Listen to the TD or TRUST rail data feed.",
		Long: `railfeed subscribes to the Network Rail open data STOMP feed and prints
each TD berth event (filtered by named area) or TRUST train movement.

With --durable the subscription survives restarts and every frame is
acknowledged individually once it has been displayed and stored.`,
		Example: `  railfeed --area wessex
  railfeed -d --feed td --config railfeed.yaml
  railfeed --feed trust --log-level debug`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)
			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error().Err(err).Msg("railfeed exiting.")
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.configFile, "config", "c", "", "Path to a YAML configuration file")
	f.BoolVarP(&flags.durable, "durable", "d", false, "Use a durable subscription with per-frame acknowledgement")
	f.StringVar(&flags.feed, "feed", feedconfig.FeedTD, "Feed to subscribe to: td or trust")
	f.StringVar(&flags.area, "area", "all", "Named area to display (TD only)")
	f.StringVar(&flags.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	f.StringVar(&flags.failurePolicy, "failure-policy", "ack", "Durable sessions: ack or redeliver a frame whose storage failed")
	f.StringVar(&flags.httpPort, "http-port", "", "Listen address for /healthz and /metrics; \"off\" disables")
	return cmd
}

// loadConfig reads the config file and applies flags the user set explicitly.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (*feedconfig.Config, error) {
	cfg := feedconfig.Default()
	if flags.configFile != "" || os.Getenv("RAILFEED_CONFIG") != "" {
		path := flags.configFile
		if path == "" {
			path = os.Getenv("RAILFEED_CONFIG")
		}
		loaded, err := feedconfig.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg.ApplyEnv()
	}

	changed := cmd.Flags().Changed
	if changed("durable") {
		cfg.Stomp.Durable = flags.durable
	}
	if changed("feed") {
		cfg.Feed = flags.feed
	}
	if changed("area") {
		cfg.Area = flags.area
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("failure-policy") {
		cfg.FailurePolicy = flags.failurePolicy
	}
	if changed("http-port") {
		cfg.HTTPPort = flags.httpPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

// run wires the session and blocks until it ends. Interrupts stop it cleanly.
func run(parent context.Context, cfg *feedconfig.Config, logger zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	username, password, err := feedconfig.LoadCredentials(cfg.SecretsFile)
	if err != nil {
		return err
	}

	selection, known := cfg.AreaFilter().Resolve(cfg.Area)
	if !known {
		logger.Warn().Str("area", cfg.Area).Strs("known_areas", cfg.AreaFilter().Names()).Msg("Unknown area, showing all areas.")
	}

	registry := prometheus.NewRegistry()
	feedMetrics := metrics.New(registry)

	persistent, closers, err := buildSinks(ctx, cfg, logger)
	defer runClosers(closers, logger)
	if err != nil {
		return err
	}
	console := sink.NewConsole(os.Stdout)
	fanout := sink.NewFanout(console, feedMetrics, logger, persistent...)
	defer func() {
		if err := fanout.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing sinks.")
		}
	}()

	opts := []feedsession.Option{feedsession.WithMetrics(feedMetrics)}
	archivers, stopArchive, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopArchive()
	for _, a := range archivers {
		opts = append(opts, feedsession.WithArchiver(a))
	}

	session, err := feedsession.NewSession(feedsession.Config{
		Stomp:           cfg.StompConfig(username, password),
		Policy:          cfg.Policy(),
		Selection:       selection,
		DuplicateWindow: cfg.DuplicateWindow,
	}, fanout, console, logger, opts...)
	if err != nil {
		return err
	}

	if cfg.HTTPPort != "" && cfg.HTTPPort != "off" {
		server := microservice.NewBaseServer(logger, cfg.HTTPPort, session.Healthy, registry)
		for _, p := range persistent {
			if berths, ok := p.(*sink.BerthMapSink); ok {
				server.Mux().Handle(sink.BerthRoute, berths)
			}
		}
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().
		Str("feed", cfg.Feed).
		Str("area", selection.Name()).
		Strs("area_ids", selection.IDs()).
		Bool("durable", cfg.Stomp.Durable).
		Int("sinks", len(persistent)).
		Msg("Starting feed session.")

	err = session.Run(ctx)
	if errors.Is(err, feedsession.ErrBrokerDisconnected) {
		return fmt.Errorf("feed ended: %w", err)
	}
	return err
}

func runClosers(closers []func() error, logger zerolog.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Warn().Err(err).Msg("Error releasing client.")
		}
	}
}
