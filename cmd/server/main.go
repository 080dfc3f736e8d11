package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"gps-relay/internal/config"
	"gps-relay/internal/dispatcher"
	"gps-relay/internal/link"
	"gps-relay/internal/observability"
	"gps-relay/internal/pipeline"
	"gps-relay/internal/server"
	"gps-relay/internal/store"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "optional YAML config file; environment variables override it")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("gps-relay stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("gps-relay stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("port", cfg.TCPPort).
		Str("store", cfg.Store.Driver).
		Bool("acks", cfg.Relay.AckEnabled).
		Msg("Starting gps-relay...")

	health := observability.NewHealth()

	db, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("store init failed: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
	}()

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if cfg.Relay.GeoProjection {
		opts = append(opts, pipeline.WithGeo(db.Geo()))
	}

	if cfg.Redis.Addr != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
		defer rdb.Close()
		opts = append(opts, pipeline.WithCache(store.NewPositionCache(rdb, cfg.Redis.PositionTTL)))
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("position cache enabled")
	}

	if cfg.NATS.URL != "" {
		nc, err := link.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		opts = append(opts, pipeline.WithPublisher(link.NewPublisher(nc, cfg.NATS.SubjectPrefix, logger)))
	}

	ingest, err := pipeline.New(db.Fixes(), opts...)
	if err != nil {
		return err
	}

	mailbox := dispatcher.NewMailbox(logger)
	tcp := server.New(cfg.Relay, mailbox, ingest, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tcp.ListenAndServe(gctx, ":"+cfg.TCPPort)
	})
	g.Go(func() error {
		return observability.StartMetricsServer(gctx, cfg.MetricsPort)
	})
	g.Go(func() error {
		return health.ListenAndServe(gctx, cfg.HealthPort)
	})

	if err := db.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("store ping failed, health stays NOT_SERVING")
	} else {
		health.SetServing(true)
	}
	return g.Wait()
}
