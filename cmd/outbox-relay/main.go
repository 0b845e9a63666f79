package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/provider-availability/internal/config"
	"github.com/hackgods/provider-availability/internal/db"
	"github.com/hackgods/provider-availability/internal/logging"
	"github.com/hackgods/provider-availability/internal/outbox"
	"github.com/hackgods/provider-availability/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, "outbox-relay")

	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Strs("brokers", cfg.KafkaBrokers).
		Msg("outbox-relay starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "provider-availability-outbox-relay",
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("telemetry setup error")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	publisher := outbox.NewPublisher(outbox.NewRepository(pgPool), logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: cfg.WorkerInterval,
		BatchSize: cfg.OutboxBatchSize,
	})
	if publisher == nil {
		logger.Fatal().Msg("KAFKA_BROKERS is required")
	}
	defer publisher.Close()

	// Run once at startup
	runOnce(rootCtx, publisher, logger, cfg.OutboxBatchSize)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping outbox relay")
			return
		case <-ticker.C:
			runOnce(rootCtx, publisher, logger, cfg.OutboxBatchSize)
		}
	}
}

// runOnce drains the outbox until a batch comes back short.
func runOnce(ctx context.Context, p *outbox.Publisher, logger zerolog.Logger, batchSize int) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	total := 0
	for {
		n, err := p.PublishBatch(runCtx)
		total += n
		if err != nil {
			logger.Error().Err(err).Int("published", total).Msg("outbox relay run error")
			return
		}
		if n == 0 || n < batchSize {
			break
		}
	}
	if total > 0 {
		logger.Info().Int("published", total).Dur("took", time.Since(start)).Msg("outbox relay run complete")
	}
}
