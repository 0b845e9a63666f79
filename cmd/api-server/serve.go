package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/provider-availability/internal/api"
	"github.com/hackgods/provider-availability/internal/availability"
	"github.com/hackgods/provider-availability/internal/config"
	"github.com/hackgods/provider-availability/internal/outbox"
	redisclient "github.com/hackgods/provider-availability/internal/redis"
	"github.com/hackgods/provider-availability/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var (
		port      string
		withRelay bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.HTTPPort = port
			}
			rootCtx := cmd.Context()

			logger.Info().
				Str("env", cfg.Env).
				Str("http_port", cfg.HTTPPort).
				Str("store", cfg.StoreDriver).
				Msg("api-server starting up")

			shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
				Enabled:      cfg.OTelEnabled,
				ServiceName:  "provider-availability-api",
				OTLPEndpoint: cfg.OTelEndpoint,
				SampleRatio:  cfg.OTelSampleRatio,
			})
			if err != nil {
				return fmt.Errorf("telemetry setup: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(ctx); err != nil {
					logger.Error().Err(err).Msg("telemetry shutdown")
				}
			}()

			var (
				pgPool *pgxpool.Pool
				repo   availability.Repository
			)
			switch cfg.StoreDriver {
			case config.StoreMemory:
				logger.Warn().Msg("using in-memory store, data is lost on restart")
				repo = availability.NewMemoryRepository()
			default:
				pgPool, err = connectPostgres(rootCtx, cfg, logger)
				if err != nil {
					return err
				}
				defer pgPool.Close()
				repo = availability.NewPgRepository(pgPool)
			}

			var (
				rdb         *redis.Client
				locker      redisclient.Locker
				rateLimiter api.RateLimiter
			)
			if cfg.RedisAddr != "" {
				rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.Options{
					Addr:     cfg.RedisAddr,
					Username: cfg.RedisUsername,
					Password: cfg.RedisPassword,
				})
				if err != nil && !cfg.IsDev() {
					return fmt.Errorf("redis connection error: %w", err)
				}
				if err != nil {
					logger.Warn().Err(err).Msg("redis unavailable, falling back to in-process locks")
					rdb = nil
				}
			}
			if rdb != nil {
				defer func() {
					if err := rdb.Close(); err != nil {
						logger.Error().Err(err).Msg("error closing redis")
					}
				}()
				logger.Info().Msg("connected to Redis")
				locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
				limit := int(math.Max(1, math.Ceil(cfg.RateLimitRPS)))
				rateLimiter = redisclient.NewRateLimiter(rdb, limit, time.Second)
			} else {
				locker = redisclient.NewLocalLocker()
				rateLimiter = api.NewLocalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
			}

			svc := availability.NewService(repo, locker, cfg, logger)

			router := api.NewRouter(api.RouterConfig{
				Service:     svc,
				Logger:      logger,
				PgPool:      pgPool,
				Redis:       rdb,
				RateLimiter: rateLimiter,
				JWTSecret:   cfg.JWTSecret,
				Env:         cfg.Env,
				Version:     version,
			})

			srv := &http.Server{
				Addr:              ":" + cfg.HTTPPort,
				Handler:           router,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			g, gctx := errgroup.WithContext(rootCtx)

			g.Go(func() error {
				logger.Info().Str("addr", srv.Addr).Msg("http server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				logger.Info().Msg("shutting down api-server")
				ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(ctx)
			})

			if withRelay && pgPool != nil {
				publisher := outbox.NewPublisher(outbox.NewRepository(pgPool), logger, outbox.PublisherConfig{
					Brokers:   cfg.KafkaBrokers,
					PollEvery: cfg.WorkerInterval,
					BatchSize: cfg.OutboxBatchSize,
				})
				if publisher != nil {
					g.Go(func() error { return publisher.Run(gctx) })
				}
			}

			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP port (overrides HTTP_PORT)")
	cmd.Flags().BoolVar(&withRelay, "with-relay", true, "publish outbox events to Kafka from this process")
	return cmd
}
