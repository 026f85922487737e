package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arkline/escrowd/internal/cache"
	"github.com/arkline/escrowd/internal/config"
	"github.com/arkline/escrowd/internal/core"
	"github.com/arkline/escrowd/internal/db"
	"github.com/arkline/escrowd/internal/dispatcher"
	"github.com/arkline/escrowd/internal/escrow"
	"github.com/arkline/escrowd/internal/kvstore"
	"github.com/arkline/escrowd/internal/logging"
	"github.com/arkline/escrowd/internal/metrics"
	"github.com/arkline/escrowd/internal/moderation"
	"github.com/arkline/escrowd/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("dispatcher"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	redisCache, err := cache.NewRedisCache(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if err := redisCache.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("redis ping failed")
	}

	chains, err := config.LoadChains(cfg.ChainsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load chain registry")
	}

	services := core.NewServices(pool)

	executor := escrow.NewExecutor(escrow.NewGatewayClient(chains), services.Job, services.Webhook, logger)

	sender := webhook.NewSender(
		services.Webhook,
		kvstore.NewResolver(chains, redisCache),
		webhook.NewSigner(cfg.WebhookSigningKey),
		webhook.Policy{
			MaxRetries:  cfg.WebhookMaxRetries,
			BackoffBase: cfg.WebhookBackoffBase,
			BackoffMax:  cfg.WebhookBackoffMax,
		},
		logger,
	)

	tasks := dispatcher.NewTaskSet(
		services.Job,
		services.Webhook,
		executor,
		moderation.NewClient(cfg.ModerationURL),
		sender,
		cfg.JobDebounce,
		logger,
	)

	d := dispatcher.New(services.CronLease, logger)
	d.Register(tasks.All(cfg.EscrowPollInterval, cfg.WebhookPollInterval)...)

	if cfg.MetricsListenAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsListenAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info().Msg("shutting down dispatcher")
		cancel()
	}()

	logger.Info().
		Dur("escrow_interval", cfg.EscrowPollInterval).
		Dur("webhook_interval", cfg.WebhookPollInterval).
		Msg("starting dispatcher")
	if err := d.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("dispatcher failed")
	}
}
