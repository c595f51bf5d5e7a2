package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/congo_custody/internal/config"
	"github.com/congo-pay/congo_custody/internal/executor"
	"github.com/congo-pay/congo_custody/internal/infra"
	"github.com/congo-pay/congo_custody/internal/logging"
	"github.com/congo-pay/congo_custody/internal/metrics"
	"github.com/congo-pay/congo_custody/internal/routes"
	"github.com/congo-pay/congo_custody/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := routes.Deps{
		Cfg:      cfg,
		Logger:   logger,
		Gatherer: registry,
		Metrics:  metrics.New(registry),
	}

	if cfg.DatabaseURL != "" {
		if err := infra.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			fatal(logger, "run migrations", err)
		}
		deps.DB = mustPostgres(ctx, cfg.DatabaseURL, logger)
		defer deps.DB.Close()
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
	}

	if cfg.RedisURL != "" {
		deps.Cache = mustRedis(ctx, cfg.RedisURL, logger)
		defer func() {
			if err := deps.Cache.Close(); err != nil {
				logger.Warn("close redis", slog.Any("error", err))
			}
		}()
	} else {
		logger.Warn("REDIS_URL not set, idempotency keys are disabled")
	}

	var publisher *executor.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = executor.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.DispatchTopic)
		deps.Dispatcher = publisher
	} else {
		logger.Warn("KAFKA_BROKERS not set, approved withdrawals are not dispatched")
	}

	srv, err := server.New(deps)
	if err != nil {
		fatal(logger, "build server", err)
	}

	var workers sync.WaitGroup
	if publisher != nil {
		withdrawals := srv.Services().Withdrawals
		consumer := executor.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.ResultsTopic, cfg.Kafka.GroupID, withdrawals, logger)

		workers.Add(2)
		go func() {
			defer workers.Done()
			if err := consumer.Run(ctx); err != nil {
				logger.Error("executor consumer stopped", slog.Any("error", err))
				stop()
			}
		}()
		go func() {
			defer workers.Done()
			executor.RunRedispatch(ctx, withdrawals, cfg.Kafka.RedispatchInterval, logger)
		}()
		defer func() {
			if err := consumer.Close(); err != nil {
				logger.Warn("close executor consumer", slog.Any("error", err))
			}
			if err := publisher.Close(); err != nil {
				logger.Warn("close executor publisher", slog.Any("error", err))
			}
		}()
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()
	logger.Info("server started", slog.String("address", cfg.Address()))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", slog.Any("error", err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}
	workers.Wait()

	logger.Info("server exited cleanly")
}

func mustPostgres(ctx context.Context, url string, logger *slog.Logger) *pgxpool.Pool {
	db, err := infra.NewPostgresPool(ctx, url)
	if err != nil {
		fatal(logger, "connect postgres", err)
	}
	return db
}

func mustRedis(ctx context.Context, url string, logger *slog.Logger) *redis.Client {
	cache, err := infra.NewRedisClient(ctx, url)
	if err != nil {
		fatal(logger, "connect redis", err)
	}
	return cache
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
	os.Exit(1)
}
