package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/rl1809/inventory-tracker/internal/adapter/handler"
	"github.com/rl1809/inventory-tracker/internal/adapter/messaging"
	"github.com/rl1809/inventory-tracker/internal/adapter/storage"
	"github.com/rl1809/inventory-tracker/internal/config"
	"github.com/rl1809/inventory-tracker/internal/core/service"
	"github.com/rl1809/inventory-tracker/internal/logging"
	"github.com/rl1809/inventory-tracker/internal/metrics"
	"github.com/rl1809/inventory-tracker/internal/port"
)

const serviceName = "inventory-tracker"

type store interface {
	port.TransactionManager
	port.ProductRepository
	port.CategoryRepository
	port.TransactionRepository
	port.AnalyticsRepository
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Initialize store
	var st store
	switch cfg.StoreDriver {
	case config.StoreMemory:
		st = storage.NewMemoryAdapter()
		logger.Warn("using in-memory store, data is lost on restart")
	default:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.MySQLMaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQLMaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQLConnMaxLifetime)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			return err
		}
		logger.Info("connected to mysql")
		st = storage.NewMySQLAdapter(db)
	}

	ledgerOpts := []service.LedgerOption{
		service.WithMovementObserver(m),
		service.WithLedgerLogger(logger),
	}

	// Initialize Redis
	var reportCache port.ReportCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		logger.Info("connected to redis", "addr", cfg.RedisAddr)

		redisAdapter := storage.NewRedisAdapter(rdb, storage.RedisOptions{
			IdempotencyTTL: cfg.IdempotencyTTL,
			Logger:         logger,
		})
		ledgerOpts = append(ledgerOpts, service.WithIdempotencyStore(redisAdapter))
		reportCache = redisAdapter
	} else {
		logger.Warn("REDIS_ADDR not set, idempotency keys and analytics cache disabled")
	}

	// Initialize Kafka
	if len(cfg.KafkaBrokers) > 0 {
		publisher := messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, messaging.KafkaOptions{Recorder: m})
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("failed to close kafka writer", "error", err)
			}
		}()
		ledgerOpts = append(ledgerOpts, service.WithEventPublisher(publisher))
		logger.Info("publishing stock events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// Initialize services
	ledger := service.NewLedgerService(st, ledgerOpts...)
	catalog := service.NewCatalogService(st, st, st, ledger, logger)
	analytics := service.NewAnalyticsService(st, reportCache, cfg.AnalyticsCacheTTL, logger)

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLoggingInterceptor(logger)))
	handler.RegisterStockLedgerServer(grpcServer, handler.NewGRPCHandler(ledger, logger))

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(catalog, ledger, analytics, handler.HTTPOptions{
		Metrics:        m,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case serveErr = <-errCh:
		logger.Error("server failed, shutting down", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	return serveErr
}
