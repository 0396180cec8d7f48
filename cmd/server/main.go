// Order splitter service: receives ShipStation ORDER_NOTIFY webhooks, splits
// special-handling items out of each order, and notifies the store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"order-splitter/internal/config"
	"order-splitter/internal/handler"
	"order-splitter/internal/middleware"
	"order-splitter/internal/notify"
	"order-splitter/internal/pipeline"
	"order-splitter/internal/queue"
	"order-splitter/internal/shipstation"
	"order-splitter/internal/store"
	"order-splitter/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Initialize structured logger
	logger := initLogger()

	// Load configuration
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry, err := config.NewRegistry(cfg.Stores)
	if err != nil {
		return fmt.Errorf("building store registry: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("stores", len(registry.IDs())),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.String("notify_backend", cfg.Notify.Backend),
		slog.String("upstream_transport", cfg.Upstream.Transport),
	)

	records, closeRecords, err := createRecordStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating record store: %w", err)
	}
	defer closeRecords()

	client, err := createOrderClient(cfg)
	if err != nil {
		return fmt.Errorf("creating ShipStation client: %w", err)
	}

	sender, err := createSender(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating notifier: %w", err)
	}

	reconciler := pipeline.NewReconciler(registry, client, records, sender,
		pipeline.ReconcilerConfig{OrderConcurrency: cfg.Queue.OrderConcurrency}, logger)

	sched, runners, closeQueue, err := createScheduler(ctx, cfg, reconciler, logger)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	defer closeQueue()

	// Workers outlive individual requests; they stop only on shutdown.
	for _, r := range runners {
		if err := r.Start(context.Background()); err != nil {
			return fmt.Errorf("starting workers: %w", err)
		}
	}

	ingestor := pipeline.NewIngestor(registry, client, records, sched, logger)
	h := handler.New(ingestor, registry, records, client, logger)
	if qi, ok := sched.(handler.QueueInspector); ok {
		h.WithQueue(qi)
	}

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			runErr = fmt.Errorf("shutdown error: %w", err)
		}
	}

	// Drain queued batches after the listener is closed so no new work arrives.
	stopCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	for i := len(runners) - 1; i >= 0; i-- {
		if err := runners[i].Stop(stopCtx); err != nil {
			logger.Warn("workers did not stop cleanly", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
	return runErr
}

// createRecordStore opens the configured ledger. The returned func releases it.
func createRecordStore(ctx context.Context, cfg *config.Config) (store.RecordStore, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	case "postgres", "sqlite":
		s, err := store.Open(ctx, store.Dialect(cfg.Store.Backend), cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// createOrderClient builds the ShipStation client over the configured transport.
func createOrderClient(cfg *config.Config) (*shipstation.Client, error) {
	rt, err := transport.New(transport.Kind(cfg.Upstream.Transport), cfg.Upstream.Timeout)
	if err != nil {
		return nil, err
	}
	return shipstation.New(shipstation.Config{
		BaseURL:       cfg.Upstream.BaseURL,
		Transport:     rt,
		Timeout:       cfg.Upstream.Timeout,
		RatePerMinute: cfg.Upstream.RatePerMinute,
	})
}

// createSender builds the special-order notice sender.
func createSender(cfg *config.Config, logger *slog.Logger) (notify.Sender, error) {
	switch cfg.Notify.Backend {
	case "log":
		return notify.LogSender{Logger: logger}, nil
	case "smtp":
		s, err := notify.NewSMTPSender(notify.SMTPConfig{
			Addr:     cfg.Notify.SMTPAddr,
			Username: cfg.Notify.Username,
			Password: cfg.Notify.Password,
			From:     cfg.Notify.From,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported notify backend: %s", cfg.Notify.Backend)
	}
}

var _ handler.QueueInspector = (*queue.Redis)(nil)

// createScheduler builds the scheduler the ingestor hands batches to, plus the
// runners to start and stop with the server. The Redis queue keeps an
// in-process pool as the fallback for failed pushes.
func createScheduler(ctx context.Context, cfg *config.Config, proc queue.Processor, logger *slog.Logger) (queue.Scheduler, []queue.Runner, func(), error) {
	poolCfg := queue.DefaultInProcessConfig()
	poolCfg.Workers = cfg.Queue.Workers
	pool := queue.NewInProcess(proc, poolCfg, logger.With(slog.String("queue", "inprocess")))

	switch cfg.Queue.Backend {
	case "inprocess":
		return pool, []queue.Runner{pool}, func() {}, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Queue.RedisAddr, err)
		}

		redisCfg := queue.DefaultRedisConfig()
		redisCfg.Workers = cfg.Queue.Workers
		rq := queue.NewRedis(rdb, proc, pool, redisCfg, logger.With(slog.String("queue", "redis")))
		if _, err := rq.Recover(ctx); err != nil {
			rdb.Close()
			return nil, nil, nil, err
		}
		return rq, []queue.Runner{pool, rq}, func() { rdb.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported queue backend: %s", cfg.Queue.Backend)
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
