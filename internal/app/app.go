package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mochaeng/payment-router/internal/config"
	"github.com/mochaeng/payment-router/internal/metrics"
	"github.com/mochaeng/payment-router/internal/queue"
	"github.com/mochaeng/payment-router/internal/services"
	"github.com/mochaeng/payment-router/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const shutdownTimeout = 10 * time.Second

type Application struct {
	config   *config.Config
	services *services.Service
	store    store.PaymentStore
	queue    queue.Queue
	redis    *redis.Client
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// backends holds the connections opened for one configuration.
type backends struct {
	store     store.PaymentStore
	queue     queue.Queue
	redis     *redis.Client
	publisher services.HealthPublisher
}

func (b *backends) close() error {
	var errs []error
	if b.queue != nil {
		errs = append(errs, b.queue.Close())
	}
	if b.store != nil {
		errs = append(errs, b.store.Close())
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	return errors.Join(errs...)
}

func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.StoreBackend == config.BackendRedis || cfg.QueueBackend == config.BackendRedis {
		client, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.redis = client
	}

	switch cfg.StoreBackend {
	case config.BackendRedis:
		redisStore := store.NewRedisStore(b.redis)
		b.store = redisStore
		b.publisher = redisStore
	case config.BackendPostgres:
		pgStore, err := store.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			b.close()
			return nil, err
		}
		b.store = pgStore
	case config.BackendMemory:
		b.store = store.NewMemoryStore()
	default:
		b.close()
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	switch cfg.QueueBackend {
	case config.BackendMemory:
		b.queue = queue.NewMemoryQueue(cfg.MaxQueueSize)
	case config.BackendRedis:
		b.queue = queue.NewRedisQueue(b.redis, cfg.InstanceID, logger.With("component", "queue"))
	case config.BackendNATS:
		natsQueue, err := queue.NewNatsQueue(cfg.NatsURL, cfg.MaxAttempts, logger.With("component", "queue"))
		if err != nil {
			b.close()
			return nil, err
		}
		b.queue = natsQueue
	default:
		b.close()
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}

	return b, nil
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open backends: %w", err)
	}

	m := metrics.New()
	svc := services.NewServices(cfg, services.Dependencies{
		Store:     b.store,
		Queue:     b.queue,
		Processor: services.NewProcessorClient(cfg),
		Publisher: b.publisher,
		Metrics:   m,
		Logger:    logger,
	})

	logger.Info("application configured",
		"store", cfg.StoreBackend,
		"queue", cfg.QueueBackend,
		"workers", cfg.Workers,
	)

	return &Application{
		config:   cfg,
		services: svc,
		store:    b.store,
		queue:    b.queue,
		redis:    b.redis,
		metrics:  m,
		logger:   logger,
	}, nil
}

func (app *Application) Mount() *fasthttp.Server {
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(app.metrics.Handler())

	return &fasthttp.Server{
		Name:               "payment-router",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 64 * 1024,
		Handler: func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/payments":
				if ctx.IsPost() {
					app.paymentsHandler(ctx)
				} else {
					methodNotAllowed(ctx)
				}
			case "/payments-summary":
				if ctx.IsGet() {
					app.summaryHandler(ctx)
				} else {
					methodNotAllowed(ctx)
				}
			case "/purge-payments":
				if ctx.IsPost() {
					app.purgeHandler(ctx)
				} else {
					methodNotAllowed(ctx)
				}
			case "/metrics":
				if ctx.IsGet() {
					metricsHandler(ctx)
				} else {
					methodNotAllowed(ctx)
				}
			default:
				writeError(ctx, fasthttp.StatusNotFound, "not found")
			}
		},
	}
}

// Start launches the background services without serving HTTP.
func (app *Application) Start(ctx context.Context) error {
	return app.services.Start(ctx)
}

// Run serves until ctx is done, then drains the server, lets in-flight
// deliveries finish and closes the backends.
func (app *Application) Run(ctx context.Context, server *fasthttp.Server) error {
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	if err := app.Start(workerCtx); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "port", app.config.Port)
		serveErr <- server.ListenAndServe(":" + app.config.Port)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("server stopped: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		app.logger.Error("failed to shut down server", "error", err)
	}

	stopWorkers()
	app.services.Wait()

	if err := app.Close(); err != nil {
		app.logger.Error("failed to close backends", "error", err)
	}
	return runErr
}

func (app *Application) Close() error {
	b := &backends{store: app.store, queue: app.queue, redis: app.redis}
	return b.close()
}

// Purge clears the records and pending jobs of the configured backends
// without starting the service.
func Purge(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open backends: %w", err)
	}
	defer b.close()

	if err := b.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("failed to clear payments: %w", err)
	}
	if err := b.queue.Purge(ctx); err != nil {
		return fmt.Errorf("failed to purge queue: %w", err)
	}

	logger.Info("payments purged", "store", cfg.StoreBackend, "queue", cfg.QueueBackend)
	return nil
}
