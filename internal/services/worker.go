package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mochaeng/payment-router/internal/constants"
	"github.com/mochaeng/payment-router/internal/metrics"
	"github.com/mochaeng/payment-router/internal/models"
	"github.com/mochaeng/payment-router/internal/queue"
	"github.com/mochaeng/payment-router/internal/store"
)

const (
	saveAttempts   = 3
	saveRetryDelay = 100 * time.Millisecond
	saveTimeout    = 2 * time.Second
)

// SnapshotReader exposes the latest health of both processors.
type SnapshotReader interface {
	Snapshots() (defaultHealth, fallbackHealth models.HealthSnapshot)
}

type DeliveryConfig struct {
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
}

// DeliveryPool drains the queue with a fixed number of workers and drives
// every job to a terminal record.
type DeliveryPool struct {
	cfg       DeliveryConfig
	queue     queue.Queue
	store     store.PaymentStore
	processor Processor
	health    SnapshotReader
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// onTerminal is called once a job needs no further delivery.
	onTerminal func(correlationID string)

	wg sync.WaitGroup
}

func NewDeliveryPool(
	cfg DeliveryConfig,
	q queue.Queue,
	s store.PaymentStore,
	processor Processor,
	health SnapshotReader,
	m *metrics.Metrics,
	logger *slog.Logger,
) *DeliveryPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.DefaultMaxAttempt
	}

	return &DeliveryPool{
		cfg:        cfg,
		queue:      q,
		store:      s,
		processor:  processor,
		health:     health,
		metrics:    m,
		logger:     logger,
		onTerminal: func(string) {},
	}
}

// Start subscribes to the queue and launches the workers. Workers stop taking
// new jobs when ctx is done but finish the one they hold.
func (p *DeliveryPool) Start(ctx context.Context) error {
	deliveries, err := p.queue.Deliveries(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to queue: %w", err)
	}

	jobCtx := context.WithoutCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for d := range deliveries {
				p.process(jobCtx, d)
			}
		}()
	}

	p.logger.Info("delivery workers started", "workers", p.cfg.Workers)
	return nil
}

func (p *DeliveryPool) Wait() {
	p.wg.Wait()
}

// Backoff returns the delay before the next attempt, doubling from base.
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		return base
	}
	return base << (attempts - 1)
}

func (p *DeliveryPool) process(ctx context.Context, d queue.Delivery) {
	job := d.Job()
	logger := p.logger.With("correlationId", job.CorrelationID, "attempt", job.AttemptCount+1)

	_, err := p.store.Get(ctx, job.CorrelationID)
	if err == nil {
		logger.Debug("payment already recorded, skipping")
		p.ack(logger, d)
		p.onTerminal(job.CorrelationID)
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("failed to look up payment", "error", err)
		p.fail(ctx, logger, d, err)
		return
	}

	defaultHealth, fallbackHealth := p.health.Snapshots()
	target := Select(defaultHealth, fallbackHealth, job.AttemptCount)
	logger.Debug("processor selected",
		"processor", target,
		"defaultFailing", defaultHealth.Failing,
		"fallbackFailing", fallbackHealth.Failing,
	)

	start := time.Now()
	err = p.processor.Pay(ctx, target, models.PaymentProcessorRequest{
		CorrelationID: job.CorrelationID,
		Amount:        job.Amount,
		RequestedAt:   job.RequestedAt,
	})
	p.metrics.DeliverySeconds.WithLabelValues(string(target)).Observe(time.Since(start).Seconds())

	if err != nil {
		p.metrics.Attempts.WithLabelValues(string(target), "failure").Inc()
		logger.Warn("payment delivery failed", "processor", target, "error", err)
		p.fail(ctx, logger, d, err)
		return
	}

	p.metrics.Attempts.WithLabelValues(string(target), "success").Inc()
	p.finish(ctx, logger, d, target)
}

func (p *DeliveryPool) fail(ctx context.Context, logger *slog.Logger, d queue.Delivery, cause error) {
	attempts := d.Job().AttemptCount + 1
	if attempts < p.cfg.MaxAttempts {
		delay := Backoff(p.cfg.BaseDelay, attempts)
		if err := d.Retry(delay); err != nil {
			logger.Error("failed to schedule retry", "error", err)
			return
		}
		p.metrics.Retries.Inc()
		logger.Debug("retry scheduled", "delay", delay)
		return
	}

	logger.Error("payment left unprocessed", "error", fmt.Errorf("%w: %w", models.ErrTerminalDelivery, cause))
	p.finish(ctx, logger, d, constants.UnprocessedKey)
}

func (p *DeliveryPool) finish(ctx context.Context, logger *slog.Logger, d queue.Delivery, source constants.Source) {
	job := d.Job()
	record := models.PaymentRecord{
		CorrelationID: job.CorrelationID,
		Amount:        job.Amount,
		Source:        source,
		RequestedAt:   job.RequestedAt,
		ProcessedAt:   time.Now().UTC(),
	}

	saved := false
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		saveCtx, cancel := context.WithTimeout(ctx, saveTimeout)
		result, err := p.store.UpsertIfAbsent(saveCtx, record)
		cancel()

		if err == nil {
			saved = true
			level := slog.LevelDebug
			if result == store.AlreadyPresent {
				level = slog.LevelInfo
			}
			logger.Log(ctx, level, "payment saved", "source", source, "result", result.String())
			break
		}

		logger.Warn("failed to save payment", "attempt", attempt, "error", err)
		if attempt < saveAttempts {
			time.Sleep(saveRetryDelay)
		}
	}

	if !saved {
		logger.Error("CRITICAL: payment outcome could not be saved", "source", source)
	} else {
		p.metrics.Terminal.WithLabelValues(string(source)).Inc()
	}

	p.ack(logger, d)
	p.onTerminal(job.CorrelationID)
}

func (p *DeliveryPool) ack(logger *slog.Logger, d queue.Delivery) {
	if err := d.Ack(); err != nil {
		logger.Error("failed to ack job", "error", err)
	}
}
