package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mochaeng/payment-router/internal/metrics"
	"github.com/mochaeng/payment-router/internal/models"
	"github.com/mochaeng/payment-router/internal/queue"
	"github.com/mochaeng/payment-router/internal/store"
)

// PaymentService accepts payments and hands them to the queue. It never
// talks to a processor.
type PaymentService struct {
	store   store.PaymentStore
	queue   queue.Queue
	metrics *metrics.Metrics
	logger  *slog.Logger

	// inflight holds correlation ids accepted by this process that have not
	// reached a terminal record yet.
	inflight sync.Map
}

func NewPaymentService(s store.PaymentStore, q queue.Queue, m *metrics.Metrics, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		store:   s,
		queue:   q,
		metrics: m,
		logger:  logger,
	}
}

func (p *PaymentService) Send(ctx context.Context, req models.PaymentRequest) error {
	if err := req.Validate(); err != nil {
		p.metrics.Rejected.WithLabelValues("invalid").Inc()
		return err
	}

	// Reserve before looking at the store: a worker releases the id only
	// after its record is written, so one of the two checks always sees it.
	if _, loaded := p.inflight.LoadOrStore(req.CorrelationID, struct{}{}); loaded {
		p.metrics.Rejected.WithLabelValues("duplicate").Inc()
		return models.ErrDuplicateSubmission
	}

	_, err := p.store.Get(ctx, req.CorrelationID)
	switch {
	case err == nil:
		p.inflight.Delete(req.CorrelationID)
		p.metrics.Rejected.WithLabelValues("duplicate").Inc()
		return models.ErrDuplicateSubmission
	case !errors.Is(err, store.ErrNotFound):
		p.inflight.Delete(req.CorrelationID)
		return fmt.Errorf("failed to look up payment: %w", err)
	}

	job := models.DeliveryJob{
		CorrelationID: req.CorrelationID,
		Amount:        req.Amount,
		RequestedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}

	if err := p.queue.Enqueue(ctx, job); err != nil {
		p.inflight.Delete(req.CorrelationID)
		if errors.Is(err, models.ErrQueueFull) {
			p.metrics.Rejected.WithLabelValues("queue_full").Inc()
			return err
		}
		return fmt.Errorf("failed to enqueue payment: %w", err)
	}

	p.metrics.Accepted.Inc()
	return nil
}

// Purge wipes every record, every undelivered job and the in-flight index.
func (p *PaymentService) Purge(ctx context.Context) error {
	if err := p.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("failed to clear payments: %w", err)
	}
	if err := p.queue.Purge(ctx); err != nil {
		return fmt.Errorf("failed to purge queue: %w", err)
	}
	p.inflight.Clear()

	p.logger.Info("payments purged")
	return nil
}

func (p *PaymentService) release(correlationID string) {
	p.inflight.Delete(correlationID)
}
