package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mochaeng/payment-router/internal/config"
	"github.com/mochaeng/payment-router/internal/constants"
	"github.com/mochaeng/payment-router/internal/metrics"
	"github.com/mochaeng/payment-router/internal/models"
	"github.com/mochaeng/payment-router/internal/queue"
	"github.com/mochaeng/payment-router/internal/store"
)

type Service struct {
	Payment interface {
		Send(ctx context.Context, req models.PaymentRequest) error
		Purge(ctx context.Context) error
	}
	Summary interface {
		Summarize(ctx context.Context, from, to *time.Time) (*models.PaymentSummaryResponse, error)
	}
	Health   *HealthMonitorService
	Delivery *DeliveryPool
}

// Dependencies are the backends the services run on. Publisher may be nil.
type Dependencies struct {
	Store     store.PaymentStore
	Queue     queue.Queue
	Processor Processor
	Publisher HealthPublisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func NewServices(cfg *config.Config, deps Dependencies) *Service {
	intervals := make(map[constants.Source]time.Duration, len(cfg.Urls))
	for source, urls := range cfg.Urls {
		intervals[source] = urls.HealthInterval
	}

	health := NewHealthMonitorService(
		deps.Processor,
		intervals,
		cfg.HealthTimeout,
		deps.Publisher,
		deps.Metrics,
		deps.Logger.With("component", "health"),
	)

	payment := NewPaymentService(deps.Store, deps.Queue, deps.Metrics, deps.Logger.With("component", "payment"))

	delivery := NewDeliveryPool(
		DeliveryConfig{
			Workers:     cfg.Workers,
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
		},
		deps.Queue,
		deps.Store,
		deps.Processor,
		health,
		deps.Metrics,
		deps.Logger.With("component", "delivery"),
	)
	delivery.onTerminal = payment.release

	return &Service{
		Payment:  payment,
		Summary:  NewSummaryService(deps.Store),
		Health:   health,
		Delivery: delivery,
	}
}

// Start launches the health loops and the delivery workers.
func (s *Service) Start(ctx context.Context) error {
	s.Health.Start(ctx)
	return s.Delivery.Start(ctx)
}

func (s *Service) Wait() {
	s.Delivery.Wait()
	s.Health.Wait()
}
