package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mochaeng/payment-router/internal/constants"
	"github.com/mochaeng/payment-router/internal/metrics"
	"github.com/mochaeng/payment-router/internal/models"
	"github.com/mochaeng/payment-router/internal/store"
)

const defaultHealthInterval = 5 * time.Second

// HealthPublisher receives every refreshed snapshot. The Redis store
// implements it.
type HealthPublisher interface {
	SetProcessorHealth(ctx context.Context, processor constants.Source, health models.HealthSnapshot) error
}

// HealthLoader returns the last snapshot shared by any instance. A publisher
// that also implements it seeds the monitor on Start.
type HealthLoader interface {
	GetProcessorHealth(ctx context.Context, processor constants.Source) (*models.HealthSnapshot, error)
}

type processorState struct {
	interval   time.Duration
	snapshot   atomic.Pointer[models.HealthSnapshot]
	lastPolled atomic.Int64
}

// HealthMonitorService polls each processor on its own loop, never more often
// than the processor's interval, and keeps the latest snapshot.
type HealthMonitorService struct {
	processor Processor
	publisher HealthPublisher
	timeout   time.Duration
	states    map[constants.Source]*processorState
	metrics   *metrics.Metrics
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewHealthMonitorService(
	processor Processor,
	intervals map[constants.Source]time.Duration,
	timeout time.Duration,
	publisher HealthPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *HealthMonitorService {
	states := make(map[constants.Source]*processorState, len(constants.Processors))
	for _, p := range constants.Processors {
		interval := intervals[p]
		if interval <= 0 {
			interval = defaultHealthInterval
		}
		state := &processorState{interval: interval}
		state.snapshot.Store(&models.HealthSnapshot{})
		states[p] = state
	}

	return &HealthMonitorService{
		processor: processor,
		publisher: publisher,
		timeout:   timeout,
		states:    states,
		metrics:   m,
		logger:    logger,
	}
}

func (m *HealthMonitorService) Start(ctx context.Context) {
	m.seed(ctx)
	for _, p := range constants.Processors {
		m.wg.Add(1)
		go m.monitorLoop(ctx, p)
	}
}

// Wait blocks until every loop has returned after ctx cancellation.
func (m *HealthMonitorService) Wait() {
	m.wg.Wait()
}

func (m *HealthMonitorService) monitorLoop(ctx context.Context, processor constants.Source) {
	defer m.wg.Done()

	state := m.states[processor]
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.checkProcessor(ctx, processor)
			timer.Reset(untilNextCheck(state))
		}
	}
}

func untilNextCheck(state *processorState) time.Duration {
	wait := state.interval - time.Since(time.Unix(0, state.lastPolled.Load()))
	if wait <= 0 {
		return state.interval
	}
	return wait
}

// seed adopts the shared snapshots so a restarted instance neither forgets
// a failing processor nor polls it again before its interval has passed.
func (m *HealthMonitorService) seed(ctx context.Context) {
	loader, ok := m.publisher.(HealthLoader)
	if !ok {
		return
	}

	for _, p := range constants.Processors {
		loadCtx, cancel := context.WithTimeout(ctx, m.timeout)
		health, err := loader.GetProcessorHealth(loadCtx, p)
		cancel()
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				m.logger.Warn("failed to load processor health", "processor", p, "error", err)
			}
			continue
		}
		if health.LastChecked.IsZero() {
			continue
		}

		state := m.states[p]
		state.snapshot.Store(health)
		state.lastPolled.Store(health.LastChecked.UnixNano())
	}
}

// checkProcessor runs one health check unless the previous one for the same
// processor started less than its interval ago. It reports whether a check
// was issued.
func (m *HealthMonitorService) checkProcessor(ctx context.Context, processor constants.Source) bool {
	state := m.states[processor]

	now := time.Now()
	last := state.lastPolled.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < state.interval {
		return false
	}
	if !state.lastPolled.CompareAndSwap(last, now.UnixNano()) {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.processor.Health(checkCtx, processor)

	previous := state.snapshot.Load()
	next := &models.HealthSnapshot{LastChecked: time.Now().UTC()}
	if err != nil {
		next.Failing = true
		next.MinResponseTime = previous.MinResponseTime
		m.metrics.HealthChecks.WithLabelValues(string(processor), "error").Inc()
		m.logger.Warn("health check failed", "processor", processor, "error", err)
	} else {
		next.Failing = resp.Failing
		next.MinResponseTime = resp.MinResponseTime
		m.metrics.HealthChecks.WithLabelValues(string(processor), "ok").Inc()
	}

	state.snapshot.Store(next)

	if previous.Failing != next.Failing {
		m.logger.Info("processor health changed",
			"processor", processor,
			"failing", next.Failing,
			"minResponseTime", next.MinResponseTime,
		)
	}

	if m.publisher != nil {
		if err := m.publisher.SetProcessorHealth(ctx, processor, *next); err != nil {
			m.logger.Error("failed to publish processor health", "processor", processor, "error", err)
		}
	}

	return true
}

func (m *HealthMonitorService) Snapshot(processor constants.Source) models.HealthSnapshot {
	state, ok := m.states[processor]
	if !ok {
		return models.HealthSnapshot{Failing: true}
	}
	return *state.snapshot.Load()
}

func (m *HealthMonitorService) Snapshots() (defaultHealth, fallbackHealth models.HealthSnapshot) {
	return m.Snapshot(constants.DefaultProcessorKey), m.Snapshot(constants.FallbackProcessorKey)
}
