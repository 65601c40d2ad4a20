package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/mochaeng/payment-router/internal/constants"
	"github.com/mochaeng/payment-router/internal/metrics"
	"github.com/mochaeng/payment-router/internal/models"
	"github.com/mochaeng/payment-router/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	ch chan models.HealthSnapshot
}

func (r *recordingPublisher) SetProcessorHealth(_ context.Context, _ constants.Source, health models.HealthSnapshot) error {
	select {
	case r.ch <- health:
	default:
	}
	return nil
}

func newMonitor(def, fb *mockBackend, interval time.Duration, publisher HealthPublisher) *HealthMonitorService {
	cfg := newTestConfig(def, fb, interval)
	intervals := map[constants.Source]time.Duration{
		constants.DefaultProcessorKey:  interval,
		constants.FallbackProcessorKey: interval,
	}
	return NewHealthMonitorService(NewProcessorClient(cfg), intervals, cfg.HealthTimeout, publisher, metrics.New(), discardLogger)
}

func TestHealthMonitorStartsHealthy(t *testing.T) {
	def, fb := newMockBackend(t), newMockBackend(t)
	monitor := newMonitor(def, fb, time.Second, nil)

	d, f := monitor.Snapshots()
	assert.False(t, d.Failing)
	assert.False(t, f.Failing)
	assert.True(t, monitor.Snapshot(constants.UnprocessedKey).Failing)
}

func TestHealthMonitorRespectsInterval(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}

	def, fb := newMockBackend(t), newMockBackend(t)
	interval := 100 * time.Millisecond
	monitor := newMonitor(def, fb, interval, nil)

	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx)
	time.Sleep(550 * time.Millisecond)
	cancel()
	monitor.Wait()

	for _, backend := range []*mockBackend{def, fb} {
		checks := backend.healthChecks()
		require.GreaterOrEqual(t, len(checks), 3)
		assert.LessOrEqual(t, len(checks), 6)
		for i := 1; i < len(checks); i++ {
			assert.GreaterOrEqual(t, checks[i].Sub(checks[i-1]), interval-5*time.Millisecond)
		}
	}
}

func TestHealthMonitorGuardRefusesEarlyCheck(t *testing.T) {
	def, fb := newMockBackend(t), newMockBackend(t)
	monitor := newMonitor(def, fb, time.Hour, nil)
	ctx := context.Background()

	assert.True(t, monitor.checkProcessor(ctx, constants.DefaultProcessorKey))
	assert.False(t, monitor.checkProcessor(ctx, constants.DefaultProcessorKey))
	assert.True(t, monitor.checkProcessor(ctx, constants.FallbackProcessorKey))
	assert.Len(t, def.healthChecks(), 1)
}

func TestHealthMonitorFailureKeepsLatency(t *testing.T) {
	def, fb := newMockBackend(t), newMockBackend(t)
	monitor := newMonitor(def, fb, time.Millisecond, nil)
	ctx := context.Background()

	def.set(func(m *mockBackend) { m.health = models.HealthResponse{MinResponseTime: 120} })
	require.True(t, monitor.checkProcessor(ctx, constants.DefaultProcessorKey))
	snap := monitor.Snapshot(constants.DefaultProcessorKey)
	assert.False(t, snap.Failing)
	assert.Equal(t, 120, snap.MinResponseTime)

	for _, status := range []int{http.StatusInternalServerError, http.StatusTooManyRequests} {
		def.set(func(m *mockBackend) { m.healthStatus = status })
		time.Sleep(2 * time.Millisecond)
		require.True(t, monitor.checkProcessor(ctx, constants.DefaultProcessorKey))

		snap = monitor.Snapshot(constants.DefaultProcessorKey)
		assert.True(t, snap.Failing, "status %d", status)
		assert.Equal(t, 120, snap.MinResponseTime, "status %d", status)
	}

	def.set(func(m *mockBackend) {
		m.healthStatus = http.StatusOK
		m.health = models.HealthResponse{MinResponseTime: 40}
	})
	time.Sleep(2 * time.Millisecond)
	require.True(t, monitor.checkProcessor(ctx, constants.DefaultProcessorKey))
	snap = monitor.Snapshot(constants.DefaultProcessorKey)
	assert.False(t, snap.Failing)
	assert.Equal(t, 40, snap.MinResponseTime)
}

func TestHealthMonitorUnreachableBackend(t *testing.T) {
	def, fb := newMockBackend(t), newMockBackend(t)
	monitor := newMonitor(def, fb, time.Hour, nil)
	def.server.Close()

	require.True(t, monitor.checkProcessor(context.Background(), constants.DefaultProcessorKey))
	assert.True(t, monitor.Snapshot(constants.DefaultProcessorKey).Failing)
}

func TestHealthMonitorPublishes(t *testing.T) {
	def, fb := newMockBackend(t), newMockBackend(t)
	publisher := &recordingPublisher{ch: make(chan models.HealthSnapshot, 1)}
	monitor := newMonitor(def, fb, time.Hour, publisher)

	def.set(func(m *mockBackend) { m.health = models.HealthResponse{Failing: true, MinResponseTime: 75} })
	require.True(t, monitor.checkProcessor(context.Background(), constants.DefaultProcessorKey))

	select {
	case snap := <-publisher.ch:
		assert.True(t, snap.Failing)
		assert.Equal(t, 75, snap.MinResponseTime)
		assert.False(t, snap.LastChecked.IsZero())
	case <-time.After(time.Second):
		t.Fatal("snapshot was not published")
	}
}

type sharedHealth struct {
	recordingPublisher
	snapshots map[constants.Source]models.HealthSnapshot
}

func (s *sharedHealth) GetProcessorHealth(_ context.Context, processor constants.Source) (*models.HealthSnapshot, error) {
	health, ok := s.snapshots[processor]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &health, nil
}

func TestHealthMonitorSeedsFromSharedSnapshot(t *testing.T) {
	def, fb := newMockBackend(t), newMockBackend(t)
	shared := &sharedHealth{
		recordingPublisher: recordingPublisher{ch: make(chan models.HealthSnapshot, 4)},
		snapshots: map[constants.Source]models.HealthSnapshot{
			constants.DefaultProcessorKey: {Failing: true, MinResponseTime: 90, LastChecked: time.Now().UTC()},
		},
	}
	monitor := newMonitor(def, fb, time.Hour, shared)

	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx)

	// fallback has nothing shared and is polled right away
	require.Eventually(t, func() bool {
		return len(fb.healthChecks()) == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()
	monitor.Wait()

	assert.Empty(t, def.healthChecks(), "a recently shared snapshot must not be polled again")
	snap := monitor.Snapshot(constants.DefaultProcessorKey)
	assert.True(t, snap.Failing)
	assert.Equal(t, 90, snap.MinResponseTime)
}

func TestHealthMonitorPollsStaleSharedSnapshot(t *testing.T) {
	def, fb := newMockBackend(t), newMockBackend(t)
	shared := &sharedHealth{
		recordingPublisher: recordingPublisher{ch: make(chan models.HealthSnapshot, 4)},
		snapshots: map[constants.Source]models.HealthSnapshot{
			constants.DefaultProcessorKey: {Failing: true, LastChecked: time.Now().Add(-2 * time.Hour)},
		},
	}
	monitor := newMonitor(def, fb, time.Hour, shared)

	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx)
	require.Eventually(t, func() bool {
		return len(def.healthChecks()) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	monitor.Wait()

	assert.False(t, monitor.Snapshot(constants.DefaultProcessorKey).Failing)
}
