package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/mochaeng/payment-router/internal/config"
	"github.com/mochaeng/payment-router/internal/constants"
	"github.com/mochaeng/payment-router/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBackend is an httptest processor whose answers can be changed between
// requests.
type mockBackend struct {
	server *httptest.Server

	mu           sync.Mutex
	health       models.HealthResponse
	healthStatus int
	payStatus    int
	payDelay     time.Duration
	payments     []models.PaymentProcessorRequest
	healthTimes  []time.Time
	tokens       []string
}

func newMockBackend(t *testing.T) *mockBackend {
	m := &mockBackend{healthStatus: http.StatusOK, payStatus: http.StatusOK}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.tokens = append(m.tokens, r.Header.Get(constants.TokenHeader))
		m.mu.Unlock()

		switch r.URL.Path {
		case constants.HealthPath:
			m.mu.Lock()
			m.healthTimes = append(m.healthTimes, time.Now())
			status, health := m.healthStatus, m.health
			m.mu.Unlock()

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(health)
		case constants.PaymentsPath:
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			var req models.PaymentProcessorRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}

			m.mu.Lock()
			status, delay := m.payStatus, m.payDelay
			if status < 300 {
				m.payments = append(m.payments, req)
			}
			m.mu.Unlock()

			time.Sleep(delay)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(models.PaymentProcessorResponse{Message: "payment processed successfully"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockBackend) set(fn func(m *mockBackend)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *mockBackend) healthChecks() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.healthTimes...)
}

func newTestConfig(def, fb *mockBackend, interval time.Duration) *config.Config {
	return &config.Config{
		HealthTimeout:  500 * time.Millisecond,
		RequestTimeout: 500 * time.Millisecond,
		Token:          "123",
		Urls: map[constants.Source]*config.ProcessorsConfig{
			constants.DefaultProcessorKey:  config.NewProcessorsConfig(def.server.URL, interval),
			constants.FallbackProcessorKey: config.NewProcessorsConfig(fb.server.URL, interval),
		},
	}
}

func TestProcessorClientPay(t *testing.T) {
	def, fb := newMockBackend(t), newMockBackend(t)
	client := NewProcessorClient(newTestConfig(def, fb, time.Second))
	ctx := context.Background()

	requestedAt := time.Date(2025, 7, 15, 12, 34, 56, 0, time.UTC)
	payment := models.PaymentProcessorRequest{
		CorrelationID: "4a7901b8-7d26-4d9d-aa19-4dc1c7cf60b3",
		Amount:        decimal.RequireFromString("19.90"),
		RequestedAt:   requestedAt,
	}

	t.Run("success", func(t *testing.T) {
		require.NoError(t, client.Pay(ctx, constants.FallbackProcessorKey, payment))

		fb.mu.Lock()
		defer fb.mu.Unlock()
		require.Len(t, fb.payments, 1)
		assert.Equal(t, payment.CorrelationID, fb.payments[0].CorrelationID)
		assert.True(t, fb.payments[0].Amount.Equal(payment.Amount))
		assert.True(t, fb.payments[0].RequestedAt.Equal(requestedAt))
		assert.Equal(t, "123", fb.tokens[len(fb.tokens)-1])
	})

	t.Run("server error is transient", func(t *testing.T) {
		def.set(func(m *mockBackend) { m.payStatus = http.StatusInternalServerError })

		err := client.Pay(ctx, constants.DefaultProcessorKey, payment)
		require.ErrorIs(t, err, models.ErrTransientDelivery)

		var deliveryErr *models.DeliveryError
		require.ErrorAs(t, err, &deliveryErr)
		assert.Equal(t, http.StatusInternalServerError, deliveryErr.StatusCode)
	})

	t.Run("unprocessable is retried too", func(t *testing.T) {
		def.set(func(m *mockBackend) { m.payStatus = http.StatusUnprocessableEntity })
		assert.ErrorIs(t, client.Pay(ctx, constants.DefaultProcessorKey, payment), models.ErrTransientDelivery)
	})

	t.Run("timeout", func(t *testing.T) {
		def.set(func(m *mockBackend) {
			m.payStatus = http.StatusOK
			m.payDelay = time.Second
		})
		assert.ErrorIs(t, client.Pay(ctx, constants.DefaultProcessorKey, payment), models.ErrTransientDelivery)
	})

	t.Run("unknown processor", func(t *testing.T) {
		assert.Error(t, client.Pay(ctx, constants.UnprocessedKey, payment))
	})
}

func TestProcessorClientHealth(t *testing.T) {
	def, fb := newMockBackend(t), newMockBackend(t)
	client := NewProcessorClient(newTestConfig(def, fb, time.Second))
	ctx := context.Background()

	def.set(func(m *mockBackend) { m.health = models.HealthResponse{Failing: true, MinResponseTime: 250} })

	health, err := client.Health(ctx, constants.DefaultProcessorKey)
	require.NoError(t, err)
	assert.True(t, health.Failing)
	assert.Equal(t, 250, health.MinResponseTime)

	def.set(func(m *mockBackend) { m.healthStatus = http.StatusTooManyRequests })
	_, err = client.Health(ctx, constants.DefaultProcessorKey)
	assert.ErrorIs(t, err, models.ErrHealthCheck)
}
