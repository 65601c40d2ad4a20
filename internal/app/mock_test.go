package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/mochaeng/payment-router/internal/config"
	"github.com/mochaeng/payment-router/internal/constants"
	"github.com/mochaeng/payment-router/internal/models"
	"github.com/valyala/fasthttp"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockServer struct {
	server *httptest.Server

	mu       sync.Mutex
	health   models.HealthResponse
	fail     bool
	payments []models.PaymentProcessorRequest
}

func newMockServer() *mockServer {
	m := &mockServer{health: models.HealthResponse{MinResponseTime: 100}}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case constants.HealthPath:
			m.mu.Lock()
			health := m.health
			m.mu.Unlock()

			w.Header().Set("Content-Type", "application/json")
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
			fail := m.fail
			if !fail {
				m.payments = append(m.payments, req)
			}
			m.mu.Unlock()

			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(models.PaymentProcessorResponse{Message: "payment processed successfully"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return m
}

func (m *mockServer) setFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health.Failing = failing
	m.fail = failing
}

func (m *mockServer) received() []models.PaymentProcessorRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PaymentProcessorRequest(nil), m.payments...)
}

func (m *mockServer) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = models.HealthResponse{MinResponseTime: 100}
	m.fail = false
	m.payments = nil
}

// MockProcessors stands in for the default and fallback backends.
type MockProcessors struct {
	defaultServer  *mockServer
	fallbackServer *mockServer
}

func newMockProcessors() *MockProcessors {
	return &MockProcessors{
		defaultServer:  newMockServer(),
		fallbackServer: newMockServer(),
	}
}

func (m *MockProcessors) Close() {
	m.defaultServer.server.Close()
	m.fallbackServer.server.Close()
}

func (m *MockProcessors) reset() {
	m.defaultServer.reset()
	m.fallbackServer.reset()
}

func newTestConfig(mocks *MockProcessors) *config.Config {
	interval := 50 * time.Millisecond
	return &config.Config{
		Port:           "8080",
		StoreBackend:   config.BackendMemory,
		QueueBackend:   config.BackendMemory,
		HealthTimeout:  time.Second,
		RequestTimeout: time.Second,
		Workers:        4,
		MaxQueueSize:   100,
		MaxAttempts:    constants.DefaultMaxAttempt,
		RetryBaseDelay: 10 * time.Millisecond,
		Urls: map[constants.Source]*config.ProcessorsConfig{
			constants.DefaultProcessorKey:  config.NewProcessorsConfig(mocks.defaultServer.server.URL, interval),
			constants.FallbackProcessorKey: config.NewProcessorsConfig(mocks.fallbackServer.server.URL, interval),
		},
	}
}

func perform(server *fasthttp.Server, method, uri string, body []byte) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	server.Handler(&ctx)
	return &ctx
}
