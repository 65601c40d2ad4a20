package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mochaeng/payment-router/internal/constants"
	"github.com/mochaeng/payment-router/internal/models"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type payCall struct {
	processor constants.Source
	request   models.PaymentProcessorRequest
	at        time.Time
}

// fakeProcessor answers Pay with the error returned by payFn for the target
// processor and records every call.
type fakeProcessor struct {
	mu     sync.Mutex
	calls  []payCall
	payFn  func(processor constants.Source, req models.PaymentProcessorRequest) error
	health map[constants.Source]models.HealthResponse
}

func newFakeProcessor(payFn func(constants.Source, models.PaymentProcessorRequest) error) *fakeProcessor {
	if payFn == nil {
		payFn = func(constants.Source, models.PaymentProcessorRequest) error { return nil }
	}
	return &fakeProcessor{payFn: payFn}
}

func (f *fakeProcessor) Pay(_ context.Context, processor constants.Source, req models.PaymentProcessorRequest) error {
	f.mu.Lock()
	f.calls = append(f.calls, payCall{processor: processor, request: req, at: time.Now()})
	f.mu.Unlock()
	return f.payFn(processor, req)
}

func (f *fakeProcessor) Health(_ context.Context, processor constants.Source) (models.HealthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health[processor], nil
}

func (f *fakeProcessor) callsFor(correlationID string) []payCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []payCall
	for _, c := range f.calls {
		if c.request.CorrelationID == correlationID {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeProcessor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type staticHealth struct {
	mu  sync.Mutex
	def models.HealthSnapshot
	fb  models.HealthSnapshot
}

func (s *staticHealth) set(defaultFailing, fallbackFailing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.def = models.HealthSnapshot{Failing: defaultFailing}
	s.fb = models.HealthSnapshot{Failing: fallbackFailing}
}

func (s *staticHealth) Snapshots() (models.HealthSnapshot, models.HealthSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.def, s.fb
}
