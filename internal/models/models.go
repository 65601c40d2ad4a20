package models

import (
	"time"

	"github.com/mochaeng/payment-router/internal/constants"
	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

type PaymentRequest struct {
	CorrelationID string          `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
}

func (r PaymentRequest) Validate() error {
	if r.CorrelationID == "" {
		return NewValidationError("correlationId is required")
	}
	if !r.Amount.IsPositive() {
		return NewValidationError("amount must be positive")
	}
	return nil
}

type PaymentProcessorRequest struct {
	CorrelationID string          `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
	RequestedAt   time.Time       `json:"requestedAt"`
}

type PaymentProcessorResponse struct {
	Message string `json:"message"`
}

type ProcessorSummary struct {
	TotalRequest int64           `json:"totalRequests"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
}

type PaymentSummaryResponse struct {
	Default  ProcessorSummary `json:"default"`
	Fallback ProcessorSummary `json:"fallback"`
}

// HealthSnapshot is the last observed state of one backend. Instances are
// immutable once published.
type HealthSnapshot struct {
	Failing         bool      `json:"failing"`
	MinResponseTime int       `json:"minResponseTime"`
	LastChecked     time.Time `json:"lastChecked"`
}

// DeliveryJob is the queue-resident form of an accepted payment.
type DeliveryJob struct {
	CorrelationID string          `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
	RequestedAt   time.Time       `json:"requestedAt"`
	AttemptCount  int             `json:"attemptCount"`
}

// PaymentRecord is the terminal, durable outcome for one correlation id.
type PaymentRecord struct {
	CorrelationID string           `json:"correlationId"`
	Amount        decimal.Decimal  `json:"amount"`
	Source        constants.Source `json:"source"`
	RequestedAt   time.Time        `json:"requestedAt"`
	ProcessedAt   time.Time        `json:"processedAt"`
}

type HealthResponse struct {
	Failing         bool `json:"failing"`
	MinResponseTime int  `json:"minResponseTime"`
}

// RecordFilter narrows a range scan. Nil fields are unbounded; bounds are
// inclusive and apply to RequestedAt.
type RecordFilter struct {
	Source *constants.Source
	From   *time.Time
	To     *time.Time
}

func (f RecordFilter) Match(r PaymentRecord) bool {
	if f.Source != nil && r.Source != *f.Source {
		return false
	}
	if f.From != nil && r.RequestedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && r.RequestedAt.After(*f.To) {
		return false
	}
	return true
}
