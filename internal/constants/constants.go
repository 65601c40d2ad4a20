package constants

// Source labels the backend that terminally handled a payment.
type Source string

const (
	DefaultProcessorKey  Source = "default"
	FallbackProcessorKey Source = "fallback"
	UnprocessedKey       Source = "unprocessed"
)

// Processors lists the billable backends in preference order.
var Processors = []Source{DefaultProcessorKey, FallbackProcessorKey}

func (s Source) Valid() bool {
	switch s {
	case DefaultProcessorKey, FallbackProcessorKey, UnprocessedKey:
		return true
	}
	return false
}

const (
	PaymentsPath      = "/payments"
	HealthPath        = "/payments/service-health"
	TokenHeader       = "X-Rinha-Token"
	DefaultMaxAttempt = 3
)
