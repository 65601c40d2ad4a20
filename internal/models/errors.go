package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("invalid payment request")
	ErrDuplicateSubmission = errors.New("payment already submitted")
	ErrQueueFull           = errors.New("queue is full")
	ErrTransientDelivery   = errors.New("transient delivery failure")
	ErrTerminalDelivery    = errors.New("delivery attempts exhausted")
	ErrHealthCheck         = errors.New("health check failed")
)

func NewValidationError(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// DeliveryError describes one failed call to a processor.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("processor responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("processor request failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransientDelivery}
	}
	return []error{ErrTransientDelivery, e.Err}
}
