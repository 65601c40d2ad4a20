package services

import (
	"github.com/mochaeng/payment-router/internal/constants"
	"github.com/mochaeng/payment-router/internal/models"
)

// Select picks the backend for the next delivery attempt. Default wins unless
// it is failing and fallback is not. When both are failing it still returns
// default and leaves re-evaluation to the next attempt. The rule does not
// depend on attempt; a retry differs only by reading fresher snapshots.
func Select(defaultHealth, fallbackHealth models.HealthSnapshot, attempt int) constants.Source {
	if defaultHealth.Failing && !fallbackHealth.Failing {
		return constants.FallbackProcessorKey
	}
	return constants.DefaultProcessorKey
}
