package services

import (
	"context"
	"fmt"
	"time"

	"github.com/mochaeng/payment-router/internal/constants"
	"github.com/mochaeng/payment-router/internal/models"
	"github.com/mochaeng/payment-router/internal/store"
	"github.com/shopspring/decimal"
)

type SummaryService struct {
	store store.PaymentStore
}

func NewSummaryService(s store.PaymentStore) *SummaryService {
	return &SummaryService{store: s}
}

// Summarize totals the terminal records whose requestedAt falls in
// [from, to]. Either bound may be nil. Unprocessed records are left out.
func (s *SummaryService) Summarize(ctx context.Context, from, to *time.Time) (*models.PaymentSummaryResponse, error) {
	summary := &models.PaymentSummaryResponse{
		Default:  models.ProcessorSummary{TotalAmount: decimal.Zero},
		Fallback: models.ProcessorSummary{TotalAmount: decimal.Zero},
	}

	for _, source := range constants.Processors {
		records, err := s.store.RangeScan(ctx, models.RecordFilter{Source: &source, From: from, To: to})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s payments: %w", source, err)
		}

		total := models.ProcessorSummary{TotalAmount: decimal.Zero}
		for _, record := range records {
			total.TotalRequest++
			total.TotalAmount = total.TotalAmount.Add(record.Amount)
		}

		switch source {
		case constants.DefaultProcessorKey:
			summary.Default = total
		case constants.FallbackProcessorKey:
			summary.Fallback = total
		}
	}

	return summary, nil
}
