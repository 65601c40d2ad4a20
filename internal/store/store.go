package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mochaeng/payment-router/internal/models"
)

var (
	ErrNotFound      = errors.New("payment not found")
	ErrInvalidSource = errors.New("invalid payment source")
)

type InsertResult int

const (
	Inserted InsertResult = iota
	AlreadyPresent
)

func (r InsertResult) String() string {
	if r == Inserted {
		return "inserted"
	}
	return "already_present"
}

// PaymentStore keeps one terminal record per correlation id. Uniqueness is
// enforced by the implementation: a second UpsertIfAbsent for the same id
// reports AlreadyPresent and leaves the first record untouched.
type PaymentStore interface {
	Get(ctx context.Context, correlationID string) (*models.PaymentRecord, error)
	UpsertIfAbsent(ctx context.Context, record models.PaymentRecord) (InsertResult, error)
	RangeScan(ctx context.Context, filter models.RecordFilter) ([]models.PaymentRecord, error)
	ClearAll(ctx context.Context) error
	Close() error
}

// checkSource rejects records whose source would land outside every index.
func checkSource(record models.PaymentRecord) error {
	if !record.Source.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSource, record.Source)
	}
	return nil
}
