package queue

import (
	"context"
	"errors"
	"time"

	"github.com/mochaeng/payment-router/internal/models"
)

var ErrClosed = errors.New("queue is closed")

// Delivery is one hand-off of a job to a worker. Exactly one of Ack or Retry
// must be called for it.
type Delivery interface {
	Job() models.DeliveryJob
	// Ack removes the job for good.
	Ack() error
	// Retry hands the job back after delay. The next delivery reports
	// AttemptCount one higher.
	Retry(delay time.Duration) error
}

// Queue delivers every enqueued job at least once. Ordering across
// correlation ids is not preserved and duplicates are possible after a crash.
type Queue interface {
	Enqueue(ctx context.Context, job models.DeliveryJob) error
	// Deliveries streams jobs until ctx is done or the queue is closed.
	Deliveries(ctx context.Context) (<-chan Delivery, error)
	// Purge drops every job not yet handed to a worker.
	Purge(ctx context.Context) error
	Close() error
}
