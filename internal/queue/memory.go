package queue

import (
	"context"
	"sync"
	"time"

	"github.com/mochaeng/payment-router/internal/models"
)

type queuedJob struct {
	job        models.DeliveryJob
	generation uint64
}

// MemoryQueue is a bounded in-process queue. Jobs do not survive a restart.
// Every job carries the purge generation it was queued under; a job from an
// older generation is dropped instead of being handed to a worker.
type MemoryQueue struct {
	jobs      chan queuedJob
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	generation uint64
	purged     chan struct{}
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		jobs:   make(chan queuedJob, size),
		done:   make(chan struct{}),
		purged: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job models.DeliveryJob) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	generation, _ := q.current()
	select {
	case q.jobs <- queuedJob{job: job, generation: generation}:
		return nil
	default:
		return models.ErrQueueFull
	}
}

func (q *MemoryQueue) Deliveries(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case queued := <-q.jobs:
				generation, purged := q.current()
				if queued.generation != generation {
					continue
				}

				d := &memoryDelivery{queue: q, job: queued.job}
				select {
				case out <- d:
				case <-purged:
				case <-ctx.Done():
					return
				case <-q.done:
					return
				}
			}
		}
	}()

	return out, nil
}

func (q *MemoryQueue) current() (uint64, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.generation, q.purged
}

// Len reports jobs waiting for a worker, delayed retries excluded.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

func (q *MemoryQueue) Purge(_ context.Context) error {
	q.mu.Lock()
	q.generation++
	close(q.purged)
	q.purged = make(chan struct{})
	q.mu.Unlock()

	for {
		select {
		case <-q.jobs:
		default:
			return nil
		}
	}
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func (q *MemoryQueue) schedule(job models.DeliveryJob, delay time.Duration) {
	generation, _ := q.current()
	time.AfterFunc(delay, func() {
		if current, _ := q.current(); current != generation {
			return
		}
		select {
		case q.jobs <- queuedJob{job: job, generation: generation}:
		case <-q.done:
		}
	})
}

type memoryDelivery struct {
	queue *MemoryQueue
	job   models.DeliveryJob
}

func (d *memoryDelivery) Job() models.DeliveryJob { return d.job }

func (d *memoryDelivery) Ack() error { return nil }

func (d *memoryDelivery) Retry(delay time.Duration) error {
	select {
	case <-d.queue.done:
		return ErrClosed
	default:
	}

	job := d.job
	job.AttemptCount++
	d.queue.schedule(job, delay)
	return nil
}
