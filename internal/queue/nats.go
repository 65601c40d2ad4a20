package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/mochaeng/payment-router/internal/models"
	"github.com/nats-io/nats.go"
)

const (
	subject      = "payments.submit"
	streamName   = "PAYMENTS"
	consumerName = "payment-workers"

	defaultAckWait = 30 * time.Second
	fetchBatch     = 32
	fetchWait      = time.Second
)

// NatsQueue runs the submission queue on a JetStream work-queue stream. The
// attempt count of a job is taken from the delivery metadata, so retries are
// plain NAKs with a delay.
type NatsQueue struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	maxDeliver int
	logger     *slog.Logger
}

// NewNatsQueue connects and creates the stream if needed. maxAttempts bounds
// redeliveries; the consumer allows one spare delivery so a job that keeps
// failing still reaches its terminal write.
func NewNatsQueue(url string, maxAttempts int, logger *slog.Logger) (*NatsQueue, error) {
	conn, err := nats.Connect(url, nats.Name("payment-router"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open jetstream: %w", err)
	}

	q := &NatsQueue{
		conn:       conn,
		js:         js,
		maxDeliver: maxAttempts + 1,
		logger:     logger,
	}

	if err := q.createStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *NatsQueue) createStream() error {
	_, err := q.js.StreamInfo(streamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subject},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	q.logger.Info("stream created", "stream", streamName)
	return nil
}

func (q *NatsQueue) Enqueue(ctx context.Context, job models.DeliveryJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	msgID := job.CorrelationID + ":" + strconv.FormatInt(job.RequestedAt.UnixNano(), 10)
	if _, err := q.js.Publish(subject, data, nats.MsgId(msgID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

func (q *NatsQueue) Deliveries(ctx context.Context) (<-chan Delivery, error) {
	sub, err := q.js.PullSubscribe(subject, consumerName,
		nats.ManualAck(),
		nats.AckWait(defaultAckWait),
		nats.MaxDeliver(q.maxDeliver),
		nats.DeliverAll(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Delivery)
	go q.pump(ctx, sub, out)
	return out, nil
}

func (q *NatsQueue) pump(ctx context.Context, sub *nats.Subscription, out chan<- Delivery) {
	defer close(out)

	for ctx.Err() == nil {
		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := sub.Fetch(fetchBatch, nats.Context(fetchCtx))
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return
			}
			q.logger.Error("failed to fetch jobs", "error", err)
			continue
		}

		for _, msg := range msgs {
			var job models.DeliveryJob
			if err := json.Unmarshal(msg.Data, &job); err != nil {
				q.logger.Error("dropping undecodable job", "error", err)
				msg.Term()
				continue
			}

			if meta, err := msg.Metadata(); err == nil && meta.NumDelivered > 0 {
				job.AttemptCount = int(meta.NumDelivered) - 1
			}

			select {
			case out <- &natsDelivery{msg: msg, job: job}:
			case <-ctx.Done():
				// unacked messages come back after AckWait
				return
			}
		}
	}
}

func (q *NatsQueue) Purge(_ context.Context) error {
	return q.js.PurgeStream(streamName)
}

func (q *NatsQueue) Close() error {
	return q.conn.Drain()
}

type natsDelivery struct {
	msg *nats.Msg
	job models.DeliveryJob
}

func (d *natsDelivery) Job() models.DeliveryJob { return d.job }

func (d *natsDelivery) Ack() error { return d.msg.Ack() }

func (d *natsDelivery) Retry(delay time.Duration) error {
	return d.msg.NakWithDelay(delay)
}
