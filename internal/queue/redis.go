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
	"github.com/redis/go-redis/v9"
)

const (
	pendingKey    = "queue:pending"
	processingKey = "queue:processing"
	delayedKey    = "queue:delayed"

	blockTimeout = time.Second
	promoteBatch = 100
)

// promoteScript moves retries whose delay elapsed back to the pending list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, item in ipairs(due) do
	redis.call('ZREM', KEYS[1], item)
	redis.call('LPUSH', KEYS[2], item)
end
return #due
`)

// restoreScript returns jobs left in an instance's processing list by its
// previous run to the pending list.
var restoreScript = redis.NewScript(`
local n = 0
while redis.call('RPOPLPUSH', KEYS[1], KEYS[2]) do
	n = n + 1
end
return n
`)

// RedisQueue keeps jobs in Redis lists so they survive restarts and can be
// shared by several instances. A job moves pending -> processing on hand-off
// and leaves processing on Ack or Retry. Each instance owns its processing
// list, so a restart only reclaims the jobs it was holding itself.
type RedisQueue struct {
	client     *redis.Client
	processing string
	logger     *slog.Logger
}

func NewRedisQueue(client *redis.Client, instanceID string, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		client:     client,
		processing: processingKey + ":" + instanceID,
		logger:     logger,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job models.DeliveryJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.LPush(ctx, pendingKey, data).Err()
}

func (q *RedisQueue) Deliveries(ctx context.Context) (<-chan Delivery, error) {
	restored, err := restoreScript.Run(ctx, q.client, []string{q.processing, pendingKey}).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to restore in-flight jobs: %w", err)
	}
	if restored > 0 {
		q.logger.Warn("restored in-flight jobs", "count", restored)
	}

	out := make(chan Delivery)
	go q.pump(ctx, out)
	return out, nil
}

func (q *RedisQueue) pump(ctx context.Context, out chan<- Delivery) {
	defer close(out)

	for ctx.Err() == nil {
		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		if err := promoteScript.Run(ctx, q.client, []string{delayedKey, pendingKey}, now, promoteBatch).Err(); err != nil && ctx.Err() == nil {
			q.logger.Error("failed to promote delayed jobs", "error", err)
		}

		raw, err := q.client.BLMove(ctx, pendingKey, q.processing, "RIGHT", "LEFT", blockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Error("failed to dequeue job", "error", err)
			time.Sleep(blockTimeout)
			continue
		}

		var job models.DeliveryJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.logger.Error("dropping undecodable job", "error", err, "payload", raw)
			q.client.LRem(ctx, q.processing, 1, raw)
			continue
		}

		select {
		case out <- &redisDelivery{queue: q, raw: raw, job: job}:
		case <-ctx.Done():
			return
		}
	}
}

func (q *RedisQueue) Purge(ctx context.Context) error {
	return q.client.Del(ctx, pendingKey, delayedKey).Err()
}

// Close leaves the client open; it is owned by the caller.
func (q *RedisQueue) Close() error { return nil }

type redisDelivery struct {
	queue *RedisQueue
	raw   string
	job   models.DeliveryJob
}

func (d *redisDelivery) Job() models.DeliveryJob { return d.job }

func (d *redisDelivery) Ack() error {
	return d.queue.client.LRem(context.Background(), d.queue.processing, 1, d.raw).Err()
}

func (d *redisDelivery) Retry(delay time.Duration) error {
	job := d.job
	job.AttemptCount++

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ctx := context.Background()
	pipe := d.queue.client.TxPipeline()
	pipe.ZAdd(ctx, delayedKey, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: data,
	})
	pipe.LRem(ctx, d.queue.processing, 1, d.raw)

	_, err = pipe.Exec(ctx)
	return err
}
