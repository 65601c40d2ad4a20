package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/mochaeng/payment-router/internal/constants"
	"github.com/mochaeng/payment-router/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	healthPrefix   = "health:"
	paymentsData   = "payments:data"
	paymentsPrefix = "payments:"
)

// insertScript writes the record only when the id is new, and indexes it by
// requestedAt in the same step so a scan never sees a half-written record.
var insertScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

type RedisStore struct {
	client *redis.Client
}

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewRedisStore wraps a client owned by the caller.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func indexKey(source constants.Source) string {
	return paymentsPrefix + string(source) + ":requested"
}

func (r *RedisStore) Get(ctx context.Context, correlationID string) (*models.PaymentRecord, error) {
	data, err := r.client.HGet(ctx, paymentsData, correlationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	var record models.PaymentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
	}
	return &record, nil
}

func (r *RedisStore) UpsertIfAbsent(ctx context.Context, record models.PaymentRecord) (InsertResult, error) {
	if err := checkSource(record); err != nil {
		return AlreadyPresent, err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return AlreadyPresent, fmt.Errorf("failed to marshal payment: %w", err)
	}

	keys := []string{paymentsData, indexKey(record.Source)}
	inserted, err := insertScript.Run(ctx, r.client, keys,
		record.CorrelationID, data, record.RequestedAt.UnixMilli(),
	).Int()
	if err != nil {
		return AlreadyPresent, fmt.Errorf("failed to insert payment: %w", err)
	}

	if inserted == 0 {
		return AlreadyPresent, nil
	}
	return Inserted, nil
}

func (r *RedisStore) RangeScan(ctx context.Context, filter models.RecordFilter) ([]models.PaymentRecord, error) {
	sources := []constants.Source{
		constants.DefaultProcessorKey,
		constants.FallbackProcessorKey,
		constants.UnprocessedKey,
	}
	if filter.Source != nil {
		sources = []constants.Source{*filter.Source}
	}

	rangeBy := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if filter.From != nil {
		rangeBy.Min = strconv.FormatInt(filter.From.UnixMilli(), 10)
	}
	if filter.To != nil {
		rangeBy.Max = strconv.FormatInt(filter.To.UnixMilli(), 10)
	}

	var out []models.PaymentRecord
	for _, source := range sources {
		ids, err := r.client.ZRangeByScore(ctx, indexKey(source), rangeBy).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s payments: %w", source, err)
		}
		if len(ids) == 0 {
			continue
		}

		values, err := r.client.HMGet(ctx, paymentsData, ids...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load %s payments: %w", source, err)
		}

		for _, value := range values {
			raw, ok := value.(string)
			if !ok {
				// index entry outlived a purge that raced with the scan
				continue
			}
			var record models.PaymentRecord
			if err := json.Unmarshal([]byte(raw), &record); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
			}
			if filter.Match(record) {
				out = append(out, record)
			}
		}
	}

	return out, nil
}

func (r *RedisStore) ClearAll(ctx context.Context) error {
	return r.client.Del(ctx,
		paymentsData,
		indexKey(constants.DefaultProcessorKey),
		indexKey(constants.FallbackProcessorKey),
		indexKey(constants.UnprocessedKey),
	).Err()
}

func (r *RedisStore) Close() error { return nil }

func (r *RedisStore) GetProcessorHealth(ctx context.Context, processor constants.Source) (*models.HealthSnapshot, error) {
	data, err := r.client.Get(ctx, healthPrefix+string(processor)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health processor: %w", err)
	}

	var health models.HealthSnapshot
	if err := json.Unmarshal(data, &health); err != nil {
		return nil, fmt.Errorf("failed to unmarshal health processor: %w", err)
	}
	return &health, nil
}

func (r *RedisStore) SetProcessorHealth(ctx context.Context, processor constants.Source, health models.HealthSnapshot) error {
	data, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("failed to marshal health processor: %w", err)
	}

	return r.client.Set(ctx, healthPrefix+string(processor), data, 0).Err()
}
