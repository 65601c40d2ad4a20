package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mochaeng/payment-router/internal/constants"
	"github.com/mochaeng/payment-router/internal/models"
	"github.com/shopspring/decimal"
)

const schema = `
create table if not exists payments (
	correlation_id text primary key,
	amount         numeric not null,
	source         text not null,
	requested_at   timestamptz not null,
	processed_at   timestamptz not null
);
alter table payments alter column amount type numeric;
create index if not exists payments_source_requested_at on payments (source, requested_at);
`

const (
	selectColumns = `select correlation_id, amount::text, source, requested_at, processed_at from payments`

	insertQuery = `insert into payments (correlation_id, amount, source, requested_at, processed_at)
			  values ($1, $2::numeric, $3, $4, $5)
			  on conflict (correlation_id) do nothing`
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 32
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}

	if _, err := pool.Exec(connectCtx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Get(ctx context.Context, correlationID string) (*models.PaymentRecord, error) {
	row := p.pool.QueryRow(ctx, selectColumns+` where correlation_id = $1`, correlationID)

	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return record, nil
}

func (p *PostgresStore) UpsertIfAbsent(ctx context.Context, record models.PaymentRecord) (InsertResult, error) {
	if err := checkSource(record); err != nil {
		return AlreadyPresent, err
	}
	tag, err := p.pool.Exec(ctx, insertQuery,
		record.CorrelationID,
		record.Amount.String(),
		string(record.Source),
		record.RequestedAt,
		record.ProcessedAt,
	)
	if err != nil {
		return AlreadyPresent, fmt.Errorf("failed to insert payment: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return AlreadyPresent, nil
	}
	return Inserted, nil
}

func (p *PostgresStore) RangeScan(ctx context.Context, filter models.RecordFilter) ([]models.PaymentRecord, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.Source != nil {
		args = append(args, string(*filter.Source))
		conditions = append(conditions, fmt.Sprintf("source = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("requested_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("requested_at <= $%d", len(args)))
	}

	query := selectColumns
	if len(conditions) > 0 {
		query += " where " + strings.Join(conditions, " and ")
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan payments: %w", err)
	}
	defer rows.Close()

	var out []models.PaymentRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read payment row: %w", err)
		}
		out = append(out, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresStore) ClearAll(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `truncate table payments`)
	return err
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (*models.PaymentRecord, error) {
	var (
		record models.PaymentRecord
		amount string
		source string
	)

	if err := row.Scan(&record.CorrelationID, &amount, &source, &record.RequestedAt, &record.ProcessedAt); err != nil {
		return nil, err
	}

	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}

	record.Amount = value
	record.Source = constants.Source(source)
	record.RequestedAt = record.RequestedAt.UTC()
	record.ProcessedAt = record.ProcessedAt.UTC()
	return &record, nil
}
