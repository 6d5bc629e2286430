// Package marketdata moves price data from the TimescaleDB collector
// tables into the Redis cache the trading engine reads from.
package marketdata

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"trading-engine/internal/types"
)

// Reader loads the latest prices from the collector's TimescaleDB tables.
type Reader interface {
	LatestRawQuotes(ctx context.Context) ([]types.RawQuote, error)
	LatestPriceStats(ctx context.Context) ([]types.PriceStats, error)
	Ping(ctx context.Context) error
}

// PostgresReader reads from crypto_raw_prices and crypto_price_stats over
// a pgx connection pool.
type PostgresReader struct {
	pool *pgxpool.Pool
}

// NewPostgresReader connects a pool and verifies it with a ping.
func NewPostgresReader(ctx context.Context, dsn string) (*PostgresReader, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect timescaledb: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping timescaledb: %w", err)
	}
	return &PostgresReader{pool: pool}, nil
}

// NewPostgresReaderFromPool wraps an existing pool.
func NewPostgresReaderFromPool(pool *pgxpool.Pool) *PostgresReader {
	return &PostgresReader{pool: pool}
}

// LatestRawQuotes returns the most recent ticker row per (exchange, symbol).
func (r *PostgresReader) LatestRawQuotes(ctx context.Context) ([]types.RawQuote, error) {
	const q = `
		SELECT DISTINCT ON (exchange, symbol)
		       id, exchange, symbol, last, bid, ask, high, low, volume, timestamp
		FROM crypto_raw_prices
		ORDER BY exchange, symbol, timestamp DESC`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query raw quotes: %w", err)
	}
	defer rows.Close()

	var out []types.RawQuote
	for rows.Next() {
		var rq types.RawQuote
		if err := rows.Scan(&rq.ID, &rq.Exchange, &rq.Symbol, &rq.Last, &rq.Bid,
			&rq.Ask, &rq.High, &rq.Low, &rq.Volume, &rq.Timestamp); err != nil {
			return nil, fmt.Errorf("scan raw quote: %w", err)
		}
		out = append(out, rq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw quotes: %w", err)
	}
	return out, nil
}

// LatestPriceStats returns the most recent cross-exchange aggregate per symbol.
func (r *PostgresReader) LatestPriceStats(ctx context.Context) ([]types.PriceStats, error) {
	const q = `
		SELECT DISTINCT ON (symbol)
		       id, symbol, highest_price, highest_exchange,
		       lowest_price, lowest_exchange,
		       record_count, earliest_timestamp, latest_timestamp
		FROM crypto_price_stats
		ORDER BY symbol, latest_timestamp DESC`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query price stats: %w", err)
	}
	defer rows.Close()

	var out []types.PriceStats
	for rows.Next() {
		var ps types.PriceStats
		if err := rows.Scan(&ps.ID, &ps.Symbol, &ps.HighestPrice, &ps.HighestExchange,
			&ps.LowestPrice, &ps.LowestExchange, &ps.RecordCount,
			&ps.EarliestTimestamp, &ps.LatestTimestamp); err != nil {
			return nil, fmt.Errorf("scan price stats: %w", err)
		}
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price stats: %w", err)
	}
	return out, nil
}

// Ping checks database liveness.
func (r *PostgresReader) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *PostgresReader) Close() {
	r.pool.Close()
}
