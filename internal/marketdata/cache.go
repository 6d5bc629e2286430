package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trading-engine/internal/types"
)

const (
	rawKeyPrefix   = "crypto:raw:"   // crypto:raw:<exchange>:<symbol>
	statsKeyPrefix = "crypto:stats:" // crypto:stats:<symbol>
)

// Cache is the read/write surface over the Redis price cache. Lookups for
// keys that are absent return ok=false with a nil error; an error means
// Redis itself misbehaved.
type Cache interface {
	StoreRawQuote(ctx context.Context, q types.RawQuote) error
	StorePriceStats(ctx context.Context, s types.PriceStats) error
	RawQuote(ctx context.Context, exchange, symbol string) (types.RawQuote, bool, error)
	PriceStats(ctx context.Context, symbol string) (types.PriceStats, bool, error)
	RawQuotesByExchange(ctx context.Context, exchange string) ([]types.RawQuote, error)
	AllRawQuotes(ctx context.Context) ([]types.RawQuote, error)
	AllPriceStats(ctx context.Context) ([]types.PriceStats, error)
	ClearRawQuotes(ctx context.Context) error
	ClearPriceStats(ctx context.Context) error
	Ping(ctx context.Context) error
}

// RedisCache stores quotes and stats as JSON values with a TTL so entries
// from a stalled sync age out on their own.
type RedisCache struct {
	client *redis.Client
	expire time.Duration
}

// NewRedisCache wraps an existing client. A non-positive expire disables
// the TTL.
func NewRedisCache(client *redis.Client, expire time.Duration) *RedisCache {
	return &RedisCache{client: client, expire: expire}
}

func rawKey(exchange, symbol string) string {
	return rawKeyPrefix + exchange + ":" + symbol
}

func statsKey(symbol string) string {
	return statsKeyPrefix + symbol
}

func (c *RedisCache) StoreRawQuote(ctx context.Context, q types.RawQuote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal raw quote: %w", err)
	}
	if err := c.client.Set(ctx, rawKey(q.Exchange, q.Symbol), data, c.expire).Err(); err != nil {
		return fmt.Errorf("store raw quote %s/%s: %w", q.Exchange, q.Symbol, err)
	}
	return nil
}

func (c *RedisCache) StorePriceStats(ctx context.Context, s types.PriceStats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal price stats: %w", err)
	}
	if err := c.client.Set(ctx, statsKey(s.Symbol), data, c.expire).Err(); err != nil {
		return fmt.Errorf("store price stats %s: %w", s.Symbol, err)
	}
	return nil
}

func (c *RedisCache) RawQuote(ctx context.Context, exchange, symbol string) (types.RawQuote, bool, error) {
	var q types.RawQuote
	data, err := c.client.Get(ctx, rawKey(exchange, symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return q, false, nil
	}
	if err != nil {
		return q, false, fmt.Errorf("get raw quote %s/%s: %w", exchange, symbol, err)
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return q, false, fmt.Errorf("decode raw quote %s/%s: %w", exchange, symbol, err)
	}
	return q, true, nil
}

func (c *RedisCache) PriceStats(ctx context.Context, symbol string) (types.PriceStats, bool, error) {
	var s types.PriceStats
	data, err := c.client.Get(ctx, statsKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return s, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("get price stats %s: %w", symbol, err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, false, fmt.Errorf("decode price stats %s: %w", symbol, err)
	}
	return s, true, nil
}

// RawQuotesByExchange returns every cached quote for one exchange.
func (c *RedisCache) RawQuotesByExchange(ctx context.Context, exchange string) ([]types.RawQuote, error) {
	return c.scanRaw(ctx, rawKeyPrefix+exchange+":*")
}

// AllRawQuotes returns every cached quote across all exchanges.
func (c *RedisCache) AllRawQuotes(ctx context.Context) ([]types.RawQuote, error) {
	return c.scanRaw(ctx, rawKeyPrefix+"*")
}

func (c *RedisCache) scanRaw(ctx context.Context, pattern string) ([]types.RawQuote, error) {
	var out []types.RawQuote
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		data, err := c.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", iter.Val(), err)
		}
		var q types.RawQuote
		if err := json.Unmarshal(data, &q); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Val(), err)
		}
		out = append(out, q)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return out, nil
}

// AllPriceStats returns every cached cross-exchange aggregate.
func (c *RedisCache) AllPriceStats(ctx context.Context) ([]types.PriceStats, error) {
	var out []types.PriceStats
	iter := c.client.Scan(ctx, 0, statsKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := c.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", iter.Val(), err)
		}
		var s types.PriceStats
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Val(), err)
		}
		out = append(out, s)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan stats: %w", err)
	}
	return out, nil
}

// ClearRawQuotes deletes all cached quotes.
func (c *RedisCache) ClearRawQuotes(ctx context.Context) error {
	return c.clearPattern(ctx, rawKeyPrefix+"*")
}

// ClearPriceStats deletes all cached aggregates.
func (c *RedisCache) ClearPriceStats(ctx context.Context) error {
	return c.clearPattern(ctx, statsKeyPrefix+"*")
}

func (c *RedisCache) clearPattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete %d keys: %w", len(keys), err)
	}
	return nil
}

// Ping checks cache liveness.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
