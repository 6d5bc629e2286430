package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-engine/internal/types"
)

type fakeReader struct {
	quotes  []types.RawQuote
	stats   []types.PriceStats
	failure error
}

func (f *fakeReader) LatestRawQuotes(ctx context.Context) ([]types.RawQuote, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	return f.quotes, nil
}

func (f *fakeReader) LatestPriceStats(ctx context.Context) ([]types.PriceStats, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	return f.stats, nil
}

func (f *fakeReader) Ping(ctx context.Context) error { return f.failure }

type fakeCache struct {
	mu      sync.Mutex
	quotes  map[string]types.RawQuote
	stats   map[string]types.PriceStats
	pingErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		quotes: make(map[string]types.RawQuote),
		stats:  make(map[string]types.PriceStats),
	}
}

func (f *fakeCache) StoreRawQuote(ctx context.Context, q types.RawQuote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[q.Exchange+":"+q.Symbol] = q
	return nil
}

func (f *fakeCache) StorePriceStats(ctx context.Context, s types.PriceStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[s.Symbol] = s
	return nil
}

func (f *fakeCache) RawQuote(ctx context.Context, exchange, symbol string) (types.RawQuote, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[exchange+":"+symbol]
	return q, ok, nil
}

func (f *fakeCache) PriceStats(ctx context.Context, symbol string) (types.PriceStats, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stats[symbol]
	return s, ok, nil
}

func (f *fakeCache) RawQuotesByExchange(ctx context.Context, exchange string) ([]types.RawQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.RawQuote
	for _, q := range f.quotes {
		if q.Exchange == exchange {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeCache) AllRawQuotes(ctx context.Context) ([]types.RawQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.RawQuote, 0, len(f.quotes))
	for _, q := range f.quotes {
		out = append(out, q)
	}
	return out, nil
}

func (f *fakeCache) AllPriceStats(ctx context.Context) ([]types.PriceStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.PriceStats, 0, len(f.stats))
	for _, s := range f.stats {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeCache) ClearRawQuotes(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes = make(map[string]types.RawQuote)
	return nil
}

func (f *fakeCache) ClearPriceStats(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = make(map[string]types.PriceStats)
	return nil
}

func (f *fakeCache) Ping(ctx context.Context) error { return f.pingErr }

func testQuotes() []types.RawQuote {
	return []types.RawQuote{
		{Exchange: "bitmart", Symbol: "BTC/USDT", Bid: 99.5, Ask: 100.5, Last: 100},
		{Exchange: "mexc", Symbol: "BTC/USDT", Bid: 100.5, Ask: 101.5, Last: 101},
	}
}

func TestSync_SyncOnceCopiesQuotesAndStats(t *testing.T) {
	reader := &fakeReader{
		quotes: testQuotes(),
		stats:  []types.PriceStats{{Symbol: "BTC/USDT", HighestPrice: 101, LowestPrice: 100}},
	}
	cache := newFakeCache()
	s := NewSync(reader, cache)

	require.NoError(t, s.SyncOnce(context.Background()))

	q, ok, err := cache.RawQuote(context.Background(), "bitmart", "BTC/USDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100.0, q.Last)

	ps, ok, err := cache.PriceStats(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 101.0, ps.HighestPrice)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Cycles)
	assert.Equal(t, int64(0), stats.Failures)
	assert.Equal(t, int64(2), stats.QuotesSynced)
	assert.Equal(t, int64(1), stats.StatsSynced)
}

func TestSync_ReaderFailureCountsAsFailedCycle(t *testing.T) {
	reader := &fakeReader{failure: errors.New("db down")}
	s := NewSync(reader, newFakeCache())

	require.Error(t, s.SyncOnce(context.Background()))
	require.Error(t, s.SyncOnce(context.Background()))

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.Cycles)
	assert.Equal(t, int64(2), stats.Failures)
	assert.Equal(t, int64(0), stats.QuotesSynced)
}

func TestSync_CountersAreCumulative(t *testing.T) {
	reader := &fakeReader{quotes: testQuotes()}
	s := NewSync(reader, newFakeCache())

	require.NoError(t, s.SyncOnce(context.Background()))
	require.NoError(t, s.SyncOnce(context.Background()))

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.Cycles)
	assert.Equal(t, int64(4), stats.QuotesSynced)
	assert.False(t, stats.LastSyncAt.IsZero())
}

func TestSync_StartStopRefreshLoop(t *testing.T) {
	reader := &fakeReader{quotes: testQuotes()}
	s := NewSync(reader, newFakeCache())

	s.Start(20 * time.Millisecond)
	require.True(t, s.Running())

	require.Eventually(t, func() bool {
		return s.Stats().Cycles >= 2
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())

	time.Sleep(30 * time.Millisecond) // let an in-flight cycle drain
	settled := s.Stats().Cycles
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, s.Stats().Cycles, "no cycles after Stop")
}

func TestSync_HealthyTracksCachePing(t *testing.T) {
	cache := newFakeCache()
	s := NewSync(&fakeReader{}, cache)
	assert.True(t, s.Healthy(context.Background()))

	cache.pingErr = errors.New("redis gone")
	assert.False(t, s.Healthy(context.Background()))
}
