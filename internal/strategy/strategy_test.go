package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-engine/internal/types"
)

// stubCache serves fixed values for the lookups strategies make.
type stubCache struct {
	quote   types.RawQuote
	quoteOK bool
	stats   types.PriceStats
	statsOK bool
	pingErr error
}

func (s *stubCache) StoreRawQuote(ctx context.Context, q types.RawQuote) error     { return nil }
func (s *stubCache) StorePriceStats(ctx context.Context, p types.PriceStats) error { return nil }

func (s *stubCache) RawQuote(ctx context.Context, exchange, symbol string) (types.RawQuote, bool, error) {
	return s.quote, s.quoteOK, nil
}

func (s *stubCache) PriceStats(ctx context.Context, symbol string) (types.PriceStats, bool, error) {
	return s.stats, s.statsOK, nil
}

func (s *stubCache) RawQuotesByExchange(ctx context.Context, exchange string) ([]types.RawQuote, error) {
	return nil, nil
}
func (s *stubCache) AllRawQuotes(ctx context.Context) ([]types.RawQuote, error)     { return nil, nil }
func (s *stubCache) AllPriceStats(ctx context.Context) ([]types.PriceStats, error)  { return nil, nil }
func (s *stubCache) ClearRawQuotes(ctx context.Context) error                       { return nil }
func (s *stubCache) ClearPriceStats(ctx context.Context) error                      { return nil }
func (s *stubCache) Ping(ctx context.Context) error                                 { return s.pingErr }

func TestExchangeFeeBPS(t *testing.T) {
	assert.Equal(t, 25.0, ExchangeFeeBPS("bitmart"))
	assert.Equal(t, 40.0, ExchangeFeeBPS("cryptocom"))
	assert.Equal(t, 20.0, ExchangeFeeBPS("mexc"))
	assert.Equal(t, 30.0, ExchangeFeeBPS("some-new-venue"))
}

func TestNetProfitBPS(t *testing.T) {
	// buy 100 @ mexc (20 bps), sell 101 @ bitmart (25 bps):
	// fees = 0.20 + 0.2525 = 0.4525, net = 1 - 0.4525 = 0.5475 -> 54.75 bps
	assert.InDelta(t, 54.75, NetProfitBPS(100, 101, "mexc", "bitmart"), 0.01)

	assert.Equal(t, -1000.0, NetProfitBPS(0, 101, "mexc", "bitmart"))
	assert.Equal(t, -1000.0, NetProfitBPS(100, -1, "mexc", "bitmart"))
}

func TestArbitrage_DefaultThresholdsPerSymbol(t *testing.T) {
	btc := NewArbitrage(&stubCache{}, "BTC/USDT")
	assert.Equal(t, 20.0, btc.minProfitBPS)
	assert.Equal(t, 8000.0, btc.maxTradeSize)

	eth := NewArbitrage(&stubCache{}, "ETH/USDT")
	assert.Equal(t, 25.0, eth.minProfitBPS)
	assert.Equal(t, 6000.0, eth.maxTradeSize)

	other := NewArbitrage(&stubCache{}, "XRP/USDT")
	assert.Equal(t, 30.0, other.minProfitBPS)
	assert.Equal(t, 4000.0, other.maxTradeSize)
}

func TestArbitrage_EvaluateProfitableGap(t *testing.T) {
	a := NewArbitrage(&stubCache{}, "BTC/USDT")

	opp := a.Evaluate(types.PriceStats{
		Symbol:          "BTC/USDT",
		HighestPrice:    101,
		HighestExchange: "bitmart",
		LowestPrice:     100,
		LowestExchange:  "mexc",
	})

	require.True(t, opp.Profitable)
	assert.Equal(t, "mexc", opp.BuyExchange)
	assert.Equal(t, "bitmart", opp.SellExchange)
	assert.InDelta(t, 100.0, opp.GrossBPS, 0.01)
	assert.InDelta(t, 54.75, opp.NetBPS, 0.01)
	assert.InDelta(t, 80.0, opp.MaxQuantity, 1e-9, "8000 notional cap / 100 buy price")
}

func TestArbitrage_EvaluateRejectsThinGap(t *testing.T) {
	a := NewArbitrage(&stubCache{}, "BTC/USDT")

	opp := a.Evaluate(types.PriceStats{
		HighestPrice:    100.10,
		HighestExchange: "bitmart",
		LowestPrice:     100.00,
		LowestExchange:  "mexc",
	})

	assert.False(t, opp.Profitable)
	assert.Contains(t, opp.Reason, "below minimum")
}

func TestArbitrage_RunOnceWithoutStats(t *testing.T) {
	a := NewArbitrage(&stubCache{statsOK: false}, "BTC/USDT")

	res := a.RunOnce(context.Background())
	assert.Zero(t, res.Profit)
	assert.Zero(t, res.Trades)
	assert.NotEmpty(t, res.Logs)
}

func TestArbitrage_RunOnceReportsProfit(t *testing.T) {
	cache := &stubCache{
		statsOK: true,
		stats: types.PriceStats{
			Symbol:          "BTC/USDT",
			HighestPrice:    101,
			HighestExchange: "bitmart",
			LowestPrice:     100,
			LowestExchange:  "mexc",
			RecordCount:     4,
		},
	}
	a := NewArbitrage(cache, "BTC/USDT")

	res := a.RunOnce(context.Background())
	assert.Equal(t, 2, res.Trades)
	// 54.75 bps on 80 units bought at 100
	assert.InDelta(t, 43.8, res.Profit, 0.05)
}

func TestArbitrage_SettersIgnoreNonPositive(t *testing.T) {
	a := NewArbitrage(&stubCache{}, "BTC/USDT")
	a.SetMinProfitBPS(50)
	a.SetMinProfitBPS(0)
	assert.Equal(t, 50.0, a.minProfitBPS)

	a.SetMaxTradeSize(12000)
	a.SetMaxTradeSize(-5)
	assert.Equal(t, 12000.0, a.maxTradeSize)
}

func TestMarketMaking_DefaultParamsPerSymbol(t *testing.T) {
	cases := []struct {
		symbol string
		spread float64
		size   float64
	}{
		{"BTC/USDT", 5.0, 0.001},
		{"ETH/USDT", 6.0, 0.01},
		{"XRP/USDT", 8.0, 10.0},
		{"SOL/USDT", 10.0, 0.1},
		{"DOGE/USDT", 15.0, 0.01},
	}
	for _, tc := range cases {
		m := NewMarketMaking(&stubCache{}, tc.symbol, "bitmart")
		assert.Equal(t, tc.spread, m.spreadBPS, tc.symbol)
		assert.Equal(t, tc.size, m.orderSize, tc.symbol)
	}
}

func TestMarketMaking_QuotesRoundAwayFromFairValue(t *testing.T) {
	m := NewMarketMaking(&stubCache{}, "BTC/USDT", "bitmart")
	m.SetSpreadBPS(10) // half spread of 5 bps

	bid, ask := m.Quotes(10000)
	// half spread = 10000 * 10/10000/2 = 5
	assert.Equal(t, 9995.0, bid)
	assert.Equal(t, 10005.0, ask)
	assert.Less(t, bid, ask)

	// rounding widens, never narrows
	bid, ask = m.Quotes(10000.333)
	assert.LessOrEqual(t, bid, 10000.333-4.9)
	assert.GreaterOrEqual(t, ask, 10000.333+4.9)
}

func TestMarketMaking_RunOnceQuotesAroundMid(t *testing.T) {
	cache := &stubCache{
		quoteOK: true,
		quote:   types.RawQuote{Exchange: "bitmart", Symbol: "BTC/USDT", Bid: 99, Ask: 101, Last: 100},
	}
	m := NewMarketMaking(cache, "BTC/USDT", "bitmart")

	res := m.RunOnce(context.Background())
	assert.Equal(t, 2, res.Trades)
	assert.Zero(t, res.Profit)
	assert.NotEmpty(t, res.Logs)
}

func TestMarketMaking_RunOnceWithoutData(t *testing.T) {
	m := NewMarketMaking(&stubCache{quoteOK: false}, "BTC/USDT", "bitmart")

	res := m.RunOnce(context.Background())
	assert.Zero(t, res.Trades)
	assert.Contains(t, res.Logs[len(res.Logs)-1], "No valid market data")
}

func TestStrategies_HealthyTracksCachePing(t *testing.T) {
	down := &stubCache{pingErr: errors.New("redis gone")}
	assert.False(t, NewArbitrage(down, "BTC/USDT").Healthy(context.Background()))
	assert.False(t, NewMarketMaking(down, "BTC/USDT", "bitmart").Healthy(context.Background()))

	up := &stubCache{}
	assert.True(t, NewArbitrage(up, "BTC/USDT").Healthy(context.Background()))
	assert.True(t, NewMarketMaking(up, "BTC/USDT", "bitmart").Healthy(context.Background()))
}
