package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"

	"trading-engine/internal/marketdata"
)

// MarketMaking quotes a bid and an ask around the fair value of one
// symbol on one exchange.
type MarketMaking struct {
	cache    marketdata.Cache
	symbol   string
	exchange string

	mu        sync.Mutex
	spreadBPS float64
	orderSize float64 // base-currency quantity per quote
}

// NewMarketMaking creates a strategy with per-symbol default spread and
// size tuned to typical liquidity.
func NewMarketMaking(cache marketdata.Cache, symbol, exchange string) *MarketMaking {
	m := &MarketMaking{cache: cache, symbol: symbol, exchange: exchange}
	switch symbol {
	case "BTC/USDT":
		m.spreadBPS, m.orderSize = 5.0, 0.001
	case "ETH/USDT":
		m.spreadBPS, m.orderSize = 6.0, 0.01
	case "XRP/USDT":
		m.spreadBPS, m.orderSize = 8.0, 10.0
	case "SOL/USDT":
		m.spreadBPS, m.orderSize = 10.0, 0.1
	default:
		m.spreadBPS, m.orderSize = 15.0, 0.01
	}
	return m
}

func (m *MarketMaking) Name() string { return "market_making" }

// SetSpreadBPS overrides the quoted spread. Non-positive values keep the
// current setting.
func (m *MarketMaking) SetSpreadBPS(bps float64) {
	if bps <= 0 {
		return
	}
	m.mu.Lock()
	m.spreadBPS = bps
	m.mu.Unlock()
}

// SetOrderSize overrides the per-quote base quantity.
func (m *MarketMaking) SetOrderSize(size float64) {
	if size <= 0 {
		return
	}
	m.mu.Lock()
	m.orderSize = size
	m.mu.Unlock()
}

// RunOnce reads the venue's latest quote and computes our two-sided quote
// around its midpoint.
func (m *MarketMaking) RunOnce(ctx context.Context) Result {
	var res Result
	res.Logs = append(res.Logs,
		fmt.Sprintf("=== Market Making Run (%s : %s) ===", m.exchange, m.symbol))

	quote, ok, err := m.cache.RawQuote(ctx, m.exchange, m.symbol)
	if err != nil || !ok || quote.Bid <= 0 || quote.Ask <= 0 {
		res.Logs = append(res.Logs, "No valid market data available")
		return res
	}

	res.Logs = append(res.Logs, fmt.Sprintf(
		"Market data: bid=%.4f, ask=%.4f, last=%.4f, spread=%.2f bps",
		quote.Bid, quote.Ask, quote.Last, quote.SpreadBPS()))

	fairValue := quote.Mid()
	bid, ask := m.Quotes(fairValue)

	m.mu.Lock()
	size := m.orderSize
	m.mu.Unlock()

	ourSpreadBPS := (ask - bid) / ((bid + ask) / 2) * 10000
	res.Logs = append(res.Logs, fmt.Sprintf(
		"Quoting %.2f / %.2f around fair value %.4f (%.2f bps), size %g",
		bid, ask, fairValue, ourSpreadBPS, size))
	res.Logs = append(res.Logs, fmt.Sprintf(
		"Would place orders: BUY %g @ %.2f, SELL %g @ %.2f", size, bid, size, ask))

	res.Trades = 2
	return res
}

// Quotes computes the bid/ask around a fair value. The bid rounds down and
// the ask rounds up to the cent, so rounding never narrows the spread.
func (m *MarketMaking) Quotes(fairValue float64) (bid, ask float64) {
	m.mu.Lock()
	spreadBPS := m.spreadBPS
	m.mu.Unlock()

	halfSpread := fairValue * spreadBPS / 10000.0 / 2.0
	bid = math.Floor((fairValue-halfSpread)*100) / 100.0
	ask = math.Ceil((fairValue+halfSpread)*100) / 100.0
	return bid, ask
}

// Healthy reports whether the price cache is reachable.
func (m *MarketMaking) Healthy(ctx context.Context) bool {
	return m.cache.Ping(ctx) == nil
}
