package strategy

import (
	"context"
	"fmt"
	"sync"

	"trading-engine/internal/marketdata"
	"trading-engine/internal/types"
)

// Taker fee per exchange in basis points. Exchanges we have no schedule
// for get a conservative default.
func ExchangeFeeBPS(exchange string) float64 {
	switch exchange {
	case "bitmart":
		return 25.0
	case "cryptocom":
		return 40.0
	case "mexc":
		return 20.0
	default:
		return 30.0
	}
}

// Opportunity is one evaluated cross-exchange price gap.
type Opportunity struct {
	Profitable   bool
	BuyExchange  string
	SellExchange string
	BuyPrice     float64
	SellPrice    float64
	GrossBPS     float64
	NetBPS       float64
	MaxQuantity  float64
	Reason       string // set when not profitable
}

// Arbitrage scans the cross-exchange price stats for gaps wide enough to
// cover both legs' fees.
type Arbitrage struct {
	cache  marketdata.Cache
	symbol string

	mu           sync.Mutex
	minProfitBPS float64
	maxTradeSize float64 // quote-currency notional per opportunity
}

// NewArbitrage creates a strategy with per-symbol default thresholds.
// Thinner markets get a wider minimum and a smaller size cap.
func NewArbitrage(cache marketdata.Cache, symbol string) *Arbitrage {
	a := &Arbitrage{cache: cache, symbol: symbol}
	switch symbol {
	case "BTC/USDT":
		a.minProfitBPS, a.maxTradeSize = 20.0, 8000.0
	case "ETH/USDT":
		a.minProfitBPS, a.maxTradeSize = 25.0, 6000.0
	default:
		a.minProfitBPS, a.maxTradeSize = 30.0, 4000.0
	}
	return a
}

func (a *Arbitrage) Name() string { return "arbitrage" }

// SetMinProfitBPS overrides the profitability threshold. Non-positive
// values keep the current setting.
func (a *Arbitrage) SetMinProfitBPS(bps float64) {
	if bps <= 0 {
		return
	}
	a.mu.Lock()
	a.minProfitBPS = bps
	a.mu.Unlock()
}

// SetMaxTradeSize overrides the per-opportunity notional cap.
func (a *Arbitrage) SetMaxTradeSize(size float64) {
	if size <= 0 {
		return
	}
	a.mu.Lock()
	a.maxTradeSize = size
	a.mu.Unlock()
}

// RunOnce reads the latest cross-exchange stats and evaluates the spread
// between the cheapest and the most expensive venue.
func (a *Arbitrage) RunOnce(ctx context.Context) Result {
	var res Result
	res.Logs = append(res.Logs, "=== Arbitrage Opportunity Scan ===")

	stats, ok, err := a.cache.PriceStats(ctx, a.symbol)
	if err != nil || !ok {
		res.Logs = append(res.Logs,
			fmt.Sprintf("No price stats available for %s, waiting for market data sync", a.symbol))
		return res
	}

	res.Logs = append(res.Logs, fmt.Sprintf(
		"Price stats for %s: highest $%.2f @ %s, lowest $%.2f @ %s, %d exchanges analyzed",
		a.symbol, stats.HighestPrice, stats.HighestExchange,
		stats.LowestPrice, stats.LowestExchange, stats.RecordCount))

	opp := a.Evaluate(stats)
	if !opp.Profitable {
		res.Logs = append(res.Logs, "No arbitrage opportunity: "+opp.Reason)
		return res
	}

	res.Profit = opp.NetBPS / 10000.0 * opp.BuyPrice * opp.MaxQuantity
	res.Trades = 2
	res.Logs = append(res.Logs, fmt.Sprintf(
		"Opportunity: buy @ %.4f (%s), sell @ %.4f (%s), net %.2f bps, profit $%.2f",
		opp.BuyPrice, opp.BuyExchange, opp.SellPrice, opp.SellExchange, opp.NetBPS, res.Profit))
	return res
}

// Evaluate scores a stats record without touching the cache.
func (a *Arbitrage) Evaluate(stats types.PriceStats) Opportunity {
	a.mu.Lock()
	minBPS, maxSize := a.minProfitBPS, a.maxTradeSize
	a.mu.Unlock()

	opp := Opportunity{
		BuyExchange:  stats.LowestExchange,
		SellExchange: stats.HighestExchange,
		BuyPrice:     stats.LowestPrice,
		SellPrice:    stats.HighestPrice,
	}

	opp.NetBPS = NetProfitBPS(opp.BuyPrice, opp.SellPrice, opp.BuyExchange, opp.SellExchange)
	if opp.BuyPrice > 0 {
		opp.GrossBPS = (opp.SellPrice - opp.BuyPrice) / opp.BuyPrice * 10000
	}

	if opp.NetBPS < minBPS {
		opp.Reason = fmt.Sprintf("net profit %.2f bps below minimum %.2f bps", opp.NetBPS, minBPS)
		return opp
	}

	opp.Profitable = true
	opp.MaxQuantity = maxSize / opp.BuyPrice
	return opp
}

// NetProfitBPS is the spread after both legs' taker fees, expressed in
// basis points of the buy price. Invalid prices score an impossible loss.
func NetProfitBPS(buyPrice, sellPrice float64, buyExchange, sellExchange string) float64 {
	if buyPrice <= 0 || sellPrice <= 0 {
		return -1000.0
	}
	buyFee := buyPrice * ExchangeFeeBPS(buyExchange) / 10000.0
	sellFee := sellPrice * ExchangeFeeBPS(sellExchange) / 10000.0
	net := (sellPrice - buyPrice) - (buyFee + sellFee)
	return net / buyPrice * 10000.0
}

// Healthy reports whether the price cache is reachable.
func (a *Arbitrage) Healthy(ctx context.Context) bool {
	return a.cache.Ping(ctx) == nil
}
