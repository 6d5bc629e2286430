package types

import (
	"fmt"
	"time"
)

// TradingMode selects which strategies a session runs.
type TradingMode string

const (
	ModeArbitrage    TradingMode = "ARBITRAGE"
	ModeMarketMaking TradingMode = "MARKET_MAKING"
	ModeMixed        TradingMode = "MIXED"
)

// ParseTradingMode maps the wire representation to a TradingMode.
// Unrecognized values fall back to MIXED, matching the HTTP contract.
func ParseTradingMode(s string) TradingMode {
	switch s {
	case string(ModeArbitrage):
		return ModeArbitrage
	case string(ModeMarketMaking):
		return ModeMarketMaking
	default:
		return ModeMixed
	}
}

// Status is the lifecycle state shared by the engine and its sessions.
type Status string

const (
	StatusStopped  Status = "STOPPED"
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusStopping Status = "STOPPING"
	StatusError    Status = "ERROR"
)

// Default risk thresholds applied when a request omits them.
const (
	DefaultTakeProfitRatio = 0.10
	DefaultStopLossRatio   = 0.05
)

// ClientRequest is the immutable configuration a session is created from.
type ClientRequest struct {
	ClientID     string      `json:"client_id"`
	Symbol       string      `json:"symbol"`
	Exchange     string      `json:"exchange"`
	MaxAmount    float64     `json:"max_amount"`
	TargetProfit float64     `json:"target_profit"` // bps
	Mode         TradingMode `json:"mode"`

	TakeProfitRatio float64 `json:"take_profit_ratio"`
	StopLossRatio   float64 `json:"stop_loss_ratio"`
}

// ApplyDefaults fills the risk ratios when the caller left them zero.
func (r *ClientRequest) ApplyDefaults() {
	if r.TakeProfitRatio <= 0 {
		r.TakeProfitRatio = DefaultTakeProfitRatio
	}
	if r.StopLossRatio <= 0 {
		r.StopLossRatio = DefaultStopLossRatio
	}
}

// RawQuote is the latest ticker snapshot for one (exchange, symbol) pair.
type RawQuote struct {
	ID        int     `json:"id"`
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// Mid returns the quote midpoint.
func (q RawQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// SpreadBPS returns the bid/ask spread in basis points of the midpoint.
func (q RawQuote) SpreadBPS() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return 0
	}
	return (q.Ask - q.Bid) / mid * 10000
}

// PriceStats is the cross-exchange aggregate for one symbol.
type PriceStats struct {
	ID                int     `json:"id"`
	Symbol            string  `json:"symbol"`
	HighestPrice      float64 `json:"highest_price"`
	HighestExchange   string  `json:"highest_exchange"`
	LowestPrice       float64 `json:"lowest_price"`
	LowestExchange    string  `json:"lowest_exchange"`
	RecordCount       int     `json:"record_count"`
	EarliestTimestamp int64   `json:"earliest_timestamp"`
	LatestTimestamp   int64   `json:"latest_timestamp"`
}

// LogLine formats an activity line with the [HH:MM:SS] prefix used in
// session and order logs.
func LogLine(at time.Time, msg string) string {
	return fmt.Sprintf("[%s] %s", at.Format("15:04:05"), msg)
}
