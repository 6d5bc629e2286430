// Package strategy holds the pluggable trading strategies sessions run on
// each engine tick. Strategies read prices from the Redis cache and report
// what they did; the engine owns order placement and risk.
package strategy

import "context"

// Result is the outcome of one strategy pass.
type Result struct {
	Profit float64  // realized profit estimate in quote currency
	Trades int      // trades this pass contributed
	Logs   []string // human-readable activity lines for the session log
}

// Strategy is one trading algorithm bound to a symbol.
type Strategy interface {
	Name() string
	RunOnce(ctx context.Context) Result
	Healthy(ctx context.Context) bool
}
