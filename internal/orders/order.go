// Package orders tracks orders created on behalf of trading sessions and
// drives them through submission, fills, cancellation and expiry against
// the execution gateway.
package orders

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrInvalidQuantity = errors.New("order quantity must be positive")
	ErrNotCancelable   = errors.New("order is not in a cancelable state")
	ErrNeverSubmitted  = errors.New("order has no exchange order id - it was never submitted")
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// wire returns the gateway's lowercase representation.
func (s Side) wire() string {
	return strings.ToLower(string(s))
}

// Type distinguishes market and limit orders.
type Type string

const (
	TypeMarket Type = "MARKET"
	TypeLimit  Type = "LIMIT"
)

// Status is the order lifecycle state.
//
//	PENDING -> SUBMITTED -> PARTIAL -> FILLED
//	                     \-> CANCELLED / EXPIRED
//	PENDING -> FAILED (submission rejected)
//
// Terminal statuses are never mutated again.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSubmitted Status = "SUBMITTED"
	StatusPartial   Status = "PARTIAL"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Order is one tracked order. Values handed out by the ledger are
// snapshots; the live record never escapes the ledger's lock.
type Order struct {
	OrderID         string    `json:"order_id"`
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Exchange        string    `json:"exchange"`
	Symbol          string    `json:"symbol"`
	Side            Side      `json:"side"`
	Type            Type      `json:"type"`
	Quantity        float64   `json:"quantity"`
	Price           float64   `json:"price"` // limit price, 0 for market orders
	FilledQuantity  float64   `json:"filled_quantity"`
	AveragePrice    float64   `json:"average_price"`
	Status          Status    `json:"status"`
	ExchangeOrderID string    `json:"exchange_order_id"` // empty until submitted
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// FilledAmount is the executed notional value.
func (o *Order) FilledAmount() float64 {
	return o.FilledQuantity * o.AveragePrice
}

// Active reports whether the order is live at the exchange.
func (o *Order) Active() bool {
	return o.Status == StatusSubmitted || o.Status == StatusPartial
}

// ShouldCancel reports whether the order is live but past its expiry.
func (o *Order) ShouldCancel(now time.Time) bool {
	return o.Active() && now.After(o.ExpiresAt)
}
