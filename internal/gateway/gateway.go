// Package gateway wraps the external order-execution service: an HTTP JSON
// API that places and cancels orders on real exchanges and reports order
// status and account balances.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"trading-engine/internal/logger"
)

// Executor is the surface the order ledger consumes. Implemented by the
// HTTP gateway and by the test mock.
type Executor interface {
	PlaceLimitOrder(ctx context.Context, exchange, userID, symbol, side string, amount, price float64) (PlaceResult, error)
	PlaceMarketOrder(ctx context.Context, exchange, userID, symbol, side string, amount float64) (PlaceResult, error)
	CancelOrder(ctx context.Context, exchange, userID, symbol, exchangeOrderID string) error
	OrderStatus(ctx context.Context, exchange, userID, symbol, exchangeOrderID string) (StatusResult, error)
	Balance(ctx context.Context, exchange, userID string) (Balances, error)
}

// PlaceResult is the outcome of a successful order placement.
type PlaceResult struct {
	OrderID string
}

// StatusResult reports the exchange's view of an order.
// Status values follow the gateway contract: open, closed, canceled.
type StatusResult struct {
	OrderID   string
	Status    string
	Filled    float64
	Remaining float64
}

// Balance holds one currency's account balance.
type Balance struct {
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
}

// Balances maps currency code (BTC, USDT, ...) to its balance.
type Balances map[string]Balance

// Gateway is the HTTP implementation of Executor.
type Gateway struct {
	client *Client
}

// New creates a Gateway against the given base URL.
func New(opts ...ClientOption) *Gateway {
	return &Gateway{client: NewClient(opts...)}
}

// detail-bearing responses are application-level errors regardless of the
// HTTP status code and must short-circuit success parsing.
type apiError struct {
	Detail string `json:"detail"`
}

func checkDetail(body []byte) error {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Detail != "" {
		return fmt.Errorf("gateway error: %s", e.Detail)
	}
	return nil
}

type placeOrderRequest struct {
	Exchange string  `json:"exchange"`
	UserID   string  `json:"user_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Amount   float64 `json:"amount"`
	Price    float64 `json:"price,omitempty"`
}

type placeOrderResponse struct {
	ID string `json:"id"`
}

// PlaceLimitOrder submits a limit order. Exactly one attempt; retries are
// the caller's responsibility.
func (g *Gateway) PlaceLimitOrder(ctx context.Context, exchange, userID, symbol, side string, amount, price float64) (PlaceResult, error) {
	logger.Debug(ctx, "Placing limit order",
		"exchange", exchange, "symbol", symbol, "side", side, "amount", amount, "price", price)

	return g.placeOrder(ctx, "/trade/order/limit", placeOrderRequest{
		Exchange: exchange,
		UserID:   userID,
		Symbol:   symbol,
		Side:     side,
		Amount:   amount,
		Price:    price,
	})
}

// PlaceMarketOrder submits a market order. Exactly one attempt.
func (g *Gateway) PlaceMarketOrder(ctx context.Context, exchange, userID, symbol, side string, amount float64) (PlaceResult, error) {
	logger.Debug(ctx, "Placing market order",
		"exchange", exchange, "symbol", symbol, "side", side, "amount", amount)

	return g.placeOrder(ctx, "/trade/order/market", placeOrderRequest{
		Exchange: exchange,
		UserID:   userID,
		Symbol:   symbol,
		Side:     side,
		Amount:   amount,
	})
}

func (g *Gateway) placeOrder(ctx context.Context, endpoint string, req placeOrderRequest) (PlaceResult, error) {
	resp, err := g.client.POST(ctx, endpoint, req)
	if err != nil {
		return PlaceResult{}, err
	}
	if err := checkDetail(resp.Body); err != nil {
		return PlaceResult{}, err
	}

	var out placeOrderResponse
	if err := resp.ParseJSON(&out); err != nil {
		return PlaceResult{}, err
	}
	if out.ID == "" {
		return PlaceResult{}, fmt.Errorf("missing order id in gateway response: %s", resp.String())
	}
	return PlaceResult{OrderID: out.ID}, nil
}

type cancelOrderRequest struct {
	Exchange string `json:"exchange"`
	UserID   string `json:"user_id"`
	Symbol   string `json:"symbol"`
	OrderID  string `json:"order_id"`
}

// CancelOrder cancels an order by its exchange-assigned id.
func (g *Gateway) CancelOrder(ctx context.Context, exchange, userID, symbol, exchangeOrderID string) error {
	logger.Debug(ctx, "Cancelling order", "exchange", exchange, "exchange_order_id", exchangeOrderID)

	resp, err := g.client.POST(ctx, "/trade/order/cancel", cancelOrderRequest{
		Exchange: exchange,
		UserID:   userID,
		Symbol:   symbol,
		OrderID:  exchangeOrderID,
	})
	if err != nil {
		return err
	}
	return checkDetail(resp.Body)
}

type orderStatusResponse struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	Filled    float64 `json:"filled"`
	Remaining float64 `json:"remaining"`
}

// OrderStatus polls the gateway for an order's current state. Idempotent,
// so transient failures are retried.
func (g *Gateway) OrderStatus(ctx context.Context, exchange, userID, symbol, exchangeOrderID string) (StatusResult, error) {
	q := url.Values{}
	q.Set("exchange", exchange)
	q.Set("symbol", symbol)
	q.Set("order_id", exchangeOrderID)
	q.Set("user_id", userID)

	req := NewRequest("GET", "/trade/order?"+q.Encode()).WithContext(ctx)
	resp, err := g.client.DoWithRetry(req, nil)
	if err != nil {
		return StatusResult{}, err
	}
	if err := checkDetail(resp.Body); err != nil {
		return StatusResult{}, err
	}

	var out orderStatusResponse
	if err := resp.ParseJSON(&out); err != nil {
		return StatusResult{}, err
	}
	if out.ID == "" || out.Status == "" {
		return StatusResult{}, fmt.Errorf("missing required fields in order status response: %s", resp.String())
	}
	return StatusResult{
		OrderID:   out.ID,
		Status:    out.Status,
		Filled:    out.Filled,
		Remaining: out.Remaining,
	}, nil
}

type balanceRequest struct {
	Exchange string `json:"exchange"`
	UserID   string `json:"user_id"`
}

// Balance fetches per-currency balances for a user on one exchange.
func (g *Gateway) Balance(ctx context.Context, exchange, userID string) (Balances, error) {
	req := NewRequest("POST", "/trade/balance").WithContext(ctx).WithBody(balanceRequest{
		Exchange: exchange,
		UserID:   userID,
	})
	resp, err := g.client.DoWithRetry(req, nil)
	if err != nil {
		return nil, err
	}
	if err := checkDetail(resp.Body); err != nil {
		return nil, err
	}

	var out Balances
	if err := resp.ParseJSON(&out); err != nil {
		return nil, err
	}
	return out, nil
}
