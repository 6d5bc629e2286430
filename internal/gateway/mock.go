package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// PlacedCall records one order placement against the mock.
type PlacedCall struct {
	Exchange string
	UserID   string
	Symbol   string
	Side     string
	Type     string
	Amount   float64
	Price    float64
}

// Mock implements Executor for tests without a real gateway.
type Mock struct {
	mu            sync.Mutex
	placed        []PlacedCall
	cancelled     []string
	orderIDSeq    atomic.Int64
	balances      Balances
	statuses      map[string]StatusResult
	failPlace     string
	failPlaceSkip int
	failCancel    string
	failStatus    string
	failBalance   string
}

// MockOption configures the mock gateway
type MockOption func(*Mock)

// WithMockBalances sets the balances returned by Balance
func WithMockBalances(b Balances) MockOption {
	return func(m *Mock) {
		m.balances = b
	}
}

// WithPlaceFailure makes every placement fail with msg
func WithPlaceFailure(msg string) MockOption {
	return func(m *Mock) {
		m.failPlace = msg
	}
}

// WithPlaceFailureAfter makes placements fail with msg once n have succeeded
func WithPlaceFailureAfter(n int, msg string) MockOption {
	return func(m *Mock) {
		m.failPlace = msg
		m.failPlaceSkip = n
	}
}

// WithCancelFailure makes every cancellation fail with msg
func WithCancelFailure(msg string) MockOption {
	return func(m *Mock) {
		m.failCancel = msg
	}
}

// WithStatusFailure makes every status poll fail with msg
func WithStatusFailure(msg string) MockOption {
	return func(m *Mock) {
		m.failStatus = msg
	}
}

// WithBalanceFailure makes every balance fetch fail with msg
func WithBalanceFailure(msg string) MockOption {
	return func(m *Mock) {
		m.failBalance = msg
	}
}

// NewMock creates a mock gateway for tests
func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		statuses: make(map[string]StatusResult),
		balances: Balances{
			"USDT": {Free: 10000, Total: 10000},
			"BTC":  {Free: 1, Total: 1},
			"ETH":  {Free: 10, Total: 10},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetOrderStatus programs the result returned for an exchange order id.
func (m *Mock) SetOrderStatus(exchangeOrderID string, res StatusResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res.OrderID = exchangeOrderID
	if res.Status == "" {
		res.Status = "open"
	}
	m.statuses[exchangeOrderID] = res
}

// Placed returns all recorded placements.
func (m *Mock) Placed() []PlacedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlacedCall, len(m.placed))
	copy(out, m.placed)
	return out
}

// Cancelled returns the exchange order ids cancelled so far.
func (m *Mock) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cancelled))
	copy(out, m.cancelled)
	return out
}

func (m *Mock) place(call PlacedCall) (PlaceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failPlace != "" {
		if m.failPlaceSkip <= 0 {
			return PlaceResult{}, fmt.Errorf("%s", m.failPlace)
		}
		m.failPlaceSkip--
	}

	id := fmt.Sprintf("EX-%d", m.orderIDSeq.Add(1))
	m.placed = append(m.placed, call)
	m.statuses[id] = StatusResult{OrderID: id, Status: "open", Remaining: call.Amount}
	return PlaceResult{OrderID: id}, nil
}

func (m *Mock) PlaceLimitOrder(ctx context.Context, exchange, userID, symbol, side string, amount, price float64) (PlaceResult, error) {
	return m.place(PlacedCall{Exchange: exchange, UserID: userID, Symbol: symbol, Side: side, Type: "limit", Amount: amount, Price: price})
}

func (m *Mock) PlaceMarketOrder(ctx context.Context, exchange, userID, symbol, side string, amount float64) (PlaceResult, error) {
	return m.place(PlacedCall{Exchange: exchange, UserID: userID, Symbol: symbol, Side: side, Type: "market", Amount: amount})
}

func (m *Mock) CancelOrder(ctx context.Context, exchange, userID, symbol, exchangeOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCancel != "" {
		return fmt.Errorf("%s", m.failCancel)
	}

	m.cancelled = append(m.cancelled, exchangeOrderID)
	if st, ok := m.statuses[exchangeOrderID]; ok {
		st.Status = "canceled"
		m.statuses[exchangeOrderID] = st
	}
	return nil
}

func (m *Mock) OrderStatus(ctx context.Context, exchange, userID, symbol, exchangeOrderID string) (StatusResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failStatus != "" {
		return StatusResult{}, fmt.Errorf("%s", m.failStatus)
	}

	st, ok := m.statuses[exchangeOrderID]
	if !ok {
		return StatusResult{}, fmt.Errorf("unknown exchange order id %s", exchangeOrderID)
	}
	return st, nil
}

func (m *Mock) Balance(ctx context.Context, exchange, userID string) (Balances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failBalance != "" {
		return nil, fmt.Errorf("%s", m.failBalance)
	}

	out := make(Balances, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return out, nil
}
