package orders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trading-engine/internal/gateway"
	"trading-engine/internal/logger"
)

// Ledger keeps the in-memory book of orders and talks to the execution
// gateway on their behalf. All map access is serialized by a mutex; gateway
// calls are made outside the lock and the expected state is re-checked
// before a transition is applied, so a concurrent caller can never clobber
// a terminal status.
type Ledger struct {
	mu     sync.Mutex
	orders map[string]*Order

	exec    gateway.Executor
	timeout time.Duration
}

// NewLedger returns a ledger submitting through exec. Orders expire
// timeout after creation; a non-positive timeout falls back to five
// minutes.
func NewLedger(exec gateway.Executor, timeout time.Duration) *Ledger {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Ledger{
		orders:  make(map[string]*Order),
		exec:    exec,
		timeout: timeout,
	}
}

// CreateParams describes a new order. Price is the limit price and must be
// zero for market orders.
type CreateParams struct {
	SessionID string
	UserID    string
	Exchange  string
	Symbol    string
	Side      Side
	Type      Type
	Quantity  float64
	Price     float64
}

// Create registers a new PENDING order and returns its id. Nothing is sent
// to the gateway until Submit.
func (l *Ledger) Create(ctx context.Context, p CreateParams) (string, error) {
	if p.Quantity <= 0 {
		return "", ErrInvalidQuantity
	}
	if p.Type == "" {
		p.Type = TypeLimit
	}

	now := time.Now()
	o := &Order{
		OrderID:   "order_" + uuid.NewString(),
		SessionID: p.SessionID,
		UserID:    p.UserID,
		Exchange:  p.Exchange,
		Symbol:    p.Symbol,
		Side:      p.Side,
		Type:      p.Type,
		Quantity:  p.Quantity,
		Price:     p.Price,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(l.timeout),
	}

	l.mu.Lock()
	l.orders[o.OrderID] = o
	l.mu.Unlock()

	logger.Debug(ctx, "Order created",
		"order_id", o.OrderID,
		"session_id", o.SessionID,
		"symbol", o.Symbol,
		"side", o.Side,
		"type", o.Type,
		"quantity", o.Quantity,
		"price", o.Price)
	return o.OrderID, nil
}

// Submit sends a PENDING order to the gateway. Submitting an order that has
// already left PENDING is a no-op success, so retry loops are harmless. A
// gateway rejection moves the order to FAILED and is returned to the
// caller.
func (l *Ledger) Submit(ctx context.Context, orderID string) error {
	l.mu.Lock()
	o, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return ErrOrderNotFound
	}
	if o.Status != StatusPending {
		l.mu.Unlock()
		return nil
	}
	snap := *o
	l.mu.Unlock()

	var (
		res gateway.PlaceResult
		err error
	)
	if snap.Type == TypeMarket {
		res, err = l.exec.PlaceMarketOrder(ctx, snap.Exchange, snap.UserID, snap.Symbol, snap.Side.wire(), snap.Quantity)
	} else {
		res, err = l.exec.PlaceLimitOrder(ctx, snap.Exchange, snap.UserID, snap.Symbol, snap.Side.wire(), snap.Quantity, snap.Price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok = l.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != StatusPending {
		return nil
	}
	o.UpdatedAt = time.Now()
	if err != nil {
		o.Status = StatusFailed
		o.ErrorMessage = err.Error()
		logger.ErrorWithErr(ctx, "Order submission failed", err, "order_id", orderID)
		return fmt.Errorf("submit order %s: %w", orderID, err)
	}
	o.Status = StatusSubmitted
	o.ExchangeOrderID = res.OrderID
	logger.Info(ctx, "Order submitted",
		"order_id", orderID,
		"exchange_order_id", res.OrderID,
		"exchange", o.Exchange,
		"symbol", o.Symbol)
	return nil
}

// Cancel requests cancellation of a live order. Orders that were never
// submitted have nothing at the exchange to cancel and fail with
// ErrNeverSubmitted; orders already terminal fail with ErrNotCancelable.
func (l *Ledger) Cancel(ctx context.Context, orderID string) error {
	l.mu.Lock()
	o, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return ErrOrderNotFound
	}
	if o.ExchangeOrderID == "" {
		l.mu.Unlock()
		return ErrNeverSubmitted
	}
	if !o.Active() {
		l.mu.Unlock()
		return ErrNotCancelable
	}
	snap := *o
	l.mu.Unlock()

	err := l.exec.CancelOrder(ctx, snap.Exchange, snap.UserID, snap.Symbol, snap.ExchangeOrderID)

	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok = l.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if err != nil {
		logger.ErrorWithErr(ctx, "Order cancellation failed", err, "order_id", orderID)
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	if o.Active() {
		o.Status = StatusCancelled
		o.UpdatedAt = time.Now()
	}
	logger.Info(ctx, "Order cancelled", "order_id", orderID, "exchange_order_id", snap.ExchangeOrderID)
	return nil
}

// CancelByExchangeID cancels the order tracked under the given exchange id.
func (l *Ledger) CancelByExchangeID(ctx context.Context, exchangeOrderID string) error {
	l.mu.Lock()
	orderID := ""
	for id, o := range l.orders {
		if o.ExchangeOrderID == exchangeOrderID {
			orderID = id
			break
		}
	}
	l.mu.Unlock()
	if orderID == "" {
		return ErrOrderNotFound
	}
	return l.Cancel(ctx, orderID)
}

// Refresh polls the gateway for the order's current state and applies the
// result. Orders without an exchange id, and orders already terminal, are
// skipped. A poll failure leaves the order unchanged.
func (l *Ledger) Refresh(ctx context.Context, orderID string) error {
	l.mu.Lock()
	o, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return ErrOrderNotFound
	}
	if o.ExchangeOrderID == "" || o.Status.Terminal() {
		l.mu.Unlock()
		return nil
	}
	snap := *o
	l.mu.Unlock()

	res, err := l.exec.OrderStatus(ctx, snap.Exchange, snap.UserID, snap.Symbol, snap.ExchangeOrderID)
	if err != nil {
		logger.Warn(ctx, "Order status poll failed", "order_id", orderID, "error", err.Error())
		return fmt.Errorf("refresh order %s: %w", orderID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok = l.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status.Terminal() {
		return nil
	}
	l.applyStatusLocked(ctx, o, res)
	return nil
}

// applyStatusLocked folds a gateway status result into the order. The
// gateway does not report an average fill price, so fills on limit orders
// are valued at the limit price; market fills keep whatever average was
// recorded previously.
func (l *Ledger) applyStatusLocked(ctx context.Context, o *Order, res gateway.StatusResult) {
	fillPrice := o.AveragePrice
	if fillPrice == 0 && o.Type == TypeLimit {
		fillPrice = o.Price
	}

	switch {
	case res.Status == "closed":
		o.Status = StatusFilled
		o.FilledQuantity = o.Quantity
		o.AveragePrice = fillPrice
		logger.Trade(ctx, o.SessionID, o.Symbol, string(o.Side), o.Quantity, fillPrice, o.OrderID)
	case res.Status == "canceled":
		o.Status = StatusCancelled
	case res.Filled > 0 && res.Filled < o.Quantity:
		o.Status = StatusPartial
		o.FilledQuantity = res.Filled
		o.AveragePrice = fillPrice
	default:
		return
	}
	o.UpdatedAt = time.Now()
	logger.Debug(ctx, "Order status updated",
		"order_id", o.OrderID,
		"status", o.Status,
		"filled", o.FilledQuantity)
}

// RefreshAll polls every live order. Individual failures are logged and do
// not stop the sweep.
func (l *Ledger) RefreshAll(ctx context.Context) {
	for _, id := range l.activeIDs() {
		if err := l.Refresh(ctx, id); err != nil {
			logger.Debug(ctx, "Refresh sweep: order skipped", "order_id", id, "error", err.Error())
		}
	}
}

// CancelExpired cancels live orders past their expiry and marks them
// EXPIRED. Cancellation failures are logged and the order is left for the
// next sweep. Returns the number of orders expired.
func (l *Ledger) CancelExpired(ctx context.Context) int {
	now := time.Now()
	l.mu.Lock()
	var due []string
	for id, o := range l.orders {
		if o.ShouldCancel(now) {
			due = append(due, id)
		}
	}
	l.mu.Unlock()

	expired := 0
	for _, id := range due {
		if err := l.Cancel(ctx, id); err != nil {
			logger.Warn(ctx, "Expired order could not be cancelled, retrying next sweep",
				"order_id", id, "error", err.Error())
			continue
		}
		l.mu.Lock()
		if o, ok := l.orders[id]; ok && o.Status == StatusCancelled {
			o.Status = StatusExpired
			o.UpdatedAt = time.Now()
		}
		l.mu.Unlock()
		expired++
		logger.Info(ctx, "Order expired", "order_id", id)
	}
	return expired
}

// CancelSessionOrders cancels every live order belonging to a session.
// Returns the number of successful cancellations.
func (l *Ledger) CancelSessionOrders(ctx context.Context, sessionID string) int {
	l.mu.Lock()
	var due []string
	for id, o := range l.orders {
		if o.SessionID == sessionID && o.Active() {
			due = append(due, id)
		}
	}
	l.mu.Unlock()

	cancelled := 0
	for _, id := range due {
		if err := l.Cancel(ctx, id); err != nil {
			logger.Warn(ctx, "Session order cancellation failed",
				"session_id", sessionID, "order_id", id, "error", err.Error())
			continue
		}
		cancelled++
	}
	return cancelled
}

// CreateArbitrageOrders creates and submits the buy/sell pair for an
// arbitrage opportunity. On a partial failure the successfully submitted
// orders are still returned so the caller can manage them.
func (l *Ledger) CreateArbitrageOrders(ctx context.Context, sessionID, userID, symbol, buyExchange, sellExchange string, quantity, buyPrice, sellPrice float64) ([]string, error) {
	legs := []CreateParams{
		{SessionID: sessionID, UserID: userID, Exchange: buyExchange, Symbol: symbol, Side: SideBuy, Type: TypeLimit, Quantity: quantity, Price: buyPrice},
		{SessionID: sessionID, UserID: userID, Exchange: sellExchange, Symbol: symbol, Side: SideSell, Type: TypeLimit, Quantity: quantity, Price: sellPrice},
	}
	return l.createAndSubmit(ctx, legs)
}

// CreateMarketMakingOrders places a bid and an ask around the fair value
// on a single exchange.
func (l *Ledger) CreateMarketMakingOrders(ctx context.Context, sessionID, userID, exchange, symbol string, quantity, bidPrice, askPrice float64) ([]string, error) {
	legs := []CreateParams{
		{SessionID: sessionID, UserID: userID, Exchange: exchange, Symbol: symbol, Side: SideBuy, Type: TypeLimit, Quantity: quantity, Price: bidPrice},
		{SessionID: sessionID, UserID: userID, Exchange: exchange, Symbol: symbol, Side: SideSell, Type: TypeLimit, Quantity: quantity, Price: askPrice},
	}
	return l.createAndSubmit(ctx, legs)
}

func (l *Ledger) createAndSubmit(ctx context.Context, legs []CreateParams) ([]string, error) {
	ids := make([]string, 0, len(legs))
	for _, p := range legs {
		id, err := l.Create(ctx, p)
		if err != nil {
			return ids, err
		}
		if err := l.Submit(ctx, id); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Order returns a snapshot of the order.
func (l *Ledger) Order(orderID string) (Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return *o, nil
}

// OrderByExchangeID returns a snapshot of the order tracked under the
// given exchange id.
func (l *Ledger) OrderByExchangeID(exchangeOrderID string) (Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range l.orders {
		if o.ExchangeOrderID == exchangeOrderID {
			return *o, nil
		}
	}
	return Order{}, ErrOrderNotFound
}

// OrdersBySession returns snapshots of every order belonging to a session.
func (l *Ledger) OrdersBySession(sessionID string) []Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Order
	for _, o := range l.orders {
		if o.SessionID == sessionID {
			out = append(out, *o)
		}
	}
	return out
}

// ActiveOrders returns snapshots of every live order.
func (l *Ledger) ActiveOrders() []Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Order
	for _, o := range l.orders {
		if o.Active() {
			out = append(out, *o)
		}
	}
	return out
}

func (l *Ledger) activeIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for id, o := range l.orders {
		if o.ExchangeOrderID != "" && !o.Status.Terminal() {
			out = append(out, id)
		}
	}
	return out
}

// SessionProfit computes the session's realized profit on demand: the sum
// of filled SELL notionals minus the sum of filled BUY notionals.
func (l *Ledger) SessionProfit(sessionID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	profit := 0.0
	for _, o := range l.orders {
		if o.SessionID != sessionID || o.Status != StatusFilled {
			continue
		}
		if o.Side == SideSell {
			profit += o.FilledAmount()
		} else {
			profit -= o.FilledAmount()
		}
	}
	return profit
}

// SessionTrades counts the session's filled orders.
func (l *Ledger) SessionTrades(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, o := range l.orders {
		if o.SessionID == sessionID && o.Status == StatusFilled {
			n++
		}
	}
	return n
}

// CheckBalance verifies the account can afford the order: quote currency
// for buys (quantity times price), base currency for sells. A balance
// fetch failure or an unrecognized currency allows the order through; the
// gateway is the authority and will reject what the account cannot cover.
func (l *Ledger) CheckBalance(ctx context.Context, exchange, userID, symbol string, side Side, quantity, price float64) bool {
	balances, err := l.exec.Balance(ctx, exchange, userID)
	if err != nil {
		logger.Warn(ctx, "Balance check skipped, fetch failed",
			"exchange", exchange, "error", err.Error())
		return true
	}

	base, quote, ok := strings.Cut(symbol, "/")
	if !ok {
		return true
	}

	var (
		currency string
		needed   float64
	)
	if side == SideBuy {
		currency, needed = quote, quantity*price
	} else {
		currency, needed = base, quantity
	}

	bal, ok := balances[currency]
	if !ok {
		return true
	}
	if bal.Free < needed {
		logger.Warn(ctx, "Insufficient balance",
			"exchange", exchange,
			"currency", currency,
			"needed", needed,
			"free", bal.Free)
		return false
	}
	return true
}
