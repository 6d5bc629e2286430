// Package engine owns the trading sessions: their lifecycle, the control
// loop that runs their strategies, and the take-profit / stop-loss guard.
package engine

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"trading-engine/internal/logger"
	"trading-engine/internal/marketdata"
	"trading-engine/internal/orders"
	"trading-engine/internal/strategy"
	"trading-engine/internal/types"
)

// Syncer is the market data refresher the engine drives. Satisfied by
// *marketdata.Sync.
type Syncer interface {
	Start(interval time.Duration)
	Stop()
	Healthy(ctx context.Context) bool
	Stats() marketdata.SyncStats
}

// Config tunes the engine's loops and limits.
type Config struct {
	TradingInterval time.Duration // control loop tick
	SyncInterval    time.Duration // market data refresh interval
	MaxSessions     int
	StaleAfter      time.Duration // stopped sessions idle this long are reaped
}

func (c Config) withDefaults() Config {
	if c.TradingInterval <= 0 {
		c.TradingInterval = 5 * time.Second
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 5 * time.Second
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 10
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Hour
	}
	return c
}

// Stats is a snapshot of the engine-wide counters.
type Stats struct {
	Status               types.Status `json:"status"`
	TotalSessionsCreated int          `json:"total_sessions_created"`
	ActiveSessions       int          `json:"active_sessions"`
	TotalTradesExecuted  int          `json:"total_trades_executed"`
	TotalProfitGenerated float64      `json:"total_profit_generated"`
	EngineStartTime      time.Time    `json:"engine_start_time"`
	LastUpdateTime       time.Time    `json:"last_update_time"`
}

// Engine runs every session from a single control loop. One goroutine
// mutates session state; handlers only create, start, stop and read.
type Engine struct {
	cache  marketdata.Cache
	sync   Syncer
	ledger *orders.Ledger
	cfg    Config

	mu       sync.Mutex
	sessions map[string]*session
	status   types.Status
	stats    Stats

	stop chan struct{}
	done chan struct{}
}

// New wires the engine. Start must be called before sessions trade.
func New(cache marketdata.Cache, syncer Syncer, ledger *orders.Ledger, cfg Config) *Engine {
	return &Engine{
		cache:    cache,
		sync:     syncer,
		ledger:   ledger,
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*session),
		status:   types.StatusStopped,
		stats:    Stats{Status: types.StatusStopped, EngineStartTime: time.Now()},
	}
}

// CreateSession validates the request and registers a stopped session with
// its strategies bound. The session does not trade until StartSession.
func (e *Engine) CreateSession(ctx context.Context, req types.ClientRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.sessions) >= e.cfg.MaxSessions {
		return "", ErrMaxSessions
	}
	if err := validateRequest(req); err != nil {
		logger.Warn(ctx, "Session request rejected", "client_id", req.ClientID, "error", err.Error())
		return "", err
	}
	req.ApplyDefaults()

	now := time.Now()
	s := &session{
		id:         newSessionID(),
		request:    req,
		status:     types.StatusStopped,
		createdAt:  now,
		lastUpdate: now,
		strategies: e.buildStrategies(req),
	}
	s.logf(now, "Session created for client: %s", req.ClientID)

	e.sessions[s.id] = s
	e.stats.TotalSessionsCreated++

	logger.Info(ctx, "Session created",
		"session_id", s.id,
		"client_id", req.ClientID,
		"symbol", req.Symbol,
		"mode", req.Mode,
		"max_amount", req.MaxAmount,
		"target_profit_bps", req.TargetProfit)
	return s.id, nil
}

// buildStrategies binds the strategies the requested mode calls for, tuned
// from the request: the arbitrage threshold follows the target profit, and
// the market making spread stays below it so quotes can realize it.
func (e *Engine) buildStrategies(req types.ClientRequest) []strategy.Strategy {
	var out []strategy.Strategy
	if req.Mode == types.ModeArbitrage || req.Mode == types.ModeMixed {
		arb := strategy.NewArbitrage(e.cache, req.Symbol)
		arb.SetMinProfitBPS(req.TargetProfit)
		arb.SetMaxTradeSize(req.MaxAmount)
		out = append(out, arb)
	}
	if req.Mode == types.ModeMarketMaking || req.Mode == types.ModeMixed {
		mm := strategy.NewMarketMaking(e.cache, req.Symbol, req.Exchange)
		mm.SetSpreadBPS(math.Max(5.0, req.TargetProfit/2.0))
		mm.SetOrderSize(req.MaxAmount / 1000.0)
		out = append(out, mm)
	}
	return out
}

// StartSession moves a session to RUNNING after its strategies pass a
// health check. Starting a running session is a no-op success.
func (e *Engine) StartSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return ErrSessionNotFound
	}
	if s.status == types.StatusRunning {
		e.mu.Unlock()
		return nil
	}
	s.status = types.StatusStarting
	strategies := s.strategies
	e.mu.Unlock()

	healthy := true
	for _, strat := range strategies {
		if !strat.Healthy(ctx) {
			logger.Warn(ctx, "Strategy health check failed",
				"session_id", sessionID, "strategy", strat.Name())
			healthy = false
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok = e.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	now := time.Now()
	if !healthy {
		s.status = types.StatusError
		s.logf(now, "Failed to start - strategy health check failed")
		return ErrStrategyUnhealthy
	}
	s.status = types.StatusRunning
	s.lastUpdate = now
	s.logf(now, "Session started and running")
	e.stats.ActiveSessions++

	logger.Info(ctx, "Session started", "session_id", sessionID)
	return nil
}

// StopSession moves a RUNNING session to STOPPED and cancels its live
// orders. Stopping a session that is not running is a no-op success, so
// concurrent stops decrement the active counter exactly once.
func (e *Engine) StopSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return ErrSessionNotFound
	}
	if s.status != types.StatusRunning {
		e.mu.Unlock()
		return nil
	}
	s.status = types.StatusStopping
	e.mu.Unlock()

	cancelled := e.ledger.CancelSessionOrders(ctx, sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok = e.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	now := time.Now()
	s.status = types.StatusStopped
	s.lastUpdate = now
	s.logf(now, "Session stopped")
	e.stats.ActiveSessions--

	logger.Info(ctx, "Session stopped",
		"session_id", sessionID,
		"orders_cancelled", cancelled,
		"total_profit", s.profit,
		"executed_trades", s.trades)
	return nil
}

// RemoveSession deletes a session, stopping it first if it is running.
func (e *Engine) RemoveSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return ErrSessionNotFound
	}
	running := s.status == types.StatusRunning
	e.mu.Unlock()

	if running {
		if err := e.StopSession(ctx, sessionID); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(e.sessions, sessionID)
	logger.Info(ctx, "Session removed", "session_id", sessionID)
	return nil
}

// Session returns a snapshot of one session.
func (e *Engine) Session(sessionID string) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s.snapshot(), nil
}

// Sessions returns snapshots of every session, oldest first.
func (e *Engine) Sessions() []Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SessionLog returns a copy of the session's activity log.
func (e *Engine) SessionLog(sessionID string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]string, len(s.log))
	copy(out, s.log)
	return out, nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	st.Status = e.status
	return st
}

// Healthy reports whether the engine can trade: not errored and the
// market data pipeline answering.
func (e *Engine) Healthy(ctx context.Context) bool {
	e.mu.Lock()
	errored := e.status == types.StatusError
	e.mu.Unlock()
	return !errored && e.sync.Healthy(ctx)
}

// Start launches the market data sync and the control loop. Idempotent.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.status == types.StatusRunning {
		e.mu.Unlock()
		return
	}
	e.status = types.StatusStarting
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	e.sync.Start(e.cfg.SyncInterval)

	go e.run(stop, done)

	e.mu.Lock()
	e.status = types.StatusRunning
	e.stats.EngineStartTime = time.Now()
	e.mu.Unlock()

	logger.Info(ctx, "Trading engine started",
		"trading_interval", e.cfg.TradingInterval.String(),
		"sync_interval", e.cfg.SyncInterval.String(),
		"max_sessions", e.cfg.MaxSessions)
}

// Stop halts the control loop, the sync, and every running session.
// Blocks until the loop goroutine exits. Idempotent.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.status == types.StatusStopped {
		e.mu.Unlock()
		return
	}
	e.status = types.StatusStopping
	stop, done := e.stop, e.done
	e.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	e.sync.Stop()

	for _, s := range e.Sessions() {
		if s.Status == types.StatusRunning {
			if err := e.StopSession(ctx, s.SessionID); err != nil {
				logger.Warn(ctx, "Session did not stop cleanly",
					"session_id", s.SessionID, "error", err.Error())
			}
		}
	}

	e.mu.Lock()
	e.status = types.StatusStopped
	e.mu.Unlock()

	logger.Info(ctx, "Trading engine stopped")
}

func (e *Engine) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.TradingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.runTick(context.Background())
		}
	}
}

// runTick is one pass of the control loop: run every RUNNING session's
// strategies, enforce take-profit / stop-loss, service the order book, and
// reap dead sessions.
func (e *Engine) runTick(ctx context.Context) {
	e.mu.Lock()
	var running []string
	for id, s := range e.sessions {
		if s.status == types.StatusRunning {
			running = append(running, id)
		}
	}
	e.mu.Unlock()

	for _, id := range running {
		e.executeSession(ctx, id)
		e.enforceRiskLimits(ctx, id)
	}

	e.ledger.RefreshAll(ctx)
	e.ledger.CancelExpired(ctx)
	e.reapDeadSessions(ctx)

	e.mu.Lock()
	e.stats.LastUpdateTime = time.Now()
	e.mu.Unlock()
}

// executeSession runs the session's strategies and folds their results
// into the session and the engine counters. A panicking strategy poisons
// only its own session, which moves to ERROR.
func (e *Engine) executeSession(ctx context.Context, sessionID string) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok || s.status != types.StatusRunning {
		e.mu.Unlock()
		return
	}
	strategies := s.strategies
	e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			defer e.mu.Unlock()
			if s, ok := e.sessions[sessionID]; ok {
				now := time.Now()
				if s.status == types.StatusRunning {
					e.stats.ActiveSessions--
				}
				s.status = types.StatusError
				s.lastUpdate = now
				s.logf(now, "Session error: %v", r)
			}
			logger.Error(ctx, "Session strategy panicked", "session_id", sessionID, "panic", r)
		}
	}()

	results := make([]strategy.Result, 0, len(strategies))
	for _, strat := range strategies {
		results = append(results, strat.RunOnce(ctx))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok = e.sessions[sessionID]
	if !ok {
		return
	}
	now := time.Now()
	for _, res := range results {
		for _, line := range res.Logs {
			s.log = append(s.log, types.LogLine(now, line))
		}
		s.profit += res.Profit
		s.trades += res.Trades
		e.stats.TotalProfitGenerated += res.Profit
		e.stats.TotalTradesExecuted += res.Trades
	}
	s.lastUpdate = now
}

// enforceRiskLimits stops a session whose cumulative profit crossed the
// take-profit threshold or whose loss crossed the stop-loss threshold.
func (e *Engine) enforceRiskLimits(ctx context.Context, sessionID string) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok || s.status != types.StatusRunning {
		e.mu.Unlock()
		return
	}

	var (
		profit     = s.profit
		takeProfit = s.request.MaxAmount * s.request.TakeProfitRatio
		stopLoss   = s.request.MaxAmount * s.request.StopLossRatio
		reason     string
		event      string
	)
	switch {
	case profit >= takeProfit:
		reason = "Take profit triggered, stopping session"
		event = "take_profit"
	case profit <= -stopLoss:
		reason = "Stop loss triggered, stopping session"
		event = "stop_loss"
	}
	if reason != "" {
		s.logf(time.Now(), "%s (profit $%.2f)", reason, profit)
	}
	e.mu.Unlock()

	if reason == "" {
		return
	}

	logger.Risk(ctx, sessionID, event)
	logger.Info(ctx, reason, "session_id", sessionID, "profit", profit)
	if err := e.StopSession(ctx, sessionID); err != nil {
		logger.ErrorWithErr(ctx, "Risk stop failed", err, "session_id", sessionID)
	}
}

// reapDeadSessions removes sessions in ERROR and stopped sessions idle
// past the stale threshold.
func (e *Engine) reapDeadSessions(ctx context.Context) {
	now := time.Now()
	e.mu.Lock()
	var dead []string
	for id, s := range e.sessions {
		stale := s.status == types.StatusStopped && now.Sub(s.lastUpdate) > e.cfg.StaleAfter
		if stale || s.status == types.StatusError {
			dead = append(dead, id)
		}
	}
	e.mu.Unlock()

	for _, id := range dead {
		logger.Info(ctx, "Reaping dead session", "session_id", id)
		if err := e.RemoveSession(ctx, id); err != nil {
			logger.Warn(ctx, "Dead session removal failed", "session_id", id, "error", err.Error())
		}
	}
}
