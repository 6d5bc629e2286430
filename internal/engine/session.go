package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"trading-engine/internal/strategy"
	"trading-engine/internal/types"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidRequest    = errors.New("invalid client request")
	ErrMaxSessions       = errors.New("maximum number of sessions reached")
	ErrStrategyUnhealthy = errors.New("strategy health check failed")
)

// session is the live record. Only snapshots leave the engine's lock.
type session struct {
	id         string
	request    types.ClientRequest
	status     types.Status
	profit     float64
	trades     int
	createdAt  time.Time
	lastUpdate time.Time
	log        []string
	strategies []strategy.Strategy
}

func (s *session) logf(at time.Time, format string, args ...any) {
	s.log = append(s.log, types.LogLine(at, fmt.Sprintf(format, args...)))
}

// Session is the read-only view handed to callers and the HTTP layer.
type Session struct {
	SessionID      string              `json:"session_id"`
	Request        types.ClientRequest `json:"request"`
	Status         types.Status        `json:"status"`
	TotalProfit    float64             `json:"total_profit"`
	ExecutedTrades int                 `json:"executed_trades"`
	CreatedAt      time.Time           `json:"created_at"`
	LastUpdate     time.Time           `json:"last_update"`
}

func (s *session) snapshot() Session {
	return Session{
		SessionID:      s.id,
		Request:        s.request,
		Status:         s.status,
		TotalProfit:    s.profit,
		ExecutedTrades: s.trades,
		CreatedAt:      s.createdAt,
		LastUpdate:     s.lastUpdate,
	}
}

// newSessionID returns an id in the session_<8 alphanumerics> shape the
// rest of the platform expects.
func newSessionID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func validateRequest(req types.ClientRequest) error {
	if req.ClientID == "" {
		return fmt.Errorf("%w: client id cannot be empty", ErrInvalidRequest)
	}
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol cannot be empty", ErrInvalidRequest)
	}
	if req.MaxAmount <= 0 {
		return fmt.Errorf("%w: max amount must be positive", ErrInvalidRequest)
	}
	if req.TargetProfit <= 0 {
		return fmt.Errorf("%w: target profit must be positive", ErrInvalidRequest)
	}
	if (req.Mode == types.ModeMarketMaking || req.Mode == types.ModeMixed) && req.Exchange == "" {
		return fmt.Errorf("%w: exchange must be specified for market making", ErrInvalidRequest)
	}
	return nil
}
