// Package server exposes the engine's control surface over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"trading-engine/internal/engine"
	"trading-engine/internal/logger"
	"trading-engine/internal/marketdata"
	"trading-engine/internal/types"
)

// Engine is the control-surface view of the trading engine.
type Engine interface {
	CreateSession(ctx context.Context, req types.ClientRequest) (string, error)
	StartSession(ctx context.Context, sessionID string) error
	StopSession(ctx context.Context, sessionID string) error
	Session(sessionID string) (engine.Session, error)
	Sessions() []engine.Session
	SessionLog(sessionID string) ([]string, error)
	Stats() engine.Stats
	Healthy(ctx context.Context) bool
}

// SyncStats lets the health endpoint report the market data pipeline.
type SyncStats interface {
	Stats() marketdata.SyncStats
}

// Server is the HTTP control surface.
type Server struct {
	engine Engine
	sync   SyncStats
	srv    *http.Server
}

// New builds the server on the given port.
func New(eng Engine, sync SyncStats, port int) *Server {
	s := &Server{engine: eng, sync: sync}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /create_session", s.handleCreateSession)
	mux.HandleFunc("POST /start_session/{id}", s.handleStartSession)
	mux.HandleFunc("POST /stop_session/{id}", s.handleStopSession)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /session/{id}", s.handleSession)
	mux.HandleFunc("GET /session_log/{id}", s.handleSessionLog)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      requestLogging(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until Shutdown. A closed-server error is not reported.
func (s *Server) Start() error {
	logger.Info(context.Background(), "Control server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req types.ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Mode = types.ParseTradingMode(string(req.Mode))

	id, err := s.engine.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch err := s.engine.StartSession(r.Context(), id); {
	case errors.Is(err, engine.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Session started"})
	}
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch err := s.engine.StopSession(r.Context(), id); {
	case errors.Is(err, engine.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Session stopped"})
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.engine.Sessions()
	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.SessionID)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.Session(r.PathValue("id"))
	if errors.Is(err, engine.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionLog(w http.ResponseWriter, r *http.Request) {
	log, err := s.engine.SessionLog(r.PathValue("id"))
	if errors.Is(err, engine.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if log == nil {
		log = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"log": log})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.engine.Healthy(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": healthy,
		"engine":  s.engine.Stats(),
		"sync":    s.sync.Stats(),
	})
}
