package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-engine/internal/engine"
	"trading-engine/internal/marketdata"
	"trading-engine/internal/types"
)

// fakeEngine records calls and serves canned sessions.
type fakeEngine struct {
	sessions  map[string]engine.Session
	logs      map[string][]string
	createErr error
	healthy   bool

	created []types.ClientRequest
	started []string
	stopped []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		sessions: make(map[string]engine.Session),
		logs:     make(map[string][]string),
		healthy:  true,
	}
}

func (f *fakeEngine) CreateSession(ctx context.Context, req types.ClientRequest) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	id := "session_abc12345"
	f.sessions[id] = engine.Session{SessionID: id, Request: req, Status: types.StatusStopped}
	return id, nil
}

func (f *fakeEngine) StartSession(ctx context.Context, id string) error {
	if _, ok := f.sessions[id]; !ok {
		return engine.ErrSessionNotFound
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeEngine) StopSession(ctx context.Context, id string) error {
	if _, ok := f.sessions[id]; !ok {
		return engine.ErrSessionNotFound
	}
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeEngine) Session(id string) (engine.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return engine.Session{}, engine.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeEngine) Sessions() []engine.Session {
	out := make([]engine.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

func (f *fakeEngine) SessionLog(id string) ([]string, error) {
	if _, ok := f.sessions[id]; !ok {
		return nil, engine.ErrSessionNotFound
	}
	return f.logs[id], nil
}

func (f *fakeEngine) Stats() engine.Stats { return engine.Stats{Status: types.StatusRunning} }

func (f *fakeEngine) Healthy(ctx context.Context) bool { return f.healthy }

type fakeSyncStats struct{}

func (fakeSyncStats) Stats() marketdata.SyncStats { return marketdata.SyncStats{Cycles: 7} }

func newTestServer(eng *fakeEngine) http.Handler {
	return New(eng, fakeSyncStats{}, 0).Handler()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_CreateSession(t *testing.T) {
	eng := newFakeEngine()
	h := newTestServer(eng)

	body := `{"client_id":"c1","symbol":"BTC/USDT","exchange":"bitmart",
		"max_amount":1000,"target_profit":25,"mode":"MIXED"}`
	rec := doRequest(t, h, http.MethodPost, "/create_session", body)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "session_abc12345", resp["session_id"])

	require.Len(t, eng.created, 1)
	assert.Equal(t, types.ModeMixed, eng.created[0].Mode)
}

func TestServer_CreateSessionUnknownModeFallsBackToMixed(t *testing.T) {
	eng := newFakeEngine()
	h := newTestServer(eng)

	body := `{"client_id":"c1","symbol":"BTC/USDT","exchange":"bitmart",
		"max_amount":1000,"target_profit":25,"mode":"YOLO"}`
	rec := doRequest(t, h, http.MethodPost, "/create_session", body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.ModeMixed, eng.created[0].Mode)
}

func TestServer_CreateSessionInvalidJSON(t *testing.T) {
	rec := doRequest(t, newTestServer(newFakeEngine()), http.MethodPost, "/create_session", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CreateSessionEngineFailure(t *testing.T) {
	eng := newFakeEngine()
	eng.createErr = engine.ErrMaxSessions
	h := newTestServer(eng)

	body := `{"client_id":"c1","symbol":"BTC/USDT","max_amount":1,"target_profit":1,"mode":"ARBITRAGE"}`
	rec := doRequest(t, h, http.MethodPost, "/create_session", body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_StartAndStopSession(t *testing.T) {
	eng := newFakeEngine()
	eng.sessions["session_x"] = engine.Session{SessionID: "session_x"}
	h := newTestServer(eng)

	rec := doRequest(t, h, http.MethodPost, "/start_session/session_x", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"session_x"}, eng.started)

	rec = doRequest(t, h, http.MethodPost, "/stop_session/session_x", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"session_x"}, eng.stopped)
}

func TestServer_StartSessionNotFound(t *testing.T) {
	rec := doRequest(t, newTestServer(newFakeEngine()), http.MethodPost, "/start_session/session_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StopSessionNotFound(t *testing.T) {
	rec := doRequest(t, newTestServer(newFakeEngine()), http.MethodPost, "/stop_session/session_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Sessions(t *testing.T) {
	eng := newFakeEngine()
	eng.sessions["session_a"] = engine.Session{SessionID: "session_a"}
	eng.sessions["session_b"] = engine.Session{SessionID: "session_b"}

	rec := doRequest(t, newTestServer(eng), http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"session_a", "session_b"}, resp["sessions"])
}

func TestServer_SessionSnapshot(t *testing.T) {
	eng := newFakeEngine()
	eng.sessions["session_a"] = engine.Session{
		SessionID: "session_a",
		Status:    types.StatusRunning,
	}
	h := newTestServer(eng)

	rec := doRequest(t, h, http.MethodGet, "/session/session_a", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got engine.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, types.StatusRunning, got.Status)

	rec = doRequest(t, h, http.MethodGet, "/session/session_zz", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SessionLog(t *testing.T) {
	eng := newFakeEngine()
	eng.sessions["session_a"] = engine.Session{SessionID: "session_a"}
	eng.logs["session_a"] = []string{"[12:00:00] Session created for client: c1"}
	h := newTestServer(eng)

	rec := doRequest(t, h, http.MethodGet, "/session_log/session_a", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp["log"], 1)
	assert.Contains(t, resp["log"][0], "Session created")

	rec = doRequest(t, h, http.MethodGet, "/session_log/session_zz", "")
	assert.Equal(t, http.StatusNotFound, rec.Code,
		"unknown session is a 404, not an empty log")
}

func TestServer_SessionLogEmptyIsNotNull(t *testing.T) {
	eng := newFakeEngine()
	eng.sessions["session_a"] = engine.Session{SessionID: "session_a"}

	rec := doRequest(t, newTestServer(eng), http.MethodGet, "/session_log/session_a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"log":[]}`, rec.Body.String())
}

func TestServer_Health(t *testing.T) {
	eng := newFakeEngine()
	h := newTestServer(eng)

	rec := doRequest(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Healthy bool `json:"healthy"`
		Sync    struct {
			Cycles int64 `json:"cycles"`
		} `json:"sync"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Healthy)
	assert.Equal(t, int64(7), resp.Sync.Cycles)

	eng.healthy = false
	rec = doRequest(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
