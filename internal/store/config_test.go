package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
database:
  host: localhost
  name: crypto_data
redis:
  addr: 127.0.0.1:6379
gateway:
  base_url: http://localhost:8000
`

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 30, cfg.Gateway.TimeoutSeconds)
	assert.Equal(t, 10, cfg.Engine.MaxSessions)
	assert.Equal(t, 18080, cfg.Server.Port)

	assert.Equal(t, 5*time.Second, cfg.TradingInterval())
	assert.Equal(t, 5*time.Second, cfg.SyncInterval())
	assert.Equal(t, time.Hour, cfg.SessionStaleAfter())
	assert.Equal(t, time.Hour, cfg.CacheExpire())
	assert.Equal(t, 5*time.Minute, cfg.OrderTimeout())
}

func TestLoadConfig_ExplicitValuesWin(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
engine:
  trading_interval_ms: 1000
  max_sessions: 3
server:
  port: 9000
`))
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.TradingInterval())
	assert.Equal(t, 3, cfg.Engine.MaxSessions)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadConfig_DSN(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
database:
  host: db.internal
  port: 15432
  name: crypto_data
  user: postgres
  password: secret
redis:
  addr: 127.0.0.1:6379
gateway:
  base_url: http://localhost:8000
`))
	require.NoError(t, err)
	assert.Equal(t, "host=db.internal port=15432 dbname=crypto_data user=postgres password=secret", cfg.DSN())
}

func TestLoadConfig_Validation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing database", "redis:\n  addr: x\ngateway:\n  base_url: x\n"},
		{"missing redis addr", "database:\n  host: h\n  name: d\ngateway:\n  base_url: x\n"},
		{"missing gateway url", "database:\n  host: h\n  name: d\nredis:\n  addr: x\n"},
		{"bad port", minimalConfig + "server:\n  port: 99999\n"},
		{"negative interval", minimalConfig + "engine:\n  trading_interval_ms: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_BadYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "database: [not: a: map"))
	assert.Error(t, err)
}
