package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  host: 0.0.0.0
  port: 8080
  mode: release
database:
  host: localhost
  port: 5432
  user: trader
  password: secret
  dbname: tradecore
  sslmode: disable
redis:
  host: localhost
  port: 6379
gateway:
  mode: binance
  api_key: key-from-file
trading:
  portfolio_identifier: main
  market: binance
  trading_symbol: EUR
  initial_balance: 1000
  tick_interval_seconds: 10
  snapshot_daily: true
  risk_time_frame: 1h
  risk_window_size: 4
backtest:
  data_dir: testdata
  start: 2024-01-01
  end: 2024-02-01
  time_frame: 1h
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "host=localhost port=5432 user=trader password=secret dbname=tradecore sslmode=disable", cfg.Database.DSN())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, "binance", cfg.Gateway.Mode)
	assert.Equal(t, "main", cfg.Trading.PortfolioIdentifier)
	assert.Equal(t, 10*time.Second, cfg.Trading.TickInterval())
	assert.True(t, cfg.Trading.SnapshotDaily)

	start, end, err := cfg.Backtest.Window()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DB_PASSWORD", "from-env")
	t.Setenv("GATEWAY_API_KEY", "key-from-env")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "key-from-env", cfg.Gateway.APIKey)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 1\n"))
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Gateway.Mode)
	assert.Equal(t, "USDT", cfg.Trading.TradingSymbol)
	assert.Equal(t, 5*time.Second, cfg.Trading.TickInterval())
	assert.Equal(t, "15m", cfg.Trading.RiskTimeFrame)
	assert.Equal(t, 24, cfg.Auth.ExpireHours)
}

func TestInvalidBacktestWindow(t *testing.T) {
	cfg := &Config{Backtest: BacktestConfig{Start: "not-a-date", End: "2024-02-01"}}
	_, _, err := cfg.Backtest.Window()
	assert.Error(t, err)
}
