// Package config loads the process configuration from a YAML file, a
// local .env file and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Trading  TradingConfig  `yaml:"trading"`
	Backtest BacktestConfig `yaml:"backtest"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret"`
	ExpireHours    int    `yaml:"expire_hours"`
	AdminTokenHash string `yaml:"admin_token_hash"`
}

// GatewayConfig selects and configures the exchange venue.
type GatewayConfig struct {
	// Mode is "paper" or "binance".
	Mode      string `yaml:"mode"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

type TradingConfig struct {
	PortfolioIdentifier string  `yaml:"portfolio_identifier"`
	Market              string  `yaml:"market"`
	TradingSymbol       string  `yaml:"trading_symbol"`
	InitialBalance      float64 `yaml:"initial_balance"`
	MinOrderNotional    float64 `yaml:"min_order_notional"`

	TickIntervalSeconds int    `yaml:"tick_interval_seconds"`
	SnapshotDaily       bool   `yaml:"snapshot_daily"`
	RiskTimeFrame       string `yaml:"risk_time_frame"`
	RiskWindowSize      int    `yaml:"risk_window_size"`

	// Weights enables the built-in rebalance strategy: target percentage
	// of total portfolio value per symbol.
	Weights                 map[string]float64 `yaml:"weights"`
	StrategyIntervalMinutes int                `yaml:"strategy_interval_minutes"`
	StrategyTimeFrame       string             `yaml:"strategy_time_frame"`
}

type BacktestConfig struct {
	DataDir   string `yaml:"data_dir"`
	Start     string `yaml:"start"`
	End       string `yaml:"end"`
	TimeFrame string `yaml:"time_frame"`
}

// Load reads the YAML file at path, then a .env file when present, then
// environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg.loadFromEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) loadFromEnv() {
	// Server
	if v := os.Getenv("SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_MODE"); v != "" {
		c.Server.Mode = v
	}

	// Database
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.DBName = v
	}

	// Redis
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}

	// Auth
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("JWT_EXPIRE_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			c.Auth.ExpireHours = hours
		}
	}
	if v := os.Getenv("ADMIN_TOKEN_HASH"); v != "" {
		c.Auth.AdminTokenHash = v
	}

	// Gateway
	if v := os.Getenv("GATEWAY_MODE"); v != "" {
		c.Gateway.Mode = v
	}
	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		c.Gateway.APIKey = v
	}
	if v := os.Getenv("GATEWAY_API_SECRET"); v != "" {
		c.Gateway.APISecret = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		c.Gateway.BaseURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Gateway.Mode == "" {
		c.Gateway.Mode = "paper"
	}
	if c.Trading.TickIntervalSeconds <= 0 {
		c.Trading.TickIntervalSeconds = 5
	}
	if c.Trading.RiskTimeFrame == "" {
		c.Trading.RiskTimeFrame = "15m"
	}
	if c.Trading.RiskWindowSize <= 0 {
		c.Trading.RiskWindowSize = 1
	}
	if c.Trading.TradingSymbol == "" {
		c.Trading.TradingSymbol = "USDT"
	}
	if c.Auth.ExpireHours <= 0 {
		c.Auth.ExpireHours = 24
	}
	if c.Trading.StrategyIntervalMinutes <= 0 {
		c.Trading.StrategyIntervalMinutes = 60
	}
	if c.Trading.StrategyTimeFrame == "" {
		c.Trading.StrategyTimeFrame = c.Trading.RiskTimeFrame
	}
}

// TickInterval returns the live loop cadence as a duration.
func (c *TradingConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// Window parses the backtest start and end dates (YYYY-MM-DD).
func (c *BacktestConfig) Window() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", c.Start)
	if err != nil {
		return start, end, fmt.Errorf("invalid backtest start %q: %w", c.Start, err)
	}
	end, err = time.Parse("2006-01-02", c.End)
	if err != nil {
		return start, end, fmt.Errorf("invalid backtest end %q: %w", c.End, err)
	}
	return start, end, nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}

// Addr returns the redis host:port address.
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
