// Package config loads tstopd's YAML configuration with ${VAR}
// environment interpolation, grounded in
// original_source/trading/config.py's TradingConfig.from_yaml, using
// gopkg.in/yaml.v3 for parsing (ChoSanghyuk-blackholedex's configs
// package idiom) and joho/godotenv to populate the process environment
// from a .env file before interpolation runs (ChoSanghyuk-blackholedex
// and web3guy0-polybot both bootstrap this way).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ExchangeConfig is the venue connection block (spec.md §6 "exchange").
type ExchangeConfig struct {
	BaseURL           string  `yaml:"base_url"`
	ProductID         string  `yaml:"product_id"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	MaxRetries        int     `yaml:"max_retries"`
	MaxBackoffSeconds float64 `yaml:"max_backoff_seconds"`
}

// StrategyConfig is the trailing-stop parameter block (spec.md §6 "strategy").
type StrategyConfig struct {
	TrailPct           decimal.Decimal `yaml:"trail_pct"`
	StopLimitBufferPct decimal.Decimal `yaml:"stop_limit_buffer_pct"`
	MinRatchet         decimal.Decimal `yaml:"min_ratchet"`
	AggressiveDelta    decimal.Decimal `yaml:"aggressive_delta_pct"`
	// StopTimeoutSeconds is how long a live stop order may sit open without
	// filling before the watchdog replaces it with a tighter one
	// (spec.md §4.6/§209 "stop_timeout", distinct from the watchdog's own
	// poll cadence).
	StopTimeoutSeconds int `yaml:"stop_timeout_seconds"`
}

// StopTimeout returns the configured stop timeout as a time.Duration.
func (s StrategyConfig) StopTimeout() time.Duration {
	return time.Duration(s.StopTimeoutSeconds) * time.Second
}

// RateLimitConfig is the per-endpoint quota block (spec.md §6 "rate_limit").
type RateLimitConfig struct {
	OrdersPerSecond  int `yaml:"orders_per_second"`
	DefaultPerSecond int `yaml:"default_per_second"`
}

// PersistenceConfig is the store/log block (spec.md §6 "persistence").
type PersistenceConfig struct {
	DBPath   string `yaml:"db_path"`
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// PairConfig is a single tradable pair entry (spec.md §6 "pairs[]").
type PairConfig struct {
	ProductID       string          `yaml:"product_id"`
	Enabled         bool            `yaml:"enabled"`
	PositionSizePct decimal.Decimal `yaml:"position_size_pct"`
	TrailPct        decimal.Decimal `yaml:"trail_pct"`
	CorrelationGroup string         `yaml:"correlation_group"`
}

// PortfolioConfig is the capital-pool/risk block (spec.md §6 "portfolio").
type PortfolioConfig struct {
	TotalCapital                decimal.Decimal `yaml:"total_capital"`
	MaxPositionSizePct          decimal.Decimal `yaml:"max_position_size_pct"`
	MaxPositions                int             `yaml:"max_positions"`
	MaxCorrelatedExposurePct    decimal.Decimal `yaml:"max_correlated_exposure_pct"`
	RebalanceThresholdPct       decimal.Decimal `yaml:"rebalance_threshold_pct"`
	EmergencyLiquidationLossPct decimal.Decimal `yaml:"emergency_liquidation_loss_pct"`
}

// Config is the complete tstopd configuration document.
type Config struct {
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Portfolio   PortfolioConfig   `yaml:"portfolio"`
	Pairs       []PairConfig      `yaml:"pairs"`
}

func defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:           "https://api.exchange.example.com",
			ProductID:         "BTC-USD",
			TimeoutSeconds:    10,
			MaxRetries:        5,
			MaxBackoffSeconds: 60,
		},
		Strategy: StrategyConfig{
			TrailPct:           decimal.RequireFromString("0.02"),
			StopLimitBufferPct: decimal.RequireFromString("0.005"),
			MinRatchet:         decimal.RequireFromString("0.001"),
			AggressiveDelta:    decimal.RequireFromString("0.001"),
			StopTimeoutSeconds: 300,
		},
		RateLimit: RateLimitConfig{
			OrdersPerSecond:  15,
			DefaultPerSecond: 10,
		},
		Persistence: PersistenceConfig{
			DBPath:   "state.db",
			LogFile:  "trading.log",
			LogLevel: "info",
		},
	}
}

// LoadEnvFile loads a .env file into the process environment, ignoring a
// missing file (there may be none in a container deployment where env
// vars are injected directly).
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads a YAML config file, interpolates ${VAR} references against
// the current process environment (spec.md §6), and fills unset fields
// from defaults().
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	interpolated := interpolateEnv(string(raw))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// interpolateEnv replaces every ${VAR_NAME} with the environment's value
// for VAR_NAME, matching config.py's literal-replace loop over
// os.environ rather than a full templating engine.
func interpolateEnv(raw string) string {
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		raw = strings.ReplaceAll(raw, "${"+parts[0]+"}", parts[1])
	}
	return raw
}
