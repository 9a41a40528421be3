// Package config loads process configuration via viper (env vars and an
// optional YAML file), following the teacher's dependency choice even
// though the loading mechanics themselves are outside the core's scope.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the top-level process configuration.
type Config struct {
	Pairs    []string
	Database DatabaseConfig
	Exchange ExchangeConfig
	Risk     RiskConfig
	Timing   TimingConfig
	Strategic StrategicConfig
	Predictor PredictorConfig
	Server   ServerConfig
	LogLevel string
}

// DatabaseConfig configures the postgres connection used by internal/store.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ExchangeConfig configures the Live Client's credentials and endpoints.
type ExchangeConfig struct {
	BaseURL       string
	WebSocketURL  string
	APIKey        string
	APISecret     string
	RequestsPerSec int
}

// RiskConfig holds the Portfolio Risk Manager's and Live Safety Gates'
// configurable limits (§4.7, §4.12).
type RiskConfig struct {
	MaxDrawdownPct         decimal.Decimal
	DailyLossLimitPct      decimal.Decimal
	MaxSinglePositionPct   decimal.Decimal
	MaxSectorExposurePct   decimal.Decimal
	MaxCorrelation         decimal.Decimal
	MaxLeverageRatio       decimal.Decimal
	MinPositionFloorPct    decimal.Decimal
	DefaultVolatilityPct   decimal.Decimal
	VolatilityRiskFloorPct decimal.Decimal
	VolatilityRiskCapPct   decimal.Decimal

	MinOrderValueZAR        decimal.Decimal
	MaxOrderSizeZAR         decimal.Decimal
	MaxDailyTrades          int
	FeePct                  decimal.Decimal
	BalanceBufferPct        decimal.Decimal
	MaxPositionExposurePct  decimal.Decimal

	ConfidenceThreshold decimal.Decimal
	KellyFraction       decimal.Decimal
	MaxPositionFraction decimal.Decimal
}

// TimingConfig holds the Engine's cadences (§4.1–§4.14).
type TimingConfig struct {
	PollInterval      time.Duration
	AggregateInterval time.Duration
	PositionMonitor   time.Duration
	HealthMonitor     time.Duration
	PositionTimeout   time.Duration
	DecisionCatchupWindow time.Duration
}

// StrategicConfig configures the optional Tier 4 LLM gate.
type StrategicConfig struct {
	Enabled bool
	BaseURL string
	Timeout time.Duration
}

// PredictorConfig configures the Tier 2 prediction service boundary.
type PredictorConfig struct {
	BaseURL string
}

// ServerConfig configures the out-of-scope HTTP control surface's listener.
type ServerConfig struct {
	Addr string
}

// DefaultConfig returns the spec's literal defaults (§4.5, §4.7, §4.12).
func DefaultConfig() *Config {
	return &Config{
		Pairs: []string{"BTCZAR"},
		Database: DatabaseConfig{
			DSN:             "postgres://localhost:5432/helios?sslmode=disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Exchange: ExchangeConfig{
			BaseURL:        "https://api.valr.com",
			WebSocketURL:   "wss://api.valr.com/ws/trade",
			RequestsPerSec: 10,
		},
		Risk: RiskConfig{
			MaxDrawdownPct:         decimal.NewFromFloat(0.15),
			DailyLossLimitPct:      decimal.NewFromFloat(0.05),
			MaxSinglePositionPct:   decimal.NewFromFloat(0.20),
			MaxSectorExposurePct:   decimal.NewFromFloat(0.60),
			MaxCorrelation:         decimal.NewFromFloat(0.90),
			MaxLeverageRatio:       decimal.NewFromFloat(3.0),
			MinPositionFloorPct:    decimal.NewFromFloat(0.05),
			DefaultVolatilityPct:   decimal.NewFromFloat(0.015),
			VolatilityRiskFloorPct: decimal.NewFromFloat(0.25),
			VolatilityRiskCapPct:   decimal.NewFromFloat(0.50),

			MinOrderValueZAR:       decimal.NewFromInt(50),
			MaxOrderSizeZAR:        decimal.NewFromInt(10000),
			MaxDailyTrades:         50,
			FeePct:                 decimal.NewFromFloat(0.001),
			BalanceBufferPct:       decimal.NewFromFloat(0.01),
			MaxPositionExposurePct: decimal.NewFromFloat(0.25),

			ConfidenceThreshold: decimal.NewFromFloat(0.40),
			KellyFraction:       decimal.NewFromFloat(0.25),
			MaxPositionFraction: decimal.NewFromFloat(0.10),
		},
		Timing: TimingConfig{
			PollInterval:          60 * time.Second,
			AggregateInterval:     5 * time.Minute,
			PositionMonitor:       5 * time.Second,
			HealthMonitor:         30 * time.Second,
			PositionTimeout:       24 * time.Hour,
			DecisionCatchupWindow: 24 * time.Hour,
		},
		Strategic: StrategicConfig{
			Enabled: false,
			BaseURL: "http://localhost:8600",
			Timeout: 30 * time.Second,
		},
		Predictor: PredictorConfig{
			BaseURL: "http://localhost:8500",
		},
		Server: ServerConfig{
			Addr: ":8090",
		},
		LogLevel: "info",
	}
}

// Load reads configuration from environment variables (prefixed HELIOS_) and
// an optional config.yaml in the working directory, overlaying DefaultConfig.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("HELIOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if v.IsSet("pairs") {
		cfg.Pairs = v.GetStringSlice("pairs")
	}
	if dsn := v.GetString("database.dsn"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if url := v.GetString("exchange.base_url"); url != "" {
		cfg.Exchange.BaseURL = url
	}
	if url := v.GetString("exchange.ws_url"); url != "" {
		cfg.Exchange.WebSocketURL = url
	}
	cfg.Exchange.APIKey = v.GetString("exchange.api_key")
	cfg.Exchange.APISecret = v.GetString("exchange.api_secret")
	if v.IsSet("strategic.enabled") {
		cfg.Strategic.Enabled = v.GetBool("strategic.enabled")
	}
	if url := v.GetString("strategic.base_url"); url != "" {
		cfg.Strategic.BaseURL = url
	}
	if url := v.GetString("predictor.base_url"); url != "" {
		cfg.Predictor.BaseURL = url
	}
	if lvl := v.GetString("log_level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if addr := v.GetString("server.addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	return cfg, nil
}
