// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ARB_* environment variables.
//
// Strategy parameter blocks are strongly typed per strategy kind; unknown
// fields in the YAML are rejected at load time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Demo              bool            `mapstructure:"demo"`
	HeartbeatInterval time.Duration   `mapstructure:"heartbeat_interval"`
	Venues            []VenueConfig   `mapstructure:"venues"`
	Symbols           []string        `mapstructure:"symbols"`
	Cache             CacheConfig     `mapstructure:"cache"`
	Scanner           ScannerConfig   `mapstructure:"scanner"`
	Strategies        StrategySet     `mapstructure:"strategies"`
	Risk              RiskConfig      `mapstructure:"risk"`
	Executor          ExecutorConfig  `mapstructure:"executor"`
	Portfolio         PortfolioConfig `mapstructure:"portfolio"`
	Store             StoreConfig     `mapstructure:"store"`
	Logging           LoggingConfig   `mapstructure:"logging"`
	Dashboard         DashboardConfig `mapstructure:"dashboard"`
}

// VenueConfig declares one venue: identity, category, fee schedule, limits,
// API endpoint and credentials. Credentials are normally supplied via
// ARB_<VENUEID>_API_KEY / ARB_<VENUEID>_API_SECRET.
type VenueConfig struct {
	ID               string  `mapstructure:"id"`
	Name             string  `mapstructure:"name"`
	Category         string  `mapstructure:"category"` // spot | perpetual | dex | demo
	BaseURL          string  `mapstructure:"base_url"`
	APIKey           string  `mapstructure:"api_key"`
	APISecret        string  `mapstructure:"api_secret"`
	MakerRate        float64 `mapstructure:"maker_rate"`
	TakerRate        float64 `mapstructure:"taker_rate"`
	MaxPositionQuote float64 `mapstructure:"max_position_quote"`
	HighRisk         bool    `mapstructure:"high_risk"`
	RequestsPerSec   float64 `mapstructure:"requests_per_sec"`
	Burst            float64 `mapstructure:"burst"`

	// Per-asset order-size bounds enforced by the risk gate, and flat
	// withdraw fees carried on the venue's fee schedule.
	MinAmounts   map[string]float64 `mapstructure:"min_amounts"`
	MaxAmounts   map[string]float64 `mapstructure:"max_amounts"`
	WithdrawFees map[string]float64 `mapstructure:"withdraw_fees"`
}

// CacheConfig tunes the market data cache.
//
//   - StaleAfter: snapshots older than this are excluded from scanning.
//   - PriceAlertPct: relative last-price move that emits a priceAlert.
//   - VolumeSpikeMult: volume multiple over the prior snapshot that emits
//     a volumeSpike.
type CacheConfig struct {
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	PriceAlertPct   float64       `mapstructure:"price_alert_pct"`
	VolumeSpikeMult float64       `mapstructure:"volume_spike_mult"`
}

// ScannerConfig controls the opportunity scanner's clock and working set.
type ScannerConfig struct {
	Period        time.Duration `mapstructure:"period"`         // synthesis tick, default 1s
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // expiry sweep, default 5s
	MaxActive     int           `mapstructure:"max_active"`     // live candidate cap, default 50
	TTL           time.Duration `mapstructure:"ttl"`            // opportunity time-to-live, default 30s
}

// StrategySet holds the per-kind strategy parameter records. Each kind is a
// distinct typed block; there is no generic params bag.
type StrategySet struct {
	Simple     SimpleStrategyConfig     `mapstructure:"simple"`
	Triangular TriangularStrategyConfig `mapstructure:"triangular"`
	Basis      BasisStrategyConfig      `mapstructure:"basis"`
}

// SimpleStrategyConfig parameterizes cross-venue scanning.
type SimpleStrategyConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Symbols            []string `mapstructure:"symbols"`
	Venues             []string `mapstructure:"venues"`
	MinProfitPct       float64  `mapstructure:"min_profit_pct"`
	MaxPositionQuote   float64  `mapstructure:"max_position_quote"`
	EnablePartialFills bool     `mapstructure:"enable_partial_fills"`
}

// Triangle is an ordered asset cycle A → B → C traded on a single venue.
type Triangle struct {
	A string `mapstructure:"a"`
	B string `mapstructure:"b"`
	C string `mapstructure:"c"`
}

// TriangularStrategyConfig parameterizes single-venue triangle scanning.
type TriangularStrategyConfig struct {
	Enabled          bool       `mapstructure:"enabled"`
	Venue            string     `mapstructure:"venue"`
	Triangles        []Triangle `mapstructure:"triangles"`
	MinProfitPct     float64    `mapstructure:"min_profit_pct"`
	MaxPositionQuote float64    `mapstructure:"max_position_quote"`
}

// BasisPair names one spot/perp venue pairing for funding capture.
type BasisPair struct {
	SpotVenue string `mapstructure:"spot_venue"`
	PerpVenue string `mapstructure:"perp_venue"`
	Symbol    string `mapstructure:"symbol"`
}

// BasisStrategyConfig parameterizes funding-rate/basis scanning.
type BasisStrategyConfig struct {
	Enabled          bool        `mapstructure:"enabled"`
	Pairs            []BasisPair `mapstructure:"pairs"`
	MinAnnualizedPct float64     `mapstructure:"min_annualized_pct"`
	MaxPositionQuote float64     `mapstructure:"max_position_quote"`
}

// RiskConfig sets the admission limits enforced by the risk gate.
type RiskConfig struct {
	GlobalMinProfitPct    float64       `mapstructure:"global_min_profit_pct"`    // default 0.1
	MaxTotalExposureQuote float64       `mapstructure:"max_total_exposure_quote"` // portfolio-wide cap
	MaxLossPerDayQuote    float64       `mapstructure:"max_loss_per_day_quote"`   // daily realized-loss halt
	MaxPositionAgeHours   float64       `mapstructure:"max_position_age_hours"`
	CorrelationThreshold  float64       `mapstructure:"correlation_threshold"`
	Cooldown              time.Duration `mapstructure:"cooldown"` // scanner pause after a limit breach
	FlattenOnStop         bool          `mapstructure:"flatten_on_stop"`
}

// ExecutorConfig tunes the execution coordinator.
type ExecutorConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"` // in-flight executions, default 4
	QueueSize     int           `mapstructure:"queue_size"`     // FIFO approval queue bound, default 16
	LegTimeout    time.Duration `mapstructure:"leg_timeout"`    // default per-leg deadline, 5s
	GracePeriod   time.Duration `mapstructure:"grace_period"`   // shutdown drain window, default 30s
}

// PortfolioConfig controls balance reconciliation.
type PortfolioConfig struct {
	QuoteAsset        string        `mapstructure:"quote_asset"` // valuation asset, e.g. "USDT"
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// StoreConfig points at the audit database. Empty DSN disables persistence.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the read-only web dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides. Unknown YAML
// keys are a load error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.Cache.StaleAfter == 0 {
		c.Cache.StaleAfter = 10 * time.Second
	}
	if c.Cache.PriceAlertPct == 0 {
		c.Cache.PriceAlertPct = 0.01
	}
	if c.Cache.VolumeSpikeMult == 0 {
		c.Cache.VolumeSpikeMult = 2
	}
	if c.Scanner.Period == 0 {
		c.Scanner.Period = time.Second
	}
	if c.Scanner.SweepInterval == 0 {
		c.Scanner.SweepInterval = 5 * time.Second
	}
	if c.Scanner.MaxActive == 0 {
		c.Scanner.MaxActive = 50
	}
	if c.Scanner.TTL == 0 {
		c.Scanner.TTL = 30 * time.Second
	}
	if c.Risk.GlobalMinProfitPct == 0 {
		c.Risk.GlobalMinProfitPct = 0.1
	}
	if c.Risk.Cooldown == 0 {
		c.Risk.Cooldown = 60 * time.Second
	}
	if c.Executor.MaxConcurrent == 0 {
		c.Executor.MaxConcurrent = 4
	}
	if c.Executor.QueueSize == 0 {
		c.Executor.QueueSize = 16
	}
	if c.Executor.LegTimeout == 0 {
		c.Executor.LegTimeout = 5 * time.Second
	}
	if c.Executor.GracePeriod == 0 {
		c.Executor.GracePeriod = 30 * time.Second
	}
	if c.Portfolio.QuoteAsset == "" {
		c.Portfolio.QuoteAsset = "USDT"
	}
	if c.Portfolio.ReconcileInterval == 0 {
		c.Portfolio.ReconcileInterval = time.Minute
	}
}

// applyEnvOverrides reads the enumerated environment inputs: log level,
// dashboard port, demo flag, per-venue API credentials, global risk caps.
func (c *Config) applyEnvOverrides() {
	if lvl := os.Getenv("ARB_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	if port := os.Getenv("ARB_DASHBOARD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Dashboard.Port = p
		}
	}
	if demo := os.Getenv("ARB_DEMO"); demo == "true" || demo == "1" {
		c.Demo = true
	}
	if dsn := os.Getenv("ARB_STORE_DSN"); dsn != "" {
		c.Store.DSN = dsn
	}
	if cap := os.Getenv("ARB_MAX_TOTAL_EXPOSURE"); cap != "" {
		if v, err := strconv.ParseFloat(cap, 64); err == nil {
			c.Risk.MaxTotalExposureQuote = v
		}
	}
	if cap := os.Getenv("ARB_MAX_DAILY_LOSS"); cap != "" {
		if v, err := strconv.ParseFloat(cap, 64); err == nil {
			c.Risk.MaxLossPerDayQuote = v
		}
	}
	for i := range c.Venues {
		prefix := "ARB_" + strings.ToUpper(c.Venues[i].ID) + "_"
		if key := os.Getenv(prefix + "API_KEY"); key != "" {
			c.Venues[i].APIKey = key
		}
		if secret := os.Getenv(prefix + "API_SECRET"); secret != "" {
			c.Venues[i].APISecret = secret
		}
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue is required")
	}
	seen := make(map[string]bool)
	for _, v := range c.Venues {
		if v.ID == "" {
			return fmt.Errorf("venue id is required")
		}
		if seen[v.ID] {
			return fmt.Errorf("duplicate venue id %q", v.ID)
		}
		seen[v.ID] = true
		switch v.Category {
		case "spot", "perpetual", "dex", "demo":
		default:
			return fmt.Errorf("venue %s: category must be one of: spot, perpetual, dex, demo", v.ID)
		}
		if !c.Demo && v.Category != "demo" && v.BaseURL == "" {
			return fmt.Errorf("venue %s: base_url is required", v.ID)
		}
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.Risk.MaxTotalExposureQuote <= 0 {
		return fmt.Errorf("risk.max_total_exposure_quote must be > 0 (set ARB_MAX_TOTAL_EXPOSURE)")
	}
	if c.Risk.MaxLossPerDayQuote <= 0 {
		return fmt.Errorf("risk.max_loss_per_day_quote must be > 0 (set ARB_MAX_DAILY_LOSS)")
	}
	if c.Strategies.Simple.Enabled && c.Strategies.Simple.MaxPositionQuote <= 0 {
		return fmt.Errorf("strategies.simple.max_position_quote must be > 0")
	}
	if c.Strategies.Triangular.Enabled {
		if c.Strategies.Triangular.Venue == "" {
			return fmt.Errorf("strategies.triangular.venue is required")
		}
		if len(c.Strategies.Triangular.Triangles) == 0 {
			return fmt.Errorf("strategies.triangular.triangles must not be empty")
		}
	}
	if c.Strategies.Basis.Enabled && len(c.Strategies.Basis.Pairs) == 0 {
		return fmt.Errorf("strategies.basis.pairs must not be empty")
	}
	if c.Executor.QueueSize < c.Executor.MaxConcurrent {
		return fmt.Errorf("executor.queue_size must be >= executor.max_concurrent")
	}
	return nil
}
