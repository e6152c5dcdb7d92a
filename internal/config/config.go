// Package config defines all configuration for the market-making engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via MM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Symbol     string           `mapstructure:"symbol"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	API        APIConfig        `mapstructure:"api"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Ladder     LadderConfig     `mapstructure:"ladder"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Guard      GuardConfig      `mapstructure:"guard"`
	Timers     TimersConfig     `mapstructure:"timers"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Status     StatusConfig     `mapstructure:"status"`
}

// CredentialsConfig holds the exchange API credentials used for HMAC
// request signing. ApiSecret and Passphrase should be supplied via
// environment variables in production, never committed to the YAML file.
type CredentialsConfig struct {
	ApiKey     string `mapstructure:"api_key"`
	ApiSecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`
	UseV2      bool   `mapstructure:"use_v2"`
}

// APIConfig holds the exchange's REST/streaming endpoints.
type APIConfig struct {
	RESTBaseURL   string `mapstructure:"rest_base_url"`
	WSPrivateURL  string `mapstructure:"ws_private_url"`
}

// FeedConfig points at the public reference feed used to derive mid, OFI,
// volatility, and momentum. It is an external collaborator — this engine
// treats it as a read-only stream.
type FeedConfig struct {
	URL             string        `mapstructure:"url"`
	StaleTimeout    time.Duration `mapstructure:"stale_timeout"`
	DepthDecay      float64       `mapstructure:"depth_decay"`
	DepthLevels     int           `mapstructure:"depth_levels"`
}

// LadderConfig is the ordered sequence of levels quoted symmetrically
// around mid. Defaults below are the tuned 25-level ladder this engine's
// predecessor used in production: tight refresh near mid, matching
// refresh-to-offset far from mid.
type LadderConfig struct {
	Levels       []LevelConfig   `mapstructure:"levels"`
	TickSize     decimal.Decimal `mapstructure:"tick_size"`
	SizeStep     decimal.Decimal `mapstructure:"size_step"`
	OrderNotional decimal.Decimal `mapstructure:"order_notional"`
}

// LevelConfig is one rung: offset (in bps from mid) at which an order is
// quoted, and the bps threshold beyond which the quote is stale.
type LevelConfig struct {
	OffsetBps  float64 `mapstructure:"offset_bps"`
	RefreshBps float64 `mapstructure:"refresh_bps"`
}

// StrategyConfig tunes the quoting controller: inventory skew, the OFI
// hysteresis gate, the trend gate, and asymmetric sizing.
type StrategyConfig struct {
	InventorySkewGamma float64 `mapstructure:"inventory_skew_gamma"` // γ
	MaxInventoryBase   decimal.Decimal `mapstructure:"max_inventory_base"`
	SafetyBufferPct    float64 `mapstructure:"safety_buffer_pct"`
	SizingEta          float64 `mapstructure:"sizing_eta"` // η, exp(η·q) asymmetric sizing

	OFIPauseThreshold  float64 `mapstructure:"ofi_pause_threshold"`
	OFIResumeThreshold float64 `mapstructure:"ofi_resume_threshold"`

	VolEWMALambda      float64       `mapstructure:"vol_ewma_lambda"`
	SigmaFloor         float64       `mapstructure:"sigma_floor"`
	MomentumThreshold  float64       `mapstructure:"momentum_threshold"`
	MomentumWindow     time.Duration `mapstructure:"momentum_window"`
	TrendWidenFactor   float64       `mapstructure:"trend_widen_factor"`

	RebateBps float64 `mapstructure:"rebate_bps"`
}

// ReconcilerConfig tunes the periodic reconciliation loop.
type ReconcilerConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	CancelTimeout      time.Duration `mapstructure:"cancel_timeout"`
	MaxCancelAttempts  int           `mapstructure:"max_cancel_attempts"`
	OrphanCancelCap    int           `mapstructure:"orphan_cancel_cap"`
	RecentCancelTTL    time.Duration `mapstructure:"recent_cancel_ttl"`
}

// GuardConfig tunes the ambient pause/resume safety monitor (see
// internal/risk.Guard) — a supplement beyond spec.md, not one of its gates.
type GuardConfig struct {
	FeedStaleTimeout      time.Duration `mapstructure:"feed_stale_timeout"`
	MaxReconcileFailures  int           `mapstructure:"max_reconcile_failures"`
	RapidMovePct          float64       `mapstructure:"rapid_move_pct"`
	RapidMoveWindow       time.Duration `mapstructure:"rapid_move_window"`
	CooldownAfterTrip     time.Duration `mapstructure:"cooldown_after_trip"`
}

// TimersConfig sets the supervisor's periodic task intervals.
type TimersConfig struct {
	Tick      time.Duration `mapstructure:"tick"`
	SessionLog time.Duration `mapstructure:"session_log"`
	Fills     time.Duration `mapstructure:"fills"`
	Reconcile time.Duration `mapstructure:"reconcile"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StatusConfig controls the read-only operator status surface.
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// defaultLevels is the 25-entry ladder this engine ships with: tight
// refresh on the ten layers closest to mid, moderate refresh on the next
// five, and refresh-matches-offset on the ten farthest out.
func defaultLevels() []LevelConfig {
	raw := [25][2]float64{
		{0.55, 0.28}, {1.23, 0.62}, {1.91, 0.96}, {2.59, 1.30}, {3.27, 1.64},
		{3.95, 1.98}, {4.63, 2.32}, {5.31, 2.66}, {5.99, 3.00}, {6.67, 3.34},
		{7.35, 4.0}, {8.03, 4.5}, {8.71, 5.0}, {9.39, 5.5}, {10.07, 6.0},
		{10.75, 10.75}, {11.43, 11.43}, {12.11, 12.11}, {12.79, 12.79}, {13.47, 13.47},
		{14.15, 14.15}, {14.83, 14.83}, {15.51, 15.51}, {16.19, 16.19}, {16.87, 16.87},
	}
	levels := make([]LevelConfig, len(raw))
	for i, r := range raw {
		levels[i] = LevelConfig{OffsetBps: r[0], RefreshBps: r[1]}
	}
	return levels
}

// Defaults returns a Config populated with the engine's tuned defaults.
// Load starts from these and layers the YAML file + environment on top.
func Defaults() Config {
	return Config{
		Symbol: "SOL-USDT",
		API: APIConfig{
			RESTBaseURL:  "https://api.exchange.example.com",
			WSPrivateURL: "wss://ws.exchange.example.com/private",
		},
		Feed: FeedConfig{
			StaleTimeout: 10 * time.Second,
			DepthDecay:   0.5,
			DepthLevels:  5,
		},
		Ladder: LadderConfig{
			Levels:        defaultLevels(),
			TickSize:      decimal.NewFromFloat(0.01),
			SizeStep:      decimal.NewFromFloat(0.01),
			OrderNotional: decimal.NewFromFloat(10.0),
		},
		Strategy: StrategyConfig{
			InventorySkewGamma: 0.1,
			MaxInventoryBase:   decimal.NewFromFloat(15.0),
			SafetyBufferPct:    0.02,
			SizingEta:          -0.005,
			OFIPauseThreshold:  0.60,
			OFIResumeThreshold: 0.35,
			VolEWMALambda:      0.94,
			SigmaFloor:         0.02,
			MomentumThreshold:  0.003,
			MomentumWindow:     300 * time.Second,
			TrendWidenFactor:   1.5,
			RebateBps:          1.0,
		},
		Reconciler: ReconcilerConfig{
			PollInterval:      time.Second,
			CancelTimeout:     5 * time.Second,
			MaxCancelAttempts: 3,
			OrphanCancelCap:   5,
			RecentCancelTTL:   10 * time.Second,
		},
		Guard: GuardConfig{
			FeedStaleTimeout:     15 * time.Second,
			MaxReconcileFailures: 3,
			RapidMovePct:         0.05,
			RapidMoveWindow:      30 * time.Second,
			CooldownAfterTrip:    60 * time.Second,
		},
		Timers: TimersConfig{
			Tick:       500 * time.Millisecond,
			SessionLog: 30 * time.Second,
			Fills:      5 * time.Second,
			Reconcile:  time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Status:  StatusConfig{Enabled: true, Port: 9090},
	}
}

// Load reads config from a YAML file with env var overrides, layered on
// top of Defaults(). Sensitive fields use env vars: MM_API_KEY,
// MM_API_SECRET, MM_PASSPHRASE.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("MM_API_KEY"); key != "" {
		cfg.Credentials.ApiKey = key
	}
	if secret := os.Getenv("MM_API_SECRET"); secret != "" {
		cfg.Credentials.ApiSecret = secret
	}
	if pass := os.Getenv("MM_PASSPHRASE"); pass != "" {
		cfg.Credentials.Passphrase = pass
	}
	if os.Getenv("MM_DRY_RUN") == "true" || os.Getenv("MM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Credentials.ApiKey == "" {
		return fmt.Errorf("credentials.api_key is required (set MM_API_KEY)")
	}
	if c.Credentials.ApiSecret == "" {
		return fmt.Errorf("credentials.api_secret is required (set MM_API_SECRET)")
	}
	if c.Credentials.Passphrase == "" {
		return fmt.Errorf("credentials.passphrase is required (set MM_PASSPHRASE)")
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.API.RESTBaseURL == "" {
		return fmt.Errorf("api.rest_base_url is required")
	}
	if len(c.Ladder.Levels) == 0 {
		return fmt.Errorf("ladder.levels must have at least one entry")
	}
	if c.Ladder.TickSize.IsZero() || c.Ladder.TickSize.IsNegative() {
		return fmt.Errorf("ladder.tick_size must be > 0")
	}
	if c.Ladder.SizeStep.IsZero() || c.Ladder.SizeStep.IsNegative() {
		return fmt.Errorf("ladder.size_step must be > 0")
	}
	if c.Strategy.MaxInventoryBase.IsZero() || c.Strategy.MaxInventoryBase.IsNegative() {
		return fmt.Errorf("strategy.max_inventory_base must be > 0")
	}
	if c.Strategy.OFIResumeThreshold >= c.Strategy.OFIPauseThreshold {
		return fmt.Errorf("strategy.ofi_resume_threshold must be < strategy.ofi_pause_threshold")
	}
	if c.Reconciler.MaxCancelAttempts <= 0 {
		return fmt.Errorf("reconciler.max_cancel_attempts must be > 0")
	}
	return nil
}
