package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Execution loop constants. These are deliberately not configurable.
const (
	ExecutionInterval     = 15 * time.Second
	ExecutionScanLimit    = 100
	StaleProcessingAfter  = 10 * time.Minute
	DefaultMaxSlippageBps = 50
)

// Reconciliation bounds.
const (
	MinReconcilePageSize       = 50
	MaxReconcilePageSize       = 500
	MinBackfillPagesPerRun     = 1
	MaxBackfillPagesPerRun     = 10
	MinReconcileInterval       = 10 * time.Second
	defaultReconcileInterval   = 2 * time.Minute
	defaultReconcilePageSize   = 200
	defaultBackfillPagesPerRun = 2
)

// Config holds all configuration for the application.
type Config struct {
	Gateway   Gateway   `mapstructure:"gateway"`
	Execution Execution `mapstructure:"execution"`
	Reconcile Reconcile `mapstructure:"reconcile"`
	PriceFeed PriceFeed `mapstructure:"pricefeed"`
	Logger    Logger    `mapstructure:"logger"`
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
}

// Gateway holds the configuration for the settlement gateway client.
type Gateway struct {
	BaseURL        string        `mapstructure:"base_url"`
	InternalKey    string        `mapstructure:"internal_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// Execution holds the retry policy of the execution loop.
// MaxAttempts of zero means transient failures are retried forever.
type Execution struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// Reconcile holds the configuration for the trade resync job.
type Reconcile struct {
	Interval      time.Duration `mapstructure:"interval"`
	PageSize      int           `mapstructure:"page_size"`
	Backfill      bool          `mapstructure:"backfill"`
	BackfillPages int           `mapstructure:"backfill_pages"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// PriceFeed holds the configuration for live price ingestion.
type PriceFeed struct {
	RestURL       string        `mapstructure:"rest_url"`
	StreamURL     string        `mapstructure:"stream_url"`
	Symbols       []string      `mapstructure:"symbols"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	StreamEnabled bool          `mapstructure:"stream_enabled"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	RateLimit     float64       `mapstructure:"rate_limit"`
}

// Server holds the configuration for the HTTP servers.
type Server struct {
	Port       int `mapstructure:"port"`
	StatusPort int `mapstructure:"status_port"`
}

// Database holds the configuration for the database.
type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from an optional .env file, the config file
// in path and environment variables, in increasing order of precedence.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindLegacyEnv(v)
	setDefaults(v)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if ms := v.GetInt64("legacy_resync_interval_ms"); ms > 0 && !v.InConfig("reconcile.interval") && os.Getenv("RECONCILE_INTERVAL") == "" {
		cfg.Reconcile.Interval = time.Duration(ms) * time.Millisecond
	}
	cfg.Normalize()
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.timeout", 15*time.Second)
	v.SetDefault("gateway.rate_limit", 20)
	v.SetDefault("gateway.rate_limit_burst", 5)
	v.SetDefault("gateway.max_retries", 2)

	v.SetDefault("execution.max_attempts", 20)
	v.SetDefault("execution.backoff_initial", ExecutionInterval)
	v.SetDefault("execution.backoff_max", 10*time.Minute)

	v.SetDefault("reconcile.interval", defaultReconcileInterval)
	v.SetDefault("reconcile.page_size", defaultReconcilePageSize)
	v.SetDefault("reconcile.backfill", false)
	v.SetDefault("reconcile.backfill_pages", defaultBackfillPagesPerRun)
	v.SetDefault("reconcile.startup_delay", 5*time.Second)

	v.SetDefault("pricefeed.rest_url", "https://api.binance.com/api/v3")
	v.SetDefault("pricefeed.stream_url", "wss://stream.binance.com:9443/stream")
	v.SetDefault("pricefeed.symbols", []string{})
	v.SetDefault("pricefeed.poll_interval", 30*time.Second)
	v.SetDefault("pricefeed.stream_enabled", true)
	v.SetDefault("pricefeed.rate_limit", 5)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.status_port", 9090)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "settlement.db")
}

// bindLegacyEnv keeps the environment names used by earlier deployments working.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("gateway.base_url", "GATEWAY_BASE_URL", "PERSON_A_BASE_URL")
	_ = v.BindEnv("gateway.internal_key", "GATEWAY_INTERNAL_KEY", "INTERNAL_EXECUTOR_KEY")
	_ = v.BindEnv("reconcile.page_size", "RECONCILE_PAGE_SIZE", "TRADE_RESYNC_LIMIT")
	_ = v.BindEnv("reconcile.backfill", "RECONCILE_BACKFILL", "TRADE_RESYNC_BACKFILL")
	_ = v.BindEnv("reconcile.backfill_pages", "RECONCILE_BACKFILL_PAGES", "TRADE_RESYNC_BACKFILL_PAGES")
	_ = v.BindEnv("legacy_resync_interval_ms", "TRADE_RESYNC_INTERVAL_MS")
}

// Normalize clamps externally supplied values into their supported ranges.
func (c *Config) Normalize() {
	c.Reconcile.PageSize = clampInt(c.Reconcile.PageSize, MinReconcilePageSize, MaxReconcilePageSize)
	c.Reconcile.BackfillPages = clampInt(c.Reconcile.BackfillPages, MinBackfillPagesPerRun, MaxBackfillPagesPerRun)
	if c.Reconcile.Interval < MinReconcileInterval {
		c.Reconcile.Interval = MinReconcileInterval
	}
	if c.Reconcile.StartupDelay < 0 {
		c.Reconcile.StartupDelay = 0
	}
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 15 * time.Second
	}
	if c.Gateway.MaxRetries < 1 {
		c.Gateway.MaxRetries = 1
	}
	if c.Execution.MaxAttempts < 0 {
		c.Execution.MaxAttempts = 0
	}
	if c.Execution.BackoffInitial <= 0 {
		c.Execution.BackoffInitial = ExecutionInterval
	}
	if c.Execution.BackoffMax < c.Execution.BackoffInitial {
		c.Execution.BackoffMax = c.Execution.BackoffInitial
	}
	for i, s := range c.PriceFeed.Symbols {
		c.PriceFeed.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
