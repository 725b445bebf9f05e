// Package config defines all configuration for the detection core.
// Config is loaded from a YAML file (default: configs/config.yaml) via
// viper, the way the teacher's config.Load does; a caarlos0/env overlay
// then applies environment-variable overrides for secrets and deployment
// knobs, the way forgequant-context8-mcp's analytics/internal/config
// does — so a connection string never has to live in the checked-in
// YAML.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure, with the Env block overlaid afterward.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Symbols   []string        `mapstructure:"symbols"`
	Transport TransportConfig `mapstructure:"transport"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Cohort    CohortConfig    `mapstructure:"cohort"`
	Toxicity  ToxicityConfig  `mapstructure:"toxicity"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTPAPI   HTTPAPIConfig   `mapstructure:"http_api"`

	Env EnvConfig `mapstructure:"-"`
}

// TransportConfig selects and configures the upstream feed (§4.10/§4.11):
// either a direct exchange WebSocket, or a Redis Streams consumer reading
// pre-normalized events from an upstream ingestion service.
type TransportConfig struct {
	Kind string `mapstructure:"kind"` // "websocket" or "redis_stream"

	WSURL string `mapstructure:"ws_url"`

	StreamKey     string        `mapstructure:"stream_key"`
	ConsumerGroup string        `mapstructure:"consumer_group"`
	ConsumerName  string        `mapstructure:"consumer_name"`
	BlockTime     time.Duration `mapstructure:"block_time"`
	BatchSize     int64         `mapstructure:"batch_size"`

	SnapshotBaseURL    string        `mapstructure:"snapshot_base_url"`
	DerivativesBaseURL string        `mapstructure:"derivatives_base_url"`
	RESTTimeout        time.Duration `mapstructure:"rest_timeout"`
}

// DetectorConfig tunes the iceberg detection thresholds of §4.3/§4.4,
// mirroring iceberg.DetectorConfig's fields so internal/engine's
// startSymbolLocked can convert directly.
type DetectorConfig struct {
	MaxRefillDelayMs int64   `mapstructure:"max_refill_delay_ms"`
	RefillCutoffMs   float64 `mapstructure:"refill_cutoff_ms"`
	RefillAlpha      float64 `mapstructure:"refill_alpha"`
	MinPRefill       float64 `mapstructure:"min_p_refill"`
	MinHiddenQty     float64 `mapstructure:"min_hidden_qty"`
	MinHiddenAbs     float64 `mapstructure:"min_hidden_abs"`
	MinRatio         float64 `mapstructure:"min_ratio"`
}

// RegistryConfig tunes the registry decay/cleanup tuning of §4.5, mirroring
// iceberg.RegistryConfig's fields plus the symbol-engine cleanup ticker
// interval, which lives one layer up in internal/symbol.
type RegistryConfig struct {
	HalfLife         time.Duration `mapstructure:"half_life"`
	MaxTTL           time.Duration `mapstructure:"max_ttl"`
	CleanupThreshold float64       `mapstructure:"cleanup_threshold"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
}

// CohortConfig tunes the whale/dolphin/minnow quote-volume thresholds
// consumed by cohort.NewThresholds.
type CohortConfig struct {
	WhaleThresholdUSD  float64 `mapstructure:"whale_threshold_usd"`
	MinnowThresholdUSD float64 `mapstructure:"minnow_threshold_usd"`
}

// ToxicityConfig tunes the VPIN bucket size.
type ToxicityConfig struct {
	BucketUSD float64 `mapstructure:"bucket_usd"`
}

// StoreConfig selects and configures the persistence backend (§4.12).
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // "postgres" or "json"
	DataDir string `mapstructure:"data_dir"`
	DSN     string `mapstructure:"dsn"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPAPIConfig controls the chi-based admin surface (§4.13).
type HTTPAPIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// EnvConfig holds values that must never live in a checked-in YAML file:
// secrets and per-deployment overrides, loaded via caarlos0/env.
type EnvConfig struct {
	PostgresDSN   string `env:"COREENGINE_POSTGRES_DSN"`
	RedisURL      string `env:"COREENGINE_REDIS_URL" envDefault:"redis://localhost:6379"`
	RedisPassword string `env:"COREENGINE_REDIS_PASSWORD"`
	DryRun        bool   `env:"COREENGINE_DRY_RUN" envDefault:"false"`
}

// Load reads config from a YAML file, then overlays environment
// variables via caarlos0/env.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("COREENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal config: %w", err)
	}

	var envCfg EnvConfig
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	cfg.Env = envCfg

	if envCfg.DryRun {
		cfg.DryRun = true
	}
	if envCfg.PostgresDSN != "" {
		cfg.Store.DSN = envCfg.PostgresDSN
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: at least one symbol must be configured")
	}
	switch c.Transport.Kind {
	case "websocket":
		if c.Transport.WSURL == "" {
			return fmt.Errorf("config: transport.ws_url is required for transport.kind=websocket")
		}
	case "redis_stream":
		if c.Transport.StreamKey == "" {
			return fmt.Errorf("config: transport.stream_key is required for transport.kind=redis_stream")
		}
	default:
		return fmt.Errorf("config: transport.kind must be one of: websocket, redis_stream")
	}
	if c.Transport.SnapshotBaseURL == "" {
		return fmt.Errorf("config: transport.snapshot_base_url is required")
	}
	switch c.Store.Backend {
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn (or COREENGINE_POSTGRES_DSN) is required for store.backend=postgres")
		}
	case "json":
		if c.Store.DataDir == "" {
			return fmt.Errorf("config: store.data_dir is required for store.backend=json")
		}
	default:
		return fmt.Errorf("config: store.backend must be one of: postgres, json")
	}
	return nil
}
