package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/coalition-geo/internal/geo"
	"github.com/sells-group/coalition-geo/internal/resilience"
)

// Run journal backends accepted by runs.backend.
const (
	RunsPostgres = "postgres"
	RunsSQLite   = "sqlite"
	RunsNone     = "none"
)

// Public provider names accepted by geocode.public_provider.
const (
	PublicCensus = "census"
	PublicGoogle = "google"
	PublicNone   = "none"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Districts  DistrictsConfig  `yaml:"districts" mapstructure:"districts"`
	Backfill   BackfillConfig   `yaml:"backfill" mapstructure:"backfill"`
	Regions    RegionsConfig    `yaml:"regions" mapstructure:"regions"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Runs       RunsConfig       `yaml:"runs" mapstructure:"runs"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// GeocodeConfig configures the provider chain. The local tiger geocoder is
// always tried first; public_provider picks the fallback.
type GeocodeConfig struct {
	PublicProvider  string        `yaml:"public_provider" mapstructure:"public_provider"`
	SkipTiger       bool          `yaml:"skip_tiger" mapstructure:"skip_tiger"`
	CensusURL       string        `yaml:"census_url" mapstructure:"census_url"`
	CensusBenchmark string        `yaml:"census_benchmark" mapstructure:"census_benchmark"`
	GoogleKey       string        `yaml:"google_key" mapstructure:"google_key"`
	GoogleURL       string        `yaml:"google_url" mapstructure:"google_url"`
	MaxRating       int           `yaml:"max_rating" mapstructure:"max_rating"`
	TimeoutSecs     int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit       float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	AmbiguityMeters float64       `yaml:"ambiguity_meters" mapstructure:"ambiguity_meters"`
	CacheEnabled    bool          `yaml:"cache_enabled" mapstructure:"cache_enabled"`
	CacheTTLDays    int           `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
	Retry           RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit         CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig configures per-provider retries for transient outcomes.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures per-provider circuit breakers. A zero
// failure_threshold disables them.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// DistrictsConfig selects the region types cached on stakeholders.
type DistrictsConfig struct {
	Types []string `yaml:"types" mapstructure:"types"`
}

// BackfillConfig holds bulk runner defaults; CLI flags override them.
type BackfillConfig struct {
	DelayMs     int `yaml:"delay_ms" mapstructure:"delay_ms"`
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	Limit       int `yaml:"limit" mapstructure:"limit"`
}

// RegionsConfig configures shapefile imports.
type RegionsConfig struct {
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures geocoding health alerts.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	PendingThreshold     int     `yaml:"pending_threshold" mapstructure:"pending_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	// State limits health snapshots to one state code; empty watches all.
	State                string  `yaml:"state" mapstructure:"state"`
}

// RunsConfig selects where bulk runs are journaled.
type RunsConfig struct {
	Backend    string `yaml:"backend" mapstructure:"backend"`
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env.local, config.yaml and the environment.
func Load() (*Config, error) {
	// Missing .env.local is normal outside development.
	_ = godotenv.Load(".env.local")

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COALITION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("geocode.public_provider", PublicCensus)
	v.SetDefault("geocode.skip_tiger", false)
	v.SetDefault("geocode.census_url", "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress")
	v.SetDefault("geocode.census_benchmark", "Public_AR_Current")
	v.SetDefault("geocode.google_key", "")
	v.SetDefault("geocode.google_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("geocode.max_rating", 20)
	v.SetDefault("geocode.timeout_secs", 15)
	v.SetDefault("geocode.rate_limit", 5.0)
	v.SetDefault("geocode.ambiguity_meters", 1000.0)
	v.SetDefault("geocode.cache_enabled", true)
	v.SetDefault("geocode.cache_ttl_days", 90)
	v.SetDefault("geocode.retry.max_attempts", 3)
	v.SetDefault("geocode.retry.initial_backoff_ms", 500)
	v.SetDefault("geocode.retry.max_backoff_ms", 30000)
	v.SetDefault("geocode.retry.multiplier", 2.0)
	v.SetDefault("geocode.retry.jitter_fraction", 0.25)
	v.SetDefault("geocode.circuit.failure_threshold", 5)
	v.SetDefault("geocode.circuit.reset_timeout_secs", 30)
	v.SetDefault("districts.types", []string{string(geo.Congressional), string(geo.StateUpper), string(geo.StateLower)})
	v.SetDefault("backfill.delay_ms", 200)
	v.SetDefault("backfill.concurrency", 1)
	v.SetDefault("backfill.limit", 0)
	v.SetDefault("regions.temp_dir", "/tmp/coalition-geo")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.pending_threshold", 0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.state", "")
	v.SetDefault("runs.backend", RunsPostgres)
	v.SetDefault("runs.sqlite_path", "coalition-geo-runs.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate rejects settings no run could work with. It does not require a
// database URL; commands that need one check RequireDatabase.
func (c *Config) Validate() error {
	switch c.Geocode.PublicProvider {
	case PublicCensus, PublicNone:
	case PublicGoogle:
		if c.Geocode.GoogleKey == "" {
			return eris.New("config: geocode.google_key is required when public_provider is google")
		}
	default:
		return eris.Errorf("config: unknown geocode.public_provider %q (want census, google or none)", c.Geocode.PublicProvider)
	}
	if c.Geocode.SkipTiger && c.Geocode.PublicProvider == PublicNone {
		return eris.New("config: no geocoding provider enabled")
	}
	if c.Geocode.Retry.MaxAttempts < 1 {
		return eris.Errorf("config: geocode.retry.max_attempts must be at least 1, got %d", c.Geocode.Retry.MaxAttempts)
	}
	if c.Geocode.AmbiguityMeters < 0 {
		return eris.New("config: geocode.ambiguity_meters must not be negative")
	}
	if _, err := c.Districts.RegionTypes(); err != nil {
		return err
	}
	switch c.Runs.Backend {
	case RunsPostgres, RunsNone:
	case RunsSQLite:
		if c.Runs.SQLitePath == "" {
			return eris.New("config: runs.sqlite_path is required when runs.backend is sqlite")
		}
	default:
		return eris.Errorf("config: unknown runs.backend %q (want postgres, sqlite or none)", c.Runs.Backend)
	}
	if c.Backfill.Concurrency < 1 {
		return eris.Errorf("config: backfill.concurrency must be at least 1, got %d", c.Backfill.Concurrency)
	}
	return nil
}

// RequireDatabase reports a missing database URL.
func (c *Config) RequireDatabase() error {
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required (set COALITION_STORE_DATABASE_URL)")
	}
	return nil
}

// RegionTypes parses the configured district types.
func (d DistrictsConfig) RegionTypes() ([]geo.RegionType, error) {
	out := make([]geo.RegionType, 0, len(d.Types))
	for _, s := range d.Types {
		t, err := geo.ParseRegionType(s)
		if err != nil {
			return nil, eris.Wrap(err, "config: districts.types")
		}
		if !t.IsDistrict() {
			return nil, eris.Errorf("config: districts.types: %s is not a district type", t)
		}
		out = append(out, t)
	}
	return out, nil
}

// RetryPolicy converts the retry settings into a resilience.Policy.
func (g GeocodeConfig) RetryPolicy() resilience.Policy {
	r := g.Retry
	return resilience.PolicyFromConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction, g.TimeoutSecs)
}

// Breakers returns per-provider circuit breakers, or nil when disabled.
func (g GeocodeConfig) Breakers() *resilience.Breakers {
	if g.Circuit.FailureThreshold <= 0 {
		return nil
	}
	return resilience.NewBreakers(resilience.BreakerFromConfig(g.Circuit.FailureThreshold, g.Circuit.ResetTimeoutSecs))
}

// CacheTTL returns the geocode cache lifetime.
func (g GeocodeConfig) CacheTTL() time.Duration {
	return time.Duration(g.CacheTTLDays) * 24 * time.Hour
}

// Delay returns the configured pause between provider calls.
func (b BackfillConfig) Delay() time.Duration {
	return time.Duration(b.DelayMs) * time.Millisecond
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
