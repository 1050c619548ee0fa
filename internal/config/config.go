// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/subletmap/subletmap/pkg/geocode"
)

// Config holds the full application configuration.
type Config struct {
	Sheet   SheetConfig   `yaml:"sheet" mapstructure:"sheet"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// SheetConfig points at the published spreadsheet export.
type SheetConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// GeocodeConfig configures the geocoding provider and resolver.
type GeocodeConfig struct {
	AccessToken              string  `yaml:"access_token" mapstructure:"access_token"`
	BaseURL                  string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimitRPS             float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	PlausibilityThresholdDeg float64 `yaml:"plausibility_threshold_deg" mapstructure:"plausibility_threshold_deg"`
	SpecialPlacesFile        string  `yaml:"special_places_file" mapstructure:"special_places_file"`
	BatchConcurrency         int     `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
}

// CacheConfig configures TTL tiers, retry budgets, and the optional
// persistent store. Durations are in days to match how the tiers are talked
// about.
type CacheConfig struct {
	OrdinaryFreshDays int `yaml:"ordinary_fresh_days" mapstructure:"ordinary_fresh_days"`
	OrdinaryEvictDays int `yaml:"ordinary_evict_days" mapstructure:"ordinary_evict_days"`
	SpecialFreshDays  int `yaml:"special_fresh_days" mapstructure:"special_fresh_days"`
	SpecialEvictDays  int `yaml:"special_evict_days" mapstructure:"special_evict_days"`

	RetryBudgetOrdinary int `yaml:"retry_budget_ordinary" mapstructure:"retry_budget_ordinary"`
	RetryBudgetSpecial  int `yaml:"retry_budget_special" mapstructure:"retry_budget_special"`

	StoreDriver string `yaml:"store_driver" mapstructure:"store_driver"` // "sqlite", "postgres", or "none"
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ToGeocodeConfig converts the day-based settings into the cache's config.
func (c CacheConfig) ToGeocodeConfig() geocode.CacheConfig {
	cfg := geocode.DefaultCacheConfig()
	if c.OrdinaryFreshDays > 0 {
		cfg.OrdinaryFresh = time.Duration(c.OrdinaryFreshDays) * 24 * time.Hour
	}
	if c.OrdinaryEvictDays > 0 {
		cfg.OrdinaryEvict = time.Duration(c.OrdinaryEvictDays) * 24 * time.Hour
	}
	if c.SpecialFreshDays > 0 {
		cfg.SpecialFresh = time.Duration(c.SpecialFreshDays) * 24 * time.Hour
	}
	if c.SpecialEvictDays > 0 {
		cfg.SpecialEvict = time.Duration(c.SpecialEvictDays) * 24 * time.Hour
	}
	if c.RetryBudgetOrdinary > 0 {
		cfg.RetryBudgetOrdinary = c.RetryBudgetOrdinary
	}
	if c.RetryBudgetSpecial > 0 {
		cfg.RetryBudgetSpecial = c.RetryBudgetSpecial
	}
	return cfg
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SUBLETMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("sheet.timeout_secs", 30)
	v.SetDefault("sheet.max_retries", 3)
	v.SetDefault("geocode.rate_limit_rps", 10)
	v.SetDefault("geocode.plausibility_threshold_deg", 0.1)
	v.SetDefault("geocode.batch_concurrency", 10)
	v.SetDefault("cache.ordinary_fresh_days", 7)
	v.SetDefault("cache.ordinary_evict_days", 30)
	v.SetDefault("cache.special_fresh_days", 30)
	v.SetDefault("cache.special_evict_days", 90)
	v.SetDefault("cache.retry_budget_ordinary", 3)
	v.SetDefault("cache.retry_budget_special", 2)
	v.SetDefault("cache.store_driver", "sqlite")
	v.SetDefault("cache.sqlite_path", "geocode-cache.db")

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
