package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/potentials/internal/classify"
	"github.com/sells-group/potentials/internal/decay"
)

// Config holds the full application configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine" mapstructure:"engine"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	PostGIS PostGISConfig `yaml:"postgis" mapstructure:"postgis"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// EngineConfig holds request defaults. A request file or API body overrides
// any of them.
type EngineConfig struct {
	Family   string  `yaml:"family" mapstructure:"family"`
	Span     float64 `yaml:"span" mapstructure:"span"`
	Beta     float64 `yaml:"beta" mapstructure:"beta"`
	Workers  int     `yaml:"workers" mapstructure:"workers"` // 0 means GOMAXPROCS
	MaxCells int     `yaml:"max_cells" mapstructure:"max_cells"`
	Classes  int     `yaml:"classes" mapstructure:"classes"`
	Method   string  `yaml:"method" mapstructure:"method"`
	Geodesic bool    `yaml:"geodesic" mapstructure:"geodesic"`
}

// Decay returns the default decay parameters.
func (e EngineConfig) Decay() (decay.Params, error) {
	family, err := decay.ParseFamily(e.Family)
	if err != nil {
		return decay.Params{}, err
	}
	p := decay.Params{Family: family, Span: e.Span, Beta: e.Beta}
	return p, p.Validate()
}

// CacheConfig sizes the distance matrix cache. MaxEntries 0 disables it.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
	TTLMinutes int `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
}

// TTL returns the entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// StoreConfig configures the run log backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PostGISConfig configures the spatial database used as a point and mask
// source and as an export target.
type PostGISConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SRID        int    `yaml:"srid" mapstructure:"srid"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
	// Reads failing with a connection or serialization error are retried.
	RetryAttempts  int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMS int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	RateLimit           float64  `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	RateBurst           int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxBodyBytes        int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
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
	v.SetEnvPrefix("POTENTIALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("engine.family", "exponential")
	v.SetDefault("engine.span", 75000)
	v.SetDefault("engine.beta", 2)
	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.max_cells", 4_000_000)
	v.SetDefault("engine.classes", 5)
	v.SetDefault("engine.method", "quantile")
	v.SetDefault("engine.geodesic", false)
	v.SetDefault("cache.max_entries", 64)
	v.SetDefault("cache.ttl_minutes", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "potentials.db")
	v.SetDefault("postgis.srid", 4326)
	v.SetDefault("postgis.retry_attempts", 3)
	v.SetDefault("postgis.retry_backoff_ms", 200)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 10)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 32<<20)
	v.SetDefault("server.shutdown_timeout_secs", 15)
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

// Validate checks the configuration needed by a command mode: "run",
// "serve" or "postgis". Every problem is reported at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "run":
		errs = c.engineErrors()
	case "serve":
		errs = c.engineErrors()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RateLimit <= 0 {
			errs = append(errs, "server.rate_limit must be > 0")
		}
	case "postgis":
		if c.PostGIS.DatabaseURL == "" {
			errs = append(errs, "postgis.database_url is required")
		}
		if c.PostGIS.SRID <= 0 {
			errs = append(errs, "postgis.srid must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) engineErrors() []string {
	var errs []string
	if _, err := c.Engine.Decay(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := classify.ParseMethod(c.Engine.Method); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Engine.Classes < 1 {
		errs = append(errs, "engine.classes must be >= 1")
	}
	if c.Engine.MaxCells < 1 {
		errs = append(errs, "engine.max_cells must be > 0")
	}
	if c.Engine.Workers < 0 {
		errs = append(errs, "engine.workers must be >= 0")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
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
