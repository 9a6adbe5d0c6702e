package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	GeoIndex   GeoIndexConfig   `yaml:"geoindex" mapstructure:"geoindex"`
	ImageStore ImageStoreConfig `yaml:"imagestore" mapstructure:"imagestore"`
	Proximity  ProximityConfig  `yaml:"proximity" mapstructure:"proximity"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend for images and locations.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig is used when store.driver is "redis".
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// GeoIndexConfig tunes geohash indexing and query covering.
type GeoIndexConfig struct {
	Precision       uint          `yaml:"precision" mapstructure:"precision"`
	MaxCells        int           `yaml:"max_cells" mapstructure:"max_cells"`
	ScanTimeout     time.Duration `yaml:"scan_timeout" mapstructure:"scan_timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval"`
}

// ImageStoreConfig sizes the in-process payload cache.
type ImageStoreConfig struct {
	CacheEntries int           `yaml:"cache_entries" mapstructure:"cache_entries"`
	CacheTTL     time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// ProximityConfig configures discovery and the exchange flow.
type ProximityConfig struct {
	FoundRadiusKm float64       `yaml:"found_radius_km" mapstructure:"found_radius_km"`
	RegionSpanDeg float64       `yaml:"region_span_deg" mapstructure:"region_span_deg"`
	RevealTimeout time.Duration `yaml:"reveal_timeout" mapstructure:"reveal_timeout"`
	FadeDuration  time.Duration `yaml:"fade_duration" mapstructure:"fade_duration"`
	OpTimeout     time.Duration `yaml:"op_timeout" mapstructure:"op_timeout"`
	ThumbnailSize int           `yaml:"thumbnail_size" mapstructure:"thumbnail_size"`
	RetryAttempts int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`

	// MaxSourcePixels caps the declared width×height of an uploaded photo.
	MaxSourcePixels int `yaml:"max_source_pixels" mapstructure:"max_source_pixels"`
}

// SessionConfig configures client sessions.
type SessionConfig struct {
	IdleTTL        time.Duration `yaml:"idle_ttl" mapstructure:"idle_ttl"`
	ReapInterval   time.Duration `yaml:"reap_interval" mapstructure:"reap_interval"`
	EventBuffer    int           `yaml:"event_buffer" mapstructure:"event_buffer"`
	LocationRate   float64       `yaml:"location_rate" mapstructure:"location_rate"`
	LocationBurst  int           `yaml:"location_burst" mapstructure:"location_burst"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Heartbeat      time.Duration `yaml:"heartbeat" mapstructure:"heartbeat"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load(".env")

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PHOTODROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "photodrop.db")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.prefix", "photodrop:")
	v.SetDefault("geoindex.precision", 10)
	v.SetDefault("geoindex.max_cells", 16)
	v.SetDefault("geoindex.scan_timeout", 10*time.Second)
	v.SetDefault("geoindex.refresh_interval", 30*time.Second)
	v.SetDefault("imagestore.cache_entries", 256)
	v.SetDefault("imagestore.cache_ttl", 5*time.Minute)
	v.SetDefault("proximity.found_radius_km", 0.05)
	v.SetDefault("proximity.region_span_deg", 0.0125)
	v.SetDefault("proximity.reveal_timeout", 30*time.Second)
	v.SetDefault("proximity.fade_duration", 500*time.Millisecond)
	v.SetDefault("proximity.op_timeout", 10*time.Second)
	v.SetDefault("proximity.thumbnail_size", 400)
	v.SetDefault("proximity.retry_attempts", 3)
	v.SetDefault("proximity.max_source_pixels", 40_000_000)
	v.SetDefault("session.idle_ttl", 30*time.Minute)
	v.SetDefault("session.reap_interval", time.Minute)
	v.SetDefault("session.event_buffer", 64)
	v.SetDefault("session.location_rate", 2.0)
	v.SetDefault("session.location_burst", 5)
	v.SetDefault("session.max_upload_bytes", 10<<20)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.heartbeat", 15*time.Second)
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

// Validate checks the settings a command mode depends on. Every mode needs a
// usable store and geo index; "serve" also needs a listen port.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.GeoIndex.Precision < 1 || c.GeoIndex.Precision > 12 {
		errs = append(errs, "geoindex.precision must be between 1 and 12")
	}
	if c.Proximity.FoundRadiusKm <= 0 {
		errs = append(errs, "proximity.found_radius_km must be > 0")
	}
	if c.Proximity.RegionSpanDeg <= 0 {
		errs = append(errs, "proximity.region_span_deg must be > 0")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "drop", "seed", "reconcile", "migrate", "status":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
