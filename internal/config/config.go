// Package config loads settings from config.yaml, .env and APPORTION_*
// environment variables, and builds the global logger.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Config holds the full application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	PostGIS  PostGISConfig  `yaml:"postgis" mapstructure:"postgis"`
	TIGERweb TIGERwebConfig `yaml:"tigerweb" mapstructure:"tigerweb"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Tiger    TigerConfig    `yaml:"tiger" mapstructure:"tiger"`
}

// LogConfig configures logging. Format is json, console or auto.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig locates the run history database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostGISConfig configures the PostGIS area and block tables.
type PostGISConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	AreasTable  string `yaml:"areas_table" mapstructure:"areas_table"`
	BlocksTable string `yaml:"blocks_table" mapstructure:"blocks_table"`
	SRID        int    `yaml:"srid" mapstructure:"srid"`
	Filter      string `yaml:"filter" mapstructure:"filter"`
}

// TIGERwebConfig configures the Census TIGERweb block service.
type TIGERwebConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	WKID        int     `yaml:"wkid" mapstructure:"wkid"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	PageSize    int     `yaml:"page_size" mapstructure:"page_size"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// CacheConfig configures the Redis block cache. An empty address disables it.
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	TTLMinutes    int    `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
}

// BatchConfig configures batch summarization.
type BatchConfig struct {
	Method      string `yaml:"method" mapstructure:"method"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	Verbose     bool   `yaml:"verbose" mapstructure:"verbose"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// TigerConfig configures the TIGER/Line block loader.
type TigerConfig struct {
	Year        int      `yaml:"year" mapstructure:"year"`
	TempDir     string   `yaml:"temp_dir" mapstructure:"temp_dir"`
	States      []string `yaml:"states" mapstructure:"states"`
	Concurrency int      `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize   int      `yaml:"batch_size" mapstructure:"batch_size"`
}

// Load reads configuration from .env, config.yaml and the environment.
// Environment variables win over the file; the file wins over defaults.
func Load() (*Config, error) {
	// .env is optional and never overrides variables already set.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("APPORTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("store.path", "apportion.db")
	v.SetDefault("postgis.database_url", "")
	v.SetDefault("postgis.max_conns", 10)
	v.SetDefault("postgis.areas_table", "")
	v.SetDefault("postgis.blocks_table", "census.blocks")
	v.SetDefault("postgis.srid", 5070)
	v.SetDefault("postgis.filter", "population IS NULL")
	v.SetDefault("tigerweb.base_url", "https://tigerweb.geo.census.gov/arcgis/rest/services/TIGERweb/Tracts_Blocks/MapServer/12")
	v.SetDefault("tigerweb.wkid", 3857)
	v.SetDefault("tigerweb.rate_limit", 5.0)
	v.SetDefault("tigerweb.page_size", 0)
	v.SetDefault("tigerweb.timeout_secs", 60)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl_minutes", 1440)
	v.SetDefault("batch.method", "none")
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.verbose", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("tiger.year", 2020)
	v.SetDefault("tiger.temp_dir", "/tmp/tiger")
	v.SetDefault("tiger.states", []string{})
	v.SetDefault("tiger.concurrency", 3)
	v.SetDefault("tiger.batch_size", 50000)

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

// Validate checks values that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	if c.Batch.Concurrency < 1 {
		return eris.Errorf("config: batch.concurrency must be at least 1, got %d", c.Batch.Concurrency)
	}
	if c.PostGIS.SRID <= 0 {
		return eris.Errorf("config: postgis.srid must be positive, got %d", c.PostGIS.SRID)
	}
	if c.TIGERweb.RateLimit < 0 {
		return eris.Errorf("config: tigerweb.rate_limit must not be negative, got %v", c.TIGERweb.RateLimit)
	}
	if c.Tiger.Year < 2020 {
		return eris.Errorf("config: tiger.year %d has no TABBLOCK20 files (2020 or later)", c.Tiger.Year)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	return nil
}

// InitLogger initializes the global zap logger. The auto format picks
// console output when stderr is a terminal and JSON otherwise.
func InitLogger(cfg LogConfig) error {
	format := cfg.Format
	if format == "" || format == "auto" {
		format = "json"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "console"
		}
	}

	var zapCfg zap.Config
	switch format {
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	case "json":
		zapCfg = zap.NewProductionConfig()
	default:
		return eris.Errorf("config: unknown log format %q (want json, console or auto)", cfg.Format)
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
