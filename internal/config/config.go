// Package config provides configuration management for Samasy.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, STORAGE_DRIVER)
// 3. Default values
//
// Import Path: samasy.io/samasy/internal/config
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"samasy.io/samasy/internal/domain"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Lock drivers.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Config is the root configuration structure.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	River    RiverConfig    `mapstructure:"river"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Staging  StagingConfig  `mapstructure:"staging"`
	Lock     LockConfig     `mapstructure:"lock"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Load     LoadConfig     `mapstructure:"load"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// StorageConfig selects the entity store.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// The pool is shared by the entity store and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	IngestPoolSize  int `mapstructure:"ingest_pool_size"`
}

// StagingConfig selects where uploaded transfer files are kept.
type StagingConfig struct {
	Driver string   `mapstructure:"driver"`
	Dir    string   `mapstructure:"dir"`
	S3     S3Config `mapstructure:"s3"`
}

// S3Config configures the s3 staging driver.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// LockConfig selects the batch lock implementation.
type LockConfig struct {
	Driver        string        `mapstructure:"driver"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// RedisConfig is the connection used by the redis lock driver.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// IngestConfig tunes ingestion runs.
type IngestConfig struct {
	// ProgressInterval is how often a waiting caller reports run progress.
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// LoadConfig tunes initial sample loads.
type LoadConfig struct {
	// ColumnTypes maps attribute columns to boolean, integer, float or
	// string. Unlisted columns are strings.
	ColumnTypes map[string]string `mapstructure:"column_types"`
}

// Decoder returns the attribute decoder described by ColumnTypes.
func (c LoadConfig) Decoder() (domain.Decoder, error) {
	if len(c.ColumnTypes) == 0 {
		return domain.StringDecoder, nil
	}
	// Viper lowercases map keys, so columns match case-insensitively.
	kinds := make(map[string]domain.AttributeKind, len(c.ColumnTypes))
	for col, kind := range c.ColumnTypes {
		k := domain.AttributeKind(strings.ToLower(strings.TrimSpace(kind)))
		switch k {
		case domain.AttributeBool, domain.AttributeInt, domain.AttributeFloat, domain.AttributeString:
		default:
			return nil, fmt.Errorf("load.column_types.%s: unknown type %q", col, kind)
		}
		kinds[strings.ToLower(col)] = k
	}
	return domain.DecoderFunc(func(attribute, raw string) (domain.AttributeValue, error) {
		k, ok := kinds[strings.ToLower(attribute)]
		if !ok {
			return domain.StringDecoder.Decode(attribute, raw)
		}
		return domain.ColumnTypes{attribute: k}.Decode(attribute, raw)
	}), nil
}

// MetricsConfig controls the Prometheus endpoint of the worker.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// AuditConfig controls the audit trail of administrative operations.
type AuditConfig struct {
	// Path of a JSON-lines file the records are appended to. Empty writes
	// them to the structured log only.
	Path string `mapstructure:"path"`
	// Actor recorded on every entry; empty uses the OS user.
	Actor string `mapstructure:"actor"`
}

// Load reads configuration from the default locations and the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// the default locations, where a missing file is not an error.
// Environment variables use standard names without prefix: nested keys map
// with "." replaced by "_" (database.max_conns → DATABASE_MAX_CONNS).
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/samasy")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres:
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver)
	}

	switch c.Lock.Driver {
	case LockLocal:
	case LockRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set for the redis lock driver")
		}
	default:
		return fmt.Errorf("lock.driver %q is not one of local, redis", c.Lock.Driver)
	}

	switch c.Staging.Driver {
	case "fs":
		if c.Staging.Dir == "" {
			return fmt.Errorf("staging.dir must be set for the fs driver")
		}
	case "memory":
	case "s3":
		if c.Staging.S3.Bucket == "" {
			return fmt.Errorf("staging.s3.bucket must be set for the s3 driver")
		}
	default:
		return fmt.Errorf("staging.driver %q is not one of fs, memory, s3", c.Staging.Driver)
	}

	if c.Worker.GeneralPoolSize <= 0 || c.Worker.IngestPoolSize <= 0 {
		return fmt.Errorf("worker pool sizes must be positive")
	}
	if _, err := c.Load.Decoder(); err != nil {
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Storage
	v.SetDefault("storage.driver", StorageSQLite)
	v.SetDefault("storage.sqlite_path", "samasy.db")

	// Database (shared pool)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "samasy")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "samasy")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// River
	v.SetDefault("river.max_workers", 4)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 16)
	v.SetDefault("worker.ingest_pool_size", 4)

	// Staging
	v.SetDefault("staging.driver", "fs")
	v.SetDefault("staging.dir", "staging")
	v.SetDefault("staging.s3.bucket", "")
	v.SetDefault("staging.s3.region", "us-east-1")
	v.SetDefault("staging.s3.endpoint", "")
	v.SetDefault("staging.s3.prefix", "transfers/")
	v.SetDefault("staging.s3.access_key_id", "")
	v.SetDefault("staging.s3.secret_access_key", "")
	v.SetDefault("staging.s3.path_style", false)

	// Lock
	v.SetDefault("lock.driver", LockLocal)
	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("lock.retry_interval", "50ms")

	// Redis
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Ingest
	v.SetDefault("ingest.progress_interval", "1s")

	// Metrics
	v.SetDefault("metrics.addr", "")

	// Audit
	v.SetDefault("audit.path", "")
	v.SetDefault("audit.actor", "")
}
