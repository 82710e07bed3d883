package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "config.yaml"

// Lock backends for serializing runs of the same table mapping across processes.
const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
	LockBackendLocal    = "local"
)

// Config holds all configuration for ekaya-etl.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database is the PostgreSQL store holding both the ETL configuration
	// tables and the import targets.
	Database DatabaseConfig `yaml:"database"`

	// Redis is optional; only used when etl.lock_backend is "redis".
	Redis RedisConfig `yaml:"redis"`

	ETL ETLConfig `yaml:"etl"`

	// Datasource connection management configuration
	Datasource DatasourceConfig `yaml:"datasource"`

	// CredentialsKey decrypts "enc:" connection descriptors stored on sources.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"ETL_CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_etl"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds the optional Redis connection used for run locks.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// ETLConfig tunes the import runner.
type ETLConfig struct {
	// FKLookupTimeout bounds every fk_lookup query.
	FKLookupTimeout time.Duration `yaml:"fk_lookup_timeout" env:"ETL_FK_LOOKUP_TIMEOUT" env-default:"5s"`

	// SourceConnectRetries is how often opening a source is retried on transient errors.
	SourceConnectRetries int `yaml:"source_connect_retries" env:"ETL_SOURCE_CONNECT_RETRIES" env-default:"3"`

	// TargetIDColumn receives a generated UUID on insert when GenerateTargetIDs is set.
	TargetIDColumn    string `yaml:"target_id_column" env:"ETL_TARGET_ID_COLUMN" env-default:"id"`
	GenerateTargetIDs bool   `yaml:"generate_target_ids" env:"ETL_GENERATE_TARGET_IDS" env-default:"true"`

	LockBackend string        `yaml:"lock_backend" env:"ETL_LOCK_BACKEND" env-default:"postgres"`
	LockTTL     time.Duration `yaml:"lock_ttl" env:"ETL_LOCK_TTL" env-default:"6h"`
}

// DatasourceConfig holds source connection management settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle source connections are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// MaxOpenSources limits how many source connections are cached at once.
	MaxOpenSources int `yaml:"max_open_sources" env:"DATASOURCE_MAX_OPEN_SOURCES" env-default:"10"`
	// PoolMaxConns is the maximum number of connections per source pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"4"`
}

// Load reads configuration from the given YAML file with environment variable overrides.
// A .env file in the working directory is loaded first when present.
// When the YAML file does not exist, configuration comes from the environment alone.
func Load(path, version string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	if path == "" {
		path = DefaultConfigPath
	}

	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ETL.LockBackend {
	case LockBackendPostgres, LockBackendLocal:
	case LockBackendRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("etl.lock_backend is redis but redis.host is empty")
		}
	default:
		return fmt.Errorf("unknown etl.lock_backend %q", c.ETL.LockBackend)
	}

	if c.ETL.FKLookupTimeout <= 0 {
		return fmt.Errorf("etl.fk_lookup_timeout must be positive")
	}
	if c.ETL.GenerateTargetIDs && c.ETL.TargetIDColumn == "" {
		return fmt.Errorf("etl.target_id_column is required when generate_target_ids is set")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the database as a postgres:// URL, the form golang-migrate expects.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}
