// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (LEXIKON_* runtime override)
//  2. Config file (~/.lexikon/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Postgres: relational store and vector collection connection
//   - Redis: lock store connection
//   - Embedder: embedding model and vector dimension
//   - Indexing: pipeline knobs (batch size, workers, lock TTL, ceilings)
//
// Validation uses sentinel errors so callers can check failures with
// errors.Is; sensitive values (passwords) are never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidRedisAddr indicates the Redis address is invalid.
	ErrInvalidRedisAddr = errors.New("invalid Redis address")

	// ErrInvalidEmbedderDimension indicates the embedder vector dimension is
	// out of range.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidIndexingSetting indicates an indexing pipeline knob is out
	// of range.
	ErrInvalidIndexingSetting = errors.New("invalid indexing setting")
)

// validSSLModes are the PostgreSQL sslmode values accepted by pgx.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Config is the application configuration.
type Config struct {
	// PostgreSQL connection (relational store + vector collection)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Redis connection (lock store)
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"` // SENSITIVE: never logged
	RedisDB       int    `mapstructure:"redis_db"`

	// Embedder
	EmbedderModel     string `mapstructure:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension"`

	// Indexing pipeline
	Indexing IndexingConfig `mapstructure:"indexing"`
}

// IndexingConfig holds the pipeline and lock knobs.
type IndexingConfig struct {
	// VectorBatchSize is the number of segments written to the vector store
	// per batch during the completion stage.
	VectorBatchSize int `mapstructure:"vector_batch_size"`

	// VectorWorkers bounds the number of concurrent vector batches.
	VectorWorkers int `mapstructure:"vector_workers"`

	// LockTTLSeconds bounds how long a crashed holder can wedge a
	// per-dataset or per-document lock.
	LockTTLSeconds int `mapstructure:"lock_ttl_seconds"`

	// MaxKeywordsPerSegment caps keyword extraction per segment and per query.
	MaxKeywordsPerSegment int `mapstructure:"max_keywords_per_segment"`

	// SegmentTokenCeiling is the hard token limit for manually created or
	// edited segments.
	SegmentTokenCeiling int `mapstructure:"segment_token_ceiling"`
}

// LockTTL returns the lock TTL as a duration.
func (c IndexingConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".lexikon")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvPrefix("LEXIKON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env cover it.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "lexikon")
	viper.SetDefault("postgres_password", "lexikon_dev_password")
	viper.SetDefault("postgres_db_name", "lexikon")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("redis_addr", "localhost:6379")
	viper.SetDefault("redis_db", 0)

	viper.SetDefault("embedder_model", "text-embedding-004")
	viper.SetDefault("embedder_dimension", 768)

	viper.SetDefault("indexing.vector_batch_size", 10)
	viper.SetDefault("indexing.vector_workers", 5)
	viper.SetDefault("indexing.lock_ttl_seconds", 600)
	viper.SetDefault("indexing.max_keywords_per_segment", 10)
	viper.SetDefault("indexing.segment_token_ceiling", 1000)
}

// Validate checks all configuration values and fails fast with a wrapped
// sentinel error on the first violation.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if strings.TrimSpace(c.RedisAddr) == "" {
		return fmt.Errorf("%w: address must not be empty", ErrInvalidRedisAddr)
	}

	if c.EmbedderDimension < 1 || c.EmbedderDimension > 4096 {
		return fmt.Errorf("%w: %d out of range [1, 4096]", ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	idx := c.Indexing
	if idx.VectorBatchSize < 1 {
		return fmt.Errorf("%w: vector_batch_size must be >= 1, got %d", ErrInvalidIndexingSetting, idx.VectorBatchSize)
	}
	if idx.VectorWorkers < 1 {
		return fmt.Errorf("%w: vector_workers must be >= 1, got %d", ErrInvalidIndexingSetting, idx.VectorWorkers)
	}
	if idx.LockTTLSeconds < 1 {
		return fmt.Errorf("%w: lock_ttl_seconds must be >= 1, got %d", ErrInvalidIndexingSetting, idx.LockTTLSeconds)
	}
	if idx.MaxKeywordsPerSegment < 1 {
		return fmt.Errorf("%w: max_keywords_per_segment must be >= 1, got %d", ErrInvalidIndexingSetting, idx.MaxKeywordsPerSegment)
	}
	if idx.SegmentTokenCeiling < 1 {
		return fmt.Errorf("%w: segment_token_ceiling must be >= 1, got %d", ErrInvalidIndexingSetting, idx.SegmentTokenCeiling)
	}

	return nil
}

// PostgresConnectionString returns the PostgreSQL DSN for pgx.
// Password is single-quoted to handle special characters.
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresUser,
		quoteDSNValue(c.PostgresPassword),
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// PostgresURL returns the PostgreSQL URL for golang-migrate.
func (c *Config) PostgresURL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.PostgresSSLMode),
	}
	return u.String()
}

// quoteDSNValue quotes a value for PostgreSQL key=value DSN format.
func quoteDSNValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
