package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
// Every section has a usable default; the batch core needs no file at all.
type Config struct {
	Log      Log      `mapstructure:"log"`
	Batch    Batch    `mapstructure:"batch"`
	Codec    Codec    `mapstructure:"codec"`
	Storage  Storage  `mapstructure:"storage"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Database Database `mapstructure:"database"`
	Retry    Retry    `mapstructure:"retry"`
}

// Log holds logging configuration.
type Log struct {
	Level string `mapstructure:"level"` // zerolog level name
}

// Batch holds batch runner configuration.
type Batch struct {
	Workers       int  `mapstructure:"workers"`        // 1 runs files strictly one at a time
	SkipProcessed bool `mapstructure:"skip_processed"` // skip inputs already named processed_*
}

// Codec holds image encoding options.
type Codec struct {
	JPEGQuality int `mapstructure:"jpeg_quality"`
}

// Storage holds configuration for mirroring outputs to an S3-compatible bucket.
type Storage struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// Kafka holds configuration for the request and report topics.
type Kafka struct {
	Enabled      bool     `mapstructure:"enabled"`
	GroupID      string   `mapstructure:"group_id"`      // Consumer group ID
	RequestTopic string   `mapstructure:"request_topic"` // batch requests consumed by "listen"
	ReportTopic  string   `mapstructure:"report_topic"`  // batch reports produced after each run
	Brokers      []string `mapstructure:"brokers"`       // List of Kafka broker addresses
}

// Database holds database master and slave configuration for run history.
type Database struct {
	Enabled bool           `mapstructure:"enabled"`
	Master  DatabaseNode   `mapstructure:"master"`
	Slaves  []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("batch.workers", 1)
	v.SetDefault("batch.skip_processed", false)

	v.SetDefault("codec.jpeg_quality", 95)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket_name", "processed-images")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.group_id", "image-batch")
	v.SetDefault("kafka.request_topic", "image-batch.requests")
	v.SetDefault("kafka.report_topic", "image-batch.reports")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.master.port", "5432")
	v.SetDefault("database.master.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 200*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)
}

// bindEnv binds database credentials to environment variables.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"database.master.host": "DB_HOST",
		"database.master.port": "DB_PORT",
		"database.master.user": "DB_USER",
		"database.master.pass": "DB_PASSWORD",
		"database.master.name": "DB_NAME",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the YAML configuration at path on top of the defaults.
// An empty path, or a path that does not exist, yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	return cfg
}

// Validate checks values that would otherwise fail late, at connection time.
func (c *Config) Validate() error {
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be >= 1 (got %d)", c.Batch.Workers)
	}
	if c.Storage.Enabled && (c.Storage.Endpoint == "" || c.Storage.BucketName == "") {
		return fmt.Errorf("storage.endpoint and storage.bucket_name are required when storage is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.Database.Enabled && c.Database.Master.Host == "" {
		return fmt.Errorf("database.master.host is required when database is enabled")
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be >= 1 (got %d)", c.Retry.Attempts)
	}

	return nil
}
