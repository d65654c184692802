// Package config loads service configuration from an optional YAML file
// with environment overrides. Invalid tuning values never abort startup;
// they fall back to conservative defaults with a logged warning. Missing
// secrets do abort: a service without a signing key or database is not
// safe to run degraded.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	pstrings "poscore/pkg/platform/strings"
)

// Defaults for tuning knobs.
const (
	DefaultHTTPAddr         = ":8080"
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultQueueCapacity    = 4096
	DefaultProducerBatch    = 100
	DefaultConsumerBatch    = 200
	DefaultConsumerGroup    = "poscore-audit-ingest"
	DefaultTopic            = "audit.events"
	DefaultRetentionDays    = 730
	DefaultPurgeInterval    = time.Hour
	DefaultPurgeDeleteBatch = 1000
	DefaultMetricCodeCap    = 40
	DefaultLogLevel         = "info"
)

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	JWTSigningKey   string        `koanf:"jwt_signing_key"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	Group   string   `koanf:"group"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type AuditConfig struct {
	QueueCapacity int `koanf:"queue_capacity"`
	ProducerBatch int `koanf:"producer_batch"`
	ConsumerBatch int `koanf:"consumer_batch"`
	MetricCodeCap int `koanf:"metric_code_cap"`
}

type RetentionConfig struct {
	Days        int           `koanf:"days"`
	Interval    time.Duration `koanf:"interval"`
	DeleteBatch int           `koanf:"delete_batch"`
	DryRun      bool          `koanf:"dry_run"`
}

// RedactionRule mirrors internal/audit/redact.Rule on the config surface.
type RedactionRule struct {
	Path string `koanf:"path"`
	Mode string `koanf:"mode"`
	Mask string `koanf:"mask"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Kafka     KafkaConfig     `koanf:"kafka"`
	Redis     RedisConfig     `koanf:"redis"`
	Audit     AuditConfig     `koanf:"audit"`
	Retention RetentionConfig `koanf:"retention"`
	Redaction []RedactionRule `koanf:"redaction"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// Load reads the optional YAML file at path, applies environment
// overrides, and normalizes tuning values. A missing path is fine;
// an unreadable or unparsable file is not.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            DefaultHTTPAddr,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Kafka: KafkaConfig{
			Topic: DefaultTopic,
			Group: DefaultConsumerGroup,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Audit: AuditConfig{
			QueueCapacity: DefaultQueueCapacity,
			ProducerBatch: DefaultProducerBatch,
			ConsumerBatch: DefaultConsumerBatch,
			MetricCodeCap: DefaultMetricCodeCap,
		},
		Retention: RetentionConfig{
			Days:        DefaultRetentionDays,
			Interval:    DefaultPurgeInterval,
			DeleteBatch: DefaultPurgeDeleteBatch,
		},
		Logging: LoggingConfig{Level: DefaultLogLevel},
	}

	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
		if err := k.Unmarshal("", cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.normalize(logger)
	return cfg, nil
}

// applyEnvOverrides lets deployment set the secrets and endpoints without
// a file. Environment wins over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POSCORE_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("POSCORE_JWT_SIGNING_KEY"); v != "" {
		cfg.Server.JWTSigningKey = v
	}
	if v := os.Getenv("POSCORE_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("POSCORE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("POSCORE_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("POSCORE_KAFKA_GROUP"); v != "" {
		cfg.Kafka.Group = v
	}
	if v := os.Getenv("POSCORE_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("POSCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// normalize clamps tuning values back to defaults so a bad knob degrades
// to known-safe behavior instead of refusing to start.
func (c *Config) normalize(logger *slog.Logger) {
	warn := func(field string, got any, def any) {
		logger.Warn("invalid config value, using default",
			"field", field,
			"value", got,
			"default", def,
		)
	}

	// Comma-split env values and hand-edited YAML both carry stray
	// whitespace, empty segments, and repeated hosts.
	c.Kafka.Brokers = pstrings.DedupeAndTrim(c.Kafka.Brokers)

	if c.Audit.QueueCapacity <= 0 {
		warn("audit.queue_capacity", c.Audit.QueueCapacity, DefaultQueueCapacity)
		c.Audit.QueueCapacity = DefaultQueueCapacity
	}
	if c.Audit.ProducerBatch <= 0 {
		warn("audit.producer_batch", c.Audit.ProducerBatch, DefaultProducerBatch)
		c.Audit.ProducerBatch = DefaultProducerBatch
	}
	if c.Audit.ConsumerBatch <= 0 {
		warn("audit.consumer_batch", c.Audit.ConsumerBatch, DefaultConsumerBatch)
		c.Audit.ConsumerBatch = DefaultConsumerBatch
	}
	if c.Audit.MetricCodeCap <= 0 {
		warn("audit.metric_code_cap", c.Audit.MetricCodeCap, DefaultMetricCodeCap)
		c.Audit.MetricCodeCap = DefaultMetricCodeCap
	}
	if c.Retention.Days <= 0 {
		warn("retention.days", c.Retention.Days, DefaultRetentionDays)
		c.Retention.Days = DefaultRetentionDays
	}
	if c.Retention.Interval <= 0 {
		warn("retention.interval", c.Retention.Interval, DefaultPurgeInterval)
		c.Retention.Interval = DefaultPurgeInterval
	}
	if c.Retention.DeleteBatch <= 0 {
		warn("retention.delete_batch", c.Retention.DeleteBatch, DefaultPurgeDeleteBatch)
		c.Retention.DeleteBatch = DefaultPurgeDeleteBatch
	}
	if c.Server.ShutdownTimeout <= 0 {
		warn("server.shutdown_timeout", c.Server.ShutdownTimeout, DefaultShutdownTimeout)
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// RetentionWindow converts the configured days to a duration.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Retention.Days) * 24 * time.Hour
}

// ValidateGateway checks the settings the gateway cannot run without.
func (c *Config) ValidateGateway() error {
	if c.Server.JWTSigningKey == "" {
		return fmt.Errorf("server.jwt_signing_key (or POSCORE_JWT_SIGNING_KEY) is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url (or POSCORE_DATABASE_URL) is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers (or POSCORE_KAFKA_BROKERS) is required")
	}
	return nil
}

// ValidateIngest checks the settings the ingest worker cannot run without.
func (c *Config) ValidateIngest() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url (or POSCORE_DATABASE_URL) is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers (or POSCORE_KAFKA_BROKERS) is required")
	}
	return nil
}
