package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/graph"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/matching"
	"github.com/Ramsey-B/thistle/pkg/redis"
)

type Config struct {
	AppName            string `envconfig:"APP_NAME" default:"thistle"`
	Port               int    `envconfig:"PORT" default:"3004"`
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`
	PrettyLogs         bool   `envconfig:"PRETTY_LOGS" default:"false"`
	StartupMaxAttempts int    `envconfig:"STARTUP_MAX_ATTEMPTS" default:"5"`

	// PostgreSQL
	DatabaseHost                  string        `envconfig:"DB_HOST" default:"localhost"`
	DatabasePort                  string        `envconfig:"DB_PORT" default:"5432"`
	DatabaseUserName              string        `envconfig:"DB_USER_NAME" default:""`
	DatabasePassword              string        `envconfig:"DB_PASSWORD" default:""`
	DatabaseName                  string        `envconfig:"DB_NAME" default:"thistle"`
	DatabaseSSLMode               string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DatabaseMaxOpenConns          int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	DatabaseMaxIdleConns          int           `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
	DatabaseConnMaxLifetime       time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"10m"`
	DatabaseMigrationFolderPath   string        `envconfig:"DB_MIGRATION_FOLDER_PATH" default:"db/pg"`
	DatabaseMigrationVersion      uint          `envconfig:"DB_MIGRATION_VERSION" default:"0"`
	DatabaseMigrationForce        int           `envconfig:"DB_MIGRATION_FORCE" default:"0"`
	DatabaseMigrationAutoRollback bool          `envconfig:"DB_MIGRATION_AUTO_ROLLBACK" default:"true"`

	// Redis (shared rate limits, suppression list)
	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Graph Database (Memgraph), duplicate group audit
	GraphEnabled    bool   `envconfig:"GRAPH_ENABLED" default:"false"`
	GraphDBHost     string `envconfig:"GRAPH_DB_HOST" default:"localhost"`
	GraphDBPort     int    `envconfig:"GRAPH_DB_PORT" default:"7687"`
	GraphDBUser     string `envconfig:"GRAPH_DB_USER" default:""`
	GraphDBPassword string `envconfig:"GRAPH_DB_PASSWORD" default:""`
	GraphDBName     string `envconfig:"GRAPH_DB_NAME" default:""`

	// Kafka
	KafkaBrokers         []string      `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaInputTopic      string        `envconfig:"KAFKA_INPUT_TOPIC" default:"connector-records"`
	KafkaConsumerGroup   string        `envconfig:"KAFKA_CONSUMER_GROUP" default:"thistle-ingest"`
	KafkaConsumerBatch   int           `envconfig:"KAFKA_CONSUMER_BATCH" default:"500"`
	KafkaConsumerWait    time.Duration `envconfig:"KAFKA_CONSUMER_WAIT" default:"2s"`
	KafkaCanonicalTopic  string        `envconfig:"KAFKA_CANONICAL_TOPIC" default:"canonical-records"`
	KafkaMatchTopic      string        `envconfig:"KAFKA_MATCH_TOPIC" default:"profile-matches"`
	KafkaProducerBatch   int           `envconfig:"KAFKA_BATCH_SIZE" default:"100"`
	KafkaProducerTimeout time.Duration `envconfig:"KAFKA_BATCH_TIMEOUT" default:"100ms"`
	KafkaRequiredAcks    int           `envconfig:"KAFKA_REQUIRED_ACKS" default:"1"`
	KafkaCompression     string        `envconfig:"KAFKA_COMPRESSION" default:"snappy"`

	// Engine
	MatchThreshold      float64       `envconfig:"MATCH_THRESHOLD" default:"0.8"`
	BucketPrefixLength  int           `envconfig:"BUCKET_PREFIX_LENGTH" default:"2"`
	GroupingPolicy      string        `envconfig:"GROUPING_POLICY" default:"transitive"`
	GroupingWorkers     int           `envconfig:"GROUPING_WORKERS" default:"4"`
	MaxCategoryCodes    int           `envconfig:"MAX_CATEGORY_CODES" default:"3"`
	CanonicalLookback   time.Duration `envconfig:"CANONICAL_LOOKBACK" default:"720h"`
	LookbackLimit       int           `envconfig:"LOOKBACK_LIMIT" default:"1000"`
	AlertLimit          int           `envconfig:"ALERT_LIMIT" default:"1"`
	AlertWindow         time.Duration `envconfig:"ALERT_WINDOW" default:"1m"`
	SharedRateLimits    bool          `envconfig:"SHARED_RATE_LIMITS" default:"true"`
	DefaultBidders      float64       `envconfig:"DEFAULT_BIDDERS" default:"5"`

	// AverageBidders maps a country to its average number of bidders, e.g. "DE:3.5,PL:6"
	AverageBidders map[string]float64 `envconfig:"AVERAGE_BIDDERS"`
}

// Load reads an optional .env file (ENV_FILE, default ".env") and then the environment
func Load() (*Config, error) {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("MATCH_THRESHOLD must be in (0, 1]")
	}
	if c.BucketPrefixLength < 1 {
		return fmt.Errorf("BUCKET_PREFIX_LENGTH must be >= 1")
	}
	switch matching.Policy(c.GroupingPolicy) {
	case matching.PolicyTransitive, matching.PolicyComplete:
	default:
		return fmt.Errorf("GROUPING_POLICY must be %q or %q", matching.PolicyTransitive, matching.PolicyComplete)
	}
	if c.GroupingWorkers < 1 {
		return fmt.Errorf("GROUPING_WORKERS must be >= 1")
	}
	if c.AlertLimit < 1 {
		return fmt.Errorf("ALERT_LIMIT must be >= 1")
	}
	if c.AlertWindow <= 0 {
		return fmt.Errorf("ALERT_WINDOW must be positive")
	}
	if len(c.KafkaBrokers) == 0 || strings.TrimSpace(c.KafkaBrokers[0]) == "" {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.StartupMaxAttempts < 1 {
		return fmt.Errorf("STARTUP_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}

func (c *Config) Database() database.Config {
	return database.Config{
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

func (c *Config) Migration() database.MigrationConfig {
	return database.MigrationConfig{
		MigrationFolderPath: c.DatabaseMigrationFolderPath,
		Version:             c.DatabaseMigrationVersion,
		Force:               c.DatabaseMigrationForce,
		AutoRollback:        c.DatabaseMigrationAutoRollback,
	}
}

func (c *Config) Redis() redis.Config {
	return redis.Config{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func (c *Config) Graph() graph.Config {
	return graph.Config{
		Host:     c.GraphDBHost,
		Port:     c.GraphDBPort,
		Username: c.GraphDBUser,
		Password: c.GraphDBPassword,
		Database: c.GraphDBName,
	}
}

func (c *Config) Consumer() kafka.ConsumerConfig {
	return kafka.ConsumerConfig{
		Brokers:       c.KafkaBrokers,
		Topic:         c.KafkaInputTopic,
		ConsumerGroup: c.KafkaConsumerGroup,
		BatchSize:     c.KafkaConsumerBatch,
		BatchWait:     c.KafkaConsumerWait,
	}
}

func (c *Config) Producer() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:        c.KafkaBrokers,
		CanonicalTopic: c.KafkaCanonicalTopic,
		MatchTopic:     c.KafkaMatchTopic,
		BatchSize:      c.KafkaProducerBatch,
		BatchTimeout:   c.KafkaProducerTimeout,
		RequiredAcks:   c.KafkaRequiredAcks,
		Compression:    c.KafkaCompression,
	}
}

func (c *Config) Grouper() matching.GrouperConfig {
	cfg := matching.DefaultGrouperConfig()
	cfg.Threshold = c.MatchThreshold
	cfg.PrefixLength = c.BucketPrefixLength
	cfg.Policy = matching.Policy(c.GroupingPolicy)
	cfg.Workers = c.GroupingWorkers
	return cfg
}
