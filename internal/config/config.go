// Package config defines the service configuration. Values come from the
// built-in defaults, an optional TOML file and FULFILLMENT_* environment
// variables, in that order.
package config

import (
	"fmt"
	"strings"
	"time"
)

const minJWTSecretLength = 32

type Config struct {
	Server   ServerConfig `toml:"server"`
	Store    StoreConfig  `toml:"store"`
	Kafka    KafkaConfig  `toml:"kafka"`
	Redis    RedisConfig  `toml:"redis"`
	Auth     AuthConfig   `toml:"auth"`
	LogLevel string       `toml:"log_level"`

	envErrs []string
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	LockWait        duration `toml:"lock_wait"`
	RatingsPageSize int      `toml:"ratings_page_size"`
}

// StoreConfig selects the event store backend and its connection settings.
type StoreConfig struct {
	Backend       string `toml:"backend"`
	DSN           string `toml:"dsn"`
	MaxConns      int    `toml:"max_conns"`
	RunMigrations bool   `toml:"run_migrations"`

	Region         string `toml:"region"`
	Endpoint       string `toml:"endpoint"`
	EventsTable    string `toml:"events_table"`
	SnapshotsTable string `toml:"snapshots_table"`
	RatingsTable   string `toml:"ratings_table"`
	ClaimsTable    string `toml:"claims_table"`
}

// KafkaConfig holds broker addresses, topics and consumer groups.
type KafkaConfig struct {
	Enabled          bool     `toml:"enabled"`
	Brokers          []string `toml:"brokers"`
	EventsTopic      string   `toml:"events_topic"`
	AuctionTopic     string   `toml:"auction_topic"`
	ProjectorGroupID string   `toml:"projector_group_id"`
	AuctionGroupID   string   `toml:"auction_group_id"`
}

// RedisConfig enables the distributed order lock when Addr is set.
type RedisConfig struct {
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	LockTTL  duration `toml:"lock_ttl"`
}

type AuthConfig struct {
	JWTSecret   string   `toml:"jwt_secret"`
	TokenExpiry duration `toml:"token_expiry"`
	Issuer      string   `toml:"issuer"`
}

// duration wraps time.Duration so TOML strings like "5s" decode directly.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a configuration that runs entirely in memory.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{10 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
			LockWait:        duration{5 * time.Second},
			RatingsPageSize: 50,
		},
		Store: StoreConfig{
			Backend:        BackendMemory,
			MaxConns:       10,
			RunMigrations:  true,
			Region:         "us-east-1",
			EventsTable:    "fulfillment-events",
			SnapshotsTable: "fulfillment-snapshots",
			RatingsTable:   "fulfillment-ratings",
			ClaimsTable:    "fulfillment-product-claims",
		},
		Kafka: KafkaConfig{
			Brokers:          []string{"localhost:9092"},
			EventsTopic:      "order-events",
			AuctionTopic:     "auction-closed",
			ProjectorGroupID: "order-projector",
			AuctionGroupID:   "order-intake",
		},
		Redis: RedisConfig{
			LockTTL: duration{30 * time.Second},
		},
		Auth: AuthConfig{
			TokenExpiry: duration{15 * time.Minute},
			Issuer:      "auction-fulfillment",
		},
		LogLevel: "info",
	}
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

var validBackends = map[string]bool{
	BackendMemory:   true,
	BackendPostgres: true,
	BackendDynamoDB: true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	errs := append([]string(nil), c.envErrs...)

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}
	if c.Server.RatingsPageSize < 1 {
		errs = append(errs, "server: ratings_page_size must be >= 1")
	}

	if len(c.Auth.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("auth: jwt_secret must be at least %d characters", minJWTSecretLength))
	}
	if c.Auth.TokenExpiry.Duration <= 0 {
		errs = append(errs, "auth: token_expiry must be positive")
	}

	backend := strings.ToLower(c.Store.Backend)
	switch {
	case !validBackends[backend]:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres, dynamodb)", c.Store.Backend))
	case backend == BackendPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, "store: dsn is required for the postgres backend")
		}
		if c.Store.MaxConns < 1 {
			errs = append(errs, "store: max_conns must be >= 1")
		}
	case backend == BackendDynamoDB:
		if c.Store.Region == "" {
			errs = append(errs, "store: region is required for the dynamodb backend")
		}
		if c.Store.EventsTable == "" || c.Store.SnapshotsTable == "" || c.Store.RatingsTable == "" || c.Store.ClaimsTable == "" {
			errs = append(errs, "store: all dynamodb table names must be set")
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers are required when kafka is enabled")
		}
		if c.Kafka.EventsTopic == "" || c.Kafka.AuctionTopic == "" {
			errs = append(errs, "kafka: events_topic and auction_topic must not be empty")
		}
	}

	if c.Redis.Addr != "" && c.Redis.LockTTL.Duration <= 0 {
		errs = append(errs, "redis: lock_ttl must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
