package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvConfigPath names the variable consulted when no -config flag is given.
const EnvConfigPath = "FULFILLMENT_CONFIG"

// Load merges the TOML file at path (skipped when path is empty) over the
// defaults, then applies FULFILLMENT_* overrides. DATABASE_URL is only a
// fallback when no DSN was configured. The result is not validated; env values
// that fail to parse surface from Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	var env envReader

	env.str(&cfg.Server.Addr, "FULFILLMENT_SERVER_ADDR")
	env.duration(&cfg.Server.ReadTimeout, "FULFILLMENT_SERVER_READ_TIMEOUT")
	env.duration(&cfg.Server.WriteTimeout, "FULFILLMENT_SERVER_WRITE_TIMEOUT")
	env.duration(&cfg.Server.ShutdownTimeout, "FULFILLMENT_SERVER_SHUTDOWN_TIMEOUT")
	env.duration(&cfg.Server.LockWait, "FULFILLMENT_SERVER_LOCK_WAIT")
	env.integer(&cfg.Server.RatingsPageSize, "FULFILLMENT_SERVER_RATINGS_PAGE_SIZE")

	env.str(&cfg.Store.Backend, "FULFILLMENT_STORE_BACKEND")
	env.str(&cfg.Store.DSN, "FULFILLMENT_STORE_DSN")
	if cfg.Store.DSN == "" {
		env.str(&cfg.Store.DSN, "DATABASE_URL")
	}
	env.integer(&cfg.Store.MaxConns, "FULFILLMENT_STORE_MAX_CONNS")
	env.boolean(&cfg.Store.RunMigrations, "FULFILLMENT_STORE_RUN_MIGRATIONS")
	env.str(&cfg.Store.Region, "FULFILLMENT_STORE_REGION")
	env.str(&cfg.Store.Endpoint, "FULFILLMENT_STORE_ENDPOINT")
	env.str(&cfg.Store.EventsTable, "FULFILLMENT_STORE_EVENTS_TABLE")
	env.str(&cfg.Store.SnapshotsTable, "FULFILLMENT_STORE_SNAPSHOTS_TABLE")
	env.str(&cfg.Store.RatingsTable, "FULFILLMENT_STORE_RATINGS_TABLE")
	env.str(&cfg.Store.ClaimsTable, "FULFILLMENT_STORE_CLAIMS_TABLE")

	env.boolean(&cfg.Kafka.Enabled, "FULFILLMENT_KAFKA_ENABLED")
	env.list(&cfg.Kafka.Brokers, "FULFILLMENT_KAFKA_BROKERS")
	env.str(&cfg.Kafka.EventsTopic, "FULFILLMENT_KAFKA_EVENTS_TOPIC")
	env.str(&cfg.Kafka.AuctionTopic, "FULFILLMENT_KAFKA_AUCTION_TOPIC")
	env.str(&cfg.Kafka.ProjectorGroupID, "FULFILLMENT_KAFKA_PROJECTOR_GROUP_ID")
	env.str(&cfg.Kafka.AuctionGroupID, "FULFILLMENT_KAFKA_AUCTION_GROUP_ID")

	env.str(&cfg.Redis.Addr, "FULFILLMENT_REDIS_ADDR")
	env.str(&cfg.Redis.Password, "FULFILLMENT_REDIS_PASSWORD")
	env.integer(&cfg.Redis.DB, "FULFILLMENT_REDIS_DB")
	env.duration(&cfg.Redis.LockTTL, "FULFILLMENT_REDIS_LOCK_TTL")

	env.str(&cfg.Auth.JWTSecret, "FULFILLMENT_AUTH_JWT_SECRET")
	env.duration(&cfg.Auth.TokenExpiry, "FULFILLMENT_AUTH_TOKEN_EXPIRY")
	env.str(&cfg.Auth.Issuer, "FULFILLMENT_AUTH_ISSUER")

	env.str(&cfg.LogLevel, "FULFILLMENT_LOG_LEVEL")

	cfg.envErrs = env.errs
}

// NewLogger builds the JSON logger every binary shares.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

// envReader applies one variable at a time and keeps every value it could
// not parse, so Validate can report them instead of running on defaults.
type envReader struct {
	errs []string
}

func (r *envReader) invalid(key, v string, err error) {
	r.errs = append(r.errs, fmt.Sprintf("env: %s=%q: %v", key, v, err))
}

func (r *envReader) str(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (r *envReader) integer(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.invalid(key, v, err)
			return
		}
		*dst = n
	}
}

func (r *envReader) boolean(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.invalid(key, v, err)
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.invalid(key, v, err)
			return
		}
		dst.Duration = d
	}
}

func (r *envReader) list(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
