package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/auction-fulfillment/internal/api"
	"github.com/example/auction-fulfillment/internal/auction"
	"github.com/example/auction-fulfillment/internal/auth"
	"github.com/example/auction-fulfillment/internal/chat"
	"github.com/example/auction-fulfillment/internal/command"
	"github.com/example/auction-fulfillment/internal/config"
	"github.com/example/auction-fulfillment/internal/domain/order"
	"github.com/example/auction-fulfillment/internal/domain/reputation"
	"github.com/example/auction-fulfillment/internal/infrastructure/kafka"
	"github.com/example/auction-fulfillment/internal/infrastructure/lock"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/example/auction-fulfillment/internal/metrics"
	"github.com/example/auction-fulfillment/internal/projection"
	"github.com/example/auction-fulfillment/internal/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := config.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api exited", "error", err)
		os.Exit(1)
	}
}

// backend is the storage side of the process: the event log with its rating
// ledger, the projected read models and the order chat.
type backend struct {
	events    store.Store
	readStore store.ReadStoreInterface
	channel   chat.Channel
	// replay is set when the read models live in process memory and must be
	// rebuilt from the event log on start.
	replay  bool
	db      *sql.DB
	closers []func()
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting order fulfillment api",
		"addr", cfg.Server.Addr,
		"backend", cfg.Store.Backend,
		"kafka", cfg.Kafka.Enabled,
		"redis_lock", cfg.Redis.Addr != "",
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Without a broker the projector receives committed events directly.
	var (
		publisher store.Publisher
		producer  *kafka.Producer
		projector *projection.Projector
	)
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		defer producer.Close()
		publisher = producer
	}

	be, err := openBackend(ctx, cfg, logger, func(rs store.ReadStoreInterface) store.Publisher {
		projector = projection.NewProjector(rs, m, logger)
		if publisher == nil {
			return projector
		}
		return publisher
	})
	if err != nil {
		return err
	}
	defer func() {
		for i := len(be.closers) - 1; i >= 0; i-- {
			be.closers[i]()
		}
	}()

	locks, rdb := newLockManager(cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	ledger := reputation.NewLedger(be.events, cfg.Server.RatingsPageSize)
	orderSvc := order.NewService(be.events, ledger, locks, logger, cfg.Server.LockWait.Duration)
	cmdHandler := command.NewHandler(orderSvc, m, logger)
	queryHandler := query.NewHandler(orderSvc, ledger, be.readStore, logger)
	chatSvc := chat.NewService(be.channel, orderSvc, logger)

	if be.replay {
		if err := replayEvents(ctx, be.events, projector, logger); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	if cfg.Kafka.Enabled {
		projectorConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, cfg.Kafka.ProjectorGroupID, logger)
		defer projectorConsumer.Close()
		intakeConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.AuctionTopic, cfg.Kafka.AuctionGroupID, logger)
		defer intakeConsumer.Close()

		intake := auction.NewIntake(cmdHandler, orderSvc, logger)

		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := projectorConsumer.Consume(ctx, projector.HandleEvent); err != nil && ctx.Err() == nil {
				logger.Error("projector consumer stopped", "error", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := intakeConsumer.Consume(ctx, intake.HandleMessage); err != nil && ctx.Err() == nil {
				logger.Error("auction intake consumer stopped", "error", err)
			}
		}()
	}

	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry.Duration, cfg.Auth.Issuer)
	router := api.NewRouter(api.RouterConfig{
		Handlers:       api.NewHandlers(cmdHandler, queryHandler, chatSvc),
		JWTService:     jwtService,
		Metrics:        m,
		Logger:         logger,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Ready: func(ctx context.Context) error {
			if be.db != nil {
				if err := be.db.PingContext(ctx); err != nil {
					return fmt.Errorf("postgres: %w", err)
				}
			}
			if rdb != nil {
				if err := rdb.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			return nil
		},
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	stop()
	wg.Wait()
	logger.Info("stopped")
	return nil
}

// openBackend builds the configured stores. newPublisher receives the read
// store so the caller can put a projector in front of it.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger, newPublisher func(store.ReadStoreInterface) store.Publisher) (*backend, error) {
	be := &backend{}

	if cfg.Store.DSN != "" && cfg.Store.Backend != config.BackendMemory {
		db, err := store.ConnectPostgres(ctx, cfg.Store.DSN, cfg.Store.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		be.db = db
		be.closers = append(be.closers, func() { db.Close() })

		if cfg.Store.RunMigrations {
			if err := store.RunMigrations(ctx, db); err != nil {
				db.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		be.readStore = store.NewPostgresReadStore(db)
		be.channel = chat.NewPostgresChannel(db)
		logger.Info("connected to postgres")
	} else {
		be.readStore = store.NewReadStore()
		be.channel = chat.NewMemoryChannel()
		be.replay = true
	}

	publisher := newPublisher(be.readStore)

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		be.events = store.NewPostgresEventStore(be.db, publisher, logger)

	case config.BackendDynamoDB:
		client, err := newDynamoClient(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		// With a shared read store, committed items reach the projector
		// through the table's Kinesis stream instead.
		if !be.replay {
			publisher = nil
		}
		be.events = store.NewDynamoEventStore(client, store.DynamoTables{
			Events:    cfg.Store.EventsTable,
			Snapshots: cfg.Store.SnapshotsTable,
			Ratings:   cfg.Store.RatingsTable,
			Claims:    cfg.Store.ClaimsTable,
		}, publisher, logger)
		logger.Info("using dynamodb event store", "region", cfg.Store.Region, "events_table", cfg.Store.EventsTable)

	default:
		be.events = store.NewEventStore(publisher, logger)
	}

	return be, nil
}

func newDynamoClient(ctx context.Context, sc config.StoreConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(sc.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
		}
	}), nil
}

func newLockManager(cfg *config.Config) (lock.Manager, *redis.Client) {
	if cfg.Redis.Addr == "" {
		return lock.NewMemoryManager(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return lock.NewRedisManager(rdb, cfg.Redis.LockTTL.Duration), rdb
}

// replayEvents rebuilds in-memory read models from the event log.
func replayEvents(ctx context.Context, es store.EventStoreInterface, projector *projection.Projector, logger *slog.Logger) error {
	events, err := es.GetAllEvents(ctx)
	if err != nil {
		return fmt.Errorf("replay events: %w", err)
	}
	failed := 0
	for _, event := range events {
		if err := projector.Project(ctx, event); err != nil {
			failed++
		}
	}
	logger.Info("read models rebuilt", "events", len(events), "failed", failed)
	return nil
}
