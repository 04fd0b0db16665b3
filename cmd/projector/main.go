package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/auction-fulfillment/internal/config"
	"github.com/example/auction-fulfillment/internal/infrastructure/kafka"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/example/auction-fulfillment/internal/projection"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("projector exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if cfg.Store.DSN == "" {
		return errors.New("the projector needs a postgres read store: set FULFILLMENT_STORE_DSN or DATABASE_URL")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting order projector",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.EventsTopic,
		"group", cfg.Kafka.ProjectorGroupID,
	)

	db, err := store.ConnectPostgres(ctx, cfg.Store.DSN, cfg.Store.MaxConns)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Store.RunMigrations {
		if err := store.RunMigrations(ctx, db); err != nil {
			return err
		}
	}

	projector := projection.NewProjector(store.NewPostgresReadStore(db), nil, logger)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, cfg.Kafka.ProjectorGroupID, logger)
	defer consumer.Close()

	if err := consumer.Consume(ctx, projector.HandleEvent); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("projector stopped")
	return nil
}
