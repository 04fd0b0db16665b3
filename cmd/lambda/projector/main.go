package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/auction-fulfillment/internal/config"
	"github.com/example/auction-fulfillment/internal/infrastructure/kinesis"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
	"github.com/example/auction-fulfillment/internal/projection"
)

var (
	projector *projection.Projector
	logger    *slog.Logger
)

func init() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger = config.NewLogger(os.Stdout, cfg.LogLevel).With("component", "lambda-projector")

	if cfg.Store.DSN == "" {
		logger.Error("DATABASE_URL or FULFILLMENT_STORE_DSN is required")
		os.Exit(1)
	}
	db, err := store.ConnectPostgres(context.Background(), cfg.Store.DSN, cfg.Store.MaxConns)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}

	projector = projection.NewProjector(store.NewPostgresReadStore(db), nil, logger)
}

// handler projects one batch from the events table stream. Failed records are
// reported back so Lambda retries them; a failure also stops the batch so the
// order's later events are not applied ahead of it.
func handler(ctx context.Context, batch events.KinesisEvent) (events.KinesisEventResponse, error) {
	var failures []events.KinesisBatchItemFailure

	for i, record := range batch.Records {
		event, ok, err := kinesis.DecodeRecord(record)
		if err == nil && ok {
			err = projector.Project(ctx, event)
		}
		if err != nil {
			logger.ErrorContext(ctx, "record failed",
				"sequence_number", record.Kinesis.SequenceNumber,
				"error", err,
			)
			for _, rest := range batch.Records[i:] {
				failures = append(failures, events.KinesisBatchItemFailure{
					ItemIdentifier: rest.Kinesis.SequenceNumber,
				})
			}
			break
		}
	}

	logger.InfoContext(ctx, "batch projected",
		"records", len(batch.Records),
		"failed", len(failures),
	)
	return events.KinesisEventResponse{BatchItemFailures: failures}, nil
}

func main() {
	lambda.Start(handler)
}
