package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	allEventsIndex   = "GSI1"
	productIndex     = "product_index"
	ratedUserIndex   = "rated_user_index"
	raterIndex       = "rater_index"
	allEventsGSIKey  = "EVENTS"
	sortKeyTimestamp = "2006-01-02T15:04:05.000000000Z"
)

// DynamoTables names the tables used by DynamoEventStore.
type DynamoTables struct {
	Events    string
	Snapshots string
	Ratings   string
	Claims    string
}

// DynamoEventStore stores events and ratings in DynamoDB.
// Events are streamed to Kinesis Data Streams via the DynamoDB Kinesis
// integration, so the publisher is usually nil for this backend.
type DynamoEventStore struct {
	client    *dynamodb.Client
	tables    DynamoTables
	publisher Publisher
	logger    *slog.Logger
}

// dynamoEvent represents the DynamoDB item structure
type dynamoEvent struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	Version       int    `dynamodbav:"version"`
	ID            string `dynamodbav:"id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	EventType     string `dynamodbav:"event_type"`
	Data          string `dynamodbav:"data"`
	CreatedAt     string `dynamodbav:"created_at"`
	GSI1PK        string `dynamodbav:"gsi1pk"`
	// ProductID is only set on the event that claims a product, which keeps
	// product_index sparse.
	ProductID string `dynamodbav:"product_id,omitempty"`
}

type dynamoRating struct {
	OrderID     string `dynamodbav:"order_id"`
	RaterID     string `dynamodbav:"rater_id"`
	ID          string `dynamodbav:"id"`
	ProductID   string `dynamodbav:"product_id"`
	RatedUserID string `dynamodbav:"rated_user_id"`
	Value       string `dynamodbav:"value"`
	Comment     string `dynamodbav:"comment"`
	System      bool   `dynamodbav:"is_system"`
	CreatedAt   string `dynamodbav:"created_at"`
	SortKey     string `dynamodbav:"sort_key"`
}

type dynamoClaim struct {
	ProductID string `dynamodbav:"product_id"`
	OrderID   string `dynamodbav:"order_id"`
	CreatedAt string `dynamodbav:"created_at"`
}

// dynamoSnapshot is stored in a separate table keyed by aggregate_id.
type dynamoSnapshot struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	Version       int    `dynamodbav:"version"`
	State         string `dynamodbav:"state"`
	CreatedAt     string `dynamodbav:"created_at"`
}

func NewDynamoEventStore(client *dynamodb.Client, tables DynamoTables, publisher Publisher, logger *slog.Logger) *DynamoEventStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamoEventStore{
		client:    client,
		tables:    tables,
		publisher: publisher,
		logger:    logger,
	}
}

// ratingSortKey orders lexicographically the same way as (created_at, id).
func ratingSortKey(createdAt time.Time, id string) string {
	return createdAt.UTC().Format(sortKeyTimestamp) + "#" + id
}

// Commit writes the whole unit with TransactWriteItems. Each transaction item
// carries the sentinel error it maps to when its condition fails.
func (es *DynamoEventStore) Commit(ctx context.Context, c Commit) ([]Event, error) {
	now := time.Now()
	events, err := c.buildEvents(now)
	if err != nil {
		return nil, err
	}

	var (
		items []types.TransactWriteItem
		kinds []error
	)

	if c.ExpectedVersion > 0 {
		items = append(items, types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName: aws.String(es.tables.Events),
				Key: map[string]types.AttributeValue{
					"aggregate_id": &types.AttributeValueMemberS{Value: c.AggregateID},
					"version":      &types.AttributeValueMemberN{Value: strconv.Itoa(c.ExpectedVersion)},
				},
				ConditionExpression: aws.String("attribute_exists(aggregate_id)"),
			},
		})
		kinds = append(kinds, ErrVersionConflict)
	}

	for i, event := range events {
		item := dynamoEvent{
			AggregateID:   event.AggregateID,
			Version:       event.Version,
			ID:            event.ID,
			AggregateType: event.AggregateType,
			EventType:     event.EventType,
			Data:          string(event.Data),
			CreatedAt:     event.Timestamp.Format(time.RFC3339Nano),
			GSI1PK:        allEventsGSIKey,
		}
		if i == 0 && c.ClaimProduct != "" {
			item.ProductID = c.ClaimProduct
		}
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(es.tables.Events),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(aggregate_id)"),
			},
		})
		kinds = append(kinds, ErrVersionConflict)
	}

	for _, r := range c.Ratings {
		put, err := es.ratingPut(r)
		if err != nil {
			return nil, err
		}
		items = append(items, types.TransactWriteItem{Put: put})
		kinds = append(kinds, ErrDuplicateRating)
	}

	if c.ClaimProduct != "" {
		av, err := attributevalue.MarshalMap(dynamoClaim{
			ProductID: c.ClaimProduct,
			OrderID:   c.AggregateID,
			CreatedAt: now.Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal claim: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(es.tables.Claims),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(product_id) OR order_id = :oid"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":oid": &types.AttributeValueMemberS{Value: c.AggregateID},
				},
			},
		})
		kinds = append(kinds, ErrProductClaimed)
	}

	if c.ReleaseProduct != "" {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(es.tables.Claims),
				Key: map[string]types.AttributeValue{
					"product_id": &types.AttributeValueMemberS{Value: c.ReleaseProduct},
				},
				ConditionExpression: aws.String("attribute_not_exists(product_id) OR order_id = :oid"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":oid": &types.AttributeValueMemberS{Value: c.AggregateID},
				},
			},
		})
		kinds = append(kinds, ErrProductClaimed)
	}

	_, err = es.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return nil, translateTransactionError(err, kinds)
	}

	publishCommitted(ctx, es.publisher, es.logger, events)
	return events, nil
}

func (es *DynamoEventStore) ratingPut(r Rating) (*types.Put, error) {
	av, err := attributevalue.MarshalMap(dynamoRating{
		OrderID:     r.OrderID,
		RaterID:     r.RaterID,
		ID:          r.ID,
		ProductID:   r.ProductID,
		RatedUserID: r.RatedUserID,
		Value:       r.Value,
		Comment:     r.Comment,
		System:      r.System,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339Nano),
		SortKey:     ratingSortKey(r.CreatedAt, r.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rating: %w", err)
	}
	return &types.Put{
		TableName:           aws.String(es.tables.Ratings),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(order_id)"),
	}, nil
}

// translateTransactionError picks the sentinel for the first cancellation
// reason it recognises. Conflicts and throttling are retryable.
func translateTransactionError(err error, kinds []error) error {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for i, reason := range canceled.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "ConditionalCheckFailed":
				if i < len(kinds) {
					return fmt.Errorf("%w: %s", kinds[i], aws.ToString(reason.Message))
				}
			case "TransactionConflict":
				return fmt.Errorf("%w: %s", ErrVersionConflict, aws.ToString(reason.Message))
			case "ThrottlingError", "ProvisionedThroughputExceeded":
				return fmt.Errorf("%w: %s", ErrUnavailable, aws.ToString(reason.Message))
			}
		}
	}
	return classifyDynamo(fmt.Errorf("failed to commit transaction: %w", err))
}

func classifyDynamo(err error) error {
	var (
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
		conflict   *types.TransactionConflictException
	)
	switch {
	case errors.As(err, &conflict):
		return fmt.Errorf("%w: %v", ErrVersionConflict, err)
	case errors.As(err, &throughput), errors.As(err, &limit), errors.As(err, &internal):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (es *DynamoEventStore) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(es.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyDynamo(err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// GetEvents returns all events for an aggregate from DynamoDB
func (es *DynamoEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.GetEventsFromVersion(ctx, aggregateID, 0)
}

// GetEventsFromVersion returns events for an aggregate after a specific version
func (es *DynamoEventStore) GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error) {
	items, err := es.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tables.Events),
		KeyConditionExpression: aws.String("aggregate_id = :aid AND #ver > :ver"),
		ExpressionAttributeNames: map[string]string{
			"#ver": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
			":ver": &types.AttributeValueMemberN{Value: strconv.Itoa(fromVersion)},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return unmarshalEvents(items)
}

// GetAllEvents returns all events from DynamoDB using GSI1
func (es *DynamoEventStore) GetAllEvents(ctx context.Context) ([]Event, error) {
	items, err := es.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tables.Events),
		IndexName:              aws.String(allEventsIndex),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: allEventsGSIKey},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query all events: %w", err)
	}
	return unmarshalEvents(items)
}

func unmarshalEvents(items []map[string]types.AttributeValue) ([]Event, error) {
	events := make([]Event, 0, len(items))
	for _, item := range items {
		var de dynamoEvent
		if err := attributevalue.UnmarshalMap(item, &de); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		timestamp, _ := time.Parse(time.RFC3339Nano, de.CreatedAt)
		events = append(events, Event{
			ID:            de.ID,
			AggregateID:   de.AggregateID,
			AggregateType: de.AggregateType,
			EventType:     de.EventType,
			Data:          json.RawMessage(de.Data),
			Timestamp:     timestamp,
			Version:       de.Version,
		})
	}
	return events, nil
}

// SaveSnapshot overwrites the aggregate's snapshot unless a newer one exists.
func (es *DynamoEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	av, err := attributevalue.MarshalMap(dynamoSnapshot{
		AggregateID:   snapshot.AggregateID,
		AggregateType: snapshot.AggregateType,
		Version:       snapshot.Version,
		State:         string(snapshot.State),
		CreatedAt:     snapshot.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(es.tables.Snapshots),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(aggregate_id) OR #ver < :ver"),
		ExpressionAttributeNames: map[string]string{
			"#ver": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ver": &types.AttributeValueMemberN{Value: strconv.Itoa(snapshot.Version)},
		},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	if err != nil {
		return classifyDynamo(fmt.Errorf("failed to put snapshot: %w", err))
	}
	return nil
}

// GetSnapshot retrieves the latest snapshot for an aggregate
func (es *DynamoEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	result, err := es.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(es.tables.Snapshots),
		Key: map[string]types.AttributeValue{
			"aggregate_id": &types.AttributeValueMemberS{Value: aggregateID},
		},
	})
	if err != nil {
		return nil, classifyDynamo(fmt.Errorf("failed to get snapshot: %w", err))
	}
	if result.Item == nil {
		return nil, nil
	}

	var ds dynamoSnapshot
	if err := attributevalue.UnmarshalMap(result.Item, &ds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, ds.CreatedAt)

	return &Snapshot{
		AggregateID:   ds.AggregateID,
		AggregateType: ds.AggregateType,
		Version:       ds.Version,
		State:         json.RawMessage(ds.State),
		CreatedAt:     createdAt,
	}, nil
}

// FindByProduct reads the active claim first, then the newest order that ever
// claimed the product.
func (es *DynamoEventStore) FindByProduct(ctx context.Context, productID string) (string, bool, error) {
	claim, err := es.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(es.tables.Claims),
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return "", false, classifyDynamo(fmt.Errorf("failed to get claim: %w", err))
	}
	if claim.Item != nil {
		var dc dynamoClaim
		if err := attributevalue.UnmarshalMap(claim.Item, &dc); err != nil {
			return "", false, fmt.Errorf("failed to unmarshal claim: %w", err)
		}
		return dc.OrderID, true, nil
	}

	result, err := es.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tables.Events),
		IndexName:              aws.String(productIndex),
		KeyConditionExpression: aws.String("product_id = :pid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid": &types.AttributeValueMemberS{Value: productID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return "", false, classifyDynamo(fmt.Errorf("failed to query product index: %w", err))
	}
	if len(result.Items) == 0 {
		return "", false, nil
	}
	var de dynamoEvent
	if err := attributevalue.UnmarshalMap(result.Items[0], &de); err != nil {
		return "", false, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return de.AggregateID, true, nil
}

func (es *DynamoEventStore) InsertRating(ctx context.Context, r Rating) error {
	put, err := es.ratingPut(r)
	if err != nil {
		return err
	}
	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           put.TableName,
		Item:                put.Item,
		ConditionExpression: put.ConditionExpression,
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return fmt.Errorf("%w: order %s rater %s", ErrDuplicateRating, r.OrderID, r.RaterID)
	}
	if err != nil {
		return classifyDynamo(fmt.Errorf("failed to put rating: %w", err))
	}
	return nil
}

func (es *DynamoEventStore) ListRatings(ctx context.Context, q RatingQuery) ([]Rating, error) {
	index, key := ratedUserIndex, "rated_user_id"
	if q.Direction == RatingsGiven {
		index, key = raterIndex, "rater_id"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(es.tables.Ratings),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(key + " = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: q.UserID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}
	if q.After != nil {
		input.KeyConditionExpression = aws.String(key + " = :uid AND sort_key < :after")
		input.ExpressionAttributeValues[":after"] = &types.AttributeValueMemberS{
			Value: ratingSortKey(q.After.CreatedAt, q.After.ID),
		}
	}

	result, err := es.client.Query(ctx, input)
	if err != nil {
		return nil, classifyDynamo(fmt.Errorf("failed to query ratings: %w", err))
	}

	ratings := make([]Rating, 0, len(result.Items))
	for _, item := range result.Items {
		var dr dynamoRating
		if err := attributevalue.UnmarshalMap(item, &dr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rating: %w", err)
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, dr.CreatedAt)
		ratings = append(ratings, Rating{
			ID:          dr.ID,
			OrderID:     dr.OrderID,
			ProductID:   dr.ProductID,
			RaterID:     dr.RaterID,
			RatedUserID: dr.RatedUserID,
			Value:       dr.Value,
			Comment:     dr.Comment,
			System:      dr.System,
			CreatedAt:   createdAt,
		})
	}
	return ratings, nil
}

func (es *DynamoEventStore) TallyRatings(ctx context.Context, userID string) (RatingTally, error) {
	items, err := es.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tables.Ratings),
		IndexName:              aws.String(ratedUserIndex),
		KeyConditionExpression: aws.String("rated_user_id = :uid"),
		ProjectionExpression:   aws.String("#val"),
		ExpressionAttributeNames: map[string]string{
			"#val": "value",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return RatingTally{}, fmt.Errorf("failed to tally ratings: %w", err)
	}

	var tally RatingTally
	for _, item := range items {
		v, ok := item["value"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		switch v.Value {
		case RatingPositive:
			tally.Positive++
		case RatingNegative:
			tally.Negative++
		}
	}
	return tally, nil
}

var _ Store = (*DynamoEventStore)(nil)
