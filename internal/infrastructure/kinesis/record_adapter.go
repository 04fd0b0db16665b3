package kinesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/auction-fulfillment/internal/infrastructure/store"
)

// ErrIncompleteImage marks an events-table image missing its key attributes.
var ErrIncompleteImage = errors.New("incomplete event image")

const insertEvent = "INSERT"

// DecodeRecord reads an events-table change delivered through the Kinesis
// stream integration. Only inserts carry new events; anything else reports
// ok=false.
func DecodeRecord(record events.KinesisEventRecord) (store.Event, bool, error) {
	var change events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &change); err != nil {
		return store.Event{}, false, fmt.Errorf("decode stream change: %w", err)
	}
	return DecodeStreamRecord(change)
}

// DecodeStreamRecord reads a change taken straight from DynamoDB Streams.
func DecodeStreamRecord(change events.DynamoDBEventRecord) (store.Event, bool, error) {
	if change.EventName != insertEvent {
		return store.Event{}, false, nil
	}
	event, err := eventFromImage(change.Change.NewImage)
	if err != nil {
		return store.Event{}, false, err
	}
	return event, true, nil
}

func eventFromImage(image map[string]events.DynamoDBAttributeValue) (store.Event, error) {
	if len(image) == 0 {
		return store.Event{}, fmt.Errorf("%w: no new image", ErrIncompleteImage)
	}

	str := func(name string) string {
		v, ok := image[name]
		if !ok || v.DataType() != events.DataTypeString {
			return ""
		}
		return v.String()
	}

	event := store.Event{
		ID:            str("id"),
		AggregateID:   str("aggregate_id"),
		AggregateType: str("aggregate_type"),
		EventType:     str("event_type"),
	}
	if event.ID == "" || event.AggregateID == "" || event.EventType == "" {
		return store.Event{}, fmt.Errorf("%w: id=%q aggregate_id=%q event_type=%q",
			ErrIncompleteImage, event.ID, event.AggregateID, event.EventType)
	}

	if data := str("data"); data != "" {
		if !json.Valid([]byte(data)) {
			return store.Event{}, fmt.Errorf("event %s: data is not json", event.ID)
		}
		event.Data = json.RawMessage(data)
	}

	if raw := str("created_at"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return store.Event{}, fmt.Errorf("event %s: parse created_at: %w", event.ID, err)
		}
		event.Timestamp = ts
	}

	v, ok := image["version"]
	if !ok {
		return store.Event{}, fmt.Errorf("%w: event %s has no version", ErrIncompleteImage, event.ID)
	}
	version, err := v.Integer()
	if err != nil {
		return store.Event{}, fmt.Errorf("event %s: parse version: %w", event.ID, err)
	}
	event.Version = int(version)

	return event, nil
}
