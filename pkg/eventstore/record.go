package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

const recordMaxTries = 5

// Record appends a single event at the aggregate's next version. Version conflicts from
// concurrent writers are retried with exponential backoff; other failures are returned as is.
func Record(ctx context.Context, store Store, aggregateID uuid.UUID, aggregateType, eventType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		version, err := store.GetCurrentVersion(ctx, aggregateID)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err = store.AppendEvents(ctx, aggregateID, aggregateType, version, []Event{{
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			EventType:     eventType,
			EventData:     payload,
		}})
		if errors.Is(err, ErrConcurrencyConflict) {
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(recordMaxTries))
	if err != nil {
		return fmt.Errorf("failed to append %s event: %w", eventType, err)
	}
	return nil
}
