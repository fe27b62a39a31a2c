package payments

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	eventKeyPrefix = "webhook_events:"
	eventRetention = 24 * time.Hour
)

// EventStore remembers processed webhook event IDs so redelivered events are
// acknowledged without reprocessing. A nil store (Redis not configured)
// disables dedup; the status transitions are idempotent either way.
type EventStore struct {
	client *redis.Client
}

func NewEventStore(client *redis.Client) *EventStore {
	if client == nil {
		return nil
	}
	return &EventStore{client: client}
}

func (s *EventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	if s == nil {
		return false, nil
	}

	err := s.client.Get(ctx, eventKeyPrefix+eventID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *EventStore) Mark(ctx context.Context, eventID string) error {
	if s == nil {
		return nil
	}

	return s.client.Set(ctx, eventKeyPrefix+eventID, 1, eventRetention).Err()
}
