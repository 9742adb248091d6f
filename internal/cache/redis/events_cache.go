package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polypaper/polypaper/internal/domain"
)

// EventsCache implements domain.EventsCache: a TTL cache of mirrored event
// and market metadata in front of the store. Entries expire passively; a
// failed refresh upstream simply leaves the previous entry in place until
// its TTL runs out.
type EventsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewEventsCache creates an EventsCache with the given entry TTL.
func NewEventsCache(c *Client, ttl time.Duration) *EventsCache {
	return &EventsCache{rdb: c.Underlying(), ttl: ttl}
}

func eventKey(id string) string  { return "events:" + id }
func marketKey(id string) string { return "markets:" + id }

// GetEvent returns a cached event, or domain.ErrNotFound on a miss.
func (ec *EventsCache) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	data, err := ec.rdb.Get(ctx, eventKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("redis: get event %s: %w", id, err)
	}

	var e domain.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return domain.Event{}, fmt.Errorf("redis: decode event %s: %w", id, err)
	}
	return e, nil
}

// SetEvent caches an event for the configured TTL.
func (ec *EventsCache) SetEvent(ctx context.Context, e domain.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: encode event %s: %w", e.ID, err)
	}
	if err := ec.rdb.Set(ctx, eventKey(e.ID), data, ec.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set event %s: %w", e.ID, err)
	}
	return nil
}

// GetMarket returns a cached market, or domain.ErrNotFound on a miss.
func (ec *EventsCache) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	data, err := ec.rdb.Get(ctx, marketKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: decode market %s: %w", id, err)
	}
	return m, nil
}

// SetMarket caches a market for the configured TTL.
func (ec *EventsCache) SetMarket(ctx context.Context, m domain.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: encode market %s: %w", m.ID, err)
	}
	if err := ec.rdb.Set(ctx, marketKey(m.ID), data, ec.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", m.ID, err)
	}
	return nil
}

// Invalidate drops the cached event and market entries for an id. Used
// when reconciliation changes an entity's state mid-TTL.
func (ec *EventsCache) Invalidate(ctx context.Context, id string) error {
	if err := ec.rdb.Del(ctx, eventKey(id), marketKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventsCache = (*EventsCache)(nil)
