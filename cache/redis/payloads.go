package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marcelsud/webhook-relay/event"
	"github.com/redis/go-redis/v9"
)

/* Redis hash cache of origin payloads
 * Snapshots from the remote backend may omit the captured request, the cache keeps the last
 * one seen for each event so a delivery can still replay it
 */

const (
	hashPrefix = "relay:payload" // Hash naming: relay:payload:{event_id}
	DefaultTTL = 24 * time.Hour
)

type PayloadCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPayloadCache connects to Redis and checks the connection
func NewPayloadCache(addr, password string, db int, ttl time.Duration) (*PayloadCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return New(client, ttl), nil
}

// New wraps an existing client
func New(client *redis.Client, ttl time.Duration) *PayloadCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PayloadCache{client: client, ttl: ttl}
}

// Put stores the origin payload of an event and refreshes its TTL
func (c *PayloadCache) Put(ctx context.Context, eventID string, origin event.OriginPayload) error {
	fields, err := toHash(origin)
	if err != nil {
		return err
	}
	key := hashKey(eventID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing payload: %w", err)
	}
	return nil
}

// PutAll caches the origin of every event that carries one
func (c *PayloadCache) PutAll(ctx context.Context, events []event.Event) error {
	var errs []error
	for _, e := range events {
		if e.Origin == nil {
			continue
		}
		if err := c.Put(ctx, e.ID, *e.Origin); err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Origin returns the cached payload of an event, ok is false on a cache miss
func (c *PayloadCache) Origin(ctx context.Context, eventID string) (event.OriginPayload, bool, error) {
	data, err := c.client.HGetAll(ctx, hashKey(eventID)).Result()
	if err != nil {
		return event.OriginPayload{}, false, fmt.Errorf("getting payload: %w", err)
	}
	if len(data) == 0 {
		return event.OriginPayload{}, false, nil
	}
	origin, err := fromHash(data)
	if err != nil {
		return event.OriginPayload{}, false, err
	}
	return origin, true, nil
}

// Delete drops the cached payload of an event
func (c *PayloadCache) Delete(ctx context.Context, eventID string) error {
	if err := c.client.Del(ctx, hashKey(eventID)).Err(); err != nil {
		return fmt.Errorf("deleting payload: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (c *PayloadCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *PayloadCache) Close() error {
	return c.client.Close()
}

func hashKey(eventID string) string {
	return fmt.Sprintf("%s:%s", hashPrefix, eventID)
}

func toHash(origin event.OriginPayload) (map[string]interface{}, error) {
	headersJSON, err := json.Marshal(origin.Headers)
	if err != nil {
		return nil, fmt.Errorf("marshaling headers: %w", err)
	}
	return map[string]interface{}{
		"method":    origin.Method,
		"headers":   string(headersJSON),
		"body":      origin.Body,
		"size":      origin.Size,
		"client_ip": origin.ClientIP,
	}, nil
}

func fromHash(data map[string]string) (event.OriginPayload, error) {
	origin := event.OriginPayload{
		Method:   data["method"],
		Body:     data["body"],
		ClientIP: data["client_ip"],
	}
	if headersStr := data["headers"]; headersStr != "" && headersStr != "null" {
		if err := json.Unmarshal([]byte(headersStr), &origin.Headers); err != nil {
			return event.OriginPayload{}, fmt.Errorf("unmarshaling headers: %w", err)
		}
	}
	if sizeStr := data["size"]; sizeStr != "" {
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return event.OriginPayload{}, fmt.Errorf("parsing size: %w", err)
		}
		origin.Size = size
	}
	return origin, nil
}
