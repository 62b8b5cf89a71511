package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/wa-commerce/internal/domain"
)

func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

type GeocodeCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewGeocodeCache(client *redis.Client, ttl time.Duration) *GeocodeCache {
	return &GeocodeCache{client: client, baseTTL: ttl}
}

func (c *GeocodeCache) Get(ctx context.Context, lat, lng float64) (*domain.GeocodeResult, error) {
	data, err := c.client.Get(ctx, geocodeKey(lat, lng)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var result domain.GeocodeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal geocode result failed: %w", err)
	}
	return &result, nil
}

func (c *GeocodeCache) Set(ctx context.Context, lat, lng float64, result *domain.GeocodeResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal geocode result failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(60)) * time.Minute
	if err := c.client.Set(ctx, geocodeKey(lat, lng), data, c.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// 5 decimals is roughly one metre, finer than any street address.
func geocodeKey(lat, lng float64) string {
	return fmt.Sprintf("geocode:%.5f,%.5f", lat, lng)
}

type EventLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEventLedger(client *redis.Client, ttl time.Duration) *EventLedger {
	return &EventLedger{client: client, ttl: ttl}
}

// MarkProcessed records eventID and reports whether this call was the first to see it.
func (l *EventLedger) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, eventKey(eventID), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// Forget releases an event id so a provider retry is processed again.
func (l *EventLedger) Forget(ctx context.Context, eventID string) error {
	if err := l.client.Del(ctx, eventKey(eventID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func eventKey(eventID string) string {
	return fmt.Sprintf("payment-event:%s", eventID)
}
