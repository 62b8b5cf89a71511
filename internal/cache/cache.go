package cache

import (
	"context"
	"errors"

	"github.com/fjod/wa-commerce/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// GeocodeStore caches reverse-geocoding answers by rounded coordinates.
type GeocodeStore interface {
	Get(ctx context.Context, lat, lng float64) (*domain.GeocodeResult, error)
	Set(ctx context.Context, lat, lng float64, result *domain.GeocodeResult) error
}

// EventStore remembers payment webhook ids already taken for processing.
type EventStore interface {
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}
