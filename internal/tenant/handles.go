package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/wa-commerce/internal/domain"
)

type handleEntry[T any] struct {
	handle    T
	expiresAt time.Time
}

// HandleCache lazily builds one client handle per tenant and keeps it for ttl.
type HandleCache[T any] struct {
	ttl     time.Duration
	now     func() time.Time
	factory func(*domain.TenantConfig) (T, error)

	mu      sync.Mutex
	entries map[string]handleEntry[T]
}

func NewHandleCache[T any](ttl time.Duration, factory func(*domain.TenantConfig) (T, error)) *HandleCache[T] {
	return &HandleCache[T]{
		ttl:     ttl,
		now:     time.Now,
		factory: factory,
		entries: make(map[string]handleEntry[T]),
	}
}

// Get returns the cached handle for cfg's tenant, building it on miss or expiry.
func (c *HandleCache[T]) Get(cfg *domain.TenantConfig) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[cfg.TenantID]; ok && now.Before(e.expiresAt) {
		return e.handle, nil
	}

	h, err := c.factory(cfg)
	if err != nil {
		var zero T
		return zero, err
	}
	c.entries[cfg.TenantID] = handleEntry[T]{handle: h, expiresAt: now.Add(c.ttl)}
	return h, nil
}

func (c *HandleCache[T]) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}

func (c *HandleCache[T]) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *HandleCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clients caches the per-tenant messaging and payment handles.
type Clients[M any, P any] struct {
	messengers *HandleCache[M]
	payments   *HandleCache[P]
}

func NewClients[M any, P any](
	ttl time.Duration,
	newMessenger func(*domain.TenantConfig) (M, error),
	newPayments func(*domain.TenantConfig) (P, error),
) *Clients[M, P] {
	return &Clients[M, P]{
		messengers: NewHandleCache(ttl, newMessenger),
		payments:   NewHandleCache(ttl, newPayments),
	}
}

func (c *Clients[M, P]) Messenger(cfg *domain.TenantConfig) (M, error) {
	return c.messengers.Get(cfg)
}

func (c *Clients[M, P]) Payments(cfg *domain.TenantConfig) (P, error) {
	return c.payments.Get(cfg)
}

func (c *Clients[M, P]) Invalidate(tenantID string) {
	c.messengers.Invalidate(tenantID)
	c.payments.Invalidate(tenantID)
}

func (c *Clients[M, P]) Sweep() int {
	return c.messengers.Sweep() + c.payments.Sweep()
}

type Sweeper interface {
	Sweep() int
}

// RunSweeper drops expired cache entries every interval until ctx is done.
func RunSweeper(ctx context.Context, interval time.Duration, sweepers ...Sweeper) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, s := range sweepers {
				s.Sweep()
			}
		case <-ctx.Done():
			return
		}
	}
}
