package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/briangreenhill/flightstream/internal/flight"
	"github.com/briangreenhill/flightstream/internal/metrics"
)

// ResolveFunc maps a flight number to its upstream ident
type ResolveFunc func(ctx context.Context, flightNumber string) (string, error)

// IdentConfig configures an IdentCache
type IdentConfig struct {
	// TTL is the lifetime of each entry. Default: 7 days
	TTL time.Duration

	// Now overrides the clock. Default: time.Now
	Now func() time.Time

	Metrics *metrics.Metrics
}

type identEntry struct {
	ident    string
	storedAt time.Time
}

// IdentCache memoizes successful ident resolutions. Failures are never stored, and
// concurrent misses for the same flight number share one upstream call.
type IdentCache struct {
	resolve ResolveFunc
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]identEntry

	group singleflight.Group
}

// NewIdentCache creates an ident cache in front of resolve
func NewIdentCache(resolve ResolveFunc, cfg IdentConfig) *IdentCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultIdentTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &IdentCache{
		resolve: resolve,
		ttl:     cfg.TTL,
		now:     cfg.Now,
		metrics: cfg.Metrics,
		entries: make(map[string]identEntry),
	}
}

// Resolve returns the ident for flightNumber, resolving it upstream on a miss.
// The shared upstream call is detached from ctx so one caller giving up does not fail
// the others; each caller still stops waiting when its own ctx is done.
func (c *IdentCache) Resolve(ctx context.Context, flightNumber string) (string, error) {
	if ident, ok := c.lookup(flightNumber); ok {
		c.metrics.IdentLookup("hit")
		return ident, nil
	}
	c.metrics.IdentLookup("miss")

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightNumber, func() (any, error) {
		if ident, ok := c.lookup(flightNumber); ok {
			return ident, nil
		}
		ident, err := c.resolve(shared, flightNumber)
		if err != nil {
			c.metrics.UpstreamError("resolve")
			return "", err
		}
		if ident == "" {
			return "", flight.ErrNotFound
		}
		c.store(flightNumber, ident)
		return ident, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("resolve %s: %w", flightNumber, res.Err)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len returns the number of stored entries, expired ones included
func (c *IdentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *IdentCache) lookup(flightNumber string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[flightNumber]
	if !ok {
		return "", false
	}
	if c.now().After(e.storedAt.Add(c.ttl)) {
		delete(c.entries, flightNumber)
		return "", false
	}
	return e.ident, true
}

func (c *IdentCache) store(flightNumber, ident string) {
	c.mu.Lock()
	c.entries[flightNumber] = identEntry{ident: ident, storedAt: c.now()}
	c.mu.Unlock()
}
