package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/flightstream/internal/flight"
	"github.com/briangreenhill/flightstream/internal/metrics"
)

// FetchFunc fetches a snapshot for ident; a non-zero at selects a specific instance
type FetchFunc func(ctx context.Context, ident string, at time.Time) (*flight.Snapshot, error)

// FreshnessConfig configures a FreshnessCache
type FreshnessConfig struct {
	// FreshFor is the age up to which entries are served as-is. Default: 5 minutes
	FreshFor time.Duration

	// StaleFor is the age up to which entries are served while refreshing in the
	// background. Older entries are refetched synchronously. Default: 15 minutes
	StaleFor time.Duration

	// Refresher runs background refreshes. Default: a new Refresher
	Refresher *Refresher

	// OnStore, if set, is called after every successful store
	OnStore func(ident string, snap flight.Snapshot)

	Now     func() time.Time
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// FreshnessCache memoizes the latest snapshot per ident with fresh, stale and expired
// tiers. Point-in-time fetches are never cached.
type FreshnessCache struct {
	fetch     FetchFunc
	freshFor  time.Duration
	staleFor  time.Duration
	refresher *Refresher
	onStore   func(ident string, snap flight.Snapshot)
	now       func() time.Time
	log       zerolog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	entries map[string]Entry
}

// NewFreshnessCache creates a snapshot cache in front of fetch
func NewFreshnessCache(fetch FetchFunc, cfg FreshnessConfig) *FreshnessCache {
	if cfg.FreshFor <= 0 {
		cfg.FreshFor = DefaultFreshFor
	}
	if cfg.StaleFor <= 0 {
		cfg.StaleFor = DefaultStaleFor
	}
	if cfg.StaleFor < cfg.FreshFor {
		cfg.StaleFor = cfg.FreshFor
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Refresher == nil {
		cfg.Refresher = NewRefresher(DefaultRefreshConcurrency, cfg.Logger, cfg.Metrics)
	}
	return &FreshnessCache{
		fetch:     fetch,
		freshFor:  cfg.FreshFor,
		staleFor:  cfg.StaleFor,
		refresher: cfg.Refresher,
		onStore:   cfg.OnStore,
		now:       cfg.Now,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		entries:   make(map[string]Entry),
	}
}

// Fetch returns a snapshot for ident following the freshness tiers.
// A failed synchronous fetch leaves any previous entry untouched.
func (c *FreshnessCache) Fetch(ctx context.Context, ident string, at time.Time) (*flight.Snapshot, error) {
	if !at.IsZero() {
		c.metrics.CacheLookup(string(TierBypass))
		return c.fetchUpstream(ctx, ident, at)
	}

	entry, ok := c.Get(ident)
	tier := TierExpired
	if ok {
		tier = tierFor(c.now().Sub(entry.FetchedAt), c.freshFor, c.staleFor)
	}
	c.metrics.CacheLookup(string(tier))

	switch tier {
	case TierFresh:
		return &entry.Snapshot, nil
	case TierStale:
		c.refresher.Submit(ident, func(ctx context.Context) error {
			_, err := c.refresh(ctx, ident)
			return err
		})
		return &entry.Snapshot, nil
	default:
		return c.refresh(ctx, ident)
	}
}

// Get returns the stored entry for ident regardless of its age
func (c *FreshnessCache) Get(ident string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ident]
	return e, ok
}

// Refresher returns the scheduler used for background refreshes
func (c *FreshnessCache) Refresher() *Refresher {
	return c.refresher
}

func (c *FreshnessCache) refresh(ctx context.Context, ident string) (*flight.Snapshot, error) {
	snap, err := c.fetchUpstream(ctx, ident, time.Time{})
	if err != nil {
		return nil, err
	}
	c.store(ident, *snap)
	return snap, nil
}

func (c *FreshnessCache) fetchUpstream(ctx context.Context, ident string, at time.Time) (*flight.Snapshot, error) {
	snap, err := c.fetch(ctx, ident, at)
	if err == nil && snap == nil {
		err = flight.ErrNotFound
	}
	if err != nil {
		c.metrics.UpstreamError("fetch")
		return nil, fmt.Errorf("fetch snapshot %s: %w", ident, err)
	}
	return snap, nil
}

func (c *FreshnessCache) store(ident string, snap flight.Snapshot) {
	c.mu.Lock()
	c.entries[ident] = Entry{Snapshot: snap, FetchedAt: c.now()}
	c.mu.Unlock()

	if c.onStore != nil {
		c.onStore(ident, snap)
	}
	c.log.Debug().Str("ident", ident).Msg("snapshot stored")
}
