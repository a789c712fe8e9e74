// Package cache provides the in-process caches behind flight lookups: a long-lived
// flight number to ident cache and a tiered snapshot freshness cache.
package cache

import (
	"time"

	"github.com/briangreenhill/flightstream/internal/flight"
)

const (
	// DefaultIdentTTL is how long a resolved ident is trusted
	DefaultIdentTTL = 7 * 24 * time.Hour
	// DefaultFreshFor is the age up to which a snapshot is served without any upstream call
	DefaultFreshFor = 5 * time.Minute
	// DefaultStaleFor is the age after which a snapshot is no longer served
	DefaultStaleFor = 15 * time.Minute
)

// Tier classifies a snapshot lookup
type Tier string

const (
	TierBypass  Tier = "bypass"
	TierFresh   Tier = "fresh"
	TierStale   Tier = "stale"
	TierExpired Tier = "expired"
)

// Entry is a stored snapshot with the time it was fetched
type Entry struct {
	Snapshot  flight.Snapshot
	FetchedAt time.Time
}

// tierFor places an entry age into a freshness tier
func tierFor(age, freshFor, staleFor time.Duration) Tier {
	switch {
	case age > staleFor:
		return TierExpired
	case age > freshFor:
		return TierStale
	default:
		return TierFresh
	}
}
