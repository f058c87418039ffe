// Package cache provides the key/value store shared by the data provider.
// Values are opaque byte slices with a per-entry TTL; two backends satisfy the
// same contract and one is selected at construction.
package cache

import (
	"strings"
	"time"
)

// Cache is the backend-independent contract. A Set with ttl <= 0 does not store
// anything, so callers can disable caching for a key class by configuring a zero TTL.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
	Delete(key string)
	Exists(key string) bool
	Clear()
}

// TTLReader is implemented by backends that can report remaining lifetime
type TTLReader interface {
	TTL(key string) (time.Duration, bool)
}

// Counter is implemented by backends with atomic counters
type Counter interface {
	Incr(key string) (int64, error)
}

// Key classes used for metrics labels
const (
	ClassMarketBreadth     = "market_breadth"
	ClassSectorPerformance = "sector_performance"
	ClassTechnical         = "technical_analysis"
	ClassShareholdings     = "shareholdings"
	ClassFinancials        = "financials"
	ClassOther             = "other"
)

// KeyClass maps a cache key to its class
func KeyClass(key string) string {
	switch {
	case key == "market_breadth":
		return ClassMarketBreadth
	case key == "sector_performance":
		return ClassSectorPerformance
	case strings.HasPrefix(key, "tech_"):
		return ClassTechnical
	case strings.HasPrefix(key, "shareholdings_"):
		return ClassShareholdings
	case strings.HasPrefix(key, "financials_"):
		return ClassFinancials
	}
	return ClassOther
}

// Recorder receives hit/miss notifications from an instrumented cache
type Recorder interface {
	CacheHit(class string)
	CacheMiss(class string)
}

type instrumented struct {
	Cache
	rec Recorder
}

// Instrument wraps c so every Get is reported to rec
func Instrument(c Cache, rec Recorder) Cache {
	if rec == nil {
		return c
	}
	return &instrumented{Cache: c, rec: rec}
}

func (i *instrumented) Get(key string) ([]byte, bool) {
	v, ok := i.Cache.Get(key)
	if ok {
		i.rec.CacheHit(KeyClass(key))
	} else {
		i.rec.CacheMiss(KeyClass(key))
	}
	return v, ok
}

// Unwrap returns the underlying backend
func (i *instrumented) Unwrap() Cache { return i.Cache }

// Backend returns the innermost cache, looking through instrumentation
func Backend(c Cache) Cache {
	for {
		u, ok := c.(interface{ Unwrap() Cache })
		if !ok {
			return c
		}
		c = u.Unwrap()
	}
}
