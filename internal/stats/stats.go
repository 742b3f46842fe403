// Package stats serves aggregate optimisation statistics from a short-lived
// cache so dashboards and CLI calls do not rescan the database.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"mio/internal/store"
)

const (
	snapshotKey = "aggregate"
	DefaultTTL  = 60 * time.Second
)

// Source is the persistence surface the cache reads through.
type Source interface {
	Stats(ctx context.Context) (store.Stats, error)
	LogStats(ctx context.Context) (store.LogStats, error)
	QueueStats(ctx context.Context) (store.QueueSummary, error)
}

// Snapshot is one computed view of the aggregates.
type Snapshot struct {
	Library     store.Stats
	Log         store.LogStats
	Queue       store.QueueSummary
	GeneratedAt time.Time
}

// SavingsPercent is the saved share of the original bytes.
func (s Snapshot) SavingsPercent() float64 {
	if s.Library.OriginalBytes <= 0 {
		return 0
	}
	return float64(s.Library.TotalSavings) / float64(s.Library.OriginalBytes) * 100
}

type entry struct {
	snapshot Snapshot
	err      error
}

// Cache memoises the aggregate snapshot for a TTL. Concurrent misses share a
// single computation; failed computations are not retained.
type Cache struct {
	source Source
	cache  *ttlcache.Cache[string, entry]
	group  singleflight.Group
	now    func() time.Time
}

// New returns a cache over source. A non-positive ttl uses DefaultTTL.
func New(source Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		source: source,
		cache: ttlcache.New[string, entry](
			ttlcache.WithTTL[string, entry](ttl),
			ttlcache.WithDisableTouchOnHit[string, entry](),
		),
		now: time.Now,
	}
}

// Get returns the cached snapshot, computing it on a miss.
func (c *Cache) Get(ctx context.Context) (Snapshot, error) {
	loader := ttlcache.LoaderFunc[string, entry](
		func(cache *ttlcache.Cache[string, entry], key string) *ttlcache.Item[string, entry] {
			snap, err := c.compute(ctx)
			return cache.Set(key, entry{snapshot: snap, err: err}, ttlcache.DefaultTTL)
		},
	)
	item := c.cache.Get(snapshotKey, ttlcache.WithLoader[string, entry](ttlcache.NewSuppressedLoader[string, entry](loader, &c.group)))
	if item == nil {
		return Snapshot{}, fmt.Errorf("stats cache returned no value")
	}
	value := item.Value()
	if value.err != nil {
		c.cache.Delete(snapshotKey)
		return Snapshot{}, value.err
	}
	return value.snapshot, nil
}

// Invalidate drops the cached snapshot.
func (c *Cache) Invalidate() {
	if c == nil {
		return
	}
	c.cache.Delete(snapshotKey)
}

func (c *Cache) compute(ctx context.Context) (Snapshot, error) {
	library, err := c.source.Stats(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("library stats: %w", err)
	}
	logStats, err := c.source.LogStats(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("log stats: %w", err)
	}
	queue, err := c.source.QueueStats(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("queue stats: %w", err)
	}
	return Snapshot{Library: library, Log: logStats, Queue: queue, GeneratedAt: c.now().UTC()}, nil
}
