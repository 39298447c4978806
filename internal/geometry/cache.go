// Package geometry caches TMC feature geometry per (year, tmc) in front of the
// resolution service.
package geometry

import (
	"context"
	"fmt"
	"sync/atomic"
	"tmcnotebook/pkg/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity bounds the number of cached features.
const DefaultCapacity = 25000

// Fetcher retrieves geometry for a batch of TMCs in one request. The
// resolution client satisfies it.
type Fetcher interface {
	FeaturesByTMC(ctx context.Context, year int, tmcs []string) (map[string]domain.Feature, error)
}

type key struct {
	year int
	tmc  string
}

// Cache is an LRU of features. It is safe for concurrent use; concurrent
// misses for the same key may each reach the fetcher.
type Cache struct {
	entries *lru.Cache[key, domain.Feature]
	fetcher Fetcher
	metrics *Metrics
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New returns a cache holding at most capacity features. A non-positive
// capacity selects DefaultCapacity.
func New(fetcher Fetcher, capacity int, opts ...Option) (*Cache, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("geometry cache: nil fetcher")
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[key, domain.Feature](capacity)
	if err != nil {
		return nil, err
	}
	c := &Cache{entries: entries, fetcher: fetcher}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Features returns the features of tmcs for year in request order. Cached
// entries are served locally and every miss is fetched in a single batched
// request; no request is made when everything is cached. TMCs unknown to the
// service are omitted. A failed fetch leaves the cache untouched.
func (c *Cache) Features(ctx context.Context, year int, tmcs []string) ([]domain.Feature, error) {
	found := make(map[string]domain.Feature, len(tmcs))
	var missing []string
	for _, tmc := range tmcs {
		if _, done := found[tmc]; done {
			continue
		}
		if f, ok := c.entries.Get(key{year: year, tmc: tmc}); ok {
			found[tmc] = f
			continue
		}
		if !contains(missing, tmc) {
			missing = append(missing, tmc)
		}
	}
	c.hits.Add(uint64(len(found)))
	c.misses.Add(uint64(len(missing)))
	c.metrics.lookup(len(found), len(missing))

	if len(missing) > 0 {
		fetched, err := c.fetcher.FeaturesByTMC(ctx, year, missing)
		if err != nil {
			return nil, fmt.Errorf("fetch %d features for %d: %w", len(missing), year, err)
		}
		for tmc, f := range fetched {
			c.entries.Add(key{year: year, tmc: tmc}, cloneFeature(f))
			found[tmc] = f
		}
		c.metrics.size(c.entries.Len())
	}

	out := make([]domain.Feature, 0, len(tmcs))
	for _, tmc := range tmcs {
		if f, ok := found[tmc]; ok {
			out = append(out, cloneFeature(f))
		}
	}
	return out, nil
}

// FeatureCollection is Features wrapped as GeoJSON.
func (c *Cache) FeatureCollection(ctx context.Context, year int, tmcs []string) (domain.FeatureCollection, error) {
	features, err := c.Features(ctx, year, tmcs)
	if err != nil {
		return domain.FeatureCollection{}, err
	}
	return domain.NewFeatureCollection(features), nil
}

// Stats reports lookups served from cache, lookups that went to the fetcher
// and the current number of entries.
func (c *Cache) Stats() (hits, misses uint64, size int) {
	return c.hits.Load(), c.misses.Load(), c.entries.Len()
}

// Purge drops every cached feature.
func (c *Cache) Purge() {
	c.entries.Purge()
	c.metrics.size(0)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// cloneFeature copies the mutable parts of f so callers cannot alter cached
// entries.
func cloneFeature(f domain.Feature) domain.Feature {
	out := domain.Feature{Type: f.Type}
	if f.Properties != nil {
		out.Properties = make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			out.Properties[k] = v
		}
	}
	if f.Geometry != nil {
		out.Geometry = append([]byte(nil), f.Geometry...)
	}
	return out
}
