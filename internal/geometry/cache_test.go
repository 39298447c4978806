package geometry

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"tmcnotebook/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recordingFetcher struct {
	mu       sync.Mutex
	requests [][]string
	fail     error
	known    map[string]bool // nil means every tmc is known
}

func (f *recordingFetcher) FeaturesByTMC(_ context.Context, year int, tmcs []string) (map[string]domain.Feature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, append([]string(nil), tmcs...))
	if f.fail != nil {
		return nil, f.fail
	}
	out := make(map[string]domain.Feature, len(tmcs))
	for _, tmc := range tmcs {
		if f.known != nil && !f.known[tmc] {
			continue
		}
		out[tmc] = feature(year, tmc)
	}
	return out, nil
}

func feature(year int, tmc string) domain.Feature {
	geom, _ := json.Marshal(map[string]any{"type": "MultiLineString", "coordinates": [][][]float64{{{float64(year), 1}, {2, 3}}}})
	return domain.Feature{Type: "Feature", Properties: map[string]any{"tmc": tmc}, Geometry: geom}
}

func tmcsOf(features []domain.Feature) []string {
	out := make([]string, len(features))
	for i, f := range features {
		out[i] = f.TMC()
	}
	return out
}

func TestCacheRoundTripFetchesOnlyMisses(t *testing.T) {
	ctx := context.Background()
	fetcher := &recordingFetcher{}
	cache, err := New(fetcher, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	first, err := cache.Features(ctx, 2021, []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := cache.Features(ctx, 2021, []string{"t1", "t3"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(fetcher.requests) != 2 || !reflect.DeepEqual(fetcher.requests[1], []string{"t3"}) {
		t.Fatalf("requests = %v", fetcher.requests)
	}
	if !reflect.DeepEqual(tmcsOf(second), []string{"t1", "t3"}) {
		t.Fatalf("second = %v", tmcsOf(second))
	}
	if !reflect.DeepEqual(second[0], first[0]) || !reflect.DeepEqual(second[1], feature(2021, "t3")) {
		t.Fatalf("cached features differ from originals")
	}
	hits, misses, size := cache.Stats()
	if hits != 1 || misses != 3 || size != 3 {
		t.Fatalf("stats = %d/%d/%d", hits, misses, size)
	}
}

func TestCacheSkipsRequestWhenAllCached(t *testing.T) {
	ctx := context.Background()
	fetcher := &recordingFetcher{}
	cache, _ := New(fetcher, 10)
	if _, err := cache.Features(ctx, 2020, []string{"a", "b"}); err != nil {
		t.Fatalf("warm: %v", err)
	}
	got, err := cache.Features(ctx, 2020, []string{"b", "a", "b"})
	if err != nil {
		t.Fatalf("cached: %v", err)
	}
	if len(fetcher.requests) != 1 {
		t.Fatalf("expected no extra request, got %v", fetcher.requests)
	}
	if !reflect.DeepEqual(tmcsOf(got), []string{"b", "a", "b"}) {
		t.Fatalf("order = %v", tmcsOf(got))
	}
}

func TestCacheKeysIncludeYear(t *testing.T) {
	ctx := context.Background()
	fetcher := &recordingFetcher{}
	cache, _ := New(fetcher, 10)
	_, _ = cache.Features(ctx, 2019, []string{"a"})
	got, _ := cache.Features(ctx, 2020, []string{"a"})
	if len(fetcher.requests) != 2 {
		t.Fatalf("expected a second request for a new year, got %v", fetcher.requests)
	}
	if !strings.Contains(string(got[0].Geometry), "2020") {
		t.Fatalf("expected 2020 geometry, got %s", got[0].Geometry)
	}
}

func TestCacheOmitsUnknownAndDeduplicatesMisses(t *testing.T) {
	fetcher := &recordingFetcher{known: map[string]bool{"a": true}}
	cache, _ := New(fetcher, 10)
	got, err := cache.Features(context.Background(), 2021, []string{"a", "ghost", "a", "ghost"})
	if err != nil {
		t.Fatalf("features: %v", err)
	}
	if !reflect.DeepEqual(tmcsOf(got), []string{"a", "a"}) {
		t.Fatalf("got %v", tmcsOf(got))
	}
	if !reflect.DeepEqual(fetcher.requests[0], []string{"a", "ghost"}) {
		t.Fatalf("request = %v", fetcher.requests[0])
	}
}

func TestCacheFetchFailureLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	fetcher := &recordingFetcher{}
	cache, _ := New(fetcher, 10)
	_, _ = cache.Features(ctx, 2021, []string{"a"})
	boom := errors.New("service down")
	fetcher.fail = boom
	if _, err := cache.Features(ctx, 2021, []string{"a", "b"}); !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if _, _, size := cache.Stats(); size != 1 {
		t.Fatalf("size = %d, want 1", size)
	}
	fetcher.fail = nil
	got, err := cache.Features(ctx, 2021, []string{"a"})
	if err != nil || len(got) != 1 {
		t.Fatalf("cached read = %v, %v", got, err)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	fetcher := &recordingFetcher{}
	cache, _ := New(fetcher, 2)
	_, _ = cache.Features(ctx, 2021, []string{"a", "b"})
	_, _ = cache.Features(ctx, 2021, []string{"a"}) // a is now most recent
	_, _ = cache.Features(ctx, 2021, []string{"c"}) // evicts b
	_, _ = cache.Features(ctx, 2021, []string{"a", "b"})
	last := fetcher.requests[len(fetcher.requests)-1]
	if !reflect.DeepEqual(last, []string{"b"}) {
		t.Fatalf("expected only b refetched, got %v", last)
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	cache, _ := New(&recordingFetcher{}, 10)
	got, _ := cache.Features(ctx, 2021, []string{"a"})
	got[0].Properties["tmc"] = "mutated"
	got[0].Geometry[0] = 'X'
	again, _ := cache.Features(ctx, 2021, []string{"a"})
	if !reflect.DeepEqual(again[0], feature(2021, "a")) {
		t.Fatalf("cache entry was mutated: %+v", again[0])
	}
}

func TestCacheMetricsAndCollection(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	cache, _ := New(&recordingFetcher{}, 10, WithMetrics(metrics))
	fc, err := cache.FeatureCollection(context.Background(), 2021, []string{"a", "b"})
	if err != nil || fc.Type != "FeatureCollection" || len(fc.Features) != 2 {
		t.Fatalf("collection = %+v, %v", fc, err)
	}
	_, _ = cache.Features(context.Background(), 2021, []string{"a"})
	if got := testutil.ToFloat64(metrics.lookups.WithLabelValues("hit")); got != 1 {
		t.Fatalf("hits = %v", got)
	}
	if got := testutil.ToFloat64(metrics.lookups.WithLabelValues("miss")); got != 2 {
		t.Fatalf("misses = %v", got)
	}
	if got := testutil.ToFloat64(metrics.entries); got != 2 {
		t.Fatalf("entries = %v", got)
	}
	cache.Purge()
	if got := testutil.ToFloat64(metrics.entries); got != 0 {
		t.Fatalf("entries after purge = %v", got)
	}
	if _, err := New(nil, 1); err == nil {
		t.Fatalf("expected nil fetcher error")
	}
}
