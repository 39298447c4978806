package notebook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
	"tmcnotebook/internal/cell"
	"tmcnotebook/internal/core"
	"tmcnotebook/internal/geometry"
	"tmcnotebook/internal/resolution"
	"tmcnotebook/pkg/domain"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeResolver struct {
	mu       sync.Mutex
	requests []domain.ChainRequest
	respond  func(req domain.ChainRequest) ([]string, error)
	years    [][2]int
}

func (f *fakeResolver) TMCs(_ context.Context, req domain.ChainRequest) ([]string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return []string{"t1", "t2"}, nil
	}
	return respond(req)
}

func (f *fakeResolver) CrossYearDescription(_ context.Context, tmc string, yearA, yearB int) (resolution.CrossYearDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.years = append(f.years, [2]int{yearA, yearB})
	return resolution.CrossYearDescription{Similarity: tmc}, nil
}

type fakeFeatures struct {
	mu    sync.Mutex
	calls map[int][]string
}

func (f *fakeFeatures) Features(_ context.Context, year int, tmcs []string) ([]domain.Feature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[int][]string)
	}
	f.calls[year] = tmcs
	out := make([]domain.Feature, len(tmcs))
	for i, tmc := range tmcs {
		out[i] = domain.Feature{Type: "Feature", Properties: map[string]any{"tmc": tmc, "year": year}}
	}
	return out, nil
}

type fixture struct {
	reg      *core.Registry
	resolver *fakeResolver
	features *fakeFeatures
	session  *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := core.NewRegistry(core.WithClock(core.ClockFunc(func() time.Time { return epoch })))
	f := &fixture{reg: reg, resolver: &fakeResolver{}, features: &fakeFeatures{}}
	n := 0
	f.session = NewSession(reg, f.resolver, f.features, WithLayerIDs(func() string {
		n++
		return "layer-" + string(rune('a'+n-1))
	}))
	t.Cleanup(f.session.Close)
	return f
}

func (f *fixture) create(t *testing.T, ct domain.CellType, actions ...domain.Action) cell.Cell {
	t.Helper()
	c, _, err := f.reg.Create(context.Background(), ct, "")
	if err != nil {
		t.Fatalf("create %s: %v", ct, err)
	}
	for _, a := range actions {
		if c, _, err = f.reg.Dispatch(context.Background(), c.ID(), a); err != nil {
			t.Fatalf("dispatch %s: %v", a.Type, err)
		}
	}
	return c
}

func act(kind domain.ActionType, payload any) domain.Action {
	return domain.Action{Type: kind, Payload: payload}
}

func (f *fixture) year(t *testing.T, year int) cell.Cell {
	return f.create(t, domain.CellTypeYear, act(domain.ActionSetYear, year))
}

func (f *fixture) filter(t *testing.T, dep *domain.CellID, value string) cell.Cell {
	actions := []domain.Action{
		act(domain.ActionSetPropertyName, "county"),
		act(domain.ActionSetPropertyValue, value),
	}
	if dep != nil {
		actions = append(actions, act(domain.ActionSetDependency, *dep))
	}
	return f.create(t, domain.CellTypeFilter, actions...)
}

func ptr(id domain.CellID) *domain.CellID { return &id }

func TestResolveTMCsRecordsResultOnFilter(t *testing.T) {
	f := newFixture(t)
	y := f.year(t, 2019)
	flt := f.filter(t, ptr(y.ID()), "Albany")

	tmcs, err := f.session.ResolveTMCs(context.Background(), flt.ID(), domain.DependencyRef{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !reflect.DeepEqual(tmcs, []string{"t1", "t2"}) {
		t.Fatalf("tmcs = %v", tmcs)
	}
	req := f.resolver.requests[0]
	if req.Dependency != flt.ID() || len(req.DependencyCellsMeta) != 2 || req.DependencyCellsMeta[0].CellID != y.ID() {
		t.Fatalf("unexpected request %+v", req)
	}
	cached, ok := f.session.CachedTMCs(flt.ID())
	if !ok || !reflect.DeepEqual(cached, tmcs) {
		t.Fatalf("cached = %v, %v", cached, ok)
	}
	if _, ok := f.session.CachedTMCs(y.ID()); ok {
		t.Fatalf("year cells carry no cached tmcs")
	}
}

func TestResolveTMCsFailureLeavesRegistryUntouched(t *testing.T) {
	f := newFixture(t)
	y := f.year(t, 2019)
	flt := f.filter(t, ptr(y.ID()), "Albany")
	before, _ := f.reg.Get(flt.ID())
	boom := &domain.ResolutionServiceError{Op: resolution.OpTMCs, StatusCode: 500, Err: errors.New("boom")}
	f.resolver.respond = func(domain.ChainRequest) ([]string, error) { return nil, boom }

	if _, err := f.session.ResolveTMCs(context.Background(), flt.ID(), domain.DependencyRef{}); !errors.Is(err, boom) {
		t.Fatalf("expected service error, got %v", err)
	}
	after, _ := f.reg.Get(flt.ID())
	if !cell.Same(before, after) {
		t.Fatalf("failed resolution mutated the cell")
	}
}

func TestResolveTMCsDiscardsSupersededResult(t *testing.T) {
	f := newFixture(t)
	y := f.year(t, 2019)
	flt := f.filter(t, ptr(y.ID()), "Albany")

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	f.resolver.respond = func(domain.ChainRequest) ([]string, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(started)
			<-release
			return []string{"old"}, nil
		}
		return []string{"new"}, nil
	}

	type result struct {
		tmcs []string
		err  error
	}
	first := make(chan result, 1)
	go func() {
		tmcs, err := f.session.ResolveTMCs(context.Background(), flt.ID(), domain.DependencyRef{})
		first <- result{tmcs, err}
	}()
	<-started
	if _, err := f.session.ResolveTMCs(context.Background(), flt.ID(), domain.DependencyRef{}); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	close(release)
	got := <-first
	if !errors.Is(got.err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v %v", got.tmcs, got.err)
	}
	cached, ok := f.session.CachedTMCs(flt.ID())
	if !ok || !reflect.DeepEqual(cached, []string{"new"}) {
		t.Fatalf("cached = %v, %v", cached, ok)
	}
}

func TestResolveTMCsDuringEditLeavesFilterStale(t *testing.T) {
	f := newFixture(t)
	y := f.year(t, 2019)
	flt := f.filter(t, ptr(y.ID()), "Albany")
	f.resolver.respond = func(domain.ChainRequest) ([]string, error) {
		if _, _, err := f.reg.Dispatch(context.Background(), flt.ID(), act(domain.ActionSetPropertyValue, "Saratoga")); err != nil {
			return nil, err
		}
		return []string{"albany"}, nil
	}
	if _, err := f.session.ResolveTMCs(context.Background(), flt.ID(), domain.DependencyRef{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := f.session.CachedTMCs(flt.ID()); ok {
		t.Fatalf("tmcs for the old descriptor must stay hidden")
	}
	c, _ := f.reg.Get(flt.ID())
	last, ok := c.(cell.Filter).LastDescriptor()
	if !ok || *last.PropertyValue != "Albany" {
		t.Fatalf("last descriptor = %+v, %v", last, ok)
	}
}

func TestResolveTMCsWithSyntheticYear(t *testing.T) {
	f := newFixture(t)
	flt := f.filter(t, nil, "Albany")

	_, err := f.session.ResolveTMCs(context.Background(), flt.ID(), domain.DependencyRef{})
	var missing *domain.MissingDependencyError
	if !errors.As(err, &missing) || missing.CellID != flt.ID() {
		t.Fatalf("expected MissingDependencyError, got %v", err)
	}
	if len(f.resolver.requests) != 0 {
		t.Fatalf("no request may be sent for an incomplete chain")
	}
	if _, err := f.session.ResolveTMCs(context.Background(), flt.ID(), domain.SyntheticYearContext(2018)); err != nil {
		t.Fatalf("resolve with fallback: %v", err)
	}
	metas := f.resolver.requests[0].DependencyCellsMeta
	if metas[0].CellID != core.PseudoRootID || metas[0].Descriptor.(domain.YearDescriptor).Year != 2018 {
		t.Fatalf("expected pseudo root first, got %+v", metas[0])
	}
	if !reflect.DeepEqual(metas[1].Dependencies, []domain.CellID{core.PseudoRootID}) {
		t.Fatalf("filter not rewired to pseudo root: %+v", metas[1])
	}
	if c, _ := f.reg.Get(flt.ID()); !reflect.DeepEqual(c.Dependencies(), []domain.CellID(nil)) {
		t.Fatalf("pseudo root leaked into the registry: %v", c.Dependencies())
	}
}

func TestLayerLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	y19 := f.year(t, 2019)
	y21 := f.year(t, 2021)
	fa := f.filter(t, ptr(y19.ID()), "Albany")
	diff := f.create(t, domain.CellTypeDiff)

	layerID, err := f.session.AddLayer(ctx, diff.ID())
	if err != nil || layerID != "layer-a" {
		t.Fatalf("add layer = %q, %v", layerID, err)
	}
	if _, err := f.session.AddLayer(ctx, y19.ID()); err == nil {
		t.Fatalf("year cells have no layers")
	}
	if _, err := f.session.AddLayer(ctx, 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := f.session.SetLayerDependencies(ctx, diff.ID(), layerID, ptr(fa.ID()), nil); err != nil {
		t.Fatalf("link: %v", err)
	}
	a, b, err := f.session.LayerYears(diff.ID(), layerID)
	if err != nil || a == nil || *a != 2019 || b != nil {
		t.Fatalf("years = %v, %v, %v", a, b, err)
	}
	if _, err := f.session.CrossYear(ctx, diff.ID(), layerID, "t1"); !errors.Is(err, domain.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState for half-assigned layer, got %v", err)
	}

	if err := f.session.SetLayerDependencies(ctx, diff.ID(), layerID, ptr(fa.ID()), ptr(y21.ID())); err != nil {
		t.Fatalf("link both: %v", err)
	}
	c, _ := f.reg.Get(diff.ID())
	if !reflect.DeepEqual(c.Dependencies(), []domain.CellID{fa.ID(), y21.ID()}) {
		t.Fatalf("diff dependencies = %v", c.Dependencies())
	}
	desc, err := f.session.CrossYear(ctx, diff.ID(), layerID, "t9")
	if err != nil || desc.Similarity != "t9" {
		t.Fatalf("cross year = %+v, %v", desc, err)
	}
	if !reflect.DeepEqual(f.resolver.years, [][2]int{{2019, 2021}}) {
		t.Fatalf("years requested = %v", f.resolver.years)
	}

	lf, err := f.session.LayerFeatures(ctx, diff.ID(), layerID, domain.DependencyRef{})
	if err != nil {
		t.Fatalf("layer features: %v", err)
	}
	if lf.A == nil || lf.B == nil || len(lf.A.Features) != 2 || lf.B.Type != "FeatureCollection" {
		t.Fatalf("unexpected layer features %+v", lf)
	}
	if !reflect.DeepEqual(lf.Partition.Both, []string{"t1", "t2"}) || lf.Partition.OnlyA != nil || lf.Partition.OnlyB != nil {
		t.Fatalf("unexpected partition %+v", lf.Partition)
	}
	if _, ok := f.features.calls[2019]; !ok {
		t.Fatalf("side A must be looked up in 2019, calls = %v", f.features.calls)
	}
	if _, ok := f.features.calls[2021]; !ok {
		t.Fatalf("side B must be looked up in 2021, calls = %v", f.features.calls)
	}

	if _, _, err := f.session.LayerYears(diff.ID(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected missing layer, got %v", err)
	}
}

func TestLayerFeaturesPartitionsSides(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	y19 := f.year(t, 2019)
	y21 := f.year(t, 2021)
	f.resolver.respond = func(req domain.ChainRequest) ([]string, error) {
		if year, _ := core.ChainYear(req.DependencyCellsMeta); year == 2019 {
			return []string{"t1", "t2", "t3"}, nil
		}
		return []string{"t4", "t2", "t1"}, nil
	}
	diff := f.create(t, domain.CellTypeDiff)
	layerID, _ := f.session.AddLayer(ctx, diff.ID())

	if err := f.session.SetLayerDependencies(ctx, diff.ID(), layerID, ptr(y19.ID()), ptr(y21.ID())); err != nil {
		t.Fatalf("link: %v", err)
	}
	lf, err := f.session.LayerFeatures(ctx, diff.ID(), layerID, domain.DependencyRef{})
	if err != nil {
		t.Fatalf("layer features: %v", err)
	}
	want := LayerPartition{Both: []string{"t1", "t2"}, OnlyA: []string{"t3"}, OnlyB: []string{"t4"}}
	if !reflect.DeepEqual(lf.Partition, want) {
		t.Fatalf("partition = %+v, want %+v", lf.Partition, want)
	}

	if err := f.session.SetLayerDependencies(ctx, diff.ID(), layerID, nil, ptr(y21.ID())); err != nil {
		t.Fatalf("unlink a: %v", err)
	}
	lf, err = f.session.LayerFeatures(ctx, diff.ID(), layerID, domain.DependencyRef{})
	if err != nil {
		t.Fatalf("layer features: %v", err)
	}
	want = LayerPartition{OnlyB: []string{"t4", "t2", "t1"}}
	if lf.A != nil || !reflect.DeepEqual(lf.Partition, want) {
		t.Fatalf("partition = %+v, want %+v", lf.Partition, want)
	}
}

func TestPartitionLayer(t *testing.T) {
	collection := func(tmcs ...string) *domain.FeatureCollection {
		features := make([]domain.Feature, len(tmcs))
		for i, tmc := range tmcs {
			features[i] = domain.Feature{Type: "Feature", Properties: map[string]any{"tmc": tmc}}
		}
		fc := domain.NewFeatureCollection(features)
		return &fc
	}
	cases := []struct {
		name string
		a, b *domain.FeatureCollection
		want LayerPartition
	}{
		{"both unassigned", nil, nil, LayerPartition{}},
		{"only a", collection("x", "y"), nil, LayerPartition{OnlyA: []string{"x", "y"}}},
		{"duplicates collapse", collection("x", "x", "y"), collection("y", "y"), LayerPartition{Both: []string{"y"}, OnlyA: []string{"x"}}},
		{"disjoint", collection("x"), collection("z"), LayerPartition{OnlyA: []string{"x"}, OnlyB: []string{"z"}}},
		{"untagged feature ignored", collection("", "x"), collection("x"), LayerPartition{Both: []string{"x"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PartitionLayer(tc.a, tc.b); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestLayerFeaturesPropagatesSideFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	y := f.year(t, 2020)
	diff := f.create(t, domain.CellTypeDiff)
	layerID, _ := f.session.AddLayer(ctx, diff.ID())
	if err := f.session.SetLayerDependencies(ctx, diff.ID(), layerID, ptr(y.ID()), nil); err != nil {
		t.Fatalf("link: %v", err)
	}
	boom := errors.New("unreachable")
	f.resolver.respond = func(domain.ChainRequest) ([]string, error) { return nil, boom }
	if _, err := f.session.LayerFeatures(ctx, diff.ID(), layerID, domain.DependencyRef{}); !errors.Is(err, boom) {
		t.Fatalf("expected side failure, got %v", err)
	}
}

func TestDependencyCandidatesExcludeDiffCells(t *testing.T) {
	f := newFixture(t)
	y := f.year(t, 2019)
	flt := f.filter(t, ptr(y.ID()), "Albany")
	f.create(t, domain.CellTypeDiff)
	trv := f.create(t, domain.CellTypeTraverse)

	var ids []domain.CellID
	for _, c := range f.session.DependencyCandidates(trv.ID()) {
		ids = append(ids, c.ID())
	}
	if !reflect.DeepEqual(ids, []domain.CellID{y.ID(), flt.ID()}) {
		t.Fatalf("candidates = %v", ids)
	}
}

func TestSessionAgainstResolutionService(t *testing.T) {
	var featureCalls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, resolution.OpTMCs):
			_, _ = io.WriteString(w, `["120+04100"]`)
		case strings.HasSuffix(r.URL.Path, resolution.OpFeatures):
			mu.Lock()
			featureCalls++
			mu.Unlock()
			_, _ = io.WriteString(w, `{"120+04100":{"type":"Feature","properties":{"tmc":"120+04100"},"geometry":null}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := resolution.NewClient(srv.URL, resolution.WithRetryInterval(0))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	cache, err := geometry.New(client, 0)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	ctx := context.Background()
	reg := core.NewRegistry()
	session := NewSession(reg, client, cache)
	defer session.Close()

	y, _, _ := reg.Create(ctx, domain.CellTypeYear, "")
	diff, _, _ := reg.Create(ctx, domain.CellTypeDiff, "")
	layerID, err := session.AddLayer(ctx, diff.ID())
	if err != nil {
		t.Fatalf("add layer: %v", err)
	}
	if err := session.SetLayerDependencies(ctx, diff.ID(), layerID, ptr(y.ID()), ptr(y.ID())); err != nil {
		t.Fatalf("link: %v", err)
	}
	for i := 0; i < 2; i++ {
		lf, err := session.LayerFeatures(ctx, diff.ID(), layerID, domain.DependencyRef{})
		if err != nil {
			t.Fatalf("layer features: %v", err)
		}
		if len(lf.A.Features) != 1 || lf.B.Features[0].TMC() != "120+04100" {
			t.Fatalf("unexpected features %+v", lf)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	// both sides share year and tmc; at most the first concurrent pair misses
	if featureCalls < 1 || featureCalls > 2 {
		t.Fatalf("feature requests = %d", featureCalls)
	}
}
