package cell

import (
	"errors"
	"slices"
	"testing"
	"time"
	"tmcnotebook/pkg/domain"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewCellDefaults(t *testing.T) {
	y := NewYear(3, epoch)
	if y.Name() != "Cell 3" || y.ID() != 3 || y.Type() != domain.CellTypeYear {
		t.Fatalf("unexpected year defaults: %s %d %s", y.Name(), y.ID(), y.Type())
	}
	if y.ModifiedTimestamp() != epoch.UnixMilli() {
		t.Fatalf("expected creation timestamp")
	}
	if !y.IsReady() || y.Dependencies() != nil {
		t.Fatalf("year cells are ready roots")
	}
	if f := NewFilter(4, epoch); f.IsReady() {
		t.Fatalf("new filter must be unconfigured")
	}
}

func TestSetNameKeepsTimestamp(t *testing.T) {
	f := NewFilter(1, epoch)
	renamed := f.SetName("Albany county")
	if renamed.Name() != "Albany county" || f.Name() != "Cell 1" {
		t.Fatalf("rename must not mutate receiver")
	}
	if renamed.ModifiedTimestamp() != f.ModifiedTimestamp() {
		t.Fatalf("rename must keep timestamp")
	}
	if !Same(renamed.SetName("Albany county"), renamed) {
		t.Fatalf("same name must return receiver")
	}
}

func TestSetDependenciesReusesEqualList(t *testing.T) {
	f := NewFilter(2, epoch).SetDependencies(1)
	again := f.SetDependencies(1)
	if !Same(f, again) {
		t.Fatalf("equal dependency list must keep identity")
	}
	changed := f.SetDependencies(5)
	if Same(f, changed) || !slices.Equal(changed.Dependencies(), []domain.CellID{5}) {
		t.Fatalf("expected new value with new deps, got %v", changed.Dependencies())
	}
	if !slices.Equal(f.Dependencies(), []domain.CellID{1}) {
		t.Fatalf("receiver must keep original deps")
	}
	cleared := changed.SetDependencies()
	if cleared.Dependencies() != nil {
		t.Fatalf("expected nil deps after clear")
	}
	if !Same(cleared.SetDependencies(), cleared) {
		t.Fatalf("clearing an empty list must keep identity")
	}
}

func TestDependenciesAreDefensiveCopies(t *testing.T) {
	f := NewFilter(2, epoch).SetDependencies(1)
	deps := f.Dependencies()
	deps[0] = 99
	if f.Dependencies()[0] != 1 {
		t.Fatalf("mutating returned deps must not affect the cell")
	}
}

func TestDescriptorsAreDefensiveCopies(t *testing.T) {
	depA := domain.CellID(7)
	layer := domain.NewLayer("L")
	layer.DependencyA = &depA
	d := NewDiff(3, epoch).WithDescriptor(domain.DiffDescriptor{Layers: []domain.Layer{layer}})
	depA = 8
	if got := *d.Descriptor().Layers[0].DependencyA; got != 7 {
		t.Fatalf("cell must not share the caller's descriptor, got depA=%d", got)
	}

	meta, err := d.Meta()
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	leaked := meta.Descriptor.(domain.DiffDescriptor)
	leaked.Layers[0].Offset = 99
	*leaked.Layers[0].DependencyA = 42

	desc := d.Descriptor()
	desc.Layers[0].Visible = false
	*desc.Layers[0].DependencyA = 43

	got := d.Descriptor().Layers[0]
	if got.Offset != domain.DefaultLayerOffset || !got.Visible || *got.DependencyA != 7 {
		t.Fatalf("mutating returned descriptors changed the cell: %+v depA=%d", got, *got.DependencyA)
	}
	if !slices.Equal(d.Dependencies(), []domain.CellID{7}) {
		t.Fatalf("dependencies changed: %v", d.Dependencies())
	}

	name, value := "county", "Albany"
	f := NewFilter(4, epoch).WithDescriptor(domain.FilterDescriptor{
		Source:        domain.PropertySourceTMCMetadata,
		PropertyName:  &name,
		PropertyValue: &value,
	}).SetDependencies(1)
	f = f.WithResolution(f.Descriptor(), []string{"120+04100"})
	fmeta, err := f.Meta()
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	*fmeta.Descriptor.(domain.FilterDescriptor).PropertyValue = "Elm St"
	last, _ := f.LastDescriptor()
	*last.PropertyName = "road"
	if *f.Descriptor().PropertyValue != "Albany" || *f.Descriptor().PropertyName != "county" {
		t.Fatalf("filter descriptor changed through a returned copy")
	}
	if f.IsStale() {
		t.Fatalf("resolution descriptor changed through a returned copy")
	}
}

func TestMetaRequiresReady(t *testing.T) {
	f := NewFilter(7, epoch)
	if _, err := f.Meta(); !errors.Is(err, domain.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState, got %v", err)
	}
	name, value := "county", "Albany"
	ready := f.WithDescriptor(domain.FilterDescriptor{
		Source:        domain.PropertySourceTMCMetadata,
		PropertyName:  &name,
		PropertyValue: &value,
	}).SetDependencies(1)
	meta, err := ready.Meta()
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.CellID != 7 || meta.CellType != domain.CellTypeFilter || !slices.Equal(meta.Dependencies, []domain.CellID{1}) {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestRecordAvailableWhenNotReady(t *testing.T) {
	rec := NewTraverse(9, epoch).Record()
	if rec.CellID != 9 || rec.Name != "Cell 9" || rec.CellType != domain.CellTypeTraverse {
		t.Fatalf("unexpected record %+v", rec)
	}
	if string(rec.Descriptor) != `{"direction":null,"distance":null}` {
		t.Fatalf("unexpected descriptor %s", rec.Descriptor)
	}
}

func TestFilterStaleness(t *testing.T) {
	name, value := "county", "Albany"
	desc := domain.FilterDescriptor{Source: domain.PropertySourceTMCMetadata, PropertyName: &name, PropertyValue: &value}
	f := NewFilter(2, epoch).WithDescriptor(desc)
	if !f.IsStale() {
		t.Fatalf("unresolved filter is stale")
	}
	if _, ok := f.TMCs(); ok {
		t.Fatalf("stale filter hides tmcs")
	}

	resolved := f.WithResolution(desc, []string{"120P04340", "120N04340"})
	if resolved.IsStale() {
		t.Fatalf("expected fresh after resolution")
	}
	tmcs, ok := resolved.TMCs()
	if !ok || len(tmcs) != 2 {
		t.Fatalf("expected cached tmcs, got %v", tmcs)
	}

	other := "Schenectady"
	edited := resolved.WithDescriptor(domain.FilterDescriptor{Source: desc.Source, PropertyName: &name, PropertyValue: &other})
	if !edited.IsStale() {
		t.Fatalf("descriptor change must mark stale")
	}
	if _, ok := edited.TMCs(); ok {
		t.Fatalf("stale filter hides tmcs")
	}
	last, ok := edited.LastDescriptor()
	if !ok || !last.Equal(desc) {
		t.Fatalf("last descriptor must survive edits")
	}
}

func TestSequence(t *testing.T) {
	seq := NewSequence(0)
	if seq.Next() != 1 || seq.Next() != 2 {
		t.Fatalf("expected increasing ids")
	}
	seq.Observe(10)
	seq.Observe(4)
	if seq.Next() != 11 || seq.Last() != 11 {
		t.Fatalf("observe must advance past hydrated ids")
	}
	if NewSequence(-5).Last() != 0 {
		t.Fatalf("negative high-water must clamp")
	}
}
