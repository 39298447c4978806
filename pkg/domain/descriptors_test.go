package domain

import (
	"encoding/json"
	"slices"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestDescriptorReadiness(t *testing.T) {
	cases := []struct {
		name  string
		ready bool
		got   bool
	}{
		{"year default", true, DefaultYearDescriptor().Ready()},
		{"year without map", false, YearDescriptor{Year: 2019}.Ready()},
		{"filter default", false, DefaultFilterDescriptor().Ready()},
		{"filter missing value", false, FilterDescriptor{Source: PropertySourceTMCMetadata, PropertyName: ptr("county")}.Ready()},
		{"filter empty value", false, FilterDescriptor{Source: PropertySourceTMCMetadata, PropertyName: ptr("county"), PropertyValue: ptr("")}.Ready()},
		{"filter complete", true, FilterDescriptor{Source: PropertySourceTMCMetadata, PropertyName: ptr("county"), PropertyValue: ptr("Albany")}.Ready()},
		{"traverse empty", false, TraverseDescriptor{}.Ready()},
		{"traverse zero distance", true, TraverseDescriptor{Direction: ptr(DirectionInbound), Distance: ptr(0.0)}.Ready()},
		{"diff no layers", false, DiffDescriptor{}.Ready()},
		{"diff empty layer", false, DiffDescriptor{Layers: []Layer{NewLayer("a")}}.Ready()},
		{"diff one side", true, DiffDescriptor{Layers: []Layer{{ID: "a", DependencyB: ptr(CellID(2))}}}.Ready()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.ready {
				t.Fatalf("ready = %v, want %v", tc.got, tc.ready)
			}
		})
	}
}

func TestDefaultYearIsLatestSupported(t *testing.T) {
	d := DefaultYearDescriptor()
	if d.Year != 2022 || d.Map != MapSourceNPMRDS {
		t.Fatalf("unexpected default %+v", d)
	}
	if ValidYear(2016) || !ValidYear(2017) {
		t.Fatalf("unexpected year validity")
	}
}

func TestDiffDependenciesFlattenUnique(t *testing.T) {
	d := DiffDescriptor{Layers: []Layer{
		{ID: "l1", DependencyA: ptr(CellID(3)), DependencyB: ptr(CellID(1))},
		{ID: "l2", DependencyA: ptr(CellID(1))},
		{ID: "l3", DependencyB: ptr(CellID(5))},
	}}
	got := d.Dependencies([]CellID{99})
	if !slices.Equal(got, []CellID{3, 1, 5}) {
		t.Fatalf("dependencies = %v", got)
	}
}

func TestDiffLayerOperationsCopyOnWrite(t *testing.T) {
	base := DiffDescriptor{}
	withA, added := base.WithLayer(NewLayer("a"))
	if !added || len(withA.Layers) != 1 || len(base.Layers) != 0 {
		t.Fatalf("expected append without mutating receiver")
	}
	again, added := withA.WithLayer(NewLayer("a"))
	if added || len(again.Layers) != 1 {
		t.Fatalf("duplicate layer id must be ignored")
	}

	updated, changed := withA.UpdateLayer("a", func(l *Layer) { l.Visible = false })
	if !changed || updated.Layers[0].Visible || !withA.Layers[0].Visible {
		t.Fatalf("expected copy-on-write visibility toggle")
	}
	if _, changed := updated.UpdateLayer("a", func(l *Layer) { l.Visible = false }); changed {
		t.Fatalf("no-op update must report unchanged")
	}
	if _, changed := updated.UpdateLayer("missing", func(l *Layer) { l.Offset = 4 }); changed {
		t.Fatalf("unknown layer must report unchanged")
	}
}

func TestFilterDescriptorEqual(t *testing.T) {
	a := FilterDescriptor{Source: PropertySourceTMCMetadata, PropertyName: ptr("county"), PropertyValue: ptr("Albany")}
	b := FilterDescriptor{Source: PropertySourceTMCMetadata, PropertyName: ptr("county"), PropertyValue: ptr("Albany")}
	if !a.Equal(b) {
		t.Fatalf("expected structural equality across pointers")
	}
	b.PropertyValue = nil
	if a.Equal(b) {
		t.Fatalf("expected inequality when value cleared")
	}
}

func TestDescriptorCloneSharesNoMemory(t *testing.T) {
	f := FilterDescriptor{Source: PropertySourceTMCMetadata, PropertyName: ptr("county"), PropertyValue: ptr("Albany")}
	fc := f.Clone()
	*fc.PropertyValue = "Elm St"
	if *f.PropertyValue != "Albany" || !fc.Equal(FilterDescriptor{Source: f.Source, PropertyName: ptr("county"), PropertyValue: ptr("Elm St")}) {
		t.Fatalf("filter clone shares property value")
	}

	tr := TraverseDescriptor{Direction: ptr(DirectionOutbound), Distance: ptr(2.5)}
	tc := tr.Clone()
	*tc.Distance = 9
	if *tr.Distance != 2.5 || !tr.Equal(TraverseDescriptor{Direction: ptr(DirectionOutbound), Distance: ptr(2.5)}) {
		t.Fatalf("traverse clone shares distance")
	}

	layer := NewLayer("L")
	layer.DependencyA = ptr(CellID(7))
	d := DiffDescriptor{Layers: []Layer{layer}}
	dc := d.Clone()
	dc.Layers[0].Offset = 99
	*dc.Layers[0].DependencyA = 42
	if d.Layers[0].Offset != DefaultLayerOffset || *d.Layers[0].DependencyA != 7 {
		t.Fatalf("diff clone shares layers: %+v", d.Layers[0])
	}
	if (DiffDescriptor{}).Clone().Layers != nil {
		t.Fatalf("empty diff clone must stay empty")
	}
}

func TestDescriptorJSONKeys(t *testing.T) {
	raw, err := json.Marshal(Layer{ID: "x", DependencyA: ptr(CellID(2)), Offset: 1, Visible: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"layer_id":"x","layer_dependency_id_a":2,"layer_dependency_id_b":null,"layer_offset":1,"layer_visible":true}`
	if string(raw) != want {
		t.Fatalf("got %s want %s", raw, want)
	}
	raw, _ = json.Marshal(DefaultFilterDescriptor())
	if string(raw) != `{"tmc_property_source":"tmc_metadata","property_name":null,"property_value":null}` {
		t.Fatalf("unexpected filter encoding %s", raw)
	}
}

func TestDependencyRef(t *testing.T) {
	ref := Real(7)
	if id, ok := ref.CellID(); !ok || id != 7 || ref.IsSynthetic() {
		t.Fatalf("unexpected real ref %v", ref)
	}
	if _, ok := ref.PseudoRootMeta(-1); ok {
		t.Fatalf("real refs have no pseudo root")
	}

	synth := SyntheticYearContext(2019)
	if year, ok := synth.Year(); !ok || year != 2019 {
		t.Fatalf("unexpected synthetic ref %v", synth)
	}
	meta, ok := synth.PseudoRootMeta(-1)
	if !ok {
		t.Fatalf("expected pseudo root")
	}
	if meta.CellID != -1 || meta.CellType != CellTypeYear || meta.Dependencies != nil {
		t.Fatalf("unexpected pseudo root %+v", meta)
	}
	if desc, _ := meta.Descriptor.(YearDescriptor); desc.Year != 2019 || desc.Map != MapSourceNPMRDS {
		t.Fatalf("unexpected pseudo root descriptor %+v", meta.Descriptor)
	}
	if !(DependencyRef{}).IsZero() || synth.String() != "year(2019)" || ref.String() != "cell(7)" {
		t.Fatalf("unexpected zero/string behaviour")
	}
}
