// Package notebook orchestrates a registry of cells against the resolution
// service: it builds request chains, records resolved TMCs on filter cells and
// assembles diff-layer feature collections.
package notebook

import (
	"context"
	"errors"
	"fmt"
	"tmcnotebook/internal/cell"
	"tmcnotebook/internal/core"
	"tmcnotebook/internal/resolution"
	"tmcnotebook/pkg/domain"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrSuperseded is returned when a newer resolution for the same cell started
// while a request was in flight. The stale result is discarded.
var ErrSuperseded = errors.New("resolution superseded by a newer request")

// Resolver is the subset of the resolution client the session calls.
type Resolver interface {
	TMCs(ctx context.Context, req domain.ChainRequest) ([]string, error)
	CrossYearDescription(ctx context.Context, tmc string, yearA, yearB int) (resolution.CrossYearDescription, error)
}

// FeatureSource returns geometry for TMCs of one year, typically the
// geometry cache.
type FeatureSource interface {
	Features(ctx context.Context, year int, tmcs []string) ([]domain.Feature, error)
}

// Session is safe for concurrent use.
type Session struct {
	registry    *core.Registry
	resolver    Resolver
	features    FeatureSource
	tracker     *resolution.Tracker
	logger      core.Logger
	newLayerID  func() string
	unsubscribe func()
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger core.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLayerIDs overrides layer id generation.
func WithLayerIDs(gen func() string) Option {
	return func(s *Session) {
		if gen != nil {
			s.newLayerID = gen
		}
	}
}

// WithTracker shares a request tracker between sessions.
func WithTracker(t *resolution.Tracker) Option {
	return func(s *Session) {
		if t != nil {
			s.tracker = t
		}
	}
}

// NewSession binds a registry to its collaborators. Close releases the
// registry subscription.
func NewSession(reg *core.Registry, resolver Resolver, features FeatureSource, opts ...Option) *Session {
	s := &Session{
		registry:   reg,
		resolver:   resolver,
		features:   features,
		tracker:    resolution.NewTracker(),
		logger:     core.NoopLogger(),
		newLayerID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubscribe = reg.Subscribe(func(changes []core.Change) {
		for _, ch := range changes {
			if ch.Action == domain.ChangeDelete {
				s.tracker.Forget(ch.CellID)
			}
		}
	})
	return s
}

// Close detaches the session from its registry.
func (s *Session) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Registry returns the underlying registry.
func (s *Session) Registry() *core.Registry { return s.registry }

// ResolveTMCs sends the request chain of cell id to the resolution service.
// When the cell is a filter the result is recorded on it together with the
// descriptor the request was built from. Failures leave the registry
// untouched; a result overtaken by a newer request for the same cell is
// dropped with ErrSuperseded.
func (s *Session) ResolveTMCs(ctx context.Context, id domain.CellID, fallback domain.DependencyRef) ([]string, error) {
	req, err := s.registry.RequestChain(id, fallback)
	if err != nil {
		return nil, err
	}
	seq := s.tracker.Begin(id)
	tmcs, err := s.resolver.TMCs(ctx, req)
	if err != nil {
		return nil, err
	}
	if !s.tracker.IsCurrent(id, seq) {
		s.logger.Debug("discarding superseded resolution", "cell_id", id, "request", seq)
		return nil, fmt.Errorf("cell %d: %w", id, ErrSuperseded)
	}
	own := req.DependencyCellsMeta[len(req.DependencyCellsMeta)-1]
	if desc, ok := own.Descriptor.(domain.FilterDescriptor); ok {
		action := domain.Action{Type: domain.ActionSetTMCs, Payload: domain.TMCsPayload{Descriptor: desc, TMCs: tmcs}}
		if _, _, err := s.registry.Dispatch(ctx, id, action); err != nil {
			return nil, fmt.Errorf("record tmcs on cell %d: %w", id, err)
		}
	}
	return tmcs, nil
}

// CachedTMCs returns the TMCs last recorded on filter cell id, or false when
// the cell is not a filter or its descriptor changed since.
func (s *Session) CachedTMCs(id domain.CellID) ([]string, bool) {
	c, ok := s.registry.Get(id)
	if !ok {
		return nil, false
	}
	f, ok := c.(cell.Filter)
	if !ok {
		return nil, false
	}
	return f.TMCs()
}

// AddLayer appends a fresh layer to diff cell id and returns its id.
func (s *Session) AddLayer(ctx context.Context, id domain.CellID) (string, error) {
	c, ok := s.registry.Get(id)
	if !ok {
		return "", fmt.Errorf("add layer to cell %d: %w", id, domain.ErrNotFound)
	}
	if c.Type() != domain.CellTypeDiff {
		return "", fmt.Errorf("add layer to cell %d: %s has no layers", id, c.Type())
	}
	layerID := s.newLayerID()
	if _, _, err := s.registry.Dispatch(ctx, id, domain.Action{Type: domain.ActionAddLayer, Payload: layerID}); err != nil {
		return "", err
	}
	return layerID, nil
}

// SetLayerDependencies points both sides of a layer at the given cells in one
// atomic update. Nil clears a side.
func (s *Session) SetLayerDependencies(ctx context.Context, id domain.CellID, layerID string, a, b *domain.CellID) error {
	if _, err := s.layer(id, layerID); err != nil {
		return err
	}
	_, err := s.registry.RunInTransaction(ctx, func(tx core.Transaction) error {
		if _, err := tx.Dispatch(id, domain.Action{Type: domain.ActionSetLayerDependencyA, Payload: domain.LayerDependencyPayload{LayerID: layerID, CellID: a}}); err != nil {
			return err
		}
		_, err := tx.Dispatch(id, domain.Action{Type: domain.ActionSetLayerDependencyB, Payload: domain.LayerDependencyPayload{LayerID: layerID, CellID: b}})
		return err
	})
	return err
}

// LayerYears returns the year of each side of a layer, taken from the oldest
// ancestor of the side's chain. A nil year means the side is unassigned.
func (s *Session) LayerYears(id domain.CellID, layerID string) (yearA, yearB *int, err error) {
	layer, err := s.layer(id, layerID)
	if err != nil {
		return nil, nil, err
	}
	if yearA, err = s.sideYear(layer.DependencyA); err != nil {
		return nil, nil, err
	}
	if yearB, err = s.sideYear(layer.DependencyB); err != nil {
		return nil, nil, err
	}
	return yearA, yearB, nil
}

func (s *Session) sideYear(dep *domain.CellID) (*int, error) {
	if dep == nil {
		return nil, nil
	}
	req, err := s.registry.RequestChain(*dep, domain.DependencyRef{})
	if err != nil {
		return nil, err
	}
	year, ok := core.ChainYear(req.DependencyCellsMeta)
	if !ok {
		return nil, fmt.Errorf("cell %d has no year in its chain: %w", *dep, domain.ErrIllegalState)
	}
	return &year, nil
}

// LayerFeatures holds the resolved geometry of both sides of a diff layer.
// A side that is unassigned stays nil.
type LayerFeatures struct {
	A         *domain.FeatureCollection
	B         *domain.FeatureCollection
	Partition LayerPartition
}

// LayerPartition splits the TMCs of a layer by side. Each list keeps the
// order in which the TMC first appears on its side.
type LayerPartition struct {
	Both  []string `json:"a_and_b"`
	OnlyA []string `json:"a_only"`
	OnlyB []string `json:"b_only"`
}

// PartitionLayer computes the intersection and both differences of the TMCs
// carried by a and b. A nil side contributes no TMCs.
func PartitionLayer(a, b *domain.FeatureCollection) LayerPartition {
	aTMCs, bTMCs := collectionTMCs(a), collectionTMCs(b)
	inB := make(map[string]struct{}, len(bTMCs))
	for _, tmc := range bTMCs {
		inB[tmc] = struct{}{}
	}
	inA := make(map[string]struct{}, len(aTMCs))
	var p LayerPartition
	for _, tmc := range aTMCs {
		inA[tmc] = struct{}{}
		if _, ok := inB[tmc]; ok {
			p.Both = append(p.Both, tmc)
		} else {
			p.OnlyA = append(p.OnlyA, tmc)
		}
	}
	for _, tmc := range bTMCs {
		if _, ok := inA[tmc]; !ok {
			p.OnlyB = append(p.OnlyB, tmc)
		}
	}
	return p
}

func collectionTMCs(fc *domain.FeatureCollection) []string {
	if fc == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(fc.Features))
	out := make([]string, 0, len(fc.Features))
	for _, f := range fc.Features {
		tmc := f.TMC()
		if tmc == "" {
			continue
		}
		if _, dup := seen[tmc]; dup {
			continue
		}
		seen[tmc] = struct{}{}
		out = append(out, tmc)
	}
	return out
}

// LayerFeatures resolves both sides of a layer concurrently: each side's chain
// is sent to the resolution service and the resulting TMCs are looked up in
// the feature source for the chain's year. The result carries the partition
// of the two sides' TMCs.
func (s *Session) LayerFeatures(ctx context.Context, id domain.CellID, layerID string, fallback domain.DependencyRef) (LayerFeatures, error) {
	layer, err := s.layer(id, layerID)
	if err != nil {
		return LayerFeatures{}, err
	}
	var out LayerFeatures
	g, gctx := errgroup.WithContext(ctx)
	for _, side := range []struct {
		dep *domain.CellID
		dst **domain.FeatureCollection
	}{{layer.DependencyA, &out.A}, {layer.DependencyB, &out.B}} {
		if side.dep == nil {
			continue
		}
		g.Go(func() error {
			fc, err := s.sideFeatures(gctx, *side.dep, fallback)
			if err != nil {
				return err
			}
			*side.dst = &fc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return LayerFeatures{}, err
	}
	out.Partition = PartitionLayer(out.A, out.B)
	return out, nil
}

func (s *Session) sideFeatures(ctx context.Context, dep domain.CellID, fallback domain.DependencyRef) (domain.FeatureCollection, error) {
	req, err := s.registry.RequestChain(dep, fallback)
	if err != nil {
		return domain.FeatureCollection{}, err
	}
	year, ok := core.ChainYear(req.DependencyCellsMeta)
	if !ok {
		return domain.FeatureCollection{}, fmt.Errorf("cell %d has no year in its chain: %w", dep, domain.ErrIllegalState)
	}
	tmcs, err := s.resolver.TMCs(ctx, req)
	if err != nil {
		return domain.FeatureCollection{}, err
	}
	features, err := s.features.Features(ctx, year, tmcs)
	if err != nil {
		return domain.FeatureCollection{}, err
	}
	return domain.NewFeatureCollection(features), nil
}

// CrossYear describes tmc across the two years of a layer. Both sides must be
// assigned.
func (s *Session) CrossYear(ctx context.Context, id domain.CellID, layerID, tmc string) (resolution.CrossYearDescription, error) {
	yearA, yearB, err := s.LayerYears(id, layerID)
	if err != nil {
		return resolution.CrossYearDescription{}, err
	}
	if yearA == nil || yearB == nil {
		return resolution.CrossYearDescription{}, fmt.Errorf("layer %s of cell %d has an unassigned side: %w", layerID, id, domain.ErrIllegalState)
	}
	return s.resolver.CrossYearDescription(ctx, tmc, *yearA, *yearB)
}

// DependencyCandidates lists the map cells cell id may depend on.
func (s *Session) DependencyCandidates(id domain.CellID) []cell.Cell {
	return s.registry.Candidates(id, core.IsMapCell)
}

func (s *Session) layer(id domain.CellID, layerID string) (domain.Layer, error) {
	c, ok := s.registry.Get(id)
	if !ok {
		return domain.Layer{}, fmt.Errorf("cell %d: %w", id, domain.ErrNotFound)
	}
	diff, ok := c.(cell.Diff)
	if !ok {
		return domain.Layer{}, fmt.Errorf("cell %d is a %s, not a %s", id, c.Type(), domain.CellTypeDiff)
	}
	layer, ok := diff.Descriptor().Layer(layerID)
	if !ok {
		return domain.Layer{}, fmt.Errorf("layer %s of cell %d: %w", layerID, id, domain.ErrNotFound)
	}
	return layer, nil
}
