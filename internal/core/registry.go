// Package core hosts the cell registry, its rules engine and the
// dependency-chain resolver.
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"tmcnotebook/internal/cell"
	"tmcnotebook/pkg/domain"
)

// Clock provides the time stamped onto cell mutations.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Listener observes the changes of each committed transaction.
type Listener func(changes []Change)

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the registry clock.
func WithClock(clock Clock) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the recorder receiving per-operation outcomes.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(r *Registry) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// WithTracer sets the tracer wrapping registry operations.
func WithTracer(tracer Tracer) Option {
	return func(r *Registry) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithRulesEngine replaces the default graph rules.
func WithRulesEngine(engine *RulesEngine) Option {
	return func(r *Registry) {
		if engine != nil {
			r.engine = engine
		}
	}
}

// WithRecordStore makes every commit durable in store before it becomes
// visible.
func WithRecordStore(store domain.RecordStore) Option {
	return func(r *Registry) {
		r.store = store
	}
}

// Registry is the single source of truth mapping cell ids to their current
// value. All writes go through RunInTransaction and are serialized; readers
// always observe a committed state.
type Registry struct {
	mu       sync.RWMutex
	notifyMu sync.Mutex
	state    registryState

	engine  *RulesEngine
	store   domain.RecordStore
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer

	listenersMu  sync.Mutex
	listeners    []subscription
	nextListener int
}

type subscription struct {
	id int
	fn Listener
}

// NewRegistry constructs an empty registry with the default rules engine.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		state:   newRegistryState(),
		engine:  NewDefaultRulesEngine(),
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open loads the persisted snapshot from store and returns a registry
// writing through to it. Loaded records are hydrated as-is; run ValidateGraph
// to check them.
func Open(ctx context.Context, store domain.RecordStore, opts ...Option) (*Registry, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	state, err := stateFromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	r := NewRegistry(append(opts, WithRecordStore(store))...)
	r.state = state
	r.logger.Info("registry loaded", "cells", len(state.cells), "sequence", int64(state.seq.Last()))
	return r, nil
}

func stateFromSnapshot(snap domain.Snapshot) (registryState, error) {
	state := newRegistryState()
	state.seq = cell.NewSequence(snap.Sequence)
	for _, rec := range snap.Records {
		c, err := cell.Hydrate(rec)
		if err != nil {
			return registryState{}, err
		}
		if _, dup := state.cells[c.ID()]; dup {
			return registryState{}, fmt.Errorf("hydrate: duplicate cell id %d", c.ID())
		}
		state.cells[c.ID()] = c
		state.seq.Observe(c.ID())
	}
	return state, nil
}

// RunInTransaction executes fn against a copy of the registry state. The
// copy is committed only when fn succeeds, no rule blocks and the record
// store accepts the changes.
func (r *Registry) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (domain.Result, error) {
	return r.run(ctx, "transaction", func(tx *transaction) error { return fn(tx) })
}

func (r *Registry) run(ctx context.Context, op string, fn func(tx *transaction) error) (res domain.Result, err error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, op)
	defer func() {
		span.End(err)
		r.metrics.Observe(ctx, op, err == nil, time.Since(start))
		if err != nil {
			r.logger.Error("registry operation failed", "operation", op, "error", err)
		}
	}()

	r.mu.Lock()
	locked := true
	defer func() {
		if locked {
			r.mu.Unlock()
		}
	}()

	tx := &transaction{state: r.state.clone(), now: r.clock.Now()}
	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}
	if len(tx.changes) == 0 && tx.state.seq == r.state.seq {
		return domain.Result{}, nil
	}

	view := newTransactionView(&tx.state)
	res, err = r.engine.Evaluate(ctx, view, tx.changes)
	if err != nil {
		return domain.Result{}, err
	}
	if res.HasBlocking() {
		return res, domain.RuleViolationError{Result: res}
	}
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityWarn {
			r.logger.Warn("rule violation", "rule", v.Rule, "cell", int64(v.CellID), "message", v.Message)
		} else if v.Severity == domain.SeverityLog {
			r.logger.Debug("rule note", "rule", v.Rule, "cell", int64(v.CellID), "message", v.Message)
		}
	}

	if r.store != nil {
		records := collapseChanges(r.state, tx.state, tx.changes)
		if len(records) > 0 || tx.state.seq != r.state.seq {
			if err := r.store.Apply(ctx, tx.state.seq.Last(), records); err != nil {
				return res, fmt.Errorf("persist %s: %w", op, err)
			}
		}
	}

	r.state = tx.state
	r.logger.Debug("registry committed", "operation", op, "changes", len(tx.changes))

	// Hand over to the notification lock before releasing the state lock so
	// listeners see commits in order and may read the registry.
	r.notifyMu.Lock()
	r.mu.Unlock()
	locked = false
	defer r.notifyMu.Unlock()
	if len(tx.changes) > 0 {
		r.notify(tx.changes)
	}
	return res, nil
}

// collapseChanges reduces a transaction to its net effect per cell, ordered
// by id.
func collapseChanges(before, after registryState, changes []Change) []domain.RecordChange {
	touched := make(map[domain.CellID]struct{}, len(changes))
	for _, ch := range changes {
		touched[ch.CellID] = struct{}{}
	}
	ids := make([]domain.CellID, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]domain.RecordChange, 0, len(ids))
	for _, id := range ids {
		prev, hadPrev := before.cells[id]
		next, hasNext := after.cells[id]
		switch {
		case !hadPrev && !hasNext:
			continue
		case !hasNext:
			out = append(out, domain.RecordChange{Action: domain.ChangeDelete, CellID: id})
		case cell.Same(prev, next):
			continue
		default:
			action := domain.ChangeUpdate
			if !hadPrev {
				action = domain.ChangeCreate
			}
			rec := next.Record()
			out = append(out, domain.RecordChange{Action: action, CellID: id, Record: &rec})
		}
	}
	return out
}

func (r *Registry) notify(changes []Change) {
	r.listenersMu.Lock()
	subs := make([]subscription, len(r.listeners))
	copy(subs, r.listeners)
	r.listenersMu.Unlock()
	for _, sub := range subs {
		sub.fn(changes)
	}
}

// Subscribe registers fn to run after every commit, in commit order, before
// the committing call returns. Listeners may read the registry but must not
// write to it synchronously. The returned function unsubscribes.
func (r *Registry) Subscribe(fn Listener) func() {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.nextListener++
	id := r.nextListener
	r.listeners = append(r.listeners, subscription{id: id, fn: fn})
	return func() {
		r.listenersMu.Lock()
		defer r.listenersMu.Unlock()
		for i, sub := range r.listeners {
			if sub.id == id {
				r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
				return
			}
		}
	}
}

// View executes fn against the committed state. Committed maps are never
// mutated, so no copy is taken.
func (r *Registry) View(_ context.Context, fn func(TransactionView) error) error {
	r.mu.RLock()
	state := r.state
	r.mu.RUnlock()
	return fn(newTransactionView(&state))
}

// Create constructs a cell of the given type with the next sequence id.
func (r *Registry) Create(ctx context.Context, cellType domain.CellType, name string) (cell.Cell, domain.Result, error) {
	var created cell.Cell
	res, err := r.run(ctx, "create", func(tx *transaction) error {
		var err error
		created, err = tx.Create(cellType, name)
		return err
	})
	if err != nil {
		return nil, res, err
	}
	return created, res, nil
}

// Update replaces or inserts the entry for c.ID().
func (r *Registry) Update(ctx context.Context, c cell.Cell) (domain.Result, error) {
	return r.run(ctx, "update", func(tx *transaction) error {
		return tx.Put(c)
	})
}

// BatchUpdate applies every cell as one unit: either all writes commit or
// none do.
func (r *Registry) BatchUpdate(ctx context.Context, cells ...cell.Cell) (domain.Result, error) {
	return r.run(ctx, "batch_update", func(tx *transaction) error {
		for _, c := range cells {
			if err := tx.Put(c); err != nil {
				return err
			}
		}
		return nil
	})
}

// Dispatch reduces action against the current value of id and stores the
// result.
func (r *Registry) Dispatch(ctx context.Context, id domain.CellID, action domain.Action) (cell.Cell, domain.Result, error) {
	var next cell.Cell
	res, err := r.run(ctx, "dispatch", func(tx *transaction) error {
		var err error
		next, err = tx.Dispatch(id, action)
		return err
	})
	if err != nil {
		return nil, res, err
	}
	return next, res, nil
}

// Remove deletes a cell. Dependents keep their reference and become dangling.
func (r *Registry) Remove(ctx context.Context, id domain.CellID) (domain.Result, error) {
	return r.run(ctx, "remove", func(tx *transaction) error {
		return tx.Delete(id)
	})
}

// Get returns the current value of a cell.
func (r *Registry) Get(id domain.CellID) (cell.Cell, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.state.cells[id]
	return c, ok
}

// Values returns every cell ordered by id.
func (r *Registry) Values() []cell.Cell {
	r.mu.RLock()
	state := r.state
	r.mu.RUnlock()
	return newTransactionView(&state).Values()
}

// Len returns the number of registered cells.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.state.cells)
}

// IsMapCell reports whether c produces a road-network map another cell can
// depend on.
func IsMapCell(c cell.Cell) bool {
	return c.Type() != domain.CellTypeDiff
}

// Candidates lists the cells id may take as a dependency: accepted by
// accept, not id itself, not a direct dependent of id and not closing a
// cycle through longer paths. The result is ordered by id.
func (r *Registry) Candidates(id domain.CellID, accept func(cell.Cell) bool) []cell.Cell {
	var out []cell.Cell
	_ = r.View(context.Background(), func(view TransactionView) error {
		for _, c := range view.Values() {
			if c.ID() == id || (accept != nil && !accept(c)) {
				continue
			}
			if dependsOn(c, id) {
				continue
			}
			if _, cyclic := WouldCreateCycle(view, id, []domain.CellID{c.ID()}); cyclic {
				continue
			}
			out = append(out, c)
		}
		return nil
	})
	return out
}

// Chain returns the dependency chain of id against the committed state.
func (r *Registry) Chain(id domain.CellID) ([]domain.Meta, error) {
	var chain []domain.Meta
	err := r.View(context.Background(), func(view TransactionView) error {
		var err error
		chain, err = DependencyChain(view, id)
		return err
	})
	return chain, err
}

// RequestChain builds the resolution payload for id against the committed
// state.
func (r *Registry) RequestChain(id domain.CellID, fallback domain.DependencyRef) (domain.ChainRequest, error) {
	var req domain.ChainRequest
	err := r.View(context.Background(), func(view TransactionView) error {
		var err error
		req, err = RequestChain(view, id, fallback)
		return err
	})
	return req, err
}

// Validate runs ValidateGraph over the committed state.
func (r *Registry) Validate() error {
	return r.View(context.Background(), func(view TransactionView) error {
		return ValidateGraph(view)
	})
}

// Audit evaluates every rule against the committed state as if each cell had
// just been created, then runs ValidateGraph. The returned result carries all
// violations; err is a RuleViolationError when any of them block.
func (r *Registry) Audit(ctx context.Context) (domain.Result, error) {
	r.mu.RLock()
	state := r.state
	r.mu.RUnlock()
	view := newTransactionView(&state)
	cells := view.Values()
	changes := make([]Change, 0, len(cells))
	for _, c := range cells {
		changes = append(changes, Change{Action: domain.ChangeCreate, CellID: c.ID(), After: c})
	}
	res, err := r.engine.Evaluate(ctx, view, changes)
	if err != nil {
		return domain.Result{}, err
	}
	if res.HasBlocking() {
		return res, domain.RuleViolationError{Result: res}
	}
	return res, ValidateGraph(view)
}

// Snapshot returns the persisted form of every cell plus the sequence
// high-water mark.
func (r *Registry) Snapshot() domain.Snapshot {
	r.mu.RLock()
	state := r.state
	r.mu.RUnlock()
	snap := domain.Snapshot{Sequence: state.seq.Last()}
	for _, c := range newTransactionView(&state).Values() {
		snap.Records = append(snap.Records, c.Record())
	}
	return snap
}

// Restore replaces the registry contents with snap in one transaction. The
// restored graph passes through the rules like any other write.
func (r *Registry) Restore(ctx context.Context, snap domain.Snapshot) (domain.Result, error) {
	restored, err := stateFromSnapshot(snap)
	if err != nil {
		return domain.Result{}, err
	}
	return r.run(ctx, "restore", func(tx *transaction) error {
		for _, id := range sortedIDs(tx.state.cells) {
			if next, ok := restored.cells[id]; ok {
				if err := tx.replace(next); err != nil {
					return err
				}
				continue
			}
			if err := tx.Delete(id); err != nil {
				return err
			}
		}
		for _, id := range sortedIDs(restored.cells) {
			if _, ok := tx.state.cells[id]; ok {
				continue
			}
			if err := tx.Put(restored.cells[id]); err != nil {
				return err
			}
		}
		tx.state.seq.Observe(restored.seq.Last())
		return nil
	})
}

func sortedIDs(cells map[domain.CellID]cell.Cell) []domain.CellID {
	ids := make([]domain.CellID, 0, len(cells))
	for id := range cells {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
