package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finsync/core/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Collection describes one cached entity type to the engine.
type Collection[K comparable, V any] struct {
	// Entity is the collection name, also used as the table name by stores.
	Entity EntityType

	// Key extracts the primary key of a record.
	Key func(V) K

	// ScopeFields lists the columns a scope may filter on (parent keys, dates).
	// Predicates on any other field are rejected with ErrInvalidScope.
	ScopeFields []string
}

// Deps are the collaborators shared by every engine of a process.
type Deps struct {
	Store    Store
	Policy   *Policy
	Locks    *Locker
	Notifier Notifier
	Metrics  *Metrics
	Logger   *zap.Logger
}

// Engine reconciles fetched batches of one collection against the local cache.
type Engine[K comparable, V any] struct {
	coll   Collection[K, V]
	deps   Deps
	fields map[string]struct{}
	locked []EntityType
}

// NewEngine validates the collection and fills optional dependencies with no-op defaults.
func NewEngine[K comparable, V any](coll Collection[K, V], deps Deps) (*Engine[K, V], error) {
	if coll.Entity == "" {
		return nil, errors.New("collection has no entity type")
	}
	if coll.Key == nil {
		return nil, fmt.Errorf("collection %s has no key extractor", coll.Entity)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("collection %s has no store", coll.Entity)
	}
	if deps.Locks == nil {
		deps.Locks = NewLocker()
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	fields := make(map[string]struct{}, len(coll.ScopeFields))
	for _, f := range coll.ScopeFields {
		fields[f] = struct{}{}
	}

	locked := append([]EntityType{coll.Entity}, deps.Policy.Reachable(coll.Entity)...)
	return &Engine[K, V]{coll: coll, deps: deps, fields: fields, locked: locked}, nil
}

// Entity returns the collection name.
func (e *Engine[K, V]) Entity() EntityType {
	return e.coll.Entity
}

// Scope returns the unfiltered scope of the collection, the starting point for narrower ones.
func (e *Engine[K, V]) Scope() Scope {
	return ScopeAll(e.coll.Entity)
}

// Plan computes the diff between cached keys and a fetched batch without touching storage.
func (e *Engine[K, V]) Plan(local []K, fetched []V) Plan[K, V] {
	return BuildPlan(e.coll.Key, local, fetched)
}

// DryRun reads the cached keys of scope and returns the plan a Reconcile would apply.
func (e *Engine[K, V]) DryRun(ctx context.Context, scope Scope, fetched []V) (Plan[K, V], error) {
	scope, err := e.checkScope(scope)
	if err != nil {
		return Plan[K, V]{}, err
	}

	var plan Plan[K, V]
	err = e.deps.Store.View(ctx, func(tx Tx) error {
		local, err := e.localKeys(ctx, tx, scope)
		if err != nil {
			return err
		}
		plan = e.Plan(local, fetched)
		return nil
	})
	return plan, storageError(e.coll.Entity, err)
}

// Reconcile makes the cached contents of scope equal to fetched. Every fetched record is
// upserted; cached records in scope that were not fetched are deleted together with their
// cascade dependents. The whole run is one atomic unit: on error nothing is retained.
//
// An empty fetched slice deletes everything in scope.
func (e *Engine[K, V]) Reconcile(ctx context.Context, scope Scope, fetched []V) (*Result[K], error) {
	scope, err := e.checkScope(scope)
	if err != nil {
		return nil, err
	}

	log := logger.WithRun(e.deps.Logger, uuid.NewString(), string(e.coll.Entity)).With(zap.Stringer("scope", scope))
	release := e.lock()
	defer release()

	start := time.Now()
	var res *Result[K]
	err = e.deps.Store.Atomic(ctx, func(tx Tx) error {
		local, err := e.localKeys(ctx, tx, scope)
		if err != nil {
			return err
		}

		plan := e.Plan(local, fetched)
		if err := e.upsert(ctx, tx, plan.Upsert); err != nil {
			return err
		}

		cascaded, err := e.deleteWithDependents(ctx, tx, keysToAny(plan.Stale))
		if err != nil {
			return err
		}

		res = &Result[K]{
			Entity:   e.coll.Entity,
			Scope:    scope.String(),
			Inserted: len(plan.Insert),
			Updated:  len(plan.Update),
			Deleted:  len(plan.Stale),
			Cascaded: cascaded,
			IDs:      plan.Keys(e.coll.Key),
		}
		return nil
	})
	if err != nil {
		e.deps.Metrics.observeFailure(e.coll.Entity)
		log.Warn("Reconcile rolled back", zap.Error(err))
		return nil, storageError(e.coll.Entity, err)
	}

	res.Duration = time.Since(start)
	e.deps.Metrics.observeSuccess(e.coll.Entity, res.Inserted, res.Updated, res.Deleted, res.Cascaded, res.Duration)
	log.Debug("Reconcile committed",
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("deleted", res.Deleted),
		zap.Any("cascaded", res.Cascaded),
		zap.Duration("duration", res.Duration))

	e.publish(ctx, log, scope, res.Cascaded)
	return res, nil
}

// Upsert writes local mutations (for example a user-edited transaction) without deleting anything.
func (e *Engine[K, V]) Upsert(ctx context.Context, records ...V) (*Result[K], error) {
	if len(records) == 0 {
		return &Result[K]{Entity: e.coll.Entity, Scope: string(e.coll.Entity)}, nil
	}

	release := e.lock()
	defer release()

	start := time.Now()
	plan := BuildPlan(e.coll.Key, nil, records)
	scope := ScopeIDs(e.coll.Entity, keysToAny(plan.Keys(e.coll.Key))...)

	var existing []K
	err := e.deps.Store.Atomic(ctx, func(tx Tx) error {
		var err error
		if existing, err = e.localKeys(ctx, tx, scope); err != nil {
			return err
		}
		return e.upsert(ctx, tx, plan.Upsert)
	})
	if err != nil {
		e.deps.Metrics.observeFailure(e.coll.Entity)
		return nil, storageError(e.coll.Entity, err)
	}

	res := &Result[K]{
		Entity:   e.coll.Entity,
		Scope:    scope.String(),
		Inserted: len(plan.Upsert) - len(existing),
		Updated:  len(existing),
		IDs:      plan.Keys(e.coll.Key),
		Duration: time.Since(start),
	}
	e.deps.Metrics.observeSuccess(e.coll.Entity, res.Inserted, res.Updated, 0, nil, res.Duration)
	e.publish(ctx, e.deps.Logger, scope, nil)
	return res, nil
}

// Delete removes the given records and every cascade dependent. Unknown ids are ignored.
func (e *Engine[K, V]) Delete(ctx context.Context, ids ...K) (*Result[K], error) {
	scope := ScopeIDs(e.coll.Entity, keysToAny(ids)...)
	if len(ids) == 0 {
		return &Result[K]{Entity: e.coll.Entity, Scope: scope.String()}, nil
	}

	release := e.lock()
	defer release()

	start := time.Now()
	var res *Result[K]
	err := e.deps.Store.Atomic(ctx, func(tx Tx) error {
		present, err := e.localKeys(ctx, tx, scope)
		if err != nil {
			return err
		}
		cascaded, err := e.deleteWithDependents(ctx, tx, keysToAny(present))
		if err != nil {
			return err
		}
		res = &Result[K]{
			Entity:   e.coll.Entity,
			Scope:    scope.String(),
			Deleted:  len(present),
			Cascaded: cascaded,
			IDs:      present,
		}
		return nil
	})
	if err != nil {
		e.deps.Metrics.observeFailure(e.coll.Entity)
		return nil, storageError(e.coll.Entity, err)
	}

	res.Duration = time.Since(start)
	e.deps.Metrics.observeSuccess(e.coll.Entity, 0, 0, res.Deleted, res.Cascaded, res.Duration)
	if res.Changed() {
		e.publish(ctx, e.deps.Logger, scope, res.Cascaded)
	}
	return res, nil
}

// checkScope fills in the entity type of an empty scope and rejects foreign or unknown fields.
func (e *Engine[K, V]) checkScope(scope Scope) (Scope, error) {
	if scope.Entity == "" {
		scope.Entity = e.coll.Entity
	}
	if scope.Entity != e.coll.Entity {
		return scope, fmt.Errorf("%w: %s scope passed to %s engine", ErrInvalidScope, scope.Entity, e.coll.Entity)
	}
	if err := scope.Validate(); err != nil {
		return scope, err
	}
	for _, f := range scope.Fields() {
		if _, ok := e.fields[f]; !ok {
			return scope, fmt.Errorf("%w: %s cannot be scoped by %q", ErrInvalidScope, e.coll.Entity, f)
		}
	}
	return scope, nil
}

func (e *Engine[K, V]) lock() func() {
	start := time.Now()
	release := e.deps.Locks.Lock(e.locked...)
	e.deps.Metrics.observeLockWait(e.coll.Entity, time.Since(start))
	return release
}

func (e *Engine[K, V]) localKeys(ctx context.Context, tx Tx, scope Scope) ([]K, error) {
	raw, err := tx.IDsInScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	return normalizeKeys[K](raw)
}

func (e *Engine[K, V]) upsert(ctx context.Context, tx Tx, records []V) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]Row, len(records))
	for i, rec := range records {
		rows[i] = Row{Key: e.coll.Key(rec), Value: rec}
	}
	return tx.Upsert(ctx, e.coll.Entity, rows)
}

// deleteWithDependents removes ids and their transitive dependents, deepest level first,
// so no child row ever outlives its parent inside the unit.
func (e *Engine[K, V]) deleteWithDependents(ctx context.Context, tx Tx, ids []any) (map[EntityType]int, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	levels, err := e.deps.Policy.Walk(ctx, tx, e.coll.Entity, ids)
	if err != nil {
		return nil, err
	}

	var cascaded map[EntityType]int
	for i := len(levels) - 1; i >= 0; i-- {
		lvl := levels[i]
		if err := tx.Delete(ctx, lvl.Entity, lvl.IDs); err != nil {
			return nil, err
		}
		if cascaded == nil {
			cascaded = make(map[EntityType]int)
		}
		cascaded[lvl.Entity] += len(lvl.IDs)
	}

	if err := tx.Delete(ctx, e.coll.Entity, ids); err != nil {
		return nil, err
	}
	return cascaded, nil
}

// publish emits one change for the reconciled scope and one per cascaded collection.
// The unit is already committed, so notifier failures are logged rather than returned.
func (e *Engine[K, V]) publish(ctx context.Context, log *zap.Logger, scope Scope, cascaded map[EntityType]int) {
	now := time.Now().UTC()
	changes := []Change{{Entity: e.coll.Entity, Scope: scope.String(), At: now}}
	for _, child := range e.deps.Policy.Reachable(e.coll.Entity) {
		if cascaded[child] > 0 {
			changes = append(changes, Change{Entity: child, Scope: string(child), At: now})
		}
	}
	for _, c := range changes {
		if err := e.deps.Notifier.Notify(ctx, c); err != nil {
			log.Warn("Failed to publish cache change", zap.String("changed", string(c.Entity)), zap.Error(err))
		}
	}
}
