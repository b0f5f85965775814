package reconcile

import (
	"context"
	"time"
)

// SetReconciler reconciles a collection keyed by name rather than by numeric id, such as
// user tags. Names are compared exactly; callers normalise case before calling if needed.
// Rows already cached are left as they are; only new names are inserted.
type SetReconciler[V any] struct {
	engine *Engine[string, V]
	make   func(name string, scope Scope) V
}

// NewSetReconciler builds a name-keyed reconciler. newRecord turns a fetched name into the
// row to insert and may copy owner columns from the scope.
func NewSetReconciler[V any](coll Collection[string, V], deps Deps, newRecord func(name string, scope Scope) V) (*SetReconciler[V], error) {
	engine, err := NewEngine(coll, deps)
	if err != nil {
		return nil, err
	}
	return &SetReconciler[V]{engine: engine, make: newRecord}, nil
}

// Engine exposes the underlying engine for explicit upserts and deletes.
func (s *SetReconciler[V]) Engine() *Engine[string, V] {
	return s.engine
}

// Reconcile makes the cached names of scope equal to names.
func (s *SetReconciler[V]) Reconcile(ctx context.Context, scope Scope, names []string) (*Result[string], error) {
	e := s.engine
	scope, err := e.checkScope(scope)
	if err != nil {
		return nil, err
	}

	release := e.lock()
	defer release()

	start := time.Now()
	var res *Result[string]
	err = e.deps.Store.Atomic(ctx, func(tx Tx) error {
		local, err := e.localKeys(ctx, tx, scope)
		if err != nil {
			return err
		}

		cached := make(map[string]struct{}, len(local))
		for _, name := range local {
			cached[name] = struct{}{}
		}

		wanted := make(map[string]struct{}, len(names))
		var fresh []V
		var ids []string
		for _, name := range names {
			if _, dup := wanted[name]; dup {
				continue
			}
			wanted[name] = struct{}{}
			ids = append(ids, name)
			if _, ok := cached[name]; !ok {
				fresh = append(fresh, s.make(name, scope))
			}
		}

		var stale []any
		for _, name := range local {
			if _, ok := wanted[name]; !ok {
				stale = append(stale, name)
			}
		}

		if err := e.upsert(ctx, tx, fresh); err != nil {
			return err
		}
		cascaded, err := e.deleteWithDependents(ctx, tx, stale)
		if err != nil {
			return err
		}

		res = &Result[string]{
			Entity:   e.coll.Entity,
			Scope:    scope.String(),
			Inserted: len(fresh),
			Deleted:  len(stale),
			Cascaded: cascaded,
			IDs:      ids,
		}
		return nil
	})
	if err != nil {
		e.deps.Metrics.observeFailure(e.coll.Entity)
		return nil, storageError(e.coll.Entity, err)
	}

	res.Duration = time.Since(start)
	e.deps.Metrics.observeSuccess(e.coll.Entity, res.Inserted, 0, res.Deleted, res.Cascaded, res.Duration)
	if res.Changed() {
		e.publish(ctx, e.deps.Logger, scope, res.Cascaded)
	}
	return res, nil
}
