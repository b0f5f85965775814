// Package reconcile keeps a local cache consistent with an authoritative remote collection.
//
// A run takes a fetched batch and a Scope, the subset of cached records the batch is
// authoritative for. Inside one Store.Atomic unit the engine:
//
//  1. reads the cached keys in scope,
//  2. upserts every fetched record (replace by primary key, no dirty checking),
//  3. computes stale keys as cached-in-scope minus fetched,
//  4. walks the cascade Policy to a fixed point and deletes stale rows with their dependents.
//
// Records outside the scope are never touched, so a filtered refresh (one provider account,
// one date range) cannot wipe unrelated data. An empty batch empties the scope.
//
// # Pagination
//
// Remote collections are read through a Pager, either by offset/count or by continuation
// cursor. CollectAll gathers a complete sequence and discards everything on failure, which is
// required before a full-scope reconcile. ForEachPage suits page-local scopes.
//
// # Concurrency
//
// Engines sharing a Locker serialize on the entity type and every type reachable through the
// cascade graph. Locks are taken in sorted order.
//
// # Usage Example
//
//	engine, err := reconcile.NewEngine(reconcile.Collection[int64, Account]{
//	    Entity:      "accounts",
//	    Key:         func(a Account) int64 { return a.ID },
//	    ScopeFields: []string{"provider_account_id"},
//	}, deps)
//
//	fetched, err := reconcile.CollectAll(ctx, pager)
//	scope := engine.Scope().Where("provider_account_id", int64(50))
//	res, err := engine.Reconcile(ctx, scope, fetched)
package reconcile
