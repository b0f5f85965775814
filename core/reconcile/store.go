package reconcile

import "context"

// Row pairs a record with its primary key so stores never need to know the record type.
type Row struct {
	Key   any
	Value any
}

// Tx exposes the primitive operations the engine issues inside one atomic unit.
// Keys cross this boundary untyped; the engine normalizes them back to its key type.
type Tx interface {
	// IDsInScope returns the primary keys of every cached record matching scope.
	IDsInScope(ctx context.Context, scope Scope) ([]any, error)

	// Values returns the distinct non-null values of field across records matching scope.
	Values(ctx context.Context, scope Scope, field string) ([]any, error)

	// Upsert writes rows with replace semantics keyed by primary key.
	Upsert(ctx context.Context, entity EntityType, rows []Row) error

	// Delete removes the records with the given primary keys. Missing keys are ignored.
	Delete(ctx context.Context, entity EntityType, ids []any) error

	// ChildIDs returns the primary keys of child records whose parentField is one of parentIDs.
	ChildIDs(ctx context.Context, child EntityType, parentField string, parentIDs []any) ([]any, error)

	// Clear removes every record of the entity type.
	Clear(ctx context.Context, entity EntityType) error
}

// Store is the local cache. Atomic runs fn as a single all-or-nothing unit: if fn returns
// an error nothing it wrote is retained. View runs fn against a consistent read snapshot;
// writes attempted through a View transaction are rejected.
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Reader loads full records for callers that render or export the cache.
type Reader interface {
	// Find appends every record matching scope to dest, which must point to a slice of the
	// registered model type.
	Find(ctx context.Context, scope Scope, dest any) error
}
