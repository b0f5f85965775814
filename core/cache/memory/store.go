package memory

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"finsync/core/reconcile"
	"finsync/core/utils"

	"gorm.io/gorm/schema"
)

// ErrReadOnly is returned by writes issued through a View transaction.
var ErrReadOnly = errors.New("read-only transaction")

type table struct {
	schema *schema.Schema
	rows   map[string]reconcile.Row
}

func (t *table) clone() *table {
	rows := make(map[string]reconcile.Row, len(t.rows))
	for k, r := range t.rows {
		rows[k] = r
	}
	return &table{schema: t.schema, rows: rows}
}

// Store is an in-memory reconcile.Store. Atomic units run against a copy of the tables
// that replaces the live set only when fn succeeds.
type Store struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	tables  map[reconcile.EntityType]*table
	cache   sync.Map

	faultMu sync.Mutex
	faults  map[fault]error
}

type fault struct {
	op     string
	entity reconcile.EntityType
}

// Fault operation names for FailOn.
const (
	OpUpsert   = "upsert"
	OpDelete   = "delete"
	OpIDs      = "ids"
	OpChildIDs = "child_ids"
)

// New creates an empty store.
func New() *Store {
	return &Store{
		tables: make(map[reconcile.EntityType]*table),
		faults: make(map[fault]error),
	}
}

// Register declares an entity type and the model struct its rows use. Column names follow
// gorm naming so scopes behave the same as against the SQL store.
func (s *Store) Register(entity reconcile.EntityType, model any) error {
	sch, err := schema.Parse(model, &s.cache, schema.NamingStrategy{})
	if err != nil {
		return fmt.Errorf("parse model for %s: %w", entity, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[entity]; !ok {
		s.tables[entity] = &table{schema: sch, rows: make(map[string]reconcile.Row)}
	}
	return nil
}

// FailOn makes the next matching operation return err. A nil err clears the fault.
func (s *Store) FailOn(op string, entity reconcile.EntityType, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err == nil {
		delete(s.faults, fault{op, entity})
		return
	}
	s.faults[fault{op, entity}] = err
}

func (s *Store) injected(op string, entity reconcile.EntityType) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	f := fault{op, entity}
	if err, ok := s.faults[f]; ok {
		delete(s.faults, f)
		return err
	}
	return nil
}

// Atomic implements reconcile.Store.
func (s *Store) Atomic(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	working := make(map[reconcile.EntityType]*table, len(s.tables))
	for k, t := range s.tables {
		working[k] = t.clone()
	}
	s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(&tx{store: s, tables: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.tables = working
	s.mu.Unlock()
	return nil
}

// View implements reconcile.Store.
func (s *Store) View(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	s.mu.RLock()
	tables := s.tables
	s.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&tx{store: s, tables: tables, readOnly: true})
}

// Find implements reconcile.Reader. Records are appended in key order.
func (s *Store) Find(ctx context.Context, scope reconcile.Scope, dest any) error {
	out := reflect.ValueOf(dest)
	if out.Kind() != reflect.Pointer || out.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("find %s: dest must be a pointer to a slice, got %T", scope.Entity, dest)
	}
	return s.View(ctx, func(t reconcile.Tx) error {
		rows, err := t.(*tx).matching(ctx, scope)
		if err != nil {
			return err
		}
		slice := out.Elem()
		for _, r := range rows {
			slice = reflect.Append(slice, reflect.ValueOf(r.Value))
		}
		out.Elem().Set(slice)
		return nil
	})
}

// IDs returns the cached keys of an entity type in ascending order.
func (s *Store) IDs(entity reconcile.EntityType) []any {
	rows := s.Rows(entity)
	ids := make([]any, len(rows))
	for i, r := range rows {
		ids[i] = r.Key
	}
	return ids
}

// Rows returns the cached rows of an entity type in ascending key order.
func (s *Store) Rows(entity reconcile.EntityType) []reconcile.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[entity]
	if !ok {
		return nil
	}
	return sortedRows(t.rows)
}

// Snapshot returns a deep copy of the whole store keyed by entity, for before/after comparisons.
func (s *Store) Snapshot() map[reconcile.EntityType][]reconcile.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[reconcile.EntityType][]reconcile.Row, len(s.tables))
	for entity, t := range s.tables {
		out[entity] = sortedRows(t.rows)
	}
	return out
}

type tx struct {
	store    *Store
	tables   map[reconcile.EntityType]*table
	readOnly bool
}

func (t *tx) table(entity reconcile.EntityType) (*table, error) {
	tbl, ok := t.tables[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", reconcile.ErrUnknownEntity, entity)
	}
	return tbl, nil
}

func (t *tx) field(ctx context.Context, tbl *table, r reconcile.Row, column string) (any, error) {
	f := tbl.schema.LookUpField(column)
	if f == nil {
		return nil, fmt.Errorf("%w: %s has no column %q", reconcile.ErrInvalidScope, tbl.schema.Table, column)
	}
	v, _ := f.ValueOf(ctx, reflect.ValueOf(r.Value))
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		return rv.Elem().Interface(), nil
	}
	return v, nil
}

func (t *tx) matching(ctx context.Context, scope reconcile.Scope) ([]reconcile.Row, error) {
	tbl, err := t.table(scope.Entity)
	if err != nil {
		return nil, err
	}
	if scope.IDs != nil && len(scope.IDs) == 0 {
		return nil, nil
	}

	var ids map[string]struct{}
	if scope.IDs != nil {
		ids = keySet(scope.IDs)
	}

	var out []reconcile.Row
	for k, r := range tbl.rows {
		if ids != nil {
			if _, ok := ids[k]; !ok {
				continue
			}
		}
		ok, err := t.matches(ctx, tbl, r, scope.Predicates)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	sortRows(out)
	return out, nil
}

func (t *tx) matches(ctx context.Context, tbl *table, r reconcile.Row, preds []reconcile.Predicate) (bool, error) {
	for _, p := range preds {
		v, err := t.field(ctx, tbl, r, p.Field)
		if err != nil {
			return false, err
		}
		switch p.Op {
		case reconcile.OpEq:
			if compare(v, p.Values[0]) != 0 {
				return false, nil
			}
		case reconcile.OpIn:
			found := false
			for _, want := range p.Values {
				if compare(v, want) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case reconcile.OpBetween:
			if compare(v, p.Values[0]) < 0 || compare(v, p.Values[1]) > 0 {
				return false, nil
			}
		default:
			return false, fmt.Errorf("%w: unknown operator %q", reconcile.ErrInvalidScope, p.Op)
		}
	}
	return true, nil
}

// IDsInScope implements reconcile.Tx.
func (t *tx) IDsInScope(ctx context.Context, scope reconcile.Scope) ([]any, error) {
	if err := t.store.injected(OpIDs, scope.Entity); err != nil {
		return nil, err
	}
	rows, err := t.matching(ctx, scope)
	if err != nil {
		return nil, err
	}
	ids := make([]any, len(rows))
	for i, r := range rows {
		ids[i] = r.Key
	}
	return ids, nil
}

// Values implements reconcile.Tx.
func (t *tx) Values(ctx context.Context, scope reconcile.Scope, field string) ([]any, error) {
	rows, err := t.matching(ctx, scope)
	if err != nil {
		return nil, err
	}
	tbl, _ := t.table(scope.Entity)
	seen := make(map[string]struct{})
	var out []any
	for _, r := range rows {
		v, err := t.field(ctx, tbl, r, field)
		if err != nil {
			return nil, err
		}
		if v == nil || isZero(v) {
			continue
		}
		k := utils.ToString(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// Upsert implements reconcile.Tx.
func (t *tx) Upsert(_ context.Context, entity reconcile.EntityType, rows []reconcile.Row) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if err := t.store.injected(OpUpsert, entity); err != nil {
		return err
	}
	tbl, err := t.table(entity)
	if err != nil {
		return err
	}
	for _, r := range rows {
		tbl.rows[keyString(r.Key)] = r
	}
	return nil
}

// Delete implements reconcile.Tx.
func (t *tx) Delete(_ context.Context, entity reconcile.EntityType, ids []any) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if err := t.store.injected(OpDelete, entity); err != nil {
		return err
	}
	tbl, err := t.table(entity)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(tbl.rows, keyString(id))
	}
	return nil
}

// ChildIDs implements reconcile.Tx.
func (t *tx) ChildIDs(ctx context.Context, child reconcile.EntityType, parentField string, parentIDs []any) ([]any, error) {
	if err := t.store.injected(OpChildIDs, child); err != nil {
		return nil, err
	}
	if len(parentIDs) == 0 {
		return nil, nil
	}
	return t.IDsInScope(ctx, reconcile.ScopeAll(child).WhereIn(parentField, parentIDs...))
}

// Clear implements reconcile.Tx.
func (t *tx) Clear(_ context.Context, entity reconcile.EntityType) error {
	if t.readOnly {
		return ErrReadOnly
	}
	tbl, err := t.table(entity)
	if err != nil {
		return err
	}
	tbl.rows = make(map[string]reconcile.Row)
	return nil
}

func keyString(k any) string {
	return utils.ToString(utils.NormalizeScanned(k))
}

func keySet(keys []any) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[keyString(k)] = struct{}{}
	}
	return out
}

func sortedRows(rows map[string]reconcile.Row) []reconcile.Row {
	out := make([]reconcile.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	sortRows(out)
	return out
}

func sortRows(rows []reconcile.Row) {
	sort.Slice(rows, func(i, j int) bool { return compare(rows[i].Key, rows[j].Key) < 0 })
}

func isZero(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.IsZero()
}

// compare orders two scalar values, numerically when both parse as numbers.
func compare(a, b any) int {
	as, bs := utils.ToString(utils.NormalizeScanned(a)), utils.ToString(utils.NormalizeScanned(b))
	af, aerr := strconv.ParseFloat(as, 64)
	bf, berr := strconv.ParseFloat(bs, 64)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}
