package cache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"finsync/core/database"
	"finsync/core/reconcile"
	"finsync/core/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// ErrReadOnly is returned by writes issued through a View transaction.
var ErrReadOnly = errors.New("read-only transaction")

// DefaultBatchSize bounds the rows per INSERT and the keys per IN clause.
const DefaultBatchSize = 500

type model struct {
	typ    reflect.Type
	schema *schema.Schema
	pk     string
}

// Store is the gorm-backed reconcile.Store. Each registered entity type maps to a table of
// the same name. Atomic units run in a database transaction and are serialized so the
// process stays the single writer.
type Store struct {
	db        *gorm.DB
	batchSize int

	mu     sync.RWMutex
	models map[reconcile.EntityType]*model
	order  []reconcile.EntityType

	writeMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New wraps an open connection.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, batchSize: DefaultBatchSize, models: make(map[reconcile.EntityType]*model)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Register maps an entity type to its model struct. The model must declare a single primary key.
func (s *Store) Register(entity reconcile.EntityType, value any) error {
	stmt := &gorm.Statement{DB: s.db}
	if err := stmt.Parse(value); err != nil {
		return fmt.Errorf("parse model for %s: %w", entity, err)
	}
	pk := stmt.Schema.PrioritizedPrimaryField
	if pk == nil {
		return fmt.Errorf("model for %s has no primary key", entity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[entity]; !ok {
		s.order = append(s.order, entity)
	}
	s.models[entity] = &model{typ: stmt.Schema.ModelType, schema: stmt.Schema, pk: pk.DBName}
	return nil
}

// Entities returns the registered entity types in registration order.
func (s *Store) Entities() []reconcile.EntityType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]reconcile.EntityType, len(s.order))
	copy(out, s.order)
	return out
}

// NewSlice returns a pointer to an empty slice of the entity's model type, for Find.
func (s *Store) NewSlice(entity reconcile.EntityType) (any, error) {
	m, err := s.model(entity)
	if err != nil {
		return nil, err
	}
	return reflect.New(reflect.SliceOf(m.typ)).Interface(), nil
}

// Rows wraps decoded records of an entity type as reconcile rows keyed by their primary key.
// records must be a slice (or pointer to a slice) of the registered model type.
func (s *Store) Rows(ctx context.Context, entity reconcile.EntityType, records any) ([]reconcile.Row, error) {
	m, err := s.model(entity)
	if err != nil {
		return nil, err
	}
	v := reflect.Indirect(reflect.ValueOf(records))
	if v.Kind() != reflect.Slice {
		return nil, fmt.Errorf("rows for %s: got %T, want a slice", entity, records)
	}

	pk := m.schema.PrioritizedPrimaryField
	rows := make([]reconcile.Row, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		elem := reflect.Indirect(v.Index(i))
		if elem.Type() != m.typ {
			return nil, fmt.Errorf("rows for %s: got %s, want %s", entity, elem.Type(), m.typ)
		}
		key, _ := pk.ValueOf(ctx, elem)
		rows = append(rows, reconcile.Row{Key: key, Value: elem.Interface()})
	}
	return rows, nil
}

func (s *Store) model(entity reconcile.EntityType) (*model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", reconcile.ErrUnknownEntity, entity)
	}
	return m, nil
}

// Migrate creates or updates the table of every registered entity type.
func (s *Store) Migrate(ctx context.Context) error {
	for _, entity := range s.Entities() {
		m, err := s.model(entity)
		if err != nil {
			return err
		}
		if err := s.db.WithContext(ctx).Table(string(entity)).AutoMigrate(reflect.New(m.typ).Interface()); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", entity, err)
		}
	}
	return nil
}

// VerifyEdges checks that every child table of the cascade policy carries its parent-key column.
func (s *Store) VerifyEdges(policy *reconcile.Policy) error {
	for _, e := range policy.Edges() {
		missing, err := database.MissingColumns(s.db, string(e.Child), e.ParentField)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("cascade %s -> %s: column %s.%s does not exist", e.Parent, e.Child, e.Child, e.ParentField)
		}
	}
	return nil
}

// Atomic implements reconcile.Store.
func (s *Store) Atomic(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{store: s, db: db})
	})
}

// View implements reconcile.Store.
func (s *Store) View(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{store: s, db: db, readOnly: true})
	})
}

// Find implements reconcile.Reader. Rows are ordered by primary key.
func (s *Store) Find(ctx context.Context, scope reconcile.Scope, dest any) error {
	m, err := s.model(scope.Entity)
	if err != nil {
		return err
	}
	if scope.IDs != nil && len(scope.IDs) == 0 {
		return nil
	}
	q := applyScope(s.db.WithContext(ctx).Table(string(scope.Entity)), m, scope)
	if err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: m.pk}}).Find(dest).Error; err != nil {
		return fmt.Errorf("failed to load %s: %w", scope, err)
	}
	return nil
}

// Count returns the number of cached rows of an entity type.
func (s *Store) Count(ctx context.Context, entity reconcile.EntityType) (int64, error) {
	if _, err := s.model(entity); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.WithContext(ctx).Table(string(entity)).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", entity, err)
	}
	return n, nil
}

func applyScope(q *gorm.DB, m *model, scope reconcile.Scope) *gorm.DB {
	for _, p := range scope.Predicates {
		col := clause.Column{Name: p.Field}
		switch p.Op {
		case reconcile.OpEq:
			q = q.Where("? = ?", col, p.Values[0])
		case reconcile.OpIn:
			q = q.Where("? IN ?", col, p.Values)
		case reconcile.OpBetween:
			q = q.Where("? BETWEEN ? AND ?", col, p.Values[0], p.Values[1])
		}
	}
	if scope.IDs != nil {
		q = q.Where("? IN ?", clause.Column{Name: m.pk}, scope.IDs)
	}
	return q
}

type gormTx struct {
	store    *Store
	db       *gorm.DB
	readOnly bool
}

func (t *gormTx) scan(q *gorm.DB) ([]any, error) {
	rows, err := q.Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, utils.NormalizeScanned(v))
	}
	return out, rows.Err()
}

func (t *gormTx) checkFields(m *model, scope reconcile.Scope) error {
	for _, f := range scope.Fields() {
		if _, ok := m.schema.FieldsByDBName[f]; !ok {
			return fmt.Errorf("%w: %s has no column %q", reconcile.ErrInvalidScope, scope.Entity, f)
		}
	}
	return nil
}

// IDsInScope implements reconcile.Tx.
func (t *gormTx) IDsInScope(ctx context.Context, scope reconcile.Scope) ([]any, error) {
	m, err := t.store.model(scope.Entity)
	if err != nil {
		return nil, err
	}
	if err := t.checkFields(m, scope); err != nil {
		return nil, err
	}
	if scope.IDs != nil && len(scope.IDs) == 0 {
		return nil, nil
	}

	q := t.db.WithContext(ctx).Table(string(scope.Entity)).Select("?", clause.Column{Name: m.pk})
	q = applyScope(q, m, scope).Order(clause.OrderByColumn{Column: clause.Column{Name: m.pk}})
	ids, err := t.scan(q)
	if err != nil {
		return nil, fmt.Errorf("select %s ids: %w", scope, err)
	}
	return ids, nil
}

// Values implements reconcile.Tx.
func (t *gormTx) Values(ctx context.Context, scope reconcile.Scope, field string) ([]any, error) {
	m, err := t.store.model(scope.Entity)
	if err != nil {
		return nil, err
	}
	if _, ok := m.schema.FieldsByDBName[field]; !ok {
		return nil, fmt.Errorf("%w: %s has no column %q", reconcile.ErrInvalidScope, scope.Entity, field)
	}
	if scope.IDs != nil && len(scope.IDs) == 0 {
		return nil, nil
	}

	col := clause.Column{Name: field}
	q := t.db.WithContext(ctx).Table(string(scope.Entity)).Distinct("?", col)
	q = applyScope(q, m, scope).Where("? IS NOT NULL", col)
	vals, err := t.scan(q)
	if err != nil {
		return nil, fmt.Errorf("select %s.%s: %w", scope.Entity, field, err)
	}

	// Zero parent keys mean "no parent"
	out := vals[:0]
	for _, v := range vals {
		if s := utils.ToString(v); s != "" && s != "0" {
			out = append(out, v)
		}
	}
	return out, nil
}

// Upsert implements reconcile.Tx.
func (t *gormTx) Upsert(ctx context.Context, entity reconcile.EntityType, rows []reconcile.Row) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if len(rows) == 0 {
		return nil
	}
	m, err := t.store.model(entity)
	if err != nil {
		return err
	}

	slice := reflect.MakeSlice(reflect.SliceOf(m.typ), 0, len(rows))
	for _, r := range rows {
		v := reflect.Indirect(reflect.ValueOf(r.Value))
		if v.Type() != m.typ {
			return fmt.Errorf("upsert %s: got %s, want %s", entity, v.Type(), m.typ)
		}
		slice = reflect.Append(slice, v)
	}
	ptr := reflect.New(slice.Type())
	ptr.Elem().Set(slice)

	err = t.db.WithContext(ctx).
		Table(string(entity)).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(ptr.Interface(), t.store.batchSize).Error
	if err != nil {
		return fmt.Errorf("upsert %d %s: %w", len(rows), entity, err)
	}
	return nil
}

// Delete implements reconcile.Tx.
func (t *gormTx) Delete(ctx context.Context, entity reconcile.EntityType, ids []any) error {
	if t.readOnly {
		return ErrReadOnly
	}
	m, err := t.store.model(entity)
	if err != nil {
		return err
	}
	for _, chunk := range chunks(ids, t.store.batchSize) {
		err := t.db.WithContext(ctx).
			Table(string(entity)).
			Where("? IN ?", clause.Column{Name: m.pk}, chunk).
			Delete(reflect.New(m.typ).Interface()).Error
		if err != nil {
			return fmt.Errorf("delete %d %s: %w", len(chunk), entity, err)
		}
	}
	return nil
}

// ChildIDs implements reconcile.Tx.
func (t *gormTx) ChildIDs(ctx context.Context, child reconcile.EntityType, parentField string, parentIDs []any) ([]any, error) {
	var out []any
	for _, chunk := range chunks(parentIDs, t.store.batchSize) {
		ids, err := t.IDsInScope(ctx, reconcile.ScopeAll(child).WhereIn(parentField, chunk...))
		if err != nil {
			return nil, err
		}
		out = append(out, ids...)
	}
	return out, nil
}

// Clear implements reconcile.Tx.
func (t *gormTx) Clear(ctx context.Context, entity reconcile.EntityType) error {
	if t.readOnly {
		return ErrReadOnly
	}
	m, err := t.store.model(entity)
	if err != nil {
		return err
	}
	err = t.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Table(string(entity)).
		Delete(reflect.New(m.typ).Interface()).Error
	if err != nil {
		return fmt.Errorf("clear %s: %w", entity, err)
	}
	return nil
}

func chunks(ids []any, size int) [][]any {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]any
	for len(ids) > 0 {
		n := size
		if len(ids) < n {
			n = len(ids)
		}
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
