package reconcile

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EntityType names a cached collection (e.g. "accounts"). It doubles as the table name.
type EntityType string

// Operator is the comparison applied by a scope predicate.
type Operator string

const (
	// OpEq matches rows whose field equals the single value.
	OpEq Operator = "eq"
	// OpIn matches rows whose field is one of the values.
	OpIn Operator = "in"
	// OpBetween matches rows whose field lies in the closed range [Values[0], Values[1]].
	OpBetween Operator = "between"
)

// Predicate restricts a scope to rows whose Field satisfies Op against Values.
type Predicate struct {
	Field  string
	Op     Operator
	Values []any
}

// Scope describes the subset of local records a reconciliation run is authoritative for.
// Predicates are conjunctive. A scope with no predicates and no ID filter covers every
// record of the entity type.
type Scope struct {
	// Entity is the collection the scope applies to.
	Entity EntityType

	// Predicates restrict the scope by column values.
	Predicates []Predicate

	// IDs restricts the scope to these primary keys when non-nil.
	// An empty non-nil slice is a scope that matches nothing.
	IDs []any
}

// ScopeAll returns the unfiltered scope for an entity type.
func ScopeAll(entity EntityType) Scope {
	return Scope{Entity: entity}
}

// ScopeIDs returns a scope restricted to the given primary keys.
func ScopeIDs(entity EntityType, ids ...any) Scope {
	return Scope{Entity: entity}.WithIDs(ids...)
}

// Where returns a copy of the scope with an equality predicate added.
func (s Scope) Where(field string, value any) Scope {
	return s.with(Predicate{Field: field, Op: OpEq, Values: []any{value}})
}

// WhereIn returns a copy of the scope with a set-membership predicate added.
func (s Scope) WhereIn(field string, values ...any) Scope {
	return s.with(Predicate{Field: field, Op: OpIn, Values: append([]any(nil), values...)})
}

// Between returns a copy of the scope with an inclusive range predicate added.
func (s Scope) Between(field string, from, to any) Scope {
	return s.with(Predicate{Field: field, Op: OpBetween, Values: []any{from, to}})
}

// WithIDs returns a copy of the scope restricted to the given primary keys.
func (s Scope) WithIDs(ids ...any) Scope {
	out := s.clone()
	out.IDs = make([]any, len(ids))
	copy(out.IDs, ids)
	return out
}

// All reports whether the scope covers every record of its entity type.
func (s Scope) All() bool {
	return len(s.Predicates) == 0 && s.IDs == nil
}

// Fields returns the distinct column names referenced by the predicates.
func (s Scope) Fields() []string {
	seen := make(map[string]struct{}, len(s.Predicates))
	var fields []string
	for _, p := range s.Predicates {
		if _, ok := seen[p.Field]; ok {
			continue
		}
		seen[p.Field] = struct{}{}
		fields = append(fields, p.Field)
	}
	return fields
}

// Validate checks that every predicate is well formed.
func (s Scope) Validate() error {
	if s.Entity == "" {
		return fmt.Errorf("%w: scope has no entity type", ErrInvalidScope)
	}
	for _, p := range s.Predicates {
		if p.Field == "" {
			return fmt.Errorf("%w: %s predicate without field", ErrInvalidScope, s.Entity)
		}
		switch p.Op {
		case OpEq:
			if len(p.Values) != 1 {
				return fmt.Errorf("%w: %s.%s eq needs exactly one value", ErrInvalidScope, s.Entity, p.Field)
			}
		case OpIn:
		case OpBetween:
			if len(p.Values) != 2 {
				return fmt.Errorf("%w: %s.%s between needs two bounds", ErrInvalidScope, s.Entity, p.Field)
			}
		default:
			return fmt.Errorf("%w: %s.%s unknown operator %q", ErrInvalidScope, s.Entity, p.Field, p.Op)
		}
	}
	return nil
}

// String renders the scope for logs and change notifications, e.g.
// "accounts[provider_account_id=50]" or "transactions[id in (3)]".
func (s Scope) String() string {
	if s.All() {
		return string(s.Entity)
	}

	parts := make([]string, 0, len(s.Predicates)+1)
	for _, p := range s.Predicates {
		switch p.Op {
		case OpEq:
			parts = append(parts, fmt.Sprintf("%s=%v", p.Field, p.Values[0]))
		case OpBetween:
			parts = append(parts, fmt.Sprintf("%s between %v and %v", p.Field, p.Values[0], p.Values[1]))
		default:
			parts = append(parts, fmt.Sprintf("%s in %v", p.Field, p.Values))
		}
	}
	if s.IDs != nil {
		parts = append(parts, fmt.Sprintf("id in (%d)", len(s.IDs)))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s[%s]", s.Entity, strings.Join(parts, ", "))
}

func (s Scope) with(p Predicate) Scope {
	out := s.clone()
	out.Predicates = append(out.Predicates, p)
	return out
}

func (s Scope) clone() Scope {
	out := Scope{Entity: s.Entity}
	if len(s.Predicates) > 0 {
		out.Predicates = make([]Predicate, len(s.Predicates))
		copy(out.Predicates, s.Predicates)
	}
	if s.IDs != nil {
		out.IDs = make([]any, len(s.IDs))
		copy(out.IDs, s.IDs)
	}
	return out
}

// Result reports the outcome of a successful reconcile.
type Result[K comparable] struct {
	// Entity is the collection that was reconciled.
	Entity EntityType `json:"entity"`

	// Scope is the rendered scope the run was authoritative for.
	Scope string `json:"scope"`

	// Inserted counts fetched records that were not cached before.
	Inserted int `json:"inserted"`

	// Updated counts fetched records that replaced a cached row.
	Updated int `json:"updated"`

	// Deleted counts stale records removed from the scope.
	Deleted int `json:"deleted"`

	// Cascaded counts dependent records removed per child collection.
	Cascaded map[EntityType]int `json:"cascaded,omitempty"`

	// IDs is the final key set of the scope after the run.
	IDs []K `json:"ids"`

	// Duration is the wall time spent inside the atomic unit.
	Duration time.Duration `json:"duration"`
}

// Changed reports whether the run modified anything other than re-writing existing rows.
func (r *Result[K]) Changed() bool {
	if r.Inserted > 0 || r.Deleted > 0 {
		return true
	}
	for _, n := range r.Cascaded {
		if n > 0 {
			return true
		}
	}
	return false
}

// Change is emitted after a successful reconcile so readers can re-query.
// It carries the scope, never the rows themselves.
type Change struct {
	Entity EntityType `json:"entity"`
	Scope  string     `json:"scope"`
	At     time.Time  `json:"at"`
}
