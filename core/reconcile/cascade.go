package reconcile

import (
	"context"
	"fmt"
	"sort"

	"finsync/core/utils"
)

// Edge declares that rows of Child reference rows of Parent through Child.ParentField.
// When a parent row is deleted, every child row pointing at it is deleted too.
type Edge struct {
	Parent      EntityType
	Child       EntityType
	ParentField string
}

// Dependents is one level of a cascade walk: child rows of one collection to delete.
type Dependents struct {
	Entity EntityType
	IDs    []any
}

// Policy is the static cascade graph shared by every engine.
type Policy struct {
	edges    []Edge
	children map[EntityType][]Edge
}

// NewPolicy builds a cascade policy from edges. It rejects duplicate edges and cycles.
func NewPolicy(edges ...Edge) (*Policy, error) {
	p := &Policy{children: make(map[EntityType][]Edge)}
	seen := make(map[Edge]struct{}, len(edges))
	for _, e := range edges {
		if e.Parent == "" || e.Child == "" || e.ParentField == "" {
			return nil, fmt.Errorf("cascade edge %+v is incomplete", e)
		}
		if _, dup := seen[e]; dup {
			return nil, fmt.Errorf("cascade edge %s -> %s.%s declared twice", e.Parent, e.Child, e.ParentField)
		}
		seen[e] = struct{}{}
		p.edges = append(p.edges, e)
		p.children[e.Parent] = append(p.children[e.Parent], e)
	}
	if err := p.checkAcyclic(); err != nil {
		return nil, err
	}
	return p, nil
}

// MustPolicy is NewPolicy for static declarations; it panics on an invalid graph.
func MustPolicy(edges ...Edge) *Policy {
	p, err := NewPolicy(edges...)
	if err != nil {
		panic(err)
	}
	return p
}

// Edges returns a copy of the declared edges.
func (p *Policy) Edges() []Edge {
	if p == nil {
		return nil
	}
	out := make([]Edge, len(p.edges))
	copy(out, p.edges)
	return out
}

// Reachable returns every entity type that a delete of entity can cascade into, sorted.
func (p *Policy) Reachable(entity EntityType) []EntityType {
	if p == nil {
		return nil
	}
	seen := map[EntityType]struct{}{entity: {}}
	queue := []EntityType{entity}
	var out []EntityType
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range p.children[cur] {
			if _, ok := seen[e.Child]; ok {
				continue
			}
			seen[e.Child] = struct{}{}
			out = append(out, e.Child)
			queue = append(queue, e.Child)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Walk collects the transitive dependents of ids, breadth first. Each level lists only
// keys not seen before, so diamonds and repeated discoveries terminate at a fixed point.
func (p *Policy) Walk(ctx context.Context, tx Tx, entity EntityType, ids []any) ([]Dependents, error) {
	if p == nil || len(ids) == 0 || len(p.children[entity]) == 0 {
		return nil, nil
	}

	visited := map[EntityType]map[string]struct{}{}
	markNew := func(t EntityType, keys []any) []any {
		set, ok := visited[t]
		if !ok {
			set = make(map[string]struct{})
			visited[t] = set
		}
		var fresh []any
		for _, k := range keys {
			ks := utils.ToString(k)
			if _, seen := set[ks]; seen {
				continue
			}
			set[ks] = struct{}{}
			fresh = append(fresh, k)
		}
		return fresh
	}
	markNew(entity, ids)

	var levels []Dependents
	queue := []Dependents{{Entity: entity, IDs: ids}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range p.children[cur.Entity] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			childIDs, err := tx.ChildIDs(ctx, e.Child, e.ParentField, cur.IDs)
			if err != nil {
				return nil, fmt.Errorf("cascade %s -> %s: %w", e.Parent, e.Child, err)
			}
			fresh := markNew(e.Child, childIDs)
			if len(fresh) == 0 {
				continue
			}
			next := Dependents{Entity: e.Child, IDs: fresh}
			levels = append(levels, next)
			queue = append(queue, next)
		}
	}
	return levels, nil
}

// Dependents returns the transitive dependents of ids grouped by entity type.
func (p *Policy) Dependents(ctx context.Context, tx Tx, entity EntityType, ids []any) (map[EntityType][]any, error) {
	levels, err := p.Walk(ctx, tx, entity, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[EntityType][]any, len(levels))
	for _, lvl := range levels {
		out[lvl.Entity] = append(out[lvl.Entity], lvl.IDs...)
	}
	return out, nil
}

func (p *Policy) checkAcyclic() error {
	const (
		unvisited = iota
		inStack
		done
	)
	state := make(map[EntityType]int)
	var visit func(t EntityType) error
	visit = func(t EntityType) error {
		switch state[t] {
		case inStack:
			return fmt.Errorf("cascade graph has a cycle through %s", t)
		case done:
			return nil
		}
		state[t] = inStack
		for _, e := range p.children[t] {
			if err := visit(e.Child); err != nil {
				return err
			}
		}
		state[t] = done
		return nil
	}
	for _, e := range p.edges {
		if err := visit(e.Parent); err != nil {
			return err
		}
	}
	return nil
}
