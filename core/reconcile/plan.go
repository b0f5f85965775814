package reconcile

import (
	"fmt"
	"reflect"

	"finsync/core/utils"
)

// Plan is the diff between a fetched batch and the cached key set of a scope.
// Building a plan never touches storage; Engine.Reconcile applies it atomically.
type Plan[K comparable, V any] struct {
	// Upsert holds every fetched record, deduplicated by key (last occurrence wins).
	Upsert []V

	// Insert lists keys that are not cached yet.
	Insert []K

	// Update lists keys that are cached and will be replaced.
	Update []K

	// Stale lists cached keys in scope that the remote no longer returns.
	Stale []K
}

// BuildPlan computes the upsert and stale sets for a scope.
// Every fetched record is written; there is no dirty checking because the remote is authoritative.
func BuildPlan[K comparable, V any](key func(V) K, local []K, fetched []V) Plan[K, V] {
	localSet := make(map[K]struct{}, len(local))
	for _, k := range local {
		localSet[k] = struct{}{}
	}

	// Deduplicate fetched records, keeping the first position and the last value
	pos := make(map[K]int, len(fetched))
	var plan Plan[K, V]
	for _, rec := range fetched {
		k := key(rec)
		if i, ok := pos[k]; ok {
			plan.Upsert[i] = rec
			continue
		}
		pos[k] = len(plan.Upsert)
		plan.Upsert = append(plan.Upsert, rec)
		if _, cached := localSet[k]; cached {
			plan.Update = append(plan.Update, k)
		} else {
			plan.Insert = append(plan.Insert, k)
		}
	}

	for _, k := range local {
		if _, seen := pos[k]; !seen {
			plan.Stale = append(plan.Stale, k)
		}
	}

	return plan
}

// Keys returns the final key set of the scope once the plan is applied.
func (p Plan[K, V]) Keys(key func(V) K) []K {
	out := make([]K, 0, len(p.Upsert))
	for _, rec := range p.Upsert {
		out = append(out, key(rec))
	}
	return out
}

// normalizeKeys converts untyped keys scanned by a store into the engine's key type.
// Stores return driver-native values (int64, string, []byte); integer and string keys
// are converted, anything else must already have the right type.
func normalizeKeys[K comparable](raw []any) ([]K, error) {
	out := make([]K, 0, len(raw))
	var zero K
	kind := reflect.TypeOf(zero).Kind()
	for _, r := range raw {
		if k, ok := r.(K); ok {
			out = append(out, k)
			continue
		}
		var converted any
		switch kind {
		case reflect.Int64:
			converted = utils.ToInt64(r)
		case reflect.Int:
			converted = int(utils.ToInt64(r))
		case reflect.String:
			converted = utils.ToString(r)
		default:
			return nil, fmt.Errorf("cannot use cached key %v (%T) as %T", r, r, zero)
		}
		k, ok := converted.(K)
		if !ok {
			// Named key types (type AccountID int64) land here
			v := reflect.ValueOf(converted).Convert(reflect.TypeOf(zero))
			k = v.Interface().(K)
		}
		out = append(out, k)
	}
	return out, nil
}

func keysToAny[K comparable](keys []K) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
