package ecs

import "sort"

// View iterates entities that carry every required ComponentType. The
// optional types are stored and returned by Optional but are not consulted
// by Each. It picks its driver — the
// smallest live repository among the required set — once per Each call, so
// Each stays cheap even when one required type vastly outnumbers another.
type View struct {
	store    *EntityStore
	required []ComponentType
	optional []ComponentType
}

// NewView builds a View over required and optional component types.
// required must be non-empty; an empty required set is ErrInvalidArgument
// since there would be no driver repository to iterate.
func NewView(store *EntityStore, required, optional []ComponentType) (*View, error) {
	if len(required) == 0 {
		return nil, newError(ErrInvalidArgument, "view requires at least one required component type")
	}
	req := append([]ComponentType(nil), required...)
	opt := append([]ComponentType(nil), optional...)
	return &View{store: store, required: req, optional: opt}, nil
}

// Required returns the View's required component type set.
func (v *View) Required() []ComponentType { return append([]ComponentType(nil), v.required...) }

// Optional returns the View's optional component type set.
func (v *View) Optional() []ComponentType { return append([]ComponentType(nil), v.optional...) }

// Match is one entity produced by a View. It carries only the Entity: no
// component handles and no record of which optional types are present;
// callers fetch typed handles, and test optional presence, with
// GetComponent.
type Match struct {
	Entity Entity
}

// Each calls fn for every live entity carrying all of the View's required
// component types, in ascending entity-row order. Iteration stops early if
// fn returns false.
func (v *View) Each(fn func(Match) bool) {
	v.store.mu.RLock()
	driver, others, ok := v.pickDriver()
	if !ok {
		v.store.mu.RUnlock()
		return
	}
	bm := driver.presenceBitmap().Clone()
	for _, ops := range others {
		bm.And(ops.presenceBitmap())
	}
	entityRows := bm.ToArray()
	entities := v.store.entities
	v.store.mu.RUnlock()

	for _, row32 := range entityRows {
		row := int(row32)
		if row <= 0 || row >= len(entities) || entities[row] == 0 {
			continue
		}
		m := Match{Entity: Entity{store: v.store, row: row, id: entities[row]}}
		if !fn(m) {
			return
		}
	}
}

// pickDriver returns the smallest-by-live-count required repository as the
// driver and the rest of the required set to intersect against. Required
// types with no repository yet (never Add'd by anyone) mean zero matches.
func (v *View) pickDriver() (repositoryOps, []repositoryOps, bool) {
	ops := make([]repositoryOps, 0, len(v.required))
	for _, ct := range v.required {
		r, ok := v.store.reposByType[ct]
		if !ok {
			return nil, nil, false
		}
		ops = append(ops, r)
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].liveCount() != ops[j].liveCount() {
			return ops[i].liveCount() < ops[j].liveCount()
		}
		return ops[i].componentType().Name() < ops[j].componentType().Name()
	})
	return ops[0], ops[1:], true
}
