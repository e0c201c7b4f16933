package ecs

import (
	"reflect"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// repositoryOps is the type-erased view of a Repository[T] that EntityStore,
// Entity, Metrics and View use when the concrete component type isn't
// known at the call site (required-component resolution, compaction,
// cross-type join driving). Every Repository[T] implements it; typed
// callers go through AddComponent/GetComponent/RemoveComponent instead.
type repositoryOps interface {
	componentType() ComponentType
	typeIndex() int
	schema() *Schema
	rowForEntity(entityRow int) int
	liveCount() int
	presenceBitmap() *roaring.Bitmap
	ensureDefault(entityRow int) error
	removeIfPresent(entityRow int) bool
	destroyableAt(entityRow int) (destroyable, bool)
	growEntityCapacity(n int)
	remapEntityRows(remap []int)
	compact()
	cloneInto(dstStore *EntityStore, srcEntityRow, dstEntityRow int) error
}

// Repository is the packed, columnar store for every component of type T:
// declared columns built from T's Schema, ad-hoc decorated columns added
// with Decorate, and the id/version bookkeeping columns every row carries
// (ownership lives in the store's OwnershipGraph, not in a column). Row 0
// is the permanent dead-row sentinel.
type Repository[T any] struct {
	store   *EntityStore
	sch     *Schema
	typeIdx int

	// entityForRow[row] is the entity's row in the owning EntityStore;
	// rowForEntity[entityRow] is this repository's row for that entity, or
	// 0 if the entity doesn't have this component. Both index by row, not
	// by EntityID, so they track EntityStore compaction directly.
	entityForRow []int
	rowForEnt    []int

	id      []ComponentID
	version []Version

	declared    []Column
	nameToIndex map[string]int

	decorated     map[string]Column
	decoratedList []Column

	rowCount int
	nextID   ComponentID
	presence *roaring.Bitmap
}

func newRepository[T any](store *EntityStore, typeIdx int) (*Repository[T], error) {
	sch, err := SchemaFor[T]()
	if err != nil {
		return nil, err
	}
	r := &Repository[T]{
		store:        store,
		sch:          sch,
		typeIdx:      typeIdx,
		entityForRow: []int{0},
		rowForEnt:    make([]int, store.entityCapacity()),
		id:           []ComponentID{0},
		version:      []Version{deadVersion},
		nameToIndex:  make(map[string]int, len(sch.Properties)),
		decorated:    make(map[string]Column),
		presence:     roaring.New(),
		rowCount:     1,
	}
	for i, decl := range sch.Properties {
		r.declared = append(r.declared, newColumnForDecl(decl))
		r.nameToIndex[decl.Name] = i
	}
	return r, nil
}

func (r *Repository[T]) componentType() ComponentType    { return TypeOf[T]() }
func (r *Repository[T]) typeIndex() int                  { return r.typeIdx }
func (r *Repository[T]) schema() *Schema                 { return r.sch }
func (r *Repository[T]) liveCount() int                  { return int(r.presence.GetCardinality()) }
func (r *Repository[T]) presenceBitmap() *roaring.Bitmap { return r.presence }

func (r *Repository[T]) rowForEntity(entityRow int) int {
	if entityRow < 0 || entityRow >= len(r.rowForEnt) {
		return 0
	}
	return r.rowForEnt[entityRow]
}

// growEntityCapacity keeps rowForEnt in step with the owning EntityStore's
// entity-row table whenever that table grows.
func (r *Repository[T]) growEntityCapacity(n int) {
	if n <= len(r.rowForEnt) {
		return
	}
	next := make([]int, n)
	copy(next, r.rowForEnt)
	r.rowForEnt = next
}

// remapEntityRows re-keys rowForEnt after EntityStore.Compact reorders the
// entities array: remap[oldEntityRow] is the new entity row, or -1 if that
// entity row no longer exists. presence is keyed by entity row too, so it
// is rebuilt from scratch against the new rows rather than left holding
// stale bits from the pre-remap entity-row numbering — View.Each's
// presenceBitmap intersection would otherwise silently match on the wrong
// entities after any EntityStore.Compact.
func (r *Repository[T]) remapEntityRows(remap []int) {
	next := make([]int, len(r.rowForEnt))
	for oldEntityRow, compRow := range r.rowForEnt {
		if compRow == 0 || oldEntityRow >= len(remap) {
			continue
		}
		if newEntityRow := remap[oldEntityRow]; newEntityRow >= 0 {
			next[newEntityRow] = compRow
		}
	}
	newPresence := roaring.New()
	for row := 1; row < r.rowCount; row++ {
		if r.id[row] == 0 {
			continue
		}
		oldEntityRow := r.entityForRow[row]
		if oldEntityRow < len(remap) {
			if newEntityRow := remap[oldEntityRow]; newEntityRow >= 0 {
				r.entityForRow[row] = newEntityRow
				newPresence.Add(uint32(newEntityRow))
			}
		}
	}
	r.rowForEnt = next
	r.presence = newPresence
}

func newColumnForDecl(decl PropertyDeclaration) Column {
	p := NewProperty[any](decl.Default, decl.CloneMode, nil)
	if decl.Shared {
		elemType := decl.ElementType
		p.EnableShared(
			func() any { return reflect.New(elemType).Interface() },
			func(dst *any, src any) {
				if src == nil {
					return
				}
				dv, sv := reflect.ValueOf(*dst), reflect.ValueOf(src)
				if dv.Kind() == reflect.Ptr && sv.Kind() == reflect.Ptr && !sv.IsNil() {
					dv.Elem().Set(sv.Elem())
					return
				}
				*dst = src
			},
		)
	}
	return AsColumn(p)
}

func (r *Repository[T]) allColumns() []Column {
	all := make([]Column, 0, len(r.declared)+len(r.decoratedList))
	all = append(all, r.declared...)
	all = append(all, r.decoratedList...)
	return all
}

func (r *Repository[T]) growCapacityIfNeeded(needed int) {
	if curCap := len(r.id); needed > curCap {
		n := growCapacity(curCap, needed)
		next := make([]int, n)
		copy(next, r.entityForRow)
		r.entityForRow = next

		ids := make([]ComponentID, n)
		copy(ids, r.id)
		r.id = ids

		vers := make([]Version, n)
		copy(vers, r.version)
		r.version = vers

		for _, c := range r.allColumns() {
			c.SetCapacity(n)
		}
	}
}

// AddComponent attaches a component to the entity at entityRow, cloning
// from template if non-nil (template must belong to a Repository[T] built
// from the same process-wide Schema; a mismatch is ErrInvalidArgument,
// though in practice SchemaFor[T] caches one Schema per T so this can only
// trip if a future hot-reload path ever rebuilds schemas mid-process).
// Re-adding to an entity that already has this component first removes the
// old row. Resolves T's required-component chain before returning.
func (r *Repository[T]) AddComponent(entityRow int, template *Handle[T]) (Handle[T], error) {
	if entityRow <= 0 {
		return Handle[T]{}, newError(ErrInvalidArgument, "invalid entity row")
	}
	if template != nil && template.repo != nil && template.repo.sch != r.sch {
		return Handle[T]{}, newError(ErrInvalidArgument, "template belongs to a different schema version")
	}
	if r.rowForEnt[entityRow] != 0 {
		r.removeRow(r.rowForEnt[entityRow])
	}

	newRow := r.rowCount
	r.rowCount++
	r.growCapacityIfNeeded(r.rowCount)

	for _, c := range r.allColumns() {
		c.SetDefaultValue(newRow)
	}
	if template != nil && template.IsAlive() {
		for i, decl := range r.sch.Properties {
			_ = decl
			r.declared[i].CloneFrom(template.repo.declared[i], template.row, newRow)
		}
	}

	r.nextID++
	r.id[newRow] = r.nextID
	r.version[newRow] = bumpVersion(0)
	r.entityForRow[newRow] = entityRow
	r.rowForEnt[entityRow] = newRow
	r.presence.Add(uint32(entityRow))

	h := Handle[T]{repo: r, row: newRow, expectedID: r.nextID}

	for _, req := range r.sch.Required {
		if ops, ok := r.store.reposByType[req]; ok {
			if ops.rowForEntity(entityRow) == 0 {
				if err := ops.ensureDefault(entityRow); err != nil {
					r.store.ownership.Destroy(h)
					return h, wrapError(ErrReflectionFailure, "required component chain failed for "+req.Name(), err)
				}
				if d, ok := ops.destroyableAt(entityRow); ok {
					_ = r.store.ownership.SetOwner(d, h) // h is not an OwnerDelegate, so this cannot fail
				}
			}
		}
	}
	return h, nil
}

// cloneInto clones this repository's component at srcEntityRow onto
// dstEntityRow in dstStore's own Repository[T] (lazily created there if
// needed), or is a no-op if srcEntityRow doesn't carry this component.
// dstStore may be the same store as r.store or a different one entirely —
// schemas are keyed by T process-wide, so AddComponent's template clone
// already works across stores. Used by EntityStore.CreateEntityFrom to
// replicate a template entity's full live component set without the
// caller needing to know each component's concrete type.
func (r *Repository[T]) cloneInto(dstStore *EntityStore, srcEntityRow, dstEntityRow int) error {
	srcRow := r.rowForEntity(srcEntityRow)
	if srcRow == 0 {
		return nil
	}
	dstRepo, err := getOrCreateRepository[T](dstStore)
	if err != nil {
		return err
	}
	template := Handle[T]{repo: r, row: srcRow, expectedID: r.id[srcRow]}
	_, err = dstRepo.AddComponent(dstEntityRow, &template)
	return err
}

// ensureDefault adds a default-valued component to entityRow if it doesn't
// already have one; used to resolve required-component chains without
// needing the concrete T at the call site.
func (r *Repository[T]) ensureDefault(entityRow int) error {
	if r.rowForEnt[entityRow] != 0 {
		return nil
	}
	_, err := r.AddComponent(entityRow, nil)
	return err
}

// removeIfPresent structurally removes this component from entityRow if
// present, reporting whether it did. It does not itself cascade through the
// ownership graph: callers that need cascading destruction of whatever the
// component owns go through OwnershipGraph.Destroy instead (see
// RemoveComponent and Entity.destroy).
func (r *Repository[T]) removeIfPresent(entityRow int) bool {
	row := r.rowForEnt[entityRow]
	if row == 0 {
		return false
	}
	r.removeRow(row)
	return true
}

// destroyableAt returns the handle of entityRow's component as a
// destroyable, for callers (AddComponent's required-component chain) that
// hand it to the ownership graph without knowing its T.
func (r *Repository[T]) destroyableAt(entityRow int) (destroyable, bool) {
	row := r.rowForEnt[entityRow]
	if row == 0 {
		return nil, false
	}
	return Handle[T]{repo: r, row: row, expectedID: r.id[row]}, true
}

// removeRow tombstones row: clears presence, detaches it from any owner it
// has in the store's ownership graph (without cascading to its own
// children — that is the graph's job, done before destroy() is invoked),
// and sweeps every declared and decorated column back to its default. The
// slot itself is reclaimed only by the next Compact.
func (r *Repository[T]) removeRow(row int) {
	if row <= 0 || row >= r.rowCount || r.id[row] == 0 {
		return
	}
	entityRow := r.entityForRow[row]
	r.presence.Remove(uint32(entityRow))
	r.rowForEnt[entityRow] = 0

	k := ownableKey{repo: r, id: uint64(r.id[row])}
	if g := r.store.ownership; g != nil {
		if rec, ok := g.records[k]; ok {
			if rec.owner != nil {
				if owner, ok := g.records[rec.owner.ownableKey()]; ok {
					delete(owner.children, k)
				}
			}
			delete(g.records, k)
		}
	}

	r.id[row] = 0
	r.version[row] = deadVersion
	for _, c := range r.allColumns() {
		c.SetDefaultValue(row)
	}
}

// Compact stable-sorts every live row to the front, ascending by
// entityForRow, shrinks backing capacity to the compaction target, and
// sweeps decorated columns on every row beyond the new live count so no
// stale decoration value survives into a future Add's freshly-grown
// capacity. Sorting (rather than packing in whatever order rows happened
// to occupy) is what makes entityForRow[1..rowCount) strictly ascending
// after compact, which View's deterministic-traversal guarantee and
// §8's ordering invariant both depend on.
func (r *Repository[T]) compact() {
	liveRows := make([]int, 0, r.rowCount-1)
	for row := 1; row < r.rowCount; row++ {
		if r.id[row] != 0 {
			liveRows = append(liveRows, row)
		}
	}
	sort.SliceStable(liveRows, func(i, j int) bool {
		return r.entityForRow[liveRows[i]] < r.entityForRow[liveRows[j]]
	})

	r.gatherRows(liveRows)

	newCount := len(liveRows) + 1
	for row := newCount; row < r.rowCount; row++ {
		r.id[row] = 0
		r.version[row] = deadVersion
		r.entityForRow[row] = 0
		for _, c := range r.allColumns() {
			c.SetDefaultValue(row)
		}
	}
	r.rowCount = newCount

	for i := range r.rowForEnt {
		r.rowForEnt[i] = 0
	}
	for newRow := 1; newRow < newCount; newRow++ {
		r.rowForEnt[r.entityForRow[newRow]] = newRow
	}

	live := len(liveRows)
	if live > 0 && float64(live)/float64(len(r.id)-1+1) < compactionLoadFactor {
		target := shrinkCapacity(live) + 1
		if target < newCount {
			target = newCount
		}
		r.entityForRow = r.entityForRow[:min(len(r.entityForRow), target)]
		for len(r.entityForRow) < target {
			r.entityForRow = append(r.entityForRow, 0)
		}
		r.id = resize(r.id, target)
		r.version = resize(r.version, target)
		for _, c := range r.allColumns() {
			c.SetCapacity(target)
		}
	}
}

// gatherRows rewrites rows 1..len(order) to hold exactly the rows named by
// order, in that order, carrying every declared and decorated column's
// value plus id/version/entityForRow bookkeeping through GetAny/SetAny.
// Every source value is read before any row is overwritten, so gatherRows
// is safe even when order leaves some rows pointing at themselves or at
// rows that will be overwritten earlier in the pass.
func (r *Repository[T]) gatherRows(order []int) {
	cols := r.allColumns()
	scratch := make([][]any, len(cols))
	for ci, c := range cols {
		vals := make([]any, len(order))
		for i, oldRow := range order {
			vals[i] = c.GetAny(oldRow)
		}
		scratch[ci] = vals
	}
	newID := make([]ComponentID, len(order))
	newVersion := make([]Version, len(order))
	newEntityForRow := make([]int, len(order))
	for i, oldRow := range order {
		newID[i] = r.id[oldRow]
		newVersion[i] = r.version[oldRow]
		newEntityForRow[i] = r.entityForRow[oldRow]
	}
	for ci, c := range cols {
		for i := range order {
			c.SetAny(i+1, scratch[ci][i])
		}
	}
	for i := range order {
		r.id[i+1] = newID[i]
		r.version[i+1] = newVersion[i]
		r.entityForRow[i+1] = newEntityForRow[i]
	}
}

func resize[S ~[]E, E any](s S, n int) S {
	next := make(S, n)
	copy(next, s)
	return next
}

// valueAt reconstructs T from this row's declared columns.
func (r *Repository[T]) valueAt(row int) T {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	for i, decl := range r.sch.Properties {
		if decl.FieldIndex < 0 {
			continue
		}
		v := r.declared[i].GetAny(row)
		if v == nil {
			continue
		}
		rv.Field(decl.FieldIndex).Set(reflect.ValueOf(v))
	}
	return out
}

// setAt writes every declared field of v into row's columns.
func (r *Repository[T]) setAt(row int, v T) {
	rv := reflect.ValueOf(v)
	for i, decl := range r.sch.Properties {
		if decl.FieldIndex < 0 {
			continue
		}
		r.declared[i].SetAny(row, rv.Field(decl.FieldIndex).Interface())
	}
}

// validateValue runs each declared property's validator tag (if any)
// against the corresponding field of v.
func (r *Repository[T]) validateValue(v T) error {
	rv := reflect.ValueOf(v)
	for _, decl := range r.sch.Properties {
		if decl.ValidateTag == "" || decl.FieldIndex < 0 {
			continue
		}
		field := rv.Field(decl.FieldIndex)
		if err := fieldValidate.Var(field.Interface(), decl.ValidateTag); err != nil {
			return wrapError(ErrInvalidArgument, "validation failed for property "+decl.Name, err)
		}
	}
	return nil
}

func (r *Repository[T]) setField(row int, name string, v any) error {
	i, ok := r.nameToIndex[name]
	if !ok {
		return newError(ErrInvalidArgument, "no such property: "+name).WithComponent(r.sch.TypeName)
	}
	decl := r.sch.Properties[i]
	if decl.ValidateTag != "" {
		if err := fieldValidate.Var(v, decl.ValidateTag); err != nil {
			return wrapError(ErrInvalidArgument, "validation failed for property "+name, err)
		}
	}
	r.declared[i].SetAny(row, v)
	return nil
}

func (r *Repository[T]) getField(row int, name string) (any, bool) {
	i, ok := r.nameToIndex[name]
	if !ok {
		return nil, false
	}
	return r.declared[i].GetAny(row), true
}

// Decorate adds an ad-hoc property to T's repository that wasn't part of
// its declared schema — a system-owned side table keyed by the same rows,
// e.g. a physics system's per-component velocity cache. It is a free
// function because Go methods can't introduce new type parameters.
func Decorate[T, V any](r *Repository[T], name string, def V, mode CloneMode) *Property[V] {
	if p, ok := r.decorated[name]; ok {
		if typed, ok := p.(columnAdapter[V]); ok {
			return typed.Property
		}
	}
	p := NewProperty[V](def, mode, nil)
	p.SetCapacity(len(r.id))
	col := AsColumn(p)
	r.decorated[name] = col
	r.decoratedList = append(r.decoratedList, col)
	return p
}
