package ecs

// Entity is a lightweight handle into an EntityStore: a stable EntityID
// plus the store it lives in. Entity is itself Ownable, so other entities
// (or components) can own one and cascade-destroy it.
//
// The backing row is not part of this identity: Compact can move an
// entity to a different row at any time, so every operation re-resolves
// the current row from id through EntityStore.resolveRow rather than
// trusting a row cached at creation time.
type Entity struct {
	store *EntityStore
	row   int // hint only, set at CreateEntity/GetEntityByID time; never trusted for correctness
	id    EntityID
}

// ID returns the entity's stable identity, or InvalidEntityID if this
// handle no longer refers to a live entity.
func (e Entity) ID() EntityID {
	if !e.IsAlive() {
		return InvalidEntityID
	}
	return e.id
}

// IsAlive reports whether this id still names a live entity, resolving
// its current row fresh rather than trusting the row this Entity was
// built with.
func (e Entity) IsAlive() bool {
	return e.currentRow() > 0
}

// currentRow re-resolves this entity's row from its id under the store's
// lock, returning 0 if the entity is dead or unknown. Used by every
// operation below instead of the cached row field, so access stays
// correct across a Compact() that moved the entity.
func (e Entity) currentRow() int {
	if e.store == nil || e.id == 0 {
		return 0
	}
	e.store.mu.RLock()
	defer e.store.mu.RUnlock()
	return e.store.resolveRow(e.id)
}

// Destroy removes the entity and every component attached to it, cascading
// through the ownership graph to anything this entity owns.
func (e Entity) Destroy() {
	if !e.IsAlive() {
		return
	}
	e.store.ownership.Destroy(e)
}

func (e Entity) ownableKey() ownableKey {
	return ownableKey{repo: e.store, id: uint64(e.id)}
}

func (e Entity) destroy(g *OwnershipGraph) {
	row := e.currentRow()
	if row == 0 {
		return
	}
	e.store.destroyRow(row)
}

// LiveComponents returns the ComponentType of every component currently
// attached to e, in repository registration order — the per-entity
// iterator over its live components named in the external interface.
// Dead entities report no components.
func (e Entity) LiveComponents() []ComponentType {
	row := e.currentRow()
	if row == 0 {
		return nil
	}
	e.store.mu.RLock()
	repos := append([]repositoryOps(nil), e.store.repositories...)
	e.store.mu.RUnlock()

	var out []ComponentType
	for _, ops := range repos {
		if ops.rowForEntity(row) != 0 {
			out = append(out, ops.componentType())
		}
	}
	return out
}
