package ecs

// maxDelegateDepth bounds setOwner's delegate-grant recursion: an owner can
// decline ownership and nominate a delegate, which can decline again, and so
// on. This resolves the open question of unbounded delegate chains by
// failing closed rather than looping forever on a misbehaving delegate.
const maxDelegateDepth = 8

// Ownable is anything that can hold ownership of a component or entity:
// both Entity and Handle[T] implement it. An owner that wants to refuse
// ownership implements OwnerDelegate to nominate a replacement.
type Ownable interface {
	ownableKey() ownableKey
}

// OwnerDelegate lets an Ownable decline an incoming grant of ownership of
// candidate and nominate a different owner instead. SetOwner re-asks the
// nominated owner in its place, up to maxDelegateDepth times, before
// giving up with ErrInvalidArgument.
type OwnerDelegate interface {
	Ownable
	DelegateOwner(candidate Ownable) (Ownable, bool)
}

// ownableKey identifies one Ownable's backing storage row for equality and
// for use as a map key in the ownership graph. repo is compared by pointer
// identity (any, since it is either *Repository[T] or *EntityStore).
type ownableKey struct {
	repo any
	id   uint64
}

// OwnershipRecord is the ownership-graph node for one component row or
// entity, created lazily the first time it is involved in a SetOwner call.
// It tracks the current owner and the set of things this row owns, so destroy
// can cascade in both directions: destroying an owned thing detaches it
// from its owner's child set, and destroying an owner cascades to every
// child still attached.
type OwnershipRecord struct {
	owner    Ownable
	key      ownableKey
	children map[ownableKey]destroyable
}

type destroyable interface {
	ownableKey() ownableKey
	destroy(g *OwnershipGraph)
}

// OwnershipGraph tracks owner/child edges across every entity and component
// row in a store. It never allocates its own identity: nodes are keyed by
// the Ownable's own ownableKey, so graph membership is implicit in having
// ever been an owner or a child.
type OwnershipGraph struct {
	records map[ownableKey]*OwnershipRecord
}

func newOwnershipGraph() *OwnershipGraph {
	return &OwnershipGraph{records: make(map[ownableKey]*OwnershipRecord)}
}

func (g *OwnershipGraph) recordFor(o Ownable) *OwnershipRecord {
	k := o.ownableKey()
	rec, ok := g.records[k]
	if !ok {
		rec = &OwnershipRecord{key: k, children: make(map[ownableKey]destroyable)}
		g.records[k] = rec
	}
	return rec
}

// SetOwner assigns owner as the graph-tracked owner of child, detaching it
// from any previous owner first. If owner implements OwnerDelegate and
// declines, the returned candidate is re-asked in its place, up to
// maxDelegateDepth hops; exceeding that depth is ErrInvalidArgument.
func (g *OwnershipGraph) SetOwner(child destroyable, owner Ownable) error {
	for depth := 0; ; depth++ {
		if depth > maxDelegateDepth {
			return newError(ErrInvalidArgument, "owner delegate chain exceeded maximum depth")
		}
		if d, ok := owner.(OwnerDelegate); ok {
			if next, declined := d.DelegateOwner(child); declined {
				owner = next
				continue
			}
		}
		break
	}

	childRec := g.recordFor(child)
	if childRec.owner != nil {
		if prev, ok := g.records[childRec.owner.ownableKey()]; ok {
			delete(prev.children, childRec.key)
		}
	}
	childRec.owner = owner
	ownerRec := g.recordFor(owner)
	ownerRec.children[childRec.key] = child
	return nil
}

// ClearOwner detaches child from its current owner, if any.
func (g *OwnershipGraph) ClearOwner(child destroyable) {
	rec, ok := g.records[child.ownableKey()]
	if !ok || rec.owner == nil {
		return
	}
	if owner, ok := g.records[rec.owner.ownableKey()]; ok {
		delete(owner.children, rec.key)
	}
	rec.owner = nil
}

// Destroy cascades destruction from root through every child it owns,
// breaking cycles with a visited set instead of recursing forever: a
// misbehaving or circular ownership graph degrades to a no-op on the
// repeat visit rather than crashing the store.
func (g *OwnershipGraph) Destroy(root destroyable) {
	visited := make(map[ownableKey]bool)
	g.destroyRec(root, visited)
}

func (g *OwnershipGraph) destroyRec(d destroyable, visited map[ownableKey]bool) {
	k := d.ownableKey()
	if visited[k] {
		Logger.Debug().Uint64("id", k.id).Msg("ownership cycle broken during cascading destroy")
		return
	}
	visited[k] = true

	rec, ok := g.records[k]
	if ok {
		children := make([]destroyable, 0, len(rec.children))
		for _, c := range rec.children {
			children = append(children, c)
		}
		for _, c := range children {
			g.destroyRec(c, visited)
		}
		if rec.owner != nil {
			if owner, ok := g.records[rec.owner.ownableKey()]; ok {
				delete(owner.children, k)
			}
		}
		delete(g.records, k)
	}
	d.destroy(g)
}
