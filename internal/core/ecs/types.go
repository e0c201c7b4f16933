// Package ecs implements the columnar entity-component storage engine at
// the core of latticecs: packed per-type repositories with stable logical
// identifiers, an ownership graph with cascading destruction, a reflective
// schema model, and required/optional joined iteration over repositories.
//
// Scheduling of task pipelines over this store lives in the sibling
// scheduler package; ecs itself only exposes the RW-lock/type-mutex
// primitives the scheduler needs.
package ecs

import "fmt"

// EntityID is the stable, monotone identity of an entity. It never changes
// while the entity is alive. Zero is the sentinel "dead" id.
type EntityID uint64

// InvalidEntityID is the sentinel for a dead or unassigned entity.
const InvalidEntityID EntityID = 0

// ComponentID is the stable, monotone identity of one component instance
// within its repository. Zero marks a dead/absent row.
type ComponentID uint64

// Version is a monotone per-row mutation counter. Row 0 of every
// repository carries a negative version so any handle bound to it reads
// as stale. Versions saturate at 1<<62 rather than wrapping.
type Version int64

// deadVersion is the sentinel version value written into row 0 of every
// repository; it is negative so IsAlive() checks against it always fail.
const deadVersion Version = -1

func bumpVersion(v Version) Version {
	if v >= 1<<62 {
		return 1 << 62
	}
	if v < 1 {
		return 1
	}
	return v + 1
}

// CloneMode selects how Repository.AddComponent populates a new row's
// column from a template row.
type CloneMode int

const (
	// CloneDisable leaves the destination at the column's default value.
	CloneDisable CloneMode = iota
	// CloneValueCopy copies the value directly (memcopy semantics).
	CloneValueCopy
	// CloneReferenceCopy assigns the reference directly (no deep copy).
	CloneReferenceCopy
	// CloneInvoke calls the column's registered clone hook.
	CloneInvoke
)

func (m CloneMode) String() string {
	switch m {
	case CloneDisable:
		return "disable"
	case CloneValueCopy:
		return "value-copy"
	case CloneReferenceCopy:
		return "reference-copy"
	case CloneInvoke:
		return "invoke-clone"
	default:
		return fmt.Sprintf("CloneMode(%d)", int(m))
	}
}

// growCapacity returns the repository capacity to grow to: starting from
// old, it repeatedly applies n + n/2 + 1 (floor(n*1.5)+1) until the result
// is at least needed.
func growCapacity(old, needed int) int {
	n := old
	for n < needed {
		n = n + n/2 + 1
	}
	return n
}

// shrinkCapacity returns the compacted capacity target used when the live
// row ratio drops below the shrink threshold (1.2*live + 1).
func shrinkCapacity(live int) int {
	return live + live/5 + 1
}

const compactionLoadFactor = 0.6
