package scheduler

import (
	"sync"

	"latticecs/internal/core/ecs"
)

// acquireLocks takes the store's world lock — exclusively for a job that
// needs it, shared otherwise — followed by every type mutex in j's sorted
// accessed-type set, in order (lock ordering prevents deadlock between
// jobs with overlapping but differently-ordered type sets). It returns a
// function that releases everything in reverse.
func (s *Scheduler) acquireLocks(j *Job) func() {
	world := s.store.WorldLock()
	if j.exclusive {
		world.Lock()
		ecs.Logger.Debug().Str("job", j.name).Str("jobID", j.id.String()).Msg("acquired exclusive world lock")
		return func() {
			world.Unlock()
			ecs.Logger.Debug().Str("job", j.name).Str("jobID", j.id.String()).Msg("released exclusive world lock")
		}
	}

	world.RLock()
	mutexes := make([]*sync.RWMutex, len(j.typeSet))
	for i, ct := range j.typeSet {
		mutexes[i] = s.store.TypeMutex(ct)
	}
	for _, m := range mutexes {
		m.Lock()
	}
	ecs.Logger.Debug().Str("job", j.name).Str("jobID", j.id.String()).Int("types", len(j.typeSet)).Msg("acquired shared world lock and type mutexes")
	return func() {
		for i := len(mutexes) - 1; i >= 0; i-- {
			mutexes[i].Unlock()
		}
		world.RUnlock()
		ecs.Logger.Debug().Str("job", j.name).Str("jobID", j.id.String()).Msg("released shared world lock and type mutexes")
	}
}
