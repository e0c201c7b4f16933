package scheduler

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"latticecs/internal/core/ecs"
)

// Scheduler runs Jobs over one EntityStore. Jobs it didn't create are
// rejected with ErrWrongScheduler — a Job binds to the Scheduler that built
// it at NewJob time.
type Scheduler struct {
	store *ecs.EntityStore
}

// New returns a Scheduler over store.
func New(store *ecs.EntityStore) *Scheduler {
	return &Scheduler{store: store}
}

// NewJob builds a Job from tasks, computing its exclusive-lock requirement
// and accessed-type set from each task's optional TypeAccessor/
// EntitySetModifier interfaces, and its Result-bus receivers by reflection.
func (s *Scheduler) NewJob(name string, tasks ...Task) *Job {
	return newJob(s, name, tasks)
}

// RunSync runs j on the calling goroutine: current-thread scheduling mode.
// Any post-process tasks returned by this run are chained as a tail -
// wrapped in a fresh derived Job and run immediately after, on the same
// goroutine - until a run produces no post-process tasks.
func (s *Scheduler) RunSync(j *Job) error {
	if j.scheduler != s {
		return ecs.NewError(ecs.ErrWrongScheduler, "job "+j.name+" was not created by this scheduler")
	}
	for current := j; current != nil; {
		next, err := s.runOnce(current)
		if err != nil {
			return err
		}
		current = next
	}
	return nil
}

// runOnce executes exactly one job (not its post-process tail), returning
// the derived post-process Job if its tasks produced any follow-ups.
func (s *Scheduler) runOnce(j *Job) (*Job, error) {
	j.reportedSingleton = make(map[reflect.Type]bool)
	j.currentTaskIndex = -1

	unlock := s.acquireLocks(j)
	defer unlock()

	for _, t := range j.tasks {
		t.Reset(s.store)
	}

	var postProcess []Task
	for i, t := range j.tasks {
		j.currentTaskIndex = i
		follow, err := t.Process(s.store, j)
		if err != nil {
			return nil, err
		}
		if follow != nil {
			postProcess = append(postProcess, follow)
		}
	}
	if len(postProcess) == 0 {
		return nil, nil
	}
	return newJob(s, j.name+"/post", postProcess), nil
}

// Handle is returned by a background scheduling mode. Shutdown stops the
// repeater from issuing new job runs and blocks until any in-flight run
// finishes; it never interrupts a job already in progress.
type Handle struct {
	id     uuid.UUID
	cancel chan struct{}
	done   chan struct{}
	Err    chan error
}

func newHandle() *Handle {
	return &Handle{id: uuid.New(), cancel: make(chan struct{}), done: make(chan struct{}), Err: make(chan error, 1)}
}

// ID returns the identity minted for this background run at scheduling
// time, stable for the Handle's lifetime regardless of how many fixed-rate
// or continuous ticks it goes on to cover.
func (h *Handle) ID() uuid.UUID { return h.id }

// Shutdown requests the scheduler stop issuing new runs and waits for the
// current one, if any, to finish.
func (h *Handle) Shutdown() {
	select {
	case <-h.cancel:
	default:
		close(h.cancel)
	}
	<-h.done
}

// RunAsync runs j once on a new goroutine: one-shot background mode. The
// returned Handle's Err channel receives the run's result (nil on success).
func (s *Scheduler) RunAsync(j *Job) *Handle {
	h := newHandle()
	go func() {
		defer close(h.done)
		h.Err <- s.RunSync(j)
	}()
	return h
}

// RunFixedRate runs j repeatedly on a new goroutine at a fixed period,
// measured from one run's start to the next: fixed-rate repeater mode.
// Shutdown stops new runs from being issued but lets an in-flight run
// finish under its held locks.
func (s *Scheduler) RunFixedRate(j *Job, period time.Duration) *Handle {
	h := newHandle()
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-h.cancel:
				return
			case <-ticker.C:
				if err := s.RunSync(j); err != nil {
					select {
					case h.Err <- err:
					default:
					}
				}
			}
		}
	}()
	return h
}

// RunContinuous runs j back-to-back on a new goroutine, pausing only long
// enough to keep successive run starts at least minInterval apart:
// continuous (minimal-interval) repeater mode, as opposed to RunFixedRate's
// fixed period regardless of how long a run takes.
func (s *Scheduler) RunContinuous(j *Job, minInterval time.Duration) *Handle {
	h := newHandle()
	go func() {
		defer close(h.done)
		for {
			select {
			case <-h.cancel:
				return
			default:
			}
			start := time.Now()
			if err := s.RunSync(j); err != nil {
				select {
				case h.Err <- err:
				default:
				}
			}
			if elapsed := time.Since(start); elapsed < minInterval {
				select {
				case <-h.cancel:
					return
				case <-time.After(minInterval - elapsed):
				}
			}
		}
	}()
	return h
}
