package scheduler

import (
	"reflect"
	"sort"

	"github.com/google/uuid"

	"latticecs/internal/core/ecs"
)

var resultType = reflect.TypeOf((*Result)(nil)).Elem()

// receiverBinding is one task's reflectively-discovered Report(Result)
// method, bound to that task instance.
type receiverBinding struct {
	taskIndex int
	method    reflect.Value
	paramType reflect.Type
}

// Job is an ordered task list executed under one set of locks. Build one
// with Scheduler.NewJob; a Job only ever runs on the Scheduler that created
// it (ErrWrongScheduler otherwise).
type Job struct {
	scheduler *Scheduler
	id        uuid.UUID
	name      string
	tasks     []Task

	exclusive bool
	typeSet   []ecs.ComponentType

	receivers []receiverBinding

	currentTaskIndex  int
	reportedSingleton map[reflect.Type]bool
}

func newJob(s *Scheduler, name string, tasks []Task) *Job {
	j := &Job{scheduler: s, id: uuid.New(), name: name, tasks: tasks, reportedSingleton: make(map[reflect.Type]bool)}

	typeSetSeen := make(map[ecs.ComponentType]bool)
	for _, t := range tasks {
		modifies := false
		if m, ok := t.(EntitySetModifier); ok {
			modifies = m.ModifiesEntitySet()
		}
		accessor, isAccessor := t.(TypeAccessor)
		if !isAccessor || modifies {
			j.exclusive = true
			continue
		}
		for _, ct := range accessor.AccessedTypes() {
			typeSetSeen[ct] = true
		}
	}
	if !j.exclusive {
		for ct := range typeSetSeen {
			j.typeSet = append(j.typeSet, ct)
		}
		sort.Slice(j.typeSet, func(i, k int) bool { return j.typeSet[i].Name() < j.typeSet[k].Name() })
	}

	j.receivers = buildReceivers(tasks)
	return j
}

// buildReceivers reflectively enumerates each task's Report(Result) method
// set: every exported method literally named Report taking one parameter
// whose type is (or implements) Result.
func buildReceivers(tasks []Task) []receiverBinding {
	var out []receiverBinding
	for i, t := range tasks {
		v := reflect.ValueOf(t)
		tt := v.Type()
		for m := 0; m < tt.NumMethod(); m++ {
			unbound := tt.Method(m)
			if unbound.Name != "Report" || unbound.Type.NumIn() != 2 {
				continue
			}
			paramType := unbound.Type.In(1)
			if paramType != resultType && !paramType.Implements(resultType) {
				continue
			}
			out = append(out, receiverBinding{
				taskIndex: i,
				method:    v.Method(m),
				paramType: paramType,
			})
		}
	}
	return out
}

// Report dispatches result to every task after the currently-running one
// whose Report method's parameter type the result is assignable to.
// Reporting a singleton-flagged result twice in the same run is
// ErrSingletonReported.
func (j *Job) Report(result Result) error {
	concrete := reflect.TypeOf(result)
	if result.Singleton() {
		if j.reportedSingleton[concrete] {
			return ecs.NewError(ecs.ErrSingletonReported, "singleton result reported twice: "+concrete.String())
		}
		j.reportedSingleton[concrete] = true
	}
	val := reflect.ValueOf(result)
	for _, rb := range j.receivers {
		if rb.taskIndex <= j.currentTaskIndex {
			continue
		}
		if concrete.AssignableTo(rb.paramType) {
			rb.method.Call([]reflect.Value{val})
		}
	}
	return nil
}

// Name returns the job's name, used to derive post-process job names.
func (j *Job) Name() string { return j.name }

// ID returns the run identity newJob minted for this Job. A post-process
// tail gets its own fresh ID (it's a distinct Job, built by a fresh
// newJob call), so correlating a run's original job with its tail is done
// by name ("foo" / "foo/post"), not by ID.
func (j *Job) ID() uuid.UUID { return j.id }
