package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latticecs/internal/core/ecs"
)

// chainingTask returns a follow-up task exactly once, then nil, so a job
// built from it chains one post-process job before terminating.
type chainingTask struct {
	noopTask
	emitted bool
	follows *noopTask
}

func (t *chainingTask) Process(store *ecs.EntityStore, job *Job) (Task, error) {
	t.processCalls++
	if t.emitted {
		return nil, nil
	}
	t.emitted = true
	t.follows = &noopTask{}
	return t.follows, nil
}

func Test_RunSync_ChainsPostProcessJobOnSameGoroutine(t *testing.T) {
	// Arrange
	s := New(ecs.NewEntityStore())
	ct := &chainingTask{}
	j := s.NewJob("chain", ct)

	// Act
	err := s.RunSync(j)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, ct.follows)
	assert.Equal(t, 1, ct.follows.processCalls)
}

func Test_RunSync_RejectsJobFromAnotherScheduler(t *testing.T) {
	s1 := New(ecs.NewEntityStore())
	s2 := New(ecs.NewEntityStore())
	j := s1.NewJob("job", &noopTask{})

	err := s2.RunSync(j)

	require.Error(t, err)
	assert.True(t, ecs.IsCode(err, ecs.ErrWrongScheduler))
}

func Test_RunSync_CallsResetBeforeProcessOnEveryTask(t *testing.T) {
	s := New(ecs.NewEntityStore())
	task := &noopTask{}
	j := s.NewJob("job", task)

	require.NoError(t, s.RunSync(j))

	assert.Equal(t, 1, task.resetCalls)
	assert.Equal(t, 1, task.processCalls)
}

func Test_RunAsync_RunsOnBackgroundGoroutineAndReportsErr(t *testing.T) {
	s := New(ecs.NewEntityStore())
	j := s.NewJob("job", &noopTask{})

	h := s.RunAsync(j)

	select {
	case err := <-h.Err:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunAsync did not report completion in time")
	}
	h.Shutdown()
}

func Test_RunFixedRate_RunsMultipleTimesUntilShutdown(t *testing.T) {
	s := New(ecs.NewEntityStore())
	task := &countingTask{}
	j := s.NewJob("job", task)

	h := s.RunFixedRate(j, 10*time.Millisecond)
	time.Sleep(55 * time.Millisecond)
	h.Shutdown()

	assert.GreaterOrEqual(t, task.count(), 2)
}

func Test_RunContinuous_PacesSuccessiveRunsByMinInterval(t *testing.T) {
	s := New(ecs.NewEntityStore())
	task := &countingTask{}
	j := s.NewJob("job", task)

	h := s.RunContinuous(j, 10*time.Millisecond)
	time.Sleep(55 * time.Millisecond)
	h.Shutdown()

	assert.GreaterOrEqual(t, task.count(), 2)
}

func Test_Handle_Shutdown_IsIdempotent(t *testing.T) {
	s := New(ecs.NewEntityStore())
	h := s.RunFixedRate(s.NewJob("job", &noopTask{}), time.Millisecond)

	h.Shutdown()
	assert.NotPanics(t, func() { h.Shutdown() })
}

// countingTask counts Process calls under a mutex, for repeater tests.
type countingTask struct {
	noopTask
	mu sync.Mutex
	n  int
}

func (t *countingTask) Process(store *ecs.EntityStore, job *Job) (Task, error) {
	t.mu.Lock()
	t.n++
	t.mu.Unlock()
	return nil, nil
}

func (t *countingTask) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// blockingTask signals started once Process begins, then waits for release
// before returning, letting a test observe two jobs' lock windows overlap.
type blockingTask struct {
	types   []ecs.ComponentType
	started chan struct{}
	release chan struct{}
}

func (t *blockingTask) Reset(store *ecs.EntityStore)       {}
func (t *blockingTask) AccessedTypes() []ecs.ComponentType { return t.types }
func (t *blockingTask) ModifiesEntitySet() bool            { return false }
func (t *blockingTask) Process(store *ecs.EntityStore, job *Job) (Task, error) {
	close(t.started)
	<-t.release
	return nil, nil
}

func Test_Concurrency_DisjointTypeJobsRunWithoutBlockingEachOther(t *testing.T) {
	// Arrange: scenario 6 — J1 accesses {posStub} read/write-shared, J2
	// accesses {velStub}, neither modifies the entity set; both should run
	// concurrently under the store's shared world lock.
	s := New(ecs.NewEntityStore())
	a := &blockingTask{types: []ecs.ComponentType{ecs.TypeOf[posStub]()}, started: make(chan struct{}), release: make(chan struct{})}
	b := &blockingTask{types: []ecs.ComponentType{ecs.TypeOf[velStub]()}, started: make(chan struct{}), release: make(chan struct{})}

	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() { doneA <- s.RunSync(s.NewJob("a", a)) }()
	go func() { doneB <- s.RunSync(s.NewJob("b", b)) }()

	// Act & Assert: both must be able to start without waiting on the other.
	waitOrFail(t, a.started, "job a never started")
	waitOrFail(t, b.started, "job b never started — disjoint-type jobs should run concurrently")

	close(a.release)
	close(b.release)
	require.NoError(t, <-doneA)
	require.NoError(t, <-doneB)
}

func Test_Concurrency_ExclusiveJobWaitsForSharedJobsToFinish(t *testing.T) {
	s := New(ecs.NewEntityStore())
	shared := &blockingTask{types: []ecs.ComponentType{ecs.TypeOf[posStub]()}, started: make(chan struct{}), release: make(chan struct{})}

	go s.RunSync(s.NewJob("shared", shared))
	waitOrFail(t, shared.started, "shared job never started")

	exclusiveDone := make(chan error, 1)
	go func() { exclusiveDone <- s.RunSync(s.NewJob("exclusive", &noopTask{})) }()

	select {
	case <-exclusiveDone:
		t.Fatal("exclusive job ran while a shared job still held the world lock")
	case <-time.After(30 * time.Millisecond):
	}

	close(shared.release)
	select {
	case err := <-exclusiveDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("exclusive job never ran after the shared job released its lock")
	}
}

func waitOrFail(t *testing.T, ch chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal(msg)
	}
}
