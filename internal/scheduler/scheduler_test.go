package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_FirstFireAfterOneInterval(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	var fired atomic.Int64
	start := time.Now()
	var firstFire atomic.Value
	s.AddTask(func() {
		firstFire.CompareAndSwap(nil, time.Since(start))
		fired.Add(1)
	}, 100*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 0, fired.Load(), "task must not fire before its first interval")

	time.Sleep(100 * time.Millisecond)
	require.GreaterOrEqual(t, fired.Load(), int64(1))
	elapsed := firstFire.Load().(time.Duration)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestScheduler_OverlappingExecutionsAllowed(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	var started atomic.Int64
	s.AddTask(func() {
		started.Add(1)
		// Runs longer than the interval; the scheduler must not
		// wait for it before dispatching the next execution.
		time.Sleep(300 * time.Millisecond)
	}, 100*time.Millisecond)

	time.Sleep(350 * time.Millisecond)
	assert.GreaterOrEqual(t, started.Load(), int64(2),
		"long-running task must be re-dispatched, not serialized")
}

func TestScheduler_AddTaskWakesSleepingWorker(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	// Worker is parked on a far deadline.
	s.AddTask(func() {}, time.Hour)

	var fired atomic.Int64
	s.AddTask(func() { fired.Add(1) }, 50*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.GreaterOrEqual(t, fired.Load(), int64(1),
		"a short task added while the worker sleeps must still fire on time")
}

func TestScheduler_StopClearsTasksAndIsIdempotent(t *testing.T) {
	s := New()
	s.Start()
	s.AddTask(func() {}, time.Second)
	s.AddTask(func() {}, time.Minute)
	require.Equal(t, 2, s.TaskCount())

	s.Stop()
	assert.Equal(t, 0, s.TaskCount())
	assert.False(t, s.Running())

	// Second stop must return immediately without panicking.
	s.Stop()
}

func TestScheduler_StopPreventsFurtherFires(t *testing.T) {
	s := New()
	s.Start()

	var fired atomic.Int64
	s.AddTask(func() { fired.Add(1) }, 30*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	s.Stop()
	n := fired.Load()
	require.GreaterOrEqual(t, n, int64(1))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, fired.Load(), "no fires after Stop")
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	s := New()
	s.Start()
	s.Stop()

	s.Start()
	defer s.Stop()

	var fired atomic.Int64
	s.AddTask(func() { fired.Add(1) }, 30*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.GreaterOrEqual(t, fired.Load(), int64(1))
}
