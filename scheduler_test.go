package mordor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulingNItemsRunsEachExactlyOnce(t *testing.T) {
	s := NewScheduler(4, false)
	defer s.Stop()

	const n = 200
	var count atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		s.ScheduleFunc(func() {
			count.Add(1)
			wg.Done()
		}, AnyThread)
	}

	waitWithTimeout(t, &wg, time.Second*5)
	assert.EqualValues(t, n, count.Load())
}

func TestYieldToThisRedispatchesFiber(t *testing.T) {
	s := NewScheduler(2, false)
	defer s.Stop()

	done := make(chan struct{})
	s.ScheduleFunc(func() {
		before := Current()
		s.YieldToThis()
		after := Current()
		assert.Equal(t, before, after)
		close(done)
	}, AnyThread)

	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("fiber was never redispatched")
	}
}

func TestThreadHintRoutesToMatchingWorker(t *testing.T) {
	s := NewScheduler(3, false)
	defer s.Stop()

	done := make(chan int, 1)
	s.ScheduleFunc(func() {}, AnyThread) // warm up workers
	time.Sleep(10 * time.Millisecond)

	s.Schedule(mustFiber(t, func() error {
		done <- 1
		return nil
	}), 1)

	select {
	case v := <-done:
		assert.Equal(t, 1, v)
	case <-time.After(time.Second * 5):
		t.Fatal("hinted item never ran")
	}
}

func TestStopAfterQuiescenceIsIdempotent(t *testing.T) {
	s := NewScheduler(1, false)
	var wg sync.WaitGroup
	wg.Add(1)
	s.ScheduleFunc(wg.Done, AnyThread)
	waitWithTimeout(t, &wg, time.Second*5)
	s.Stop()
	s.Stop()
}

func mustFiber(t *testing.T, entry Entry) *Fiber {
	f, err := New(entry, 0)
	require.NoError(t, err)
	return f
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for completion")
	}
}
