package mordor

import (
	"container/list"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// AnyThread is the wildcard threadHint: any idle worker may take the item.
const AnyThread = -1

// burstFactor caps the ephemeral overflow goroutines an unhijacked
// Scheduler may spin up, relative to its fixed worker count, when every
// dedicated worker is stuck in a blocking Stream call and AnyThread work
// is still backed up in the queue.
const burstFactor = 4

type item struct {
	fiber *Fiber
	fn    func()
	hint  int
}

// Scheduler is a FIFO of schedulable items dispatched across a pool of
// worker goroutines, modeled directly on the teacher's taskpool.FastPool
// and worker.go dispatch loop: one mutex+cond guarded list.List, N runners
// blocked in cond.Wait() until Schedule wakes one of them.
type Scheduler struct {
	mux   sync.Mutex
	cond  *sync.Cond
	queue *list.List

	wg       sync.WaitGroup
	running  bool
	hijacked bool

	// burst bounds the extra, ephemeral worker goroutines a Scheduler may
	// spin up when its fixed pool is backed up and a Fiber is stuck in a
	// blocking Stream call. nil when hijacked, since a hijacked Scheduler's
	// worker count is deliberately exactly numWorkers.
	burst *semaphore.Weighted

	metrics schedulerMetrics
}

// schedulerMetrics is the narrow surface metrics.Collector implements; kept
// here as an interface so this package does not import metrics (which
// would otherwise import mordor for documentation purposes and cycle).
type schedulerMetrics interface {
	QueueDepth(delta int)
	Dispatched()
}

type noopMetrics struct{}

func (noopMetrics) QueueDepth(int) {}
func (noopMetrics) Dispatched()    {}

// NewScheduler starts a Scheduler with numWorkers dedicated goroutines. If
// hijack is true, the calling goroutine itself runs worker 0's loop, so
// NewScheduler does not return until that loop exits; otherwise all workers
// are background goroutines and NewScheduler returns immediately.
func NewScheduler(numWorkers int, hijack bool) *Scheduler {
	if numWorkers < 1 {
		numWorkers = 1
	}
	s := &Scheduler{
		queue:   list.New(),
		running: true,
		metrics: noopMetrics{},
	}
	s.cond = sync.NewCond(&s.mux)
	s.hijacked = hijack
	if !hijack {
		s.burst = semaphore.NewWeighted(int64(numWorkers) * burstFactor)
	}

	start := 0
	if hijack {
		start = 1
	}
	for i := start; i < numWorkers; i++ {
		s.wg.Add(1)
		id := i
		go s.workerLoop(id)
	}
	if hijack {
		s.wg.Add(1)
		s.workerLoop(0)
	}
	return s
}

// SetMetrics installs a metrics sink; nil restores the no-op sink.
func (s *Scheduler) SetMetrics(m schedulerMetrics) {
	if m == nil {
		m = noopMetrics{}
	}
	s.mux.Lock()
	s.metrics = m
	s.mux.Unlock()
}

// Schedule enqueues item (a Fiber, or a zero-argument callable with a
// preferred worker id or AnyThread) and wakes an idle worker. Never blocks.
func (s *Scheduler) Schedule(f *Fiber, threadHint int) {
	s.push(item{fiber: f, hint: threadHint})
}

// ScheduleFunc enqueues a callable to be run on a freshly-wrapped idle Fiber.
func (s *Scheduler) ScheduleFunc(fn func(), threadHint int) {
	s.push(item{fn: fn, hint: threadHint})
}

func (s *Scheduler) push(it item) {
	s.mux.Lock()
	if !s.running {
		s.mux.Unlock()
		return
	}
	s.queue.PushBack(it)
	s.metrics.QueueDepth(1)
	backedUp := s.queue.Len() > 1
	s.mux.Unlock()
	if it.hint == AnyThread {
		s.cond.Signal()
	} else {
		// Only the hinted worker can take this item and Signal may wake a
		// different one, so wake them all.
		s.cond.Broadcast()
	}

	// If the queue is already backed up, the fixed pool may be wedged in
	// blocking Stream calls; borrow a bounded burst goroutine rather than
	// starve AnyThread-hinted work indefinitely.
	if backedUp && it.hint == AnyThread && s.burst != nil && s.burst.TryAcquire(1) {
		go s.burstWorker()
	}
}

// burstWorker runs AnyThread-hinted items until the queue goes dry, then
// releases its semaphore slot and exits. It never takes thread-hinted
// work, since that work is waiting for a specific dedicated worker, not
// for more concurrency.
func (s *Scheduler) burstWorker() {
	defer s.burst.Release(1)
	for {
		s.mux.Lock()
		if !s.running {
			s.mux.Unlock()
			return
		}
		e := s.popMatching(AnyThread)
		s.mux.Unlock()
		if e == nil {
			return
		}
		s.run(*e, -1)
	}
}

// YieldToThis suspends the calling Fiber and places it at the tail of this
// Scheduler's queue, returning only once it has been redispatched. The
// Fiber is queued only after it has committed to Hold (see Suspend), so no
// worker can find it still Exec. On a Fiber with nothing to yield to (a
// bare goroutine's root Fiber) it returns at once.
func (s *Scheduler) YieldToThis() {
	f := thisFiber()
	Suspend(func() { s.Schedule(f, AnyThread) })
}

// Stop sets the shutdown flag, wakes every worker, and joins them.
// Schedule calls made after Stop are dropped. Items already queued are not
// discarded: each dedicated worker keeps running the queued items it can
// take until none is left for it, then exits; burst workers exit without
// taking more. Items hinted for a worker id this Scheduler does not have
// stay queued and never run.
func (s *Scheduler) Stop() {
	s.mux.Lock()
	s.running = false
	s.mux.Unlock()
	s.cond.Broadcast()
	s.wg.Wait()
}

func (s *Scheduler) workerLoop(id int) {
	defer s.wg.Done()
	for {
		s.mux.Lock()
		for s.running && s.queue.Len() == 0 {
			s.cond.Wait()
		}
		if !s.running && s.queue.Len() == 0 {
			s.mux.Unlock()
			return
		}
		e := s.popMatching(id)
		if e == nil {
			// Nothing queued is for this worker: sleep until the next push
			// or Stop instead of spinning on the lock.
			if !s.running {
				s.mux.Unlock()
				return
			}
			s.cond.Wait()
			s.mux.Unlock()
			continue
		}
		s.mux.Unlock()
		s.run(*e, id)
	}
}

// popMatching removes and returns the first queued item whose hint matches
// this worker or is AnyThread. Callers hold s.mux.
func (s *Scheduler) popMatching(id int) *item {
	for e := s.queue.Front(); e != nil; e = e.Next() {
		it := e.Value.(item)
		if it.hint == AnyThread || it.hint == id {
			s.queue.Remove(e)
			s.metrics.QueueDepth(-1)
			return &it
		}
	}
	return nil
}

func (s *Scheduler) run(it item, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("scheduler worker[%d] item panicked: %v\n%s", workerID, r, debug.Stack())
		}
	}()
	f := it.fiber
	if f == nil {
		wrapped, err := New(func() error {
			it.fn()
			return nil
		}, stackSizeUnused)
		if err != nil {
			return
		}
		f = wrapped
	}
	f.scheduler = s
	_ = f.Call()
	s.metrics.Dispatched()
}

// Current returns the Scheduler under which the calling Fiber runs, or nil
// if it was never dispatched by one (e.g. a bare root Fiber).
func Current() *Scheduler {
	return thisFiber().scheduler
}
