// Package timer is a min-heap timing wheel adapted from the teacher's own
// timer implementation, used by stream.DeadlineStream to fire a Stream's
// Close when a Read or Write deadline elapses.
package timer

import (
	"container/heap"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/corvus-oss/mordor/logging"
)

// TimeForever is a duration effectively never expiring.
const TimeForever = time.Duration(math.MaxInt64)

var log = logging.Get("mordor:timer")

// Item is a scheduled callback. It is returned by AfterFunc so callers can
// Stop or Reset it before it fires.
type Item struct {
	parent   *Timer
	index    int
	expireAt time.Time
	f        func()
}

// Stop cancels the item. Safe to call more than once.
func (it *Item) Stop() {
	if it.parent == nil {
		return
	}
	it.parent.remove(it)
}

// Reset reschedules the item to fire after d from now.
func (it *Item) Reset(d time.Duration) {
	if it.parent == nil {
		return
	}
	it.parent.reset(it, d)
}

type timerHeap []*Item

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].expireAt.Before(h[j].expireAt) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x interface{}) {
	it := x.(*Item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Timer runs scheduled callbacks on a single background goroutine, calling
// each through executor if one was given (e.g. to hop onto a Scheduler)
// and otherwise running it directly.
type Timer struct {
	name     string
	executor func(func())

	mu      sync.Mutex
	items   timerHeap
	wake    chan struct{}
	stop    chan struct{}
	running bool

	asyncMux  sync.Mutex
	asyncList []func()
}

// New creates a Timer. executor, if non-nil, is used to run every fired
// callback instead of running it inline on the Timer's goroutine.
func New(name string, executor func(func())) *Timer {
	return &Timer{
		name:      name,
		executor:  executor,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		asyncList: make([]func(), 0, 8),
	}
}

// Start launches the background scheduling loop. Safe to call once.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()
	go t.loop()
}

// Stop halts the scheduling loop. Pending items are discarded.
func (t *Timer) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.mu.Unlock()
	close(t.stop)
}

// IsTimerRunning reports whether Start has been called without a matching Stop.
func (t *Timer) IsTimerRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// After behaves like time.After, fired from this Timer's goroutine.
func (t *Timer) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	t.AfterFunc(d, func() { ch <- time.Now() })
	return ch
}

// AfterFunc schedules f to run after d elapses, returning an Item that can
// Stop or Reset the schedule.
func (t *Timer) AfterFunc(d time.Duration, f func()) *Item {
	it := &Item{parent: t, expireAt: time.Now().Add(d), f: f}
	t.mu.Lock()
	heap.Push(&t.items, it)
	t.mu.Unlock()
	t.poke()
	return it
}

// Async executes f on the Timer's own background goroutine as soon as it is
// free, outside of the heap-scheduled path.
func (t *Timer) Async(f func()) {
	t.asyncMux.Lock()
	t.asyncList = append(t.asyncList, f)
	t.asyncMux.Unlock()
	t.poke()
}

func (t *Timer) remove(it *Item) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if it.index < 0 || it.index >= len(t.items) || t.items[it.index] != it {
		return
	}
	heap.Remove(&t.items, it.index)
}

func (t *Timer) reset(it *Item, d time.Duration) {
	t.mu.Lock()
	if it.index >= 0 && it.index < len(t.items) && t.items[it.index] == it {
		it.expireAt = time.Now().Add(d)
		heap.Fix(&t.items, it.index)
	} else {
		it.expireAt = time.Now().Add(d)
		heap.Push(&t.items, it)
	}
	t.mu.Unlock()
	t.poke()
}

func (t *Timer) poke() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Timer) loop() {
	for {
		t.drainAsync()

		t.mu.Lock()
		var wait time.Duration
		if len(t.items) == 0 {
			wait = TimeForever
		} else {
			wait = time.Until(t.items[0].expireAt)
		}
		t.mu.Unlock()

		var tm *time.Timer
		var timerC <-chan time.Time
		if wait != TimeForever {
			tm = time.NewTimer(wait)
			timerC = tm.C
		}

		select {
		case <-t.stop:
			if tm != nil {
				tm.Stop()
			}
			return
		case <-t.wake:
			if tm != nil {
				tm.Stop()
			}
		case <-timerC:
			t.fireDue()
		}
	}
}

func (t *Timer) fireDue() {
	now := time.Now()
	for {
		t.mu.Lock()
		if len(t.items) == 0 || t.items[0].expireAt.After(now) {
			t.mu.Unlock()
			return
		}
		it := heap.Pop(&t.items).(*Item)
		t.mu.Unlock()
		t.run(it.f)
	}
}

func (t *Timer) drainAsync() {
	t.asyncMux.Lock()
	list := t.asyncList
	t.asyncList = make([]func(), 0, 8)
	t.asyncMux.Unlock()
	for _, f := range list {
		t.run(f)
	}
}

func (t *Timer) run(f func()) {
	wrapped := func() {
		defer func() {
			if r := recover(); r != nil {
				const size = 64 << 10
				buf := make([]byte, size)
				buf = buf[:runtime.Stack(buf, false)]
				log.Error("Timer[%v] exec call failed: %v\n%s", t.name, r, buf)
			}
		}()
		f()
	}
	if t.executor != nil {
		t.executor(wrapped)
	} else {
		wrapped()
	}
}
