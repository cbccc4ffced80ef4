package mordor

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/corvus-oss/mordor/internal/goid"
	"github.com/corvus-oss/mordor/logging"
)

// State is a Fiber's point in its lifecycle.
type State int32

const (
	// Init is a freshly created or reset Fiber that has never run.
	Init State = iota
	// Ready is queued on a Scheduler, waiting for a worker.
	Ready
	// Exec is the one Fiber currently running on its goroutine.
	Exec
	// Hold is suspended, holding its stack, waiting to be resumed.
	Hold
	// Term exited normally; it may be reset() with a fresh entry.
	Term
	// Except exited by propagating an error out of its entry function.
	Except
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Ready:
		return "ready"
	case Exec:
		return "exec"
	case Hold:
		return "hold"
	case Term:
		return "term"
	case Except:
		return "except"
	default:
		return "unknown"
	}
}

// Entry is a Fiber's body. Returning a non-nil error drives the Fiber into
// Except; the next switch-in re-raises it to the caller of call().
type Entry func() error

var log = logging.Get("mordor:fiber")

func init() {
	// LogDisabler is specified as Fiber-scoped, not goroutine-scoped: key
	// its suppression map by *Fiber identity rather than logging's default
	// goroutine-id fallback.
	logging.SetDisablerKeyFunc(func() interface{} { return thisFiber() })
}

// Fiber is a cooperatively scheduled execution unit. There is no literal
// stack-pointer/register save here — Go gives every goroutine its own
// growable stack already — so a Fiber is a goroutine held at a rendezvous
// point plus the bookkeeping (state, outer link, scheduler affinity) the
// rest of this library needs to treat it like one. call()/yield() are
// synchronous handoffs over an unbuffered channel: exactly one side of the
// handoff is ever running, which is what lets thisFiber() answer correctly
// without real thread-local storage.
type Fiber struct {
	mu    sync.Mutex
	state State

	entry Entry
	err   error

	resumeCh chan struct{}
	yieldCh  chan struct{}

	outer   *Fiber // who called() us most recently
	started bool

	scheduler *Scheduler // Scheduler under which this Fiber currently runs, if any

	name string
}

const stackSizeUnused = 0 // context switching here is goroutine-native; retained for API parity with spec.md's create(entry, stackSize)

var fiberRegistry sync.Map // goroutine id (int64) -> *Fiber

// New creates a Fiber in Init state. stackSize is accepted for contract
// parity with spec.md's create(entry, stackSize) and is otherwise unused:
// goroutine stacks already grow on demand, so there is no fixed allocation
// to size or fail with OutOfMemory in the normal case.
func New(entry Entry, stackSize int) (*Fiber, error) {
	if entry == nil {
		return nil, NewError(KindOutOfMemory, nil)
	}
	f := &Fiber{
		state:    Init,
		entry:    entry,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan struct{}),
	}
	return f, nil
}

// State returns the Fiber's current lifecycle state.
func (f *Fiber) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the error an Except Fiber's entry returned, if any.
func (f *Fiber) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Reset returns a Term Fiber to Init with a new entry and fresh goroutine
// rendezvous channels; the next Call starts a new goroutine for it. Only
// valid in Term.
func (f *Fiber) Reset(entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Term {
		return NewError(KindNotSchedulable, nil)
	}
	f.entry = entry
	f.err = nil
	f.state = Init
	f.started = false
	f.resumeCh = make(chan struct{})
	f.yieldCh = make(chan struct{})
	return nil
}

// thisFiber returns the currently executing Fiber for this goroutine,
// materializing a root Fiber around it on first use, per spec.md's
// "there is always one" guarantee.
func thisFiber() *Fiber {
	id := goid.Current()
	if v, ok := fiberRegistry.Load(id); ok {
		return v.(*Fiber)
	}
	root := &Fiber{
		state:    Exec,
		name:     "root",
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan struct{}),
		started:  true,
	}
	fiberRegistry.Store(id, root)
	return root
}

// ThisFiber is the exported form of spec.md's thisFiber().
func ThisFiber() *Fiber { return thisFiber() }

// Call suspends the calling Fiber and resumes f. f must be Init, Hold, or
// Term-with-a-fresh-entry (handled by Reset). It returns to the caller when
// f yields or terminates, and re-raises f's entry error if f ended Except.
func (f *Fiber) Call() error {
	caller := thisFiber()
	return f.callFrom(caller)
}

func (f *Fiber) callFrom(caller *Fiber) error {
	f.mu.Lock()
	switch f.state {
	case Init:
		f.outer = caller
		f.state = Exec
		first := !f.started
		f.started = true
		f.mu.Unlock()
		caller.setState(Hold)
		if first {
			go f.run()
		}
		f.handoffResume()
	case Hold:
		f.outer = caller
		f.state = Exec
		f.mu.Unlock()
		caller.setState(Hold)
		f.handoffResume()
	case Exec:
		f.mu.Unlock()
		return ErrNotSchedulable
	default: // Term, Except
		f.mu.Unlock()
		return ErrNotSchedulable
	}
	return f.collectResult()
}

// handoffResume blocks the calling goroutine until f yields or terminates.
// It does not touch fiberRegistry itself: the goroutine backing f (see
// run) registers itself once, on its own goroutine id, the first time it
// runs, since that mapping is what a resumed entry's thisFiber() call needs
// and the caller's goroutine has no way to set it on f's behalf.
func (f *Fiber) handoffResume() {
	f.resumeCh <- struct{}{}
	<-f.yieldCh
}

func (f *Fiber) collectResult() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Except {
		return f.err
	}
	return nil
}

func (f *Fiber) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// run is the goroutine body backing a Fiber from its first Call until its
// entry returns. It blocks on resumeCh for each activation and reports back
// on yieldCh once the entry function itself calls Yield (which also blocks
// on resumeCh) or returns. After a Reset, the next Call starts a new run.
func (f *Fiber) run() {
	// This goroutine backs f until its entry returns (after a Reset, a
	// fresh goroutine takes over). Register it here, on its own goroutine
	// id, rather than from the caller's side of the handoff: thisFiber()
	// calls made from inside entry() (e.g. by Yield) run on this goroutine,
	// not the caller's, and need to find f.
	fiberRegistry.Store(goid.Current(), f)
	defer func() {
		if r := recover(); r != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			log.Error("fiber entry panicked: %v\n%s", r, buf)
			f.mu.Lock()
			f.state = Except
			f.err = NewError(KindIO, nil)
			f.mu.Unlock()
			f.yieldCh <- struct{}{}
		}
	}()
	for {
		<-f.resumeCh
		err := f.entry()
		f.mu.Lock()
		if err != nil {
			f.state = Except
			f.err = err
		} else {
			f.state = Term
		}
		f.mu.Unlock()
		f.yieldCh <- struct{}{}
		// The entry has finished, so this goroutine exits. Reset() gives f
		// fresh channels and clears started, so the next Call() starts a new
		// goroutine instead of resuming this one.
		return
	}
}

// Yield suspends the current Fiber; control returns to whoever called() it.
func Yield() {
	suspend(nil)
}

// Suspend parks the calling Fiber the same way Yield does, except armed,
// if non-nil, runs after the Fiber's state has already committed to Hold
// but before control is handed back to whoever called() it. That is the
// one safe point for a third party to record "reschedule this Fiber
// later": every path that resumes a Fiber checks its state under the
// same mutex armed's commit was made under, so nothing can observe the
// Fiber as still Exec and refuse to resume it once armed has run.
//
// Suspend reports whether it actually suspended. On the bare root Fiber
// materialized around a goroutine with no Scheduler, there is nothing to
// hand control back to, so it is a no-op, armed is never called, and it
// returns false — matching Yield's treatment of the same case.
func Suspend(armed func()) bool {
	return suspend(armed)
}

func suspend(armed func()) bool {
	f := thisFiber()
	if f.outer == nil {
		// The root Fiber materialized around a bare goroutine has nothing
		// to yield to; treat it as a no-op rather than deadlock.
		return false
	}
	f.yield(f.outer, Hold, armed)
	return true
}

// YieldTo performs a symmetric transfer: other becomes Exec, and other's
// outer becomes the current Fiber's caller, i.e. other.outer is this Fiber.
func YieldTo(other *Fiber) error {
	current := thisFiber()
	current.setState(Hold)
	return other.callFrom(current)
}

func (f *Fiber) yield(to *Fiber, newState State, armed func()) {
	f.mu.Lock()
	f.state = newState
	f.mu.Unlock()
	if armed != nil {
		armed()
	}
	f.yieldCh <- struct{}{}
	<-f.resumeCh
}

var fiberSeq atomic.Int64

// Name returns a diagnostic label, assigning one lazily if none was set.
func (f *Fiber) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.name == "" {
		f.name = "fiber-" + itoa(fiberSeq.Add(1))
	}
	return f.name
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
