package mordor

import "runtime"

// SafeGo runs fn in a new goroutine, logging (rather than crashing the
// process on) any panic it raises. Used for the handful of places this
// module starts a goroutine outside a Fiber's own lifecycle, e.g. a
// ClientConnection's request-writing and response-reading work when it was
// given no Scheduler.
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				const size = 64 << 10
				buf := make([]byte, size)
				buf = buf[:runtime.Stack(buf, false)]
				log.Error("SafeGo: %v\n%s", r, buf)
			}
		}()
		fn()
	}()
}
