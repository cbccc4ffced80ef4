// Package goid extracts the runtime goroutine id of the calling goroutine.
//
// Go deliberately does not expose goroutine identity. The fiber substrate
// needs a thread-local-storage equivalent to know which Fiber is executing
// "on this OS thread" (in our model, on this goroutine) so that thisFiber
// can materialize a root Fiber the first time a bare goroutine touches the
// library. Parsing runtime.Stack's header line is the standard workaround
// used by goroutine-local-storage packages; it is only ever used for
// bookkeeping, never for control flow.
package goid

import (
	"bytes"
	"runtime"
	"strconv"
)

// Current returns the id of the calling goroutine.
func Current() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return -1
	}
	b = b[len(prefix):]
	sp := bytes.IndexByte(b, ' ')
	if sp < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(b[:sp]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
