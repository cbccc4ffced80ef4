// Package stream is the Stream abstraction from spec.md §4.3: a
// byte-oriented full-duplex I/O contract that may suspend the calling
// Fiber, grounded on the teacher's nbio.Conn — except where nbio.Conn is a
// non-blocking socket multiplexed by an epoll/kqueue reactor, every Stream
// implementation here suspends by simply blocking its calling goroutine,
// which is the Fiber/Scheduler substrate's own suspension point (see
// mordor.Fiber).
package stream

import (
	"errors"
	"io"
)

// Side selects which half of a full-duplex Stream to close.
type Side int

const (
	SideRead Side = iota
	SideWrite
	SideBoth
)

// Stream is the suspending byte-oriented I/O contract spec.md §4.3
// describes. A Read of zero with a nil error indicates orderly
// end-of-input; callers should keep calling Read rather than treat 0,nil
// as an error.
type Stream interface {
	Read(buf []byte) (n int, err error)
	Write(buf []byte) (n int, err error)
	Close(side Side) error
}

// Seeker is the optional seek capability spec.md §4.3 allows some Streams
// to provide.
type Seeker interface {
	Seek(offset int64, whence int) (int64, error)
}

var (
	// ErrClosed reports an operation on an already-closed Stream.
	ErrClosed = errors.New("stream: closed")
	// ErrReset reports a peer-initiated connection reset.
	ErrReset = errors.New("stream: reset")
	// ErrTimeout reports a deadline expiring mid-operation.
	ErrTimeout = errors.New("stream: timeout")
)

// AsReader adapts a Stream to io.Reader for interop with stdlib parsers.
func AsReader(s Stream) io.Reader {
	return readerFunc(s.Read)
}

// AsWriter adapts a Stream to io.Writer.
func AsWriter(s Stream) io.Writer {
	return writerFunc(s.Write)
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
