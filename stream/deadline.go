package stream

import (
	"sync"
	"time"

	"github.com/corvus-oss/mordor/timer"
)

// DeadlineStream wraps a Stream with read/write deadlines enforced by a
// timer.Timer rather than the underlying transport's own deadline support,
// so any Stream - not just NetStream - can be given a timeout. On
// expiry it closes the wrapped Stream and every in-flight Read/Write
// returns ErrTimeout.
type DeadlineStream struct {
	inner Stream
	t     *timer.Timer
	owned bool

	mu         sync.Mutex
	readTimer  *timer.Item
	writeTimer *timer.Item
	timedOut   bool
}

// NewDeadlineStream wraps inner, using t to schedule deadline callbacks. If
// t is nil, a private timer.Timer is created and started for this stream
// alone.
func NewDeadlineStream(inner Stream, t *timer.Timer) *DeadlineStream {
	owned := false
	if t == nil {
		t = timer.New("deadline-stream", nil)
		t.Start()
		owned = true
	}
	return &DeadlineStream{inner: inner, t: t, owned: owned}
}

// SetReadDeadline arms (or, with d<=0, disarms) the read-side timeout.
func (d *DeadlineStream) SetReadDeadline(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readTimer != nil {
		d.readTimer.Stop()
		d.readTimer = nil
	}
	if timeout > 0 {
		d.readTimer = d.t.AfterFunc(timeout, d.onTimeout)
	}
}

// SetWriteDeadline arms (or, with d<=0, disarms) the write-side timeout.
func (d *DeadlineStream) SetWriteDeadline(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeTimer != nil {
		d.writeTimer.Stop()
		d.writeTimer = nil
	}
	if timeout > 0 {
		d.writeTimer = d.t.AfterFunc(timeout, d.onTimeout)
	}
}

func (d *DeadlineStream) onTimeout() {
	d.mu.Lock()
	d.timedOut = true
	d.mu.Unlock()
	d.inner.Close(SideBoth)
}

func (d *DeadlineStream) Read(buf []byte) (int, error) {
	n, err := d.inner.Read(buf)
	if err != nil {
		return n, d.maybeTimeout(err)
	}
	return n, nil
}

func (d *DeadlineStream) Write(buf []byte) (int, error) {
	n, err := d.inner.Write(buf)
	if err != nil {
		return n, d.maybeTimeout(err)
	}
	return n, nil
}

func (d *DeadlineStream) maybeTimeout(err error) error {
	d.mu.Lock()
	timedOut := d.timedOut
	d.mu.Unlock()
	if timedOut {
		return ErrTimeout
	}
	return err
}

// Close cancels any pending deadlines, closes the wrapped Stream, and
// stops the timer if it was privately owned.
func (d *DeadlineStream) Close(side Side) error {
	d.mu.Lock()
	if d.readTimer != nil {
		d.readTimer.Stop()
		d.readTimer = nil
	}
	if d.writeTimer != nil {
		d.writeTimer.Stop()
		d.writeTimer = nil
	}
	owned := d.owned
	d.mu.Unlock()
	if owned {
		d.t.Stop()
	}
	return d.inner.Close(side)
}
