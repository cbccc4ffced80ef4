package httpc

import (
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/corvus-oss/mordor"
)

// RequestState is the request-side state machine from spec.md §4.6.
type RequestState int

const (
	Queued RequestState = iota
	Writing
	Sent
	TrailerSent
	RequestDone
)

func (s RequestState) String() string {
	switch s {
	case Queued:
		return "queued"
	case Writing:
		return "writing"
	case Sent:
		return "sent"
	case TrailerSent:
		return "trailer-sent"
	case RequestDone:
		return "done"
	default:
		return "unknown"
	}
}

// ResponseState is the response-side state machine from spec.md §4.6.
type ResponseState int

const (
	Pending ResponseState = iota
	ReadingHeaders
	Headers
	ReadingBody
	TrailerRead
	ResponseDone
)

func (s ResponseState) String() string {
	switch s {
	case Pending:
		return "pending"
	case ReadingHeaders:
		return "reading-headers"
	case Headers:
		return "headers"
	case ReadingBody:
		return "reading-body"
	case TrailerRead:
		return "trailer-read"
	case ResponseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Response is what a ClientRequest's response side exposes once Headers
// is reached.
type Response struct {
	Proto      string
	StatusCode int
	Status     string
	Header     http.Header
	Body       io.Reader
}

// ClientRequest is one pipelined HTTP/1.x exchange on a ClientConnection,
// tracking the independent request-side and response-side state machines
// spec.md §4.6 describes.
type ClientRequest struct {
	ID uuid.UUID

	conn   *ClientConnection // non-owning: conn outlives every request it issued
	method string
	uri    string
	header http.Header

	bodyFraming   Framing
	contentLength int64

	mu        sync.Mutex
	reqState  RequestState
	respState ResponseState
	cancelled bool
	aborted   bool
	reported  bool  // whether this request's terminal metrics outcome has fired
	err       error // latched failure specific to this request, if any

	writeReady  *onceChan // closed once promoted to Writing
	respReady   *onceChan // closed once response reaches Headers (or failed)
	requestDone *onceChan // closed once reqState reaches RequestDone
	responseGot *onceChan // closed once respState reaches ResponseDone

	// waitSched/waitFiber are this request's scheduling site: the
	// Scheduler and Fiber to resume once whichever channel Body() or
	// Response() is currently parked on closes. Set by await, cleared by
	// wake; nil whenever nothing is parked or the caller isn't running
	// under a Scheduler at all.
	waitSched *mordor.Scheduler
	waitFiber *mordor.Fiber

	bodyWriter io.WriteCloser
	response   *Response
}

func newClientRequest(conn *ClientConnection, method, uri string, header http.Header, framing Framing, contentLength int64) *ClientRequest {
	if header == nil {
		header = make(http.Header)
	}
	return &ClientRequest{
		ID:            uuid.New(),
		conn:          conn,
		method:        method,
		uri:           uri,
		header:        header,
		bodyFraming:   framing,
		contentLength: contentLength,
		writeReady:    newOnceChan(),
		respReady:     newOnceChan(),
		requestDone:   newOnceChan(),
		responseGot:   newOnceChan(),
	}
}

// RequestState returns the current request-side state.
func (r *ClientRequest) RequestState() RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqState
}

// ResponseState returns the current response-side state.
func (r *ClientRequest) ResponseState() ResponseState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.respState
}

// Body blocks until this request has been promoted to Writing, then
// returns a writer for the request body framed per the Framing given to
// Request(). Close moves the request side straight from Writing to
// RequestDone, queues the request for its response, and promotes the next
// pending request. Sent and TrailerSent are never entered, and this writer
// offers no way to set a chunked trailer.
func (r *ClientRequest) Body() (io.WriteCloser, error) {
	r.await(r.writeReady.Done())
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return &requestBodyWriter{req: r, w: r.bodyWriter}, nil
}

// Response blocks until the response reaches Headers (or this request
// fails before then), and returns the Response whose Body must be fully
// read (or Finish'd) before the next response can be consumed.
func (r *ClientRequest) Response() (*Response, error) {
	r.await(r.respReady.Done())
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.response, nil
}

// await blocks until ch is closed, suspending the calling Fiber rather
// than the raw goroutine whenever one is running under a Scheduler: it
// records this request's scheduling site (the Scheduler and the Fiber to
// resume) so wake can redispatch it once ch closes, instead of leaving
// the calling goroutine — and the worker slot it occupies — blocked on a
// channel receive for however long the wire I/O behind ch takes. Callers
// with no Scheduler (e.g. a bare goroutine driving one request directly)
// fall back to blocking the same way this always did.
func (r *ClientRequest) await(ch <-chan struct{}) {
	select {
	case <-ch:
		return
	default:
	}
	sched := mordor.Current()
	if sched == nil {
		<-ch
		return
	}
	f := mordor.ThisFiber()
	parked := mordor.Suspend(func() {
		r.mu.Lock()
		r.waitSched, r.waitFiber = sched, f
		r.mu.Unlock()
		go func() {
			<-ch
			r.wake()
		}()
	})
	if !parked {
		<-ch
	}
}

// wake reschedules whatever Fiber await parked for this request, if any.
func (r *ClientRequest) wake() {
	r.mu.Lock()
	sched, f := r.waitSched, r.waitFiber
	r.waitSched, r.waitFiber = nil, nil
	r.mu.Unlock()
	if sched != nil && f != nil {
		sched.Schedule(f, mordor.AnyThread)
	}
}

// Finish drains and discards the response body if the caller does not
// want to read it, transitioning ResponseDone.
func (r *ClientRequest) Finish() error {
	resp, err := r.Response()
	if err != nil {
		return err
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// Cancel implements spec.md §4.6's cancel(abort). abort=false is
// cooperative: a still-Queued request is removed from the queue without
// touching the wire and fails with Cancelled, a Writing one
// is marked so future writes fail with Cancelled without tearing down the
// connection. abort=true tears down the underlying Stream and fails every
// not-yet-Done request on the connection with Aborted.
func (r *ClientRequest) Cancel(abort bool) {
	if abort {
		r.conn.abort()
		return
	}
	r.conn.cancelCooperative(r)
}

// fail may run concurrently with itself: Cancel(false) drives it from the
// caller's goroutine while a wire error drives it from the response pump,
// and nothing serializes the two against each other. The state mutation
// is safe under r.mu; the four onceChan.Close calls below are each
// independently safe under concurrent callers, which is the only reason
// this function itself does not need its own exclusion.
func (r *ClientRequest) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.reqState = RequestDone
	r.respState = ResponseDone
	r.maybeReportLocked()
	r.mu.Unlock()

	r.writeReady.Close()
	r.respReady.Close()
	r.requestDone.Close()
	r.responseGot.Close()
}

// outcomeLocked maps the request's latched error, if any, to a metrics
// outcome label. Caller must hold r.mu.
func (r *ClientRequest) outcomeLocked() string {
	switch {
	case r.err == nil:
		return "done"
	case mordor.IsKind(r.err, mordor.KindCancelled):
		return "cancelled"
	case mordor.IsKind(r.err, mordor.KindAborted):
		return "aborted"
	default:
		return "failed"
	}
}

// maybeReportLocked fires the request's terminal metrics outcome exactly
// once, once both state machines have reached their Done state. Caller
// must hold r.mu.
func (r *ClientRequest) maybeReportLocked() {
	if r.reported || r.reqState != RequestDone || r.respState != ResponseDone {
		return
	}
	r.reported = true
	r.conn.metrics.RequestFinished(r.outcomeLocked())
}

// onceChan is a close-at-most-once signal channel: concurrent Close
// callers race safely (sync.Once serializes them), unlike a bare
// select-then-close, which two concurrent closers can both pass before
// either reaches the close, panicking with "close of closed channel".
type onceChan struct {
	ch   chan struct{}
	once sync.Once
}

func newOnceChan() *onceChan {
	return &onceChan{ch: make(chan struct{})}
}

// Close closes the channel exactly once regardless of how many goroutines
// call it concurrently.
func (o *onceChan) Close() {
	o.once.Do(func() { close(o.ch) })
}

// Done returns the underlying channel, closed once Close has run.
func (o *onceChan) Done() <-chan struct{} {
	return o.ch
}

type requestBodyWriter struct {
	req *ClientRequest
	w   io.WriteCloser
}

func (w *requestBodyWriter) Write(p []byte) (int, error) {
	w.req.mu.Lock()
	if w.req.cancelled || w.req.aborted {
		w.req.mu.Unlock()
		return 0, mordor.NewError(mordor.KindCancelled, nil)
	}
	w.req.mu.Unlock()
	return w.w.Write(p)
}

func (w *requestBodyWriter) Close() error {
	err := w.w.Close()
	w.req.conn.onRequestBodyClosed(w.req)
	return err
}
