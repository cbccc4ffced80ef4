package httpc

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/corvus-oss/mordor"
	"github.com/corvus-oss/mordor/stream"
	"github.com/corvus-oss/mordor/timer"
)

// idleGroup is the shared pool of background timer goroutines backing
// every ClientConnection's deadline enforcement. Handing each connection
// its own private timer.Timer (stream.NewDeadlineStream's default when
// given a nil Timer) would mean one extra goroutine per connection; a
// TimerGroup caps that at a fixed pool and round-robins connections
// across it instead.
var (
	idleGroupOnce sync.Once
	idleGroup     *timer.TimerGroup
)

func sharedIdleGroup() *timer.TimerGroup {
	idleGroupOnce.Do(func() {
		idleGroup = timer.NewGroup("httpc-idle", 8, nil)
		idleGroup.Start()
	})
	return idleGroup
}

// clientConnMetrics is the narrow surface metrics.Collector implements,
// kept as an interface here the same way scheduler.go keeps schedulerMetrics
// local, so this package does not need to import metrics.
type clientConnMetrics interface {
	RequestStarted()
	RequestFinished(outcome string)
}

type noopConnMetrics struct{}

func (noopConnMetrics) RequestStarted()        {}
func (noopConnMetrics) RequestFinished(string) {}

// ClientConnection implements the pipelined HTTP/1.x state machine from
// spec.md §4.5: a single request writer and a single response reader run
// at a time, in request order, over one Connection.
type ClientConnection struct {
	conn      *Connection
	deadline  *stream.DeadlineStream // same Stream conn wraps; arms read/write deadlines
	scheduler *mordor.Scheduler

	mu               sync.Mutex
	cond             *sync.Cond
	pendingRequests  []*ClientRequest // admitted, not yet promoted to Writing
	currentRequest   *ClientRequest   // the one Writing/Sent, awaiting body close
	waitingResponses []*ClientRequest // Sent, awaiting their turn to read a response
	allowNewRequests bool
	stopped          bool
	pumpStarted      bool

	requestErr  error // latched once the request side has failed
	responseErr error // latched once the response side has failed

	metrics clientConnMetrics
}

// NewClientConnection wraps s. scheduler, if non-nil, is used to dispatch
// the request-writing and response-reading background work as Fibers;
// with scheduler nil, mordor.SafeGo is used instead.
func NewClientConnection(s stream.Stream, scheduler *mordor.Scheduler) *ClientConnection {
	ds := stream.NewDeadlineStream(s, sharedIdleGroup().NextTimer())
	cc := &ClientConnection{
		conn:             NewConnection(ds),
		deadline:         ds,
		scheduler:        scheduler,
		allowNewRequests: true,
		metrics:          noopConnMetrics{},
	}
	cc.cond = sync.NewCond(&cc.mu)
	return cc
}

// SetDeadline arms a read and write deadline on the underlying Stream:
// d<=0 disarms both; any other value closes the Stream d from now, after
// which Reads and Writes return ErrTimeout. A Read or Write completing in
// the meantime does not push the deadline back. Backed by the shared
// idle-timer group rather than a goroutine of its own.
func (cc *ClientConnection) SetDeadline(d time.Duration) {
	cc.deadline.SetReadDeadline(d)
	cc.deadline.SetWriteDeadline(d)
}

// SetMetrics installs a metrics sink; nil restores the no-op sink.
func (cc *ClientConnection) SetMetrics(m clientConnMetrics) {
	if m == nil {
		m = noopConnMetrics{}
	}
	cc.mu.Lock()
	cc.metrics = m
	cc.mu.Unlock()
}

// Request admits a new ClientRequest. It is rejected with
// ConnectionClosing once allowNewRequests has gone false (seen
// Connection: close, a prior I/O failure, or an abort). Otherwise it is
// queued and, if the connection has no active writer, promoted and its
// request-side Fiber is scheduled immediately; if the request side has
// already latched a failure, it fails at once with PriorRequestFailed.
func (cc *ClientConnection) Request(method, uri string, header http.Header, framing Framing, contentLength int64) (*ClientRequest, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if !cc.allowNewRequests {
		return nil, mordor.NewError(mordor.KindConnectionClosing, nil)
	}

	req := newClientRequest(cc, method, uri, header, framing, contentLength)
	cc.pendingRequests = append(cc.pendingRequests, req)
	cc.advancePendingLocked()
	cc.ensureResponsePumpLocked()
	cc.metrics.RequestStarted()
	return req, nil
}

func (cc *ClientConnection) promoteLocked(req *ClientRequest) {
	cc.currentRequest = req
	fn := func() { cc.writeRequestHeaders(req) }
	if cc.scheduler != nil {
		cc.scheduler.ScheduleFunc(fn, mordor.AnyThread)
	} else {
		mordor.SafeGo(fn)
	}
}

// advancePendingLocked promotes the next admitted request once the
// connection has no active writer, cascading PriorRequestFailed or
// ConnectionClosing through the queue if the request side is latched.
func (cc *ClientConnection) advancePendingLocked() {
	if cc.currentRequest != nil {
		return
	}
	for len(cc.pendingRequests) > 0 {
		next := cc.pendingRequests[0]
		cc.pendingRequests = cc.pendingRequests[1:]
		switch {
		case cc.requestErr != nil:
			next.fail(mordor.NewError(mordor.KindPriorRequestFailed, cc.requestErr))
			continue
		case !cc.allowNewRequests:
			next.fail(mordor.NewError(mordor.KindConnectionClosing, nil))
			continue
		}
		cc.promoteLocked(next)
		return
	}
}

func (cc *ClientConnection) ensureResponsePumpLocked() {
	if cc.pumpStarted {
		return
	}
	cc.pumpStarted = true
	if cc.scheduler != nil {
		cc.scheduler.ScheduleFunc(cc.responsePump, mordor.AnyThread)
	} else {
		mordor.SafeGo(cc.responsePump)
	}
}

// writeRequestHeaders runs outside cc.mu (it performs Stream I/O, which
// must never happen under the bookkeeping lock): it writes the request
// line and headers, then flips the request to Writing and hands the
// caller a body writer.
func (cc *ClientConnection) writeRequestHeaders(req *ClientRequest) {
	err := cc.conn.WriteRequestLine(req.method, req.uri, "HTTP/1.1")
	if err == nil {
		err = cc.conn.WriteHeaders(req.header)
	}
	if err != nil {
		cc.mu.Lock()
		cc.requestErr = err
		cc.currentRequest = nil
		req.fail(err)
		cc.advancePendingLocked()
		cc.mu.Unlock()
		return
	}

	if hasExpectContinue(req.header) {
		final, sl, hdr, err := cc.awaitContinue()
		if err != nil {
			cc.mu.Lock()
			cc.requestErr = err
			cc.currentRequest = nil
			req.fail(err)
			cc.advancePendingLocked()
			cc.mu.Unlock()
			return
		}
		if final {
			// The server answered before we ever opened a body (typically
			// 417 Expectation Failed): there is no body to send, so finish
			// the request side immediately and deliver the response we
			// already read ourselves, rather than waiting for a body close
			// that will never happen to hand this request to responsePump.
			req.mu.Lock()
			req.reqState = RequestDone
			req.maybeReportLocked()
			req.mu.Unlock()
			req.requestDone.Close()
			cc.deliverResponse(req, sl, hdr)

			cc.mu.Lock()
			cc.currentRequest = nil
			cc.advancePendingLocked()
			cc.mu.Unlock()
			return
		}
		// Got 100 Continue: proceed to send the body as usual.
	}

	req.mu.Lock()
	req.reqState = Writing
	req.bodyWriter = cc.conn.BodyWriter(req.bodyFraming)
	req.mu.Unlock()
	req.writeReady.Close()

	if req.contentLength == 0 && req.bodyFraming != FramingChunked {
		bw, err := req.Body()
		if err == nil {
			bw.Close()
		}
	}
}

// hasExpectContinue reports whether req's Expect header is the
// 100-continue token, the only Expect value spec.md §6 requires
// handling for.
func hasExpectContinue(h http.Header) bool {
	return strings.EqualFold(strings.TrimSpace(h.Get("Expect")), "100-continue")
}

// awaitContinue reads informational status lines directly off the wire,
// ahead of responsePump: nothing else reads from cc.conn until this
// request's body closes and it is queued onto waitingResponses, so it is
// safe for the write side to borrow the reader here. It stops at the
// first 100 Continue (final=false, the body may now be sent) or the
// first non-1xx status (final=true, that status line+headers are this
// request's actual response and no body should be sent at all).
func (cc *ClientConnection) awaitContinue() (final bool, sl StatusLine, hdr http.Header, err error) {
	for {
		sl, err = cc.conn.ReadStatusLine()
		if err == nil {
			hdr, err = cc.conn.ReadHeaders()
		}
		if err != nil {
			return false, StatusLine{}, nil, err
		}
		if sl.StatusCode == http.StatusContinue {
			return false, StatusLine{}, nil, nil
		}
		if sl.StatusCode >= 100 && sl.StatusCode < 200 {
			continue
		}
		return true, sl, hdr, nil
	}
}

// onRequestBodyClosed transitions req's request side to RequestDone,
// moves it to the response queue, and promotes the next pending request.
func (cc *ClientConnection) onRequestBodyClosed(req *ClientRequest) {
	req.mu.Lock()
	req.reqState = RequestDone
	req.maybeReportLocked()
	req.mu.Unlock()
	req.requestDone.Close()

	cc.mu.Lock()
	if cc.stopped {
		cc.mu.Unlock()
		return
	}
	if cc.currentRequest == req {
		cc.currentRequest = nil
	}
	cc.waitingResponses = append(cc.waitingResponses, req)
	cc.advancePendingLocked()
	cc.cond.Signal()
	cc.mu.Unlock()
}

// responsePump reads responses strictly in request order: the head of
// waitingResponses gets status+headers, hands the body off to the caller,
// and is not dequeued until that body is fully drained or Finish'd.
func (cc *ClientConnection) responsePump() {
	for {
		cc.mu.Lock()
		for len(cc.waitingResponses) == 0 && !cc.stopped {
			cc.cond.Wait()
		}
		if len(cc.waitingResponses) == 0 {
			cc.mu.Unlock()
			return
		}
		head := cc.waitingResponses[0]
		cc.mu.Unlock()

		head.mu.Lock()
		head.respState = ReadingHeaders
		head.mu.Unlock()

		if !cc.readResponseFor(head) {
			return
		}

		<-head.responseGot.Done()

		cc.mu.Lock()
		if len(cc.waitingResponses) > 0 && cc.waitingResponses[0] == head {
			cc.waitingResponses = cc.waitingResponses[1:]
		}
		cc.mu.Unlock()
	}
}

// readResponseFor reads one response's status line, headers, and wraps
// its body. It returns false if the response side has latched a failure
// and the pump should stop entirely.
func (cc *ClientConnection) readResponseFor(head *ClientRequest) bool {
	for {
		sl, err := cc.conn.ReadStatusLine()
		var hdr http.Header
		if err == nil {
			hdr, err = cc.conn.ReadHeaders()
		}
		if err != nil {
			cc.mu.Lock()
			cc.responseErr = err
			cc.mu.Unlock()
			cc.failAllNotDone(err, head)
			return false
		}
		if sl.StatusCode >= 100 && sl.StatusCode < 200 {
			// A 100 Continue belonging to this request's own
			// Expect handshake is consumed earlier, by
			// awaitContinue, before the body is even sent. Any 1xx
			// seen here is one a server sent outside that
			// handshake (e.g. 103 Early Hints) and is not this
			// request's final response.
			continue
		}
		cc.deliverResponse(head, sl, hdr)
		return true
	}
}

// deliverResponse turns a final status line and headers into head's
// Response and wakes whoever is waiting on it.
func (cc *ClientConnection) deliverResponse(head *ClientRequest, sl StatusLine, hdr http.Header) {
	framing, closeAfter := framingFor(sl, hdr)
	var bodyLen int64
	if framing == FramingIdentity {
		bodyLen, _ = strconv.ParseInt(hdr.Get("Content-Length"), 10, 64)
	}
	raw := cc.conn.BodyReader(framing, bodyLen)
	resp := &Response{
		Proto:      sl.Proto,
		StatusCode: sl.StatusCode,
		Status:     sl.Status,
		Header:     hdr,
		Body:       &responseBodyReader{req: head, inner: raw},
	}

	if closeAfter {
		cc.closeAdmission(head)
	}

	head.mu.Lock()
	head.response = resp
	head.respState = Headers
	head.mu.Unlock()
	head.respReady.Close()
}

func framingFor(sl StatusLine, hdr http.Header) (Framing, bool) {
	closeAfter := strings.EqualFold(hdr.Get("Connection"), "close")
	if sl.Proto == "HTTP/1.0" && !strings.EqualFold(hdr.Get("Connection"), "keep-alive") {
		closeAfter = true
	}
	if strings.EqualFold(hdr.Get("Transfer-Encoding"), "chunked") {
		return FramingChunked, closeAfter
	}
	if hdr.Get("Content-Length") != "" {
		return FramingIdentity, closeAfter
	}
	return FramingUntilClose, closeAfter
}

// closeAdmission implements spec.md §4.5's "Connection: close" admission
// decision: refuse all future requests and fail every request other than
// the one whose response just arrived.
func (cc *ClientConnection) closeAdmission(except *ClientRequest) {
	cc.mu.Lock()
	cc.allowNewRequests = false
	for _, p := range cc.pendingRequests {
		p.fail(mordor.NewError(mordor.KindConnectionClosing, nil))
	}
	cc.pendingRequests = nil
	if cc.currentRequest != nil && cc.currentRequest != except {
		cc.currentRequest.fail(mordor.NewError(mordor.KindConnectionClosing, nil))
		cc.currentRequest = nil
	}
	kept := cc.waitingResponses[:0:0]
	for _, w := range cc.waitingResponses {
		if w == except {
			kept = append(kept, w)
			continue
		}
		w.fail(mordor.NewError(mordor.KindConnectionClosing, nil))
	}
	cc.waitingResponses = kept
	cc.mu.Unlock()
}

// failAllNotDone fails head with headErr and every other not-yet-Done
// request on the connection with PriorRequestFailed, then latches the
// connection closed. Used once the response side observes a wire error.
func (cc *ClientConnection) failAllNotDone(headErr error, head *ClientRequest) {
	head.fail(headErr)
	cc.mu.Lock()
	cc.allowNewRequests = false
	for _, p := range cc.pendingRequests {
		p.fail(mordor.NewError(mordor.KindPriorRequestFailed, headErr))
	}
	cc.pendingRequests = nil
	if cc.currentRequest != nil {
		cc.currentRequest.fail(mordor.NewError(mordor.KindPriorRequestFailed, headErr))
		cc.currentRequest = nil
	}
	for _, w := range cc.waitingResponses {
		if w == head {
			continue
		}
		w.fail(mordor.NewError(mordor.KindPriorRequestFailed, headErr))
	}
	cc.waitingResponses = nil
	cc.mu.Unlock()
}

// cancelCooperative implements cancel(abort=false).
func (cc *ClientConnection) cancelCooperative(req *ClientRequest) {
	req.mu.Lock()
	reqState := req.reqState
	respState := req.respState
	req.cancelled = true
	req.mu.Unlock()

	if reqState == Queued {
		cc.mu.Lock()
		for i, p := range cc.pendingRequests {
			if p == req {
				cc.pendingRequests = append(cc.pendingRequests[:i], cc.pendingRequests[i+1:]...)
				break
			}
		}
		cc.mu.Unlock()
		req.fail(mordor.NewError(mordor.KindCancelled, nil))
		return
	}
	if respState < Headers {
		req.fail(mordor.NewError(mordor.KindCancelled, nil))
	}
}

// abort implements cancel(abort=true): tears down the Stream and fails
// every not-yet-Done request on the connection with Aborted.
func (cc *ClientConnection) abort() {
	cc.mu.Lock()
	if cc.stopped {
		cc.mu.Unlock()
		return
	}
	cc.allowNewRequests = false
	cc.stopped = true

	var all []*ClientRequest
	all = append(all, cc.pendingRequests...)
	if cc.currentRequest != nil {
		all = append(all, cc.currentRequest)
	}
	all = append(all, cc.waitingResponses...)
	for _, r := range all {
		r.mu.Lock()
		r.aborted = true
		r.mu.Unlock()
	}
	cc.pendingRequests = nil
	cc.currentRequest = nil
	cc.waitingResponses = nil
	cc.cond.Broadcast()
	cc.mu.Unlock()

	cc.conn.Stream().Close(stream.SideBoth)

	for _, r := range all {
		r.fail(mordor.NewError(mordor.KindAborted, nil))
	}
}

// responseBodyReader wraps a framed body reader, transitioning the
// response side to Done on orderly EOF and translating I/O errors
// observed under cancellation/abort into the matching error kind.
type responseBodyReader struct {
	req   *ClientRequest
	inner io.Reader
}

func (r *responseBodyReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if err == nil {
		return n, nil
	}
	if err == io.EOF {
		r.finish()
		return n, io.EOF
	}
	r.req.mu.Lock()
	aborted := r.req.aborted
	cancelled := r.req.cancelled
	r.req.mu.Unlock()
	switch {
	case aborted:
		return n, mordor.NewError(mordor.KindAborted, err)
	case cancelled:
		return n, mordor.NewError(mordor.KindCancelled, err)
	}
	return n, err
}

func (r *responseBodyReader) finish() {
	r.req.mu.Lock()
	r.req.respState = ResponseDone
	r.req.maybeReportLocked()
	r.req.mu.Unlock()
	r.req.responseGot.Close()
}
