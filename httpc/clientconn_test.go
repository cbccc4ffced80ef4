package httpc

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvus-oss/mordor"
	"github.com/corvus-oss/mordor/stream"
)

// waitFor polls cond until it is true or the timeout elapses, failing the
// test otherwise. The Script-backed Stream never blocks a reader that has
// not yet been fed data, so assertions that depend on background Fiber/
// goroutine work finishing need a short poll rather than a direct check.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

// S1: a single GET gets a well-formed response and the request line
// written to the wire matches what was asked for.
func TestSimpleGetRoundTrips(t *testing.T) {
	script := stream.NewScript([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	cc := NewClientConnection(script, nil)

	req, err := cc.Request("GET", "/", nil, FramingIdentity, 0)
	require.NoError(t, err)

	resp, err := req.Response()
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	waitFor(t, time.Second, func() bool { return req.RequestState() == RequestDone })
	assert.Contains(t, string(script.Written()), "GET / HTTP/1.1\r\n")
}

// S2: three pipelined GETs are answered strictly in request order, each
// getting the response that matches its position, not interleaved.
func TestPipeliningPreservesOrder(t *testing.T) {
	script := stream.NewScript([]byte(
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nr1" +
			"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nr2" +
			"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nr3"))
	cc := NewClientConnection(script, nil)

	req1, err := cc.Request("GET", "/1", nil, FramingIdentity, 0)
	require.NoError(t, err)
	req2, err := cc.Request("GET", "/2", nil, FramingIdentity, 0)
	require.NoError(t, err)
	req3, err := cc.Request("GET", "/3", nil, FramingIdentity, 0)
	require.NoError(t, err)

	for i, req := range []*ClientRequest{req1, req2, req3} {
		resp, err := req.Response()
		require.NoErrorf(t, err, "request %d", i+1)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equalf(t, []byte{'r', '1' + byte(i)}, body, "request %d body", i+1)
	}
}

// S3: a Connection: close response fails every other request on the
// connection with ConnectionClosing and future admission is refused.
func TestConnectionCloseFailsOtherRequests(t *testing.T) {
	script := stream.NewScript([]byte(
		"HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\nok"))
	cc := NewClientConnection(script, nil)

	req1, err := cc.Request("GET", "/1", nil, FramingIdentity, 0)
	require.NoError(t, err)
	req2, err := cc.Request("GET", "/2", nil, FramingIdentity, 0)
	require.NoError(t, err)

	resp1, err := req1.Response()
	require.NoError(t, err)
	body, err := io.ReadAll(resp1.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	_, err = req2.Response()
	require.Error(t, err)
	assert.True(t, mordor.IsKind(err, mordor.KindConnectionClosing))

	waitFor(t, time.Second, func() bool {
		_, err := cc.Request("GET", "/3", nil, FramingIdentity, 0)
		return err != nil && mordor.IsKind(err, mordor.KindConnectionClosing)
	})
}

// S4: aborting a request while its body is being read tears down the
// Stream and fails every not-yet-done request with Aborted.
func TestAbortFailsAllOutstandingRequests(t *testing.T) {
	script := stream.NewScript([]byte("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n"))
	cc := NewClientConnection(script, nil)

	req1, err := cc.Request("GET", "/1", nil, FramingIdentity, 0)
	require.NoError(t, err)
	req2, err := cc.Request("GET", "/2", nil, FramingIdentity, 0)
	require.NoError(t, err)

	resp1, err := req1.Response()
	require.NoError(t, err)

	req1.Cancel(true)

	_, err = resp1.Body.Read(make([]byte, 16))
	require.Error(t, err)
	assert.True(t, mordor.IsKind(err, mordor.KindAborted))

	waitFor(t, time.Second, func() bool { return req2.RequestState() == RequestDone && req2.ResponseState() == ResponseDone })
	_, err = req2.Response()
	require.Error(t, err)
	assert.True(t, mordor.IsKind(err, mordor.KindAborted))

	assert.True(t, script.Closed())
}

// S5: an I/O failure writing one request's body fails it, and every
// request still waiting to be promoted fails with PriorRequestFailed.
func TestWriteFailureCascadesToPendingRequests(t *testing.T) {
	script := stream.NewScript(nil)
	cc := NewClientConnection(script, nil)

	script.FailWritesWith(stream.ErrReset)

	req1, err := cc.Request("GET", "/1", nil, FramingIdentity, 0)
	require.NoError(t, err)
	req2, err := cc.Request("GET", "/2", nil, FramingIdentity, 0)
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return req1.RequestState() == RequestDone })
	_, err = req1.Response()
	require.Error(t, err)

	waitFor(t, time.Second, func() bool { return req2.RequestState() == RequestDone })
	_, err = req2.Response()
	require.Error(t, err)
	assert.True(t, mordor.IsKind(err, mordor.KindPriorRequestFailed))
}

// An Expect: 100-continue request holds its body until the server's 100
// Continue arrives, and the pipeline is not desynced by that 1xx line.
func TestExpectContinueSendsBodyAfter100(t *testing.T) {
	script := stream.NewScript([]byte(
		"HTTP/1.1 100 Continue\r\n\r\n" +
			"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	cc := NewClientConnection(script, nil)

	hdr := http.Header{"Expect": {"100-continue"}, "Content-Length": {"5"}}
	req, err := cc.Request("POST", "/echo", hdr, FramingIdentity, 5)
	require.NoError(t, err)

	bw, err := req.Body()
	require.NoError(t, err)
	_, err = bw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	resp, err := req.Response()
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	assert.Contains(t, string(script.Written()), "hello")
}

// A server that answers Expect: 100-continue with a final response
// instead of 100 Continue (Expectation Failed) gets that response
// delivered without the client ever sending the body.
func TestExpectContinueFinalResponseSkipsBody(t *testing.T) {
	script := stream.NewScript([]byte("HTTP/1.1 417 Expectation Failed\r\nContent-Length: 0\r\n\r\n"))
	cc := NewClientConnection(script, nil)

	hdr := http.Header{"Expect": {"100-continue"}, "Content-Length": {"5"}}
	req, err := cc.Request("POST", "/echo", hdr, FramingIdentity, 5)
	require.NoError(t, err)

	resp, err := req.Response()
	require.NoError(t, err)
	assert.Equal(t, 417, resp.StatusCode)

	waitFor(t, time.Second, func() bool { return req.RequestState() == RequestDone })
	assert.NotContains(t, string(script.Written()), "hello")
}

// A cooperatively cancelled, still-queued request is dropped without
// touching the wire at all.
func TestCancelCooperativeDropsQueuedRequest(t *testing.T) {
	script := stream.NewScript([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	cc := NewClientConnection(script, nil)

	req1, err := cc.Request("GET", "/1", nil, FramingIdentity, 0)
	require.NoError(t, err)
	req2, err := cc.Request("GET", "/2", nil, FramingIdentity, 0)
	require.NoError(t, err)

	req2.Cancel(false)

	_, err = req2.Response()
	require.Error(t, err)
	assert.True(t, mordor.IsKind(err, mordor.KindCancelled))

	resp1, err := req1.Response()
	require.NoError(t, err)
	body, err := io.ReadAll(resp1.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}
