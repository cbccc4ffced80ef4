package httpc

import (
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvus-oss/mordor/internal/testserver"
	"github.com/corvus-oss/mordor/stream"
)

// dialServer dials srv over a real TCP connection and wraps it as a Stream,
// exercising the full Connection/ClientConnection stack against an actual
// net/http.Server rather than a scripted Stream.
func dialServer(t *testing.T, srv *testserver.Server) *ClientConnection {
	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	return NewClientConnection(stream.NewNetStream(conn), nil)
}

func TestIntegrationSimpleGet(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	cc := dialServer(t, srv)
	req, err := cc.Request("GET", "/ok", http.Header{"Host": {srv.Addr()}}, FramingIdentity, 0)
	require.NoError(t, err)

	resp, err := req.Response()
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestIntegrationChunkedBody(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	cc := dialServer(t, srv)
	req, err := cc.Request("GET", "/chunked", http.Header{"Host": {srv.Addr()}}, FramingIdentity, 0)
	require.NoError(t, err)

	resp, err := req.Response()
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "first-second-third", string(body))
}

func TestIntegrationConnectionClose(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	cc := dialServer(t, srv)
	req1, err := cc.Request("GET", "/close", http.Header{"Host": {srv.Addr()}}, FramingIdentity, 0)
	require.NoError(t, err)

	resp1, err := req1.Response()
	require.NoError(t, err)
	_, err = io.ReadAll(resp1.Body)
	require.NoError(t, err)

	_, err = cc.Request("GET", "/ok", nil, FramingIdentity, 0)
	assert.Error(t, err)
}
