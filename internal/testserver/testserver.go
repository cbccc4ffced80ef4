// Package testserver is a scriptable HTTP/1.1 server used only by this
// module's own tests, routed with httprouter the way the rest of the
// example corpus routes its HTTP servers, sitting behind a stdlib
// net/http.Server (the transport and protocol implementation itself is
// intentionally out of scope for this module per spec.md's non-goal on
// server-side HTTP).
package testserver

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/julienschmidt/httprouter"
)

// Server is a real TCP listener the client-side tests dial against,
// exercising the pipelining state machine end to end instead of only
// against stream.Script.
type Server struct {
	httpServer *httptest.Server
	router     *httprouter.Router

	mu     sync.Mutex
	bodies map[string][]byte // path -> last request body received, for assertions
}

// New starts a Server with the standard scripted routes: a plain 200, a
// route that closes the connection after responding, a chunked-body
// route, a 100-continue route, and a route that aborts mid-response by
// hijacking and closing the raw connection.
func New() *Server {
	s := &Server{
		router: httprouter.New(),
		bodies: make(map[string][]byte),
	}
	s.router.GET("/ok", s.handleOK)
	s.router.GET("/close", s.handleClose)
	s.router.GET("/chunked", s.handleChunked)
	s.router.POST("/echo", s.handleEcho)
	s.router.GET("/abort", s.handleAbort)
	s.httpServer = httptest.NewServer(s.router)
	return s
}

// Addr returns the listener's "host:port" address.
func (s *Server) Addr() string {
	return strings.TrimPrefix(s.httpServer.URL, "http://")
}

// Close shuts the server down.
func (s *Server) Close() { s.httpServer.Close() }

// BodyReceived returns the last body POSTed to path, if any.
func (s *Server) BodyReceived(path string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodies[path]
}

func (s *Server) handleOK(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "ok")
}

// handleClose answers normally but asks the client to treat the
// connection as done, exercising spec.md §4.5's Connection: close
// admission decision.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Connection", "close")
	fmt.Fprint(w, "closing")
}

// handleChunked writes its body across several Flush calls so the client
// sees genuine Transfer-Encoding: chunked framing rather than a single
// buffered write net/http could collapse into Content-Length.
func (s *Server) handleChunked(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	flusher, ok := w.(http.Flusher)
	for _, chunk := range []string{"first-", "second-", "third"} {
		fmt.Fprint(w, chunk)
		if ok {
			flusher.Flush()
		}
	}
}

// handleEcho reads the whole request body (forcing a 100-continue round
// trip when the client sent Expect: 100-continue) and records it.
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	defer r.Body.Close()
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := r.Body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	s.mu.Lock()
	s.bodies["/echo"] = buf
	s.mu.Unlock()
	w.Write(buf)
}

// handleAbort writes a Content-Length promising more than it delivers,
// then hijacks the raw connection and closes it, simulating a server
// that dies mid-response (the server-side mirror of spec.md §8's S4).
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijack unsupported", http.StatusInternalServerError)
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		return
	}
	defer conn.Close()
	writeRaw(buf, "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\npartial")
	buf.Flush()
}

func writeRaw(buf *bufio.ReadWriter, s string) {
	buf.WriteString(s)
}
