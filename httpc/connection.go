// Package httpc is the pipelined HTTP/1.x client built on top of the
// Fiber/Scheduler substrate and the Stream abstraction: Connection does
// the wire-level framing (request/status lines, headers, body framing),
// ClientConnection and ClientRequest implement the pipelining state
// machine that sits above it.
package httpc

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/corvus-oss/mordor"
	"github.com/corvus-oss/mordor/logging"
	"github.com/corvus-oss/mordor/stream"
)

var log = logging.Get("mordor:httpc")

// Framing selects how a message body is delimited on the wire, per
// spec.md §4.4's identity/chunked/untilClose factories.
type Framing int

const (
	FramingIdentity Framing = iota
	FramingChunked
	FramingUntilClose
)

// RequestLine is the parsed first line of an HTTP request.
type RequestLine struct {
	Method string
	URI    string
	Proto  string
}

// StatusLine is the parsed first line of an HTTP response.
type StatusLine struct {
	Proto      string
	StatusCode int
	Status     string
}

// Connection owns a Stream and provides the line/header/body framing
// primitives spec.md §4.4 describes. It holds no pipelining state of its
// own - that is ClientConnection's job, layered on top.
type Connection struct {
	s  stream.Stream
	br *bufio.Reader
}

// NewConnection wraps s. Reads are buffered through bufio.Reader since no
// example in this module's lineage ships a non-stdlib HTTP/1.x line
// scanner that can sit on top of an arbitrary suspending Stream rather
// than a nonblocking reactor (see DESIGN.md).
func NewConnection(s stream.Stream) *Connection {
	return &Connection{s: s, br: bufio.NewReader(stream.AsReader(s))}
}

// Stream returns the underlying Stream, e.g. so a caller can Close it.
func (c *Connection) Stream() stream.Stream { return c.s }

func (c *Connection) readLine() (string, error) {
	line, err := c.br.ReadString('\n')
	if err != nil {
		return "", classifyReadErr(err)
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// ReadRequestLine reads and parses "METHOD URI PROTO\r\n".
func (c *Connection) ReadRequestLine() (RequestLine, error) {
	line, err := c.readLine()
	if err != nil {
		return RequestLine{}, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return RequestLine{}, protoErr("malformed request line: %q", line)
	}
	return RequestLine{Method: parts[0], URI: parts[1], Proto: parts[2]}, nil
}

// ReadStatusLine reads and parses "PROTO CODE REASON\r\n".
func (c *Connection) ReadStatusLine() (StatusLine, error) {
	line, err := c.readLine()
	if err != nil {
		return StatusLine{}, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return StatusLine{}, protoErr("malformed status line: %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return StatusLine{}, protoErr("invalid status code: %q", parts[1])
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return StatusLine{Proto: parts[0], StatusCode: code, Status: reason}, nil
}

// ReadHeaders reads header lines up to and including the blank terminator.
// Obsolete line-folding (a continuation line starting with space or tab)
// is rejected per spec.md §6 rather than silently unfolded.
func (c *Connection) ReadHeaders() (http.Header, error) {
	h := make(http.Header)
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			return h, nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			return nil, protoErr("obsolete header line folding is rejected")
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, protoErr("malformed header line: %q", line)
		}
		key = textproto.TrimString(key)
		val = textproto.TrimString(val)
		if key == "" {
			return nil, protoErr("empty header name")
		}
		h.Add(key, val)
	}
}

// WriteRequestLine writes "METHOD URI PROTO\r\n".
func (c *Connection) WriteRequestLine(method, uri, proto string) error {
	return writeFull(c.s, []byte(fmt.Sprintf("%s %s %s\r\n", method, uri, proto)))
}

// WriteStatusLine writes "PROTO CODE REASON\r\n".
func (c *Connection) WriteStatusLine(proto string, code int, reason string) error {
	return writeFull(c.s, []byte(fmt.Sprintf("%s %d %s\r\n", proto, code, reason)))
}

// WriteHeaders writes h followed by the blank line terminator.
func (c *Connection) WriteHeaders(h http.Header) error {
	var b strings.Builder
	for k, vs := range h {
		for _, v := range vs {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	b.WriteString("\r\n")
	return writeFull(c.s, []byte(b.String()))
}

// BodyReader returns a reader framed according to framing. For
// FramingIdentity, length is the remaining byte count; it is ignored
// otherwise. The returned reader's lifetime is bounded by the framed end:
// reading past it returns io.EOF, never underlying bytes from the next
// message.
func (c *Connection) BodyReader(framing Framing, length int64) io.Reader {
	switch framing {
	case FramingIdentity:
		return &identityReader{br: c.br, remaining: length}
	case FramingChunked:
		return &chunkedReader{br: c.br}
	default: // FramingUntilClose
		return &untilCloseReader{br: c.br}
	}
}

// BodyWriter returns a writer framed according to framing. Callers must
// Close it to flush the framing terminator (a chunked writer's final
// zero-size chunk; identity and untilClose writers have none).
func (c *Connection) BodyWriter(framing Framing) io.WriteCloser {
	switch framing {
	case FramingChunked:
		return &chunkedWriter{s: c.s}
	default:
		return &identityWriter{s: c.s}
	}
}

func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return classifyReadErr(err)
		}
		buf = buf[n:]
	}
	return nil
}

func classifyReadErr(err error) error {
	if err == nil {
		return nil
	}
	if err == io.EOF {
		return io.EOF
	}
	switch err {
	case stream.ErrClosed:
		return mordor.NewError(mordor.KindIOClosed, err)
	case stream.ErrReset:
		return mordor.NewError(mordor.KindIOReset, err)
	case stream.ErrTimeout:
		return mordor.NewError(mordor.KindIOTimeout, err)
	default:
		return mordor.NewError(mordor.KindIO, err)
	}
}

func protoErr(format string, args ...interface{}) error {
	return mordor.NewError(mordor.KindProtocol, fmt.Errorf(format, args...))
}

// identityReader reads exactly `remaining` bytes, then reports io.EOF.
type identityReader struct {
	br        *bufio.Reader
	remaining int64
}

func (r *identityReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.br.Read(p)
	r.remaining -= int64(n)
	if err != nil {
		return n, classifyReadErr(err)
	}
	return n, nil
}

// untilCloseReader reads until the Stream reports orderly end of input,
// which a Stream signals as a zero-byte Read with no error, and reports
// that as io.EOF.
type untilCloseReader struct {
	br *bufio.Reader
}

func (r *untilCloseReader) Read(p []byte) (int, error) {
	n, err := r.br.Read(p)
	if err != nil {
		return n, classifyReadErr(err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// identityWriter writes through with no framing of its own.
type identityWriter struct {
	s stream.Stream
}

func (w *identityWriter) Write(p []byte) (int, error) {
	err := writeFull(w.s, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *identityWriter) Close() error { return nil }
