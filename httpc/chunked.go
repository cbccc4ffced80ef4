package httpc

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/corvus-oss/mordor/mempool"
)

// chunkedReader decodes Transfer-Encoding: chunked, matching the
// size-line/data/CRLF/trailer states nbhttp's parser tracks for the same
// framing, re-expressed as a synchronous io.Reader over a bufio.Reader
// instead of a nonblocking parser driven by callbacks.
type chunkedReader struct {
	br       *bufio.Reader
	size     int64 // bytes remaining in the current chunk
	done     bool
	trailer  http.Header
	sawFirst bool
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	if r.size == 0 {
		if err := r.nextChunk(); err != nil {
			return 0, err
		}
		if r.done {
			return 0, io.EOF
		}
	}
	if int64(len(p)) > r.size {
		p = p[:r.size]
	}
	n, err := r.br.Read(p)
	r.size -= int64(n)
	if err != nil && err != io.EOF {
		return n, classifyReadErr(err)
	}
	if r.size == 0 {
		if err := r.consumeChunkCRLF(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Trailer returns the trailer headers read after the terminating chunk,
// valid only once Read has returned io.EOF.
func (r *chunkedReader) Trailer() http.Header { return r.trailer }

func (r *chunkedReader) nextChunk() error {
	line, err := r.br.ReadString('\n')
	if err != nil {
		return classifyReadErr(err)
	}
	line = strings.TrimRight(line, "\r\n")
	if semi := strings.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi] // chunk extensions are accepted but ignored
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil {
		return protoErr("invalid chunk size: %q", line)
	}
	if size == 0 {
		trailer, err := r.readTrailer()
		if err != nil {
			return err
		}
		r.trailer = trailer
		r.done = true
		return nil
	}
	r.size = size
	r.sawFirst = true
	return nil
}

func (r *chunkedReader) consumeChunkCRLF() error {
	line, err := r.br.ReadString('\n')
	if err != nil {
		return classifyReadErr(err)
	}
	if line != "\r\n" && line != "\n" {
		return protoErr("missing CRLF after chunk data")
	}
	return nil
}

func (r *chunkedReader) readTrailer() (http.Header, error) {
	h := make(http.Header)
	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			return nil, classifyReadErr(err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return h, nil
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, protoErr("malformed trailer line: %q", line)
		}
		h.Add(strings.TrimSpace(key), strings.TrimSpace(val))
	}
}

// chunkedWriter encodes Transfer-Encoding: chunked onto the underlying
// Stream, one chunk per Write call.
type chunkedWriter struct {
	s interface {
		Write([]byte) (int, error)
	}
	trailer http.Header
}

func (w *chunkedWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := mempool.Malloc(0)
	defer mempool.Free(buf)
	*buf = append((*buf)[:0], []byte(fmt.Sprintf("%x\r\n", len(p)))...)
	*buf = append(*buf, p...)
	*buf = append(*buf, '\r', '\n')
	if err := writeFull(w.s, *buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetTrailer sets the trailer headers flushed by Close.
func (w *chunkedWriter) SetTrailer(h http.Header) { w.trailer = h }

// Close writes the terminating zero-size chunk and any trailer.
func (w *chunkedWriter) Close() error {
	if err := writeFull(w.s, []byte("0\r\n")); err != nil {
		return err
	}
	for k, vs := range w.trailer {
		for _, v := range vs {
			if err := writeFull(w.s, []byte(k+": "+v+"\r\n")); err != nil {
				return err
			}
		}
	}
	return writeFull(w.s, []byte("\r\n"))
}
