package stream

import (
	"crypto/tls"
	"io"
)

// TLSStream adapts an already-handshaked *tls.Conn to Stream. Handshaking
// is left to the caller (dial or Handshake) so this type stays a thin
// adapter, matching NetStream's shape.
type TLSStream struct {
	conn *tls.Conn
}

// NewTLSStream wraps conn. Callers should have already completed the
// handshake, or rely on the implicit handshake the first Read/Write
// triggers.
func NewTLSStream(conn *tls.Conn) *TLSStream {
	return &TLSStream{conn: conn}
}

// Conn returns the underlying *tls.Conn, e.g. to inspect ConnectionState.
func (s *TLSStream) Conn() *tls.Conn { return s.conn }

func (s *TLSStream) Read(buf []byte) (int, error) {
	n, err := s.conn.Read(buf)
	if err == io.EOF {
		return n, nil
	}
	return n, classify(err)
}

func (s *TLSStream) Write(buf []byte) (int, error) {
	n, err := s.conn.Write(buf)
	return n, classify(err)
}

// Close closes the underlying connection. TLS has no half-close concept
// below SideBoth, so any Side tears down the whole connection.
func (s *TLSStream) Close(Side) error {
	return s.conn.Close()
}
