// Package wsstream adapts a gorilla/websocket connection to
// stream.Stream, letting httpc or any other byte-stream consumer run over
// a WebSocket transport. WebSocket is message-oriented, so this adapter
// makes a deliberate simplification: each Write call is sent as one binary
// message, and Read drains the current inbound message before calling
// NextReader for the next one - callers that need message boundaries
// preserved should talk to the underlying *websocket.Conn directly instead.
package wsstream

import (
	"io"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/corvus-oss/mordor/stream"
)

// WSStream adapts a *websocket.Conn to stream.Stream.
type WSStream struct {
	conn *websocket.Conn

	mu     sync.Mutex
	reader io.Reader // current inbound message, nil once drained
}

// New wraps conn.
func New(conn *websocket.Conn) *WSStream {
	return &WSStream{conn: conn}
}

// Conn returns the underlying *websocket.Conn.
func (s *WSStream) Conn() *websocket.Conn { return s.conn }

func (s *WSStream) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader == nil {
		_, r, err := s.conn.NextReader()
		if err != nil {
			if _, ok := err.(*websocket.CloseError); ok {
				return 0, nil
			}
			return 0, err
		}
		s.reader = r
	}

	n, err := s.reader.Read(buf)
	if err == io.EOF {
		s.reader = nil
		return n, nil
	}
	return n, err
}

func (s *WSStream) Write(buf []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Close closes the underlying WebSocket connection. WebSocket has no
// meaningful read/write half-close, so any Side closes the whole thing.
func (s *WSStream) Close(stream.Side) error {
	return s.conn.Close()
}
