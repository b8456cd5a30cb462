package subscription

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The fabric is assumed operator-controlled;
	// origin checking is deliberately permissive.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Socket wraps one attached subscriber connection. Inbound frames are
// drained and discarded: the protocol is server-push only in practice.
type Socket struct {
	conn *websocket.Conn
	log  *logrus.Entry

	mu     sync.Mutex
	closed bool
}

// Upgrade promotes an HTTP request to a full-duplex socket.
func Upgrade(w http.ResponseWriter, r *http.Request, log *logrus.Entry) (*Socket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Socket{conn: conn, log: log}, nil
}

// Send marshals and writes grain as a single text frame.
func (s *Socket) Send(grain Grain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	payload, err := json.Marshal(grain)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close closes the underlying connection; safe to call more than once.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// drain reads and discards inbound frames until the peer closes or
// errors, at which point onClose is invoked. Run in its own goroutine
// per attached socket.
func (s *Socket) drain(onClose func()) {
	defer onClose()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
