package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pingline/pingline/internal/metrics"
	"github.com/pingline/pingline/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outbound buffer per connection. When full, deliveries are dropped.
	sendBuffer = 64
)

var errSessionClosed = errors.New("session closed")

// Session is one client's websocket connection. It implements presence.Conn.
//
// A session starts anonymous (connecting) and becomes joined once the client
// announces an identity. Writes go through a buffered channel drained by a
// single write pump, so Deliver never blocks event processing.
type Session struct {
	ID     string
	conn   *websocket.Conn
	logger zerolog.Logger

	mu     sync.Mutex
	user   string // empty until joined
	closed bool
	send   chan protocol.Envelope
}

func newSession(conn *websocket.Conn, logger zerolog.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		ID:     id,
		conn:   conn,
		logger: logger.With().Str("conn_id", id).Logger(),
		send:   make(chan protocol.Envelope, sendBuffer),
	}
}

// User returns the identity announced via join, or "" while connecting.
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) setUser(user string) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

// Deliver queues one event for the peer. If the session is closed or the
// buffer is full the event is dropped; the relay treats delivery as
// at-most-once, so nobody retries.
func (s *Session) Deliver(env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	select {
	case s.send <- env:
		return nil
	default:
		metrics.DeliveriesDropped.Inc()
		s.logger.Warn().Str("event", env.Event).Msg("send buffer full, dropping event")
		return errors.New("send buffer full")
	}
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.send)
	s.mu.Unlock()

	s.conn.Close()
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with pings. One per session; exits when the session closes.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case env, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(env); err != nil {
				s.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
