// Package ws owns the connection lifecycle: accepting websocket clients,
// walking each connection through connecting → joined → closed, and fanning
// presence changes out to everyone else.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pingline/pingline/internal/metrics"
	"github.com/pingline/pingline/internal/presence"
	"github.com/pingline/pingline/internal/protocol"
	"github.com/pingline/pingline/internal/ratelimit"
	"github.com/pingline/pingline/internal/relay"
)

// conn is what the lifecycle needs from a client connection. *Session is the
// production implementation; tests substitute in-memory fakes.
type conn interface {
	presence.Conn
	User() string
	setUser(user string)
}

// Manager handles join/disconnect events, keeps the presence directory in
// sync, and dispatches client events to the relay engine.
type Manager struct {
	dir      *presence.Directory
	engine   *relay.Engine
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewManager wires the lifecycle manager to its collaborators. With no
// allowed origins configured, any origin may connect (the original service
// ran with a wildcard).
func NewManager(dir *presence.Directory, engine *relay.Engine, limiter *ratelimit.Limiter, logger zerolog.Logger, allowedOrigins []string) *Manager {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &Manager{
		dir:     dir,
		engine:  engine,
		limiter: limiter,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

// ServeWS upgrades an HTTP request and runs the connection until it closes.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	sess := newSession(wsConn, m.logger)
	metrics.ConnectionsActive.Inc()
	sess.logger.Info().Msg("connection opened")

	go sess.writePump()
	m.readLoop(sess)

	m.Disconnect(sess)
	metrics.ConnectionsActive.Dec()
	sess.logger.Info().Msg("connection closed")
}

// readLoop processes inbound events one at a time, in arrival order, each to
// completion (store queries included) before the next. It returns when the
// transport errors or closes; both are treated as a disconnect.
func (m *Manager) readLoop(sess *Session) {
	sess.conn.SetReadLimit(maxMessageSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			sess.logger.Debug().Err(err).Msg("skipping unparseable frame")
			continue
		}

		m.HandleEvent(context.Background(), sess, env)
	}
}

// HandleEvent dispatches one client event. Unknown events are ignored: the
// channel is permissive and offers no error feedback.
func (m *Manager) HandleEvent(ctx context.Context, c conn, env protocol.Envelope) {
	metrics.EventsReceived.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case protocol.EventJoin:
		m.handleJoin(ctx, c, env.Data)
	case protocol.EventSendMessage:
		m.handleSendMessage(ctx, c, env.Data)
	case protocol.EventMarkAsRead:
		m.handleMarkAsRead(ctx, c, env.Data)
	case protocol.EventGetOnlineUsers:
		m.handleGetOnlineUsers(c)
	default:
		m.logger.Debug().Str("event", env.Event).Msg("ignoring unknown event")
	}
}

// handleJoin moves a connection from connecting to joined: register, tell
// everyone else, then synchronously replay whatever queued up while the user
// was away.
func (m *Manager) handleJoin(ctx context.Context, c conn, data json.RawMessage) {
	user := parseJoinUser(data)
	if user == "" {
		// Malformed join: no registration, no broadcast, connection stays
		// in connecting.
		m.logger.Debug().Msg("ignoring join without user id")
		return
	}
	if c.User() != "" {
		m.logger.Debug().Str("user", c.User()).Msg("ignoring duplicate join")
		return
	}

	c.setUser(user)
	displaced := m.dir.Register(user, c)
	if displaced != nil {
		// Last join wins. The stale session is closed without a user_offline
		// broadcast: the user is still online, just elsewhere.
		m.logger.Info().Str("user", user).Msg("closing displaced session")
		displaced.Close()
	}
	metrics.UsersOnline.Set(float64(len(m.dir.ListOnline())))
	m.logger.Info().Str("user", user).Msg("user joined")

	m.broadcastPresence(protocol.EventUserOnline, user, c)

	if _, err := m.engine.Reconcile(ctx, user, c); err != nil {
		m.logger.Error().Err(err).Str("user", user).Msg("unread reconciliation failed")
	}
}

func (m *Manager) handleSendMessage(ctx context.Context, c conn, data json.RawMessage) {
	var payload protocol.SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		m.logger.Debug().Err(err).Msg("ignoring unparseable send_message")
		return
	}

	if payload.From != "" && !m.limiter.Allow(ctx, payload.From) {
		metrics.MessagesDropped.WithLabelValues("rate_limited").Inc()
		return
	}

	receipt, err := m.engine.Send(ctx, payload.From, payload.To, payload.Message)
	if err != nil {
		// The message is lost if we stay silent; tell the sender.
		c.Deliver(protocol.NewEnvelope(protocol.EventError, protocol.ErrorPayload{
			Message: "message could not be stored for delivery",
		}))
		return
	}
	m.logger.Debug().
		Str("from", payload.From).
		Str("to", payload.To).
		Stringer("receipt", receipt).
		Msg("message relayed")
}

func (m *Manager) handleMarkAsRead(ctx context.Context, c conn, data json.RawMessage) {
	var payload protocol.MarkAsReadPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.From == "" || payload.To == "" {
		m.logger.Debug().Msg("ignoring malformed mark_as_read")
		return
	}

	n, err := m.engine.MarkThreadRead(ctx, payload.From, payload.To)
	if err != nil {
		m.logger.Error().Err(err).
			Str("from", payload.From).
			Str("to", payload.To).
			Msg("mark_as_read failed")
		return
	}
	m.logger.Debug().
		Str("from", payload.From).
		Str("to", payload.To).
		Int64("marked", n).
		Msg("thread marked read")
}

func (m *Manager) handleGetOnlineUsers(c conn) {
	c.Deliver(protocol.NewEnvelope(protocol.EventOnlineUsers, protocol.OnlineUsersPayload{
		Users: m.dir.ListOnline(),
	}))
}

// Disconnect finalizes a closing connection. Safe to call for connections
// that never joined, and idempotent under duplicate disconnect events.
func (m *Manager) Disconnect(c conn) {
	user, ok := m.dir.Unregister(c)
	c.Close()
	if !ok {
		// Never joined, or already displaced by a newer session; either way
		// nobody went offline.
		return
	}
	metrics.UsersOnline.Set(float64(len(m.dir.ListOnline())))
	m.logger.Info().Str("user", user).Msg("user left")

	m.broadcastPresence(protocol.EventUserOffline, user, nil)
}

// broadcastPresence fans a presence change out to every joined connection
// except the one it is about.
func (m *Manager) broadcastPresence(event, user string, except presence.Conn) {
	env := protocol.NewEnvelope(event, protocol.PresencePayload{UserID: user})
	for _, peer := range m.dir.Connections() {
		if peer == except {
			continue
		}
		peer.Deliver(env)
	}
	metrics.PresenceBroadcasts.WithLabelValues(event).Inc()
}

// parseJoinUser accepts both the bare-string form the original client emits
// (join("abc123")) and an object form {"userId": "abc123"}.
func parseJoinUser(data json.RawMessage) string {
	var user string
	if err := json.Unmarshal(data, &user); err == nil {
		return user
	}
	var payload protocol.JoinPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		return payload.UserID
	}
	return ""
}
