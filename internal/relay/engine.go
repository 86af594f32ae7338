// Package relay decides whether a message is delivered live or queued for
// later, and executes that decision. The decision itself is a pure function
// over the presence directory so it can be tested without a transport.
package relay

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pingline/pingline/internal/metrics"
	"github.com/pingline/pingline/internal/models"
	"github.com/pingline/pingline/internal/presence"
	"github.com/pingline/pingline/internal/protocol"
	"github.com/pingline/pingline/internal/store"
)

// Receipt tells the caller what happened to a message handed to Send.
type Receipt int

const (
	// Dropped means the message was malformed and discarded.
	Dropped Receipt = iota
	// Delivered means the recipient was online and the event was handed to
	// their connection. Best effort: the transport may still fail silently.
	Delivered
	// Queued means the recipient was offline and the message was persisted.
	Queued
)

func (r Receipt) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	default:
		return "dropped"
	}
}

// Decision is the outcome of routing a message: either a live handle to
// deliver to, or offline.
type Decision struct {
	Live presence.Conn
}

// Offline reports whether the decision is the store-and-forward branch.
func (d Decision) Offline() bool {
	return d.Live == nil
}

// Engine routes a single message either to a live connection or into the
// message store, and echoes it back to the sender.
type Engine struct {
	dir    *presence.Directory
	store  store.MessageStore
	logger zerolog.Logger
}

// NewEngine creates a relay engine over the given directory and store.
func NewEngine(dir *presence.Directory, st store.MessageStore, logger zerolog.Logger) *Engine {
	return &Engine{dir: dir, store: st, logger: logger}
}

// Decide resolves the delivery branch for a recipient. It performs no I/O.
func (e *Engine) Decide(to string) Decision {
	if conn, ok := e.dir.Lookup(to); ok {
		return Decision{Live: conn}
	}
	return Decision{}
}

// Send relays one message. Malformed input (empty from/to/body) is dropped
// silently: the channel is fire-and-forget and defines no error feedback for
// bad sends. The recipient gets receive_message (plus chat_notification) if
// online, otherwise the message is queued unread. Either way the sender gets
// the same receive_message echoed back if still online, so their UI reflects
// the send without a round trip.
//
// Note the deliberate idiosyncrasy: a self-addressed send to an online user
// arrives twice, once on the recipient branch and once as the echo. Clients
// dedup by message identity or live with it.
//
// The only error returned is a store failure on the queued branch; live
// delivery failures are swallowed (at-most-once, no retry).
func (e *Engine) Send(ctx context.Context, from, to, body string) (Receipt, error) {
	if from == "" || to == "" || body == "" {
		metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		e.logger.Debug().Str("from", from).Str("to", to).Msg("dropping malformed send")
		return Dropped, nil
	}

	receipt := Delivered
	msgEnv := protocol.NewEnvelope(protocol.EventReceiveMessage, protocol.ReceiveMessagePayload{
		From:    from,
		To:      to,
		Message: body,
	})

	if decision := e.Decide(to); !decision.Offline() {
		e.deliver(decision.Live, msgEnv)
		e.deliver(decision.Live, protocol.NewEnvelope(protocol.EventChatNotification, protocol.ChatNotificationPayload{
			From:    from,
			Message: body,
		}))
	} else {
		msg := &models.Message{From: from, To: to, Body: body}
		if err := e.store.Enqueue(ctx, msg); err != nil {
			metrics.MessagesDropped.WithLabelValues("store_error").Inc()
			e.logger.Error().Err(err).Str("from", from).Str("to", to).Msg("failed to queue message")
			return Queued, err
		}
		receipt = Queued
	}

	// Echo to the sender regardless of which branch ran.
	if conn, ok := e.dir.Lookup(from); ok {
		e.deliver(conn, msgEnv)
	}

	metrics.MessagesRelayed.WithLabelValues(receipt.String()).Inc()
	return receipt, nil
}

// deliver hands an event to a connection, swallowing transport errors.
func (e *Engine) deliver(conn presence.Conn, env protocol.Envelope) {
	if err := conn.Deliver(env); err != nil {
		e.logger.Debug().Err(err).Str("event", env.Event).Msg("live delivery failed")
	}
}

// MarkThreadRead flips read=true on every queued message from→to. Idempotent.
func (e *Engine) MarkThreadRead(ctx context.Context, from, to string) (int64, error) {
	return e.store.MarkRead(ctx, from, to)
}
