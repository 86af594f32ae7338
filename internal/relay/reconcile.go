package relay

import (
	"context"

	"github.com/pingline/pingline/internal/metrics"
	"github.com/pingline/pingline/internal/models"
	"github.com/pingline/pingline/internal/presence"
	"github.com/pingline/pingline/internal/protocol"
)

// Reconcile delivers every message queued while user was offline to their
// just-joined connection, as a single unread_messages event. The flat list
// stays in store order (oldest first), so the client can group by sender and
// derive per-sender counts without another round trip.
//
// Records are NOT marked read here: delivery to the client and the user
// actually opening a thread are distinct acknowledgments, and only the
// latter (mark_as_read) clears the flag.
func (e *Engine) Reconcile(ctx context.Context, user string, conn presence.Conn) (int, error) {
	msgs, err := e.store.DrainUnread(ctx, user)
	if err != nil {
		return 0, err
	}

	e.deliver(conn, protocol.NewEnvelope(protocol.EventUnreadMessages, protocol.UnreadMessagesPayload{
		Messages: msgs,
	}))

	if len(msgs) > 0 {
		e.logger.Info().
			Str("user", user).
			Int("unread", len(msgs)).
			Int("senders", len(CountsBySender(user, msgs))).
			Msg("replayed queued messages")
	}

	metrics.UnreadDrained.Add(float64(len(msgs)))
	return len(msgs), nil
}

// CountsBySender computes per-sender unread counts for user from a drained
// message list. Records not addressed to user, and self-addressed ones, are
// skipped. This mirrors what clients compute from unread_messages; Reconcile
// logs the sender breakdown with it, and tests use it to pin the contract down.
func CountsBySender(user string, msgs []models.Message) map[string]int {
	counts := make(map[string]int)
	for _, msg := range msgs {
		if msg.To != user || msg.From == user {
			continue
		}
		counts[msg.From]++
	}
	return counts
}
