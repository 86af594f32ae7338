package store

import (
	"context"

	"github.com/pingline/pingline/internal/models"
)

// MessageStore is the durable queue of messages that could not be delivered
// live. Both PostgresStore and SQLiteStore implement this interface.
//
// Records are append-only: Enqueue never dedups, MarkRead only flips the read
// flag, and nothing here deletes (retention is out of scope).
type MessageStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Enqueue inserts msg, assigning Seq, ID and CreatedAt if unset.
	Enqueue(ctx context.Context, msg *models.Message) error

	// DrainUnread returns all unread messages addressed to user, oldest
	// first. Ties on created_at are broken by the insertion sequence so the
	// order is deterministic.
	DrainUnread(ctx context.Context, user string) ([]models.Message, error)

	// MarkRead flips read=true on every unread message from sender to
	// recipient and reports how many rows changed. Calling it again is a
	// no-op returning zero.
	MarkRead(ctx context.Context, from, to string) (int64, error)
}
