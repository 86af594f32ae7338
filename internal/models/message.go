package models

import "time"

// Message is a chat message that could not be delivered live and was queued
// for the recipient. Live-delivered messages are never persisted.
type Message struct {
	Seq       int64     `json:"-"`    // store-assigned, monotonic per store
	ID        string    `json:"id"`   // ULID
	From      string    `json:"from"` // sender user ID
	To        string    `json:"to"`   // recipient user ID
	Body      string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"timestamp"`
}
