// Package protocol defines the wire events exchanged over a client's
// websocket connection. Every frame is a JSON envelope {"event": ..., "data": ...}.
package protocol

import (
	"encoding/json"

	"github.com/pingline/pingline/internal/models"
)

// Client → server event names.
const (
	EventJoin           = "join"
	EventSendMessage    = "send_message"
	EventMarkAsRead     = "mark_as_read"
	EventGetOnlineUsers = "get_online_users"
)

// Server → client event names.
const (
	EventUserOnline       = "user_online"
	EventUserOffline      = "user_offline"
	EventOnlineUsers      = "online_users"
	EventReceiveMessage   = "receive_message"
	EventChatNotification = "chat_notification"
	EventUnreadMessages   = "unread_messages"
	EventError            = "error"
)

// Envelope frames every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload announces the connection's identity. The user ID is accepted
// at face value; validation against a user directory is not this service's job.
type JoinPayload struct {
	UserID string `json:"userId"`
}

// SendMessagePayload relays one chat message.
type SendMessagePayload struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// MarkAsReadPayload acknowledges that the recipient (To) opened the thread
// with sender (From).
type MarkAsReadPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PresencePayload carries a single user ID for user_online / user_offline.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// OnlineUsersPayload is the presence snapshot response.
type OnlineUsersPayload struct {
	Users []string `json:"users"`
}

// ReceiveMessagePayload is a live delivery or a sender echo.
type ReceiveMessagePayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// ChatNotificationPayload accompanies live delivery so the recipient's UI can
// badge the conversation without opening it.
type ChatNotificationPayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// UnreadMessagesPayload is the flat list delivered once per join. Clients
// derive per-sender counts from the list itself.
type UnreadMessagesPayload struct {
	Messages []models.Message `json:"messages"`
}

// ErrorPayload surfaces a failure on an otherwise fire-and-forget channel,
// currently only when a message could not be queued durably.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEnvelope marshals data into an envelope. Marshal errors are impossible
// for the payload types above, so they are swallowed.
func NewEnvelope(event string, data any) Envelope {
	raw, _ := json.Marshal(data)
	return Envelope{Event: event, Data: raw}
}
