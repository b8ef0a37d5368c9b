package relay

import (
	"context"
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventIdentify    = "user_online"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
)

// Outbound event names.
const (
	EventFriendOnline    = "friend_online"
	EventFriendOffline   = "friend_offline"
	EventReceiveMessage  = "receive_message"
	EventMessageSent     = "message_sent"
	EventMessageFailed   = "message_failed"
	EventUserTyping      = "user_typing"
	EventError           = "error"
	EventSessionReplaced = "session_replaced"
)

// DefaultMessageType is applied when a send-message event carries no type.
const DefaultMessageType = "text"

// Message is an immutable chat message as archived and delivered.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event is an outbound event addressed to a single connection.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Envelope is the inbound form of an event; Data is decoded per event name.
type Envelope struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// TypingNotice is the payload of user_typing.
type TypingNotice struct {
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

// MessageFailure is the payload of message_failed.
type MessageFailure struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	Type       string `json:"type"`
	Reason     string `json:"reason"`
}

// EventRejection is the payload of error, naming the rejected inbound event.
type EventRejection struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}

// SessionReplaced is the payload of session_replaced.
type SessionReplaced struct {
	UserID string `json:"userId"`
}

// User is the Directory's view of a user record.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Conn is a live bidirectional channel to one client process.
// Send must not block; implementations queue and report ErrSendBufferFull
// or ErrConnClosed instead.
type Conn interface {
	Send(ev Event) error
	Close()
	RemoteAddr() string
}

// Directory is the read-only view of users and friendships.
type Directory interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
	UserExists(ctx context.Context, userID string) (bool, error)
	GetUser(ctx context.Context, userID string) (User, error)
}

// LastSeenRecorder is implemented by directories that keep presence timestamps.
type LastSeenRecorder interface {
	MarkOnline(ctx context.Context, userID string, at time.Time) error
	MarkOffline(ctx context.Context, userID string, at time.Time) error
}

// Archive stores message history per conversation.
type Archive interface {
	Append(ctx context.Context, key ChatKey, msg Message) error
	Query(ctx context.Context, key ChatKey) ([]Message, error)
}
