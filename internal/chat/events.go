package chat

import (
	"encoding/json"
	"time"

	"github.com/calebferris/parley/internal/auth"
	"github.com/calebferris/parley/internal/message"
)

// Envelope is the JSON structure exchanged with clients over the transport.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client-to-server event types.
const (
	EventAuthenticate = "authenticate-and-join"
	EventSend         = "send"
	EventEdit         = "edit"
	EventReact        = "react"
	EventUnreact      = "unreact"
	EventDelete       = "delete"
)

// Server-to-client event types.
const (
	EventAuthSuccess     = "authentication-success"
	EventAuthError       = "authentication-error"
	EventChatHistory     = "chat-history"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "left"
	EventActiveUsers     = "active-users"
	EventReceive         = "receive"
	EventMessageSent     = "message-sent"
	EventMessageEdited   = "message-edited"
	EventReactionAdded   = "reaction-added"
	EventReactionRemoved = "reaction-removed"
	EventMessageDeleted  = "message-deleted"
	EventError           = "error"
)

// AuthenticatePayload carries the bearer credential.
type AuthenticatePayload struct {
	Credential string `json:"credential"`
}

// SendPayload carries a new message body. ClientMessageID is optional; when
// present and not already taken it becomes the stored message ID.
type SendPayload struct {
	Body            string `json:"body"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// EditPayload replaces a message body.
type EditPayload struct {
	MessageID string `json:"message_id"`
	NewText   string `json:"new_text"`
}

// ReactPayload adds or removes an emoji reaction.
type ReactPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// DeletePayload removes a message.
type DeletePayload struct {
	MessageID string `json:"message_id"`
}

// ErrorPayload carries a human-readable rejection reason.
type ErrorPayload struct {
	Message string `json:"message"`
}

// AuthSuccessPayload confirms authentication and echoes the identity.
type AuthSuccessPayload struct {
	User auth.Identity `json:"user"`
}

// UserPayload names a user who joined or left.
type UserPayload struct {
	Name string `json:"name"`
}

// ActiveUsersPayload lists the display names of everyone present.
type ActiveUsersPayload struct {
	Users []string `json:"users"`
}

// MessageEditedPayload is broadcast after a successful edit.
type MessageEditedPayload struct {
	MessageID  string    `json:"message_id"`
	NewText    string    `json:"new_text"`
	AuthorName string    `json:"author_name"`
	AuthorID   string    `json:"author_id"`
	EditedAt   time.Time `json:"edited_at"`
}

// ReactionAddedPayload is broadcast after a successful react.
type ReactionAddedPayload struct {
	MessageID   string    `json:"message_id"`
	Emoji       string    `json:"emoji"`
	ReactorID   string    `json:"reactor_id"`
	ReactorName string    `json:"reactor_name"`
	ReactedAt   time.Time `json:"reacted_at"`
}

// ReactionRemovedPayload is broadcast after a successful unreact.
type ReactionRemovedPayload struct {
	MessageID   string `json:"message_id"`
	Emoji       string `json:"emoji"`
	ReactorID   string `json:"reactor_id"`
	ReactorName string `json:"reactor_name"`
}

// MessageDeletedPayload is broadcast after a successful delete.
type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	DeletedBy string `json:"deleted_by"`
}

// HistoryPayload carries recent messages, oldest first.
type HistoryPayload struct {
	Messages []*message.Message `json:"messages"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
// Marshalling only fails for non-serializable payloads, which all payload
// types above are not, so errors are ignored.
func NewEnvelope(eventType string, payload any) Envelope {
	data, _ := json.Marshal(payload)
	return Envelope{Type: eventType, Payload: data}
}
