package transport

import (
	"context"
	"time"
)

// Conversation is a chat the client can post into.
type Conversation struct {
	ID      string
	Name    string
	IsGroup bool
}

// PollRequest is a poll as the platform should render it.
type PollRequest struct {
	Question      string
	Options       []string
	AllowMultiple bool
}

// MessageRef identifies a sent message.
type MessageRef struct {
	ConversationID string
	MessageID      string
	SentAt         time.Time
}

type EventKind string

const (
	EventQR            EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventAuthFailure   EventKind = "auth_failure"
	EventReady         EventKind = "ready"
	EventDisconnected  EventKind = "disconnected"
)

// Event is a client lifecycle notification.
//
// Expected order: EventQR* -> EventAuthenticated -> EventReady.
// EventDisconnected may arrive at any point after that.
type Event struct {
	Kind EventKind
	// Code carries the pairing payload for EventQR.
	Code string
	// Reason is a human readable detail for failures and disconnects.
	Reason string
	Time   time.Time
}

// Client is the narrow surface the bot needs from a messaging platform.
type Client interface {
	// Platform names the backend ("whatsapp", "telegram", ...).
	Platform() string

	// Connect starts (or restarts) the session. Progress is reported on Events.
	Connect(ctx context.Context) error
	// Close releases the session and all resources. Events is closed afterwards.
	Close(ctx context.Context) error
	Events() <-chan Event

	ListConversations(ctx context.Context) ([]Conversation, error)
	// GetConversation returns ErrNotFound when id is unknown.
	GetConversation(ctx context.Context, id string) (Conversation, error)

	SendPoll(ctx context.Context, to Conversation, req PollRequest) (MessageRef, error)
	SendText(ctx context.Context, to Conversation, text string) (MessageRef, error)
}
