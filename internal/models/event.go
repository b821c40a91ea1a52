package models

import (
	"time"
)

// EventType categorizes session events.
type EventType string

const (
	// Message events
	EventTypeMessageMerged  EventType = "message.merged"
	EventTypeMessageDrafted EventType = "message.drafted"
	EventTypeMessageFailed  EventType = "message.failed"
	EventTypeMessagesLoaded EventType = "messages.loaded"

	// Conversation events
	EventTypeConversationsRefreshed EventType = "conversations.refreshed"
	EventTypeConversationUpdated    EventType = "conversation.updated"
	EventTypeReadMarked             EventType = "read.marked"

	// Trade events
	EventTypeTradeCompleted EventType = "trade.completed"

	// Stream events
	EventTypeStreamStateChanged EventType = "stream.state_changed"

	// System events
	EventTypeError EventType = "error"
)

// Event is a notification emitted by a chat session. Subscribers use it
// to re-render; the session state itself is the source of truth.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// ConversationID is the related conversation, empty for list-level
	// events.
	ConversationID string `json:"conversation_id,omitempty"`

	// Payload carries one of the typed payloads below.
	Payload any `json:"payload,omitempty"`
}

// StreamStatePayload is the payload for stream.state_changed events.
type StreamStatePayload struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// TradeCompletedPayload is the payload for trade.completed events.
// Product listings use it as the single trigger for marking a product
// sold.
type TradeCompletedPayload struct {
	ProductID   string    `json:"product_id"`
	SellerID    string    `json:"seller_id"`
	BuyerID     string    `json:"buyer_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// ErrorPayload is the payload for error events.
type ErrorPayload struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}
