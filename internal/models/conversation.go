package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// Product is the listing a conversation is about.
type Product struct {
	ID     string  `json:"_id"`
	Title  string  `json:"title,omitempty"`
	Price  float64 `json:"price,omitempty"`
	Seller UserRef `json:"seller"`
	Status string  `json:"status,omitempty"`
}

// LastMessage is the summary snapshot shown in conversation lists.
type LastMessage struct {
	Content   string    `json:"content"`
	Sender    UserRef   `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// unreadWildcard keys a bare-number unreadCount, which the server sends
// when it has already projected the count for the caller.
const unreadWildcard = "*"

// UnreadCounts maps user id to unread messages.
type UnreadCounts map[string]int

// UnmarshalJSON accepts either {"userId": n} or n.
func (u *UnreadCounts) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*u = nil
		return nil
	}
	if data[0] != '{' {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*u = UnreadCounts{unreadWildcard: n}
		return nil
	}
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*u = m
	return nil
}

// Conversation is a chat between marketplace users, optionally about a
// product.
type Conversation struct {
	// ID is the unique identifier for the conversation.
	ID string `json:"_id"`

	// Participants are the users in the conversation. Their order is not
	// meaningful; the seller is taken from Product.
	Participants []UserRef `json:"participants"`

	// Product is the listing under discussion, if any.
	Product *Product `json:"product,omitempty"`

	// OriginMessageID is the message that opened the conversation, if any.
	OriginMessageID string `json:"originMessage,omitempty"`

	// LastMessage is nil for conversations without messages.
	LastMessage *LastMessage `json:"lastMessage,omitempty"`

	// UnreadCounts holds per-user unread counters.
	UnreadCounts UnreadCounts `json:"unreadCount,omitempty"`

	// IsActive is false once the trade closed.
	IsActive bool `json:"isActive"`

	// IsCompleted never reverts once true.
	IsCompleted bool `json:"isCompleted"`

	// CompletedAt is set iff IsCompleted.
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// BuyerID is bound exactly once, at completion.
	BuyerID string `json:"buyerId,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// UnreadFor returns the unread count for userID.
func (c *Conversation) UnreadFor(userID string) int {
	if c.UnreadCounts == nil {
		return 0
	}
	if n, ok := c.UnreadCounts[userID]; ok {
		return n
	}
	return c.UnreadCounts[unreadWildcard]
}

// SetUnread sets the unread count for userID.
func (c *Conversation) SetUnread(userID string, n int) {
	if c.UnreadCounts == nil {
		c.UnreadCounts = make(UnreadCounts, 1)
	}
	c.UnreadCounts[userID] = n
	delete(c.UnreadCounts, unreadWildcard)
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the first participant that is not userID.
func (c *Conversation) OtherParticipant(userID string) (UserRef, bool) {
	for _, p := range c.Participants {
		if p.ID != userID && p.ID != "" {
			return p, true
		}
	}
	return UserRef{}, false
}

// SellerID is the product owner, or "" when no product is bound.
func (c *Conversation) SellerID() string {
	if c.Product == nil {
		return ""
	}
	return c.Product.Seller.ID
}

// LastActivity is the last message timestamp, zero when there is none.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.Timestamp
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]UserRef(nil), c.Participants...)
	if c.Product != nil {
		p := *c.Product
		out.Product = &p
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	if c.UnreadCounts != nil {
		out.UnreadCounts = make(UnreadCounts, len(c.UnreadCounts))
		for k, v := range c.UnreadCounts {
			out.UnreadCounts[k] = v
		}
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
