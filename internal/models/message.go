package models

import (
	"sort"
	"strings"
	"time"
)

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	URL      string `json:"url" cbor:"1,keyasint"`
	Name     string `json:"name,omitempty" cbor:"2,keyasint,omitempty"`
	MimeType string `json:"mimeType,omitempty" cbor:"3,keyasint,omitempty"`
	Size     int64  `json:"size,omitempty" cbor:"4,keyasint,omitempty"`
}

// Location is a shared meeting point.
type Location struct {
	Latitude  float64 `json:"lat" cbor:"1,keyasint"`
	Longitude float64 `json:"lng" cbor:"2,keyasint"`
	Label     string  `json:"label,omitempty" cbor:"3,keyasint,omitempty"`
}

// Validate checks coordinate bounds.
func (l *Location) Validate() error {
	validation := &ValidationErrors{}
	if l.Latitude < -90 || l.Latitude > 90 {
		validation.Add("lat", ErrInvalidLatitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		validation.Add("lng", ErrInvalidLongitude)
	}
	return validation.Err()
}

// Message is a single chat message.
type Message struct {
	// ID is the server-assigned identifier and the only de-duplication
	// key. Optimistic drafts carry a local "draft-" id until confirmed.
	ID string `json:"_id"`

	// ConversationID is the owning conversation.
	ConversationID string `json:"conversation,omitempty"`

	// Sender is the author.
	Sender UserRef `json:"sender"`

	// Content is the text body; may be empty when an attachment or
	// location is present.
	Content string `json:"content"`

	// CreatedAt is the server creation timestamp.
	CreatedAt time.Time `json:"createdAt"`

	// Read is the only field that changes after confirmation.
	Read bool `json:"read,omitempty"`

	// IsAdminMessage marks moderator-originated messages.
	IsAdminMessage bool `json:"isAdminMessage,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
	Location    *Location    `json:"location,omitempty"`

	// ClientID is echoed back by the server so a confirmed message can
	// replace its optimistic draft.
	ClientID string `json:"clientId,omitempty"`

	// Pending is true for a local draft awaiting confirmation.
	Pending bool `json:"-"`
}

// DraftIDPrefix marks locally generated ids.
const DraftIDPrefix = "draft-"

// IsDraft reports whether the message is an unconfirmed local draft.
func (m *Message) IsDraft() bool {
	return m.Pending || strings.HasPrefix(m.ID, DraftIDPrefix)
}

// Validate checks the message before it is sent or cached.
func (m *Message) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(m.ID) == "" {
		validation.Add("_id", ErrMissingID)
	}
	if strings.TrimSpace(m.ConversationID) == "" {
		validation.Add("conversation", ErrMissingConversationID)
	}
	if m.Sender.IsZero() {
		validation.Add("sender", ErrMissingSender)
	}
	if strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 && m.Location == nil {
		validation.Add("content", ErrEmptyMessage)
	}
	for i := range m.Attachments {
		if strings.TrimSpace(m.Attachments[i].URL) == "" {
			validation.Add("attachments", ErrInvalidAttachment)
			break
		}
	}
	if m.Location != nil {
		validation.Add("location", m.Location.Validate())
	}
	return validation.Err()
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	out := m
	if len(m.Attachments) > 0 {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Location != nil {
		loc := *m.Location
		out.Location = &loc
	}
	return out
}

// SortMessages orders messages for display: creation time ascending,
// ties broken by id. Arrival order is never used.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messageLess(messages[i], messages[j])
	})
}

func messageLess(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// OutgoingMessage is the body of a send request.
type OutgoingMessage struct {
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Location    *Location    `json:"location,omitempty"`
	ClientID    string       `json:"clientId,omitempty"`
}

// Validate rejects empty sends and malformed payloads.
func (o *OutgoingMessage) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(o.Content) == "" && len(o.Attachments) == 0 && o.Location == nil {
		validation.Add("content", ErrEmptyMessage)
	}
	for i := range o.Attachments {
		if strings.TrimSpace(o.Attachments[i].URL) == "" {
			validation.Add("attachments", ErrInvalidAttachment)
			break
		}
	}
	if o.Location != nil {
		validation.Add("location", o.Location.Validate())
	}
	return validation.Err()
}
