// Package devserver is an in-memory marketplace chat backend. It serves
// the same REST and SSE surface as production so the client can be
// exercised end to end without external services.
package devserver

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/campusmarket/internal/models"
	"github.com/tOgg1/campusmarket/internal/trade"
)

// subscriberBuffer bounds each stream's backlog. A subscriber that falls
// further behind loses messages; its client recovers them by polling.
const subscriberBuffer = 64

// Backend holds conversations and messages. It is safe for concurrent
// use.
type Backend struct {
	mu            sync.Mutex
	now           func() time.Time
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
	subscribers   map[string]map[string]chan models.Message
}

// NewBackend creates an empty backend.
func NewBackend(now func() time.Time) *Backend {
	if now == nil {
		now = time.Now
	}
	return &Backend{
		now:           now,
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
		subscribers:   make(map[string]map[string]chan models.Message),
	}
}

// AddConversation stores conv, replacing any conversation with the same id.
func (b *Backend) AddConversation(conv models.Conversation) models.Conversation {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conv.ID == "" {
		conv.ID = newID()
	}
	now := b.now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	if !conv.IsCompleted {
		conv.IsActive = true
	}
	stored := conv.Clone()
	b.conversations[conv.ID] = &stored
	return stored.Clone()
}

// Conversations lists userID's conversations.
func (b *Backend) Conversations(userID string) []models.Conversation {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Conversation, 0, len(b.conversations))
	for _, conv := range b.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, conv.Clone())
		}
	}
	return out
}

// Conversation returns one conversation visible to userID.
func (b *Backend) Conversation(userID, conversationID string) (models.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, err := b.visibleLocked(userID, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	return conv.Clone(), nil
}

// Messages returns the history of a conversation, oldest first.
func (b *Backend) Messages(userID, conversationID string) ([]models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.visibleLocked(userID, conversationID); err != nil {
		return nil, err
	}
	history := b.messages[conversationID]
	out := make([]models.Message, len(history))
	for i := range history {
		out[i] = history[i].Clone()
	}
	models.SortMessages(out)
	return out, nil
}

// MarkRead zeroes userID's unread count and flags the other side's
// messages as read.
func (b *Backend) MarkRead(userID, conversationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, err := b.visibleLocked(userID, conversationID)
	if err != nil {
		return err
	}
	conv.SetUnread(userID, 0)
	history := b.messages[conversationID]
	for i := range history {
		if history[i].Sender.ID != userID {
			history[i].Read = true
		}
	}
	return nil
}

// Post stores a message from senderID and fans it out to stream
// subscribers.
func (b *Backend) Post(senderID, conversationID string, out models.OutgoingMessage) (models.Message, error) {
	if err := out.Validate(); err != nil {
		return models.Message{}, err
	}

	b.mu.Lock()
	conv, err := b.visibleLocked(senderID, conversationID)
	if err != nil {
		b.mu.Unlock()
		return models.Message{}, err
	}
	if !trade.CanSend(conv) {
		b.mu.Unlock()
		return models.Message{}, models.ErrConversationClosed
	}

	now := b.now().UTC()
	msg := models.Message{
		ID:             newID(),
		ConversationID: conversationID,
		Sender:         participant(conv, senderID),
		Content:        out.Content,
		CreatedAt:      now,
		Attachments:    append([]models.Attachment(nil), out.Attachments...),
		ClientID:       out.ClientID,
	}
	if out.Location != nil {
		loc := *out.Location
		msg.Location = &loc
	}
	b.messages[conversationID] = append(b.messages[conversationID], msg)

	conv.LastMessage = &models.LastMessage{Content: summarize(msg), Sender: msg.Sender, Timestamp: now}
	conv.UpdatedAt = now
	for _, p := range conv.Participants {
		if p.ID != senderID {
			conv.SetUnread(p.ID, conv.UnreadFor(p.ID)+1)
		}
	}

	var targets []chan models.Message
	for _, ch := range b.subscribers[conversationID] {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- msg.Clone():
		default:
		}
	}
	return msg.Clone(), nil
}

// CompleteTrade runs the seller-only completion.
func (b *Backend) CompleteTrade(userID, conversationID string) (models.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, err := b.visibleLocked(userID, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if _, err := trade.Complete(conv, userID, b.now()); err != nil {
		return models.Conversation{}, err
	}
	conv.UpdatedAt = *conv.CompletedAt
	if conv.Product != nil {
		conv.Product.Status = "sold"
	}
	return conv.Clone(), nil
}

// Subscribe registers a stream listener for conversationID.
func (b *Backend) Subscribe(userID, conversationID string) (<-chan models.Message, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.visibleLocked(userID, conversationID); err != nil {
		return nil, nil, err
	}
	id := newID()
	ch := make(chan models.Message, subscriberBuffer)
	if b.subscribers[conversationID] == nil {
		b.subscribers[conversationID] = make(map[string]chan models.Message)
	}
	b.subscribers[conversationID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers[conversationID], id)
		})
	}
	return ch, cancel, nil
}

// SubscriberCount reports open streams for conversationID.
func (b *Backend) SubscriberCount(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[conversationID])
}

func (b *Backend) visibleLocked(userID, conversationID string) (*models.Conversation, error) {
	conv, ok := b.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
	}
	if !conv.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant", models.ErrAuthorization)
	}
	return conv, nil
}

func participant(conv *models.Conversation, userID string) models.UserRef {
	for _, p := range conv.Participants {
		if p.ID == userID {
			return p
		}
	}
	return models.UserRef{ID: userID}
}

func summarize(msg models.Message) string {
	switch {
	case strings.TrimSpace(msg.Content) != "":
		return msg.Content
	case msg.Location != nil:
		return "shared a location"
	case len(msg.Attachments) > 0:
		return "sent an attachment"
	default:
		return ""
	}
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
