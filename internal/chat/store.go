// Package chat keeps one open conversation consistent while messages
// arrive from the push stream, the message poll and local sends.
package chat

import (
	"sync"

	"github.com/tOgg1/campusmarket/internal/models"
)

// MessageStore is the de-duplicated message buffer of one conversation.
// The message ID is the only identity; display order is derived from
// timestamps by Sorted, never from arrival order. Safe for concurrent
// use.
type MessageStore struct {
	mu             sync.Mutex
	conversationID string
	order          []string
	byID           map[string]models.Message
	// drafts maps a pending draft's client id to its local id.
	drafts map[string]string
}

// NewMessageStore creates an empty store for conversationID.
func NewMessageStore(conversationID string) *MessageStore {
	return &MessageStore{
		conversationID: conversationID,
		byID:           make(map[string]models.Message),
		drafts:         make(map[string]string),
	}
}

// ConversationID returns the conversation the store buffers.
func (s *MessageStore) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Merge inserts msg unless its ID is already present and reports
// whether the buffer changed. A confirmed message whose ClientID
// matches a pending draft takes the draft's place. For a message already
// present only the Read flag can change, and only to true.
func (s *MessageStore) Merge(msg models.Message) bool {
	if msg.ID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[msg.ID]; ok {
		if msg.Read && !existing.Read {
			existing.Read = true
			s.byID[msg.ID] = existing
		}
		return false
	}

	if msg.ConversationID == "" {
		msg.ConversationID = s.conversationID
	}

	if msg.ClientID != "" && !msg.IsDraft() {
		if draftID, ok := s.drafts[msg.ClientID]; ok {
			s.replaceLocked(draftID, msg)
			return true
		}
	}

	s.insertLocked(msg)
	return true
}

// Confirm swaps the draft draftID for its server copy. When the server
// copy already arrived through another channel the draft is just
// dropped. It reports whether the buffer changed.
func (s *MessageStore) Confirm(draftID string, msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, hasDraft := s.byID[draftID]
	_, hasConfirmed := s.byID[msg.ID]

	switch {
	case !hasDraft && hasConfirmed:
		return false
	case !hasDraft:
		s.insertLocked(msg)
		return true
	case hasConfirmed:
		s.removeLocked(draftID)
		delete(s.drafts, draft.ClientID)
		return true
	default:
		if msg.ConversationID == "" {
			msg.ConversationID = s.conversationID
		}
		s.replaceLocked(draftID, msg)
		return true
	}
}

// Remove deletes a message, typically a draft whose send failed.
func (s *MessageStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return false
	}
	s.removeLocked(id)
	if msg.ClientID != "" && s.drafts[msg.ClientID] == id {
		delete(s.drafts, msg.ClientID)
	}
	return true
}

// ReplaceAll swaps the buffer for list after a full fetch, de-duplicated
// by ID. Pending drafts whose confirmation is not in list are kept.
func (s *MessageStore) ReplaceAll(list []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []models.Message
	for _, id := range s.order {
		msg := s.byID[id]
		if msg.IsDraft() {
			pending = append(pending, msg)
		}
	}

	s.order = s.order[:0]
	s.byID = make(map[string]models.Message, len(list)+len(pending))
	s.drafts = make(map[string]string, len(pending))

	confirmedClientIDs := make(map[string]bool)
	for _, msg := range list {
		if msg.ID == "" {
			continue
		}
		if _, dup := s.byID[msg.ID]; dup {
			continue
		}
		if msg.ConversationID == "" {
			msg.ConversationID = s.conversationID
		}
		if msg.ClientID != "" {
			confirmedClientIDs[msg.ClientID] = true
		}
		s.insertLocked(msg)
	}

	for _, draft := range pending {
		if confirmedClientIDs[draft.ClientID] {
			continue
		}
		s.insertLocked(draft)
	}
}

// Clear empties the buffer.
func (s *MessageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.byID = make(map[string]models.Message)
	s.drafts = make(map[string]string)
}

// Reset clears the buffer and retargets it at conversationID.
func (s *MessageStore) Reset(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = conversationID
	s.order = nil
	s.byID = make(map[string]models.Message)
	s.drafts = make(map[string]string)
}

// Len returns the number of buffered messages.
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Get returns the message with id.
func (s *MessageStore) Get(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return msg.Clone(), true
}

// Snapshot returns a copy of the buffer in insertion order.
func (s *MessageStore) Snapshot() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// Sorted returns the buffer in display order.
func (s *MessageStore) Sorted() []models.Message {
	return SortForDisplay(s.Snapshot())
}

// SortForDisplay returns messages ordered by creation time, ties by ID.
// The input is not modified.
func SortForDisplay(messages []models.Message) []models.Message {
	out := append([]models.Message(nil), messages...)
	models.SortMessages(out)
	return out
}

func (s *MessageStore) insertLocked(msg models.Message) {
	s.order = append(s.order, msg.ID)
	s.byID[msg.ID] = msg
	if msg.IsDraft() && msg.ClientID != "" {
		s.drafts[msg.ClientID] = msg.ID
	}
}

func (s *MessageStore) replaceLocked(oldID string, msg models.Message) {
	old := s.byID[oldID]
	delete(s.byID, oldID)
	delete(s.drafts, old.ClientID)
	msg.Pending = false
	s.byID[msg.ID] = msg
	for i, id := range s.order {
		if id == oldID {
			s.order[i] = msg.ID
			return
		}
	}
	s.order = append(s.order, msg.ID)
}

func (s *MessageStore) removeLocked(id string) {
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
