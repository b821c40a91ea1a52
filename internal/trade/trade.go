// Package trade implements the one-way trade lifecycle of a conversation.
//
// A conversation starts active and becomes completed when the product's
// seller marks the trade done. Completion is terminal: nothing moves a
// conversation back to active, and a completed conversation accepts no
// new messages.
package trade

import (
	"fmt"
	"time"

	"github.com/tOgg1/campusmarket/internal/models"
)

// State is the trade state of a conversation.
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
)

// Failure kinds returned by Complete. ErrInvalidState and
// ErrAlreadyCompleted alias the shared model errors so callers can match
// either.
var (
	ErrInvalidState     = models.ErrInvalidState
	ErrAlreadyCompleted = models.ErrAlreadyCompleted
	ErrUnauthorized     = fmt.Errorf("%w: only the seller can complete the trade", models.ErrAuthorization)
)

// Of returns the trade state of conv.
func Of(conv *models.Conversation) State {
	if conv != nil && conv.IsCompleted {
		return StateCompleted
	}
	return StateActive
}

// Completion describes a successful transition.
type Completion struct {
	ConversationID string
	ProductID      string
	SellerID       string
	BuyerID        string
	CompletedAt    time.Time
}

// Payload converts the completion into its event payload.
func (c Completion) Payload() models.TradeCompletedPayload {
	return models.TradeCompletedPayload{
		ProductID:   c.ProductID,
		SellerID:    c.SellerID,
		BuyerID:     c.BuyerID,
		CompletedAt: c.CompletedAt,
	}
}

// Check reports whether callerID may complete conv right now, without
// mutating it. The checks run in order: product bound, not completed,
// caller is the seller.
func Check(conv *models.Conversation, callerID string) error {
	if conv == nil || conv.Product == nil || conv.Product.Seller.IsZero() {
		return ErrInvalidState
	}
	if conv.IsCompleted {
		return ErrAlreadyCompleted
	}
	if callerID == "" || callerID != conv.Product.Seller.ID {
		return ErrUnauthorized
	}
	return nil
}

// Complete moves conv from active to completed. The seller is the
// product owner; participant order is never consulted for that. The
// buyer is bound to the other participant. On any error conv is left
// untouched.
func Complete(conv *models.Conversation, callerID string, now time.Time) (Completion, error) {
	if err := Check(conv, callerID); err != nil {
		return Completion{}, err
	}

	sellerID := conv.Product.Seller.ID
	buyer, ok := conv.OtherParticipant(sellerID)
	if !ok {
		return Completion{}, fmt.Errorf("%w: conversation has no buyer", ErrInvalidState)
	}

	completedAt := now.UTC()
	conv.IsCompleted = true
	conv.IsActive = false
	conv.CompletedAt = &completedAt
	conv.BuyerID = buyer.ID

	return Completion{
		ConversationID: conv.ID,
		ProductID:      conv.Product.ID,
		SellerID:       sellerID,
		BuyerID:        buyer.ID,
		CompletedAt:    completedAt,
	}, nil
}

// CanSend reports whether new messages may be composed in conv.
func CanSend(conv *models.Conversation) bool {
	if conv == nil {
		return false
	}
	return !conv.IsCompleted && conv.IsActive
}

// EnsureCanSend returns ErrConversationClosed when CanSend is false.
func EnsureCanSend(conv *models.Conversation) error {
	if conv == nil {
		return fmt.Errorf("%w: unknown conversation", models.ErrNotFound)
	}
	if !CanSend(conv) {
		return models.ErrConversationClosed
	}
	return nil
}

// Merge folds a server snapshot into the local view without ever
// reverting completion: a stale snapshot that still shows the trade
// active does not undo a completion already observed.
func Merge(local, remote *models.Conversation) {
	if local == nil || remote == nil {
		return
	}
	if local.IsCompleted && !remote.IsCompleted {
		remote.IsCompleted = true
		remote.IsActive = false
		remote.CompletedAt = local.CompletedAt
		if remote.BuyerID == "" {
			remote.BuyerID = local.BuyerID
		}
	}
	if remote.IsCompleted {
		remote.IsActive = false
	}
}
