package trade

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/campusmarket/internal/models"
)

func newConversation() *models.Conversation {
	return &models.Conversation{
		ID: "c1",
		// Buyer listed first: participant order must not decide the seller.
		Participants: []models.UserRef{{ID: "b1"}, {ID: "s1"}},
		Product:      &models.Product{ID: "p1", Title: "Desk lamp", Seller: models.UserRef{ID: "s1"}},
		IsActive:     true,
	}
}

func TestCompleteBySeller(t *testing.T) {
	conv := newConversation()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.Equal(t, StateActive, Of(conv))
	completion, err := Complete(conv, "s1", now)
	require.NoError(t, err)

	assert.True(t, conv.IsCompleted)
	assert.False(t, conv.IsActive)
	require.NotNil(t, conv.CompletedAt)
	assert.Equal(t, now, *conv.CompletedAt)
	assert.Equal(t, "b1", conv.BuyerID)
	assert.Equal(t, StateCompleted, Of(conv))

	assert.Equal(t, Completion{
		ConversationID: "c1",
		ProductID:      "p1",
		SellerID:       "s1",
		BuyerID:        "b1",
		CompletedAt:    now,
	}, completion)
	assert.Equal(t, "b1", completion.Payload().BuyerID)

	assert.False(t, CanSend(conv))
	assert.ErrorIs(t, EnsureCanSend(conv), models.ErrConversationClosed)
}

func TestCompleteFailuresDoNotMutate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		conv    func() *models.Conversation
		caller  string
		wantErr error
	}{
		{
			name:    "no product",
			conv:    func() *models.Conversation { c := newConversation(); c.Product = nil; return c },
			caller:  "s1",
			wantErr: ErrInvalidState,
		},
		{
			name:    "buyer attempts completion",
			conv:    newConversation,
			caller:  "b1",
			wantErr: ErrUnauthorized,
		},
		{
			name:    "empty caller",
			conv:    newConversation,
			caller:  "",
			wantErr: ErrUnauthorized,
		},
		{
			name: "already completed",
			conv: func() *models.Conversation {
				c := newConversation()
				_, err := Complete(c, "s1", now.Add(-time.Hour))
				require.NoError(t, err)
				return c
			},
			caller:  "s1",
			wantErr: ErrAlreadyCompleted,
		},
		{
			name: "no counterpart",
			conv: func() *models.Conversation {
				c := newConversation()
				c.Participants = []models.UserRef{{ID: "s1"}}
				return c
			},
			caller:  "s1",
			wantErr: ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := tt.conv()
			before := conv.Clone()

			_, err := Complete(conv, tt.caller, now)
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			require.Equal(t, before, *conv)
		})
	}
}

func TestUnauthorizedIsAuthorizationError(t *testing.T) {
	_, err := Complete(newConversation(), "b1", time.Now())
	require.ErrorIs(t, err, models.ErrAuthorization)
	require.NotErrorIs(t, ErrAlreadyCompleted, models.ErrAuthorization)
}

func TestRepeatCompletionIsStable(t *testing.T) {
	conv := newConversation()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := Complete(conv, "s1", first)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = Complete(conv, "s1", first.Add(time.Duration(i+1)*time.Hour))
		require.ErrorIs(t, err, ErrAlreadyCompleted)
	}
	require.Equal(t, first, *conv.CompletedAt)
	require.Equal(t, "b1", conv.BuyerID)
}

func TestCanSend(t *testing.T) {
	assert.True(t, CanSend(newConversation()))

	inactive := newConversation()
	inactive.IsActive = false
	assert.False(t, CanSend(inactive))
	assert.ErrorIs(t, EnsureCanSend(inactive), models.ErrConversationClosed)

	assert.False(t, CanSend(nil))
	assert.ErrorIs(t, EnsureCanSend(nil), models.ErrNotFound)
}

func TestMergeNeverRevertsCompletion(t *testing.T) {
	local := newConversation()
	_, err := Complete(local, "s1", time.Now())
	require.NoError(t, err)

	stale := newConversation()
	Merge(local, stale)

	assert.True(t, stale.IsCompleted)
	assert.False(t, stale.IsActive)
	assert.Equal(t, local.CompletedAt, stale.CompletedAt)
	assert.Equal(t, "b1", stale.BuyerID)
}

func TestMergeAcceptsRemoteCompletion(t *testing.T) {
	local := newConversation()
	remote := newConversation()
	remote.IsCompleted = true
	remote.IsActive = true

	Merge(local, remote)
	assert.True(t, remote.IsCompleted)
	assert.False(t, remote.IsActive)
}
