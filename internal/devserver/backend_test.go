package devserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/campusmarket/internal/models"
)

func steppingClock() func() time.Time {
	t := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func seededBackend(t *testing.T) *Backend {
	t.Helper()
	b := NewBackend(steppingClock())
	require.Len(t, Seed(b), 3)
	return b
}

func TestBackendVisibility(t *testing.T) {
	b := seededBackend(t)

	assert.Len(t, b.Conversations(DemoBuyer.ID), 2)
	assert.Len(t, b.Conversations(DemoSeller.ID), 2)
	assert.Empty(t, b.Conversations("stranger"))

	_, err := b.Messages("stranger", "conv-lamp")
	require.ErrorIs(t, err, models.ErrAuthorization)

	_, err = b.Messages(DemoBuyer.ID, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestBackendPostUpdatesSummaryAndUnread(t *testing.T) {
	b := seededBackend(t)

	conv, err := b.Conversation(DemoBuyer.ID, "conv-lamp")
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "shared a location", conv.LastMessage.Content)
	assert.Equal(t, 2, conv.UnreadFor(DemoBuyer.ID))
	assert.Equal(t, 1, conv.UnreadFor(DemoSeller.ID))

	history, err := b.Messages(DemoBuyer.ID, "conv-lamp")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, DemoBuyer.ID, history[0].Sender.ID)
	assert.Equal(t, "Bea Buyer", history[0].Sender.Name)
	assert.NotNil(t, history[2].Location)

	require.NoError(t, b.MarkRead(DemoBuyer.ID, "conv-lamp"))
	conv, err = b.Conversation(DemoBuyer.ID, "conv-lamp")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadFor(DemoBuyer.ID))
	assert.Equal(t, 1, conv.UnreadFor(DemoSeller.ID))

	history, err = b.Messages(DemoBuyer.ID, "conv-lamp")
	require.NoError(t, err)
	assert.False(t, history[0].Read, "own messages are untouched")
	assert.True(t, history[1].Read)
}

func TestBackendRejectsEmptyMessages(t *testing.T) {
	b := seededBackend(t)
	_, err := b.Post(DemoBuyer.ID, "conv-lamp", models.OutgoingMessage{Content: "   "})
	require.ErrorIs(t, err, models.ErrEmptyMessage)
}

func TestBackendCompleteTrade(t *testing.T) {
	b := seededBackend(t)

	_, err := b.CompleteTrade(DemoBuyer.ID, "conv-lamp")
	require.ErrorIs(t, err, models.ErrAuthorization)

	_, err = b.CompleteTrade(DemoBuyer.ID, "conv-notes")
	require.ErrorIs(t, err, models.ErrInvalidState)

	conv, err := b.CompleteTrade(DemoSeller.ID, "conv-lamp")
	require.NoError(t, err)
	assert.True(t, conv.IsCompleted)
	assert.False(t, conv.IsActive)
	assert.Equal(t, DemoBuyer.ID, conv.BuyerID)
	assert.Equal(t, "sold", conv.Product.Status)

	_, err = b.CompleteTrade(DemoSeller.ID, "conv-lamp")
	require.ErrorIs(t, err, models.ErrAlreadyCompleted)

	_, err = b.Post(DemoBuyer.ID, "conv-lamp", models.OutgoingMessage{Content: "still there?"})
	require.ErrorIs(t, err, models.ErrConversationClosed)
}

func TestBackendSubscribe(t *testing.T) {
	b := seededBackend(t)

	ch, cancel, err := b.Subscribe(DemoSeller.ID, "conv-lamp")
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount("conv-lamp"))

	posted, err := b.Post(DemoBuyer.ID, "conv-lamp", models.OutgoingMessage{Content: "on my way", ClientID: "cid-1"})
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, posted.ID, got.ID)
		assert.Equal(t, "cid-1", got.ClientID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the message")
	}

	cancel()
	cancel()
	assert.Equal(t, 0, b.SubscriberCount("conv-lamp"))

	_, _, err = b.Subscribe("stranger", "conv-lamp")
	require.ErrorIs(t, err, models.ErrAuthorization)
}

func TestIssuer(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	clockFn := func() time.Time { return now }

	_, err := NewIssuer(nil, 0, clockFn)
	require.Error(t, err)

	issuer, err := NewIssuer([]byte("secret"), time.Minute, clockFn)
	require.NoError(t, err)

	session, err := issuer.SessionToken("u1", 0)
	require.NoError(t, err)
	claims, err := issuer.Verify(session)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Empty(t, claims.ConversationID)

	scoped, err := issuer.StreamToken("u1", "c1")
	require.NoError(t, err)
	claims, err = issuer.Verify(scoped)
	require.NoError(t, err)
	assert.Equal(t, "c1", claims.ConversationID)

	now = now.Add(2 * time.Minute)
	_, err = issuer.Verify(scoped)
	require.Error(t, err, "expired stream token")

	other, err := NewIssuer([]byte("other"), time.Minute, clockFn)
	require.NoError(t, err)
	_, err = other.Verify(session)
	require.Error(t, err, "wrong signature")
}
