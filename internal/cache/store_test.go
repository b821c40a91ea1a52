package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/campusmarket/internal/events"
	"github.com/tOgg1/campusmarket/internal/models"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func summary(id string, last time.Duration) models.Conversation {
	conv := models.Conversation{
		ID:           id,
		Participants: []models.UserRef{{ID: "s1", Name: "Sam"}, {ID: "b1"}},
		Product:      &models.Product{ID: "p-" + id, Title: "Desk lamp", Price: 12.5, Seller: models.UserRef{ID: "s1"}},
		UnreadCounts: models.UnreadCounts{"b1": 2},
		IsActive:     true,
	}
	if last > 0 {
		conv.LastMessage = &models.LastMessage{Content: "hi", Sender: models.UserRef{ID: "s1"}, Timestamp: baseTime.Add(last)}
	}
	return conv
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestSaveAndListConversations(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveConversations(ctx, []models.Conversation{
		summary("c-old", time.Minute),
		summary("c-empty", 0),
		summary("c-new", time.Hour),
	}))

	list, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c-new", list[0].ID)
	assert.Equal(t, "c-old", list[1].ID)
	assert.Equal(t, "c-empty", list[2].ID)

	got := list[0]
	assert.Equal(t, "s1", got.SellerID())
	assert.Equal(t, "Desk lamp", got.Product.Title)
	assert.Equal(t, 2, got.UnreadFor("b1"))
	assert.True(t, got.LastActivity().Equal(baseTime.Add(time.Hour)))
	assert.Equal(t, "Sam", got.Participants[0].Name)
}

func TestSaveConversationsNeverRevertsCompletion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	completed := summary("c1", time.Minute)
	completedAt := baseTime.Add(2 * time.Minute)
	completed.IsCompleted = true
	completed.IsActive = false
	completed.CompletedAt = &completedAt
	completed.BuyerID = "b1"
	require.NoError(t, store.SaveConversations(ctx, []models.Conversation{completed}))

	stale := summary("c1", time.Minute)
	require.NoError(t, store.SaveConversations(ctx, []models.Conversation{stale}))

	got, err := store.Conversation(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.IsCompleted)
	assert.False(t, got.IsActive)
	assert.Equal(t, "b1", got.BuyerID)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completedAt))

	_, err = store.Conversation(ctx, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestSaveMessagesUpsertsByID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := models.Message{
		ID:             "m1",
		ConversationID: "c1",
		Sender:         models.UserRef{ID: "s1", Name: "Sam"},
		Content:        "still available?",
		CreatedAt:      baseTime,
		Attachments:    []models.Attachment{{URL: "https://cdn.example.edu/a.png", Name: "a.png", MimeType: "image/png", Size: 42}},
	}
	second := models.Message{
		ID:             "m2",
		ConversationID: "c1",
		Sender:         models.UserRef{ID: "b1"},
		Content:        "meet here",
		CreatedAt:      baseTime.Add(time.Minute),
		Location:       &models.Location{Latitude: 59.91, Longitude: 10.75, Label: "Library"},
	}
	draft := models.Message{ID: models.DraftIDPrefix + "x", ConversationID: "c1", Sender: models.UserRef{ID: "b1"}, Content: "pending", Pending: true}
	other := models.Message{ID: "m3", ConversationID: "c2", Sender: models.UserRef{ID: "b1"}, Content: "elsewhere", CreatedAt: baseTime}

	require.NoError(t, store.SaveMessages(ctx, []models.Message{second, first, draft, other}))

	readCopy := first
	readCopy.Read = true
	readCopy.Content = "edited"
	require.NoError(t, store.SaveMessages(ctx, []models.Message{readCopy, first}))

	list, err := store.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "m1", list[0].ID)
	assert.Equal(t, "still available?", list[0].Content)
	assert.True(t, list[0].Read, "read flag only ever upgrades")
	assert.Equal(t, "Sam", list[0].Sender.Name)
	require.Len(t, list[0].Attachments, 1)
	assert.Equal(t, int64(42), list[0].Attachments[0].Size)
	assert.True(t, list[0].CreatedAt.Equal(baseTime))

	assert.Equal(t, "m2", list[1].ID)
	require.NotNil(t, list[1].Location)
	assert.Equal(t, "Library", list[1].Location.Label)
	assert.InDelta(t, 59.91, list[1].Location.Latitude, 1e-9)

	latest, err := store.ListMessages(ctx, "c1", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "m2", latest[0].ID)
}

func TestListMessagesOrdersSubSecondTimestamps(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	whole := models.Message{ID: "m-a", ConversationID: "c1", Sender: models.UserRef{ID: "s1"}, Content: "first", CreatedAt: baseTime.Add(5 * time.Second)}
	half := models.Message{ID: "m-b", ConversationID: "c1", Sender: models.UserRef{ID: "b1"}, Content: "second", CreatedAt: baseTime.Add(5500 * time.Millisecond)}
	require.NoError(t, store.SaveMessages(ctx, []models.Message{half, whole}))

	latest, err := store.ListMessages(ctx, "c1", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "m-b", latest[0].ID)
	assert.True(t, latest[0].CreatedAt.Equal(half.CreatedAt))

	all, err := store.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "m-a", all[0].ID)
	assert.Equal(t, "m-b", all[1].ID)
}

func TestListConversationsOrdersSubSecondActivity(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveConversations(ctx, []models.Conversation{
		summary("c-whole", 5*time.Second),
		summary("c-half", 5500*time.Millisecond),
	}))

	list, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c-half", list[0].ID)
	assert.Equal(t, "c-whole", list[1].ID)
}

func TestFormatTimeIsFixedWidth(t *testing.T) {
	a := formatTime(baseTime.Add(5 * time.Second))
	b := formatTime(baseTime.Add(5500 * time.Millisecond))
	assert.Len(t, b, len(a))
	assert.Less(t, a, b)
	assert.True(t, parseTime(b).Equal(baseTime.Add(5500*time.Millisecond)))
	assert.True(t, parseTime("2026-03-01T09:00:05.5Z").Equal(baseTime.Add(5500*time.Millisecond)))
}

func TestOpenResetsOlderCacheLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.SaveMessages(ctx, []models.Message{{ID: "m1", ConversationID: "c1", Sender: models.UserRef{ID: "s1"}, Content: "x", CreatedAt: baseTime}}))
	_, err = store.db.ExecContext(ctx, "PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	list, err := reopened.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStoreIsAnEventSink(t *testing.T) {
	store := openTestStore(t)
	var _ events.Sink = store

	publisher := events.NewInMemoryPublisher(events.WithSink(store))
	ctx := context.Background()
	publisher.Publish(ctx, &models.Event{
		Type:           models.EventTypeTradeCompleted,
		ConversationID: "c1",
		Timestamp:      baseTime,
		Payload:        models.TradeCompletedPayload{ProductID: "p1", SellerID: "s1", BuyerID: "b1", CompletedAt: baseTime},
	})
	publisher.Publish(ctx, &models.Event{
		Type:      models.EventTypeConversationsRefreshed,
		Timestamp: baseTime.Add(time.Second),
		Payload:   3,
	})

	all, err := store.RecentEvents(ctx, EventQuery{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.EventTypeTradeCompleted, all[0].Type)
	assert.Equal(t, models.EventTypeConversationsRefreshed, all[1].Type)

	payload, ok := all[0].Payload.(map[string]any)
	require.True(t, ok, "payload %T", all[0].Payload)
	assert.Equal(t, "b1", payload["buyer_id"])

	scoped, err := store.RecentEvents(ctx, EventQuery{ConversationID: "c1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, scoped, 1)

	typed, err := store.RecentEvents(ctx, EventQuery{Types: []models.EventType{models.EventTypeConversationsRefreshed, models.EventTypeError}})
	require.NoError(t, err)
	require.Len(t, typed, 1)
	assert.Equal(t, models.EventTypeConversationsRefreshed, typed[0].Type)

	require.ErrorIs(t, store.Append(ctx, &models.Event{}), ErrInvalidEvent)
}
