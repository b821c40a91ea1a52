package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/campusmarket/internal/models"
)

func TestFilter_Matches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		event  *models.Event
		want   bool
	}{
		{
			name:   "empty filter matches any event",
			filter: Filter{},
			event:  &models.Event{Type: models.EventTypeMessageMerged, ConversationID: "c1"},
			want:   true,
		},
		{
			name:   "nil event returns false",
			filter: Filter{},
			event:  nil,
			want:   false,
		},
		{
			name:   "event type filter rejects non-matching",
			filter: Filter{EventTypes: []models.EventType{models.EventTypeTradeCompleted}},
			event:  &models.Event{Type: models.EventTypeMessageMerged, ConversationID: "c1"},
			want:   false,
		},
		{
			name:   "conversation filter rejects other conversations",
			filter: Filter{ConversationID: "c1"},
			event:  &models.Event{Type: models.EventTypeMessageMerged, ConversationID: "c2"},
			want:   false,
		},
		{
			name:   "list-level events reach scoped subscribers",
			filter: Filter{ConversationID: "c1"},
			event:  &models.Event{Type: models.EventTypeConversationsRefreshed},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInMemoryPublisher_SubscribeErrors(t *testing.T) {
	p := NewInMemoryPublisher()
	handler := func(*models.Event) {}

	require.ErrorIs(t, p.Subscribe("", Filter{}, handler), ErrInvalidSubscriptionID)
	require.ErrorIs(t, p.Subscribe("a", Filter{}, nil), ErrNilHandler)
	require.NoError(t, p.Subscribe("a", Filter{}, handler))
	require.ErrorIs(t, p.Subscribe("a", Filter{}, handler), ErrSubscriptionExists)
	require.Equal(t, 1, p.SubscriberCount())

	require.NoError(t, p.Unsubscribe("a"))
	require.ErrorIs(t, p.Unsubscribe("a"), ErrSubscriptionNotFound)
}

type recordingSink struct {
	mu     sync.Mutex
	events []*models.Event
}

func (s *recordingSink) Append(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func TestInMemoryPublisher_PublishStampsAndPersists(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	sink := &recordingSink{}
	p := NewInMemoryPublisher(WithSink(sink), WithNow(func() time.Time { return fixed }))

	var received []*models.Event
	require.NoError(t, p.Subscribe("trade", Filter{EventTypes: []models.EventType{models.EventTypeTradeCompleted}}, func(e *models.Event) {
		received = append(received, e)
	}))

	p.Publish(context.Background(), &models.Event{Type: models.EventTypeMessageMerged, ConversationID: "c1"})
	p.Publish(context.Background(), &models.Event{Type: models.EventTypeTradeCompleted, ConversationID: "c1"})
	p.Publish(context.Background(), nil)

	require.Len(t, received, 1)
	require.NotEmpty(t, received[0].ID)
	require.Equal(t, fixed, received[0].Timestamp)
	require.Len(t, sink.events, 2)
}

func TestInMemoryPublisher_ChannelDropsWhenFull(t *testing.T) {
	p := NewInMemoryPublisher()
	ch, cancel, err := p.Channel("ui", Filter{}, 1)
	require.NoError(t, err)

	p.Publish(context.Background(), &models.Event{Type: models.EventTypeMessageMerged})
	p.Publish(context.Background(), &models.Event{Type: models.EventTypeMessageMerged})

	first := <-ch
	require.Equal(t, models.EventTypeMessageMerged, first.Type)

	cancel()
	cancel()
	_, open := <-ch
	require.False(t, open)
	require.Equal(t, 0, p.SubscriberCount())

	// Publishing after cancel must not panic on the closed channel.
	p.Publish(context.Background(), &models.Event{Type: models.EventTypeMessageMerged})
}
