package chat

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/campusmarket/internal/models"
)

var baseTime = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration) models.Message {
	return models.Message{
		ID:        id,
		Sender:    models.UserRef{ID: "u2"},
		Content:   "message " + id,
		CreatedAt: baseTime.Add(offset),
	}
}

func ids(messages []models.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestMergeIsIdempotent(t *testing.T) {
	store := NewMessageStore("c1")

	require.True(t, store.Merge(msg("m1", 0)))
	require.False(t, store.Merge(msg("m1", 0)))
	require.False(t, store.Merge(msg("m1", time.Hour)))
	require.False(t, store.Merge(models.Message{}))

	require.Equal(t, 1, store.Len())
	got, ok := store.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ConversationID)
	assert.Equal(t, baseTime, got.CreatedAt)
}

func TestMergeOnlyUpgradesReadFlag(t *testing.T) {
	store := NewMessageStore("c1")
	store.Merge(msg("m1", 0))

	read := msg("m1", 0)
	read.Read = true
	read.Content = "edited"
	require.False(t, store.Merge(read))

	got, _ := store.Get("m1")
	assert.True(t, got.Read)
	assert.Equal(t, "message m1", got.Content)

	store.Merge(msg("m1", 0))
	got, _ = store.Get("m1")
	assert.True(t, got.Read)
}

// A stream delivers m1, then a poll returns m1 and m2. Display shows
// each exactly once, ordered by timestamp.
func TestStreamThenPollScenario(t *testing.T) {
	store := NewMessageStore("c1")
	m1 := msg("m1", 0)
	m2 := msg("m2", time.Second)

	store.Merge(m1)
	for _, m := range []models.Message{m1, m2} {
		store.Merge(m)
	}

	assert.Equal(t, []string{"m1", "m2"}, ids(store.Sorted()))
}

func TestMergeInterleavingsYieldSameSet(t *testing.T) {
	messages := []models.Message{
		msg("m3", 2*time.Second),
		msg("m1", 0),
		msg("m2", time.Second),
		msg("m0", time.Second),
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		store := NewMessageStore("c1")
		// Every message arrives from three sources, in random order.
		var arrivals []models.Message
		for i := 0; i < 3; i++ {
			arrivals = append(arrivals, messages...)
		}
		rng.Shuffle(len(arrivals), func(i, j int) { arrivals[i], arrivals[j] = arrivals[j], arrivals[i] })

		for _, m := range arrivals {
			store.Merge(m)
		}
		require.Equal(t, []string{"m1", "m0", "m2", "m3"}, ids(store.Sorted()), "trial %d", trial)
	}
}

func TestConcurrentMerges(t *testing.T) {
	store := NewMessageStore("c1")

	var wg sync.WaitGroup
	inserted := make(chan string, 400)
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("m%03d", i)
				if store.Merge(msg(id, time.Duration(i)*time.Second)) {
					inserted <- id
				}
			}
		}()
	}
	wg.Wait()
	close(inserted)

	count := 0
	seen := make(map[string]bool)
	for id := range inserted {
		require.False(t, seen[id], "%s inserted twice", id)
		seen[id] = true
		count++
	}
	require.Equal(t, 100, count)
	require.Equal(t, 100, store.Len())
}

func TestDraftReconciledByClientID(t *testing.T) {
	store := NewMessageStore("c1")
	draft := models.Message{
		ID:        models.DraftIDPrefix + "abc",
		ClientID:  "abc",
		Sender:    models.UserRef{ID: "u1"},
		Content:   "hello",
		CreatedAt: baseTime,
		Pending:   true,
	}
	require.True(t, store.Merge(draft))

	confirmed := msg("m9", time.Second)
	confirmed.ClientID = "abc"
	require.True(t, store.Merge(confirmed))

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "m9", snapshot[0].ID)
	assert.False(t, snapshot[0].Pending)

	// The send response arrives after the stream copy.
	require.False(t, store.Confirm(draft.ID, confirmed))
	assert.Equal(t, 1, store.Len())
}

func TestConfirmReplacesDraftInPlace(t *testing.T) {
	store := NewMessageStore("c1")
	store.Merge(msg("m1", 0))
	draft := models.Message{ID: "draft-x", ClientID: "x", Pending: true, CreatedAt: baseTime.Add(time.Minute)}
	store.Merge(draft)
	store.Merge(msg("m2", 2*time.Minute))

	require.True(t, store.Confirm("draft-x", msg("m5", time.Minute)))
	assert.Equal(t, []string{"m1", "m5", "m2"}, ids(store.Snapshot()))

	// Stream copy arrived before the send response.
	store2 := NewMessageStore("c1")
	store2.Merge(draft)
	store2.Merge(msg("m5", time.Minute))
	require.True(t, store2.Confirm("draft-x", msg("m5", time.Minute)))
	assert.Equal(t, []string{"m5"}, ids(store2.Snapshot()))
}

func TestRemoveDraft(t *testing.T) {
	store := NewMessageStore("c1")
	store.Merge(models.Message{ID: "draft-x", ClientID: "x", Pending: true})
	require.True(t, store.Remove("draft-x"))
	require.False(t, store.Remove("draft-x"))
	require.Equal(t, 0, store.Len())

	// With the draft gone a confirmation with its client id is a plain insert.
	confirmed := msg("m1", 0)
	confirmed.ClientID = "x"
	require.True(t, store.Merge(confirmed))
	require.Equal(t, []string{"m1"}, ids(store.Snapshot()))
}

func TestReplaceAllKeepsPendingDrafts(t *testing.T) {
	store := NewMessageStore("c1")
	store.Merge(msg("old", 0))
	store.Merge(models.Message{ID: "draft-a", ClientID: "a", Pending: true, CreatedAt: baseTime.Add(time.Hour)})
	store.Merge(models.Message{ID: "draft-b", ClientID: "b", Pending: true, CreatedAt: baseTime.Add(time.Hour)})

	confirmedB := msg("m2", time.Minute)
	confirmedB.ClientID = "b"
	store.ReplaceAll([]models.Message{msg("m1", 0), confirmedB, msg("m1", 0)})

	assert.Equal(t, []string{"m1", "m2", "draft-a"}, ids(store.Snapshot()))

	// The remaining draft still reconciles.
	confirmedA := msg("m3", time.Hour)
	confirmedA.ClientID = "a"
	require.True(t, store.Merge(confirmedA))
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(store.Snapshot()))
}

func TestClearAndReset(t *testing.T) {
	store := NewMessageStore("c1")
	store.Merge(msg("m1", 0))
	store.Clear()
	require.Equal(t, 0, store.Len())
	require.Equal(t, "c1", store.ConversationID())

	store.Merge(msg("m1", 0))
	store.Reset("c2")
	require.Equal(t, 0, store.Len())
	require.Equal(t, "c2", store.ConversationID())
}

func TestSortForDisplayDoesNotMutateInput(t *testing.T) {
	input := []models.Message{msg("b", 0), msg("a", 0), msg("c", -time.Second)}
	sorted := SortForDisplay(input)
	assert.Equal(t, []string{"c", "a", "b"}, ids(sorted))
	assert.Equal(t, []string{"b", "a", "c"}, ids(input))
}
