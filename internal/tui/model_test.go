package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/campusmarket/internal/events"
	"github.com/tOgg1/campusmarket/internal/models"
	"github.com/tOgg1/campusmarket/internal/trade"
)

type fakeSession struct {
	userID        string
	conversations []models.Conversation
	messages      map[string][]models.Message
	selected      string
	connected     bool
	publisher     *events.InMemoryPublisher

	sent      []models.OutgoingMessage
	completed int
	refreshed int
	marked    int
}

func newFakeSession(userID string) *fakeSession {
	seller := models.UserRef{ID: "u-seller", Name: "Sam"}
	buyer := models.UserRef{ID: "u-buyer", Name: "Bea"}
	return &fakeSession{
		userID: userID,
		conversations: []models.Conversation{
			{
				ID:           "conv-lamp",
				Participants: []models.UserRef{buyer, seller},
				Product:      &models.Product{ID: "p1", Title: "Desk lamp", Price: 15, Seller: seller},
				UnreadCounts: models.UnreadCounts{"u-buyer": 2},
				IsActive:     true,
			},
			{
				ID:           "conv-notes",
				Participants: []models.UserRef{buyer, {ID: "u-friend", Name: "Finn"}},
				IsActive:     true,
			},
		},
		messages: map[string][]models.Message{
			"conv-lamp": {
				{ID: "m1", Sender: buyer, Content: "still available?", CreatedAt: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)},
				{ID: "m2", Sender: seller, Location: &models.Location{Latitude: 1, Longitude: 2, Label: "Library"}},
			},
		},
		publisher: events.NewInMemoryPublisher(),
	}
}

func (f *fakeSession) UserID() string                       { return f.userID }
func (f *fakeSession) Conversations() []models.Conversation { return f.conversations }
func (f *fakeSession) Messages() []models.Message           { return f.messages[f.selected] }
func (f *fakeSession) Selected() string                     { return f.selected }
func (f *fakeSession) Connected() bool                      { return f.connected }
func (f *fakeSession) Events() events.Publisher             { return f.publisher }

func (f *fakeSession) Conversation() (models.Conversation, bool) {
	for _, conv := range f.conversations {
		if conv.ID == f.selected {
			return conv, true
		}
	}
	return models.Conversation{}, false
}

func (f *fakeSession) CanSend() bool {
	conv, ok := f.Conversation()
	return ok && trade.CanSend(&conv)
}

func (f *fakeSession) Select(_ context.Context, id string) error {
	f.selected = id
	return nil
}

func (f *fakeSession) Send(_ context.Context, out models.OutgoingMessage) (models.Message, error) {
	f.sent = append(f.sent, out)
	msg := models.Message{ID: "m-new", Sender: models.UserRef{ID: f.userID}, Content: out.Content}
	f.messages[f.selected] = append(f.messages[f.selected], msg)
	return msg, nil
}

func (f *fakeSession) CompleteTrade(_ context.Context) (trade.Completion, error) {
	f.completed++
	for i := range f.conversations {
		if f.conversations[i].ID == f.selected {
			completion, err := trade.Complete(&f.conversations[i], f.userID, time.Now())
			return completion, err
		}
	}
	return trade.Completion{}, models.ErrNotFound
}

func (f *fakeSession) MarkRead(context.Context) error {
	f.marked++
	return nil
}

func (f *fakeSession) Refresh(context.Context) error {
	f.refreshed++
	return nil
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	case "ctrl+t":
		return tea.KeyMsg{Type: tea.KeyCtrlT}
	case "ctrl+r":
		return tea.KeyMsg{Type: tea.KeyCtrlR}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press feeds msg and runs any resulting command once, feeding its
// result back in.
func press(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(model)
	if cmd == nil {
		return m
	}
	if result, ok := cmd().(actionResultMsg); ok {
		next, _ = m.Update(result)
		m = next.(model)
	}
	return m
}

func typeText(t *testing.T, m model, text string) model {
	t.Helper()
	for _, r := range text {
		if r == ' ' {
			m = press(t, m, tea.KeyMsg{Type: tea.KeySpace})
			continue
		}
		m = press(t, m, key(string(r)))
	}
	return m
}

func TestSelectAndSend(t *testing.T) {
	session := newFakeSession("u-buyer")
	m := newModel(session, nil, Config{})
	require.Len(t, m.conversations, 2)

	m = press(t, m, key("enter"))
	assert.Equal(t, "conv-lamp", session.selected)
	assert.Equal(t, focusComposer, m.focus)
	assert.Len(t, m.messages, 2)

	m = typeText(t, m, "see you at 5x")
	m = press(t, m, key("backspace"))
	assert.Equal(t, "see you at 5", m.input)

	m = press(t, m, key("enter"))
	require.Len(t, session.sent, 1)
	assert.Equal(t, "see you at 5", session.sent[0].Content)
	assert.Empty(t, m.input)
	assert.Len(t, m.messages, 3)
}

func TestCursorMovesAndFollowsReload(t *testing.T) {
	session := newFakeSession("u-buyer")
	m := newModel(session, nil, Config{})

	m = press(t, m, key("down"))
	assert.Equal(t, 1, m.cursor)
	m = press(t, m, key("down"))
	assert.Equal(t, 1, m.cursor, "cursor stays on the last row")

	session.conversations = []models.Conversation{session.conversations[1], session.conversations[0]}
	m = press(t, m, sessionEventMsg{event: &models.Event{Type: models.EventTypeConversationsRefreshed}})
	assert.Equal(t, 0, m.cursor)
	assert.Equal(t, "conv-notes", m.conversations[m.cursor].ID)
}

func TestClosedConversationRejectsInput(t *testing.T) {
	session := newFakeSession("u-buyer")
	session.conversations[0].IsCompleted = true
	session.conversations[0].IsActive = false
	m := newModel(session, nil, Config{})

	m = press(t, m, key("enter"))
	m = typeText(t, m, "hello")
	assert.Empty(t, m.input)

	m = press(t, m, key("enter"))
	assert.Empty(t, session.sent)
	assert.Equal(t, statusErr, m.statusKind)
	assert.Contains(t, m.View(), "conversation is closed")
}

func TestCompleteTradeIsSellerOnly(t *testing.T) {
	buyer := newFakeSession("u-buyer")
	m := newModel(buyer, nil, Config{})
	m = press(t, m, key("enter"))
	m = press(t, m, key("ctrl+t"))
	assert.Zero(t, buyer.completed)
	assert.Equal(t, statusErr, m.statusKind)

	seller := newFakeSession("u-seller")
	m = newModel(seller, nil, Config{})
	m = press(t, m, key("enter"))
	m = press(t, m, key("ctrl+t"))
	assert.Equal(t, 1, seller.completed)
	assert.Equal(t, statusOK, m.statusKind)
	assert.Contains(t, m.statusText, "u-buyer")
	assert.False(t, seller.CanSend())
}

func TestRefreshAndMarkRead(t *testing.T) {
	session := newFakeSession("u-buyer")
	m := newModel(session, nil, Config{})

	m = press(t, m, key("ctrl+r"))
	assert.Equal(t, 1, session.refreshed)
	assert.Equal(t, "conversations refreshed", m.statusText)

	_ = press(t, m, key("r"))
	assert.Equal(t, 1, session.marked)
}

func TestInitialConversationIsOpened(t *testing.T) {
	session := newFakeSession("u-buyer")
	m := newModel(session, nil, Config{Conversation: "conv-notes"})

	cmd := m.Init()
	require.NotNil(t, cmd)
	var cmds []tea.Cmd
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		cmds = msg
	case actionResultMsg:
		next, _ := m.Update(msg)
		m = next.(model)
	}
	for _, c := range cmds {
		if c == nil {
			continue
		}
		if result, ok := c().(actionResultMsg); ok {
			next, _ := m.Update(result)
			m = next.(model)
		}
	}
	assert.Equal(t, "conv-notes", session.selected)
	assert.Equal(t, focusComposer, m.focus)
}

func TestSubscribeBridgesEvents(t *testing.T) {
	session := newFakeSession("u-buyer")
	feed, unsubscribe, err := subscribe(session.Events())
	require.NoError(t, err)
	defer unsubscribe()

	m := newModel(session, feed, Config{})
	session.connected = true
	session.publisher.Publish(context.Background(), &models.Event{
		Type:    models.EventTypeError,
		Payload: models.ErrorPayload{Error: "stream token unavailable"},
	})

	msg := m.waitForEvent()()
	next, cmd := m.Update(msg)
	m = next.(model)
	assert.NotNil(t, cmd)
	assert.True(t, m.connected)
	assert.Equal(t, "stream token unavailable", m.statusText)
}

func TestViewRendersConversation(t *testing.T) {
	session := newFakeSession("u-buyer")
	m := newModel(session, nil, Config{ShowTimestamps: true})
	m.width, m.height = 120, 30

	view := m.View()
	assert.Contains(t, view, "Desk lamp")
	assert.Contains(t, view, "Finn")
	assert.Contains(t, view, "(2)")
	assert.Contains(t, view, "select a conversation")

	m = press(t, m, key("enter"))
	view = m.View()
	assert.Contains(t, view, "still available?")
	assert.Contains(t, view, "[location: Library]")
	assert.Contains(t, view, "Sam")
}

func TestQuit(t *testing.T) {
	m := newModel(newFakeSession("u-buyer"), nil, Config{})
	next, cmd := m.Update(key("ctrl+c"))
	require.NotNil(t, cmd)
	assert.True(t, next.(model).quitting)
	assert.Empty(t, next.(model).View())
}

func TestMessageBody(t *testing.T) {
	msg := models.Message{
		Content:     "two\nlines",
		Attachments: []models.Attachment{{URL: "a"}, {URL: "b"}},
	}
	assert.Equal(t, "two lines [2 attachments]", messageBody(msg))
	assert.True(t, strings.HasSuffix(truncate("abcdefghij", 5), "…"))
	assert.Equal(t, "abc", truncate("abc", 5))
}
