// Package tui is the interactive chat view: a conversation list, the
// open conversation and a composer, redrawn on session events.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/tOgg1/campusmarket/internal/events"
	"github.com/tOgg1/campusmarket/internal/models"
	"github.com/tOgg1/campusmarket/internal/trade"
)

const (
	defaultStatusTTL = 5 * time.Second
	actionTimeout    = 15 * time.Second
	eventBuffer      = 128

	minWindowWidth  = 60
	minWindowHeight = 12
)

// Session is the chat state the view renders and drives.
type Session interface {
	UserID() string
	Conversations() []models.Conversation
	Conversation() (models.Conversation, bool)
	Messages() []models.Message
	Selected() string
	Connected() bool
	CanSend() bool
	Select(ctx context.Context, conversationID string) error
	Send(ctx context.Context, out models.OutgoingMessage) (models.Message, error)
	CompleteTrade(ctx context.Context) (trade.Completion, error)
	MarkRead(ctx context.Context) error
	Refresh(ctx context.Context) error
	Events() events.Publisher
}

// Config controls the chat view.
type Config struct {
	Theme          string
	ShowTimestamps bool

	// Conversation is opened on start when set.
	Conversation string
}

// Run starts the view and blocks until the user quits.
func Run(session Session, cfg Config) error {
	feed, unsubscribe, err := subscribe(session.Events())
	if err != nil {
		return err
	}
	defer unsubscribe()

	program := tea.NewProgram(newModel(session, feed, cfg), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

// subscribe bridges session events into a channel the program reads
// from. Events are dropped while the view is behind; each one only
// triggers a re-read of session state.
func subscribe(publisher events.Publisher) (<-chan *models.Event, func(), error) {
	id := "tui-" + uuid.NewString()
	feed := make(chan *models.Event, eventBuffer)
	err := publisher.Subscribe(id, events.Filter{}, func(event *models.Event) {
		select {
		case feed <- event:
		default:
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe to session events: %w", err)
	}
	return feed, func() { _ = publisher.Unsubscribe(id) }, nil
}

type focusArea int

const (
	focusList focusArea = iota
	focusComposer
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusErr
)

type actionType int

const (
	actionSelect actionType = iota
	actionSend
	actionComplete
	actionRefresh
	actionMarkRead
)

type sessionEventMsg struct {
	event *models.Event
}

type actionResultMsg struct {
	Kind    actionType
	Message string
	Err     error
}

type model struct {
	session        Session
	feed           <-chan *models.Event
	palette        palette
	showTimestamps bool
	initial        string

	width  int
	height int

	conversations []models.Conversation
	messages      []models.Message
	cursor        int
	focus         focusArea
	input         string
	busy          bool
	connected     bool

	statusKind    statusKind
	statusText    string
	statusExpires time.Time

	quitting bool
}

func newModel(session Session, feed <-chan *models.Event, cfg Config) model {
	m := model{
		session:        session,
		feed:           feed,
		palette:        resolvePalette(cfg.Theme),
		showTimestamps: cfg.ShowTimestamps,
		initial:        strings.TrimSpace(cfg.Conversation),
	}
	m.reload()
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.waitForEvent()}
	if m.initial != "" {
		cmds = append(cmds, m.selectCmd(m.initial))
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case sessionEventMsg:
		m.reload()
		if msg.event != nil && msg.event.Type == models.EventTypeError {
			if payload, ok := msg.event.Payload.(models.ErrorPayload); ok {
				m.setStatus(statusErr, payload.Error)
			}
		}
		return m, m.waitForEvent()
	case actionResultMsg:
		m.busy = false
		m.reload()
		if msg.Err != nil {
			m.setStatus(statusErr, describeError(msg.Err))
			return m, nil
		}
		if msg.Kind == actionSelect {
			m.focus = focusComposer
		}
		if msg.Kind == actionSend {
			m.input = ""
		}
		if msg.Message != "" {
			m.setStatus(statusOK, msg.Message)
		}
		return m, nil
	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m, nil
}

func (m model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "tab":
		if m.focus == focusList {
			m.focus = focusComposer
		} else {
			m.focus = focusList
		}
		return m, nil
	case "ctrl+r":
		return m, m.actionCmd(actionRefresh, func(ctx context.Context) (string, error) {
			return "conversations refreshed", m.session.Refresh(ctx)
		})
	case "ctrl+t":
		return m.completeTrade()
	}

	if m.focus == focusList {
		return m.updateListKey(msg)
	}
	return m.updateComposerKey(msg)
}

func (m model) updateListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)
	case "enter":
		if m.cursor < len(m.conversations) {
			return m, m.selectCmd(m.conversations[m.cursor].ID)
		}
	case "r":
		return m, m.actionCmd(actionMarkRead, func(ctx context.Context) (string, error) {
			return "", m.session.MarkRead(ctx)
		})
	}
	return m, nil
}

func (m model) updateComposerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.focus = focusList
		return m, nil
	case tea.KeyBackspace:
		if runes := []rune(m.input); len(runes) > 0 {
			m.input = string(runes[:len(runes)-1])
		}
		return m, nil
	case tea.KeyEnter:
		return m.send()
	case tea.KeySpace:
		m.input += " "
		return m, nil
	case tea.KeyRunes:
		if m.session.Selected() != "" && m.session.CanSend() {
			m.input += string(msg.Runes)
		}
		return m, nil
	}
	return m, nil
}

func (m model) send() (tea.Model, tea.Cmd) {
	if m.session.Selected() == "" {
		m.setStatus(statusErr, "open a conversation first")
		return m, nil
	}
	if !m.session.CanSend() {
		m.setStatus(statusErr, "trade completed: this conversation is closed")
		return m, nil
	}
	content := strings.TrimSpace(m.input)
	if content == "" || m.busy {
		return m, nil
	}
	m.busy = true
	session := m.session
	return m, m.actionCmd(actionSend, func(ctx context.Context) (string, error) {
		_, err := session.Send(ctx, models.OutgoingMessage{Content: content})
		return "", err
	})
}

func (m model) completeTrade() (tea.Model, tea.Cmd) {
	conv, ok := m.session.Conversation()
	if !ok {
		m.setStatus(statusErr, "open a conversation first")
		return m, nil
	}
	if err := trade.Check(&conv, m.session.UserID()); err != nil {
		m.setStatus(statusErr, describeError(err))
		return m, nil
	}
	m.busy = true
	session := m.session
	return m, m.actionCmd(actionComplete, func(ctx context.Context) (string, error) {
		completion, err := session.CompleteTrade(ctx)
		if err != nil {
			return "", err
		}
		return "trade completed, product marked sold to " + completion.BuyerID, nil
	})
}

func (m model) selectCmd(conversationID string) tea.Cmd {
	session := m.session
	return m.actionCmd(actionSelect, func(ctx context.Context) (string, error) {
		return "", session.Select(ctx, conversationID)
	})
}

// actionCmd runs fn off the update loop.
func (m model) actionCmd(kind actionType, fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		text, err := fn(ctx)
		return actionResultMsg{Kind: kind, Message: text, Err: err}
	}
}

func (m model) waitForEvent() tea.Cmd {
	feed := m.feed
	if feed == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-feed
		if !ok {
			return nil
		}
		return sessionEventMsg{event: event}
	}
}

// reload re-reads session state, keeping the cursor on the same
// conversation when it moves in the list.
func (m *model) reload() {
	var cursorID string
	if m.cursor < len(m.conversations) {
		cursorID = m.conversations[m.cursor].ID
	}
	if cursorID == "" {
		cursorID = m.session.Selected()
	}

	m.conversations = m.session.Conversations()
	m.messages = m.session.Messages()
	m.connected = m.session.Connected()

	m.cursor = 0
	for i, conv := range m.conversations {
		if conv.ID == cursorID {
			m.cursor = i
			break
		}
	}
}

func (m *model) moveCursor(delta int) {
	if len(m.conversations) == 0 {
		m.cursor = 0
		return
	}
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= len(m.conversations) {
		m.cursor = len(m.conversations) - 1
	}
}

func (m *model) setStatus(kind statusKind, text string) {
	m.statusKind = kind
	m.statusText = strings.TrimSpace(text)
	m.statusExpires = time.Now().Add(defaultStatusTTL)
}

func describeError(err error) string {
	switch {
	case errors.Is(err, models.ErrConversationClosed):
		return "trade completed: this conversation is closed"
	case errors.Is(err, models.ErrAlreadyCompleted):
		return "trade is already completed"
	default:
		return err.Error()
	}
}
