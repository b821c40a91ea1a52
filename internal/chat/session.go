package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/campusmarket/internal/clock"
	"github.com/tOgg1/campusmarket/internal/events"
	"github.com/tOgg1/campusmarket/internal/logging"
	"github.com/tOgg1/campusmarket/internal/models"
	"github.com/tOgg1/campusmarket/internal/stream"
	"github.com/tOgg1/campusmarket/internal/trade"
)

// Session errors.
var (
	ErrNoSelection   = errors.New("no conversation selected")
	ErrSessionClosed = errors.New("session closed")
)

// API is the REST surface a Session consumes.
type API interface {
	ConversationLister
	ReadMarker
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID string, msg models.OutgoingMessage) (models.Message, error)
	CompleteTrade(ctx context.Context, conversationID string) (models.Conversation, error)
}

// TokenSource issues push-channel tokens scoped to a conversation.
type TokenSource interface {
	StreamToken(ctx context.Context, conversationID string) (string, error)
}

// tokenForgetter is implemented by token sources that cache. A token the
// channel rejected is dropped so the next selection asks for a new one.
type tokenForgetter interface {
	Forget(conversationID string)
}

// Cache persists what the session sees. All methods are best effort.
type Cache interface {
	ConversationStore
	SaveMessages(ctx context.Context, messages []models.Message) error
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// UserID is the signed-in user.
	UserID string

	// PollInterval is the message poll cadence. Default: 3s.
	PollInterval time.Duration

	// IndexInterval is the conversation list poll cadence. Default: 3s.
	IndexInterval time.Duration

	// ReconnectDelay is the push-channel reconnect wait. Default: 5s.
	ReconnectDelay time.Duration

	// ReadWindow protects a local read reset from stale list counts.
	// Default: PollInterval.
	ReadWindow time.Duration

	Clock     clock.Clock
	Publisher events.Publisher
	Cache     Cache
	Logger    *zerolog.Logger
}

// Session owns the selected conversation: its push channel, message
// buffer, message poll and the conversation list poll.
type Session struct {
	api       API
	tokens    TokenSource
	userID    string
	clock     clock.Clock
	interval  time.Duration
	publisher events.Publisher
	cache     Cache
	logger    zerolog.Logger

	conn  *stream.Connection
	index *ConversationIndex
	reads *ReadReceiptTracker
	store *MessageStore

	connected atomic.Bool

	// selectMu serializes Select so two selections never interleave
	// their connect calls.
	selectMu sync.Mutex

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	closed     bool
	selected   string
	generation uint64
	msgPoller  *Poller
	unobserve  func()
}

// NewSession wires a session. transport opens push channels.
func NewSession(api API, tokens TokenSource, transport stream.Transport, opts SessionOptions) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReadWindow <= 0 {
		opts.ReadWindow = opts.PollInterval
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NewInMemoryPublisher(events.WithNow(opts.Clock.Now))
	}
	logger := logging.Component("session")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Session{
		api:       api,
		tokens:    tokens,
		userID:    opts.UserID,
		clock:     opts.Clock,
		interval:  opts.PollInterval,
		publisher: opts.Publisher,
		cache:     opts.Cache,
		logger:    logger,
		store:     NewMessageStore(""),
	}

	var store ConversationStore
	if opts.Cache != nil {
		store = opts.Cache
	}
	s.index = NewConversationIndex(api, IndexOptions{
		UserID:    opts.UserID,
		Interval:  opts.IndexInterval,
		Clock:     opts.Clock,
		Publisher: opts.Publisher,
		Store:     store,
		Logger:    opts.Logger,
	})
	s.reads = NewReadReceiptTracker(api, s.index, ReadOptions{
		Window:    opts.ReadWindow,
		Clock:     opts.Clock,
		Publisher: opts.Publisher,
		Logger:    opts.Logger,
	})
	s.conn = stream.NewConnection(transport, stream.Options{
		ReconnectDelay: opts.ReconnectDelay,
		Clock:          opts.Clock,
		OnMessage:      s.onStreamMessage,
		OnStateChange:  s.onStreamState,
		Logger:         opts.Logger,
	})
	return s
}

// Start loads the conversation list and begins polling it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.unobserve = s.index.OnChange(s.onConversationChanged)
	runCtx := s.ctx
	s.mu.Unlock()

	if err := s.index.Refresh(runCtx); err != nil && !errors.Is(err, ErrRefreshInFlight) {
		s.logger.Warn().Err(err).Msg("initial conversation refresh failed")
	}
	if err := s.index.Start(runCtx); err != nil && !errors.Is(err, ErrPollerAlreadyRunning) {
		return fmt.Errorf("start conversation poll: %w", err)
	}
	return nil
}

// Select opens conversationID: it tears down the previous push channel
// and poll, loads the history, marks it read, then opens the push
// channel and the message poll. A history load failure is returned but
// the selection stands; the poll backfills.
func (s *Session) Select(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return ErrNoSelection
	}

	s.selectMu.Lock()
	defer s.selectMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.generation++
	gen := s.generation
	s.selected = conversationID
	s.store.Reset(conversationID)
	oldPoller := s.msgPoller
	s.msgPoller = nil
	runCtx := s.ctx
	s.mu.Unlock()

	if runCtx == nil {
		runCtx = context.Background()
	}

	if oldPoller != nil {
		_ = oldPoller.Stop()
	}
	s.conn.Disconnect()

	logger := logging.WithConversation(s.logger, conversationID)

	if _, ok := s.index.Get(conversationID); !ok {
		if err := s.index.Refresh(ctx); err != nil && !errors.Is(err, ErrRefreshInFlight) {
			logger.Warn().Err(err).Msg("conversation refresh on select failed")
		}
	}

	var loadErr error
	messages, err := s.api.ListMessages(ctx, conversationID)
	if err != nil {
		loadErr = fmt.Errorf("load messages: %w", err)
		logger.Warn().Err(err).Msg("history load failed")
	} else if s.ifCurrent(gen, func() { s.store.ReplaceAll(messages) }) {
		s.publish(ctx, models.EventTypeMessagesLoaded, conversationID, len(messages))
		s.saveMessages(ctx, messages)
	}

	if err := s.reads.MarkRead(ctx, conversationID); err != nil {
		logger.Debug().Err(err).Msg("mark read on select failed")
	}

	token, err := s.tokens.StreamToken(ctx, conversationID)
	if err != nil {
		logger.Warn().Err(err).Msg("stream token unavailable, relying on poll")
		s.publish(ctx, models.EventTypeError, conversationID, models.ErrorPayload{
			Error:   err.Error(),
			Context: "stream token",
		})
	} else if s.ifCurrent(gen, func() {}) {
		s.conn.Connect(conversationID, token)
	}

	poller := NewPoller("messages", s.interval, s.clock, func(pollCtx context.Context) error {
		return s.pollMessages(pollCtx, gen, conversationID)
	})
	if err := poller.Start(runCtx); err != nil {
		return err
	}
	if !s.ifCurrent(gen, func() { s.msgPoller = poller }) {
		_ = poller.Stop()
	}

	return loadErr
}

// Selected returns the open conversation id.
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Messages returns the open conversation in display order.
func (s *Session) Messages() []models.Message {
	return s.store.Sorted()
}

// Conversation returns the open conversation summary.
func (s *Session) Conversation() (models.Conversation, bool) {
	id := s.Selected()
	if id == "" {
		return models.Conversation{}, false
	}
	return s.index.Get(id)
}

// Conversations returns the list in recency order.
func (s *Session) Conversations() []models.Conversation {
	return s.index.List()
}

// Index exposes the conversation index.
func (s *Session) Index() *ConversationIndex {
	return s.index
}

// Events returns the publisher session events go to.
func (s *Session) Events() events.Publisher {
	return s.publisher
}

// UserID returns the signed-in user.
func (s *Session) UserID() string {
	return s.userID
}

// Connected reports whether the push channel is open. Poll failures do
// not affect it.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// StreamState returns the push channel state.
func (s *Session) StreamState() stream.State {
	return s.conn.State()
}

// CanSend reports whether the open conversation accepts new messages.
func (s *Session) CanSend() bool {
	conv, ok := s.Conversation()
	return ok && trade.CanSend(&conv)
}

// Send posts a message to the open conversation. A draft is shown
// immediately and swapped for the server copy on success, or removed on
// failure. Closed conversations are rejected before any network call.
func (s *Session) Send(ctx context.Context, out models.OutgoingMessage) (models.Message, error) {
	s.mu.Lock()
	conversationID, gen := s.selected, s.generation
	s.mu.Unlock()
	if conversationID == "" {
		return models.Message{}, ErrNoSelection
	}

	conv, ok := s.index.Get(conversationID)
	if !ok {
		return models.Message{}, fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
	}
	if err := trade.EnsureCanSend(&conv); err != nil {
		return models.Message{}, err
	}
	if err := out.Validate(); err != nil {
		return models.Message{}, err
	}

	clientID := uuid.NewString()
	out.ClientID = clientID
	draft := models.Message{
		ID:             models.DraftIDPrefix + clientID,
		ConversationID: conversationID,
		Sender:         models.UserRef{ID: s.userID},
		Content:        out.Content,
		CreatedAt:      s.clock.Now().UTC(),
		Attachments:    out.Attachments,
		Location:       out.Location,
		ClientID:       clientID,
		Pending:        true,
	}
	if s.ifCurrent(gen, func() { s.store.Merge(draft) }) {
		s.publish(ctx, models.EventTypeMessageDrafted, conversationID, draft)
	}

	sent, err := s.api.SendMessage(ctx, conversationID, out)
	if err == nil && sent.ID == "" {
		err = fmt.Errorf("%w: send response has no _id", models.ErrParse)
	}
	if err != nil {
		s.ifCurrent(gen, func() { s.store.Remove(draft.ID) })
		s.publish(ctx, models.EventTypeMessageFailed, conversationID, models.ErrorPayload{Error: err.Error()})
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}
	if sent.ConversationID == "" {
		sent.ConversationID = conversationID
	}

	if s.ifCurrent(gen, func() { s.store.Confirm(draft.ID, sent) }) {
		s.publish(ctx, models.EventTypeMessageMerged, conversationID, sent)
	}
	s.saveMessages(ctx, []models.Message{sent})
	return sent, nil
}

// CompleteTrade marks the open conversation's trade completed. The
// seller check runs locally first so a buyer never reaches the network.
func (s *Session) CompleteTrade(ctx context.Context) (trade.Completion, error) {
	conversationID := s.Selected()
	if conversationID == "" {
		return trade.Completion{}, ErrNoSelection
	}
	conv, ok := s.index.Get(conversationID)
	if !ok {
		return trade.Completion{}, fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
	}
	if err := trade.Check(&conv, s.userID); err != nil {
		return trade.Completion{}, err
	}

	updated, err := s.api.CompleteTrade(ctx, conversationID)
	if err != nil {
		return trade.Completion{}, fmt.Errorf("complete trade: %w", err)
	}

	local := conv.Clone()
	completion, err := trade.Complete(&local, s.userID, s.clock.Now())
	if err != nil {
		return trade.Completion{}, err
	}

	final := local
	if updated.ID == conversationID && updated.IsCompleted {
		if updated.CompletedAt != nil {
			completion.CompletedAt = updated.CompletedAt.UTC()
		}
		if updated.BuyerID != "" {
			completion.BuyerID = updated.BuyerID
		}
		if len(updated.Participants) == 0 {
			updated.Participants = local.Participants
		}
		if updated.Product == nil {
			updated.Product = local.Product
		}
		trade.Merge(&local, &updated)
		final = updated
	}
	s.index.Upsert(final)

	s.logger.Info().
		Str("conversation_id", conversationID).
		Str("product_id", completion.ProductID).
		Str("buyer_id", completion.BuyerID).
		Msg("trade completed")

	s.publish(ctx, models.EventTypeTradeCompleted, conversationID, completion.Payload())
	s.publish(ctx, models.EventTypeConversationUpdated, conversationID, final)
	return completion, nil
}

// MarkRead zeroes the open conversation's unread count and confirms it.
func (s *Session) MarkRead(ctx context.Context) error {
	conversationID := s.Selected()
	if conversationID == "" {
		return ErrNoSelection
	}
	return s.reads.MarkRead(ctx, conversationID)
}

// Refresh reloads the conversation list now.
func (s *Session) Refresh(ctx context.Context) error {
	return s.index.Refresh(ctx)
}

// Close tears down the push channel, the reconnect timer and both polls,
// and waits for their goroutines.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	poller := s.msgPoller
	s.msgPoller = nil
	cancel := s.cancel
	unobserve := s.unobserve
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Wait for an in-flight Select; it sees closed and stops short.
	s.selectMu.Lock()
	s.selectMu.Unlock()

	if poller != nil {
		_ = poller.Stop()
	}
	s.conn.Close()
	if err := s.index.Stop(); err != nil && !errors.Is(err, ErrPollerNotRunning) {
		return err
	}
	if unobserve != nil {
		unobserve()
	}
	s.connected.Store(false)
	return nil
}

func (s *Session) pollMessages(ctx context.Context, gen uint64, conversationID string) error {
	messages, err := s.api.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}

	var merged []models.Message
	current := s.ifCurrent(gen, func() {
		for _, msg := range messages {
			if s.store.Merge(msg) {
				merged = append(merged, msg)
			}
		}
	})
	if !current {
		return nil
	}

	for _, msg := range merged {
		s.publish(ctx, models.EventTypeMessageMerged, conversationID, msg)
	}
	s.saveMessages(ctx, merged)

	if err := s.reads.MarkRead(ctx, conversationID); err != nil {
		s.logger.Debug().Err(err).Str("conversation_id", conversationID).Msg("mark read on poll failed")
	}
	return nil
}

func (s *Session) onStreamMessage(conversationID string, msg models.Message) {
	changed := false
	s.mu.Lock()
	if s.selected == conversationID {
		changed = s.store.Merge(msg)
	}
	ctx := s.ctx
	s.mu.Unlock()

	if !changed {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.publish(ctx, models.EventTypeMessageMerged, conversationID, msg)
	s.saveMessages(ctx, []models.Message{msg})
}

func (s *Session) onStreamState(state stream.State, err error) {
	s.connected.Store(state == stream.StateOpen)
	if state == stream.StateError {
		s.onStreamError(err)
	}

	payload := models.StreamStatePayload{State: state.String()}
	if err != nil {
		payload.Error = err.Error()
	}
	s.publish(context.Background(), models.EventTypeStreamStateChanged, "", payload)
}

func (s *Session) onStreamError(err error) {
	conversationID := s.conn.ConversationID()
	if errors.Is(err, models.ErrAuthorization) && conversationID != "" {
		if f, ok := s.tokens.(tokenForgetter); ok {
			f.Forget(conversationID)
			s.logger.Debug().Str("conversation_id", conversationID).Msg("dropped rejected stream token")
		}
	}

	// Catch up on whatever the channel missed before it failed.
	s.mu.Lock()
	poller := s.msgPoller
	s.mu.Unlock()
	if poller != nil {
		_ = poller.PollNow()
	}
}

func (s *Session) onConversationChanged(prev *models.Conversation, next models.Conversation) {
	if next.ID != s.Selected() {
		return
	}
	if prev != nil && trade.CanSend(prev) && !trade.CanSend(&next) {
		s.logger.Info().Str("conversation_id", next.ID).Msg("conversation closed for new messages")
	}
	s.publish(context.Background(), models.EventTypeConversationUpdated, next.ID, next)
}

// ifCurrent runs fn under the session lock if gen is still the current
// selection, and reports whether it ran.
func (s *Session) ifCurrent(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.closed {
		return false
	}
	fn()
	return true
}

func (s *Session) publish(ctx context.Context, eventType models.EventType, conversationID string, payload any) {
	s.publisher.Publish(ctx, &models.Event{
		Type:           eventType,
		ConversationID: conversationID,
		Payload:        payload,
	})
}

func (s *Session) saveMessages(ctx context.Context, messages []models.Message) {
	if s.cache == nil || len(messages) == 0 {
		return
	}
	if err := s.cache.SaveMessages(ctx, messages); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache messages")
	}
}
