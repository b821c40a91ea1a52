package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/campusmarket/internal/clock"
	"github.com/tOgg1/campusmarket/internal/events"
	"github.com/tOgg1/campusmarket/internal/logging"
	"github.com/tOgg1/campusmarket/internal/models"
)

// ReadMarker confirms a read on the server.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID string) error
}

// ReadReceiptTracker applies read receipts optimistically. The local
// counter is zeroed before the server is asked; a failed confirmation is
// never rolled back because the next refresh is authoritative.
type ReadReceiptTracker struct {
	marker    ReadMarker
	index     *ConversationIndex
	clock     clock.Clock
	window    time.Duration
	publisher events.Publisher
	logger    zerolog.Logger

	mu     sync.Mutex
	resets map[string]time.Time
}

// ReadOptions configures a ReadReceiptTracker.
type ReadOptions struct {
	// Window is how long an optimistic reset outranks a non-zero server
	// count. Default: DefaultPollInterval.
	Window time.Duration

	Clock     clock.Clock
	Publisher events.Publisher
	Logger    *zerolog.Logger
}

// NewReadReceiptTracker creates a tracker and installs it as index's
// unread guard.
func NewReadReceiptTracker(marker ReadMarker, index *ConversationIndex, opts ReadOptions) *ReadReceiptTracker {
	if opts.Window <= 0 {
		opts.Window = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	logger := logging.Component("read-receipts")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	t := &ReadReceiptTracker{
		marker:    marker,
		index:     index,
		clock:     opts.Clock,
		window:    opts.Window,
		publisher: opts.Publisher,
		logger:    logger,
		resets:    make(map[string]time.Time),
	}
	if index != nil {
		index.SetGuard(t)
	}
	return t
}

// MarkRead zeroes the local unread counter for conversationID before
// returning control to the network call, then confirms on the server.
// The returned error reports the confirmation only; the local reset
// stands either way.
func (t *ReadReceiptTracker) MarkRead(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return nil
	}

	t.mu.Lock()
	t.resets[conversationID] = t.clock.Now()
	t.mu.Unlock()

	if t.index != nil && t.index.ResetUnread(conversationID) && t.publisher != nil {
		t.publisher.Publish(ctx, &models.Event{
			Type:           models.EventTypeReadMarked,
			ConversationID: conversationID,
		})
	}

	if t.marker == nil {
		return nil
	}
	if err := t.marker.MarkRead(ctx, conversationID); err != nil {
		t.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("read confirmation failed")
		return fmt.Errorf("mark read %s: %w", conversationID, err)
	}
	return nil
}

// GuardUnread keeps a fresh optimistic reset from being undone by a
// list response that was computed before the server saw the read. The
// reset is forgotten once the server agrees or the window passes.
func (t *ReadReceiptTracker) GuardUnread(conv *models.Conversation) {
	if conv == nil {
		return
	}
	userID := ""
	if t.index != nil {
		userID = t.index.UserID()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.resets[conv.ID]
	if !ok {
		return
	}
	if conv.UnreadFor(userID) == 0 {
		delete(t.resets, conv.ID)
		return
	}
	if t.clock.Now().Sub(at) >= t.window {
		delete(t.resets, conv.ID)
		return
	}
	conv.SetUnread(userID, 0)
}
