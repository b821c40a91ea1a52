package chat

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/campusmarket/internal/clock"
	"github.com/tOgg1/campusmarket/internal/events"
	"github.com/tOgg1/campusmarket/internal/logging"
	"github.com/tOgg1/campusmarket/internal/models"
	"github.com/tOgg1/campusmarket/internal/trade"
)

// Index errors.
var (
	// ErrRefreshInFlight is returned when Refresh overlaps a running
	// refresh. The call is skipped, not queued.
	ErrRefreshInFlight = errors.New("conversation refresh already in flight")

	// ErrNoObservers is returned by Start when nothing observes the index.
	ErrNoObservers = errors.New("conversation index has no observers")
)

// ConversationLister fetches the caller's conversation summaries.
type ConversationLister interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
}

// UnreadGuard adjusts a freshly fetched summary before it replaces the
// cached one. The read receipt tracker uses it to keep an optimistic
// reset from being undone by a stale response.
type UnreadGuard interface {
	GuardUnread(conv *models.Conversation)
}

// ConversationStore persists refreshed summaries.
type ConversationStore interface {
	SaveConversations(ctx context.Context, conversations []models.Conversation) error
}

// ChangeFunc observes a summary whose fields changed in a refresh. prev
// is nil for conversations seen for the first time.
type ChangeFunc func(prev *models.Conversation, next models.Conversation)

// IndexOptions configures a ConversationIndex.
type IndexOptions struct {
	// UserID is the caller; unread counts are projected for it.
	UserID string

	// Interval is the poll cadence. Default: DefaultPollInterval.
	Interval time.Duration

	Clock     clock.Clock
	Publisher events.Publisher
	Store     ConversationStore
	Logger    *zerolog.Logger
}

// ConversationIndex caches the caller's conversation summaries sorted by
// recency.
type ConversationIndex struct {
	lister    ConversationLister
	userID    string
	clock     clock.Clock
	publisher events.Publisher
	store     ConversationStore
	logger    zerolog.Logger
	poller    *Poller

	refreshing atomic.Bool

	mu          sync.RWMutex
	items       []models.Conversation
	guard       UnreadGuard
	observers   map[int]ChangeFunc
	nextObs     int
	lastRefresh time.Time
}

// NewConversationIndex creates an empty index.
func NewConversationIndex(lister ConversationLister, opts IndexOptions) *ConversationIndex {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	logger := logging.Component("conversation-index")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	idx := &ConversationIndex{
		lister:    lister,
		userID:    opts.UserID,
		clock:     opts.Clock,
		publisher: opts.Publisher,
		store:     opts.Store,
		logger:    logger,
		observers: make(map[int]ChangeFunc),
	}
	idx.poller = NewPoller("conversation-index", opts.Interval, opts.Clock, idx.poll)
	return idx
}

// SetGuard installs the unread guard applied on every refresh.
func (x *ConversationIndex) SetGuard(guard UnreadGuard) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.guard = guard
}

// OnChange registers fn and returns a func that removes it.
func (x *ConversationIndex) OnChange(fn ChangeFunc) func() {
	x.mu.Lock()
	defer x.mu.Unlock()
	id := x.nextObs
	x.nextObs++
	x.observers[id] = fn
	return func() {
		x.mu.Lock()
		defer x.mu.Unlock()
		delete(x.observers, id)
	}
}

// Start begins periodic refreshes. The index only polls while observed.
func (x *ConversationIndex) Start(ctx context.Context) error {
	x.mu.RLock()
	observed := len(x.observers) > 0
	x.mu.RUnlock()
	if !observed {
		return ErrNoObservers
	}
	return x.poller.Start(ctx)
}

// Stop halts periodic refreshes.
func (x *ConversationIndex) Stop() error {
	return x.poller.Stop()
}

// IsPolling reports whether the periodic refresh runs.
func (x *ConversationIndex) IsPolling() bool {
	return x.poller.IsRunning()
}

func (x *ConversationIndex) poll(ctx context.Context) error {
	err := x.Refresh(ctx)
	if errors.Is(err, ErrRefreshInFlight) {
		return nil
	}
	return err
}

// Refresh fetches the summaries and replaces the index. An overlapping
// call returns ErrRefreshInFlight immediately.
func (x *ConversationIndex) Refresh(ctx context.Context) error {
	if !x.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInFlight
	}
	defer x.refreshing.Store(false)

	fetched, err := x.lister.ListConversations(ctx)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	next := SortConversations(fetched)

	type change struct {
		prev *models.Conversation
		next models.Conversation
	}
	var changes []change

	x.mu.Lock()
	previous := make(map[string]*models.Conversation, len(x.items))
	for i := range x.items {
		previous[x.items[i].ID] = &x.items[i]
	}
	for i := range next {
		conv := &next[i]
		prev := previous[conv.ID]
		if prev != nil {
			trade.Merge(prev, conv)
		}
		if x.guard != nil {
			x.guard.GuardUnread(conv)
		}
		if prev == nil {
			changes = append(changes, change{next: conv.Clone()})
		} else if !reflect.DeepEqual(*prev, *conv) {
			before := prev.Clone()
			changes = append(changes, change{prev: &before, next: conv.Clone()})
		}
	}
	x.items = next
	x.lastRefresh = x.clock.Now()
	observers := make([]ChangeFunc, 0, len(x.observers))
	for _, fn := range x.observers {
		observers = append(observers, fn)
	}
	x.mu.Unlock()

	x.logger.Debug().Int("conversations", len(next)).Int("changed", len(changes)).Msg("conversations refreshed")

	if x.store != nil {
		if err := x.store.SaveConversations(ctx, next); err != nil {
			x.logger.Warn().Err(err).Msg("failed to cache conversations")
		}
	}

	for _, c := range changes {
		for _, fn := range observers {
			fn(c.prev, c.next)
		}
	}

	if x.publisher != nil {
		x.publisher.Publish(ctx, &models.Event{
			Type:    models.EventTypeConversationsRefreshed,
			Payload: len(next),
		})
	}
	return nil
}

// Get returns the cached summary for id.
func (x *ConversationIndex) Get(id string) (models.Conversation, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for i := range x.items {
		if x.items[i].ID == id {
			return x.items[i].Clone(), true
		}
	}
	return models.Conversation{}, false
}

// List returns the summaries in recency order.
func (x *ConversationIndex) List() []models.Conversation {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]models.Conversation, len(x.items))
	for i := range x.items {
		out[i] = x.items[i].Clone()
	}
	return out
}

// Len returns the number of cached summaries.
func (x *ConversationIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.items)
}

// UnreadFor returns the caller's unread count in conversation id.
func (x *ConversationIndex) UnreadFor(id string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for i := range x.items {
		if x.items[i].ID == id {
			return x.items[i].UnreadFor(x.userID)
		}
	}
	return 0
}

// TotalUnread sums the caller's unread counts across conversations.
func (x *ConversationIndex) TotalUnread() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	total := 0
	for i := range x.items {
		total += x.items[i].UnreadFor(x.userID)
	}
	return total
}

// LastRefresh returns when the last successful refresh finished.
func (x *ConversationIndex) LastRefresh() time.Time {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.lastRefresh
}

// ResetUnread zeroes the caller's unread count for id locally. It
// reports whether the count changed.
func (x *ConversationIndex) ResetUnread(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i := range x.items {
		if x.items[i].ID != id {
			continue
		}
		if x.items[i].UnreadFor(x.userID) == 0 {
			return false
		}
		x.items[i].SetUnread(x.userID, 0)
		return true
	}
	return false
}

// Upsert replaces or adds one summary locally, for example after a
// completion response, and keeps recency order. Completion is never
// reverted by an older copy, and a fresh read reset survives a copy that
// still carries the old unread count.
func (x *ConversationIndex) Upsert(conv models.Conversation) {
	x.mu.Lock()
	defer x.mu.Unlock()

	conv = conv.Clone()
	replaced := false
	for i := range x.items {
		if x.items[i].ID == conv.ID {
			trade.Merge(&x.items[i], &conv)
			if x.guard != nil {
				x.guard.GuardUnread(&conv)
			}
			x.items[i] = conv
			replaced = true
			break
		}
	}
	if !replaced {
		if x.guard != nil {
			x.guard.GuardUnread(&conv)
		}
		x.items = append(x.items, conv)
	}
	sortConversationsInPlace(x.items)
}

// UserID returns the caller the index projects unread counts for.
func (x *ConversationIndex) UserID() string {
	return x.userID
}

// SortConversations returns a copy of list ordered by last message time,
// newest first. Conversations without a last message sort after all
// timestamped ones. Ties break by ID.
func SortConversations(list []models.Conversation) []models.Conversation {
	out := make([]models.Conversation, len(list))
	for i := range list {
		out[i] = list[i].Clone()
	}
	sortConversationsInPlace(out)
	return out
}

func sortConversationsInPlace(list []models.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].LastActivity(), list[j].LastActivity()
		switch {
		case a.IsZero() && b.IsZero():
			return list[i].ID < list[j].ID
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		case !a.Equal(b):
			return a.After(b)
		default:
			return list[i].ID < list[j].ID
		}
	})
}
