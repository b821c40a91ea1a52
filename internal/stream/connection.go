// Package stream manages the push channel for one open conversation.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/campusmarket/internal/clock"
	"github.com/tOgg1/campusmarket/internal/logging"
	"github.com/tOgg1/campusmarket/internal/models"
)

// DefaultReconnectDelay is the fixed wait before reopening after an error.
const DefaultReconnectDelay = 5 * time.Second

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport opens the raw event stream for a conversation. The SSE
// implementation lives in the api package; any transport that yields
// SSE-framed bytes works.
type Transport interface {
	Open(ctx context.Context, conversationID, token string) (io.ReadCloser, error)
}

// Options configures a Connection.
type Options struct {
	// ReconnectDelay is the fixed reconnect wait. Default: 5s.
	ReconnectDelay time.Duration

	// Clock owns the reconnect timer. Default: clock.Real().
	Clock clock.Clock

	// OnMessage receives every MessageFrame with the conversation it
	// arrived on. Called from the reader goroutine.
	OnMessage func(conversationID string, msg models.Message)

	// OnStateChange observes transitions. err is set for StateError.
	OnStateChange func(state State, err error)

	Logger *zerolog.Logger
}

// Connection owns at most one push channel at a time and its reconnect
// timer. It is safe for concurrent use.
type Connection struct {
	transport      Transport
	clock          clock.Clock
	reconnectDelay time.Duration
	onMessage      func(string, models.Message)
	onStateChange  func(State, error)
	logger         zerolog.Logger

	mu             sync.Mutex
	state          State
	lastErr        error
	ready          bool
	conversationID string
	token          string
	generation     uint64
	cancel         context.CancelFunc
	reconnect      *clock.Timer
	lastHeartbeat  time.Time
	wg             sync.WaitGroup
}

// NewConnection creates an idle Connection.
func NewConnection(transport Transport, opts Options) *Connection {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	logger := logging.Component("stream")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Connection{
		transport:      transport,
		clock:          opts.Clock,
		reconnectDelay: opts.ReconnectDelay,
		onMessage:      opts.OnMessage,
		onStateChange:  opts.OnStateChange,
		logger:         logger,
	}
}

// Connect opens a channel for conversationID. Any existing channel, and
// any pending reconnect, is torn down first so two channels never run at
// once. When either argument is empty nothing is opened and the
// connection falls back to Idle.
func (c *Connection) Connect(conversationID, token string) {
	if conversationID == "" || token == "" {
		c.Disconnect()
		return
	}

	c.mu.Lock()
	c.teardownLocked()
	c.conversationID = conversationID
	c.token = token
	gen := c.startLocked()
	c.mu.Unlock()

	c.logger.Debug().Str("conversation_id", conversationID).Uint64("generation", gen).Msg("stream connecting")
	c.notify(StateConnecting, nil)
}

// Disconnect cancels any pending reconnect, closes the channel and
// returns to Idle. Safe to call repeatedly. It does not wait for the
// reader goroutine; use Close for that.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	wasIdle := c.state == StateIdle && c.cancel == nil && c.reconnect == nil
	c.teardownLocked()
	c.conversationID = ""
	c.token = ""
	c.state = StateIdle
	c.lastErr = nil
	c.mu.Unlock()

	if !wasIdle {
		c.logger.Debug().Msg("stream disconnected")
		c.notify(StateIdle, nil)
	}
}

// Close disconnects and waits for the reader goroutine to exit. Do not
// call it from an OnMessage or OnStateChange callback.
func (c *Connection) Close() {
	c.Disconnect()
	c.wg.Wait()
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error behind the most recent StateError.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Ready reports whether the server handshake arrived on the current
// channel.
func (c *Connection) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// ConversationID returns the conversation the connection targets.
func (c *Connection) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// ReconnectPending reports whether a reconnect timer is scheduled.
func (c *Connection) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect != nil
}

// LastHeartbeat is when the last comment frame arrived.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// teardownLocked stops the reconnect timer and the current channel, and
// invalidates callbacks from the old generation.
func (c *Connection) teardownLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.ready = false
	c.generation++
}

func (c *Connection) startLocked() uint64 {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.generation++
	gen := c.generation
	c.state = StateConnecting
	c.ready = false

	conversationID, token := c.conversationID, c.token
	c.wg.Add(1)
	go c.run(ctx, gen, conversationID, token)
	return gen
}

func (c *Connection) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

func (c *Connection) run(ctx context.Context, gen uint64, conversationID, token string) {
	defer c.wg.Done()

	body, err := c.transport.Open(ctx, conversationID, token)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.handleError(gen, err)
		return
	}
	defer body.Close()

	go func() {
		<-ctx.Done()
		_ = body.Close()
	}()

	c.handleOpen(gen)

	logger := logging.WithConversation(c.logger, conversationID)
	scanner := NewScanner(body)
	for scanner.Next() {
		event := scanner.Event()
		if event.IsComment() {
			c.handleHeartbeat(gen)
			continue
		}

		switch frame := DecodeFrame([]byte(event.Data)).(type) {
		case Handshake:
			c.handleHandshake(gen)
		case MessageFrame:
			if !c.current(gen) {
				return
			}
			if c.onMessage != nil {
				c.onMessage(conversationID, frame.Message)
			}
		case Unrecognized:
			logger.Warn().Err(frame.Err()).Str("raw", logging.Redact(frame.Raw)).Msg("dropping unrecognized frame")
		}
	}

	if ctx.Err() != nil {
		return
	}
	err = scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	c.handleError(gen, fmt.Errorf("%w: stream closed: %v", models.ErrConnection, err))
}

func (c *Connection) handleOpen(gen uint64) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Info().Msg("stream open")
	c.notify(StateOpen, nil)
}

func (c *Connection) handleHandshake(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.ready = true
	}
}

func (c *Connection) handleHeartbeat(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.lastHeartbeat = c.clock.Now()
	}
}

// handleError moves to StateError and schedules exactly one reconnect.
// Errors arriving while a reconnect is pending schedule nothing more.
// Authorization failures are surfaced but never retried.
func (c *Connection) handleError(gen uint64, err error) {
	if err == nil {
		err = models.ErrConnection
	}
	if !errors.Is(err, models.ErrConnection) && !errors.Is(err, models.ErrAuthorization) {
		err = fmt.Errorf("%w: %v", models.ErrConnection, err)
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.lastErr = err
	c.ready = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	scheduled := false
	if !errors.Is(err, models.ErrAuthorization) && c.reconnect == nil {
		c.reconnect = c.clock.AfterFunc(c.reconnectDelay, func() { c.fireReconnect(gen) })
		scheduled = true
	}
	c.mu.Unlock()

	event := c.logger.Warn().Err(err).Bool("reconnect_scheduled", scheduled)
	if scheduled {
		event = event.Dur("reconnect_in", c.reconnectDelay)
	}
	event.Msg("stream error")
	c.notify(StateError, err)
}

func (c *Connection) fireReconnect(gen uint64) {
	c.mu.Lock()
	if c.generation != gen || c.reconnect == nil {
		c.mu.Unlock()
		return
	}
	c.reconnect = nil
	if c.conversationID == "" || c.token == "" {
		c.mu.Unlock()
		return
	}
	c.generation++
	next := c.startLocked()
	c.mu.Unlock()

	c.logger.Info().Uint64("generation", next).Msg("stream reconnecting")
	c.notify(StateConnecting, nil)
}

func (c *Connection) notify(state State, err error) {
	if c.onStateChange != nil {
		c.onStateChange(state, err)
	}
}
