package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/campusmarket/internal/clock"
	"github.com/tOgg1/campusmarket/internal/logging"
)

// Poller errors.
var (
	ErrPollerAlreadyRunning = errors.New("poller already running")
	ErrPollerNotRunning     = errors.New("poller not running")
)

// DefaultPollInterval is the fixed cadence for both the message poll and
// the conversation list poll.
const DefaultPollInterval = 3 * time.Second

// PollFunc performs one poll. Errors are logged and the next tick runs
// as usual.
type PollFunc func(ctx context.Context) error

// Poller runs a PollFunc on a fixed interval. At most one poll is in
// flight; a tick that finds the previous poll still running is skipped.
type Poller struct {
	name     string
	interval time.Duration
	poll     PollFunc
	clock    clock.Clock
	logger   zerolog.Logger

	mu       sync.RWMutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	busy     chan struct{}
	failures int
}

// NewPoller creates a stopped poller. interval <= 0 uses
// DefaultPollInterval; a nil clock uses the real one.
func NewPoller(name string, interval time.Duration, clk clock.Clock, poll PollFunc) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Poller{
		name:     name,
		interval: interval,
		poll:     poll,
		clock:    clk,
		logger:   logging.Component(name + "-poller"),
		busy:     make(chan struct{}, 1),
	}
}

// Start begins the polling loop. The first poll happens after one
// interval; callers that want an immediate poll call PollNow.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPollerAlreadyRunning
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.logger.Debug().Dur("interval", p.interval).Msg("poller starting")

	ticker := p.clock.NewTicker(p.interval)
	p.wg.Add(1)
	go p.runLoop(p.ctx, ticker)

	return nil
}

// Stop halts the loop and waits for any in-flight poll.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrPollerNotRunning
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug().Msg("poller stopped")
	return nil
}

// IsRunning returns true if the poller is running.
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// PollNow triggers an immediate poll in the background. It is skipped
// like a tick when a poll is already in flight.
func (p *Poller) PollNow() error {
	p.mu.RLock()
	running := p.running
	ctx := p.ctx
	p.mu.RUnlock()

	if !running {
		return ErrPollerNotRunning
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.doPoll(ctx)
	}()
	return nil
}

func (p *Poller) runLoop(ctx context.Context, ticker *clock.Ticker) {
	defer p.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.doPoll(ctx)
		}
	}
}

func (p *Poller) doPoll(ctx context.Context) {
	select {
	case p.busy <- struct{}{}:
	default:
		p.logger.Debug().Msg("previous poll still running, skipping tick")
		return
	}
	defer func() { <-p.busy }()

	if ctx.Err() != nil {
		return
	}

	err := p.poll(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		p.mu.Lock()
		p.failures++
		failures := p.failures
		p.mu.Unlock()
		p.logger.Warn().Err(err).Int("consecutive_failures", failures).Msg("poll failed")
		return
	}

	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()
}
