// ABOUTME: Heartbeat poller: the pull fallback used when push delivery is disabled.
// ABOUTME: Linear backoff with a cap, bounded retry on error, and a generation guard on cancellation.

package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ternlabs/chatsession/internal/api"
)

// Backoff parameters. The interval starts at InitialInterval, grows by Step
// after every successful poll, and never exceeds MaxInterval. After
// MaxFailures consecutive errors the poller gives up silently.
const (
	InitialInterval = 2 * time.Second
	Step            = 5 * time.Second
	MaxInterval     = 30 * time.Second
	MaxFailures     = 5
)

// PollFunc fetches the current status and pending messages.
type PollFunc func(ctx context.Context) (*api.PollResponse, error)

// ApplyFunc hands a successful poll result to the owner. It returns true when
// the conversation is finalized and polling must stop permanently. All store
// and watermark mutation happens inside the owner, never in the poller.
type ApplyFunc func(res *api.PollResponse) (finalized bool)

// Poller drives the heartbeat loop for one conversation. Start and Stop may
// be called from any goroutine; a Stop invalidates every outstanding timer
// and in-flight poll, so no stale result is ever applied.
type Poller struct {
	poll   PollFunc
	apply  ApplyFunc
	logger *slog.Logger

	// newTimer is swappable in tests for deterministic scheduling.
	newTimer func(d time.Duration, f func()) *time.Timer

	mu       sync.Mutex
	gen      uint64 // bumped on every Start/Stop; stale goroutines compare and bail
	active   bool
	timer    *time.Timer
	interval time.Duration
	failures int
}

// New creates a poller. Pass nil logger for the default.
func New(pollFn PollFunc, applyFn ApplyFunc, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		poll:     pollFn,
		apply:    applyFn,
		logger:   logger.With("component", "poll"),
		newTimer: time.AfterFunc,
	}
}

// Start begins polling: one immediate poll, then scheduled polls with growing
// intervals. Any previous loop is invalidated first.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.active = true
	p.failures = 0
	p.interval = InitialInterval
	p.stopTimerLocked()
	p.mu.Unlock()

	go p.run(ctx, gen)
}

// Stop cancels the pending timer and marks any in-flight poll stale. Safe to
// call multiple times.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.active = false
	p.stopTimerLocked()
}

// Active reports whether the loop is still scheduling polls.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Poller) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// run executes one poll for the given generation and schedules the next.
func (p *Poller) run(ctx context.Context, gen uint64) {
	p.mu.Lock()
	if gen != p.gen || !p.active {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	res, err := p.poll(ctx)

	p.mu.Lock()
	if gen != p.gen || !p.active {
		// Cancelled while in flight; discard the result.
		p.mu.Unlock()
		return
	}

	if err != nil {
		p.failures++
		if p.failures >= MaxFailures {
			p.active = false
			p.mu.Unlock()
			p.logger.Info("giving up after repeated poll failures",
				"failures", MaxFailures, "error", err)
			return
		}
		// Retry after the current interval, without growing it.
		p.scheduleLocked(ctx, gen, p.interval)
		p.mu.Unlock()
		p.logger.Debug("poll failed, will retry",
			"failures", p.failures, "interval", p.interval, "error", err)
		return
	}

	p.failures = 0
	p.mu.Unlock()

	finalized := p.apply(res)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || !p.active {
		return
	}
	if finalized {
		p.active = false
		return
	}

	p.interval += Step
	if p.interval > MaxInterval {
		p.interval = MaxInterval
	}
	p.scheduleLocked(ctx, gen, p.interval)
}

// scheduleLocked arms the next poll. Must be called with mu held.
func (p *Poller) scheduleLocked(ctx context.Context, gen uint64, d time.Duration) {
	p.timer = p.newTimer(d, func() {
		p.run(ctx, gen)
	})
}
