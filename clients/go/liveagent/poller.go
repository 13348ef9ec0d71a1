package liveagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/liveagent/internal/metrics"
)

const (
	// DefaultPollInterval is the delay between two polls.
	DefaultPollInterval = 2500 * time.Millisecond
	// DefaultMaxPollFailures is the number of consecutive failed polls tolerated.
	DefaultMaxPollFailures = 3
)

// PollFunc performs one poll. A *ProtocolError is reported but does not count
// as a failure; any other error does.
type PollFunc func(ctx context.Context) error

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval    time.Duration
	MaxFailures int
	Logger      zerolog.Logger

	// OnFatal receives an error wrapping ErrConnectivity once the poller gives up.
	OnFatal func(error)
	// OnRejected receives protocol errors returned by a poll.
	OnRejected func(error)
}

// Poller runs a PollFunc on a timer with at most one poll in flight.
type Poller struct {
	fn          PollFunc
	interval    time.Duration
	maxFailures int
	logger      zerolog.Logger
	onFatal     func(error)
	onRejected  func(error)

	mu        sync.Mutex
	running   bool
	suspended bool
	inFlight  bool
	failures  int
	gen       uint64
	timer     *time.Timer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewPoller creates a stopped poller.
func NewPoller(fn PollFunc, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxPollFailures
	}
	return &Poller{
		fn:          fn,
		interval:    cfg.Interval,
		maxFailures: cfg.MaxFailures,
		logger:      cfg.Logger,
		onFatal:     cfg.OnFatal,
		onRejected:  cfg.OnRejected,
	}
}

// Start begins polling immediately. It is a no-op if already running.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.inFlight = false
	p.failures = 0
	p.gen++
	p.ctx, p.cancel = context.WithCancel(context.Background())
	if !p.suspended {
		p.scheduleLocked(0)
	}
}

// Stop clears any pending poll. A poll already in flight is cancelled and its
// outcome ignored.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if !p.running {
		return
	}
	p.running = false
	p.suspended = false
	p.inFlight = false
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// Suspend pauses scheduling without resetting the failure count.
func (p *Poller) Suspend() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.suspended = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Resume re-arms a suspended poller and polls right away.
func (p *Poller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.suspended {
		return
	}
	p.suspended = false
	if p.running && !p.inFlight {
		p.scheduleLocked(0)
	}
}

// Running reports whether the poller is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Suspended reports whether scheduling is paused.
func (p *Poller) Suspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspended
}

func (p *Poller) scheduleLocked(delay time.Duration) {
	if p.timer != nil {
		p.timer.Stop()
	}
	gen := p.gen
	p.timer = time.AfterFunc(delay, func() { p.tick(gen) })
}

func (p *Poller) tick(gen uint64) {
	p.mu.Lock()
	if !p.running || p.suspended || p.inFlight || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.timer = nil
	ctx := p.ctx
	p.mu.Unlock()

	err := p.fn(ctx)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.inFlight = false

	var fatal, rejected error
	switch {
	case err == nil:
		p.failures = 0
		metrics.PollsTotal.WithLabelValues("ok").Inc()
	case IsProtocolError(err):
		rejected = err
		metrics.PollsTotal.WithLabelValues("rejected").Inc()
	default:
		p.failures++
		metrics.PollsTotal.WithLabelValues("failed").Inc()
		p.logger.Warn().Err(err).Int("failures", p.failures).Msg("poll failed")
		if p.failures >= p.maxFailures {
			fatal = fmt.Errorf("%w: %d consecutive poll failures: %v", ErrConnectivity, p.failures, err)
			p.stopLocked()
		}
	}

	if p.running && !p.suspended {
		p.scheduleLocked(p.interval)
	}
	p.mu.Unlock()

	if rejected != nil && p.onRejected != nil {
		p.onRejected(rejected)
	}
	if fatal != nil {
		p.logger.Error().Err(fatal).Msg("polling stopped")
		if p.onFatal != nil {
			p.onFatal(fatal)
		}
	}
}
