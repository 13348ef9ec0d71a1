package liveagent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errNetworkDown = errors.New("network down")

func TestPollerStopsAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	fatal := make(chan error, 1)

	p := NewPoller(func(context.Context) error {
		calls.Add(1)
		return errNetworkDown
	}, PollerConfig{
		Interval: 5 * time.Millisecond,
		Logger:   zerolog.Nop(),
		OnFatal:  func(err error) { fatal <- err },
	})
	p.Start()
	defer p.Stop()

	select {
	case err := <-fatal:
		if !errors.Is(err, ErrConnectivity) {
			t.Fatalf("fatal error = %v, want ErrConnectivity", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller never gave up")
	}

	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != DefaultMaxPollFailures {
		t.Fatalf("polls = %d, want %d", got, DefaultMaxPollFailures)
	}
	if p.Running() {
		t.Fatal("poller should be stopped")
	}
}

func TestPollerSuccessResetsFailureCount(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	fatal := make(chan error, 1)

	// fail, fail, ok, fail, fail, ok, ...
	p := NewPoller(func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 9 {
			close(done)
		}
		if calls%3 == 0 {
			return nil
		}
		return errNetworkDown
	}, PollerConfig{
		Interval: time.Millisecond,
		Logger:   zerolog.Nop(),
		OnFatal:  func(err error) { fatal <- err },
	})
	p.Start()
	defer p.Stop()

	select {
	case <-done:
	case err := <-fatal:
		t.Fatalf("unexpected fatal error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for polls")
	}
	p.Stop()

	select {
	case err := <-fatal:
		t.Fatalf("unexpected fatal error: %v", err)
	default:
	}
}

func TestPollerProtocolErrorsAreNotFailures(t *testing.T) {
	var calls atomic.Int32
	var rejected atomic.Int32
	fatal := make(chan error, 1)

	p := NewPoller(func(context.Context) error {
		calls.Add(1)
		return &ProtocolError{Op: "poll", Message: "Invalid session"}
	}, PollerConfig{
		Interval:   time.Millisecond,
		Logger:     zerolog.Nop(),
		OnFatal:    func(err error) { fatal <- err },
		OnRejected: func(error) { rejected.Add(1) },
	})
	p.Start()
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 6 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if calls.Load() < 6 {
		t.Fatalf("polls = %d, expected polling to continue", calls.Load())
	}
	if rejected.Load() == 0 {
		t.Fatal("protocol errors should be reported")
	}
	select {
	case err := <-fatal:
		t.Fatalf("protocol errors must not stop polling: %v", err)
	default:
	}
}

func TestPollerSuspendAndResume(t *testing.T) {
	var calls atomic.Int32
	p := NewPoller(func(context.Context) error {
		calls.Add(1)
		return nil
	}, PollerConfig{Interval: 5 * time.Millisecond, Logger: zerolog.Nop()})

	p.Suspend()
	p.Start()
	defer p.Stop()

	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("suspended poller polled %d times", got)
	}

	p.Resume()
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("resumed poller never polled")
	}
}

func TestPollerSingleFlight(t *testing.T) {
	var active, peak, calls atomic.Int32
	release := make(chan struct{})

	p := NewPoller(func(ctx context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		if calls.Add(1) == 1 {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return nil
	}, PollerConfig{Interval: time.Millisecond, Logger: zerolog.Nop()})
	p.Start()
	defer p.Stop()

	time.Sleep(10 * time.Millisecond)
	// Resuming while a poll is in flight must not start a second one.
	p.Suspend()
	p.Resume()
	p.Start()
	time.Sleep(10 * time.Millisecond)
	close(release)
	time.Sleep(20 * time.Millisecond)

	if got := peak.Load(); got != 1 {
		t.Fatalf("peak concurrent polls = %d, want 1", got)
	}
}

func TestPollerStopCancelsInFlightPoll(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})

	p := NewPoller(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}, PollerConfig{Interval: time.Hour, Logger: zerolog.Nop()})
	p.Start()

	<-started
	p.Stop()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight poll was not cancelled")
	}
}
