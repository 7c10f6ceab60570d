// Package heartbeat drives the once-per-second housekeeping tick: it advances
// the device tick counter, periodically reports memory diagnostics and keeps
// the idle clock on the display current.
package heartbeat

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned by [TickerTimer.Start] on a running timer.
var ErrAlreadyStarted = errors.New("heartbeat: timer already started")

// Timer invokes a callback periodically.
type Timer interface {
	// Start begins calling fn every period. fn runs on the timer goroutine.
	Start(period time.Duration, fn func()) error

	// Stop halts the timer and waits for an in-flight callback to return.
	// Safe to call multiple times.
	Stop()
}

// TickerTimer is a [Timer] backed by a [time.Ticker]. Ticks that arrive while
// the callback is still running are dropped.
type TickerTimer struct {
	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

var _ Timer = (*TickerTimer)(nil)

// Start implements [Timer].
func (t *TickerTimer) Start(period time.Duration, fn func()) error {
	if period <= 0 {
		return errors.New("heartbeat: period must be positive")
	}
	if fn == nil {
		return errors.New("heartbeat: nil callback")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return ErrAlreadyStarted
	}
	t.done = make(chan struct{})
	t.stopped = make(chan struct{})

	go t.loop(period, fn, t.done, t.stopped)
	return nil
}

// Stop implements [Timer].
func (t *TickerTimer) Stop() {
	t.mu.Lock()
	done, stopped := t.done, t.stopped
	t.done, t.stopped = nil, nil
	t.mu.Unlock()

	if done == nil {
		return
	}
	close(done)
	<-stopped
}

func (t *TickerTimer) loop(period time.Duration, fn func(), done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			fn()
		}
	}
}
