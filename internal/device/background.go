package device

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// BackgroundTasks runs work serially on a dedicated goroutine. State changes
// wait for it to go idle so that work started in one state never overlaps the
// next state's effects.
type BackgroundTasks struct {
	mu      sync.Mutex
	idle    *sync.Cond
	queue   []func()
	pending int
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewBackgroundTasks starts the worker goroutine.
func NewBackgroundTasks() *BackgroundTasks {
	b := &BackgroundTasks{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.idle = sync.NewCond(&b.mu)
	go b.loop()
	return b
}

// Schedule queues fn. Calls after Close are dropped.
func (b *BackgroundTasks) Schedule(fn func()) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		slog.Warn("background task scheduled after close, dropping")
		return
	}
	b.queue = append(b.queue, fn)
	b.pending++
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// WaitForCompletion blocks until every scheduled task has finished.
func (b *BackgroundTasks) WaitForCompletion() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.pending > 0 {
		b.idle.Wait()
	}
}

// Pending returns the number of queued or running tasks.
func (b *BackgroundTasks) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Close finishes queued work and stops the worker.
func (b *BackgroundTasks) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	<-b.done
}

func (b *BackgroundTasks) loop() {
	defer close(b.done)
	for range b.wake {
		for {
			b.mu.Lock()
			if len(b.queue) == 0 {
				closed := b.closed
				b.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()

			b.run(fn)

			b.mu.Lock()
			b.pending--
			if b.pending == 0 {
				b.idle.Broadcast()
			}
			b.mu.Unlock()
		}
	}
}

func (b *BackgroundTasks) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("background task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
