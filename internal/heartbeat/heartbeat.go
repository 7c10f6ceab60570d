package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/wakecore/internal/observe"
	"github.com/MrWong99/wakecore/pkg/devstate"
	"github.com/MrWong99/wakecore/pkg/display"
)

// DefaultDiagnosticsEvery is how many ticks pass between memory reports.
const DefaultDiagnosticsEvery = 10

// ClockFormat is the layout of the idle clock shown on the display.
const ClockFormat = "15:04"

// Device is the part of the device state machine the heartbeat reads.
type Device interface {
	Tick() int64
	State() devstate.State
}

// Scheduler enqueues work for the event-loop consumer.
type Scheduler interface {
	Schedule(task func())
}

// Option is a functional option for [New].
type Option func(*Heartbeat)

// WithDiagnosticsEvery overrides [DefaultDiagnosticsEvery].
func WithDiagnosticsEvery(n int64) Option {
	return func(h *Heartbeat) {
		if n > 0 {
			h.every = n
		}
	}
}

// WithMemoryReporter sets the memory source. Defaults to [NewRuntimeMemory].
func WithMemoryReporter(m MemoryReporter) Option {
	return func(h *Heartbeat) { h.memory = m }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Heartbeat) { h.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Heartbeat) { h.now = now }
}

// Heartbeat is the periodic housekeeping callback. It never touches the
// display or device state directly; display updates are scheduled onto the
// event loop.
type Heartbeat struct {
	device  Device
	sched   Scheduler
	display display.Display
	memory  MemoryReporter
	metrics *observe.Metrics
	now     func() time.Time
	every   int64
}

// New creates a heartbeat.
func New(dev Device, sched Scheduler, disp display.Display, opts ...Option) *Heartbeat {
	h := &Heartbeat{
		device:  dev,
		sched:   sched,
		display: disp,
		now:     time.Now,
		every:   DefaultDiagnosticsEvery,
	}
	for _, o := range opts {
		o(h)
	}
	if h.display == nil {
		h.display = display.None{}
	}
	if h.memory == nil {
		h.memory = NewRuntimeMemory()
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Start runs OnTick on timer every period.
func (h *Heartbeat) Start(timer Timer, period time.Duration) error {
	return timer.Start(period, h.OnTick)
}

// OnTick handles one timer tick.
func (h *Heartbeat) OnTick() {
	n := h.device.Tick()
	if n%h.every != 0 {
		return
	}

	free, minFree := h.memory.FreeMemory()
	slog.Info("heartbeat", "tick", n, "free_memory", free, "min_free_memory", minFree)
	h.metrics.RecordMemory(context.Background(), free, minFree)

	if h.device.State() != devstate.Idle {
		return
	}
	clock := h.now().Format(ClockFormat)
	h.sched.Schedule(func() {
		h.display.SetStatus(clock)
	})
}
