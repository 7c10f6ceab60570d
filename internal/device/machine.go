// Package device owns the device-wide operating state.
//
// A [Machine] holds the current [devstate.State] and applies the side
// effects of entering a state (display text, LED pattern, re-arming wake-word
// detection). [Machine.SetState] must only be called from the event-loop
// consumer goroutine; every other goroutine requests changes through
// methods such as [Machine.ToggleChatState], which enqueue the change on the
// [Scheduler] instead of applying it.
package device

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/wakecore/internal/observe"
	"github.com/MrWong99/wakecore/pkg/devstate"
	"github.com/MrWong99/wakecore/pkg/display"
	"github.com/MrWong99/wakecore/pkg/led"
)

// DefaultGuardDelay is how long entering Listening from Speaking waits so
// that the tail of playback is not captured.
const DefaultGuardDelay = 120 * time.Millisecond

// Display texts.
const (
	StatusStandby    = "Standby"
	StatusConnecting = "Connecting..."
	StatusListening  = "Listening..."
	StatusSpeaking   = "Speaking..."

	EmotionNeutral  = "neutral"
	EmotionLoving   = "loving"
	EmotionLaughing = "laughing"

	RoleSystem = "system"
)

// Scheduler enqueues work for the event-loop consumer.
type Scheduler interface {
	Schedule(task func())
}

// Detector is the part of the wake-word detector the machine re-arms.
type Detector interface {
	IsDetectionRunning() bool
	StartDetection()
}

// Option is a functional option for [New].
type Option func(*Machine)

// WithDisplay sets the display. Defaults to [display.None].
func WithDisplay(d display.Display) Option {
	return func(m *Machine) { m.display = d }
}

// WithLED sets the status LED. Defaults to [led.None].
func WithLED(l led.LED) Option {
	return func(m *Machine) { m.led = l }
}

// WithDetector sets the wake-word detector re-armed on entering Listening.
func WithDetector(d Detector) Option {
	return func(m *Machine) { m.detector = d }
}

// WithBackgroundTasks sets the background worker awaited before every state
// change.
func WithBackgroundTasks(b *BackgroundTasks) Option {
	return func(m *Machine) { m.background = b }
}

// WithGuardDelay overrides [DefaultGuardDelay].
func WithGuardDelay(d time.Duration) Option {
	return func(m *Machine) { m.guard.Store(int64(d)) }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Machine) { m.metrics = met }
}

// WithRebootFunc sets what Reboot does. Defaults to logging only.
func WithRebootFunc(fn func()) Option {
	return func(m *Machine) { m.reboot = fn }
}

// WithSleep replaces time.Sleep for the guard delay.
func WithSleep(fn func(time.Duration)) Option {
	return func(m *Machine) { m.sleep = fn }
}

// Machine is the device state machine.
type Machine struct {
	sched      Scheduler
	display    display.Display
	led        led.LED
	detector   Detector
	background *BackgroundTasks
	metrics    *observe.Metrics
	reboot     func()
	sleep      func(time.Duration)

	state atomic.Int32
	ticks atomic.Int64
	guard atomic.Int64

	// previous is only touched by SetState on the consumer goroutine.
	previous devstate.State
}

// New creates a machine in [devstate.Unknown].
func New(sched Scheduler, opts ...Option) *Machine {
	m := &Machine{
		sched: sched,
		sleep: time.Sleep,
	}
	m.guard.Store(int64(DefaultGuardDelay))
	for _, o := range opts {
		o(m)
	}
	if m.display == nil {
		m.display = display.None{}
	}
	if m.led == nil {
		m.led = led.None{}
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.reboot == nil {
		m.reboot = func() { slog.Warn("reboot requested but no reboot hook is installed") }
	}
	return m
}

// State returns the current state. Safe from any goroutine.
func (m *Machine) State() devstate.State {
	return devstate.State(m.state.Load())
}

// Previous returns the state before the last transition. Consumer only.
func (m *Machine) Previous() devstate.State {
	return m.previous
}

// SetGuardDelay changes the Speaking→Listening guard delay.
func (m *Machine) SetGuardDelay(d time.Duration) {
	m.guard.Store(int64(d))
}

// GuardDelay returns the Speaking→Listening guard delay.
func (m *Machine) GuardDelay() time.Duration {
	return time.Duration(m.guard.Load())
}

// Tick advances the heartbeat counter and returns the new value. The counter
// restarts on every state change.
func (m *Machine) Tick() int64 {
	return m.ticks.Add(1)
}

// Ticks returns the heartbeat counter.
func (m *Machine) Ticks() int64 {
	return m.ticks.Load()
}

// SetState transitions to s and applies its effects. Setting the current
// state again does nothing. Must run on the event-loop consumer.
func (m *Machine) SetState(s devstate.State) {
	cur := m.State()
	if cur == s {
		return
	}

	ctx, span := observe.StartStateChange(cur, s)
	defer span.End()

	m.ticks.Store(0)
	m.previous = cur
	m.state.Store(int32(s))
	observe.Logger(ctx).Info("state changed", "from", cur.String(), "to", s.String())
	m.metrics.RecordStateTransition(ctx, cur.String(), s.String())

	if m.background != nil {
		m.background.WaitForCompletion()
	}
	m.led.OnStateChanged(s)

	switch s {
	case devstate.Unknown, devstate.Idle:
		m.display.SetStatus(StatusStandby)
		m.display.SetEmotion(EmotionNeutral)
		m.display.SetChatMessage(RoleSystem, "")
	case devstate.Connecting:
		m.display.SetStatus(StatusConnecting)
		m.display.SetEmotion(EmotionNeutral)
		m.display.SetChatMessage(RoleSystem, "")
	case devstate.Listening:
		if m.detector != nil && !m.detector.IsDetectionRunning() {
			m.detector.StartDetection()
		}
		m.display.SetStatus(StatusListening)
		m.display.SetEmotion(EmotionLoving)
		if m.previous == devstate.Speaking {
			if d := m.GuardDelay(); d > 0 {
				observe.GuardDelayEvent(ctx, d)
				m.sleep(d)
			}
		}
	case devstate.Speaking:
		m.display.SetStatus(StatusSpeaking)
		m.display.SetEmotion(EmotionLaughing)
	}
}

// ToggleChatState requests Idle when the device is busy and Listening when it
// is idle. Safe from any goroutine; the change is applied by the consumer.
func (m *Machine) ToggleChatState() {
	m.sched.Schedule(func() {
		if m.State() == devstate.Idle {
			m.SetState(devstate.Listening)
			return
		}
		m.SetState(devstate.Idle)
	})
}

// StartListening requests Listening (push-to-talk pressed).
func (m *Machine) StartListening() {
	m.sched.Schedule(func() { m.SetState(devstate.Listening) })
}

// StopListening requests Speaking (push-to-talk released).
func (m *Machine) StopListening() {
	m.sched.Schedule(func() { m.SetState(devstate.Speaking) })
}

// CanEnterLowPower reports whether the device may sleep, which is only the
// case while idle.
func (m *Machine) CanEnterLowPower() bool {
	return m.State() == devstate.Idle
}

// Alert shows an alert on the display. Must run on the consumer.
func (m *Machine) Alert(status, message, emotion string) {
	slog.Warn("alert", "status", status, "message", message, "emotion", emotion)
	m.display.SetStatus(status)
	m.display.SetEmotion(emotion)
	m.display.SetChatMessage(RoleSystem, message)
}

// DismissAlert restores the standby screen if the device is idle. Must run
// on the consumer.
func (m *Machine) DismissAlert() {
	if m.State() != devstate.Idle {
		return
	}
	m.display.SetStatus(StatusStandby)
	m.display.SetEmotion(EmotionNeutral)
	m.display.SetChatMessage(RoleSystem, "")
}

// Notify flashes a notification on the display.
func (m *Machine) Notify(text string) {
	m.display.ShowNotification(text)
}

// Reboot invokes the reboot hook.
func (m *Machine) Reboot() {
	slog.Info("rebooting", "state", m.State().String())
	m.reboot()
}
