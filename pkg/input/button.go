// Package input models the board's push buttons and a console driver that
// emulates them from text commands.
package input

import (
	"sync"
)

// Event is a button gesture.
type Event int

const (
	// Click is a short press and release.
	Click Event = iota

	// PressDown fires when the button goes down.
	PressDown

	// PressUp fires when the button is released.
	PressUp

	// LongPress fires when the button is held.
	LongPress
)

// String returns the gesture name.
func (e Event) String() string {
	switch e {
	case Click:
		return "click"
	case PressDown:
		return "press_down"
	case PressUp:
		return "press_up"
	case LongPress:
		return "long_press"
	default:
		return "unknown"
	}
}

// Button dispatches gestures to registered handlers. Handlers run on the
// goroutine that calls [Button.Emit] and must not block.
type Button struct {
	Name string

	mu       sync.RWMutex
	handlers map[Event]func()
}

// NewButton creates a button with no handlers.
func NewButton(name string) *Button {
	return &Button{Name: name, handlers: make(map[Event]func())}
}

// OnClick registers fn for [Click]. A later registration replaces it.
func (b *Button) OnClick(fn func()) { b.on(Click, fn) }

// OnPressDown registers fn for [PressDown].
func (b *Button) OnPressDown(fn func()) { b.on(PressDown, fn) }

// OnPressUp registers fn for [PressUp].
func (b *Button) OnPressUp(fn func()) { b.on(PressUp, fn) }

// OnLongPress registers fn for [LongPress].
func (b *Button) OnLongPress(fn func()) { b.on(LongPress, fn) }

func (b *Button) on(e Event, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[e] = fn
}

// Emit invokes the handler for e. It reports whether one was registered.
func (b *Button) Emit(e Event) bool {
	b.mu.RLock()
	fn := b.handlers[e]
	b.mu.RUnlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}
