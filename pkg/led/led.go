// Package led drives the single status LED of the board.
//
// The device state machine calls [LED.OnStateChanged] after every transition;
// the LED decides what to show from the new state alone.
package led

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/wakecore/pkg/devstate"
)

// LED reacts to device state changes.
type LED interface {
	OnStateChanged(state devstate.State)
}

// Color is an RGB triple.
type Color struct {
	R, G, B uint8
}

// Predefined colours.
var (
	Off   = Color{}
	Blue  = Color{B: 32}
	Red   = Color{R: 32}
	Green = Color{G: 32}
)

// Pattern describes what the LED shows.
type Pattern struct {
	Color Color

	// Blink is the toggle interval. Zero means steady.
	Blink time.Duration
}

// PatternFor returns the pattern shown in state.
func PatternFor(state devstate.State) Pattern {
	switch state {
	case devstate.Starting:
		return Pattern{Color: Blue, Blink: 100 * time.Millisecond}
	case devstate.WifiConfiguring:
		return Pattern{Color: Blue, Blink: 500 * time.Millisecond}
	case devstate.Connecting:
		return Pattern{Color: Blue}
	case devstate.Listening:
		return Pattern{Color: Red}
	case devstate.Speaking:
		return Pattern{Color: Green}
	case devstate.Upgrading:
		return Pattern{Color: Green, Blink: 100 * time.Millisecond}
	case devstate.Activating:
		return Pattern{Color: Green, Blink: 500 * time.Millisecond}
	default:
		return Pattern{Color: Off}
	}
}

// None ignores state changes.
type None struct{}

// OnStateChanged does nothing.
func (None) OnStateChanged(devstate.State) {}

// Log reports pattern changes through slog. It remembers the current
// pattern so that transitions between states with the same pattern are
// silent.
type Log struct {
	mu      sync.Mutex
	current Pattern
	set     bool
}

// OnStateChanged logs the new pattern if it differs from the current one.
func (l *Log) OnStateChanged(state devstate.State) {
	p := PatternFor(state)

	l.mu.Lock()
	changed := !l.set || p != l.current
	l.current, l.set = p, true
	l.mu.Unlock()

	if !changed {
		return
	}
	slog.Info("led pattern",
		"state", state.String(),
		"rgb", []uint8{p.Color.R, p.Color.G, p.Color.B},
		"blink", p.Blink,
	)
}

// Current returns the pattern last shown.
func (l *Log) Current() Pattern {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

var (
	_ LED = None{}
	_ LED = (*Log)(nil)
)
