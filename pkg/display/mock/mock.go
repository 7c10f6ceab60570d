// Package mock provides a recording [display.Display] for unit tests.
package mock

import (
	"sync"

	"github.com/MrWong99/wakecore/pkg/display"
)

// Call records one display update.
type Call struct {
	// Method is one of "SetStatus", "SetEmotion", "SetChatMessage",
	// "ShowNotification".
	Method string

	// Args holds the string arguments in order.
	Args []string
}

// Display is a mock implementation of display.Display.
type Display struct {
	mu    sync.Mutex
	calls []Call
}

func (d *Display) record(method string, args ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Method: method, Args: args})
}

// SetStatus records the call.
func (d *Display) SetStatus(status string) { d.record("SetStatus", status) }

// SetEmotion records the call.
func (d *Display) SetEmotion(emotion string) { d.record("SetEmotion", emotion) }

// SetChatMessage records the call.
func (d *Display) SetChatMessage(role, text string) { d.record("SetChatMessage", role, text) }

// ShowNotification records the call.
func (d *Display) ShowNotification(text string) { d.record("ShowNotification", text) }

// Calls returns a copy of all recorded calls.
func (d *Display) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// Last returns the most recent argument list recorded for method.
func (d *Display) Last(method string) ([]string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.calls) - 1; i >= 0; i-- {
		if d.calls[i].Method == method {
			return d.calls[i].Args, true
		}
	}
	return nil, false
}

// Count returns how many times method was called.
func (d *Display) Count(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls. Thread-safe.
func (d *Display) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

var _ display.Display = (*Display)(nil)
