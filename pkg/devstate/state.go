// Package devstate defines the operating states of a voice-interaction device.
//
// A device is in exactly one [State] at a time. The state is owned by the
// device state machine (internal/device); other packages only read it to
// decide what to do with audio, LEDs and the display.
package devstate

// State is the device-wide operating mode.
type State int32

const (
	// Unknown is the initial state before startup begins.
	Unknown State = iota

	// Starting is entered while the device brings up its peripherals.
	Starting

	// WifiConfiguring is entered while the device waits for network setup.
	WifiConfiguring

	// Idle is the resting state. The wake-word detector is normally armed.
	Idle

	// Connecting is entered while a conversation channel is being opened.
	Connecting

	// Listening is entered while user speech is being captured.
	Listening

	// Speaking is entered while a response is being played back.
	Speaking

	// Upgrading is entered during a firmware upgrade.
	Upgrading

	// Activating is entered while the device registers itself.
	Activating

	// FatalError is terminal; nothing leaves it automatically.
	FatalError
)

var names = [...]string{
	Unknown:         "unknown",
	Starting:        "starting",
	WifiConfiguring: "configuring",
	Idle:            "idle",
	Connecting:      "connecting",
	Listening:       "listening",
	Speaking:        "speaking",
	Upgrading:       "upgrading",
	Activating:      "activating",
	FatalError:      "fatal_error",
}

// String returns the lower-case name used in logs and metrics.
func (s State) String() string {
	if s < 0 || int(s) >= len(names) {
		return "invalid_state"
	}
	return names[s]
}

// IsValid reports whether s is one of the defined states.
func (s State) IsValid() bool {
	return s >= Unknown && s <= FatalError
}

// Parse returns the State whose name is name.
func Parse(name string) (State, bool) {
	for i, n := range names {
		if n == name {
			return State(i), true
		}
	}
	return Unknown, false
}
