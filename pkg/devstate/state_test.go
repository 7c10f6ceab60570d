package devstate

import "testing"

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{Unknown, "unknown"},
		{Starting, "starting"},
		{WifiConfiguring, "configuring"},
		{Idle, "idle"},
		{Connecting, "connecting"},
		{Listening, "listening"},
		{Speaking, "speaking"},
		{Upgrading, "upgrading"},
		{Activating, "activating"},
		{FatalError, "fatal_error"},
		{State(42), "invalid_state"},
		{State(-1), "invalid_state"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int32(tt.state), got, tt.want)
		}
	}
}

func TestParse_RoundTrip(t *testing.T) {
	t.Parallel()

	for s := Unknown; s <= FatalError; s++ {
		got, ok := Parse(s.String())
		if !ok || got != s {
			t.Errorf("Parse(%q) = %v, %v; want %v, true", s.String(), got, ok, s)
		}
	}
	if _, ok := Parse("sleeping"); ok {
		t.Error("Parse(\"sleeping\") should fail")
	}
}

func TestState_IsValid(t *testing.T) {
	t.Parallel()

	if !Idle.IsValid() {
		t.Error("Idle should be valid")
	}
	if State(99).IsValid() {
		t.Error("State(99) should not be valid")
	}
}
