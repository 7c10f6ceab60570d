package input

import (
	"context"
	"strings"
	"testing"
)

func TestButton_EmitDispatchesToHandler(t *testing.T) {
	t.Parallel()

	b := NewButton(BootButton)
	var clicks, downs int
	b.OnClick(func() { clicks++ })
	b.OnPressDown(func() { downs++ })

	if !b.Emit(Click) {
		t.Error("Emit(Click) reported no handler")
	}
	if !b.Emit(PressDown) {
		t.Error("Emit(PressDown) reported no handler")
	}
	if b.Emit(LongPress) {
		t.Error("Emit(LongPress) should report no handler")
	}
	if clicks != 1 || downs != 1 {
		t.Errorf("clicks=%d downs=%d, want 1/1", clicks, downs)
	}

	b.OnClick(func() { clicks += 10 })
	b.Emit(Click)
	if clicks != 11 {
		t.Errorf("later registration should replace handler, clicks=%d", clicks)
	}
}

func TestEvent_String(t *testing.T) {
	t.Parallel()

	for e, want := range map[Event]string{Click: "click", PressDown: "press_down", PressUp: "press_up", LongPress: "long_press", Event(9): "unknown"} {
		if got := e.String(); got != want {
			t.Errorf("Event(%d).String() = %q, want %q", int(e), got, want)
		}
	}
}

func TestConsole_Run(t *testing.T) {
	t.Parallel()

	boot := NewButton(BootButton)
	up := NewButton(VolumeUpButton)
	down := NewButton(VolumeDownButton)

	var got []string
	boot.OnClick(func() { got = append(got, "toggle") })
	up.OnPressDown(func() { got = append(got, "start") })
	up.OnPressUp(func() { got = append(got, "stop") })
	down.OnClick(func() { got = append(got, "vol-") })
	down.OnLongPress(func() { got = append(got, "mute") })

	in := strings.NewReader("toggle\n  TALK \nrelease\n\nbogus\nvol-\nmute\n")
	c := NewConsole(in, boot, up, down)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"toggle", "start", "stop", "vol-", "mute"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("dispatched %v, want %v", got, want)
	}
}

func TestConsole_DispatchErrors(t *testing.T) {
	t.Parallel()

	c := NewConsole(strings.NewReader(""), NewButton(BootButton))
	if err := c.Dispatch("nope"); err == nil {
		t.Error("expected error for unknown command")
	}
	if err := c.Dispatch("talk"); err == nil {
		t.Error("expected error for missing button")
	}
	if err := c.Dispatch("toggle"); err == nil {
		t.Error("expected error for button without handler")
	}
	if err := c.Dispatch("help"); err != nil {
		t.Errorf("help: %v", err)
	}
}

func TestConsole_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	boot := NewButton(BootButton)
	n := 0
	boot.OnClick(func() { n++ })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewConsole(strings.NewReader("toggle\ntoggle\n"), boot)
	if err := c.Run(ctx); err == nil {
		t.Error("expected context error")
	}
	if n != 0 {
		t.Errorf("ran %d commands after cancel", n)
	}
}
