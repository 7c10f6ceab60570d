package input

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Button names of the compact board.
const (
	BootButton       = "boot"
	VolumeUpButton   = "volume_up"
	VolumeDownButton = "volume_down"
)

// Command binds a console word to a button gesture.
type Command struct {
	Button string
	Event  Event
	Help   string
}

// DefaultCommands maps console words to the compact board's gestures.
var DefaultCommands = map[string]Command{
	"toggle":  {BootButton, Click, "toggle chat (boot click)"},
	"talk":    {VolumeUpButton, PressDown, "start push-to-talk (volume up down)"},
	"release": {VolumeUpButton, PressUp, "stop push-to-talk (volume up up)"},
	"vol-":    {VolumeDownButton, Click, "volume down (volume down click)"},
	"mute":    {VolumeDownButton, LongPress, "mute (volume down long press)"},
}

// Console turns lines read from an [io.Reader] into button gestures.
type Console struct {
	r        io.Reader
	buttons  map[string]*Button
	commands map[string]Command
}

// NewConsole creates a console over r dispatching to buttons by name.
func NewConsole(r io.Reader, buttons ...*Button) *Console {
	c := &Console{
		r:        r,
		buttons:  make(map[string]*Button, len(buttons)),
		commands: DefaultCommands,
	}
	for _, b := range buttons {
		c.buttons[b.Name] = b
	}
	return c
}

// Run reads commands until r is exhausted or ctx is cancelled. Unknown
// commands are logged and skipped. Returns nil on EOF.
//
// Cancellation is only observed between lines; a blocked read on r is not
// interrupted.
func (c *Console) Run(ctx context.Context) error {
	sc := bufio.NewScanner(c.r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		word := strings.TrimSpace(strings.ToLower(sc.Text()))
		if word == "" {
			continue
		}
		if err := c.Dispatch(word); err != nil {
			slog.Warn("console: "+err.Error(), "command", word)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("console: read: %w", err)
	}
	return nil
}

// Dispatch emits the gesture bound to word.
func (c *Console) Dispatch(word string) error {
	if word == "help" {
		for w, cmd := range c.commands {
			slog.Info("console command", "command", w, "help", cmd.Help)
		}
		return nil
	}
	cmd, ok := c.commands[word]
	if !ok {
		return fmt.Errorf("unknown command %q", word)
	}
	b, ok := c.buttons[cmd.Button]
	if !ok {
		return fmt.Errorf("no button %q", cmd.Button)
	}
	if !b.Emit(cmd.Event) {
		return fmt.Errorf("button %q has no %s handler", cmd.Button, cmd.Event)
	}
	return nil
}
