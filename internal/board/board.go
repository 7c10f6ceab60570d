// Package board assembles a concrete board: which built-in collaborators are
// available and how its buttons drive the device.
package board

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/wakecore/pkg/audio"
	"github.com/MrWong99/wakecore/pkg/input"
)

// CompactWifi is the name of the compact Wi-Fi board.
const CompactWifi = "bread-compact-wifi"

// VolumeStep is the change applied by one volume-down click.
const VolumeStep = 10

// Notification texts.
const (
	NotifyVolume = "Volume %d"
	NotifyMuted  = "Muted"
)

// ErrUnknownBoard is returned by [New] for an unrecognised board name.
var ErrUnknownBoard = errors.New("board: unknown board")

// Device is the part of the device state machine the buttons drive.
type Device interface {
	ToggleChatState()
	StartListening()
	StopListening()
	Notify(text string)
}

// Scheduler enqueues work for the event-loop consumer.
type Scheduler interface {
	Schedule(task func())
}

// Board holds the buttons of one board.
type Board struct {
	Name string

	Boot       *input.Button
	VolumeUp   *input.Button
	VolumeDown *input.Button
}

// New creates the board called name and binds its buttons to dev and codec.
// Display notifications are scheduled on sched so they run on the consumer.
func New(name string, dev Device, codec audio.Codec, sched Scheduler) (*Board, error) {
	switch name {
	case CompactWifi:
		return newCompactWifi(dev, codec, sched), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBoard, name)
	}
}

// newCompactWifi wires the three buttons of the compact Wi-Fi board:
//
//	boot click            toggle chat
//	volume up down / up   push-to-talk
//	volume down click     volume -10
//	volume down long      mute
func newCompactWifi(dev Device, codec audio.Codec, sched Scheduler) *Board {
	b := &Board{
		Name:       CompactWifi,
		Boot:       input.NewButton(input.BootButton),
		VolumeUp:   input.NewButton(input.VolumeUpButton),
		VolumeDown: input.NewButton(input.VolumeDownButton),
	}

	b.Boot.OnClick(dev.ToggleChatState)
	b.VolumeUp.OnPressDown(dev.StartListening)
	b.VolumeUp.OnPressUp(dev.StopListening)

	b.VolumeDown.OnClick(func() {
		v := audio.ClampVolume(codec.OutputVolume() - VolumeStep)
		codec.SetOutputVolume(v)
		slog.Info("volume changed", "volume", v)
		sched.Schedule(func() { dev.Notify(fmt.Sprintf(NotifyVolume, v)) })
	})
	b.VolumeDown.OnLongPress(func() {
		codec.SetOutputVolume(0)
		slog.Info("volume muted")
		sched.Schedule(func() { dev.Notify(NotifyMuted) })
	})
	return b
}

// Buttons returns the board's buttons for an input source such as
// [input.Console].
func (b *Board) Buttons() []*input.Button {
	return []*input.Button{b.Boot, b.VolumeUp, b.VolumeDown}
}
