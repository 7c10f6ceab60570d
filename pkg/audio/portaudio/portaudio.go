//go:build portaudio

// Package portaudio implements [audio.Codec] on the host's default sound
// devices via PortAudio.
//
// The package needs the PortAudio C library and is only compiled with the
// "portaudio" build tag.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/wakecore/pkg/audio"
)

// defaultFramesPerBuffer is the PortAudio block size in frames.
const defaultFramesPerBuffer = 256

// Config configures a PortAudio codec.
type Config struct {
	// SampleRate is used for both capture and playback. Default: 16000.
	SampleRate int

	// InputChannels is the capture channel count. Default: 1.
	InputChannels int

	// FramesPerBuffer is the PortAudio block size. Default: 256.
	FramesPerBuffer int

	// Volume is the initial output volume (0–100). Zero means 70.
	Volume int
}

// Codec is a PortAudio backed [audio.Codec] using blocking streams.
type Codec struct {
	cfg Config

	inMu    sync.Mutex
	in      *pa.Stream
	inBuf   []int16
	pending []int16

	outMu  sync.Mutex
	out    *pa.Stream
	outBuf []int16

	stateMu sync.Mutex
	enabled bool
	volume  int
	started bool
	closed  bool
}

// New creates a codec. Devices are opened by [Codec.Start].
func New(cfg Config) *Codec {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.InputChannels == 0 {
		cfg.InputChannels = 1
	}
	if cfg.FramesPerBuffer == 0 {
		cfg.FramesPerBuffer = defaultFramesPerBuffer
	}
	if cfg.Volume == 0 {
		cfg.Volume = 70
	}
	return &Codec{cfg: cfg, volume: audio.ClampVolume(cfg.Volume)}
}

// Start initialises PortAudio and opens the default input and output streams.
func (c *Codec) Start() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.closed {
		return audio.ErrClosed
	}
	if c.started {
		return nil
	}
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}

	c.inBuf = make([]int16, c.cfg.FramesPerBuffer*c.cfg.InputChannels)
	in, err := pa.OpenDefaultStream(c.cfg.InputChannels, 0, float64(c.cfg.SampleRate), c.cfg.FramesPerBuffer, c.inBuf)
	if err != nil {
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: open input: %w", err)
	}
	c.outBuf = make([]int16, c.cfg.FramesPerBuffer)
	out, err := pa.OpenDefaultStream(0, 1, float64(c.cfg.SampleRate), c.cfg.FramesPerBuffer, c.outBuf)
	if err != nil {
		_ = in.Close()
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: open output: %w", err)
	}
	if err := in.Start(); err != nil {
		_ = in.Close()
		_ = out.Close()
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: start input: %w", err)
	}
	if err := out.Start(); err != nil {
		_ = in.Close()
		_ = out.Close()
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: start output: %w", err)
	}
	c.in, c.out = in, out
	c.started = true

	slog.Info("portaudio codec started",
		"format", audio.Format{SampleRate: c.cfg.SampleRate, Channels: c.cfg.InputChannels}.String(),
		"frames_per_buffer", c.cfg.FramesPerBuffer,
	)
	return nil
}

// InputSampleRate returns the capture rate.
func (c *Codec) InputSampleRate() int { return c.cfg.SampleRate }

// OutputSampleRate returns the playback rate.
func (c *Codec) OutputSampleRate() int { return c.cfg.SampleRate }

// InputChannels returns the capture channel count.
func (c *Codec) InputChannels() int { return c.cfg.InputChannels }

// InputReference is false; the default device has no loopback channel.
func (c *Codec) InputReference() bool { return false }

// InputData fills buf by reading whole PortAudio blocks, carrying any
// surplus over to the next call.
func (c *Codec) InputData(buf []int16) error {
	if !c.isRunning() {
		return errors.New("portaudio: codec not running")
	}
	c.inMu.Lock()
	defer c.inMu.Unlock()

	n := copy(buf, c.pending)
	c.pending = c.pending[n:]
	for n < len(buf) {
		if err := c.in.Read(); err != nil {
			return fmt.Errorf("portaudio: read: %w", err)
		}
		k := copy(buf[n:], c.inBuf)
		n += k
		if k < len(c.inBuf) {
			c.pending = append(c.pending, c.inBuf[k:]...)
		}
	}
	return nil
}

// OutputData plays pcm in blocks, padding the final block with silence.
func (c *Codec) OutputData(pcm []int16) error {
	if !c.isRunning() {
		return errors.New("portaudio: codec not running")
	}
	if !c.OutputEnabled() {
		return nil
	}
	scaled := audio.ScaleVolume(pcm, c.OutputVolume())

	c.outMu.Lock()
	defer c.outMu.Unlock()
	for len(scaled) > 0 {
		k := copy(c.outBuf, scaled)
		clear(c.outBuf[k:])
		scaled = scaled[k:]
		if err := c.out.Write(); err != nil {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

// OutputEnabled reports whether playback is enabled.
func (c *Codec) OutputEnabled() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.enabled
}

// EnableOutput turns playback on or off.
func (c *Codec) EnableOutput(enable bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.enabled = enable
}

// OutputVolume returns the playback volume.
func (c *Codec) OutputVolume() int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.volume
}

// SetOutputVolume sets the playback volume.
func (c *Codec) SetOutputVolume(volume int) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.volume = audio.ClampVolume(volume)
}

// Close stops both streams and terminates PortAudio.
func (c *Codec) Close() error {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return nil
	}
	c.closed = true
	wasStarted := c.started
	c.stateMu.Unlock()

	if !wasStarted {
		return nil
	}

	c.inMu.Lock()
	c.outMu.Lock()
	defer c.inMu.Unlock()
	defer c.outMu.Unlock()

	var errs []error
	for _, s := range []*pa.Stream{c.in, c.out} {
		if err := s.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Codec) isRunning() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.started && !c.closed
}

var _ audio.Codec = (*Codec)(nil)
