// Package mock provides an in-memory implementation of [audio.Codec] for use
// in unit tests.
//
// The mock is safe for concurrent use. It records every PCM buffer written to
// it and serves captured input from a scripted source, so tests can assert on
// exactly what the device core read and played.
//
// Typical usage:
//
//	codec := &mock.Codec{
//	    InputRate:  16000,
//	    OutputRate: 16000,
//	    Channels:   1,
//	    Source:     func(buf []int16) { /* fill buf */ },
//	}
//	_ = codec.Start()
package mock

import (
	"sync"

	"github.com/MrWong99/wakecore/pkg/audio"
)

// Codec is a mock implementation of [audio.Codec].
// Set the exported configuration fields before use; inspect the recorded
// fields after.
type Codec struct {
	mu sync.Mutex

	// InputRate is returned by InputSampleRate. Defaults to 16000 if zero.
	InputRate int

	// OutputRate is returned by OutputSampleRate. Defaults to 16000 if zero.
	OutputRate int

	// Channels is returned by InputChannels. Defaults to 1 if zero.
	Channels int

	// Reference is returned by InputReference.
	Reference bool

	// Source fills each InputData buffer. When nil the buffer is zeroed.
	Source func(buf []int16)

	// InputErr, if non-nil, is returned by InputData.
	InputErr error

	// OutputErr, if non-nil, is returned by OutputData.
	OutputErr error

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// Started records whether Start succeeded.
	Started bool

	// Written holds a copy of every buffer passed to OutputData.
	Written [][]int16

	// InputCalls records the length of every InputData request.
	InputCalls []int

	outputEnabled bool
	volume        int
	volumeSet     bool
}

// InputSampleRate returns InputRate.
func (c *Codec) InputSampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InputRate == 0 {
		return 16000
	}
	return c.InputRate
}

// OutputSampleRate returns OutputRate.
func (c *Codec) OutputSampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OutputRate == 0 {
		return 16000
	}
	return c.OutputRate
}

// InputChannels returns Channels.
func (c *Codec) InputChannels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Channels == 0 {
		return 1
	}
	return c.Channels
}

// InputReference returns Reference.
func (c *Codec) InputReference() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Reference
}

// Start records the call and returns StartErr.
func (c *Codec) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StartErr != nil {
		return c.StartErr
	}
	c.Started = true
	return nil
}

// InputData fills buf from Source and records the request.
func (c *Codec) InputData(buf []int16) error {
	c.mu.Lock()
	c.InputCalls = append(c.InputCalls, len(buf))
	err := c.InputErr
	src := c.Source
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if src == nil {
		clear(buf)
		return nil
	}
	src(buf)
	return nil
}

// OutputData records a copy of pcm and returns OutputErr.
func (c *Codec) OutputData(pcm []int16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OutputErr != nil {
		return c.OutputErr
	}
	c.Written = append(c.Written, append([]int16(nil), pcm...))
	return nil
}

// OutputEnabled reports the last value passed to EnableOutput.
func (c *Codec) OutputEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputEnabled
}

// EnableOutput records enable.
func (c *Codec) EnableOutput(enable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputEnabled = enable
}

// OutputVolume returns the last volume set, 70 by default.
func (c *Codec) OutputVolume() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.volumeSet {
		return 70
	}
	return c.volume
}

// SetOutputVolume records the clamped volume.
func (c *Codec) SetOutputVolume(volume int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = audio.ClampVolume(volume)
	c.volumeSet = true
}

// WrittenSamples returns the total number of samples passed to OutputData.
func (c *Codec) WrittenSamples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.Written {
		n += len(w)
	}
	return n
}

// InputCallCount returns how many times InputData was called.
func (c *Codec) InputCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.InputCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (c *Codec) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Written = nil
	c.InputCalls = nil
}

// Ensure Codec implements audio.Codec at compile time.
var _ audio.Codec = (*Codec)(nil)
