// Package audio defines the codec capability used by the device core and
// small PCM helpers shared by codec implementations.
//
// The primary abstraction is [Codec]: a full-duplex audio device that yields
// interleaved signed 16-bit PCM on input and accepts it on output. Concrete
// drivers live in sub-packages (audio/wavfile, audio/portaudio) and a test
// double lives in audio/mock.
package audio

import "errors"

// ErrClosed is returned by codec operations after Close.
var ErrClosed = errors.New("audio: codec closed")

// Codec is a full-duplex audio device.
//
// Input samples are interleaved across [Codec.InputChannels] channels. When
// [Codec.InputReference] is true the last channel carries the playback
// reference signal for echo cancellation.
//
// Implementations must be safe for concurrent use: the audio loop reads and
// writes PCM while the event loop toggles output and volume.
type Codec interface {
	// InputSampleRate is the capture rate in Hz.
	InputSampleRate() int

	// OutputSampleRate is the playback rate in Hz.
	OutputSampleRate() int

	// InputChannels is the number of interleaved capture channels, including
	// the reference channel if present.
	InputChannels() int

	// InputReference reports whether the last capture channel is a playback
	// reference.
	InputReference() bool

	// Start brings the device up. It must be called before any I/O.
	Start() error

	// InputData fills buf completely with captured samples. It blocks until
	// enough audio is available.
	InputData(buf []int16) error

	// OutputData plays pcm. Samples are interleaved at the output rate.
	OutputData(pcm []int16) error

	// OutputEnabled reports whether playback is currently allowed.
	OutputEnabled() bool

	// EnableOutput turns playback on or off.
	EnableOutput(enable bool)

	// OutputVolume returns the playback volume in the range 0–100.
	OutputVolume() int

	// SetOutputVolume sets the playback volume, clamped to 0–100.
	SetOutputVolume(volume int)
}

// ClampVolume limits v to the 0–100 range used by [Codec.SetOutputVolume].
func ClampVolume(v int) int {
	return min(max(v, 0), 100)
}
