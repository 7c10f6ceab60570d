// Package wavfile implements [audio.Codec] on top of WAV files so that the
// device core can run on a workstation without sound hardware.
//
// Captured input is served from a WAV recording (optionally looped and paced
// in real time); played output is appended to a second WAV file. File access
// goes through an [afero.Fs] so tests can run entirely in memory.
package wavfile

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/MrWong99/wakecore/pkg/audio"
)

// Config configures a WAV-file codec.
type Config struct {
	// InputPath is the WAV recording served as microphone input. Required.
	InputPath string

	// OutputPath receives played audio. Empty discards output.
	OutputPath string

	// OutputSampleRate is the playback rate. Defaults to the input rate.
	OutputSampleRate int

	// Loop restarts the recording when it ends. When false, silence follows.
	Loop bool

	// Realtime paces InputData so that reads take as long as the audio they
	// return.
	Realtime bool

	// Volume is the initial output volume (0–100). Zero means 70.
	Volume int
}

// Codec is a WAV-file backed [audio.Codec].
type Codec struct {
	fs  afero.Fs
	cfg Config

	mu       sync.Mutex
	input    []int16
	pos      int
	rate     int
	channels int
	started  time.Time
	served   int64
	outFile  afero.File
	enc      *wav.Encoder
	enabled  bool
	volume   int
	closed   bool

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a codec reading and writing through fs. The input file is not
// opened until [Codec.Start].
func New(fs afero.Fs, cfg Config) (*Codec, error) {
	if cfg.InputPath == "" {
		return nil, errors.New("wavfile: input path is required")
	}
	if cfg.Volume == 0 {
		cfg.Volume = 70
	}
	return &Codec{
		fs:     fs,
		cfg:    cfg,
		volume: audio.ClampVolume(cfg.Volume),
		now:    time.Now,
		sleep:  time.Sleep,
	}, nil
}

// Start decodes the input recording and opens the output file.
func (c *Codec) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return audio.ErrClosed
	}
	if c.input != nil {
		return nil
	}

	pcm, rate, channels, err := readWAV(c.fs, c.cfg.InputPath)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return fmt.Errorf("wavfile: %s contains no samples", c.cfg.InputPath)
	}
	c.input = pcm
	c.rate = rate
	c.channels = channels
	if c.cfg.OutputSampleRate == 0 {
		c.cfg.OutputSampleRate = rate
	}

	if c.cfg.OutputPath != "" {
		f, err := c.fs.Create(c.cfg.OutputPath)
		if err != nil {
			return fmt.Errorf("wavfile: create %s: %w", c.cfg.OutputPath, err)
		}
		c.outFile = f
		c.enc = wav.NewEncoder(f, c.cfg.OutputSampleRate, 16, 1, 1)
	}
	c.started = c.now()

	slog.Info("wavfile codec started",
		"input", c.cfg.InputPath,
		"format", audio.Format{SampleRate: rate, Channels: channels}.String(),
		"samples", len(pcm),
		"output", c.cfg.OutputPath,
	)
	return nil
}

// InputSampleRate returns the recording's sample rate.
func (c *Codec) InputSampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// OutputSampleRate returns the playback rate.
func (c *Codec) OutputSampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.OutputSampleRate
}

// InputChannels returns the recording's channel count.
func (c *Codec) InputChannels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels
}

// InputReference is always false; recordings carry no playback reference.
func (c *Codec) InputReference() bool { return false }

// InputData copies the next len(buf) samples of the recording into buf.
func (c *Codec) InputData(buf []int16) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return audio.ErrClosed
	}
	if c.input == nil {
		c.mu.Unlock()
		return errors.New("wavfile: codec not started")
	}

	n := 0
	for n < len(buf) {
		if c.pos >= len(c.input) {
			if !c.cfg.Loop {
				clear(buf[n:])
				break
			}
			c.pos = 0
		}
		k := copy(buf[n:], c.input[c.pos:])
		c.pos += k
		n += k
	}
	c.served += int64(len(buf))
	var wait time.Duration
	if c.cfg.Realtime {
		frames := c.served / int64(max(c.channels, 1))
		due := c.started.Add(time.Duration(frames) * time.Second / time.Duration(c.rate))
		wait = due.Sub(c.now())
	}
	c.mu.Unlock()

	if wait > 0 {
		c.sleep(wait)
	}
	return nil
}

// OutputData appends pcm (mono, at the output rate) to the output file,
// scaled by the current volume. It is a no-op while output is disabled or
// when no output path is configured.
func (c *Codec) OutputData(pcm []int16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return audio.ErrClosed
	}
	if !c.enabled || c.enc == nil || len(pcm) == 0 {
		return nil
	}

	scaled := audio.ScaleVolume(pcm, c.volume)
	data := make([]int, len(scaled))
	for i, s := range scaled {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: c.cfg.OutputSampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := c.enc.Write(buf); err != nil {
		return fmt.Errorf("wavfile: write output: %w", err)
	}
	return nil
}

// OutputEnabled reports whether playback is enabled.
func (c *Codec) OutputEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// EnableOutput turns playback on or off.
func (c *Codec) EnableOutput(enable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enable
}

// OutputVolume returns the playback volume.
func (c *Codec) OutputVolume() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// SetOutputVolume sets the playback volume.
func (c *Codec) SetOutputVolume(volume int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = audio.ClampVolume(volume)
}

// Close finalises the output file. Safe to call more than once.
func (c *Codec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.enc != nil {
		if err := c.enc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("wavfile: finalise output: %w", err))
		}
	}
	if c.outFile != nil {
		if err := c.outFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("wavfile: close output: %w", err))
		}
	}
	return errors.Join(errs...)
}

// readWAV decodes a whole WAV file into interleaved int16 samples.
func readWAV(fs afero.Fs, path string) (pcm []int16, rate, channels int, err error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("wavfile: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("wavfile: %s is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("wavfile: decode %s: %w", path, err)
	}

	shift := 0
	if depth := int(dec.BitDepth); depth > 16 {
		shift = depth - 16
	}
	pcm = make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case dec.BitDepth == 8:
			pcm[i] = int16((v - 128) << 8)
		default:
			pcm[i] = int16(v >> shift)
		}
	}
	return pcm, int(dec.SampleRate), int(dec.NumChans), nil
}

var _ audio.Codec = (*Codec)(nil)
