// Package audioloop moves PCM between the codec, the wake-word detector and
// a loopback demonstration buffer.
//
// The loop runs on its own goroutine. It only reads device state and calls
// thread-safe entry points (detector Feed, codec I/O); it never changes
// state itself.
package audioloop

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/wakecore/internal/observe"
	"github.com/MrWong99/wakecore/internal/resilience"
	"github.com/MrWong99/wakecore/pkg/audio"
	"github.com/MrWong99/wakecore/pkg/devstate"
)

// Defaults.
const (
	DefaultDetectorSampleRate = 16000
	DefaultIdleDelay          = 30 * time.Millisecond
	DefaultCaptureFrame       = 30 * time.Millisecond
)

// Detector is the part of the wake-word detector the loop feeds.
type Detector interface {
	IsDetectionRunning() bool
	GetFeedSize() int
	Feed(pcm []int16)
}

// StateSource reports the current device state.
type StateSource interface {
	State() devstate.State
}

// Config tunes the loop.
type Config struct {
	// DetectorSampleRate is the rate the detector expects. Captured audio is
	// resized to it when the codec runs at a different rate.
	DetectorSampleRate int

	// DemoBufferLimitBytes caps the loopback buffer. Zero means unbounded.
	DemoBufferLimitBytes int

	// IdleDelay is how long an iteration that moved no audio sleeps.
	IdleDelay time.Duration

	// CaptureFrame is how much audio is captured per iteration while
	// Listening with the detector disarmed.
	CaptureFrame time.Duration

	// Breaker tunes the circuit breaker around codec reads.
	Breaker resilience.CircuitBreakerConfig
}

func (c *Config) applyDefaults() {
	if c.DetectorSampleRate <= 0 {
		c.DetectorSampleRate = DefaultDetectorSampleRate
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = DefaultIdleDelay
	}
	if c.CaptureFrame <= 0 {
		c.CaptureFrame = DefaultCaptureFrame
	}
	if c.DemoBufferLimitBytes < 0 {
		c.DemoBufferLimitBytes = 0
	}
	if c.Breaker.Name == "" {
		c.Breaker.Name = "codec-input"
	}
}

// Option is a functional option for [New].
type Option func(*Loop)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithSleep replaces the idle wait. fn must return early with ctx.Err() on
// cancellation.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) { l.sleep = fn }
}

// Loop is the steady-state audio loop.
type Loop struct {
	codec    audio.Codec
	detector Detector
	state    StateSource
	cfg      Config
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
	sleep    func(ctx context.Context, d time.Duration) error

	// demo is mono PCM at the codec output rate. Only the loop goroutine
	// touches it.
	demo []int16
}

// New creates a loop. Call [Loop.Run] to start it.
func New(codec audio.Codec, detector Detector, state StateSource, cfg Config, opts ...Option) *Loop {
	cfg.applyDefaults()
	l := &Loop{
		codec:    codec,
		detector: detector,
		state:    state,
		cfg:      cfg,
		breaker:  resilience.NewCircuitBreaker(cfg.Breaker),
		sleep:    sleepContext,
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// Run iterates until ctx is cancelled and returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("audio loop started",
		"input_rate", l.codec.InputSampleRate(),
		"output_rate", l.codec.OutputSampleRate(),
		"channels", l.codec.InputChannels(),
		"detector_rate", l.cfg.DetectorSampleRate,
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.Step(ctx) {
			continue
		}
		if err := l.sleep(ctx, l.cfg.IdleDelay); err != nil {
			return err
		}
	}
}

// Step runs one iteration and reports whether it captured audio. Exposed for
// tests; Run is the normal entry point.
func (l *Loop) Step(ctx context.Context) bool {
	st := l.state.State()
	captured := l.input(ctx, st)
	l.output(ctx, st)
	return captured
}

// DemoBufferLen returns the number of samples waiting for playback. Only
// meaningful from the loop goroutine or after Run has returned.
func (l *Loop) DemoBufferLen() int {
	return len(l.demo)
}

// Breaker exposes the circuit breaker guarding codec reads.
func (l *Loop) Breaker() *resilience.CircuitBreaker {
	return l.breaker
}

func (l *Loop) input(ctx context.Context, st devstate.State) bool {
	channels := l.codec.InputChannels()
	codecRate := l.codec.InputSampleRate()

	var pcm []int16
	if l.detector != nil && l.detector.IsDetectionRunning() {
		if n := l.detector.GetFeedSize(); n > 0 {
			data, ok := l.read(ctx, n, channels, codecRate)
			if !ok {
				return false
			}
			l.detector.Feed(data)
			pcm = data
		}
	}

	if st != devstate.Listening {
		return pcm != nil
	}

	rate := l.cfg.DetectorSampleRate
	if pcm == nil {
		// Nothing fed this cycle; capture one frame for the demo buffer.
		n := audio.DurationSamples(codecRate, channels, int(l.cfg.CaptureFrame/time.Millisecond))
		data, ok := l.capture(ctx, n)
		if !ok {
			return false
		}
		pcm, rate = data, codecRate
	}
	l.appendDemo(pcm, channels, rate)
	return true
}

// read captures n interleaved samples at the detector rate.
func (l *Loop) read(ctx context.Context, n, channels, codecRate int) ([]int16, bool) {
	detRate := l.cfg.DetectorSampleRate
	frames := n / channels
	src := audio.Format{SampleRate: codecRate, Channels: channels}.SamplesFor(frames, detRate) * channels

	data, ok := l.capture(ctx, src)
	if !ok {
		return nil, false
	}
	if codecRate != detRate {
		data = fitLength(audio.Resize(data, channels, codecRate, detRate), n, channels)
	}
	return data, true
}

// capture reads n samples through the breaker.
func (l *Loop) capture(ctx context.Context, n int) ([]int16, bool) {
	if n <= 0 {
		return nil, false
	}
	buf := make([]int16, n)
	err := l.breaker.Execute(func() error { return l.codec.InputData(buf) })
	switch {
	case err == nil:
		l.metrics.RecordAudioSamples(ctx, "in", n)
		return buf, true
	case errors.Is(err, resilience.ErrCircuitOpen):
		return nil, false
	default:
		l.metrics.RecordCodecError(ctx, "in")
		slog.Debug("codec read failed", "samples", n, "error", err)
		return nil, false
	}
}

func (l *Loop) appendDemo(pcm []int16, channels, rate int) {
	mono := audio.Channel(pcm, channels, 0)
	mono = audio.Resize(mono, 1, rate, l.codec.OutputSampleRate())

	if limit := l.cfg.DemoBufferLimitBytes / 2; limit > 0 {
		room := limit - len(l.demo)
		if room <= 0 {
			return
		}
		if len(mono) > room {
			mono = mono[:room]
		}
	}
	l.demo = append(l.demo, mono...)
}

func (l *Loop) output(ctx context.Context, st devstate.State) {
	if !l.codec.OutputEnabled() {
		return
	}
	if st != devstate.Speaking || len(l.demo) == 0 {
		return
	}
	n := len(l.demo)
	if err := l.codec.OutputData(l.demo); err != nil {
		l.metrics.RecordCodecError(ctx, "out")
		slog.Warn("codec write failed", "samples", n, "error", err)
	} else {
		l.metrics.RecordAudioSamples(ctx, "out", n)
	}
	l.demo = l.demo[:0]
}

// fitLength pads with the last frame or truncates so pcm holds exactly n
// samples. Integer resize ratios can leave it one frame short.
func fitLength(pcm []int16, n, channels int) []int16 {
	if len(pcm) >= n {
		return pcm[:n]
	}
	out := make([]int16, n)
	copy(out, pcm)
	if len(pcm) >= channels {
		last := pcm[len(pcm)-channels:]
		for i := len(pcm); i < n; i++ {
			out[i] = last[(i-len(pcm))%channels]
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
