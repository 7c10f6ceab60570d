// Package wakeword turns microphone audio into wake-word events.
//
// A [Detector] is fed raw interleaved PCM by the audio loop, hands it to an
// acoustic engine, keeps a short history of processed audio and reports a
// detection through a callback. Detection is armed explicitly: after every
// hit the detector disarms itself and stays silent until
// [Detector.StartDetection] is called again, so a single utterance never
// produces two events.
//
// Two engine disciplines are supported (see [Backend]); the choice is a
// configuration value and both share the same arming rules.
package wakeword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/wakecore/internal/observe"
	"github.com/MrWong99/wakecore/pkg/acoustic"
)

// Sentinel errors.
var (
	// ErrNoWakeNetModel is returned by Initialize when the engine ships no
	// usable wake-net model.
	ErrNoWakeNetModel = errors.New("wakeword: no wake-net model available")

	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("wakeword: already initialized")
)

// Backend selects the engine discipline.
type Backend string

const (
	// BackendPipeline feeds raw multi-channel input to a front-end pipeline
	// (echo cancellation, noise suppression, wake-net) and fetches processed
	// chunks with detection results.
	BackendPipeline Backend = "pipeline"

	// BackendDirect scores mono chunks with the last wake-net model directly.
	BackendDirect Backend = "direct"
)

// IsValid reports whether b is a known backend.
func (b Backend) IsValid() bool {
	return b == BackendPipeline || b == BackendDirect
}

// Config configures a [Detector].
type Config struct {
	// Backend selects the engine discipline. Default: [BackendPipeline].
	Backend Backend

	// ModelPrefix selects wake-net models by name. Default: "wn".
	ModelPrefix string

	// SampleRate of the audio handed to Feed. Default: 16000.
	SampleRate int

	// History is how much processed audio to keep. Default: 2s.
	History time.Duration

	// OpusFrame is the frame duration used by EncodeWakeWordData.
	// Default: 60ms.
	OpusFrame time.Duration
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendPipeline
	}
	if c.ModelPrefix == "" {
		c.ModelPrefix = "wn"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.History == 0 {
		c.History = 2 * time.Second
	}
	if c.OpusFrame == 0 {
		c.OpusFrame = 60 * time.Millisecond
	}
}

// CodecInfo describes the capture layout handed to Feed.
type CodecInfo struct {
	// Channels is the number of interleaved input channels.
	Channels int

	// Reference reports whether the last channel is a playback reference.
	Reference bool
}

// InputFormat returns the engine format string: one 'M' per microphone
// followed by 'R' for the reference channel.
func (c CodecInfo) InputFormat() string {
	ref := 0
	if c.Reference {
		ref = 1
	}
	mics := max(c.Channels-ref, 0)
	return strings.Repeat("M", mics) + strings.Repeat("R", ref)
}

// Option is a functional option for [New].
type Option func(*Detector)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// Detector is the wake-word detection component.
//
// Feed, StartDetection, StopDetection and IsDetectionRunning are safe to call
// from any goroutine. The callback registered with OnWakeWordDetected runs on
// the detector's own goroutine.
type Detector struct {
	provider acoustic.Provider
	cfg      Config
	metrics  *observe.Metrics

	// initMu serialises Initialize and Close.
	initMu      sync.Mutex
	initialized atomic.Bool
	armed       atomic.Bool
	armCh       chan struct{}

	// Set once by Initialize, read-only afterwards.
	backend  backend
	catalog  Catalog
	channels int
	history  *History
	cancel   context.CancelFunc
	done     chan struct{}

	mu       sync.Mutex
	callback func(word string)
	last     string

	closeOnce sync.Once
}

// New creates an uninitialised detector over provider.
func New(provider acoustic.Provider, cfg Config, opts ...Option) *Detector {
	cfg.applyDefaults()
	d := &Detector{
		provider: provider,
		cfg:      cfg,
		armCh:    make(chan struct{}, 1),
		history:  NewHistory(1),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Initialize selects the wake-net models, builds the configured backend and
// starts the detection goroutine. The goroutine stops when ctx is cancelled
// or [Detector.Close] is called. The detector starts disarmed.
func (d *Detector) Initialize(ctx context.Context, codec CodecInfo) error {
	d.initMu.Lock()
	defer d.initMu.Unlock()
	if d.initialized.Load() {
		return ErrAlreadyInitialized
	}
	if !d.cfg.Backend.IsValid() {
		return fmt.Errorf("wakeword: unknown backend %q", d.cfg.Backend)
	}
	if codec.Channels <= 0 {
		codec.Channels = 1
	}

	var wakeNets []acoustic.ModelInfo
	for _, m := range d.provider.Models() {
		if strings.HasPrefix(m.Name, d.cfg.ModelPrefix) && len(m.Phrases()) > 0 {
			wakeNets = append(wakeNets, m)
		}
	}
	if len(wakeNets) == 0 {
		return ErrNoWakeNetModel
	}
	catalog := BuildCatalog(wakeNets)

	var (
		b   backend
		err error
	)
	switch d.cfg.Backend {
	case BackendPipeline:
		b, err = newPipelineBackend(d.provider, acoustic.PipelineConfig{
			InputFormat: codec.InputFormat(),
			Models:      wakeNets,
			AEC:         codec.Reference,
			SampleRate:  d.cfg.SampleRate,
		})
	case BackendDirect:
		last := wakeNets[len(wakeNets)-1]
		offset := len(catalog) - len(last.Phrases())
		b, err = newDirectBackend(d.provider, last, d.cfg.SampleRate, codec.Channels, offset)
	}
	if err != nil {
		return fmt.Errorf("wakeword: build %s backend: %w", d.cfg.Backend, err)
	}

	d.backend = b
	d.catalog = catalog
	d.channels = codec.Channels
	d.history = NewHistory(historyChunks(d.cfg.History, b.chunkSize(), d.cfg.SampleRate))

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.initialized.Store(true)
	go d.run(runCtx)

	slog.Info("wake word detector initialized",
		"backend", string(d.cfg.Backend),
		"format", codec.InputFormat(),
		"catalog", []string(catalog),
		"feed_size", d.GetFeedSize(),
		"history_chunks", d.history.Cap(),
	)
	return nil
}

// historyChunks is the number of chunks covering window of audio.
func historyChunks(window time.Duration, chunk, rate int) int {
	chunkMs := max(chunk*1000/max(rate, 1), 1)
	return int(window.Milliseconds()) / chunkMs
}

// Initialized reports whether Initialize succeeded.
func (d *Detector) Initialized() bool {
	return d.initialized.Load()
}

// OnWakeWordDetected registers the detection callback. A later registration
// replaces the earlier one.
func (d *Detector) OnWakeWordDetected(cb func(word string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = cb
}

// StartDetection arms the detector.
func (d *Detector) StartDetection() {
	d.armed.Store(true)
	select {
	case d.armCh <- struct{}{}:
	default:
	}
}

// StopDetection disarms the detector and discards buffered engine input.
func (d *Detector) StopDetection() {
	d.armed.Store(false)
	if d.initialized.Load() {
		d.backend.reset()
	}
}

// IsDetectionRunning reports whether the detector is armed.
func (d *Detector) IsDetectionRunning() bool {
	return d.armed.Load()
}

// GetFeedSize returns the number of interleaved samples Feed expects, or 0
// before initialisation.
func (d *Detector) GetFeedSize() int {
	if !d.initialized.Load() {
		return 0
	}
	return d.backend.feedSize() * d.channels
}

// Feed hands one block of interleaved PCM to the engine. It is a no-op
// before initialisation or while disarmed.
func (d *Detector) Feed(pcm []int16) {
	if !d.initialized.Load() || !d.armed.Load() {
		return
	}
	d.backend.feed(pcm)
}

// LastDetectedWakeWord returns the phrase of the most recent detection.
func (d *Detector) LastDetectedWakeWord() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Catalog returns the phrase catalog. Empty before initialisation.
func (d *Detector) Catalog() Catalog {
	return d.catalog
}

// History returns the processed-audio history.
func (d *Detector) History() *History {
	return d.history
}

// SampleRate returns the detector's input rate.
func (d *Detector) SampleRate() int {
	return d.cfg.SampleRate
}

// Close stops the detection goroutine and releases the engine.
func (d *Detector) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.initMu.Lock()
		defer d.initMu.Unlock()
		d.armed.Store(false)
		if !d.initialized.Load() {
			return
		}
		d.cancel()
		<-d.done
		err = d.backend.close()
	})
	return err
}

// run is the detection goroutine.
func (d *Detector) run(ctx context.Context) {
	defer close(d.done)
	for {
		if !d.waitArmed(ctx) {
			return
		}
		chunk, index, err := d.backend.next(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if !errors.Is(err, acoustic.ErrNoResult) {
				slog.Debug("wakeword: engine returned error", "err", err)
			}
			continue
		}
		if chunk != nil {
			d.history.Append(chunk)
		}
		if index == 0 {
			continue
		}
		// Only the transition from armed to disarmed reports; a detection that
		// races with StopDetection is dropped.
		if !d.armed.CompareAndSwap(true, false) {
			continue
		}
		d.backend.reset()
		d.report(d.catalog.resolveLogged(index))
	}
}

func (d *Detector) waitArmed(ctx context.Context) bool {
	for !d.armed.Load() {
		select {
		case <-ctx.Done():
			return false
		case <-d.armCh:
		}
	}
	return true
}

func (d *Detector) report(word string) {
	d.mu.Lock()
	d.last = word
	cb := d.callback
	d.mu.Unlock()

	slog.Info("wake word detected", "word", word)
	if cb != nil {
		cb(word)
	}
}
