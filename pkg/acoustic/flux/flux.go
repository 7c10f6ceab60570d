// Package flux is a lightweight acoustic engine that triggers on sustained
// voiced onsets.
//
// It does not recognise words. A trigger fires when a chunk's spectral flux
// jumps by at least FluxRatio over the previous chunk while its RMS energy is
// above Threshold, and the energy then stays above Threshold for Hold
// consecutive chunks. After a trigger the engine stays latched until energy
// falls below half the threshold. The reported phrase is configurable, which
// makes the engine useful for demos and bench tests of the detection path.
package flux

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"slices"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/MrWong99/wakecore/pkg/acoustic"
	"github.com/MrWong99/wakecore/pkg/audio"
)

// Defaults.
const (
	DefaultChunkSize = 512
	DefaultThreshold = 0.05
	DefaultFluxRatio = 1.75
	DefaultHold      = 3
	DefaultModelName = "wn9_flux"
	DefaultWakeWords = "hi_light"

	// pipelineDepth bounds how many processed chunks wait for Fetch.
	pipelineDepth = 64

	fluxFloor = 1e-6
)

// Config tunes the trigger.
type Config struct {
	// ModelName is the advertised wake-net model name.
	ModelName string

	// WakeWords is the semicolon-delimited phrase list of the model.
	WakeWords string

	// Word is the phrase reported on a trigger. Defaults to the first phrase.
	Word string

	// ChunkSize is the analysis window in samples.
	ChunkSize int

	// Threshold is the RMS level (0–1, full scale = 1) treated as voiced.
	Threshold float64

	// FluxRatio is the minimum chunk-to-chunk spectral-flux growth that marks
	// an onset.
	FluxRatio float64

	// Hold is the number of consecutive voiced chunks that fire a trigger.
	Hold int
}

func (c *Config) applyDefaults() {
	if c.ModelName == "" {
		c.ModelName = DefaultModelName
	}
	if c.WakeWords == "" {
		c.WakeWords = DefaultWakeWords
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.FluxRatio <= 0 {
		c.FluxRatio = DefaultFluxRatio
	}
	if c.Hold <= 0 {
		c.Hold = DefaultHold
	}
}

// Engine is an [acoustic.Provider].
type Engine struct {
	cfg   Config
	model acoustic.ModelInfo
}

// New creates an engine advertising a single wake-net model.
func New(cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	model := acoustic.ModelInfo{Name: cfg.ModelName, WakeWords: cfg.WakeWords}
	phrases := model.Phrases()
	if len(phrases) == 0 {
		return nil, errors.New("flux: no wake words configured")
	}
	if cfg.Word == "" {
		cfg.Word = phrases[0]
	}
	if !slices.Contains(phrases, cfg.Word) {
		return nil, fmt.Errorf("flux: word %q is not one of %q", cfg.Word, cfg.WakeWords)
	}
	return &Engine{cfg: cfg, model: model}, nil
}

// Models returns the single advertised model.
func (e *Engine) Models() []acoustic.ModelInfo {
	return []acoustic.ModelInfo{e.model}
}

// NewPipeline builds a streaming pipeline. The first microphone channel is
// analysed; reference channels are discarded.
func (e *Engine) NewPipeline(cfg acoustic.PipelineConfig) (acoustic.Pipeline, error) {
	if cfg.InputFormat == "" {
		cfg.InputFormat = "M"
	}
	if cfg.InputFormat[0] != 'M' {
		return nil, fmt.Errorf("flux: input format %q has no leading microphone channel", cfg.InputFormat)
	}

	// The reported index is relative to the catalog of all loaded models.
	var catalog []string
	for _, m := range cfg.Models {
		catalog = append(catalog, m.Phrases()...)
	}
	index := slices.Index(catalog, e.cfg.Word) + 1
	if index == 0 {
		return nil, fmt.Errorf("flux: word %q not in loaded models", e.cfg.Word)
	}

	return &pipeline{
		channels: len(cfg.InputFormat),
		index:    index,
		sc:       newScorer(e.cfg),
		out:      make(chan *acoustic.FetchResult, pipelineDepth),
		done:     make(chan struct{}),
	}, nil
}

// NewDirect builds a direct detector on model.
func (e *Engine) NewDirect(model acoustic.ModelInfo, sampleRate int) (acoustic.Direct, error) {
	index := slices.Index(model.Phrases(), e.cfg.Word) + 1
	if index == 0 {
		return nil, fmt.Errorf("flux: word %q not in model %s", e.cfg.Word, model.Name)
	}
	return &direct{index: index, sc: newScorer(e.cfg)}, nil
}

// ── scorer ──────────────────────────────────────────────────────────────────

type phase int

const (
	quiet phase = iota
	voiced
	latched
)

// scorer holds the onset state machine. Not safe for concurrent use.
type scorer struct {
	cfg      Config
	win      []float64
	prevMag  []float64
	lastFlux float64
	phase    phase
	count    int
}

func newScorer(cfg Config) *scorer {
	return &scorer{
		cfg: cfg,
		win: window.Hann(cfg.ChunkSize),
	}
}

// score analyses one mono chunk and reports whether a trigger fired.
func (s *scorer) score(pcm []int16) bool {
	rms, flux := s.measure(pcm)
	onset := flux > fluxFloor && flux >= s.lastFlux*s.cfg.FluxRatio
	s.lastFlux = flux

	switch s.phase {
	case quiet:
		if rms >= s.cfg.Threshold && onset {
			s.phase = voiced
			s.count = 1
		}
	case voiced:
		if rms < s.cfg.Threshold {
			s.phase = quiet
			s.count = 0
			break
		}
		s.count++
	case latched:
		if rms < s.cfg.Threshold/2 {
			s.phase = quiet
		}
		return false
	}

	if s.phase == voiced && s.count >= s.cfg.Hold {
		s.phase = latched
		s.count = 0
		return true
	}
	return false
}

// measure returns the RMS level and the spectral flux against the previous
// chunk. Short chunks are zero padded to the analysis window.
func (s *scorer) measure(pcm []int16) (rms, flux float64) {
	n := s.cfg.ChunkSize
	x := make([]float64, n)
	var sum float64
	for i := 0; i < n && i < len(pcm); i++ {
		v := float64(pcm[i]) / 32768
		sum += v * v
		x[i] = v * s.win[i]
	}
	if len(pcm) > 0 {
		rms = math.Sqrt(sum / float64(min(len(pcm), n)))
	}

	spectrum := fft.FFTReal(x)
	bins := n/2 + 1
	mag := make([]float64, bins)
	for i := range bins {
		mag[i] = cmplx.Abs(spectrum[i])
	}
	if s.prevMag != nil {
		for i := range bins {
			if d := mag[i] - s.prevMag[i]; d > 0 {
				flux += d
			}
		}
	}
	s.prevMag = mag
	return rms, flux
}

func (s *scorer) reset() {
	s.prevMag = nil
	s.lastFlux = 0
	s.phase = quiet
	s.count = 0
}

// ── pipeline ────────────────────────────────────────────────────────────────

type pipeline struct {
	channels int
	index    int

	mu     sync.Mutex
	sc     *scorer
	out    chan *acoustic.FetchResult
	done   chan struct{}
	closed bool
}

func (p *pipeline) FeedChunkSize() int  { return p.sc.cfg.ChunkSize }
func (p *pipeline) FetchChunkSize() int { return p.sc.cfg.ChunkSize }

// Feed analyses one interleaved chunk. When the output queue is full the
// oldest processed chunk is dropped.
func (p *pipeline) Feed(pcm []int16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("flux: pipeline closed")
	}

	var mono []int16
	if p.channels == 1 {
		mono = slices.Clone(pcm)
	} else {
		mono = audio.Channel(pcm, p.channels, 0)
	}
	res := &acoustic.FetchResult{Data: mono}
	if p.sc.score(mono) {
		res.Detected = true
		res.WordIndex = p.index
	}

	for {
		select {
		case p.out <- res:
			return nil
		default:
		}
		select {
		case <-p.out:
		default:
		}
	}
}

func (p *pipeline) Fetch(ctx context.Context) (*acoustic.FetchResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, acoustic.ErrNoResult
	case r := <-p.out:
		return r, nil
	}
}

func (p *pipeline) ResetBuffer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sc.reset()
	for {
		select {
		case <-p.out:
		default:
			return
		}
	}
}

func (p *pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

// ── direct ──────────────────────────────────────────────────────────────────

type direct struct {
	index int

	mu sync.Mutex
	sc *scorer
}

func (d *direct) ChunkSize() int { return d.sc.cfg.ChunkSize }

func (d *direct) Detect(pcm []int16) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sc.score(pcm) {
		return d.index, nil
	}
	return 0, nil
}

func (d *direct) Close() error { return nil }

var (
	_ acoustic.Provider = (*Engine)(nil)
	_ acoustic.Pipeline = (*pipeline)(nil)
	_ acoustic.Direct   = (*direct)(nil)
)
