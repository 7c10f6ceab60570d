// Package acoustic defines the contract between the wake-word detector and
// the acoustic engine that actually scores audio.
//
// An engine is reached through a [Provider], which exposes the models it
// ships and builds detectors in one of two disciplines:
//
//   - [Pipeline]: a front-end pipeline (echo cancellation, noise
//     suppression, wake-net) that accepts raw interleaved input via Feed and
//     yields processed chunks plus detection results via Fetch.
//   - [Direct]: a bare wake-net model scored one mono chunk at a time.
//
// The model format itself is opaque to this package.
package acoustic

import (
	"context"
	"errors"
	"strings"
)

// ErrNoResult is returned by [Pipeline.Fetch] when no processed chunk is
// available. Callers treat it as "nothing happened".
var ErrNoResult = errors.New("acoustic: no result")

// ModelInfo describes one model shipped by an engine.
type ModelInfo struct {
	// Name identifies the model, e.g. "wn9_hilexin". Wake-net models share a
	// common name prefix.
	Name string

	// WakeWords is the semicolon-delimited list of phrases the model
	// recognises, e.g. "hi_lexin;hello_light". Empty for non-wake-net models.
	WakeWords string
}

// Phrases splits WakeWords on ';', dropping empty entries.
func (m ModelInfo) Phrases() []string {
	var out []string
	for p := range strings.SplitSeq(m.WakeWords, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PipelineConfig configures a [Pipeline].
type PipelineConfig struct {
	// InputFormat describes the interleaved input channels: one 'M' per
	// microphone followed by one 'R' per playback reference, e.g. "MR".
	InputFormat string

	// Models are the wake-net models to load.
	Models []ModelInfo

	// AEC enables acoustic echo cancellation. Only meaningful with a
	// reference channel.
	AEC bool

	// SampleRate of the fed audio in Hz.
	SampleRate int
}

// FetchResult is one processed chunk from a [Pipeline].
type FetchResult struct {
	// Data is the processed mono chunk.
	Data []int16

	// Detected reports whether a wake word ends in this chunk.
	Detected bool

	// WordIndex is the 1-based position of the detected phrase in the
	// catalog built from the loaded models. Zero when nothing was detected.
	WordIndex int
}

// Pipeline is a streaming front-end with wake-net detection.
//
// Feed and Fetch are called from different goroutines; implementations must
// be safe for that.
type Pipeline interface {
	// FeedChunkSize is the number of samples per channel expected by Feed.
	FeedChunkSize() int

	// FetchChunkSize is the number of mono samples produced per Fetch.
	FetchChunkSize() int

	// Feed hands interleaved input of FeedChunkSize frames to the engine.
	Feed(pcm []int16) error

	// Fetch blocks until a processed chunk is ready or ctx is done. It
	// returns [ErrNoResult] when the engine has nothing to report.
	Fetch(ctx context.Context) (*FetchResult, error)

	// ResetBuffer discards buffered input.
	ResetBuffer()

	// Close releases engine resources.
	Close() error
}

// Direct scores mono chunks with a single wake-net model.
type Direct interface {
	// ChunkSize is the number of mono samples per Detect call.
	ChunkSize() int

	// Detect scores one chunk. It returns the 1-based phrase index within the
	// model's own phrase list, or 0 when nothing was detected.
	Detect(pcm []int16) (int, error)

	// Close releases engine resources.
	Close() error
}

// Provider is an acoustic engine.
type Provider interface {
	// Models lists the models the engine ships.
	Models() []ModelInfo

	// NewPipeline builds a front-end pipeline.
	NewPipeline(cfg PipelineConfig) (Pipeline, error)

	// NewDirect builds a direct detector for model.
	NewDirect(model ModelInfo, sampleRate int) (Direct, error)
}
