// Package mock provides test doubles for the acoustic package interfaces.
//
// Use Provider to control which models are advertised and to capture the
// configuration the detector builds engines with. Use Pipeline to script
// Fetch results and inspect fed audio; use Direct to script Detect results.
//
// Example:
//
//	pipe := mock.NewPipeline(512, 512)
//	prov := &mock.Provider{
//	    ModelsResult:   []acoustic.ModelInfo{{Name: "wn9_light", WakeWords: "hello_light"}},
//	    PipelineResult: pipe,
//	}
//	pipe.Push(&acoustic.FetchResult{Data: make([]int16, 512), Detected: true, WordIndex: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wakecore/pkg/acoustic"
)

// ─── Provider ─────────────────────────────────────────────────────────────────

// NewDirectCall records a single invocation of Provider.NewDirect.
type NewDirectCall struct {
	Model      acoustic.ModelInfo
	SampleRate int
}

// Provider is a mock implementation of acoustic.Provider.
type Provider struct {
	mu sync.Mutex

	// ModelsResult is returned by Models.
	ModelsResult []acoustic.ModelInfo

	// PipelineResult is returned by NewPipeline. If nil a default Pipeline
	// with 512-sample chunks is created.
	PipelineResult *Pipeline

	// DirectResult is returned by NewDirect. If nil a default Direct with
	// 512-sample chunks is created.
	DirectResult *Direct

	// NewPipelineErr, if non-nil, is returned by NewPipeline.
	NewPipelineErr error

	// NewDirectErr, if non-nil, is returned by NewDirect.
	NewDirectErr error

	// NewPipelineCalls records every config passed to NewPipeline.
	NewPipelineCalls []acoustic.PipelineConfig

	// NewDirectCalls records every call to NewDirect.
	NewDirectCalls []NewDirectCall
}

// Models returns ModelsResult.
func (p *Provider) Models() []acoustic.ModelInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelsResult
}

// NewPipeline records cfg and returns PipelineResult, NewPipelineErr.
func (p *Provider) NewPipeline(cfg acoustic.PipelineConfig) (acoustic.Pipeline, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NewPipelineCalls = append(p.NewPipelineCalls, cfg)
	if p.NewPipelineErr != nil {
		return nil, p.NewPipelineErr
	}
	if p.PipelineResult == nil {
		p.PipelineResult = NewPipeline(512, 512)
	}
	return p.PipelineResult, nil
}

// NewDirect records the call and returns DirectResult, NewDirectErr.
func (p *Provider) NewDirect(model acoustic.ModelInfo, sampleRate int) (acoustic.Direct, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NewDirectCalls = append(p.NewDirectCalls, NewDirectCall{Model: model, SampleRate: sampleRate})
	if p.NewDirectErr != nil {
		return nil, p.NewDirectErr
	}
	if p.DirectResult == nil {
		p.DirectResult = &Direct{Chunk: 512}
	}
	return p.DirectResult, nil
}

var _ acoustic.Provider = (*Provider)(nil)

// ─── Pipeline ─────────────────────────────────────────────────────────────────

// Pipeline is a mock implementation of acoustic.Pipeline. Fetch returns the
// results queued with Push in order and blocks while none are queued.
type Pipeline struct {
	mu sync.Mutex

	feedChunk  int
	fetchChunk int
	results    chan *acoustic.FetchResult

	// FeedErr, if non-nil, is returned by Feed.
	FeedErr error

	// Fed holds a copy of every buffer passed to Feed.
	Fed [][]int16

	// ResetCount records how many times ResetBuffer was called.
	ResetCount int

	// Closed records whether Close was called.
	Closed bool
}

// NewPipeline returns a Pipeline with the given chunk sizes.
func NewPipeline(feedChunk, fetchChunk int) *Pipeline {
	return &Pipeline{
		feedChunk:  feedChunk,
		fetchChunk: fetchChunk,
		results:    make(chan *acoustic.FetchResult, 1024),
	}
}

// Push queues r for a later Fetch. A nil r makes Fetch return (nil, nil).
func (p *Pipeline) Push(r *acoustic.FetchResult) {
	p.results <- r
}

// FeedChunkSize returns the configured feed chunk.
func (p *Pipeline) FeedChunkSize() int { return p.feedChunk }

// FetchChunkSize returns the configured fetch chunk.
func (p *Pipeline) FetchChunkSize() int { return p.fetchChunk }

// Feed records a copy of pcm and returns FeedErr.
func (p *Pipeline) Feed(pcm []int16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fed = append(p.Fed, append([]int16(nil), pcm...))
	return p.FeedErr
}

// Fetch returns the next pushed result, blocking until one is available or
// ctx is done.
func (p *Pipeline) Fetch(ctx context.Context) (*acoustic.FetchResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-p.results:
		return r, nil
	}
}

// ResetBuffer increments ResetCount.
func (p *Pipeline) ResetBuffer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ResetCount++
}

// Close sets Closed.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// FeedCount returns how many buffers were fed. Thread-safe.
func (p *Pipeline) FeedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Fed)
}

// Resets returns ResetCount. Thread-safe.
func (p *Pipeline) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ResetCount
}

var _ acoustic.Pipeline = (*Pipeline)(nil)

// ─── Direct ───────────────────────────────────────────────────────────────────

// Direct is a mock implementation of acoustic.Direct.
type Direct struct {
	mu sync.Mutex

	// Chunk is returned by ChunkSize.
	Chunk int

	// DetectFunc, if set, computes the Detect result. Otherwise Detect
	// returns 0.
	DetectFunc func(pcm []int16) (int, error)

	// Detected holds a copy of every chunk passed to Detect.
	Detected [][]int16

	// Closed records whether Close was called.
	Closed bool
}

// ChunkSize returns Chunk.
func (d *Direct) ChunkSize() int { return d.Chunk }

// Detect records pcm and delegates to DetectFunc.
func (d *Direct) Detect(pcm []int16) (int, error) {
	d.mu.Lock()
	d.Detected = append(d.Detected, append([]int16(nil), pcm...))
	fn := d.DetectFunc
	d.mu.Unlock()
	if fn == nil {
		return 0, nil
	}
	return fn(pcm)
}

// Close sets Closed.
func (d *Direct) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}

// DetectCount returns how many chunks were scored. Thread-safe.
func (d *Direct) DetectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Detected)
}

var _ acoustic.Direct = (*Direct)(nil)
