package wakeword

import (
	"context"
	"log/slog"

	"github.com/MrWong99/wakecore/pkg/acoustic"
	"github.com/MrWong99/wakecore/pkg/audio"
)

// backend is one engine discipline.
type backend interface {
	// feedSize is the number of samples per channel Feed expects.
	feedSize() int

	// chunkSize is the number of mono samples per processed chunk.
	chunkSize() int

	feed(pcm []int16)

	// next blocks for the next processed chunk. index is the 1-based catalog
	// position of a detected phrase, or 0. chunk is the audio to keep in the
	// history; it is nil for disciplines that keep none.
	next(ctx context.Context) (chunk []int16, index int, err error)

	reset()
	close() error
}

// ── pipeline ────────────────────────────────────────────────────────────────

type pipelineBackend struct {
	p acoustic.Pipeline
}

func newPipelineBackend(provider acoustic.Provider, cfg acoustic.PipelineConfig) (*pipelineBackend, error) {
	p, err := provider.NewPipeline(cfg)
	if err != nil {
		return nil, err
	}
	return &pipelineBackend{p: p}, nil
}

func (b *pipelineBackend) feedSize() int  { return b.p.FeedChunkSize() }
func (b *pipelineBackend) chunkSize() int { return b.p.FetchChunkSize() }

func (b *pipelineBackend) feed(pcm []int16) {
	if err := b.p.Feed(pcm); err != nil {
		slog.Debug("wakeword: pipeline feed failed", "err", err)
	}
}

func (b *pipelineBackend) next(ctx context.Context) ([]int16, int, error) {
	res, err := b.p.Fetch(ctx)
	if err != nil {
		return nil, 0, err
	}
	if res == nil {
		return nil, 0, acoustic.ErrNoResult
	}
	if !res.Detected {
		return res.Data, 0, nil
	}
	return res.Data, res.WordIndex, nil
}

func (b *pipelineBackend) reset()       { b.p.ResetBuffer() }
func (b *pipelineBackend) close() error { return b.p.Close() }

// ── direct ──────────────────────────────────────────────────────────────────

// directBackend hands chunks from Feed to the detection goroutine through a
// single slot. A chunk that has not been picked up yet is replaced by the
// newer one.
type directBackend struct {
	d        acoustic.Direct
	channels int
	offset   int
	ready    chan []int16
}

func newDirectBackend(provider acoustic.Provider, model acoustic.ModelInfo, rate, channels, offset int) (*directBackend, error) {
	d, err := provider.NewDirect(model, rate)
	if err != nil {
		return nil, err
	}
	return &directBackend{
		d:        d,
		channels: channels,
		offset:   offset,
		ready:    make(chan []int16, 1),
	}, nil
}

func (b *directBackend) feedSize() int  { return b.d.ChunkSize() }
func (b *directBackend) chunkSize() int { return b.d.ChunkSize() }

func (b *directBackend) feed(pcm []int16) {
	var mono []int16
	if b.channels > 1 {
		mono = audio.Channel(pcm, b.channels, 0)
	} else {
		mono = make([]int16, len(pcm))
		copy(mono, pcm)
	}
	for {
		select {
		case b.ready <- mono:
			return
		default:
		}
		select {
		case <-b.ready:
		default:
		}
	}
}

func (b *directBackend) next(ctx context.Context) ([]int16, int, error) {
	var chunk []int16
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case chunk = <-b.ready:
	}
	// The direct discipline keeps no history.
	idx, err := b.d.Detect(chunk)
	if err != nil {
		return nil, 0, err
	}
	if idx <= 0 {
		return nil, 0, nil
	}
	return nil, b.offset + idx, nil
}

func (b *directBackend) reset() {
	select {
	case <-b.ready:
	default:
	}
}

func (b *directBackend) close() error {
	return b.d.Close()
}
