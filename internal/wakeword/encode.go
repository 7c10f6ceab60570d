package wakeword

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"layeh.com/gopus"
)

// maxOpusPacket is the largest Opus packet we accept from the encoder.
const maxOpusPacket = 1500

// Runner executes work off the caller's goroutine.
type Runner interface {
	Schedule(fn func())
}

// EncodedClip is the Opus encoding of the wake-word history, produced
// asynchronously by [Detector.EncodeWakeWordData].
type EncodedClip struct {
	packets  chan []byte
	errc     chan error
	err      error
	finished bool
}

// Next returns the next Opus packet. ok is false once every packet has been
// returned, when encoding failed (see [EncodedClip.Err]) or when ctx is done.
// A clip has a single consumer.
func (c *EncodedClip) Next(ctx context.Context) (packet []byte, ok bool) {
	if c.finished {
		return nil, false
	}
	select {
	case <-ctx.Done():
		return nil, false
	case p, open := <-c.packets:
		if !open {
			c.err = <-c.errc
			c.finished = true
			return nil, false
		}
		return p, true
	}
}

// Err returns the encoding error, if any. Only meaningful after Next
// returned false.
func (c *EncodedClip) Err() error {
	return c.err
}

// EncodeWakeWordData drains the history and encodes it as mono Opus on
// runner. Packets become available through the returned clip as they are
// produced; the history is empty afterwards.
func (d *Detector) EncodeWakeWordData(runner Runner) *EncodedClip {
	chunks := d.history.Drain()
	rate := d.cfg.SampleRate
	frame := int(int64(rate) * d.cfg.OpusFrame.Milliseconds() / 1000)

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	frames := 0
	if frame > 0 {
		frames = (total + frame - 1) / frame
	}

	clip := &EncodedClip{
		packets: make(chan []byte, frames),
		errc:    make(chan error, 1),
	}

	runner.Schedule(func() {
		start := time.Now()
		n, err := encodeOpus(chunks, rate, frame, clip.packets)
		close(clip.packets)
		clip.errc <- err

		elapsed := time.Since(start)
		d.metrics.EncodeDuration.Record(context.Background(), elapsed.Seconds())
		if err != nil {
			slog.Error("wakeword: encode history failed", "err", err)
			return
		}
		slog.Info("wake word audio encoded",
			"packets", n,
			"samples", total,
			"elapsed_ms", elapsed.Milliseconds(),
		)
	})
	return clip
}

// encodeOpus encodes the concatenated chunks in frame-sized pieces, padding
// the final frame with silence. out must have room for every packet.
func encodeOpus(chunks [][]int16, rate, frame int, out chan<- []byte) (int, error) {
	if frame <= 0 {
		return 0, fmt.Errorf("wakeword: invalid opus frame size %d", frame)
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return 0, nil
	}

	enc, err := gopus.NewEncoder(rate, 1, gopus.Voip)
	if err != nil {
		return 0, fmt.Errorf("wakeword: create opus encoder: %w", err)
	}

	pcm := make([]int16, 0, total)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}

	buf := make([]int16, frame)
	n := 0
	for off := 0; off < len(pcm); off += frame {
		k := copy(buf, pcm[off:])
		clear(buf[k:])
		packet, err := enc.Encode(buf, frame, maxOpusPacket)
		if err != nil {
			return n, fmt.Errorf("wakeword: opus encode: %w", err)
		}
		out <- packet
		n++
	}
	return n, nil
}
