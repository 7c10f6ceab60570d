package flux

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/wakecore/pkg/acoustic"
)

func tone(n int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * 32767 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func silence(n int) []int16 { return make([]int16, n) }

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{WakeWords: ";;"}); err == nil {
		t.Error("expected error for empty phrase list")
	}
	if _, err := New(Config{WakeWords: "a;b", Word: "c"}); err == nil {
		t.Error("expected error for unknown word")
	}
	e, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	models := e.Models()
	if len(models) != 1 || models[0].Name != DefaultModelName || models[0].WakeWords != DefaultWakeWords {
		t.Errorf("Models() = %+v", models)
	}
}

func TestScorer_TriggersOnSustainedOnset(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.applyDefaults()
	s := newScorer(cfg)

	var fired []int
	seq := [][]int16{
		silence(512), silence(512),
		tone(512, 0.5), tone(512, 0.5), tone(512, 0.5), tone(512, 0.5), tone(512, 0.5),
		silence(512),
		tone(512, 0.5), tone(512, 0.5), tone(512, 0.5),
	}
	for i, chunk := range seq {
		if s.score(chunk) {
			fired = append(fired, i)
		}
	}

	want := []int{4, 10}
	if len(fired) != len(want) {
		t.Fatalf("fired at %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("fired at %v, want %v", fired, want)
		}
	}
}

func TestScorer_ShortBurstDoesNotTrigger(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.applyDefaults()
	s := newScorer(cfg)

	for _, chunk := range [][]int16{silence(512), tone(512, 0.5), tone(512, 0.5), silence(512), silence(512)} {
		if s.score(chunk) {
			t.Fatal("two voiced chunks must not trigger with Hold=3")
		}
	}
}

func TestScorer_QuietToneIgnored(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.applyDefaults()
	s := newScorer(cfg)

	for range 10 {
		if s.score(tone(512, 0.01)) {
			t.Fatal("tone below threshold triggered")
		}
	}
}

func TestPipeline_ReportsCatalogIndex(t *testing.T) {
	t.Parallel()

	e, err := New(Config{WakeWords: "hi_light;hello_light", Word: "hello_light"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	models := append([]acoustic.ModelInfo{{Name: "wn9_other", WakeWords: "other_word"}}, e.Models()...)
	p, err := e.NewPipeline(acoustic.PipelineConfig{InputFormat: "MR", Models: models, AEC: true, SampleRate: 16000})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	defer p.Close()

	// Interleave a loud mic channel with a silent reference.
	stereo := func(mic []int16) []int16 {
		out := make([]int16, len(mic)*2)
		for i, v := range mic {
			out[i*2] = v
		}
		return out
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	chunks := [][]int16{silence(512), tone(512, 0.5), tone(512, 0.5), tone(512, 0.5)}
	var last *acoustic.FetchResult
	for _, c := range chunks {
		if err := p.Feed(stereo(c)); err != nil {
			t.Fatalf("Feed: %v", err)
		}
		r, err := p.Fetch(ctx)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if len(r.Data) != 512 {
			t.Fatalf("chunk length = %d, want 512", len(r.Data))
		}
		last = r
	}
	if !last.Detected {
		t.Fatal("expected detection on the third voiced chunk")
	}
	// other_word=1, hi_light=2, hello_light=3.
	if last.WordIndex != 3 {
		t.Errorf("WordIndex = %d, want 3", last.WordIndex)
	}
}

func TestPipeline_ResetAndClose(t *testing.T) {
	t.Parallel()

	e, _ := New(Config{})
	p, err := e.NewPipeline(acoustic.PipelineConfig{InputFormat: "M", Models: e.Models()})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	for range 3 {
		_ = p.Feed(silence(512))
	}
	p.ResetBuffer()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Fetch(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Fetch after reset = %v, want DeadlineExceeded", err)
	}

	_ = p.Close()
	if _, err := p.Fetch(context.Background()); !errors.Is(err, acoustic.ErrNoResult) {
		t.Errorf("Fetch after close = %v, want ErrNoResult", err)
	}
	if err := p.Feed(silence(512)); err == nil {
		t.Error("Feed after close should fail")
	}
}

func TestPipeline_RejectsReferenceOnlyFormat(t *testing.T) {
	t.Parallel()

	e, _ := New(Config{})
	if _, err := e.NewPipeline(acoustic.PipelineConfig{InputFormat: "R", Models: e.Models()}); err == nil {
		t.Error("expected error for format without microphone")
	}
}

func TestDirect_ReportsModelIndex(t *testing.T) {
	t.Parallel()

	e, _ := New(Config{WakeWords: "alpha;beta", Word: "beta"})
	d, err := e.NewDirect(e.Models()[0], 16000)
	if err != nil {
		t.Fatalf("NewDirect: %v", err)
	}
	if d.ChunkSize() != DefaultChunkSize {
		t.Errorf("ChunkSize = %d", d.ChunkSize())
	}

	var got int
	for _, c := range [][]int16{silence(512), tone(512, 0.5), tone(512, 0.5), tone(512, 0.5)} {
		idx, err := d.Detect(c)
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if idx != 0 {
			got = idx
		}
	}
	if got != 2 {
		t.Errorf("index = %d, want 2", got)
	}

	if _, err := e.NewDirect(acoustic.ModelInfo{Name: "x", WakeWords: "gamma"}, 16000); err == nil {
		t.Error("expected error for model without the configured word")
	}
}
