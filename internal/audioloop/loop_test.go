package audioloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/wakecore/internal/observe"
	"github.com/MrWong99/wakecore/internal/resilience"
	"github.com/MrWong99/wakecore/pkg/audio/mock"
	"github.com/MrWong99/wakecore/pkg/devstate"
)

type fakeDetector struct {
	mu       sync.Mutex
	armed    bool
	feedSize int
	fed      [][]int16
}

func (d *fakeDetector) IsDetectionRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

func (d *fakeDetector) GetFeedSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.feedSize
}

func (d *fakeDetector) Feed(pcm []int16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fed = append(d.fed, append([]int16(nil), pcm...))
}

func (d *fakeDetector) feeds() [][]int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fed
}

type fixedState struct{ s atomic.Int32 }

func (f *fixedState) State() devstate.State { return devstate.State(f.s.Load()) }
func (f *fixedState) set(s devstate.State)  { f.s.Store(int32(s)) }

func stateOf(s devstate.State) *fixedState {
	f := &fixedState{}
	f.set(s)
	return f
}

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func newLoop(t *testing.T, codec *mock.Codec, det Detector, st StateSource, cfg Config) *Loop {
	t.Helper()
	met, _ := testMetrics(t)
	return New(codec, det, st, cfg, WithMetrics(met))
}

func TestStep_FeedsArmedDetector(t *testing.T) {
	t.Parallel()
	codec := &mock.Codec{Source: func(buf []int16) {
		for i := range buf {
			buf[i] = int16(i)
		}
	}}
	det := &fakeDetector{armed: true, feedSize: 1024}
	l := newLoop(t, codec, det, stateOf(devstate.Idle), Config{})

	if !l.Step(context.Background()) {
		t.Fatal("Step reported no capture")
	}
	feeds := det.feeds()
	if len(feeds) != 1 || len(feeds[0]) != 1024 {
		t.Fatalf("feeds = %d blocks, want one of 1024", len(feeds))
	}
	if feeds[0][1023] != 1023 {
		t.Errorf("fed data altered: last sample %d", feeds[0][1023])
	}
	if l.DemoBufferLen() != 0 {
		t.Errorf("demo buffer filled outside listening: %d", l.DemoBufferLen())
	}
}

func TestStep_DisarmedDetectorNotFed(t *testing.T) {
	t.Parallel()
	codec := &mock.Codec{}
	det := &fakeDetector{armed: false, feedSize: 1024}
	l := newLoop(t, codec, det, stateOf(devstate.Idle), Config{})

	if l.Step(context.Background()) {
		t.Error("Step reported capture with nothing to do")
	}
	if codec.InputCallCount() != 0 {
		t.Errorf("codec read %d times while idle", codec.InputCallCount())
	}
	if len(det.feeds()) != 0 {
		t.Error("disarmed detector was fed")
	}
}

func TestStep_ResizesToDetectorRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		rate      int
		channels  int
		feedSize  int
		wantInput int
	}{
		{"48k mono", 48000, 1, 512, 1536},
		{"44.1k mono", 44100, 1, 512, 1411},
		{"24k stereo", 24000, 2, 1024, 1536},
		{"16k passthrough", 16000, 2, 1024, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			codec := &mock.Codec{InputRate: tt.rate, Channels: tt.channels}
			det := &fakeDetector{armed: true, feedSize: tt.feedSize}
			l := newLoop(t, codec, det, stateOf(devstate.Idle), Config{DetectorSampleRate: 16000})

			l.Step(context.Background())
			if got := codec.InputCalls; len(got) != 1 || got[0] != tt.wantInput {
				t.Errorf("InputData sizes = %v, want [%d]", got, tt.wantInput)
			}
			feeds := det.feeds()
			if len(feeds) != 1 || len(feeds[0]) != tt.feedSize {
				t.Errorf("fed %d blocks, want one of %d samples", len(feeds), tt.feedSize)
			}
		})
	}
}

func TestStep_ListeningCapturesFrameWhenNotFeeding(t *testing.T) {
	t.Parallel()
	codec := &mock.Codec{}
	l := newLoop(t, codec, &fakeDetector{}, stateOf(devstate.Listening), Config{})

	if !l.Step(context.Background()) {
		t.Fatal("listening step reported no capture")
	}
	if got := codec.InputCalls; len(got) != 1 || got[0] != 480 {
		t.Errorf("InputData sizes = %v, want [480]", got)
	}
	if l.DemoBufferLen() != 480 {
		t.Errorf("demo buffer = %d samples, want 480", l.DemoBufferLen())
	}
}

func TestStep_ListeningReusesFedAudio(t *testing.T) {
	t.Parallel()
	codec := &mock.Codec{Channels: 2}
	det := &fakeDetector{armed: true, feedSize: 1024}
	l := newLoop(t, codec, det, stateOf(devstate.Listening), Config{})

	l.Step(context.Background())
	if codec.InputCallCount() != 1 {
		t.Errorf("codec read %d times, want 1", codec.InputCallCount())
	}
	// Only the first microphone channel is kept.
	if l.DemoBufferLen() != 512 {
		t.Errorf("demo buffer = %d samples, want 512", l.DemoBufferLen())
	}
}

func TestStep_DemoBufferLimit(t *testing.T) {
	t.Parallel()
	codec := &mock.Codec{}
	l := newLoop(t, codec, nil, stateOf(devstate.Listening), Config{DemoBufferLimitBytes: 1000})

	for range 3 {
		l.Step(context.Background())
	}
	if l.DemoBufferLen() != 500 {
		t.Errorf("demo buffer = %d samples, want 500", l.DemoBufferLen())
	}
}

func TestStep_SpeakingPlaysAndClearsBuffer(t *testing.T) {
	t.Parallel()
	codec := &mock.Codec{}
	codec.EnableOutput(true)
	st := stateOf(devstate.Listening)
	l := newLoop(t, codec, nil, st, Config{})

	l.Step(context.Background())
	l.Step(context.Background())
	st.set(devstate.Speaking)
	l.Step(context.Background())

	if len(codec.Written) != 1 || len(codec.Written[0]) != 960 {
		t.Fatalf("written = %d buffers, want one of 960 samples", len(codec.Written))
	}
	if l.DemoBufferLen() != 0 {
		t.Errorf("demo buffer not cleared: %d", l.DemoBufferLen())
	}

	l.Step(context.Background())
	if len(codec.Written) != 1 {
		t.Error("empty buffer was written again")
	}
}

func TestStep_OutputDisabledKeepsBuffer(t *testing.T) {
	t.Parallel()
	codec := &mock.Codec{}
	st := stateOf(devstate.Listening)
	l := newLoop(t, codec, nil, st, Config{})

	l.Step(context.Background())
	st.set(devstate.Speaking)
	l.Step(context.Background())

	if len(codec.Written) != 0 {
		t.Error("wrote while output disabled")
	}
	if l.DemoBufferLen() != 480 {
		t.Errorf("demo buffer = %d, want 480", l.DemoBufferLen())
	}
}

func TestStep_ResamplesDemoToOutputRate(t *testing.T) {
	t.Parallel()
	codec := &mock.Codec{InputRate: 16000, OutputRate: 24000}
	l := newLoop(t, codec, nil, stateOf(devstate.Listening), Config{})

	l.Step(context.Background())
	if l.DemoBufferLen() != 720 {
		t.Errorf("demo buffer = %d samples, want 720", l.DemoBufferLen())
	}
}

func TestStep_CodecErrorsOpenBreaker(t *testing.T) {
	t.Parallel()
	met, reader := testMetrics(t)
	codec := &mock.Codec{InputErr: errors.New("i2s underrun")}
	det := &fakeDetector{armed: true, feedSize: 512}
	l := New(codec, det, stateOf(devstate.Idle), Config{
		Breaker: resilience.CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour},
	}, WithMetrics(met))

	for range 10 {
		if l.Step(context.Background()) {
			t.Fatal("failed read reported as capture")
		}
	}
	if codec.InputCallCount() != 3 {
		t.Errorf("codec read %d times, want 3 before the breaker opened", codec.InputCallCount())
	}
	if l.Breaker().State() != resilience.StateOpen {
		t.Errorf("breaker state = %v, want open", l.Breaker().State())
	}
	if len(det.feeds()) != 0 {
		t.Error("detector fed after failed read")
	}
	if got := counterTotal(t, reader, "wakecore.audio.codec_errors"); got != 3 {
		t.Errorf("codec errors = %d, want 3", got)
	}
}

func TestStep_RecordsSampleCounters(t *testing.T) {
	t.Parallel()
	met, reader := testMetrics(t)
	codec := &mock.Codec{}
	det := &fakeDetector{armed: true, feedSize: 512}
	l := New(codec, det, stateOf(devstate.Idle), Config{}, WithMetrics(met))

	l.Step(context.Background())
	l.Step(context.Background())
	if got := counterTotal(t, reader, "wakecore.audio.samples"); got != 1024 {
		t.Errorf("samples = %d, want 1024", got)
	}
}

func TestRun_SleepsWhenIdleAndStopsOnCancel(t *testing.T) {
	t.Parallel()
	codec := &mock.Codec{}
	ctx, cancel := context.WithCancel(context.Background())

	var sleeps atomic.Int32
	met, _ := testMetrics(t)
	l := New(codec, &fakeDetector{}, stateOf(devstate.Idle), Config{IdleDelay: 5 * time.Millisecond},
		WithMetrics(met),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			if d != 5*time.Millisecond {
				t.Errorf("idle delay = %v, want 5ms", d)
			}
			if sleeps.Add(1) == 3 {
				cancel()
			}
			return ctx.Err()
		}),
	)

	err := l.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run err = %v, want context.Canceled", err)
	}
	if sleeps.Load() != 3 {
		t.Errorf("slept %d times, want 3", sleeps.Load())
	}
}

func TestRun_RealSleepHonoursCancel(t *testing.T) {
	t.Parallel()
	met, _ := testMetrics(t)
	l := New(&mock.Codec{}, nil, stateOf(devstate.Idle), Config{IdleDelay: time.Hour}, WithMetrics(met))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Run err = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestFitLength(t *testing.T) {
	t.Parallel()
	got := fitLength([]int16{1, 2, 3, 4}, 6, 2)
	want := []int16{1, 2, 3, 4, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fitLength = %v, want %v", got, want)
		}
	}
	if n := len(fitLength([]int16{1, 2, 3}, 2, 1)); n != 2 {
		t.Errorf("truncated length = %d, want 2", n)
	}
}
