package heartbeat

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/wakecore/internal/observe"
	"github.com/MrWong99/wakecore/pkg/devstate"
	displaymock "github.com/MrWong99/wakecore/pkg/display/mock"
)

type fakeDevice struct {
	ticks atomic.Int64
	state atomic.Int32
}

func (d *fakeDevice) Tick() int64          { return d.ticks.Add(1) }
func (d *fakeDevice) State() devstate.State { return devstate.State(d.state.Load()) }

type recordingScheduler struct {
	mu    sync.Mutex
	tasks []func()
}

func (s *recordingScheduler) Schedule(task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

func (s *recordingScheduler) runAll() int {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()
	for _, t := range tasks {
		t()
	}
	return len(tasks)
}

type fixedMemory struct{ calls atomic.Int32 }

func (m *fixedMemory) FreeMemory() (int64, int64) {
	m.calls.Add(1)
	return 4096, 1024
}

func newHeartbeat(t *testing.T, state devstate.State) (*Heartbeat, *fakeDevice, *recordingScheduler, *displaymock.Display, *fixedMemory) {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	dev := &fakeDevice{}
	dev.state.Store(int32(state))
	sched := &recordingScheduler{}
	disp := &displaymock.Display{}
	mem := &fixedMemory{}
	clock := time.Date(2026, 3, 1, 9, 7, 0, 0, time.UTC)
	h := New(dev, sched, disp,
		WithMemoryReporter(mem),
		WithMetrics(met),
		WithClock(func() time.Time { return clock }),
	)
	return h, dev, sched, disp, mem
}

func TestOnTick_DiagnosticsEveryTenTicks(t *testing.T) {
	t.Parallel()
	h, dev, _, _, mem := newHeartbeat(t, devstate.Listening)

	for range 9 {
		h.OnTick()
	}
	if mem.calls.Load() != 0 {
		t.Fatalf("memory read after 9 ticks")
	}
	h.OnTick()
	if mem.calls.Load() != 1 {
		t.Fatalf("memory reads = %d after 10 ticks, want 1", mem.calls.Load())
	}
	if dev.ticks.Load() != 10 {
		t.Errorf("ticks = %d, want 10", dev.ticks.Load())
	}
}

func TestOnTick_IdleSchedulesClock(t *testing.T) {
	t.Parallel()
	h, _, sched, disp, _ := newHeartbeat(t, devstate.Idle)

	for range 10 {
		h.OnTick()
	}
	if len(disp.Calls()) != 0 {
		t.Fatal("heartbeat touched the display directly")
	}
	if n := sched.runAll(); n != 1 {
		t.Fatalf("scheduled %d tasks, want 1", n)
	}
	if args, _ := disp.Last("SetStatus"); len(args) != 1 || args[0] != "09:07" {
		t.Errorf("status = %v, want [09:07]", args)
	}
}

func TestOnTick_NotIdleSchedulesNothing(t *testing.T) {
	t.Parallel()
	h, _, sched, _, _ := newHeartbeat(t, devstate.Speaking)

	for range 20 {
		h.OnTick()
	}
	if n := sched.runAll(); n != 0 {
		t.Errorf("scheduled %d tasks while speaking", n)
	}
}

func TestWithDiagnosticsEvery(t *testing.T) {
	t.Parallel()
	mem := &fixedMemory{}
	h := New(&fakeDevice{}, &recordingScheduler{}, nil,
		WithMemoryReporter(mem),
		WithMetrics(observe.DefaultMetrics()),
		WithDiagnosticsEvery(3),
	)
	for range 9 {
		h.OnTick()
	}
	if mem.calls.Load() != 3 {
		t.Errorf("memory reads = %d, want 3", mem.calls.Load())
	}
}

func TestRuntimeMemory_TracksMinimum(t *testing.T) {
	t.Parallel()
	samples := []uint64{800, 500, 900}
	i := 0
	r := &RuntimeMemory{min: -1, read: func(ms *runtime.MemStats) {
		ms.HeapSys = 1000
		ms.HeapInuse = 1000 - samples[i]
		i++
	}}

	wantMin := []int64{800, 500, 500}
	for k, s := range samples {
		cur, minFree := r.FreeMemory()
		if cur != int64(s) || minFree != wantMin[k] {
			t.Errorf("sample %d: got (%d, %d), want (%d, %d)", k, cur, minFree, s, wantMin[k])
		}
	}
}

func TestNewRuntimeMemory_Reads(t *testing.T) {
	t.Parallel()
	cur, minFree := NewRuntimeMemory().FreeMemory()
	if cur < 0 || minFree > cur {
		t.Errorf("FreeMemory() = (%d, %d)", cur, minFree)
	}
}

func TestTickerTimer(t *testing.T) {
	t.Parallel()
	var timer TickerTimer
	fired := make(chan struct{}, 8)

	if err := timer.Start(5*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := timer.Start(time.Millisecond, func() {}); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	timer.Stop()
	timer.Stop()

	// Restartable after stop.
	if err := timer.Start(time.Hour, func() {}); err != nil {
		t.Errorf("restart: %v", err)
	}
	timer.Stop()
}

func TestTickerTimer_InvalidArgs(t *testing.T) {
	t.Parallel()
	var timer TickerTimer
	if err := timer.Start(0, func() {}); err == nil {
		t.Error("zero period accepted")
	}
	if err := timer.Start(time.Second, nil); err == nil {
		t.Error("nil callback accepted")
	}
}

func TestHeartbeat_StartUsesTimer(t *testing.T) {
	t.Parallel()
	h, dev, _, _, _ := newHeartbeat(t, devstate.Idle)
	var timer TickerTimer
	if err := h.Start(&timer, 2*time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for dev.ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	timer.Stop()
	if dev.ticks.Load() < 3 {
		t.Errorf("ticks = %d, want >= 3", dev.ticks.Load())
	}
}
