package heartbeat

import (
	"runtime"
	"sync"
)

// MemoryReporter reports free memory in bytes: the current value and the
// lowest value seen since start.
type MemoryReporter interface {
	FreeMemory() (current, minimum int64)
}

// RuntimeMemory reports the Go heap headroom (reserved heap not in use) as
// free memory.
type RuntimeMemory struct {
	mu   sync.Mutex
	min  int64
	read func(*runtime.MemStats)
}

var _ MemoryReporter = (*RuntimeMemory)(nil)

// NewRuntimeMemory creates a reporter backed by [runtime.ReadMemStats].
func NewRuntimeMemory() *RuntimeMemory {
	return &RuntimeMemory{min: -1, read: runtime.ReadMemStats}
}

// FreeMemory implements [MemoryReporter].
func (r *RuntimeMemory) FreeMemory() (current, minimum int64) {
	var ms runtime.MemStats
	r.read(&ms)
	current = int64(ms.HeapSys - ms.HeapInuse)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.min < 0 || current < r.min {
		r.min = current
	}
	return current, r.min
}
