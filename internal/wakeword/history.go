package wakeword

import "sync"

// History keeps the most recent processed audio chunks so that the audio
// around a wake word can be forwarded after detection. It holds at most
// Cap chunks; appending to a full history evicts the oldest chunk.
type History struct {
	mu     sync.Mutex
	chunks [][]int16
	limit  int
}

// NewHistory creates a history holding up to limit chunks. A limit below one
// is raised to one.
func NewHistory(limit int) *History {
	return &History{limit: max(limit, 1)}
}

// Cap returns the chunk limit.
func (h *History) Cap() int { return h.limit }

// Append stores a copy of chunk.
func (h *History) Append(chunk []int16) {
	c := make([]int16, len(chunk))
	copy(c, chunk)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.chunks) >= h.limit {
		// Shift instead of reslicing so the backing array stays bounded.
		n := copy(h.chunks, h.chunks[len(h.chunks)-h.limit+1:])
		clear(h.chunks[n:])
		h.chunks = h.chunks[:n]
	}
	h.chunks = append(h.chunks, c)
}

// Len returns the number of stored chunks.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.chunks)
}

// Snapshot returns the stored chunks, oldest first, without removing them.
func (h *History) Snapshot() [][]int16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]int16, len(h.chunks))
	copy(out, h.chunks)
	return out
}

// Drain removes and returns all stored chunks, oldest first.
func (h *History) Drain() [][]int16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.chunks
	h.chunks = nil
	return out
}
