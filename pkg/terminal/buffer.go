package terminal

import (
	"sync"
)

// outputBuffer is a bounded buffer for terminal output. A backend's reader
// goroutine is the single writer; the session controller takes snapshots via
// String. When the capacity is exceeded the oldest bytes are evicted, which
// matches the bounded-history model of a real terminal's scrollback.
type outputBuffer struct {
	mu       sync.Mutex
	buf      []byte
	capacity int
}

func newOutputBuffer(capacity int) *outputBuffer {
	return &outputBuffer{capacity: capacity}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.capacity {
		// Evict the oldest bytes. Copy down rather than re-slice so the
		// evicted prefix can be collected.
		excess := len(b.buf) - b.capacity
		n := copy(b.buf, b.buf[excess:])
		b.buf = b.buf[:n]
	}
	return len(p), nil
}

// String returns a snapshot of the buffered content.
func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *outputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func (b *outputBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = b.buf[:0]
}
