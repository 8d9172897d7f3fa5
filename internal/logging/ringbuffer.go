package logging

import (
	"os"
	"sync"
)

// RingBuffer holds the most recent log output in memory so a crash
// dump can capture context that already rotated out of the file log.
// It is an io.Writer whose writes never fail; once the capacity is
// exceeded the oldest bytes are discarded.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []byte
	start int // index of the oldest byte held
	n     int // number of bytes held
}

// NewRingBuffer creates a buffer holding up to capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 10 << 20
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := len(p)
	size := len(rb.buf)
	if len(p) >= size {
		// Only the tail of an oversized write can survive anyway.
		copy(rb.buf, p[len(p)-size:])
		rb.start = 0
		rb.n = size
		return written, nil
	}

	end := (rb.start + rb.n) % size
	first := copy(rb.buf[end:], p)
	copy(rb.buf, p[first:])

	rb.n += len(p)
	if rb.n > size {
		rb.start = (rb.start + rb.n - size) % size
		rb.n = size
	}
	return written, nil
}

// Bytes returns the held output, oldest byte first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.n)
	first := copy(out, rb.buf[rb.start:min(rb.start+rb.n, len(rb.buf))])
	copy(out[first:], rb.buf[:rb.n-first])
	return out
}

// Dump writes the held output to a file.
func (rb *RingBuffer) Dump(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
