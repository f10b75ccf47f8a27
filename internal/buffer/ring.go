package buffer

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/eleven-am/segstream/internal/domain"
)

var ErrResizeTooSmall = errors.New("ring buffer: size smaller than buffered data")

// RingBuffer is a bounded circular byte buffer. Writers block while it is
// full, readers block while it is empty, and Close releases both.
//
// State changes are broadcast by closing the changed channel and replacing
// it, which lets waiters combine the wakeup with a deadline.
type RingBuffer struct {
	mu      sync.Mutex
	data    []byte
	start   int
	length  int
	closed  bool
	changed chan struct{}
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		panic("buffer: ring buffer size must be positive")
	}
	return &RingBuffer{
		data:    make([]byte, size),
		changed: make(chan struct{}),
	}
}

func (r *RingBuffer) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Write appends p, blocking while the ring is full. Data larger than the
// ring is copied in pieces as space frees up. If the ring closes before all
// of p lands, the remainder is dropped and the count written so far is
// returned with a nil error.
func (r *RingBuffer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		r.mu.Lock()
		for r.length == len(r.data) && !r.closed {
			changed := r.changed
			r.mu.Unlock()
			<-changed
			r.mu.Lock()
		}
		if r.closed {
			r.mu.Unlock()
			return written, nil
		}
		written += r.put(p[written:])
		r.notify()
		r.mu.Unlock()
	}
	return written, nil
}

func (r *RingBuffer) put(p []byte) int {
	n := min(len(r.data)-r.length, len(p))
	end := (r.start + r.length) % len(r.data)
	c := copy(r.data[end:], p[:n])
	if c < n {
		copy(r.data, p[c:n])
	}
	r.length += n
	return n
}

func (r *RingBuffer) take(p []byte) int {
	n := min(len(p), r.length)
	c := copy(p[:n], r.data[r.start:])
	if c < n {
		copy(p[c:n], r.data)
	}
	r.length -= n
	if r.length == 0 {
		r.start = 0
	} else {
		r.start = (r.start + n) % len(r.data)
	}
	return n
}

// Read blocks until data is available or the ring is closed.
func (r *RingBuffer) Read(p []byte) (int, error) {
	return r.ReadTimeout(p, true, 0)
}

// ReadTimeout reads up to len(p) bytes. With block set it waits for at least
// one byte for up to timeout; a timeout <= 0 waits indefinitely. A closed,
// drained ring returns io.EOF and a blocking read that times out with
// nothing buffered returns domain.ErrReadTimeout.
func (r *RingBuffer) ReadTimeout(p []byte, block bool, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	var deadline <-chan time.Time
	if block && timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	timedOut := false
	for r.length == 0 && !r.closed && block && !timedOut {
		changed := r.changed
		r.mu.Unlock()
		select {
		case <-changed:
		case <-deadline:
			timedOut = true
		}
		r.mu.Lock()
	}

	if r.length == 0 {
		switch {
		case r.closed:
			return 0, io.EOF
		case timedOut:
			return 0, domain.ErrReadTimeout
		default:
			return 0, nil
		}
	}

	n := r.take(p)
	r.notify()
	return n, nil
}

// Resize changes the capacity, keeping buffered bytes in order.
func (r *RingBuffer) Resize(size int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if size <= 0 || size < r.length {
		return ErrResizeTooSmall
	}

	data := make([]byte, size)
	length := r.length
	r.take(data[:length])
	r.data = data
	r.start = 0
	r.length = length
	r.notify()
	return nil
}

func (r *RingBuffer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.notify()
	return nil
}

func (r *RingBuffer) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

func (r *RingBuffer) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data) - r.length
}

func (r *RingBuffer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

var _ io.ReadWriteCloser = (*RingBuffer)(nil)
