package streamio

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/eleven-am/segstream/internal/buffer"
)

const (
	DefaultThreadBufferSize = 8192
	fillChunkSize           = 8192
)

// ThreadIOWrapper moves reads from a blocking source onto a filler
// goroutine so that callers can read with a timeout. The first error the
// source returns, other than io.EOF, is returned by reads once the bytes
// read before it are drained.
type ThreadIOWrapper struct {
	src  io.Reader
	ring *buffer.RingBuffer

	mu  sync.Mutex
	err error

	closed atomic.Bool
	done   chan struct{}
}

// NewThreadIOWrapper starts filling a ring of size bytes from src. A size
// <= 0 uses DefaultThreadBufferSize.
func NewThreadIOWrapper(src io.Reader, size int) *ThreadIOWrapper {
	if size <= 0 {
		size = DefaultThreadBufferSize
	}
	w := &ThreadIOWrapper{
		src:  src,
		ring: buffer.NewRingBuffer(size),
		done: make(chan struct{}),
	}
	go w.fill()
	return w
}

func (w *ThreadIOWrapper) fill() {
	defer close(w.done)
	defer w.ring.Close()

	chunk := make([]byte, fillChunkSize)
	for !w.closed.Load() {
		n, err := w.src.Read(chunk)
		if n > 0 {
			w.ring.Write(chunk[:n])
			if w.ring.Closed() {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !w.closed.Load() {
				fiberlog.Debugf("ThreadIOWrapper: source failed: %v", err)
				w.mu.Lock()
				w.err = err
				w.mu.Unlock()
			}
			return
		}
	}
}

// Read blocks until data is available or the source ends.
func (w *ThreadIOWrapper) Read(p []byte) (int, error) {
	return w.ReadTimeout(p, 0)
}

// ReadTimeout waits up to timeout for data; timeout <= 0 waits
// indefinitely. It returns domain.ErrReadTimeout when nothing arrived in
// time.
func (w *ThreadIOWrapper) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	n, err := w.ring.ReadTimeout(p, true, timeout)
	if errors.Is(err, io.EOF) {
		if failure := w.failure(); failure != nil {
			return 0, failure
		}
	}
	return n, err
}

func (w *ThreadIOWrapper) failure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Done is closed once the filler goroutine has exited.
func (w *ThreadIOWrapper) Done() <-chan struct{} {
	return w.done
}

// Close closes the ring and the source. The filler exits once its current
// source read returns.
func (w *ThreadIOWrapper) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.ring.Close()
	if c, ok := w.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
