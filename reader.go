// Package segstream streams segmented media as a single ordered byte stream.
//
// A protocol describes a stream as a sequence of segments: a Generator yields
// segment descriptors, a Fetcher downloads one segment, and a SegmentWriter
// writes a fetched segment to the output. segstream fetches segments
// concurrently on a bounded worker pool while writing them strictly in the
// order the generator produced them, through a bounded ring buffer that a
// consumer drains with Read.
//
// # Architecture
//
// A Reader owns three parts:
//
//   - Worker: drives the Generator and queues every descriptor it yields
//   - Writer: submits fetches to a pool and writes results in queue order
//   - RingBuffer: bounded byte store between the Writer and the consumer
//
// Back-pressure flows upstream: a full ring buffer blocks the Writer, a full
// queue blocks the Worker, and the Worker stops pulling from the Generator.
//
// # Basic Usage
//
//	reader := segstream.NewReader[MySegment, []byte](myStream, segstream.Options{
//	    Threads:   4,  // concurrent fetches
//	    QueueSize: 20, // segments queued ahead of the writer
//	})
//	if err := reader.Open(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer reader.Close()
//
//	io.Copy(dst, reader)
//
// # HLS
//
// OpenHLS builds a Reader over an HLS playlist URL, resolving master
// playlists to their highest-bandwidth variant and following live playlists
// until they end or the reader is closed.
//
// # Shutdown
//
// Close stops the generator, cancels queued fetches, lets running fetches
// finish and closes the ring buffer. Bytes already buffered remain readable;
// Read reports io.EOF once they are drained. Cancelling the context passed to
// Open closes the reader as well. A hook stops its own reader with
// CloseContext and the context it was handed.
package segstream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/eleven-am/segstream/internal/buffer"
	"github.com/eleven-am/segstream/internal/config"
	"github.com/eleven-am/segstream/internal/domain"
	"github.com/eleven-am/segstream/internal/pipeline"
)

type (
	// Stream bundles the three protocol hooks a Reader needs.
	Stream[S, R any] = domain.Stream[S, R]

	// Generator yields segment descriptors, possibly forever. It should
	// sleep through the Waiter so that closing the reader interrupts it.
	Generator[S any] = domain.Generator[S]

	// Fetcher downloads one segment. It is called concurrently from the
	// fetch pool. Returning ErrEmptySegment skips the segment quietly; any
	// other error skips it with a warning.
	Fetcher[S, R any] = domain.Fetcher[S, R]

	// SegmentWriter writes one fetched segment to the output. Calls are
	// serial and follow generator order.
	SegmentWriter[S, R any] = domain.SegmentWriter[S, R]

	// Parts assembles a Stream from separately implemented hooks.
	Parts[S, R any] = domain.Parts[S, R]

	// Waiter is the interruptible sleep handed to a Generator.
	Waiter = domain.Waiter

	// SegmentStore caches fetched segment bytes by key.
	SegmentStore = domain.SegmentStore

	// Session holds option values keyed by name.
	Session = config.Session
)

var (
	// ErrEmptySegment marks a segment that contributes no bytes.
	ErrEmptySegment = domain.ErrEmptySegment

	// ErrReadTimeout is returned by Read when no data arrived within the
	// stream timeout while the stream was still running.
	ErrReadTimeout = domain.ErrReadTimeout

	// ErrClosed is returned when opening a closed reader.
	ErrClosed = domain.ErrClosed
)

// Options configures a Reader. Zero fields fall back to the Session.
type Options struct {
	// ID names the reader in log lines. Default: a random UUID.
	ID string

	// Session supplies defaults for every other field.
	// Default: config.NewSession().
	Session *Session

	// RingBufferSize is the capacity of the output buffer in bytes.
	// Default: session "ringbuffer-size" (16 MiB).
	RingBufferSize int

	// Threads is the number of concurrent segment fetches.
	// Default: session "stream-segment-threads" (1).
	Threads int

	// QueueSize bounds how many segments are queued ahead of the writer.
	// Default: session "stream-segment-queue" (20).
	QueueSize int

	// Timeout bounds a blocking Read and the join in Close.
	// Default: session "stream-timeout" (60 seconds).
	Timeout time.Duration
}

func (o *Options) setDefaults() {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Session == nil {
		o.Session = config.NewSession()
	}
	if o.RingBufferSize == 0 {
		o.RingBufferSize = o.Session.Int(config.KeyRingBufferSize)
	}
	if o.Threads == 0 {
		o.Threads = o.Session.Int(config.KeySegmentThreads)
	}
	if o.QueueSize == 0 {
		o.QueueSize = o.Session.Int(config.KeySegmentQueue)
	}
	if o.Timeout == 0 {
		o.Timeout = o.Session.Duration(config.KeyStreamTimeout)
	}
}

func (o *Options) validate() {
	if o.RingBufferSize < 0 {
		panic("segstream: RingBufferSize must not be negative")
	}
	if o.Threads < 0 {
		panic("segstream: Threads must not be negative")
	}
	if o.QueueSize < 0 {
		panic("segstream: QueueSize must not be negative")
	}
	if o.Timeout < 0 {
		panic("segstream: Timeout must not be negative")
	}
}

// hookKey marks the context handed to a reader's own generator, fetches and
// writes.
type hookKey struct{}

// Reader is an io.ReadCloser over a segmented stream.
//
// A Reader must be opened with Open before it produces data, and closed with
// Close to release its goroutines.
type Reader[S, R any] struct {
	id     string
	opts   Options
	buffer *buffer.RingBuffer
	writer *pipeline.Writer[S, R]
	worker *pipeline.Worker[S]

	mu     sync.Mutex
	opened bool
	closed atomic.Bool
}

// NewReader creates a Reader for stream. It panics if stream is nil or an
// option is negative.
//
// The reader is not opened automatically; call Open to start fetching.
func NewReader[S, R any](stream Stream[S, R], opts Options) *Reader[S, R] {
	if stream == nil {
		panic("segstream: stream is required")
	}
	opts.validate()
	opts.setDefaults()

	r := &Reader[S, R]{
		id:     opts.ID,
		opts:   opts,
		buffer: buffer.NewRingBuffer(opts.RingBufferSize),
	}

	r.writer = pipeline.NewWriter[S, R](stream, stream, r.buffer, pipeline.WriterOptions{
		ID:        r.id,
		Threads:   opts.Threads,
		QueueSize: opts.QueueSize,
		OnClose:   r.writerClosed,
	})
	r.worker = pipeline.NewWorker[S](r.id, stream, r.writer)

	return r
}

// ID identifies the reader in log lines.
func (r *Reader[S, R]) ID() string {
	return r.id
}

// Open starts the writer and then the worker. Cancelling ctx closes the
// reader; ctx is also handed to the generator, fetches and writes.
func (r *Reader[S, R]) Open(ctx context.Context) error {
	r.mu.Lock()
	if r.opened {
		r.mu.Unlock()
		return fmt.Errorf("reader already opened")
	}
	if r.closed.Load() {
		r.mu.Unlock()
		return ErrClosed
	}
	r.opened = true
	r.mu.Unlock()

	fiberlog.Debugf("[%s] Reader: opening", r.id)

	hookCtx := context.WithValue(ctx, hookKey{}, any(r))
	if err := r.writer.Start(hookCtx); err != nil {
		r.shutdown()
		return fmt.Errorf("start writer: %w", err)
	}
	if err := r.worker.Start(hookCtx); err != nil {
		r.shutdown()
		return fmt.Errorf("start worker: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			fiberlog.Debugf("[%s] Reader: context done: %v", r.id, ctx.Err())
			r.shutdown()
		case <-r.writer.Done():
		}
	}()

	return nil
}

// Read blocks for up to the stream timeout while the writer is running and
// returns whatever is buffered otherwise. It returns io.EOF once the stream
// ended and every buffered byte was read, and ErrReadTimeout when the
// timeout passed without data.
func (r *Reader[S, R]) Read(p []byte) (int, error) {
	return r.buffer.ReadTimeout(p, r.writer.Alive(), r.opts.Timeout)
}

// Buffered returns the number of bytes waiting to be read.
func (r *Reader[S, R]) Buffered() int {
	return r.buffer.Len()
}

// Close stops the stream and waits up to the stream timeout for the worker
// and writer to exit. It is safe to call more than once. A hook that wants to
// stop its own reader calls CloseContext with the context it was given.
func (r *Reader[S, R]) Close() error {
	return r.CloseContext(context.Background())
}

// CloseContext is Close for callers that hold a context. When ctx is the
// context this reader handed to one of its hooks, the caller runs on the
// worker, the writer or a fetch goroutine: the ring buffer is closed at once,
// the rest of the shutdown runs in the background and nothing is joined.
func (r *Reader[S, R]) CloseContext(ctx context.Context) error {
	if ctx.Value(hookKey{}) == any(r) {
		fiberlog.Debugf("[%s] Reader: close requested from a hook", r.id)
		r.buffer.Close()
		go r.shutdown()
		return nil
	}
	r.shutdown()
	r.join()
	return nil
}

// writerClosed runs on the writer's close path, possibly on its own
// goroutine, so it must not wait for the writer.
func (r *Reader[S, R]) writerClosed() {
	r.buffer.Close()
	r.shutdown()
}

func (r *Reader[S, R]) shutdown() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	fiberlog.Debugf("[%s] Reader: closing", r.id)

	r.worker.Close()
	r.writer.Close()
	r.buffer.Close()
}

func (r *Reader[S, R]) join() {
	timer := time.NewTimer(r.opts.Timeout)
	defer timer.Stop()

	parts := []struct {
		name  string
		alive func() bool
		done  <-chan struct{}
	}{
		{"worker", r.worker.Alive, r.worker.Done()},
		{"writer", r.writer.Alive, r.writer.Done()},
	}

	for _, part := range parts {
		if !part.alive() {
			continue
		}
		select {
		case <-part.done:
		case <-timer.C:
			fiberlog.Warnf("[%s] Reader: %s did not exit within %s", r.id, part.name, r.opts.Timeout)
			return
		}
	}
}
