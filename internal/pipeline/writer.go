package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/eleven-am/segstream/internal/domain"
)

type WriterOptions struct {
	// ID prefixes log lines.
	ID string

	// Threads bounds concurrent fetches. Default: 1.
	Threads int

	// QueueSize bounds the number of queued segments. Default: 20.
	QueueSize int

	// OnClose is invoked once when the writer closes. The reader uses it to
	// close the ring buffer; it must not wait for the writer to exit.
	OnClose func()
}

type item[S, R any] struct {
	segment S
	future  *Future[R]
	aux     []any
}

// Writer fetches segments on a pool and writes their results to out in the
// order they were put, regardless of the order fetches complete in.
//
// Put submits the fetch before it queues the segment, so with a queue of
// size S at most S+2 fetches are submitted but not yet written: S queued,
// one held by the write loop and one whose Put is blocked on the full queue.
// The pool size does not change that bound.
type Writer[S, R any] struct {
	id      string
	fetcher domain.Fetcher[S, R]
	sink    domain.SegmentWriter[S, R]
	out     io.Writer
	onClose func()

	pool  *Pool[R]
	queue chan *item[S, R]
	ctx   context.Context

	started atomic.Bool
	closed  atomic.Bool
	closing chan struct{}
	done    chan struct{}
}

func NewWriter[S, R any](fetcher domain.Fetcher[S, R], sink domain.SegmentWriter[S, R], out io.Writer, opts WriterOptions) *Writer[S, R] {
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 20
	}

	return &Writer[S, R]{
		id:      opts.ID,
		fetcher: fetcher,
		sink:    sink,
		out:     out,
		onClose: opts.OnClose,
		pool:    NewPool[R](opts.Threads),
		queue:   make(chan *item[S, R], opts.QueueSize),
		ctx:     context.Background(),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the fetch pool and the write loop. ctx is handed to fetches
// and writes; closing the writer does not cancel it so running fetches can
// finish.
func (w *Writer[S, R]) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("writer already started")
	}
	w.ctx = ctx

	if err := w.pool.Start(); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}

	go w.run()
	return nil
}

// Put submits segment for fetching and queues it for writing. It blocks
// while the queue is full and returns silently once the writer is closed.
func (w *Writer[S, R]) Put(segment S) {
	if w.closed.Load() {
		return
	}

	ctx := w.ctx
	future := w.pool.Submit(ctx, func(ctx context.Context) (R, error) {
		return w.fetcher.Fetch(ctx, segment)
	})
	w.Queue(segment, future)
}

// End queues the terminal sentinel.
func (w *Writer[S, R]) End() {
	var zero S
	w.Queue(zero, nil)
}

// Queue places an item on the write queue. A nil future queues the terminal
// sentinel instead.
func (w *Writer[S, R]) Queue(segment S, future *Future[R], aux ...any) {
	if w.closed.Load() {
		return
	}

	var it *item[S, R]
	if future != nil {
		it = &item[S, R]{segment: segment, future: future, aux: aux}
	}

	select {
	case w.queue <- it:
	case <-w.closing:
	}
}

// Close stops the writer, closes the output through OnClose and shuts the
// pool down. Pending fetches are cancelled; running ones are waited for.
func (w *Writer[S, R]) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	fiberlog.Debugf("[%s] Writer: closing", w.id)

	close(w.closing)
	if w.onClose != nil {
		w.onClose()
	}
	w.pool.Shutdown(true, true)
}

func (w *Writer[S, R]) Closed() bool {
	return w.closed.Load()
}

// Wait sleeps for d and reports false if the writer closed first.
func (w *Writer[S, R]) Wait(d time.Duration) bool {
	return wait(d, w.closing)
}

func (w *Writer[S, R]) Alive() bool {
	if !w.started.Load() {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *Writer[S, R]) Done() <-chan struct{} {
	return w.done
}

func (w *Writer[S, R]) Queued() int {
	return len(w.queue)
}

func (w *Writer[S, R]) run() {
	defer close(w.done)
	defer w.Close()

	fiberlog.Debugf("[%s] Writer: started", w.id)

	for !w.closed.Load() {
		select {
		case <-w.closing:
			return
		case it := <-w.queue:
			if it == nil {
				fiberlog.Debugf("[%s] Writer: end of stream", w.id)
				return
			}
			if !w.handle(it) {
				return
			}
		}
	}
}

// handle waits for the item's fetch and writes its result. It returns false
// when the writer closed while waiting.
func (w *Writer[S, R]) handle(it *item[S, R]) bool {
	select {
	case <-it.future.Done():
	case <-w.closing:
		return false
	}
	if w.closed.Load() {
		return false
	}

	result, err := it.future.Result()
	switch {
	case it.future.Cancelled():
		fiberlog.Debugf("[%s] Writer: fetch cancelled, skipping segment", w.id)
		return true
	case errors.Is(err, domain.ErrEmptySegment):
		fiberlog.Debugf("[%s] Writer: segment has no content, skipping", w.id)
		return true
	case err != nil:
		fiberlog.Warnf("[%s] Writer: skipping segment: %v", w.id, err)
		return true
	}

	if err := w.sink.Write(w.ctx, w.out, it.segment, result, it.aux...); err != nil {
		if w.closed.Load() {
			return false
		}
		fiberlog.Warnf("[%s] Writer: write failed: %v", w.id, err)
	}
	return true
}

func wait(d time.Duration, closing <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-closing:
		return false
	case <-timer.C:
		return true
	}
}
