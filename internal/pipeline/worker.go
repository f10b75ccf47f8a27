package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/eleven-am/segstream/internal/domain"
)

// SegmentQueue is the part of a Writer the Worker feeds.
type SegmentQueue[S any] interface {
	Put(segment S)
	End()
}

// Worker drives a Generator and hands every segment to the writer queue.
// When the generator ends, fails or the worker is closed, the terminal
// sentinel is queued.
type Worker[S any] struct {
	id        string
	generator domain.Generator[S]
	queue     SegmentQueue[S]

	mu      sync.Mutex
	cancel  context.CancelFunc
	started atomic.Bool
	closed  atomic.Bool
	closing chan struct{}
	done    chan struct{}
}

func NewWorker[S any](id string, generator domain.Generator[S], queue SegmentQueue[S]) *Worker[S] {
	return &Worker[S]{
		id:        id,
		generator: generator,
		queue:     queue,
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the generator on its own goroutine. The context passed to the
// generator is cancelled when the worker closes.
func (w *Worker[S]) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("worker already started")
	}

	w.mu.Lock()
	if w.closed.Load() {
		w.mu.Unlock()
		w.queue.End()
		close(w.done)
		return nil
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

func (w *Worker[S]) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	fiberlog.Debugf("[%s] Worker: closing", w.id)

	close(w.closing)

	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
}

func (w *Worker[S]) Closed() bool {
	return w.closed.Load()
}

// Wait sleeps for d and reports false if the worker closed first.
func (w *Worker[S]) Wait(d time.Duration) bool {
	return wait(d, w.closing)
}

func (w *Worker[S]) Alive() bool {
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

func (w *Worker[S]) Done() <-chan struct{} {
	return w.done
}

func (w *Worker[S]) run(ctx context.Context) {
	defer close(w.done)
	defer w.Close()

	fiberlog.Debugf("[%s] Worker: started", w.id)

	if err := w.iterate(ctx); err != nil {
		fiberlog.Errorf("[%s] Worker: segment generator failed: %v", w.id, err)
	}

	w.queue.End()
	fiberlog.Debugf("[%s] Worker: finished", w.id)
}

func (w *Worker[S]) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panicked: %v", r)
		}
	}()

	for segment, genErr := range w.generator.Segments(ctx, w) {
		if genErr != nil {
			return genErr
		}
		if w.closed.Load() {
			return nil
		}
		w.queue.Put(segment)
	}
	return nil
}

var _ domain.Waiter = (*Worker[struct{}])(nil)
