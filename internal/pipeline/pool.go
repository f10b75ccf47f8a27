package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCancelled = errors.New("task cancelled")

type FutureState int

const (
	FuturePending FutureState = iota
	FutureDone
	FutureCancelled
)

func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "pending"
	case FutureDone:
		return "done"
	case FutureCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("FutureState(%d)", int(s))
	}
}

// Future is the handle on a task submitted to a Pool.
type Future[R any] struct {
	done      chan struct{}
	once      sync.Once
	result    R
	err       error
	cancelled bool
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

func (f *Future[R]) resolve(result R, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

func (f *Future[R]) cancel() {
	f.once.Do(func() {
		f.cancelled = true
		f.err = ErrCancelled
		close(f.done)
	})
}

func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the task finished or was cancelled.
func (f *Future[R]) Result() (R, error) {
	<-f.done
	return f.result, f.err
}

func (f *Future[R]) Cancelled() bool {
	select {
	case <-f.done:
		return f.cancelled
	default:
		return false
	}
}

// TryWait waits up to d for the task and reports its state.
func (f *Future[R]) TryWait(d time.Duration) FutureState {
	select {
	case <-f.done:
		return f.state()
	default:
	}
	if d <= 0 {
		return FuturePending
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.state()
	case <-timer.C:
		return FuturePending
	}
}

func (f *Future[R]) state() FutureState {
	if f.cancelled {
		return FutureCancelled
	}
	return FutureDone
}

type task[R any] struct {
	ctx    context.Context
	fn     func(ctx context.Context) (R, error)
	future *Future[R]
}

func (t *task[R]) run() {
	defer func() {
		if r := recover(); r != nil {
			var zero R
			t.future.resolve(zero, fmt.Errorf("task panicked: %v", r))
		}
	}()

	result, err := t.fn(t.ctx)
	t.future.resolve(result, err)
}

// Pool runs submitted tasks on a fixed number of goroutines in submission
// order.
type Pool[R any] struct {
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*task[R]
	active  int
	started bool
	stopped bool
	wg      sync.WaitGroup
}

func NewPool[R any](size int) *Pool[R] {
	if size <= 0 {
		size = 1
	}
	p := &Pool[R]{size: size}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *Pool[R]) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("pool already started")
	}
	if p.stopped {
		return fmt.Errorf("pool already shut down")
	}
	p.started = true

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return nil
}

// Submit schedules fn. After Shutdown the returned future is already
// cancelled.
func (p *Pool[R]) Submit(ctx context.Context, fn func(ctx context.Context) (R, error)) *Future[R] {
	f := newFuture[R]()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		f.cancel()
		return f
	}

	p.pending = append(p.pending, &task[R]{ctx: ctx, fn: fn, future: f})
	p.cond.Signal()
	return f
}

// Shutdown stops accepting tasks. Queued tasks are cancelled when
// cancelPending is set and run otherwise; running tasks always finish. With
// wait set it blocks until every worker has exited.
func (p *Pool[R]) Shutdown(cancelPending, wait bool) {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		if cancelPending || !p.started {
			for _, t := range p.pending {
				t.future.cancel()
			}
			p.pending = nil
		}
		p.cond.Broadcast()
	}
	p.mu.Unlock()

	if wait {
		p.wg.Wait()
	}
}

func (p *Pool[R]) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Pool[R]) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pool[R]) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.pending) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if len(p.pending) == 0 {
			p.mu.Unlock()
			return
		}
		t := p.pending[0]
		p.pending[0] = nil
		p.pending = p.pending[1:]
		p.active++
		p.mu.Unlock()

		t.run()

		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
}
