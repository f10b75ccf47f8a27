package domain

import (
	"context"
	"io"
	"iter"
	"time"
)

// Waiter is the view of a running Worker handed to a Generator. Wait sleeps
// for up to d and reports false when interrupted by a close.
type Waiter interface {
	Wait(d time.Duration) bool
	Closed() bool
}

// Generator yields segment descriptors. The sequence may be infinite; a
// yielded error ends the stream.
type Generator[S any] interface {
	Segments(ctx context.Context, w Waiter) iter.Seq2[S, error]
}

// Fetcher turns a descriptor into a result. It runs on the pool and must be
// safe for concurrent use. A non-nil error means the segment contributes no
// bytes.
type Fetcher[S, R any] interface {
	Fetch(ctx context.Context, segment S) (R, error)
}

// SegmentWriter writes one fetched result to out. It is called serially in
// submission order and must return once out is closed.
type SegmentWriter[S, R any] interface {
	Write(ctx context.Context, out io.Writer, segment S, result R, aux ...any) error
}

type Stream[S, R any] interface {
	Generator[S]
	Fetcher[S, R]
	SegmentWriter[S, R]
}

// Parts assembles a Stream from separate hooks, for callers that decorate
// one of them (a caching Fetcher, for example).
type Parts[S, R any] struct {
	Generator[S]
	Fetcher[S, R]
	SegmentWriter[S, R]
}

var _ Stream[struct{}, struct{}] = Parts[struct{}, struct{}]{}
