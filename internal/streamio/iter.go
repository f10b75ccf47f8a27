package streamio

import (
	"io"
	"iter"
	"sync"

	"github.com/eleven-am/segstream/internal/buffer"
	"github.com/eleven-am/segstream/internal/domain"
)

// IterWrapper reads from a sequence of byte chunks. Chunks are pulled only
// as reads need them and the unread tail of a chunk is kept for the next
// read.
type IterWrapper struct {
	mu     sync.Mutex
	next   func() ([]byte, bool)
	stop   func()
	buf    *buffer.Buffer
	done   bool
	closed bool
}

func NewIterWrapper(seq iter.Seq[[]byte]) *IterWrapper {
	next, stop := iter.Pull(seq)
	return &IterWrapper{
		next: next,
		stop: stop,
		buf:  buffer.NewBuffer(),
	}
}

// Read pulls chunks until len(p) bytes are buffered or the sequence ends,
// then returns what it has.
func (w *IterWrapper) Read(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, domain.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	for w.buf.Len() < len(p) && !w.done {
		chunk, ok := w.next()
		if !ok {
			w.done = true
			break
		}
		if _, err := w.buf.Write(chunk); err != nil {
			return 0, err
		}
	}

	n, _ := w.buf.Read(p)
	if n == 0 && w.done {
		return 0, io.EOF
	}
	return n, nil
}

// Close stops the sequence and releases buffered data.
func (w *IterWrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.stop()
	return w.buf.Close()
}
