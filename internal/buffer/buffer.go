package buffer

import (
	"io"
	"sync"

	"github.com/valyala/bytebufferpool"

	"github.com/eleven-am/segstream/internal/domain"
)

// Buffer is an unbounded, non-blocking byte FIFO. Bytes come out in the
// order they were written.
type Buffer struct {
	mu     sync.Mutex
	buf    *bytebufferpool.ByteBuffer
	off    int
	closed bool
}

func NewBuffer() *Buffer {
	return &Buffer{buf: bytebufferpool.Get()}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, domain.ErrClosed
	}
	return b.buf.Write(p)
}

// Read copies up to len(p) buffered bytes into p. It never blocks: an empty
// open buffer yields (0, nil) and a closed one io.EOF.
func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	n := copy(p, b.buf.B[b.off:])
	b.off += n
	b.compact()
	return n, nil
}

func (b *Buffer) compact() {
	switch {
	case b.off == len(b.buf.B):
		b.buf.Reset()
		b.off = 0
	case b.off > len(b.buf.B)/2:
		remaining := copy(b.buf.B, b.buf.B[b.off:])
		b.buf.B = b.buf.B[:remaining]
		b.off = 0
	}
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}
	return len(b.buf.B) - b.off
}

func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	bytebufferpool.Put(b.buf)
	b.buf = nil
	b.off = 0
	return nil
}
