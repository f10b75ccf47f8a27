package buffer

import (
	"errors"
	"io"
	"testing"

	"github.com/eleven-am/segstream/internal/domain"
)

func TestBufferReadsInWriteOrder(t *testing.T) {
	b := NewBuffer()
	defer b.Close()

	b.Write([]byte("abc"))
	b.Write([]byte("defg"))

	if b.Len() != 7 {
		t.Fatalf("expected length 7, got %d", b.Len())
	}

	p := make([]byte, 5)
	n, err := b.Read(p)
	if err != nil || string(p[:n]) != "abcde" {
		t.Fatalf("unexpected read %q err=%v", p[:n], err)
	}
	if b.Len() != 2 {
		t.Fatalf("expected length 2 after read, got %d", b.Len())
	}

	n, _ = b.Read(p)
	if string(p[:n]) != "fg" {
		t.Fatalf("expected remainder fg, got %q", p[:n])
	}
}

func TestBufferNeverBlocksWhenEmpty(t *testing.T) {
	b := NewBuffer()
	defer b.Close()

	n, err := b.Read(make([]byte, 8))
	if n != 0 || err != nil {
		t.Fatalf("expected empty non-blocking read, got n=%d err=%v", n, err)
	}

	b.Write([]byte("xy"))
	n, err = b.Read(nil)
	if n != 0 || err != nil {
		t.Fatalf("zero-size read should return nothing, got n=%d err=%v", n, err)
	}
}

func TestBufferInterleavedReadsKeepLengthConsistent(t *testing.T) {
	b := NewBuffer()
	defer b.Close()

	var written, read int
	p := make([]byte, 3)
	for i := 0; i < 50; i++ {
		chunk := []byte{byte(i), byte(i + 1)}
		b.Write(chunk)
		written += len(chunk)

		n, _ := b.Read(p)
		read += n
		if b.Len() != written-read {
			t.Fatalf("iteration %d: length %d, expected %d", i, b.Len(), written-read)
		}
	}
}

func TestBufferClose(t *testing.T) {
	b := NewBuffer()
	b.Write([]byte("data"))

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, err := b.Read(make([]byte, 4)); err != io.EOF {
		t.Fatalf("expected EOF after close, got %v", err)
	}
	if _, err := b.Write([]byte("more")); !errors.Is(err, domain.ErrClosed) {
		t.Fatalf("expected ErrClosed on write after close, got %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("closed buffer should report zero length")
	}
}
