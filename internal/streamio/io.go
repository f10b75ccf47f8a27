// Package streamio adapts foreign byte sources to io.ReadCloser.
package streamio

import (
	"io"
	"sync/atomic"
)

// IOWrapper exposes any io.Reader as an io.ReadCloser. Close closes the
// source when it implements io.Closer.
type IOWrapper struct {
	src    io.Reader
	closed atomic.Bool
}

func NewIOWrapper(src io.Reader) *IOWrapper {
	return &IOWrapper{src: src}
}

func (w *IOWrapper) Read(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, io.EOF
	}
	return w.src.Read(p)
}

func (w *IOWrapper) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c, ok := w.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
