package segstream

import (
	"context"
	"errors"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type testSegment struct {
	data  string
	delay time.Duration
	empty bool
	fail  bool
}

// scripted plays back a fixed list of segments, then repeats the last one
// forever when loop is set.
type scripted struct {
	segments []testSegment
	loop     bool
	pause    time.Duration
	fetches  atomic.Int32
	yielded  atomic.Int32
}

func (s *scripted) Segments(ctx context.Context, w Waiter) iter.Seq2[testSegment, error] {
	return func(yield func(testSegment, error) bool) {
		for i := 0; ; i++ {
			if i >= len(s.segments) && !s.loop {
				return
			}
			seg := s.segments[min(i, len(s.segments)-1)]
			if !yield(seg, nil) {
				return
			}
			s.yielded.Add(1)
			if s.pause > 0 && !w.Wait(s.pause) {
				return
			}
		}
	}
}

func (s *scripted) Fetch(ctx context.Context, seg testSegment) ([]byte, error) {
	s.fetches.Add(1)
	time.Sleep(seg.delay)
	switch {
	case seg.empty:
		return nil, ErrEmptySegment
	case seg.fail:
		return nil, errors.New("origin unavailable")
	}
	return []byte(seg.data), nil
}

func (s *scripted) Write(ctx context.Context, out io.Writer, seg testSegment, result []byte, aux ...any) error {
	_, err := out.Write(result)
	return err
}

func openReader(t *testing.T, s *scripted, opts Options) *Reader[testSegment, []byte] {
	t.Helper()
	r := NewReader[testSegment, []byte](s, opts)
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	done := make(chan struct{})
	var data []byte
	var err error
	go func() {
		defer close(done)
		data, err = io.ReadAll(r)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("read did not reach end of stream")
	}
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestReaderWritesInGeneratorOrder(t *testing.T) {
	s := &scripted{segments: []testSegment{
		{data: "AAA", delay: 60 * time.Millisecond},
		{data: "BB"},
		{data: "CCCC", delay: 20 * time.Millisecond},
	}}
	r := openReader(t, s, Options{Threads: 3})

	if got := readAll(t, r); got != "AAABBCCCC" {
		t.Fatalf("expected AAABBCCCC, got %q", got)
	}
}

func TestReaderSkipsEmptyAndFailedSegments(t *testing.T) {
	s := &scripted{segments: []testSegment{
		{data: "AAA"},
		{data: "BB", empty: true},
		{data: "XX", fail: true},
		{data: "CCCC"},
	}}
	r := openReader(t, s, Options{Threads: 2})

	if got := readAll(t, r); got != "AAACCCC" {
		t.Fatalf("expected AAACCCC, got %q", got)
	}
}

func TestReaderAllFetchesFailing(t *testing.T) {
	s := &scripted{segments: []testSegment{{fail: true}, {fail: true}, {empty: true}}}
	r := openReader(t, s, Options{})

	if got := readAll(t, r); got != "" {
		t.Fatalf("expected no data, got %q", got)
	}
	if s.fetches.Load() != 3 {
		t.Fatalf("expected 3 fetches, got %d", s.fetches.Load())
	}
}

func TestReaderEarlyClose(t *testing.T) {
	s := &scripted{segments: []testSegment{{data: "segment-"}}, loop: true, pause: 5 * time.Millisecond}
	r := openReader(t, s, Options{Threads: 2, RingBufferSize: 64})

	p := make([]byte, 16)
	if _, err := io.ReadFull(r, p); err != nil {
		t.Fatalf("read: %v", err)
	}

	start := time.Now()
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("close took %v", elapsed)
	}

	// Whatever was buffered drains, then the stream ends.
	readAll(t, r)

	yielded := s.yielded.Load()
	time.Sleep(50 * time.Millisecond)
	if s.yielded.Load() != yielded {
		t.Fatalf("generator kept running after close")
	}
}

func TestReaderBackPressure(t *testing.T) {
	s := &scripted{segments: []testSegment{{data: "xxxx"}}, loop: true}
	openReader(t, s, Options{Threads: 1, QueueSize: 2, RingBufferSize: 4})

	time.Sleep(150 * time.Millisecond)
	first := s.fetches.Load()
	time.Sleep(150 * time.Millisecond)
	second := s.fetches.Load()

	if second != first {
		t.Fatalf("fetching continued without a reader: %d then %d", first, second)
	}
	// One segment fills the ring buffer, then the writer holds one, the
	// queue holds QueueSize and the worker has submitted one more.
	if want := int32(1 + 2 + 2); second != want {
		t.Fatalf("expected %d fetches ahead of the reader, got %d", want, second)
	}
}

func TestReaderCloseInterruptsWaitingGenerator(t *testing.T) {
	s := &scripted{segments: []testSegment{{data: "live"}}, loop: true, pause: time.Hour}
	r := openReader(t, s, Options{})

	p := make([]byte, 4)
	if _, err := io.ReadFull(r, p); err != nil {
		t.Fatalf("read: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close did not interrupt the generator wait")
	}

	if n, err := r.Read(p); n != 0 || err != io.EOF {
		t.Fatalf("expected EOF after close, got %d, %v", n, err)
	}
}

func TestReaderReadTimeout(t *testing.T) {
	s := &scripted{segments: []testSegment{{data: "a"}}, loop: true, pause: time.Hour}
	r := openReader(t, s, Options{Timeout: 50 * time.Millisecond})

	p := make([]byte, 1)
	if _, err := io.ReadFull(r, p); err != nil {
		t.Fatalf("read: %v", err)
	}

	_, err := r.Read(p)
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func TestReaderContextCancelCloses(t *testing.T) {
	s := &scripted{segments: []testSegment{{data: "x"}}, loop: true, pause: time.Hour}
	r := NewReader[testSegment, []byte](s, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	cancel()
	readAll(t, r)
}

func TestReaderOpenTwice(t *testing.T) {
	s := &scripted{segments: []testSegment{{data: "x"}}}
	r := openReader(t, s, Options{})

	if err := r.Open(context.Background()); err == nil {
		t.Fatalf("expected error on second open")
	}
}

func TestReaderOpenAfterClose(t *testing.T) {
	s := &scripted{segments: []testSegment{{data: "x"}}}
	r := NewReader[testSegment, []byte](s, Options{})

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := r.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestReaderOptionsFromSession(t *testing.T) {
	session, err := loadTestSession(t, "options:\n  stream-segment-threads: 4\n  stream-timeout: 2.5\n  ringbuffer-size: 1024\n")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}

	r := NewReader[testSegment, []byte](&scripted{}, Options{Session: session, QueueSize: 7})
	defer r.Close()

	if r.opts.Threads != 4 {
		t.Fatalf("expected 4 threads, got %d", r.opts.Threads)
	}
	if r.opts.QueueSize != 7 {
		t.Fatalf("expected explicit queue size 7, got %d", r.opts.QueueSize)
	}
	if r.opts.Timeout != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s timeout, got %v", r.opts.Timeout)
	}
	if r.buffer.Size() != 1024 {
		t.Fatalf("expected 1024 byte ring, got %d", r.buffer.Size())
	}
}

func TestNewReaderPanics(t *testing.T) {
	tests := []struct {
		name   string
		stream Stream[testSegment, []byte]
		opts   Options
	}{
		{"nil stream", nil, Options{}},
		{"negative ring buffer", &scripted{}, Options{RingBufferSize: -1}},
		{"negative threads", &scripted{}, Options{Threads: -1}},
		{"negative queue", &scripted{}, Options{QueueSize: -1}},
		{"negative timeout", &scripted{}, Options{Timeout: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			NewReader[testSegment, []byte](tt.stream, tt.opts)
		})
	}
}

// hookCloser closes its own reader from inside the write or fetch hook.
type hookCloser struct {
	*scripted
	onFetch bool
	reader  atomic.Pointer[Reader[testSegment, []byte]]
	took    atomic.Int64
}

func (h *hookCloser) closeReader(ctx context.Context) {
	start := time.Now()
	h.reader.Load().CloseContext(ctx)
	h.took.Store(int64(time.Since(start)))
}

func (h *hookCloser) Fetch(ctx context.Context, seg testSegment) ([]byte, error) {
	if h.onFetch {
		h.closeReader(ctx)
	}
	return h.scripted.Fetch(ctx, seg)
}

func (h *hookCloser) Write(ctx context.Context, out io.Writer, seg testSegment, result []byte, aux ...any) error {
	if _, err := out.Write(result); err != nil {
		return err
	}
	if !h.onFetch {
		h.closeReader(ctx)
	}
	return nil
}

func TestReaderCloseFromHook(t *testing.T) {
	tests := []struct {
		name    string
		onFetch bool
		want    string
	}{
		{"write hook", false, "AAA"},
		{"fetch hook", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &hookCloser{
				scripted: &scripted{segments: []testSegment{{data: "AAA"}, {data: "BBB"}}},
				onFetch:  tt.onFetch,
			}
			r := NewReader[testSegment, []byte](h, Options{Threads: 1, Timeout: 2 * time.Second})
			h.reader.Store(r)
			if err := r.Open(context.Background()); err != nil {
				t.Fatalf("open: %v", err)
			}

			if got := readAll(t, r); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
			if took := time.Duration(h.took.Load()); took > 500*time.Millisecond {
				t.Fatalf("close from inside the hook took %s", took)
			}

			start := time.Now()
			r.Close()
			if took := time.Since(start); took > time.Second {
				t.Fatalf("close after a hook close took %s", took)
			}
			if r.writer.Alive() || r.worker.Alive() {
				t.Fatalf("goroutines still running after close")
			}
		})
	}
}

func TestReaderCloseContextOutsideHookJoins(t *testing.T) {
	s := &scripted{segments: []testSegment{{data: "live"}}, loop: true, pause: time.Hour}
	r := openReader(t, s, Options{})

	if err := r.CloseContext(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if r.writer.Alive() || r.worker.Alive() {
		t.Fatalf("close returned before the writer and worker exited")
	}
}

func loadTestSession(t *testing.T, yaml string) (*Session, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segstream.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(yaml)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return LoadSession(path)
}
