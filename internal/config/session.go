package config

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/spf13/cast"
)

const (
	KeySegmentAttempts = "stream-segment-attempts"
	KeySegmentThreads  = "stream-segment-threads"
	KeySegmentTimeout  = "stream-segment-timeout"
	KeySegmentQueue    = "stream-segment-queue"
	KeyStreamTimeout   = "stream-timeout"
	KeyRingBufferSize  = "ringbuffer-size"
	KeyLiveEdge        = "hls-live-edge"
	KeyHTTPHeaders     = "http-headers"
)

func defaults() map[string]any {
	return map[string]any{
		KeySegmentAttempts: 3,
		KeySegmentThreads:  1,
		KeySegmentTimeout:  10.0,
		KeySegmentQueue:    20,
		KeyStreamTimeout:   60.0,
		KeyRingBufferSize:  16 * 1024 * 1024,
		KeyLiveEdge:        3,
		KeyHTTPHeaders:     map[string]string{},
	}
}

var positiveInts = map[string]bool{
	KeySegmentAttempts: true,
	KeySegmentThreads:  true,
	KeySegmentQueue:    true,
	KeyRingBufferSize:  true,
	KeyLiveEdge:        true,
}

var positiveDurations = map[string]bool{
	KeySegmentTimeout: true,
	KeyStreamTimeout:  true,
}

// Session holds the option values the pipeline looks up by key. Durations
// are stored as seconds.
type Session struct {
	mu      sync.RWMutex
	options map[string]any
}

func NewSession() *Session {
	return &Session{options: defaults()}
}

// Set stores value under key. Known numeric keys must be positive.
func (s *Session) Set(key string, value any) error {
	switch {
	case positiveInts[key]:
		n, err := toInt(value)
		if err != nil {
			return fmt.Errorf("option %s: %w", key, err)
		}
		if n <= 0 {
			return fmt.Errorf("option %s: must be positive, got %d", key, n)
		}
		value = n
	case positiveDurations[key]:
		d, err := toDuration(value)
		if err != nil {
			return fmt.Errorf("option %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("option %s: must be positive, got %s", key, d)
		}
		value = d.Seconds()
	case key == KeyHTTPHeaders:
		headers, err := toHeaders(value)
		if err != nil {
			return fmt.Errorf("option %s: %w", key, err)
		}
		value = headers
	}

	s.mu.Lock()
	s.options[key] = value
	s.mu.Unlock()
	return nil
}

func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.options[key]
	return v, ok
}

func (s *Session) Int(key string) int {
	v, _ := s.Get(key)
	n, _ := toInt(v)
	return n
}

func (s *Session) Duration(key string) time.Duration {
	v, _ := s.Get(key)
	d, _ := toDuration(v)
	return d
}

func (s *Session) Headers() map[string]string {
	v, _ := s.Get(KeyHTTPHeaders)
	headers, _ := toHeaders(v)
	out := make(map[string]string, len(headers))
	for k, val := range headers {
		out[k] = val
	}
	return out
}

// toInt accepts integers, whole floats and numeric strings. Fractions and
// values outside the int range are errors rather than truncated.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float32, float64:
		f, err := cast.ToFloat64E(n)
		if err != nil {
			return 0, err
		}
		if f != math.Trunc(f) || f < math.MinInt || f >= math.MaxInt {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
	case uint, uint64:
		u, err := cast.ToUint64E(n)
		if err != nil {
			return 0, err
		}
		if u > math.MaxInt {
			return 0, fmt.Errorf("%d overflows int", u)
		}
	case bool, nil:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
	return cast.ToIntE(v)
}

// toDuration reads plain numbers as seconds and other strings as Go
// durations.
func toDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case bool, nil:
		return 0, fmt.Errorf("expected duration, got %T", v)
	case string:
		if secs, err := cast.ToFloat64E(d); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(d)
	}
	secs, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("expected duration, got %T", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func toHeaders(v any) (map[string]string, error) {
	if v == nil {
		return map[string]string{}, nil
	}
	headers, err := cast.ToStringMapStringE(v)
	if err != nil {
		return nil, fmt.Errorf("expected header map, got %T", v)
	}
	return headers, nil
}
