package hls

import (
	"errors"
	"fmt"
)

var (
	ErrNoVariants   = errors.New("hls: master playlist has no playable variants")
	ErrNotPlaylist  = errors.New("hls: unexpected playlist type")
	ErrShortContent = errors.New("hls: response shorter than requested range")
)

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == 408 || e.Code == 429
}

// FetchError is returned once every attempt to fetch a URL failed.
type FetchError struct {
	URL      string
	Attempts int
	Cause    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}
