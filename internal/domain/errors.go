package domain

import "errors"

var (
	// ErrEmptySegment is returned by a Fetcher when a segment has no bytes
	// to contribute. It is skipped without a warning.
	ErrEmptySegment = errors.New("segment has no content")

	ErrClosed      = errors.New("stream closed")
	ErrReadTimeout = errors.New("read timeout")
	ErrNotFound    = errors.New("segment not found")
)
