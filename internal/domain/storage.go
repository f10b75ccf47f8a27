package domain

import "context"

type SegmentStore interface {
	SegmentExists(ctx context.Context, key string) (bool, error)
	ReadSegment(ctx context.Context, key string) ([]byte, error)
	WriteSegment(ctx context.Context, key string, data []byte) error
}
