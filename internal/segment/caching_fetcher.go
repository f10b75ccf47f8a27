package segment

import (
	"context"
	"errors"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/eleven-am/segstream/internal/domain"
)

// Keyed is a segment descriptor that names its bytes in a store.
type Keyed interface {
	Key() string
}

// CachingFetcher reads segments through a SegmentStore and stores what it
// fetches. Store failures are logged and never fail a fetch.
type CachingFetcher[S Keyed] struct {
	id      string
	fetcher domain.Fetcher[S, []byte]
	store   domain.SegmentStore
}

func NewCachingFetcher[S Keyed](id string, fetcher domain.Fetcher[S, []byte], store domain.SegmentStore) *CachingFetcher[S] {
	return &CachingFetcher[S]{
		id:      id,
		fetcher: fetcher,
		store:   store,
	}
}

func (f *CachingFetcher[S]) Fetch(ctx context.Context, segment S) ([]byte, error) {
	key := segment.Key()

	if data, ok := f.cached(ctx, key); ok {
		return data, nil
	}

	data, err := f.fetcher.Fetch(ctx, segment)
	if err != nil {
		return nil, err
	}

	if err := f.store.WriteSegment(ctx, key, data); err != nil {
		fiberlog.Warnf("[%s] Cache: store %s: %v", f.id, key, err)
	}
	return data, nil
}

func (f *CachingFetcher[S]) cached(ctx context.Context, key string) ([]byte, bool) {
	exists, err := f.store.SegmentExists(ctx, key)
	if err != nil {
		fiberlog.Warnf("[%s] Cache: check %s: %v", f.id, key, err)
		return nil, false
	}
	if !exists {
		return nil, false
	}

	data, err := f.store.ReadSegment(ctx, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, false
	case err != nil:
		fiberlog.Warnf("[%s] Cache: read %s: %v", f.id, key, err)
		return nil, false
	case len(data) == 0:
		return nil, false
	}

	fiberlog.Debugf("[%s] Cache: hit %s", f.id, key)
	return data, true
}
