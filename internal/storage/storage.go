// Package storage provides SegmentStore backends for caching fetched
// segment bytes.
package storage

import (
	"context"
	"fmt"

	"github.com/eleven-am/segstream/internal/config"
	"github.com/eleven-am/segstream/internal/domain"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// DefaultMaxEntries caps the memory backend when the config leaves
// MaxEntries at zero.
const DefaultMaxEntries = 512

// Store is a SegmentStore that holds resources until closed.
type Store interface {
	domain.SegmentStore
	Close() error
}

// Open builds the store named by cfg. An empty backend returns a nil store.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case BackendMemory:
		maxEntries := cfg.MaxEntries
		if maxEntries == 0 {
			maxEntries = DefaultMaxEntries
		}
		return NewMemory(cfg.TTL, maxEntries), nil
	case BackendRedis:
		client, err := DialRedis(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return NewRedis(client, cfg.Prefix, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
