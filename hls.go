package segstream

import (
	"context"
	"fmt"
	"time"

	"github.com/eleven-am/segstream/internal/config"
	"github.com/eleven-am/segstream/internal/hls"
	"github.com/eleven-am/segstream/internal/segment"
	"github.com/eleven-am/segstream/internal/storage"
)

type (
	// HLSSegment describes one media segment of an HLS playlist.
	HLSSegment = hls.Segment

	// HTTPDoer performs HTTP requests for the HLS stream. *fasthttp.Client
	// implements it.
	HTTPDoer = hls.Doer

	// Config is the YAML configuration file: session options plus an
	// optional segment store.
	Config = config.Config

	// StoreConfig selects and configures a segment store backend.
	StoreConfig = config.StoreConfig

	// Store is a closable SegmentStore.
	Store = storage.Store
)

// HLSOptions configures OpenHLS.
type HLSOptions struct {
	Options

	// Store caches fetched segment bytes. Optional.
	Store SegmentStore

	// Client performs playlist and segment requests.
	// Default: a fasthttp.Client.
	Client HTTPDoer

	// ReloadTime fixes the live playlist reload interval. By default the
	// playlist's target duration is used, halved while nothing new appears.
	ReloadTime time.Duration
}

// OpenHLS opens a Reader over the HLS playlist at playlistURL. Request
// attempts, timeouts, headers and the live edge come from the session.
func OpenHLS(ctx context.Context, playlistURL string, opts HLSOptions) (*Reader[HLSSegment, []byte], error) {
	opts.Options.setDefaults()

	hopts := hls.OptionsFromSession(opts.Session)
	hopts.ID = opts.ID
	hopts.Client = opts.Client
	hopts.ReloadTime = opts.ReloadTime
	stream := hls.NewStream(playlistURL, hopts)

	var s Stream[HLSSegment, []byte] = stream
	if opts.Store != nil {
		s = Parts[HLSSegment, []byte]{
			Generator:     stream,
			Fetcher:       segment.NewCachingFetcher[HLSSegment](opts.ID, stream, opts.Store),
			SegmentWriter: stream,
		}
	}

	reader := NewReader[HLSSegment, []byte](s, opts.Options)
	if err := reader.Open(ctx); err != nil {
		return nil, err
	}
	return reader, nil
}

// LoadConfig loads envFiles into the environment and then reads the YAML
// configuration at path.
func LoadConfig(path string, envFiles ...string) (*Config, error) {
	config.LoadEnvFiles(envFiles)
	return config.LoadFromFile(path)
}

// LoadSession reads the options of the YAML configuration at path into a
// Session.
func LoadSession(path string) (*Session, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	session, err := cfg.Session()
	if err != nil {
		return nil, fmt.Errorf("apply options: %w", err)
	}
	return session, nil
}

// OpenStore builds the segment store described by cfg. It returns a nil
// Store when no backend is configured.
func OpenStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	return storage.Open(ctx, cfg)
}
