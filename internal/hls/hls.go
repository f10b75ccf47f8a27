// Package hls streams HLS media playlists through the segment pipeline.
//
// A Stream resolves a playlist URL (following a master playlist to its
// highest-bandwidth variant), yields the media segments in sequence order,
// fetches them over HTTP and writes them out with their initialization
// sections. Live playlists are reloaded until they end or the stream is
// closed.
package hls

import (
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/sync/singleflight"

	"github.com/eleven-am/segstream/internal/config"
	"github.com/eleven-am/segstream/internal/domain"
)

// InitSection is the media initialization section of an EXT-X-MAP tag.
type InitSection struct {
	URI    string
	Offset int64
	Limit  int64
}

func (i InitSection) Key() string {
	return rangeKey(i.URI, i.Offset, i.Limit)
}

// Segment describes one media segment with its URI resolved against the
// playlist it came from.
type Segment struct {
	Sequence      uint64
	URI           string
	Duration      float64
	Offset        int64
	Limit         int64
	Init          *InitSection
	Discontinuity bool
}

// Key identifies the segment bytes; two segments with the same URI and
// byte range share a key.
func (s Segment) Key() string {
	return rangeKey(s.URI, s.Offset, s.Limit)
}

func rangeKey(uri string, offset, limit int64) string {
	if limit <= 0 {
		return uri
	}
	return fmt.Sprintf("%s#%d@%d", uri, limit, offset)
}

// Doer performs one HTTP exchange. *fasthttp.Client implements it.
type Doer interface {
	DoTimeout(req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration) error
}

type Options struct {
	// ID prefixes log lines.
	ID string

	// Client performs requests. Default: a new fasthttp.Client.
	Client Doer

	// Headers are added to every request.
	Headers map[string]string

	// Attempts is the number of tries per request. Default: 3.
	Attempts int

	// Timeout bounds a single request. Default: 10 seconds.
	Timeout time.Duration

	// LiveEdge is how many segments from the end of a live playlist the
	// stream starts at. Default: 3.
	LiveEdge int

	// ReloadTime overrides the live playlist reload interval, which is
	// otherwise the target duration (halved when nothing new appeared).
	ReloadTime time.Duration

	// RetryDelay is the pause after a failed attempt, multiplied by the
	// attempt number. Default: 500 milliseconds.
	RetryDelay time.Duration
}

// OptionsFromSession reads the request and playlist options from s.
func OptionsFromSession(s *config.Session) Options {
	return Options{
		Headers:  s.Headers(),
		Attempts: s.Int(config.KeySegmentAttempts),
		Timeout:  s.Duration(config.KeySegmentTimeout),
		LiveEdge: s.Int(config.KeyLiveEdge),
	}
}

func (o *Options) setDefaults() {
	if o.Client == nil {
		o.Client = &fasthttp.Client{
			Name:            "segstream",
			MaxConnsPerHost: 16,
		}
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.LiveEdge <= 0 {
		o.LiveEdge = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
}

// Stream is an HLS protocol for the segment pipeline. Fetch is safe for
// concurrent use; Segments and Write are each called from one goroutine.
type Stream struct {
	url  string
	opts Options

	inits   singleflight.Group
	initsMu sync.Mutex
	initMap map[string][]byte

	lastInit string
}

func NewStream(playlistURL string, opts Options) *Stream {
	opts.setDefaults()
	return &Stream{
		url:     playlistURL,
		opts:    opts,
		initMap: make(map[string][]byte),
	}
}

func (s *Stream) URL() string {
	return s.url
}

var _ domain.Stream[Segment, []byte] = (*Stream)(nil)
