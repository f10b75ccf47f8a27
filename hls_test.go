package segstream

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/eleven-am/segstream/internal/storage"
)

type countingOrigin struct {
	mu    sync.Mutex
	files map[string]string
	hits  map[string]int
}

func (o *countingOrigin) handle(ctx *fasthttp.RequestCtx) {
	o.mu.Lock()
	defer o.mu.Unlock()

	path := string(ctx.Path())
	o.hits[path]++
	body, ok := o.files[path]
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	ctx.SetBodyString(body)
}

func (o *countingOrigin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func startOrigin(t *testing.T, files map[string]string) (*countingOrigin, HTTPDoer) {
	t.Helper()

	o := &countingOrigin{files: files, hits: make(map[string]int)}
	ln := fasthttputil.NewInmemoryListener()
	go (&fasthttp.Server{Handler: o.handle}).Serve(ln)
	t.Cleanup(func() { ln.Close() })

	return o, &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) {
			return ln.Dial()
		},
	}
}

const vodPlaylist = `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-MAP:URI="init.mp4"
#EXTINF:4.000,
seg0.m4s
#EXTINF:4.000,
seg1.m4s
#EXTINF:4.000,
missing.m4s
#EXTINF:4.000,
seg2.m4s
#EXT-X-ENDLIST
`

func TestOpenHLS_VOD(t *testing.T) {
	is := is.New(t)

	_, client := startOrigin(t, map[string]string{
		"/vod/index.m3u8": vodPlaylist,
		"/vod/init.mp4":   "[init]",
		"/vod/seg0.m4s":   "zero.",
		"/vod/seg1.m4s":   "one.",
		"/vod/seg2.m4s":   "two.",
	})

	r, err := OpenHLS(context.Background(), "http://cdn.test/vod/index.m3u8", HLSOptions{
		Options: Options{Threads: 3, Timeout: 5 * time.Second},
		Client:  client,
	})
	is.NoErr(err)
	defer r.Close()

	is.Equal(readAll(t, r), "[init]zero.one.two.")
}

func TestOpenHLS_ServesRepeatsFromStore(t *testing.T) {
	is := is.New(t)

	origin, client := startOrigin(t, map[string]string{
		"/vod/index.m3u8": vodPlaylist,
		"/vod/init.mp4":   "[init]",
		"/vod/seg0.m4s":   "zero.",
		"/vod/seg1.m4s":   "one.",
		"/vod/seg2.m4s":   "two.",
	})
	store := storage.NewMemory(time.Minute, 0)

	for i := 0; i < 2; i++ {
		r, err := OpenHLS(context.Background(), "http://cdn.test/vod/index.m3u8", HLSOptions{
			Options: Options{Threads: 2, Timeout: 5 * time.Second},
			Client:  client,
			Store:   store,
		})
		is.NoErr(err)
		is.Equal(readAll(t, r), "[init]zero.one.two.")
		is.NoErr(r.Close())
	}

	is.Equal(origin.hitCount("/vod/seg0.m4s"), 1)
	is.Equal(origin.hitCount("/vod/seg2.m4s"), 1)
	is.Equal(origin.hitCount("/vod/index.m3u8"), 2)
}

func TestOpenHLS_MissingPlaylistEndsStream(t *testing.T) {
	is := is.New(t)

	_, client := startOrigin(t, map[string]string{})

	r, err := OpenHLS(context.Background(), "http://cdn.test/none.m3u8", HLSOptions{Client: client})
	is.NoErr(err)
	defer r.Close()

	is.Equal(readAll(t, r), "")
}
