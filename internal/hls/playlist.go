package hls

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"time"

	"github.com/Eyevinn/hls-m3u8/m3u8"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/eleven-am/segstream/internal/domain"
)

// Segments yields the media segments of the playlist in sequence order.
// Live playlists start LiveEdge segments from the end and are reloaded
// through w until they carry EXT-X-ENDLIST or w is closed.
func (s *Stream) Segments(ctx context.Context, w domain.Waiter) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		mediaURL, media, err := s.resolve(ctx)
		if err != nil {
			yield(Segment{}, err)
			return
		}

		var last uint64
		started := false

		for {
			segments, err := segmentsOf(media, mediaURL)
			if err != nil {
				yield(Segment{}, err)
				return
			}
			if !started && !media.Closed && len(segments) > s.opts.LiveEdge {
				segments = segments[len(segments)-s.opts.LiveEdge:]
			}

			fresh := 0
			for _, segment := range segments {
				if started && segment.Sequence <= last {
					continue
				}
				if !yield(segment, nil) {
					return
				}
				last, started = segment.Sequence, true
				fresh++
			}

			if media.Closed {
				fiberlog.Debugf("[%s] HLS: playlist ended after sequence %d", s.opts.ID, last)
				return
			}

			if !w.Wait(s.reloadInterval(media.MediaPlaylist, fresh > 0)) {
				return
			}

			next, err := s.loadMedia(ctx, mediaURL)
			if err != nil {
				if ctx.Err() != nil || w.Closed() {
					return
				}
				fiberlog.Warnf("[%s] HLS: playlist reload failed: %v", s.opts.ID, err)
				continue
			}
			media = next
		}
	}
}

// resolve loads the stream URL and follows a master playlist to its best
// variant.
func (s *Stream) resolve(ctx context.Context) (string, *mediaPlaylist, error) {
	playlist, listType, body, err := s.load(ctx, s.url)
	if err != nil {
		return "", nil, err
	}

	switch listType {
	case m3u8.MEDIA:
		return s.url, newMediaPlaylist(playlist.(*m3u8.MediaPlaylist), body), nil
	case m3u8.MASTER:
		variant := bestVariant(playlist.(*m3u8.MasterPlaylist))
		if variant == nil {
			return "", nil, ErrNoVariants
		}
		mediaURL, err := resolveURL(s.url, variant.URI)
		if err != nil {
			return "", nil, err
		}
		fiberlog.Debugf("[%s] HLS: selected variant %s (%d bps)", s.opts.ID, mediaURL, variant.Bandwidth)

		media, err := s.loadMedia(ctx, mediaURL)
		if err != nil {
			return "", nil, err
		}
		return mediaURL, media, nil
	default:
		return "", nil, ErrNotPlaylist
	}
}

func (s *Stream) loadMedia(ctx context.Context, mediaURL string) (*mediaPlaylist, error) {
	playlist, listType, body, err := s.load(ctx, mediaURL)
	if err != nil {
		return nil, err
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("%s: %w", mediaURL, ErrNotPlaylist)
	}
	return newMediaPlaylist(playlist.(*m3u8.MediaPlaylist), body), nil
}

func (s *Stream) load(ctx context.Context, playlistURL string) (m3u8.Playlist, m3u8.ListType, []byte, error) {
	body, err := s.get(ctx, playlistURL, 0, 0)
	if err != nil {
		return nil, 0, nil, err
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("decode playlist %s: %w", playlistURL, err)
	}
	return playlist, listType, body, nil
}

// mediaPlaylist is a decoded media playlist plus, in tag order, whether each
// EXT-X-BYTERANGE and each EXT-X-MAP gave an explicit offset. The decoder
// reports an omitted offset as 0.
type mediaPlaylist struct {
	*m3u8.MediaPlaylist
	segmentOffsets []bool
	mapOffsets     []bool
}

func newMediaPlaylist(media *m3u8.MediaPlaylist, body []byte) *mediaPlaylist {
	m := &mediaPlaylist{MediaPlaylist: media}
	for line := range strings.Lines(string(body)) {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "#EXT-X-BYTERANGE:"); ok {
			m.segmentOffsets = append(m.segmentOffsets, strings.Contains(rest, "@"))
		} else if rest, ok := strings.CutPrefix(line, "#EXT-X-MAP:"); ok {
			_, attr, found := strings.Cut(rest, "BYTERANGE=")
			byterange, _, _ := strings.Cut(strings.TrimPrefix(attr, `"`), `"`)
			m.mapOffsets = append(m.mapOffsets, !found || strings.Contains(byterange, "@"))
		}
	}
	return m
}

// byteRanges places ranges whose offset was omitted directly after the
// previous range of the same resource.
type byteRanges struct {
	explicit []bool
	next     map[string]int64
}

func newByteRanges(explicit []bool) *byteRanges {
	return &byteRanges{explicit: explicit, next: make(map[string]int64)}
}

func (b *byteRanges) place(uri string, offset, limit int64, tagged bool) int64 {
	if !tagged {
		return offset
	}
	explicit := true
	if len(b.explicit) > 0 {
		explicit, b.explicit = b.explicit[0], b.explicit[1:]
	}
	if limit <= 0 {
		return offset
	}
	if !explicit {
		offset = b.next[uri]
	}
	b.next[uri] = offset + limit
	return offset
}

func (s *Stream) reloadInterval(media *m3u8.MediaPlaylist, changed bool) time.Duration {
	if s.opts.ReloadTime > 0 {
		return s.opts.ReloadTime
	}

	interval := time.Duration(media.TargetDuration) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	if !changed {
		interval /= 2
	}
	return interval
}

func bestVariant(master *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.Iframe || v.URI == "" {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

// segmentsOf converts the decoded segments, carrying each EXT-X-MAP forward
// to the segments that follow it.
func segmentsOf(media *mediaPlaylist, base string) ([]Segment, error) {
	var current *InitSection
	segmentRanges := newByteRanges(media.segmentOffsets)
	mapRanges := newByteRanges(media.mapOffsets)

	segments := make([]Segment, 0, len(media.Segments))
	sequence := media.SeqNo
	for _, ms := range media.Segments {
		if ms == nil {
			break
		}
		if ms.Map != nil {
			section, err := initOf(ms.Map, base)
			if err != nil {
				return nil, err
			}
			section.Offset = mapRanges.place(section.URI, section.Offset, section.Limit, true)
			current = section
		}

		uri, err := resolveURL(base, ms.URI)
		if err != nil {
			return nil, err
		}
		segments = append(segments, Segment{
			Sequence:      sequence,
			URI:           uri,
			Duration:      ms.Duration,
			Offset:        segmentRanges.place(uri, ms.Offset, ms.Limit, ms.Limit > 0),
			Limit:         ms.Limit,
			Init:          current,
			Discontinuity: ms.Discontinuity,
		})
		sequence++
	}
	return segments, nil
}

func initOf(m *m3u8.Map, base string) (*InitSection, error) {
	uri, err := resolveURL(base, m.URI)
	if err != nil {
		return nil, err
	}
	return &InitSection{URI: uri, Offset: m.Offset, Limit: m.Limit}, nil
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", base, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
