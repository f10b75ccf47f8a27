package hls

import (
	"context"
	"errors"
	"fmt"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/valyala/fasthttp"

	"github.com/eleven-am/segstream/internal/domain"
)

// Fetch downloads the segment body. The segment's init section is fetched
// alongside so the writer finds it cached.
func (s *Stream) Fetch(ctx context.Context, segment Segment) ([]byte, error) {
	if segment.Init != nil {
		if _, err := s.initSection(ctx, *segment.Init); err != nil {
			fiberlog.Warnf("[%s] HLS: init section %s: %v", s.opts.ID, segment.Init.URI, err)
		}
	}

	body, err := s.get(ctx, segment.URI, segment.Offset, segment.Limit)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, domain.ErrEmptySegment
	}
	return body, nil
}

// initSection returns the bytes of an init section, fetching each distinct
// section once no matter how many fetches ask for it concurrently.
func (s *Stream) initSection(ctx context.Context, section InitSection) ([]byte, error) {
	key := section.Key()

	s.initsMu.Lock()
	data, ok := s.initMap[key]
	s.initsMu.Unlock()
	if ok {
		return data, nil
	}

	v, err, _ := s.inits.Do(key, func() (any, error) {
		s.initsMu.Lock()
		cached, ok := s.initMap[key]
		s.initsMu.Unlock()
		if ok {
			return cached, nil
		}

		data, err := s.get(ctx, section.URI, section.Offset, section.Limit)
		if err != nil {
			return nil, err
		}
		s.initsMu.Lock()
		s.initMap[key] = data
		s.initsMu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// get fetches url, or the byte range [offset, offset+limit) of it when
// limit is positive, retrying temporary failures.
func (s *Stream) get(ctx context.Context, url string, offset, limit int64) ([]byte, error) {
	var lastErr error
	attempt := 0

	for attempt < s.opts.Attempts {
		attempt++
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := s.getOnce(url, offset, limit)
		if err == nil {
			return body, nil
		}
		lastErr = err
		fiberlog.Debugf("[%s] HLS: attempt %d/%d for %s failed: %v", s.opts.ID, attempt, s.opts.Attempts, url, err)

		var status *StatusError
		if errors.As(err, &status) && !status.Temporary() {
			break
		}
		if attempt < s.opts.Attempts && !sleep(ctx, time.Duration(attempt)*s.opts.RetryDelay) {
			return nil, ctx.Err()
		}
	}

	return nil, &FetchError{URL: url, Attempts: attempt, Cause: lastErr}
}

func (s *Stream) getOnce(url string, offset, limit int64) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	for k, v := range s.opts.Headers {
		req.Header.Set(k, v)
	}
	if limit > 0 {
		req.Header.Set(fasthttp.HeaderRange, fmt.Sprintf("bytes=%d-%d", offset, offset+limit-1))
	}

	if err := s.opts.Client.DoTimeout(req, resp, s.opts.Timeout); err != nil {
		return nil, err
	}

	code := resp.StatusCode()
	if code != fasthttp.StatusOK && code != fasthttp.StatusPartialContent {
		return nil, &StatusError{Code: code}
	}

	body := append([]byte(nil), resp.Body()...)
	if limit > 0 && code == fasthttp.StatusOK {
		if int64(len(body)) < offset+limit {
			return nil, ErrShortContent
		}
		body = body[offset : offset+limit]
	}
	return body, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
