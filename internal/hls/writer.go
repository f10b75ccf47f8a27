package hls

import (
	"context"
	"fmt"
	"io"
)

// Write writes the segment's init section whenever it differs from the last
// one written, then the segment body.
func (s *Stream) Write(ctx context.Context, out io.Writer, segment Segment, body []byte, _ ...any) error {
	if segment.Init != nil && segment.Init.Key() != s.lastInit {
		data, err := s.initSection(ctx, *segment.Init)
		if err != nil {
			return fmt.Errorf("init section: %w", err)
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
		s.lastInit = segment.Init.Key()
	}

	_, err := out.Write(body)
	return err
}
