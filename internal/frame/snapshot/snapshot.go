// Package snapshot captures frames by polling a webcam snapshot URL,
// the kind most IP cameras and mjpeg-streamer expose.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/owenh/sceneguide/internal/frame"
)

// maxFrameBytes caps a single snapshot read. Anthropic rejects images
// over 5 MB, and anything larger than this is not a webcam frame.
const maxFrameBytes = 8 << 20

type Source struct {
	url    string
	client *http.Client
}

func NewSource(url string) *Source {
	return &Source{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Capture fetches one snapshot. An unreachable camera or a non-200
// response reads as "no frame available" rather than an error, so a
// flaky camera only costs skipped ticks.
func (s *Source) Capture(ctx context.Context) (*frame.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	return &frame.Frame{Data: data, MimeType: mimeType, CapturedAt: time.Now()}, nil
}
