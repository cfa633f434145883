// Package frame defines the camera-frame collaborator used by the
// sampler and the query router.
package frame

import (
	"context"
	"time"
)

// Frame is one captured camera image.
type Frame struct {
	Data       []byte
	MimeType   string
	CapturedAt time.Time
}

// Source yields the most recent camera frame. A nil frame with a nil
// error means no frame is available right now; absence is an expected
// condition, not an error.
type Source interface {
	Capture(ctx context.Context) (*Frame, error)
}
