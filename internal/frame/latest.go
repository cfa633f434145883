package frame

import (
	"context"
	"sync"
	"time"
)

// Latest is an in-memory Source fed by client uploads: the browser
// posts camera frames and Capture hands back the newest one. A frame
// older than the TTL reads as unavailable so the assistant never
// narrates a scene the user has walked away from.
type Latest struct {
	mu    sync.Mutex
	frame *Frame
	ttl   time.Duration
	now   func() time.Time
}

// NewLatest returns a Latest whose frames expire after ttl. A ttl of 0
// disables expiry.
func NewLatest(ttl time.Duration) *Latest {
	return &Latest{ttl: ttl, now: time.Now}
}

// Put stores data as the current frame, replacing any previous one.
func (l *Latest) Put(data []byte, mimeType string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frame = &Frame{Data: data, MimeType: mimeType, CapturedAt: l.now()}
}

// Capture returns the stored frame, or nil if none has been put yet or
// the stored one has expired.
func (l *Latest) Capture(_ context.Context) (*Frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frame == nil {
		return nil, nil
	}
	if l.ttl > 0 && l.now().Sub(l.frame.CapturedAt) > l.ttl {
		return nil, nil
	}
	return l.frame, nil
}

// Clear drops the stored frame.
func (l *Latest) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frame = nil
}
