package domain

import "time"

// Session is one narration session: from sampling start to stop.
type Session struct {
	ID             string
	StartedAt      time.Time
	EndedAt        *time.Time
	FramesSampled  int
	FramesAccepted int
}

// SceneEntry is one accepted scene description, logged for review.
// The live scene memory itself stays in-process and dies with the
// session; this log is history, not state.
type SceneEntry struct {
	ID         int64
	SessionID  string
	Text       string
	CapturedAt time.Time
}

// Turn is one persisted conversation turn.
type Turn struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}
