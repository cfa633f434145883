package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/owenh/sceneguide/internal/analysis"
	"github.com/owenh/sceneguide/internal/domain"
	"github.com/owenh/sceneguide/internal/query"
	"github.com/owenh/sceneguide/internal/scene"
)

// sessionRepository is the subset of store.SessionStore that
// SessionService requires.
type sessionRepository interface {
	Create(ctx context.Context, id string) (*domain.Session, error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	End(ctx context.Context, id string, framesSampled, framesAccepted int) error
	List(ctx context.Context) ([]*domain.Session, error)
}

// sceneLogRepository is the subset of store.SceneLogStore that
// SessionService requires.
type sceneLogRepository interface {
	Append(ctx context.Context, sessionID, text string, capturedAt time.Time) (*domain.SceneEntry, error)
	ListBySessionID(ctx context.Context, sessionID string) ([]*domain.SceneEntry, error)
}

// turnRepository is the subset of store.TurnStore that SessionService
// requires.
type turnRepository interface {
	Append(ctx context.Context, sessionID, role, content string) (*domain.Turn, error)
	ListBySessionID(ctx context.Context, sessionID string) ([]*domain.Turn, error)
}

// sampler is the subset of scene.Sampler that SessionService requires.
type sampler interface {
	Start() error
	Stop()
	Sampling() bool
	Memory() (scene.Description, bool)
	Metrics() scene.Metrics
}

// router is the subset of query.Router that SessionService requires.
type router interface {
	Route(ctx context.Context, utterance string) (query.Result, error)
}

// frameSink receives uploaded camera frames.
type frameSink interface {
	Put(data []byte, mimeType string)
	Clear()
}

// Notifier receives live sampler events for connected clients. The web
// gateway installs one; headless runs use the default no-op.
type Notifier interface {
	Caption(text string)
	SceneAccepted(text string)
}

type nopNotifier struct{}

func (nopNotifier) Caption(string)       {}
func (nopNotifier) SceneAccepted(string) {}

// SessionService owns the session lifecycle: it starts and stops the
// sampling loop, routes utterances, and writes the session log.
type SessionService struct {
	sessions sessionRepository
	scenes   sceneLogRepository
	turns    turnRepository
	sampler  sampler
	router   router
	frames   frameSink
	logger   *slog.Logger

	mu        sync.Mutex
	currentID string
	notifier  Notifier
}

func NewSessionService(
	sessions sessionRepository,
	scenes sceneLogRepository,
	turns turnRepository,
	smp sampler,
	rtr router,
	frames frameSink,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		sessions: sessions,
		scenes:   scenes,
		turns:    turns,
		sampler:  smp,
		router:   rtr,
		frames:   frames,
		logger:   logger,
		notifier: nopNotifier{},
	}
}

// SetNotifier installs the live event sink. Called once during wiring.
func (s *SessionService) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// StartSession begins a new sampling session. Only one session is
// active at a time.
func (s *SessionService) StartSession(ctx context.Context) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentID != "" {
		return nil, fmt.Errorf("session %s already active", s.currentID)
	}

	id := uuid.NewString()
	session, err := s.sessions.Create(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.sampler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start sampler: %w", err)
	}

	s.currentID = id
	s.logger.Info("session started", "session_id", id)
	return session, nil
}

// StopSession stops sampling and records the session's final counters.
// Scene memory dies with the session; only the log survives.
func (s *SessionService) StopSession(ctx context.Context) (*domain.Session, error) {
	s.mu.Lock()
	id := s.currentID
	s.mu.Unlock()
	if id == "" {
		return nil, fmt.Errorf("no active session")
	}

	// Read the counters before Stop; they are reset on the next Start.
	s.sampler.Stop()
	m := s.sampler.Metrics()
	s.frames.Clear()

	if err := s.sessions.End(ctx, id, m.FramesSampled, m.FramesAccepted); err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}

	s.mu.Lock()
	s.currentID = ""
	s.mu.Unlock()

	s.logger.Info("session stopped", "session_id", id,
		"frames_sampled", m.FramesSampled, "frames_accepted", m.FramesAccepted)
	return s.sessions.GetByID(ctx, id)
}

// Active reports whether a session is running and its id.
func (s *SessionService) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID, s.currentID != ""
}

// HandleUtterance routes one recognized utterance and logs the
// exchange. The result is returned even when the model call failed;
// the error is for the caller's logs.
func (s *SessionService) HandleUtterance(ctx context.Context, text string) (query.Result, error) {
	result, err := s.router.Route(ctx, text)

	if result.Kind == query.Answered {
		s.recordTurns(ctx, text, result.Text)
	}
	return result, err
}

// SubmitFrame stores data as the latest camera frame.
func (s *SessionService) SubmitFrame(data []byte, mimeType string) {
	s.frames.Put(data, mimeType)
}

// SceneMemory returns the current scene description, if any.
func (s *SessionService) SceneMemory() (scene.Description, bool) {
	return s.sampler.Memory()
}

// Metrics returns the live session counters and whether sampling is
// active.
func (s *SessionService) Metrics() (scene.Metrics, bool) {
	return s.sampler.Metrics(), s.sampler.Sampling()
}

// ListSessions returns all recorded sessions, newest first.
func (s *SessionService) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	return s.sessions.List(ctx)
}

// SessionLog returns the accepted scene descriptions and conversation
// turns recorded for one session.
func (s *SessionService) SessionLog(ctx context.Context, sessionID string) ([]*domain.SceneEntry, []*domain.Turn, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, nil, fmt.Errorf("session not found")
	}

	entries, err := s.scenes.ListBySessionID(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list scene log: %w", err)
	}
	turns, err := s.turns.ListBySessionID(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list turns: %w", err)
	}
	return entries, turns, nil
}

// Caption implements scene.Listener: partial sentences go straight to
// connected clients for earliest-possible display.
func (s *SessionService) Caption(text string) {
	s.notify().Caption(text)
}

// SceneAccepted implements scene.Listener: accepted descriptions are
// appended to the session log and pushed to clients.
func (s *SessionService) SceneAccepted(d scene.Description) {
	s.mu.Lock()
	id := s.currentID
	s.mu.Unlock()

	if id != "" {
		if _, err := s.scenes.Append(context.Background(), id, d.Text, d.CapturedAt); err != nil {
			s.logger.Error("failed to log scene entry", "session_id", id, "error", err)
		}
	}
	s.notify().SceneAccepted(d.Text)
}

func (s *SessionService) notify() Notifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier
}

// recordTurns logs a completed exchange; failures only cost history.
func (s *SessionService) recordTurns(ctx context.Context, question, answer string) {
	s.mu.Lock()
	id := s.currentID
	s.mu.Unlock()
	if id == "" {
		return
	}

	if _, err := s.turns.Append(ctx, id, analysis.RoleUser, question); err != nil {
		s.logger.Error("failed to log user turn", "session_id", id, "error", err)
		return
	}
	if _, err := s.turns.Append(ctx, id, analysis.RoleAssistant, answer); err != nil {
		s.logger.Error("failed to log assistant turn", "session_id", id, "error", err)
	}
}
