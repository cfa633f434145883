package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owenh/sceneguide/internal/domain"
	"github.com/owenh/sceneguide/internal/query"
	"github.com/owenh/sceneguide/internal/scene"
)

type stubSessionRepo struct {
	mu      sync.Mutex
	created []string
	ended   map[string][2]int
	listErr error
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{ended: map[string][2]int{}}
}

func (r *stubSessionRepo) Create(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, id)
	return &domain.Session{ID: id, StartedAt: time.Now()}, nil
}

func (r *stubSessionRepo) GetByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.created {
		if c == id {
			s := &domain.Session{ID: id}
			if counts, ok := r.ended[id]; ok {
				now := time.Now()
				s.EndedAt = &now
				s.FramesSampled = counts[0]
				s.FramesAccepted = counts[1]
			}
			return s, nil
		}
	}
	return nil, nil
}

func (r *stubSessionRepo) End(_ context.Context, id string, sampled, accepted int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended[id] = [2]int{sampled, accepted}
	return nil
}

func (r *stubSessionRepo) List(_ context.Context) ([]*domain.Session, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return nil, nil
}

type stubSceneRepo struct {
	mu      sync.Mutex
	entries []*domain.SceneEntry
}

func (r *stubSceneRepo) Append(_ context.Context, sessionID, text string, capturedAt time.Time) (*domain.SceneEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &domain.SceneEntry{SessionID: sessionID, Text: text, CapturedAt: capturedAt}
	r.entries = append(r.entries, e)
	return e, nil
}

func (r *stubSceneRepo) ListBySessionID(_ context.Context, sessionID string) ([]*domain.SceneEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.SceneEntry
	for _, e := range r.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubTurnRepo struct {
	mu    sync.Mutex
	turns []*domain.Turn
}

func (r *stubTurnRepo) Append(_ context.Context, sessionID, role, content string) (*domain.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tn := &domain.Turn{SessionID: sessionID, Role: role, Content: content}
	r.turns = append(r.turns, tn)
	return tn, nil
}

func (r *stubTurnRepo) ListBySessionID(_ context.Context, sessionID string) ([]*domain.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Turn
	for _, tn := range r.turns {
		if tn.SessionID == sessionID {
			out = append(out, tn)
		}
	}
	return out, nil
}

type stubSampler struct {
	mu       sync.Mutex
	running  bool
	startErr error
	metrics  scene.Metrics
	memory   *scene.Description
}

func (s *stubSampler) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

func (s *stubSampler) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *stubSampler) Sampling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *stubSampler) Memory() (scene.Description, bool) {
	if s.memory == nil {
		return scene.Description{}, false
	}
	return *s.memory, true
}

func (s *stubSampler) Metrics() scene.Metrics { return s.metrics }

type stubRouter struct {
	result query.Result
	err    error
	seen   []string
}

func (r *stubRouter) Route(_ context.Context, utterance string) (query.Result, error) {
	r.seen = append(r.seen, utterance)
	return r.result, r.err
}

type stubFrames struct {
	mu      sync.Mutex
	puts    int
	cleared bool
}

func (f *stubFrames) Put(_ []byte, _ string) {
	f.mu.Lock()
	f.puts++
	f.mu.Unlock()
}

func (f *stubFrames) Clear() {
	f.mu.Lock()
	f.cleared = true
	f.mu.Unlock()
}

type recordNotifier struct {
	mu       sync.Mutex
	captions []string
	scenes   []string
}

func (n *recordNotifier) Caption(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.captions = append(n.captions, text)
}

func (n *recordNotifier) SceneAccepted(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scenes = append(n.scenes, text)
}

type fixture struct {
	svc      *SessionService
	sessions *stubSessionRepo
	scenes   *stubSceneRepo
	turns    *stubTurnRepo
	sampler  *stubSampler
	router   *stubRouter
	frames   *stubFrames
}

func newFixture() *fixture {
	f := &fixture{
		sessions: newStubSessionRepo(),
		scenes:   &stubSceneRepo{},
		turns:    &stubTurnRepo{},
		sampler:  &stubSampler{},
		router:   &stubRouter{},
		frames:   &stubFrames{},
	}
	f.svc = NewSessionService(f.sessions, f.scenes, f.turns, f.sampler, f.router, f.frames, slog.Default())
	return f
}

func TestStartSession(t *testing.T) {
	f := newFixture()

	session, err := f.svc.StartSession(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.True(t, f.sampler.Sampling())

	id, active := f.svc.Active()
	assert.True(t, active)
	assert.Equal(t, session.ID, id)
}

func TestStartSessionAlreadyActive(t *testing.T) {
	f := newFixture()

	_, err := f.svc.StartSession(context.Background())
	require.NoError(t, err)

	_, err = f.svc.StartSession(context.Background())
	assert.Error(t, err)
}

func TestStartSessionSamplerFailure(t *testing.T) {
	f := newFixture()
	f.sampler.startErr = errors.New("camera offline")

	_, err := f.svc.StartSession(context.Background())
	require.Error(t, err)

	_, active := f.svc.Active()
	assert.False(t, active)
}

func TestStopSessionRecordsCounters(t *testing.T) {
	f := newFixture()
	f.sampler.metrics = scene.Metrics{FramesSampled: 12, FramesAccepted: 4}

	started, err := f.svc.StartSession(context.Background())
	require.NoError(t, err)

	stopped, err := f.svc.StopSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, started.ID, stopped.ID)
	assert.Equal(t, 12, stopped.FramesSampled)
	assert.Equal(t, 4, stopped.FramesAccepted)
	assert.False(t, f.sampler.Sampling())
	assert.True(t, f.frames.cleared)

	_, active := f.svc.Active()
	assert.False(t, active)
}

func TestStopSessionNoneActive(t *testing.T) {
	f := newFixture()

	_, err := f.svc.StopSession(context.Background())
	assert.Error(t, err)
}

func TestHandleUtteranceRecordsAnsweredTurns(t *testing.T) {
	f := newFixture()
	f.router.result = query.Result{Kind: query.Answered, Text: "A red door on your left."}

	_, err := f.svc.StartSession(context.Background())
	require.NoError(t, err)

	result, err := f.svc.HandleUtterance(context.Background(), "where was the door?")
	require.NoError(t, err)
	assert.Equal(t, query.Answered, result.Kind)

	id, _ := f.svc.Active()
	turns, err := f.turns.ListBySessionID(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "where was the door?", turns[0].Content)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.Equal(t, "A red door on your left.", turns[1].Content)
}

func TestHandleUtteranceControlNotRecorded(t *testing.T) {
	f := newFixture()
	f.router.result = query.Result{Kind: query.ControlAck, Text: "Muted."}

	_, err := f.svc.StartSession(context.Background())
	require.NoError(t, err)

	_, err = f.svc.HandleUtterance(context.Background(), "mute")
	require.NoError(t, err)
	assert.Empty(t, f.turns.turns)
}

func TestSceneAcceptedPersistsAndNotifies(t *testing.T) {
	f := newFixture()
	notifier := &recordNotifier{}
	f.svc.SetNotifier(notifier)

	_, err := f.svc.StartSession(context.Background())
	require.NoError(t, err)

	f.svc.SceneAccepted(scene.Description{Text: "A hallway ahead.", CapturedAt: time.Now()})

	id, _ := f.svc.Active()
	entries, err := f.scenes.ListBySessionID(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A hallway ahead.", entries[0].Text)
	assert.Equal(t, []string{"A hallway ahead."}, notifier.scenes)
}

func TestSceneAcceptedWithoutSessionOnlyNotifies(t *testing.T) {
	f := newFixture()
	notifier := &recordNotifier{}
	f.svc.SetNotifier(notifier)

	f.svc.SceneAccepted(scene.Description{Text: "A hallway ahead."})

	assert.Empty(t, f.scenes.entries)
	assert.Len(t, notifier.scenes, 1)
}

func TestCaptionForwardsToNotifier(t *testing.T) {
	f := newFixture()
	notifier := &recordNotifier{}
	f.svc.SetNotifier(notifier)

	f.svc.Caption("A door ahead.")

	assert.Equal(t, []string{"A door ahead."}, notifier.captions)
}

func TestSessionLogMissingSession(t *testing.T) {
	f := newFixture()

	_, _, err := f.svc.SessionLog(context.Background(), "missing")
	assert.Error(t, err)
}

func TestSessionLogReturnsEntriesAndTurns(t *testing.T) {
	f := newFixture()

	session, err := f.svc.StartSession(context.Background())
	require.NoError(t, err)

	f.svc.SceneAccepted(scene.Description{Text: "A kitchen.", CapturedAt: time.Now()})
	_, err = f.turns.Append(context.Background(), session.ID, "user", "what do you see")
	require.NoError(t, err)

	entries, turns, err := f.svc.SessionLog(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Len(t, turns, 1)
}

func TestSubmitFrame(t *testing.T) {
	f := newFixture()

	f.svc.SubmitFrame([]byte{0xFF, 0xD8}, "image/jpeg")
	assert.Equal(t, 1, f.frames.puts)
}
