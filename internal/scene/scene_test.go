package scene

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owenh/sceneguide/internal/analysis"
	"github.com/owenh/sceneguide/internal/frame"
)

type stubSource struct {
	frame *frame.Frame
	err   error
}

func (s *stubSource) Capture(_ context.Context) (*frame.Frame, error) {
	return s.frame, s.err
}

// scriptedAnalyzer returns one scripted response per call, split into
// two deltas to exercise the segmenter path.
type scriptedAnalyzer struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (a *scriptedAnalyzer) next() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	if len(a.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	resp := a.responses[0]
	if len(a.responses) > 1 {
		a.responses = a.responses[1:]
	}
	return resp, nil
}

func (a *scriptedAnalyzer) DescribeScene(_ context.Context, _ *frame.Frame) (<-chan analysis.StreamEvent, error) {
	resp, err := a.next()
	ch := make(chan analysis.StreamEvent, 3)
	if err != nil {
		ch <- analysis.StreamEvent{Err: err}
	} else {
		mid := len(resp) / 2
		ch <- analysis.StreamEvent{Delta: resp[:mid]}
		ch <- analysis.StreamEvent{Delta: resp[mid:]}
	}
	close(ch)
	return ch, nil
}

func (a *scriptedAnalyzer) Answer(_ context.Context, _ analysis.Question) (<-chan analysis.StreamEvent, error) {
	return nil, errors.New("not used")
}

type spokenLine struct {
	text     string
	priority bool
}

type recordQueue struct {
	mu     sync.Mutex
	spoken []spokenLine
}

func (q *recordQueue) Enqueue(_ context.Context, text string, priority bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.spoken = append(q.spoken, spokenLine{text, priority})
	return nil
}

func (q *recordQueue) lines() []spokenLine {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]spokenLine(nil), q.spoken...)
}

type recordListener struct {
	mu       sync.Mutex
	captions []string
	accepted []Description
}

func (l *recordListener) Caption(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.captions = append(l.captions, s)
}

func (l *recordListener) SceneAccepted(d Description) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accepted = append(l.accepted, d)
}

func newTestSampler(source frame.Source, analyzer analysis.Analyzer, queue speechQueue, listener Listener) *Sampler {
	s := NewSampler(source, analyzer, queue, slog.Default(), Config{
		Interval:            5 * time.Millisecond,
		SimilarityThreshold: 0.75,
		SampleTimeout:       time.Second,
	})
	s.SetListener(listener)
	return s
}

func jpegFrame() *frame.Frame {
	return &frame.Frame{Data: []byte{0xFF, 0xD8}, MimeType: "image/jpeg", CapturedAt: time.Now()}
}

func TestTickAcceptsFirstDescription(t *testing.T) {
	analyzer := &scriptedAnalyzer{responses: []string{"An empty hallway ahead."}}
	queue := &recordQueue{}
	listener := &recordListener{}
	s := newTestSampler(&stubSource{frame: jpegFrame()}, analyzer, queue, listener)

	s.tick(context.Background())

	m := s.Metrics()
	assert.Equal(t, 1, m.FramesSampled)
	assert.Equal(t, 1, m.FramesAccepted)

	mem, ok := s.Memory()
	require.True(t, ok)
	assert.Equal(t, "An empty hallway ahead.", mem.Text)

	lines := queue.lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "An empty hallway ahead.", lines[0].text)
	assert.False(t, lines[0].priority, "scene narration must be non-priority")
	assert.Equal(t, StateWaiting, s.State())
}

func TestTickRejectsNearDuplicate(t *testing.T) {
	analyzer := &scriptedAnalyzer{responses: []string{
		"a chair sits ahead in the hallway",
		"a chair sits ahead in the hallway today", // 7/8 shared words, above 0.75
	}}
	queue := &recordQueue{}
	s := newTestSampler(&stubSource{frame: jpegFrame()}, analyzer, queue, &recordListener{})

	s.tick(context.Background())
	s.tick(context.Background())

	m := s.Metrics()
	assert.Equal(t, 2, m.FramesSampled)
	assert.Equal(t, 1, m.FramesAccepted, "near-duplicate must not be accepted")

	mem, ok := s.Memory()
	require.True(t, ok)
	assert.Equal(t, "a chair sits ahead in the hallway", mem.Text, "memory unchanged on reject")
	assert.Len(t, queue.lines(), 1)
}

func TestTickAcceptsChangedScene(t *testing.T) {
	analyzer := &scriptedAnalyzer{responses: []string{
		"a chair sits ahead in the hallway",
		"you are now near a staircase",
	}}
	queue := &recordQueue{}
	s := newTestSampler(&stubSource{frame: jpegFrame()}, analyzer, queue, &recordListener{})

	s.tick(context.Background())
	s.tick(context.Background())

	m := s.Metrics()
	assert.Equal(t, 2, m.FramesSampled)
	assert.Equal(t, 2, m.FramesAccepted)

	mem, _ := s.Memory()
	assert.Equal(t, "you are now near a staircase", mem.Text)
	assert.Len(t, queue.lines(), 2)
}

func TestTickNoFrameSkipsSilently(t *testing.T) {
	analyzer := &scriptedAnalyzer{responses: []string{"unused"}}
	queue := &recordQueue{}
	s := newTestSampler(&stubSource{frame: nil}, analyzer, queue, &recordListener{})

	s.tick(context.Background())

	m := s.Metrics()
	assert.Equal(t, 0, m.FramesSampled, "missing frame does not count as sampled")
	assert.Empty(t, queue.lines())
	assert.Equal(t, 0, analyzer.calls)
}

func TestTickAnalysisFailureAbsorbed(t *testing.T) {
	analyzer := &scriptedAnalyzer{err: errors.New("network down")}
	queue := &recordQueue{}
	s := newTestSampler(&stubSource{frame: jpegFrame()}, analyzer, queue, &recordListener{})

	s.tick(context.Background())

	m := s.Metrics()
	assert.Equal(t, 1, m.FramesSampled)
	assert.Equal(t, 0, m.FramesAccepted)
	_, ok := s.Memory()
	assert.False(t, ok)
	assert.Empty(t, queue.lines())
	assert.Equal(t, StateWaiting, s.State(), "a failed tick never stops the loop")
}

func TestTickEmitsCaptionsPerSentence(t *testing.T) {
	analyzer := &scriptedAnalyzer{responses: []string{"A door ahead. A window left."}}
	listener := &recordListener{}
	s := newTestSampler(&stubSource{frame: jpegFrame()}, analyzer, &recordQueue{}, listener)

	s.tick(context.Background())

	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.Equal(t, []string{"A door ahead.", "A window left."}, listener.captions)
	require.Len(t, listener.accepted, 1)
	assert.Equal(t, "A door ahead. A window left.", listener.accepted[0].Text)
}

func TestSampleNowUpdatesMemoryUnconditionally(t *testing.T) {
	analyzer := &scriptedAnalyzer{responses: []string{
		"a chair sits ahead in the hallway",
		"a chair sits ahead in the hallway today",
	}}
	s := newTestSampler(&stubSource{frame: jpegFrame()}, analyzer, &recordQueue{}, &recordListener{})

	_, err := s.SampleNow(context.Background())
	require.NoError(t, err)

	// Near-duplicate, but an explicit request always refreshes memory.
	d, err := s.SampleNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a chair sits ahead in the hallway today", d.Text)

	mem, _ := s.Memory()
	assert.Equal(t, d.Text, mem.Text)
	assert.Equal(t, 0, s.Metrics().FramesSampled, "ad hoc samples do not count toward session metrics")
}

func TestSampleNowNoFrame(t *testing.T) {
	s := newTestSampler(&stubSource{frame: nil}, &scriptedAnalyzer{}, &recordQueue{}, &recordListener{})

	_, err := s.SampleNow(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestStartStopLifecycle(t *testing.T) {
	analyzer := &scriptedAnalyzer{responses: []string{"an empty hallway stretches ahead"}}
	queue := &recordQueue{}
	s := newTestSampler(&stubSource{frame: jpegFrame()}, analyzer, queue, &recordListener{})

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "double start must fail")

	// Wait for at least one tick to land.
	deadline := time.After(2 * time.Second)
	for len(queue.lines()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no tick processed before deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	s.Stop()
	assert.Equal(t, StateIdle, s.State())
	_, ok := s.Memory()
	assert.False(t, ok, "memory does not survive the session")

	// Restart resets metrics.
	require.NoError(t, s.Start())
	assert.Equal(t, 0, s.Metrics().FramesSampled)
	s.Stop()
}
