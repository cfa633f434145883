// Package scene owns the periodic capture/analyze/compare/announce
// loop and the scene memory it maintains.
package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/owenh/sceneguide/internal/analysis"
	"github.com/owenh/sceneguide/internal/frame"
	"github.com/owenh/sceneguide/internal/sentence"
	"github.com/owenh/sceneguide/internal/textsim"
)

// ErrNoFrame is returned by SampleNow when the frame source has
// nothing to capture.
var ErrNoFrame = errors.New("no frame available")

// State names the sampler's position in its cycle so tests and
// observers can assert on it instead of on timing.
type State string

const (
	StateIdle       State = "idle"
	StateWaiting    State = "waiting_for_tick"
	StateCapturing  State = "capturing"
	StateAnalyzing  State = "analyzing"
	StateComparing  State = "comparing"
	StateAnnouncing State = "announcing"
	StateSkipping   State = "skipping"
)

// Description is the current scene memory: the most recent accepted
// description of the environment. Exactly one is live at a time.
type Description struct {
	Text       string
	CapturedAt time.Time
}

// Metrics counts one sampling session's activity. Reset when sampling
// starts.
type Metrics struct {
	FramesSampled  int
	FramesAccepted int
	SessionStart   time.Time
}

// Config tunes the sampling policy. The interval and threshold are
// empirical defaults, not fixed behavior.
type Config struct {
	// Interval between sample ticks. Default 2s: frequent enough to
	// track a walking pace without flooding the analysis backend.
	Interval time.Duration
	// SimilarityThreshold above which a new description is considered
	// a near-duplicate and discarded. Default 0.75.
	SimilarityThreshold float64
	// SampleTimeout bounds one capture+analysis cycle. Expiry is
	// treated as a skipped tick. Default 10s.
	SampleTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.75
	}
	if c.SampleTimeout <= 0 {
		c.SampleTimeout = 10 * time.Second
	}
}

// speechQueue is the subset of speech.Queue the sampler needs.
type speechQueue interface {
	Enqueue(ctx context.Context, text string, priority bool) error
}

// Listener observes sampler output. Caption receives sentences as they
// stream in, before the accept/reject decision; SceneAccepted fires
// once per accepted description.
type Listener interface {
	Caption(sentence string)
	SceneAccepted(d Description)
}

// NopListener is a Listener that ignores everything.
type NopListener struct{}

func (NopListener) Caption(string)            {}
func (NopListener) SceneAccepted(Description) {}

// Sampler runs the periodic sampling loop. All mutable state lives
// here, guarded by mu; other components read it only through Memory
// and Metrics.
type Sampler struct {
	source   frame.Source
	analyzer analysis.Analyzer
	queue    speechQueue
	listener Listener
	logger   *slog.Logger
	cfg      Config

	// sampleMu serializes sample cycles: a timer tick never overlaps
	// an in-flight sample, including ad hoc ones from SampleNow.
	sampleMu sync.Mutex

	mu      sync.Mutex
	state   State
	memory  *Description
	metrics Metrics
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewSampler(source frame.Source, analyzer analysis.Analyzer, queue speechQueue, logger *slog.Logger, cfg Config) *Sampler {
	cfg.applyDefaults()
	return &Sampler{
		source:   source,
		analyzer: analyzer,
		queue:    queue,
		listener: NopListener{},
		logger:   logger,
		cfg:      cfg,
		state:    StateIdle,
	}
}

// SetListener installs the event listener. Called once during wiring,
// before Start.
func (s *Sampler) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// Start begins periodic sampling, resetting the session metrics.
func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("sampler already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.metrics = Metrics{SessionStart: time.Now()}
	s.state = StateWaiting

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("sampling started", "interval", s.cfg.Interval, "threshold", s.cfg.SimilarityThreshold)
	return nil
}

// Stop cancels the timer and any in-flight sample, waits for the loop
// to exit, and discards the scene memory: it does not survive the
// session.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateIdle
	s.memory = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("sampling stopped")
}

// Sampling reports whether the periodic loop is running.
func (s *Sampler) Sampling() bool {
	return s.State() != StateIdle
}

// State returns the sampler's current named state.
func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Memory returns the current scene description, if any.
func (s *Sampler) Memory() (Description, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memory == nil {
		return Description{}, false
	}
	return *s.memory, true
}

// Metrics returns a copy of the session counters.
func (s *Sampler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// SampleNow performs one ad hoc capture+analyze cycle outside the
// timer, updating the scene memory unconditionally: the user asked for
// a fresh look, so near-duplicate suppression does not apply. Session
// metrics are untouched; they count only timer ticks.
func (s *Sampler) SampleNow(ctx context.Context) (Description, error) {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()

	f, err := s.source.Capture(ctx)
	if err != nil {
		return Description{}, fmt.Errorf("capture failed: %w", err)
	}
	if f == nil {
		return Description{}, ErrNoFrame
	}

	text, err := s.describe(ctx, f)
	if err != nil {
		return Description{}, err
	}

	d := Description{Text: text, CapturedAt: time.Now()}
	s.mu.Lock()
	s.memory = &d
	s.mu.Unlock()
	s.events().SceneAccepted(d)
	return d, nil
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
			// A tick that fired while this sample was in flight is
			// dropped, not queued.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// tick runs one capture/analyze/compare/announce cycle. Failures are
// absorbed: they are logged, count as a skipped tick, and never stop
// the loop or reach the user.
func (s *Sampler) tick(ctx context.Context) {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()
	defer s.setState(StateWaiting)

	tctx, cancel := context.WithTimeout(ctx, s.cfg.SampleTimeout)
	defer cancel()

	s.setState(StateCapturing)
	f, err := s.source.Capture(tctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("capture failed, skipping tick", "error", err)
		}
		s.setState(StateSkipping)
		return
	}
	if f == nil {
		// No frame is an expected condition; it does not count as a
		// sampled frame.
		s.setState(StateSkipping)
		return
	}

	s.mu.Lock()
	s.metrics.FramesSampled++
	s.mu.Unlock()

	s.setState(StateAnalyzing)
	text, err := s.describe(tctx, f)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("analysis failed, skipping tick", "error", err)
		}
		s.setState(StateSkipping)
		return
	}
	if ctx.Err() != nil {
		// Stopped while the result was in flight: discard on arrival.
		return
	}

	s.setState(StateComparing)
	s.mu.Lock()
	similarity := 0.0
	if s.memory != nil {
		similarity = textsim.Similarity(text, s.memory.Text)
	}
	accept := s.memory == nil || similarity <= s.cfg.SimilarityThreshold
	var d Description
	if accept {
		d = Description{Text: text, CapturedAt: time.Now()}
		s.memory = &d
		s.metrics.FramesAccepted++
	}
	s.mu.Unlock()

	if !accept {
		s.logger.Debug("scene unchanged, skipping announcement", "similarity", similarity)
		s.setState(StateSkipping)
		return
	}

	s.events().SceneAccepted(d)
	s.setState(StateAnnouncing)
	s.logger.Info("scene accepted", "similarity", similarity, "text", text)
	if err := s.queue.Enqueue(ctx, text, false); err != nil && ctx.Err() == nil {
		s.logger.Warn("narration failed", "error", err)
	}
}

// describe streams a description of f, forwarding completed sentences
// to the listener as they arrive, and returns the fully assembled
// text. The accept decision uses the full text, never partials.
func (s *Sampler) describe(ctx context.Context, f *frame.Frame) (string, error) {
	ch, err := s.analyzer.DescribeScene(ctx, f)
	if err != nil {
		return "", fmt.Errorf("failed to start analysis: %w", err)
	}

	events := s.events()
	seg := sentence.NewSegmenter()
	var full strings.Builder
	for ev := range ch {
		if ev.Err != nil {
			return "", ev.Err
		}
		full.WriteString(ev.Delta)
		for _, sent := range seg.Feed(ev.Delta) {
			events.Caption(sent)
		}
	}
	if tail := seg.Flush(); tail != "" {
		events.Caption(tail)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	text := strings.TrimSpace(full.String())
	if text == "" {
		return "", fmt.Errorf("analysis returned empty description")
	}
	return text, nil
}

func (s *Sampler) events() Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

func (s *Sampler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
