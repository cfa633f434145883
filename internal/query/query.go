// Package query classifies recognized utterances and routes them to a
// fresh capture, the remembered scene, or a control action.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/owenh/sceneguide/internal/analysis"
	"github.com/owenh/sceneguide/internal/scene"
	"github.com/owenh/sceneguide/internal/sentence"
)

// Kind names the outcome of routing one utterance.
type Kind string

const (
	// Answered: the model produced a spoken reply.
	Answered Kind = "answered"
	// CaptureUnavailable: a visual query arrived but no frame source
	// could produce a frame. A defined outcome, not an error.
	CaptureUnavailable Kind = "capture_unavailable"
	// NoMemoryYet: a recall query arrived before any scene was
	// captured. The reply suggests asking for a capture first.
	NoMemoryYet Kind = "no_memory"
	// AnalysisFailed: the model call failed; the user hears an apology.
	AnalysisFailed Kind = "analysis_failed"
	// ControlAck: the utterance was a control command (mute/unmute).
	ControlAck Kind = "control"
	// Ignored: the utterance was empty after trimming.
	Ignored Kind = "ignored"
)

// Spoken replies for the defined non-answer outcomes.
const (
	MsgCaptureUnavailable = "Sorry, I can't see anything right now. Make sure the camera is sending frames."
	MsgNoMemory           = "I haven't seen your surroundings yet. Ask me to describe what's around you first."
	MsgAnalysisFailed     = "Sorry, something went wrong answering that. Please try again."
	MsgMuted              = "Muted."
	MsgVoiceOn            = "Voice on."
)

// Result is what routing one utterance produced. Text is the reply
// that was spoken (or would have been, had speech not failed).
type Result struct {
	Kind Kind
	Text string
}

// Config tunes classification and context. The trigger lists are plain
// substring matches; phrasing outside them misclassifies ("can you
// scan this document" will trigger a capture). That is a known
// limitation of the heuristic, kept configurable rather than fixed.
type Config struct {
	CaptureTriggers []string
	MuteTriggers    []string
	UnmuteTriggers  []string
	// MaxHistoryTurns bounds the conversation context, in turns (a
	// question and its answer are two turns). Default 6.
	MaxHistoryTurns int
}

// DefaultCaptureTriggers mark an utterance as needing a fresh frame.
func DefaultCaptureTriggers() []string {
	return []string{
		"what do you see",
		"what can you see",
		"describe my surroundings",
		"describe the scene",
		"what's around",
		"what is around",
		"in front of me",
		"look around",
		"take a look",
		"scan",
	}
}

// DefaultMuteTriggers silence scene narration.
func DefaultMuteTriggers() []string {
	return []string{"mute", "be quiet", "stop talking"}
}

// DefaultUnmuteTriggers restore it.
func DefaultUnmuteTriggers() []string {
	return []string{"unmute", "voice on", "start talking"}
}

func (c *Config) applyDefaults() {
	if c.CaptureTriggers == nil {
		c.CaptureTriggers = DefaultCaptureTriggers()
	}
	if c.MuteTriggers == nil {
		c.MuteTriggers = DefaultMuteTriggers()
	}
	if c.UnmuteTriggers == nil {
		c.UnmuteTriggers = DefaultUnmuteTriggers()
	}
	if c.MaxHistoryTurns <= 0 {
		c.MaxHistoryTurns = 6
	}
}

// sceneReader is the subset of scene.Sampler the router needs: the
// memory accessor and the ad hoc capture cycle.
type sceneReader interface {
	Memory() (scene.Description, bool)
	SampleNow(ctx context.Context) (scene.Description, error)
}

// speechQueue is the subset of speech.Queue the router needs.
type speechQueue interface {
	Enqueue(ctx context.Context, text string, priority bool) error
	Mute()
	Unmute()
}

// Router classifies utterances and produces spoken replies. It owns
// the bounded conversation history.
type Router struct {
	scenes   sceneReader
	analyzer analysis.Analyzer
	queue    speechQueue
	logger   *slog.Logger
	cfg      Config

	mu      sync.Mutex
	history []analysis.Turn
}

func NewRouter(scenes sceneReader, analyzer analysis.Analyzer, queue speechQueue, logger *slog.Logger, cfg Config) *Router {
	cfg.applyDefaults()
	return &Router{
		scenes:   scenes,
		analyzer: analyzer,
		queue:    queue,
		logger:   logger,
		cfg:      cfg,
	}
}

// Route handles one recognized utterance. It never panics outward; a
// failed model call is spoken as an apology and reported through the
// returned error alongside the AnalysisFailed result. All replies are
// enqueued with priority, preempting any in-progress narration.
func (r *Router) Route(ctx context.Context, utterance string) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("routing panicked", "panic", rec)
			result = r.apologize(ctx)
			err = fmt.Errorf("routing panicked: %v", rec)
		}
	}()

	trimmed := strings.TrimSpace(utterance)
	if trimmed == "" {
		return Result{Kind: Ignored}, nil
	}
	lowered := strings.ToLower(trimmed)

	// Unmute first: "unmute" contains "mute" as a substring.
	if matchesAny(lowered, r.cfg.UnmuteTriggers) {
		r.queue.Unmute()
		r.speak(ctx, MsgVoiceOn)
		return Result{Kind: ControlAck, Text: MsgVoiceOn}, nil
	}
	if matchesAny(lowered, r.cfg.MuteTriggers) {
		r.queue.Mute()
		r.speak(ctx, MsgMuted)
		return Result{Kind: ControlAck, Text: MsgMuted}, nil
	}

	if matchesAny(lowered, r.cfg.CaptureTriggers) {
		return r.routeCapture(ctx, trimmed)
	}
	return r.routeMemory(ctx, trimmed)
}

// routeCapture runs an ad hoc capture+analyze cycle and speaks the
// fresh description as the reply.
func (r *Router) routeCapture(ctx context.Context, utterance string) (Result, error) {
	d, err := r.scenes.SampleNow(ctx)
	if errors.Is(err, scene.ErrNoFrame) {
		r.speak(ctx, MsgCaptureUnavailable)
		return Result{Kind: CaptureUnavailable, Text: MsgCaptureUnavailable}, nil
	}
	if err != nil {
		r.logger.Error("ad hoc capture failed", "error", err)
		return r.apologize(ctx), fmt.Errorf("visual query failed: %w", err)
	}

	r.speakSentences(ctx, d.Text)
	r.remember(utterance, d.Text)
	return Result{Kind: Answered, Text: d.Text}, nil
}

// routeMemory answers from the remembered scene without capturing.
func (r *Router) routeMemory(ctx context.Context, utterance string) (Result, error) {
	mem, ok := r.scenes.Memory()
	if !ok {
		// Defined outcome, not an error; the chat collaborator is
		// never called.
		r.speak(ctx, MsgNoMemory)
		return Result{Kind: NoMemoryYet, Text: MsgNoMemory}, nil
	}

	r.mu.Lock()
	history := append([]analysis.Turn(nil), r.history...)
	r.mu.Unlock()

	ch, err := r.analyzer.Answer(ctx, analysis.Question{
		Text:         utterance,
		SceneContext: mem.Text,
		History:      history,
	})
	if err != nil {
		r.logger.Error("chat request failed", "error", err)
		return r.apologize(ctx), fmt.Errorf("memory query failed: %w", err)
	}

	answer, err := r.speakStream(ctx, ch)
	if err != nil {
		r.logger.Error("chat stream failed", "error", err)
		return r.apologize(ctx), fmt.Errorf("memory query failed: %w", err)
	}

	r.remember(utterance, answer)
	return Result{Kind: Answered, Text: answer}, nil
}

// speakStream speaks a streamed reply sentence by sentence as tokens
// arrive, returning the fully assembled text. Each Enqueue blocks
// until its sentence has played, so consecutive priority sentences
// queue naturally instead of cancelling each other.
func (r *Router) speakStream(ctx context.Context, ch <-chan analysis.StreamEvent) (string, error) {
	seg := sentence.NewSegmenter()
	var full strings.Builder

	for ev := range ch {
		if ev.Err != nil {
			return "", ev.Err
		}
		full.WriteString(ev.Delta)
		for _, sent := range seg.Feed(ev.Delta) {
			r.speak(ctx, sent)
		}
	}
	if tail := seg.Flush(); tail != "" {
		r.speak(ctx, tail)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	answer := strings.TrimSpace(full.String())
	if answer == "" {
		return "", fmt.Errorf("model returned empty answer")
	}
	return answer, nil
}

// speakSentences splits already-complete text and speaks it the same
// way a streamed reply would be.
func (r *Router) speakSentences(ctx context.Context, text string) {
	seg := sentence.NewSegmenter()
	for _, sent := range seg.Feed(text) {
		r.speak(ctx, sent)
	}
	if tail := seg.Flush(); tail != "" {
		r.speak(ctx, tail)
	}
}

func (r *Router) speak(ctx context.Context, text string) {
	if err := r.queue.Enqueue(ctx, text, true); err != nil && ctx.Err() == nil {
		r.logger.Warn("failed to speak reply", "error", err)
	}
}

func (r *Router) apologize(ctx context.Context) Result {
	r.speak(ctx, MsgAnalysisFailed)
	return Result{Kind: AnalysisFailed, Text: MsgAnalysisFailed}
}

// remember appends a completed exchange, evicting the oldest turns
// beyond the configured bound.
func (r *Router) remember(question, answer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history,
		analysis.Turn{Role: analysis.RoleUser, Content: question},
		analysis.Turn{Role: analysis.RoleAssistant, Content: answer},
	)
	if excess := len(r.history) - r.cfg.MaxHistoryTurns; excess > 0 {
		r.history = r.history[excess:]
	}
}

// History returns a copy of the bounded conversation history.
func (r *Router) History() []analysis.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]analysis.Turn(nil), r.history...)
}

func matchesAny(utterance string, triggers []string) bool {
	for _, trigger := range triggers {
		if strings.Contains(utterance, trigger) {
			return true
		}
	}
	return false
}
