package analysis

import (
	"context"
	"strings"

	"github.com/owenh/sceneguide/internal/frame"
)

// ScenePrompt is the fixed instruction sent with every sampled frame.
const ScenePrompt = `Describe what is physically in front of the camera in one or two short
spoken sentences. Mention obstacles, people, furniture, doorways and
anything a person walking forward should know about. Do not speculate
about things outside the frame.`

// AssistantPrompt frames direct questions to the model.
const AssistantPrompt = `You are a spoken assistant describing the user's surroundings. Answer in
one or two short sentences suitable for text-to-speech. When a scene
description is provided, treat it as what the camera last saw.`

// Role values for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior exchange passed back to the model as context.
type Turn struct {
	Role    string
	Content string
}

// Question is a direct user query. Frame and SceneContext are both
// optional: a visual query carries a fresh frame, a recall query
// carries the remembered scene text instead.
type Question struct {
	Text         string
	Frame        *frame.Frame
	SceneContext string
	History      []Turn
}

// StreamEvent is one increment of a streamed model response. Err is
// non-nil only for the terminal event of a failed stream; the channel
// closing is the end-of-stream marker.
type StreamEvent struct {
	Delta string
	Err   error
}

// Analyzer is the streaming LLM collaborator. Both methods return a
// channel of text deltas that is closed when the stream ends or ctx is
// cancelled; callers cancel an in-flight request through ctx.
type Analyzer interface {
	// DescribeScene streams a description of the given frame.
	DescribeScene(ctx context.Context, f *frame.Frame) (<-chan StreamEvent, error)
	// Answer streams a response to a direct question.
	Answer(ctx context.Context, q Question) (<-chan StreamEvent, error)
}

// Collect drains a stream into the full response text. It returns the
// text assembled so far plus the stream's error, if any, and stops
// early when ctx is cancelled.
func Collect(ctx context.Context, ch <-chan StreamEvent) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return b.String(), nil
			}
			if ev.Err != nil {
				return b.String(), ev.Err
			}
			b.WriteString(ev.Delta)
		}
	}
}
