// Package claude implements analysis.Analyzer on the Anthropic
// Messages API.
package claude

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/owenh/sceneguide/internal/analysis"
	"github.com/owenh/sceneguide/internal/frame"
)

// maxTokens is generous for the one-or-two-sentence replies the
// prompts ask for, with headroom for verbose models.
const maxTokens = 512

type Analyzer struct {
	client *anthropic.Client
	model  anthropic.Model
}

func NewAnalyzer(apiKey, model string) *Analyzer {
	return &Analyzer{
		client: anthropic.NewClient(apiKey),
		model:  anthropic.Model(model),
	}
}

func (a *Analyzer) DescribeScene(ctx context.Context, f *frame.Frame) (<-chan analysis.StreamEvent, error) {
	msg := anthropic.Message{
		Role: anthropic.RoleUser,
		Content: []anthropic.MessageContent{
			imageContent(f),
			anthropic.NewTextMessageContent(analysis.ScenePrompt),
		},
	}
	return a.stream(ctx, "", []anthropic.Message{msg}), nil
}

func (a *Analyzer) Answer(ctx context.Context, q analysis.Question) (<-chan analysis.StreamEvent, error) {
	messages := historyMessages(q.History)
	messages = append(messages, userMessage(q))
	return a.stream(ctx, systemPrompt(q), messages), nil
}

// stream runs the request in a goroutine and forwards text deltas on
// the returned channel. The channel is closed when the stream ends; a
// failure that is not a ctx cancellation is delivered as the terminal
// event.
func (a *Analyzer) stream(ctx context.Context, system string, messages []anthropic.Message) <-chan analysis.StreamEvent {
	ch := make(chan analysis.StreamEvent, 16)

	go func() {
		defer close(ch)
		_, err := a.client.CreateMessagesStream(ctx, anthropic.MessagesStreamRequest{
			MessagesRequest: anthropic.MessagesRequest{
				Model:     a.model,
				System:    system,
				MaxTokens: maxTokens,
				Messages:  messages,
			},
			OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
				if data.Delta.Text == nil {
					return
				}
				select {
				case ch <- analysis.StreamEvent{Delta: *data.Delta.Text}:
				case <-ctx.Done():
				}
			},
		})
		if err != nil && ctx.Err() == nil {
			ch <- analysis.StreamEvent{Err: fmt.Errorf("claude stream failed: %w", err)}
		}
	}()

	return ch
}

// systemPrompt appends the remembered scene, if any, to the assistant
// instructions so recall questions can be answered without a frame.
func systemPrompt(q analysis.Question) string {
	system := analysis.AssistantPrompt
	if q.SceneContext != "" {
		system += "\n\nThe camera last saw: " + q.SceneContext
	}
	return system
}

func historyMessages(history []analysis.Turn) []anthropic.Message {
	messages := make([]anthropic.Message, 0, len(history)+1)
	for _, turn := range history {
		if turn.Role == analysis.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantTextMessage(turn.Content))
		} else {
			messages = append(messages, anthropic.NewUserTextMessage(turn.Content))
		}
	}
	return messages
}

func userMessage(q analysis.Question) anthropic.Message {
	if q.Frame == nil {
		return anthropic.NewUserTextMessage(q.Text)
	}
	return anthropic.Message{
		Role: anthropic.RoleUser,
		Content: []anthropic.MessageContent{
			imageContent(q.Frame),
			anthropic.NewTextMessageContent(q.Text),
		},
	}
}

func imageContent(f *frame.Frame) anthropic.MessageContent {
	return anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
		anthropic.MessagesContentSourceTypeBase64,
		normaliseMIME(f.MimeType),
		base64.StdEncoding.EncodeToString(f.Data),
	))
}

// normaliseMIME maps browser MIME types to the values the Anthropic API
// accepts. Unknown types are coerced to jpeg as the most universally
// supported lossy fallback.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
