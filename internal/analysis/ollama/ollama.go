// Package ollama implements analysis.Analyzer against a local Ollama
// server using its line-delimited JSON chat stream.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/owenh/sceneguide/internal/analysis"
	"github.com/owenh/sceneguide/internal/frame"
)

type Analyzer struct {
	host   string
	model  string
	client *http.Client
}

func NewAnalyzer(host, model string) *Analyzer {
	return &Analyzer{
		host:   host,
		model:  model,
		client: &http.Client{},
	}
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatChunk is one line of the Ollama streaming response.
type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (a *Analyzer) DescribeScene(ctx context.Context, f *frame.Frame) (<-chan analysis.StreamEvent, error) {
	messages := []chatMessage{{
		Role:    analysis.RoleUser,
		Content: analysis.ScenePrompt,
		Images:  []string{base64.StdEncoding.EncodeToString(f.Data)},
	}}
	return a.stream(ctx, messages)
}

func (a *Analyzer) Answer(ctx context.Context, q analysis.Question) (<-chan analysis.StreamEvent, error) {
	system := analysis.AssistantPrompt
	if q.SceneContext != "" {
		system += "\n\nThe camera last saw: " + q.SceneContext
	}

	messages := make([]chatMessage, 0, len(q.History)+2)
	messages = append(messages, chatMessage{Role: "system", Content: system})
	for _, turn := range q.History {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Content})
	}

	user := chatMessage{Role: analysis.RoleUser, Content: q.Text}
	if q.Frame != nil {
		user.Images = []string{base64.StdEncoding.EncodeToString(q.Frame.Data)}
	}
	messages = append(messages, user)

	return a.stream(ctx, messages)
}

// stream POSTs the chat request and forwards each line's content delta
// on the returned channel until the "done" line or ctx cancellation.
func (a *Analyzer) stream(ctx context.Context, messages []chatMessage) (<-chan analysis.StreamEvent, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    a.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call ollama: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, errBody)
	}

	ch := make(chan analysis.StreamEvent, 16)

	go func() {
		defer close(ch)
		defer func() {
			_ = resp.Body.Close()
		}()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			var chunk chatChunk
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				continue
			}
			if chunk.Message.Content != "" {
				select {
				case ch <- analysis.StreamEvent{Delta: chunk.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			ch <- analysis.StreamEvent{Err: fmt.Errorf("read ollama stream: %w", err)}
		}
	}()

	return ch, nil
}
