package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const BackendNameOpenAI = "openai"

// OpenAIBackend streams completions from an OpenAI-compatible
// /chat/completions endpoint (OpenAI, vLLM, llama.cpp server, etc).
type OpenAIBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAIBackend creates a backend for the given base URL, e.g.
// "https://api.openai.com/v1" or "http://localhost:8000/v1".
func NewOpenAIBackend(baseURL, apiKey string) *OpenAIBackend {
	return &OpenAIBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  newHTTPClient(),
	}
}

// GetName returns the name of this backend
func (b *OpenAIBackend) GetName() string {
	return BackendNameOpenAI
}

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Stream implements the Backend interface
func (b *OpenAIBackend) Stream(ctx context.Context, req Request) (<-chan Delta, error) {
	payload := openAIChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("openai: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	deltas := make(chan Delta)
	go b.readStream(ctx, resp.Body, deltas)
	return deltas, nil
}

// readStream decodes SSE "data:" frames into deltas until [DONE] or EOF.
func (b *OpenAIBackend) readStream(ctx context.Context, body io.ReadCloser, deltas chan<- Delta) {
	defer close(deltas)
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			b.emit(ctx, deltas, Delta{Done: true})
			return
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			b.emit(ctx, deltas, Delta{Err: fmt.Errorf("openai: failed to decode stream chunk: %w", err)})
			return
		}
		if chunk.Error != nil {
			b.emit(ctx, deltas, Delta{Err: fmt.Errorf("openai: %s", chunk.Error.Message)})
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if !b.emit(ctx, deltas, Delta{Text: choice.Delta.Content}) {
				return
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			b.emit(ctx, deltas, Delta{Done: true})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		b.emit(ctx, deltas, Delta{Err: fmt.Errorf("openai: stream read failed: %w", err)})
		return
	}
	// Stream ended without [DONE]; treat as complete.
	b.emit(ctx, deltas, Delta{Done: true})
}

// emit sends a delta unless the context is already cancelled.
func (b *OpenAIBackend) emit(ctx context.Context, deltas chan<- Delta, d Delta) bool {
	select {
	case deltas <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close implements the Backend interface
func (b *OpenAIBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
