package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const BackendNameOllama = "ollama"

// DefaultOllamaBaseURL is the default base URL for a local Ollama server.
const DefaultOllamaBaseURL = "http://localhost:11434"

// OllamaBackend streams completions from the Ollama /api/chat endpoint.
type OllamaBackend struct {
	baseURL string
	client  *http.Client
}

// NewOllamaBackend creates a backend for the Ollama API at baseURL.
// If baseURL is empty, DefaultOllamaBaseURL is used.
func NewOllamaBackend(baseURL string) *OllamaBackend {
	u := strings.TrimSuffix(baseURL, "/")
	if u == "" {
		u = DefaultOllamaBaseURL
	}
	return &OllamaBackend{
		baseURL: u,
		client:  newHTTPClient(),
	}
}

// GetName returns the name of this backend
func (b *OllamaBackend) GetName() string {
	return BackendNameOllama
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Stream implements the Backend interface
func (b *OllamaBackend) Stream(ctx context.Context, req Request) (<-chan Delta, error) {
	payload := ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("ollama: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	deltas := make(chan Delta)
	go b.readStream(ctx, resp.Body, deltas)
	return deltas, nil
}

// readStream decodes the NDJSON response stream into deltas.
func (b *OllamaBackend) readStream(ctx context.Context, body io.ReadCloser, deltas chan<- Delta) {
	defer close(deltas)
	defer func() { _ = body.Close() }()

	decoder := json.NewDecoder(body)
	for {
		var chunk ollamaChunk
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				b.emit(ctx, deltas, Delta{Done: true})
				return
			}
			b.emit(ctx, deltas, Delta{Err: fmt.Errorf("ollama: failed to decode stream chunk: %w", err)})
			return
		}
		if chunk.Error != "" {
			b.emit(ctx, deltas, Delta{Err: fmt.Errorf("ollama: %s", chunk.Error)})
			return
		}
		if chunk.Message.Content != "" {
			if !b.emit(ctx, deltas, Delta{Text: chunk.Message.Content}) {
				return
			}
		}
		if chunk.Done {
			b.emit(ctx, deltas, Delta{Done: true})
			return
		}
	}
}

// emit sends a delta unless the context is already cancelled.
func (b *OllamaBackend) emit(ctx context.Context, deltas chan<- Delta, d Delta) bool {
	select {
	case deltas <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close implements the Backend interface
func (b *OllamaBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
