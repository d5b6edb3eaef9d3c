package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Message is a single chat message sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request holds the generation parameters for one chat turn.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64 // 0 selects greedy decoding
	MaxTokens   int
}

// Delta is one streamed chunk of generated text. Err is set on the terminal
// delta when generation failed; the channel is closed after the last delta.
type Delta struct {
	Text string
	Done bool
	Err  error
}

// Backend defines the interface all generation backends must implement
type Backend interface {
	GetName() string

	// Stream starts generation and returns a channel of text deltas.
	// The channel is closed after a Done or Err delta. Cancelling ctx
	// stops generation.
	Stream(ctx context.Context, req Request) (<-chan Delta, error)

	// Close releases backend resources
	Close() error
}

// NewBackend creates a backend by name.
func NewBackend(name, baseURL, apiKey string) (Backend, error) {
	switch name {
	case BackendNameOpenAI:
		return NewOpenAIBackend(baseURL, apiKey), nil
	case BackendNameOllama:
		return NewOllamaBackend(baseURL), nil
	default:
		return nil, fmt.Errorf("invalid backend name: %s", name)
	}
}

// newHTTPClient returns the client used for streaming requests. No overall
// timeout: streams are bounded by the request context, not a client deadline.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}
