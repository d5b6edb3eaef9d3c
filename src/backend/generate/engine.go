// Package generate runs chat turns against a generation backend,
// streaming token deltas while accumulating the full reply, extracting
// generated meshes and recording transcripts.
package generate

import (
	"context"
	"log"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hannes/meshchat/src/backend/config"
	"github.com/hannes/meshchat/src/backend/mesh"
	"github.com/hannes/meshchat/src/backend/providers"
	"github.com/hannes/meshchat/src/backend/store"
)

// generationFailedNotice is appended to the partial output when the
// streaming loop fails, mirroring the behavior users see in the chat.
const generationFailedNotice = "\n\n[Error during generation. Please try again.]"

// Event types emitted on the chat stream.
const (
	EventDelta = "delta" // Text holds a chunk of generated text
	EventMesh  = "mesh"  // OBJ holds the extracted mesh
	EventDone  = "done"  // Text holds the full reply
	EventError = "error" // Text holds the user-facing error notice
)

// Event is one item on a chat turn's output stream.
type Event struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	OBJ  string `json:"obj,omitempty"`
}

// Request is one chat turn to generate.
type Request struct {
	ConversationID string
	Message        string
	History        []providers.Message
	Temperature    float64
	MaxNewTokens   int
}

// Engine orchestrates chat generation.
type Engine struct {
	backend providers.Backend
	counter TokenCounter
	store   store.TranscriptStore
	cfg     config.GenerationConfig
	logging config.LoggingConfig
}

// NewEngine creates a chat engine. counter may be nil, in which case
// token budgets are estimated.
func NewEngine(backend providers.Backend, counter TokenCounter, transcripts store.TranscriptStore,
	cfg config.GenerationConfig, logging config.LoggingConfig) *Engine {
	if counter == nil {
		counter = EstimateCounter{}
	}
	return &Engine{
		backend: backend,
		counter: counter,
		store:   transcripts,
		cfg:     cfg,
		logging: logging,
	}
}

// BackendName returns the name of the active generation backend.
func (e *Engine) BackendName() string {
	return e.backend.GetName()
}

// CountTokens returns the engine's token count for text.
func (e *Engine) CountTokens(text string) int {
	return e.counter.Count(text)
}

// Chat generates one turn. Events are delivered on the returned channel,
// which is closed after a done or error event. Errors from the backend
// are caught here, appended to the partial output as a literal notice,
// and reported; the stream itself never fails once started.
func (e *Engine) Chat(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event)
	go e.run(ctx, req, events)
	return events
}

func (e *Engine) run(ctx context.Context, req Request, events chan<- Event) {
	defer close(events)

	messages := e.buildMessages(req)
	if e.logging.LogRequests {
		log.Printf("[Generate] Chat turn: %d messages, temperature=%.2f, max_new_tokens=%d, prompt≈%d tokens",
			len(messages), req.Temperature, req.MaxNewTokens, promptTokens(e.counter, messages))
	}

	e.recordTurn(ctx, &store.Turn{
		ConversationID: req.ConversationID,
		Role:           "user",
		Content:        req.Message,
	})

	start := time.Now()
	deltas, err := e.backend.Stream(ctx, providers.Request{
		Model:       e.cfg.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxNewTokens,
	})
	if err != nil {
		e.fail(ctx, req, "", err, events)
		return
	}

	var output []byte
	for d := range deltas {
		if d.Err != nil {
			e.fail(ctx, req, string(output), d.Err, events)
			return
		}
		if d.Text != "" {
			output = append(output, d.Text...)
			if e.logging.LogDeltas {
				log.Printf("[Generate] delta: %q", d.Text)
			}
			if !emit(ctx, events, Event{Type: EventDelta, Text: d.Text}) {
				return
			}
		}
		if d.Done {
			break
		}
	}
	if ctx.Err() != nil {
		// Client went away mid-stream; nothing left to deliver.
		log.Printf("[Generate] Stream cancelled after %d bytes", len(output))
		return
	}

	reply := string(output)
	turn := &store.Turn{
		ConversationID: req.ConversationID,
		Role:           "assistant",
		Content:        reply,
		Model:          e.cfg.Model,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxNewTokens,
	}

	if obj, ok := mesh.Extract(reply); ok {
		turn.HasMesh = true
		if e.logging.LogMeshes {
			if m, err := mesh.Parse(obj); err == nil {
				log.Printf("[Generate] Extracted mesh: %d vertices, %d faces", m.VertexCount(), m.FaceCount())
			} else {
				log.Printf("[Generate] Extracted mesh block does not parse: %v", err)
			}
		}
		if !emit(ctx, events, Event{Type: EventMesh, OBJ: obj}) {
			return
		}
	}

	e.recordTurn(ctx, turn)
	if e.logging.LogTiming {
		log.Printf("[Generate] Turn complete: %d bytes in %s", len(reply), time.Since(start).Round(time.Millisecond))
	}
	emit(ctx, events, Event{Type: EventDone, Text: reply})
}

// fail implements the broad catch around the streaming loop: the partial
// output plus a literal notice is surfaced in-chat, the cause is logged
// and reported, and the turn is recorded as failed.
func (e *Engine) fail(ctx context.Context, req Request, partial string, cause error, events chan<- Event) {
	log.Printf("[Generate] ❌ Error during streaming: %v", cause)
	sentry.CaptureException(cause)

	e.recordTurn(ctx, &store.Turn{
		ConversationID: req.ConversationID,
		Role:           "assistant",
		Content:        partial + generationFailedNotice,
		Model:          e.cfg.Model,
		Failed:         true,
	})
	emit(ctx, events, Event{Type: EventError, Text: generationFailedNotice})
}

// buildMessages assembles the prompt: optional system message, trimmed
// history, then the new user message.
func (e *Engine) buildMessages(req Request) []providers.Message {
	messages := make([]providers.Message, 0, len(req.History)+2)
	if e.cfg.SystemPrompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: e.cfg.SystemPrompt})
	}
	messages = append(messages, req.History...)
	messages = append(messages, providers.Message{Role: "user", Content: req.Message})
	return trimToBudget(e.counter, messages, e.cfg.ContextWindow, req.MaxNewTokens)
}

// recordTurn stores a turn; storage failures never fail the chat.
func (e *Engine) recordTurn(ctx context.Context, turn *store.Turn) {
	if e.store == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.AppendTurn(storeCtx, turn); err != nil {
		log.Printf("[Generate] ⚠️  Failed to record %s turn: %v", turn.Role, err)
	}
}

// emit sends an event unless the context is already cancelled.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
