package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/hannes/meshchat/src/backend/config"
	"github.com/hannes/meshchat/src/backend/generate"
	"github.com/hannes/meshchat/src/backend/providers"
)

type chatRequest struct {
	ConversationID string              `json:"conversation_id,omitempty"`
	Message        string              `json:"message"`
	History        []providers.Message `json:"history,omitempty"`
	Temperature    *float64            `json:"temperature,omitempty"`
	MaxNewTokens   int                 `json:"max_new_tokens,omitempty"`
}

// handleChat streams a generated reply as server-sent events. Each
// event is one JSON frame; the stream ends with a [DONE] sentinel.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.corsHandler(w, r)
		w.WriteHeader(http.StatusOK)
		return
	}
	s.corsHandler(w, r)

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	temperature := s.config.Generation.Temperature
	if req.Temperature != nil {
		temperature = config.ClampTemperature(*req.Temperature)
	}
	maxNew := config.ClampNewTokens(req.MaxNewTokens)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := s.engine.Chat(r.Context(), generate.Request{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		History:        req.History,
		Temperature:    temperature,
		MaxNewTokens:   maxNew,
	})

	for ev := range events {
		frame, err := json.Marshal(ev)
		if err != nil {
			log.Printf("[Server] Failed to marshal event: %v", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
			// Client went away. Draining the channel lets the engine
			// finish its bookkeeping.
			for range events {
			}
			return
		}
		flusher.Flush()
	}

	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err == nil {
		flusher.Flush()
	}
}

// clientIP identifies the caller for rate limiting, trusting
// X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
