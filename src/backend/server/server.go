package server

import (
	"context"
	"encoding/json"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/hannes/meshchat/src/backend/config"
	"github.com/hannes/meshchat/src/backend/generate"
	"github.com/hannes/meshchat/src/backend/store"
)

// examplePrompts seeds the UI's example picker.
var examplePrompts = []string{
	"Create a 3D model of a wooden hammer",
	"Create a 3D model of a pyramid in obj format",
	"Create a 3D model of a cabinet.",
	"Create a low poly 3D model of a coffe cup",
	"Create a 3D model of a table.",
	"Create a low poly 3D model of a tree.",
	"Write a python code for sorting.",
	"How to setup a human base on Mars? Give short answer.",
	"Explain theory of relativity to me like I'm 8 years old.",
	"What is 9,000 * 9,000?",
	"Create a 3D model of a soda can.",
	"Create a 3D model of a sword.",
	"Create a 3D model of a wooden barrel",
	"Create a 3D model of a chair.",
}

// Server represents the HTTP server
type Server struct {
	config      *config.Config
	engine      *generate.Engine
	transcripts store.TranscriptStore
	limiter     *ipLimiter
	uiFS        fs.FS
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, engine *generate.Engine, transcripts store.TranscriptStore) *Server {
	var limiter *ipLimiter
	if cfg.RateLimit.Enabled {
		limiter = newIPLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	return &Server{
		config:      cfg,
		engine:      engine,
		transcripts: transcripts,
		limiter:     limiter,
	}
}

// NewServerWithEmbedded creates a new server instance serving the UI
// from an embedded filesystem
func NewServerWithEmbedded(cfg *config.Config, engine *generate.Engine, transcripts store.TranscriptStore, uiFS fs.FS) *Server {
	s := NewServer(cfg, engine, transcripts)
	s.uiFS = uiFS
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthCheck)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/mesh/visualize", s.handleVisualize)
	mux.HandleFunc("/api/transcripts", s.handleTranscripts)
	mux.HandleFunc("/api/examples", s.handleExamples)
	mux.HandleFunc("/api/tokenize", s.handleTokenize)

	// Serve UI files
	if s.uiFS != nil {
		// The embedded files live under "frontend/dist/" but are served at "/"
		subFS, err := fs.Sub(s.uiFS, "frontend/dist")
		if err != nil {
			log.Printf("Failed to create sub-filesystem: %v", err)
			mux.Handle("/", http.FileServer(http.FS(s.uiFS)))
		} else {
			mux.Handle("/", http.FileServer(http.FS(subFS)))
		}
	} else {
		mux.Handle("/", http.FileServer(http.Dir(s.config.UIPath)))
	}

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting mesh chat service on port %s", s.config.Port)
	log.Printf("Generation backend: %s (model %s)", s.engine.BackendName(), s.config.Generation.Model)

	if s.config.Database.Enabled {
		log.Println("Database storage enabled")
	} else {
		log.Println("Using in-memory storage")
	}

	// WriteTimeout stays zero: /api/chat holds the connection open for
	// the whole generation.
	server := &http.Server{
		Addr:        s.config.Port,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return server.ListenAndServe()
}

// StartWithErrorHandling starts the server with proper error handling
func (s *Server) StartWithErrorHandling() {
	if err := s.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// healthCheck provides a simple health check endpoint
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.corsHandler(w, r)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"healthy","service":"Mesh Chat Service"}`)); err != nil {
		log.Printf("Failed to write health check response: %v", err)
	}
}

// corsHandler adds CORS headers to the response
func (s *Server) corsHandler(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Credentials", "false")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// handleTranscripts serves the recorded conversation turns. GET lists
// newest first, DELETE clears the log.
func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.corsHandler(w, r)
		w.WriteHeader(http.StatusOK)
		return
	}
	s.corsHandler(w, r)

	if s.transcripts == nil {
		http.Error(w, "Transcript storage not enabled", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		limit := parseIntParam(r, "limit", 100)
		offset := parseIntParam(r, "offset", 0)

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		turns, err := s.transcripts.GetTurns(ctx, limit, offset)
		if err != nil {
			log.Printf("[Server] Failed to fetch turns: %v", err)
			http.Error(w, "Failed to fetch transcripts", http.StatusInternalServerError)
			return
		}
		total, err := s.transcripts.GetTurnsCount(ctx)
		if err != nil {
			log.Printf("[Server] Failed to count turns: %v", err)
			http.Error(w, "Failed to fetch transcripts", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"turns":  turns,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Printf("[Server] Failed to encode transcripts: %v", err)
		}

	case http.MethodDelete:
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if err := s.transcripts.ClearTurns(ctx); err != nil {
			log.Printf("[Server] Failed to clear turns: %v", err)
			http.Error(w, "Failed to clear transcripts", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleExamples(w http.ResponseWriter, r *http.Request) {
	s.corsHandler(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string][]string{"examples": examplePrompts}); err != nil {
		log.Printf("[Server] Failed to encode examples: %v", err)
	}
}

// handleTokenize reports the token count of a piece of text, so the UI
// can warn before a prompt blows the context window.
func (s *Server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	s.corsHandler(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]int{"tokens": s.engine.CountTokens(req.Text)}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[Server] Failed to encode token count: %v", err)
	}
}

func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
