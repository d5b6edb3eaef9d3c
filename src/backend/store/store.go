// Package store persists chat transcripts and mesh visualization records.
// A Postgres implementation is used when the database is enabled and
// reachable; otherwise an in-memory implementation serves as fallback so
// the demo keeps working without infrastructure.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory retention constants
const (
	// DefaultMaxTurns is the maximum number of turns the in-memory store retains
	DefaultMaxTurns = 5000
	// MaxContentSize is the maximum stored size of a turn's content in bytes
	MaxContentSize = 50 * 1024
)

// Turn is one chat message (user or assistant) in a conversation.
type Turn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model,omitempty"`
	Temperature    float64   `json:"temperature,omitempty"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	HasMesh        bool      `json:"has_mesh"`
	Failed         bool      `json:"failed"`
	CreatedAt      time.Time `json:"created_at"`
}

// Visualization records one OBJ-to-GLB conversion.
type Visualization struct {
	ID          string    `json:"id"`
	VertexCount int       `json:"vertex_count"`
	FaceCount   int       `json:"face_count"`
	GLBSize     int       `json:"glb_size"`
	CreatedAt   time.Time `json:"created_at"`
}

// TranscriptStore defines the interface for transcript storage operations
type TranscriptStore interface {
	// CreateConversation creates a new conversation and returns its id
	CreateConversation(ctx context.Context) (string, error)

	// AppendTurn stores a turn; a missing id is assigned
	AppendTurn(ctx context.Context, turn *Turn) error

	// RecordVisualization stores a visualization record
	RecordVisualization(ctx context.Context, viz *Visualization) error

	// GetTurns retrieves recent turns, newest first
	GetTurns(ctx context.Context, limit int, offset int) ([]Turn, error)

	// GetTurnsCount returns the total number of stored turns
	GetTurnsCount(ctx context.Context) (int, error)

	// ClearTurns removes all turns
	ClearTurns(ctx context.Context) error

	// SetDebugMode enables or disables debug logging
	SetDebugMode(enabled bool)

	// Close closes the store
	Close() error
}

// truncateContent caps a turn's content at MaxContentSize.
func truncateContent(content string) string {
	if len(content) > MaxContentSize {
		return content[:MaxContentSize] + "... [truncated]"
	}
	return content
}

// MemoryStore implements TranscriptStore with in-process storage (fallback)
type MemoryStore struct {
	mu             sync.RWMutex
	conversations  map[string]time.Time
	turns          []Turn
	visualizations []Visualization
	maxTurns       int
	debugMode      bool
}

// NewMemoryStore creates a new in-memory transcript store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]time.Time),
		maxTurns:      DefaultMaxTurns,
	}
}

// CreateConversation creates a new conversation and returns its id
func (s *MemoryStore) CreateConversation(_ context.Context) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	s.conversations[id] = time.Now()
	s.mu.Unlock()
	return id, nil
}

// AppendTurn stores a turn; a missing id is assigned
func (s *MemoryStore) AppendTurn(_ context.Context, turn *Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	turn.Content = truncateContent(turn.Content)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, *turn)
	if len(s.turns) > s.maxTurns {
		s.turns = s.turns[len(s.turns)-s.maxTurns:]
	}
	return nil
}

// RecordVisualization stores a visualization record
func (s *MemoryStore) RecordVisualization(_ context.Context, viz *Visualization) error {
	if viz.ID == "" {
		viz.ID = uuid.NewString()
	}
	if viz.CreatedAt.IsZero() {
		viz.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.visualizations = append(s.visualizations, *viz)
	s.mu.Unlock()
	return nil
}

// Visualizations returns a copy of the recorded visualizations.
func (s *MemoryStore) Visualizations() []Visualization {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Visualization, len(s.visualizations))
	copy(out, s.visualizations)
	return out
}

// GetTurns retrieves recent turns, newest first
func (s *MemoryStore) GetTurns(_ context.Context, limit int, offset int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.turns)
	start := n - offset - limit
	end := n - offset
	if end < 0 {
		end = 0
	}
	if start < 0 {
		start = 0
	}

	turns := make([]Turn, 0, end-start)
	for i := end - 1; i >= start; i-- {
		turns = append(turns, s.turns[i])
	}
	return turns, nil
}

// GetTurnsCount returns the total number of stored turns
func (s *MemoryStore) GetTurnsCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns), nil
}

// ClearTurns removes all turns
func (s *MemoryStore) ClearTurns(_ context.Context) error {
	s.mu.Lock()
	s.turns = nil
	s.mu.Unlock()
	return nil
}

// SetDebugMode enables or disables debug logging
func (s *MemoryStore) SetDebugMode(enabled bool) {
	s.debugMode = enabled
}

// Close implements TranscriptStore
func (s *MemoryStore) Close() error {
	return nil
}
