package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// DatabaseConfig holds Postgres connection configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// PostgresStore implements TranscriptStore for PostgreSQL
type PostgresStore struct {
	db        *sql.DB
	debugMode bool
}

// NewPostgresStore creates a new PostgreSQL transcript store
func NewPostgresStore(ctx context.Context, config DatabaseConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.MaxLifetime)

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		if cerr := db.Close(); cerr != nil {
			log.Printf("[Store] Failed to close connection during cleanup: %v", cerr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Create tables if they don't exist
	if err := createTablesIfNotExist(ctx, db); err != nil {
		if cerr := db.Close(); cerr != nil {
			log.Printf("[Store] Failed to close connection during cleanup: %v", cerr)
		}
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// createTablesIfNotExist creates the transcript tables if they don't exist
func createTablesIfNotExist(ctx context.Context, db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS turns (
		id UUID PRIMARY KEY,
		conversation_id UUID,
		role VARCHAR(20) NOT NULL,
		content TEXT NOT NULL,
		model VARCHAR(100),
		temperature REAL,
		max_tokens INTEGER,
		has_mesh BOOLEAN DEFAULT FALSE,
		failed BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS visualizations (
		id UUID PRIMARY KEY,
		vertex_count INTEGER NOT NULL,
		face_count INTEGER NOT NULL,
		glb_size INTEGER NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	-- Create indexes for better performance
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_turns_created_at ON turns(created_at);
	CREATE INDEX IF NOT EXISTS idx_turns_has_mesh ON turns(has_mesh);
	CREATE INDEX IF NOT EXISTS idx_visualizations_created_at ON visualizations(created_at);
	`

	_, err := db.ExecContext(ctx, query)
	return err
}

// CreateConversation creates a new conversation and returns its id
func (p *PostgresStore) CreateConversation(ctx context.Context) (string, error) {
	id := uuid.NewString()
	query := `INSERT INTO conversations (id, created_at) VALUES ($1, NOW())`
	if _, err := p.db.ExecContext(ctx, query, id); err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	return id, nil
}

// AppendTurn stores a turn; a missing id is assigned
func (p *PostgresStore) AppendTurn(ctx context.Context, turn *Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	content := truncateContent(turn.Content)

	if p.debugMode {
		log.Printf("[Store] AppendTurn: role=%s content=%d bytes mesh=%v failed=%v",
			turn.Role, len(content), turn.HasMesh, turn.Failed)
	}

	var convID interface{}
	if turn.ConversationID != "" {
		convID = turn.ConversationID
	}

	query := `
	INSERT INTO turns (id, conversation_id, role, content, model, temperature, max_tokens, has_mesh, failed, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := p.db.ExecContext(ctx, query, turn.ID, convID, turn.Role, content,
		turn.Model, turn.Temperature, turn.MaxTokens, turn.HasMesh, turn.Failed, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

// RecordVisualization stores a visualization record
func (p *PostgresStore) RecordVisualization(ctx context.Context, viz *Visualization) error {
	if viz.ID == "" {
		viz.ID = uuid.NewString()
	}
	if viz.CreatedAt.IsZero() {
		viz.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO visualizations (id, vertex_count, face_count, glb_size, created_at)
	VALUES ($1, $2, $3, $4, $5)
	`
	_, err := p.db.ExecContext(ctx, query, viz.ID, viz.VertexCount, viz.FaceCount, viz.GLBSize, viz.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert visualization: %w", err)
	}
	return nil
}

// GetTurns retrieves recent turns, newest first
func (p *PostgresStore) GetTurns(ctx context.Context, limit int, offset int) ([]Turn, error) {
	query := `
	SELECT id, COALESCE(conversation_id::text, ''), role, content,
	       COALESCE(model, ''), COALESCE(temperature, 0), COALESCE(max_tokens, 0),
	       has_mesh, failed, created_at
	FROM turns
	ORDER BY created_at DESC
	LIMIT $1 OFFSET $2
	`

	rows, err := p.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content,
			&t.Model, &t.Temperature, &t.MaxTokens, &t.HasMesh, &t.Failed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turn rows: %w", err)
	}
	return turns, nil
}

// GetTurnsCount returns the total number of stored turns
func (p *PostgresStore) GetTurnsCount(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get turns count: %w", err)
	}
	return count, nil
}

// ClearTurns removes all turns
func (p *PostgresStore) ClearTurns(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM turns`)
	if err != nil {
		return fmt.Errorf("failed to clear turns: %w", err)
	}
	log.Println("[Store] All turns cleared")
	return nil
}

// SetDebugMode enables or disables debug logging
func (p *PostgresStore) SetDebugMode(enabled bool) {
	p.debugMode = enabled
}

// Close closes the database connection
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
