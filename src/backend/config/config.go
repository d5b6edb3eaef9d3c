package config

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	LogRequests bool // Log incoming chat requests
	LogDeltas   bool // Log every streamed token delta (very noisy)
	LogMeshes   bool // Log extracted mesh statistics
	LogTiming   bool // Log per-turn generation timing
	DebugMode   bool // Enable debug logging for store operations
}

// DatabaseConfig holds transcript database configuration
type DatabaseConfig struct {
	Enabled      bool   // Whether to use Postgres transcript storage
	Host         string // Database host
	Port         int    // Database port
	Database     string // Database name
	Username     string // Database username
	Password     string // Database password
	SSLMode      string // SSL mode (disable, require, etc.)
	MaxOpenConns int    // Maximum open connections
	MaxIdleConns int    // Maximum idle connections
	MaxLifetime  int    // Connection max lifetime in seconds
}

// GenerationConfig holds language model generation configuration
type GenerationConfig struct {
	Backend       string  // "openai", "ollama" or "local"
	BaseURL       string  // Chat API base URL for remote backends
	APIKey        string  // API key for remote backends
	Model         string  // Model name sent to remote backends
	ContextWindow int     // Total token budget for prompt + completion
	Temperature   float64 // Default sampling temperature
	MaxNewTokens  int     // Default completion token budget
	SystemPrompt  string  // Optional system message prepended to every conversation
}

// MeshConfig holds mesh conversion configuration
type MeshConfig struct {
	MaxOBJBytes int    // Reject pasted OBJ payloads larger than this
	SaveDir     string // Directory for ?save= GLB output; empty disables saving
}

// RateLimitConfig holds per-client rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    // Whether rate limiting is applied
	RPS     float64 // Sustained requests per second per client
	Burst   int     // Burst size per client
}

// Config holds all configuration for the mesh chat service
type Config struct {
	Port          string
	SentryDSN     string
	Generation    GenerationConfig
	TokenizerPath string // HF tokenizer.json, used for budgets and the local backend
	ONNXModelPath string // Decoder model for the local backend
	ModelCfgPath  string // Model metadata (vocab size, eos, max positions) for the local backend
	UIPath        string // File system UI path (development mode)
	Mesh          MeshConfig
	RateLimit     RateLimitConfig
	Database      DatabaseConfig
	Logging       LoggingConfig
}

// Generation parameter bounds, matching the UI sliders.
const (
	MinTemperature   = 0.0
	MaxTemperature   = 1.0
	MinNewTokens     = 128
	MaxNewTokens     = 8192
	DefaultNewTokens = 4096
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Port: ":8080",
		Generation: GenerationConfig{
			Backend:       "ollama",
			BaseURL:       "http://localhost:11434",
			Model:         "llama-mesh",
			ContextWindow: 8192,
			Temperature:   0.95,
			MaxNewTokens:  DefaultNewTokens,
		},
		TokenizerPath: "model/tokenizer.json",
		ONNXModelPath: "model/model.onnx",
		ModelCfgPath:  "model/model_config.json",
		UIPath:        "./src/backend/frontend/dist",
		Mesh: MeshConfig{
			MaxOBJBytes: 4 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     2,
			Burst:   5,
		},
		Database: DatabaseConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "meshchat",
			Username:     "postgres",
			Password:     "",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 25,
			MaxLifetime:  300,
		},
		Logging: LoggingConfig{
			LogRequests: true,
			LogMeshes:   true,
			LogTiming:   true,
		},
	}
}

// ClampTemperature clamps t to the supported sampling range.
func ClampTemperature(t float64) float64 {
	if t < MinTemperature {
		return MinTemperature
	}
	if t > MaxTemperature {
		return MaxTemperature
	}
	return t
}

// ClampNewTokens clamps n to the supported completion budget range.
// Non-positive values select the default budget.
func ClampNewTokens(n int) int {
	if n <= 0 {
		return DefaultNewTokens
	}
	if n < MinNewTokens {
		return MinNewTokens
	}
	if n > MaxNewTokens {
		return MaxNewTokens
	}
	return n
}
