package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/hannes/meshchat/src/backend/config"
	"github.com/hannes/meshchat/src/backend/generate"
	"github.com/hannes/meshchat/src/backend/localgen"
	"github.com/hannes/meshchat/src/backend/providers"
	"github.com/hannes/meshchat/src/backend/server"
	"github.com/hannes/meshchat/src/backend/store"
)

const TRUE = "true"

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file from current directory")
	} else {
		log.Printf("Note: .env file not found or could not be loaded: %v", err)
	}

	cfg := config.DefaultConfig()

	configPath := flag.String("config", "", "Path to JSON config file")
	flag.Parse()

	if *configPath != "" {
		loadConfigFromFile(*configPath, cfg)
	}

	// Override configuration with environment variables
	loadConfigFromEnv(cfg)

	if err := cfg.ValidateConfig(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			log.Printf("Sentry initialization failed: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	transcripts := openStore(cfg)
	transcripts.SetDebugMode(cfg.Logging.DebugMode)
	defer func() {
		if err := transcripts.Close(); err != nil {
			log.Printf("Failed to close transcript store: %v", err)
		}
	}()

	backend, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("Failed to create generation backend: %v", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Printf("Failed to close backend: %v", err)
		}
	}()

	counter := openTokenCounter(cfg)
	if counter != nil {
		defer func() {
			if err := counter.Close(); err != nil {
				log.Printf("Failed to close tokenizer: %v", err)
			}
		}()
	}

	engine := generate.NewEngine(backend, counter, transcripts, cfg.Generation, cfg.Logging)

	// With the embed tag the UI ships inside the binary; otherwise it is
	// served from cfg.UIPath.
	var srv *server.Server
	if uiFS := uiFilesystem(); uiFS != nil {
		srv = server.NewServerWithEmbedded(cfg, engine, transcripts, uiFS)
		log.Println("Using embedded UI files (production mode)")
	} else {
		srv = server.NewServer(cfg, engine, transcripts)
		log.Printf("Using file system UI files from %s (development mode)", cfg.UIPath)
	}

	srv.StartWithErrorHandling()
}

// openStore connects to Postgres when enabled, falling back to the
// in-memory store so the service stays usable without a database.
func openStore(cfg *config.Config) store.TranscriptStore {
	if !cfg.Database.Enabled {
		return store.NewMemoryStore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg, err := store.NewPostgresStore(ctx, store.DatabaseConfig{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		Database:     cfg.Database.Database,
		Username:     cfg.Database.Username,
		Password:     cfg.Database.Password,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxLifetime:  time.Duration(cfg.Database.MaxLifetime) * time.Second,
	})
	if err != nil {
		log.Printf("Failed to connect to database, falling back to in-memory storage: %v", err)
		sentry.CaptureException(err)
		return store.NewMemoryStore()
	}
	return pg
}

func openBackend(cfg *config.Config) (providers.Backend, error) {
	if cfg.Generation.Backend == localgen.BackendNameLocal {
		return localgen.NewLocalBackend(cfg.ONNXModelPath, cfg.TokenizerPath, cfg.ModelCfgPath)
	}
	return providers.NewBackend(cfg.Generation.Backend, cfg.Generation.BaseURL, cfg.Generation.APIKey)
}

// openTokenCounter loads the HF tokenizer for prompt budgeting. A nil
// return makes the engine fall back to estimation.
func openTokenCounter(cfg *config.Config) generate.TokenCounter {
	if cfg.TokenizerPath == "" {
		return nil
	}
	counter, err := generate.NewHFTokenCounter(cfg.TokenizerPath)
	if err != nil {
		log.Printf("Tokenizer not available, estimating token counts: %v", err)
		return nil
	}
	return counter
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(path string, cfg *config.Config) {
	// #nosec G304 - Config file path is controlled by application, not user input
	file, err := os.Open(path)
	if err != nil {
		log.Printf("Failed to open config file: %v", err)
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Printf("Failed to close config file: %v", err)
		}
	}()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		log.Printf("Failed to decode config file: %v", err)
	}
}

// loadConfigFromEnv loads configuration from environment variables
func loadConfigFromEnv(cfg *config.Config) {
	loadApplicationConfig(cfg)
	loadGenerationConfig(cfg)
	loadDatabaseConfig(cfg)
	loadLoggingConfig(cfg)
}

// loadApplicationConfig loads application configuration from environment variables
func loadApplicationConfig(cfg *config.Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		cfg.SentryDSN = dsn
	}
	if path := os.Getenv("TOKENIZER_PATH"); path != "" {
		cfg.TokenizerPath = path
	}
	if path := os.Getenv("ONNX_MODEL_PATH"); path != "" {
		cfg.ONNXModelPath = path
	}
	if path := os.Getenv("MODEL_CONFIG_PATH"); path != "" {
		cfg.ModelCfgPath = path
	}
	if path := os.Getenv("UI_PATH"); path != "" {
		cfg.UIPath = path
	}
	if raw := os.Getenv("MESH_MAX_OBJ_BYTES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Mesh.MaxOBJBytes = v
		}
	}
	if dir := os.Getenv("MESH_SAVE_DIR"); dir != "" {
		cfg.Mesh.SaveDir = dir
	}
	if enabled := os.Getenv("RATE_LIMIT_ENABLED"); enabled != "" {
		cfg.RateLimit.Enabled = enabled == TRUE
	}
	if raw := os.Getenv("RATE_LIMIT_RPS"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.RateLimit.RPS = v
		}
	}
	if raw := os.Getenv("RATE_LIMIT_BURST"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.RateLimit.Burst = v
		}
	}
}

// loadGenerationConfig loads generation configuration from environment variables
func loadGenerationConfig(cfg *config.Config) {
	if backend := os.Getenv("LLM_BACKEND"); backend != "" {
		cfg.Generation.Backend = backend
	}
	if baseURL := os.Getenv("LLM_BASE_URL"); baseURL != "" {
		cfg.Generation.BaseURL = baseURL
	}
	if apiKey := os.Getenv("LLM_API_KEY"); apiKey != "" {
		cfg.Generation.APIKey = apiKey
		log.Printf("Loaded LLM_API_KEY from environment (length: %d)", len(apiKey))
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		cfg.Generation.Model = model
	}
	if raw := os.Getenv("LLM_CONTEXT_WINDOW"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Generation.ContextWindow = v
		}
	}
	if raw := os.Getenv("LLM_TEMPERATURE"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.Generation.Temperature = config.ClampTemperature(v)
		}
	}
	if raw := os.Getenv("LLM_MAX_NEW_TOKENS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Generation.MaxNewTokens = config.ClampNewTokens(v)
		}
	}
	if prompt := os.Getenv("LLM_SYSTEM_PROMPT"); prompt != "" {
		cfg.Generation.SystemPrompt = prompt
	}
}

// loadDatabaseConfig loads database configuration from environment variables
func loadDatabaseConfig(cfg *config.Config) {
	if dbEnabled := os.Getenv("DB_ENABLED"); dbEnabled != "" {
		cfg.Database.Enabled = dbEnabled == TRUE
	}
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		cfg.Database.Database = dbName
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.Database.Username = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if sslMode := os.Getenv("DB_SSL_MODE"); sslMode != "" {
		cfg.Database.SSLMode = sslMode
	}
}

// loadLoggingConfig loads logging configuration from environment variables
func loadLoggingConfig(cfg *config.Config) {
	if logRequests := os.Getenv("LOG_REQUESTS"); logRequests != "" {
		cfg.Logging.LogRequests = logRequests == TRUE
	}
	if logDeltas := os.Getenv("LOG_DELTAS"); logDeltas != "" {
		cfg.Logging.LogDeltas = logDeltas == TRUE
	}
	if logMeshes := os.Getenv("LOG_MESHES"); logMeshes != "" {
		cfg.Logging.LogMeshes = logMeshes == TRUE
	}
	if logTiming := os.Getenv("LOG_TIMING"); logTiming != "" {
		cfg.Logging.LogTiming = logTiming == TRUE
	}
	if debug := os.Getenv("DEBUG_MODE"); debug != "" {
		cfg.Logging.DebugMode = debug == TRUE
	}
}
