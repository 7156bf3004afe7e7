package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	GinMode     string
	CORSOrigins []string
	JWTSecret   string

	// Vector store (PostgREST-style HTTP API)
	StoreURL     string
	StoreAPIKey  string
	StoreTable   string
	StoreTimeout time.Duration

	// Embeddings configuration
	EmbeddingsProvider    string // "openai" (default), "google"
	OpenAIAPIKey          string
	OpenAIEmbeddingsURL   string
	OpenAIEmbeddingsModel string
	GeminiAPIKey          string
	GoogleEmbeddingsModel string
	VectorDimensions      int
	EmbedMaxTokens        int
	// EmbedCharsPerToken approximates provider tokenization when truncating
	// input. It is a heuristic; token-dense text may still overflow.
	EmbedCharsPerToken int
	EmbedTimeout       time.Duration
	EmbedRPM           int

	// Chunking
	MaxChunkSize int
	ChunkOverlap int

	// Retrieval defaults
	MatchThreshold float64
	MatchCount     int

	// Uploads
	MaxFileSize         int64
	FileStorageDir      string
	SyncProcessingLimit int64

	// MongoDB (async ingest job tracking)
	MongoURI string
	DBName   string

	// Redis (rate limiting + task queue)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Store health diagnostic interval, in minutes
	StoreHealthInterval int
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		StoreURL:     getEnv("STORE_URL", ""),
		StoreAPIKey:  getEnv("STORE_API_KEY", ""),
		StoreTable:   getEnv("STORE_TABLE", "documents"),
		StoreTimeout: time.Duration(getEnvInt("STORE_TIMEOUT_SECONDS", 30)) * time.Second,

		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "openai"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIEmbeddingsURL:   getEnv("OPENAI_EMBEDDINGS_URL", "https://api.openai.com/v1/embeddings"),
		OpenAIEmbeddingsModel: getEnv("OPENAI_EMBEDDINGS_MODEL", "text-embedding-3-small"),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		VectorDimensions:      getEnvInt("VECTOR_DIM", 1536),
		EmbedMaxTokens:        getEnvInt("EMBED_MAX_TOKENS", 8000),
		EmbedCharsPerToken:    getEnvInt("EMBED_CHARS_PER_TOKEN", 4),
		EmbedTimeout:          time.Duration(getEnvInt("EMBED_TIMEOUT_SECONDS", 30)) * time.Second,
		EmbedRPM:              getEnvInt("EMBED_RPM", 300),

		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),

		MatchThreshold: getEnvFloat64("MATCH_THRESHOLD", 0.7),
		MatchCount:     getEnvInt("MATCH_COUNT", 5),

		MaxFileSize:         getEnvInt64("MAX_FILE_SIZE", 52428800), // 50MB
		FileStorageDir:      getEnv("FILE_STORAGE_DIR", "./storage"),
		SyncProcessingLimit: getEnvInt64("SYNC_PROCESSING_LIMIT", 5242880), // 5MB

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/emergency_kb"),
		DBName:   getEnv("DB_NAME", "emergency_kb"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		StoreHealthInterval: getEnvInt("STORE_HEALTH_INTERVAL_MINUTES", 15),
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required - set it in .env file")
	}

	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("STORE_URL is required - set it in .env file")
	}

	if cfg.StoreAPIKey == "" {
		return nil, fmt.Errorf("STORE_API_KEY is required - set it in .env file")
	}

	// A missing embedding credential is a startup error, not a per-call one.
	switch cfg.EmbeddingsProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required - set it in .env file")
		}
	case "google":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
		}
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}

	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.MaxChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP must satisfy 0 <= overlap < MAX_CHUNK_SIZE")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
