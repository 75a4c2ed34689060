package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fabfab/statute-rag/statute"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

type EmbeddingConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type LLMConfig struct {
	Provider string
	Model    string
}

type Config struct {
	PostgresDSN string
	Neo4jURI    string
	Neo4jUser   string
	Neo4jPass   string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	Embeddings EmbeddingConfig
	LLM        LLMConfig

	SourceFile     string
	LawName        string
	MaxChunkSize   int
	RetrievalLimit int
	HistoryLimit   int
	SessionTTL     time.Duration
	HTTPAddr       string
	MarkersFile    string
	LogLevel       string

	Markers statute.Markers
}

// Load reads .env (when present) and the process environment. The heading
// vocabulary comes from MARKERS_FILE or falls back to the built-in one.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/statute_rag?sslmode=disable"),
		Neo4jURI:    getEnv("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:   getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:   getEnv("NEO4J_PASSWORD", "password"),

		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		Embeddings: EmbeddingConfig{
			Provider: getEnv("EMBEDDINGS_PROVIDER", ProviderOpenAI),
			Model:    getEnv("EMBEDDINGS_MODEL", "text-embedding-3-small"),
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", ProviderOpenAI),
			Model:    getEnv("LLM_MODEL", "gpt-4o-mini"),
		},

		SourceFile:  getEnv("SOURCE_FILE", "data/criminal_code.pdf"),
		LawName:     getEnv("LAW_NAME", "Кримінальний кодекс України"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8000"),
		MarkersFile: getEnv("MARKERS_FILE", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Embeddings.Dimension, err = getInt("EMBEDDINGS_DIMENSION", 1536); err != nil {
		return Config{}, err
	}
	if cfg.MaxChunkSize, err = getInt("MAX_CHUNK_SIZE", 1000); err != nil {
		return Config{}, err
	}
	if cfg.RetrievalLimit, err = getInt("RETRIEVAL_LIMIT", 5); err != nil {
		return Config{}, err
	}
	if cfg.HistoryLimit, err = getInt("HISTORY_LIMIT", 10); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", time.Hour); err != nil {
		return Config{}, err
	}

	cfg.Markers = statute.DefaultMarkers()
	if cfg.MarkersFile != "" {
		if cfg.Markers, err = LoadMarkers(cfg.MarkersFile); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the numeric limits and the heading vocabulary.
func (c Config) Validate() error {
	switch {
	case c.MaxChunkSize < statute.MinChunkSize:
		return fmt.Errorf("MAX_CHUNK_SIZE must be at least %d, got %d", statute.MinChunkSize, c.MaxChunkSize)
	case c.RetrievalLimit <= 0:
		return fmt.Errorf("RETRIEVAL_LIMIT must be positive, got %d", c.RetrievalLimit)
	case c.HistoryLimit < 0:
		return fmt.Errorf("HISTORY_LIMIT must not be negative, got %d", c.HistoryLimit)
	case c.Embeddings.Dimension <= 0:
		return fmt.Errorf("EMBEDDINGS_DIMENSION must be positive, got %d", c.Embeddings.Dimension)
	case c.SessionTTL <= 0:
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	return c.Markers.Validate()
}

// LoadMarkers reads a YAML heading vocabulary. Fields left out of the file
// keep their built-in values.
func LoadMarkers(path string) (statute.Markers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return statute.Markers{}, fmt.Errorf("read markers file: %w", err)
	}
	markers := statute.DefaultMarkers()
	if err := yaml.Unmarshal(data, &markers); err != nil {
		return statute.Markers{}, fmt.Errorf("parse markers file: %w", err)
	}
	if err := markers.Validate(); err != nil {
		return statute.Markers{}, err
	}
	return markers, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}
