package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	EnvFileLoaded bool

	HTTPPort string
	LogLevel string

	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURI   string
	SessionSecret      string
	SessionTTL         time.Duration

	LLMProvider    string
	GeminiAPIKey   string
	ChatModel      string
	LLMTemperature float32

	EmbedProvider   string
	EmbedModel      string
	OllamaBaseURL   string
	EmbedRatePerSec int

	VectorStoreDir string
	CollectionName string
	ChunkSize      int
	ChunkOverlap   int
	RetrievalK     int
	RAGStrategy    string

	DBDriver         string
	DatabaseURL      string
	DBHost           string
	DBPort           string
	DBUser           string
	DBPassword       string
	DBName           string
	DBSSLCA          string
	DBPoolSize       int
	DBAcquireTimeout time.Duration
	HistoryLimit     int
}

// LoadConfig reads the environment, after loading a .env file if one exists.
func LoadConfig() Config {
	envErr := godotenv.Load()

	cfg := Config{
		EnvFileLoaded: envErr == nil,

		HTTPPort: getEnv("HTTP_PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		OAuthRedirectURI:   getEnv("OAUTH_REDIRECT_URI", ""),
		SessionSecret:      getEnv("SESSION_SECRET", ""),
		SessionTTL:         getEnvAsDuration("SESSION_TTL", 12*time.Hour),

		LLMProvider:    strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini)),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		LLMTemperature: float32(getEnvAsFloat("LLM_TEMPERATURE", 0.7)),

		EmbedProvider:   strings.ToLower(getEnv("EMBED_PROVIDER", ProviderOllama)),
		EmbedModel:      getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		OllamaBaseURL:   getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		EmbedRatePerSec: getEnvAsInt("EMBED_RATE_PER_SEC", 25),

		VectorStoreDir: getEnv("VECTOR_STORE_DIR", "./chroma_db"),
		CollectionName: getEnv("VECTOR_COLLECTION", "student_ai_notes"),
		ChunkSize:      getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:   getEnvAsInt("CHUNK_OVERLAP", 200),
		RetrievalK:     getEnvAsInt("RETRIEVAL_K", 4),
		RAGStrategy:    getEnv("RAG_STRATEGY", "history_aware"),

		DBDriver:         strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DatabaseURL:      getEnv("DATABASE_URL", "student_ai_notes.db"),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           getEnv("DB_USER", ""),
		DBPassword:       getEnv("DB_PASSWORD", ""),
		DBName:           getEnv("DB_NAME", "student_ai_notes"),
		DBSSLCA:          getEnv("DB_SSL_CA", ""),
		DBPoolSize:       getEnvAsInt("DB_POOL_SIZE", 5),
		DBAcquireTimeout: getEnvAsDuration("DB_ACQUIRE_TIMEOUT", 5*time.Second),
		HistoryLimit:     getEnvAsInt("HISTORY_LIMIT", 10),
	}

	defaultChatModel := "gemini-1.5-flash-latest"
	if cfg.LLMProvider == ProviderOllama {
		defaultChatModel = "llama3"
	}
	cfg.ChatModel = getEnv("CHAT_MODEL", defaultChatModel)

	return cfg
}

func (c Config) OAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.OAuthRedirectURI != ""
}

func (c Config) HistoryEnabled() bool {
	switch c.DBDriver {
	case DriverSQLite:
		return c.DatabaseURL != ""
	case DriverPostgres:
		return c.DBUser != "" && c.DBName != ""
	default:
		return false
	}
}

// Problems lists configuration errors. Each one disables a feature; none of
// them stops the process.
func (c Config) Problems() []string {
	var problems []string
	if !c.OAuthEnabled() {
		problems = append(problems, "GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and OAUTH_REDIRECT_URI are required for login; login is disabled")
	}
	if c.LLMProvider != ProviderGemini && c.LLMProvider != ProviderOllama {
		problems = append(problems, fmt.Sprintf("unknown LLM_PROVIDER %q; answering is disabled", c.LLMProvider))
	}
	if c.LLMProvider == ProviderGemini && c.GeminiAPIKey == "" {
		problems = append(problems, "GEMINI_API_KEY is required when LLM_PROVIDER=gemini; answering is disabled")
	}
	if c.EmbedProvider != ProviderGemini && c.EmbedProvider != ProviderOllama {
		problems = append(problems, fmt.Sprintf("unknown EMBED_PROVIDER %q; document indexing is disabled", c.EmbedProvider))
	}
	if c.EmbedProvider == ProviderGemini && c.GeminiAPIKey == "" {
		problems = append(problems, "GEMINI_API_KEY is required when EMBED_PROVIDER=gemini; document indexing is disabled")
	}
	if !c.HistoryEnabled() {
		problems = append(problems, fmt.Sprintf("database settings incomplete for DB_DRIVER=%q; chat history is disabled", c.DBDriver))
	}
	if c.ChunkOverlap >= c.ChunkSize {
		problems = append(problems, fmt.Sprintf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d); using %d", c.ChunkOverlap, c.ChunkSize, c.ChunkSize/5))
	}
	return problems
}

// EffectiveChunkOverlap returns the overlap the splitter will actually use.
func (c Config) EffectiveChunkOverlap() int {
	if c.ChunkOverlap >= c.ChunkSize || c.ChunkOverlap < 0 {
		return c.ChunkSize / 5
	}
	return c.ChunkOverlap
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
