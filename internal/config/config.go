// File: internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/iyunix/go-localchat/internal/ratelimit"
	"github.com/iyunix/go-localchat/internal/services/ai"
	"github.com/iyunix/go-localchat/internal/services/chat"
	"github.com/iyunix/go-localchat/internal/services/retrieval"
)

type Config struct {
	ServerPort  string
	Environment string
	LogLevel    string

	DBDriver string
	DBDSN    string

	LLMProvider    string
	LLMAPIMode     string
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	EmbeddingModel string
	LLMMaxTokens   int
	LLMTemperature float64

	StreamTimeout      time.Duration
	MaxHistoryMessages int
	MaxMessageChars    int
	ResumableStreams   bool

	CSRFSecret     string
	CSRFTokenTTL   time.Duration
	AllowedOrigins []string

	TurnRatePerMinute int

	VectorBackend     string
	QdrantHost        string
	QdrantPort        int
	QdrantAPIKey      string
	QdrantCollection  string
	PineconeAPIKey    string
	PineconeIndexHost string
	PineconeNamespace string
	RetrievalTopK     int
	ChunkSize         int
	ChunkOverlap      int
}

// flag name -> config key
var flagKeys = map[string]string{
	"port":      "SERVER_PORT",
	"db-driver": "DB_DRIVER",
	"db-dsn":    "DB_DSN",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "localchat.db")
	v.SetDefault("LLM_PROVIDER", ai.ProviderOpenAI)
	v.SetDefault("LLM_API_MODE", ai.ModeCompletion)
	v.SetDefault("LLM_BASE_URL", "http://localhost:8000/v1")
	v.SetDefault("LLM_API_KEY", "")
	v.SetDefault("LLM_MODEL", "local-model")
	v.SetDefault("EMBEDDING_MODEL", "")
	v.SetDefault("LLM_MAX_TOKENS", 1024)
	v.SetDefault("LLM_TEMPERATURE", 0.7)
	v.SetDefault("STREAM_TIMEOUT", "5m")
	v.SetDefault("MAX_HISTORY_MESSAGES", 20)
	v.SetDefault("MAX_MESSAGE_CHARS", 16000)
	v.SetDefault("RESUMABLE_STREAMS", true)
	v.SetDefault("CSRF_SECRET", "")
	v.SetDefault("CSRF_TOKEN_TTL", "1h")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("TURN_RATE_PER_MINUTE", 20)
	v.SetDefault("VECTOR_BACKEND", retrieval.BackendLocal)
	v.SetDefault("QDRANT_HOST", "localhost")
	v.SetDefault("QDRANT_PORT", 6334)
	v.SetDefault("QDRANT_API_KEY", "")
	v.SetDefault("QDRANT_COLLECTION", "localchat")
	v.SetDefault("PINECONE_API_KEY", "")
	v.SetDefault("PINECONE_INDEX_HOST", "")
	v.SetDefault("PINECONE_NAMESPACE", "localchat")
	v.SetDefault("RAG_TOPK", 4)
	v.SetDefault("CHUNK_SIZE", 800)
	v.SetDefault("CHUNK_OVERLAP", 100)
}

// Load reads configuration from flags, environment variables and, outside
// production, a .env file. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if !strings.EqualFold(os.Getenv("ENV"), "production") {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found; continuing with environment variables")
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		ServerPort:  v.GetString("SERVER_PORT"),
		Environment: strings.ToLower(v.GetString("ENV")),
		LogLevel:    v.GetString("LOG_LEVEL"),

		DBDriver: strings.ToLower(v.GetString("DB_DRIVER")),
		DBDSN:    v.GetString("DB_DSN"),

		LLMProvider:    strings.ToLower(v.GetString("LLM_PROVIDER")),
		LLMAPIMode:     strings.ToLower(v.GetString("LLM_API_MODE")),
		LLMBaseURL:     v.GetString("LLM_BASE_URL"),
		LLMAPIKey:      v.GetString("LLM_API_KEY"),
		LLMModel:       v.GetString("LLM_MODEL"),
		EmbeddingModel: v.GetString("EMBEDDING_MODEL"),
		LLMMaxTokens:   v.GetInt("LLM_MAX_TOKENS"),
		LLMTemperature: v.GetFloat64("LLM_TEMPERATURE"),

		StreamTimeout:      v.GetDuration("STREAM_TIMEOUT"),
		MaxHistoryMessages: v.GetInt("MAX_HISTORY_MESSAGES"),
		MaxMessageChars:    v.GetInt("MAX_MESSAGE_CHARS"),
		ResumableStreams:   v.GetBool("RESUMABLE_STREAMS"),

		CSRFSecret:     v.GetString("CSRF_SECRET"),
		CSRFTokenTTL:   v.GetDuration("CSRF_TOKEN_TTL"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),

		TurnRatePerMinute: v.GetInt("TURN_RATE_PER_MINUTE"),

		VectorBackend:     strings.ToLower(v.GetString("VECTOR_BACKEND")),
		QdrantHost:        v.GetString("QDRANT_HOST"),
		QdrantPort:        v.GetInt("QDRANT_PORT"),
		QdrantAPIKey:      v.GetString("QDRANT_API_KEY"),
		QdrantCollection:  v.GetString("QDRANT_COLLECTION"),
		PineconeAPIKey:    v.GetString("PINECONE_API_KEY"),
		PineconeIndexHost: v.GetString("PINECONE_INDEX_HOST"),
		PineconeNamespace: v.GetString("PINECONE_NAMESPACE"),
		RetrievalTopK:     v.GetInt("RAG_TOPK"),
		ChunkSize:         v.GetInt("CHUNK_SIZE"),
		ChunkOverlap:      v.GetInt("CHUNK_OVERLAP"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	var missing []string
	if c.IsProduction() && c.CSRFSecret == "" {
		missing = append(missing, "CSRF_SECRET")
	}
	if c.VectorBackend == retrieval.BackendPinecone {
		if c.PineconeAPIKey == "" {
			missing = append(missing, "PINECONE_API_KEY")
		}
		if c.PineconeIndexHost == "" {
			missing = append(missing, "PINECONE_INDEX_HOST")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if c.CSRFSecret != "" && len(c.CSRFSecret) < 16 {
		return fmt.Errorf("CSRF_SECRET must be at least 16 characters")
	}
	if c.CSRFTokenTTL <= 0 {
		return fmt.Errorf("CSRF_TOKEN_TTL must be positive")
	}
	if c.TurnRatePerMinute < 0 {
		return fmt.Errorf("TURN_RATE_PER_MINUTE cannot be negative")
	}

	if err := c.AIConfig().Validate(); err != nil {
		return err
	}
	if err := c.ChatConfig().Validate(); err != nil {
		return err
	}
	return c.RetrievalConfig().Validate()
}

func (c *Config) AIConfig() *ai.Config {
	cfg := ai.DefaultConfig()
	cfg.Provider = c.LLMProvider
	cfg.APIMode = c.LLMAPIMode
	cfg.BaseURL = c.LLMBaseURL
	cfg.APIKey = c.LLMAPIKey
	cfg.Model = c.LLMModel
	cfg.EmbeddingModel = c.EmbeddingModel
	cfg.MaxTokens = c.LLMMaxTokens
	cfg.Temperature = float32(c.LLMTemperature)
	return cfg
}

func (c *Config) ChatConfig() *chat.Config {
	cfg := chat.DefaultConfig()
	cfg.Model = c.LLMModel
	cfg.MaxTokens = c.LLMMaxTokens
	cfg.Temperature = float32(c.LLMTemperature)
	cfg.StreamTimeout = c.StreamTimeout
	cfg.MaxHistoryMessages = c.MaxHistoryMessages
	cfg.MaxMessageChars = c.MaxMessageChars
	cfg.ResumableStreams = c.ResumableStreams
	cfg.RetrievalTopK = c.RetrievalTopK
	return cfg
}

func (c *Config) RetrievalConfig() *retrieval.Config {
	cfg := retrieval.DefaultConfig()
	cfg.Backend = c.VectorBackend
	cfg.TopK = c.RetrievalTopK
	cfg.ChunkSize = c.ChunkSize
	cfg.ChunkOverlap = c.ChunkOverlap
	cfg.QdrantHost = c.QdrantHost
	cfg.QdrantPort = c.QdrantPort
	cfg.QdrantAPIKey = c.QdrantAPIKey
	cfg.QdrantCollection = c.QdrantCollection
	cfg.PineconeAPIKey = c.PineconeAPIKey
	cfg.PineconeIndexHost = c.PineconeIndexHost
	cfg.PineconeNamespace = c.PineconeNamespace
	return cfg
}

// TurnRateConfig returns nil when turn-start rate limiting is disabled.
func (c *Config) TurnRateConfig() *ratelimit.Config {
	if c.TurnRatePerMinute == 0 {
		return nil
	}
	cfg := ratelimit.DefaultTurnConfig()
	cfg.PerMinute = c.TurnRatePerMinute
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
