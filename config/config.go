package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the chatbot engine.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Usage     UsageConfig     `mapstructure:"usage"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	Listen    string `mapstructure:"listen"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ProvidersConfig groups external capability providers.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig configures the default completion/embedding provider.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CostPer1KInput  float64       `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64       `mapstructure:"cost_per_1k_output"`
}

func (o OpenAIConfig) Validate() error {
	if strings.TrimSpace(o.APIKey) == "" {
		return fmt.Errorf("providers.openai.api_key required")
	}
	if strings.TrimSpace(o.CompletionModel) == "" {
		return fmt.Errorf("providers.openai.completion_model required")
	}
	if strings.TrimSpace(o.EmbeddingModel) == "" {
		return fmt.Errorf("providers.openai.embedding_model required")
	}
	return nil
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if err := p.Validate(); err != nil {
		return "", err
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis connection settings for the embedding cache.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Addr returns host:port, or empty when redis is not configured.
func (r RedisConfig) Addr() string {
	if strings.TrimSpace(r.Host) == "" {
		return ""
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// RAGConfig controls ingestion and retrieval behaviour.
type RAGConfig struct {
	ChunkSize           int     `mapstructure:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap"`
	EmbeddingDimensions int     `mapstructure:"embedding_dimensions"`
	TopK                int     `mapstructure:"top_k"`
	MinSimilarity       float64 `mapstructure:"min_similarity"`
	DedupOffsetWindow   int     `mapstructure:"dedup_offset_window"`
	// FailurePolicy decides what happens to a document when some chunk
	// batches permanently fail to embed: "lenient" marks the document
	// processed with the failures recorded, "strict" leaves it unprocessed.
	FailurePolicy   string        `mapstructure:"failure_policy"`
	ReprocessCron   string        `mapstructure:"reprocess_cron"`
	KeywordFallback bool          `mapstructure:"keyword_fallback"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
}

func (r RAGConfig) Validate() error {
	if r.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be > 0")
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size)")
	}
	if r.EmbeddingDimensions <= 0 {
		return fmt.Errorf("rag.embedding_dimensions must be > 0")
	}
	switch r.FailurePolicy {
	case "lenient", "strict":
	default:
		return fmt.Errorf("rag.failure_policy must be lenient or strict, got %q", r.FailurePolicy)
	}
	return nil
}

// ChatConfig controls prompt assembly and generation.
type ChatConfig struct {
	TokenBudget  int `mapstructure:"token_budget"`
	HistoryLimit int `mapstructure:"history_limit"`
}

func (c ChatConfig) Validate() error {
	if c.TokenBudget <= 0 {
		return fmt.Errorf("chat.token_budget must be > 0")
	}
	return nil
}

// UsageConfig controls the async usage meter.
type UsageConfig struct {
	BufferSize   int           `mapstructure:"buffer_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// LoadConfig loads config from file, with CHATBOT_* env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.listen", ":10010")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("providers.openai.completion_model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.openai.temperature", 0.2)
	viper.SetDefault("providers.openai.max_tokens", 2048)
	viper.SetDefault("providers.openai.timeout", "60s")
	viper.SetDefault("storage.redis.cache_ttl", "168h")
	viper.SetDefault("rag.chunk_size", 1200)
	viper.SetDefault("rag.chunk_overlap", 200)
	viper.SetDefault("rag.embedding_dimensions", 1536)
	viper.SetDefault("rag.top_k", 5)
	viper.SetDefault("rag.min_similarity", 0.25)
	viper.SetDefault("rag.dedup_offset_window", 200)
	viper.SetDefault("rag.failure_policy", "lenient")
	viper.SetDefault("rag.keyword_fallback", true)
	viper.SetDefault("rag.max_retries", 3)
	viper.SetDefault("rag.retry_backoff", "300ms")
	viper.SetDefault("chat.token_budget", 6000)
	viper.SetDefault("chat.history_limit", 40)
	viper.SetDefault("usage.buffer_size", 256)
	viper.SetDefault("usage.max_retries", 5)
	viper.SetDefault("usage.retry_backoff", "500ms")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CHATBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Providers.OpenAI.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.RAG.Validate(); err != nil {
		panic(err)
	}
	if err := config.Chat.Validate(); err != nil {
		panic(err)
	}
	return &config
}
