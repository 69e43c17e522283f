// Package config loads the policy assistant configuration from the
// environment, with an optional YAML file override.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/arti-cloud/policy-assistant/pkg/rag"
	"github.com/arti-cloud/policy-assistant/pkg/whatsapp"
)

// Backend selects the vector index implementation. Exactly one backend is
// active per process; there is no dual-store mode.
type Backend string

const (
	BackendLocal    Backend = "local"
	BackendWeaviate Backend = "weaviate"
)

// Config is the full service configuration.
type Config struct {
	// Service
	Port             string        `yaml:"port"`
	LogLevel         string        `yaml:"log_level"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	APIKey           string        `yaml:"api_key"`

	// Ingestion
	PolicyDir string `yaml:"policy_dir"`

	// Vector index
	VectorBackend  Backend             `yaml:"vector_backend"`
	LocalIndexPath string              `yaml:"local_index_path"`
	Weaviate       *rag.WeaviateConfig `yaml:"weaviate"`

	// Providers
	Embedding *rag.OpenAIEmbeddingConfig `yaml:"embedding"`
	Generator *rag.OpenAIGeneratorConfig `yaml:"generator"`

	// Pipeline
	Pipeline *rag.PipelineConfig       `yaml:"pipeline"`
	Chunking *rag.ChunkingConfig       `yaml:"chunking"`
	Loader   *rag.DocumentLoaderConfig `yaml:"loader"`

	// Embedding cache
	RedisEnabled bool                  `yaml:"redis_enabled"`
	Redis        *rag.RedisCacheConfig `yaml:"redis"`

	// WhatsApp bridge
	WhatsAppEnabled bool             `yaml:"whatsapp_enabled"`
	WhatsApp        *whatsapp.Config `yaml:"whatsapp"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Port:             "8000",
		LogLevel:         "info",
		RequestTimeout:   60 * time.Second,
		GracefulShutdown: 30 * time.Second,
		PolicyDir:        "./policies",
		VectorBackend:    BackendLocal,
		LocalIndexPath:   "./storage/policy_index.json",
		Weaviate: &rag.WeaviateConfig{
			Scheme:    "http",
			ClassName: "PolicyChunk",
		},
		Embedding: &rag.OpenAIEmbeddingConfig{
			ModelName: "text-embedding-3-small",
		},
		Generator: &rag.OpenAIGeneratorConfig{
			ModelName: "gpt-4o-mini",
		},
		Pipeline: rag.DefaultPipelineConfig(),
		Chunking: &rag.ChunkingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Loader: &rag.DocumentLoaderConfig{},
		Redis: &rag.RedisCacheConfig{
			Address: "localhost:6379",
		},
		WhatsApp: &whatsapp.Config{},
	}
}

// Load builds the configuration from defaults, an optional YAML file named
// by CONFIG_FILE, and environment variables, in that precedence order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	var validationErrors []string

	cfg.Port = getEnvOrDefault("PORT", cfg.Port)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.RequestTimeout = parseDuration("REQUEST_TIMEOUT", cfg.RequestTimeout, &validationErrors)
	cfg.GracefulShutdown = parseDuration("GRACEFUL_SHUTDOWN_TIMEOUT", cfg.GracefulShutdown, &validationErrors)
	cfg.APIKey = getEnvOrDefault("API_KEY", cfg.APIKey)
	cfg.PolicyDir = getEnvOrDefault("POLICY_DIR", cfg.PolicyDir)

	cfg.VectorBackend = Backend(getEnvOrDefault("VECTOR_BACKEND", string(cfg.VectorBackend)))
	cfg.LocalIndexPath = getEnvOrDefault("LOCAL_INDEX_PATH", cfg.LocalIndexPath)
	cfg.Weaviate.Host = getEnvOrDefault("WEAVIATE_HOST", cfg.Weaviate.Host)
	cfg.Weaviate.Scheme = getEnvOrDefault("WEAVIATE_SCHEME", cfg.Weaviate.Scheme)
	cfg.Weaviate.APIKey = getEnvOrDefault("WEAVIATE_API_KEY", cfg.Weaviate.APIKey)

	openAIKey := getEnvOrDefault("OPENAI_API_KEY", "")
	if openAIKey != "" {
		cfg.Embedding.APIKey = openAIKey
		cfg.Generator.APIKey = openAIKey
	}
	cfg.Embedding.ModelName = getEnvOrDefault("EMBEDDING_MODEL", cfg.Embedding.ModelName)
	cfg.Generator.ModelName = getEnvOrDefault("LLM_MODEL", cfg.Generator.ModelName)

	cfg.Pipeline.DefaultTopK = parseInt("DEFAULT_TOP_K", cfg.Pipeline.DefaultTopK, &validationErrors)
	cfg.Pipeline.MaxTopK = parseInt("MAX_TOP_K", cfg.Pipeline.MaxTopK, &validationErrors)
	cfg.Pipeline.ScoreThreshold = parseFloat("SCORE_THRESHOLD", cfg.Pipeline.ScoreThreshold, &validationErrors)
	cfg.Chunking.ChunkSize = parseInt("CHUNK_SIZE", cfg.Chunking.ChunkSize, &validationErrors)
	cfg.Chunking.ChunkOverlap = parseInt("CHUNK_OVERLAP", cfg.Chunking.ChunkOverlap, &validationErrors)

	cfg.RedisEnabled = parseBool("REDIS_ENABLED", cfg.RedisEnabled, &validationErrors)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.WhatsApp.VerifyToken = getEnvOrDefault("WHATSAPP_VERIFY_TOKEN", cfg.WhatsApp.VerifyToken)
	cfg.WhatsApp.AppSecret = getEnvOrDefault("WHATSAPP_APP_SECRET", cfg.WhatsApp.AppSecret)
	cfg.WhatsApp.PhoneID = getEnvOrDefault("WHATSAPP_PHONE_ID", cfg.WhatsApp.PhoneID)
	cfg.WhatsApp.AccessToken = getEnvOrDefault("WHATSAPP_TOKEN", cfg.WhatsApp.AccessToken)
	cfg.WhatsAppEnabled = cfg.WhatsApp.VerifyToken != "" && cfg.WhatsApp.AppSecret != ""

	if err := cfg.Validate(); err != nil {
		validationErrors = append(validationErrors, err.Error())
	}
	if len(validationErrors) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(validationErrors, "; "))
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.VectorBackend {
	case BackendLocal:
		if c.LocalIndexPath == "" {
			return fmt.Errorf("LOCAL_INDEX_PATH is required for the local backend")
		}
	case BackendWeaviate:
		if c.Weaviate.Host == "" {
			return fmt.Errorf("WEAVIATE_HOST is required for the weaviate backend")
		}
	default:
		return fmt.Errorf("VECTOR_BACKEND must be %q or %q, got %q", BackendLocal, BackendWeaviate, c.VectorBackend)
	}

	if c.Embedding.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.Pipeline.ScoreThreshold < 0 || c.Pipeline.ScoreThreshold > 1 {
		return fmt.Errorf("SCORE_THRESHOLD must be within [0, 1]")
	}
	if c.Pipeline.MaxTopK < 1 {
		return fmt.Errorf("MAX_TOP_K must be at least 1")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseInt(key string, defaultVal int, validationErrors *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*validationErrors = append(*validationErrors, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func parseFloat(key string, defaultVal float32, validationErrors *[]string) float32 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		*validationErrors = append(*validationErrors, fmt.Sprintf("%s: invalid number %q", key, v))
		return defaultVal
	}
	return float32(f)
}

func parseBool(key string, defaultVal bool, validationErrors *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*validationErrors = append(*validationErrors, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func parseDuration(key string, defaultVal time.Duration, validationErrors *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*validationErrors = append(*validationErrors, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}
