package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds all environment-based configuration. Field names map to
// environment variables one to one; durations are given in milliseconds to
// stay wire-compatible with existing deployments.
type EnvConfig struct {
	// Host is the server host to bind to (serve mode only).
	// Env: HOST (default: 0.0.0.0)
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// Port is the server port to listen on (serve mode only).
	// Env: PORT (default: 8080)
	Port int `envconfig:"PORT" default:"8080"`

	// LogLevel is the log verbosity level.
	// Env: LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is the log output format (pretty or json).
	// Env: LOG_FORMAT (default: pretty)
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// VectorStoreType selects the vector store backend (memory, weaviate,
	// pinecone).
	// Env: VECTOR_STORE_TYPE (default: memory)
	VectorStoreType string `envconfig:"VECTOR_STORE_TYPE" default:"memory"`

	// EmbeddingProvider selects the embedding provider (openai or local).
	// Env: EMBEDDING_PROVIDER (default: openai)
	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER" default:"openai"`

	// WorkingMemoryTTL is the working-layer TTL in milliseconds.
	// Env: WORKING_MEMORY_TTL (default: 1800000, 30 minutes)
	WorkingMemoryTTL int64 `envconfig:"WORKING_MEMORY_TTL" default:"1800000"`

	// ShortTermMemoryTTL is the short-term-layer TTL in milliseconds.
	// Env: SHORT_TERM_MEMORY_TTL (default: 604800000, 7 days)
	ShortTermMemoryTTL int64 `envconfig:"SHORT_TERM_MEMORY_TTL" default:"604800000"`

	// LongTermMemoryTTL is the long-term-layer TTL in milliseconds.
	// Env: LONG_TERM_MEMORY_TTL (default: 31536000000, 365 days)
	LongTermMemoryTTL int64 `envconfig:"LONG_TERM_MEMORY_TTL" default:"31536000000"`

	// ConsolidationThreshold is the short-term record count that triggers
	// scheduled consolidation.
	// Env: CONSOLIDATION_THRESHOLD (default: 100)
	ConsolidationThreshold int `envconfig:"CONSOLIDATION_THRESHOLD" default:"100"`

	// ConsolidationAge is the minimum candidate age in milliseconds.
	// Env: CONSOLIDATION_AGE (default: 2592000000, 30 days)
	ConsolidationAge int64 `envconfig:"CONSOLIDATION_AGE" default:"2592000000"`

	// DecayRate is the importance decay rate.
	// Env: DECAY_RATE (default: 0.1)
	DecayRate float64 `envconfig:"DECAY_RATE" default:"0.1"`

	// DecayInterval is how often decay runs, in milliseconds.
	// Env: DECAY_INTERVAL (default: 86400000, 1 day)
	DecayInterval int64 `envconfig:"DECAY_INTERVAL" default:"86400000"`

	// OpenAIAPIKey is the API key for the OpenAI embedding provider.
	// Env: OPENAI_API_KEY
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`

	// OpenAIBaseURL overrides the OpenAI API base URL (for proxies and
	// compatible gateways).
	// Env: OPENAI_BASE_URL
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`

	// OpenAIEmbeddingModel is the embedding model identifier.
	// Env: OPENAI_EMBEDDING_MODEL (default: text-embedding-3-small)
	OpenAIEmbeddingModel string `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small"`

	// OpenAIEmbeddingDimensions is the embedding dimensionality.
	// Env: OPENAI_EMBEDDING_DIMENSIONS (default: 1536)
	OpenAIEmbeddingDimensions int `envconfig:"OPENAI_EMBEDDING_DIMENSIONS" default:"1536"`

	// WeaviateURL is the Weaviate server URL.
	// Env: WEAVIATE_URL
	WeaviateURL string `envconfig:"WEAVIATE_URL"`

	// WeaviateAPIKey is the Weaviate API key, empty for anonymous access.
	// Env: WEAVIATE_API_KEY
	WeaviateAPIKey string `envconfig:"WEAVIATE_API_KEY"`

	// PineconeAPIKey is the Pinecone API key.
	// Env: PINECONE_API_KEY
	PineconeAPIKey string `envconfig:"PINECONE_API_KEY"`

	// PineconeIndex is the Pinecone index name.
	// Env: PINECONE_INDEX (default: memory-mcp)
	PineconeIndex string `envconfig:"PINECONE_INDEX" default:"memory-mcp"`
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// ToAppConfig converts EnvConfig to AppConfig.
func (e EnvConfig) ToAppConfig() AppConfig {
	cfg := NewAppConfig()

	if e.Host != "" {
		cfg = applyOption(cfg, WithHost(e.Host))
	}
	if e.Port != 0 {
		cfg = applyOption(cfg, WithPort(e.Port))
	}
	if e.LogLevel != "" {
		cfg = applyOption(cfg, WithLogLevel(e.LogLevel))
	}
	if e.LogFormat != "" {
		cfg = applyOption(cfg, WithLogFormat(parseLogFormat(e.LogFormat)))
	}
	if e.VectorStoreType != "" {
		cfg = applyOption(cfg, WithVectorStore(VectorStoreType(strings.ToLower(e.VectorStoreType))))
	}
	if e.EmbeddingProvider != "" {
		cfg = applyOption(cfg, WithEmbeddingProvider(EmbeddingProviderType(strings.ToLower(e.EmbeddingProvider))))
	}

	retention := NewRetentionConfig()
	if e.WorkingMemoryTTL > 0 {
		retention = retention.WithWorking(msToDuration(e.WorkingMemoryTTL))
	}
	if e.ShortTermMemoryTTL > 0 {
		retention = retention.WithShortTerm(msToDuration(e.ShortTermMemoryTTL))
	}
	if e.LongTermMemoryTTL > 0 {
		retention = retention.WithLongTerm(msToDuration(e.LongTermMemoryTTL))
	}
	cfg = applyOption(cfg, WithRetention(retention))

	maintenance := NewMaintenanceConfig()
	if e.DecayRate > 0 {
		maintenance = maintenance.WithDecayRate(e.DecayRate)
	}
	if e.DecayInterval > 0 {
		maintenance = maintenance.WithDecayInterval(msToDuration(e.DecayInterval))
	}
	if e.ConsolidationThreshold > 0 {
		maintenance = maintenance.WithConsolidationThreshold(e.ConsolidationThreshold)
	}
	if e.ConsolidationAge > 0 {
		maintenance = maintenance.WithConsolidationAge(msToDuration(e.ConsolidationAge))
	}
	cfg = applyOption(cfg, WithMaintenance(maintenance))

	openai := NewOpenAIEndpoint().
		WithAPIKey(e.OpenAIAPIKey).
		WithBaseURL(e.OpenAIBaseURL).
		WithModel(e.OpenAIEmbeddingModel).
		WithDimensions(e.OpenAIEmbeddingDimensions)
	cfg = applyOption(cfg, WithOpenAI(openai))

	if e.WeaviateURL != "" {
		cfg = applyOption(cfg, WithWeaviate(NewWeaviateConfig(e.WeaviateURL, e.WeaviateAPIKey)))
	}
	if e.PineconeAPIKey != "" {
		cfg = applyOption(cfg, WithPinecone(NewPineconeConfig(e.PineconeAPIKey).WithIndex(e.PineconeIndex)))
	}

	return cfg
}

// applyOption applies an option to the config.
func applyOption(cfg AppConfig, opt AppConfigOption) AppConfig {
	opt(&cfg)
	return cfg
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
