package memkit

import (
	"log/slog"

	"github.com/helixml/memkit/domain/memory"
	"github.com/helixml/memkit/internal/config"
)

// clientConfig holds configuration for Client construction.
// Use newClientConfig() to create with defaults from internal/config.
type clientConfig struct {
	vectorStore       config.VectorStoreType
	embeddingProvider config.EmbeddingProviderType
	openai            config.OpenAIEndpoint
	weaviate          config.WeaviateConfig
	pinecone          config.PineconeConfig
	retention         config.RetentionConfig
	maintenance       config.MaintenanceConfig
	cacheCapacity     int
	customStore       memory.VectorStore
	customEmbedder    memory.Embedder
	logger            *slog.Logger
	skipMaintenance   bool
}

// newClientConfig creates a clientConfig with defaults from internal/config.
// The library defaults favor zero setup: in-process store, local embedder.
// Processes driven by environment variables get the env defaults (OpenAI
// embeddings) through FromAppConfig instead.
func newClientConfig() *clientConfig {
	return &clientConfig{
		vectorStore:       config.VectorStoreMemory,
		embeddingProvider: config.EmbeddingProviderLocal,
		openai:            config.NewOpenAIEndpoint(),
		retention:         config.NewRetentionConfig(),
		maintenance:       config.NewMaintenanceConfig(),
		cacheCapacity:     config.DefaultCacheCapacity,
	}
}

// Option configures the Client.
type Option func(*clientConfig)

// WithInMemoryStore configures the in-process vector store. This is the
// default; records do not survive a restart.
func WithInMemoryStore() Option {
	return func(c *clientConfig) {
		c.vectorStore = config.VectorStoreMemory
	}
}

// WithWeaviate configures a self-hosted Weaviate server as the vector store.
// Pass an empty apiKey for anonymous access.
func WithWeaviate(url, apiKey string) Option {
	return func(c *clientConfig) {
		c.vectorStore = config.VectorStoreWeaviate
		c.weaviate = config.NewWeaviateConfig(url, apiKey)
	}
}

// WithWeaviateConfig configures Weaviate with an explicit config.
func WithWeaviateConfig(cfg config.WeaviateConfig) Option {
	return func(c *clientConfig) {
		c.vectorStore = config.VectorStoreWeaviate
		c.weaviate = cfg
	}
}

// WithPinecone configures managed Pinecone as the vector store, using the
// default index name.
func WithPinecone(apiKey string) Option {
	return func(c *clientConfig) {
		c.vectorStore = config.VectorStorePinecone
		c.pinecone = config.NewPineconeConfig(apiKey)
	}
}

// WithPineconeConfig configures Pinecone with an explicit config.
func WithPineconeConfig(cfg config.PineconeConfig) Option {
	return func(c *clientConfig) {
		c.vectorStore = config.VectorStorePinecone
		c.pinecone = cfg
	}
}

// WithOpenAI sets OpenAI as the embedding provider.
func WithOpenAI(apiKey string) Option {
	return func(c *clientConfig) {
		c.embeddingProvider = config.EmbeddingProviderOpenAI
		c.openai = c.openai.WithAPIKey(apiKey)
	}
}

// WithOpenAIEndpoint sets OpenAI as the embedding provider with an explicit
// endpoint config (base URL, model, dimensions, retry policy).
func WithOpenAIEndpoint(e config.OpenAIEndpoint) Option {
	return func(c *clientConfig) {
		c.embeddingProvider = config.EmbeddingProviderOpenAI
		c.openai = e
	}
}

// WithLocalEmbedding sets the deterministic in-process embedding provider.
// No network or credentials needed; suitable for tests and offline use.
func WithLocalEmbedding() Option {
	return func(c *clientConfig) {
		c.embeddingProvider = config.EmbeddingProviderLocal
	}
}

// WithVectorStore sets a custom vector store adapter, bypassing the built-in
// backend selection.
func WithVectorStore(store memory.VectorStore) Option {
	return func(c *clientConfig) {
		c.customStore = store
	}
}

// WithEmbedder sets a custom embedding provider, bypassing the built-in
// provider selection.
func WithEmbedder(e memory.Embedder) Option {
	return func(c *clientConfig) {
		c.customEmbedder = e
	}
}

// WithRetention sets the per-layer TTL config.
func WithRetention(r config.RetentionConfig) Option {
	return func(c *clientConfig) {
		c.retention = r
	}
}

// WithMaintenance sets the background maintenance config (decay rate and the
// decay/rebalance/consolidation intervals).
func WithMaintenance(m config.MaintenanceConfig) Option {
	return func(c *clientConfig) {
		c.maintenance = m
	}
}

// WithCacheCapacity sets the working cache capacity.
// Defaults to 100. Values <= 0 are ignored.
func WithCacheCapacity(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.cacheCapacity = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// WithoutMaintenance disables the background maintenance scheduler. Decay,
// rebalancing and threshold consolidation can still be invoked directly on
// the memory service. Intended for tests and for hosts that schedule
// maintenance themselves.
func WithoutMaintenance() Option {
	return func(c *clientConfig) {
		c.skipMaintenance = true
	}
}

// FromAppConfig maps an environment-derived AppConfig onto the client,
// selecting backend, provider, retention, maintenance and cache settings.
// Call cfg.Validate() first; New does not re-check env-level constraints.
func FromAppConfig(cfg config.AppConfig) Option {
	return func(c *clientConfig) {
		c.vectorStore = cfg.VectorStore()
		c.embeddingProvider = cfg.EmbeddingProvider()
		c.openai = cfg.OpenAI()
		c.weaviate = cfg.Weaviate()
		c.pinecone = cfg.Pinecone()
		c.retention = cfg.Retention()
		c.maintenance = cfg.Maintenance()
		c.cacheCapacity = cfg.CacheCapacity()
	}
}
