// Package memkit provides hierarchical memory for AI agents: semantic
// storage, search and recall over three retention tiers (working, short-term
// and long-term), with background decay, rebalancing and consolidation.
//
// Basic usage:
//
//	client, err := memkit.New(
//	    memkit.WithOpenAI(os.Getenv("OPENAI_API_KEY")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Store a memory
//	record, err := client.Memories.Store(ctx, "the user prefers concise answers",
//	    memory.NewStoreOptions().WithImportance(0.8),
//	)
//
//	// Semantic search
//	results, err := client.Memories.Search(ctx, "user preferences",
//	    memory.NewSearchOptions().WithLimit(5),
//	)
//
//	for _, result := range results {
//	    fmt.Println(result.Record().Content(), result.Relevance())
//	}
//
// The same service backs the MCP tools exposed by cmd/memkit over stdio and
// streamable HTTP.
package memkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/helixml/memkit/application/service"
	"github.com/helixml/memkit/domain/memory"
	"github.com/helixml/memkit/infrastructure/provider"
	"github.com/helixml/memkit/infrastructure/search"
	"github.com/helixml/memkit/internal/config"
	"github.com/helixml/memkit/internal/log"
)

// ErrClientClosed is returned when operations are attempted on a closed
// client.
var ErrClientClosed = service.ErrClientClosed

// Client is the main entry point for the memkit library.
// Background maintenance starts automatically on creation unless disabled
// with WithoutMaintenance.
type Client struct {
	// Memories is the memory service: Store, Search, Recall, Consolidate,
	// Forget, List and Stats.
	Memories *service.Memory

	store     memory.VectorStore
	embedder  memory.Embedder
	cache     *service.WorkingCache
	scheduler *service.Scheduler

	logger *slog.Logger
	closed atomic.Bool
	mu     sync.Mutex
}

// New creates a new Client with the given options.
// The vector store is initialized, the working cache warmed, and the
// maintenance scheduler started before New returns.
func New(opts ...Option) (*Client, error) {
	cfg := newClientConfig()

	for _, opt := range opts {
		opt(cfg)
	}

	// Set up logger
	logger := cfg.logger
	if logger == nil {
		logger = log.Default().Slog()
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildVectorStore(cfg, embedder, logger)
	if err != nil {
		return nil, err
	}

	// Ensure the backend schema or index exists before serving anything.
	ctx := context.Background()
	if err := store.Initialize(ctx); err != nil {
		errClose := store.Close()
		return nil, errors.Join(fmt.Errorf("initialize vector store: %w", err), errClose)
	}

	client := &Client{
		store:    store,
		embedder: embedder,
		cache:    service.NewWorkingCache(cfg.cacheCapacity),
		logger:   logger,
	}
	client.Memories = service.NewMemory(
		store,
		embedder,
		client.cache,
		cfg.retention,
		cfg.maintenance,
		&client.closed,
		logger,
	)

	// Seed the cache with the hottest records. The cache is an optimization,
	// so a failed warm-up degrades to a cold start instead of aborting.
	if err := client.Memories.WarmCache(ctx); err != nil {
		logger.Warn("cache warm-up failed", slog.Any("error", err))
	}

	if !cfg.skipMaintenance {
		client.scheduler = service.NewScheduler(cfg.maintenance, client.Memories, logger)
		client.scheduler.Start(ctx)
	}

	return client, nil
}

// Close stops background maintenance and releases the vector store.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scheduler != nil {
		c.scheduler.Stop()
	}

	if err := c.store.Close(); err != nil {
		return fmt.Errorf("close vector store: %w", err)
	}

	c.logger.Info("memkit client closed")
	return nil
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// buildEmbedder selects the embedding provider from config.
func buildEmbedder(cfg *clientConfig) (memory.Embedder, error) {
	if cfg.customEmbedder != nil {
		return cfg.customEmbedder, nil
	}

	switch cfg.embeddingProvider {
	case config.EmbeddingProviderOpenAI:
		if !cfg.openai.IsConfigured() {
			return nil, fmt.Errorf("embedding provider %q requires an API key", cfg.embeddingProvider)
		}
		return provider.NewOpenAIProviderFromConfig(provider.OpenAIConfig{
			APIKey:        cfg.openai.APIKey(),
			BaseURL:       cfg.openai.BaseURL(),
			Model:         cfg.openai.Model(),
			Dimensions:    cfg.openai.Dimensions(),
			Timeout:       cfg.openai.Timeout(),
			MaxRetries:    cfg.openai.MaxRetries(),
			InitialDelay:  cfg.openai.InitialDelay(),
			BackoffFactor: cfg.openai.BackoffFactor(),
		}), nil
	case config.EmbeddingProviderLocal:
		return provider.NewLocalProvider(), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.embeddingProvider)
	}
}

// buildVectorStore selects the vector store backend from config. The Pinecone
// adapter needs the embedding dimension up front for index creation.
func buildVectorStore(cfg *clientConfig, embedder memory.Embedder, logger *slog.Logger) (memory.VectorStore, error) {
	if cfg.customStore != nil {
		return cfg.customStore, nil
	}

	switch cfg.vectorStore {
	case config.VectorStoreMemory:
		return search.NewInMemoryVectorStore(), nil
	case config.VectorStoreWeaviate:
		if !cfg.weaviate.IsConfigured() {
			return nil, fmt.Errorf("vector store %q requires a server URL", cfg.vectorStore)
		}
		return search.NewWeaviateVectorStore(cfg.weaviate.URL(), cfg.weaviate.APIKey(), logger)
	case config.VectorStorePinecone:
		if !cfg.pinecone.IsConfigured() {
			return nil, fmt.Errorf("vector store %q requires an API key", cfg.vectorStore)
		}
		return search.NewPineconeVectorStore(cfg.pinecone.APIKey(), cfg.pinecone.Index(), logger,
			search.WithPineconeDimensions(embedder.Dimensions()),
		), nil
	default:
		return nil, fmt.Errorf("unknown vector store type %q", cfg.vectorStore)
	}
}
