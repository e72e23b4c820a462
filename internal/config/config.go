// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultHost                       = "0.0.0.0"
	DefaultPort                       = 8080
	DefaultLogLevel                   = "INFO"
	DefaultWorkingMemoryTTL           = 30 * time.Minute
	DefaultShortTermMemoryTTL         = 7 * 24 * time.Hour
	DefaultLongTermMemoryTTL          = 365 * 24 * time.Hour
	DefaultConsolidationThreshold     = 100
	DefaultConsolidationAge           = 30 * 24 * time.Hour
	DefaultDecayRate                  = 0.1
	DefaultDecayInterval              = 24 * time.Hour
	DefaultRebalanceInterval          = time.Hour
	DefaultConsolidationCheckInterval = 6 * time.Hour
	DefaultCacheCapacity              = 100
	DefaultOpenAIModel                = "text-embedding-3-small"
	DefaultOpenAIDimensions           = 1536
	DefaultOpenAITimeout              = 60 * time.Second
	DefaultOpenAIMaxRetries           = 5
	DefaultOpenAIInitialDelay         = 2 * time.Second
	DefaultOpenAIBackoffFactor        = 2.0
	DefaultPineconeIndex              = "memory-mcp"
	DefaultLocalDimensions            = 512
)

// LogFormat represents the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// VectorStoreType selects the vector store backend.
type VectorStoreType string

// VectorStoreType values.
const (
	VectorStoreMemory   VectorStoreType = "memory"
	VectorStoreWeaviate VectorStoreType = "weaviate"
	VectorStorePinecone VectorStoreType = "pinecone"
)

// EmbeddingProviderType selects the embedding provider.
type EmbeddingProviderType string

// EmbeddingProviderType values.
const (
	EmbeddingProviderOpenAI EmbeddingProviderType = "openai"
	EmbeddingProviderLocal  EmbeddingProviderType = "local"
)

// RetentionConfig holds the time-to-live for each memory layer.
type RetentionConfig struct {
	working   time.Duration
	shortTerm time.Duration
	longTerm  time.Duration
}

// NewRetentionConfig creates a RetentionConfig with defaults.
func NewRetentionConfig() RetentionConfig {
	return RetentionConfig{
		working:   DefaultWorkingMemoryTTL,
		shortTerm: DefaultShortTermMemoryTTL,
		longTerm:  DefaultLongTermMemoryTTL,
	}
}

// Working returns the working-layer TTL.
func (r RetentionConfig) Working() time.Duration { return r.working }

// ShortTerm returns the short-term-layer TTL.
func (r RetentionConfig) ShortTerm() time.Duration { return r.shortTerm }

// LongTerm returns the long-term-layer TTL.
func (r RetentionConfig) LongTerm() time.Duration { return r.longTerm }

// WithWorking returns a new config with the specified working-layer TTL.
func (r RetentionConfig) WithWorking(d time.Duration) RetentionConfig {
	r.working = d
	return r
}

// WithShortTerm returns a new config with the specified short-term-layer TTL.
func (r RetentionConfig) WithShortTerm(d time.Duration) RetentionConfig {
	r.shortTerm = d
	return r
}

// WithLongTerm returns a new config with the specified long-term-layer TTL.
func (r RetentionConfig) WithLongTerm(d time.Duration) RetentionConfig {
	r.longTerm = d
	return r
}

// MaintenanceConfig configures the background maintenance schedule.
type MaintenanceConfig struct {
	decayRate                  float64
	decayInterval              time.Duration
	rebalanceInterval          time.Duration
	consolidationCheckInterval time.Duration
	consolidationThreshold     int
	consolidationAge           time.Duration
}

// NewMaintenanceConfig creates a MaintenanceConfig with defaults.
func NewMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		decayRate:                  DefaultDecayRate,
		decayInterval:              DefaultDecayInterval,
		rebalanceInterval:          DefaultRebalanceInterval,
		consolidationCheckInterval: DefaultConsolidationCheckInterval,
		consolidationThreshold:     DefaultConsolidationThreshold,
		consolidationAge:           DefaultConsolidationAge,
	}
}

// DecayRate returns the importance decay rate.
func (m MaintenanceConfig) DecayRate() float64 { return m.decayRate }

// DecayInterval returns how often decay runs.
func (m MaintenanceConfig) DecayInterval() time.Duration { return m.decayInterval }

// RebalanceInterval returns how often layer rebalancing runs.
func (m MaintenanceConfig) RebalanceInterval() time.Duration { return m.rebalanceInterval }

// ConsolidationCheckInterval returns how often the consolidation check runs.
func (m MaintenanceConfig) ConsolidationCheckInterval() time.Duration {
	return m.consolidationCheckInterval
}

// ConsolidationThreshold returns the short-term record count that triggers
// consolidation.
func (m MaintenanceConfig) ConsolidationThreshold() int { return m.consolidationThreshold }

// ConsolidationAge returns the minimum age for consolidation candidates.
func (m MaintenanceConfig) ConsolidationAge() time.Duration { return m.consolidationAge }

// WithDecayRate returns a new config with the specified decay rate.
func (m MaintenanceConfig) WithDecayRate(rate float64) MaintenanceConfig {
	m.decayRate = rate
	return m
}

// WithDecayInterval returns a new config with the specified decay interval.
func (m MaintenanceConfig) WithDecayInterval(d time.Duration) MaintenanceConfig {
	m.decayInterval = d
	return m
}

// WithRebalanceInterval returns a new config with the specified rebalance interval.
func (m MaintenanceConfig) WithRebalanceInterval(d time.Duration) MaintenanceConfig {
	m.rebalanceInterval = d
	return m
}

// WithConsolidationCheckInterval returns a new config with the specified check interval.
func (m MaintenanceConfig) WithConsolidationCheckInterval(d time.Duration) MaintenanceConfig {
	m.consolidationCheckInterval = d
	return m
}

// WithConsolidationThreshold returns a new config with the specified threshold.
func (m MaintenanceConfig) WithConsolidationThreshold(n int) MaintenanceConfig {
	m.consolidationThreshold = n
	return m
}

// WithConsolidationAge returns a new config with the specified candidate age.
func (m MaintenanceConfig) WithConsolidationAge(d time.Duration) MaintenanceConfig {
	m.consolidationAge = d
	return m
}

// OpenAIEndpoint configures the remote embedding endpoint.
type OpenAIEndpoint struct {
	apiKey        string
	baseURL       string
	model         string
	dimensions    int
	timeout       time.Duration
	maxRetries    int
	initialDelay  time.Duration
	backoffFactor float64
}

// NewOpenAIEndpoint creates an OpenAIEndpoint with defaults.
func NewOpenAIEndpoint() OpenAIEndpoint {
	return OpenAIEndpoint{
		model:         DefaultOpenAIModel,
		dimensions:    DefaultOpenAIDimensions,
		timeout:       DefaultOpenAITimeout,
		maxRetries:    DefaultOpenAIMaxRetries,
		initialDelay:  DefaultOpenAIInitialDelay,
		backoffFactor: DefaultOpenAIBackoffFactor,
	}
}

// APIKey returns the API key.
func (e OpenAIEndpoint) APIKey() string { return e.apiKey }

// BaseURL returns the base URL override, or empty for the public API.
func (e OpenAIEndpoint) BaseURL() string { return e.baseURL }

// Model returns the embedding model identifier.
func (e OpenAIEndpoint) Model() string { return e.model }

// Dimensions returns the embedding dimensionality.
func (e OpenAIEndpoint) Dimensions() int { return e.dimensions }

// Timeout returns the request timeout.
func (e OpenAIEndpoint) Timeout() time.Duration { return e.timeout }

// MaxRetries returns the maximum retry count.
func (e OpenAIEndpoint) MaxRetries() int { return e.maxRetries }

// InitialDelay returns the initial retry delay.
func (e OpenAIEndpoint) InitialDelay() time.Duration { return e.initialDelay }

// BackoffFactor returns the retry backoff multiplier.
func (e OpenAIEndpoint) BackoffFactor() float64 { return e.backoffFactor }

// IsConfigured returns true if the endpoint has an API key.
func (e OpenAIEndpoint) IsConfigured() bool { return e.apiKey != "" }

// WithAPIKey returns a new endpoint with the specified API key.
func (e OpenAIEndpoint) WithAPIKey(key string) OpenAIEndpoint {
	e.apiKey = key
	return e
}

// WithBaseURL returns a new endpoint with the specified base URL.
func (e OpenAIEndpoint) WithBaseURL(url string) OpenAIEndpoint {
	e.baseURL = url
	return e
}

// WithModel returns a new endpoint with the specified model.
func (e OpenAIEndpoint) WithModel(model string) OpenAIEndpoint {
	if model != "" {
		e.model = model
	}
	return e
}

// WithDimensions returns a new endpoint with the specified dimensionality.
func (e OpenAIEndpoint) WithDimensions(d int) OpenAIEndpoint {
	if d > 0 {
		e.dimensions = d
	}
	return e
}

// WeaviateConfig configures the self-hosted vector store backend.
type WeaviateConfig struct {
	url    string
	apiKey string
}

// NewWeaviateConfig creates a WeaviateConfig.
func NewWeaviateConfig(url, apiKey string) WeaviateConfig {
	return WeaviateConfig{url: url, apiKey: apiKey}
}

// URL returns the Weaviate server URL.
func (w WeaviateConfig) URL() string { return w.url }

// APIKey returns the API key, empty for anonymous access.
func (w WeaviateConfig) APIKey() string { return w.apiKey }

// IsConfigured returns true if a server URL is set.
func (w WeaviateConfig) IsConfigured() bool { return w.url != "" }

// PineconeConfig configures the managed vector store backend.
type PineconeConfig struct {
	apiKey string
	index  string
}

// NewPineconeConfig creates a PineconeConfig with the default index name.
func NewPineconeConfig(apiKey string) PineconeConfig {
	return PineconeConfig{apiKey: apiKey, index: DefaultPineconeIndex}
}

// APIKey returns the API key.
func (p PineconeConfig) APIKey() string { return p.apiKey }

// Index returns the index name.
func (p PineconeConfig) Index() string { return p.index }

// IsConfigured returns true if an API key is set.
func (p PineconeConfig) IsConfigured() bool { return p.apiKey != "" }

// WithIndex returns a new config with the specified index name.
func (p PineconeConfig) WithIndex(index string) PineconeConfig {
	if index != "" {
		p.index = index
	}
	return p
}

// AppConfig holds the main application configuration.
type AppConfig struct {
	host              string
	port              int
	logLevel          string
	logFormat         LogFormat
	vectorStore       VectorStoreType
	embeddingProvider EmbeddingProviderType
	retention         RetentionConfig
	maintenance       MaintenanceConfig
	cacheCapacity     int
	openai            OpenAIEndpoint
	weaviate          WeaviateConfig
	pinecone          PineconeConfig
}

// NewAppConfig creates a new AppConfig with defaults.
func NewAppConfig() AppConfig {
	return AppConfig{
		host:              DefaultHost,
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		logFormat:         LogFormatPretty,
		vectorStore:       VectorStoreMemory,
		embeddingProvider: EmbeddingProviderOpenAI,
		retention:         NewRetentionConfig(),
		maintenance:       NewMaintenanceConfig(),
		cacheCapacity:     DefaultCacheCapacity,
		openai:            NewOpenAIEndpoint(),
		pinecone:          PineconeConfig{index: DefaultPineconeIndex},
	}
}

// Host returns the server host to bind to.
func (c AppConfig) Host() string { return c.host }

// Port returns the server port to listen on.
func (c AppConfig) Port() int { return c.port }

// Addr returns the combined host:port address.
func (c AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// LogLevel returns the log level.
func (c AppConfig) LogLevel() string { return c.logLevel }

// LogFormat returns the log format.
func (c AppConfig) LogFormat() LogFormat { return c.logFormat }

// VectorStore returns the configured vector store backend.
func (c AppConfig) VectorStore() VectorStoreType { return c.vectorStore }

// EmbeddingProvider returns the configured embedding provider.
func (c AppConfig) EmbeddingProvider() EmbeddingProviderType { return c.embeddingProvider }

// Retention returns the per-layer TTL config.
func (c AppConfig) Retention() RetentionConfig { return c.retention }

// Maintenance returns the background maintenance config.
func (c AppConfig) Maintenance() MaintenanceConfig { return c.maintenance }

// CacheCapacity returns the working cache capacity.
func (c AppConfig) CacheCapacity() int { return c.cacheCapacity }

// OpenAI returns the OpenAI endpoint config.
func (c AppConfig) OpenAI() OpenAIEndpoint { return c.openai }

// Weaviate returns the Weaviate backend config.
func (c AppConfig) Weaviate() WeaviateConfig { return c.weaviate }

// Pinecone returns the Pinecone backend config.
func (c AppConfig) Pinecone() PineconeConfig { return c.pinecone }

// AppConfigOption is a functional option for AppConfig.
type AppConfigOption func(*AppConfig)

// WithHost sets the server host.
func WithHost(host string) AppConfigOption {
	return func(c *AppConfig) { c.host = host }
}

// WithPort sets the server port.
func WithPort(port int) AppConfigOption {
	return func(c *AppConfig) { c.port = port }
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) AppConfigOption {
	return func(c *AppConfig) { c.logLevel = level }
}

// WithLogFormat sets the log format.
func WithLogFormat(format LogFormat) AppConfigOption {
	return func(c *AppConfig) { c.logFormat = format }
}

// WithVectorStore sets the vector store backend.
func WithVectorStore(t VectorStoreType) AppConfigOption {
	return func(c *AppConfig) { c.vectorStore = t }
}

// WithEmbeddingProvider sets the embedding provider.
func WithEmbeddingProvider(t EmbeddingProviderType) AppConfigOption {
	return func(c *AppConfig) { c.embeddingProvider = t }
}

// WithRetention sets the per-layer TTL config.
func WithRetention(r RetentionConfig) AppConfigOption {
	return func(c *AppConfig) { c.retention = r }
}

// WithMaintenance sets the background maintenance config.
func WithMaintenance(m MaintenanceConfig) AppConfigOption {
	return func(c *AppConfig) { c.maintenance = m }
}

// WithCacheCapacity sets the working cache capacity.
func WithCacheCapacity(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.cacheCapacity = n
		}
	}
}

// WithOpenAI sets the OpenAI endpoint config.
func WithOpenAI(e OpenAIEndpoint) AppConfigOption {
	return func(c *AppConfig) { c.openai = e }
}

// WithWeaviate sets the Weaviate backend config.
func WithWeaviate(w WeaviateConfig) AppConfigOption {
	return func(c *AppConfig) { c.weaviate = w }
}

// WithPinecone sets the Pinecone backend config.
func WithPinecone(p PineconeConfig) AppConfigOption {
	return func(c *AppConfig) { c.pinecone = p }
}

// NewAppConfigWithOptions creates an AppConfig with functional options.
func NewAppConfigWithOptions(opts ...AppConfigOption) AppConfig {
	c := NewAppConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Apply returns a new AppConfig with the given options applied.
func (c AppConfig) Apply(opts ...AppConfigOption) AppConfig {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Validate checks the configuration for startup-fatal problems: unknown
// backend or provider names, and missing credentials for whichever backend
// or provider is selected.
func (c AppConfig) Validate() error {
	switch c.vectorStore {
	case VectorStoreMemory, VectorStoreWeaviate, VectorStorePinecone:
	default:
		return fmt.Errorf("unknown vector store type %q", c.vectorStore)
	}

	switch c.embeddingProvider {
	case EmbeddingProviderOpenAI, EmbeddingProviderLocal:
	default:
		return fmt.Errorf("unknown embedding provider %q", c.embeddingProvider)
	}

	if c.embeddingProvider == EmbeddingProviderOpenAI && !c.openai.IsConfigured() {
		return fmt.Errorf("embedding provider %q requires OPENAI_API_KEY", c.embeddingProvider)
	}
	if c.vectorStore == VectorStoreWeaviate && !c.weaviate.IsConfigured() {
		return fmt.Errorf("vector store %q requires WEAVIATE_URL", c.vectorStore)
	}
	if c.vectorStore == VectorStorePinecone && !c.pinecone.IsConfigured() {
		return fmt.Errorf("vector store %q requires PINECONE_API_KEY", c.vectorStore)
	}

	if c.openai.Dimensions() <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.openai.Dimensions())
	}
	if c.maintenance.DecayRate() <= 0 {
		return fmt.Errorf("decay rate must be positive, got %g", c.maintenance.DecayRate())
	}
	if c.maintenance.ConsolidationThreshold() <= 0 {
		return fmt.Errorf("consolidation threshold must be positive, got %d", c.maintenance.ConsolidationThreshold())
	}
	for _, ttl := range []struct {
		name string
		d    time.Duration
	}{
		{"WORKING_MEMORY_TTL", c.retention.Working()},
		{"SHORT_TERM_MEMORY_TTL", c.retention.ShortTerm()},
		{"LONG_TERM_MEMORY_TTL", c.retention.LongTerm()},
	} {
		if ttl.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", ttl.name, ttl.d)
		}
	}

	return nil
}

// LogAttrs returns slog attributes for logging the configuration.
// Sensitive values like API keys are masked.
func (c AppConfig) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("log_level", c.logLevel),
		slog.String("vector_store", string(c.vectorStore)),
		slog.String("embedding_provider", string(c.embeddingProvider)),
		slog.String("openai_model", c.openai.Model()),
		slog.Int("openai_dimensions", c.openai.Dimensions()),
		slog.String("openai_api_key", maskSecret(c.openai.APIKey())),
		slog.String("weaviate_url", orPlaceholder(c.weaviate.URL())),
		slog.String("pinecone_index", c.pinecone.Index()),
		slog.String("pinecone_api_key", maskSecret(c.pinecone.APIKey())),
		slog.Duration("working_ttl", c.retention.Working()),
		slog.Duration("short_term_ttl", c.retention.ShortTerm()),
		slog.Duration("long_term_ttl", c.retention.LongTerm()),
		slog.Float64("decay_rate", c.maintenance.DecayRate()),
		slog.Duration("decay_interval", c.maintenance.DecayInterval()),
		slog.Int("consolidation_threshold", c.maintenance.ConsolidationThreshold()),
		slog.Duration("consolidation_age", c.maintenance.ConsolidationAge()),
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func orPlaceholder(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}

// parseLogFormat parses a log format string.
func parseLogFormat(s string) LogFormat {
	switch strings.ToLower(s) {
	case "json":
		return LogFormatJSON
	default:
		return LogFormatPretty
	}
}
