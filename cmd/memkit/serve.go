package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helixml/memkit"
	"github.com/helixml/memkit/infrastructure/api"
	"github.com/helixml/memkit/internal/config"
	"github.com/helixml/memkit/internal/log"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long in-flight requests may run after a signal.
const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var (
		envFile string
		host    string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over HTTP",
		Long: `Start the MCP server over streamable HTTP.

The MCP endpoint is mounted at /mcp, with health probes at /health and
/healthz and an info document at /.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. .env file (if --env-file specified or .env exists in current directory)
  3. Environment variables
  4. Command line flags

Environment variables:
  HOST                         Server host to bind to (default: 0.0.0.0)
  PORT                         Server port to listen on (default: 8080)
  LOG_LEVEL                    Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  LOG_FORMAT                   Log format: pretty, json (default: pretty)

  VECTOR_STORE_TYPE            Vector store: memory, weaviate, pinecone (default: memory)
  WEAVIATE_URL                 Weaviate server URL
  WEAVIATE_API_KEY             Weaviate API key (empty for anonymous access)
  PINECONE_API_KEY             Pinecone API key
  PINECONE_INDEX               Pinecone index name (default: memory-mcp)

  EMBEDDING_PROVIDER           Embedding provider: openai, local (default: openai)
  OPENAI_API_KEY               OpenAI API key
  OPENAI_BASE_URL              OpenAI base URL override (proxies, gateways)
  OPENAI_EMBEDDING_MODEL       Embedding model (default: text-embedding-3-small)
  OPENAI_EMBEDDING_DIMENSIONS  Vector dimension (default: 1536)

  WORKING_MEMORY_TTL           Working layer TTL in ms (default: 1800000)
  SHORT_TERM_MEMORY_TTL        Short-term layer TTL in ms (default: 604800000)
  LONG_TERM_MEMORY_TTL         Long-term layer TTL in ms (default: 31536000000)
  DECAY_RATE                   Importance decay rate (default: 0.1)
  DECAY_INTERVAL               Decay interval in ms (default: 86400000)
  CONSOLIDATION_THRESHOLD      Short-term count triggering consolidation (default: 100)
  CONSOLIDATION_AGE            Minimum consolidation candidate age in ms (default: 2592000000)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile, host, port)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&host, "host", "", "Server host to bind to (default: 0.0.0.0)")
	cmd.Flags().IntVar(&port, "port", 0, "Server port to listen on (default: 8080)")

	return cmd
}

func runServe(envFile, host string, port int) error {
	// Load configuration
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}

	// Apply command line overrides (flags take precedence over env vars)
	cfg = applyServeOverrides(cfg, host, port)

	// Setup logger
	logger := log.NewLogger(cfg)
	slogger := logger.Slog()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	attrs := append([]slog.Attr{slog.String("version", version)}, cfg.LogAttrs()...)
	slogger.LogAttrs(context.Background(), slog.LevelInfo, "starting memkit", attrs...)

	// Create memkit client
	client, err := memkit.New(
		memkit.FromAppConfig(cfg),
		memkit.WithLogger(slogger),
	)
	if err != nil {
		return fmt.Errorf("create memkit client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slogger.Error("failed to close memkit client", slog.Any("error", err))
		}
	}()

	// Create API server hosting the MCP endpoint and probes
	apiServer := api.NewAPIServer(client.Memories, version, slogger)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		slogger.Info("shutting down server", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			slogger.Error("shutdown error", slog.Any("error", err))
		}
	}()

	if err := apiServer.ListenAndServe(cfg.Addr()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// applyServeOverrides applies command line flag overrides to the config.
func applyServeOverrides(cfg config.AppConfig, host string, port int) config.AppConfig {
	var opts []config.AppConfigOption

	if host != "" {
		opts = append(opts, config.WithHost(host))
	}
	if port != 0 {
		opts = append(opts, config.WithPort(port))
	}

	return cfg.Apply(opts...)
}
