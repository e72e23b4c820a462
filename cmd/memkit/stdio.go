package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/helixml/memkit"
	"github.com/helixml/memkit/internal/log"
	"github.com/helixml/memkit/internal/mcp"
	"github.com/spf13/cobra"
)

func stdioCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Start the MCP server on stdio",
		Long: `Start the MCP (Model Context Protocol) server on stdio.

This lets AI assistants store, search and recall memories through the
memory_* tools. Configuration is loaded from environment variables and an
optional .env file. Logs go to stderr; stdout carries the protocol stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStdio(envFile)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file")

	return cmd
}

func runStdio(envFile string) error {
	// Load configuration
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}

	// Setup logger on stderr (stdout is the MCP transport)
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

	// Create MCP server and run on stdio
	mcpServer := mcp.NewServer(client.Memories, version, slogger)
	return mcpServer.ServeStdio()
}
