// Package mcp provides Model Context Protocol server functionality.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/helixml/memkit/application/service"
	"github.com/helixml/memkit/domain/memory"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	// reservedQueryChars are rejected in search queries because they carry
	// meaning in backend filter languages.
	reservedQueryChars = "{}[]():"

	// listContentHead bounds the content returned per record by memory_list.
	listContentHead = 200
)

// Engine provides the memory operations exposed as MCP tools.
type Engine interface {
	Store(ctx context.Context, content string, opts memory.StoreOptions) (memory.Record, error)
	Search(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.SearchResult, error)
	Recall(ctx context.Context, task string, opts memory.RecallOptions) (service.RecallResult, error)
	Consolidate(ctx context.Context, opts memory.ConsolidateOptions) (memory.ConsolidationResult, error)
	Forget(ctx context.Context, opts memory.ForgetOptions) (memory.ForgetResult, error)
	List(ctx context.Context, opts memory.ListOptions) ([]memory.Record, error)
	Stats(ctx context.Context) (memory.Stats, error)
}

// Server wraps the MCP server with the memory tools.
type Server struct {
	mcpServer *server.MCPServer
	engine    Engine
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewServer creates a new MCP server exposing the engine's memory tools.
func NewServer(engine Engine, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine:   engine,
		validate: newValidator(),
		logger:   logger,
	}

	// Create MCP server with server info
	mcpServer := server.NewMCPServer(
		"memkit",
		version,
		server.WithToolCapabilities(true),
	)

	// Register tools
	s.registerTools(mcpServer)

	s.mcpServer = mcpServer
	return s
}

// registerTools registers all memory tools with the MCP server.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	// Store tool
	storeTool := mcp.NewTool("memory_store",
		mcp.WithDescription("Store a new memory with content, importance and tags for later retrieval"),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The content to remember (at most 10000 characters)"),
		),
		mcp.WithNumber("importance",
			mcp.Description("Importance between 0 and 1 (default: 0.5)"),
		),
		mcp.WithArray("tags",
			mcp.Description("Tags for categorization (at most 50, each at most 50 characters)"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("source",
			mcp.Description("Origin of the memory: user, agent or system (default: agent)"),
		),
		mcp.WithString("layer",
			mcp.Description("Pin the memory to a layer: working, short-term or long-term (default: derived from importance)"),
		),
	)

	mcpServer.AddTool(storeTool, s.handleStore)

	// Search tool
	searchTool := mcp.NewTool("memory_search",
		mcp.WithDescription("Search memories by semantic similarity to a query"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The search query (at most 1000 characters; must not contain { } [ ] ( ) :)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of results to return, 1 to 100 (default: 10)"),
		),
		mcp.WithArray("layerFilter",
			mcp.Description("Restrict results to these layers"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithNumber("minRelevance",
			mcp.Description("Minimum relevance between 0 and 1 (default: 0)"),
		),
		mcp.WithArray("tags",
			mcp.Description("Only return memories carrying all of these tags"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)

	mcpServer.AddTool(searchTool, s.handleSearch)

	// Recall tool
	recallTool := mcp.NewTool("memory_recall",
		mcp.WithDescription("Recall memories relevant to a task across all layers"),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("The task to recall memories for (at most 1000 characters)"),
		),
		mcp.WithString("context",
			mcp.Description("Additional context narrowing the recall (at most 5000 characters)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of memories to recall, 1 to 50 (default: 10)"),
		),
	)

	mcpServer.AddTool(recallTool, s.handleRecall)

	// Consolidate tool
	consolidateTool := mcp.NewTool("memory_consolidate",
		mcp.WithDescription("Merge groups of related older memories into consolidated long-term records"),
		mcp.WithString("olderThan",
			mcp.Description("Only consolidate memories created before this RFC3339 timestamp or epoch milliseconds (default: the configured consolidation age)"),
		),
		mcp.WithNumber("targetSize",
			mcp.Description("Minimum number of candidates required before consolidation runs, 1 to 1000 (default: 50)"),
		),
		mcp.WithString("layer",
			mcp.Description("Layer to consolidate: working, short-term or long-term (default: short-term)"),
		),
	)

	mcpServer.AddTool(consolidateTool, s.handleConsolidate)

	// Forget tool
	forgetTool := mcp.NewTool("memory_forget",
		mcp.WithDescription("Delete memories by id, age or layer"),
		mcp.WithString("memoryId",
			mcp.Description("Delete the memory with this id"),
		),
		mcp.WithString("olderThan",
			mcp.Description("Delete memories created before this RFC3339 timestamp or epoch milliseconds"),
		),
		mcp.WithString("layer",
			mcp.Description("Delete all memories in this layer: working, short-term or long-term"),
		),
		mcp.WithString("reason",
			mcp.Description("Reason recorded with the deletion (at most 500 characters)"),
		),
	)

	mcpServer.AddTool(forgetTool, s.handleForget)

	// List tool
	listTool := mcp.NewTool("memory_list",
		mcp.WithDescription("List stored memories, optionally filtered by layer and tags"),
		mcp.WithString("layer",
			mcp.Description("Only list memories in this layer: working, short-term or long-term"),
		),
		mcp.WithArray("tags",
			mcp.Description("Only list memories carrying all of these tags"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of memories to list, 1 to 1000 (default: 100)"),
		),
	)

	mcpServer.AddTool(listTool, s.handleList)

	// Stats tool
	statsTool := mcp.NewTool("memory_stats",
		mcp.WithDescription("Report aggregate statistics about stored memories"),
	)

	mcpServer.AddTool(statsTool, s.handleStats)
}

type storeArgs struct {
	Content    string   `json:"content" validate:"required,max=10000"`
	Importance float64  `json:"importance" validate:"gte=0,lte=1"`
	Tags       []string `json:"tags" validate:"max=50,dive,max=50"`
	Source     string   `json:"source" validate:"oneof=user agent system"`
	Layer      string   `json:"layer" validate:"omitempty,oneof=working short-term long-term"`
}

// handleStore handles the memory_store tool invocation.
func (s *Server) handleStore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("content is required"), nil
	}

	args := storeArgs{
		Content:    content,
		Importance: request.GetFloat("importance", memory.DefaultImportance),
		Tags:       request.GetStringSlice("tags", nil),
		Source:     request.GetString("source", string(memory.SourceAgent)),
		Layer:      request.GetString("layer", ""),
	}
	if err := s.validate.Struct(args); err != nil {
		return mcp.NewToolResultError(argumentError(err)), nil
	}

	opts := memory.NewStoreOptions().
		WithImportance(args.Importance).
		WithTags(args.Tags).
		WithSource(memory.Source(args.Source))
	if args.Layer != "" {
		opts = opts.WithLayer(memory.Layer(args.Layer))
	}

	record, err := s.engine.Store(ctx, content, opts)
	if err != nil {
		return s.toolError("memory_store", err), nil
	}

	type storeResult struct {
		MemoryID  string    `json:"memoryId"`
		Timestamp time.Time `json:"timestamp"`
		Layer     string    `json:"layer"`
	}

	return jsonResult(storeResult{
		MemoryID:  record.ID(),
		Timestamp: record.Timestamp(),
		Layer:     string(record.Layer()),
	})
}

type searchArgs struct {
	Query        string   `json:"query" validate:"required,max=1000"`
	Limit        int      `json:"limit" validate:"gte=1,lte=100"`
	LayerFilter  []string `json:"layerFilter" validate:"dive,oneof=working short-term long-term"`
	MinRelevance float64  `json:"minRelevance" validate:"gte=0,lte=1"`
	Tags         []string `json:"tags"`
}

// handleSearch handles the memory_search tool invocation.
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required"), nil
	}

	args := searchArgs{
		Query:        query,
		Limit:        request.GetInt("limit", memory.DefaultSearchLimit),
		LayerFilter:  request.GetStringSlice("layerFilter", nil),
		MinRelevance: request.GetFloat("minRelevance", 0),
		Tags:         request.GetStringSlice("tags", nil),
	}
	if err := s.validate.Struct(args); err != nil {
		return mcp.NewToolResultError(argumentError(err)), nil
	}
	if strings.ContainsAny(query, reservedQueryChars) {
		return mcp.NewToolResultError("query must not contain any of { } [ ] ( ) :"), nil
	}

	opts := memory.NewSearchOptions().
		WithLimit(args.Limit).
		WithMinRelevance(args.MinRelevance).
		WithTags(args.Tags)
	if len(args.LayerFilter) > 0 {
		opts = opts.WithLayerFilter(toLayers(args.LayerFilter))
	}

	results, err := s.engine.Search(ctx, query, opts)
	if err != nil {
		return s.toolError("memory_search", err), nil
	}

	return jsonResult(searchItems(results))
}

type recallArgs struct {
	Task    string `json:"task" validate:"required,max=1000"`
	Context string `json:"context" validate:"max=5000"`
	Limit   int    `json:"limit" validate:"gte=1,lte=50"`
}

// handleRecall handles the memory_recall tool invocation.
func (s *Server) handleRecall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := request.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError("task is required"), nil
	}

	args := recallArgs{
		Task:    task,
		Context: request.GetString("context", ""),
		Limit:   request.GetInt("limit", memory.DefaultRecallLimit),
	}
	if err := s.validate.Struct(args); err != nil {
		return mcp.NewToolResultError(argumentError(err)), nil
	}

	opts := memory.NewRecallOptions().WithLimit(args.Limit)
	if args.Context != "" {
		opts = opts.WithContext(args.Context)
	}

	result, err := s.engine.Recall(ctx, task, opts)
	if err != nil {
		return s.toolError("memory_recall", err), nil
	}

	type recallResult struct {
		Summary  string       `json:"summary"`
		Memories []searchItem `json:"memories"`
	}

	return jsonResult(recallResult{
		Summary:  result.Summary(),
		Memories: searchItems(result.Memories()),
	})
}

type consolidateArgs struct {
	TargetSize int    `json:"targetSize" validate:"gte=1,lte=1000"`
	Layer      string `json:"layer" validate:"omitempty,oneof=working short-term long-term"`
}

// handleConsolidate handles the memory_consolidate tool invocation.
func (s *Server) handleConsolidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := consolidateArgs{
		TargetSize: request.GetInt("targetSize", memory.DefaultConsolidateSize),
		Layer:      request.GetString("layer", ""),
	}
	if err := s.validate.Struct(args); err != nil {
		return mcp.NewToolResultError(argumentError(err)), nil
	}

	opts := memory.NewConsolidateOptions().WithTargetSize(args.TargetSize)
	if args.Layer != "" {
		opts = opts.WithLayer(memory.Layer(args.Layer))
	}
	if raw, ok := request.GetArguments()["olderThan"]; ok && raw != nil {
		cutoff, err := parseTimeArg(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid olderThan: %v", err)), nil
		}
		opts = opts.WithOlderThan(cutoff)
	}

	result, err := s.engine.Consolidate(ctx, opts)
	if err != nil {
		return s.toolError("memory_consolidate", err), nil
	}

	type consolidateResult struct {
		Summary      string       `json:"summary"`
		Consolidated []recordItem `json:"consolidated"`
		DeletedCount int          `json:"deletedCount"`
		Deleted      []string     `json:"deleted"`
	}

	return jsonResult(consolidateResult{
		Summary:      result.Summary(),
		Consolidated: recordItems(result.Consolidated(), 0),
		DeletedCount: result.DeletedCount(),
		Deleted:      nonNil(result.DeletedIDs()),
	})
}

type forgetArgs struct {
	MemoryID string `json:"memoryId"`
	Layer    string `json:"layer" validate:"omitempty,oneof=working short-term long-term"`
	Reason   string `json:"reason" validate:"max=500"`
}

// handleForget handles the memory_forget tool invocation.
func (s *Server) handleForget(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := forgetArgs{
		MemoryID: request.GetString("memoryId", ""),
		Layer:    request.GetString("layer", ""),
		Reason:   request.GetString("reason", ""),
	}
	if err := s.validate.Struct(args); err != nil {
		return mcp.NewToolResultError(argumentError(err)), nil
	}

	opts := memory.NewForgetOptions()
	if args.MemoryID != "" {
		opts = opts.WithMemoryID(args.MemoryID)
	}
	if args.Layer != "" {
		opts = opts.WithLayer(memory.Layer(args.Layer))
	}
	if args.Reason != "" {
		opts = opts.WithReason(args.Reason)
	}
	if raw, ok := request.GetArguments()["olderThan"]; ok && raw != nil {
		cutoff, err := parseTimeArg(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid olderThan: %v", err)), nil
		}
		opts = opts.WithOlderThan(cutoff)
	}

	result, err := s.engine.Forget(ctx, opts)
	if err != nil {
		return s.toolError("memory_forget", err), nil
	}

	type forgetResult struct {
		DeletedCount int      `json:"deletedCount"`
		Deleted      []string `json:"deleted"`
		Reason       string   `json:"reason"`
	}

	return jsonResult(forgetResult{
		DeletedCount: result.DeletedCount(),
		Deleted:      nonNil(result.DeletedIDs()),
		Reason:       result.Reason(),
	})
}

type listArgs struct {
	Layer string   `json:"layer" validate:"omitempty,oneof=working short-term long-term"`
	Tags  []string `json:"tags"`
	Limit int      `json:"limit" validate:"gte=1,lte=1000"`
}

// handleList handles the memory_list tool invocation.
func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := listArgs{
		Layer: request.GetString("layer", ""),
		Tags:  request.GetStringSlice("tags", nil),
		Limit: request.GetInt("limit", memory.DefaultListLimit),
	}
	if err := s.validate.Struct(args); err != nil {
		return mcp.NewToolResultError(argumentError(err)), nil
	}

	opts := memory.NewListOptions().WithLimit(args.Limit).WithTags(args.Tags)
	if args.Layer != "" {
		opts = opts.WithLayer(memory.Layer(args.Layer))
	}

	records, err := s.engine.List(ctx, opts)
	if err != nil {
		return s.toolError("memory_list", err), nil
	}

	return jsonResult(recordItems(records, listContentHead))
}

// handleStats handles the memory_stats tool invocation.
func (s *Server) handleStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return s.toolError("memory_stats", err), nil
	}

	type statsResult struct {
		TotalMemories int            `json:"totalMemories"`
		ByLayer       map[string]int `json:"byLayer"`
		AvgImportance float64        `json:"avgImportance"`
		OldestMemory  *time.Time     `json:"oldestMemory,omitempty"`
		NewestMemory  *time.Time     `json:"newestMemory,omitempty"`
	}

	byLayer := make(map[string]int, len(stats.ByLayer()))
	for layer, count := range stats.ByLayer() {
		byLayer[string(layer)] = count
	}

	result := statsResult{
		TotalMemories: stats.Total(),
		ByLayer:       byLayer,
		AvgImportance: stats.AvgImportance(),
	}
	if oldest, ok := stats.Oldest(); ok {
		result.OldestMemory = &oldest
	}
	if newest, ok := stats.Newest(); ok {
		result.NewestMemory = &newest
	}

	return jsonResult(result)
}

// toolError renders an engine failure as a tool error. Validation failures
// pass through verbatim; anything else is logged first. Backend errors reach
// this point with secrets already redacted.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		return mcp.NewToolResultError(validationErr.Error())
	}

	s.logger.Error("tool call failed", slog.String("tool", tool), slog.Any("error", err))
	return mcp.NewToolResultError(err.Error())
}

// MCPServer returns the underlying MCP server for stdio serving.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the MCP server on stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// searchItem is the wire shape of one search or recall match.
type searchItem struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Relevance float64    `json:"relevance"`
	Metadata  recordMeta `json:"metadata"`
}

// recordItem is the wire shape of one listed or consolidated record.
type recordItem struct {
	ID       string     `json:"id"`
	Content  string     `json:"content"`
	Metadata recordMeta `json:"metadata"`
}

type recordMeta struct {
	Layer        string    `json:"layer"`
	Importance   float64   `json:"importance"`
	Tags         []string  `json:"tags"`
	Source       string    `json:"source"`
	Timestamp    time.Time `json:"timestamp"`
	AccessCount  int       `json:"accessCount"`
	LastAccessed time.Time `json:"lastAccessed"`
}

func searchItems(results []memory.SearchResult) []searchItem {
	items := make([]searchItem, len(results))
	for i, result := range results {
		items[i] = searchItem{
			ID:        result.Record().ID(),
			Content:   result.Record().Content(),
			Relevance: result.Relevance(),
			Metadata:  recordMetadata(result.Record()),
		}
	}
	return items
}

// recordItems maps records to their wire shape. A positive head bounds the
// content length in runes; zero keeps content whole.
func recordItems(records []memory.Record, head int) []recordItem {
	items := make([]recordItem, len(records))
	for i, record := range records {
		content := record.Content()
		if head > 0 {
			content = headline(content, head)
		}
		items[i] = recordItem{
			ID:       record.ID(),
			Content:  content,
			Metadata: recordMetadata(record),
		}
	}
	return items
}

func recordMetadata(record memory.Record) recordMeta {
	return recordMeta{
		Layer:        string(record.Layer()),
		Importance:   record.Importance(),
		Tags:         nonNil(record.Tags()),
		Source:       string(record.Source()),
		Timestamp:    record.Timestamp(),
		AccessCount:  record.AccessCount(),
		LastAccessed: record.LastAccessed(),
	}
}

// headline truncates s to at most n runes.
func headline(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func toLayers(names []string) []memory.Layer {
	layers := make([]memory.Layer, len(names))
	for i, name := range names {
		layers[i] = memory.Layer(name)
	}
	return layers
}

// parseTimeArg accepts an RFC3339 timestamp or epoch milliseconds.
func parseTimeArg(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("not an RFC3339 timestamp: %q", v)
		}
		return t, nil
	case float64:
		return time.UnixMilli(int64(v)), nil
	case int64:
		return time.UnixMilli(v), nil
	case int:
		return time.UnixMilli(int64(v)), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", raw)
	}
}

// jsonResult marshals v as the tool's text payload.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// newValidator builds the argument validator, naming fields after their
// JSON tags so failures read like the tool's schema.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// argumentError renders the first field failure as a short message.
func argumentError(err error) string {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err.Error()
	}

	fe := fields[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), strings.Join(strings.Fields(fe.Param()), ", "))
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "max":
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("%s exceeds %s characters", fe.Field(), fe.Param())
		case reflect.Slice:
			return fmt.Sprintf("%s accepts at most %s entries", fe.Field(), fe.Param())
		default:
			return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
		}
	}
	return fe.Error()
}
