package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/helixml/memkit/application/service"
	"github.com/helixml/memkit/infrastructure/api"
	"github.com/helixml/memkit/infrastructure/provider"
	"github.com/helixml/memkit/infrastructure/search"
	"github.com/helixml/memkit/internal/config"
)

func newTestEngine(t *testing.T) *service.Memory {
	t.Helper()

	store := search.NewInMemoryVectorStore()
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize store: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return service.NewMemory(
		store,
		provider.NewLocalProvider(),
		service.NewWorkingCache(config.DefaultCacheCapacity),
		config.NewRetentionConfig(),
		config.NewMaintenanceConfig(),
		&atomic.Bool{},
		logger,
	)
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return api.NewAPIServer(newTestEngine(t), "1.0.0-test", logger).Handler()
}

func mcpRequest(t *testing.T, method string, id int, params map[string]any) []byte {
	t.Helper()
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		msg["params"] = params
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return b
}

func postMCP(t *testing.T, handler http.Handler, body []byte, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// initMCPSession sends an initialize request and returns the session ID.
func initMCPSession(t *testing.T, handler http.Handler) string {
	t.Helper()
	body := mcpRequest(t, "initialize", 1, map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "0.0.1"},
	})
	w := postMCP(t, handler, body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("initialize: status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	sessionID := w.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("initialize did not return a session ID")
	}
	return sessionID
}

// toolResultText decodes the JSON-RPC response from a tools/call and returns
// the text content and whether the tool reported an error.
func toolResultText(t *testing.T, w *httptest.ResponseRecorder) (string, bool) {
	t.Helper()
	var resp struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
	if len(resp.Result.Content) == 0 {
		return "", resp.Result.IsError
	}
	return resp.Result.Content[0].Text, resp.Result.IsError
}

func callTool(t *testing.T, handler http.Handler, sessionID string, id int, name string, arguments map[string]any) (string, bool) {
	t.Helper()
	body := mcpRequest(t, "tools/call", id, map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	w := postMCP(t, handler, body, sessionID)
	if w.Code != http.StatusOK {
		t.Fatalf("tools/call %s: status = %d, want %d; body: %s", name, w.Code, http.StatusOK, w.Body.String())
	}
	return toolResultText(t, w)
}

func TestMCPEndpoint_Initialize(t *testing.T) {
	handler := newTestHandler(t)

	body := mcpRequest(t, "initialize", 1, map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "0.0.1"},
	})

	w := postMCP(t, handler, body, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int    `json:"id"`
		Result  struct {
			ServerInfo struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"serverInfo"`
			Capabilities struct {
				Tools json.RawMessage `json:"tools"`
			} `json:"capabilities"`
		} `json:"result"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.Result.ServerInfo.Name != "memkit" {
		t.Errorf("server name = %q, want memkit", resp.Result.ServerInfo.Name)
	}
	if resp.Result.ServerInfo.Version != "1.0.0-test" {
		t.Errorf("server version = %q, want 1.0.0-test", resp.Result.ServerInfo.Version)
	}
	if resp.Result.Capabilities.Tools == nil {
		t.Error("expected tools capability to be present")
	}
}

func TestMCPEndpoint_ListTools(t *testing.T) {
	handler := newTestHandler(t)
	sessionID := initMCPSession(t, handler)

	body := mcpRequest(t, "tools/list", 2, nil)
	w := postMCP(t, handler, body, sessionID)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	names := map[string]bool{}
	for _, tool := range resp.Result.Tools {
		names[tool.Name] = true
	}

	expected := []string{
		"memory_store",
		"memory_search",
		"memory_recall",
		"memory_consolidate",
		"memory_forget",
		"memory_list",
		"memory_stats",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("missing %s tool", name)
		}
	}
	if len(resp.Result.Tools) != len(expected) {
		t.Errorf("expected %d tools, got %d", len(expected), len(resp.Result.Tools))
	}
}

func TestMCPEndpoint_RejectsInvalidContentType(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// TestMCPEndpoint_StoreAndSearchRoundTrip stores a memory over the HTTP
// transport and finds it again with a semantic search, confirming that tool
// calls reach the real engine end to end.
func TestMCPEndpoint_StoreAndSearchRoundTrip(t *testing.T) {
	handler := newTestHandler(t)
	sessionID := initMCPSession(t, handler)

	text, isError := callTool(t, handler, sessionID, 2, "memory_store", map[string]any{
		"content":    "the deployment pipeline runs integration tests before promoting to staging",
		"importance": 0.8,
		"tags":       []string{"deployment", "ci"},
	})
	if isError {
		t.Fatalf("memory_store returned error: %s", text)
	}

	var stored struct {
		MemoryID string `json:"memoryId"`
		Layer    string `json:"layer"`
	}
	if err := json.Unmarshal([]byte(text), &stored); err != nil {
		t.Fatalf("decode store result: %v", err)
	}
	if stored.MemoryID == "" {
		t.Fatal("expected a memory id")
	}
	if stored.Layer != "long-term" {
		t.Errorf("layer = %q, want long-term", stored.Layer)
	}

	text, isError = callTool(t, handler, sessionID, 3, "memory_search", map[string]any{
		"query": "deployment pipeline",
	})
	if isError {
		t.Fatalf("memory_search returned error: %s", text)
	}

	var results []struct {
		ID        string  `json:"id"`
		Content   string  `json:"content"`
		Relevance float64 `json:"relevance"`
	}
	if err := json.Unmarshal([]byte(text), &results); err != nil {
		t.Fatalf("decode search results: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one search result")
	}
	if results[0].ID != stored.MemoryID {
		t.Errorf("top result id = %q, want %q", results[0].ID, stored.MemoryID)
	}
	if results[0].Relevance <= 0 {
		t.Errorf("relevance = %v, want > 0", results[0].Relevance)
	}
}

// TestMCPEndpoint_ValidationErrorSurfaced confirms that argument validation
// failures come back as tool errors with the original message intact.
func TestMCPEndpoint_ValidationErrorSurfaced(t *testing.T) {
	handler := newTestHandler(t)
	sessionID := initMCPSession(t, handler)

	text, isError := callTool(t, handler, sessionID, 2, "memory_store", map[string]any{
		"content": "",
	})
	if !isError {
		t.Fatal("expected a tool error for empty content")
	}
	if text != "content is required" {
		t.Errorf("error = %q, want %q", text, "content is required")
	}
}

// TestMCPEndpoint_ServerMiddlewareStack verifies that MCP works through the
// full server middleware stack (as built by ListenAndServe). chi's Timeout
// middleware must stay off this path: it wraps the ResponseWriter, which
// breaks the session headers the streamable MCP server manages itself.
func TestMCPEndpoint_ServerMiddlewareStack(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	apiServer := api.NewAPIServer(newTestEngine(t), "1.0.0-test", logger)
	apiServer.MountRoutes()

	// Build the same handler stack as ListenAndServe: the Server router
	// (with RequestID, RealIP, Recoverer) wrapping the APIServer routes.
	srv := api.NewServer("", nil)
	srv.Router().Mount("/", apiServer.Router())
	handler := srv.Router()

	sessionID := initMCPSession(t, handler)

	// List tools using the session, verifying session state survives the
	// middleware stack.
	body := mcpRequest(t, "tools/list", 2, nil)
	w := postMCP(t, handler, body, sessionID)
	if w.Code != http.StatusOK {
		t.Fatalf("tools/list: status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	// Call a tool to confirm end-to-end through the middleware stack.
	text, isError := callTool(t, handler, sessionID, 3, "memory_stats", nil)
	if isError {
		t.Fatalf("memory_stats returned error: %s", text)
	}

	var stats struct {
		TotalMemories int            `json:"totalMemories"`
		ByLayer       map[string]int `json:"byLayer"`
	}
	if err := json.Unmarshal([]byte(text), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalMemories != 0 {
		t.Errorf("totalMemories = %d, want 0", stats.TotalMemories)
	}
	if len(stats.ByLayer) != 3 {
		t.Errorf("byLayer has %d entries, want 3", len(stats.ByLayer))
	}
}
