// ABOUTME: Tests for the MCP server and client over a real HTTP round trip
// ABOUTME: Covers sessions, tool listing, tool calls, errors, auth and SSE replies

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/2389/serviceos-chat/internal/auth"
)

type echoHandler struct{}

func (echoHandler) Tools() []Tool {
	return []Tool{
		{Name: "echo", Description: "Echo the arguments", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "fail", Description: "Always fails", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "slow", Description: "Waits for cancellation", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}
}

func (echoHandler) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error) {
	switch name {
	case "echo":
		return &CallToolResult{Content: TextContent(string(args)), StructuredContent: args}, nil
	case "fail":
		return nil, errors.New("backend exploded")
	case "slow":
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Handler == nil {
		cfg.Handler = echoHandler{}
	}
	cfg.Logger = slog.Default()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func newTestClient(t *testing.T, url string, headers map[string]string) (*Client, *HTTPTransport) {
	t.Helper()
	tr := NewHTTPTransport(HTTPConfig{URL: url + "/mcp", Headers: headers, Timeout: 5 * time.Second})
	return NewClient(tr, "test", nil), tr
}

func TestClientServerRoundTrip(t *testing.T) {
	srv, ts := newTestServer(t, ServerConfig{Info: ServerInfo{Name: "serviceos-tools", Version: "1.2.3"}})
	client, tr := newTestClient(t, ts.URL, nil)
	ctx := context.Background()

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if client.Server().Name != "serviceos-tools" || client.Server().Version != "1.2.3" {
		t.Errorf("unexpected server info: %+v", client.Server())
	}
	if tr.SessionID() == "" {
		t.Fatal("expected a session ID after initialize")
	}
	if srv.SessionCount() != 1 {
		t.Errorf("expected 1 session, got %d", srv.SessionCount())
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 3 || tools[0].Name != "echo" {
		t.Errorf("unexpected tools: %+v", tools)
	}

	result, err := client.CallTool(ctx, "echo", json.RawMessage(`{"q":"hi"}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if string(result.StructuredContent) != `{"q":"hi"}` {
		t.Errorf("structured content = %s", result.StructuredContent)
	}
	if result.Text() != `{"q":"hi"}` {
		t.Errorf("text = %q", result.Text())
	}

	if err := client.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if srv.SessionCount() != 0 {
		t.Errorf("expected session to be terminated, got %d", srv.SessionCount())
	}
}

func TestCallTool_HandlerErrorIsToolResult(t *testing.T) {
	_, ts := newTestServer(t, ServerConfig{})
	client, _ := newTestClient(t, ts.URL, nil)
	ctx := context.Background()
	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	result, err := client.CallTool(ctx, "fail", nil)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatalf("expected isError result, got %+v", result)
	}
	if !strings.Contains(toolErr.Message, "backend exploded") {
		t.Errorf("tool error message = %q", toolErr.Message)
	}
}

func TestCallTool_UnknownToolIsRPCError(t *testing.T) {
	_, ts := newTestServer(t, ServerConfig{})
	client, _ := newTestClient(t, ts.URL, nil)
	ctx := context.Background()
	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	_, err := client.CallTool(ctx, "nope", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if rpcErr.Code != CodeInvalidParams {
		t.Errorf("code = %d, want %d", rpcErr.Code, CodeInvalidParams)
	}
}

func TestClient_RequiresInitialize(t *testing.T) {
	_, ts := newTestServer(t, ServerConfig{})
	client, _ := newTestClient(t, ts.URL, nil)

	if _, err := client.ListTools(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func postJSON(t *testing.T, url string, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/mcp", bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_SessionRequired(t *testing.T) {
	_, ts := newTestServer(t, ServerConfig{})

	resp := postJSON(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing session: status = %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, map[string]string{SessionHeader: "unknown"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: status = %d", resp.StatusCode)
	}
}

func TestServer_Stateless(t *testing.T) {
	_, ts := newTestServer(t, ServerConfig{Stateless: true})

	resp := postJSON(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`, nil)
	if sid := resp.Header.Get(SessionHeader); sid != "" {
		t.Errorf("stateless server issued session %q", sid)
	}
	var init Response
	if err := json.NewDecoder(resp.Body).Decode(&init); err != nil {
		t.Fatal(err)
	}
	var result initializeResult
	if err := json.Unmarshal(init.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("negotiated %q, want the client's supported version", result.ProtocolVersion)
	}

	resp = postJSON(t, ts.URL, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("stateless tools/list status = %d", resp.StatusCode)
	}
}

func TestServer_InvalidRequests(t *testing.T) {
	_, ts := newTestServer(t, ServerConfig{Stateless: true})

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{not json`, CodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, CodeMethodNotFound},
		{"missing tool name", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`, CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL, tt.body, nil)
			var r Response
			if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
				t.Fatal(err)
			}
			if r.Error == nil || r.Error.Code != tt.code {
				t.Errorf("got %+v, want error code %d", r.Error, tt.code)
			}
		})
	}
}

func TestServer_NotificationAccepted(t *testing.T) {
	_, ts := newTestServer(t, ServerConfig{Stateless: true})
	resp := postJSON(t, ts.URL, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
}

func TestServer_Auth(t *testing.T) {
	verifier, err := auth.NewJWTVerifier([]byte("mcp-server-test-secret-32-bytes!"))
	if err != nil {
		t.Fatal(err)
	}
	token, err := verifier.Generate("chat-gateway", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	srv, ts := newTestServer(t, ServerConfig{TokenVerifier: verifier, RequireAuth: true})

	anon, _ := newTestClient(t, ts.URL, nil)
	if err := anon.Initialize(context.Background()); err == nil {
		t.Error("expected initialize without token to fail")
	}

	bad, _ := newTestClient(t, ts.URL, map[string]string{"Authorization": "Bearer garbage"})
	if err := bad.Initialize(context.Background()); err == nil {
		t.Error("expected initialize with invalid token to fail")
	}

	good, tr := newTestClient(t, ts.URL, map[string]string{"Authorization": "Bearer " + token})
	if err := good.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Another caller may not delete the session.
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req.Header.Set(SessionHeader, tr.SessionID())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign DELETE status = %d, want 403", resp.StatusCode)
	}
	if srv.SessionCount() != 1 {
		t.Errorf("session count = %d", srv.SessionCount())
	}
}

func TestNewServer_Validation(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("expected error without handler")
	}
	if _, err := NewServer(ServerConfig{Handler: echoHandler{}, RequireAuth: true}); err == nil {
		t.Error("expected error when auth required without verifier")
	}
}

func TestHTTPTransport_SSEResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.IsNotification() {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		fmt.Fprintf(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":%s,\"result\":{\"tools\":[{\"name\":\"remote\",\"inputSchema\":{}}]}}\n\n", req.ID)
	}))
	defer ts.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: ts.URL})
	req, err := NewRequest(7, "tools/list", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := tr.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(resp.ID) != "7" {
		t.Errorf("id = %s", resp.ID)
	}
	var result listToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "remote" {
		t.Errorf("tools = %+v", result.Tools)
	}
}

func TestHTTPTransport_StatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer ts.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: ts.URL})
	req, _ := NewRequest(1, "ping", nil)
	_, err := tr.Send(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("expected 502 error, got %v", err)
	}
}
