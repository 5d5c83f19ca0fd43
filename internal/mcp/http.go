// ABOUTME: Streamable HTTP transport for the MCP client (JSON-RPC over POST)
// ABOUTME: Tracks the Mcp-Session-Id header and accepts JSON or SSE-framed replies

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	maxResponseBytes = 10 << 20
	maxErrorBytes    = 4 << 10
)

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	// URL is the MCP endpoint, e.g. http://127.0.0.1:8001/mcp.
	URL string

	// Headers are sent with every request (e.g. Authorization).
	Headers map[string]string

	// Timeout bounds each HTTP exchange. Zero means no client-side timeout;
	// callers still bound requests with their context.
	Timeout time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// HTTPTransport sends each JSON-RPC message as an HTTP POST.
type HTTPTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger

	mu        sync.RWMutex
	sessionID string
	protocol  string
}

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPTransport{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  client,
		logger:  logger.With("component", "mcp.http"),
	}
}

// SessionID returns the session assigned by the server, if any.
func (t *HTTPTransport) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	httpResp, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(httpResp.Body)

	if sid := httpResp.Header.Get(SessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, statusError(httpResp)
	}

	resp, err := decodeResponse(httpResp)
	if err != nil {
		return nil, err
	}

	if req.Method == "initialize" && resp.Result != nil {
		var init initializeResult
		if json.Unmarshal(resp.Result, &init) == nil && init.ProtocolVersion != "" {
			t.mu.Lock()
			t.protocol = init.ProtocolVersion
			t.mu.Unlock()
		}
	}
	return resp, nil
}

// Notify implements Transport.
func (t *HTTPTransport) Notify(ctx context.Context, notif *Request) error {
	httpResp, err := t.post(ctx, notif)
	if err != nil {
		return err
	}
	defer drainAndClose(httpResp.Body)

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		return statusError(httpResp)
	}
	return nil
}

// Close ends the server-side session with DELETE. Servers that do not
// support session termination answer 405, which is not an error.
func (t *HTTPTransport) Close() error {
	sid := t.SessionID()
	if sid == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.url, nil)
	if err != nil {
		return fmt.Errorf("create DELETE request: %w", err)
	}
	t.applyHeaders(httpReq)

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("terminate MCP session: %w", err)
	}
	defer drainAndClose(httpResp.Body)

	t.mu.Lock()
	t.sessionID = ""
	t.mu.Unlock()

	switch httpResp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusAccepted, http.StatusMethodNotAllowed, http.StatusNotFound:
		return nil
	}
	return statusError(httpResp)
}

func (t *HTTPTransport) post(ctx context.Context, msg *Request) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	t.applyHeaders(httpReq)

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to %s: %w", t.url, err)
	}
	return httpResp, nil
}

func (t *HTTPTransport) applyHeaders(r *http.Request) {
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.sessionID != "" {
		r.Header.Set(SessionHeader, t.sessionID)
	}
	if t.protocol != "" {
		r.Header.Set(ProtocolHeader, t.protocol)
	}
}

func decodeResponse(httpResp *http.Response) (*Response, error) {
	mediaType, _, _ := mime.ParseMediaType(httpResp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return decodeSSEResponse(httpResp.Body)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

// decodeSSEResponse returns the first JSON-RPC response carried by an SSE
// body. Server-initiated requests and notifications on the stream are
// skipped.
func decodeSSEResponse(body io.Reader) (*Response, error) {
	scanner := bufio.NewScanner(io.LimitReader(body, maxResponseBytes))
	scanner.Buffer(make([]byte, 64<<10), maxResponseBytes)

	var data strings.Builder
	flush := func() (*Response, bool) {
		defer data.Reset()
		if data.Len() == 0 {
			return nil, false
		}
		var resp Response
		if err := json.Unmarshal([]byte(data.String()), &resp); err != nil {
			return nil, false
		}
		if resp.Result == nil && resp.Error == nil {
			return nil, false
		}
		return &resp, true
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if resp, ok := flush(); ok {
				return resp, nil
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(v, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if resp, ok := flush(); ok {
		return resp, nil
	}
	return nil, errors.New("event stream ended without a response")
}

func statusError(httpResp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBytes))
	return fmt.Errorf("MCP server returned %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBytes))
	_ = body.Close()
}
