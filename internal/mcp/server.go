// ABOUTME: MCP Streamable HTTP server exposing a tool Handler over JSON-RPC
// ABOUTME: Supports initialize, tools/list, tools/call, ping and DELETE session termination

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/serviceos-chat/internal/auth"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// ErrToolNotFound is returned by a Handler for an unknown tool name.
var ErrToolNotFound = errors.New("tool not found")

// Handler serves the tools exposed by a Server.
type Handler interface {
	Tools() []Tool
	CallTool(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error)
}

type session struct {
	id         string
	protocol   string
	ownerToken string
	createdAt  time.Time
}

type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

func (s *sessionStore) create(protocol, ownerToken string) *session {
	sess := &session{
		id:         uuid.New().String(),
		protocol:   protocol,
		ownerToken: ownerToken,
		createdAt:  time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *sessionStore) delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *sessionStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Handler Handler
	Info    ServerInfo
	Logger  *slog.Logger

	// TokenVerifier, when set, authenticates Bearer tokens on initialize.
	TokenVerifier auth.TokenVerifier
	// RequireAuth rejects initialize without a valid token.
	RequireAuth bool

	// Stateless disables sessions: no Mcp-Session-Id is issued and none is
	// required on later requests.
	Stateless bool
}

// Server implements the MCP Streamable HTTP transport for a Handler.
type Server struct {
	handler     Handler
	info        ServerInfo
	logger      *slog.Logger
	verifier    auth.TokenVerifier
	requireAuth bool
	stateless   bool
	sessions    *sessionStore
}

// NewServer creates an MCP server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if cfg.RequireAuth && cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required when auth is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	info := cfg.Info
	if info.Name == "" {
		info.Name = "serviceos-tools"
	}
	if info.Version == "" {
		info.Version = "dev"
	}

	return &Server{
		handler:     cfg.Handler,
		info:        info,
		logger:      logger.With("component", "mcp.server"),
		verifier:    cfg.TokenVerifier,
		requireAuth: cfg.RequireAuth,
		stateless:   cfg.Stateless,
		sessions:    newSessionStore(),
	}, nil
}

// RegisterRoutes registers the /mcp endpoint.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.ServeHTTP)
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	return s.sessions.count()
}

// ServeHTTP handles POST and DELETE; GET streams are not offered.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	case http.MethodGet:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.stateless {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if sess.ownerToken != "" && bearerToken(r) != sess.ownerToken {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.sessions.delete(sessionID)
	s.logger.Debug("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > MaxRequestBodySize {
		s.sendError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(w, nil, CodeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != jsonrpcVersion {
		s.sendError(w, req.ID, CodeInvalidRequest, "invalid JSON-RPC version")
		return
	}

	isInitialize := req.Method == "initialize"
	if v := r.Header.Get(ProtocolHeader); !isInitialize && v != "" && !supportedProtocolVersions[v] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get(SessionHeader)
	if isInitialize {
		if err := s.authenticate(r); err != nil {
			s.sendError(w, req.ID, CodeInvalidRequest, err.Error())
			return
		}
	} else if !s.stateless {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		if _, ok := s.sessions.get(sessionID); !ok {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	s.logger.Debug("MCP request", "method", req.Method, "session_id", sessionID)

	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, r, &req)
	case "ping":
		s.sendResult(w, req.ID, map[string]any{})
	case "tools/list":
		s.sendResult(w, req.ID, listToolsResult{Tools: s.handler.Tools()})
	case "tools/call":
		s.handleToolsCall(w, r, &req)
	default:
		s.sendError(w, req.ID, CodeMethodNotFound, "method not found")
	}
}

func (s *Server) authenticate(r *http.Request) error {
	token := bearerToken(r)
	if token == "" {
		if s.requireAuth {
			return errors.New("authentication required")
		}
		return nil
	}
	if s.verifier == nil {
		return nil
	}
	if _, err := s.verifier.Verify(token); err != nil {
		return errors.New("invalid or expired token")
	}
	return nil
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req *Request) {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendError(w, req.ID, CodeInvalidParams, "invalid params")
			return
		}
	}

	protocol := LatestProtocolVersion
	if supportedProtocolVersions[params.ProtocolVersion] {
		protocol = params.ProtocolVersion
	}

	if !s.stateless {
		sess := s.sessions.create(protocol, bearerToken(r))
		w.Header().Set(SessionHeader, sess.id)
		s.logger.Debug("MCP session created",
			"session_id", sess.id,
			"protocol_version", protocol,
			"client", params.ClientInfo.Name,
		)
	}

	s.sendResult(w, req.ID, initializeResult{
		ProtocolVersion: protocol,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ServerInfo:      s.info,
	})
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req *Request) {
	var params callToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendError(w, req.ID, CodeInvalidParams, "invalid params")
			return
		}
	}
	if params.Name == "" {
		s.sendError(w, req.ID, CodeInvalidParams, "tool name is required")
		return
	}
	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	start := time.Now()
	result, err := s.handler.CallTool(r.Context(), params.Name, args)
	if err != nil {
		s.handleToolError(w, req.ID, params.Name, err)
		return
	}

	s.logger.Debug("tools/call complete",
		"tool_name", params.Name,
		"is_error", result.IsError,
		"elapsed", time.Since(start),
	)
	s.sendResult(w, req.ID, result)
}

// handleToolError maps handler failures. Unknown tools and cancellation are
// protocol errors; anything else becomes an isError result the model can
// read.
func (s *Server) handleToolError(w http.ResponseWriter, id json.RawMessage, name string, err error) {
	s.logger.Warn("tool execution failed", "tool_name", name, "error", err)

	switch {
	case errors.Is(err, ErrToolNotFound):
		s.sendError(w, id, CodeInvalidParams, "tool not found")
	case errors.Is(err, context.DeadlineExceeded):
		s.sendError(w, id, CodeInternalError, "tool execution timed out")
	case errors.Is(err, context.Canceled):
		s.sendError(w, id, CodeInternalError, "request cancelled")
	default:
		s.sendResult(w, id, &CallToolResult{
			Content: TextContent(fmt.Sprintf("tool %s failed: %v", name, err)),
			IsError: true,
		})
	}
}

func (s *Server) sendResult(w http.ResponseWriter, id json.RawMessage, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		s.sendError(w, id, CodeInternalError, "failed to encode result")
		return
	}
	s.write(w, Response{JSONRPC: jsonrpcVersion, ID: id, Result: data})
}

func (s *Server) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	s.write(w, Response{JSONRPC: jsonrpcVersion, ID: id, Error: &RPCError{Code: code, Message: message}})
}

func (s *Server) write(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
