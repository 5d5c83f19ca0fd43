// ABOUTME: Registry that opens a per-turn MCP session and discovers external tools
// ABOUTME: Discovery failures are service-unavailable; the session is closed exactly once

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/serviceos-chat/internal/chaterr"
	"github.com/2389/serviceos-chat/internal/mcp"
)

// ErrUnavailable means the tool-serving collaborator could not be reached or
// did not list its tools.
var ErrUnavailable = errors.New("tool service unavailable")

// DefaultCallTimeout bounds a single tool call.
const DefaultCallTimeout = 30 * time.Second

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// URL is the MCP endpoint. Empty means no tool service is configured.
	URL     string
	Headers map[string]string

	// CallTimeout bounds each external tool call.
	CallTimeout time.Duration

	// RequireApproval lists external tools that must be approved by the
	// user before they run.
	RequireApproval []string

	// Version is reported to the tool server.
	Version string
	Logger  *slog.Logger

	// Transport overrides the HTTP transport, mainly for tests.
	Transport func() mcp.Transport
}

// Registry discovers external tools for each turn.
type Registry struct {
	cfg      RegistryConfig
	approval map[string]bool
	logger   *slog.Logger
}

// NewRegistry creates a registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	approval := make(map[string]bool, len(cfg.RequireApproval))
	for _, name := range cfg.RequireApproval {
		approval[strings.TrimSpace(name)] = true
	}
	return &Registry{
		cfg:      cfg,
		approval: approval,
		logger:   logger.With("component", "tools.registry"),
	}
}

// Session is a turn-scoped connection to the tool service.
type Session struct {
	External Set

	client  *mcp.Client
	timeout time.Duration
	once    sync.Once
	err     error
}

// Open connects to the tool service and lists its tools. Any failure is a
// service-unavailable error and no partial set is returned.
func (r *Registry) Open(ctx context.Context) (*Session, error) {
	if strings.TrimSpace(r.cfg.URL) == "" && r.cfg.Transport == nil {
		return nil, chaterr.Unavailable("chat", fmt.Errorf("%w: no tool service configured", ErrUnavailable))
	}

	var transport mcp.Transport
	if r.cfg.Transport != nil {
		transport = r.cfg.Transport()
	} else {
		transport = mcp.NewHTTPTransport(mcp.HTTPConfig{
			URL:     r.cfg.URL,
			Headers: r.cfg.Headers,
			Logger:  r.logger,
		})
	}

	client := mcp.NewClient(transport, r.cfg.Version, r.logger)
	fail := func(stage string, err error) (*Session, error) {
		if cerr := client.Close(); cerr != nil {
			r.logger.Debug("closing failed tool session", "error", cerr)
		}
		r.logger.Warn("tool discovery failed", "stage", stage, "error", err)
		return nil, chaterr.Unavailable("chat", fmt.Errorf("%w: %s: %v", ErrUnavailable, stage, err))
	}

	if err := client.Initialize(ctx); err != nil {
		return fail("initialize", err)
	}
	listed, err := client.ListTools(ctx)
	if err != nil {
		return fail("list tools", err)
	}

	sess := &Session{client: client, timeout: r.cfg.CallTimeout}
	external := make(Set, len(listed))
	for _, t := range listed {
		external[t.Name] = Tool{
			Name:          t.Name,
			Description:   t.Description,
			InputSchema:   t.InputSchema,
			Origin:        OriginExternal,
			NeedsApproval: r.approval[t.Name],
			Execute:       sess.executor(t.Name),
		}
	}
	sess.External = external

	r.logger.Debug("tool session opened", "tools", len(external))
	return sess, nil
}

// Call invokes an external tool directly.
func (s *Session) Call(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s arguments: %w", name, err)
	}
	return s.client.CallTool(ctx, name, data)
}

func (s *Session) executor(name string) ExecuteFunc {
	return func(ctx context.Context, input json.RawMessage) (Result, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		result, err := s.client.CallTool(ctx, name, input)
		var toolErr *mcp.ToolError
		switch {
		case errors.As(err, &toolErr):
			return ErrorResult(toolErr.Message), nil
		case err != nil:
			return Result{}, err
		}

		output, err := json.Marshal(result)
		if err != nil {
			return Result{}, fmt.Errorf("encode %s result: %w", name, err)
		}
		return Result{Output: output, Structured: result.StructuredContent}, nil
	}
}

// Close terminates the session. Only the first call has an effect.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.err = s.client.Close()
	})
	return s.err
}
