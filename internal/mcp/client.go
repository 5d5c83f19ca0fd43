// ABOUTME: MCP client: initialize handshake, tool discovery and tool invocation
// ABOUTME: Tool-level failures (isError results) are returned as *ToolError alongside the result

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ClientName is advertised in clientInfo during initialize.
const ClientName = "serviceos-chat"

// ErrNotInitialized is returned when a tool operation runs before Initialize.
var ErrNotInitialized = errors.New("mcp client not initialized")

// ToolError reports a tools/call result flagged isError.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s returned error: %s", e.Tool, e.Message)
}

// Client speaks MCP to a single server over a Transport.
type Client struct {
	transport Transport
	logger    *slog.Logger
	version   string
	nextID    atomic.Int64

	initialized atomic.Bool
	server      ServerInfo
}

// NewClient creates a client. version is reported in clientInfo.
func NewClient(transport Transport, version string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport: transport,
		logger:    logger.With("component", "mcp.client"),
		version:   version,
	}
}

// Server returns the server identity learned during Initialize.
func (c *Client) Server() ServerInfo {
	return c.server
}

// Initialize performs the handshake: initialize, then the
// notifications/initialized notification.
func (c *Client) Initialize(ctx context.Context) error {
	resp, err := c.send(ctx, "initialize", initializeParams{
		ProtocolVersion: ClientProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      ServerInfo{Name: ClientName, Version: c.version},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("unmarshal initialize result: %w", err)
	}
	c.server = result.ServerInfo

	notif, err := NewNotification("notifications/initialized", nil)
	if err != nil {
		return err
	}
	if err := c.transport.Notify(ctx, notif); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	c.initialized.Store(true)

	c.logger.Debug("MCP session initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)
	return nil
}

// ListTools calls tools/list.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if !c.initialized.Load() {
		return nil, ErrNotInitialized
	}
	resp, err := c.send(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var result listToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}
	c.logger.Debug("discovered MCP tools", "count", len(result.Tools))
	return result.Tools, nil
}

// CallTool invokes a tool. When the server flags the result as an error the
// result is returned together with a *ToolError.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error) {
	if !c.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	resp, err := c.send(ctx, "tools/call", callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}

	var result CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/call result: %w", err)
	}
	if result.IsError {
		return &result, &ToolError{Tool: name, Message: result.Text()}
	}
	return &result, nil
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, "ping", nil)
	return err
}

// Close terminates the session.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) send(ctx context.Context, method string, params any) (*Response, error) {
	req, err := NewRequest(c.nextID.Add(1), method, params)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}
