// ABOUTME: Transport abstraction between the MCP client and a tool server
// ABOUTME: Implementations frame, deliver and correlate JSON-RPC messages

package mcp

import "context"

// Transport delivers JSON-RPC messages to an MCP server.
type Transport interface {
	// Send sends a request and returns its response.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, notif *Request) error

	// Close terminates the session and releases resources.
	Close() error
}
