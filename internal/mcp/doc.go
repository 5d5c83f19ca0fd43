// Package mcp implements both ends of the Model Context Protocol as used
// between the chat engine and its tool-serving collaborator.
//
// # Protocol
//
// Messages are JSON-RPC 2.0 over the Streamable HTTP transport:
//
//   - POST /mcp carries requests and notifications
//   - DELETE /mcp terminates a session
//
// A session starts with initialize; the server answers with an
// Mcp-Session-Id header that the client echoes on every later request,
// followed by the notifications/initialized notification. Stateless servers
// skip session tracking entirely.
//
// # Client
//
// Client drives a Transport (HTTPTransport in production):
//
//	c := mcp.NewClient(mcp.NewHTTPTransport(mcp.HTTPConfig{URL: url}), version, logger)
//	if err := c.Initialize(ctx); err != nil { ... }
//	tools, err := c.ListTools(ctx)
//	result, err := c.CallTool(ctx, "provider_search", args)
//
// Tool results carry text content and optional structuredContent. A result
// flagged isError is returned together with a *ToolError.
//
// # Server
//
// Server exposes a Handler. Unknown tools and cancellations are JSON-RPC
// errors; any other handler failure is reported as an isError result so the
// calling model can read it. Bearer tokens are verified on initialize when a
// TokenVerifier is configured, and sessions may only be deleted by the
// token that created them.
package mcp
