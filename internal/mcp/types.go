// ABOUTME: MCP protocol payloads for initialize, tools/list and tools/call
// ABOUTME: Tool results carry text content plus optional structuredContent

package mcp

import (
	"encoding/json"
	"strings"
)

// Protocol versions. The client advertises ClientProtocolVersion; the server
// accepts any supported version and answers with LatestProtocolVersion.
const (
	ClientProtocolVersion = "2025-03-26"
	LatestProtocolVersion = "2025-06-18"
)

var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-06-18": true,
	"2025-11-25": true,
}

// SessionHeader carries the session ID on Streamable HTTP requests.
const SessionHeader = "Mcp-Session-Id"

// ProtocolHeader carries the negotiated protocol version.
const ProtocolHeader = "Mcp-Protocol-Version"

// Tool is a tool definition as listed by tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Content is one content block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent returns a single text block.
func TextContent(text string) []Content {
	return []Content{{Type: "text", Text: text}}
}

// CallToolResult is the result payload of tools/call.
type CallToolResult struct {
	Content           []Content       `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
	Meta              map[string]any  `json:"_meta,omitempty"`
}

// Text joins the text content blocks.
func (r *CallToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ServerInfo identifies an MCP implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ServerInfo     `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
