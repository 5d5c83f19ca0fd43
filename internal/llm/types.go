// ABOUTME: Provider-neutral model request, response and streaming event types
// ABOUTME: Wire format conversion happens at provider boundaries (openai.go, scripted.go)

package llm

import (
	"context"
	"encoding/json"
)

// Roles used in provider messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDef describes a tool offered to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// ToolChoiceMode controls whether and how the model may call tools.
type ToolChoiceMode string

// Tool choice modes
const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceFunction ToolChoiceMode = "function" // force the tool named in ToolChoice.Name
)

// ToolChoice is the tool-calling policy for one request.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// Request is a single model invocation (one step of a turn).
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDef
	ToolChoice  ToolChoice
	Temperature *float64
}

// Response is the unified result of a streamed model invocation.
type Response struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason string

	InputTokens  int64
	OutputTokens int64
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindTextDelta is an incremental text token from the model.
	KindTextDelta StreamEventKind = iota

	// KindReasoningDelta is an incremental reasoning token.
	KindReasoningDelta

	// KindToolCall fires once per tool call when its arguments are complete.
	KindToolCall
)

// StreamEvent represents a single event in a streaming response.
// Consumers switch on Kind to determine what data is available.
type StreamEvent struct {
	Kind     StreamEventKind
	Text     string
	ToolCall *ToolCall
}

// StreamCallback receives streaming events.
type StreamCallback func(event StreamEvent)

// Provider is the interface that model providers implement.
type Provider interface {
	// Stream runs one model invocation, delivering events to cb (which may be
	// nil) and returning the accumulated response.
	Stream(ctx context.Context, req Request, cb StreamCallback) (*Response, error)
}

// Generate runs req without streaming and returns the text.
func Generate(ctx context.Context, p Provider, req Request) (string, error) {
	resp, err := p.Stream(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func emit(cb StreamCallback, ev StreamEvent) {
	if cb != nil {
		cb(ev)
	}
}
