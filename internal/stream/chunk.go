// ABOUTME: Chunk model for the incremental output of a turn
// ABOUTME: Chunks mirror the UI message stream protocol and carry a resume sequence

package stream

import (
	"encoding/json"
)

// ChunkType tags a Chunk.
type ChunkType string

// Chunk types
const (
	TypeStart               ChunkType = "start"
	TypeStartStep           ChunkType = "start-step"
	TypeTextStart           ChunkType = "text-start"
	TypeTextDelta           ChunkType = "text-delta"
	TypeTextEnd             ChunkType = "text-end"
	TypeReasoningStart      ChunkType = "reasoning-start"
	TypeReasoningDelta      ChunkType = "reasoning-delta"
	TypeReasoningEnd        ChunkType = "reasoning-end"
	TypeToolInputAvailable  ChunkType = "tool-input-available"
	TypeToolApprovalRequest ChunkType = "tool-approval-request"
	TypeToolOutputAvailable ChunkType = "tool-output-available"
	TypeToolOutputError     ChunkType = "tool-output-error"
	TypeToolOutputDenied    ChunkType = "tool-output-denied"
	TypeFinishStep          ChunkType = "finish-step"
	TypeFinish              ChunkType = "finish"
	TypeError               ChunkType = "error"
	TypeChatTitle           ChunkType = "data-chat-title"
)

// GenericErrorText is the only error text ever shown to clients.
const GenericErrorText = "Oops, an error occurred!"

// Chunk is one unit of turn output.
type Chunk struct {
	Type ChunkType `json:"type"`

	// Seq is assigned by Multiplex and travels as the SSE event id.
	Seq int64 `json:"-"`

	// start
	MessageID string `json:"messageId,omitempty"`

	// text and reasoning blocks
	ID    string `json:"id,omitempty"`
	Delta string `json:"delta,omitempty"`

	// tool lifecycle
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ApprovalID string          `json:"approvalId,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`

	// data-* chunks
	Data json.RawMessage `json:"data,omitempty"`

	// Transient chunks are delivered but never folded into messages.
	Transient bool `json:"transient,omitempty"`

	// Err is the internal cause of an error chunk. It is logged, never sent.
	Err error `json:"-"`
}

// Terminal reports whether c ends a stream.
func (c Chunk) Terminal() bool {
	return c.Type == TypeFinish || c.Type == TypeError
}

// Failure builds an error chunk carrying cause.
func Failure(cause error) Chunk {
	return Chunk{Type: TypeError, ErrorText: GenericErrorText, Err: cause}
}

// Title builds the transient chat title chunk.
func Title(title string) Chunk {
	data, _ := json.Marshal(title)
	return Chunk{Type: TypeChatTitle, Data: data, Transient: true}
}

// TitleText returns the title carried by a data-chat-title chunk.
func (c Chunk) TitleText() string {
	if c.Type != TypeChatTitle {
		return ""
	}
	var title string
	_ = json.Unmarshal(c.Data, &title)
	return title
}
