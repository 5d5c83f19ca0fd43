// ABOUTME: Conversation message model: messages, tagged parts, tool invocation states
// ABOUTME: Provides the model-facing and orchestrator-facing views over a message list

package message

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

// Message roles
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// PartType tags the variant carried by a Part.
type PartType string

// Part types
const (
	PartText           PartType = "text"
	PartReasoning      PartType = "reasoning"
	PartToolInvocation PartType = "tool-invocation"
	PartFile           PartType = "file"
	PartStepStart      PartType = "step-start"
	PartData           PartType = "data"
)

// ToolState is the lifecycle state of a tool-invocation part.
type ToolState string

// Tool invocation states
const (
	ToolInputAvailable    ToolState = "input-available"
	ToolApprovalRequested ToolState = "approval-requested"
	ToolApprovalResponded ToolState = "approval-responded"
	ToolOutputAvailable   ToolState = "output-available"
	ToolOutputError       ToolState = "output-error"
	ToolOutputDenied      ToolState = "output-denied"
)

// Terminal reports whether the state carries a final outcome.
func (s ToolState) Terminal() bool {
	return s == ToolOutputAvailable || s == ToolOutputError || s == ToolOutputDenied
}

// ControlToolChoice names the control part a client attaches to a user
// message when the user picked a workflow from a disambiguation prompt.
const ControlToolChoice = "tool-choice"

// Approval is the user's answer to a tool approval request.
type Approval struct {
	ID       string `json:"id"`
	Approved *bool  `json:"approved,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Part is one element of a message. Which fields are meaningful depends on Type.
type Part struct {
	Type PartType `json:"type"`

	// text, reasoning
	Text string `json:"text,omitempty"`

	// tool-invocation
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	State      ToolState       `json:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
	Approval   *Approval       `json:"approval,omitempty"`

	// file
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url,omitempty"`
	Filename  string `json:"filename,omitempty"`

	// data (control)
	Name string          `json:"name,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IsControl reports whether the part is orchestrator-only and must never be
// presented to the model as content.
func (p Part) IsControl() bool {
	return p.Type == PartData || p.Type == PartStepStart
}

// Attachment is a file attached to a message outside its parts.
type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

// Message is a single conversation message.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Parts       []Part       `json:"parts"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt,omitempty"`
}

// Clone returns a deep copy of the message parts slice so callers may append
// without aliasing the original.
func (m Message) Clone() Message {
	out := m
	out.Parts = append([]Part(nil), m.Parts...)
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	return out
}

// Text joins the text parts of a message with newlines.
func Text(m Message) string {
	var parts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ModelView returns the projection of msgs that the model is allowed to see:
// control and step-start parts are stripped and messages left empty are
// dropped. The input is not modified.
func ModelView(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		kept := make([]Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.IsControl() {
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			continue
		}
		view := m
		view.Parts = kept
		out = append(out, view)
	}
	return out
}

// ControlParts returns the control parts of a message.
func ControlParts(m Message) []Part {
	var out []Part
	for _, p := range m.Parts {
		if p.Type == PartData {
			out = append(out, p)
		}
	}
	return out
}

// toolChoiceData is the payload of a tool-choice control part.
type toolChoiceData struct {
	ToolName string `json:"toolName"`
}

// LatestToolChoice returns the tool name carried by a tool-choice control part
// on the most recent user message, or "" when there is none.
func LatestToolChoice(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != RoleUser {
			continue
		}
		for _, p := range ControlParts(msgs[i]) {
			if p.Name != ControlToolChoice {
				continue
			}
			var d toolChoiceData
			if err := json.Unmarshal(p.Data, &d); err == nil && d.ToolName != "" {
				return d.ToolName
			}
		}
		return ""
	}
	return ""
}

// LastAssistant returns the final message when it is an assistant message.
func LastAssistant(msgs []Message) (Message, bool) {
	if len(msgs) == 0 {
		return Message{}, false
	}
	last := msgs[len(msgs)-1]
	if last.Role != RoleAssistant {
		return Message{}, false
	}
	return last, true
}

// ContainsID reports whether any message in msgs has the given ID.
func ContainsID(msgs []Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
