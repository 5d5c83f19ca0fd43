// ABOUTME: Conversion from conversation messages to provider messages
// ABOUTME: Splits assistant messages into tool-call rounds followed by tool results

package llm

import (
	"encoding/json"
	"strings"

	"github.com/2389/serviceos-chat/internal/message"
)

// FromMessages converts a model-facing message view into provider messages.
// Control parts must already be stripped (see message.ModelView). Tool
// invocations without a terminal outcome are omitted since providers require
// a result for every call.
func FromMessages(msgs []message.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case message.RoleAssistant:
			out = append(out, assistantMessages(m)...)
		case message.RoleSystem:
			if text := message.Text(m); text != "" {
				out = append(out, Message{Role: RoleSystem, Content: text})
			}
		default:
			if text := userContent(m); text != "" {
				out = append(out, Message{Role: RoleUser, Content: text})
			}
		}
	}
	return out
}

func userContent(m message.Message) string {
	var b strings.Builder
	add := func(s string) {
		if s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s)
	}
	for _, p := range m.Parts {
		switch p.Type {
		case message.PartText:
			add(p.Text)
		case message.PartFile:
			add("Attachment: " + p.URL)
		}
	}
	for _, a := range m.Attachments {
		add("Attachment: " + a.URL)
	}
	return b.String()
}

// assistantMessages emits one assistant message per round: the text and tool
// calls of the round, then a tool message per call. A text part after a
// tool call starts a new round.
func assistantMessages(m message.Message) []Message {
	var out []Message
	var text []string
	var calls []ToolCall
	var results []Message

	flush := func() {
		if len(text) == 0 && len(calls) == 0 {
			return
		}
		out = append(out, Message{Role: RoleAssistant, Content: strings.Join(text, "\n"), ToolCalls: calls})
		out = append(out, results...)
		text, calls, results = nil, nil, nil
	}

	for _, p := range m.Parts {
		switch p.Type {
		case message.PartText:
			if p.Text == "" {
				continue
			}
			if len(calls) > 0 {
				flush()
			}
			text = append(text, p.Text)
		case message.PartToolInvocation:
			result, ok := toolResult(p)
			if !ok {
				continue
			}
			args := p.Input
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			calls = append(calls, ToolCall{ID: p.ToolCallID, Name: p.ToolName, Arguments: args})
			results = append(results, Message{Role: RoleTool, ToolCallID: p.ToolCallID, Content: result})
		}
	}
	flush()
	return out
}

func toolResult(p message.Part) (string, bool) {
	switch p.State {
	case message.ToolOutputAvailable:
		if len(p.Output) == 0 {
			return "{}", true
		}
		return string(p.Output), true
	case message.ToolOutputError:
		data, _ := json.Marshal(map[string]string{"error": p.ErrorText})
		return string(data), true
	case message.ToolOutputDenied:
		reason := "The user denied this tool call."
		if p.Approval != nil && p.Approval.Reason != "" {
			reason = p.Approval.Reason
		}
		data, _ := json.Marshal(map[string]string{"error": reason})
		return string(data), true
	}
	return "", false
}
