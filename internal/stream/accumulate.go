// ABOUTME: Rebuilds assistant messages from a chunk sequence
// ABOUTME: Transient chunks are ignored so delivered and stored shapes agree

package stream

import (
	"github.com/2389/serviceos-chat/internal/message"
)

// Accumulate folds chunks into the assistant messages they describe. Each
// start chunk opens a message; parts follow the order their first chunk
// arrived in. Tool outputs for calls not seen in this sequence get a part of
// their own so continuation output is not lost.
func Accumulate(chunks []Chunk) []message.Message {
	var (
		out   []message.Message
		cur   *message.Message
		open  = map[string]int{}
		tools = map[string]int{}
	)
	ensure := func() *message.Message {
		if cur == nil {
			out = append(out, message.Message{Role: message.RoleAssistant})
			cur = &out[len(out)-1]
			open = map[string]int{}
			tools = map[string]int{}
		}
		return cur
	}
	tool := func(c Chunk) *message.Part {
		m := ensure()
		if i, ok := tools[c.ToolCallID]; ok {
			return &m.Parts[i]
		}
		m.Parts = append(m.Parts, message.Part{
			Type:       message.PartToolInvocation,
			ToolCallID: c.ToolCallID,
			ToolName:   c.ToolName,
		})
		tools[c.ToolCallID] = len(m.Parts) - 1
		return &m.Parts[len(m.Parts)-1]
	}

	for _, c := range chunks {
		if c.Transient {
			continue
		}
		switch c.Type {
		case TypeStart:
			out = append(out, message.Message{ID: c.MessageID, Role: message.RoleAssistant})
			cur = &out[len(out)-1]
			open = map[string]int{}
			tools = map[string]int{}
		case TypeStartStep:
			m := ensure()
			m.Parts = append(m.Parts, message.Part{Type: message.PartStepStart})
		case TypeTextStart, TypeReasoningStart:
			m := ensure()
			kind := message.PartText
			if c.Type == TypeReasoningStart {
				kind = message.PartReasoning
			}
			m.Parts = append(m.Parts, message.Part{Type: kind})
			open[c.ID] = len(m.Parts) - 1
		case TypeTextDelta, TypeReasoningDelta:
			m := ensure()
			i, ok := open[c.ID]
			if !ok {
				kind := message.PartText
				if c.Type == TypeReasoningDelta {
					kind = message.PartReasoning
				}
				m.Parts = append(m.Parts, message.Part{Type: kind})
				i = len(m.Parts) - 1
				open[c.ID] = i
			}
			m.Parts[i].Text += c.Delta
		case TypeTextEnd, TypeReasoningEnd:
			delete(open, c.ID)
		case TypeToolInputAvailable:
			p := tool(c)
			p.Input = c.Input
			p.State = message.ToolInputAvailable
		case TypeToolApprovalRequest:
			p := tool(c)
			p.State = message.ToolApprovalRequested
			p.Approval = &message.Approval{ID: c.ApprovalID}
		case TypeToolOutputAvailable:
			p := tool(c)
			p.Output = c.Output
			p.State = message.ToolOutputAvailable
		case TypeToolOutputError:
			p := tool(c)
			p.ErrorText = c.ErrorText
			p.State = message.ToolOutputError
		case TypeToolOutputDenied:
			p := tool(c)
			p.State = message.ToolOutputDenied
		case TypeFinish:
			cur = nil
		}
	}
	return out
}
