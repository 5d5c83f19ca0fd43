// ABOUTME: Deterministic scripted provider for tests and offline runs
// ABOUTME: Replays a fixed sequence of steps and records every request it receives

package llm

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// ScriptedStep is one canned model response.
type ScriptedStep struct {
	Reasoning string
	Text      string
	ToolCalls []ToolCall
	Err       error
}

// Scripted is a Provider that replays Steps in order. Once the script is
// exhausted it answers with Fallback (an empty text response by default).
type Scripted struct {
	mu       sync.Mutex
	steps    []ScriptedStep
	next     int
	requests []Request

	// Fallback is returned once steps run out.
	Fallback ScriptedStep
}

// NewScripted creates a scripted provider.
func NewScripted(steps ...ScriptedStep) *Scripted {
	return &Scripted{steps: steps}
}

// Call is a convenience constructor for a scripted tool call.
func Call(id, name string, args any) ToolCall {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(`{}`)
	}
	return ToolCall{ID: id, Name: name, Arguments: data}
}

// Stream implements Provider.
func (s *Scripted) Stream(ctx context.Context, req Request, cb StreamCallback) (*Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	step := s.Fallback
	if s.next < len(s.steps) {
		step = s.steps[s.next]
		s.next++
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}

	if step.Reasoning != "" {
		emit(cb, StreamEvent{Kind: KindReasoningDelta, Text: step.Reasoning})
	}
	// Stream text word by word so consumers see multiple deltas.
	for _, tok := range splitTokens(step.Text) {
		emit(cb, StreamEvent{Kind: KindTextDelta, Text: tok})
	}
	for i := range step.ToolCalls {
		call := step.ToolCalls[i]
		emit(cb, StreamEvent{Kind: KindToolCall, ToolCall: &call})
	}

	finish := "stop"
	if len(step.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	return &Response{
		Text:         step.Text,
		Reasoning:    step.Reasoning,
		ToolCalls:    append([]ToolCall(nil), step.ToolCalls...),
		FinishReason: finish,
	}, nil
}

// Requests returns a copy of the requests received so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func splitTokens(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for len(text) > 0 {
		i := strings.IndexByte(text[1:], ' ')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}
