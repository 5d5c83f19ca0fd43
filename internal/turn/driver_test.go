package turn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/serviceos-chat/internal/builtins"
	"github.com/2389/serviceos-chat/internal/chaterr"
	"github.com/2389/serviceos-chat/internal/llm"
	"github.com/2389/serviceos-chat/internal/message"
	"github.com/2389/serviceos-chat/internal/stream"
	"github.com/2389/serviceos-chat/internal/tools"
)

type countingCloser struct{ n atomic.Int32 }

func (c *countingCloser) Close() error {
	c.n.Add(1)
	return nil
}

// recorder is an external tool that records its inputs.
type recorder struct {
	mu     sync.Mutex
	inputs []string
}

func (r *recorder) tool(name string, output string) tools.Tool {
	return tools.Tool{
		Name:   name,
		Origin: tools.OriginExternal,
		Execute: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			r.mu.Lock()
			r.inputs = append(r.inputs, name+":"+string(input))
			r.mu.Unlock()
			return tools.Result{Output: json.RawMessage(output)}, nil
		},
	}
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.inputs...)
}

func userText(id, text string) message.Message {
	return message.Message{ID: id, Role: message.RoleUser, Parts: []message.Part{{Type: message.PartText, Text: text}}}
}

func toolSet(extra ...tools.Tool) tools.Set {
	return tools.Merge(tools.NewSet(extra...), builtins.Set())
}

func runTurn(t *testing.T, d *Driver, in Input) (Result, []stream.Chunk) {
	t.Helper()
	out := make(chan stream.Chunk, 512)
	res := d.Run(context.Background(), in, out)
	var chunks []stream.Chunk
	for c := range out {
		chunks = append(chunks, c)
	}
	return res, chunks
}

func chunkTypes(chunks []stream.Chunk) []stream.ChunkType {
	out := make([]stream.ChunkType, len(chunks))
	for i, c := range chunks {
		out[i] = c.Type
	}
	return out
}

func defNames(defs []llm.ToolDef) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

func TestRun_TextOnly(t *testing.T) {
	provider := llm.NewScripted(llm.ScriptedStep{Text: "Hello there"})
	closer := &countingCloser{}
	d := NewDriver(Config{Provider: provider})

	res, chunks := runTurn(t, d, Input{
		ChatID:    "c1",
		Model:     "gpt",
		System:    "be helpful",
		Messages:  []message.Message{userText("u1", "hi")},
		Tools:     toolSet(),
		Active:    []string{builtins.OptionsSelect, builtins.DateSelect},
		Session:   closer,
		MessageID: "a1",
	})

	require.NoError(t, res.Err)
	assert.Equal(t, StateHalted, res.State)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, int32(1), closer.n.Load())

	assert.Equal(t, []stream.ChunkType{
		stream.TypeStart, stream.TypeStartStep,
		stream.TypeTextStart, stream.TypeTextDelta, stream.TypeTextDelta, stream.TypeTextEnd,
		stream.TypeFinishStep, stream.TypeFinish,
	}, chunkTypes(chunks))
	assert.Equal(t, "a1", chunks[0].MessageID)

	require.Len(t, res.Messages, 1)
	assert.Equal(t, "a1", res.Messages[0].ID)
	assert.Equal(t, "Hello there", message.Text(res.Messages[0]))
	assert.Equal(t, res.Messages, stream.Accumulate(chunks), "streamed chunks rebuild the produced message")

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt", reqs[0].Model)
	assert.Equal(t, "be helpful", reqs[0].System)
	require.NotNil(t, reqs[0].Temperature)
	assert.InDelta(t, 0.3, *reqs[0].Temperature, 1e-9)
	assert.Equal(t, llm.ToolChoiceAuto, reqs[0].ToolChoice.Mode)
	assert.Equal(t, []string{builtins.OptionsSelect, builtins.DateSelect}, defNames(reqs[0].Tools))
}

func TestRun_ToolThenText(t *testing.T) {
	rec := &recorder{}
	provider := llm.NewScripted(
		llm.ScriptedStep{ToolCalls: []llm.ToolCall{
			llm.Call("call-1", "provider_search", map[string]string{"specialty": "cardiology"}),
			llm.Call("call-2", "insurance_verify", map[string]string{"member_id": "m1"}),
		}},
		llm.ScriptedStep{Text: "Found Dr. Smith."},
	)
	d := NewDriver(Config{Provider: provider})

	res, chunks := runTurn(t, d, Input{
		Messages: []message.Message{userText("u1", "find a cardiologist")},
		Tools:    toolSet(rec.tool("provider_search", `{"providers":["smith"]}`), rec.tool("insurance_verify", `{"eligible":true}`)),
		Active:   []string{"provider_search", "insurance_verify"},
	})

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Steps)
	assert.ElementsMatch(t, []string{
		`provider_search:{"specialty":"cardiology"}`,
		`insurance_verify:{"member_id":"m1"}`,
	}, rec.calls())

	msg := res.Messages[0]
	require.Len(t, msg.Parts, 5)
	assert.Equal(t, message.ToolOutputAvailable, msg.Parts[1].State)
	assert.Equal(t, "call-1", msg.Parts[1].ToolCallID)
	assert.JSONEq(t, `{"providers":["smith"]}`, string(msg.Parts[1].Output))
	assert.JSONEq(t, `{"eligible":true}`, string(msg.Parts[2].Output))
	assert.Equal(t, "Found Dr. Smith.", msg.Parts[4].Text)

	var outputs []string
	for _, c := range chunks {
		if c.Type == stream.TypeToolOutputAvailable {
			outputs = append(outputs, c.ToolCallID)
		}
	}
	assert.Equal(t, []string{"call-1", "call-2"}, outputs, "results emitted in call order")

	second := provider.Requests()[1]
	var toolMsgs []llm.Message
	for _, m := range second.Messages {
		if m.Role == llm.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	require.Len(t, toolMsgs, 2)
	assert.Equal(t, "call-1", toolMsgs[0].ToolCallID)
}

func TestRun_SelectionStopsTurn(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptedStep{Text: "Pick one.", ToolCalls: []llm.ToolCall{
			llm.Call("c1", builtins.OptionsSelect, map[string]any{
				"question": "Which visit?",
				"options":  []map[string]string{{"title": "In person"}, {"title": "Video"}},
			}),
		}},
		llm.ScriptedStep{Text: "should not run"},
	)
	d := NewDriver(Config{Provider: provider})

	res, _ := runTurn(t, d, Input{
		Messages: []message.Message{userText("u1", "book a visit")},
		Tools:    toolSet(),
		Active:   builtins.Names(),
	})

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Steps)
	assert.Len(t, provider.Requests(), 1)

	part := res.Messages[0].Parts[2]
	assert.Equal(t, message.ToolOutputAvailable, part.State)
	assert.Contains(t, string(part.Output), `"id":"option-2"`)
}

func TestRun_DisambiguationNarrowsNextStep(t *testing.T) {
	rec := &recorder{}
	provider := llm.NewScripted(
		llm.ScriptedStep{ToolCalls: []llm.ToolCall{
			llm.Call("c1", "serviceos_disambiguate", map[string]any{"candidates": []string{"a", "b"}}),
		}},
		llm.ScriptedStep{Text: "Which workflow should I run?"},
	)
	d := NewDriver(Config{Provider: provider})

	res, _ := runTurn(t, d, Input{
		Messages: []message.Message{userText("u1", "help")},
		Tools:    toolSet(rec.tool("serviceos_disambiguate", `{"question":"Which workflow should I run?"}`)),
		Active:   []string{"serviceos_disambiguate", builtins.OptionsSelect},
	})

	require.NoError(t, res.Err)
	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, llm.ToolChoiceNone, reqs[1].ToolChoice.Mode)
	assert.Empty(t, reqs[1].Tools)
}

func TestRun_ToolChoiceHint(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptedStep{ToolCalls: []llm.ToolCall{llm.Call("c1", "lab_results_get", map[string]string{})}},
		llm.ScriptedStep{Text: "Your labs are normal."},
	)
	rec := &recorder{}
	d := NewDriver(Config{Provider: provider})

	user := userText("u1", "Lab Results Get")
	user.Parts = append(user.Parts, message.Part{
		Type: message.PartData,
		Name: message.ControlToolChoice,
		Data: json.RawMessage(`{"toolName":"lab_results_get"}`),
	})

	res, _ := runTurn(t, d, Input{
		Messages: []message.Message{user},
		Tools:    toolSet(rec.tool("lab_results_get", `{}`), rec.tool("provider_search", `{}`)),
		Active:   []string{"provider_search", builtins.OptionsSelect},
	})

	require.NoError(t, res.Err)
	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, llm.ToolChoice{Mode: llm.ToolChoiceFunction, Name: "lab_results_get"}, reqs[0].ToolChoice)
	assert.Equal(t, []string{"lab_results_get"}, defNames(reqs[0].Tools))
	assert.Equal(t, llm.ToolChoiceAuto, reqs[1].ToolChoice.Mode)
	assert.Equal(t, []string{"provider_search", builtins.OptionsSelect}, defNames(reqs[1].Tools))

	for _, m := range reqs[0].Messages {
		assert.NotContains(t, m.Content, "toolName", "control parts never reach the model")
	}
}

func TestRun_StepLimit(t *testing.T) {
	rec := &recorder{}
	provider := llm.NewScripted()
	provider.Fallback = llm.ScriptedStep{ToolCalls: []llm.ToolCall{llm.Call("loop", "provider_search", map[string]string{})}}
	d := NewDriver(Config{Provider: provider, MaxSteps: 3})

	res, _ := runTurn(t, d, Input{
		Messages: []message.Message{userText("u1", "search")},
		Tools:    toolSet(rec.tool("provider_search", `{}`)),
		Active:   []string{"provider_search"},
	})

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Steps)
	assert.Len(t, rec.calls(), 3)
}

func TestRun_UnofferedToolIsToolError(t *testing.T) {
	rec := &recorder{}
	provider := llm.NewScripted(
		llm.ScriptedStep{ToolCalls: []llm.ToolCall{llm.Call("c1", "billing_estimate", map[string]string{})}},
		llm.ScriptedStep{Text: "Sorry."},
	)
	d := NewDriver(Config{Provider: provider})

	res, _ := runTurn(t, d, Input{
		Messages: []message.Message{userText("u1", "cost?")},
		Tools:    toolSet(rec.tool("billing_estimate", `{}`)),
		Active:   []string{builtins.OptionsSelect},
	})

	require.NoError(t, res.Err)
	assert.Empty(t, rec.calls())
	assert.Equal(t, message.ToolOutputError, res.Messages[0].Parts[1].State)
	assert.Equal(t, 2, res.Steps)
}

func TestRun_ApprovalHaltsTurn(t *testing.T) {
	rec := &recorder{}
	gated := rec.tool("appointment_cancel", `{"cancelled":true}`)
	gated.NeedsApproval = true
	provider := llm.NewScripted(
		llm.ScriptedStep{ToolCalls: []llm.ToolCall{llm.Call("c1", "appointment_cancel", map[string]string{"appointment_id": "ap-9"})}},
		llm.ScriptedStep{Text: "should not run"},
	)
	d := NewDriver(Config{Provider: provider})

	res, chunks := runTurn(t, d, Input{
		Messages: []message.Message{userText("u1", "cancel my appointment")},
		Tools:    toolSet(gated),
		Active:   []string{"appointment_cancel"},
	})

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Steps)
	assert.Empty(t, rec.calls())

	part := res.Messages[0].Parts[1]
	assert.Equal(t, message.ToolApprovalRequested, part.State)
	require.NotNil(t, part.Approval)
	assert.NotEmpty(t, part.Approval.ID)
	assert.Contains(t, chunkTypes(chunks), stream.TypeToolApprovalRequest)
}

func TestRun_ContinuationResolvesApprovals(t *testing.T) {
	rec := &recorder{}
	cancelTool := rec.tool("appointment_cancel", `{"cancelled":true}`)
	cancelTool.NeedsApproval = true
	refund := rec.tool("billing_refund", `{}`)
	refund.NeedsApproval = true

	yes, no := true, false
	target := message.Message{ID: "a1", Role: message.RoleAssistant, Parts: []message.Part{
		{Type: message.PartStepStart},
		{Type: message.PartToolInvocation, ToolCallID: "c1", ToolName: "appointment_cancel", State: message.ToolApprovalResponded,
			Input: json.RawMessage(`{"appointment_id":"ap-9"}`), Approval: &message.Approval{ID: "x1", Approved: &yes}},
		{Type: message.PartToolInvocation, ToolCallID: "c2", ToolName: "billing_refund", State: message.ToolApprovalResponded,
			Input: json.RawMessage(`{}`), Approval: &message.Approval{ID: "x2", Approved: &no, Reason: "not now"}},
	}}
	provider := llm.NewScripted(llm.ScriptedStep{Text: "Your appointment is cancelled."})
	d := NewDriver(Config{Provider: provider})

	res, chunks := runTurn(t, d, Input{
		Messages:     []message.Message{userText("u1", "cancel it"), target},
		Continuation: true,
		Tools:        toolSet(cancelTool, refund),
		Active:       []string{"appointment_cancel", "billing_refund"},
	})

	require.NoError(t, res.Err)
	assert.Equal(t, []string{`appointment_cancel:{"appointment_id":"ap-9"}`}, rec.calls())
	assert.Equal(t, "a1", chunks[0].MessageID)

	require.Len(t, res.Messages, 1)
	msg := res.Messages[0]
	assert.Equal(t, "a1", msg.ID)
	assert.Equal(t, message.ToolOutputAvailable, msg.Parts[1].State)
	assert.Equal(t, message.ToolOutputDenied, msg.Parts[2].State)
	assert.Equal(t, "Your appointment is cancelled.", message.Text(msg))

	assert.Equal(t, message.ToolApprovalResponded, target.Parts[1].State, "input messages are not modified")

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	var tool []string
	for _, m := range reqs[0].Messages {
		if m.Role == llm.RoleTool {
			tool = append(tool, m.Content)
		}
	}
	assert.Equal(t, []string{`{"cancelled":true}`, `{"error":"not now"}`}, tool)
}

func TestRun_ProviderError(t *testing.T) {
	provider := llm.NewScripted(llm.ScriptedStep{Err: errors.New("rate limited")})
	closer := &countingCloser{}
	d := NewDriver(Config{Provider: provider})

	res, chunks := runTurn(t, d, Input{
		Messages: []message.Message{userText("u1", "hi")},
		Tools:    toolSet(),
		Session:  closer,
	})

	require.Error(t, res.Err)
	assert.True(t, chaterr.Is(res.Err, chaterr.KindUpstream))
	assert.Equal(t, StateHalted, res.State)
	assert.Empty(t, res.Messages, "nothing but a step marker was produced")
	assert.Equal(t, int32(1), closer.n.Load())

	last := chunks[len(chunks)-1]
	assert.Equal(t, stream.TypeError, last.Type)
	assert.ErrorContains(t, last.Err, "rate limited")
}

func TestRun_ToolExecutionError(t *testing.T) {
	broken := tools.Tool{
		Name: "provider_search",
		Execute: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			return tools.Result{}, errors.New("connection reset")
		},
	}
	provider := llm.NewScripted(
		llm.ScriptedStep{Text: "Searching.", ToolCalls: []llm.ToolCall{llm.Call("c1", "provider_search", map[string]string{})}},
	)
	d := NewDriver(Config{Provider: provider})

	res, chunks := runTurn(t, d, Input{
		Messages: []message.Message{userText("u1", "find a doctor")},
		Tools:    toolSet(broken),
		Active:   []string{"provider_search"},
	})

	assert.True(t, chaterr.Is(res.Err, chaterr.KindUpstream))
	require.Len(t, res.Messages, 1, "partial output is kept for persistence")
	assert.Equal(t, "Searching.", message.Text(res.Messages[0]))
	assert.Equal(t, stream.TypeError, chunks[len(chunks)-1].Type)
}

func TestRun_ToolCallsRunConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := func(name string) tools.Tool {
		return tools.Tool{
			Name: name,
			Execute: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				inFlight.Add(-1)
				return tools.JSONResult(map[string]string{"tool": name})
			},
		}
	}
	provider := llm.NewScripted(
		llm.ScriptedStep{ToolCalls: []llm.ToolCall{
			llm.Call("c1", "a", nil),
			llm.Call("c2", "b", nil),
		}},
		llm.ScriptedStep{Text: "done"},
	)
	d := NewDriver(Config{Provider: provider})

	res, _ := runTurn(t, d, Input{
		Messages: []message.Message{userText("u1", "go")},
		Tools:    toolSet(slow("a"), slow("b")),
		Active:   []string{"a", "b"},
	})

	require.NoError(t, res.Err)
	assert.Equal(t, int32(2), peak.Load())
	assert.JSONEq(t, `{"tool":"a"}`, string(res.Messages[0].Parts[1].Output))
	assert.JSONEq(t, `{"tool":"b"}`, string(res.Messages[0].Parts[2].Output))
}
