// ABOUTME: Tool execution for a turn step and the continuation approval pre-step
// ABOUTME: Results are matched to calls by ID; approval-gated tools halt the turn

package turn

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389/serviceos-chat/internal/builtins"
	"github.com/2389/serviceos-chat/internal/llm"
	"github.com/2389/serviceos-chat/internal/message"
	"github.com/2389/serviceos-chat/internal/stream"
	"github.com/2389/serviceos-chat/internal/tools"
)

// job is one tool execution bound to the part that records it.
type job struct {
	part  int
	tool  tools.Tool
	input json.RawMessage
}

// execute runs the step's tool calls. It reports whether any call is waiting
// for approval.
func (t *run) execute(ctx context.Context, calls []llm.ToolCall) (bool, error) {
	t.resolved = nil
	if len(calls) == 0 {
		return false, nil
	}

	offered := make(map[string]bool, len(t.offered))
	for _, name := range t.offered {
		offered[name] = true
	}

	pending := false
	var jobs []job
	for _, call := range calls {
		if builtins.IsSelection(call.Name) {
			t.selected = true
		}
		idx := t.partFor(call.ID)
		if idx < 0 {
			continue
		}
		tool, ok := t.in.Tools[call.Name]
		if !ok || !offered[call.Name] {
			t.apply(idx, tools.ErrorResult(fmt.Sprintf("Tool %s is not available.", call.Name)))
			continue
		}
		if tool.NeedsApproval {
			p := &t.produced.Parts[idx]
			p.State = message.ToolApprovalRequested
			p.Approval = &message.Approval{ID: uuid.NewString()}
			t.emit(stream.Chunk{
				Type:       stream.TypeToolApprovalRequest,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				ApprovalID: p.Approval.ID,
			})
			pending = true
			continue
		}
		jobs = append(jobs, job{part: idx, tool: tool, input: call.Arguments})
	}

	if err := t.runJobs(ctx, jobs); err != nil {
		return pending, err
	}
	return pending, nil
}

// resolveApprovals settles the approval-responded calls of a continuation
// target before the first model step.
func (t *run) resolveApprovals(ctx context.Context) error {
	t.resolved = nil
	var jobs []job
	for i, p := range t.produced.Parts {
		if p.Type != message.PartToolInvocation || p.State != message.ToolApprovalResponded {
			continue
		}
		approved := p.Approval != nil && p.Approval.Approved != nil && *p.Approval.Approved
		if !approved {
			t.produced.Parts[i].State = message.ToolOutputDenied
			t.emit(stream.Chunk{Type: stream.TypeToolOutputDenied, ToolCallID: p.ToolCallID, ToolName: p.ToolName})
			t.resolved = append(t.resolved, p.ToolName)
			continue
		}
		tool, ok := t.in.Tools[p.ToolName]
		if !ok {
			t.apply(i, tools.ErrorResult(fmt.Sprintf("Tool %s is not available.", p.ToolName)))
			continue
		}
		jobs = append(jobs, job{part: i, tool: tool, input: p.Input})
	}
	if len(jobs) > 0 {
		t.logger.Debug("resolving approved tool calls", "count", len(jobs))
	}
	return t.runJobs(ctx, jobs)
}

// runJobs executes jobs concurrently and records their results in call
// order. An execution failure aborts the step.
func (t *run) runJobs(ctx context.Context, jobs []job) error {
	if len(jobs) == 0 {
		return nil
	}
	results := make([]tools.Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		g.Go(func() error {
			if j.tool.Execute == nil {
				results[i] = tools.ErrorResult(fmt.Sprintf("Tool %s cannot be executed.", j.tool.Name))
				return nil
			}
			res, err := j.tool.Execute(gctx, j.input)
			if err != nil {
				return fmt.Errorf("execute %s: %w", j.tool.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, j := range jobs {
		t.apply(j.part, results[i])
	}
	return nil
}

// apply records a tool result on its part and emits the matching chunk.
func (t *run) apply(idx int, res tools.Result) {
	p := &t.produced.Parts[idx]
	if res.IsError {
		p.State = message.ToolOutputError
		p.ErrorText = res.ErrorText
		t.emit(stream.Chunk{Type: stream.TypeToolOutputError, ToolCallID: p.ToolCallID, ToolName: p.ToolName, ErrorText: res.ErrorText})
	} else {
		output := res.Output
		if len(output) == 0 {
			output = json.RawMessage(`null`)
		}
		p.State = message.ToolOutputAvailable
		p.Output = output
		t.emit(stream.Chunk{Type: stream.TypeToolOutputAvailable, ToolCallID: p.ToolCallID, ToolName: p.ToolName, Output: output})
	}
	t.resolved = append(t.resolved, p.ToolName)
}

// partFor returns the index of the tool part for callID, or -1.
func (t *run) partFor(callID string) int {
	for i := len(t.produced.Parts) - 1; i >= 0; i-- {
		p := t.produced.Parts[i]
		if p.Type == message.PartToolInvocation && p.ToolCallID == callID {
			return i
		}
	}
	return -1
}

// hasContent reports whether m has any part besides step markers.
func hasContent(m message.Message) bool {
	for _, p := range m.Parts {
		if p.Type != message.PartStepStart {
			return true
		}
	}
	return false
}
