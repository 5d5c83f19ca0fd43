// ABOUTME: Turn driver running the step loop with tool narrowing and stop conditions
// ABOUTME: Tool calls within a step fan out concurrently; the tool session closes exactly once

package turn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/serviceos-chat/internal/builtins"
	"github.com/2389/serviceos-chat/internal/chaterr"
	"github.com/2389/serviceos-chat/internal/llm"
	"github.com/2389/serviceos-chat/internal/message"
	"github.com/2389/serviceos-chat/internal/stream"
	"github.com/2389/serviceos-chat/internal/tools"
)

// State is the lifecycle state of a turn.
type State string

// Turn states
const (
	StateRunning  State = "running"
	StateAwaiting State = "awaiting-stop-condition"
	StateHalted   State = "halted"
)

// Defaults
const (
	DefaultMaxSteps    = 5
	DefaultTemperature = 0.3
)

// DisambiguateSuffix marks tools whose result is a question for the user.
const DisambiguateSuffix = "_disambiguate"

// Config configures a Driver.
type Config struct {
	Provider    llm.Provider
	MaxSteps    int
	Temperature float64
	Logger      *slog.Logger
}

// Driver runs turns.
type Driver struct {
	provider    llm.Provider
	maxSteps    int
	temperature float64
	logger      *slog.Logger
}

// NewDriver creates a driver. Zero MaxSteps and Temperature select the
// defaults.
func NewDriver(cfg Config) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	return &Driver{
		provider:    cfg.Provider,
		maxSteps:    cfg.MaxSteps,
		temperature: cfg.Temperature,
		logger:      logger.With("component", "turn"),
	}
}

// Input is everything a turn needs.
type Input struct {
	ChatID string
	Model  string
	System string

	// Messages is the working set. For a continuation its last message is
	// the assistant message being extended.
	Messages     []message.Message
	Continuation bool

	// Tools is every tool registered for the turn; Active is the subset
	// offered to the model by default.
	Tools  tools.Set
	Active []string

	// Session is closed when the turn ends. It may be nil.
	Session io.Closer

	// MessageID names the produced assistant message of a fresh turn. One
	// is generated when empty.
	MessageID string
}

// Result is the outcome of a turn.
type Result struct {
	// Messages holds the produced assistant message, if it has any content.
	Messages []message.Message
	Steps    int
	State    State
	// Err is the classified failure that halted the turn, if any.
	Err error
}

// Run executes a turn, sending chunks to out and closing it when done. The
// session in Input is closed on every path before Run returns.
func (d *Driver) Run(ctx context.Context, in Input, out chan<- stream.Chunk) Result {
	defer close(out)

	var once sync.Once
	closeSession := func() {
		once.Do(func() {
			if in.Session == nil {
				return
			}
			if err := in.Session.Close(); err != nil {
				d.logger.Warn("closing tool session", "chat_id", in.ChatID, "error", err)
			}
		})
	}
	defer closeSession()

	t := &run{
		driver: d,
		in:     in,
		out:    out,
		logger: d.logger.With("chat_id", in.ChatID),
	}
	t.prepare()
	res := t.loop(ctx)
	closeSession()
	return res
}

// run is the mutable state of a single turn.
type run struct {
	driver *Driver
	in     Input
	out    chan<- stream.Chunk
	logger *slog.Logger

	history  []message.Message
	produced message.Message
	extended bool
	state    State
	steps    int
	blocks   int

	// resolved holds the names of tools that reached a terminal outcome in
	// the previous step (or the continuation pre-step).
	resolved []string
	selected bool
	offered  []string
}

func (t *run) prepare() {
	t.history = t.in.Messages
	if t.in.Continuation {
		if target, ok := message.LastAssistant(t.in.Messages); ok {
			t.produced = target.Clone()
			t.history = t.in.Messages[:len(t.in.Messages)-1]
			t.extended = true
		}
	}
	if !t.extended {
		id := t.in.MessageID
		if id == "" {
			id = uuid.NewString()
		}
		t.produced = message.Message{ID: id, Role: message.RoleAssistant}
	}
}

func (t *run) setState(s State) {
	if t.state == s {
		return
	}
	t.state = s
	t.logger.Debug("turn state", "state", s, "step", t.steps)
}

func (t *run) emit(c stream.Chunk) {
	t.out <- c
}

func (t *run) fail(err error) Result {
	cerr := chaterr.Upstream("chat", err)
	t.emit(stream.Failure(cerr))
	t.setState(StateHalted)
	return t.result(cerr)
}

func (t *run) result(err error) Result {
	res := Result{Steps: t.steps, State: t.state, Err: err}
	if t.extended || hasContent(t.produced) {
		res.Messages = []message.Message{t.produced}
	}
	return res
}

func (t *run) loop(ctx context.Context) Result {
	t.setState(StateRunning)
	t.emit(stream.Chunk{Type: stream.TypeStart, MessageID: t.produced.ID})

	if t.extended {
		if err := t.resolveApprovals(ctx); err != nil {
			return t.fail(err)
		}
	}

	for t.steps < t.driver.maxSteps {
		t.setState(StateRunning)
		calls, err := t.step(ctx)
		if err != nil {
			return t.fail(err)
		}
		t.steps++

		t.setState(StateAwaiting)
		pending, err := t.execute(ctx, calls)
		t.emit(stream.Chunk{Type: stream.TypeFinishStep})
		if err != nil {
			return t.fail(err)
		}

		if stop := t.stopReason(calls, pending); stop != "" {
			t.logger.Debug("turn stopping", "reason", stop, "steps", t.steps)
			break
		}
	}

	t.setState(StateHalted)
	t.emit(stream.Chunk{Type: stream.TypeFinish})
	return t.result(nil)
}

func (t *run) stopReason(calls []llm.ToolCall, pending bool) string {
	switch {
	case pending:
		return "approval pending"
	case t.selected:
		return "selection requested"
	case len(calls) == 0:
		return "no tool calls"
	case t.steps >= t.driver.maxSteps:
		return "step limit"
	}
	return ""
}

// policy returns the tool choice and offered tool names for the next step.
func (t *run) policy() (llm.ToolChoice, []string) {
	if t.steps == 0 {
		if hint := message.LatestToolChoice(t.in.Messages); hint != "" && t.in.Tools.Has(hint) {
			return llm.ToolChoice{Mode: llm.ToolChoiceFunction, Name: hint}, []string{hint}
		}
	}
	for _, name := range t.resolved {
		if narrows(name) {
			return llm.ToolChoice{Mode: llm.ToolChoiceNone}, nil
		}
	}
	return llm.ToolChoice{Mode: llm.ToolChoiceAuto}, t.in.Active
}

// narrows reports whether a result from name must be followed by a
// text-only step.
func narrows(name string) bool {
	return builtins.IsSelection(name) || strings.HasSuffix(name, DisambiguateSuffix)
}

// step streams one model invocation and returns its tool calls.
func (t *run) step(ctx context.Context) ([]llm.ToolCall, error) {
	choice, active := t.policy()

	t.emit(stream.Chunk{Type: stream.TypeStartStep})
	t.produced.Parts = append(t.produced.Parts, message.Part{Type: message.PartStepStart})

	view := message.ModelView(append(append([]message.Message(nil), t.history...), t.produced))
	temperature := t.driver.temperature
	req := llm.Request{
		Model:       t.in.Model,
		System:      t.in.System,
		Messages:    llm.FromMessages(view),
		Tools:       t.in.Tools.Defs(active),
		ToolChoice:  choice,
		Temperature: &temperature,
	}

	var (
		textIdx   = -1
		reasonIdx = -1
		textID    string
		reasonID  string
		seen      = map[string]bool{}
	)
	closeText := func() {
		if textIdx >= 0 {
			t.emit(stream.Chunk{Type: stream.TypeTextEnd, ID: textID})
			textIdx = -1
		}
	}
	closeReasoning := func() {
		if reasonIdx >= 0 {
			t.emit(stream.Chunk{Type: stream.TypeReasoningEnd, ID: reasonID})
			reasonIdx = -1
		}
	}
	inputAvailable := func(call llm.ToolCall) {
		if seen[call.ID] {
			return
		}
		seen[call.ID] = true
		closeText()
		closeReasoning()
		t.emit(stream.Chunk{
			Type:       stream.TypeToolInputAvailable,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Input:      call.Arguments,
		})
		t.produced.Parts = append(t.produced.Parts, message.Part{
			Type:       message.PartToolInvocation,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			State:      message.ToolInputAvailable,
			Input:      call.Arguments,
		})
	}

	resp, err := t.driver.provider.Stream(ctx, req, func(ev llm.StreamEvent) {
		switch ev.Kind {
		case llm.KindTextDelta:
			closeReasoning()
			if textIdx < 0 {
				textID = t.blockID()
				t.emit(stream.Chunk{Type: stream.TypeTextStart, ID: textID})
				t.produced.Parts = append(t.produced.Parts, message.Part{Type: message.PartText})
				textIdx = len(t.produced.Parts) - 1
			}
			t.produced.Parts[textIdx].Text += ev.Text
			t.emit(stream.Chunk{Type: stream.TypeTextDelta, ID: textID, Delta: ev.Text})
		case llm.KindReasoningDelta:
			closeText()
			if reasonIdx < 0 {
				reasonID = t.blockID()
				t.emit(stream.Chunk{Type: stream.TypeReasoningStart, ID: reasonID})
				t.produced.Parts = append(t.produced.Parts, message.Part{Type: message.PartReasoning})
				reasonIdx = len(t.produced.Parts) - 1
			}
			t.produced.Parts[reasonIdx].Text += ev.Text
			t.emit(stream.Chunk{Type: stream.TypeReasoningDelta, ID: reasonID, Delta: ev.Text})
		case llm.KindToolCall:
			if ev.ToolCall != nil {
				inputAvailable(*ev.ToolCall)
			}
		}
	})
	closeText()
	closeReasoning()
	if err != nil {
		return nil, fmt.Errorf("model step %d: %w", t.steps+1, err)
	}

	for _, call := range resp.ToolCalls {
		inputAvailable(call)
	}
	t.logger.Debug("model step finished",
		"step", t.steps+1,
		"finish_reason", resp.FinishReason,
		"tool_calls", len(resp.ToolCalls),
		"tool_choice", choice.Mode,
		"active", len(active),
	)
	t.offered = active
	return resp.ToolCalls, nil
}

func (t *run) blockID() string {
	t.blocks++
	return fmt.Sprintf("%s-%d", t.produced.ID, t.blocks)
}
