// ABOUTME: Tool model shared by built-in and externally discovered tools
// ABOUTME: A Set is a name-keyed collection that renders provider tool definitions

package tools

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/2389/serviceos-chat/internal/llm"
)

// Origin records where a tool came from.
type Origin string

// Tool origins
const (
	OriginBuiltin  Origin = "builtin"
	OriginExternal Origin = "external"
)

// Result is the outcome of executing a tool. A tool-level failure (bad input,
// a server-reported error) is a Result with IsError set; the model sees it
// as an error output and the turn continues.
type Result struct {
	Output     json.RawMessage
	Structured json.RawMessage
	IsError    bool
	ErrorText  string
}

// ErrorResult builds a tool-level error result.
func ErrorResult(text string) Result {
	return Result{IsError: true, ErrorText: text}
}

// JSONResult marshals v as the tool output.
func JSONResult(v any) (Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: data}, nil
}

// ExecuteFunc runs a tool. A returned error is an execution failure that
// aborts the turn; tool-level errors belong in the Result.
type ExecuteFunc func(ctx context.Context, input json.RawMessage) (Result, error)

// Tool is a callable capability offered to the model.
type Tool struct {
	Name          string
	Description   string
	InputSchema   json.RawMessage
	Origin        Origin
	NeedsApproval bool
	Execute       ExecuteFunc
}

// Def renders the provider-facing definition.
func (t Tool) Def() llm.ToolDef {
	var params map[string]any
	if len(t.InputSchema) > 0 {
		_ = json.Unmarshal(t.InputSchema, &params)
	}
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return llm.ToolDef{Name: t.Name, Description: t.Description, Parameters: params}
}

// Set is a name-keyed tool collection.
type Set map[string]Tool

// NewSet builds a set from tools; later tools replace earlier ones with the
// same name.
func NewSet(ts ...Tool) Set {
	s := make(Set, len(ts))
	for _, t := range ts {
		s[t.Name] = t
	}
	return s
}

// Names returns the tool names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Defs renders definitions for the named tools, in the given order, skipping
// unknown names.
func (s Set) Defs(names []string) []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(names))
	for _, name := range names {
		if t, ok := s[name]; ok {
			out = append(out, t.Def())
		}
	}
	return out
}

// Merge combines discovered and built-in tools: external tools minus the
// excluded names, then built-ins, which win on a name collision. Neither
// input is modified.
func Merge(external, builtins Set, exclude ...string) Set {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	out := make(Set, len(external)+len(builtins))
	for name, t := range external {
		if skip[name] {
			continue
		}
		out[name] = t
	}
	for name, t := range builtins {
		out[name] = t
	}
	return out
}
