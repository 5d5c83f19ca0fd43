// ABOUTME: Registry of built-in interactive tools and their shared helpers
// ABOUTME: Input problems become tool-level error results the model can correct

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/2389/serviceos-chat/internal/tools"
)

// Built-in tool names
const (
	OptionsSelect  = "options-select"
	DateSelect     = "date-select"
	TimeslotSelect = "timeslot-select"
)

// SelectionTools end a turn once called and force a text-only follow-up step
// after their result.
var SelectionTools = []string{OptionsSelect, DateSelect}

// IsSelection reports whether name is a selection tool.
func IsSelection(name string) bool {
	return name == OptionsSelect || name == DateSelect
}

// Set returns all built-in tools.
func Set() tools.Set {
	return tools.NewSet(optionsSelectTool(), dateSelectTool(), timeslotSelectTool())
}

// Names returns the names of the built-ins that are always offered alongside
// ranked tools.
func Names() []string {
	return []string{OptionsSelect, DateSelect, TimeslotSelect}
}

// handler adapts a typed handler to tools.ExecuteFunc. Decoding failures and
// validation errors become tool-level error results.
func handler[In any](fn func(In) (any, error)) tools.ExecuteFunc {
	return func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
		if err := ctx.Err(); err != nil {
			return tools.Result{}, err
		}
		var in In
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return tools.ErrorResult(fmt.Sprintf("invalid input: %v", err)), nil
			}
		}
		out, err := fn(in)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		return tools.JSONResult(out)
	}
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// question validates a raw question and returns its trimmed form, or def
// when it trims to nothing.
func question(raw, def string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("question is required")
	}
	if utf8.RuneCountInString(raw) > 200 {
		return "", fmt.Errorf("question must be at most 200 characters")
	}
	if q := strings.TrimSpace(raw); q != "" {
		return q, nil
	}
	return def, nil
}

// resultKey trims an optional result key to 80 runes.
func resultKey(raw string) string {
	return truncate(strings.TrimSpace(raw), 80)
}
