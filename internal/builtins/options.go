// ABOUTME: options-select built-in: presents a short list of clickable choices
// ABOUTME: Options are trimmed, given default ids and values, and capped at 12

package builtins

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/serviceos-chat/internal/tools"
)

// MaxOptions is the most options a question may present.
const MaxOptions = 12

// OptionInput is one option as supplied by the model.
type OptionInput struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Value       *string `json:"value,omitempty"`
	Description *string `json:"description,omitempty"`
}

// OptionsInput is the options-select input.
type OptionsInput struct {
	Question string        `json:"question"`
	Options  []OptionInput `json:"options"`
}

// Option is a normalised option.
type Option struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// OptionsOutput is the options-select output rendered by the client.
type OptionsOutput struct {
	Question string   `json:"question"`
	Options  []Option `json:"options"`
}

const optionsSchema = `{
	"type": "object",
	"properties": {
		"question": {"type": "string", "minLength": 1, "maxLength": 200},
		"options": {
			"type": "array",
			"minItems": 2,
			"maxItems": 12,
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string", "minLength": 1, "maxLength": 80},
					"title": {"type": "string", "minLength": 1, "maxLength": 140},
					"value": {"type": "string", "minLength": 1, "maxLength": 2000},
					"description": {"type": "string", "maxLength": 200}
				},
				"required": ["title"]
			}
		}
	},
	"required": ["question", "options"]
}`

func optionsSelectTool() tools.Tool {
	return tools.Tool{
		Name:        OptionsSelect,
		Description: "Present a list of options for the user to choose from and return the selected text.",
		InputSchema: json.RawMessage(optionsSchema),
		Origin:      tools.OriginBuiltin,
		Execute:     handler(func(in OptionsInput) (any, error) { return NormalizeOptions(in) }),
	}
}

// NormalizeOptions validates and normalises an options-select input.
// Options whose title or value trims to nothing are dropped.
func NormalizeOptions(in OptionsInput) (OptionsOutput, error) {
	q, err := question(in.Question, "Choose an option.")
	if err != nil {
		return OptionsOutput{}, err
	}
	if len(in.Options) < 2 {
		return OptionsOutput{}, fmt.Errorf("at least 2 options are required")
	}

	out := OptionsOutput{Question: q, Options: make([]Option, 0, min(len(in.Options), MaxOptions))}
	for i, opt := range in.Options {
		title := strings.TrimSpace(opt.Title)
		if title == "" {
			continue
		}
		value := title
		if opt.Value != nil {
			value = strings.TrimSpace(*opt.Value)
		}
		if value == "" {
			continue
		}
		id := fmt.Sprintf("option-%d", i+1)
		if opt.ID != nil {
			id = strings.TrimSpace(*opt.ID)
		}

		o := Option{
			ID:    truncate(id, 80),
			Title: truncate(title, 140),
			Value: truncate(value, 2000),
		}
		if opt.Description != nil {
			if d := strings.TrimSpace(*opt.Description); d != "" {
				o.Description = truncate(d, 200)
			}
		}
		out.Options = append(out.Options, o)
		if len(out.Options) == MaxOptions {
			break
		}
	}
	return out, nil
}
