// ABOUTME: date-select and timeslot-select built-ins
// ABOUTME: Dates must be YYYY-MM-DD; slots must be RFC 3339 timestamps

package builtins

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/2389/serviceos-chat/internal/tools"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// DateInput is the date-select input.
type DateInput struct {
	Question  string `json:"question"`
	ResultKey string `json:"resultKey,omitempty"`
	Min       string `json:"min,omitempty"`
	Max       string `json:"max,omitempty"`
	Default   string `json:"default,omitempty"`
}

// DateOutput is the date-select output.
type DateOutput struct {
	Question  string `json:"question"`
	ResultKey string `json:"resultKey,omitempty"`
	Min       string `json:"min,omitempty"`
	Max       string `json:"max,omitempty"`
	Default   string `json:"default,omitempty"`
}

const dateSchema = `{
	"type": "object",
	"properties": {
		"question": {"type": "string", "minLength": 1, "maxLength": 200},
		"resultKey": {"type": "string", "minLength": 1, "maxLength": 80},
		"min": {"type": "string", "maxLength": 10, "description": "Earliest selectable date (YYYY-MM-DD)."},
		"max": {"type": "string", "maxLength": 10, "description": "Latest selectable date (YYYY-MM-DD)."},
		"default": {"type": "string", "maxLength": 10, "description": "Preselected date (YYYY-MM-DD)."}
	},
	"required": ["question"]
}`

func dateSelectTool() tools.Tool {
	return tools.Tool{
		Name:        DateSelect,
		Description: "Ask the user to pick a single date and return it in YYYY-MM-DD format.",
		InputSchema: json.RawMessage(dateSchema),
		Origin:      tools.OriginBuiltin,
		Execute:     handler(func(in DateInput) (any, error) { return NormalizeDate(in) }),
	}
}

// NormalizeDate validates a date-select input. Bounds and default that are
// not YYYY-MM-DD are dropped rather than rejected.
func NormalizeDate(in DateInput) (DateOutput, error) {
	q, err := question(in.Question, "Choose a date.")
	if err != nil {
		return DateOutput{}, err
	}
	return DateOutput{
		Question:  q,
		ResultKey: resultKey(in.ResultKey),
		Min:       normalizeDate(in.Min),
		Max:       normalizeDate(in.Max),
		Default:   normalizeDate(in.Default),
	}, nil
}

func normalizeDate(v string) string {
	v = truncate(strings.TrimSpace(v), 10)
	if !datePattern.MatchString(v) {
		return ""
	}
	return v
}

// TimeslotInput is the timeslot-select input.
type TimeslotInput struct {
	Question  string   `json:"question"`
	Slots     []string `json:"slots"`
	ResultKey string   `json:"resultKey,omitempty"`
}

// TimeslotOutput is the timeslot-select output.
type TimeslotOutput struct {
	Question  string   `json:"question"`
	Slots     []string `json:"slots"`
	ResultKey string   `json:"resultKey,omitempty"`
}

const timeslotSchema = `{
	"type": "object",
	"properties": {
		"question": {"type": "string", "minLength": 1, "maxLength": 200},
		"slots": {"type": "array", "minItems": 1, "items": {"type": "string", "format": "date-time"}},
		"resultKey": {"type": "string", "minLength": 1, "maxLength": 80}
	},
	"required": ["question", "slots"]
}`

func timeslotSelectTool() tools.Tool {
	return tools.Tool{
		Name:        TimeslotSelect,
		Description: "Present a list of available appointment slots to the user and ask them to select one.",
		InputSchema: json.RawMessage(timeslotSchema),
		Origin:      tools.OriginBuiltin,
		Execute:     handler(func(in TimeslotInput) (any, error) { return NormalizeTimeslots(in) }),
	}
}

// NormalizeTimeslots validates a timeslot-select input. Slots are passed
// through unchanged.
func NormalizeTimeslots(in TimeslotInput) (TimeslotOutput, error) {
	q, err := question(in.Question, "Choose a time.")
	if err != nil {
		return TimeslotOutput{}, err
	}
	if len(in.Slots) == 0 {
		return TimeslotOutput{}, fmt.Errorf("at least 1 slot is required")
	}
	for _, slot := range in.Slots {
		if _, err := time.Parse(time.RFC3339, slot); err != nil {
			return TimeslotOutput{}, fmt.Errorf("slot %q is not an RFC 3339 timestamp", slot)
		}
	}
	return TimeslotOutput{
		Question:  q,
		Slots:     in.Slots,
		ResultKey: resultKey(in.ResultKey),
	}, nil
}
