package builtins

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/serviceos-chat/internal/tools"
)

func ptr(s string) *string { return &s }

func run(t *testing.T, name, input string) tools.Result {
	t.Helper()
	tool, ok := Set()[name]
	require.True(t, ok, "tool %s registered", name)
	res, err := tool.Execute(context.Background(), json.RawMessage(input))
	require.NoError(t, err)
	return res
}

func TestSet(t *testing.T) {
	s := Set()
	assert.Equal(t, []string{DateSelect, OptionsSelect, TimeslotSelect}, s.Names())
	assert.ElementsMatch(t, s.Names(), Names(), "every registered built-in is always offered")
	for _, tool := range s {
		assert.Equal(t, tools.OriginBuiltin, tool.Origin)
		assert.NotEmpty(t, tool.Description)
		assert.Equal(t, "object", tool.Def().Parameters["type"])
	}
	assert.True(t, IsSelection(OptionsSelect))
	assert.True(t, IsSelection(DateSelect))
	assert.False(t, IsSelection(TimeslotSelect))
}

func TestNormalizeOptions(t *testing.T) {
	out, err := NormalizeOptions(OptionsInput{
		Question: "  Which service?  ",
		Options: []OptionInput{
			{Title: "  Plumbing "},
			{Title: "   "},
			{Title: "Electrical", ID: ptr("elec"), Value: ptr("electrical-work"), Description: ptr("  ")},
			{Title: "Roofing", Value: ptr("  ")},
			{Title: "HVAC", Description: ptr(" Heating and cooling ")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Which service?", out.Question)
	assert.Equal(t, []Option{
		{ID: "option-1", Title: "Plumbing", Value: "Plumbing"},
		{ID: "elec", Title: "Electrical", Value: "electrical-work"},
		{ID: "option-5", Title: "HVAC", Value: "HVAC", Description: "Heating and cooling"},
	}, out.Options)
}

func TestNormalizeOptions_Limits(t *testing.T) {
	opts := make([]OptionInput, 15)
	for i := range opts {
		opts[i] = OptionInput{Title: strings.Repeat("t", 200)}
	}
	out, err := NormalizeOptions(OptionsInput{Question: "   ", Options: opts})
	require.NoError(t, err)

	assert.Equal(t, "Choose an option.", out.Question)
	assert.Len(t, out.Options, MaxOptions)
	assert.Len(t, out.Options[0].Title, 140)
	assert.Len(t, out.Options[0].Value, 140, "value defaults to the truncated title")
}

func TestNormalizeOptions_Invalid(t *testing.T) {
	_, err := NormalizeOptions(OptionsInput{Question: "Pick", Options: []OptionInput{{Title: "only"}}})
	assert.Error(t, err)

	_, err = NormalizeOptions(OptionsInput{Options: []OptionInput{{Title: "a"}, {Title: "b"}}})
	assert.Error(t, err)

	_, err = NormalizeOptions(OptionsInput{Question: strings.Repeat("q", 201), Options: []OptionInput{{Title: "a"}, {Title: "b"}}})
	assert.Error(t, err)
}

func TestOptionsSelect_Execute(t *testing.T) {
	res := run(t, OptionsSelect, `{"question":"Pick one","options":[{"title":"A"},{"title":"B","value":"bee"}]}`)
	require.False(t, res.IsError)

	var out OptionsOutput
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, "Pick one", out.Question)
	assert.Equal(t, "bee", out.Options[1].Value)

	res = run(t, OptionsSelect, `{"question":"Pick one","options":[{"title":"A"}]}`)
	assert.True(t, res.IsError)
	assert.Contains(t, res.ErrorText, "at least 2 options")

	res = run(t, OptionsSelect, `{"question":`)
	assert.True(t, res.IsError)
}

func TestNormalizeDate(t *testing.T) {
	out, err := NormalizeDate(DateInput{
		Question:  "When?",
		ResultKey: " appointment_date ",
		Min:       " 2026-01-05T00:00:00Z",
		Max:       "next week",
		Default:   "2026-01-10",
	})
	require.NoError(t, err)
	assert.Equal(t, DateOutput{
		Question:  "When?",
		ResultKey: "appointment_date",
		Min:       "2026-01-05",
		Default:   "2026-01-10",
	}, out)

	out, err = NormalizeDate(DateInput{Question: "  "})
	require.NoError(t, err)
	assert.Equal(t, "Choose a date.", out.Question)

	res := run(t, DateSelect, `{"question":"When?","max":"2026-02-01"}`)
	require.False(t, res.IsError)
	assert.JSONEq(t, `{"question":"When?","max":"2026-02-01"}`, string(res.Output))
}

func TestNormalizeTimeslots(t *testing.T) {
	out, err := NormalizeTimeslots(TimeslotInput{
		Question: " ",
		Slots:    []string{"2026-01-05T09:00:00Z", "2026-01-05T10:00:00-05:00"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Choose a time.", out.Question)
	assert.Len(t, out.Slots, 2)

	_, err = NormalizeTimeslots(TimeslotInput{Question: "When?"})
	assert.Error(t, err)

	res := run(t, TimeslotSelect, `{"question":"When?","slots":["tomorrow"]}`)
	assert.True(t, res.IsError)
	assert.Contains(t, res.ErrorText, "tomorrow")
}

func TestExecute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Set()[DateSelect].Execute(ctx, json.RawMessage(`{"question":"x"}`))
	assert.ErrorIs(t, err, context.Canceled)
}
