package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/serviceos-chat/internal/mcp"
)

func TestKeywordModel_SelectsBestMatch(t *testing.T) {
	defs := Catalog()
	scoring := NewKeywordModel(1.0).Score(context.Background(), "I need a Prescription refill", defs)

	assert.Equal(t, "prescription_refill", scoring.Selected)
	want := 1 / (1 + float64(len(defs)-1)*math.Exp(-2.0/3.0))
	assert.InDelta(t, want, scoring.Confidence, 1e-9)

	total := 0.0
	for _, s := range scoring.Scores {
		total += s.Confidence
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Equal(t, "prescription_refill", scoring.Ranked()[0].Name)
}

func TestKeywordModel_LowTemperatureSharpens(t *testing.T) {
	defs := Catalog()
	warm := NewKeywordModel(1.0).Score(context.Background(), "prescription refill", defs)
	cold := NewKeywordModel(0).Score(context.Background(), "prescription refill", defs)

	assert.Equal(t, MinTemperature, NewKeywordModel(0).Temperature())
	assert.Greater(t, cold.Confidence, 0.95)
	assert.Greater(t, cold.Confidence, warm.Confidence)
}

func TestKeywordModel_NoMatch(t *testing.T) {
	defs := Catalog()
	scoring := NewKeywordModel(1.0).Score(context.Background(), "hello there", defs)

	assert.Empty(t, scoring.Selected)
	assert.Zero(t, scoring.Confidence)
	require.Len(t, scoring.Scores, len(defs))
	for _, s := range scoring.Scores {
		assert.Zero(t, s.Confidence, s.Name)
	}
	// Ties keep catalog order.
	assert.Equal(t, defs[0].Name, scoring.Ranked()[0].Name)
}

func TestDefinition_Validate(t *testing.T) {
	def, found := Lookup(Catalog(), "appointment_book")
	require.True(t, found)

	err := def.Validate(map[string]any{"patient_id": "pat_001", "provider_id": " "})
	require.Error(t, err)
	assert.Equal(t, "missing required parameter(s): location_id, provider_id, service_id, start_time", err.Error())

	assert.NoError(t, def.Validate(map[string]any{
		"patient_id": "pat_001", "provider_id": "prv_1", "service_id": "svc_1",
		"start_time": "2026-02-12T10:00:00Z", "location_id": "loc_1",
	}))
}

func TestDefinition_Schema(t *testing.T) {
	def, _ := Lookup(Catalog(), "lab_results_get")
	var schema struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	require.NoError(t, json.Unmarshal(def.Schema(), &schema))
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"patient_id"}, schema.Required)
	assert.Contains(t, schema.Properties, "lab_test_name")
}

func TestServer_Tools(t *testing.T) {
	tools := NewServer(nil, Config{}).Tools()

	require.Len(t, tools, 16)
	assert.Equal(t, "service_catalog_search", tools[0].Name)
	assert.Equal(t, DisambiguateTool, tools[14].Name)
	assert.Equal(t, ConfidenceTool, tools[15].Name)
	for _, tool := range tools {
		assert.True(t, json.Valid(tool.InputSchema), tool.Name)
	}
}

func TestServer_CallWorkflow(t *testing.T) {
	s := NewServer(nil, Config{})

	result, err := s.CallTool(context.Background(), "appointment_cancel", json.RawMessage(`{"appointment_id":"apt_9"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"appointment_id":"apt_9","status":"cancelled"}}`, string(result.StructuredContent))
	assert.JSONEq(t, string(result.StructuredContent), result.Text())

	_, err = s.CallTool(context.Background(), "appointment_cancel", json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "appointment_id")

	_, err = s.CallTool(context.Background(), "teleport", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, mcp.ErrToolNotFound))
}

func TestServer_Disambiguate(t *testing.T) {
	s := NewServer(nil, Config{})
	args := json.RawMessage(`{"user_query":"I need to change something","candidates":["appointment_reschedule","mystery_tool"]}`)

	result, err := s.CallTool(context.Background(), DisambiguateTool, args)
	require.NoError(t, err)
	assert.Equal(t, "Please choose one option.", result.Text())

	var choice Choice
	require.NoError(t, json.Unmarshal(result.StructuredContent, &choice))
	assert.Equal(t, "Which workflow should I run?", choice.Question)
	assert.Equal(t, "I need to change something", choice.UserQuery)
	require.Len(t, choice.Options, 2)
	assert.Equal(t, ChoiceOption{
		ID: "appointment_reschedule", ToolName: "appointment_reschedule",
		Title: "Appointment Reschedule", Description: "Reschedule an existing appointment.",
	}, choice.Options[0])
	assert.Equal(t, "Mystery Tool", choice.Options[1].Title)
	assert.Empty(t, choice.Options[1].Description)

	meta, _ := result.Meta["serviceos"].(map[string]any)
	assert.Equal(t, "tool-choice", meta["type"])

	_, err = s.CallTool(context.Background(), DisambiguateTool, json.RawMessage(`{"user_query":"x"}`))
	assert.Error(t, err)
}

func TestServer_Evaluate(t *testing.T) {
	s := NewServer(nil, Config{Threshold: DefaultThreshold, Temperature: 1.0})
	args := json.RawMessage(`{
		"messages": [
			{"role":"user","content":"can I get a refill on my prescription"},
			{"role":"assistant","content":"Sure, or I can cancel an appointment for you"}
		],
		"mode":"full_conversation",
		"top_k":3
	}`)

	result, err := s.CallTool(context.Background(), ConfidenceTool, args)
	require.NoError(t, err)

	var eval Evaluation
	require.NoError(t, json.Unmarshal(result.StructuredContent, &eval))
	assert.Equal(t, DefaultThreshold, eval.Threshold)
	assert.Equal(t, 3, eval.TopK)
	assert.Equal(t, ModeFullConversation, eval.Mode)
	require.NotNil(t, eval.Selected)
	assert.Equal(t, "prescription_refill", eval.Selected.Name)
	assert.Equal(t, "prescription_refill", eval.Selected.MCPName)
	require.Len(t, eval.Tools, 14)
	assert.Equal(t, "prescription_refill", eval.Tools[0].Name)
	for i := 1; i < len(eval.Tools); i++ {
		assert.LessOrEqual(t, eval.Tools[i].Confidence, eval.Tools[i-1].Confidence)
	}
}

func TestServer_EvaluateLastMessage(t *testing.T) {
	s := NewServer(nil, Config{Threshold: DefaultThreshold})
	args := json.RawMessage(`{
		"messages": [
			{"role":"user","content":"cancel my appointment"},
			{"role":"user","content":"actually I need my lab results"}
		],
		"mode":"last_message"
	}`)

	result, err := s.CallTool(context.Background(), ConfidenceTool, args)
	require.NoError(t, err)

	var eval Evaluation
	require.NoError(t, json.Unmarshal(result.StructuredContent, &eval))
	require.NotNil(t, eval.Selected)
	assert.Equal(t, "lab_results_get", eval.Selected.Name)
	assert.Equal(t, DefaultTopK, eval.TopK)

	_, err = s.CallTool(context.Background(), ConfidenceTool, json.RawMessage(`{"messages":[],"mode":"vibes"}`))
	assert.Error(t, err)
}

func TestServer_EvaluateNoMatch(t *testing.T) {
	s := NewServer(nil, Config{Threshold: DefaultThreshold})
	result, err := s.CallTool(context.Background(), ConfidenceTool, json.RawMessage(`{"messages":[{"role":"user","content":"hello there"}]}`))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(result.StructuredContent, &raw))
	assert.Nil(t, raw["selected"])
	assert.Len(t, raw["tools"], 14)
}

func TestServer_OverMCP(t *testing.T) {
	srv, err := mcp.NewServer(mcp.ServerConfig{Handler: NewServer(nil, Config{Threshold: DefaultThreshold})})
	require.NoError(t, err)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := mcp.NewClient(mcp.NewHTTPTransport(mcp.HTTPConfig{URL: ts.URL + "/mcp"}), "test", nil)
	ctx := context.Background()
	require.NoError(t, client.Initialize(ctx))
	defer client.Close()

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	assert.Len(t, tools, 16)

	result, err := client.CallTool(ctx, "insurance_verify", json.RawMessage(`{"patient_id":"pat_001","insurance_id":"ins_1"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"eligible":true,"copay":"$25"}}`, string(result.StructuredContent))

	// Validation failures come back as tool-level errors.
	_, err = client.CallTool(ctx, "insurance_verify", json.RawMessage(`{}`))
	var toolErr *mcp.ToolError
	assert.True(t, errors.As(err, &toolErr))
}
