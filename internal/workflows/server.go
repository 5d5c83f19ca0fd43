// ABOUTME: MCP handler serving the workflow catalog, disambiguation and confidence meta-tool
// ABOUTME: Workflow results are returned as structuredContent with a JSON text mirror

package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/2389/serviceos-chat/internal/mcp"
)

// Reserved tool names.
const (
	DisambiguateTool = "serviceos_disambiguate"
	ConfidenceTool   = "meta-confidence-eval"
)

// Confidence evaluation modes.
const (
	ModeFullConversation = "full_conversation"
	ModeLastMessage      = "last_message"
)

// Defaults for the confidence meta-tool.
const (
	DefaultThreshold = 0.6
	DefaultTopK      = 5
)

// Config configures a Server.
type Config struct {
	// Threshold is reported to callers; it is clamped to [0, 1].
	Threshold   float64
	Temperature float64
	TopK        int
	// Scorer ranks workflows for the meta-tool. Nil uses a KeywordModel at
	// Temperature.
	Scorer Scorer
	Logger *slog.Logger
}

// Server implements mcp.Handler over the workflow catalog.
type Server struct {
	defs      []Definition
	scorer    Scorer
	threshold float64
	topK      int
	logger    *slog.Logger
}

// NewServer creates a handler over defs (Catalog() when nil).
func NewServer(defs []Definition, cfg Config) *Server {
	if defs == nil {
		defs = Catalog()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = NewKeywordModel(cfg.Temperature)
	}
	return &Server{
		defs:      defs,
		scorer:    scorer,
		threshold: min(1, max(0, cfg.Threshold)),
		topK:      topK,
		logger:    logger.With("component", "workflows"),
	}
}

var _ mcp.Handler = (*Server)(nil)

// Tools implements mcp.Handler.
func (s *Server) Tools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(s.defs)+2)
	for _, d := range s.defs {
		out = append(out, mcp.Tool{Name: d.Name, Description: d.Description, InputSchema: d.Schema()})
	}
	out = append(out,
		mcp.Tool{
			Name:        DisambiguateTool,
			Description: "Ask the user to choose between multiple workflows.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"user_query":{"type":"string","description":"The user's request."},"candidates":{"type":"array","items":{"type":"string"},"description":"Workflow tool names to choose from."}},"required":["user_query","candidates"]}`),
		},
		mcp.Tool{
			Name:        ConfidenceTool,
			Description: "Score how relevant each workflow tool is to the conversation. Internal; not for model use.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"messages":{"type":"array","items":{"type":"object","properties":{"role":{"type":"string"},"content":{"type":"string"}},"required":["role","content"]}},"mode":{"type":"string","enum":["full_conversation","last_message"]},"top_k":{"type":"integer","minimum":1}},"required":["messages"]}`),
		},
	)
	return out
}

// CallTool implements mcp.Handler.
func (s *Server) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch name {
	case ConfidenceTool:
		return s.evaluate(ctx, args)
	case DisambiguateTool:
		return s.disambiguate(args)
	}

	def, found := Lookup(s.defs, name)
	if !found {
		return nil, fmt.Errorf("%w: %s", mcp.ErrToolNotFound, name)
	}

	var input map[string]any
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := def.Validate(input); err != nil {
		return nil, err
	}
	payload, err := def.Handler(input)
	if err != nil {
		return nil, err
	}
	s.logger.Info("workflow executed", "tool", name)
	return structured(payload, "")
}

// ConversationMessage is one flattened message sent to the meta-tool.
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type evaluateArgs struct {
	Messages []ConversationMessage `json:"messages"`
	Mode     string                `json:"mode"`
	TopK     int                   `json:"top_k"`
}

// Candidate is one ranked workflow in the meta-tool payload.
type Candidate struct {
	Name       string  `json:"name"`
	MCPName    string  `json:"mcp_name,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Evaluation is the structured payload of the confidence meta-tool.
type Evaluation struct {
	Threshold float64     `json:"threshold"`
	Selected  *Candidate  `json:"selected"`
	Tools     []Candidate `json:"tools"`
	TopK      int         `json:"top_k"`
	Mode      string      `json:"mode"`
}

func (s *Server) evaluate(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	var in evaluateArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	mode := in.Mode
	if mode == "" {
		mode = ModeFullConversation
	}
	if mode != ModeFullConversation && mode != ModeLastMessage {
		return nil, fmt.Errorf("unsupported mode %q", mode)
	}
	topK := in.TopK
	if topK <= 0 {
		topK = s.topK
	}

	scoring := s.scorer.Score(ctx, conversationText(in.Messages, mode), s.defs)

	eval := Evaluation{Threshold: s.threshold, TopK: topK, Mode: mode}
	for _, sc := range scoring.Ranked() {
		eval.Tools = append(eval.Tools, Candidate{Name: sc.Name, MCPName: sc.Name, Confidence: sc.Confidence})
	}
	if eval.Tools == nil {
		eval.Tools = []Candidate{}
	}
	summary := "No workflow matched the conversation."
	if scoring.Selected != "" {
		eval.Selected = &Candidate{Name: scoring.Selected, MCPName: scoring.Selected, Confidence: scoring.Confidence}
		summary = fmt.Sprintf("Most likely workflow: %s (%.2f)", scoring.Selected, scoring.Confidence)
	}

	s.logger.Debug("confidence evaluated",
		"mode", mode,
		"messages", len(in.Messages),
		"selected", scoring.Selected,
		"confidence", scoring.Confidence,
	)
	return structured(eval, summary)
}

// conversationText flattens the user side of the conversation. Assistant
// text is ignored so the assistant's own wording does not steer routing.
func conversationText(msgs []ConversationMessage, mode string) string {
	var user []string
	for _, m := range msgs {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			user = append(user, m.Content)
		}
	}
	if len(user) == 0 {
		return ""
	}
	if mode == ModeLastMessage {
		return user[len(user)-1]
	}
	return strings.Join(user, "\n")
}

type disambiguateArgs struct {
	UserQuery  string   `json:"user_query"`
	Candidates []string `json:"candidates"`
}

// ChoiceOption is one option of a disambiguation question.
type ChoiceOption struct {
	ID          string `json:"id"`
	ToolName    string `json:"toolName"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Choice is the structured payload of the disambiguation tool.
type Choice struct {
	Question  string         `json:"question"`
	UserQuery string         `json:"userQuery"`
	Options   []ChoiceOption `json:"options"`
}

func (s *Server) disambiguate(args json.RawMessage) (*mcp.CallToolResult, error) {
	var in disambiguateArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if len(in.Candidates) == 0 {
		return nil, fmt.Errorf("missing required parameter(s): candidates")
	}

	choice := Choice{
		Question:  "Which workflow should I run?",
		UserQuery: in.UserQuery,
		Options:   make([]ChoiceOption, 0, len(in.Candidates)),
	}
	caser := cases.Title(language.English)
	for _, name := range in.Candidates {
		opt := ChoiceOption{
			ID:       name,
			ToolName: name,
			Title:    caser.String(strings.TrimSpace(strings.ReplaceAll(name, "_", " "))),
		}
		if def, found := Lookup(s.defs, name); found {
			opt.Description = def.Description
		}
		choice.Options = append(choice.Options, opt)
	}

	result, err := structured(choice, "Please choose one option.")
	if err != nil {
		return nil, err
	}
	result.Meta = map[string]any{
		"serviceos": map[string]any{
			"type":      "tool-choice",
			"question":  choice.Question,
			"userQuery": choice.UserQuery,
			"options":   choice.Options,
		},
	}
	return result, nil
}

// structured builds a result whose text content is summary, or the JSON
// payload itself when summary is empty.
func structured(payload any, summary string) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	text := summary
	if text == "" {
		text = string(data)
	}
	return &mcp.CallToolResult{Content: mcp.TextContent(text), StructuredContent: data}, nil
}
