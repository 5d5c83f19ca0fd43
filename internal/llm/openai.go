// ABOUTME: OpenAI-compatible streaming provider built on openai-go chat completions
// ABOUTME: Accumulates deltas into a Response and emits text and tool-call events

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oshared "github.com/openai/openai-go/shared"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty for api.openai.com

	// MaxRetries overrides the client's retry count when non-nil.
	MaxRetries *int
}

// OpenAI streams chat completions from an OpenAI-compatible endpoint.
type OpenAI struct {
	client  openai.Client
	gateway bool
	logger  *slog.Logger
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []ooption.RequestOption{ooption.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, ooption.WithBaseURL(base))
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, ooption.WithMaxRetries(*cfg.MaxRetries))
	}

	return &OpenAI{
		client:  openai.NewClient(opts...),
		gateway: strings.TrimSpace(cfg.BaseURL) != "",
		logger:  logger.With("component", "llm.openai"),
	}
}

// modelName maps a "provider/model" selector to the name the endpoint
// expects. Direct OpenAI calls drop the "openai/" prefix; gateways receive
// the selector as is.
func (p *OpenAI) modelName(selector string) string {
	selector = strings.TrimSpace(selector)
	if p.gateway {
		return selector
	}
	return strings.TrimPrefix(selector, "openai/")
}

// Stream implements Provider.
func (p *OpenAI) Stream(ctx context.Context, req Request, cb StreamCallback) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    oshared.ChatModel(p.modelName(req.Model)),
		Messages: buildChatMessages(req),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = buildChatTools(req.Tools)
		if choice, ok := buildToolChoice(req.ToolChoice); ok {
			params.ToolChoice = choice
		}
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				text.WriteString(delta)
				emit(cb, StreamEvent{Kind: KindTextDelta, Text: delta})
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("streaming chat completion: %w", err)
	}

	resp := &Response{
		Text:         text.String(),
		InputTokens:  acc.Usage.PromptTokens,
		OutputTokens: acc.Usage.CompletionTokens,
	}
	if len(acc.Choices) > 0 {
		choice := acc.Choices[0]
		resp.FinishReason = string(choice.FinishReason)
		for i, tc := range choice.Message.ToolCalls {
			id := strings.TrimSpace(tc.ID)
			if id == "" {
				id = fmt.Sprintf("call_%d", i+1)
			}
			args := strings.TrimSpace(tc.Function.Arguments)
			if args == "" || !json.Valid([]byte(args)) {
				if args != "" {
					p.logger.Warn("model produced invalid tool arguments", "tool", tc.Function.Name, "arguments", args)
				}
				args = "{}"
			}
			call := ToolCall{ID: id, Name: tc.Function.Name, Arguments: json.RawMessage(args)}
			resp.ToolCalls = append(resp.ToolCalls, call)
			emit(cb, StreamEvent{Kind: KindToolCall, ToolCall: &call})
		}
	}

	p.logger.Debug("chat completion finished",
		"model", req.Model,
		"finish_reason", resp.FinishReason,
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)
	return resp, nil
}

func buildChatMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if m.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(m.Content)}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func buildChatTools(defs []ToolDef) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		fn := oshared.FunctionDefinitionParam{
			Name: def.Name,
		}
		if desc := strings.TrimSpace(def.Description); desc != "" {
			fn.Description = openai.String(desc)
		}
		if len(def.Parameters) > 0 {
			fn.Parameters = oshared.FunctionParameters(def.Parameters)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}

func buildToolChoice(tc ToolChoice) (openai.ChatCompletionToolChoiceOptionUnionParam, bool) {
	switch tc.Mode {
	case ToolChoiceNone, ToolChoiceRequired, ToolChoiceAuto:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(string(tc.Mode))}, true
	case ToolChoiceFunction:
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.Name},
			},
		}, true
	}
	return openai.ChatCompletionToolChoiceOptionUnionParam{}, false
}
