// ABOUTME: Confidence router calling the meta-confidence-eval tool on the tool server
// ABOUTME: Failures are logged and swallowed; a nil ranking means no narrowing

package confidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/serviceos-chat/internal/mcp"
	"github.com/2389/serviceos-chat/internal/message"
	"github.com/2389/serviceos-chat/internal/tools"
)

// MetaTool is the name of the confidence meta-tool.
const MetaTool = "meta-confidence-eval"

// Defaults applied to meta-tool calls and rankings.
const (
	DefaultTopK    = 5
	DefaultTimeout = 5 * time.Second
	ModeFull       = "full_conversation"
)

// Candidate is one ranked tool.
type Candidate struct {
	Name       string  `json:"name"`
	MCPName    string  `json:"mcp_name,omitempty"`
	Confidence float64 `json:"confidence"`
}

// ToolName returns the registered tool name the candidate refers to.
func (c Candidate) ToolName() string {
	if c.MCPName != "" {
		return c.MCPName
	}
	return "tool-" + c.Name
}

// Ranking is the meta-tool's assessment of the conversation. It lives for a
// single turn.
type Ranking struct {
	Tools     []Candidate `json:"tools"`
	Threshold *float64    `json:"threshold,omitempty"`
	TopK      int         `json:"top_k,omitempty"`
	Selected  *Candidate  `json:"selected,omitempty"`
	Mode      string      `json:"mode,omitempty"`
}

// Caller invokes a tool on the tool server. *tools.Session satisfies it.
type Caller interface {
	Call(ctx context.Context, name string, args any) (*mcp.CallToolResult, error)
}

// Router evaluates rankings.
type Router struct {
	timeout time.Duration
	topK    int
	logger  *slog.Logger
}

// NewRouter creates a router. A non-positive timeout selects DefaultTimeout.
func NewRouter(timeout time.Duration, logger *slog.Logger) *Router {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		timeout: timeout,
		topK:    DefaultTopK,
		logger:  logger.With("component", "confidence"),
	}
}

// FlatMessage is a message reduced to its role and text.
type FlatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type evalArgs struct {
	Messages []FlatMessage `json:"messages"`
	Mode     string        `json:"mode"`
	TopK     int           `json:"top_k"`
}

var errNoStructured = errors.New("result has no structured content")

// Evaluate asks the meta-tool to rank the discovered tools against msgs.
// It returns nil when the meta-tool is not among discovered or when the
// call fails in any way.
func (r *Router) Evaluate(ctx context.Context, caller Caller, discovered tools.Set, msgs []message.Message) *Ranking {
	if caller == nil || !discovered.Has(MetaTool) {
		r.logger.Debug("confidence meta-tool not available")
		return nil
	}

	ranking, err := r.evaluate(ctx, caller, msgs)
	if err != nil {
		r.logger.Warn("confidence evaluation failed", "error", err)
		return nil
	}
	r.logger.Debug("confidence evaluated", "candidates", len(ranking.Tools), "selected", selectedName(ranking))
	return ranking
}

func (r *Router) evaluate(ctx context.Context, caller Caller, msgs []message.Message) (*Ranking, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := evalArgs{Messages: Flatten(msgs), Mode: ModeFull, TopK: r.topK}
	result, err := caller.Call(ctx, MetaTool, args)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", MetaTool, err)
	}
	if result == nil || len(result.StructuredContent) == 0 {
		return nil, errNoStructured
	}

	var ranking Ranking
	if err := json.Unmarshal(result.StructuredContent, &ranking); err != nil {
		return nil, fmt.Errorf("decode ranking: %w", err)
	}
	if ranking.Tools == nil {
		return nil, fmt.Errorf("decode ranking: missing tools")
	}
	return &ranking, nil
}

// Flatten renders msgs as role/content pairs, dropping messages with no text.
func Flatten(msgs []message.Message) []FlatMessage {
	out := make([]FlatMessage, 0, len(msgs))
	for _, m := range msgs {
		text := message.Text(m)
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, FlatMessage{Role: string(m.Role), Content: text})
	}
	return out
}

func selectedName(r *Ranking) string {
	if r.Selected == nil {
		return ""
	}
	return r.Selected.Name
}
