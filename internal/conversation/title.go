// ABOUTME: Asynchronous chat title derivation from the first user message
// ABOUTME: The title model's output is cleaned into plain text before it is emitted

package conversation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/serviceos-chat/internal/llm"
	"github.com/2389/serviceos-chat/internal/message"
	"github.com/2389/serviceos-chat/internal/prompt"
)

// titleTimeout bounds a title generation.
const titleTimeout = 30 * time.Second

// StartTitle derives a title for msg in the background. The returned
// channel yields the cleaned title, or nothing when generation fails, and
// is then closed.
func StartTitle(ctx context.Context, provider llm.Provider, model string, msg message.Message, logger *slog.Logger) <-chan string {
	out := make(chan string, 1)
	go func() {
		defer close(out)
		ctx, cancel := context.WithTimeout(ctx, titleTimeout)
		defer cancel()

		text := strings.TrimSpace(message.Text(msg))
		if text == "" {
			out <- prompt.FallbackTitle
			return
		}
		raw, err := llm.Generate(ctx, provider, llm.Request{
			Model:    model,
			System:   prompt.Title,
			Messages: []llm.Message{{Role: llm.RoleUser, Content: text}},
		})
		if err != nil {
			logger.Warn("title generation failed", "error", err)
			return
		}
		out <- prompt.CleanTitle(raw)
	}()
	return out
}
