// ABOUTME: HTTP handlers for turn submission and stream resumption over SSE
// ABOUTME: Chunks are written as id/event/data frames and the stream ends with a [DONE] marker

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/serviceos-chat/internal/auth"
	"github.com/2389/serviceos-chat/internal/chaterr"
	"github.com/2389/serviceos-chat/internal/conversation"
	"github.com/2389/serviceos-chat/internal/message"
	"github.com/2389/serviceos-chat/internal/prompt"
	"github.com/2389/serviceos-chat/internal/store"
	"github.com/2389/serviceos-chat/internal/stream"
)

// maxBodyBytes caps a submission body.
const maxBodyBytes = 4 << 20

// ChatRequest is the JSON body of POST /api/chat. Message starts a new
// turn; Messages carries the client's full list to continue the last
// assistant message.
type ChatRequest struct {
	ID                     string            `json:"id"`
	Message                *message.Message  `json:"message,omitempty"`
	Messages               []message.Message `json:"messages,omitempty"`
	SelectedChatModel      string            `json:"selectedChatModel,omitempty"`
	SelectedVisibilityType store.Visibility  `json:"selectedVisibilityType,omitempty"`
}

// handleSubmit handles POST /api/chat.
//
// Errors before the turn starts are JSON with the taxonomy status. Once the
// SSE response has begun, failures arrive as an error chunk. A client that
// disconnects stops receiving, but the turn runs to completion and is
// persisted.
func (g *Gateway) handleSubmit(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.writeError(w, chaterr.New(chaterr.KindOffline, "api", "Streaming is not supported."))
		return
	}

	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		g.writeError(w, chaterr.BadRequest("api", "The request body is not valid JSON."))
		return
	}

	turn, err := g.service.Submit(r.Context(), conversation.SubmitRequest{
		ChatID:     req.ID,
		UserID:     auth.UserID(r.Context()),
		Message:    req.Message,
		Messages:   req.Messages,
		Model:      strings.TrimSpace(req.SelectedChatModel),
		Visibility: req.SelectedVisibilityType,
		Hints:      prompt.HintsFromHeaders(r.Header, g.now()),
	})
	if err != nil {
		g.writeError(w, err)
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if !g.streamChunks(r.Context(), w, flusher, turn.Chunks) {
		g.logger.Debug("client went away, turn continues", "chat_id", turn.ChatID)
		turn.Drain()
	}
}

// handleResume handles GET /api/chat/{id}/stream. The resume point is the
// Last-Event-ID header or the after query parameter; 204 means there is
// nothing to resume.
func (g *Gateway) handleResume(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.writeError(w, chaterr.New(chaterr.KindOffline, "stream", "Streaming is not supported."))
		return
	}

	after, err := resumePoint(r)
	if err != nil {
		g.writeError(w, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	chunks, err := g.service.Resume(ctx, auth.UserID(r.Context()), r.PathValue("id"), after)
	if err != nil {
		g.writeError(w, err)
		return
	}
	if chunks == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	g.streamChunks(ctx, w, flusher, chunks)
}

func resumePoint(r *http.Request) (int64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw == "" {
		return 0, nil
	}
	after, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || after < 0 {
		return 0, chaterr.BadRequest("stream", "The resume point must be a non-negative integer.")
	}
	return after, nil
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// streamChunks writes chunks until the channel closes, then the done
// marker. It returns false if the client went away first.
func (g *Gateway) streamChunks(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, chunks <-chan stream.Chunk) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case c, ok := <-chunks:
			if !ok {
				if err := stream.WriteDone(w); err != nil {
					return false
				}
				flusher.Flush()
				return true
			}
			if err := stream.WriteEvent(w, c); err != nil {
				g.logger.Debug("writing chunk failed", "error", err)
				return false
			}
			flusher.Flush()
		}
	}
}
