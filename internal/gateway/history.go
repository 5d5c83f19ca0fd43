// ABOUTME: HTTP handlers for chat history, deletion, visibility and votes
// ABOUTME: Every handler acts for the signed-in user; ownership is checked by the conversation service

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/serviceos-chat/internal/auth"
	"github.com/2389/serviceos-chat/internal/chaterr"
	"github.com/2389/serviceos-chat/internal/message"
	"github.com/2389/serviceos-chat/internal/store"
)

// ChatResponse is a chat as returned by the API.
type ChatResponse struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	UserID     string           `json:"userId"`
	Visibility store.Visibility `json:"visibility"`
	CreatedAt  string           `json:"createdAt"`
}

// HistoryResponse is the JSON response for GET /api/history.
type HistoryResponse struct {
	Chats   []ChatResponse `json:"chats"`
	HasMore bool           `json:"hasMore"`
}

// MessagesResponse is the JSON response for GET /api/chat/{id}/messages.
type MessagesResponse struct {
	ChatID   string            `json:"chatId"`
	Messages []message.Message `json:"messages"`
}

// VisibilityRequest is the JSON body for PATCH /api/chat/{id}/visibility.
type VisibilityRequest struct {
	Visibility store.Visibility `json:"visibility"`
}

// VoteRequest is the JSON body for PATCH /api/vote.
type VoteRequest struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	// Type is "up" or "down".
	Type string `json:"type"`
}

// VoteResponse is one vote as returned by GET /api/vote.
type VoteResponse struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	IsUpvoted bool   `json:"isUpvoted"`
}

func chatResponse(c *store.Chat) ChatResponse {
	return ChatResponse{
		ID:         c.ID,
		Title:      c.Title,
		UserID:     c.UserID,
		Visibility: c.Visibility,
		CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleDeleteChat handles DELETE /api/chat?id=.
func (g *Gateway) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chat, err := g.service.DeleteChat(r.Context(), auth.UserID(r.Context()), r.URL.Query().Get("id"))
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, chatResponse(chat))
}

// handleMessages handles GET /api/chat/{id}/messages.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	msgs, err := g.service.GetMessages(r.Context(), auth.UserID(r.Context()), chatID)
	if err != nil {
		g.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	g.writeJSON(w, http.StatusOK, MessagesResponse{ChatID: chatID, Messages: msgs})
}

// handleVisibility handles PATCH /api/chat/{id}/visibility.
func (g *Gateway) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, chaterr.BadRequest("chat", "The request body is not valid JSON."))
		return
	}
	if err := g.service.SetVisibility(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), req.Visibility); err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"visibility": string(req.Visibility)})
}

// handleHistory handles GET /api/history?limit=&starting_after=&ending_before=.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			g.writeError(w, chaterr.BadRequest("history", "limit must be a positive integer."))
			return
		}
		limit = n
	}

	page, err := g.service.ListChats(r.Context(), store.ListChatsParams{
		UserID:        auth.UserID(r.Context()),
		Limit:         limit,
		StartingAfter: q.Get("starting_after"),
		EndingBefore:  q.Get("ending_before"),
	})
	if err != nil {
		g.writeError(w, err)
		return
	}

	resp := HistoryResponse{Chats: make([]ChatResponse, len(page.Chats)), HasMore: page.HasMore}
	for i, c := range page.Chats {
		resp.Chats[i] = chatResponse(c)
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleDeleteHistory handles DELETE /api/history, removing all of the
// user's chats.
func (g *Gateway) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	n, err := g.service.DeleteAllChats(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		g.writeError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]int{"deletedCount": n})
}

// handleGetVotes handles GET /api/vote?chatId=.
func (g *Gateway) handleGetVotes(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chatId")
	if chatID == "" {
		g.writeError(w, chaterr.BadRequest("vote", "Parameter chatId is required."))
		return
	}
	votes, err := g.service.GetVotes(r.Context(), auth.UserID(r.Context()), chatID)
	if err != nil {
		g.writeError(w, err)
		return
	}
	resp := make([]VoteResponse, len(votes))
	for i, v := range votes {
		resp[i] = VoteResponse{ChatID: v.ChatID, MessageID: v.MessageID, IsUpvoted: v.IsUpvoted}
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleVote handles PATCH /api/vote.
func (g *Gateway) handleVote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, chaterr.BadRequest("vote", "The request body is not valid JSON."))
		return
	}
	if req.ChatID == "" || req.MessageID == "" || (req.Type != "up" && req.Type != "down") {
		g.writeError(w, chaterr.BadRequest("vote", "Parameters chatId, messageId, and type are required."))
		return
	}
	if err := g.service.Vote(r.Context(), auth.UserID(r.Context()), req.ChatID, req.MessageID, req.Type == "up"); err != nil {
		g.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Message voted"))
}
