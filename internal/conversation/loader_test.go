package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/serviceos-chat/internal/chaterr"
	"github.com/2389/serviceos-chat/internal/llm"
	"github.com/2389/serviceos-chat/internal/message"
	"github.com/2389/serviceos-chat/internal/prompt"
	"github.com/2389/serviceos-chat/internal/store"
)

func TestLoader_NewChat(t *testing.T) {
	ms := store.NewMockStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLoader(ms)
	l.now = func() time.Time { return now }

	loaded, err := l.Load(context.Background(), LoadRequest{ChatID: "c1", UserID: "u", Message: userText("m1", "hi"), Visibility: store.VisibilityPublic})
	require.NoError(t, err)
	assert.True(t, loaded.NewChat)
	assert.False(t, loaded.Continuation)
	assert.Equal(t, store.DefaultChatTitle, loaded.Chat.Title)
	assert.Equal(t, store.VisibilityPublic, loaded.Chat.Visibility)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, now, loaded.Messages[0].CreatedAt)

	rows, err := ms.GetMessagesByChatID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestLoader_ExistingChat(t *testing.T) {
	ms := store.NewMockStore()
	ctx := context.Background()
	require.NoError(t, ms.SaveChat(ctx, &store.Chat{ID: "c1", UserID: "u", Visibility: store.VisibilityPrivate}))
	require.NoError(t, ms.SaveMessages(ctx, []*store.Message{
		store.NewMessage("c1", *userText("m1", "first")),
		store.NewMessage("c1", message.Message{ID: "a1", Role: message.RoleAssistant, Parts: []message.Part{{Type: message.PartText, Text: "reply"}}}),
	}))

	loaded, err := NewLoader(ms).Load(ctx, LoadRequest{ChatID: "c1", UserID: "u", Message: userText("m2", "second")})
	require.NoError(t, err)
	assert.False(t, loaded.NewChat)
	require.Len(t, loaded.Messages, 3)
	assert.Equal(t, []string{"m1", "a1", "m2"}, []string{loaded.Messages[0].ID, loaded.Messages[1].ID, loaded.Messages[2].ID})
}

func TestLoader_Errors(t *testing.T) {
	ms := store.NewMockStore()
	ctx := context.Background()
	require.NoError(t, ms.SaveChat(ctx, &store.Chat{ID: "mine", UserID: "u", Visibility: store.VisibilityPublic}))
	l := NewLoader(ms)

	_, err := l.Load(ctx, LoadRequest{ChatID: "mine", Message: userText("m", "x")})
	assert.True(t, chaterr.Is(err, chaterr.KindUnauthorized))

	_, err = l.Load(ctx, LoadRequest{ChatID: "mine", UserID: "other", Message: userText("m", "x")})
	assert.True(t, chaterr.Is(err, chaterr.KindForbidden), "public chats are read-only for others")

	_, err = l.Load(ctx, LoadRequest{ChatID: "missing", UserID: "u", Messages: []message.Message{*userText("m", "x")}})
	assert.True(t, chaterr.Is(err, chaterr.KindNotFound))

	_, err = l.Load(ctx, LoadRequest{ChatID: "mine", UserID: "u"})
	assert.True(t, chaterr.Is(err, chaterr.KindBadRequest))

	ms.Failures["GetChatByID"] = errors.New("db down")
	_, err = l.Load(ctx, LoadRequest{ChatID: "mine", UserID: "u", Message: userText("m", "x")})
	assert.True(t, chaterr.Is(err, chaterr.KindStorage))
}

func TestReconciler_FreshTurn(t *testing.T) {
	ms := store.NewMockStore()
	ctx := context.Background()
	require.NoError(t, ms.SaveChat(ctx, &store.Chat{ID: "c1", UserID: "u"}))
	r := NewReconciler(ms, nil)

	produced := []message.Message{{ID: "a1", Role: message.RoleAssistant, Parts: []message.Part{{Type: message.PartText, Text: "hi"}}}}
	require.NoError(t, r.Reconcile(ctx, "c1", nil, produced, false))
	require.NoError(t, r.Reconcile(ctx, "c1", nil, nil, false))

	assert.Equal(t, 1, ms.CallsTo("SaveMessages"))
	msg, err := ms.GetMessageByID(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestReconciler_Continuation(t *testing.T) {
	ms := store.NewMockStore()
	ctx := context.Background()
	require.NoError(t, ms.SaveChat(ctx, &store.Chat{ID: "c1", UserID: "u"}))
	existing := message.Message{ID: "a1", Role: message.RoleAssistant, Parts: []message.Part{{Type: message.PartText, Text: "old"}}}
	require.NoError(t, ms.SaveMessages(ctx, []*store.Message{store.NewMessage("c1", existing)}))

	updated := existing.Clone()
	updated.Parts = append(updated.Parts, message.Part{Type: message.PartText, Text: "new"})
	extra := message.Message{ID: "a2", Role: message.RoleAssistant, Parts: []message.Part{{Type: message.PartText, Text: "more"}}}

	r := NewReconciler(ms, nil)
	require.NoError(t, r.Reconcile(ctx, "c1", []message.Message{existing}, []message.Message{updated, extra}, true))

	got, err := ms.GetMessageByID(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, got.Parts, 2)
	_, err = ms.GetMessageByID(ctx, "a2")
	assert.NoError(t, err)
}

func TestLoader_ContinuationWorkingSet(t *testing.T) {
	ms := store.NewMockStore()
	ctx := context.Background()
	require.NoError(t, ms.SaveChat(ctx, &store.Chat{ID: "mine", UserID: "u"}))
	require.NoError(t, ms.SaveChat(ctx, &store.Chat{ID: "theirs", UserID: "other"}))
	require.NoError(t, ms.SaveMessages(ctx, []*store.Message{
		store.NewMessage("mine", *userText("m1", "hi")),
		store.NewMessage("theirs", *userText("t1", "private")),
	}))
	l := NewLoader(ms)

	loaded, err := l.Load(ctx, LoadRequest{ChatID: "mine", UserID: "u", Messages: []message.Message{*userText("m1", "hi"), *userText("new", "later")}})
	require.NoError(t, err)
	assert.True(t, loaded.Continuation)
	assert.Len(t, loaded.Messages, 2)

	_, err = l.Load(ctx, LoadRequest{ChatID: "mine", UserID: "u", Messages: []message.Message{*userText("m1", "hi"), *userText("t1", "private")}})
	assert.True(t, chaterr.Is(err, chaterr.KindForbidden), "got %v", err)

	ms.Failures["GetMessagesByChatID"] = errors.New("db down")
	_, err = l.Load(ctx, LoadRequest{ChatID: "mine", UserID: "u", Messages: []message.Message{*userText("m1", "hi")}})
	assert.True(t, chaterr.Is(err, chaterr.KindStorage))
}

func TestReconciler_ContinuationInsertsUnstoredMessages(t *testing.T) {
	ms := store.NewMockStore()
	ctx := context.Background()
	require.NoError(t, ms.SaveChat(ctx, &store.Chat{ID: "c1", UserID: "u"}))
	require.NoError(t, ms.SaveChat(ctx, &store.Chat{ID: "c2", UserID: "other"}))
	foreign := message.Message{ID: "x1", Role: message.RoleAssistant, Parts: []message.Part{{Type: message.PartText, Text: "theirs"}}}
	require.NoError(t, ms.SaveMessages(ctx, []*store.Message{store.NewMessage("c2", foreign)}))
	r := NewReconciler(ms, nil)

	unsaved := message.Message{ID: "a1", Role: message.RoleAssistant, Parts: []message.Part{{Type: message.PartText, Text: "kept"}}}
	extra := message.Message{ID: "a2", Role: message.RoleAssistant, Parts: []message.Part{{Type: message.PartText, Text: "more"}}}
	require.NoError(t, r.Reconcile(ctx, "c1", []message.Message{unsaved}, []message.Message{unsaved, extra}, true))

	rows, err := ms.GetMessagesByChatID(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a1", rows[0].ID)
	assert.Equal(t, "a2", rows[1].ID)

	// A message stored under another chat is never rewritten.
	hijack := foreign.Clone()
	hijack.Parts = []message.Part{{Type: message.PartText, Text: "mine now"}}
	err = r.Reconcile(ctx, "c1", []message.Message{foreign}, []message.Message{hijack}, true)
	assert.True(t, chaterr.Is(err, chaterr.KindStorage))
	got, err := ms.GetMessageByID(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.ChatID)
	assert.Equal(t, "theirs", got.Parts[0].Text)
}

func TestReconciler_IgnoresCancelledContext(t *testing.T) {
	ms := store.NewMockStore()
	require.NoError(t, ms.SaveChat(context.Background(), &store.Chat{ID: "c1", UserID: "u"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewReconciler(ms, nil).Reconcile(ctx, "c1", nil, []message.Message{{ID: "a1", Role: message.RoleAssistant}}, false)
	require.NoError(t, err)
	_, err = ms.GetMessageByID(context.Background(), "a1")
	assert.NoError(t, err)
}

func TestReconciler_StorageFailure(t *testing.T) {
	ms := store.NewMockStore()
	ms.Failures["SaveMessages"] = errors.New("disk full")
	err := NewReconciler(ms, nil).Reconcile(context.Background(), "c1", nil, []message.Message{{ID: "a1"}}, false)
	assert.True(t, chaterr.Is(err, chaterr.KindStorage))
}

func receive(t *testing.T, ch <-chan string) (string, bool) {
	t.Helper()
	select {
	case v, ok := <-ch:
		return v, ok
	case <-time.After(2 * time.Second):
		t.Fatal("title never resolved")
		return "", false
	}
}

func TestStartTitle(t *testing.T) {
	provider := llm.NewScripted(llm.ScriptedStep{Text: "\"Knee Pain Appointment\"\nextra line"})
	title, ok := receive(t, StartTitle(context.Background(), provider, "title-model", *userText("m", "my knee hurts"), slogDiscard()))
	require.True(t, ok)
	assert.Equal(t, "Knee Pain Appointment", title)

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "title-model", reqs[0].Model)
	assert.Equal(t, prompt.Title, reqs[0].System)
}

func TestStartTitle_EmptyMessage(t *testing.T) {
	provider := llm.NewScripted()
	msg := message.Message{ID: "m", Role: message.RoleUser, Parts: []message.Part{{Type: message.PartFile}}}
	title, ok := receive(t, StartTitle(context.Background(), provider, "m", msg, slogDiscard()))
	require.True(t, ok)
	assert.Equal(t, prompt.FallbackTitle, title)
	assert.Empty(t, provider.Requests())
}

func TestStartTitle_Failure(t *testing.T) {
	provider := llm.NewScripted(llm.ScriptedStep{Err: errors.New("boom")})
	_, ok := receive(t, StartTitle(context.Background(), provider, "m", *userText("m", "hi"), slogDiscard()))
	assert.False(t, ok)
}
