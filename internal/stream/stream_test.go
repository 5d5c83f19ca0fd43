package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/serviceos-chat/internal/message"
)

func feed(chunks ...Chunk) <-chan Chunk {
	ch := make(chan Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("timed out waiting for stream to close")
		}
	}
}

func types(chunks []Chunk) []ChunkType {
	out := make([]ChunkType, len(chunks))
	for i, c := range chunks {
		out[i] = c.Type
	}
	return out
}

func TestMultiplex_SequenceNumbers(t *testing.T) {
	out := collect(t, Multiplex(feed(
		Chunk{Type: TypeStart, MessageID: "m1"},
		Chunk{Type: TypeTextDelta, ID: "t", Delta: "hi"},
		Chunk{Type: TypeFinish},
	), nil, nil))

	require.Len(t, out, 3)
	for i, c := range out {
		assert.Equal(t, int64(i+1), c.Seq)
	}
}

func TestMultiplex_TitleAfterDriver(t *testing.T) {
	title := make(chan string, 1)
	driver := feed(Chunk{Type: TypeStart}, Chunk{Type: TypeFinish})

	go func() {
		time.Sleep(20 * time.Millisecond)
		title <- "Refill Request"
		close(title)
	}()
	out := collect(t, Multiplex(driver, title, nil))

	assert.Equal(t, []ChunkType{TypeStart, TypeFinish, TypeChatTitle}, types(out))
	assert.Equal(t, "Refill Request", out[2].TitleText())
	assert.True(t, out[2].Transient)
	assert.Equal(t, int64(3), out[2].Seq)
}

func TestMultiplex_TitleBeforeDriverEnds(t *testing.T) {
	title := make(chan string, 1)
	title <- "Booking"
	close(title)

	driver := make(chan Chunk)
	mux := Multiplex(driver, title, nil)

	first := <-mux
	assert.Equal(t, TypeChatTitle, first.Type)

	go func() {
		driver <- Chunk{Type: TypeStart}
		driver <- Chunk{Type: TypeFinish}
		close(driver)
	}()
	rest := collect(t, mux)
	assert.Equal(t, []ChunkType{TypeStart, TypeFinish}, types(rest))
}

func TestMultiplex_EmptyTitleSkipped(t *testing.T) {
	title := make(chan string)
	close(title)
	out := collect(t, Multiplex(feed(Chunk{Type: TypeFinish}), title, nil))
	assert.Equal(t, []ChunkType{TypeFinish}, types(out))
}

func TestMultiplex_SingleGenericError(t *testing.T) {
	out := collect(t, Multiplex(feed(
		Chunk{Type: TypeStart},
		Failure(errors.New("provider exploded")),
		Failure(errors.New("again")),
	), nil, nil))

	require.Equal(t, []ChunkType{TypeStart, TypeError}, types(out))
	assert.Equal(t, GenericErrorText, out[1].ErrorText)
	assert.Nil(t, out[1].Err)

	data, err := json.Marshal(out[1])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "exploded")
}

func TestSSE_RoundTrip(t *testing.T) {
	chunks := []Chunk{
		{Type: TypeStart, MessageID: "m1", Seq: 1},
		{Type: TypeTextDelta, ID: "t1", Delta: "line one\nline two", Seq: 2},
		{Type: TypeToolInputAvailable, ToolCallID: "c1", ToolName: "provider_search", Input: json.RawMessage(`{"q":"x"}`), Seq: 3},
		Title("Finding Care"),
	}
	var buf bytes.Buffer
	for _, c := range chunks {
		require.NoError(t, WriteEvent(&buf, c))
	}
	require.NoError(t, WriteDone(&buf))

	assert.Contains(t, buf.String(), "id: 2\nevent: text-delta\n")
	assert.Contains(t, buf.String(), "event: done\ndata: [DONE]\n\n")

	got, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "line one\nline two", got[1].Delta)
	assert.Equal(t, int64(3), got[2].Seq)
	assert.JSONEq(t, `{"q":"x"}`, string(got[2].Input))
	assert.Equal(t, "Finding Care", got[3].TitleText())
	assert.True(t, got[3].Transient)
}

func TestAccumulate(t *testing.T) {
	chunks := []Chunk{
		{Type: TypeStart, MessageID: "a1"},
		{Type: TypeStartStep},
		{Type: TypeReasoningStart, ID: "r"},
		{Type: TypeReasoningDelta, ID: "r", Delta: "thinking"},
		{Type: TypeReasoningEnd, ID: "r"},
		{Type: TypeToolInputAvailable, ToolCallID: "c1", ToolName: "options-select", Input: json.RawMessage(`{}`)},
		{Type: TypeToolOutputAvailable, ToolCallID: "c1", Output: json.RawMessage(`{"ok":true}`)},
		{Type: TypeFinishStep},
		Title("ignored"),
		{Type: TypeStartStep},
		{Type: TypeTextStart, ID: "t"},
		{Type: TypeTextDelta, ID: "t", Delta: "Hel"},
		{Type: TypeTextDelta, ID: "t", Delta: "lo"},
		{Type: TypeTextEnd, ID: "t"},
		{Type: TypeToolInputAvailable, ToolCallID: "c2", ToolName: "appointment_book"},
		{Type: TypeToolApprovalRequest, ToolCallID: "c2", ApprovalID: "ap1"},
		{Type: TypeFinishStep},
		{Type: TypeFinish},
	}

	msgs := Accumulate(chunks)
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, "a1", m.ID)
	assert.Equal(t, message.RoleAssistant, m.Role)

	var kinds []message.PartType
	for _, p := range m.Parts {
		kinds = append(kinds, p.Type)
	}
	assert.Equal(t, []message.PartType{
		message.PartStepStart, message.PartReasoning, message.PartToolInvocation,
		message.PartStepStart, message.PartText, message.PartToolInvocation,
	}, kinds)
	assert.Equal(t, "thinking", m.Parts[1].Text)
	assert.Equal(t, message.ToolOutputAvailable, m.Parts[2].State)
	assert.Equal(t, "Hello", m.Parts[4].Text)
	assert.Equal(t, message.ToolApprovalRequested, m.Parts[5].State)
	assert.Equal(t, "ap1", m.Parts[5].Approval.ID)
}

func TestAccumulate_OutputWithoutInput(t *testing.T) {
	msgs := Accumulate([]Chunk{
		{Type: TypeStart, MessageID: "a1"},
		{Type: TypeToolOutputDenied, ToolCallID: "c9", ToolName: "appointment_cancel"},
		{Type: TypeFinish},
	})
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Parts, 1)
	assert.Equal(t, message.ToolOutputDenied, msgs[0].Parts[0].State)
	assert.Equal(t, "appointment_cancel", msgs[0].Parts[0].ToolName)
}
