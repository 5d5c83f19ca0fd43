// Package conversation orchestrates a chat turn end to end.
//
// Submit loads or creates the chat, opens a tool session, ranks the
// discovered tools, runs the turn driver on a context detached from the
// request, merges the derived title into the output, makes the output
// resumable and persists the produced messages once the driver halts.
//
// # Record first
//
// The user message of a fresh turn is saved before any model call, so a
// failed turn still leaves the question in the history. Produced messages
// are reconciled with a background context; a client that disconnects
// never aborts persistence.
//
// # Continuations
//
// A request that carries the full message list instead of a single new
// message continues the last assistant message (typically after the user
// answered a tool approval). The client's list is used as-is, the assistant
// message keeps its ID and its stored parts are replaced.
package conversation
