// Package turn drives one assistant turn: a bounded loop of model steps and
// tool executions that streams its progress as chunks.
//
// A turn moves through three states. It is running while a step streams
// from the model and its tool calls execute, awaiting-stop-condition while
// the finished step is checked against the stop rules, and halted once it
// ends for any reason. A turn stops when a selection tool has been called,
// when a step makes no tool calls, when a tool needs the user's approval, or
// when the step limit is reached.
//
// Tools flagged NeedsApproval are never run inside the turn that requested
// them. The client answers the approval and resubmits the conversation; the
// next turn resolves approved and denied calls before its first model step
// and extends the same assistant message.
package turn
