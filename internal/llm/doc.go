// Package llm is the model-provider collaborator of the chat pipeline.
//
// Provider streams one model invocation: text and reasoning deltas arrive
// through a callback, tool calls arrive once their arguments are complete,
// and the accumulated Response is returned at the end. OpenAI talks to any
// OpenAI-compatible chat completions endpoint via openai-go; Scripted replays
// canned steps for tests.
//
// FromMessages converts the model-facing message view into provider
// messages, pairing every completed tool invocation with a tool result.
package llm
