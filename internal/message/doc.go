// Package message defines the conversation data model shared by the loader,
// the turn driver, the stream multiplexer and the store.
//
// # Messages and Parts
//
// A Message is an ordered sequence of Parts. Parts are a tagged variant keyed
// by Type:
//
//   - text, reasoning: model or user prose
//   - tool-invocation: a tool call with its lifecycle State, Input and
//     optionally Output or ErrorText
//   - file: an attachment reference
//   - step-start: a step boundary emitted by the turn driver
//   - data: an application-defined control part (for example "tool-choice")
//
// # Views
//
// The same message list is read two ways. ModelView returns the projection
// sent to the model, with control and step parts removed. ControlParts and
// LatestToolChoice expose the orchestrator projection used for routing
// hints. Neither view mutates its input.
package message
