// Package tools models the tools offered to the model during a turn.
//
// A Registry opens a turn-scoped Session against the tool-serving
// collaborator and exposes its tools as a Set. Merge overlays the built-in
// interactive tools on top of the discovered ones. Tools flagged
// NeedsApproval are surfaced to the user for approval instead of running.
package tools
