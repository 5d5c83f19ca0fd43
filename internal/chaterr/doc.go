// Package chaterr classifies failures of the chat pipeline.
//
// Every error that crosses a service boundary is either a *Error carrying a
// Kind or an unclassified error. KindOf maps unclassified errors to
// KindOffline so callers never surface raw internals. The HTTP layer renders
// an *Error as
//
//	{"code": "<kind>:<surface>", "message": "...", "cause": "..."}
//
// with the status returned by Kind.Status.
package chaterr
