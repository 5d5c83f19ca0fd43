// ABOUTME: Error taxonomy for the chat pipeline with HTTP status mapping
// ABOUTME: Unclassified errors collapse to the generic offline kind

package chaterr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the classification of a pipeline failure.
type Kind string

// Error kinds
const (
	KindBadRequest         Kind = "bad_request"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindServiceUnavailable Kind = "service_unavailable"
	KindStorage            Kind = "storage_error"
	KindUpstream           Kind = "upstream_error"
	KindOffline            Kind = "offline"
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindServiceUnavailable, KindOffline:
		return http.StatusServiceUnavailable
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// defaultMessages are the user-facing messages used when none is supplied.
var defaultMessages = map[Kind]string{
	KindBadRequest:         "The request couldn't be processed. Please check your input and try again.",
	KindUnauthorized:       "You need to sign in before continuing.",
	KindForbidden:          "This chat belongs to another user.",
	KindNotFound:           "The requested chat was not found.",
	KindServiceUnavailable: "A required service is unavailable. Please try again later.",
	KindStorage:            "An error occurred while executing a database query.",
	KindUpstream:           "The model or a tool failed while responding.",
	KindOffline:            "We're having trouble sending your message. Please check your internet connection and try again.",
}

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Surface string // e.g. "chat", "api", "stream", "vote"
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s:%s: %s (%v)", e.Kind, e.Surface, e.Message, e.Err)
	}
	return fmt.Sprintf("%s:%s: %s", e.Kind, e.Surface, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the "<kind>:<surface>" code presented to clients.
func (e *Error) Code() string {
	return string(e.Kind) + ":" + e.Surface
}

// New creates a classified error. An empty message uses the kind's default.
func New(kind Kind, surface, message string) *Error {
	if message == "" {
		message = defaultMessages[kind]
	}
	return &Error{Kind: kind, Surface: surface, Message: message}
}

// Wrap classifies err. The user-facing message is the kind's default, the
// cause is kept for logs.
func Wrap(kind Kind, surface string, err error) *Error {
	return &Error{Kind: kind, Surface: surface, Message: defaultMessages[kind], Err: err}
}

// KindOf returns the kind of err, or KindOffline when err is unclassified.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindOffline
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}

// From returns err as a *Error, classifying unknown errors as offline.
func From(err error, surface string) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return Wrap(KindOffline, surface, err)
}

// Convenience constructors for the common kinds.

func BadRequest(surface, message string) *Error { return New(KindBadRequest, surface, message) }
func Unauthorized(surface string) *Error        { return New(KindUnauthorized, surface, "") }
func Forbidden(surface string) *Error           { return New(KindForbidden, surface, "") }
func NotFound(surface string) *Error            { return New(KindNotFound, surface, "") }
func Storage(surface string, err error) *Error  { return Wrap(KindStorage, surface, err) }
func Upstream(surface string, err error) *Error { return Wrap(KindUpstream, surface, err) }
func Unavailable(surface string, err error) *Error {
	return Wrap(KindServiceUnavailable, surface, err)
}
