package model

import (
	"errors"
	"fmt"
)

// Kind classifies relay failures.
type Kind int

const (
	KindServerError Kind = iota
	KindInvalidURL
	KindUnsupportedScheme
	KindBlockedHost
	KindUpstreamFailure
	KindTimeout
	KindPayloadTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindInvalidURL:
		return "invalid_url"
	case KindUnsupportedScheme:
		return "unsupported_scheme"
	case KindBlockedHost:
		return "blocked_host"
	case KindUpstreamFailure:
		return "upstream_failure"
	case KindTimeout:
		return "timeout"
	case KindPayloadTooLarge:
		return "payload_too_large"
	default:
		return "server_error"
	}
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrInvalidURL        = &Error{Kind: KindInvalidURL}
	ErrUnsupportedScheme = &Error{Kind: KindUnsupportedScheme}
	ErrBlockedHost       = &Error{Kind: KindBlockedHost}
	ErrUpstreamFailure   = &Error{Kind: KindUpstreamFailure}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrPayloadTooLarge   = &Error{Kind: KindPayloadTooLarge}
	ErrServerError       = &Error{Kind: KindServerError}
)

// Error is a classified relay failure.
type Error struct {
	Kind Kind
	// StatusCode is the upstream HTTP status for KindUpstreamFailure.
	StatusCode int
	// Msg is safe to show to callers.
	Msg string
	Err error
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// UpstreamStatus creates a KindUpstreamFailure error for a non-2xx upstream status.
func UpstreamStatus(status int) *Error {
	return &Error{
		Kind:       KindUpstreamFailure,
		StatusCode: status,
		Msg:        fmt.Sprintf("Upstream failed: %d", status),
	}
}

// TooLarge creates a KindPayloadTooLarge error for the given byte ceiling.
func TooLarge(limit int64) *Error {
	return &Error{
		Kind: KindPayloadTooLarge,
		Msg:  fmt.Sprintf("File too large (>%d bytes)", limit),
	}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindServerError for unclassified errors.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindServerError
}
