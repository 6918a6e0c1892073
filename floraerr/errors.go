// Package floraerr defines the closed set of error kinds used across the
// query engine. Each kind carries an HTTP-style status hint and enough
// path context (resource, attribute, data source) for diagnosis without
// leaking internals to a client.
//
// The pattern mirrors sdp-go/errors.go: a typed error that renders a
// multi-line message and is detected downstream with errors.As, rather than
// sentinel values or string matching.
package floraerr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error kinds the engine can raise.
type Kind string

const (
	KindRequest        Kind = "RequestError"
	KindAuthentication Kind = "AuthenticationError"
	KindAuthorization  Kind = "AuthorizationError"
	KindNotFound       Kind = "NotFoundError"
	KindImplementation Kind = "ImplementationError"
	KindData           Kind = "DataError"
	KindConnection     Kind = "ConnectionError"
	KindFlora          Kind = "FloraError"
)

// StatusCode returns the HTTP-style status hint for a Kind.
func (k Kind) StatusCode() int {
	switch k {
	case KindRequest:
		return 400
	case KindAuthentication:
		return 401
	case KindAuthorization:
		return 403
	case KindNotFound:
		return 404
	case KindImplementation, KindData:
		return 500
	case KindConnection, KindFlora:
		return 503
	default:
		return 500
	}
}

// Public reports whether this kind's message text is safe to send to a
// client unconditionally: only RequestError/NotFoundError/Auth* text is.
func (k Kind) Public() bool {
	switch k {
	case KindRequest, KindNotFound, KindAuthentication, KindAuthorization:
		return true
	default:
		return false
	}
}

// Error is the error type raised by every engine component. It is always
// constructed through one of the New*Error helpers below so that Kind stays
// within the closed set.
type Error struct {
	Kind Kind

	// Message is the human-readable description of the failure.
	Message string

	// Resource, Attribute and DataSource add path context, rendered as
	// attribute=x.y, dataSource=name.
	Resource   string
	Attribute  string
	DataSource string

	// Cause, if set, is the underlying error that triggered this one (e.g. a
	// backend transport failure wrapped as ConnectionError).
	Cause error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Resource != "" {
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Attribute != "" {
		msg += fmt.Sprintf(" (attribute=%s)", e.Attribute)
	}
	if e.DataSource != "" {
		msg += fmt.Sprintf(" (dataSource=%s)", e.DataSource)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// PublicMessage returns the text that is safe to hand to a client. Internal
// kinds are masked and surfaced as "Internal Server Error" unless
// exposeErrors is enabled.
func (e *Error) PublicMessage(exposeErrors bool) string {
	if e.Kind.Public() || exposeErrors {
		return e.Error()
	}
	return "Internal Server Error"
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NewRequestError(format string, args ...any) *Error {
	return newf(KindRequest, format, args...)
}

func NewNotFoundError(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func NewAuthenticationError(format string, args ...any) *Error {
	return newf(KindAuthentication, format, args...)
}

func NewAuthorizationError(format string, args ...any) *Error {
	return newf(KindAuthorization, format, args...)
}

func NewImplementationError(format string, args ...any) *Error {
	return newf(KindImplementation, format, args...)
}

func NewDataError(format string, args ...any) *Error {
	return newf(KindData, format, args...)
}

func NewConnectionError(format string, args ...any) *Error {
	return newf(KindConnection, format, args...)
}

// Wrap converts an arbitrary error into a floraerr.Error. If err is already
// one, it is returned unchanged (matching sdp-go's NewQueryError, which
// preserves an already-typed error instead of double-wrapping it).
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: kind, Message: err.Error(), Cause: err}
}

// WithPath returns a copy of the error annotated with path context. Useful
// for threading resource/attribute/dataSource information on as an error
// propagates up through the resolver/executor/result-builder stack.
func (e *Error) WithPath(resource, attribute, dataSource string) *Error {
	cp := *e
	if resource != "" {
		cp.Resource = resource
	}
	if attribute != "" {
		cp.Attribute = attribute
	}
	if dataSource != "" {
		cp.DataSource = dataSource
	}
	return &cp
}

// As allows errors.As(err, &target) to work against *Error directly, and
// also lets callers check for a specific Kind via errors.As plus a Kind
// comparison, mirroring how sdp-go's QueryError is detected downstream.
func As(err error, kind Kind) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Kind == kind
}
