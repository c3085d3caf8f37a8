package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies assistant errors so handlers and callers can decide how to
// surface them without string matching.
type Kind int

const (
	// KindUnknown - unclassified error
	KindUnknown Kind = iota

	// KindInvalidInput - length/type violations and malformed endpoints,
	// rejected before any network call
	KindInvalidInput

	// KindMissingCredential - no API key or endpoint configured
	KindMissingCredential

	// KindUpstream - non-2xx HTTP status from the model provider
	KindUpstream

	// KindTimeout - non-streaming call exceeded its request budget
	KindTimeout

	// KindDecode - malformed JSON where a full document was expected
	KindDecode

	// KindTransport - connection-level failure mid-stream
	KindTransport
)

// String returns a human-readable kind name
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindMissingCredential:
		return "missing_credential"
	case KindUpstream:
		return "upstream_error"
	case KindTimeout:
		return "timeout"
	case KindDecode:
		return "decode_error"
	case KindTransport:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Error carries the classification plus the upstream HTTP status when the
// provider rejected the request.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int   // HTTP status from the provider, if applicable
	Cause      error // Original error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%d] %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// InvalidInput builds a validation error. These never reach the network layer.
func InvalidInput(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// MissingCredential builds a configuration error for absent keys/endpoints.
func MissingCredential(msg string) *Error {
	return &Error{Kind: KindMissingCredential, Message: msg}
}

// Upstream builds an error for a non-2xx provider response.
func Upstream(statusCode int, msg string) *Error {
	return &Error{Kind: KindUpstream, StatusCode: statusCode, Message: msg}
}

// Timeout builds an error for an exceeded request budget.
func Timeout(msg string, cause error) *Error {
	return &Error{Kind: KindTimeout, Message: msg, Cause: cause}
}

// Decode builds an error for an unparseable response document.
func Decode(cause error) *Error {
	return &Error{Kind: KindDecode, Message: "malformed response from upstream", Cause: cause}
}

// Transport builds an error for a connection failure mid-stream.
func Transport(cause error) *Error {
	return &Error{Kind: KindTransport, Message: "connection to upstream lost", Cause: cause}
}

// KindOf extracts the classification from any error chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UpstreamStatus returns the provider HTTP status carried by err, or 0.
func UpstreamStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// HTTPStatus maps an error to the status code our own API should answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindMissingCredential:
		return http.StatusServiceUnavailable
	case KindUpstream:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindDecode, KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
