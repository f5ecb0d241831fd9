package providers

import "fmt"

// ErrorKind classifies a gateway failure. Kinds are defined here, next to the
// adapters that produce most of them, so pipeline and gateway can share them
// without a circular import.
type ErrorKind string

const (
	KindBadRequest        ErrorKind = "bad_request"
	KindMissingCredential ErrorKind = "missing_credential"
	KindValidationFailed  ErrorKind = "validation_failed"
	KindUpstreamTransport ErrorKind = "upstream_transport"
	KindUpstreamProtocol  ErrorKind = "upstream_protocol"
	KindUpstreamParse     ErrorKind = "upstream_parse"
	KindMissingReasoning  ErrorKind = "missing_reasoning"
	KindInternal          ErrorKind = "internal"
)

// Error is a classified failure. Provider is the upstream that produced it,
// when one was involved. Status carries the upstream HTTP status for protocol
// errors, zero otherwise.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Status   int
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a classified error with no provider attribution.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the classification from err, defaulting to internal for
// anything unclassified.
func KindOf(err error) ErrorKind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternal
}
