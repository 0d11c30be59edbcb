package models

import "errors"

// ErrorKind classifies errors surfaced to the UI through Error events.
type ErrorKind string

const (
	KindInvalidJoinRequest   ErrorKind = "invalid_join_request"
	KindTransportNotReady    ErrorKind = "transport_not_ready"
	KindTransportUnavailable ErrorKind = "transport_unavailable"
	KindNegotiationFailed    ErrorKind = "negotiation_failed"
	KindMalformedMessage     ErrorKind = "malformed_message"
	KindTransportClosed      ErrorKind = "transport_closed"
)

var (
	ErrInvalidJoinRequest   = errors.New("invalid join request")
	ErrTransportNotReady    = errors.New("transport not ready")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrNegotiationFailed    = errors.New("negotiation failed")
	ErrMalformedMessage     = errors.New("malformed message")
	ErrTransportClosed      = errors.New("transport closed")
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidJoinRequest, KindInvalidJoinRequest},
	{ErrTransportNotReady, KindTransportNotReady},
	{ErrTransportUnavailable, KindTransportUnavailable},
	{ErrNegotiationFailed, KindNegotiationFailed},
	{ErrMalformedMessage, KindMalformedMessage},
	{ErrTransportClosed, KindTransportClosed},
}

// KindOf maps err onto the taxonomy. Errors outside it are reported as
// transport closures.
func KindOf(err error) ErrorKind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindTransportClosed
}
