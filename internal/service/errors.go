package service

import (
	"errors"
	"strings"
)

// User-facing messages.
const (
	MsgMissingFiles       = "Please select both files."
	MsgBufferNotInteger   = "Buffer value must be an integer."
	MsgNoSession          = "No session available. Please process the data first."
	MsgTransport          = "A network error occurred while processing the request."
	MsgUnknownServerError = "Unknown error occurred."
	MsgMalformedResponse  = "Malformed response from server."
	MsgInvalidClusters    = "Invalid cluster data received from the server."
	MsgRenderFailed       = "An error occurred while updating the map."
)

// ErrStale marks a response that was superseded by a newer request on the
// same stream. It is never shown to the user.
var ErrStale = errors.New("stale response discarded")

// ErrUnknownControl is returned for a toggle or panel name that does not exist.
var ErrUnknownControl = errors.New("unknown control")

// ValidationError is a local precondition failure; no request was sent.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ApplicationError carries the messages of a non-success server status.
type ApplicationError struct {
	Messages []string
}

func (e *ApplicationError) Error() string {
	if len(e.Messages) == 0 {
		return MsgUnknownServerError
	}
	return strings.Join(e.Messages, "\n")
}

// TransportError wraps a network, timeout or HTTP-level failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// UserMessages returns the lines to show in the error sink for err.
func UserMessages(err error) []string {
	var (
		ve *ValidationError
		ae *ApplicationError
		te *TransportError
	)
	switch {
	case err == nil, errors.Is(err, ErrStale):
		return nil
	case errors.As(err, &ve):
		return []string{ve.Msg}
	case errors.As(err, &ae):
		if len(ae.Messages) == 0 {
			return []string{MsgUnknownServerError}
		}
		return ae.Messages
	case errors.As(err, &te):
		return []string{MsgTransport}
	default:
		return []string{MsgTransport}
	}
}
